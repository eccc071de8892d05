package ratelimit

import (
	"time"
)

// EndpointConfig represents rate limiting configuration for a specific endpoint.
type EndpointConfig struct {
	Path   string        // Endpoint path pattern (supports prefix matching)
	Method string        // HTTP method (GET, POST, etc.)
	Limit  int           // Maximum requests per window
	Window time.Duration // Time window
	Burst  int           // Burst capacity (defaults to Limit if 0)
}

// DefaultEndpointConfigs returns the default endpoint-specific configurations.
func DefaultEndpointConfigs() []EndpointConfig {
	return []EndpointConfig{
		// Starting a generation job fans out into provider calls.
		{Path: "/jobs", Method: "POST", Limit: 30, Window: time.Hour, Burst: 5},

		{Path: "/bans", Method: "POST", Limit: 100, Window: time.Minute, Burst: 10},

		// Polling is cheap but clients poll in loops.
		{Path: "/jobs/status", Method: "GET", Limit: 600, Window: time.Minute, Burst: 60},
	}
}

// GateConfig bounds provider traffic for a single tenant.
type GateConfig struct {
	RequestsPerSecond float64 // Refill rate; <= 0 means unlimited
	Burst             int     // Bucket capacity
	MaxConcurrent     int     // In-flight provider requests
}

// DefaultGateConfig mirrors the provider's documented per-project limits.
func DefaultGateConfig() GateConfig {
	return GateConfig{
		RequestsPerSecond: 10,
		Burst:             10,
		MaxConcurrent:     3,
	}
}

func (c GateConfig) normalized() GateConfig {
	if c.Burst <= 0 {
		c.Burst = 1
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 1
	}
	return c
}
