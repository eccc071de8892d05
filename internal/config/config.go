// Package config loads service configuration from defaults, an optional
// YAML or JSON file and MATCH_-prefixed environment variables.
package config

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. MATCH_SERVER_PORT.
const EnvPrefix = "MATCH"

// Config is the full service configuration.
type Config struct {
	DatabaseURL  string             `mapstructure:"database_url"`
	Server       ServerConfig       `mapstructure:"server"`
	Auth         AuthConfig         `mapstructure:"auth"`
	Provider     ProviderConfig     `mapstructure:"provider"`
	Limits       LimitsConfig       `mapstructure:"limits"`
	Batching     BatchingConfig     `mapstructure:"batching"`
	Engine       EngineConfig       `mapstructure:"engine"`
	Jobs         JobsConfig         `mapstructure:"jobs"`
	Log          LogConfig          `mapstructure:"log"`
	APIRateLimit APIRateLimitConfig `mapstructure:"api_rate_limit"`
}

type ServerConfig struct {
	Port int `mapstructure:"port" validate:"min=1,max=65535"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

// ProviderConfig configures the distance-matrix provider client.
type ProviderConfig struct {
	BaseURL      string        `mapstructure:"base_url" validate:"required,url"`
	APIKey       string        `mapstructure:"api_key"`
	Timeout      time.Duration `mapstructure:"timeout" validate:"gt=0"`
	MaxAttempts  int           `mapstructure:"max_attempts" validate:"min=1,max=20"`
	BaseDelay    time.Duration `mapstructure:"base_delay" validate:"gt=0"`
	MaxDelay     time.Duration `mapstructure:"max_delay" validate:"gtefield=BaseDelay"`
	MaxElements  int           `mapstructure:"max_elements" validate:"min=1"`
	MaxDimension int           `mapstructure:"max_dimension" validate:"min=1"`
}

// LimitsConfig is the per-tenant provider envelope.
type LimitsConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second" validate:"gte=0"`
	Burst             int     `mapstructure:"burst" validate:"min=1"`
	MaxConcurrent     int     `mapstructure:"max_concurrent" validate:"min=1"`
}

type BatchingConfig struct {
	Policy       string `mapstructure:"policy" validate:"oneof=standard conservative fixed"`
	Origins      int    `mapstructure:"origins" validate:"gte=0"`
	Destinations int    `mapstructure:"destinations" validate:"gte=0"`
}

type EngineConfig struct {
	BatchConcurrency        int           `mapstructure:"batch_concurrency" validate:"min=1"`
	MaxCommuteMinutes       int           `mapstructure:"max_commute_minutes" validate:"min=1"`
	InteractiveThreshold    int           `mapstructure:"interactive_threshold" validate:"gte=0"`
	EstimatedRequestLatency time.Duration `mapstructure:"estimated_request_latency" validate:"gte=0"`
}

type JobsConfig struct {
	CacheTTL time.Duration `mapstructure:"cache_ttl" validate:"gte=0"`
}

type LogConfig struct {
	JSON  bool `mapstructure:"json"`
	Debug bool `mapstructure:"debug"`
}

type APIRateLimitConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	DefaultLimit  int           `mapstructure:"default_limit" validate:"min=1"`
	DefaultWindow time.Duration `mapstructure:"default_window" validate:"gt=0"`
}

// SetDefaults registers every key with its default so environment
// overrides are picked up by Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database_url", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("auth.jwt_secret", "")

	v.SetDefault("provider.base_url", "https://maps.googleapis.com/maps/api/distancematrix/json")
	v.SetDefault("provider.api_key", "")
	v.SetDefault("provider.timeout", 30*time.Second)
	v.SetDefault("provider.max_attempts", 5)
	v.SetDefault("provider.base_delay", 500*time.Millisecond)
	v.SetDefault("provider.max_delay", 30*time.Second)
	v.SetDefault("provider.max_elements", 100)
	v.SetDefault("provider.max_dimension", 25)

	v.SetDefault("limits.requests_per_second", 10.0)
	v.SetDefault("limits.burst", 10)
	v.SetDefault("limits.max_concurrent", 3)

	v.SetDefault("batching.policy", "standard")
	v.SetDefault("batching.origins", 0)
	v.SetDefault("batching.destinations", 0)

	v.SetDefault("engine.batch_concurrency", 3)
	v.SetDefault("engine.max_commute_minutes", 80)
	v.SetDefault("engine.interactive_threshold", 500)
	v.SetDefault("engine.estimated_request_latency", time.Second)

	v.SetDefault("jobs.cache_ttl", 2*time.Second)

	v.SetDefault("log.json", false)
	v.SetDefault("log.debug", false)

	v.SetDefault("api_rate_limit.enabled", true)
	v.SetDefault("api_rate_limit.default_limit", 1000)
	v.SetDefault("api_rate_limit.default_window", time.Minute)
}

// New returns a viper instance with defaults and environment binding. The
// conventional DATABASE_URL, JWT_SECRET and GOOGLE_MAPS_API_KEY variables
// are honoured too.
func New() (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, env := range map[string]string{
		"database_url":     "DATABASE_URL",
		"auth.jwt_secret":  "JWT_SECRET",
		"provider.api_key": "GOOGLE_MAPS_API_KEY",
	} {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, env); err != nil {
			return nil, errors.Wrapf(err, "binding %s", env)
		}
	}
	return v, nil
}

// Load reads configuration from defaults, the file at path (if any) and the
// environment, then validates it.
func Load(path string) (*Config, error) {
	v, err := New()
	if err != nil {
		return nil, err
	}
	return FromViper(v, path)
}

// FromViper reads the optional config file into v and decodes the result.
func FromViper(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "failed to read config file %s", path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to decode config")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field ranges and cross-field rules.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return errors.Wrap(err, "config error")
	}
	if c.Batching.Policy == "fixed" && (c.Batching.Origins <= 0 || c.Batching.Destinations <= 0) {
		return errors.New("config error: 'batching.origins' and 'batching.destinations' are required for the fixed policy")
	}
	return nil
}

// RequireDatabase reports an error when no database is configured.
func (c *Config) RequireDatabase() error {
	if c.DatabaseURL == "" {
		return errors.New("database_url is required (set MATCH_DATABASE_URL or DATABASE_URL)")
	}
	return nil
}

// RequireServer reports an error when settings needed by the API server are missing.
func (c *Config) RequireServer() error {
	if err := c.RequireDatabase(); err != nil {
		return err
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required (set MATCH_AUTH_JWT_SECRET or JWT_SECRET)")
	}
	if c.Provider.APIKey == "" {
		return errors.New("provider.api_key is required (set MATCH_PROVIDER_API_KEY or GOOGLE_MAPS_API_KEY)")
	}
	return nil
}
