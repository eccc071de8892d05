package distance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/jonathan/commute-matcher/internal/logger"
	"github.com/jonathan/commute-matcher/internal/ratelimit"
	"github.com/jonathan/commute-matcher/internal/schemas"
)

// DefaultBaseURL is the provider's distance-matrix endpoint.
const DefaultBaseURL = "https://maps.googleapis.com/maps/api/distancematrix/json"

const maxResponseBytes = 10 << 20

// Gate admits provider requests. *ratelimit.Gate satisfies it.
type Gate interface {
	Acquire(ctx context.Context, tenantID string, priority int) (*ratelimit.Token, error)
	Release(tok *ratelimit.Token)
}

// Config holds provider connection and retry settings.
type Config struct {
	BaseURL      string
	APIKey       string
	Timeout      time.Duration
	MaxAttempts  int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	MaxElements  int
	MaxDimension int
}

// DefaultConfig returns the provider defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:      DefaultBaseURL,
		Timeout:      30 * time.Second,
		MaxAttempts:  5,
		BaseDelay:    500 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		MaxElements:  100,
		MaxDimension: 25,
	}
}

// Client sends batches to the provider.
type Client struct {
	cfg        Config
	httpClient *http.Client
	gate       Gate
	validator  *schemas.Validator
	logger     *zap.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient creates a provider client. Every attempt holds a gate token for
// the duration of its HTTP round trip only.
func NewClient(cfg Config, gate Gate, log *zap.Logger) *Client {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.MaxElements <= 0 {
		cfg.MaxElements = def.MaxElements
	}
	if cfg.MaxDimension <= 0 {
		cfg.MaxDimension = def.MaxDimension
	}

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		gate:       gate,
		validator:  schemas.DistanceMatrix(),
		logger:     logger.OrNop(log),
		sleep:      sleepCtx,
	}
}

// Limits returns the provider's per-request element and dimension caps.
func (c *Client) Limits() (maxElements, maxDimension int) {
	return c.cfg.MaxElements, c.cfg.MaxDimension
}

// Matrix sends one batch, retrying transient failures with exponential
// backoff. It returns a *FatalError for non-retryable failures and for
// transient failures that exhausted MaxAttempts.
func (c *Client) Matrix(ctx context.Context, req Request) (*Matrix, error) {
	if err := c.checkRequest(req); err != nil {
		return nil, err
	}

	log := c.logger.With(
		zap.String(logger.FieldTenant, req.TenantID),
		zap.Int("origins", len(req.Origins)),
		zap.Int("destinations", len(req.Destinations)),
	)

	for attempt := 1; ; attempt++ {
		tok, err := c.gate.Acquire(ctx, req.TenantID, req.Priority)
		if err != nil {
			return nil, err
		}
		m, err := c.do(ctx, req)
		c.gate.Release(tok)

		if err == nil {
			m.Attempts = attempt
			return m, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, errors.Wrap(ctxErr, "distance matrix request cancelled")
		}

		var te *TransientError
		if !errors.As(err, &te) {
			var fe *FatalError
			if errors.As(err, &fe) {
				fe.Attempts = attempt
			}
			log.Warn("provider request failed", zap.Int("attempt", attempt), zap.Error(err))
			return nil, err
		}

		if attempt >= c.cfg.MaxAttempts {
			log.Warn("provider retries exhausted", zap.Int("attempts", attempt), zap.Error(err))
			return nil, &FatalError{
				Status:   te.Status,
				Message:  "retries exhausted",
				Attempts: attempt,
				Cause:    err,
			}
		}

		delay := c.backoff(attempt)
		log.Debug("retrying provider request",
			zap.Int("attempt", attempt),
			zap.String("status", te.Status),
			zap.Duration("delay", delay),
		)
		if err := c.sleep(ctx, delay); err != nil {
			return nil, errors.Wrap(err, "distance matrix backoff interrupted")
		}
	}
}

// backoff returns the delay after the given failed attempt (1-based).
func (c *Client) backoff(attempt int) time.Duration {
	d := float64(c.cfg.BaseDelay) * math.Pow(2, float64(attempt-1))
	if d > float64(c.cfg.MaxDelay) {
		return c.cfg.MaxDelay
	}
	return time.Duration(d)
}

func (c *Client) checkRequest(req Request) error {
	switch {
	case len(req.Origins) == 0 || len(req.Destinations) == 0:
		return &FatalError{Status: StatusInvalidRequest, Message: "empty origins or destinations"}
	case len(req.Origins) > c.cfg.MaxDimension || len(req.Destinations) > c.cfg.MaxDimension:
		return &FatalError{Status: StatusMaxDimensionsExceeded, Message: fmt.Sprintf("dimension exceeds %d", c.cfg.MaxDimension)}
	case req.Elements() > c.cfg.MaxElements:
		return &FatalError{Status: StatusMaxElementsExceeded, Message: fmt.Sprintf("%d elements exceeds %d", req.Elements(), c.cfg.MaxElements)}
	}
	return nil
}

func (c *Client) do(ctx context.Context, req Request) (*Matrix, error) {
	u, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return nil, &FatalError{Status: StatusInvalidRequest, Message: "invalid provider url", Cause: err}
	}
	q := u.Query()
	q.Set("origins", strings.Join(req.Origins, "|"))
	q.Set("destinations", strings.Join(req.Destinations, "|"))
	q.Set("mode", "driving")
	q.Set("units", "imperial")
	q.Set("departure_time", "now")
	q.Set("key", c.cfg.APIKey)
	u.RawQuery = q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, &FatalError{Status: StatusInvalidRequest, Message: "building request", Cause: err}
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &TransientError{Status: StatusNetworkError, Message: "request failed", Cause: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &TransientError{Status: StatusNetworkError, Message: "reading response", Cause: err}
	}

	if resp.StatusCode != http.StatusOK {
		status := fmt.Sprintf("HTTP_%d", resp.StatusCode)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, &TransientError{Status: status, Message: http.StatusText(resp.StatusCode)}
		}
		return nil, &FatalError{Status: status, Message: http.StatusText(resp.StatusCode)}
	}

	if err := c.validator.Validate(body); err != nil {
		return nil, &TransientError{Status: StatusInvalidResponse, Message: "response failed schema validation", Cause: err}
	}

	var parsed response
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &TransientError{Status: StatusInvalidResponse, Message: "decoding response", Cause: err}
	}

	if err := classifyStatus(parsed.Status, parsed.ErrorMessage); err != nil {
		return nil, err
	}

	return toMatrix(parsed, req)
}

func toMatrix(parsed response, req Request) (*Matrix, error) {
	if len(parsed.Rows) != len(req.Origins) {
		return nil, &TransientError{
			Status:  StatusInvalidResponse,
			Message: fmt.Sprintf("got %d rows for %d origins", len(parsed.Rows), len(req.Origins)),
		}
	}

	m := &Matrix{Rows: make([][]Element, len(parsed.Rows))}
	for i, row := range parsed.Rows {
		if len(row.Elements) != len(req.Destinations) {
			return nil, &TransientError{
				Status:  StatusInvalidResponse,
				Message: fmt.Sprintf("row %d has %d elements for %d destinations", i, len(row.Elements), len(req.Destinations)),
			}
		}
		m.Rows[i] = make([]Element, len(row.Elements))
		for j, we := range row.Elements {
			e := Element{Status: we.Status}
			if e.OK() && we.Duration == nil && we.DurationInTraffic == nil {
				e.Status = StatusInvalidResponse
			}
			if we.Duration != nil {
				e.DurationSeconds = int(math.Round(we.Duration.Value))
			}
			if we.DurationInTraffic != nil {
				e.TrafficDurationSeconds = int(math.Round(we.DurationInTraffic.Value))
				e.HasTraffic = true
			}
			if we.Distance != nil {
				e.DistanceMeters = int(math.Round(we.Distance.Value))
			}
			m.Rows[i][j] = e
		}
	}
	return m, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
