package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/jonathan/commute-matcher/internal/engine"
	"github.com/jonathan/commute-matcher/internal/logger"
	"github.com/jonathan/commute-matcher/internal/ratelimit"
	"github.com/jonathan/commute-matcher/internal/server/middleware"
	"github.com/jonathan/commute-matcher/internal/types"
)

// JobStarter starts generation runs. *engine.Engine satisfies it.
type JobStarter interface {
	Start(ctx context.Context, req engine.StartRequest) (*engine.StartResult, error)
	Shutdown(ctx context.Context) error
}

// StatusReader reads a tenant's job row. *jobs.Tracker satisfies it.
type StatusReader interface {
	Status(ctx context.Context, tenantID string) (*types.JobState, error)
}

// MatchStore lists matches and records bans.
type MatchStore interface {
	ListMatches(ctx context.Context, tenantID string, filter types.MatchFilter) ([]types.Match, error)
	BanPair(ctx context.Context, tenantID string, key types.PairKey) error
}

// Config holds server configuration.
type Config struct {
	Port            int
	JWTSecret       string
	RateLimit       *ratelimit.Config
	StreamInterval  time.Duration
	ShutdownTimeout time.Duration
}

// Server represents the HTTP server.
type Server struct {
	httpServer  *http.Server
	engine      JobStarter
	status      StatusReader
	store       MatchStore
	tokens      *TokenService
	rateLimiter *ratelimit.Limiter
	logger      *zap.Logger

	streamInterval  time.Duration
	shutdownTimeout time.Duration
}

// New creates a new server instance.
func New(cfg Config, eng JobStarter, status StatusReader, store MatchStore, log *zap.Logger) *Server {
	s := &Server{
		engine:          eng,
		status:          status,
		store:           store,
		tokens:          NewTokenService(cfg.JWTSecret, 0),
		rateLimiter:     ratelimit.NewLimiter(cfg.RateLimit),
		logger:          logger.OrNop(log).Named("server"),
		streamInterval:  cfg.StreamInterval,
		shutdownTimeout: cfg.ShutdownTimeout,
	}
	if s.streamInterval <= 0 {
		s.streamInterval = time.Second
	}
	if s.shutdownTimeout <= 0 {
		s.shutdownTimeout = 30 * time.Second
	}

	auth := middleware.AuthMiddleware(s.tokens.AsTokenValidator())
	protected := func(h http.HandlerFunc) http.Handler {
		return auth(s.withRateLimit(h))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("POST /jobs", protected(s.handleStartJob))
	mux.Handle("GET /jobs/status", protected(s.handleJobStatus))
	mux.Handle("GET /jobs/status/stream", protected(s.handleJobStatusStream))
	mux.Handle("GET /matches", protected(s.handleListMatches))
	mux.Handle("POST /bans", protected(s.handleBan))

	s.httpServer = &http.Server{
		Addr:        ":" + strconv.Itoa(cfg.Port),
		Handler:     s.withLogging(s.withCORS(mux)),
		ReadTimeout: 30 * time.Second,
		// status streams stay open until the job finishes
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Tokens returns the server's token service.
func (s *Server) Tokens() *TokenService {
	return s.tokens
}

// Start serves until ctx is cancelled, then shuts down gracefully: in-flight
// requests drain, detached generation runs are stopped and the rate limiter
// cleanup goroutine exits.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		s.rateLimiter.Stop()
		if err != nil {
			return errors.Wrap(err, "server error")
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "server shutdown failed")
	}
	if err := s.engine.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("generation runs did not stop in time", zap.Error(err))
	}
	s.rateLimiter.Stop()

	s.logger.Info("server stopped")
	return nil
}

// withCORS adds CORS headers.
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// withRateLimit limits requests per tenant; it runs after authentication.
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientID := s.extractClientID(r)

		allowed, info := s.rateLimiter.Allow(clientID, r.URL.Path, r.Method)
		s.setRateLimitHeaders(w, info)
		if !allowed {
			s.rateLimitResponse(w, clientID, info)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// withLogging adds request logging.
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remote", r.RemoteAddr),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}

// statusRecorder captures the response status for logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Flush keeps SSE streaming working through the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// handleHealth returns server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

// jsonResponse writes a JSON response.
func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("error encoding JSON response", zap.Error(err))
	}
}

// errorResponse writes an error JSON response.
func (s *Server) errorResponse(w http.ResponseWriter, status int, message string) {
	s.jsonResponse(w, status, map[string]string{"error": message})
}

// handleError maps err to a status and writes it. Internal errors are
// logged and not echoed to the client.
func (s *Server) handleError(w http.ResponseWriter, r *http.Request, err error) {
	status := HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		s.errorResponse(w, status, "internal error")
		return
	}
	s.errorResponse(w, status, err.Error())
}

// extractClientID keys rate limits by tenant, falling back to the remote IP.
func (s *Server) extractClientID(r *http.Request) string {
	if tenantID, err := middleware.GetTenantID(r); err == nil {
		return "tenant:" + tenantID
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// setRateLimitHeaders sets standard rate limit headers on the response.
func (s *Server) setRateLimitHeaders(w http.ResponseWriter, info ratelimit.Info) {
	if info.Limit > 0 {
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(info.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(info.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(info.ResetTime.Unix(), 10))
	}
}

// rateLimitResponse writes a 429 Too Many Requests response with rate limit information.
func (s *Server) rateLimitResponse(w http.ResponseWriter, clientID string, info ratelimit.Info) {
	response := map[string]any{
		"error":     "rate_limit_exceeded",
		"message":   "Rate limit exceeded. Please try again later.",
		"limit":     info.Limit,
		"remaining": info.Remaining,
		"reset_at":  info.ResetTime.Format(time.RFC3339),
	}

	if info.RetryAfter > 0 {
		seconds := int(info.RetryAfter.Seconds())
		response["retry_after"] = seconds
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
	}

	s.logger.Info("rate limit exceeded",
		zap.String("client", clientID),
		zap.Int("limit", info.Limit),
		zap.Time("reset", info.ResetTime),
	)

	s.jsonResponse(w, http.StatusTooManyRequests, response)
}
