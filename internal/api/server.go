// Package api exposes the question-answering pipeline over HTTP as a
// small JSON API.
package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/docsage/docsage/internal/answer"
)

// ServerConfig contains configuration for creating the API server.
type ServerConfig struct {
	Logger     *slog.Logger
	Service    *answer.Service       // Required
	Store      StatsStore            // Optional: nil disables corpus stats
	Pinger     Pinger                // Optional: nil degrades /api/ready to liveness
	Caches     map[string]CacheStats // Cache tiers reported by /api/stats
	TrustProxy bool                  // Trust X-Real-IP/X-Forwarded-For headers
	RateBurst  int                   // Rate limiter burst size per IP (0 = default 60)
}

// Server is the JSON API HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates an API server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Service == nil {
		return nil, errors.New("answer service is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	qh := &queryHandler{service: cfg.Service, logger: logger}
	st := &statsHandler{store: cfg.Store, caches: cfg.Caches, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/query", qh.query)
	mux.HandleFunc("GET /api/stats", st.getStats)

	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 60
	}
	rl := newIPRateLimiter(1.0, burst)

	// Middleware stack, outermost first:
	//   Recovery -> Logging -> RateLimit -> Routes
	var handler http.Handler = mux
	handler = rateLimitMiddleware(rl, cfg.TrustProxy, logger)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = recoveryMiddleware(logger)(handler)

	// Health probes bypass the middleware stack so a rate-limited or
	// misbehaving client cannot starve them.
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /api/health", health)
	topMux.Handle("GET /api/ready", readiness(cfg.Pinger))
	topMux.Handle("/", handler)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}
