// Package proxy implements the Maximize relay server.
//
// The server exposes an Anthropic-compatible /v1/messages endpoint and
// relays requests to the Anthropic API using OAuth tokens, rewriting each
// request so the API accepts it as coming from Claude Code.
package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/automa016/maximize/internal/auth"
	"github.com/automa016/maximize/internal/config"
	"github.com/automa016/maximize/internal/monitoring"
	"github.com/automa016/maximize/internal/store"
)

// Server relays /v1/messages traffic to the Anthropic API and serves the
// health and auth status endpoints.
type Server struct {
	cfg   *config.Config
	oauth *auth.Manager
	usage store.Store

	logger        *monitoring.Logger
	requestLogger *monitoring.RequestLogger
	metrics       *monitoring.MetricsCollector
	alerts        *monitoring.AlertManager
	rateLimiter   *rateLimiter

	// upstreamBase is overridable in tests.
	upstreamBase string
	httpClient   *http.Client

	httpServer *http.Server
}

// New creates a relay server. The usage store may be store.NopStore{} when
// persistence is disabled.
func New(cfg *config.Config, oauthMgr *auth.Manager, usage store.Store) *Server {
	logger := monitoring.New(monitoring.LoggerConfig{Level: cfg.Server.LogLevel})
	s := &Server{
		cfg:           cfg,
		oauth:         oauthMgr,
		usage:         usage,
		logger:        logger,
		requestLogger: monitoring.NewRequestLogger(logger),
		metrics:       monitoring.NewMetricsCollector(),
		alerts:        monitoring.NewAlertManager(logger, monitoring.AlertConfig{}),
		rateLimiter:   newRateLimiter(defaultRateLimit),
		upstreamBase:  config.APIBase,
		// Streaming responses stay open well past any sane request
		// timeout, so the client itself has none. Non-streaming relays
		// get a per-request context deadline instead.
		httpClient: &http.Client{},
	}
	oauthMgr.OnRefreshResult = s.metrics.RecordTokenRefresh
	return s
}

// Handler returns the full middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/auth/status", s.handleAuthStatus)
	mux.HandleFunc("/debug/token", s.handleDebugToken)
	mux.HandleFunc("/stats", s.handleStats)
	mux.Handle("/v1/messages", s.apiKeyAuth(http.HandlerFunc(s.handleMessages)))

	var handler http.Handler = mux
	handler = s.security(handler)
	handler = s.loggingMiddleware(handler)
	handler = s.rateLimit(handler)
	handler = s.panicRecovery(handler)
	return handler
}

// Start begins serving. Blocks until the server stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.BindAddress, s.cfg.Server.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info().Str("addr", addr).Msg("server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// writeError writes an Anthropic-shaped error response.
func (s *Server) writeError(w http.ResponseWriter, status int, errType, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp := map[string]interface{}{
		"type": "error",
		"error": map[string]string{
			"type":    errType,
			"message": message,
		},
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error().Err(err).Msg("failed to write error response")
	}
}
