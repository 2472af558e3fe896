// Package api provides the HTTP surface: client chat and market data,
// the billing webhook, and the admin dashboard endpoints.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// Server is the public HTTP API server.
type Server struct {
	mux     *http.ServeMux
	server  *http.Server
	logger  *slog.Logger
	handler *Handler
	limiter *RateLimiter
	auth    *AuthMiddleware
}

// ServerConfig holds configuration for the API server.
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultServerConfig returns the default server configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:         "0.0.0.0:8080",
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// NewServer creates the API server.
func NewServer(cfg ServerConfig, handler *Handler, auth *AuthMiddleware, limiter *RateLimiter, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()

	s := &Server{
		mux:     mux,
		logger:  logger,
		handler: handler,
		limiter: limiter,
		auth:    auth,
	}

	s.registerRoutes()

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

// registerRoutes sets up the API routes.
func (s *Server) registerRoutes() {
	// Health check
	s.mux.HandleFunc("GET /health", s.handleHealth)

	// Webhook: authenticated by its own signature, never by session.
	s.mux.HandleFunc("POST /api/v1/billing/webhook", s.handler.BillingWebhook)

	// Registration runs before a session exists; the edge gates it.
	s.mux.HandleFunc("POST /api/v1/users", s.handler.RegisterUser)

	// Client surface
	s.mux.Handle("POST /api/v1/chat",
		s.auth.RequireUser(s.limiter.Limit(http.HandlerFunc(s.handler.Chat))))
	s.mux.Handle("GET /api/v1/market/overview",
		s.auth.RequireUser(s.limiter.Limit(http.HandlerFunc(s.handler.MarketOverview))))
	s.mux.Handle("GET /api/v1/usage",
		s.auth.RequireUser(s.limiter.Limit(http.HandlerFunc(s.handler.OwnUsage))))

	// Admin surface
	s.mux.Handle("GET /api/v1/admin/metrics",
		s.auth.RequireAdmin(http.HandlerFunc(s.handler.AdminMetrics)))
	s.mux.Handle("GET /api/v1/admin/revenue",
		s.auth.RequireAdmin(http.HandlerFunc(s.handler.AdminRevenue)))
	s.mux.Handle("GET /api/v1/admin/events",
		s.auth.RequireAdmin(http.HandlerFunc(s.handler.AdminRecentEvents)))
	s.mux.Handle("GET /api/v1/admin/usage/top",
		s.auth.RequireAdmin(http.HandlerFunc(s.handler.AdminTopUsage)))
	s.mux.Handle("GET /api/v1/admin/users/{userID}/usage",
		s.auth.RequireAdmin(http.HandlerFunc(s.handler.AdminUserUsage)))
	s.mux.Handle("DELETE /api/v1/admin/users/{userID}",
		s.auth.RequireAdmin(http.HandlerFunc(s.handler.AdminDeleteUser)))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// Start starts the API server.
func (s *Server) Start() error {
	s.logger.Info("starting API server", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down API server")
	return s.server.Shutdown(ctx)
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode JSON response", "error", err)
		}
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error":   http.StatusText(status),
		"message": message,
	})
}
