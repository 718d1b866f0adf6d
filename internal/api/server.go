// Package api exposes the bridge over HTTP: handshake endpoints, the wallet
// callback receiver, and transfer lifecycle operations.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/wallet-bridge/wallet-bridge/internal/config"
	"github.com/wallet-bridge/wallet-bridge/internal/middleware"
	apperrors "github.com/wallet-bridge/wallet-bridge/pkg/errors"
)

// Server represents the HTTP server
type Server struct {
	config      *config.Config
	service     BridgeService
	rateLimiter *middleware.RateLimiter
	httpServer  *http.Server
}

// NewServer creates a new API server
func NewServer(cfg *config.Config, service BridgeService, rateLimiter *middleware.RateLimiter) *Server {
	return &Server{
		config:      cfg,
		service:     service,
		rateLimiter: rateLimiter,
	}
}

// Handler builds the route table with the middleware chain applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("POST /v1/connect", s.handleConnect)
	mux.HandleFunc("POST /v1/callback", s.handleCallback)
	mux.HandleFunc("POST /v1/disconnect", s.handleDisconnect)

	mux.HandleFunc("POST /v1/transfers", s.handleStartTransfer)
	mux.HandleFunc("GET /v1/transfers/{id}", s.handleGetTransfer)
	mux.HandleFunc("POST /v1/transfers/{id}/cancel", s.handleCancelTransfer)
	mux.HandleFunc("POST /v1/transfers/{id}/manual-sign", s.handleManualSign)

	// Chain: RequestID -> Logging -> RateLimit -> BodyLimit -> Routes
	var handler http.Handler = mux
	handler = middleware.LimitBody(handler)
	if s.rateLimiter != nil {
		handler = s.rateLimiter.Limit(handler)
	}
	handler = middleware.RequestLogger(handler)
	handler = middleware.RequestID(handler)
	return handler
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response
func (s *Server) writeError(w http.ResponseWriter, err error) {
	appErr, ok := apperrors.IsAppError(err)
	if !ok {
		appErr = apperrors.ErrInternalError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(appErr.StatusCode)
	json.NewEncoder(w).Encode(appErr)
}
