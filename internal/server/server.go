// Package server exposes the read-only governance status API. All protocol
// writes happen through charter cycles; HTTP callers only observe.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/chorus-dao/kodo/internal/edo"
	"github.com/chorus-dao/kodo/internal/gate"
)

// Server is the kodod HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// ServerConfig holds all dependencies and configuration for creating a Server.
type ServerConfig struct {
	Gate       *gate.Service
	Heartbeats *gate.Heartbeats
	Decisions  *edo.Log
	Logger     *slog.Logger

	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Version      string
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := &Handlers{
		gate:       cfg.Gate,
		heartbeats: cfg.Heartbeats,
		decisions:  cfg.Decisions,
		logger:     cfg.Logger,
		version:    cfg.Version,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.HandleHealth)
	mux.HandleFunc("GET /v1/gate", h.HandleGate)
	mux.HandleFunc("GET /v1/heartbeats", h.HandleHeartbeats)
	mux.HandleFunc("GET /v1/heartbeats/{charter_id}/history", h.HandleHeartbeatHistory)
	mux.HandleFunc("GET /v1/decisions", h.HandleDecisions)
	mux.HandleFunc("GET /v1/decisions/{id}", h.HandleDecision)
	mux.HandleFunc("GET /v1/integrity", h.HandleIntegrity)

	// Middleware chain (outermost executes first):
	// request ID → logging → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler: handler,
		logger:  cfg.Logger,
	}
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
