// Package core provides the HTTP chassis for the engine's operational
// surface. It builds a chi router with the cross-cutting middleware (panic
// recovery, request IDs, logging, metrics, admin-key auth) that every
// handler shares.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"gardennotify/internal/config"
)

// MetricsCollector records API telemetry. Satisfied by the CloudWatch
// notification metrics.
type MetricsCollector interface {
	RecordRequest(ctx context.Context, route string, status int, duration time.Duration)
}

// RouteRegistrar mounts a handler group on the admin-guarded /v1 router.
type RouteRegistrar func(r chi.Router)

// Server holds the router and the dependencies its middleware needs.
type Server struct {
	Config       config.ServerConfig
	Logger       *slog.Logger
	Metrics      MetricsCollector
	HealthProbes []HealthProbe
	// V1RouteRegistrars are mounted under /v1 by MountRoutes.
	V1RouteRegistrars []RouteRegistrar
	// RequestTimeout defaults to defaultRequestTimeout.
	RequestTimeout time.Duration

	router *chi.Mux
}

// NewServer creates a Server. Routes are mounted separately by MountRoutes
// so tests can add registrars first.
func NewServer(cfg config.ServerConfig, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}
	if cfg.AdminAPIKey.Unmask() == "" {
		return nil, fmt.Errorf("admin API key must be configured")
	}
	return &Server{
		Config: cfg,
		Logger: logger,
		router: chi.NewRouter(),
	}, nil
}

// Handler returns the router as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux.
func (s *Server) Router() *chi.Mux {
	return s.router
}
