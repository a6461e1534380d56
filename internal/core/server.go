// Package core provides the HTTP chassis for the marketfront billing-event
// orchestrator: a chi router with the cross-cutting middleware (request IDs,
// panic recovery, request logging) and the JSON response envelope shared by
// the webhook and ops handlers.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"marketfront/internal/config"
)

// Server bundles the router with its cross-cutting dependencies so handlers
// can be mounted by the entry point and by tests.
type Server struct {
	Config *config.Config
	Logger *slog.Logger

	router *chi.Mux
}

// NewServer builds the router and installs the base middleware stack.
// Route mounting is left to the caller so tests can register only what they
// exercise.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	s := &Server{
		Config: cfg,
		Logger: logger,
		router: chi.NewRouter(),
	}

	s.router.Use(RequestID)
	s.router.Use(Recoverer(logger))
	s.router.Use(RequestLogger(logger))
	s.router.Get("/health", s.handleHealth)

	return s, nil
}

// Handler returns the http.Handler for the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// handleHealth reports liveness. Dependency health (database, queue) is
// deliberately not checked here: the webhook path must keep accepting events
// and returning 5xx per event while a dependency recovers.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

// Shutdown flushes server-held resources. The database pool and AWS clients
// are owned by the entry point; nothing is held here beyond the logger.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.Info("server shutdown complete")
	return nil
}
