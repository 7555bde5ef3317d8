// Package server exposes the protection engine over HTTP.
package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dativo-io/aegis/internal/audit"
	"github.com/dativo-io/aegis/internal/otel"
	"github.com/dativo-io/aegis/internal/shield"
)

const defaultTimeout = 60 * time.Second

// Server holds all dependencies for the HTTP API.
type Server struct {
	router     *chi.Mux
	shield     *shield.Shield
	mode       string
	auditStore *audit.Store // nil disables audit persistence
	startTime  time.Time
}

// Option configures the Server.
type Option func(*Server)

// WithAuditStore enables run-summary persistence.
func WithAuditStore(store *audit.Store) Option {
	return func(s *Server) { s.auditStore = store }
}

// NewServer builds a Server around the given shield.
func NewServer(sh *shield.Shield, mode string, opts ...Option) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		shield:    sh,
		mode:      mode,
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes returns the configured http.Handler.
func (s *Server) Routes() http.Handler {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(otel.Middleware())

	r.Get("/health", s.handleHealth)
	r.Get("/v1/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(defaultTimeout))
		r.Post("/v1/protect", s.handleProtect)
		r.Post("/v1/detect", s.handleDetect)
		r.Post("/v1/evaluate", s.handleEvaluate)
		r.Get("/v1/audit", s.handleAuditList)
		r.Get("/v1/audit/totals", s.handleAuditTotals)
		r.Get("/v1/audit/{id}", s.handleAuditGet)
	})

	return r
}
