package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/me/obscore/internal/config"
	"github.com/me/obscore/internal/metrics"
	"github.com/me/obscore/internal/scheduler"
	"github.com/me/obscore/internal/store"
	"github.com/me/obscore/internal/validator"
)

// Server is the obscore admin and worker API.
type Server struct {
	router     chi.Router
	logger     *slog.Logger
	config     config.ServerConfig
	startTime  time.Time
	store      store.Store
	scheduler  *scheduler.Scheduler
	validator  *validator.Validator
	metrics    *metrics.Collector // optional; serves /metrics when set
	workerKeys *WorkerKeyConfig   // optional; open access when nil or empty
	adminToken string             // optional; admin routes are open when empty
	loops      []scheduler.Runner // optional; started by StartLoops
}

// Option configures optional Server dependencies.
type Option func(*Server)

// WithMetrics exposes c on /metrics.
func WithMetrics(c *metrics.Collector) Option {
	return func(s *Server) {
		s.metrics = c
	}
}

// WithWorkerKeys requires an X-Worker-Key header on the worker endpoints.
func WithWorkerKeys(cfg *WorkerKeyConfig) Option {
	return func(s *Server) {
		s.workerKeys = cfg
	}
}

// WithAdminToken requires "Authorization: Bearer <token>" on admin routes.
func WithAdminToken(token string) Option {
	return func(s *Server) {
		s.adminToken = token
	}
}

// WithLoops registers background loops started by StartLoops.
func WithLoops(loops ...scheduler.Runner) Option {
	return func(s *Server) {
		s.loops = append(s.loops, loops...)
	}
}

// New creates a new Server with all routes registered.
// val may be nil; the manual validation endpoint then reports 503.
func New(cfg config.ServerConfig, st store.Store, sched *scheduler.Scheduler, val *validator.Validator, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		logger:    logger.With("component", "server"),
		config:    cfg,
		startTime: time.Now(),
		store:     st,
		scheduler: sched,
		validator: val,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

// StartLoops runs every registered loop in a background goroutine.
func (s *Server) StartLoops(ctx context.Context) {
	for _, l := range s.loops {
		go func(l scheduler.Runner) {
			if err := l.Start(ctx); err != nil && err != context.Canceled {
				s.logger.Error("loop stopped", "error", err)
			}
		}(l)
	}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handler returns the http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := s.router

	// Global middleware
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))

	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Discovery
		r.Get("/", s.handleDiscovery)

		// Health
		r.Get("/health", s.handleHealth)

		// Execution substrate
		r.Route("/work", func(r chi.Router) {
			r.Use(workerAuthMiddleware(s.workerKeys, s.logger))
			r.Post("/acquire", s.handleAcquire)
			r.Route("/{id}", func(r chi.Router) {
				r.Put("/renew", s.handleRenew)
				r.Post("/result", s.handleSubmitResult)
				r.Post("/complete", s.handleComplete)
				r.Post("/fail", s.handleFail)
			})
		})

		// Ingestion and administration
		r.Group(func(r chi.Router) {
			r.Use(adminAuthMiddleware(s.adminToken, s.logger))

			r.Route("/inputs", func(r chi.Router) {
				r.Get("/", s.handleListInputs)
				r.Post("/", s.handleAppendInput)
				r.Get("/{id}", s.handleGetInput)
			})

			r.Route("/modules", func(r chi.Router) {
				r.Get("/", s.handleListModules)
				r.Post("/", s.handleRegisterModule)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetModule)
					r.Put("/enable", s.handleSetModuleEnabled(true))
					r.Put("/disable", s.handleSetModuleEnabled(false))
					r.Get("/coverage", s.handleCoverage)
				})
			})

			r.Route("/work-items", func(r chi.Router) {
				r.Get("/", s.handleListWorkItems)
				r.Get("/{id}", s.handleGetWorkItem)
			})

			r.Route("/results", func(r chi.Router) {
				r.Get("/", s.handleListResults)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetResult)
					r.Post("/validate", s.handleValidateResult)
				})
			})

			r.Route("/conflicts", func(r chi.Router) {
				r.Get("/", s.handleListConflicts)
				r.Put("/{id}/ack", s.handleAckConflict)
			})

			r.Get("/stats", s.handleStats)

			r.Route("/admin", func(r chi.Router) {
				r.Post("/reconcile", s.handleReconcile)
				r.Post("/reclaim", s.handleReclaim)
				r.Post("/sweep", s.handleSweep)
			})
		})
	})
}
