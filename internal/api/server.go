// Package api is the kioskd management HTTP API.
//
// The API carries no authentication. Template and employee routes are
// admin-only by contract; bind to localhost or sit behind the kiosk's
// authenticating proxy.
package api

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"kioskd/internal/clock"
	"kioskd/internal/config"
	"kioskd/internal/domain"
	"kioskd/internal/ledger"
	"kioskd/internal/scheduler"
	"kioskd/internal/storage"
	"kioskd/internal/tasks"
	logx "kioskd/pkg/logx"
)

// Directory is the employee and event slice of storage.Store the API reads
// and writes directly.
type Directory interface {
	ListEmployees(ctx context.Context) ([]domain.Employee, error)
	GetEmployee(ctx context.Context, id string) (domain.Employee, error)
	PutEmployee(ctx context.Context, e domain.Employee) error
	ListEvents(ctx context.Context, f storage.EventFilter) ([]domain.Event, error)
}

// Scheduler is the driver surface exposed over HTTP.
type Scheduler interface {
	Status() scheduler.Status
	ForceRun(ctx context.Context) (scheduler.PassResult, error)
}

type Deps struct {
	Directory Directory
	Templates *tasks.Templates
	Tasks     *tasks.Manager
	Ledger    *ledger.Engine
	Scheduler Scheduler
	Clock     clock.Clock
	Log       logx.Logger
}

type Server struct {
	deps    Deps
	log     logx.Logger
	limiter *limiter
	router  chi.Router
	http    *http.Server
}

func NewServer(deps Deps, cfg config.HTTPSettings) *Server {
	if deps.Clock == nil {
		deps.Clock = clock.System()
	}
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Server{
		deps:    deps,
		log:     log.With(logx.String("comp", "api")),
		limiter: newLimiter(cfg.RatePerSec, cfg.Burst),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(s.log))
	r.Use(s.limiter.middleware)

	r.Get("/api/health", s.handleHealth)

	r.Route("/api/templates", func(r chi.Router) {
		r.Get("/", s.handleListTemplates)
		r.Post("/", s.handleCreateTemplate)
		r.Put("/{id}", s.handleUpdateTemplate)
		r.Delete("/{id}", s.handleDeleteTemplate)
	})
	r.Route("/api/employees", func(r chi.Router) {
		r.Get("/", s.handleListEmployees)
		r.Post("/", s.handleCreateEmployee)
		r.Put("/{id}", s.handleUpdateEmployee)
	})
	r.Route("/api/tasks", func(r chi.Router) {
		r.Get("/", s.handleListTasks)
		r.Post("/special", s.handleCreateSpecial)
		r.Get("/{id}", s.handleGetTask)
		r.Post("/{id}/transition", s.handleTransition)
		r.Post("/{id}/reassign", s.handleReassign)
	})
	r.Route("/api/ledgers/{ledger}", func(r chi.Router) {
		r.Get("/total", s.handleLedgerTotal)
		r.Get("/history", s.handleLedgerHistory)
		r.Post("/adjust", s.handleLedgerAdjust)
		r.Post("/undo", s.handleLedgerUndo)
	})
	r.Get("/api/scheduler/status", s.handleSchedulerStatus)
	r.Post("/api/scheduler/run", s.handleSchedulerRun)
	r.Get("/api/events", s.handleEvents)

	if cfg.Pprof {
		r.Mount("/debug", middleware.Profiler())
	}

	s.router = r
	s.http = &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler { return s.router }

// Start listens on the configured address and serves until Shutdown.
// It returns http.ErrServerClosed after a graceful shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return err
	}
	s.log.Info("api listening", logx.String("addr", ln.Addr().String()))
	return s.http.Serve(ln)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// SetRate applies a reloaded rate limit without restarting the listener.
func (s *Server) SetRate(perSec, burst int) {
	s.limiter.set(perSec, burst)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   s.deps.Clock.Now().UTC().Format(time.RFC3339),
	})
}
