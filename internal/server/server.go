// Package server exposes the job control API over HTTP.
//
// Routes (all JSON):
//
//	POST   /api/v1/jobs             create a job (201, 400 on bad input)
//	GET    /api/v1/jobs             list jobs
//	GET    /api/v1/jobs/{id}        fetch one job (404 when absent)
//	POST   /api/v1/jobs/{id}/run    trigger immediately (202; 409 when a run
//	                                is in flight or the job is paused)
//	POST   /api/v1/jobs/{id}/pause  stop scheduling (204)
//	POST   /api/v1/jobs/{id}/resume restore scheduling (204)
//	DELETE /api/v1/jobs/{id}        remove the job (204)
//	GET    /api/v1/history          recent run records
//	GET    /healthz                 liveness probe
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"reporthub/internal/pipeline"
	"reporthub/internal/scheduler"
	logx "reporthub/pkg/logx"
)

// Config controls the HTTP listener.
type Config struct {
	Addr string

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = "127.0.0.1:8080"
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 30 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
	return c
}

// Server is the control-plane HTTP front. It adapts requests onto the
// scheduler's control surface; it holds no job state of its own.
type Server struct {
	cfg     Config
	log     logx.Logger
	sched   *scheduler.Service
	fetcher pipeline.Fetcher

	mu   sync.Mutex
	http *http.Server
}

// New builds the server. fetcher is used to take the initial snapshot when a
// create request does not carry preview values; it may be nil, in which case
// such requests are rejected.
func New(cfg Config, sched *scheduler.Service, fetcher pipeline.Fetcher, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{cfg: cfg.withDefaults(), log: log, sched: sched, fetcher: fetcher}
}

// Router builds the route table. Exposed so tests can drive the handlers
// through httptest without a listener.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/jobs", s.handleCreate).Methods(http.MethodPost)
	api.HandleFunc("/jobs", s.handleList).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{id}", s.handleGet).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{id}", s.handleDelete).Methods(http.MethodDelete)
	api.HandleFunc("/jobs/{id}/run", s.handleRunNow).Methods(http.MethodPost)
	api.HandleFunc("/jobs/{id}/pause", s.handlePause).Methods(http.MethodPost)
	api.HandleFunc("/jobs/{id}/resume", s.handleResume).Methods(http.MethodPost)
	api.HandleFunc("/history", s.handleHistory).Methods(http.MethodGet)
	return r
}

// Start binds the listener and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.http != nil {
		s.mu.Unlock()
		return nil
	}
	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.Router(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}
	s.http = srv
	s.mu.Unlock()

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.log.Info("control api listening", logx.String("addr", ln.Addr().String()))

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("control api serve failed", logx.Err(err))
		}
	}()
	return nil
}

// Stop drains in-flight requests, bounded by the configured shutdown timeout.
func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	srv := s.http
	s.http = nil
	s.mu.Unlock()
	if srv == nil {
		return
	}
	sctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		s.log.Warn("control api shutdown", logx.Err(err))
	}
}
