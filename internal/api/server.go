package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/bios-notifier/internal/lock"
	"github.com/JakeFAU/bios-notifier/internal/metrics"
	"github.com/JakeFAU/bios-notifier/internal/pipeline"
	"github.com/JakeFAU/bios-notifier/internal/tracker"
)

// Runner is the subset of pipeline.Runner the server drives.
type Runner interface {
	Plan(requested []string) ([]pipeline.Stage, error)
	Run(ctx context.Context, opts pipeline.Options) ([]tracker.Summary, error)
}

// Config controls server behavior.
type Config struct {
	// APIKey enables X-API-Key auth when non-empty.
	APIKey         string
	RequestTimeout time.Duration
}

// Server wires HTTP handlers to the pipeline runner.
type Server struct {
	router chi.Router
	runner Runner
	clock  tracker.Clock
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	busy   atomic.Bool

	mu   sync.Mutex
	last *runResult
}

type runRequest struct {
	Stages []string `json:"stages"`
	Origin bool     `json:"origin"`
}

type runResult struct {
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	Stages     []string          `json:"stages"`
	Origin     bool              `json:"origin"`
	Summaries  []tracker.Summary `json:"summaries"`
	Error      string            `json:"error,omitempty"`
}

// NewServer constructs a Server with middleware and routes.
func NewServer(runner Runner, clock tracker.Clock, cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		runner: runner,
		clock:  clock,
		logger: logger.Named("api"),
		ctx:    ctx,
		cancel: cancel,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metricsMiddleware)
	r.Use(timeoutMiddleware(cfg.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Get("/metrics", metrics.Handler().ServeHTTP)

	r.Route("/v1", func(r chi.Router) {
		if cfg.APIKey != "" {
			r.Use(apiKeyMiddleware(cfg.APIKey))
		}
		r.Post("/runs", s.startRun)
		r.Get("/runs/last", s.lastRun)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close cancels in-flight runs and waits for them to return.
func (s *Server) Close() {
	s.cancel()
	s.wg.Wait()
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.ctx.Err() != nil {
		writeError(w, http.StatusServiceUnavailable, "shutting down")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready", "running": s.busy.Load()})
}

func (s *Server) startRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	plan, err := s.runner.Plan(req.Stages)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !s.busy.CompareAndSwap(false, true) {
		writeError(w, http.StatusConflict, "a run is already in progress")
		return
	}

	names := make([]string, 0, len(plan))
	for _, stage := range plan {
		names = append(names, stage.Name())
	}
	opts := pipeline.Options{Stages: req.Stages, Origin: req.Origin}
	s.wg.Add(1)
	go s.execute(opts, names)

	writeJSON(w, http.StatusAccepted, map[string]any{"status": "accepted", "stages": names, "origin": req.Origin})
}

func (s *Server) execute(opts pipeline.Options, names []string) {
	defer s.wg.Done()
	defer s.busy.Store(false)

	result := &runResult{StartedAt: s.clock.Now(), Stages: names, Origin: opts.Origin}
	summaries, err := s.runner.Run(s.ctx, opts)
	result.FinishedAt = s.clock.Now()
	result.Summaries = summaries
	switch {
	case errors.Is(err, lock.ErrHeld):
		s.logger.Warn("run skipped; another process holds the run lock")
		result.Error = err.Error()
	case err != nil:
		s.logger.Error("triggered run finished with errors", zap.Error(err))
		result.Error = err.Error()
	default:
		s.logger.Info("triggered run finished", zap.Strings("stages", names))
	}

	s.mu.Lock()
	s.last = result
	s.mu.Unlock()
}

func (s *Server) lastRun(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	last := s.last
	s.mu.Unlock()
	if last == nil {
		writeError(w, http.StatusNotFound, "no run has finished yet")
		return
	}
	writeJSON(w, http.StatusOK, last)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
