package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/TontonTremblay/cvpr-scrape2plot/internal/crawler"
	"github.com/TontonTremblay/cvpr-scrape2plot/internal/progress"
)

// StatusSource reports live orchestrator state.
type StatusSource interface {
	Status() crawler.RunStatus
	YearProgress(year int) (crawler.LiveYear, bool)
}

// HubStats reports progress hub throughput.
type HubStats interface {
	Stats() progress.Stats
}

// ReadinessCheck returns nil when a downstream dependency is usable.
type ReadinessCheck func(ctx context.Context) error

// Options bundles the optional collaborators of a Server.
type Options struct {
	Status   StatusSource
	Hub      HubStats
	Progress *ProgressHandler
	// Gatherer backs /metrics; nil uses the default registry.
	Gatherer prometheus.Gatherer
	// Registerer receives the HTTP request collectors; nil skips them.
	Registerer     prometheus.Registerer
	Ready          map[string]ReadinessCheck
	RequestTimeout time.Duration
	Logger         *zap.Logger
}

// Server wires HTTP handlers to the orchestrator and stores.
type Server struct {
	router chi.Router
	opts   Options
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(opts Options) (*Server, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	s := &Server{opts: opts, logger: logger}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	if opts.Registerer != nil {
		mw, err := metricsMiddleware(opts.Registerer)
		if err != nil {
			return nil, err
		}
		r.Use(mw)
	}
	r.Use(timeoutMiddleware(opts.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.Get("/progress", s.progress)
		r.Get("/years/{year}", s.year)
		r.Route("/runs", func(r chi.Router) {
			r.Get("/", s.withProgress(func(h *ProgressHandler) http.HandlerFunc { return h.ListRuns }))
			r.Get("/{run_id}", s.withProgress(func(h *ProgressHandler) http.HandlerFunc { return h.GetRun }))
			r.Get("/{run_id}/years", s.withProgress(func(h *ProgressHandler) http.HandlerFunc { return h.ListRunYears }))
		})
	})

	s.router = r
	return s, nil
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	failures := map[string]string{}
	for name, check := range s.opts.Ready {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		err := check(ctx)
		cancel()
		if err != nil {
			failures[name] = err.Error()
		}
	}
	if len(failures) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unready", "failures": failures})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type progressResponse struct {
	Run crawler.RunStatus `json:"run"`
	Hub *progress.Stats   `json:"hub,omitempty"`
}

func (s *Server) progress(w http.ResponseWriter, _ *http.Request) {
	if s.opts.Status == nil {
		writeError(w, http.StatusServiceUnavailable, "no harvest attached")
		return
	}
	resp := progressResponse{Run: s.opts.Status.Status()}
	if s.opts.Hub != nil {
		stats := s.opts.Hub.Stats()
		resp.Hub = &stats
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) year(w http.ResponseWriter, r *http.Request) {
	if s.opts.Status == nil {
		writeError(w, http.StatusServiceUnavailable, "no harvest attached")
		return
	}
	year, err := strconv.Atoi(chi.URLParam(r, "year"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid year")
		return
	}
	live, ok := s.opts.Status.YearProgress(year)
	if !ok {
		writeError(w, http.StatusNotFound, "year not part of the current run")
		return
	}
	writeJSON(w, http.StatusOK, live)
}

func (s *Server) withProgress(pick func(*ProgressHandler) http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.opts.Progress == nil {
			writeError(w, http.StatusServiceUnavailable, "progress repository unavailable")
			return
		}
		pick(s.opts.Progress)(w, r)
	}
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
