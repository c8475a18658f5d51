package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitecrawler/internal/config"
	"github.com/JakeFAU/sitecrawler/internal/crawler"
	"github.com/JakeFAU/sitecrawler/internal/dispatcher"
	"github.com/JakeFAU/sitecrawler/internal/export"
	"github.com/JakeFAU/sitecrawler/internal/id/uuid"
	"github.com/JakeFAU/sitecrawler/internal/metrics"
)

const (
	defaultJobLimit = 50
	maxJobLimit     = 500
	requestTimeout  = 60 * time.Second
	maxBodyBytes    = 1 << 20
)

// Service submits and cancels crawls. *dispatcher.Dispatcher implements it.
type Service interface {
	Submit(ctx context.Context, cfg crawler.Config) (crawler.Job, error)
	Cancel(ctx context.Context, jobID string) error
}

// JobLister is implemented by job stores that can enumerate jobs, newest
// first.
type JobLister interface {
	ListJobs(ctx context.Context) ([]crawler.Job, error)
}

// ReadyFunc reports whether downstream dependencies are reachable.
type ReadyFunc func(ctx context.Context) error

// Server wires HTTP handlers to the dispatcher and stores.
type Server struct {
	router   chi.Router
	service  Service
	jobStore crawler.JobStore
	ready    ReadyFunc
	cfg      config.Config
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes. ready may be nil.
func NewServer(
	service Service,
	jobStore crawler.JobStore,
	ready ReadyFunc,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	s := &Server{
		service:  service,
		jobStore: jobStore,
		ready:    ready,
		cfg:      cfg,
		logger:   logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(requestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1/crawls", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Post("/", s.submitCrawl)
		r.Get("/", s.listCrawls)
		r.Route("/{crawl_id}", func(r chi.Router) {
			r.Get("/", s.getCrawl)
			r.Get("/result", s.getResult)
			r.Get("/graph", s.getGraph)
			r.Post("/cancel", s.cancelCrawl)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) submitCrawl(w http.ResponseWriter, r *http.Request) {
	// Unset fields keep the configured defaults.
	cfg := s.cfg.CrawlConfig("")
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(cfg.TargetURL) == "" {
		writeError(w, http.StatusBadRequest, "target_url required")
		return
	}
	job, err := s.service.Submit(r.Context(), cfg)
	switch {
	case err == nil:
	case errors.Is(err, dispatcher.ErrInvalidConfig):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, dispatcher.ErrQueueFull):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	default:
		s.logger.Error("submit crawl failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to submit crawl")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"crawl_id": job.ID,
		"status":   string(job.Status),
	})
}

func (s *Server) listCrawls(w http.ResponseWriter, r *http.Request) {
	lister, ok := s.jobStore.(JobLister)
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "job listing unavailable")
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultJobLimit, maxJobLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var status crawler.JobStatus
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		status, err = parseStatus(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	jobs, err := lister.ListJobs(r.Context())
	if err != nil {
		s.logger.Error("list jobs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list crawls")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"crawls": page(filterStatus(jobs, status), limit, offset)})
}

func (s *Server) getCrawl(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"crawl": job})
}

func (s *Server) getResult(w http.ResponseWriter, r *http.Request) {
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeExport(w, r, format)
}

func (s *Server) getGraph(w http.ResponseWriter, r *http.Request) {
	s.writeExport(w, r, export.FormatGraph)
}

func (s *Server) writeExport(w http.ResponseWriter, r *http.Request, format export.Format) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}
	if !job.Status.Terminal() {
		writeJSON(w, http.StatusConflict, map[string]string{
			"error":  "crawl not finished",
			"status": string(job.Status),
		})
		return
	}
	result, err := s.jobStore.GetResult(r.Context(), job.ID)
	if err != nil {
		if errors.Is(err, crawler.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "result not available")
			return
		}
		s.logger.Error("load result failed", zap.String("crawl_id", job.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load result")
		return
	}
	body, err := export.Render(result, format)
	if err != nil {
		s.logger.Error("render result failed", zap.String("crawl_id", job.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to render result")
		return
	}
	w.Header().Set("Content-Type", format.ContentType())
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		s.logger.Warn("write result failed", zap.Error(err))
	}
}

func (s *Server) cancelCrawl(w http.ResponseWriter, r *http.Request) {
	jobID, ok := crawlID(w, r)
	if !ok {
		return
	}
	err := s.service.Cancel(r.Context(), jobID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]string{"crawl_id": jobID, "status": "canceling"})
	case errors.Is(err, crawler.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "crawl not found")
	case errors.Is(err, dispatcher.ErrJobFinished):
		writeError(w, http.StatusConflict, "crawl already finished")
	default:
		s.logger.Error("cancel crawl failed", zap.String("crawl_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to cancel crawl")
	}
}

func (s *Server) loadJob(w http.ResponseWriter, r *http.Request) (crawler.Job, bool) {
	jobID, ok := crawlID(w, r)
	if !ok {
		return crawler.Job{}, false
	}
	job, err := s.jobStore.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, crawler.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "crawl not found")
			return crawler.Job{}, false
		}
		s.logger.Error("get job failed", zap.String("crawl_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load crawl")
		return crawler.Job{}, false
	}
	return job, true
}

func crawlID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "crawl_id")
	if !uuid.Valid(id) {
		writeError(w, http.StatusBadRequest, "invalid crawl_id")
		return "", false
	}
	return id, true
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		limit = min(val, maxLimit)
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func parseStatus(input string) (crawler.JobStatus, error) {
	status := crawler.JobStatus(strings.ToLower(input))
	switch status {
	case crawler.JobStatusQueued, crawler.JobStatusRunning, crawler.JobStatusSucceeded,
		crawler.JobStatusFailed, crawler.JobStatusCanceled:
		return status, nil
	default:
		return "", fmt.Errorf("invalid status %q", input)
	}
}

func filterStatus(jobs []crawler.Job, status crawler.JobStatus) []crawler.Job {
	if status == "" {
		return jobs
	}
	out := jobs[:0:0]
	for _, job := range jobs {
		if job.Status == status {
			out = append(out, job)
		}
	}
	return out
}

func page(jobs []crawler.Job, limit, offset int) []crawler.Job {
	sort.SliceStable(jobs, func(i, j int) bool {
		return jobs[i].Submitted.After(jobs[j].Submitted)
	})
	if offset >= len(jobs) {
		return []crawler.Job{}
	}
	end := min(offset+limit, len(jobs))
	return jobs[offset:end]
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
