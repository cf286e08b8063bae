// Package http exposes the operator control surface: health, metrics,
// scheduler management and activity stats.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"billtracker/internal/domain"
	"billtracker/internal/usecase/schedule"
)

// StatsProvider serves the activity counters behind /api/v1/stats.
type StatsProvider interface {
	GetSystemStats(ctx context.Context, days int) (domain.SystemStats, error)
}

// Server wraps chi.Router with base middlewares and the control API.
type Server struct {
	Router    chi.Router
	log       zerolog.Logger
	scheduler *schedule.Scheduler
	stats     StatsProvider
	srv       *http.Server
}

// NewServer creates the control server.
func NewServer(logger zerolog.Logger, scheduler *schedule.Scheduler, stats StatsProvider) *Server {
	s := &Server{log: logger, scheduler: scheduler, stats: stats}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/scheduler/status", s.handleSchedulerStatus)
		r.Post("/scheduler/tasks/{name}/enable", s.handleTaskEnable)
		r.Post("/scheduler/tasks/{name}/disable", s.handleTaskDisable)
		r.Post("/scheduler/tasks/{name}/run", s.handleTaskRun)
		r.Get("/stats", s.handleStats)
	})

	s.Router = r
	return s
}

// Start runs the http.Server until Shutdown.
func (s *Server) Start(addr string) error {
	s.srv = &http.Server{
		Addr:         addr,
		Handler:      s.Router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	s.log.Info().Str("addr", addr).Msg("control server started")
	return s.srv.ListenAndServe()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.scheduler.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":            "ok",
		"scheduler_running": status.Running,
	})
}

type taskStatusPayload struct {
	Name       string `json:"name"`
	Interval   string `json:"interval"`
	LastRun    string `json:"last_run,omitempty"`
	NextRun    string `json:"next_run,omitempty"`
	Enabled    bool   `json:"enabled"`
	ErrorCount int    `json:"error_count"`
}

func (s *Server) handleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	status := s.scheduler.Status()
	tasks := make([]taskStatusPayload, 0, len(status.Tasks))
	for _, t := range status.Tasks {
		p := taskStatusPayload{
			Name:       t.Name,
			Interval:   t.Interval.String(),
			Enabled:    t.Enabled,
			ErrorCount: t.ErrorCount,
		}
		if !t.LastRun.IsZero() {
			p.LastRun = t.LastRun.Format(time.RFC3339)
		}
		if !t.NextRun.IsZero() {
			p.NextRun = t.NextRun.Format(time.RFC3339)
		}
		tasks = append(tasks, p)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"running":      status.Running,
		"start_time":   status.StartTime.Format(time.RFC3339),
		"last_check":   status.LastCheck.Format(time.RFC3339),
		"total_runs":   status.TotalRuns,
		"total_errors": status.TotalErrors,
		"tasks":        tasks,
	})
}

func (s *Server) handleTaskEnable(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.scheduler.EnableTask(name); err != nil {
		writeTaskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"task": name, "state": "enabled"})
}

func (s *Server) handleTaskDisable(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.scheduler.DisableTask(name); err != nil {
		writeTaskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"task": name, "state": "disabled"})
}

func (s *Server) handleTaskRun(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.scheduler.RunTaskNow(r.Context(), name); err != nil {
		writeTaskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"task": name, "state": "completed"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	days := 7
	if raw := r.URL.Query().Get("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "days must be a positive integer"})
			return
		}
		days = parsed
	}
	stats, err := s.stats.GetSystemStats(r.Context(), days)
	if err != nil {
		s.log.Error().Err(err).Msg("stats query failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "stats unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"period_days":         stats.Days,
		"changes_total":       stats.ChangesTotal,
		"changes_by_severity": stats.ChangesBySeverity,
		"stage_transitions":   stats.StageTransitions,
		"alerts_total":        stats.AlertsTotal,
		"alerts_sent":         stats.AlertsSent,
		"alerts_by_priority":  stats.AlertsByPriority,
		"suppression_rate":    stats.SuppressionRate,
	})
}

func writeTaskError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, schedule.ErrUnknownTask):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, schedule.ErrTaskDisabled):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
