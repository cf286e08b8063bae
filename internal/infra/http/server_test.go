package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"billtracker/internal/domain"
	"billtracker/internal/usecase/schedule"
)

type stubStats struct {
	stats domain.SystemStats
	err   error
	days  int
}

func (s *stubStats) GetSystemStats(_ context.Context, days int) (domain.SystemStats, error) {
	s.days = days
	if s.err != nil {
		return domain.SystemStats{}, s.err
	}
	return s.stats, nil
}

func newTestServer(t *testing.T, stats StatsProvider) (*Server, *schedule.Scheduler) {
	t.Helper()
	scheduler := schedule.NewScheduler(schedule.DefaultConfig(), zerolog.Nop())
	scheduler.Register("change_detection", time.Hour, func(context.Context) error { return nil })
	return NewServer(zerolog.Nop(), scheduler, stats), scheduler
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t, &stubStats{})
	rec := httptest.NewRecorder()
	srv.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %v", body["status"])
	}
}

func TestSchedulerStatusListsTasks(t *testing.T) {
	srv, _ := newTestServer(t, &stubStats{})
	rec := httptest.NewRecorder()
	srv.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/scheduler/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Tasks []taskStatusPayload `json:"tasks"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Tasks) != 1 || body.Tasks[0].Name != "change_detection" {
		t.Errorf("tasks = %+v", body.Tasks)
	}
}

func TestTaskRunAndDisable(t *testing.T) {
	srv, scheduler := newTestServer(t, &stubStats{})

	rec := httptest.NewRecorder()
	srv.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/scheduler/tasks/change_detection/run", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("run status = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	srv.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/scheduler/tasks/change_detection/disable", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("disable status = %d, want 200", rec.Code)
	}
	if err := scheduler.RunTaskNow(context.Background(), "change_detection"); !errors.Is(err, schedule.ErrTaskDisabled) {
		t.Errorf("RunTaskNow after disable = %v, want ErrTaskDisabled", err)
	}

	rec = httptest.NewRecorder()
	srv.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/scheduler/tasks/change_detection/run", nil))
	if rec.Code != http.StatusConflict {
		t.Errorf("run disabled task status = %d, want 409", rec.Code)
	}
}

func TestUnknownTaskIs404(t *testing.T) {
	srv, _ := newTestServer(t, &stubStats{})
	rec := httptest.NewRecorder()
	srv.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/scheduler/tasks/nope/enable", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestStatsQuery(t *testing.T) {
	stats := &stubStats{stats: domain.SystemStats{Days: 30, ChangesTotal: 12, AlertsTotal: 8, AlertsSent: 6, SuppressionRate: 25}}
	srv, _ := newTestServer(t, stats)
	rec := httptest.NewRecorder()
	srv.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/stats?days=30", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if stats.days != 30 {
		t.Errorf("days passed = %d, want 30", stats.days)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["changes_total"].(float64) != 12 {
		t.Errorf("changes_total = %v", body["changes_total"])
	}
}

func TestStatsRejectsBadDays(t *testing.T) {
	srv, _ := newTestServer(t, &stubStats{})
	rec := httptest.NewRecorder()
	srv.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/stats?days=zero", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}
