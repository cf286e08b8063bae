package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"billtracker/internal/domain"
	"billtracker/internal/usecase/dedup"
)

type stubAlertRepo struct {
	alerts   []domain.Alert
	sentIDs  []int64
	markErr  error
	listHook func() error
}

var _ domain.AlertRepo = (*stubAlertRepo)(nil)

func (s *stubAlertRepo) CreateAlert(_ context.Context, a domain.Alert) (domain.Alert, error) {
	a.ID = int64(len(s.alerts) + 1)
	s.alerts = append(s.alerts, a)
	return a, nil
}

func (s *stubAlertRepo) ListRecentAlerts(context.Context, int64, int64, time.Time, int) ([]domain.Alert, error) {
	return nil, nil
}

func (s *stubAlertRepo) ListUserAlerts(_ context.Context, userID int64, since time.Time) ([]domain.Alert, error) {
	if s.listHook != nil {
		if err := s.listHook(); err != nil {
			return nil, err
		}
	}
	var out []domain.Alert
	for _, a := range s.alerts {
		if a.UserID == userID && !a.IsDismissed && !a.CreatedAt.Before(since) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *stubAlertRepo) ListPendingAlerts(_ context.Context, limit int) ([]domain.Alert, error) {
	var out []domain.Alert
	for _, a := range s.alerts {
		if !a.IsSent && !a.IsDismissed {
			out = append(out, a)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *stubAlertRepo) MarkSent(_ context.Context, alertID int64, at time.Time) error {
	if s.markErr != nil {
		return s.markErr
	}
	for i := range s.alerts {
		if s.alerts[i].ID == alertID {
			s.alerts[i].IsSent = true
			s.alerts[i].SentAt = &at
		}
	}
	s.sentIDs = append(s.sentIDs, alertID)
	return nil
}

func (s *stubAlertRepo) UpdateSimilarCount(context.Context, int64, int) error { return nil }

func (s *stubAlertRepo) PurgeDismissed(context.Context, time.Time) (int64, error) { return 0, nil }

func (s *stubAlertRepo) CountAlerts(context.Context, int64, time.Time) (int, int, int, error) {
	return 0, 0, 0, nil
}

func (s *stubAlertRepo) CountAlertsByPriority(context.Context, time.Time) (map[domain.AlertPriority]int, error) {
	return nil, nil
}

func (s *stubAlertRepo) WithAlertScope(ctx context.Context, _, _ int64, fn func(context.Context) error) error {
	return fn(ctx)
}

type stubUserRepo struct {
	users []domain.User
}

func (s *stubUserRepo) ListActiveUsers(context.Context) ([]domain.User, error) {
	return s.users, nil
}

type stubBillRepo struct {
	bills map[int64]domain.Bill
}

func (s *stubBillRepo) ListActive(context.Context, int) ([]domain.Bill, error) { return nil, nil }

func (s *stubBillRepo) GetBill(_ context.Context, billID int64) (domain.Bill, error) {
	b, ok := s.bills[billID]
	if !ok {
		return domain.Bill{}, errors.New("bill not found")
	}
	return b, nil
}

type stubDispatcher struct {
	sent    []domain.Alert
	digests []domain.AlertGroup
	failFor int64
}

func (s *stubDispatcher) Send(_ context.Context, alert domain.Alert, _ domain.User, _ domain.Bill) (domain.DispatchResult, error) {
	if s.failFor != 0 && alert.ID == s.failFor {
		return domain.DispatchResult{}, errors.New("broker unavailable")
	}
	s.sent = append(s.sent, alert)
	return domain.DispatchResult{Success: true}, nil
}

func (s *stubDispatcher) SendDigest(_ context.Context, _ domain.User, group domain.AlertGroup) (domain.DispatchResult, error) {
	s.digests = append(s.digests, group)
	return domain.DispatchResult{Success: true}, nil
}

func newTestService(repo *stubAlertRepo, users *stubUserRepo, bills *stubBillRepo, d domain.Dispatcher) *Service {
	logger := zerolog.Nop()
	engine := dedup.NewEngine(repo, dedup.DefaultConfig(), logger)
	return NewService(repo, users, bills, d, engine, DefaultConfig(), logger)
}

func pendingAlert(id, userID, billID int64, title string) domain.Alert {
	return domain.Alert{
		ID:        id,
		BillID:    billID,
		UserID:    userID,
		Type:      domain.AlertTypeChange,
		Priority:  domain.PriorityMedium,
		Title:     title,
		Message:   "Bill HR 5001 has been updated. Staffing requirement adjusted.",
		CreatedAt: time.Now().Add(-time.Hour),
	}
}

func TestProcessPendingDispatchesAndMarksSent(t *testing.T) {
	repo := &stubAlertRepo{alerts: []domain.Alert{
		pendingAlert(1, 10, 100, "Change: HR 5001 - Staffing levels"),
		pendingAlert(2, 10, 100, "Change: HR 5001 - Staffing levels again"),
		pendingAlert(3, 99, 100, "Change: HR 5001 - Staffing levels"),
	}}
	users := &stubUserRepo{users: []domain.User{{ID: 10, Email: "a@example.com", IsActive: true}}}
	bills := &stubBillRepo{bills: map[int64]domain.Bill{100: {ID: 100, BillNumber: "HR 5001"}}}
	d := &stubDispatcher{}

	report, err := newTestService(repo, users, bills, d).ProcessPending(context.Background())
	if err != nil {
		t.Fatalf("ProcessPending: %v", err)
	}
	if report.Dispatched != 2 {
		t.Errorf("Dispatched = %d, want 2", report.Dispatched)
	}
	if report.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1 (inactive user)", report.Skipped)
	}
	if len(d.sent) != 2 {
		t.Fatalf("dispatcher got %d alerts, want 2", len(d.sent))
	}
	for _, a := range repo.alerts[:2] {
		if !a.IsSent || a.SentAt == nil {
			t.Errorf("alert %d not marked sent", a.ID)
		}
	}
	if repo.alerts[2].IsSent {
		t.Error("alert for inactive user should stay pending")
	}
}

func TestProcessPendingFailureLeavesAlertPending(t *testing.T) {
	repo := &stubAlertRepo{alerts: []domain.Alert{
		pendingAlert(1, 10, 100, "Change: HR 5001 - Staffing levels"),
		pendingAlert(2, 10, 100, "Stage Update: HR 5001 - Passed House"),
	}}
	users := &stubUserRepo{users: []domain.User{{ID: 10, IsActive: true}}}
	bills := &stubBillRepo{bills: map[int64]domain.Bill{100: {ID: 100, BillNumber: "HR 5001"}}}
	d := &stubDispatcher{failFor: 1}

	report, err := newTestService(repo, users, bills, d).ProcessPending(context.Background())
	if err != nil {
		t.Fatalf("ProcessPending: %v", err)
	}
	if report.Failed != 1 || report.Dispatched != 1 {
		t.Errorf("report = %+v, want Failed 1 Dispatched 1", report)
	}
	if repo.alerts[0].IsSent {
		t.Error("failed alert must stay pending for the next cycle")
	}
	if !repo.alerts[1].IsSent {
		t.Error("successful alert should be marked sent")
	}
}

func TestDailyDigestsGroupAndMarkSent(t *testing.T) {
	repo := &stubAlertRepo{alerts: []domain.Alert{
		pendingAlert(1, 10, 100, "Change: HR 5001 - Staffing levels"),
		pendingAlert(2, 10, 100, "Change: HR 5001 - Staffing levels"),
		pendingAlert(3, 10, 100, "Change: HR 5001 - Staffing levels"),
		pendingAlert(4, 10, 200, "Change: S 2201 - Telehealth coverage"),
	}}
	users := &stubUserRepo{users: []domain.User{{ID: 10, IsActive: true}}}
	bills := &stubBillRepo{bills: map[int64]domain.Bill{}}
	d := &stubDispatcher{}

	report, err := newTestService(repo, users, bills, d).DailyDigests(context.Background())
	if err != nil {
		t.Fatalf("DailyDigests: %v", err)
	}
	if report.Digests != 1 {
		t.Fatalf("Digests = %d, want 1", report.Digests)
	}
	group := d.digests[0]
	if group.TotalCount != 3 {
		t.Errorf("TotalCount = %d, want 3", group.TotalCount)
	}
	for _, a := range repo.alerts[:3] {
		if !a.IsSent {
			t.Errorf("grouped alert %d should be marked sent", a.ID)
		}
	}
	if repo.alerts[3].IsSent {
		t.Error("ungrouped alert must stay pending for individual delivery")
	}
}

func TestWeeklySummariesDoNotMarkSent(t *testing.T) {
	sentAt := time.Now().Add(-48 * time.Hour)
	mk := func(id int64) domain.Alert {
		a := pendingAlert(id, 10, 100, "Change: HR 5001 - Staffing levels")
		a.CreatedAt = sentAt
		a.IsSent = true
		a.SentAt = &sentAt
		return a
	}
	repo := &stubAlertRepo{alerts: []domain.Alert{mk(1), mk(2)}}
	users := &stubUserRepo{users: []domain.User{{ID: 10, IsActive: true}}}
	d := &stubDispatcher{}

	report, err := newTestService(repo, users, &stubBillRepo{}, d).WeeklySummaries(context.Background())
	if err != nil {
		t.Fatalf("WeeklySummaries: %v", err)
	}
	if report.Digests != 1 {
		t.Fatalf("Digests = %d, want 1", report.Digests)
	}
	if len(repo.sentIDs) != 0 {
		t.Errorf("weekly summary re-marked %d alerts as sent", len(repo.sentIDs))
	}
}
