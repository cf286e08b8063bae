package dedup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"billtracker/internal/domain"
)

type stubAlertRepo struct {
	alerts  []domain.Alert
	listErr error
	purged  int64

	updatedID    int64
	updatedCount int

	total, sent, grouped int
}

func (s *stubAlertRepo) CreateAlert(ctx context.Context, a domain.Alert) (domain.Alert, error) {
	a.ID = int64(len(s.alerts) + 1)
	s.alerts = append(s.alerts, a)
	return a, nil
}

func (s *stubAlertRepo) ListRecentAlerts(ctx context.Context, userID, billID int64, since time.Time, limit int) ([]domain.Alert, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []domain.Alert
	for _, a := range s.alerts {
		if a.UserID == userID && a.BillID == billID && !a.IsDismissed && !a.CreatedAt.Before(since) {
			out = append(out, a)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *stubAlertRepo) ListUserAlerts(ctx context.Context, userID int64, since time.Time) ([]domain.Alert, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []domain.Alert
	for _, a := range s.alerts {
		if a.UserID == userID && !a.IsDismissed && !a.CreatedAt.Before(since) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *stubAlertRepo) ListPendingAlerts(ctx context.Context, limit int) ([]domain.Alert, error) {
	return nil, nil
}

func (s *stubAlertRepo) MarkSent(ctx context.Context, alertID int64, at time.Time) error {
	return nil
}

func (s *stubAlertRepo) UpdateSimilarCount(ctx context.Context, alertID int64, count int) error {
	s.updatedID = alertID
	s.updatedCount = count
	return nil
}

func (s *stubAlertRepo) PurgeDismissed(ctx context.Context, before time.Time) (int64, error) {
	return s.purged, nil
}

func (s *stubAlertRepo) CountAlerts(ctx context.Context, userID int64, since time.Time) (int, int, int, error) {
	return s.total, s.sent, s.grouped, nil
}

func (s *stubAlertRepo) CountAlertsByPriority(ctx context.Context, since time.Time) (map[domain.AlertPriority]int, error) {
	return nil, nil
}

func (s *stubAlertRepo) WithAlertScope(ctx context.Context, userID, billID int64, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

var _ domain.AlertRepo = (*stubAlertRepo)(nil)

func newTestEngine(repo *stubAlertRepo) *Engine {
	return NewEngine(repo, DefaultConfig(), zerolog.Nop())
}

func candidate() Candidate {
	return Candidate{
		UserID:   1,
		BillID:   10,
		Type:     domain.AlertTypeChange,
		Title:    "HR 1234 amended in committee",
		Message:  "Staffing provisions were revised during markup.",
		Priority: domain.PriorityMedium,
	}
}

func storedAlert(repo *stubAlertRepo, c Candidate, age time.Duration, sent bool, sentAgo time.Duration) domain.Alert {
	a := domain.Alert{
		UserID:    c.UserID,
		BillID:    c.BillID,
		Type:      c.Type,
		Priority:  c.Priority,
		Title:     c.Title,
		Message:   c.Message,
		DedupHash: Hash(c.BillID, c.Type, c.Title, c.Message),
		IsSent:    sent,
		CreatedAt: time.Now().Add(-age),
	}
	if sent {
		at := time.Now().Add(-sentAgo)
		a.SentAt = &at
	}
	created, _ := repo.CreateAlert(context.Background(), a)
	return created
}

func TestFirstAlertIsSent(t *testing.T) {
	e := newTestEngine(&stubAlertRepo{})
	res, err := e.Analyze(context.Background(), candidate())
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if !res.ShouldSend || res.IsDuplicate {
		t.Fatalf("first alert: ShouldSend=%v IsDuplicate=%v", res.ShouldSend, res.IsDuplicate)
	}
	if res.DedupHash == "" {
		t.Fatalf("expected dedup hash")
	}
}

func TestSecondIdenticalAlertIsDuplicate(t *testing.T) {
	repo := &stubAlertRepo{}
	c := candidate()
	storedAlert(repo, c, time.Hour, false, 0)

	e := newTestEngine(repo)
	res, err := e.Analyze(context.Background(), c)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if !res.IsDuplicate || res.ShouldSend {
		t.Fatalf("exact duplicate: ShouldSend=%v IsDuplicate=%v", res.ShouldSend, res.IsDuplicate)
	}
	if res.Similarity != 1.0 {
		t.Fatalf("similarity = %v, want 1.0", res.Similarity)
	}
}

func TestUrgentNeverSuppressed(t *testing.T) {
	repo := &stubAlertRepo{}
	c := candidate()
	for i := 0; i < 5; i++ {
		storedAlert(repo, c, time.Duration(i+1)*time.Hour, true, time.Duration(i+1)*time.Hour)
	}

	c.Priority = domain.PriorityUrgent
	c.Message = c.Message + " Urgent floor action expected."
	e := newTestEngine(repo)
	res, err := e.Analyze(context.Background(), c)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if !res.ShouldSend {
		t.Fatalf("urgent alert was suppressed: %s", res.Reasoning)
	}
}

func TestSimilarCapWithinWindow(t *testing.T) {
	repo := &stubAlertRepo{}
	c := candidate()
	// Three structurally similar alerts already sent within two hours.
	for i := 0; i < 3; i++ {
		variant := c
		variant.Message = c.Message + " Revision " + string(rune('A'+i)) + "."
		storedAlert(repo, variant, time.Duration(i+1)*30*time.Minute, true, time.Duration(i+1)*30*time.Minute)
	}

	e := newTestEngine(repo)
	fourth := c
	fourth.Message = c.Message + " Revision D."
	res, err := e.Analyze(context.Background(), fourth)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if res.ShouldSend {
		t.Fatalf("fourth similar alert should be suppressed: %s", res.Reasoning)
	}

	// A uniqueness keyword lets a later alert through even past the cap.
	withKeyword := fourth
	withKeyword.Message = fourth.Message + " New rate takes effect."
	res, err = e.Analyze(context.Background(), withKeyword)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if !res.ShouldSend {
		t.Fatalf("uniqueness keyword should override the cap: %s", res.Reasoning)
	}
}

func TestUniquenessKeywordOverridesGap(t *testing.T) {
	repo := &stubAlertRepo{}
	c := candidate()
	variant := c
	variant.Message = c.Message + " Revision A."
	storedAlert(repo, variant, 30*time.Minute, true, 30*time.Minute)

	e := newTestEngine(repo)

	// Similar alert sent 30 minutes ago: inside the one hour gap, suppressed.
	plain := c
	plain.Message = c.Message + " Revision B."
	res, err := e.Analyze(context.Background(), plain)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if res.ShouldSend {
		t.Fatalf("alert inside resend gap should be suppressed")
	}

	// Same situation with a uniqueness keyword: sent.
	keyed := c
	keyed.Message = c.Message + " Revision B with new deadline."
	res, err = e.Analyze(context.Background(), keyed)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if !res.ShouldSend {
		t.Fatalf("uniqueness keyword should override the resend gap: %s", res.Reasoning)
	}
}

func TestAnalyzeFailsOpen(t *testing.T) {
	repo := &stubAlertRepo{listErr: errors.New("connection refused")}
	e := newTestEngine(repo)
	res, err := e.Analyze(context.Background(), candidate())
	if err == nil {
		t.Fatalf("expected error to surface")
	}
	if !res.ShouldSend {
		t.Fatalf("lookup failure must default to send")
	}
}

func TestGroupSimilar(t *testing.T) {
	repo := &stubAlertRepo{}
	c := candidate()
	for i := 0; i < 3; i++ {
		variant := c
		variant.Message = c.Message + " Revision " + string(rune('A'+i)) + "."
		if i == 2 {
			variant.Priority = domain.PriorityHigh
		}
		storedAlert(repo, variant, time.Duration(i+1)*time.Hour, i == 0, time.Hour)
	}
	// Unrelated bill stays out of the group.
	other := c
	other.BillID = 99
	other.Title = "SB 77 appropriations rider"
	other.Message = "Unrelated appropriations change."
	storedAlert(repo, other, time.Hour, false, 0)

	e := newTestEngine(repo)
	groups, err := e.GroupSimilar(context.Background(), c.UserID, 7*24*time.Hour)
	if err != nil {
		t.Fatalf("GroupSimilar: %v", err)
	}
	if len(groups) != 1 {
		t.Fatalf("groups = %d, want 1", len(groups))
	}
	g := groups[0]
	if g.TotalCount != 3 {
		t.Fatalf("group size = %d, want 3", g.TotalCount)
	}
	if g.Priority != domain.PriorityHigh {
		t.Fatalf("group priority = %s, want high", g.Priority)
	}
	if g.LastSent == nil {
		t.Fatalf("expected last sent time")
	}
}

func TestRecordGrouping(t *testing.T) {
	repo := &stubAlertRepo{}
	e := newTestEngine(repo)
	if err := e.RecordGrouping(context.Background(), 42, []int64{1, 2, 3}); err != nil {
		t.Fatalf("RecordGrouping: %v", err)
	}
	if repo.updatedID != 42 || repo.updatedCount != 4 {
		t.Fatalf("updated (%d, %d), want (42, 4)", repo.updatedID, repo.updatedCount)
	}
}

func TestStats(t *testing.T) {
	repo := &stubAlertRepo{total: 10, sent: 6, grouped: 2}
	e := newTestEngine(repo)
	stats, err := e.Stats(context.Background(), 1, 7)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Suppressed != 4 {
		t.Fatalf("suppressed = %d, want 4", stats.Suppressed)
	}
	if stats.SuppressionRate != 40 {
		t.Fatalf("suppression rate = %v, want 40", stats.SuppressionRate)
	}
}
