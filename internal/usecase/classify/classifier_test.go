package classify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"billtracker/internal/domain"
	"billtracker/internal/usecase/diff"
)

type stubExternal struct {
	res domain.ClassificationResult
	err error
}

func (s *stubExternal) Classify(ctx context.Context, req domain.ClassificationRequest) (domain.ClassificationResult, error) {
	return s.res, s.err
}

func testBill() domain.Bill {
	return domain.Bill{
		ID:         7,
		BillNumber: "HR 1234",
		Title:      "Nursing Facility Improvement Act",
		Summary:    "A bill concerning nursing facilities.",
		Status:     "Introduced",
		Source:     "congress",
	}
}

func TestPaymentRateChangeIsSignificant(t *testing.T) {
	base := "SECTION 1. Purpose. This act improves care standards in skilled nursing facilities."
	engine := diff.NewEngine()
	now := time.Now()
	oldSnap := diff.NewSnapshot(domain.Bill{ID: 7, FullText: base}, now)
	newSnap := diff.NewSnapshot(domain.Bill{ID: 7, FullText: base + " The payment rate shall be reduced by 10% under the Medicare SNF PPS."}, now)
	d := engine.Compare(oldSnap, newSnap)
	if !d.HasChanges {
		t.Fatalf("expected changes")
	}

	c := NewClassifier(nil, DefaultConfig(), zerolog.Nop())
	cls := c.ClassifyChange(context.Background(), d, testBill(), "Introduced", "Introduced")

	if cls.Severity.Rank() < domain.SeveritySignificant.Rank() {
		t.Fatalf("severity = %s, want at least significant", cls.Severity)
	}
	if !cls.ReimbursementImpact {
		t.Fatalf("expected reimbursement impact")
	}
	if cls.ChangeType != domain.ChangeTextAmendment {
		t.Fatalf("change type = %s", cls.ChangeType)
	}
}

func TestStatusChangeType(t *testing.T) {
	c := NewClassifier(nil, DefaultConfig(), zerolog.Nop())
	cls := c.ClassifyChange(context.Background(), domain.DiffResult{HasChanges: true, Summary: "Status changed"}, testBill(), "Introduced", "In Committee")
	if cls.ChangeType != domain.ChangeStatusChange {
		t.Fatalf("change type = %s, want status_change", cls.ChangeType)
	}
}

func TestExternalCanOnlyUpgrade(t *testing.T) {
	d := domain.DiffResult{
		HasChanges:         true,
		ChangePercentage:   60,
		Summary:            "Minimum staffing requirement added with a civil monetary penalty",
		SignificantChanges: []string{"Keyword 'minimum staffing' appears 1 more time(s)"},
	}

	// external says minor, rules say more: rules win.
	ext := &stubExternal{res: domain.ClassificationResult{Severity: domain.SeverityMinor, Confidence: 0.95}}
	c := NewClassifier(ext, DefaultConfig(), zerolog.Nop())
	cls := c.ClassifyChange(context.Background(), d, testBill(), "x", "x")
	if cls.Severity == domain.SeverityMinor {
		t.Fatalf("external downgraded the rule-based verdict")
	}

	// external says critical on an otherwise quiet diff: external wins.
	quiet := domain.DiffResult{HasChanges: true, Summary: "wording tweaks"}
	ext.res = domain.ClassificationResult{Severity: domain.SeverityCritical, Confidence: 0.9, Reasoning: "hidden rider"}
	cls = c.ClassifyChange(context.Background(), quiet, testBill(), "x", "x")
	if cls.Severity != domain.SeverityCritical {
		t.Fatalf("severity = %s, want critical", cls.Severity)
	}
	if cls.Reasoning != "hidden rider" {
		t.Fatalf("reasoning = %q", cls.Reasoning)
	}
}

func TestExternalFailureFallsBackToRules(t *testing.T) {
	ext := &stubExternal{err: errors.New("timeout")}
	c := NewClassifier(ext, DefaultConfig(), zerolog.Nop())
	d := domain.DiffResult{HasChanges: true, ChangePercentage: 40, Summary: "reimbursement and penalty provisions rewritten"}
	cls := c.ClassifyChange(context.Background(), d, testBill(), "x", "x")
	if cls.Severity == "" {
		t.Fatalf("expected a rule-based verdict despite external failure")
	}
	if cls.Confidence != 0.6 {
		t.Fatalf("confidence = %v, want rule-based 0.6", cls.Confidence)
	}
}

func TestUrgencyBuckets(t *testing.T) {
	cases := []struct {
		text string
		want domain.ImplementationUrgency
	}{
		{"effective immediately upon enactment", domain.UrgencyImmediate},
		{"takes effect within 30 days", domain.UrgencyImmediate},
		{"applies beginning with the next fiscal year", domain.UrgencyShortTerm},
		{"no stated timeline", domain.UrgencyLongTerm},
	}
	for _, tc := range cases {
		if got := urgencyFromText(tc.text); got != tc.want {
			t.Errorf("urgencyFromText(%q) = %s, want %s", tc.text, got, tc.want)
		}
	}
}

func TestStageTransitionSeverity(t *testing.T) {
	c := NewClassifier(nil, DefaultConfig(), zerolog.Nop())
	bill := testBill()

	cls := c.ClassifyStageTransition(domain.StageIntroduced, domain.StageCommitteeReview, bill)
	if cls.Severity != domain.SeverityModerate {
		t.Fatalf("introduced->committee severity = %s, want moderate", cls.Severity)
	}
	if cls.ChangeType != domain.ChangeStageTransition {
		t.Fatalf("change type = %s", cls.ChangeType)
	}

	cls = c.ClassifyStageTransition(domain.StageFloorConsideration, domain.StagePassedChamber, bill)
	if cls.Severity != domain.SeverityCritical {
		t.Fatalf("floor->passed severity = %s, want critical", cls.Severity)
	}
}

func TestHighRelevanceForcesCritical(t *testing.T) {
	c := NewClassifier(nil, DefaultConfig(), zerolog.Nop())
	bill := testBill()
	score := 85.0
	bill.RelevanceScore = &score

	cls := c.ClassifyStageTransition(domain.StageCommitteeMarkup, domain.StageCommitteeReported, bill)
	if cls.Severity != domain.SeverityCritical {
		t.Fatalf("severity = %s, want critical for relevance >= 70 and to-priority >= 0.7", cls.Severity)
	}
}
