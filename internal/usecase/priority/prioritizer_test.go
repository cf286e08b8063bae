package priority

import (
	"testing"

	"billtracker/internal/domain"
)

func relevantBill(score float64) domain.Bill {
	return domain.Bill{
		ID:             1,
		BillNumber:     "HR 1234",
		Title:          "Skilled Nursing Facility Payment Act",
		Summary:        "Adjusts the SNF PPS payment rate and minimum staffing requirements.",
		Status:         "Passed House",
		RelevanceScore: &score,
	}
}

func criticalClassification() domain.ChangeClassification {
	return domain.ChangeClassification{
		Severity:              domain.SeverityCritical,
		Confidence:            0.9,
		Reasoning:             "Payment rate reduced by 10% effective immediately",
		KeyChanges:            []string{"Payment rate reduced by 10%"},
		ReimbursementImpact:   true,
		RegulatoryImpact:      true,
		ImplementationUrgency: domain.UrgencyImmediate,
	}
}

func TestScoreAlwaysInRange(t *testing.T) {
	p := NewPrioritizer(DefaultWeights(), DefaultThresholds())

	bills := []domain.Bill{
		{},
		relevantBill(100),
		{Title: "x", Status: "Signed into law"},
	}
	classifications := []domain.ChangeClassification{
		{},
		criticalClassification(),
		{Severity: domain.SeverityMinor, ImplementationUrgency: domain.UrgencyLongTerm},
	}
	transitions := []*domain.StageTransitionResult{
		nil,
		{HasTransition: true, ToStage: domain.StageSignedIntoLaw, PassageLikelihood: 1.0, Confidence: 0.9},
	}

	for _, b := range bills {
		for _, cls := range classifications {
			for _, tr := range transitions {
				res := p.Calculate(b, cls, tr, nil)
				if res.Score < 0 || res.Score > 100 {
					t.Fatalf("score %v out of range", res.Score)
				}
				if res.Priority.Rank() < 0 {
					t.Fatalf("priority %q not one of the four levels", res.Priority)
				}
			}
		}
	}
}

func TestCriticalReimbursementChangeIsUrgent(t *testing.T) {
	p := NewPrioritizer(DefaultWeights(), DefaultThresholds())
	tr := &domain.StageTransitionResult{HasTransition: true, ToStage: domain.StageSentToPresident, PassageLikelihood: 0.95, Confidence: 0.9}

	res := p.Calculate(relevantBill(90), criticalClassification(), tr, nil)
	if res.Priority != domain.PriorityUrgent {
		t.Fatalf("priority = %s (score %.0f), want urgent", res.Priority, res.Score)
	}
	if res.Factors.ReimbursementImpact < 0.9 {
		t.Fatalf("reimbursement factor = %v, want boosted high", res.Factors.ReimbursementImpact)
	}
	if len(res.Recommendations) == 0 || len(res.Recommendations) > 5 {
		t.Fatalf("recommendations = %d, want 1..5", len(res.Recommendations))
	}
}

func TestMinorClericalChangeIsLow(t *testing.T) {
	p := NewPrioritizer(DefaultWeights(), DefaultThresholds())
	bill := domain.Bill{Title: "Technical corrections", Status: "Introduced"}
	cls := domain.ChangeClassification{
		Severity:              domain.SeverityMinor,
		Confidence:            0.6,
		ImplementationUrgency: domain.UrgencyLongTerm,
	}

	res := p.Calculate(bill, cls, nil, nil)
	if res.Priority != domain.PriorityLow {
		t.Fatalf("priority = %s (score %.0f), want low", res.Priority, res.Score)
	}
}

func TestMinPriorityFloor(t *testing.T) {
	p := NewPrioritizer(DefaultWeights(), DefaultThresholds())
	bill := domain.Bill{Title: "Technical corrections", Status: "Introduced"}
	cls := domain.ChangeClassification{
		Severity:              domain.SeverityMinor,
		ImplementationUrgency: domain.UrgencyLongTerm,
	}
	prefs := domain.DefaultPreferences(1)
	prefs.MinPriority = domain.PriorityHigh

	res := p.Calculate(bill, cls, nil, &prefs)
	if res.Priority.Rank() < domain.PriorityHigh.Rank() {
		t.Fatalf("priority = %s, must not fall below the configured floor", res.Priority)
	}
}

func TestImportantKeywordBoosts(t *testing.T) {
	p := NewPrioritizer(DefaultWeights(), DefaultThresholds())
	cls := domain.ChangeClassification{
		Severity:              domain.SeverityModerate,
		Confidence:            0.7,
		Reasoning:             "Telehealth coverage extended",
		KeyChanges:            []string{"Telehealth provisions amended"},
		ImplementationUrgency: domain.UrgencyShortTerm,
	}
	bill := relevantBill(50)

	prefs := domain.DefaultPreferences(1)
	prefs.MinPriority = domain.PriorityLow
	base := p.Calculate(bill, cls, nil, &prefs)

	prefs.ImportantKeywords = []string{"telehealth"}
	boosted := p.Calculate(bill, cls, nil, &prefs)

	if boosted.Priority.Rank() <= base.Priority.Rank() && base.Priority != domain.PriorityUrgent {
		t.Fatalf("important keyword did not raise priority: %s -> %s", base.Priority, boosted.Priority)
	}
	if boosted.Score < base.Score {
		t.Fatalf("important keyword lowered score: %.0f -> %.0f", base.Score, boosted.Score)
	}
}

func TestExcludedKeywordLowers(t *testing.T) {
	p := NewPrioritizer(DefaultWeights(), DefaultThresholds())
	cls := criticalClassification()
	bill := relevantBill(90)

	prefs := domain.DefaultPreferences(1)
	prefs.MinPriority = domain.PriorityLow
	base := p.Calculate(bill, cls, nil, nil)

	prefs.ExcludedKeywords = []string{"payment rate"}
	lowered := p.Calculate(bill, cls, nil, &prefs)

	if lowered.Priority.Rank() >= base.Priority.Rank() {
		t.Fatalf("excluded keyword did not lower priority: %s -> %s", base.Priority, lowered.Priority)
	}
}

func TestConfidenceReflectsDataQuality(t *testing.T) {
	p := NewPrioritizer(DefaultWeights(), DefaultThresholds())
	tr := &domain.StageTransitionResult{HasTransition: true, ToStage: domain.StagePassedChamber, PassageLikelihood: 0.75, Confidence: 0.9}

	full := p.Calculate(relevantBill(80), criticalClassification(), tr, nil)
	bare := p.Calculate(domain.Bill{}, domain.ChangeClassification{}, nil, nil)

	if full.Confidence <= bare.Confidence {
		t.Fatalf("confidence %v should exceed bare-data confidence %v", full.Confidence, bare.Confidence)
	}
	if full.Confidence > 1 {
		t.Fatalf("confidence %v out of range", full.Confidence)
	}
}
