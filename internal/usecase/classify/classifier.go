// Package classify turns diff output and bill context into a severity
// verdict. An optional external text-classification capability refines the
// verdict; the rule-based path always produces one, so classifier
// unavailability never aborts processing.
package classify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"billtracker/internal/domain"
)

// impactKeywords weighs domain terms across the four impact dimensions
// (financial, quality, staffing, compliance).
var impactKeywords = map[string]float64{
	// high impact: reimbursement
	"reimbursement":       1.0,
	"payment rate":        1.0,
	"prospective payment": 1.0,
	"pdpm":                1.0,
	"case mix":            0.9,
	"medicare rate":       1.0,
	"medicaid rate":       0.8,

	// high impact: quality
	"star rating":     0.9,
	"quality measure": 0.8,
	"cms five star":   0.9,
	"survey":          0.8,
	"deficiency":      0.9,
	"penalty":         1.0,

	// high impact: staffing
	"staffing requirement": 1.0,
	"minimum staffing":     1.0,
	"nurse staffing":       0.9,
	"cna requirement":      0.8,
	"rn hour":              0.9,

	// medium impact: operational
	"quality reporting":  0.7,
	"documentation":      0.6,
	"assessment":         0.7,
	"discharge planning": 0.6,
	"care planning":      0.6,

	// medium impact: compliance
	"infection control":     0.7,
	"medication management": 0.7,
	"resident rights":       0.6,
	"privacy":               0.5,
	"hipaa":                 0.6,

	// lower impact: administrative
	"reporting requirement": 0.5,
	"notice requirement":    0.4,
	"record keeping":        0.4,
	"training":              0.5,
}

var reimbursementTerms = []string{
	"payment", "reimbursement", "rate", "pdpm", "prospective payment",
	"medicare", "medicaid", "case mix", "snf pps", "wage index",
}

var regulatoryTerms = []string{
	"requirement", "mandate", "must", "shall", "prohibited", "compliance",
	"survey", "inspection", "deficiency", "penalty", "certification",
	"quality measure", "staffing requirement", "standard of care",
}

var (
	immediateTerms = []string{"immediate", "effective immediately", "upon passage", "within 30 days"}
	shortTermTerms = []string{"within 6 months", "fiscal year", "by january", "by october"}
)

// stagePriorities maps coarse stage labels to progression weight, used when
// classifying transitions instead of text diffs.
var stagePriorities = map[domain.BillStage]float64{
	domain.StageIntroduced:            0.3,
	domain.StageCommitteeReview:       0.5,
	domain.StageCommitteeMarkup:       0.5,
	domain.StageCommitteeReported:     0.7,
	domain.StageFloorConsideration:    0.8,
	domain.StagePassedChamber:         0.9,
	domain.StageSentToOtherChamber:    0.9,
	domain.StageOtherChamberCommittee: 0.7,
	domain.StageOtherChamberFloor:     0.8,
	domain.StagePassedBothChambers:    0.9,
	domain.StageSentToPresident:       1.0,
	domain.StageSignedIntoLaw:         1.0,
}

// Config carries the empirically chosen rule thresholds. Defaults reproduce
// production behavior; they are tunable, not proven optimal.
type Config struct {
	CriticalScore    float64
	SignificantScore float64
	ModerateScore    float64
	ExternalTimeout  time.Duration
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		CriticalScore:    2.0,
		SignificantScore: 1.0,
		ModerateScore:    0.3,
		ExternalTimeout:  15 * time.Second,
	}
}

// Classifier produces change classifications. external may be nil.
type Classifier struct {
	external domain.ChangeClassifier
	cfg      Config
	log      zerolog.Logger
}

// NewClassifier creates a classifier.
func NewClassifier(external domain.ChangeClassifier, cfg Config, logger zerolog.Logger) *Classifier {
	if cfg.ExternalTimeout <= 0 {
		cfg.ExternalTimeout = DefaultConfig().ExternalTimeout
	}
	return &Classifier{external: external, cfg: cfg, log: logger}
}

// ClassifyChange produces the severity verdict for a text change. The final
// severity is the max of the external and rule-based verdicts, so the
// external capability can only upgrade, never downgrade.
func (c *Classifier) ClassifyChange(ctx context.Context, d domain.DiffResult, bill domain.Bill, oldStatus, newStatus string) domain.ChangeClassification {
	changeType := domain.ChangeTextAmendment
	if oldStatus != newStatus {
		changeType = domain.ChangeStatusChange
	}

	allText := c.combinedText(d, bill)

	ruleSeverity := c.ruleBasedSeverity(d, allText)
	severity := ruleSeverity
	confidence := 0.6
	reasoning := "Rule-based keyword classification"
	keyChanges := d.SignificantChanges
	var impactAreas []string

	if res, ok := c.callExternal(ctx, d, bill, oldStatus, newStatus); ok {
		severity = domain.MaxSeverity(res.Severity, ruleSeverity)
		if res.Confidence > 0 {
			confidence = clamp01(res.Confidence)
		}
		if res.Reasoning != "" {
			reasoning = res.Reasoning
		}
		if len(res.KeyChanges) > 0 {
			keyChanges = res.KeyChanges
		}
		impactAreas = res.ImpactAreas
	}

	return domain.ChangeClassification{
		BillID:                bill.ID,
		Severity:              severity,
		ChangeType:            changeType,
		Confidence:            confidence,
		Reasoning:             reasoning,
		KeyChanges:            topN(keyChanges, 5),
		ImpactAreas:           impactAreas,
		ReimbursementImpact:   containsAny(allText, reimbursementTerms),
		RegulatoryImpact:      containsAny(allText, regulatoryTerms),
		ImplementationUrgency: urgencyFromText(allText),
		DiffSummary:           d.Summary,
		DiffDetails:           truncate(d.UnifiedDiff, 2000),
		WordCountDelta:        d.WordCountDelta,
	}
}

// ClassifyStageTransition mirrors ClassifyChange for stage moves, using
// stage-priority deltas instead of text diffing. Transitions to near-passage
// stages on high-relevance bills are forced to critical.
func (c *Classifier) ClassifyStageTransition(from, to domain.BillStage, bill domain.Bill) domain.ChangeClassification {
	fromPriority := stagePriority(from)
	toPriority := stagePriority(to)
	delta := toPriority - fromPriority

	var severity domain.ChangeSeverity
	switch {
	case toPriority >= 0.9:
		severity = domain.SeverityCritical
	case toPriority >= 0.7:
		severity = domain.SeveritySignificant
	case delta >= 0.2:
		severity = domain.SeverityModerate
	default:
		severity = domain.SeverityMinor
	}

	relevance := 0.0
	if bill.RelevanceScore != nil {
		relevance = *bill.RelevanceScore
	}
	if relevance >= 70 && toPriority >= 0.7 {
		severity = domain.SeverityCritical
	}

	urgency := domain.UrgencyLongTerm
	if toPriority >= 0.8 {
		urgency = domain.UrgencyShortTerm
	}

	contextText := strings.ToLower(bill.Title + " " + bill.Summary)

	return domain.ChangeClassification{
		BillID:     bill.ID,
		Severity:   severity,
		ChangeType: domain.ChangeStageTransition,
		Confidence: 0.9,
		Reasoning: fmt.Sprintf("Bill transitioned from %s to %s. Relevance: %.0f/100. Passage likelihood increased to %.0f%%.",
			stageLabel(from), stageLabel(to), relevance, toPriority*100),
		KeyChanges:            []string{fmt.Sprintf("Stage transition: %s -> %s", stageLabel(from), stageLabel(to))},
		ImpactAreas:           []string{"legislative_progress"},
		ReimbursementImpact:   containsAny(contextText, reimbursementTerms),
		RegulatoryImpact:      containsAny(contextText, regulatoryTerms),
		ImplementationUrgency: urgency,
	}
}

// ruleBasedSeverity sums matched keyword weights, scales by a magnitude
// multiplier blended 50/50 with a fixed baseline, and maps the result to a
// severity bucket. Any full-weight keyword in the changed content floors the
// verdict at significant regardless of change magnitude.
func (c *Classifier) ruleBasedSeverity(d domain.DiffResult, allText string) domain.ChangeSeverity {
	score := 0.0
	maxWeight := 0.0
	for keyword, weight := range impactKeywords {
		if strings.Contains(allText, keyword) {
			score += weight
			if weight > maxWeight {
				maxWeight = weight
			}
		}
	}

	magnitude := d.ChangePercentage / 100
	if magnitude > 1 {
		magnitude = 1
	}
	final := score * (0.5 + 0.5*magnitude)

	severity := domain.SeverityMinor
	switch {
	case final >= c.cfg.CriticalScore:
		severity = domain.SeverityCritical
	case final >= c.cfg.SignificantScore:
		severity = domain.SeveritySignificant
	case final >= c.cfg.ModerateScore:
		severity = domain.SeverityModerate
	}
	if maxWeight >= 1.0 {
		severity = domain.MaxSeverity(severity, domain.SeveritySignificant)
	}
	return severity
}

func (c *Classifier) callExternal(ctx context.Context, d domain.DiffResult, bill domain.Bill, oldStatus, newStatus string) (domain.ClassificationResult, bool) {
	if c.external == nil {
		return domain.ClassificationResult{}, false
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ExternalTimeout)
	defer cancel()

	relevance := 0.0
	if bill.RelevanceScore != nil {
		relevance = *bill.RelevanceScore
	}
	res, err := c.external.Classify(ctx, domain.ClassificationRequest{
		BillNumber:         bill.BillNumber,
		Title:              bill.Title,
		Summary:            bill.Summary,
		Source:             bill.Source,
		Status:             bill.Status,
		RelevanceScore:     relevance,
		ChangeSummary:      d.Summary,
		SignificantChanges: topN(d.SignificantChanges, 5),
		SectionsChanged:    topN(d.SectionsChanged, 3),
		ChangePercentage:   d.ChangePercentage,
		OldStatus:          oldStatus,
		NewStatus:          newStatus,
	})
	if err != nil {
		c.log.Warn().Err(err).Int64("bill_id", bill.ID).Msg("classify: external capability unavailable")
		return domain.ClassificationResult{}, false
	}
	if res.Severity.Rank() < 0 {
		c.log.Warn().Str("severity", string(res.Severity)).Msg("classify: external returned unknown severity")
		return domain.ClassificationResult{}, false
	}
	return res, true
}

// combinedText includes the unified diff so keywords appearing only in the
// changed lines themselves still count.
func (c *Classifier) combinedText(d domain.DiffResult, bill domain.Bill) string {
	parts := []string{
		d.Summary,
		strings.Join(d.SignificantChanges, " "),
		strings.Join(d.MinorChanges, " "),
		d.UnifiedDiff,
		bill.Title,
		bill.Summary,
	}
	return strings.ToLower(strings.Join(parts, " "))
}

func urgencyFromText(text string) domain.ImplementationUrgency {
	if containsAny(text, immediateTerms) {
		return domain.UrgencyImmediate
	}
	if containsAny(text, shortTermTerms) {
		return domain.UrgencyShortTerm
	}
	return domain.UrgencyLongTerm
}

func stagePriority(s domain.BillStage) float64 {
	if p, ok := stagePriorities[s]; ok {
		return p
	}
	return 0.3
}

func stageLabel(s domain.BillStage) string {
	if s == domain.StageUnknown {
		return "unknown"
	}
	return string(s)
}

func containsAny(text string, terms []string) bool {
	for _, term := range terms {
		if strings.Contains(text, term) {
			return true
		}
	}
	return false
}

func topN(values []string, n int) []string {
	if len(values) <= n {
		return values
	}
	return values[:n]
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}

func clamp01(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < 0 {
		return 0
	}
	return v
}
