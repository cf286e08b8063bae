// Package priority scores alert candidates across seven weighted factors and
// maps the score to one of the four priority levels.
package priority

import (
	"fmt"
	"strings"

	"billtracker/internal/domain"
)

var reimbursementKeywords = map[string]float64{
	"payment rate":        1.0,
	"reimbursement":       1.0,
	"pdpm":                0.95,
	"prospective payment": 0.9,
	"medicare rate":       0.9,
	"snf pps":             0.9,
	"rebasing":            0.85,
	"case mix":            0.8,
	"wage index":          0.8,
	"market basket":       0.8,
	"payment adjustment":  0.8,
	"medicaid rate":       0.7,
	"bad debt":            0.7,
}

var implementationKeywords = map[string]float64{
	"immediate":             1.0,
	"effective immediately": 1.0,
	"within 30 days":        0.9,
	"within 60 days":        0.8,
	"by january":            0.8,
	"within 90 days":        0.7,
	"by october":            0.7,
	"fiscal year":           0.6,
	"next year":             0.4,
	"phase in":              0.3,
}

var regulatoryKeywords = map[string]float64{
	"staffing requirement": 0.95,
	"minimum staffing":     0.9,
	"penalty":              0.9,
	"star rating":          0.85,
	"quality measure":      0.8,
	"survey requirement":   0.8,
	"certification":        0.8,
	"deficiency":           0.8,
	"compliance":           0.7,
	"inspection":           0.7,
}

var snfTerms = []string{
	"skilled nursing", "snf", "nursing home", "long-term care",
	"medicare part a", "post-acute", "rehabilitation",
}

var deadlineTerms = []string{"deadline", "expires", "sunset", "by december", "end of year"}

// Weights distribute the 7-factor blend; they must sum to 1.
type Weights struct {
	ReimbursementImpact float64
	ImplementationSpeed float64
	PassageLikelihood   float64
	BillRelevance       float64
	ChangeSeverity      float64
	RegulatoryImpact    float64
	TimeSensitivity     float64
}

// DefaultWeights returns the production factor weights.
func DefaultWeights() Weights {
	return Weights{
		ReimbursementImpact: 0.25,
		ImplementationSpeed: 0.20,
		PassageLikelihood:   0.15,
		BillRelevance:       0.15,
		ChangeSeverity:      0.10,
		RegulatoryImpact:    0.10,
		TimeSensitivity:     0.05,
	}
}

// Thresholds are the score cutoffs for the priority levels.
type Thresholds struct {
	Urgent float64
	High   float64
	Medium float64
}

// DefaultThresholds returns the production cutoffs.
func DefaultThresholds() Thresholds {
	return Thresholds{Urgent: 85, High: 65, Medium: 35}
}

// Factors are the per-dimension scores, each in [0,1].
type Factors struct {
	ReimbursementImpact float64
	ImplementationSpeed float64
	PassageLikelihood   float64
	BillRelevance       float64
	ChangeSeverity      float64
	RegulatoryImpact    float64
	TimeSensitivity     float64
}

// Result is the priority verdict for one alert candidate.
type Result struct {
	Priority        domain.AlertPriority
	Score           float64
	Confidence      float64
	Reasoning       string
	Factors         Factors
	Recommendations []string
}

// Prioritizer computes alert priorities.
type Prioritizer struct {
	weights    Weights
	thresholds Thresholds
}

// NewPrioritizer creates a prioritizer.
func NewPrioritizer(weights Weights, thresholds Thresholds) *Prioritizer {
	if weights == (Weights{}) {
		weights = DefaultWeights()
	}
	if thresholds == (Thresholds{}) {
		thresholds = DefaultThresholds()
	}
	return &Prioritizer{weights: weights, thresholds: thresholds}
}

// Calculate scores the candidate. transition may be nil when the alert is a
// pure text change; prefs may be nil when the user has no stored preferences.
func (p *Prioritizer) Calculate(bill domain.Bill, cls domain.ChangeClassification, transition *domain.StageTransitionResult, prefs *domain.AlertPreferences) Result {
	factors := p.factors(bill, cls, transition)
	score := p.weightedScore(factors)
	level := p.scoreToPriority(score)

	if prefs != nil {
		level, score = p.applyPreferences(level, score, cls, *prefs)
	}

	return Result{
		Priority:        level,
		Score:           score,
		Confidence:      confidence(bill, cls, transition),
		Reasoning:       reasoning(factors, score, cls, transition),
		Factors:         factors,
		Recommendations: recommendations(factors, cls, transition),
	}
}

func (p *Prioritizer) factors(bill domain.Bill, cls domain.ChangeClassification, transition *domain.StageTransitionResult) Factors {
	return Factors{
		ReimbursementImpact: reimbursementImpact(bill, cls),
		ImplementationSpeed: implementationSpeed(bill, cls),
		PassageLikelihood:   passageLikelihood(bill, transition),
		BillRelevance:       billRelevance(bill),
		ChangeSeverity:      severityScore(cls.Severity),
		RegulatoryImpact:    regulatoryImpact(bill, cls),
		TimeSensitivity:     timeSensitivity(bill, cls, transition),
	}
}

func (p *Prioritizer) weightedScore(f Factors) float64 {
	score := f.ReimbursementImpact*p.weights.ReimbursementImpact +
		f.ImplementationSpeed*p.weights.ImplementationSpeed +
		f.PassageLikelihood*p.weights.PassageLikelihood +
		f.BillRelevance*p.weights.BillRelevance +
		f.ChangeSeverity*p.weights.ChangeSeverity +
		f.RegulatoryImpact*p.weights.RegulatoryImpact +
		f.TimeSensitivity*p.weights.TimeSensitivity
	return score * 100
}

func (p *Prioritizer) scoreToPriority(score float64) domain.AlertPriority {
	switch {
	case score >= p.thresholds.Urgent:
		return domain.PriorityUrgent
	case score >= p.thresholds.High:
		return domain.PriorityHigh
	case score >= p.thresholds.Medium:
		return domain.PriorityMedium
	default:
		return domain.PriorityLow
	}
}

// applyPreferences floors the level at the user's minimum and shifts it one
// step for important/excluded keyword matches.
func (p *Prioritizer) applyPreferences(level domain.AlertPriority, score float64, cls domain.ChangeClassification, prefs domain.AlertPreferences) (domain.AlertPriority, float64) {
	if prefs.MinPriority.Rank() >= 0 && level.Rank() < prefs.MinPriority.Rank() {
		level = prefs.MinPriority
		score = p.thresholdFor(prefs.MinPriority)
	}

	allText := strings.ToLower(strings.Join(append(append([]string{}, cls.KeyChanges...), cls.Reasoning), " "))

	for _, kw := range prefs.ImportantKeywords {
		if kw != "" && strings.Contains(allText, strings.ToLower(kw)) {
			score = score * 1.2
			if score > 100 {
				score = 100
			}
			level = stepUp(level)
			break
		}
	}
	for _, kw := range prefs.ExcludedKeywords {
		if kw != "" && strings.Contains(allText, strings.ToLower(kw)) {
			score = score * 0.8
			level = stepDown(level)
			break
		}
	}
	return level, score
}

func (p *Prioritizer) thresholdFor(level domain.AlertPriority) float64 {
	switch level {
	case domain.PriorityUrgent:
		return p.thresholds.Urgent
	case domain.PriorityHigh:
		return p.thresholds.High
	case domain.PriorityMedium:
		return p.thresholds.Medium
	default:
		return 0
	}
}

func reimbursementImpact(bill domain.Bill, cls domain.ChangeClassification) float64 {
	base := 0.0
	if cls.ReimbursementImpact {
		base = 0.8
	}

	allText := strings.ToLower(strings.Join([]string{
		bill.Title, bill.Summary, strings.Join(cls.KeyChanges, " "), cls.Reasoning,
	}, " "))

	keywordScore := 0.0
	for kw, impact := range reimbursementKeywords {
		if strings.Contains(allText, kw) && impact > keywordScore {
			keywordScore = impact
		}
	}

	final := base
	if keywordScore > final {
		final = keywordScore
	}
	if cls.Severity == domain.SeverityCritical &&
		(strings.Contains(allText, "payment") || strings.Contains(allText, "reimbursement")) {
		final = final * 1.2
		if final > 1 {
			final = 1
		}
	}
	return final
}

func implementationSpeed(bill domain.Bill, cls domain.ChangeClassification) float64 {
	base := 0.5
	switch cls.ImplementationUrgency {
	case domain.UrgencyImmediate:
		base = 1.0
	case domain.UrgencyShortTerm:
		base = 0.7
	case domain.UrgencyLongTerm:
		base = 0.3
	}

	allText := keyText(bill, cls)
	for kw, speed := range implementationKeywords {
		if strings.Contains(allText, kw) && speed > base {
			base = speed
		}
	}
	return base
}

func passageLikelihood(bill domain.Bill, transition *domain.StageTransitionResult) float64 {
	if transition != nil {
		return transition.PassageLikelihood
	}

	status := strings.ToLower(bill.Status)
	switch {
	case containsAny(status, "signed", "enacted", "law"):
		return 1.0
	case containsAny(status, "passed both", "conference", "final passage"):
		return 0.9
	case containsAny(status, "passed", "floor"):
		return 0.7
	case containsAny(status, "committee reported", "markup"):
		return 0.5
	case strings.Contains(status, "committee"):
		return 0.3
	case strings.Contains(status, "introduced"):
		return 0.1
	default:
		return 0.2
	}
}

func billRelevance(bill domain.Bill) float64 {
	if bill.RelevanceScore != nil {
		return *bill.RelevanceScore / 100
	}

	allText := strings.ToLower(bill.Title + " " + bill.Summary + " " + bill.FullText)
	score := 0.0
	for _, term := range snfTerms {
		if strings.Contains(allText, term) {
			score += 0.2
		}
	}
	if score > 1 {
		return 1
	}
	return score
}

func severityScore(s domain.ChangeSeverity) float64 {
	switch s {
	case domain.SeverityCritical:
		return 1.0
	case domain.SeveritySignificant:
		return 0.8
	case domain.SeverityModerate:
		return 0.5
	case domain.SeverityMinor:
		return 0.2
	default:
		return 0.5
	}
}

func regulatoryImpact(bill domain.Bill, cls domain.ChangeClassification) float64 {
	base := 0.0
	if cls.RegulatoryImpact {
		base = 0.7
	}
	allText := keyText(bill, cls)
	for kw, impact := range regulatoryKeywords {
		if strings.Contains(allText, kw) && impact > base {
			base = impact
		}
	}
	return base
}

func timeSensitivity(bill domain.Bill, cls domain.ChangeClassification, transition *domain.StageTransitionResult) float64 {
	score := 0.0
	if transition != nil {
		switch transition.ToStage {
		case domain.StageSignedIntoLaw, domain.StageSentToPresident:
			score = 0.9
		case domain.StagePassedBothChambers:
			score = 0.8
		}
	}
	allText := keyText(bill, cls)
	for _, term := range deadlineTerms {
		if strings.Contains(allText, term) && score < 0.7 {
			score = 0.7
		}
	}
	return score
}

func confidence(bill domain.Bill, cls domain.ChangeClassification, transition *domain.StageTransitionResult) float64 {
	total := 0.0
	switch {
	case bill.Title != "" && bill.Summary != "":
		total += 0.3
	case bill.Title != "" || bill.Summary != "":
		total += 0.2
	default:
		total += 0.1
	}
	total += cls.Confidence * 0.4
	if transition != nil {
		total += transition.Confidence * 0.3
	} else {
		total += 0.1
	}
	return total
}

func reasoning(f Factors, score float64, cls domain.ChangeClassification, transition *domain.StageTransitionResult) string {
	var parts []string

	var primary []string
	if f.ReimbursementImpact >= 0.7 {
		primary = append(primary, "high reimbursement impact")
	}
	if f.ImplementationSpeed >= 0.7 {
		primary = append(primary, "urgent implementation timeline")
	}
	if f.PassageLikelihood >= 0.8 {
		primary = append(primary, "high passage likelihood")
	}
	if f.RegulatoryImpact >= 0.7 {
		primary = append(primary, "significant regulatory changes")
	}
	if len(primary) > 0 {
		parts = append(parts, "Priority elevated due to "+strings.Join(primary, ", "))
	}

	parts = append(parts, fmt.Sprintf("Change classified as %s", cls.Severity))
	if transition != nil && transition.HasTransition {
		parts = append(parts, fmt.Sprintf("Bill transitioned to %s", transition.ToStage))
	}
	parts = append(parts, fmt.Sprintf("Overall priority score: %.0f/100", score))

	return strings.Join(parts, ". ") + "."
}

func recommendations(f Factors, cls domain.ChangeClassification, transition *domain.StageTransitionResult) []string {
	var recs []string

	if f.ReimbursementImpact >= 0.8 {
		recs = append(recs,
			"Review impact on facility reimbursement rates",
			"Update financial projections and budgets")
	}
	switch {
	case f.ImplementationSpeed >= 0.8:
		recs = append(recs,
			"Begin immediate implementation planning",
			"Assign dedicated staff to manage compliance")
	case f.ImplementationSpeed >= 0.5:
		recs = append(recs, "Add to implementation roadmap")
	}
	if f.RegulatoryImpact >= 0.7 {
		recs = append(recs,
			"Review compliance policies and procedures",
			"Plan staff training for new requirements")
	}
	if transition != nil && transition.PassageLikelihood >= 0.8 {
		recs = append(recs,
			"Monitor for final passage and signing",
			"Prepare for implementation")
	}
	switch cls.Severity {
	case domain.SeverityCritical:
		recs = append(recs, "Escalate to executive leadership")
	case domain.SeveritySignificant:
		recs = append(recs, "Involve relevant department heads")
	}

	if len(recs) > 5 {
		recs = recs[:5]
	}
	return recs
}

func keyText(bill domain.Bill, cls domain.ChangeClassification) string {
	return strings.ToLower(strings.Join([]string{
		bill.Title, bill.Summary, strings.Join(cls.KeyChanges, " "),
	}, " "))
}

func stepUp(level domain.AlertPriority) domain.AlertPriority {
	switch level {
	case domain.PriorityLow:
		return domain.PriorityMedium
	case domain.PriorityMedium:
		return domain.PriorityHigh
	default:
		return domain.PriorityUrgent
	}
}

func stepDown(level domain.AlertPriority) domain.AlertPriority {
	switch level {
	case domain.PriorityUrgent:
		return domain.PriorityHigh
	case domain.PriorityHigh:
		return domain.PriorityMedium
	default:
		return domain.PriorityLow
	}
}

func containsAny(s string, terms ...string) bool {
	for _, term := range terms {
		if strings.Contains(s, term) {
			return true
		}
	}
	return false
}
