// Package stage parses legislative status text into discrete stages and
// evaluates stage transitions independently of text diffing.
package stage

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"billtracker/internal/domain"
)

// stagePattern binds one stage to its status-text patterns. Order matters:
// the first matching stage wins, so more specific stages come first.
type stagePattern struct {
	stage    domain.BillStage
	patterns []*regexp.Regexp
}

func compileAll(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(exprs))
	for _, e := range exprs {
		out = append(out, regexp.MustCompile(e))
	}
	return out
}

var stagePatterns = []stagePattern{
	{domain.StageSignedIntoLaw, compileAll(`signed into law`, `became law`, `president signed`, `enacted`, `public law`)},
	{domain.StageVetoed, compileAll(`vetoed`, `presidential veto`, `veto message`)},
	{domain.StageWithdrawn, compileAll(`withdrawn`, `pulled back`, `sponsor withdrew`)},
	{domain.StageDied, compileAll(`died in committee`, `failed to advance`, `session ended`, `expired`, `no action taken`)},
	{domain.StageSentToPresident, compileAll(`sent to president`, `presented to president`, `awaiting presidential`, `presidential consideration`)},
	{domain.StagePassedBothChambers, compileAll(`passed both chambers`, `bicameral passage`, `cleared congress`, `final legislative approval`)},
	{domain.StageOtherChamberCommittee, compileAll(`referred to.*senate.*committee`, `referred to.*house.*committee`, `committee.*other chamber`)},
	{domain.StageOtherChamberFloor, compileAll(`senate floor`, `house floor`, `other chamber.*floor`)},
	{domain.StageSentToOtherChamber, compileAll(`sent to.*senate`, `sent to.*house`, `transmitted to`, `received from.*house`, `received from.*senate`)},
	{domain.StagePassedChamber, compileAll(`passed.*house`, `passed.*senate`, `approved by`, `third reading passed`, `final passage`)},
	{domain.StageFloorConsideration, compileAll(`floor consideration`, `scheduled for floor`, `second reading`, `floor debate`, `amendment process`)},
	{domain.StageCommitteeReported, compileAll(`reported.*committee`, `committee reported`, `favorably reported`, `reported with amendment`, `committee passed`)},
	{domain.StageCommitteeMarkup, compileAll(`committee markup`, `markup scheduled`, `committee amendment`, `committee consideration`)},
	{domain.StageCommitteeReview, compileAll(`in committee`, `committee review`, `referred to.*committee`, `under consideration`, `committee hearing`)},
	{domain.StageIntroduced, compileAll(`introduced`, `referred to committee`, `read first time`, `presented`, `filed`)},
}

// passageProbabilities is the fixed stage to final-passage probability table.
var passageProbabilities = map[domain.BillStage]float64{
	domain.StageIntroduced:            0.05,
	domain.StageCommitteeReview:       0.15,
	domain.StageCommitteeMarkup:       0.35,
	domain.StageCommitteeReported:     0.55,
	domain.StageFloorConsideration:    0.75,
	domain.StagePassedChamber:         0.85,
	domain.StageSentToOtherChamber:    0.85,
	domain.StageOtherChamberCommittee: 0.85,
	domain.StageOtherChamberFloor:     0.90,
	domain.StagePassedBothChambers:    0.95,
	domain.StageSentToPresident:       0.98,
	domain.StageSignedIntoLaw:         1.0,
	domain.StageVetoed:                0.0,
	domain.StageWithdrawn:             0.0,
	domain.StageDied:                  0.0,
}

var stageTimelines = map[domain.BillStage]string{
	domain.StageIntroduced:            "2-4 weeks to committee action",
	domain.StageCommitteeReview:       "4-12 weeks for committee consideration",
	domain.StageCommitteeMarkup:       "2-4 weeks to committee vote",
	domain.StageCommitteeReported:     "2-8 weeks to floor scheduling",
	domain.StageFloorConsideration:    "1-3 weeks for floor vote",
	domain.StagePassedChamber:         "1-2 weeks to reach other chamber",
	domain.StageSentToOtherChamber:    "2-8 weeks for other chamber committee",
	domain.StageOtherChamberCommittee: "4-12 weeks for committee action",
	domain.StageOtherChamberFloor:     "1-4 weeks for floor consideration",
	domain.StagePassedBothChambers:    "5-10 days to reach president",
	domain.StageSentToPresident:       "10 days for presidential decision",
	domain.StageSignedIntoLaw:         "Law is effective per bill provisions",
	domain.StageVetoed:                "Override attempts possible within session",
	domain.StageWithdrawn:             "Bill is inactive",
	domain.StageDied:                  "Bill is inactive",
}

var (
	committeePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)committee on ([^,\n.]+)`),
		regexp.MustCompile(`(?i)([^,\n.]*committee[^,\n.]*)`),
		regexp.MustCompile(`(?i)referred to ([^,\n.]+)`),
	}
	committeeArtifact = regexp.MustCompile(`(?i)^(the|on)\s+`)

	votePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(passed by (?:a )?vote of \d+-\d+)`),
		regexp.MustCompile(`(?i)(\d+ yeas?,? \d+ nays?)`),
		regexp.MustCompile(`(?i)(\d+ in favor,? \d+ against)`),
		regexp.MustCompile(`(?i)(voice vote)`),
		regexp.MustCompile(`(?i)(unanimous)`),
		regexp.MustCompile(`(\d+-\d+)`),
	}
	voteMargin = regexp.MustCompile(`(\d+)-(\d+)`)

	whitespace = regexp.MustCompile(`\s+`)
)

// Detector parses stages and evaluates transitions. The external enrichment
// capability is optional; absent or failing, detection degrades to pattern
// matching with lower confidence.
type Detector struct {
	enricher      domain.ChangeClassifier
	enrichTimeout time.Duration
	log           zerolog.Logger
}

// NewDetector creates a stage detector. enricher may be nil.
func NewDetector(enricher domain.ChangeClassifier, enrichTimeout time.Duration, logger zerolog.Logger) *Detector {
	if enrichTimeout <= 0 {
		enrichTimeout = 10 * time.Second
	}
	return &Detector{enricher: enricher, enrichTimeout: enrichTimeout, log: logger}
}

// ParseStage maps raw status text to a stage. Unmatched text falls back to
// coarse keyword heuristics, then StageUnknown.
func ParseStage(status string) domain.BillStage {
	if strings.TrimSpace(status) == "" {
		return domain.StageUnknown
	}
	lower := strings.ToLower(status)

	// Terminal sinks and late stages are checked first: their phrasing is
	// specific, while early-stage patterns like "passed" or "referred" would
	// otherwise shadow them.
	for _, s := range stagePatterns {
		for _, pat := range s.patterns {
			if pat.MatchString(lower) {
				return s.stage
			}
		}
	}

	switch {
	case strings.Contains(lower, "committee"):
		return domain.StageCommitteeReview
	case strings.Contains(lower, "passed"):
		return domain.StagePassedChamber
	case strings.Contains(lower, "introduced"), strings.Contains(lower, "referred"):
		return domain.StageIntroduced
	}
	return domain.StageUnknown
}

// DetectTransition parses both statuses and evaluates whether the bill moved
// to a new stage, with plausibility validation and optional enrichment.
func (d *Detector) DetectTransition(ctx context.Context, oldStatus, newStatus string, bill domain.Bill) domain.StageTransitionResult {
	oldStage := ParseStage(oldStatus)
	newStage := ParseStage(newStatus)

	relevance := 0.0
	if bill.RelevanceScore != nil {
		relevance = *bill.RelevanceScore
	}

	if oldStage == newStage {
		return domain.StageTransitionResult{
			HasTransition:     false,
			FromStage:         oldStage,
			ToStage:           newStage,
			Confidence:        0.9,
			Notes:             "No stage change detected",
			PassageLikelihood: passageLikelihood(newStage),
		}
	}

	valid := validTransition(oldStage, newStage)
	enrichment, enriched := d.enrich(ctx, oldStatus, newStatus, bill)

	committee := ExtractCommitteeName(newStatus)
	if committee == "" && enriched {
		committee = enrichment.CommitteeName
	}
	votes := ExtractVoteDetails(newStatus)
	if votes == "" && enriched {
		votes = enrichment.VoteDetails
	}

	enrichConfidence := 0.7
	if enriched && enrichment.Confidence > 0 {
		enrichConfidence = enrichment.Confidence
	}
	confidence := transitionConfidence(oldStage, newStage, valid, enrichConfidence)

	notes := fmt.Sprintf("Transitioned from %s to %s", stageLabel(oldStage), stageLabel(newStage))
	if enriched && enrichment.Notes != "" {
		notes = enrichment.Notes
	}

	likelihood := passageLikelihood(newStage)
	likelihood = adjustLikelihood(likelihood, newStage, votes, relevance)

	return domain.StageTransitionResult{
		HasTransition:     true,
		FromStage:         oldStage,
		ToStage:           newStage,
		Confidence:        confidence,
		PassageLikelihood: likelihood,
		CommitteeName:     committee,
		VoteDetails:       votes,
		Notes:             notes,
	}
}

func (d *Detector) enrich(ctx context.Context, oldStatus, newStatus string, bill domain.Bill) (domain.ClassificationResult, bool) {
	if d.enricher == nil {
		return domain.ClassificationResult{}, false
	}
	ctx, cancel := context.WithTimeout(ctx, d.enrichTimeout)
	defer cancel()

	relevance := 0.0
	if bill.RelevanceScore != nil {
		relevance = *bill.RelevanceScore
	}
	res, err := d.enricher.Classify(ctx, domain.ClassificationRequest{
		BillNumber:     bill.BillNumber,
		Title:          bill.Title,
		Summary:        bill.Summary,
		RelevanceScore: relevance,
		OldStatus:      oldStatus,
		NewStatus:      newStatus,
	})
	if err != nil {
		d.log.Warn().Err(err).Int64("bill_id", bill.ID).Msg("stage: enrichment unavailable")
		return domain.ClassificationResult{}, false
	}
	return res, true
}

// TimelineEstimate returns the static duration-range estimate for a stage.
func TimelineEstimate(s domain.BillStage) string {
	if t, ok := stageTimelines[s]; ok {
		return t
	}
	return "Timeline uncertain"
}

// PassageLikelihood exposes the fixed stage to probability lookup. Unknown
// stages get a conservative 0.1.
func PassageLikelihood(s domain.BillStage) float64 {
	return passageLikelihood(s)
}

func passageLikelihood(s domain.BillStage) float64 {
	if p, ok := passageProbabilities[s]; ok {
		return p
	}
	return 0.1
}

// validTransition allows forward progression, any move to a terminal sink,
// and backward moves of at most two stage indices.
func validTransition(from, to domain.BillStage) bool {
	if from == domain.StageUnknown || to == domain.StageUnknown {
		return true
	}
	if from.IsTerminal() {
		return false
	}
	if to == domain.StageWithdrawn || to == domain.StageDied || to == domain.StageVetoed {
		return true
	}
	fromIdx, toIdx := from.Index(), to.Index()
	if fromIdx < 0 || toIdx < 0 {
		return true
	}
	return toIdx >= fromIdx || fromIdx-toIdx <= 2
}

func transitionConfidence(from, to domain.BillStage, valid bool, enrichConfidence float64) float64 {
	base := 0.7
	if valid {
		base += 0.2
	}
	combined := (base + enrichConfidence) / 2

	fromIdx, toIdx := from.Index(), to.Index()
	switch {
	case fromIdx < 0 || toIdx < 0:
		combined *= 0.9
	case toIdx < fromIdx:
		combined *= 0.7
		if fromIdx-toIdx > 3 {
			combined *= 0.8
		}
	case toIdx-fromIdx > 3:
		combined *= 0.8
	}
	if combined > 1 {
		combined = 1
	}
	return combined
}

// adjustLikelihood boosts unanimous or strong-majority votes, dampens narrow
// margins, and gives a small boost for highly relevant bills.
func adjustLikelihood(base float64, to domain.BillStage, votes string, relevance float64) float64 {
	adjusted := base
	if to.IsTerminal() {
		return adjusted
	}

	if votes != "" {
		lower := strings.ToLower(votes)
		if strings.Contains(lower, "unanimous") {
			adjusted = clamp01(adjusted * 1.2)
		} else if m := voteMargin.FindStringSubmatch(votes); m != nil {
			yes, _ := strconv.Atoi(m[1])
			no, _ := strconv.Atoi(m[2])
			if total := yes + no; total > 0 {
				margin := float64(yes-no) / float64(total)
				if margin > 0.6 {
					adjusted = clamp01(adjusted * 1.15)
				} else if margin < 0.2 {
					adjusted *= 0.9
				}
			}
		}
	}

	if relevance >= 70 {
		adjusted = clamp01(adjusted * 1.05)
	}
	return adjusted
}

// ExtractCommitteeName pulls a committee name out of status text, or "".
func ExtractCommitteeName(status string) string {
	if status == "" {
		return ""
	}
	clean := strings.TrimSpace(whitespace.ReplaceAllString(status, " "))

	for _, pat := range committeePatterns {
		m := pat.FindStringSubmatch(clean)
		if m == nil {
			continue
		}
		name := committeeArtifact.ReplaceAllString(strings.TrimSpace(m[1]), "")
		if len(name) > 5 && len(name) < 100 {
			return name
		}
	}
	return ""
}

// ExtractVoteDetails pulls vote tallies or vote descriptions out of status
// text, or "".
func ExtractVoteDetails(status string) string {
	if status == "" {
		return ""
	}
	for _, pat := range votePatterns {
		if m := pat.FindStringSubmatch(status); m != nil {
			return m[1]
		}
	}
	return ""
}

func stageLabel(s domain.BillStage) string {
	if s == domain.StageUnknown {
		return "unknown"
	}
	return string(s)
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
