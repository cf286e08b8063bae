// Package dedup suppresses and groups repetitive alerts so subscribers are
// not flooded when a bill changes several times in a short window.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/rs/zerolog"

	"billtracker/internal/domain"
)

// uniquenessKeywords mark content that must not be folded into an earlier
// similar alert.
var uniquenessKeywords = []string{
	"emergency", "urgent", "deadline", "immediate", "critical",
	"new rate", "payment change", "effective date", "implementation",
}

// normalizeReplacements are applied in order; both sides of every comparison
// go through the same transform, so the mangling cancels out.
var normalizeReplacements = []string{"bill", "legislation", "the", "a", "an"}

var stopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "but": {},
	"in": {}, "on": {}, "at": {}, "to": {}, "for": {}, "of": {}, "with": {},
}

// Config carries the dedup tunables.
type Config struct {
	SimilarityThreshold float64
	GroupThreshold      float64
	Window              time.Duration
	RecentLimit         int
	MaxSentSimilar      int
	MinResendGap        time.Duration
}

// DefaultConfig returns the production dedup tunables.
func DefaultConfig() Config {
	return Config{
		SimilarityThreshold: 0.75,
		GroupThreshold:      0.6,
		Window:              24 * time.Hour,
		RecentLimit:         20,
		MaxSentSimilar:      3,
		MinResendGap:        time.Hour,
	}
}

// Candidate is an alert that has not been persisted yet.
type Candidate struct {
	UserID   int64
	BillID   int64
	Type     domain.AlertType
	Title    string
	Message  string
	Priority domain.AlertPriority
}

// Result is the dedup verdict for one candidate.
type Result struct {
	ShouldSend  bool
	IsDuplicate bool
	SimilarIDs  []int64
	DedupHash   string
	Similarity  float64
	Reasoning   string
}

// Engine decides whether alert candidates get sent, suppressed, or grouped.
type Engine struct {
	alerts domain.AlertRepo
	cfg    Config
	log    zerolog.Logger
	now    func() time.Time
}

// NewEngine creates a dedup engine.
func NewEngine(alerts domain.AlertRepo, cfg Config, logger zerolog.Logger) *Engine {
	if cfg.SimilarityThreshold == 0 {
		cfg = DefaultConfig()
	}
	return &Engine{alerts: alerts, cfg: cfg, log: logger, now: time.Now}
}

// Analyze decides whether the candidate should be sent. Repo failures fail
// open: the returned result says send, and the error is reported alongside so
// the caller can log it. Callers serialize concurrent calls for the same
// (user, bill) via AlertRepo.WithAlertScope.
func (e *Engine) Analyze(ctx context.Context, c Candidate) (Result, error) {
	hash := Hash(c.BillID, c.Type, c.Title, c.Message)

	since := e.now().Add(-e.cfg.Window)
	recent, err := e.alerts.ListRecentAlerts(ctx, c.UserID, c.BillID, since, e.cfg.RecentLimit)
	if err != nil {
		return Result{
			ShouldSend: true,
			DedupHash:  hash,
			Reasoning:  "Dedup lookup failed, defaulting to send",
		}, fmt.Errorf("list recent alerts: %w", err)
	}

	if len(recent) == 0 {
		return Result{
			ShouldSend: true,
			DedupHash:  hash,
			Reasoning:  "No recent alerts to compare against",
		}, nil
	}

	for _, a := range recent {
		if a.DedupHash == hash {
			return Result{
				ShouldSend:  false,
				IsDuplicate: true,
				SimilarIDs:  []int64{a.ID},
				DedupHash:   hash,
				Similarity:  1.0,
				Reasoning:   fmt.Sprintf("Exact duplicate of alert created %s", a.CreatedAt.Format(time.RFC3339)),
			}, nil
		}
	}

	similar, best := e.findSimilar(c, recent)
	shouldSend := e.shouldSend(c, similar, best)

	return Result{
		ShouldSend:  shouldSend,
		IsDuplicate: best >= e.cfg.SimilarityThreshold,
		SimilarIDs:  alertIDs(similar),
		DedupHash:   hash,
		Similarity:  best,
		Reasoning:   e.reasoning(shouldSend, len(similar), best),
	}, nil
}

// RecordGrouping stores the group size on the representative alert.
func (e *Engine) RecordGrouping(ctx context.Context, alertID int64, similarIDs []int64) error {
	if len(similarIDs) == 0 {
		return nil
	}
	if err := e.alerts.UpdateSimilarCount(ctx, alertID, len(similarIDs)+1); err != nil {
		return fmt.Errorf("update similar count: %w", err)
	}
	return nil
}

// GroupSimilar clusters a user's recent alerts per bill for digest delivery.
func (e *Engine) GroupSimilar(ctx context.Context, userID int64, lookback time.Duration) ([]domain.AlertGroup, error) {
	alerts, err := e.alerts.ListUserAlerts(ctx, userID, e.now().Add(-lookback))
	if err != nil {
		return nil, fmt.Errorf("list user alerts: %w", err)
	}
	if len(alerts) == 0 {
		return nil, nil
	}

	processed := make(map[int64]struct{})
	var groups []domain.AlertGroup

	for _, a := range alerts {
		if _, done := processed[a.ID]; done {
			continue
		}
		var similar []domain.Alert
		for _, other := range alerts {
			if other.ID == a.ID || other.BillID != a.BillID {
				continue
			}
			if _, done := processed[other.ID]; done {
				continue
			}
			if alertSimilarity(a, other) >= e.cfg.GroupThreshold {
				similar = append(similar, other)
			}
		}
		if len(similar) == 0 {
			continue
		}

		members := append([]domain.Alert{a}, similar...)
		groups = append(groups, domain.AlertGroup{
			RepresentativeID: a.ID,
			SimilarIDs:       alertIDs(similar),
			CommonTheme:      commonTheme(members),
			TotalCount:       len(members),
			Priority:         groupPriority(members),
			LastSent:         lastSent(members),
		})
		for _, m := range members {
			processed[m.ID] = struct{}{}
		}
	}
	return groups, nil
}

// Cleanup deletes dismissed alerts older than the retention period.
func (e *Engine) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	n, err := e.alerts.PurgeDismissed(ctx, e.now().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("purge dismissed alerts: %w", err)
	}
	e.log.Info().Int64("deleted", n).Msg("dedup: cleaned up old dismissed alerts")
	return n, nil
}

// Stats reports suppression counters for a user over the given period.
func (e *Engine) Stats(ctx context.Context, userID int64, days int) (domain.AlertStats, error) {
	total, sent, grouped, err := e.alerts.CountAlerts(ctx, userID, e.now().AddDate(0, 0, -days))
	if err != nil {
		return domain.AlertStats{}, fmt.Errorf("count alerts: %w", err)
	}
	rate := 0.0
	if total > 0 {
		rate = float64(total-sent) / float64(total) * 100
	}
	return domain.AlertStats{
		TotalCreated:    total,
		Sent:            sent,
		Suppressed:      total - sent,
		SuppressionRate: rate,
		Grouped:         grouped,
		PeriodDays:      days,
	}, nil
}

func (e *Engine) findSimilar(c Candidate, recent []domain.Alert) ([]domain.Alert, float64) {
	var similar []domain.Alert
	best := 0.0
	for _, a := range recent {
		sim := textSimilarity(c.Title, c.Message, c.Type, a.Title, a.Message, a.Type)
		if sim >= e.cfg.SimilarityThreshold {
			similar = append(similar, a)
			if sim > best {
				best = sim
			}
		}
	}
	return similar, best
}

func (e *Engine) shouldSend(c Candidate, similar []domain.Alert, best float64) bool {
	// urgent and high priority alerts bypass suppression entirely
	if c.Priority == domain.PriorityUrgent || c.Priority == domain.PriorityHigh {
		return true
	}
	if len(similar) == 0 || best < e.cfg.SimilarityThreshold {
		return true
	}

	// uniqueness keywords let a candidate through even past the cap
	combined := strings.ToLower(c.Title + " " + c.Message)
	for _, kw := range uniquenessKeywords {
		if strings.Contains(combined, kw) {
			return true
		}
	}

	var sent []domain.Alert
	for _, a := range similar {
		if a.IsSent {
			sent = append(sent, a)
		}
	}
	if len(sent) >= e.cfg.MaxSentSimilar {
		return false
	}
	if last := lastSent(sent); last != nil && e.now().Sub(*last) < e.cfg.MinResendGap {
		return false
	}
	return true
}

func (e *Engine) reasoning(shouldSend bool, similarCount int, best float64) string {
	if shouldSend {
		switch {
		case similarCount == 0:
			return "No similar recent alerts found"
		case best < e.cfg.SimilarityThreshold:
			return fmt.Sprintf("Similarity below threshold (%.2f < %.2f)", best, e.cfg.SimilarityThreshold)
		default:
			return fmt.Sprintf("Sending despite %d similar alerts due to importance", similarCount)
		}
	}
	return fmt.Sprintf("Suppressed due to %d similar alerts (similarity: %.2f)", similarCount, best)
}

// Hash derives the exact-duplicate key from the normalized alert content.
func Hash(billID int64, alertType domain.AlertType, title, message string) string {
	s := fmt.Sprintf("%d:%s:%s:%s",
		billID,
		strings.TrimSpace(strings.ToLower(string(alertType))),
		normalize(title),
		normalize(message),
	)
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func normalize(text string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	for _, old := range normalizeReplacements {
		normalized = strings.ReplaceAll(normalized, old, "")
	}
	return strings.TrimSpace(normalized)
}

// textSimilarity blends title and message similarity 40/60, penalizes type
// mismatches, and discounts pairs containing uniqueness keywords.
func textSimilarity(title1, message1 string, type1 domain.AlertType, title2, message2 string, type2 domain.AlertType) float64 {
	typePenalty := 0.0
	if type1 != type2 {
		typePenalty = 0.3
	}

	titleSim := charRatio(normalize(title1), normalize(title2))
	messageSim := charRatio(normalize(message1), normalize(message2))
	overall := 0.4*titleSim + 0.6*messageSim - typePenalty

	combined1 := strings.ToLower(title1 + " " + message1)
	combined2 := strings.ToLower(title2 + " " + message2)
	for _, kw := range uniquenessKeywords {
		if strings.Contains(combined1, kw) || strings.Contains(combined2, kw) {
			overall *= 0.8
			break
		}
	}
	if overall < 0 {
		return 0
	}
	return overall
}

func alertSimilarity(a, b domain.Alert) float64 {
	return textSimilarity(a.Title, a.Message, a.Type, b.Title, b.Message, b.Type)
}

func charRatio(a, b string) float64 {
	return difflib.NewMatcher(strings.Split(a, ""), strings.Split(b, "")).Ratio()
}

func commonTheme(members []domain.Alert) string {
	common := wordSet(members[0].Title)
	for _, m := range members[1:] {
		next := wordSet(m.Title)
		for w := range common {
			if _, ok := next[w]; !ok {
				delete(common, w)
			}
		}
	}

	var meaningful []string
	for w := range common {
		if _, stop := stopWords[w]; !stop && len(w) > 2 {
			meaningful = append(meaningful, w)
		}
	}
	if len(meaningful) == 0 {
		return fmt.Sprintf("Multiple %s alerts", members[0].Type)
	}
	sort.Strings(meaningful)
	if len(meaningful) > 3 {
		meaningful = meaningful[:3]
	}
	return "Updates about " + strings.Join(meaningful, " ")
}

func groupPriority(members []domain.Alert) domain.AlertPriority {
	highest := domain.PriorityLow
	for _, m := range members {
		highest = domain.MaxPriority(highest, m.Priority)
	}
	return highest
}

func lastSent(members []domain.Alert) *time.Time {
	var last *time.Time
	for _, m := range members {
		if m.SentAt != nil && (last == nil || m.SentAt.After(*last)) {
			last = m.SentAt
		}
	}
	return last
}

func wordSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(s)) {
		set[w] = struct{}{}
	}
	return set
}

func alertIDs(alerts []domain.Alert) []int64 {
	if len(alerts) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(alerts))
	for _, a := range alerts {
		ids = append(ids, a.ID)
	}
	return ids
}
