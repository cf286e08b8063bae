// Package detect orchestrates the per-bill change detection pipeline:
// snapshot, diff, classification, stage detection, alert creation.
package detect

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"billtracker/internal/domain"
	"billtracker/internal/infra/metrics"
	"billtracker/internal/usecase/classify"
	"billtracker/internal/usecase/dedup"
	"billtracker/internal/usecase/diff"
	"billtracker/internal/usecase/priority"
	"billtracker/internal/usecase/stage"
)

// Config carries the orchestrator tunables.
type Config struct {
	Workers     int
	TextLimit   int // stored old/new excerpt cap
	StatsPeriod time.Duration
}

// DefaultConfig returns the production orchestrator settings.
func DefaultConfig() Config {
	return Config{Workers: 4, TextLimit: 1000}
}

// Deps bundles the collaborators the orchestrator drives.
type Deps struct {
	Bills       domain.BillRepo
	Users       domain.UserRepo
	Preferences domain.PreferencesRepo
	Changes     domain.ChangeRepo
	Transitions domain.TransitionRepo
	Alerts      domain.AlertRepo
	Snapshots   domain.SnapshotStore

	Diff        *diff.Engine
	Classifier  *classify.Classifier
	Stages      *stage.Detector
	Dedup       *dedup.Engine
	Prioritizer *priority.Prioritizer
}

// Service runs change detection cycles over the tracked bill set.
type Service struct {
	deps Deps
	cfg  Config
	log  zerolog.Logger
	now  func() time.Time
}

// NewService creates the orchestrator.
func NewService(deps Deps, cfg Config, logger zerolog.Logger) *Service {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.TextLimit <= 0 {
		cfg.TextLimit = DefaultConfig().TextLimit
	}
	return &Service{deps: deps, cfg: cfg, log: logger, now: time.Now}
}

// RunCheck processes up to limit active bills concurrently. Per-bill failures
// are collected into the result, never propagated; a failed bill keeps its
// previous snapshot and is retried next cycle.
func (s *Service) RunCheck(ctx context.Context, limit int) (domain.CheckResult, error) {
	runID := uuid.NewString()
	start := s.now()
	log := s.log.With().Str("run_id", runID).Logger()

	result := domain.CheckResult{RunID: runID}

	bills, err := s.deps.Bills.ListActive(ctx, limit)
	if err != nil {
		return result, fmt.Errorf("list active bills: %w", err)
	}
	log.Info().Int("bills", len(bills)).Msg("detect: starting change detection run")

	users, err := s.deps.Users.ListActiveUsers(ctx)
	if err != nil {
		return result, fmt.Errorf("list active users: %w", err)
	}

	results := make([]domain.BillCheckResult, len(bills))
	sem := make(chan struct{}, s.cfg.Workers)
	var wg sync.WaitGroup

	for i, bill := range bills {
		wg.Add(1)
		go func(i int, bill domain.Bill) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = s.checkBill(ctx, bill, users)
		}(i, bill)
	}
	wg.Wait()

	failed := 0
	for _, r := range results {
		result.BillsChecked++
		metrics.BillsChecked.Inc()
		if r.HasChanges {
			result.ChangesDetected += r.ChangeCount
		}
		if r.HasStageTransition {
			result.StageTransitions++
		}
		result.AlertsCreated += r.AlertsCreated
		if r.Err != nil {
			failed++
			metrics.CheckErrors.Inc()
			result.Errors = append(result.Errors, fmt.Sprintf("bill %d: %v", r.BillID, r.Err))
		}
	}
	if result.BillsChecked > 0 {
		result.SuccessRate = float64(result.BillsChecked-failed) / float64(result.BillsChecked)
	}
	result.ProcessingTime = s.now().Sub(start)
	metrics.CheckRunSeconds.Observe(result.ProcessingTime.Seconds())

	log.Info().
		Int("bills_checked", result.BillsChecked).
		Int("changes_detected", result.ChangesDetected).
		Int("stage_transitions", result.StageTransitions).
		Int("alerts_created", result.AlertsCreated).
		Int("errors", len(result.Errors)).
		Dur("elapsed", result.ProcessingTime).
		Msg("detect: change detection run completed")

	return result, nil
}

// checkBill runs the full pipeline for one bill. The snapshot is replaced
// only after the pipeline completes, so a mid-pipeline failure re-detects the
// same change next cycle instead of losing it.
func (s *Service) checkBill(ctx context.Context, bill domain.Bill, users []domain.User) domain.BillCheckResult {
	result := domain.BillCheckResult{BillID: bill.ID}

	current := diff.NewSnapshot(bill, s.now())

	previous, seen, err := s.deps.Snapshots.Get(ctx, bill.ID)
	if err != nil {
		result.Err = fmt.Errorf("load snapshot: %w", err)
		return result
	}
	if !seen {
		if err := s.deps.Snapshots.Put(ctx, bill.ID, current); err != nil {
			result.Err = fmt.Errorf("store initial snapshot: %w", err)
			return result
		}
		s.log.Info().Int64("bill_id", bill.ID).Msg("detect: initial snapshot stored")
		return result
	}

	d := s.deps.Diff.Compare(previous, current)

	if d.HasChanges {
		result.HasChanges = true
		change, err := s.processTextChange(ctx, bill, d, previous, current)
		if err != nil {
			result.Err = err
			return result
		}
		result.ChangeCount++
		result.AlertsCreated += s.createChangeAlerts(ctx, bill, change, d, users)
	}

	if previous.Status != current.Status {
		transition, recorded, err := s.processStageTransition(ctx, bill, previous.Status, current.Status)
		if err != nil {
			result.Err = err
			return result
		}
		if recorded {
			result.HasStageTransition = true
			result.AlertsCreated += s.createTransitionAlerts(ctx, bill, transition, users)
		}
	}

	if err := s.deps.Snapshots.Put(ctx, bill.ID, current); err != nil {
		result.Err = fmt.Errorf("store snapshot: %w", err)
		return result
	}
	return result
}

func (s *Service) processTextChange(ctx context.Context, bill domain.Bill, d domain.DiffResult, previous, current domain.BillSnapshot) (domain.ChangeClassification, error) {
	cls := s.deps.Classifier.ClassifyChange(ctx, d, bill, previous.Status, current.Status)
	cls.DetectedAt = s.now()

	stored, err := s.deps.Changes.CreateChange(ctx, cls)
	if err != nil {
		return domain.ChangeClassification{}, fmt.Errorf("store change: %w", err)
	}
	metrics.ChangesDetected.WithLabelValues(string(stored.Severity)).Inc()
	s.log.Info().
		Int64("bill_id", bill.ID).
		Str("severity", string(stored.Severity)).
		Msg("detect: text change recorded")
	return stored, nil
}

func (s *Service) processStageTransition(ctx context.Context, bill domain.Bill, oldStatus, newStatus string) (domain.StageTransition, bool, error) {
	tr := s.deps.Stages.DetectTransition(ctx, oldStatus, newStatus, bill)
	if !tr.HasTransition {
		return domain.StageTransition{}, false, nil
	}

	transition := domain.StageTransition{
		BillID:            bill.ID,
		FromStage:         tr.FromStage,
		ToStage:           tr.ToStage,
		TransitionDate:    s.now(),
		CommitteeName:     tr.CommitteeName,
		VoteDetails:       tr.VoteDetails,
		Notes:             tr.Notes,
		PassageLikelihood: tr.PassageLikelihood,
		EstimatedTimeline: stage.TimelineEstimate(tr.ToStage),
		NextExpectedStage: tr.ToStage.NextStage(),
	}
	stored, err := s.deps.Transitions.CreateTransition(ctx, transition)
	if err != nil {
		return domain.StageTransition{}, false, fmt.Errorf("store stage transition: %w", err)
	}
	metrics.StageTransitions.Inc()
	s.log.Info().
		Int64("bill_id", bill.ID).
		Str("from", string(stored.FromStage)).
		Str("to", string(stored.ToStage)).
		Msg("detect: stage transition recorded")
	return stored, true, nil
}

func (s *Service) createChangeAlerts(ctx context.Context, bill domain.Bill, change domain.ChangeClassification, d domain.DiffResult, users []domain.User) int {
	created := 0
	for _, user := range users {
		prefs := s.loadPreferences(ctx, user.ID)
		if !s.shouldAlertUser(bill, change, prefs) {
			continue
		}

		title := changeAlertTitle(bill, change.Severity)
		message := changeAlertMessage(bill, change, d)
		pr := s.deps.Prioritizer.Calculate(bill, change, nil, &prefs)

		n, err := s.createAlert(ctx, bill, user, domain.AlertTypeChange, title, message, pr.Priority)
		if err != nil {
			s.log.Error().Err(err).Int64("bill_id", bill.ID).Int64("user_id", user.ID).Msg("detect: change alert failed")
			continue
		}
		created += n
	}
	if created > 0 {
		s.log.Info().Int64("bill_id", bill.ID).Int("alerts", created).Msg("detect: change alerts created")
	}
	return created
}

func (s *Service) createTransitionAlerts(ctx context.Context, bill domain.Bill, transition domain.StageTransition, users []domain.User) int {
	created := 0
	for _, user := range users {
		prefs := s.loadPreferences(ctx, user.ID)
		if !prefs.MonitorStageTransitions {
			continue
		}

		title := stageAlertTitle(bill, transition)
		message := stageAlertMessage(bill, transition)
		cls := s.deps.Classifier.ClassifyStageTransition(transition.FromStage, transition.ToStage, bill)
		pr := s.deps.Prioritizer.Calculate(bill, cls, nil, &prefs)

		n, err := s.createAlert(ctx, bill, user, domain.AlertTypeStageTransition, title, message, pr.Priority)
		if err != nil {
			s.log.Error().Err(err).Int64("bill_id", bill.ID).Int64("user_id", user.ID).Msg("detect: stage alert failed")
			continue
		}
		created += n
	}
	return created
}

// createAlert runs dedup and persistence inside the per-(user,bill) scope so
// two concurrent pipelines cannot both pass the duplicate check.
func (s *Service) createAlert(ctx context.Context, bill domain.Bill, user domain.User, alertType domain.AlertType, title, message string, level domain.AlertPriority) (int, error) {
	created := 0
	err := s.deps.Alerts.WithAlertScope(ctx, user.ID, bill.ID, func(ctx context.Context) error {
		verdict, err := s.deps.Dedup.Analyze(ctx, dedup.Candidate{
			UserID:   user.ID,
			BillID:   bill.ID,
			Type:     alertType,
			Title:    title,
			Message:  message,
			Priority: level,
		})
		if err != nil {
			s.log.Warn().Err(err).Int64("user_id", user.ID).Int64("bill_id", bill.ID).Msg("detect: dedup lookup failed, sending anyway")
		}
		if !verdict.ShouldSend {
			metrics.AlertsSuppressed.Inc()
			s.log.Info().
				Int64("user_id", user.ID).
				Int64("bill_id", bill.ID).
				Str("reason", verdict.Reasoning).
				Msg("detect: alert suppressed")
			return nil
		}

		alert := domain.Alert{
			BillID:       bill.ID,
			UserID:       user.ID,
			Type:         alertType,
			Priority:     level,
			Title:        title,
			Message:      message,
			DedupHash:    verdict.DedupHash,
			SimilarCount: len(verdict.SimilarIDs) + 1,
			CreatedAt:    s.now(),
		}
		stored, err := s.deps.Alerts.CreateAlert(ctx, alert)
		if err != nil {
			return fmt.Errorf("store alert: %w", err)
		}
		metrics.AlertsCreated.WithLabelValues(string(level)).Inc()
		created++

		if len(verdict.SimilarIDs) > 0 {
			if err := s.deps.Dedup.RecordGrouping(ctx, stored.ID, verdict.SimilarIDs); err != nil {
				s.log.Warn().Err(err).Int64("alert_id", stored.ID).Msg("detect: grouping update failed")
			}
		}
		return nil
	})
	return created, err
}

func (s *Service) loadPreferences(ctx context.Context, userID int64) domain.AlertPreferences {
	prefs, ok, err := s.deps.Preferences.GetPreferences(ctx, userID)
	if err != nil {
		s.log.Warn().Err(err).Int64("user_id", userID).Msg("detect: preferences lookup failed, using defaults")
		return domain.DefaultPreferences(userID)
	}
	if !ok {
		return domain.DefaultPreferences(userID)
	}
	return prefs
}

func (s *Service) shouldAlertUser(bill domain.Bill, change domain.ChangeClassification, prefs domain.AlertPreferences) bool {
	if !prefs.MonitorTextChanges {
		return false
	}
	if bill.RelevanceScore != nil && *bill.RelevanceScore < prefs.MinRelevanceScore {
		return false
	}
	switch change.Severity {
	case domain.SeverityMinor:
		return prefs.AlertOnMinor
	case domain.SeverityModerate:
		return prefs.AlertOnModerate
	case domain.SeveritySignificant:
		return prefs.AlertOnSignificant
	case domain.SeverityCritical:
		return prefs.AlertOnCritical
	default:
		return true
	}
}

// GetSystemStats aggregates activity counters over the trailing period.
func (s *Service) GetSystemStats(ctx context.Context, days int) (domain.SystemStats, error) {
	since := s.now().AddDate(0, 0, -days)
	stats := domain.SystemStats{Days: days}

	var err error
	if stats.ChangesTotal, err = s.deps.Changes.CountChanges(ctx, since); err != nil {
		return stats, fmt.Errorf("count changes: %w", err)
	}
	if stats.ChangesBySeverity, err = s.deps.Changes.CountChangesBySeverity(ctx, since); err != nil {
		return stats, fmt.Errorf("count changes by severity: %w", err)
	}
	if stats.StageTransitions, err = s.deps.Transitions.CountTransitions(ctx, since); err != nil {
		return stats, fmt.Errorf("count transitions: %w", err)
	}
	total, sent, _, err := s.deps.Alerts.CountAlerts(ctx, 0, since)
	if err != nil {
		return stats, fmt.Errorf("count alerts: %w", err)
	}
	stats.AlertsTotal = total
	stats.AlertsSent = sent
	if total > 0 {
		stats.SuppressionRate = float64(total-sent) / float64(total) * 100
	}
	if stats.AlertsByPriority, err = s.deps.Alerts.CountAlertsByPriority(ctx, since); err != nil {
		return stats, fmt.Errorf("count alerts by priority: %w", err)
	}
	return stats, nil
}

func changeAlertTitle(bill domain.Bill, severity domain.ChangeSeverity) string {
	label := "Change"
	switch severity {
	case domain.SeverityCritical:
		label = "Critical Change"
	case domain.SeveritySignificant:
		label = "Significant Change"
	case domain.SeverityMinor:
		label = "Minor Change"
	}
	title := bill.Title
	if title == "" {
		title = "Unknown Title"
	}
	if len(title) > 60 {
		title = title[:60]
	}
	return fmt.Sprintf("%s: %s - %s", label, bill.BillNumber, title)
}

func changeAlertMessage(bill domain.Bill, change domain.ChangeClassification, d domain.DiffResult) string {
	parts := []string{
		fmt.Sprintf("Bill %s has been updated.", bill.BillNumber),
		fmt.Sprintf("Change Summary: %s", change.DiffSummary),
	}
	if len(d.SignificantChanges) > 0 {
		key := d.SignificantChanges
		if len(key) > 3 {
			key = key[:3]
		}
		parts = append(parts, fmt.Sprintf("Key Changes: %s", strings.Join(key, "; ")))
	}
	if change.Reasoning != "" {
		parts = append(parts, fmt.Sprintf("Impact: %s", change.Reasoning))
	}
	return strings.Join(parts, " ")
}

func stageAlertTitle(bill domain.Bill, transition domain.StageTransition) string {
	return fmt.Sprintf("Stage Update: %s - %s", bill.BillNumber, stageDisplay(transition.ToStage))
}

func stageAlertMessage(bill domain.Bill, transition domain.StageTransition) string {
	parts := []string{
		fmt.Sprintf("Bill %s has moved from %s to %s.", bill.BillNumber, stageDisplay(transition.FromStage), stageDisplay(transition.ToStage)),
	}
	if transition.VoteDetails != "" {
		parts = append(parts, fmt.Sprintf("Vote: %s", transition.VoteDetails))
	}
	if transition.CommitteeName != "" {
		parts = append(parts, fmt.Sprintf("Committee: %s", transition.CommitteeName))
	}
	if transition.PassageLikelihood > 0 {
		parts = append(parts, fmt.Sprintf("Passage Likelihood: %d%%", int(transition.PassageLikelihood*100)))
	}
	if transition.Notes != "" {
		parts = append(parts, fmt.Sprintf("Notes: %s", transition.Notes))
	}
	return strings.Join(parts, " ")
}

func stageDisplay(s domain.BillStage) string {
	if s == domain.StageUnknown {
		return "Unknown"
	}
	words := strings.Split(string(s), "_")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}
