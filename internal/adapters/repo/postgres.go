// Package repo implements the persistence interfaces on PostgreSQL.
package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"billtracker/internal/domain"
	"billtracker/internal/infra/metrics"
)

// ErrBillNotFound reports a lookup for a bill that does not exist.
var ErrBillNotFound = errors.New("bill not found")

// Postgres implements the repositories on pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var (
	_ domain.BillRepo        = (*Postgres)(nil)
	_ domain.UserRepo        = (*Postgres)(nil)
	_ domain.PreferencesRepo = (*Postgres)(nil)
	_ domain.ChangeRepo      = (*Postgres)(nil)
	_ domain.TransitionRepo  = (*Postgres)(nil)
	_ domain.AlertRepo       = (*Postgres)(nil)
)

// NewPostgres creates the database adapter.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtxWithParent(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return context.WithTimeout(context.Background(), 5*time.Second)
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

// ListActive implements domain.BillRepo.
func (p *Postgres) ListActive(ctx context.Context, limit int) ([]domain.Bill, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	query := `
SELECT id, bill_number, title, summary, full_text, status, sponsor, committee, source, relevance_score, is_active, created_at, updated_at
FROM bills
WHERE is_active
ORDER BY relevance_score DESC NULLS LAST, updated_at DESC
`
	args := []any{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}
	start := time.Now()
	rows, err := p.pool.Query(ctx, query, args...)
	metrics.ObserveNetworkRequest("postgres", "bills_list_active", "bills", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var bills []domain.Bill
	for rows.Next() {
		b, err := scanBill(rows)
		if err != nil {
			return nil, err
		}
		bills = append(bills, b)
	}
	return bills, rows.Err()
}

// GetBill implements domain.BillRepo.
func (p *Postgres) GetBill(ctx context.Context, billID int64) (domain.Bill, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	row := p.pool.QueryRow(ctx, `
SELECT id, bill_number, title, summary, full_text, status, sponsor, committee, source, relevance_score, is_active, created_at, updated_at
FROM bills WHERE id = $1
`, billID)
	b, err := scanBill(row)
	metrics.ObserveNetworkRequest("postgres", "bills_get", "bills", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Bill{}, ErrBillNotFound
	}
	if err != nil {
		return domain.Bill{}, err
	}
	return b, nil
}

func scanBill(row pgx.Row) (domain.Bill, error) {
	var b domain.Bill
	var (
		summary   sql.NullString
		fullText  sql.NullString
		sponsor   sql.NullString
		committee sql.NullString
		relevance sql.NullFloat64
	)
	if err := row.Scan(&b.ID, &b.BillNumber, &b.Title, &summary, &fullText, &b.Status, &sponsor, &committee, &b.Source, &relevance, &b.IsActive, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return domain.Bill{}, err
	}
	b.Summary = summary.String
	b.FullText = fullText.String
	b.Sponsor = sponsor.String
	b.Committee = committee.String
	if relevance.Valid {
		score := relevance.Float64
		b.RelevanceScore = &score
	}
	return b, nil
}

// ListActiveUsers implements domain.UserRepo.
func (p *Postgres) ListActiveUsers(ctx context.Context) ([]domain.User, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, email, is_active, created_at
FROM users WHERE is_active
`)
	metrics.ObserveNetworkRequest("postgres", "users_list_active", "users", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []domain.User
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.ID, &u.Email, &u.IsActive, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// GetPreferences implements domain.PreferencesRepo.
func (p *Postgres) GetPreferences(ctx context.Context, userID int64) (domain.AlertPreferences, bool, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var prefs domain.AlertPreferences
	var (
		important  []byte
		excluded   []byte
		quietStart sql.NullString
		quietEnd   sql.NullString
		timezone   sql.NullString
	)
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT user_id, min_priority, min_relevance_score, monitor_text_changes, monitor_stage_transitions,
       alert_on_minor, alert_on_moderate, alert_on_significant, alert_on_critical,
       important_keywords, excluded_keywords, quiet_hours_start, quiet_hours_end, timezone
FROM alert_preferences WHERE user_id = $1
`, userID).Scan(
		&prefs.UserID, &prefs.MinPriority, &prefs.MinRelevanceScore, &prefs.MonitorTextChanges, &prefs.MonitorStageTransitions,
		&prefs.AlertOnMinor, &prefs.AlertOnModerate, &prefs.AlertOnSignificant, &prefs.AlertOnCritical,
		&important, &excluded, &quietStart, &quietEnd, &timezone,
	)
	metrics.ObserveNetworkRequest("postgres", "preferences_get", "alert_preferences", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.AlertPreferences{}, false, nil
	}
	if err != nil {
		return domain.AlertPreferences{}, false, err
	}
	if err := unmarshalStrings(important, &prefs.ImportantKeywords); err != nil {
		return domain.AlertPreferences{}, false, fmt.Errorf("decode important keywords: %w", err)
	}
	if err := unmarshalStrings(excluded, &prefs.ExcludedKeywords); err != nil {
		return domain.AlertPreferences{}, false, fmt.Errorf("decode excluded keywords: %w", err)
	}
	prefs.QuietHoursStart = quietStart.String
	prefs.QuietHoursEnd = quietEnd.String
	if timezone.Valid {
		prefs.Timezone = timezone.String
	}
	return prefs, true, nil
}

// CreateChange implements domain.ChangeRepo.
func (p *Postgres) CreateChange(ctx context.Context, c domain.ChangeClassification) (domain.ChangeClassification, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	keyChanges, err := json.Marshal(c.KeyChanges)
	if err != nil {
		return domain.ChangeClassification{}, fmt.Errorf("encode key changes: %w", err)
	}
	impactAreas, err := json.Marshal(c.ImpactAreas)
	if err != nil {
		return domain.ChangeClassification{}, fmt.Errorf("encode impact areas: %w", err)
	}
	if c.DetectedAt.IsZero() {
		c.DetectedAt = time.Now().UTC()
	}

	start := time.Now()
	err = p.pool.QueryRow(ctx, `
INSERT INTO bill_changes (bill_id, severity, change_type, confidence, reasoning, key_changes, impact_areas,
                          reimbursement_impact, regulatory_impact, implementation_urgency,
                          diff_summary, diff_details, word_count_delta, detected_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
RETURNING id
`, c.BillID, c.Severity, c.ChangeType, c.Confidence, c.Reasoning, keyChanges, impactAreas,
		c.ReimbursementImpact, c.RegulatoryImpact, c.ImplementationUrgency,
		c.DiffSummary, c.DiffDetails, c.WordCountDelta, c.DetectedAt).Scan(&c.ID)
	metrics.ObserveNetworkRequest("postgres", "changes_insert", "bill_changes", start, err)
	if err != nil {
		return domain.ChangeClassification{}, err
	}
	return c, nil
}

// CountChanges implements domain.ChangeRepo.
func (p *Postgres) CountChanges(ctx context.Context, since time.Time) (int, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var count int
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT count(*) FROM bill_changes WHERE detected_at >= $1
`, since).Scan(&count)
	metrics.ObserveNetworkRequest("postgres", "changes_count", "bill_changes", start, err)
	return count, err
}

// CountChangesBySeverity implements domain.ChangeRepo.
func (p *Postgres) CountChangesBySeverity(ctx context.Context, since time.Time) (map[domain.ChangeSeverity]int, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT severity, count(*) FROM bill_changes WHERE detected_at >= $1 GROUP BY severity
`, since)
	metrics.ObserveNetworkRequest("postgres", "changes_count_by_severity", "bill_changes", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := make(map[domain.ChangeSeverity]int)
	for rows.Next() {
		var severity domain.ChangeSeverity
		var count int
		if err := rows.Scan(&severity, &count); err != nil {
			return nil, err
		}
		counts[severity] = count
	}
	return counts, rows.Err()
}

// PurgeMinorChanges implements domain.ChangeRepo.
func (p *Postgres) PurgeMinorChanges(ctx context.Context, before time.Time) (int64, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
DELETE FROM bill_changes WHERE severity = $1 AND detected_at < $2
`, domain.SeverityMinor, before)
	metrics.ObserveNetworkRequest("postgres", "changes_purge_minor", "bill_changes", start, err)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// CreateTransition implements domain.TransitionRepo.
func (p *Postgres) CreateTransition(ctx context.Context, t domain.StageTransition) (domain.StageTransition, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	if t.TransitionDate.IsZero() {
		t.TransitionDate = time.Now().UTC()
	}
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO stage_transitions (bill_id, from_stage, to_stage, transition_date, committee_name, vote_details,
                               notes, passage_likelihood, estimated_timeline, next_expected_stage)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING id
`, t.BillID, t.FromStage, t.ToStage, t.TransitionDate, t.CommitteeName, t.VoteDetails,
		t.Notes, t.PassageLikelihood, t.EstimatedTimeline, t.NextExpectedStage).Scan(&t.ID)
	metrics.ObserveNetworkRequest("postgres", "transitions_insert", "stage_transitions", start, err)
	if err != nil {
		return domain.StageTransition{}, err
	}
	return t, nil
}

// CountTransitions implements domain.TransitionRepo.
func (p *Postgres) CountTransitions(ctx context.Context, since time.Time) (int, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var count int
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT count(*) FROM stage_transitions WHERE transition_date >= $1
`, since).Scan(&count)
	metrics.ObserveNetworkRequest("postgres", "transitions_count", "stage_transitions", start, err)
	return count, err
}

// CreateAlert implements domain.AlertRepo.
func (p *Postgres) CreateAlert(ctx context.Context, a domain.Alert) (domain.Alert, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO alerts (bill_id, user_id, alert_type, priority, title, message, dedup_hash, similar_count,
                    is_sent, is_read, is_dismissed, created_at, sent_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
RETURNING id
`, a.BillID, a.UserID, a.Type, a.Priority, a.Title, a.Message, a.DedupHash, a.SimilarCount,
		a.IsSent, a.IsRead, a.IsDismissed, a.CreatedAt, a.SentAt).Scan(&a.ID)
	metrics.ObserveNetworkRequest("postgres", "alerts_insert", "alerts", start, err)
	if err != nil {
		return domain.Alert{}, err
	}
	return a, nil
}

// ListRecentAlerts implements domain.AlertRepo.
func (p *Postgres) ListRecentAlerts(ctx context.Context, userID, billID int64, since time.Time, limit int) ([]domain.Alert, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, bill_id, user_id, alert_type, priority, title, message, dedup_hash, similar_count,
       is_sent, is_read, is_dismissed, created_at, sent_at, read_at
FROM alerts
WHERE user_id = $1 AND bill_id = $2 AND created_at >= $3 AND NOT is_dismissed
ORDER BY created_at DESC
LIMIT $4
`, userID, billID, since, limit)
	metrics.ObserveNetworkRequest("postgres", "alerts_list_recent", "alerts", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAlerts(rows)
}

// ListUserAlerts implements domain.AlertRepo.
func (p *Postgres) ListUserAlerts(ctx context.Context, userID int64, since time.Time) ([]domain.Alert, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, bill_id, user_id, alert_type, priority, title, message, dedup_hash, similar_count,
       is_sent, is_read, is_dismissed, created_at, sent_at, read_at
FROM alerts
WHERE user_id = $1 AND created_at >= $2 AND NOT is_dismissed
ORDER BY created_at DESC
`, userID, since)
	metrics.ObserveNetworkRequest("postgres", "alerts_list_user", "alerts", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAlerts(rows)
}

// ListPendingAlerts implements domain.AlertRepo.
func (p *Postgres) ListPendingAlerts(ctx context.Context, limit int) ([]domain.Alert, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, bill_id, user_id, alert_type, priority, title, message, dedup_hash, similar_count,
       is_sent, is_read, is_dismissed, created_at, sent_at, read_at
FROM alerts
WHERE NOT is_sent AND NOT is_dismissed
ORDER BY created_at
LIMIT $1
`, limit)
	metrics.ObserveNetworkRequest("postgres", "alerts_list_pending", "alerts", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAlerts(rows)
}

func collectAlerts(rows pgx.Rows) ([]domain.Alert, error) {
	var alerts []domain.Alert
	for rows.Next() {
		var a domain.Alert
		var (
			sentAt sql.NullTime
			readAt sql.NullTime
		)
		if err := rows.Scan(&a.ID, &a.BillID, &a.UserID, &a.Type, &a.Priority, &a.Title, &a.Message, &a.DedupHash, &a.SimilarCount,
			&a.IsSent, &a.IsRead, &a.IsDismissed, &a.CreatedAt, &sentAt, &readAt); err != nil {
			return nil, err
		}
		if sentAt.Valid {
			ts := sentAt.Time
			a.SentAt = &ts
		}
		if readAt.Valid {
			ts := readAt.Time
			a.ReadAt = &ts
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// MarkSent implements domain.AlertRepo.
func (p *Postgres) MarkSent(ctx context.Context, alertID int64, at time.Time) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
UPDATE alerts SET is_sent = TRUE, sent_at = $2 WHERE id = $1
`, alertID, at)
	metrics.ObserveNetworkRequest("postgres", "alerts_mark_sent", "alerts", start, err)
	return err
}

// UpdateSimilarCount implements domain.AlertRepo.
func (p *Postgres) UpdateSimilarCount(ctx context.Context, alertID int64, count int) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
UPDATE alerts SET similar_count = $2 WHERE id = $1
`, alertID, count)
	metrics.ObserveNetworkRequest("postgres", "alerts_update_similar_count", "alerts", start, err)
	return err
}

// PurgeDismissed implements domain.AlertRepo.
func (p *Postgres) PurgeDismissed(ctx context.Context, before time.Time) (int64, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
DELETE FROM alerts WHERE is_dismissed AND created_at < $1
`, before)
	metrics.ObserveNetworkRequest("postgres", "alerts_purge_dismissed", "alerts", start, err)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// CountAlerts implements domain.AlertRepo.
func (p *Postgres) CountAlerts(ctx context.Context, userID int64, since time.Time) (total, sent, grouped int, err error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	query := `
SELECT count(*),
       count(*) FILTER (WHERE is_sent),
       count(*) FILTER (WHERE similar_count > 1)
FROM alerts WHERE created_at >= $1
`
	args := []any{since}
	if userID > 0 {
		query += " AND user_id = $2"
		args = append(args, userID)
	}
	start := time.Now()
	err = p.pool.QueryRow(ctx, query, args...).Scan(&total, &sent, &grouped)
	metrics.ObserveNetworkRequest("postgres", "alerts_count", "alerts", start, err)
	return total, sent, grouped, err
}

// CountAlertsByPriority implements domain.AlertRepo.
func (p *Postgres) CountAlertsByPriority(ctx context.Context, since time.Time) (map[domain.AlertPriority]int, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT priority, count(*) FROM alerts WHERE created_at >= $1 GROUP BY priority
`, since)
	metrics.ObserveNetworkRequest("postgres", "alerts_count_by_priority", "alerts", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := make(map[domain.AlertPriority]int)
	for rows.Next() {
		var priority domain.AlertPriority
		var count int
		if err := rows.Scan(&priority, &count); err != nil {
			return nil, err
		}
		counts[priority] = count
	}
	return counts, rows.Err()
}

// WithAlertScope implements domain.AlertRepo. The advisory lock is transaction
// scoped, so it releases on commit or rollback even if fn panics upstream.
func (p *Postgres) WithAlertScope(ctx context.Context, userID, billID int64, fn func(ctx context.Context) error) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "alerts", start, err)
	if err != nil {
		return fmt.Errorf("begin alert scope: %w", err)
	}

	start = time.Now()
	_, err = tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, fmt.Sprintf("alert:%d:%d", userID, billID))
	metrics.ObserveNetworkRequest("postgres", "alerts_scope_lock", "alerts", start, err)
	if err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("acquire alert scope: %w", err)
	}

	if err := fn(ctx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}

	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit", "alerts", start, err)
	if err != nil {
		return fmt.Errorf("commit alert scope: %w", err)
	}
	return nil
}

func unmarshalStrings(data []byte, dst *[]string) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, dst)
}
