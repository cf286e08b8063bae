package domain

import (
	"context"
	"time"
)

// SnapshotStore keeps the most recent snapshot per bill. Implementations must
// key strictly by bill so there is no cross-bill contention.
type SnapshotStore interface {
	// Get returns the previous snapshot for a bill, or ok=false when the bill
	// has never been seen.
	Get(ctx context.Context, billID int64) (BillSnapshot, bool, error)
	// Put replaces the stored snapshot for a bill.
	Put(ctx context.Context, billID int64, snap BillSnapshot) error
}

// BillRepo provides read access to tracked bills.
type BillRepo interface {
	// ListActive returns active bills ordered by relevance desc, recency desc.
	// limit <= 0 means no cap.
	ListActive(ctx context.Context, limit int) ([]Bill, error)
	GetBill(ctx context.Context, billID int64) (Bill, error)
}

// UserRepo provides read access to subscribers.
type UserRepo interface {
	ListActiveUsers(ctx context.Context) ([]User, error)
}

// PreferencesRepo provides read access to per-user alert gating.
type PreferencesRepo interface {
	// GetPreferences returns the stored preferences for a user, or ok=false
	// when the user has none and defaults apply.
	GetPreferences(ctx context.Context, userID int64) (AlertPreferences, bool, error)
}

// ChangeRepo persists change classifications.
type ChangeRepo interface {
	CreateChange(ctx context.Context, c ChangeClassification) (ChangeClassification, error)
	CountChanges(ctx context.Context, since time.Time) (int, error)
	CountChangesBySeverity(ctx context.Context, since time.Time) (map[ChangeSeverity]int, error)
	PurgeMinorChanges(ctx context.Context, before time.Time) (int64, error)
}

// TransitionRepo persists stage transitions.
type TransitionRepo interface {
	CreateTransition(ctx context.Context, t StageTransition) (StageTransition, error)
	CountTransitions(ctx context.Context, since time.Time) (int, error)
}

// AlertRepo persists alerts and serves the dedup window queries.
type AlertRepo interface {
	CreateAlert(ctx context.Context, a Alert) (Alert, error)
	// ListRecentAlerts returns non-dismissed alerts for (user, bill) created
	// at or after since, newest first, capped at limit.
	ListRecentAlerts(ctx context.Context, userID, billID int64, since time.Time, limit int) ([]Alert, error)
	// ListUserAlerts returns non-dismissed alerts for a user since the cutoff.
	ListUserAlerts(ctx context.Context, userID int64, since time.Time) ([]Alert, error)
	ListPendingAlerts(ctx context.Context, limit int) ([]Alert, error)
	MarkSent(ctx context.Context, alertID int64, at time.Time) error
	UpdateSimilarCount(ctx context.Context, alertID int64, count int) error
	PurgeDismissed(ctx context.Context, before time.Time) (int64, error)
	CountAlerts(ctx context.Context, userID int64, since time.Time) (total, sent, grouped int, err error)
	CountAlertsByPriority(ctx context.Context, since time.Time) (map[AlertPriority]int, error)
	// WithAlertScope runs fn while holding an exclusive per-(user,bill) scope,
	// so two concurrent dedup checks cannot both conclude "not a duplicate".
	WithAlertScope(ctx context.Context, userID, billID int64, fn func(ctx context.Context) error) error
}

// ClassificationRequest carries the context handed to the external
// text-classification capability.
type ClassificationRequest struct {
	BillNumber         string
	Title              string
	Summary            string
	Source             string
	Status             string
	RelevanceScore     float64
	ChangeSummary      string
	SignificantChanges []string
	SectionsChanged    []string
	ChangePercentage   float64
	OldStatus          string
	NewStatus          string
}

// ClassificationResult is the structured verdict of the external capability.
type ClassificationResult struct {
	Severity        ChangeSeverity
	Confidence      float64
	Reasoning       string
	KeyChanges      []string
	ImpactAreas     []string
	FinancialImpact bool
	TimelineImpact  ImplementationUrgency
	CommitteeName   string
	VoteDetails     string
	Notes           string
}

// ChangeClassifier is the optional external text-classification capability.
// Implementations are bounded-timeout I/O; callers treat any error as
// "capability unavailable" and fall back to rule-based output.
type ChangeClassifier interface {
	Classify(ctx context.Context, req ClassificationRequest) (ClassificationResult, error)
}

// DispatchResult reports the outcome of handing an alert to delivery.
type DispatchResult struct {
	Success bool
	Message string
}

// Dispatcher hands finished alerts to the external notification collaborator.
// Quiet hours and rendering are enforced on the delivery side.
type Dispatcher interface {
	Send(ctx context.Context, alert Alert, user User, bill Bill) (DispatchResult, error)
	SendDigest(ctx context.Context, user User, group AlertGroup) (DispatchResult, error)
}

// AlertQueueAckFunc confirms or re-queues a received dispatch job.
type AlertQueueAckFunc func(success bool) error

// AlertQueue transports dispatch jobs to the external delivery worker.
type AlertQueue interface {
	Enqueue(ctx context.Context, job DispatchJob) error
	Receive(ctx context.Context) (DispatchJob, AlertQueueAckFunc, error)
}
