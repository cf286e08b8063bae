package domain

import "time"

// Bill is a tracked piece of legislation or a regulatory rule.
type Bill struct {
	ID             int64
	BillNumber     string
	Title          string
	Summary        string
	FullText       string
	Status         string
	Sponsor        string
	Committee      string
	Source         string
	RelevanceScore *float64
	IsActive       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// User is a subscriber who receives bill alerts.
type User struct {
	ID        int64
	Email     string
	IsActive  bool
	CreatedAt time.Time
}

// BillSnapshot captures the text and status state of a bill at one poll.
type BillSnapshot struct {
	BillID     int64     `json:"bill_id"`
	CapturedAt time.Time `json:"captured_at"`
	Title      string    `json:"title"`
	Summary    string    `json:"summary"`
	FullText   string    `json:"full_text"`
	Status     string    `json:"status"`
	Sponsor    string    `json:"sponsor"`
	Committee  string    `json:"committee"`
	Checksum   string    `json:"checksum"`
}

// DiffResult is the transient output of comparing two snapshots.
type DiffResult struct {
	HasChanges         bool
	SimilarityRatio    float64
	ChangePercentage   float64
	WordCountDelta     int
	LineCountDelta     int
	UnifiedDiff        string
	Summary            string
	SectionsChanged    []string
	SignificantChanges []string
	MinorChanges       []string
}

// FieldChangeType describes how a single field changed.
type FieldChangeType string

const (
	FieldChangeNone         FieldChangeType = "none"
	FieldChangeAddition     FieldChangeType = "addition"
	FieldChangeRemoval      FieldChangeType = "removal"
	FieldChangeModification FieldChangeType = "modification"
)

// FieldDiff is the comparison result for one named snapshot field.
type FieldDiff struct {
	Field      string
	Changed    bool
	ChangeType FieldChangeType
	OldValue   string
	NewValue   string
	Similarity float64
	Diff       string
}

// ChangeClassification is the persisted severity verdict for a text change.
type ChangeClassification struct {
	ID                    int64
	BillID                int64
	Severity              ChangeSeverity
	ChangeType            ChangeType
	Confidence            float64
	Reasoning             string
	KeyChanges            []string
	ImpactAreas           []string
	ReimbursementImpact   bool
	RegulatoryImpact      bool
	ImplementationUrgency ImplementationUrgency
	DiffSummary           string
	DiffDetails           string
	WordCountDelta        int
	DetectedAt            time.Time
}

// StageTransitionResult is the verdict of stage transition detection.
type StageTransitionResult struct {
	HasTransition     bool
	FromStage         BillStage
	ToStage           BillStage
	Confidence        float64
	PassageLikelihood float64
	CommitteeName     string
	VoteDetails       string
	Notes             string
}

// StageTransition is the persisted record of a detected transition.
type StageTransition struct {
	ID                int64
	BillID            int64
	FromStage         BillStage
	ToStage           BillStage
	TransitionDate    time.Time
	CommitteeName     string
	VoteDetails       string
	Notes             string
	PassageLikelihood float64
	EstimatedTimeline string
	NextExpectedStage BillStage
}

// AlertType distinguishes what kind of event an alert reports.
type AlertType string

const (
	AlertTypeChange          AlertType = "change"
	AlertTypeStageTransition AlertType = "stage_transition"
)

// Alert is a notification candidate or record for one user and bill.
type Alert struct {
	ID           int64
	BillID       int64
	UserID       int64
	Type         AlertType
	Priority     AlertPriority
	Title        string
	Message      string
	DedupHash    string
	SimilarCount int
	IsSent       bool
	IsRead       bool
	IsDismissed  bool
	CreatedAt    time.Time
	SentAt       *time.Time
	ReadAt       *time.Time
}

// AlertPreferences is per-user alert gating config, owned by the external
// user-management collaborator and read-only here.
type AlertPreferences struct {
	UserID                  int64
	MinPriority             AlertPriority
	MinRelevanceScore       float64
	MonitorTextChanges      bool
	MonitorStageTransitions bool
	AlertOnMinor            bool
	AlertOnModerate         bool
	AlertOnSignificant      bool
	AlertOnCritical         bool
	ImportantKeywords       []string
	ExcludedKeywords        []string
	QuietHoursStart         string
	QuietHoursEnd           string
	Timezone                string
}

// DefaultPreferences returns the gating applied to users without a stored row.
func DefaultPreferences(userID int64) AlertPreferences {
	return AlertPreferences{
		UserID:                  userID,
		MinPriority:             PriorityMedium,
		MinRelevanceScore:       40,
		MonitorTextChanges:      true,
		MonitorStageTransitions: true,
		AlertOnMinor:            false,
		AlertOnModerate:         true,
		AlertOnSignificant:      true,
		AlertOnCritical:         true,
		Timezone:                "UTC",
	}
}

// BillCheckResult summarizes the pipeline outcome for one bill.
type BillCheckResult struct {
	BillID             int64
	HasChanges         bool
	HasStageTransition bool
	ChangeCount        int
	AlertsCreated      int
	Err                error
}

// CheckResult summarizes one full change-detection cycle.
type CheckResult struct {
	RunID            string
	BillsChecked     int
	ChangesDetected  int
	StageTransitions int
	AlertsCreated    int
	Errors           []string
	ProcessingTime   time.Duration
	SuccessRate      float64
}

// AlertStats reports deduplication counters for a user and period.
type AlertStats struct {
	TotalCreated    int
	Sent            int
	Suppressed      int
	SuppressionRate float64
	Grouped         int
	PeriodDays      int
}

// SystemStats aggregates activity counters for operators.
type SystemStats struct {
	Days              int
	ChangesTotal      int
	ChangesBySeverity map[ChangeSeverity]int
	StageTransitions  int
	AlertsTotal       int
	AlertsSent        int
	AlertsByPriority  map[AlertPriority]int
	SuppressionRate   float64
}

// AlertGroup clusters similar alerts for digest composition.
type AlertGroup struct {
	RepresentativeID int64
	SimilarIDs       []int64
	CommonTheme      string
	TotalCount       int
	Priority         AlertPriority
	LastSent         *time.Time
}

// DispatchJobMode selects single-alert or digest delivery.
type DispatchJobMode string

const (
	DispatchModeSingle DispatchJobMode = "single"
	DispatchModeDigest DispatchJobMode = "digest"
)

// DispatchJob is one unit of outbound-delivery work handed to the external
// notification worker.
type DispatchJob struct {
	ID       string          `json:"job_id"`
	Mode     DispatchJobMode `json:"mode"`
	UserID   int64           `json:"user_id"`
	AlertIDs []int64         `json:"alert_ids"`
	Theme    string          `json:"theme,omitempty"`
	Queued   time.Time       `json:"queued_at"`
}
