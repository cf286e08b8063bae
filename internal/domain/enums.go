package domain

// ChangeType labels the primary kind of a detected change.
type ChangeType string

const (
	ChangeTextAmendment       ChangeType = "text_amendment"
	ChangeStatusChange        ChangeType = "status_change"
	ChangeStageTransition     ChangeType = "stage_transition"
	ChangeSponsorChange       ChangeType = "sponsor_change"
	ChangeCommitteeAssignment ChangeType = "committee_assignment"
	ChangeVotingOutcome       ChangeType = "voting_outcome"
)

// ChangeSeverity is the ordered classification of how consequential a change is.
type ChangeSeverity string

const (
	SeverityMinor       ChangeSeverity = "minor"
	SeverityModerate    ChangeSeverity = "moderate"
	SeveritySignificant ChangeSeverity = "significant"
	SeverityCritical    ChangeSeverity = "critical"
)

var severityRank = map[ChangeSeverity]int{
	SeverityMinor:       0,
	SeverityModerate:    1,
	SeveritySignificant: 2,
	SeverityCritical:    3,
}

// Severities lists all severities in ascending order.
var Severities = []ChangeSeverity{SeverityMinor, SeverityModerate, SeveritySignificant, SeverityCritical}

// Rank returns the position of s in the severity order, -1 for unknown values.
func (s ChangeSeverity) Rank() int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return -1
}

// MaxSeverity combines two severities without ever downgrading.
func MaxSeverity(a, b ChangeSeverity) ChangeSeverity {
	if a.Rank() >= b.Rank() {
		return a
	}
	return b
}

// AlertPriority is the ordered urgency attached to an alert for a user.
type AlertPriority string

const (
	PriorityLow    AlertPriority = "low"
	PriorityMedium AlertPriority = "medium"
	PriorityHigh   AlertPriority = "high"
	PriorityUrgent AlertPriority = "urgent"
)

var priorityRank = map[AlertPriority]int{
	PriorityLow:    0,
	PriorityMedium: 1,
	PriorityHigh:   2,
	PriorityUrgent: 3,
}

// Priorities lists all priorities in ascending order.
var Priorities = []AlertPriority{PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent}

// Rank returns the position of p in the priority order, -1 for unknown values.
func (p AlertPriority) Rank() int {
	if r, ok := priorityRank[p]; ok {
		return r
	}
	return -1
}

// MaxPriority combines two priorities without ever downgrading.
func MaxPriority(a, b AlertPriority) AlertPriority {
	if a.Rank() >= b.Rank() {
		return a
	}
	return b
}

// ImplementationUrgency buckets how quickly operators must react to a change.
type ImplementationUrgency string

const (
	UrgencyImmediate ImplementationUrgency = "immediate"
	UrgencyShortTerm ImplementationUrgency = "short_term"
	UrgencyLongTerm  ImplementationUrgency = "long_term"
)

// BillStage is a discrete step in a bill's legislative lifecycle.
type BillStage string

const (
	StageUnknown               BillStage = ""
	StageIntroduced            BillStage = "introduced"
	StageCommitteeReview       BillStage = "committee_review"
	StageCommitteeMarkup       BillStage = "committee_markup"
	StageCommitteeReported     BillStage = "committee_reported"
	StageFloorConsideration    BillStage = "floor_consideration"
	StagePassedChamber         BillStage = "passed_chamber"
	StageSentToOtherChamber    BillStage = "sent_to_other_chamber"
	StageOtherChamberCommittee BillStage = "other_chamber_committee"
	StageOtherChamberFloor     BillStage = "other_chamber_floor"
	StagePassedBothChambers    BillStage = "passed_both_chambers"
	StageSentToPresident       BillStage = "sent_to_president"
	StageSignedIntoLaw         BillStage = "signed_into_law"
	StageVetoed                BillStage = "vetoed"
	StageWithdrawn             BillStage = "withdrawn"
	StageDied                  BillStage = "died"
)

// StageOrder is the canonical forward progression, terminal sinks excluded.
var StageOrder = []BillStage{
	StageIntroduced,
	StageCommitteeReview,
	StageCommitteeMarkup,
	StageCommitteeReported,
	StageFloorConsideration,
	StagePassedChamber,
	StageSentToOtherChamber,
	StageOtherChamberCommittee,
	StageOtherChamberFloor,
	StagePassedBothChambers,
	StageSentToPresident,
	StageSignedIntoLaw,
}

var stageIndex = func() map[BillStage]int {
	m := make(map[BillStage]int, len(StageOrder))
	for i, s := range StageOrder {
		m[s] = i
	}
	return m
}()

// Index returns the position of s in the canonical progression, -1 for sinks
// and unknown stages.
func (s BillStage) Index() int {
	if i, ok := stageIndex[s]; ok {
		return i
	}
	return -1
}

// IsTerminal reports whether s has no outgoing transitions.
func (s BillStage) IsTerminal() bool {
	switch s {
	case StageSignedIntoLaw, StageVetoed, StageWithdrawn, StageDied:
		return true
	}
	return false
}

// NextStage returns the next expected stage in the canonical progression,
// StageUnknown when s is terminal, a sink, or unknown.
func (s BillStage) NextStage() BillStage {
	i := s.Index()
	if i < 0 || i+1 >= len(StageOrder) {
		return StageUnknown
	}
	return StageOrder[i+1]
}
