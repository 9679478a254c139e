package model

// WorkItemState represents the lifecycle state of a WorkItem.
type WorkItemState string

const (
	WorkItemPending   WorkItemState = "PENDING"
	WorkItemLeased    WorkItemState = "LEASED"
	WorkItemCompleted WorkItemState = "COMPLETED"
	WorkItemFailed    WorkItemState = "FAILED"
	WorkItemExpired   WorkItemState = "EXPIRED"
)

// AllWorkItemStates lists every work item state in lifecycle order.
var AllWorkItemStates = []WorkItemState{
	WorkItemPending, WorkItemLeased, WorkItemCompleted, WorkItemFailed, WorkItemExpired,
}

// String returns the string representation of the work item state.
func (s WorkItemState) String() string {
	return string(s)
}

// IsTerminal returns true if the work item will never be leased again.
// EXPIRED is not terminal: an expired item may be reclaimed when its module
// becomes eligible again.
func (s WorkItemState) IsTerminal() bool {
	switch s {
	case WorkItemCompleted, WorkItemFailed:
		return true
	}
	return false
}

// IsActive returns true for states that occupy a data slice.
func (s WorkItemState) IsActive() bool {
	return s == WorkItemPending || s == WorkItemLeased
}

// ValidWorkItemTransitions defines the allowed state transitions for WorkItems.
var ValidWorkItemTransitions = map[WorkItemState][]WorkItemState{
	WorkItemPending: {WorkItemLeased, WorkItemExpired},
	WorkItemLeased:  {WorkItemCompleted, WorkItemFailed, WorkItemPending, WorkItemExpired},
	WorkItemExpired: {WorkItemLeased},
}

// CanTransitionTo returns true if moving from the current state to next is valid.
func (s WorkItemState) CanTransitionTo(next WorkItemState) bool {
	for _, allowed := range ValidWorkItemTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ResultStatus represents the validation status of a Result.
type ResultStatus string

const (
	ResultCandidate  ResultStatus = "CANDIDATE"
	ResultValidated  ResultStatus = "VALIDATED"
	ResultRejected   ResultStatus = "REJECTED"
	ResultSuperseded ResultStatus = "SUPERSEDED"
)

// AllResultStatuses lists every result status.
var AllResultStatuses = []ResultStatus{
	ResultCandidate, ResultValidated, ResultRejected, ResultSuperseded,
}

// String returns the string representation of the result status.
func (s ResultStatus) String() string {
	return string(s)
}

// IsTerminal returns true if no further validation work is required.
func (s ResultStatus) IsTerminal() bool {
	return s != ResultCandidate
}

// ValidResultTransitions defines the allowed status transitions for Results.
// Status is monotone: nothing ever returns to CANDIDATE.
var ValidResultTransitions = map[ResultStatus][]ResultStatus{
	ResultCandidate: {ResultValidated, ResultRejected, ResultSuperseded},
	ResultValidated: {ResultSuperseded},
}

// CanTransitionTo returns true if moving from the current status to next is valid.
func (s ResultStatus) CanTransitionTo(next ResultStatus) bool {
	for _, allowed := range ValidResultTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
