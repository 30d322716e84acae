package domain

import "strings"

// ExecutionStatus is the state of one orchestrator invocation of a pipeline.
type ExecutionStatus string

const (
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// SourceExecutionStatus is the state of one source within an execution.
// Delegated sources stay running until a status sync observes the engine.
type SourceExecutionStatus string

const (
	SourceExecutionPending   SourceExecutionStatus = "pending"
	SourceExecutionRunning   SourceExecutionStatus = "running"
	SourceExecutionCompleted SourceExecutionStatus = "completed"
	SourceExecutionFailed    SourceExecutionStatus = "failed"
	SourceExecutionCancelled SourceExecutionStatus = "cancelled"
)

// IngestRunStatus is the state of a layer-centric ingest run.
type IngestRunStatus string

const (
	IngestRunPending   IngestRunStatus = "pending"
	IngestRunRunning   IngestRunStatus = "running"
	IngestRunSucceeded IngestRunStatus = "succeeded"
	IngestRunFailed    IngestRunStatus = "failed"
)

// IsActive reports whether the run blocks another run of the same job.
func (s IngestRunStatus) IsActive() bool {
	return s == IngestRunPending || s == IngestRunRunning
}

// NormalizeIngestRunState maps free-form status values to canonical states.
func NormalizeIngestRunState(value string) IngestRunStatus {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case string(IngestRunPending), "queued", "scheduled":
		return IngestRunPending
	case string(IngestRunRunning):
		return IngestRunRunning
	case string(IngestRunSucceeded), "completed":
		return IngestRunSucceeded
	case string(IngestRunFailed), "crashed", "cancelled":
		return IngestRunFailed
	default:
		return ""
	}
}

// CanTransitionIngestRunState enforces forward-only state progression.
func CanTransitionIngestRunState(current, next IngestRunStatus) bool {
	if current == "" || next == "" {
		return false
	}
	if current == next {
		return true
	}
	return ingestRunStateOrder(current) < ingestRunStateOrder(next)
}

func ingestRunStateOrder(state IngestRunStatus) int {
	switch state {
	case IngestRunPending:
		return 1
	case IngestRunRunning:
		return 2
	case IngestRunSucceeded, IngestRunFailed:
		return 3
	default:
		return 0
	}
}

// IsTerminal reports whether the source execution will not change again.
func (s SourceExecutionStatus) IsTerminal() bool {
	switch s {
	case SourceExecutionCompleted, SourceExecutionFailed, SourceExecutionCancelled:
		return true
	default:
		return false
	}
}

// AggregateExecutionStatus folds source statuses into the execution status:
// failed if any failed, completed if all completed, otherwise running.
func AggregateExecutionStatus(statuses []SourceExecutionStatus) ExecutionStatus {
	if len(statuses) == 0 {
		return ExecutionStatusRunning
	}
	allCompleted := true
	for _, s := range statuses {
		switch s {
		case SourceExecutionFailed, SourceExecutionCancelled:
			return ExecutionStatusFailed
		case SourceExecutionCompleted:
		default:
			allCompleted = false
		}
	}
	if allCompleted {
		return ExecutionStatusCompleted
	}
	return ExecutionStatusRunning
}
