// Package engine describes the external workflow engine that ingestion runs
// are delegated to.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/animus-labs/pipeline-orchestrator/internal/domain"
)

var (
	// ErrUnavailable means the engine could not take the run. Callers fall
	// back to inline execution.
	ErrUnavailable = errors.New("workflow engine unavailable")
	// ErrRejected means the engine answered and refused the run.
	ErrRejected = errors.New("workflow engine rejected flow run")
)

type Deployment struct {
	ID   string
	Name string
}

type FlowRun struct {
	ID    string
	Name  string
	State RunState
}

// Parameters is the parameter bag handed to the ingestion flow.
type Parameters struct {
	WorkflowID        string                   `json:"workflow_id"`
	JobID             string                   `json:"job_id"`
	RunID             string                   `json:"run_id"`
	LandingKey        string                   `json:"landing_key"`
	ColumnMappings    []domain.ColumnMapping   `json:"column_mappings"`
	HasHeader         bool                     `json:"has_header"`
	Delimiter         string                   `json:"delimiter,omitempty"`
	PrimaryKeys       []string                 `json:"primary_keys"`
	SourceConfig      domain.SourceConfig      `json:"source_config"`
	DestinationConfig domain.DestinationConfig `json:"destination_config"`
	Environment       domain.Environment       `json:"environment"`
	TargetTable       string                   `json:"target_table"`
	FileFormat        string                   `json:"file_format"`
}

// DatasetParameters is the parameter bag handed to the dataset-job flow,
// which builds a Silver or Gold table from catalogued inputs.
type DatasetParameters struct {
	JobID           string             `json:"job_id"`
	JobName         string             `json:"job_name"`
	SourceID        string             `json:"source_id"`
	TargetLayer     domain.Layer       `json:"target_layer"`
	InputDatasets   []string           `json:"input_datasets"`
	TransformSQL    string             `json:"transform_sql"`
	OutputTableName string             `json:"output_table_name"`
	ExecutionID     string             `json:"execution_id"`
	Environment     domain.Environment `json:"environment"`
	LayerConfig     json.RawMessage    `json:"layer_config"`
}

// FlowRunRequest carries either ingestion Parameters or, when Dataset is
// set, dataset-job parameters.
type FlowRunRequest struct {
	Name       string
	Parameters Parameters
	Dataset    *DatasetParameters
}

// Payload returns the parameter bag sent to the engine.
func (r FlowRunRequest) Payload() any {
	if r.Dataset != nil {
		return r.Dataset
	}
	return r.Parameters
}

// RunKey identifies the run the request belongs to.
func (r FlowRunRequest) RunKey() string {
	if r.Dataset != nil {
		return r.Dataset.ExecutionID
	}
	return r.Parameters.RunID
}

// Engine is implemented by the Prefect and Temporal backends.
type Engine interface {
	FindDeployment(ctx context.Context, name string) (Deployment, error)
	CreateFlowRun(ctx context.Context, deploymentID string, req FlowRunRequest) (FlowRun, error)
	FlowRunState(ctx context.Context, id string) (RunState, error)
}

// FlowRunName returns ingest-{jobName}-{first 8 chars of runID}.
func FlowRunName(jobName, runID string) string {
	return fmt.Sprintf("ingest-%s-%s", strings.TrimSpace(jobName), prefix(runID, 8))
}

// DatasetFlowRunName returns dataset-{jobName}-{first 8 chars of executionID}.
func DatasetFlowRunName(jobName, executionID string) string {
	return fmt.Sprintf("dataset-%s-%s", strings.TrimSpace(jobName), prefix(executionID, 8))
}

func prefix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// RunState is an engine state type, upper-cased.
type RunState string

const (
	StateScheduled RunState = "SCHEDULED"
	StatePending   RunState = "PENDING"
	StateRunning   RunState = "RUNNING"
	StateCompleted RunState = "COMPLETED"
	StateFailed    RunState = "FAILED"
	StateCrashed   RunState = "CRASHED"
	StateCancelled RunState = "CANCELLED"
	StateUnknown   RunState = "UNKNOWN"
)

func ParseRunState(value string) RunState {
	switch v := RunState(strings.ToUpper(strings.TrimSpace(value))); v {
	case StateScheduled, StatePending, StateRunning, StateCompleted, StateFailed, StateCrashed, StateCancelled:
		return v
	case "CANCELLING", "PAUSED":
		return StateRunning
	case "CANCELED":
		return StateCancelled
	default:
		return StateUnknown
	}
}

func (s RunState) IsTerminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCrashed, StateCancelled:
		return true
	default:
		return false
	}
}

// SourceExecutionStatus maps an engine state onto the source execution
// lifecycle.
func (s RunState) SourceExecutionStatus() domain.SourceExecutionStatus {
	switch s {
	case StateCompleted:
		return domain.SourceExecutionCompleted
	case StateFailed, StateCrashed:
		return domain.SourceExecutionFailed
	case StateCancelled:
		return domain.SourceExecutionCancelled
	default:
		return domain.SourceExecutionRunning
	}
}

// IngestRunStatus maps an engine state onto the ingest run lifecycle.
func (s RunState) IngestRunStatus() domain.IngestRunStatus {
	switch s {
	case StateCompleted:
		return domain.IngestRunSucceeded
	case StateFailed, StateCrashed, StateCancelled:
		return domain.IngestRunFailed
	case StateScheduled, StatePending:
		return domain.IngestRunPending
	default:
		return domain.IngestRunRunning
	}
}
