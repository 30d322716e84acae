// Package execution runs one ingestion job: it hands the job to the workflow
// engine when one is reachable and otherwise lands the file into bronze
// inline.
package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/animus-labs/pipeline-orchestrator/internal/domain"
	"github.com/animus-labs/pipeline-orchestrator/internal/engine"
)

// State is a step of the delegation state machine.
type State string

const (
	StateNotStarted    State = "NOT_STARTED"
	StateDelegating    State = "DELEGATING"
	StateDelegated     State = "DELEGATED"
	StateInlineRunning State = "INLINE_RUNNING"
	StateSucceeded     State = "SUCCEEDED"
	StateFailed        State = "FAILED"
)

// Job is everything one execution of a source or ingest job needs.
type Job struct {
	WorkflowID        string
	JobID             string
	RunID             string
	Name              string
	Team              string
	Environment       domain.Environment
	TargetTable       string
	FileFormat        string
	LandingKey        string
	HasHeader         bool
	Delimiter         string
	PrimaryKeys       []string
	ColumnMappings    []domain.ColumnMapping
	SourceConfig      domain.SourceConfig
	DestinationConfig domain.DestinationConfig
}

// Result describes how a job ended. Delegated results carry only the flow
// run; inline results carry the landed output.
type Result struct {
	Trace     []State
	Delegated bool
	FlowRunID string
	Output
}

// State returns the last state reached.
func (r Result) State() State {
	if len(r.Trace) == 0 {
		return StateNotStarted
	}
	return r.Trace[len(r.Trace)-1]
}

// Output is what the inline path produced.
type Output struct {
	RowCount  int64
	OutputKey string
	Schema    domain.Schema
	Checksum  string
	Mock      bool
}

// Runner executes a job inline.
type Runner interface {
	Run(ctx context.Context, job Job) (Output, error)
}

// Delegate decides between the workflow engine and the inline runner.
type Delegate struct {
	engine engine.Engine
	routes engine.Routes
	inline Runner
	logger *slog.Logger
}

// NewDelegate returns nil without an inline runner. A nil engine sends every
// job inline.
func NewDelegate(eng engine.Engine, routes engine.Routes, inline Runner, logger *slog.Logger) *Delegate {
	if inline == nil {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Delegate{engine: eng, routes: routes, inline: inline, logger: logger}
}

// Execute runs the job. The returned Result always carries the trace, also
// when err is non-nil.
func (d *Delegate) Execute(ctx context.Context, job Job) (Result, error) {
	res := Result{Trace: []State{StateNotStarted}}
	if d == nil || d.inline == nil {
		res.Trace = append(res.Trace, StateFailed)
		return res, errors.New("execution delegate not initialized")
	}
	if strings.TrimSpace(job.RunID) == "" {
		res.Trace = append(res.Trace, StateFailed)
		return res, errors.New("run id is required")
	}

	res.Trace = append(res.Trace, StateDelegating)
	flowRun, err := d.delegate(ctx, job)
	switch {
	case err == nil:
		res.Trace = append(res.Trace, StateDelegated)
		res.Delegated = true
		res.FlowRunID = flowRun.ID
		d.logger.Info("job delegated", "job_id", job.JobID, "run_id", job.RunID, "flow_run_id", flowRun.ID)
		return res, nil
	case errors.Is(err, engine.ErrUnavailable):
		d.logger.Info("workflow engine unavailable, running inline", "job_id", job.JobID, "run_id", job.RunID, "reason", err.Error())
	default:
		res.Trace = append(res.Trace, StateFailed)
		return res, err
	}

	res.Trace = append(res.Trace, StateInlineRunning)
	out, err := d.inline.Run(ctx, job)
	if err != nil {
		res.Trace = append(res.Trace, StateFailed)
		return res, err
	}
	res.Output = out
	res.Trace = append(res.Trace, StateSucceeded)
	return res, nil
}

func (d *Delegate) delegate(ctx context.Context, job Job) (engine.FlowRun, error) {
	if d.engine == nil {
		return engine.FlowRun{}, fmt.Errorf("%w: no engine configured", engine.ErrUnavailable)
	}
	name := d.routes.Deployment(job.Environment, job.Team)
	deployment, err := d.engine.FindDeployment(ctx, name)
	if err != nil {
		return engine.FlowRun{}, err
	}
	return d.engine.CreateFlowRun(ctx, deployment.ID, engine.FlowRunRequest{
		Name:       engine.FlowRunName(job.Name, job.RunID),
		Parameters: Parameters(job),
	})
}

// DispatchDataset hands a dataset job to the dataset deployment. Dataset jobs
// have no inline path; errors are returned to the caller as is.
func (d *Delegate) DispatchDataset(ctx context.Context, params engine.DatasetParameters) (engine.FlowRun, error) {
	if d == nil {
		return engine.FlowRun{}, errors.New("execution delegate not initialized")
	}
	if d.engine == nil {
		return engine.FlowRun{}, fmt.Errorf("%w: no engine configured", engine.ErrUnavailable)
	}
	name := d.routes.DatasetDeployment()
	deployment, err := d.engine.FindDeployment(ctx, name)
	if err != nil {
		return engine.FlowRun{}, err
	}
	run, err := d.engine.CreateFlowRun(ctx, deployment.ID, engine.FlowRunRequest{
		Name:    engine.DatasetFlowRunName(params.JobName, params.ExecutionID),
		Dataset: &params,
	})
	if err != nil {
		return engine.FlowRun{}, err
	}
	d.logger.Info("dataset job delegated", "job_id", params.JobID, "execution_id", params.ExecutionID, "flow_run_id", run.ID)
	return run, nil
}

// Parameters builds the parameter bag handed to the ingestion flow.
func Parameters(job Job) engine.Parameters {
	mappings := job.ColumnMappings
	if mappings == nil {
		mappings = []domain.ColumnMapping{}
	}
	keys := job.PrimaryKeys
	if keys == nil {
		keys = []string{}
	}
	return engine.Parameters{
		WorkflowID:        job.WorkflowID,
		JobID:             job.JobID,
		RunID:             job.RunID,
		LandingKey:        job.LandingKey,
		ColumnMappings:    mappings,
		HasHeader:         job.HasHeader,
		Delimiter:         job.Delimiter,
		PrimaryKeys:       keys,
		SourceConfig:      job.SourceConfig,
		DestinationConfig: job.DestinationConfig,
		Environment:       job.Environment,
		TargetTable:       job.TargetTable,
		FileFormat:        job.FileFormat,
	}
}
