package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/animus-labs/pipeline-orchestrator/internal/domain"
	"github.com/animus-labs/pipeline-orchestrator/internal/engine"
)

var (
	ErrNoInputDatasets = errors.New("dataset job has no input datasets configured")
	ErrNoOutputTable   = errors.New("dataset job has no output table name configured")
)

const sourceStatusRunning = "running"

// DatasetDispatcher hands dataset jobs to the workflow engine.
type DatasetDispatcher interface {
	DispatchDataset(ctx context.Context, params engine.DatasetParameters) (engine.FlowRun, error)
}

type DatasetRunResult struct {
	ExecutionID       string
	SourceExecutionID string
	JobID             string
	JobName           string
	TargetLayer       domain.Layer
	InputDatasets     []string
	OutputTable       string
	Status            domain.ExecutionStatus
	// FlowRun is nil when the engine did not take the run; Warning says why.
	FlowRun *engine.FlowRun
	Warning string
}

// RunDatasetJob sends a Silver or Gold dataset job to the engine and records
// an execution with one source execution for it. Dataset jobs never run
// inline: when the engine does not take the run, the execution is recorded
// as failed and the reason is returned in Warning.
func (s *Service) RunDatasetJob(ctx context.Context, pipelineID, jobID string) (DatasetRunResult, error) {
	if s == nil {
		return DatasetRunResult{}, errors.New("orchestrator not initialized")
	}
	pipelineID = strings.TrimSpace(pipelineID)
	jobID = strings.TrimSpace(jobID)
	pipeline, err := s.pipelines.GetPipeline(ctx, pipelineID)
	if err != nil {
		return DatasetRunResult{}, fmt.Errorf("get pipeline %s: %w", pipelineID, err)
	}
	job, err := s.pipelines.GetDatasetJob(ctx, pipeline.ID, jobID)
	if err != nil {
		return DatasetRunResult{}, fmt.Errorf("get dataset job %s: %w", jobID, err)
	}
	if len(job.InputDatasets) == 0 {
		return DatasetRunResult{}, ErrNoInputDatasets
	}
	output := job.OutputTable()
	if output == "" {
		return DatasetRunResult{}, ErrNoOutputTable
	}

	started := s.now().UTC()
	res := DatasetRunResult{
		ExecutionID:       s.newID(),
		SourceExecutionID: s.newID(),
		JobID:             job.ID,
		JobName:           job.Name,
		TargetLayer:       job.TargetLayer,
		InputDatasets:     job.InputDatasets,
		OutputTable:       output,
		Status:            domain.ExecutionStatusRunning,
	}

	if s.datasets == nil {
		res.Warning = "no workflow engine configured"
	} else {
		run, err := s.datasets.DispatchDataset(ctx, engine.DatasetParameters{
			JobID:           job.ID,
			JobName:         job.Name,
			SourceID:        job.ID,
			TargetLayer:     job.TargetLayer,
			InputDatasets:   job.InputDatasets,
			TransformSQL:    job.TransformSQL,
			OutputTableName: output,
			ExecutionID:     res.ExecutionID,
			Environment:     pipeline.Environment,
			LayerConfig:     job.DestinationConfig.LayerConfig(job.TargetLayer),
		})
		if err != nil {
			res.Warning = err.Error()
			s.logger.Warn("dataset job not delegated", "job_id", job.ID, "execution_id", res.ExecutionID, "error", err)
		} else {
			res.FlowRun = &run
		}
	}

	if err := s.pipelines.SetSourceStatus(ctx, job.ID, sourceStatusRunning, started); err != nil {
		return res, fmt.Errorf("set dataset job status: %w", err)
	}
	exec := domain.Execution{ID: res.ExecutionID, PipelineID: pipeline.ID, Status: domain.ExecutionStatusRunning, StartedAt: started}
	if err := s.executions.CreateExecution(ctx, exec); err != nil {
		return DatasetRunResult{}, fmt.Errorf("create execution: %w", err)
	}
	se := domain.SourceExecution{
		ID:          res.SourceExecutionID,
		ExecutionID: exec.ID,
		SourceID:    job.ID,
		Status:      domain.SourceExecutionRunning,
		StartedAt:   started,
	}
	if err := s.executions.CreateSourceExecution(ctx, se); err != nil {
		res.Status = domain.ExecutionStatusFailed
		s.finishExecution(persistCtx(ctx), pipeline.ID, exec, res.Status)
		return res, fmt.Errorf("create source execution: %w", err)
	}

	if res.FlowRun != nil {
		se.FlowRunID = res.FlowRun.ID
		se.Logs = []string{fmt.Sprintf("delegated dataset job to %s as flow run %s", output, res.FlowRun.ID)}
	} else {
		now := s.now().UTC()
		se.Status = domain.SourceExecutionFailed
		se.CompletedAt = &now
		se.DurationMS = elapsedMS(started, now)
		se.ErrorMessage = res.Warning
		se.Logs = []string{"not delegated: " + res.Warning}
		res.Status = domain.ExecutionStatusFailed
	}
	if err := s.executions.UpdateSourceExecution(persistCtx(ctx), se); err != nil {
		s.logger.Error("source execution update failed", "source_execution_id", se.ID, "error", err)
	}
	if res.Status == domain.ExecutionStatusFailed {
		s.finishExecution(persistCtx(ctx), pipeline.ID, exec, res.Status)
	}

	s.logger.Info("dataset job started", "pipeline_id", pipeline.ID, "job_id", job.ID, "execution_id", exec.ID,
		"target_layer", job.TargetLayer, "output_table", output, "delegated", res.FlowRun != nil)
	s.record(ctx, "dataset_job_run.started", "execution", exec.ID, map[string]any{
		"pipeline_id":  pipeline.ID,
		"job_id":       job.ID,
		"target_layer": string(job.TargetLayer),
		"output_table": output,
		"delegated":    res.FlowRun != nil,
	})
	return res, nil
}
