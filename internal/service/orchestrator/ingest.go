package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/animus-labs/pipeline-orchestrator/internal/domain"
	"github.com/animus-labs/pipeline-orchestrator/internal/execution"
	"github.com/animus-labs/pipeline-orchestrator/internal/landing"
	"github.com/animus-labs/pipeline-orchestrator/internal/repo"
	"github.com/animus-labs/pipeline-orchestrator/internal/service/catalog"
)

// Ingest job status values stored on layer_centric_ingest_jobs.
const (
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

type IngestRunResult struct {
	RunID     string
	Status    domain.IngestRunStatus
	FlowRunID string
	Delegated bool
	Mock      bool
	RowCount  int64
	OutputKey string
	Schema    domain.Schema
	Error     string
}

// RunIngestJob runs one layer-centric ingest job. At most one run per job may
// be active; a second request fails with repo.ErrConflict and leaves no row
// behind. Failures are written to the run and the job before being returned.
func (s *Service) RunIngestJob(ctx context.Context, pipelineID, jobID string) (IngestRunResult, error) {
	if s == nil {
		return IngestRunResult{}, errors.New("orchestrator not initialized")
	}
	if !s.cfg.LayerCentricEnabled {
		return IngestRunResult{}, ErrFeatureDisabled
	}
	pipeline, err := s.pipelines.GetPipeline(ctx, strings.TrimSpace(pipelineID))
	if err != nil {
		return IngestRunResult{}, fmt.Errorf("get pipeline %s: %w", pipelineID, err)
	}
	if pipeline.Mode != domain.PipelineModeLayerCentric {
		return IngestRunResult{}, ErrNotLayerCentric
	}
	job, err := s.ingest.GetIngestJob(ctx, pipeline.ID, strings.TrimSpace(jobID))
	if err != nil {
		return IngestRunResult{}, fmt.Errorf("get ingest job %s: %w", jobID, err)
	}

	run := domain.IngestRun{
		ID:        s.newID(),
		JobID:     job.ID,
		Status:    domain.IngestRunRunning,
		StartedAt: s.now().UTC(),
	}
	if err := s.ingest.CreateIngestRun(ctx, run); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			s.logger.Info("ingest job already running", "pipeline_id", pipeline.ID, "job_id", job.ID)
			s.record(ctx, "ingest_run.conflict", "ingest_job", job.ID, map[string]any{"pipeline_id": pipeline.ID})
			return IngestRunResult{}, err
		}
		return IngestRunResult{}, fmt.Errorf("create ingest run: %w", err)
	}
	if err := s.ingest.SetIngestJobStatus(ctx, job.ID, JobStatusRunning, run.StartedAt); err != nil {
		s.logger.Warn("ingest job status update failed", "job_id", job.ID, "error", err)
	}
	s.record(ctx, "ingest_run.started", "ingest_run", run.ID, map[string]any{
		"pipeline_id": pipeline.ID,
		"job_id":      job.ID,
	})

	env := job.Environment
	if env == "" {
		env = pipeline.Environment
	}
	key, err := s.ingestLandingKey(ctx, pipeline, job)
	if err != nil {
		return s.failIngestRun(ctx, pipeline, job, run, err)
	}
	res, err := s.executor.Execute(ctx, ingestJob(pipeline, job, env, run.ID, key))
	if err != nil {
		return s.failIngestRun(ctx, pipeline, job, run, err)
	}

	if res.Delegated {
		run.FlowRunID = res.FlowRunID
		if err := s.ingest.UpdateIngestRun(ctx, run); err != nil {
			return s.failIngestRun(ctx, pipeline, job, run, fmt.Errorf("update ingest run: %w", err))
		}
		s.logger.Info("ingest run delegated", "run_id", run.ID, "flow_run_id", res.FlowRunID)
		return IngestRunResult{RunID: run.ID, Status: run.Status, FlowRunID: res.FlowRunID, Delegated: true}, nil
	}

	if _, err := s.catalog.Upsert(ctx, catalog.UpsertInput{
		Layer:           domain.LayerBronze,
		Table:           job.TargetTable,
		Environment:     env,
		Schema:          res.Schema,
		RowCount:        res.RowCount,
		FilePath:        res.OutputKey,
		DatasetStatus:   domain.DatasetStatusReady,
		LastExecutionID: run.ID,
	}); err != nil {
		return s.failIngestRun(ctx, pipeline, job, run, fmt.Errorf("catalog upsert %s: %w", job.TargetTable, err))
	}

	finished := s.now().UTC()
	run.Status = domain.IngestRunSucceeded
	run.RowCount = res.RowCount
	run.OutputKey = res.OutputKey
	run.ActualSchema = res.Schema
	run.SourceChecksum = res.Checksum
	run.FinishedAt = &finished
	run.DurationMS = elapsedMS(run.StartedAt, finished)
	if err := s.ingest.UpdateIngestRun(ctx, run); err != nil {
		return s.failIngestRun(ctx, pipeline, job, run, fmt.Errorf("update ingest run: %w", err))
	}
	if err := s.ingest.SetIngestJobStatus(ctx, job.ID, JobStatusCompleted, finished); err != nil {
		s.logger.Warn("ingest job status update failed", "job_id", job.ID, "error", err)
	}
	s.logger.Info("ingest run succeeded", "run_id", run.ID, "row_count", run.RowCount, "output_key", run.OutputKey, "mock", res.Mock)
	s.record(ctx, "ingest_run.finished", "ingest_run", run.ID, map[string]any{
		"status":    string(run.Status),
		"row_count": run.RowCount,
	})
	return IngestRunResult{
		RunID:     run.ID,
		Status:    run.Status,
		Mock:      res.Mock,
		RowCount:  run.RowCount,
		OutputKey: run.OutputKey,
		Schema:    run.ActualSchema,
	}, nil
}

func (s *Service) failIngestRun(ctx context.Context, pipeline domain.Pipeline, job domain.IngestJob, run domain.IngestRun, cause error) (IngestRunResult, error) {
	ctx = persistCtx(ctx)
	finished := s.now().UTC()
	run.Status = domain.IngestRunFailed
	run.ErrorMessage = cause.Error()
	run.FinishedAt = &finished
	run.DurationMS = elapsedMS(run.StartedAt, finished)
	if err := s.ingest.UpdateIngestRun(ctx, run); err != nil {
		s.logger.Error("ingest run update failed", "run_id", run.ID, "error", err)
	}
	if err := s.ingest.SetIngestJobStatus(ctx, job.ID, JobStatusFailed, finished); err != nil {
		s.logger.Error("ingest job status update failed", "job_id", job.ID, "error", err)
	}
	s.logger.Warn("ingest run failed", "pipeline_id", pipeline.ID, "run_id", run.ID, "error", cause)
	s.record(ctx, "ingest_run.finished", "ingest_run", run.ID, map[string]any{
		"status": string(run.Status),
		"error":  run.ErrorMessage,
	})
	return IngestRunResult{RunID: run.ID, Status: run.Status, Error: run.ErrorMessage}, cause
}

// ingestLandingKey uses source_path as given when it already addresses the
// landing bucket and resolves it against the landing conventions otherwise.
// An empty source_path yields an empty key.
func (s *Service) ingestLandingKey(ctx context.Context, pipeline domain.Pipeline, job domain.IngestJob) (string, error) {
	if domain.SourceType(job.SourceType) == domain.SourceTypeDatabase {
		return execution.DatabaseKeyPrefix + job.TargetTable, nil
	}
	path := strings.TrimSpace(job.SourcePath)
	if path == "" || strings.HasPrefix(path, landing.Prefix) || strings.HasPrefix(path, "s3://") {
		return path, nil
	}
	key, ok, err := s.resolver.Resolve(ctx, pipeline.ID, job.ID, job.Name, path)
	if err != nil {
		return "", err
	}
	if !ok {
		return path, nil
	}
	return key, nil
}

func ingestJob(pipeline domain.Pipeline, job domain.IngestJob, env domain.Environment, runID, key string) execution.Job {
	header := job.Options.HasHeader()
	return execution.Job{
		WorkflowID:  pipeline.ID,
		JobID:       job.ID,
		RunID:       runID,
		Name:        job.Name,
		Team:        pipeline.Team,
		Environment: env,
		TargetTable: job.TargetTable,
		FileFormat:  job.FileFormat,
		LandingKey:  key,
		HasHeader:   header,
		Delimiter:   job.Options.Delimiter,
		SourceConfig: domain.SourceConfig{
			Kind: domain.SourceKindFile,
			File: &domain.FileSourceConfig{
				FilePath:   job.SourcePath,
				FileFormat: job.FileFormat,
				HasHeader:  &header,
				Delimiter:  job.Options.Delimiter,
				LandingKey: key,
			},
		},
		DestinationConfig: domain.DestinationConfig{BronzeTable: job.TargetTable},
	}
}
