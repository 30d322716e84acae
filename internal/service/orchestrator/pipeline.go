package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/animus-labs/pipeline-orchestrator/internal/domain"
	"github.com/animus-labs/pipeline-orchestrator/internal/execution"
	"github.com/animus-labs/pipeline-orchestrator/internal/landing"
	"github.com/animus-labs/pipeline-orchestrator/internal/service/catalog"
)

type PipelineRunResult struct {
	ExecutionID string
	Status      domain.ExecutionStatus
	JobResults  []JobResult
}

// JobResult reports one source of a pipeline run.
type JobResult struct {
	SourceID          string
	SourceName        string
	SourceExecutionID string
	Status            domain.SourceExecutionStatus
	Delegated         bool
	Mock              bool
	FlowRunIDs        []string
	RecordsProcessed  int64
	LandingKeys       []string
	OutputKeys        []string
	Error             string
}

// RunPipeline executes the sources of a pipeline one after another in
// order_index order. The first failing source fails the execution and later
// sources are not attempted. The returned result is populated whenever an
// execution row was created, also on error.
func (s *Service) RunPipeline(ctx context.Context, pipelineID string) (PipelineRunResult, error) {
	if s == nil {
		return PipelineRunResult{}, errors.New("orchestrator not initialized")
	}
	pipelineID = strings.TrimSpace(pipelineID)
	pipeline, err := s.pipelines.GetPipeline(ctx, pipelineID)
	if err != nil {
		return PipelineRunResult{}, fmt.Errorf("get pipeline %s: %w", pipelineID, err)
	}
	sources, err := s.pipelines.ListSources(ctx, pipeline.ID)
	if err != nil {
		return PipelineRunResult{}, fmt.Errorf("list sources: %w", err)
	}
	if len(sources) == 0 {
		return PipelineRunResult{}, ErrNoJobs
	}

	started := s.now().UTC()
	exec := domain.Execution{
		ID:         s.newID(),
		PipelineID: pipeline.ID,
		Status:     domain.ExecutionStatusRunning,
		StartedAt:  started,
	}
	if err := s.executions.CreateExecution(ctx, exec); err != nil {
		return PipelineRunResult{}, fmt.Errorf("create execution: %w", err)
	}
	s.logger.Info("pipeline run started", "pipeline_id", pipeline.ID, "execution_id", exec.ID, "jobs", len(sources))
	s.record(ctx, "pipeline_run.started", "execution", exec.ID, map[string]any{
		"pipeline_id": pipeline.ID,
		"jobs":        len(sources),
	})

	result := PipelineRunResult{ExecutionID: exec.ID, Status: domain.ExecutionStatusRunning}
	statuses := make([]domain.SourceExecutionStatus, 0, len(sources))
	for _, src := range sources {
		jr, err := s.runSource(ctx, pipeline, exec.ID, src)
		result.JobResults = append(result.JobResults, jr)
		if err != nil {
			result.Status = domain.ExecutionStatusFailed
			s.finishExecution(persistCtx(ctx), pipeline.ID, exec, result.Status)
			return result, fmt.Errorf("job %s: %w", src.Name, err)
		}
		statuses = append(statuses, jr.Status)
	}

	result.Status = domain.AggregateExecutionStatus(statuses)
	s.finishExecution(ctx, pipeline.ID, exec, result.Status)
	return result, nil
}

func (s *Service) finishExecution(ctx context.Context, pipelineID string, exec domain.Execution, status domain.ExecutionStatus) {
	now := s.now().UTC()
	if err := s.executions.FinishExecution(ctx, exec.ID, status, now, elapsedMS(exec.StartedAt, now)); err != nil {
		s.logger.Error("execution update failed", "execution_id", exec.ID, "error", err)
	}
	if err := s.pipelines.TouchLastRun(ctx, pipelineID, now); err != nil {
		s.logger.Error("pipeline last_run update failed", "pipeline_id", pipelineID, "error", err)
	}
	s.logger.Info("pipeline run finished", "pipeline_id", pipelineID, "execution_id", exec.ID, "status", status)
	s.record(ctx, "pipeline_run.finished", "execution", exec.ID, map[string]any{
		"pipeline_id": pipelineID,
		"status":      string(status),
	})
}

func (s *Service) runSource(ctx context.Context, pipeline domain.Pipeline, executionID string, src domain.Source) (JobResult, error) {
	se := domain.SourceExecution{
		ID:          s.newID(),
		ExecutionID: executionID,
		SourceID:    src.ID,
		Status:      domain.SourceExecutionRunning,
		StartedAt:   s.now().UTC(),
	}
	jr := JobResult{SourceID: src.ID, SourceName: src.Name, SourceExecutionID: se.ID}
	if err := s.executions.CreateSourceExecution(ctx, se); err != nil {
		jr.Status = domain.SourceExecutionFailed
		jr.Error = err.Error()
		return jr, fmt.Errorf("create source execution: %w", err)
	}

	fail := func(err error) (JobResult, error) {
		now := s.now().UTC()
		se.Status = domain.SourceExecutionFailed
		se.CompletedAt = &now
		se.DurationMS = elapsedMS(se.StartedAt, now)
		se.ErrorMessage = err.Error()
		se.Logs = append(se.Logs, "failed: "+err.Error())
		if uerr := s.executions.UpdateSourceExecution(persistCtx(ctx), se); uerr != nil {
			s.logger.Error("source execution update failed", "source_execution_id", se.ID, "error", uerr)
		}
		s.logger.Warn("pipeline job failed", "execution_id", executionID, "source_id", src.ID, "error", err)
		jr.Status = se.Status
		jr.Error = se.ErrorMessage
		return jr, err
	}

	cfg := s.enricher.Enrich(ctx, src.SourceConfig)
	keys, err := s.landingKeys(ctx, pipeline, src, cfg)
	if err != nil {
		return fail(err)
	}
	se.SourceFilePath = strings.Join(keys, ",")
	jr.LandingKeys = keys

	table := src.DestinationConfig.BronzeTableName(src.Name)
	landed := bronzeBatch{}
	for _, key := range keys {
		job := sourceJob(pipeline, src, cfg, s.fileRunID(se.ID, len(keys)), table, key)
		res, err := s.executor.Execute(ctx, job)
		if err != nil {
			return fail(err)
		}
		if res.Delegated {
			jr.Delegated = true
			jr.FlowRunIDs = append(jr.FlowRunIDs, res.FlowRunID)
			if se.FlowRunID == "" {
				se.FlowRunID = res.FlowRunID
			}
			se.Logs = append(se.Logs, fmt.Sprintf("delegated %s as flow run %s", key, res.FlowRunID))
			continue
		}
		landed.add(res)
		jr.Mock = jr.Mock || res.Mock
		jr.RecordsProcessed += res.RowCount
		jr.OutputKeys = append(jr.OutputKeys, res.OutputKey)
		se.RecordsProcessed += res.RowCount
		se.Logs = append(se.Logs, fmt.Sprintf("landed %d rows from %s to %s", res.RowCount, displayKey(key), res.OutputKey))
	}

	if len(jr.OutputKeys) > 0 {
		if _, err := s.catalog.Upsert(ctx, catalog.UpsertInput{
			Layer:           domain.LayerBronze,
			Table:           table,
			Environment:     pipeline.Environment,
			Schema:          landed.schema,
			RowCount:        landed.rows,
			FilePath:        landed.filePath(jr.OutputKeys),
			ParentTables:    src.TransformationConfig.ParentTables,
			DatasetStatus:   domain.DatasetStatusReady,
			LastExecutionID: executionID,
		}); err != nil {
			return fail(fmt.Errorf("catalog upsert %s: %w", table, err))
		}
	}

	now := s.now().UTC()
	se.DurationMS = elapsedMS(se.StartedAt, now)
	se.BronzeFilePath = strings.Join(jr.OutputKeys, ",")
	if jr.Delegated {
		se.Status = domain.SourceExecutionRunning
	} else {
		se.Status = domain.SourceExecutionCompleted
		se.CompletedAt = &now
	}
	if err := s.executions.UpdateSourceExecution(ctx, se); err != nil {
		return fail(fmt.Errorf("update source execution: %w", err))
	}
	if err := s.pipelines.TouchSourceLastRun(ctx, src.ID, now); err != nil {
		s.logger.Error("source last_run update failed", "source_id", src.ID, "error", err)
	}
	jr.Status = se.Status
	return jr, nil
}

// fileRunID gives every matched file of a pattern source its own run id.
// Bronze keys carry only a 12 character run id prefix, so a suffix on the
// source execution id would not separate them.
func (s *Service) fileRunID(sourceExecutionID string, files int) string {
	if files <= 1 {
		return sourceExecutionID
	}
	return s.newID()
}

// bronzeBatch sums the inline results of one source into its catalog row.
type bronzeBatch struct {
	rows   int64
	schema domain.Schema
}

func (b *bronzeBatch) add(res execution.Result) {
	b.rows += res.RowCount
	if len(b.schema) == 0 {
		b.schema = res.Schema
	}
}

// filePath is the object key of a single landed file, or the directory that
// holds all of them.
func (b bronzeBatch) filePath(keys []string) string {
	if len(keys) == 1 {
		return keys[0]
	}
	return path.Dir(keys[0]) + "/"
}

// landingKeys returns the inputs of one source. Database sources get a single
// placeholder key; pattern sources get one key per matched file.
func (s *Service) landingKeys(ctx context.Context, pipeline domain.Pipeline, src domain.Source, cfg domain.SourceConfig) ([]string, error) {
	if src.IsDatabase() {
		name := ""
		if d := cfg.Database; d != nil {
			name = d.Table
			if strings.TrimSpace(d.Query) != "" {
				name = "query"
			}
		}
		return []string{execution.DatabaseKeyPrefix + name}, nil
	}
	file := cfg.File
	if file == nil {
		// API and unknown sources have nothing in the landing zone.
		return []string{""}, nil
	}

	switch {
	case strings.TrimSpace(file.StorageConnectionID) != "":
		if s.connections == nil {
			return nil, errors.New("storage connections are not configured")
		}
		conn, err := s.connections.GetStorageConnection(ctx, file.StorageConnectionID)
		if err != nil {
			return nil, fmt.Errorf("storage connection %s: %w", file.StorageConnectionID, err)
		}
		key, err := s.resolver.CopyFromConnection(ctx, conn, file.FilePath, src.Name)
		if err != nil {
			return nil, err
		}
		return []string{key}, nil
	case strings.TrimSpace(file.Pattern) != "":
		return s.resolver.Match(ctx, landing.SourcePrefix(src.Name), file.Pattern)
	case strings.TrimSpace(file.LandingKey) != "":
		return []string{strings.TrimSpace(file.LandingKey)}, nil
	}

	key, ok, err := s.resolver.Resolve(ctx, pipeline.ID, src.ID, src.Name, file.FilePath)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w for %s", ErrNoLandingFile, src.Name)
	}
	return []string{key}, nil
}

func sourceJob(pipeline domain.Pipeline, src domain.Source, cfg domain.SourceConfig, runID, table, key string) execution.Job {
	job := execution.Job{
		WorkflowID:        pipeline.ID,
		JobID:             src.ID,
		RunID:             runID,
		Name:              src.Name,
		Team:              pipeline.Team,
		Environment:       pipeline.Environment,
		TargetTable:       table,
		LandingKey:        key,
		HasHeader:         true,
		PrimaryKeys:       cfg.PrimaryKeys(),
		SourceConfig:      cfg,
		DestinationConfig: src.DestinationConfig,
	}
	if f := cfg.File; f != nil {
		job.FileFormat = f.FileFormat
		job.HasHeader = f.Header()
		job.Delimiter = f.Delimiter
		job.ColumnMappings = f.ColumnMappings
	}
	return job
}

func displayKey(key string) string {
	if key == "" {
		return "(no source path)"
	}
	return key
}
