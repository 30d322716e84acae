// Package statussync refreshes delegated source executions and ingest runs
// from the workflow engine.
package statussync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/animus-labs/pipeline-orchestrator/internal/domain"
	"github.com/animus-labs/pipeline-orchestrator/internal/engine"
	"github.com/animus-labs/pipeline-orchestrator/internal/repo"
)

const (
	DefaultRPS          = 5.0
	DefaultBurst        = 5
	DefaultConcurrency  = 4
	DefaultIngestBatch  = 100
	DefaultPollInterval = 30 * time.Second
)

type Config struct {
	RPS         float64
	Burst       int
	Concurrency int
	IngestBatch int
}

type Syncer struct {
	executions  repo.ExecutionRepository
	ingest      repo.IngestRepository
	engine      engine.Engine
	limiter     *rate.Limiter
	concurrency int
	batch       int
	logger      *slog.Logger
	now         func() time.Time
}

// New returns nil without an engine: nothing is ever delegated then.
func New(executions repo.ExecutionRepository, ingest repo.IngestRepository, eng engine.Engine, cfg Config, logger *slog.Logger) *Syncer {
	if executions == nil || ingest == nil || eng == nil {
		return nil
	}
	if cfg.RPS <= 0 {
		cfg.RPS = DefaultRPS
	}
	if cfg.Burst <= 0 {
		cfg.Burst = DefaultBurst
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.IngestBatch <= 0 {
		cfg.IngestBatch = DefaultIngestBatch
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{
		executions:  executions,
		ingest:      ingest,
		engine:      eng,
		limiter:     rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst),
		concurrency: cfg.Concurrency,
		batch:       cfg.IngestBatch,
		logger:      logger,
		now:         time.Now,
	}
}

type JobState struct {
	SourceExecutionID string
	SourceID          string
	FlowRunID         string
	EngineState       engine.RunState
	Status            domain.SourceExecutionStatus
	Changed           bool
}

type ExecutionSync struct {
	ExecutionID string
	Status      domain.ExecutionStatus
	Jobs        []JobState
}

// SyncExecution polls the engine for every non-terminal delegated source
// execution and folds the results into the execution status. Engine errors
// leave the job unchanged.
func (s *Syncer) SyncExecution(ctx context.Context, executionID string) (ExecutionSync, error) {
	if s == nil {
		return ExecutionSync{}, errors.New("status sync not initialized")
	}
	exec, err := s.executions.GetExecution(ctx, executionID)
	if err != nil {
		return ExecutionSync{}, fmt.Errorf("get execution %s: %w", executionID, err)
	}
	ses, err := s.executions.ListSourceExecutions(ctx, exec.ID)
	if err != nil {
		return ExecutionSync{}, fmt.Errorf("list source executions: %w", err)
	}

	jobs := make([]JobState, len(ses))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i := range ses {
		se := ses[i]
		jobs[i] = JobState{SourceExecutionID: se.ID, SourceID: se.SourceID, FlowRunID: se.FlowRunID, Status: se.Status}
		if se.Status.IsTerminal() || se.FlowRunID == "" {
			continue
		}
		g.Go(func() error {
			state, ok, err := s.poll(gctx, se.FlowRunID)
			if err != nil || !ok {
				return err
			}
			jobs[i].EngineState = state
			next := state.SourceExecutionStatus()
			if next == se.Status {
				return nil
			}
			se.Status = next
			if next.IsTerminal() {
				now := s.now().UTC()
				se.CompletedAt = &now
				se.DurationMS = elapsed(se.StartedAt, now)
			}
			se.Logs = append(se.Logs, fmt.Sprintf("flow run %s is %s", se.FlowRunID, state))
			if err := s.executions.UpdateSourceExecution(gctx, se); err != nil {
				s.logger.Warn("source execution update failed", "source_execution_id", se.ID, "error", err)
				return nil
			}
			jobs[i].Status = next
			jobs[i].Changed = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return ExecutionSync{}, err
	}

	statuses := make([]domain.SourceExecutionStatus, len(jobs))
	for i, j := range jobs {
		statuses[i] = j.Status
	}
	status := domain.AggregateExecutionStatus(statuses)
	if status != exec.Status {
		now := s.now().UTC()
		if err := s.executions.FinishExecution(ctx, exec.ID, status, now, elapsed(exec.StartedAt, now)); err != nil {
			return ExecutionSync{}, fmt.Errorf("update execution: %w", err)
		}
		s.logger.Info("execution status synced", "execution_id", exec.ID, "from", exec.Status, "to", status)
	}
	return ExecutionSync{ExecutionID: exec.ID, Status: status, Jobs: jobs}, nil
}

// SyncIngestRuns advances delegated ingest runs and returns how many changed.
func (s *Syncer) SyncIngestRuns(ctx context.Context) (int, error) {
	if s == nil {
		return 0, errors.New("status sync not initialized")
	}
	runs, err := s.ingest.ListDelegatedIngestRuns(ctx, s.batch)
	if err != nil {
		return 0, fmt.Errorf("list delegated ingest runs: %w", err)
	}

	changed := make([]bool, len(runs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i := range runs {
		run := runs[i]
		g.Go(func() error {
			state, ok, err := s.poll(gctx, run.FlowRunID)
			if err != nil || !ok {
				return err
			}
			next := state.IngestRunStatus()
			if next == run.Status || !domain.CanTransitionIngestRunState(run.Status, next) {
				return nil
			}
			run.Status = next
			if state.IsTerminal() {
				now := s.now().UTC()
				run.FinishedAt = &now
				run.DurationMS = elapsed(run.StartedAt, now)
				if next == domain.IngestRunFailed {
					run.ErrorMessage = fmt.Sprintf("flow run %s ended %s", run.FlowRunID, state)
				}
			}
			if err := s.ingest.UpdateIngestRun(gctx, run); err != nil {
				s.logger.Warn("ingest run update failed", "run_id", run.ID, "error", err)
				return nil
			}
			if state.IsTerminal() {
				if err := s.ingest.SetIngestJobStatus(gctx, run.JobID, jobStatus(next), *run.FinishedAt); err != nil {
					s.logger.Warn("ingest job status update failed", "job_id", run.JobID, "error", err)
				}
			}
			changed[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	n := 0
	for _, c := range changed {
		if c {
			n++
		}
	}
	return n, nil
}

// Run polls delegated ingest runs every interval until ctx is done.
func (s *Syncer) Run(ctx context.Context, interval time.Duration) {
	if s == nil {
		return
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.SyncIngestRuns(ctx)
			if err != nil {
				if ctx.Err() == nil {
					s.logger.Warn("ingest run sync failed", "error", err)
				}
				continue
			}
			if n > 0 {
				s.logger.Info("ingest runs synced", "changed", n)
			}
		}
	}
}

// poll waits for the limiter and reads a flow run state. ok is false when the
// engine could not answer; only context errors are returned.
func (s *Syncer) poll(ctx context.Context, flowRunID string) (engine.RunState, bool, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return "", false, err
	}
	state, err := s.engine.FlowRunState(ctx, flowRunID)
	if err != nil {
		if ctx.Err() != nil {
			return "", false, ctx.Err()
		}
		s.logger.Warn("flow run state unavailable", "flow_run_id", flowRunID, "error", err)
		return "", false, nil
	}
	return state, true, nil
}

func jobStatus(status domain.IngestRunStatus) string {
	if status == domain.IngestRunSucceeded {
		return "completed"
	}
	return "failed"
}

func elapsed(start, end time.Time) int64 {
	d := end.Sub(start).Milliseconds()
	if d < 0 {
		return 0
	}
	return d
}
