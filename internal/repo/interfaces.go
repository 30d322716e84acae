package repo

import (
	"context"
	"errors"
	"time"

	"github.com/animus-labs/pipeline-orchestrator/internal/domain"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a write would break a uniqueness invariant,
	// such as a second active run for the same ingest job.
	ErrConflict = errors.New("conflict")
)

// PipelineRepository reads pipeline definitions and stamps their last run.
type PipelineRepository interface {
	GetPipeline(ctx context.Context, id string) (domain.Pipeline, error)
	ListSources(ctx context.Context, pipelineID string) ([]domain.Source, error)
	TouchLastRun(ctx context.Context, pipelineID string, at time.Time) error
	TouchSourceLastRun(ctx context.Context, sourceID string, at time.Time) error
	GetDatasetJob(ctx context.Context, pipelineID, jobID string) (domain.DatasetJob, error)
	SetSourceStatus(ctx context.Context, sourceID, status string, at time.Time) error
}

// ExecutionRepository manages executions and their source executions.
type ExecutionRepository interface {
	CreateExecution(ctx context.Context, execution domain.Execution) error
	GetExecution(ctx context.Context, id string) (domain.Execution, error)
	FinishExecution(ctx context.Context, id string, status domain.ExecutionStatus, completedAt time.Time, durationMS int64) error
	CreateSourceExecution(ctx context.Context, se domain.SourceExecution) error
	UpdateSourceExecution(ctx context.Context, se domain.SourceExecution) error
	ListSourceExecutions(ctx context.Context, executionID string) ([]domain.SourceExecution, error)
}

// IngestRepository manages layer-centric ingest jobs and runs.
type IngestRepository interface {
	GetIngestJob(ctx context.Context, pipelineID, jobID string) (domain.IngestJob, error)
	SetIngestJobStatus(ctx context.Context, jobID, status string, at time.Time) error
	CreateIngestRun(ctx context.Context, run domain.IngestRun) error
	UpdateIngestRun(ctx context.Context, run domain.IngestRun) error
	GetIngestRun(ctx context.Context, id string) (domain.IngestRun, error)
	ListDelegatedIngestRuns(ctx context.Context, limit int) ([]domain.IngestRun, error)
}

// CatalogRepository manages metadata_catalog rows.
type CatalogRepository interface {
	UpsertCatalogEntry(ctx context.Context, entry domain.CatalogEntry) error
	GetCatalogEntry(ctx context.Context, layer domain.Layer, table string, env domain.Environment) (domain.CatalogEntry, error)
	ListByTableName(ctx context.Context, table string, env domain.Environment) ([]domain.CatalogEntry, error)
	// ListParentContaining returns rows whose parent_tables text contains
	// table. Callers confirm exact membership.
	ListParentContaining(ctx context.Context, table string, env domain.Environment) ([]domain.CatalogEntry, error)
}

// ConnectionRepository reads saved database and storage connections.
type ConnectionRepository interface {
	FindDatabasePassword(ctx context.Context, host string, port int, database, username string) (string, error)
	GetStorageConnection(ctx context.Context, id string) (domain.StorageConnection, error)
}
