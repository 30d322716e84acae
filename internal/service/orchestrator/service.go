// Package orchestrator drives pipeline and ingest job runs: it enriches
// credentials, resolves landing files, delegates execution and records the
// outcome in the execution tables and the metadata catalog.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/animus-labs/pipeline-orchestrator/internal/domain"
	"github.com/animus-labs/pipeline-orchestrator/internal/execution"
	"github.com/animus-labs/pipeline-orchestrator/internal/platform/auditlog"
	"github.com/animus-labs/pipeline-orchestrator/internal/platform/requestid"
	"github.com/animus-labs/pipeline-orchestrator/internal/repo"
	"github.com/animus-labs/pipeline-orchestrator/internal/service/catalog"
)

var (
	ErrFeatureDisabled = errors.New("layer-centric ingestion is disabled")
	ErrNotLayerCentric = errors.New("pipeline is not layer-centric")
	ErrNoJobs          = errors.New("pipeline has no jobs")
	ErrNoLandingFile   = errors.New("no landing file found")
)

type CredentialEnricher interface {
	Enrich(ctx context.Context, cfg domain.SourceConfig) domain.SourceConfig
}

type LandingResolver interface {
	Resolve(ctx context.Context, pipelineID, jobID, jobName, originalFilePath string) (string, bool, error)
	Match(ctx context.Context, prefix, pattern string) ([]string, error)
	CopyFromConnection(ctx context.Context, conn domain.StorageConnection, filePath, jobName string) (string, error)
}

type Executor interface {
	Execute(ctx context.Context, job execution.Job) (execution.Result, error)
}

type CatalogWriter interface {
	Upsert(ctx context.Context, in catalog.UpsertInput) (domain.CatalogEntry, error)
}

type AuditRecorder interface {
	Record(ctx context.Context, event auditlog.Event)
}

type Config struct {
	LayerCentricEnabled bool
}

type Deps struct {
	Pipelines   repo.PipelineRepository
	Executions  repo.ExecutionRepository
	Ingest      repo.IngestRepository
	Connections repo.ConnectionRepository
	Enricher    CredentialEnricher
	Resolver    LandingResolver
	Executor    Executor
	Catalog     CatalogWriter
	Audit       AuditRecorder
	Datasets    DatasetDispatcher
}

type Service struct {
	pipelines   repo.PipelineRepository
	executions  repo.ExecutionRepository
	ingest      repo.IngestRepository
	connections repo.ConnectionRepository
	enricher    CredentialEnricher
	resolver    LandingResolver
	executor    Executor
	catalog     CatalogWriter
	audit       AuditRecorder
	datasets    DatasetDispatcher
	cfg         Config
	logger      *slog.Logger
	now         func() time.Time
	newID       func() string
}

// New returns nil when a required dependency is missing. Connections, Audit
// and Datasets are optional.
func New(deps Deps, cfg Config, logger *slog.Logger) *Service {
	if deps.Pipelines == nil || deps.Executions == nil || deps.Ingest == nil ||
		deps.Enricher == nil || deps.Resolver == nil || deps.Executor == nil || deps.Catalog == nil {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		pipelines:   deps.Pipelines,
		executions:  deps.Executions,
		ingest:      deps.Ingest,
		connections: deps.Connections,
		enricher:    deps.Enricher,
		resolver:    deps.Resolver,
		executor:    deps.Executor,
		catalog:     deps.Catalog,
		audit:       deps.Audit,
		datasets:    deps.Datasets,
		cfg:         cfg,
		logger:      logger,
		now:         time.Now,
		newID:       uuid.NewString,
	}
}

func (s *Service) record(ctx context.Context, action, resourceType, resourceID string, payload map[string]any) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, auditlog.Event{
		OccurredAt:   s.now().UTC(),
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		RequestID:    requestid.FromContext(ctx),
		Payload:      payload,
	})
}

func elapsedMS(start, end time.Time) int64 {
	d := end.Sub(start).Milliseconds()
	if d < 0 {
		return 0
	}
	return d
}

// persistCtx keeps failure bookkeeping alive after the caller's context is
// cancelled.
func persistCtx(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}
