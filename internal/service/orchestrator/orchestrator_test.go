package orchestrator

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/animus-labs/pipeline-orchestrator/internal/analyzer"
	"github.com/animus-labs/pipeline-orchestrator/internal/credentials"
	"github.com/animus-labs/pipeline-orchestrator/internal/domain"
	"github.com/animus-labs/pipeline-orchestrator/internal/engine"
	"github.com/animus-labs/pipeline-orchestrator/internal/execution"
	"github.com/animus-labs/pipeline-orchestrator/internal/landing"
	"github.com/animus-labs/pipeline-orchestrator/internal/platform/auditlog"
	"github.com/animus-labs/pipeline-orchestrator/internal/platform/database/databasetest"
	"github.com/animus-labs/pipeline-orchestrator/internal/repo"
	"github.com/animus-labs/pipeline-orchestrator/internal/repo/sqlstore"
	"github.com/animus-labs/pipeline-orchestrator/internal/service/catalog"
	"github.com/animus-labs/pipeline-orchestrator/internal/storage/objectstore"
)

const (
	bucket    = "lakehouse"
	ordersCSV = "id,name,amount\n1,widget,9.99\n2,gadget,19.50\n3,doohickey,4.25\n"
)

type harness struct {
	svc     *Service
	db      *sql.DB
	store   *objectstore.MemoryStore
	catalog *catalog.Writer
	ingest  *sqlstore.IngestStore
	execs   *sqlstore.ExecutionStore
}

type fakeEngine struct {
	created int
	last    engine.FlowRunRequest
}

func (f *fakeEngine) FindDeployment(ctx context.Context, name string) (engine.Deployment, error) {
	return engine.Deployment{ID: "dep-1", Name: name}, nil
}

func (f *fakeEngine) CreateFlowRun(ctx context.Context, deploymentID string, req engine.FlowRunRequest) (engine.FlowRun, error) {
	f.created++
	f.last = req
	if req.Dataset != nil {
		return engine.FlowRun{ID: "flow-run-" + req.Dataset.JobID, Name: req.Name}, nil
	}
	return engine.FlowRun{ID: "flow-run-" + req.Parameters.JobID, Name: req.Name}, nil
}

func (f *fakeEngine) FlowRunState(ctx context.Context, id string) (engine.RunState, error) {
	return engine.StateRunning, nil
}

func newHarness(t *testing.T, eng engine.Engine, mockFallback bool) *harness {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	db := databasetest.OpenSQLite(t)
	store := objectstore.NewMemoryStore()
	fa := analyzer.NewNative()

	connections := sqlstore.NewConnectionStore(db)
	inline := execution.NewInline(store, fa, nil, execution.InlineConfig{Bucket: bucket, MockFallback: mockFallback}, logger)
	delegate := execution.NewDelegate(eng, engine.DefaultRoutes(), inline, logger)
	h := &harness{
		db:      db,
		store:   store,
		catalog: catalog.NewWriter(sqlstore.NewCatalogStore(db)),
		ingest:  sqlstore.NewIngestStore(db),
		execs:   sqlstore.NewExecutionStore(db),
	}
	h.svc = New(Deps{
		Pipelines:   sqlstore.NewPipelineStore(db),
		Executions:  h.execs,
		Ingest:      h.ingest,
		Connections: connections,
		Enricher:    credentials.NewEnricher(connections, credentials.DefaultWorkerHostAlias, logger),
		Resolver:    landing.NewResolver(store, bucket, fa, logger),
		Executor:    delegate,
		Catalog:     h.catalog,
		Audit:       auditlog.NewRecorder(db, logger),
		Datasets:    delegate,
	}, Config{LayerCentricEnabled: true}, logger)
	if h.svc == nil {
		t.Fatalf("New() returned nil")
	}
	return h
}

func (h *harness) exec(t *testing.T, query string, args ...any) {
	t.Helper()
	if _, err := h.db.Exec(query, args...); err != nil {
		t.Fatalf("exec %q: %v", query, err)
	}
}

func (h *harness) seedPipeline(t *testing.T, id, mode string) {
	h.exec(t, `INSERT INTO pipelines (id, name, owner, team, environment, pipeline_mode, created_at, updated_at)
		VALUES ($1, $2, 'data-eng', 'core', 'development', $3, 1, 1)`, id, "pipeline "+id, mode)
}

func (h *harness) seedSource(t *testing.T, id, pipelineID, name string, order int, sourceConfig, destination, transformation string) {
	h.exec(t, `INSERT INTO sources (id, pipeline_id, name, type, order_index, source_config, destination_config, transformation_config, created_at, updated_at)
		VALUES ($1, $2, $3, 'file-based', $4, $5, $6, $7, 1, 1)`,
		id, pipelineID, name, order, sourceConfig, destination, transformation)
}

func (h *harness) seedDatasetJob(t *testing.T, id, pipelineID, inputs, destination string) {
	h.exec(t, `INSERT INTO sources (id, pipeline_id, name, type, order_index, source_config, destination_config, is_dataset_job, target_layer, input_datasets, transform_sql, created_at, updated_at)
		VALUES ($1, $2, 'Revenue Daily', 'gold-analytics', 9, '{}', $3, 1, 'gold', $4, 'SELECT day, SUM(amount) FROM orders_clean GROUP BY day', 1, 1)`,
		id, pipelineID, destination, inputs)
}

func (h *harness) seedIngestJob(t *testing.T, id, pipelineID, sourcePath string) {
	h.exec(t, `INSERT INTO layer_centric_ingest_jobs (id, pipeline_id, name, source_type, source_path, file_format, options, target_table, environment, created_at, updated_at)
		VALUES ($1, $2, 'Orders', 'file', $3, 'csv', '{"header":true}', 'orders', 'dev', 1, 1)`, id, pipelineID, sourcePath)
}

func (h *harness) land(key, body string) {
	h.store.PutAt(bucket, key, []byte(body), "text/csv", time.Date(2024, 3, 9, 8, 0, 0, 0, time.UTC))
}

func (h *harness) count(t *testing.T, query string, args ...any) int {
	t.Helper()
	var n int
	if err := h.db.QueryRow(query, args...).Scan(&n); err != nil {
		t.Fatalf("count %q: %v", query, err)
	}
	return n
}

func TestRunPipeline_EndToEndSingleCSVJob(t *testing.T) {
	h := newHarness(t, nil, true)
	ctx := context.Background()
	h.seedPipeline(t, "p1", "source-centric")
	h.seedSource(t, "s1", "p1", "Orders", 1,
		`{"type":"file-based","fileConfig":{"filePath":"orders.csv","fileFormat":"csv"}}`,
		`{"bronzeTable":"orders"}`,
		`{"parentTables":["crm_orders"]}`)
	h.land("landing/orders/orders.csv", ordersCSV)

	res, err := h.svc.RunPipeline(ctx, "p1")
	if err != nil {
		t.Fatalf("RunPipeline() error = %v", err)
	}
	if res.Status != domain.ExecutionStatusCompleted {
		t.Fatalf("Status=%q, want completed", res.Status)
	}
	if len(res.JobResults) != 1 || res.JobResults[0].RecordsProcessed != 3 || res.JobResults[0].Mock {
		t.Fatalf("JobResults=%+v, want one job with 3 records", res.JobResults)
	}

	entry, err := h.catalog.Get(ctx, domain.LayerBronze, "orders", domain.EnvironmentDev)
	if err != nil {
		t.Fatalf("catalog Get() error = %v", err)
	}
	if entry.RowCount != 3 || len(entry.Schema) != 3 {
		t.Fatalf("catalog entry=%+v, want 3 rows and 3 columns", entry)
	}
	if !reflect.DeepEqual(entry.ParentTables, []string{"crm_orders"}) {
		t.Fatalf("ParentTables=%v, want [crm_orders]", entry.ParentTables)
	}
	if entry.LastExecutionID != res.ExecutionID || !strings.HasPrefix(entry.FilePath, "bronze/orders/") {
		t.Fatalf("catalog entry=%+v", entry)
	}
	if _, _, err := objectstore.ReadAll(ctx, h.store, bucket, entry.FilePath, 1<<20); err != nil {
		t.Fatalf("bronze object %s missing: %v", entry.FilePath, err)
	}

	exec, err := h.execs.GetExecution(ctx, res.ExecutionID)
	if err != nil {
		t.Fatalf("GetExecution() error = %v", err)
	}
	if exec.Status != domain.ExecutionStatusCompleted || exec.CompletedAt == nil {
		t.Fatalf("execution=%+v, want completed", exec)
	}
	ses, err := h.execs.ListSourceExecutions(ctx, res.ExecutionID)
	if err != nil {
		t.Fatalf("ListSourceExecutions() error = %v", err)
	}
	if len(ses) != 1 || ses[0].Status != domain.SourceExecutionCompleted || ses[0].RecordsProcessed != 3 {
		t.Fatalf("source executions=%+v", ses)
	}
	if ses[0].SourceFilePath != "landing/orders/orders.csv" || ses[0].BronzeFilePath != entry.FilePath {
		t.Fatalf("paths=%q %q", ses[0].SourceFilePath, ses[0].BronzeFilePath)
	}
	if n := h.count(t, `SELECT COUNT(*) FROM pipelines WHERE id = 'p1' AND last_run IS NOT NULL`); n != 1 {
		t.Fatalf("pipeline last_run not stamped")
	}
	if n := h.count(t, `SELECT COUNT(*) FROM audit_events WHERE resource_id = $1`, res.ExecutionID); n != 2 {
		t.Fatalf("audit events=%d, want started and finished", n)
	}
}

func TestRunPipeline_StopsAtFirstFailingJob(t *testing.T) {
	h := newHarness(t, nil, true)
	ctx := context.Background()
	h.seedPipeline(t, "p1", "source-centric")
	h.seedSource(t, "s1", "p1", "Orders", 1, `{"fileConfig":{"fileFormat":"csv"}}`, `{}`, `{}`)
	h.seedSource(t, "s2", "p1", "Missing Job", 2, `{"fileConfig":{"fileFormat":"csv"}}`, `{}`, `{}`)
	h.seedSource(t, "s3", "p1", "Customers", 3, `{"fileConfig":{"fileFormat":"csv"}}`, `{}`, `{}`)
	h.land("landing/orders/orders.csv", ordersCSV)
	h.land("landing/customers/customers.csv", "id\n1\n")

	res, err := h.svc.RunPipeline(ctx, "p1")
	if !errors.Is(err, ErrNoLandingFile) {
		t.Fatalf("RunPipeline() error = %v, want ErrNoLandingFile", err)
	}
	if res.Status != domain.ExecutionStatusFailed || len(res.JobResults) != 2 {
		t.Fatalf("result=%+v, want failed after two jobs", res)
	}
	if res.JobResults[0].Status != domain.SourceExecutionCompleted || res.JobResults[1].Status != domain.SourceExecutionFailed {
		t.Fatalf("job statuses=%q,%q", res.JobResults[0].Status, res.JobResults[1].Status)
	}

	ses, err := h.execs.ListSourceExecutions(ctx, res.ExecutionID)
	if err != nil {
		t.Fatalf("ListSourceExecutions() error = %v", err)
	}
	if len(ses) != 2 {
		t.Fatalf("source executions=%d, want 2 (third job never attempted)", len(ses))
	}
	for _, se := range ses {
		if se.SourceID == "s2" && (se.Status != domain.SourceExecutionFailed || se.ErrorMessage == "" || se.CompletedAt == nil) {
			t.Fatalf("failed source execution=%+v", se)
		}
	}
	exec, _ := h.execs.GetExecution(ctx, res.ExecutionID)
	if exec.Status != domain.ExecutionStatusFailed {
		t.Fatalf("execution status=%q, want failed", exec.Status)
	}
	if _, err := h.catalog.Get(ctx, domain.LayerBronze, "customers", domain.EnvironmentDev); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("customers catalog error = %v, want ErrNotFound", err)
	}
}

func TestRunPipeline_DelegatedJobKeepsExecutionRunning(t *testing.T) {
	eng := &fakeEngine{}
	h := newHarness(t, eng, true)
	ctx := context.Background()
	h.seedPipeline(t, "p1", "source-centric")
	h.seedSource(t, "s1", "p1", "Orders", 1, `{"fileConfig":{"filePath":"orders.csv"}}`, `{}`, `{}`)

	res, err := h.svc.RunPipeline(ctx, "p1")
	if err != nil {
		t.Fatalf("RunPipeline() error = %v", err)
	}
	if res.Status != domain.ExecutionStatusRunning || eng.created != 1 {
		t.Fatalf("Status=%q created=%d, want running 1", res.Status, eng.created)
	}
	ses, _ := h.execs.ListSourceExecutions(ctx, res.ExecutionID)
	if len(ses) != 1 || ses[0].Status != domain.SourceExecutionRunning || ses[0].FlowRunID != "flow-run-s1" {
		t.Fatalf("source executions=%+v", ses)
	}
	if ses[0].SourceFilePath != "landing/orders/orders.csv" {
		t.Fatalf("SourceFilePath=%q, want speculative landing key", ses[0].SourceFilePath)
	}
	if n := h.count(t, `SELECT COUNT(*) FROM metadata_catalog`); n != 0 {
		t.Fatalf("catalog rows=%d, want 0 for delegated run", n)
	}
}

func TestRunPipeline_PatternSourceLandsEveryMatch(t *testing.T) {
	h := newHarness(t, nil, false)
	ctx := context.Background()
	h.seedPipeline(t, "p1", "source-centric")
	h.seedSource(t, "s1", "p1", "Orders", 1,
		`{"fileConfig":{"filePattern":"*.csv","fileFormat":"csv"}}`,
		`{"bronzeConfig":{"tableName":"orders"}}`, `{}`)
	h.land("landing/orders/a.csv", "id\n1\n2\n")
	h.land("landing/orders/b.csv", "id\n3\n")
	h.land("landing/orders/notes.txt", "ignore me")

	res, err := h.svc.RunPipeline(ctx, "p1")
	if err != nil {
		t.Fatalf("RunPipeline() error = %v", err)
	}
	jr := res.JobResults[0]
	if len(jr.LandingKeys) != 2 || jr.RecordsProcessed != 3 {
		t.Fatalf("job=%+v, want two files and 3 records", jr)
	}
	if len(jr.OutputKeys) != 2 || jr.OutputKeys[0] == jr.OutputKeys[1] {
		t.Fatalf("OutputKeys=%v, want two distinct bronze objects", jr.OutputKeys)
	}
	for _, key := range jr.OutputKeys {
		if _, _, err := objectstore.ReadAll(ctx, h.store, bucket, key, 1<<20); err != nil {
			t.Fatalf("bronze object %s missing: %v", key, err)
		}
	}
	entry, err := h.catalog.Get(ctx, domain.LayerBronze, "orders", domain.EnvironmentDev)
	if err != nil {
		t.Fatalf("catalog Get() error = %v", err)
	}
	if entry.RowCount != 3 || !strings.HasSuffix(entry.FilePath, "/") {
		t.Fatalf("catalog entry=%+v, want 3 rows under a folder", entry)
	}
}

func TestRunPipeline_PatternWithoutMatchFails(t *testing.T) {
	h := newHarness(t, nil, true)
	ctx := context.Background()
	h.seedPipeline(t, "p1", "source-centric")
	h.seedSource(t, "s1", "p1", "Orders", 1, `{"fileConfig":{"filePattern":"*.parquet"}}`, `{}`, `{}`)
	h.land("landing/orders/a.csv", ordersCSV)

	res, err := h.svc.RunPipeline(ctx, "p1")
	if !errors.Is(err, landing.ErrNoPatternMatch) {
		t.Fatalf("RunPipeline() error = %v, want ErrNoPatternMatch", err)
	}
	if res.Status != domain.ExecutionStatusFailed {
		t.Fatalf("Status=%q, want failed", res.Status)
	}
	if n := h.count(t, `SELECT COUNT(*) FROM metadata_catalog`); n != 0 {
		t.Fatalf("catalog rows=%d, want 0", n)
	}
}

func TestRunPipeline_CopiesFromStorageConnection(t *testing.T) {
	h := newHarness(t, nil, false)
	ctx := context.Background()
	h.seedPipeline(t, "p1", "source-centric")
	h.exec(t, `INSERT INTO storage_connections (id, name, type, config, created_at, updated_at)
		VALUES ('c1', 'exports', 's3', '{"bucket":"exports","prefix":"daily/"}', 1, 1)`)
	h.seedSource(t, "s1", "p1", "Orders", 1,
		`{"fileConfig":{"filePath":"orders.csv","fileFormat":"csv","storageConnectionId":"c1"}}`, `{}`, `{}`)
	h.store.PutAt("exports", "daily/orders.csv", []byte(ordersCSV), "text/csv", time.Date(2024, 3, 9, 8, 0, 0, 0, time.UTC))

	res, err := h.svc.RunPipeline(ctx, "p1")
	if err != nil {
		t.Fatalf("RunPipeline() error = %v", err)
	}
	jr := res.JobResults[0]
	if !reflect.DeepEqual(jr.LandingKeys, []string{"landing/orders/orders.csv"}) || jr.RecordsProcessed != 3 {
		t.Fatalf("job=%+v, want copied landing key with 3 records", jr)
	}
	if _, _, err := objectstore.ReadAll(ctx, h.store, bucket, "landing/orders/orders.csv", 1<<20); err != nil {
		t.Fatalf("copied landing object missing: %v", err)
	}
}

func TestRunPipeline_UsesBronzeConfigTableAndStampsSource(t *testing.T) {
	h := newHarness(t, nil, true)
	ctx := context.Background()
	h.seedPipeline(t, "p1", "source-centric")
	h.seedSource(t, "s1", "p1", "Orders", 1,
		`{"fileConfig":{"filePath":"orders.csv","fileFormat":"csv"}}`,
		`{"bronzeConfig":{"tableName":"orders_raw","storageFormat":"parquet"}}`, `{}`)
	h.land("landing/orders/orders.csv", ordersCSV)

	if _, err := h.svc.RunPipeline(ctx, "p1"); err != nil {
		t.Fatalf("RunPipeline() error = %v", err)
	}
	if _, err := h.catalog.Get(ctx, domain.LayerBronze, "orders_raw", domain.EnvironmentDev); err != nil {
		t.Fatalf("catalog Get(orders_raw) error = %v", err)
	}
	if n := h.count(t, `SELECT COUNT(*) FROM sources WHERE id = 's1' AND last_run IS NOT NULL`); n != 1 {
		t.Fatalf("source last_run not stamped")
	}
}

func TestRunPipeline_Guards(t *testing.T) {
	h := newHarness(t, nil, true)
	ctx := context.Background()
	if _, err := h.svc.RunPipeline(ctx, "missing"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("RunPipeline(missing) error = %v, want ErrNotFound", err)
	}
	h.seedPipeline(t, "empty", "source-centric")
	if _, err := h.svc.RunPipeline(ctx, "empty"); !errors.Is(err, ErrNoJobs) {
		t.Fatalf("RunPipeline(empty) error = %v, want ErrNoJobs", err)
	}
	if n := h.count(t, `SELECT COUNT(*) FROM executions`); n != 0 {
		t.Fatalf("executions=%d, want 0", n)
	}
}

func TestRunIngestJob_Succeeds(t *testing.T) {
	h := newHarness(t, nil, true)
	ctx := context.Background()
	h.seedPipeline(t, "p1", "layer-centric")
	h.seedIngestJob(t, "j1", "p1", "landing/orders/orders.csv")
	h.land("landing/orders/orders.csv", ordersCSV)

	res, err := h.svc.RunIngestJob(ctx, "p1", "j1")
	if err != nil {
		t.Fatalf("RunIngestJob() error = %v", err)
	}
	if res.Status != domain.IngestRunSucceeded || res.RowCount != 3 || res.Delegated {
		t.Fatalf("result=%+v, want succeeded with 3 rows", res)
	}

	run, err := h.ingest.GetIngestRun(ctx, res.RunID)
	if err != nil {
		t.Fatalf("GetIngestRun() error = %v", err)
	}
	if run.Status != domain.IngestRunSucceeded || run.RowCount != 3 || run.FinishedAt == nil || run.SourceChecksum == "" {
		t.Fatalf("run=%+v", run)
	}
	if run.OutputKey != res.OutputKey || len(run.ActualSchema) != 3 {
		t.Fatalf("run output=%q schema=%v", run.OutputKey, run.ActualSchema)
	}
	if n := h.count(t, `SELECT COUNT(*) FROM layer_centric_ingest_jobs WHERE id = 'j1' AND status = 'completed'`); n != 1 {
		t.Fatalf("job status not completed")
	}
	entry, err := h.catalog.Get(ctx, domain.LayerBronze, "orders", domain.EnvironmentDev)
	if err != nil {
		t.Fatalf("catalog Get() error = %v", err)
	}
	if entry.LastExecutionID != res.RunID || entry.DatasetStatus != domain.DatasetStatusReady || entry.RowCount != 3 {
		t.Fatalf("catalog entry=%+v", entry)
	}
}

func TestRunIngestJob_ConflictLeavesNoRow(t *testing.T) {
	h := newHarness(t, nil, true)
	ctx := context.Background()
	h.seedPipeline(t, "p1", "layer-centric")
	h.seedIngestJob(t, "j1", "p1", "landing/orders/orders.csv")
	active := domain.IngestRun{ID: "r-active", JobID: "j1", Status: domain.IngestRunRunning, StartedAt: time.Now()}
	if err := h.ingest.CreateIngestRun(ctx, active); err != nil {
		t.Fatalf("CreateIngestRun() error = %v", err)
	}

	_, err := h.svc.RunIngestJob(ctx, "p1", "j1")
	if !errors.Is(err, repo.ErrConflict) {
		t.Fatalf("RunIngestJob() error = %v, want ErrConflict", err)
	}
	if n := h.count(t, `SELECT COUNT(*) FROM layer_centric_ingest_runs WHERE job_id = 'j1'`); n != 1 {
		t.Fatalf("runs=%d, want 1", n)
	}
	if n := h.count(t, `SELECT COUNT(*) FROM metadata_catalog`); n != 0 {
		t.Fatalf("catalog rows=%d, want 0", n)
	}
}

func TestRunIngestJob_FailureIsPersisted(t *testing.T) {
	h := newHarness(t, nil, false)
	ctx := context.Background()
	h.seedPipeline(t, "p1", "layer-centric")
	h.seedIngestJob(t, "j1", "p1", "landing/orders/missing.csv")

	res, err := h.svc.RunIngestJob(ctx, "p1", "j1")
	if !errors.Is(err, execution.ErrNoSourceData) {
		t.Fatalf("RunIngestJob() error = %v, want ErrNoSourceData", err)
	}
	run, err := h.ingest.GetIngestRun(ctx, res.RunID)
	if err != nil {
		t.Fatalf("GetIngestRun() error = %v", err)
	}
	if run.Status != domain.IngestRunFailed || run.ErrorMessage == "" || run.FinishedAt == nil {
		t.Fatalf("run=%+v, want persisted failure", run)
	}
	if n := h.count(t, `SELECT COUNT(*) FROM layer_centric_ingest_jobs WHERE id = 'j1' AND status = 'failed'`); n != 1 {
		t.Fatalf("job status not failed")
	}

	h.land("landing/orders/missing.csv", ordersCSV)
	if _, err := h.svc.RunIngestJob(ctx, "p1", "j1"); err != nil {
		t.Fatalf("RunIngestJob() after failure error = %v", err)
	}
}

func TestRunIngestJob_Guards(t *testing.T) {
	h := newHarness(t, nil, true)
	ctx := context.Background()
	h.seedPipeline(t, "sc", "source-centric")
	h.seedPipeline(t, "lc", "layer-centric")

	if _, err := h.svc.RunIngestJob(ctx, "missing", "j1"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("RunIngestJob(missing pipeline) error = %v, want ErrNotFound", err)
	}
	if _, err := h.svc.RunIngestJob(ctx, "sc", "j1"); !errors.Is(err, ErrNotLayerCentric) {
		t.Fatalf("RunIngestJob(source-centric) error = %v, want ErrNotLayerCentric", err)
	}
	if _, err := h.svc.RunIngestJob(ctx, "lc", "j1"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("RunIngestJob(missing job) error = %v, want ErrNotFound", err)
	}

	h.svc.cfg.LayerCentricEnabled = false
	if _, err := h.svc.RunIngestJob(ctx, "lc", "j1"); !errors.Is(err, ErrFeatureDisabled) {
		t.Fatalf("RunIngestJob(disabled) error = %v, want ErrFeatureDisabled", err)
	}
}

func TestNewRequiresDependencies(t *testing.T) {
	if New(Deps{}, Config{}, nil) != nil {
		t.Fatalf("New(empty deps) != nil")
	}
}

func TestRunDatasetJob_Delegated(t *testing.T) {
	eng := &fakeEngine{}
	h := newHarness(t, eng, true)
	ctx := context.Background()
	h.seedPipeline(t, "p1", "source-centric")
	h.seedDatasetJob(t, "d1", "p1", `["orders_clean"]`, `{"goldConfig":{"tableName":"revenue_daily","partitionBy":["day"]}}`)

	res, err := h.svc.RunDatasetJob(ctx, "p1", "d1")
	if err != nil {
		t.Fatalf("RunDatasetJob() error = %v", err)
	}
	if res.FlowRun == nil || res.FlowRun.ID != "flow-run-d1" || res.Warning != "" {
		t.Fatalf("result=%+v, want delegated flow run", res)
	}
	if res.Status != domain.ExecutionStatusRunning || res.OutputTable != "revenue_daily" || res.TargetLayer != domain.LayerGold {
		t.Fatalf("result=%+v", res)
	}
	ds := eng.last.Dataset
	if ds == nil || ds.ExecutionID != res.ExecutionID || !reflect.DeepEqual(ds.InputDatasets, []string{"orders_clean"}) {
		t.Fatalf("dataset parameters=%+v", ds)
	}
	if !strings.Contains(string(ds.LayerConfig), "partitionBy") {
		t.Fatalf("LayerConfig=%s, want gold config passed through", ds.LayerConfig)
	}

	ses, _ := h.execs.ListSourceExecutions(ctx, res.ExecutionID)
	if len(ses) != 1 || ses[0].Status != domain.SourceExecutionRunning || ses[0].FlowRunID != "flow-run-d1" {
		t.Fatalf("source executions=%+v", ses)
	}
	exec, _ := h.execs.GetExecution(ctx, res.ExecutionID)
	if exec.Status != domain.ExecutionStatusRunning {
		t.Fatalf("execution status=%q, want running", exec.Status)
	}
	if n := h.count(t, `SELECT COUNT(*) FROM sources WHERE id = 'd1' AND status = 'running'`); n != 1 {
		t.Fatalf("dataset job status not running")
	}
}

func TestRunDatasetJob_WithoutEngineIsRecordedFailed(t *testing.T) {
	h := newHarness(t, nil, true)
	ctx := context.Background()
	h.seedPipeline(t, "p1", "source-centric")
	h.seedDatasetJob(t, "d1", "p1", `["orders_clean"]`, `{"goldConfig":{"tableName":"revenue_daily"}}`)

	res, err := h.svc.RunDatasetJob(ctx, "p1", "d1")
	if err != nil {
		t.Fatalf("RunDatasetJob() error = %v", err)
	}
	if res.FlowRun != nil || res.Warning == "" || res.Status != domain.ExecutionStatusFailed {
		t.Fatalf("result=%+v, want failed with warning", res)
	}
	exec, _ := h.execs.GetExecution(ctx, res.ExecutionID)
	if exec.Status != domain.ExecutionStatusFailed || exec.CompletedAt == nil {
		t.Fatalf("execution=%+v, want failed", exec)
	}
	ses, _ := h.execs.ListSourceExecutions(ctx, res.ExecutionID)
	if len(ses) != 1 || ses[0].Status != domain.SourceExecutionFailed || ses[0].ErrorMessage == "" {
		t.Fatalf("source executions=%+v", ses)
	}
}

func TestRunDatasetJob_Guards(t *testing.T) {
	h := newHarness(t, &fakeEngine{}, true)
	ctx := context.Background()
	h.seedPipeline(t, "p1", "source-centric")
	h.seedDatasetJob(t, "no-inputs", "p1", `[]`, `{"goldConfig":{"tableName":"revenue_daily"}}`)
	h.seedDatasetJob(t, "no-output", "p1", `["orders_clean"]`, `{}`)
	h.seedSource(t, "s1", "p1", "Orders", 1, `{}`, `{}`, `{}`)

	if _, err := h.svc.RunDatasetJob(ctx, "p1", "no-inputs"); !errors.Is(err, ErrNoInputDatasets) {
		t.Fatalf("RunDatasetJob(no inputs) error = %v, want ErrNoInputDatasets", err)
	}
	if _, err := h.svc.RunDatasetJob(ctx, "p1", "no-output"); !errors.Is(err, ErrNoOutputTable) {
		t.Fatalf("RunDatasetJob(no output) error = %v, want ErrNoOutputTable", err)
	}
	if _, err := h.svc.RunDatasetJob(ctx, "p1", "s1"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("RunDatasetJob(ingestion source) error = %v, want ErrNotFound", err)
	}
	if _, err := h.svc.RunDatasetJob(ctx, "missing", "no-inputs"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("RunDatasetJob(missing pipeline) error = %v, want ErrNotFound", err)
	}
	if n := h.count(t, `SELECT COUNT(*) FROM executions`); n != 0 {
		t.Fatalf("executions=%d, want 0", n)
	}
}

func TestRunPipeline_SkipsDatasetJobs(t *testing.T) {
	h := newHarness(t, nil, true)
	ctx := context.Background()
	h.seedPipeline(t, "p1", "source-centric")
	h.seedSource(t, "s1", "p1", "Orders", 1, `{"fileConfig":{"filePath":"orders.csv"}}`, `{}`, `{}`)
	h.seedDatasetJob(t, "d1", "p1", `["orders_clean"]`, `{"goldConfig":{"tableName":"revenue_daily"}}`)
	h.land("landing/orders/orders.csv", ordersCSV)

	res, err := h.svc.RunPipeline(ctx, "p1")
	if err != nil {
		t.Fatalf("RunPipeline() error = %v", err)
	}
	if len(res.JobResults) != 1 || res.JobResults[0].SourceID != "s1" {
		t.Fatalf("JobResults=%+v, want only the ingestion source", res.JobResults)
	}
}
