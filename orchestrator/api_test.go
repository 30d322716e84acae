package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/animus-labs/pipeline-orchestrator/internal/domain"
	"github.com/animus-labs/pipeline-orchestrator/internal/engine"
	"github.com/animus-labs/pipeline-orchestrator/internal/repo"
	"github.com/animus-labs/pipeline-orchestrator/internal/service/catalog"
	"github.com/animus-labs/pipeline-orchestrator/internal/service/orchestrator"
	"github.com/animus-labs/pipeline-orchestrator/internal/service/statussync"
)

type fakeRuns struct {
	pipeline    orchestrator.PipelineRunResult
	pipelineErr error
	ingest      orchestrator.IngestRunResult
	ingestErr   error
	dataset     orchestrator.DatasetRunResult
	datasetErr  error
}

func (f *fakeRuns) RunPipeline(ctx context.Context, pipelineID string) (orchestrator.PipelineRunResult, error) {
	return f.pipeline, f.pipelineErr
}

func (f *fakeRuns) RunIngestJob(ctx context.Context, pipelineID, jobID string) (orchestrator.IngestRunResult, error) {
	return f.ingest, f.ingestErr
}

func (f *fakeRuns) RunDatasetJob(ctx context.Context, pipelineID, jobID string) (orchestrator.DatasetRunResult, error) {
	return f.dataset, f.datasetErr
}

type fakeCatalog struct {
	entry     domain.CatalogEntry
	err       error
	lastQuery catalog.GraphQuery
}

func (f *fakeCatalog) Get(ctx context.Context, layer domain.Layer, table string, env domain.Environment) (domain.CatalogEntry, error) {
	if f.err != nil {
		return domain.CatalogEntry{}, f.err
	}
	if f.entry.Layer != layer || f.entry.TableName != table || f.entry.Environment != env {
		return domain.CatalogEntry{}, repo.ErrNotFound
	}
	return f.entry, nil
}

func (f *fakeCatalog) Graph(ctx context.Context, q catalog.GraphQuery) (catalog.Graph, error) {
	f.lastQuery = q
	return catalog.Graph{
		Root:        q.Table,
		Environment: q.Environment,
		Nodes:       []catalog.Node{{Table: q.Table}, {Table: "crm_orders", Depth: 1}},
		Edges:       []catalog.Edge{{From: "crm_orders", To: q.Table}},
	}, nil
}

type fakeSyncer struct{ err error }

func (f *fakeSyncer) SyncExecution(ctx context.Context, executionID string) (statussync.ExecutionSync, error) {
	if f.err != nil {
		return statussync.ExecutionSync{}, f.err
	}
	return statussync.ExecutionSync{
		ExecutionID: executionID,
		Status:      domain.ExecutionStatusCompleted,
		Jobs: []statussync.JobState{{
			SourceExecutionID: "se-1",
			SourceID:          "s1",
			FlowRunID:         "fr-1",
			EngineState:       engine.StateCompleted,
			Status:            domain.SourceExecutionCompleted,
			Changed:           true,
		}},
	}, nil
}

func newTestMux(runs runService, cat catalogService, syncer executionSyncer) *http.ServeMux {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	mux := http.NewServeMux()
	newOrchestratorAPI(logger, runs, cat, syncer).register(mux)
	return mux
}

func do(t *testing.T, h http.Handler, method, target string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("%s %s: decode body %q: %v", method, target, rec.Body.String(), err)
	}
	return rec, body
}

func TestRunPipeline_Success(t *testing.T) {
	runs := &fakeRuns{pipeline: orchestrator.PipelineRunResult{
		ExecutionID: "e1",
		Status:      domain.ExecutionStatusCompleted,
		JobResults: []orchestrator.JobResult{{
			SourceID:          "s1",
			SourceName:        "Orders",
			SourceExecutionID: "se-1",
			Status:            domain.SourceExecutionCompleted,
			RecordsProcessed:  3,
			OutputKeys:        []string{"bronze/orders/2024-03-09/orders_abc.csv"},
		}},
	}}
	rec, body := do(t, newTestMux(runs, &fakeCatalog{}, nil), http.MethodPost, "/pipelines/p1/run")
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200", rec.Code)
	}
	if body["success"] != true || body["executionId"] != "e1" || body["status"] != "completed" {
		t.Fatalf("body=%v, want success for e1", body)
	}
	jobs, _ := body["jobResults"].([]any)
	if len(jobs) != 1 {
		t.Fatalf("jobResults=%v, want 1 entry", body["jobResults"])
	}
	job := jobs[0].(map[string]any)
	if job["recordsProcessed"] != float64(3) || job["status"] != "completed" {
		t.Fatalf("job=%v, want 3 records completed", job)
	}
}

func TestRunPipeline_ErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		runs *fakeRuns
		want int
	}{
		{"missing pipeline", &fakeRuns{pipelineErr: fmt.Errorf("get pipeline p1: %w", repo.ErrNotFound)}, http.StatusNotFound},
		{"no jobs", &fakeRuns{pipelineErr: orchestrator.ErrNoJobs}, http.StatusBadRequest},
		{"job failure", &fakeRuns{
			pipeline: orchestrator.PipelineRunResult{
				ExecutionID: "e1",
				Status:      domain.ExecutionStatusFailed,
				JobResults:  []orchestrator.JobResult{{SourceID: "s1", Status: domain.SourceExecutionFailed, Error: "boom"}},
			},
			pipelineErr: errors.New("job Orders: boom"),
		}, http.StatusOK},
		{"orchestration failure", &fakeRuns{pipelineErr: errors.New("create execution: database is locked")}, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, body := do(t, newTestMux(tc.runs, &fakeCatalog{}, nil), http.MethodPost, "/pipelines/p1/run")
			if rec.Code != tc.want {
				t.Fatalf("status=%d, want %d (body=%v)", rec.Code, tc.want, body)
			}
			if body["success"] == true {
				t.Fatalf("body=%v, want success=false", body)
			}
		})
	}
}

func TestRunPipeline_FailureKeepsJobResults(t *testing.T) {
	runs := &fakeRuns{
		pipeline: orchestrator.PipelineRunResult{
			ExecutionID: "e1",
			Status:      domain.ExecutionStatusFailed,
			JobResults:  []orchestrator.JobResult{{SourceID: "s1", Status: domain.SourceExecutionFailed, Error: "no landing file"}},
		},
		pipelineErr: fmt.Errorf("job Orders: %w", orchestrator.ErrNoLandingFile),
	}
	rec, body := do(t, newTestMux(runs, &fakeCatalog{}, nil), http.MethodPost, "/pipelines/p1/run")
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200 for a recorded failure", rec.Code)
	}
	if body["success"] != false || body["executionId"] != "e1" || body["status"] != "failed" {
		t.Fatalf("body=%v, want failed execution e1", body)
	}
	if jobs, _ := body["jobResults"].([]any); len(jobs) != 1 {
		t.Fatalf("jobResults=%v, want the failed job", body["jobResults"])
	}
	if !strings.Contains(body["error"].(string), "landing file") {
		t.Fatalf("error=%v, want landing file message", body["error"])
	}
}

func TestRunDatasetJob_Delegated(t *testing.T) {
	runs := &fakeRuns{dataset: orchestrator.DatasetRunResult{
		ExecutionID:   "e9",
		JobID:         "dj1",
		JobName:       "Revenue",
		TargetLayer:   domain.LayerGold,
		InputDatasets: []string{"orders_clean"},
		OutputTable:   "revenue_daily",
		Status:        domain.ExecutionStatusRunning,
		FlowRun:       &engine.FlowRun{ID: "fr-9"},
	}}
	rec, body := do(t, newTestMux(runs, &fakeCatalog{}, nil), http.MethodPost, "/pipelines/p1/dataset-jobs/dj1/run")
	if rec.Code != http.StatusOK || body["success"] != true {
		t.Fatalf("status=%d body=%v, want 200 success", rec.Code, body)
	}
	if body["outputTableName"] != "revenue_daily" || body["targetLayer"] != "gold" || body["executionId"] != "e9" {
		t.Fatalf("body=%v", body)
	}
	prefect, _ := body["prefect"].(map[string]any)
	if prefect["flowRunId"] != "fr-9" || prefect["state"] != "PENDING" {
		t.Fatalf("prefect=%v, want fr-9 PENDING", body["prefect"])
	}
}

func TestRunDatasetJob_NotDelegatedCarriesWarning(t *testing.T) {
	runs := &fakeRuns{dataset: orchestrator.DatasetRunResult{
		ExecutionID: "e9",
		JobID:       "dj1",
		Status:      domain.ExecutionStatusFailed,
		Warning:     "workflow engine unavailable: deployment flowforge-dataset-job not found",
	}}
	rec, body := do(t, newTestMux(runs, &fakeCatalog{}, nil), http.MethodPost, "/pipelines/p1/dataset-jobs/dj1/run")
	if rec.Code != http.StatusOK || body["success"] != false || body["prefect"] != nil {
		t.Fatalf("status=%d body=%v, want 200 without flow run", rec.Code, body)
	}
	if !strings.Contains(body["warning"].(string), "flowforge-dataset-job") {
		t.Fatalf("warning=%v", body["warning"])
	}
}

func TestRunDatasetJob_ErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"missing job", fmt.Errorf("get dataset job dj1: %w", repo.ErrNotFound), http.StatusNotFound},
		{"no inputs", orchestrator.ErrNoInputDatasets, http.StatusBadRequest},
		{"no output table", orchestrator.ErrNoOutputTable, http.StatusBadRequest},
		{"store failure", errors.New("create execution: disk full"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			runs := &fakeRuns{datasetErr: tc.err}
			rec, body := do(t, newTestMux(runs, &fakeCatalog{}, nil), http.MethodPost, "/pipelines/p1/dataset-jobs/dj1/run")
			if rec.Code != tc.want {
				t.Fatalf("status=%d, want %d (body=%v)", rec.Code, tc.want, body)
			}
		})
	}
}

func TestRunIngestJob_ErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		run  orchestrator.IngestRunResult
		want int
	}{
		{"disabled", orchestrator.ErrFeatureDisabled, orchestrator.IngestRunResult{}, http.StatusForbidden},
		{"conflict", repo.ErrConflict, orchestrator.IngestRunResult{}, http.StatusConflict},
		{"not layer-centric", orchestrator.ErrNotLayerCentric, orchestrator.IngestRunResult{}, http.StatusBadRequest},
		{"missing job", fmt.Errorf("get ingest job j1: %w", repo.ErrNotFound), orchestrator.IngestRunResult{}, http.StatusNotFound},
		{"run failure", errors.New("analyze: bad csv"), orchestrator.IngestRunResult{RunID: "r1", Status: domain.IngestRunFailed}, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			runs := &fakeRuns{ingest: tc.run, ingestErr: tc.err}
			rec, body := do(t, newTestMux(runs, &fakeCatalog{}, nil), http.MethodPost, "/pipelines/p1/jobs/j1/run")
			if rec.Code != tc.want {
				t.Fatalf("status=%d, want %d (body=%v)", rec.Code, tc.want, body)
			}
		})
	}
}

func TestRunIngestJob_FailureReportsRun(t *testing.T) {
	runs := &fakeRuns{
		ingest:    orchestrator.IngestRunResult{RunID: "r1", Status: domain.IngestRunFailed, Error: "analyze: bad csv"},
		ingestErr: errors.New("analyze: bad csv"),
	}
	_, body := do(t, newTestMux(runs, &fakeCatalog{}, nil), http.MethodPost, "/pipelines/p1/jobs/j1/run")
	if body["success"] != false || body["runId"] != "r1" || body["status"] != "failed" || body["error"] != "analyze: bad csv" {
		t.Fatalf("body=%v, want failed run r1", body)
	}
}

func TestRunIngestJob_Success(t *testing.T) {
	runs := &fakeRuns{ingest: orchestrator.IngestRunResult{
		RunID:     "r1",
		Status:    domain.IngestRunSucceeded,
		RowCount:  3,
		OutputKey: "bronze/orders/2024-03-09/orders_r1.csv",
		Schema:    domain.Schema{{Name: "id", Type: domain.ColumnInteger}},
	}}
	rec, body := do(t, newTestMux(runs, &fakeCatalog{}, nil), http.MethodPost, "/pipelines/p1/jobs/j1/run")
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200", rec.Code)
	}
	if body["success"] != true || body["runId"] != "r1" || body["rowCount"] != float64(3) || body["outputKey"] == nil {
		t.Fatalf("body=%v, want succeeded run with 3 rows", body)
	}
}

func TestRunIngestJob_DelegatedOmitsRowCount(t *testing.T) {
	runs := &fakeRuns{ingest: orchestrator.IngestRunResult{RunID: "r1", Status: domain.IngestRunRunning, Delegated: true, FlowRunID: "fr-1"}}
	_, body := do(t, newTestMux(runs, &fakeCatalog{}, nil), http.MethodPost, "/pipelines/p1/jobs/j1/run")
	if _, ok := body["rowCount"]; ok {
		t.Fatalf("body=%v, want no rowCount", body)
	}
	if body["status"] != "running" || body["flowRunId"] != "fr-1" {
		t.Fatalf("body=%v, want running with flow run", body)
	}
}

func TestGetCatalogEntry(t *testing.T) {
	cat := &fakeCatalog{entry: domain.CatalogEntry{
		ID:           "c1",
		Layer:        domain.LayerBronze,
		TableName:    "orders",
		Environment:  domain.EnvironmentProd,
		RowCount:     3,
		ParentTables: []string{"crm_orders"},
		UpdatedAt:    time.Date(2024, 3, 9, 8, 0, 0, 0, time.UTC),
	}}
	mux := newTestMux(&fakeRuns{}, cat, nil)

	rec, body := do(t, mux, http.MethodGet, "/catalog/bronze/orders")
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200 (body=%v)", rec.Code, body)
	}
	if body["tableName"] != "orders" || body["rowCount"] != float64(3) || body["environment"] != "prod" {
		t.Fatalf("body=%v, want orders entry", body)
	}
	if schema, _ := body["schema"].([]any); schema == nil {
		t.Fatalf("schema=%v, want empty array", body["schema"])
	}

	if rec, _ := do(t, mux, http.MethodGet, "/catalog/bronze/orders?environment=development"); rec.Code != http.StatusNotFound {
		t.Fatalf("dev lookup status=%d, want 404", rec.Code)
	}
	if rec, _ := do(t, mux, http.MethodGet, "/catalog/platinum/orders"); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad layer status=%d, want 400", rec.Code)
	}
}

func TestLineage(t *testing.T) {
	cat := &fakeCatalog{}
	mux := newTestMux(&fakeRuns{}, cat, nil)

	rec, body := do(t, mux, http.MethodGet, "/catalog/lineage?table=orders&direction=upstream&depth=2&environment=dev")
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200 (body=%v)", rec.Code, body)
	}
	want := catalog.GraphQuery{
		Table:       "orders",
		Environment: domain.EnvironmentDev,
		Direction:   catalog.DirectionUpstream,
		Depth:       2,
		MaxEdges:    catalog.DefaultGraphMaxEdges,
	}
	if cat.lastQuery != want {
		t.Fatalf("query=%+v, want %+v", cat.lastQuery, want)
	}
	if edges, _ := body["edges"].([]any); len(edges) != 1 {
		t.Fatalf("edges=%v, want 1", body["edges"])
	}

	for _, target := range []string{
		"/catalog/lineage",
		"/catalog/lineage?table=orders&direction=sideways",
		"/catalog/lineage?table=orders&depth=deep",
	} {
		if rec, _ := do(t, mux, http.MethodGet, target); rec.Code != http.StatusBadRequest {
			t.Fatalf("GET %s status=%d, want 400", target, rec.Code)
		}
	}
}

func TestSyncExecution(t *testing.T) {
	rec, body := do(t, newTestMux(&fakeRuns{}, &fakeCatalog{}, nil), http.MethodPost, "/executions/e1/sync")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d, want 503 without engine", rec.Code)
	}

	rec, body = do(t, newTestMux(&fakeRuns{}, &fakeCatalog{}, &fakeSyncer{}), http.MethodPost, "/executions/e1/sync")
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200 (body=%v)", rec.Code, body)
	}
	jobs, _ := body["jobs"].([]any)
	if body["status"] != "completed" || len(jobs) != 1 || jobs[0].(map[string]any)["engineState"] != "COMPLETED" {
		t.Fatalf("body=%v, want completed with one job", body)
	}

	rec, _ = do(t, newTestMux(&fakeRuns{}, &fakeCatalog{}, &fakeSyncer{err: fmt.Errorf("get execution e9: %w", repo.ErrNotFound)}), http.MethodPost, "/executions/e9/sync")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status=%d, want 404", rec.Code)
	}
}

func TestServiceConfigValidate(t *testing.T) {
	base := serviceConfig{
		Addr:            ":8090",
		ShutdownTimeout: time.Second,
		Engine:          engineNone,
		AnalyzerTimeout: time.Second,
		ExtractLimit:    10,
		ExtractTimeout:  time.Second,
		MaxObjectBytes:  1,
		EngineRPS:       1,
		SyncInterval:    time.Second,
		SyncConcurrency: 1,
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	prefectNoURL := base
	prefectNoURL.Engine = enginePrefect
	if err := prefectNoURL.Validate(); err == nil {
		t.Fatalf("Validate() error = nil, want missing PREFECT_API_URL")
	}

	temporalNoQueue := base
	temporalNoQueue.Engine = engineTemporal
	temporalNoQueue.Temporal.HostPort = "localhost:7233"
	if err := temporalNoQueue.Validate(); err == nil {
		t.Fatalf("Validate() error = nil, want missing task queue")
	}

	noLimit := base
	noLimit.ExtractLimit = 0
	if err := noLimit.Validate(); err == nil {
		t.Fatalf("Validate() error = nil, want extract limit error")
	}
}

func TestConfigFromEnv_Defaults(t *testing.T) {
	t.Setenv("ORCH_ENGINE", "none")
	cfg, err := configFromEnv()
	if err != nil {
		t.Fatalf("configFromEnv() error = %v", err)
	}
	if !cfg.MockFallback || !cfg.LayerCentricEnabled || cfg.WorkerHostAlias != "host.docker.internal" {
		t.Fatalf("cfg=%+v, want defaults", cfg)
	}

	t.Setenv("ORCH_MOCK_FALLBACK", "maybe")
	if _, err := configFromEnv(); err == nil {
		t.Fatalf("configFromEnv() error = nil, want bool parse error")
	}
}
