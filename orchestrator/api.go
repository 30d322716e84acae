package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/animus-labs/pipeline-orchestrator/internal/domain"
	"github.com/animus-labs/pipeline-orchestrator/internal/engine"
	"github.com/animus-labs/pipeline-orchestrator/internal/platform/httpserver"
	"github.com/animus-labs/pipeline-orchestrator/internal/repo"
	"github.com/animus-labs/pipeline-orchestrator/internal/service/catalog"
	"github.com/animus-labs/pipeline-orchestrator/internal/service/orchestrator"
	"github.com/animus-labs/pipeline-orchestrator/internal/service/statussync"
)

type runService interface {
	RunPipeline(ctx context.Context, pipelineID string) (orchestrator.PipelineRunResult, error)
	RunIngestJob(ctx context.Context, pipelineID, jobID string) (orchestrator.IngestRunResult, error)
	RunDatasetJob(ctx context.Context, pipelineID, jobID string) (orchestrator.DatasetRunResult, error)
}

type catalogService interface {
	Get(ctx context.Context, layer domain.Layer, table string, env domain.Environment) (domain.CatalogEntry, error)
	Graph(ctx context.Context, q catalog.GraphQuery) (catalog.Graph, error)
}

type executionSyncer interface {
	SyncExecution(ctx context.Context, executionID string) (statussync.ExecutionSync, error)
}

type orchestratorAPI struct {
	logger  *slog.Logger
	runs    runService
	catalog catalogService
	// syncer is nil when no workflow engine is configured.
	syncer executionSyncer
}

func newOrchestratorAPI(logger *slog.Logger, runs runService, cat catalogService, syncer executionSyncer) *orchestratorAPI {
	return &orchestratorAPI{
		logger:  logger,
		runs:    runs,
		catalog: cat,
		syncer:  syncer,
	}
}

func (api *orchestratorAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /pipelines/{pipeline_id}/run", api.handleRunPipeline)
	mux.HandleFunc("POST /pipelines/{pipeline_id}/jobs/{job_id}/run", api.handleRunIngestJob)
	mux.HandleFunc("POST /pipelines/{pipeline_id}/dataset-jobs/{job_id}/run", api.handleRunDatasetJob)

	mux.HandleFunc("GET /catalog/lineage", api.handleLineage)
	mux.HandleFunc("GET /catalog/{layer}/{table}", api.handleGetCatalogEntry)

	mux.HandleFunc("POST /executions/{execution_id}/sync", api.handleSyncExecution)
}

type jobResultResponse struct {
	SourceID          string   `json:"sourceId"`
	SourceName        string   `json:"sourceName"`
	SourceExecutionID string   `json:"sourceExecutionId"`
	Status            string   `json:"status"`
	Delegated         bool     `json:"delegated"`
	Mock              bool     `json:"mock,omitempty"`
	FlowRunIDs        []string `json:"flowRunIds,omitempty"`
	RecordsProcessed  int64    `json:"recordsProcessed"`
	LandingKeys       []string `json:"landingKeys,omitempty"`
	OutputKeys        []string `json:"outputKeys,omitempty"`
	Error             string   `json:"error,omitempty"`
}

type pipelineRunResponse struct {
	Success     bool                `json:"success"`
	ExecutionID string              `json:"executionId,omitempty"`
	Status      string              `json:"status,omitempty"`
	JobResults  []jobResultResponse `json:"jobResults"`
	Error       string              `json:"error,omitempty"`
}

func (api *orchestratorAPI) handleRunPipeline(w http.ResponseWriter, r *http.Request) {
	pipelineID := strings.TrimSpace(r.PathValue("pipeline_id"))
	if pipelineID == "" {
		httpserver.WriteError(w, r, http.StatusBadRequest, "pipeline_id_required", "")
		return
	}

	res, err := api.runs.RunPipeline(r.Context(), pipelineID)
	if err != nil {
		switch {
		case errors.Is(err, repo.ErrNotFound) && res.ExecutionID == "":
			httpserver.WriteError(w, r, http.StatusNotFound, "pipeline_not_found", "")
			return
		case errors.Is(err, orchestrator.ErrNoJobs):
			httpserver.WriteError(w, r, http.StatusBadRequest, "no_jobs", "pipeline has no jobs")
			return
		}
		resp := toPipelineRunResponse(res)
		resp.Error = err.Error()
		if res.ExecutionID != "" && res.Status == domain.ExecutionStatusFailed {
			// The failure is recorded on the execution; report it as a result.
			api.logger.Warn("pipeline run failed", "pipeline_id", pipelineID, "execution_id", res.ExecutionID, "error", err)
			httpserver.WriteJSON(w, http.StatusOK, resp)
			return
		}
		api.logger.Error("pipeline run failed", "pipeline_id", pipelineID, "execution_id", res.ExecutionID, "error", err)
		httpserver.WriteJSON(w, http.StatusInternalServerError, resp)
		return
	}

	resp := toPipelineRunResponse(res)
	resp.Success = true
	httpserver.WriteJSON(w, http.StatusOK, resp)
}

func toPipelineRunResponse(res orchestrator.PipelineRunResult) pipelineRunResponse {
	out := pipelineRunResponse{
		ExecutionID: res.ExecutionID,
		Status:      string(res.Status),
		JobResults:  make([]jobResultResponse, 0, len(res.JobResults)),
	}
	for _, jr := range res.JobResults {
		out.JobResults = append(out.JobResults, jobResultResponse{
			SourceID:          jr.SourceID,
			SourceName:        jr.SourceName,
			SourceExecutionID: jr.SourceExecutionID,
			Status:            string(jr.Status),
			Delegated:         jr.Delegated,
			Mock:              jr.Mock,
			FlowRunIDs:        jr.FlowRunIDs,
			RecordsProcessed:  jr.RecordsProcessed,
			LandingKeys:       jr.LandingKeys,
			OutputKeys:        jr.OutputKeys,
			Error:             jr.Error,
		})
	}
	return out
}

type ingestRunResponse struct {
	Success   bool            `json:"success"`
	RunID     string          `json:"runId,omitempty"`
	Status    string          `json:"status,omitempty"`
	FlowRunID string          `json:"flowRunId,omitempty"`
	Delegated bool            `json:"delegated,omitempty"`
	Mock      bool            `json:"mock,omitempty"`
	RowCount  *int64          `json:"rowCount,omitempty"`
	OutputKey string          `json:"outputKey,omitempty"`
	Schema    []domain.Column `json:"schema,omitempty"`
	Error     string          `json:"error,omitempty"`
}

func (api *orchestratorAPI) handleRunIngestJob(w http.ResponseWriter, r *http.Request) {
	pipelineID := strings.TrimSpace(r.PathValue("pipeline_id"))
	jobID := strings.TrimSpace(r.PathValue("job_id"))
	if pipelineID == "" || jobID == "" {
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_path", "")
		return
	}

	res, err := api.runs.RunIngestJob(r.Context(), pipelineID, jobID)
	if err != nil {
		switch {
		case errors.Is(err, orchestrator.ErrFeatureDisabled):
			httpserver.WriteError(w, r, http.StatusForbidden, "feature_disabled", "layer-centric ingest is disabled")
		case errors.Is(err, repo.ErrConflict):
			httpserver.WriteError(w, r, http.StatusConflict, "run_in_progress", "a run for this job is already in progress")
		case errors.Is(err, orchestrator.ErrNotLayerCentric):
			httpserver.WriteError(w, r, http.StatusBadRequest, "not_layer_centric", "pipeline is not layer-centric")
		case errors.Is(err, repo.ErrNotFound) && res.RunID == "":
			httpserver.WriteError(w, r, http.StatusNotFound, "not_found", "")
		default:
			api.logger.Error("ingest run failed", "pipeline_id", pipelineID, "job_id", jobID, "run_id", res.RunID, "error", err)
			httpserver.WriteJSON(w, http.StatusInternalServerError, ingestRunResponse{
				RunID:  res.RunID,
				Status: string(res.Status),
				Error:  err.Error(),
			})
		}
		return
	}

	resp := ingestRunResponse{
		Success:   true,
		RunID:     res.RunID,
		Status:    string(res.Status),
		FlowRunID: res.FlowRunID,
		Delegated: res.Delegated,
		Mock:      res.Mock,
		OutputKey: res.OutputKey,
		Schema:    res.Schema,
	}
	if !res.Delegated {
		rows := res.RowCount
		resp.RowCount = &rows
	}
	httpserver.WriteJSON(w, http.StatusOK, resp)
}

type datasetFlowRunResponse struct {
	FlowRunID string `json:"flowRunId"`
	State     string `json:"state"`
}

type datasetRunResponse struct {
	Success         bool                    `json:"success"`
	ExecutionID     string                  `json:"executionId"`
	JobID           string                  `json:"jobId"`
	JobName         string                  `json:"jobName"`
	TargetLayer     string                  `json:"targetLayer"`
	InputDatasets   []string                `json:"inputDatasets"`
	OutputTableName string                  `json:"outputTableName"`
	Status          string                  `json:"status"`
	Prefect         *datasetFlowRunResponse `json:"prefect"`
	Warning         string                  `json:"warning,omitempty"`
}

func (api *orchestratorAPI) handleRunDatasetJob(w http.ResponseWriter, r *http.Request) {
	pipelineID := strings.TrimSpace(r.PathValue("pipeline_id"))
	jobID := strings.TrimSpace(r.PathValue("job_id"))
	if pipelineID == "" || jobID == "" {
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_path", "")
		return
	}

	res, err := api.runs.RunDatasetJob(r.Context(), pipelineID, jobID)
	if err != nil {
		switch {
		case errors.Is(err, repo.ErrNotFound) && res.ExecutionID == "":
			httpserver.WriteError(w, r, http.StatusNotFound, "dataset_job_not_found", "dataset job not found")
		case errors.Is(err, orchestrator.ErrNoInputDatasets):
			httpserver.WriteError(w, r, http.StatusBadRequest, "no_input_datasets", err.Error())
		case errors.Is(err, orchestrator.ErrNoOutputTable):
			httpserver.WriteError(w, r, http.StatusBadRequest, "no_output_table", err.Error())
		default:
			api.logger.Error("dataset job run failed", "pipeline_id", pipelineID, "job_id", jobID, "error", err)
			httpserver.WriteError(w, r, http.StatusInternalServerError, "dataset_job_failed", err.Error())
		}
		return
	}

	resp := datasetRunResponse{
		Success:         res.FlowRun != nil,
		ExecutionID:     res.ExecutionID,
		JobID:           res.JobID,
		JobName:         res.JobName,
		TargetLayer:     string(res.TargetLayer),
		InputDatasets:   res.InputDatasets,
		OutputTableName: res.OutputTable,
		Status:          string(res.Status),
		Warning:         res.Warning,
	}
	if fr := res.FlowRun; fr != nil {
		state := string(fr.State)
		if state == "" {
			state = string(engine.StatePending)
		}
		resp.Prefect = &datasetFlowRunResponse{FlowRunID: fr.ID, State: state}
	}
	httpserver.WriteJSON(w, http.StatusOK, resp)
}

type catalogEntryResponse struct {
	ID              string          `json:"id"`
	Layer           string          `json:"layer"`
	TableName       string          `json:"tableName"`
	Environment     string          `json:"environment"`
	Schema          []domain.Column `json:"schema"`
	RowCount        int64           `json:"rowCount"`
	FilePath        string          `json:"filePath,omitempty"`
	ParentTables    []string        `json:"parentTables"`
	DatasetStatus   string          `json:"datasetStatus,omitempty"`
	LastExecutionID string          `json:"lastExecutionId,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

func (api *orchestratorAPI) handleGetCatalogEntry(w http.ResponseWriter, r *http.Request) {
	layer, err := domain.ParseLayer(r.PathValue("layer"))
	if err != nil {
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_layer", err.Error())
		return
	}
	table := strings.TrimSpace(r.PathValue("table"))
	env := domain.NormalizeEnvironment(r.URL.Query().Get("environment"))

	entry, err := api.catalog.Get(r.Context(), layer, table, env)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			httpserver.WriteError(w, r, http.StatusNotFound, "not_found", "")
			return
		}
		api.logger.Error("catalog read failed", "layer", layer, "table", table, "error", err)
		httpserver.WriteError(w, r, http.StatusInternalServerError, "internal_error", "")
		return
	}

	schema := entry.Schema
	if schema == nil {
		schema = domain.Schema{}
	}
	parents := entry.ParentTables
	if parents == nil {
		parents = []string{}
	}
	httpserver.WriteJSON(w, http.StatusOK, catalogEntryResponse{
		ID:              entry.ID,
		Layer:           string(entry.Layer),
		TableName:       entry.TableName,
		Environment:     string(entry.Environment),
		Schema:          schema,
		RowCount:        entry.RowCount,
		FilePath:        entry.FilePath,
		ParentTables:    parents,
		DatasetStatus:   entry.DatasetStatus,
		LastExecutionID: entry.LastExecutionID,
		CreatedAt:       entry.CreatedAt,
		UpdatedAt:       entry.UpdatedAt,
	})
}

func (api *orchestratorAPI) handleLineage(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	table := strings.TrimSpace(q.Get("table"))
	if table == "" {
		httpserver.WriteError(w, r, http.StatusBadRequest, "table_required", "")
		return
	}
	direction, err := catalog.ParseDirection(q.Get("direction"))
	if err != nil {
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_direction", err.Error())
		return
	}
	depth, ok := parseIntQuery(q.Get("depth"), catalog.DefaultGraphDepth)
	if !ok {
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_depth", "")
		return
	}
	maxEdges, ok := parseIntQuery(q.Get("maxEdges"), catalog.DefaultGraphMaxEdges)
	if !ok {
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_max_edges", "")
		return
	}

	graph, err := api.catalog.Graph(r.Context(), catalog.GraphQuery{
		Table:       table,
		Environment: domain.NormalizeEnvironment(q.Get("environment")),
		Direction:   direction,
		Depth:       depth,
		MaxEdges:    maxEdges,
	})
	if err != nil {
		api.logger.Error("lineage graph failed", "table", table, "error", err)
		httpserver.WriteError(w, r, http.StatusInternalServerError, "internal_error", "")
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, graph)
}

type syncJobResponse struct {
	SourceExecutionID string `json:"sourceExecutionId"`
	SourceID          string `json:"sourceId"`
	FlowRunID         string `json:"flowRunId,omitempty"`
	EngineState       string `json:"engineState,omitempty"`
	Status            string `json:"status"`
	Changed           bool   `json:"changed"`
}

type syncResponse struct {
	ExecutionID string            `json:"executionId"`
	Status      string            `json:"status"`
	Jobs        []syncJobResponse `json:"jobs"`
}

func (api *orchestratorAPI) handleSyncExecution(w http.ResponseWriter, r *http.Request) {
	if api.syncer == nil {
		httpserver.WriteError(w, r, http.StatusServiceUnavailable, "engine_not_configured", "no workflow engine is configured")
		return
	}
	executionID := strings.TrimSpace(r.PathValue("execution_id"))

	res, err := api.syncer.SyncExecution(r.Context(), executionID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			httpserver.WriteError(w, r, http.StatusNotFound, "execution_not_found", "")
			return
		}
		api.logger.Error("execution sync failed", "execution_id", executionID, "error", err)
		httpserver.WriteError(w, r, http.StatusInternalServerError, "internal_error", "")
		return
	}

	out := syncResponse{ExecutionID: res.ExecutionID, Status: string(res.Status), Jobs: make([]syncJobResponse, 0, len(res.Jobs))}
	for _, j := range res.Jobs {
		out.Jobs = append(out.Jobs, syncJobResponse{
			SourceExecutionID: j.SourceExecutionID,
			SourceID:          j.SourceID,
			FlowRunID:         j.FlowRunID,
			EngineState:       string(j.EngineState),
			Status:            string(j.Status),
			Changed:           j.Changed,
		})
	}
	httpserver.WriteJSON(w, http.StatusOK, out)
}

// parseIntQuery returns def for an empty value and ok=false for garbage.
func parseIntQuery(raw string, def int) (int, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return n, true
}
