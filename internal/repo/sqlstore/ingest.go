package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/animus-labs/pipeline-orchestrator/internal/domain"
	"github.com/animus-labs/pipeline-orchestrator/internal/platform/database"
	"github.com/animus-labs/pipeline-orchestrator/internal/repo"
)

type IngestStore struct {
	db DB
}

func NewIngestStore(db DB) *IngestStore {
	if db == nil {
		return nil
	}
	return &IngestStore{db: db}
}

func (s *IngestStore) GetIngestJob(ctx context.Context, pipelineID, jobID string) (domain.IngestJob, error) {
	if s == nil || s.db == nil {
		return domain.IngestJob{}, fmt.Errorf("ingest store not initialized")
	}
	pipelineID = strings.TrimSpace(pipelineID)
	jobID = strings.TrimSpace(jobID)
	if pipelineID == "" || jobID == "" {
		return domain.IngestJob{}, fmt.Errorf("pipeline id and job id are required")
	}

	var job domain.IngestJob
	var sourcePath, options sql.NullString
	var env string
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, pipeline_id, name, source_type, source_path, file_format, options, target_table, environment, status
		 FROM layer_centric_ingest_jobs
		 WHERE id = $1 AND pipeline_id = $2`,
		jobID,
		pipelineID,
	)
	if err := row.Scan(&job.ID, &job.PipelineID, &job.Name, &job.SourceType, &sourcePath, &job.FileFormat,
		&options, &job.TargetTable, &env, &job.Status); err != nil {
		return domain.IngestJob{}, handleNotFound(err)
	}
	job.SourcePath = sourcePath.String
	job.FileFormat = strings.ToLower(strings.TrimSpace(job.FileFormat))
	job.Environment = domain.NormalizeEnvironment(env)
	if options.Valid {
		if err := decodeJSONColumn(options.String, &job.Options); err != nil {
			return domain.IngestJob{}, fmt.Errorf("ingest job %s options: %w", job.ID, err)
		}
	}
	return job, nil
}

func (s *IngestStore) SetIngestJobStatus(ctx context.Context, jobID, status string, at time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("ingest store not initialized")
	}
	ms := toMillis(at)
	var lastRun sql.NullInt64
	if status != "running" {
		lastRun = sql.NullInt64{Int64: ms, Valid: true}
	}
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE layer_centric_ingest_jobs
		 SET status = $1, last_run = COALESCE($2, last_run), updated_at = $3
		 WHERE id = $4`,
		status,
		lastRun,
		ms,
		strings.TrimSpace(jobID),
	)
	if err != nil {
		return fmt.Errorf("update ingest job status: %w", err)
	}
	return requireRowsAffected(res)
}

// CreateIngestRun inserts a run. The partial unique index on active runs turns
// a concurrent second start into repo.ErrConflict without creating a row.
func (s *IngestStore) CreateIngestRun(ctx context.Context, run domain.IngestRun) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("ingest store not initialized")
	}
	if err := run.Validate(); err != nil {
		return err
	}
	started := toMillis(run.StartedAt)
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO layer_centric_ingest_runs (id, job_id, status, started_at, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6)`,
		strings.TrimSpace(run.ID),
		strings.TrimSpace(run.JobID),
		string(run.Status),
		started,
		started,
		started,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return repo.ErrConflict
		}
		return fmt.Errorf("insert ingest run: %w", err)
	}
	return nil
}

func (s *IngestStore) UpdateIngestRun(ctx context.Context, run domain.IngestRun) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("ingest store not initialized")
	}
	if strings.TrimSpace(run.ID) == "" {
		return fmt.Errorf("ingest run id is required")
	}
	var schema sql.NullString
	if run.ActualSchema != nil {
		encoded, err := run.ActualSchema.Encode()
		if err != nil {
			return err
		}
		schema = sql.NullString{String: encoded, Valid: true}
	}
	var rowCount sql.NullInt64
	if run.Status == domain.IngestRunSucceeded {
		rowCount = sql.NullInt64{Int64: run.RowCount, Valid: true}
	}
	var duration sql.NullInt64
	if run.FinishedAt != nil {
		duration = sql.NullInt64{Int64: run.DurationMS, Valid: true}
	}
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE layer_centric_ingest_runs
		 SET status = $1,
		     prefect_flow_run_id = $2,
		     row_count = $3,
		     output_key = $4,
		     actual_schema = $5,
		     source_checksum = $6,
		     error_message = $7,
		     finished_at = $8,
		     duration_ms = $9,
		     updated_at = $10
		 WHERE id = $11`,
		string(run.Status),
		nullIfEmpty(run.FlowRunID),
		rowCount,
		nullIfEmpty(run.OutputKey),
		schema,
		nullIfEmpty(run.SourceChecksum),
		nullIfEmpty(run.ErrorMessage),
		nullMillis(run.FinishedAt),
		duration,
		toMillis(time.Now()),
		strings.TrimSpace(run.ID),
	)
	if err != nil {
		return fmt.Errorf("update ingest run: %w", err)
	}
	return requireRowsAffected(res)
}

const selectIngestRun = `SELECT id, job_id, status, prefect_flow_run_id, row_count, output_key, actual_schema,
	source_checksum, error_message, started_at, finished_at, duration_ms
 FROM layer_centric_ingest_runs`

func (s *IngestStore) GetIngestRun(ctx context.Context, id string) (domain.IngestRun, error) {
	if s == nil || s.db == nil {
		return domain.IngestRun{}, fmt.Errorf("ingest store not initialized")
	}
	row := s.db.QueryRowContext(ctx, selectIngestRun+` WHERE id = $1`, strings.TrimSpace(id))
	run, err := scanIngestRun(row)
	if err != nil {
		return domain.IngestRun{}, handleNotFound(err)
	}
	return run, nil
}

// ListDelegatedIngestRuns returns active runs handed to the workflow engine,
// oldest first.
func (s *IngestStore) ListDelegatedIngestRuns(ctx context.Context, limit int) ([]domain.IngestRun, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("ingest store not initialized")
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.db.QueryContext(
		ctx,
		selectIngestRun+` WHERE status IN ('pending', 'running') AND prefect_flow_run_id IS NOT NULL
		 ORDER BY started_at ASC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list delegated ingest runs: %w", err)
	}
	defer rows.Close()

	var out []domain.IngestRun
	for rows.Next() {
		run, err := scanIngestRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list delegated ingest runs: %w", err)
	}
	return out, nil
}

func scanIngestRun(row scanner) (domain.IngestRun, error) {
	var run domain.IngestRun
	var status string
	var started int64
	var flowRunID, outputKey, schema, checksum, errMsg sql.NullString
	var rowCount, finished, duration sql.NullInt64
	if err := row.Scan(&run.ID, &run.JobID, &status, &flowRunID, &rowCount, &outputKey, &schema,
		&checksum, &errMsg, &started, &finished, &duration); err != nil {
		return domain.IngestRun{}, err
	}
	if schema.Valid {
		decoded, err := domain.DecodeSchema(schema.String)
		if err != nil {
			return domain.IngestRun{}, err
		}
		run.ActualSchema = decoded
	}
	run.Status = domain.IngestRunStatus(status)
	run.FlowRunID = flowRunID.String
	run.RowCount = rowCount.Int64
	run.OutputKey = outputKey.String
	run.SourceChecksum = checksum.String
	run.ErrorMessage = errMsg.String
	run.StartedAt = fromMillis(started)
	run.FinishedAt = timePtr(finished)
	run.DurationMS = duration.Int64
	return run, nil
}
