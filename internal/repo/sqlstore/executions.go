package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/animus-labs/pipeline-orchestrator/internal/domain"
)

type ExecutionStore struct {
	db DB
}

func NewExecutionStore(db DB) *ExecutionStore {
	if db == nil {
		return nil
	}
	return &ExecutionStore{db: db}
}

func (s *ExecutionStore) CreateExecution(ctx context.Context, execution domain.Execution) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("execution store not initialized")
	}
	if err := execution.Validate(); err != nil {
		return err
	}
	started := toMillis(execution.StartedAt)
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO executions (id, pipeline_id, status, started_at, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6)`,
		strings.TrimSpace(execution.ID),
		strings.TrimSpace(execution.PipelineID),
		string(execution.Status),
		started,
		started,
		started,
	)
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	return nil
}

func (s *ExecutionStore) GetExecution(ctx context.Context, id string) (domain.Execution, error) {
	if s == nil || s.db == nil {
		return domain.Execution{}, fmt.Errorf("execution store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Execution{}, fmt.Errorf("execution id is required")
	}
	var e domain.Execution
	var status string
	var started int64
	var completed, duration sql.NullInt64
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, pipeline_id, status, started_at, completed_at, duration_ms
		 FROM executions
		 WHERE id = $1`,
		id,
	)
	if err := row.Scan(&e.ID, &e.PipelineID, &status, &started, &completed, &duration); err != nil {
		return domain.Execution{}, handleNotFound(err)
	}
	e.Status = domain.ExecutionStatus(status)
	e.StartedAt = fromMillis(started)
	e.CompletedAt = timePtr(completed)
	e.DurationMS = duration.Int64
	return e, nil
}

func (s *ExecutionStore) FinishExecution(ctx context.Context, id string, status domain.ExecutionStatus, completedAt time.Time, durationMS int64) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("execution store not initialized")
	}
	var completed sql.NullInt64
	if status != domain.ExecutionStatusRunning {
		completed = nullMillis(&completedAt)
	}
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE executions
		 SET status = $1, completed_at = $2, duration_ms = $3, updated_at = $4
		 WHERE id = $5`,
		string(status),
		completed,
		durationMS,
		toMillis(completedAt),
		strings.TrimSpace(id),
	)
	if err != nil {
		return fmt.Errorf("update execution: %w", err)
	}
	return requireRowsAffected(res)
}

func (s *ExecutionStore) CreateSourceExecution(ctx context.Context, se domain.SourceExecution) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("execution store not initialized")
	}
	if err := se.Validate(); err != nil {
		return err
	}
	started := toMillis(se.StartedAt)
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO source_executions (id, execution_id, source_id, status, started_at, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		strings.TrimSpace(se.ID),
		strings.TrimSpace(se.ExecutionID),
		strings.TrimSpace(se.SourceID),
		string(se.Status),
		started,
		started,
		started,
	)
	if err != nil {
		return fmt.Errorf("insert source execution: %w", err)
	}
	return nil
}

func (s *ExecutionStore) UpdateSourceExecution(ctx context.Context, se domain.SourceExecution) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("execution store not initialized")
	}
	if strings.TrimSpace(se.ID) == "" {
		return fmt.Errorf("source execution id is required")
	}
	logs, err := encodeStrings(se.Logs)
	if err != nil {
		return fmt.Errorf("encode logs: %w", err)
	}
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE source_executions
		 SET status = $1,
		     flow_run_id = $2,
		     completed_at = $3,
		     duration_ms = $4,
		     records_processed = $5,
		     bronze_records = $6,
		     source_file_path = $7,
		     bronze_file_path = $8,
		     logs = $9,
		     error_message = $10,
		     updated_at = $11
		 WHERE id = $12`,
		string(se.Status),
		nullIfEmpty(se.FlowRunID),
		nullMillis(se.CompletedAt),
		se.DurationMS,
		se.RecordsProcessed,
		se.RecordsProcessed,
		nullIfEmpty(se.SourceFilePath),
		nullIfEmpty(se.BronzeFilePath),
		logs,
		nullIfEmpty(se.ErrorMessage),
		toMillis(time.Now()),
		strings.TrimSpace(se.ID),
	)
	if err != nil {
		return fmt.Errorf("update source execution: %w", err)
	}
	return requireRowsAffected(res)
}

func (s *ExecutionStore) ListSourceExecutions(ctx context.Context, executionID string) ([]domain.SourceExecution, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("execution store not initialized")
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, execution_id, source_id, status, flow_run_id, started_at, completed_at, duration_ms,
			records_processed, source_file_path, bronze_file_path, logs, error_message
		 FROM source_executions
		 WHERE execution_id = $1
		 ORDER BY started_at ASC, id ASC`,
		strings.TrimSpace(executionID),
	)
	if err != nil {
		return nil, fmt.Errorf("list source executions: %w", err)
	}
	defer rows.Close()

	var out []domain.SourceExecution
	for rows.Next() {
		se, err := scanSourceExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, se)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list source executions: %w", err)
	}
	return out, nil
}

func scanSourceExecution(row scanner) (domain.SourceExecution, error) {
	var se domain.SourceExecution
	var status string
	var started int64
	var flowRunID, sourcePath, bronzePath, logs, errMsg sql.NullString
	var completed, duration sql.NullInt64
	if err := row.Scan(&se.ID, &se.ExecutionID, &se.SourceID, &status, &flowRunID, &started, &completed, &duration,
		&se.RecordsProcessed, &sourcePath, &bronzePath, &logs, &errMsg); err != nil {
		return domain.SourceExecution{}, fmt.Errorf("scan source execution: %w", err)
	}
	decodedLogs, err := decodeStrings(logs)
	if err != nil {
		return domain.SourceExecution{}, fmt.Errorf("decode logs: %w", err)
	}
	se.Status = domain.SourceExecutionStatus(status)
	se.FlowRunID = flowRunID.String
	se.StartedAt = fromMillis(started)
	se.CompletedAt = timePtr(completed)
	se.DurationMS = duration.Int64
	se.SourceFilePath = sourcePath.String
	se.BronzeFilePath = bronzePath.String
	se.Logs = decodedLogs
	se.ErrorMessage = errMsg.String
	return se, nil
}
