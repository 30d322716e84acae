package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/animus-labs/pipeline-orchestrator/internal/domain"
)

type PipelineStore struct {
	db DB
}

func NewPipelineStore(db DB) *PipelineStore {
	if db == nil {
		return nil
	}
	return &PipelineStore{db: db}
}

func (s *PipelineStore) GetPipeline(ctx context.Context, id string) (domain.Pipeline, error) {
	if s == nil || s.db == nil {
		return domain.Pipeline{}, fmt.Errorf("pipeline store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Pipeline{}, fmt.Errorf("pipeline id is required")
	}

	var p domain.Pipeline
	var team, env sql.NullString
	var mode string
	var lastRun sql.NullInt64
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, name, owner, team, environment, pipeline_mode, last_run
		 FROM pipelines
		 WHERE id = $1`,
		id,
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Owner, &team, &env, &mode, &lastRun); err != nil {
		return domain.Pipeline{}, handleNotFound(err)
	}
	p.Team = team.String
	p.Environment = domain.NormalizeEnvironment(env.String)
	p.Mode = domain.PipelineMode(mode)
	p.LastRun = timePtr(lastRun)
	return p, nil
}

// ListSources returns the pipeline's sources in execution order. Dataset jobs
// are excluded; they run through GetDatasetJob.
func (s *PipelineStore) ListSources(ctx context.Context, pipelineID string) ([]domain.Source, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("pipeline store not initialized")
	}
	pipelineID = strings.TrimSpace(pipelineID)
	if pipelineID == "" {
		return nil, fmt.Errorf("pipeline id is required")
	}

	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, pipeline_id, name, type, order_index, source_config, destination_config, transformation_config
		 FROM sources
		 WHERE pipeline_id = $1 AND is_dataset_job = 0
		 ORDER BY order_index ASC, id ASC`,
		pipelineID,
	)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()

	var out []domain.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	return out, nil
}

func (s *PipelineStore) TouchLastRun(ctx context.Context, pipelineID string, at time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("pipeline store not initialized")
	}
	ms := toMillis(at)
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE pipelines SET last_run = $1, updated_at = $2 WHERE id = $3`,
		ms,
		ms,
		strings.TrimSpace(pipelineID),
	)
	if err != nil {
		return fmt.Errorf("touch pipeline last run: %w", err)
	}
	return requireRowsAffected(res)
}

func (s *PipelineStore) TouchSourceLastRun(ctx context.Context, sourceID string, at time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("pipeline store not initialized")
	}
	ms := toMillis(at)
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE sources SET last_run = $1, updated_at = $2 WHERE id = $3`,
		ms,
		ms,
		strings.TrimSpace(sourceID),
	)
	if err != nil {
		return fmt.Errorf("touch source last run: %w", err)
	}
	return requireRowsAffected(res)
}

func (s *PipelineStore) SetSourceStatus(ctx context.Context, sourceID, status string, at time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("pipeline store not initialized")
	}
	status = strings.TrimSpace(status)
	if status == "" {
		return fmt.Errorf("source status is required")
	}
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE sources SET status = $1, updated_at = $2 WHERE id = $3`,
		status,
		toMillis(at),
		strings.TrimSpace(sourceID),
	)
	if err != nil {
		return fmt.Errorf("set source status: %w", err)
	}
	return requireRowsAffected(res)
}

// GetDatasetJob loads a source row flagged is_dataset_job that belongs to
// pipelineID.
func (s *PipelineStore) GetDatasetJob(ctx context.Context, pipelineID, jobID string) (domain.DatasetJob, error) {
	if s == nil || s.db == nil {
		return domain.DatasetJob{}, fmt.Errorf("pipeline store not initialized")
	}
	pipelineID = strings.TrimSpace(pipelineID)
	jobID = strings.TrimSpace(jobID)
	if pipelineID == "" || jobID == "" {
		return domain.DatasetJob{}, fmt.Errorf("pipeline id and job id are required")
	}

	var job domain.DatasetJob
	var layer, inputs, transformSQL sql.NullString
	var destination string
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, pipeline_id, name, target_layer, input_datasets, transform_sql, destination_config
		 FROM sources
		 WHERE id = $1 AND pipeline_id = $2 AND is_dataset_job = 1`,
		jobID,
		pipelineID,
	)
	if err := row.Scan(&job.ID, &job.PipelineID, &job.Name, &layer, &inputs, &transformSQL, &destination); err != nil {
		return domain.DatasetJob{}, handleNotFound(err)
	}
	job.TargetLayer = domain.Layer(strings.ToLower(strings.TrimSpace(layer.String)))
	job.TransformSQL = transformSQL.String
	datasets, err := decodeStrings(inputs)
	if err != nil {
		return domain.DatasetJob{}, fmt.Errorf("dataset job %s input datasets: %w", job.ID, err)
	}
	job.InputDatasets = datasets
	if err := decodeJSONColumn(destination, &job.DestinationConfig); err != nil {
		return domain.DatasetJob{}, fmt.Errorf("dataset job %s destination config: %w", job.ID, err)
	}
	return job, nil
}

func scanSource(row scanner) (domain.Source, error) {
	var src domain.Source
	var sourceType, sourceConfig, destinationConfig string
	var transformationConfig sql.NullString
	if err := row.Scan(&src.ID, &src.PipelineID, &src.Name, &sourceType, &src.OrderIndex,
		&sourceConfig, &destinationConfig, &transformationConfig); err != nil {
		return domain.Source{}, fmt.Errorf("scan source: %w", err)
	}
	src.Type = domain.SourceType(sourceType)

	cfg, err := domain.ParseSourceConfig([]byte(sourceConfig))
	if err != nil {
		return domain.Source{}, fmt.Errorf("source %s: %w", src.ID, err)
	}
	if cfg.Kind == "" || (src.Type == domain.SourceTypeDatabase && cfg.Kind != domain.SourceKindDatabase) {
		cfg, err = reparseAs(sourceConfig, src.Type)
		if err != nil {
			return domain.Source{}, fmt.Errorf("source %s: %w", src.ID, err)
		}
	}
	src.SourceConfig = cfg

	if err := decodeJSONColumn(destinationConfig, &src.DestinationConfig); err != nil {
		return domain.Source{}, fmt.Errorf("source %s destination config: %w", src.ID, err)
	}
	if transformationConfig.Valid {
		if err := decodeJSONColumn(transformationConfig.String, &src.TransformationConfig); err != nil {
			return domain.Source{}, fmt.Errorf("source %s transformation config: %w", src.ID, err)
		}
	}
	return src, nil
}

// reparseAs decodes a config whose blob lacks a type discriminator, using the
// source row's type column instead.
func reparseAs(raw string, sourceType domain.SourceType) (domain.SourceConfig, error) {
	var generic map[string]any
	if err := decodeJSONColumn(raw, &generic); err != nil {
		return domain.SourceConfig{}, err
	}
	if generic == nil {
		generic = map[string]any{}
	}
	generic["type"] = string(sourceType)
	return domain.ParseSourceConfig(mustJSON(generic))
}
