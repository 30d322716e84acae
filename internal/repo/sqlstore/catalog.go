package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/animus-labs/pipeline-orchestrator/internal/domain"
)

type CatalogStore struct {
	db DB
}

func NewCatalogStore(db DB) *CatalogStore {
	if db == nil {
		return nil
	}
	return &CatalogStore{db: db}
}

// UpsertCatalogEntry inserts or updates the row keyed by
// (layer, table_name, environment). id and created_at are kept on update;
// parent_tables is only replaced when the entry carries a value.
func (s *CatalogStore) UpsertCatalogEntry(ctx context.Context, entry domain.CatalogEntry) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("catalog store not initialized")
	}
	if err := entry.Validate(); err != nil {
		return err
	}
	schema, err := entry.Schema.Encode()
	if err != nil {
		return err
	}
	parents, err := encodeStrings(entry.ParentTables)
	if err != nil {
		return fmt.Errorf("encode parent tables: %w", err)
	}
	created := toMillis(entry.CreatedAt)
	updated := toMillis(entry.UpdatedAt)

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO metadata_catalog (
			id, layer, table_name, environment, schema, row_count, file_path,
			parent_tables, dataset_status, last_execution_id, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (layer, table_name, environment) DO UPDATE SET
			schema = excluded.schema,
			row_count = excluded.row_count,
			file_path = excluded.file_path,
			parent_tables = COALESCE(excluded.parent_tables, metadata_catalog.parent_tables),
			dataset_status = excluded.dataset_status,
			last_execution_id = excluded.last_execution_id,
			updated_at = excluded.updated_at`,
		strings.TrimSpace(entry.ID),
		string(entry.Layer),
		strings.TrimSpace(entry.TableName),
		string(entry.Environment),
		schema,
		entry.RowCount,
		nullIfEmpty(entry.FilePath),
		parents,
		nullIfEmpty(entry.DatasetStatus),
		nullIfEmpty(entry.LastExecutionID),
		created,
		updated,
	)
	if err != nil {
		return fmt.Errorf("upsert catalog entry: %w", err)
	}
	return nil
}

const selectCatalogEntry = `SELECT id, layer, table_name, environment, schema, row_count, file_path,
	parent_tables, dataset_status, last_execution_id, created_at, updated_at
 FROM metadata_catalog`

func (s *CatalogStore) GetCatalogEntry(ctx context.Context, layer domain.Layer, table string, env domain.Environment) (domain.CatalogEntry, error) {
	if s == nil || s.db == nil {
		return domain.CatalogEntry{}, fmt.Errorf("catalog store not initialized")
	}
	row := s.db.QueryRowContext(
		ctx,
		selectCatalogEntry+` WHERE layer = $1 AND table_name = $2 AND environment = $3`,
		string(layer),
		strings.TrimSpace(table),
		string(env),
	)
	entry, err := scanCatalogEntry(row)
	if err != nil {
		return domain.CatalogEntry{}, handleNotFound(err)
	}
	return entry, nil
}

func (s *CatalogStore) ListByTableName(ctx context.Context, table string, env domain.Environment) ([]domain.CatalogEntry, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("catalog store not initialized")
	}
	return s.list(ctx, selectCatalogEntry+` WHERE table_name = $1 AND environment = $2 ORDER BY layer ASC`,
		strings.TrimSpace(table), string(env))
}

func (s *CatalogStore) ListParentContaining(ctx context.Context, table string, env domain.Environment) ([]domain.CatalogEntry, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("catalog store not initialized")
	}
	return s.list(ctx, selectCatalogEntry+` WHERE parent_tables LIKE $1 ESCAPE '\' AND environment = $2 ORDER BY table_name ASC, layer ASC`,
		"%"+likeEscape(jsonStringBody(strings.TrimSpace(table)))+"%", string(env))
}

func (s *CatalogStore) list(ctx context.Context, query string, args ...any) ([]domain.CatalogEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list catalog entries: %w", err)
	}
	defer rows.Close()

	var out []domain.CatalogEntry
	for rows.Next() {
		entry, err := scanCatalogEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list catalog entries: %w", err)
	}
	return out, nil
}

func scanCatalogEntry(row scanner) (domain.CatalogEntry, error) {
	var e domain.CatalogEntry
	var layer, env, schema string
	var rowCount sql.NullInt64
	var filePath, parents, status, lastExec sql.NullString
	var created, updated int64
	if err := row.Scan(&e.ID, &layer, &e.TableName, &env, &schema, &rowCount, &filePath,
		&parents, &status, &lastExec, &created, &updated); err != nil {
		return domain.CatalogEntry{}, err
	}
	decoded, err := domain.DecodeSchema(schema)
	if err != nil {
		return domain.CatalogEntry{}, err
	}
	parentTables, err := decodeStrings(parents)
	if err != nil {
		return domain.CatalogEntry{}, fmt.Errorf("decode parent tables: %w", err)
	}
	e.Layer = domain.Layer(layer)
	e.Environment = domain.Environment(env)
	e.Schema = decoded
	e.RowCount = rowCount.Int64
	e.FilePath = filePath.String
	e.ParentTables = parentTables
	e.DatasetStatus = status.String
	e.LastExecutionID = lastExec.String
	e.CreatedAt = fromMillis(created)
	e.UpdatedAt = fromMillis(updated)
	return e, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// likeEscape quotes LIKE metacharacters for use with ESCAPE '\'.
func likeEscape(value string) string {
	return likeEscaper.Replace(value)
}

// jsonStringBody returns value as it appears inside a stored JSON string.
func jsonStringBody(value string) string {
	encoded, err := encodeJSONColumn(value)
	if err != nil {
		return value
	}
	return strings.TrimSuffix(strings.TrimPrefix(encoded, `"`), `"`)
}
