// Package catalog records landed tables in metadata_catalog and answers
// lineage questions over their parent_tables.
package catalog

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/animus-labs/pipeline-orchestrator/internal/domain"
	"github.com/animus-labs/pipeline-orchestrator/internal/repo"
)

type Writer struct {
	repo  repo.CatalogRepository
	now   func() time.Time
	newID func() string
}

func NewWriter(catalogRepo repo.CatalogRepository) *Writer {
	if catalogRepo == nil {
		return nil
	}
	return &Writer{repo: catalogRepo, now: time.Now, newID: uuid.NewString}
}

// UpsertInput describes one table version. A nil ParentTables keeps the
// lineage already stored for the table.
type UpsertInput struct {
	Layer           domain.Layer
	Table           string
	Environment     domain.Environment
	Schema          domain.Schema
	RowCount        int64
	FilePath        string
	ParentTables    []string
	DatasetStatus   string
	LastExecutionID string
}

// Upsert writes the entry keyed by (layer, table, environment) and returns the
// stored row.
func (w *Writer) Upsert(ctx context.Context, in UpsertInput) (domain.CatalogEntry, error) {
	if w == nil || w.repo == nil {
		return domain.CatalogEntry{}, errors.New("catalog writer not initialized")
	}
	env := in.Environment
	if env == "" {
		env = domain.EnvironmentProd
	}
	now := w.now().UTC()
	entry := domain.CatalogEntry{
		ID:              w.newID(),
		Layer:           in.Layer,
		TableName:       strings.TrimSpace(in.Table),
		Environment:     env,
		Schema:          in.Schema,
		RowCount:        in.RowCount,
		FilePath:        in.FilePath,
		ParentTables:    cleanTables(in.ParentTables),
		DatasetStatus:   in.DatasetStatus,
		LastExecutionID: in.LastExecutionID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := w.repo.UpsertCatalogEntry(ctx, entry); err != nil {
		return domain.CatalogEntry{}, err
	}
	return w.repo.GetCatalogEntry(ctx, entry.Layer, entry.TableName, entry.Environment)
}

func (w *Writer) Get(ctx context.Context, layer domain.Layer, table string, env domain.Environment) (domain.CatalogEntry, error) {
	if w == nil || w.repo == nil {
		return domain.CatalogEntry{}, errors.New("catalog writer not initialized")
	}
	return w.repo.GetCatalogEntry(ctx, layer, strings.TrimSpace(table), env)
}

// Upstream returns the parent tables recorded for table in any layer.
func (w *Writer) Upstream(ctx context.Context, table string, env domain.Environment) ([]string, error) {
	if w == nil || w.repo == nil {
		return nil, errors.New("catalog writer not initialized")
	}
	entries, err := w.repo.ListByTableName(ctx, strings.TrimSpace(table), env)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, e := range entries {
		for _, parent := range e.ParentTables {
			if _, ok := seen[parent]; ok {
				continue
			}
			seen[parent] = struct{}{}
			out = append(out, parent)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Downstream returns the entries that list table as a parent.
func (w *Writer) Downstream(ctx context.Context, table string, env domain.Environment) ([]domain.CatalogEntry, error) {
	if w == nil || w.repo == nil {
		return nil, errors.New("catalog writer not initialized")
	}
	table = strings.TrimSpace(table)
	candidates, err := w.repo.ListParentContaining(ctx, table, env)
	if err != nil {
		return nil, err
	}
	out := make([]domain.CatalogEntry, 0, len(candidates))
	for _, e := range candidates {
		if e.HasParent(table) {
			out = append(out, e)
		}
	}
	return out, nil
}

func cleanTables(tables []string) []string {
	if tables == nil {
		return nil
	}
	out := make([]string, 0, len(tables))
	for _, t := range tables {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}
