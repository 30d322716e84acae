package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

type Layer string

const (
	LayerBronze Layer = "bronze"
	LayerSilver Layer = "silver"
	LayerGold   Layer = "gold"
)

func ParseLayer(value string) (Layer, error) {
	switch l := Layer(strings.ToLower(strings.TrimSpace(value))); l {
	case LayerBronze, LayerSilver, LayerGold:
		return l, nil
	default:
		return "", fmt.Errorf("unknown layer %q", value)
	}
}

// ColumnType is the primitive type assigned by schema inference.
type ColumnType string

const (
	ColumnInteger   ColumnType = "integer"
	ColumnFloat     ColumnType = "float"
	ColumnTimestamp ColumnType = "timestamp"
	ColumnBoolean   ColumnType = "boolean"
	ColumnString    ColumnType = "string"
	ColumnJSON      ColumnType = "json"
)

type Column struct {
	Name string     `json:"name"`
	Type ColumnType `json:"type"`
}

// Schema is an ordered column list, persisted as a JSON array.
type Schema []Column

func (s Schema) Encode() (string, error) {
	if s == nil {
		s = Schema{}
	}
	b, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("encode schema: %w", err)
	}
	return string(b), nil
}

func DecodeSchema(raw string) (Schema, error) {
	if strings.TrimSpace(raw) == "" {
		return Schema{}, nil
	}
	var s Schema
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, fmt.Errorf("decode schema: %w", err)
	}
	return s, nil
}

// CatalogEntry is one metadata_catalog row, unique per
// (layer, table_name, environment).
type CatalogEntry struct {
	ID              string
	Layer           Layer
	TableName       string
	Environment     Environment
	Schema          Schema
	RowCount        int64
	FilePath        string
	ParentTables    []string
	DatasetStatus   string
	LastExecutionID string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (e CatalogEntry) Validate() error {
	if strings.TrimSpace(e.ID) == "" {
		return errors.New("catalog id is required")
	}
	if _, err := ParseLayer(string(e.Layer)); err != nil {
		return err
	}
	if strings.TrimSpace(e.TableName) == "" {
		return errors.New("table name is required")
	}
	if e.Environment == "" {
		return errors.New("environment is required")
	}
	return nil
}

// HasParent reports exact membership of table in ParentTables.
func (e CatalogEntry) HasParent(table string) bool {
	for _, p := range e.ParentTables {
		if p == table {
			return true
		}
	}
	return false
}

const DatasetStatusReady = "ready"
