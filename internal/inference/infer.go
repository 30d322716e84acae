package inference

import (
	"fmt"
	"strings"

	"github.com/animus-labs/pipeline-orchestrator/internal/domain"
)

// Result is the outcome of analyzing a delimited or JSON payload.
type Result struct {
	RowCount int64
	Schema   domain.Schema
}

// InferCSV parses data and infers its schema.
func InferCSV(data []byte, opts CSVOptions) (Result, error) {
	table, err := ParseCSV(data, opts)
	if err != nil {
		return Result{}, err
	}
	return Result{RowCount: int64(len(table.Rows)), Schema: InferColumns(table.Header, table.Rows)}, nil
}

// InferJSONDocument parses data as JSON records and infers their schema.
func InferJSONDocument(data []byte) (Result, error) {
	records, err := ParseJSON(data)
	if err != nil {
		return Result{}, err
	}
	return Result{RowCount: int64(len(records)), Schema: InferJSON(records)}, nil
}

// Infer dispatches on format. Parquet is not handled here.
func Infer(format string, data []byte, opts CSVOptions) (Result, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "csv":
		return InferCSV(data, opts)
	case "json":
		return InferJSONDocument(data)
	default:
		return Result{}, fmt.Errorf("unsupported format %q", format)
	}
}
