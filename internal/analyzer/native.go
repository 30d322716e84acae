package analyzer

import (
	"context"
	"fmt"

	"github.com/animus-labs/pipeline-orchestrator/internal/inference"
)

// Native analyzes files in-process.
type Native struct{}

func NewNative() *Native {
	return &Native{}
}

func (n *Native) Analyze(ctx context.Context, req Request) (Analysis, error) {
	if err := ctx.Err(); err != nil {
		return Analysis{}, err
	}
	switch format := NormalizeFormat(req.Format); format {
	case "csv":
		res, err := inference.InferCSV(req.Data, req.Options)
		if err != nil {
			return Analysis{}, err
		}
		return Analysis{RowCount: res.RowCount, Schema: res.Schema}, nil
	case "json":
		res, err := inference.InferJSONDocument(req.Data)
		if err != nil {
			return Analysis{}, err
		}
		return Analysis{RowCount: res.RowCount, Schema: res.Schema}, nil
	case "parquet":
		return analyzeParquet(req.Data)
	default:
		return Analysis{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}

func (n *Native) Match(ctx context.Context, names []string, pattern string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return matchBaseNames(names, pattern)
}
