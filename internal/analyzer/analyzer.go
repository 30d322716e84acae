// Package analyzer counts rows and infers column types of landed files.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/animus-labs/pipeline-orchestrator/internal/domain"
	"github.com/animus-labs/pipeline-orchestrator/internal/inference"
)

var (
	ErrAnalyzerTimeout   = errors.New("file analyzer timed out")
	ErrUnsupportedFormat = errors.New("unsupported file format")
)

type Request struct {
	Data    []byte
	Format  string
	Options inference.CSVOptions
}

type Analysis struct {
	RowCount int64
	Schema   domain.Schema
}

// FileAnalyzer analyzes file payloads and matches object names against glob
// patterns.
type FileAnalyzer interface {
	Analyze(ctx context.Context, req Request) (Analysis, error)
	Match(ctx context.Context, names []string, pattern string) ([]string, error)
}

// NormalizeFormat lower-cases format and defaults it to csv.
func NormalizeFormat(format string) string {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		return "csv"
	}
	return format
}

// matchBaseNames keeps the names whose final path element matches pattern.
func matchBaseNames(names []string, pattern string) ([]string, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return nil, errors.New("pattern is required")
	}
	if _, err := path.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	var out []string
	for _, name := range names {
		if ok, _ := path.Match(pattern, path.Base(name)); ok {
			out = append(out, name)
		}
	}
	return out, nil
}
