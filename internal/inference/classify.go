package inference

import (
	"errors"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/animus-labs/pipeline-orchestrator/internal/domain"
)

var (
	phoneLike  = regexp.MustCompile(`^[+\-()\s\d]+$`)
	isoDateish = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}(T.*)?$`)
)

var timestampLayouts = []string{
	"2006-01-02",
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02T15:04Z07:00",
}

// Classify assigns a primitive column type to a single raw value.
func Classify(value string) domain.ColumnType {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return domain.ColumnString
	}
	if isNumeric(trimmed) && !(phoneLike.MatchString(trimmed) && len(trimmed) > 7) {
		if strings.Contains(trimmed, ".") {
			return domain.ColumnFloat
		}
		return domain.ColumnInteger
	}
	if isoDateish.MatchString(trimmed) && parsesAsTimestamp(trimmed) {
		return domain.ColumnTimestamp
	}
	switch strings.ToLower(trimmed) {
	case "true", "false", "yes", "no", "1", "0":
		return domain.ColumnBoolean
	}
	return domain.ColumnString
}

func isNumeric(value string) bool {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		// Out-of-range values are still numbers.
		return errors.Is(err, strconv.ErrRange)
	}
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func parsesAsTimestamp(value string) bool {
	for _, layout := range timestampLayouts {
		if _, err := time.Parse(layout, value); err == nil {
			return true
		}
	}
	return false
}

// InferColumns assigns each column the most common classification over the
// first SampleRows rows. Ties go to the type seen first; columns without any
// sampled value are strings.
func InferColumns(header []string, rows [][]string) domain.Schema {
	sample := rows
	if len(sample) > SampleRows {
		sample = sample[:SampleRows]
	}
	schema := make(domain.Schema, 0, len(header))
	for i, name := range header {
		var types []domain.ColumnType
		for _, row := range sample {
			if i < len(row) {
				types = append(types, Classify(row[i]))
			}
		}
		schema = append(schema, domain.Column{Name: name, Type: mode(types)})
	}
	return schema
}

// SampleRows is the number of leading rows inspected per column.
const SampleRows = 10

func mode(types []domain.ColumnType) domain.ColumnType {
	if len(types) == 0 {
		return domain.ColumnString
	}
	counts := make(map[domain.ColumnType]int, len(types))
	for _, t := range types {
		counts[t]++
	}
	best := types[0]
	for _, t := range types[1:] {
		if counts[t] > counts[best] {
			best = t
		}
	}
	return best
}
