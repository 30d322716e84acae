package execution

import "github.com/animus-labs/pipeline-orchestrator/internal/domain"

const (
	FormatCSV     = "csv"
	FormatJSON    = "json"
	FormatParquet = "parquet"
)

// Mock results report between MockRowsMin and MockRowsMin+MockRowsSpread-1
// rows.
const (
	MockRowsMin    = 100
	MockRowsSpread = 1400
)

// MockSchema is the placeholder schema reported when no source data exists.
func MockSchema(format string) domain.Schema {
	switch format {
	case FormatParquet:
		return domain.Schema{
			{Name: "record_id", Type: domain.ColumnString},
			{Name: "data", Type: domain.ColumnString},
			{Name: "timestamp", Type: domain.ColumnTimestamp},
		}
	case FormatJSON:
		return domain.Schema{
			{Name: "id", Type: domain.ColumnString},
			{Name: "payload", Type: domain.ColumnJSON},
			{Name: "metadata", Type: domain.ColumnJSON},
		}
	default:
		return domain.Schema{
			{Name: "id", Type: domain.ColumnInteger},
			{Name: "name", Type: domain.ColumnString},
			{Name: "value", Type: domain.ColumnFloat},
			{Name: "created_at", Type: domain.ColumnTimestamp},
			{Name: "is_active", Type: domain.ColumnBoolean},
		}
	}
}
