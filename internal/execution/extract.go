package execution

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/microsoft/go-mssqldb"
	_ "modernc.org/sqlite"

	"github.com/animus-labs/pipeline-orchestrator/internal/domain"
)

const (
	DefaultExtractLimit   = 10000
	DefaultExtractTimeout = 2 * time.Minute
)

var (
	ErrUnsupportedDriver = errors.New("unsupported database type")
	ErrInvalidTable      = errors.New("invalid table name")
	ErrInvalidQuery      = errors.New("invalid source query")
	// ErrNoSelection is returned when a database source names neither a
	// table nor a query.
	ErrNoSelection = errors.New("database source declares neither tableName nor query")

	tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)
)

// Extractor reads rows of a database source as a JSON array of records. A
// configured query takes precedence over the table.
type Extractor interface {
	Extract(ctx context.Context, src domain.DatabaseSourceConfig, limit int) ([]byte, error)
}

// SQLExtractor extracts through database/sql with the pgx, mysql, sqlserver
// and sqlite drivers.
type SQLExtractor struct {
	timeout time.Duration
	open    func(driver, dsn string) (*sql.DB, error)
}

func NewSQLExtractor(timeout time.Duration) *SQLExtractor {
	if timeout <= 0 {
		timeout = DefaultExtractTimeout
	}
	return &SQLExtractor{timeout: timeout, open: sql.Open}
}

func (e *SQLExtractor) Extract(ctx context.Context, src domain.DatabaseSourceConfig, limit int) ([]byte, error) {
	if e == nil || e.open == nil {
		return nil, errors.New("sql extractor not initialized")
	}
	if limit <= 0 {
		limit = DefaultExtractLimit
	}
	driver, dsn, err := DriverDSN(src.Connection)
	if err != nil {
		return nil, err
	}
	stmt, err := SelectStatement(driver, src, limit)
	if err != nil {
		return nil, err
	}

	db, err := e.open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	rows, err := db.QueryContext(ctx, stmt)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", selectionName(src), err)
	}
	defer rows.Close()
	return encodeRows(rows, limit)
}

// DriverDSN maps a connection onto a registered driver name and DSN.
func DriverDSN(conn domain.ConnectionConfig) (string, string, error) {
	switch strings.ToLower(strings.TrimSpace(conn.Type)) {
	case "postgres", "postgresql", "":
		u := url.URL{
			Scheme: "postgres",
			User:   url.UserPassword(conn.Username, conn.Password),
			Host:   hostPort(conn.Host, conn.Port, 5432),
			Path:   "/" + conn.Database,
		}
		return "pgx", u.String(), nil
	case "mysql", "mariadb":
		cfg := mysql.NewConfig()
		cfg.User = conn.Username
		cfg.Passwd = conn.Password
		cfg.Net = "tcp"
		cfg.Addr = hostPort(conn.Host, conn.Port, 3306)
		cfg.DBName = conn.Database
		return "mysql", cfg.FormatDSN(), nil
	case "sqlserver", "mssql":
		u := url.URL{
			Scheme:   "sqlserver",
			User:     url.UserPassword(conn.Username, conn.Password),
			Host:     hostPort(conn.Host, conn.Port, 1433),
			RawQuery: url.Values{"database": []string{conn.Database}}.Encode(),
		}
		return "sqlserver", u.String(), nil
	case "sqlite":
		if strings.TrimSpace(conn.Database) == "" {
			return "", "", errors.New("sqlite database path is required")
		}
		return "sqlite", conn.Database, nil
	default:
		return "", "", fmt.Errorf("%w: %s", ErrUnsupportedDriver, conn.Type)
	}
}

func hostPort(host string, port, fallback int) string {
	if port <= 0 {
		port = fallback
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// SelectStatement builds the read for src. A custom query must be a single
// SELECT or WITH statement and runs as written; the row limit is then applied
// while encoding.
func SelectStatement(driver string, src domain.DatabaseSourceConfig, limit int) (string, error) {
	if q := strings.TrimSpace(src.Query); q != "" {
		q = strings.TrimSpace(strings.TrimRight(q, "; \t\r\n"))
		lower := strings.ToLower(q)
		if strings.Contains(q, ";") || !(strings.HasPrefix(lower, "select") || strings.HasPrefix(lower, "with")) {
			return "", fmt.Errorf("%w: must be a single SELECT statement", ErrInvalidQuery)
		}
		return q, nil
	}
	table := strings.TrimSpace(src.Table)
	if table == "" {
		return "", ErrNoSelection
	}
	if !tableName.MatchString(table) {
		return "", fmt.Errorf("%w: %q", ErrInvalidTable, table)
	}
	return selectQuery(driver, table, limit), nil
}

func selectQuery(driver, from string, limit int) string {
	if driver == "sqlserver" {
		return fmt.Sprintf("SELECT TOP (%d) * FROM %s", limit, from)
	}
	return fmt.Sprintf("SELECT * FROM %s LIMIT %d", from, limit)
}

func selectionName(src domain.DatabaseSourceConfig) string {
	if strings.TrimSpace(src.Query) != "" {
		return "custom query"
	}
	return src.Table
}

// encodeRows writes at most limit rows as a JSON array, keeping the column
// order of the result set in every object.
func encodeRows(rows *sql.Rows, limit int) ([]byte, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	names := make([][]byte, len(columns))
	for i, c := range columns {
		names[i], _ = json.Marshal(c)
	}

	var buf bytes.Buffer
	buf.WriteByte('[')
	values := make([]any, len(columns))
	dest := make([]any, len(columns))
	for i := range values {
		dest[i] = &values[i]
	}
	first := true
	for n := 0; n < limit && rows.Next(); n++ {
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		if !first {
			buf.WriteByte(',')
		}
		first = false
		buf.WriteByte('{')
		for i, v := range values {
			if i > 0 {
				buf.WriteByte(',')
			}
			buf.Write(names[i])
			buf.WriteByte(':')
			encoded, err := json.Marshal(jsonValue(v))
			if err != nil {
				return nil, fmt.Errorf("encode column %s: %w", columns[i], err)
			}
			buf.Write(encoded)
		}
		buf.WriteByte('}')
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

func jsonValue(v any) any {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	default:
		return t
	}
}
