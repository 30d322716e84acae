// Package databasetest opens migrated in-memory SQLite databases for store tests.
package databasetest

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/animus-labs/pipeline-orchestrator/internal/platform/database"
)

func OpenSQLite(t testing.TB) *sql.DB {
	t.Helper()

	db, err := database.Open(context.Background(), database.Config{
		Driver:       database.DialectSQLite,
		URL:          ":memory:",
		PingTimeout:  2 * time.Second,
		MaxOpenConns: 1,
		MaxIdleConns: 1,
		Migrate:      true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}
