package credentials

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/animus-labs/pipeline-orchestrator/internal/domain"
	"github.com/animus-labs/pipeline-orchestrator/internal/repo"
)

// DefaultWorkerHostAlias is the hostname workers use to reach services bound
// to the orchestrator host.
const DefaultWorkerHostAlias = "host.docker.internal"

// PasswordLookup finds the stored password of a saved database connection.
type PasswordLookup interface {
	FindDatabasePassword(ctx context.Context, host string, port int, database, username string) (string, error)
}

// Enricher completes database connection settings before they are handed to
// a worker.
type Enricher struct {
	lookup    PasswordLookup
	hostAlias string
	logger    *slog.Logger
}

// NewEnricher returns an Enricher. An empty hostAlias disables loopback
// rewriting.
func NewEnricher(lookup PasswordLookup, hostAlias string, logger *slog.Logger) *Enricher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Enricher{lookup: lookup, hostAlias: strings.TrimSpace(hostAlias), logger: logger}
}

// Enrich returns a copy of cfg with a missing password filled from saved
// connections and loopback hosts rewritten to the worker alias. Lookup
// failures leave the password empty. cfg is never modified.
func (e *Enricher) Enrich(ctx context.Context, cfg domain.SourceConfig) domain.SourceConfig {
	out := cfg.Clone()
	if e == nil || out.Database == nil {
		return out
	}
	conn := &out.Database.Connection

	if conn.CanLookupPassword() && e.lookup != nil {
		password, err := e.lookup.FindDatabasePassword(ctx, conn.Host, conn.Port, conn.Database, conn.Username)
		switch {
		case err == nil:
			conn.Password = password
		case errors.Is(err, repo.ErrNotFound):
			e.logger.Debug("no saved connection for source", "host", conn.Host, "database", conn.Database)
		default:
			e.logger.Warn("password lookup failed", "host", conn.Host, "database", conn.Database, "error", err)
		}
	}

	if e.hostAlias != "" && IsLoopback(conn.Host) {
		conn.Host = e.hostAlias
	}
	return out
}

// IsLoopback reports whether host names the local machine.
func IsLoopback(host string) bool {
	switch strings.ToLower(strings.Trim(strings.TrimSpace(host), "[]")) {
	case "localhost", "127.0.0.1", "::1":
		return true
	default:
		return false
	}
}
