package sqlstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/animus-labs/pipeline-orchestrator/internal/domain"
)

type ConnectionStore struct {
	db DB
}

func NewConnectionStore(db DB) *ConnectionStore {
	if db == nil {
		return nil
	}
	return &ConnectionStore{db: db}
}

// FindDatabasePassword returns the stored password of the saved connection
// matching all four identifying fields.
func (s *ConnectionStore) FindDatabasePassword(ctx context.Context, host string, port int, database, username string) (string, error) {
	if s == nil || s.db == nil {
		return "", fmt.Errorf("connection store not initialized")
	}
	var password string
	row := s.db.QueryRowContext(
		ctx,
		`SELECT password
		 FROM database_connections
		 WHERE host = $1 AND port = $2 AND database_name = $3 AND username = $4
		 ORDER BY updated_at DESC
		 LIMIT 1`,
		strings.TrimSpace(host),
		port,
		strings.TrimSpace(database),
		strings.TrimSpace(username),
	)
	if err := row.Scan(&password); err != nil {
		return "", handleNotFound(err)
	}
	return password, nil
}

func (s *ConnectionStore) GetStorageConnection(ctx context.Context, id string) (domain.StorageConnection, error) {
	if s == nil || s.db == nil {
		return domain.StorageConnection{}, fmt.Errorf("connection store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.StorageConnection{}, fmt.Errorf("storage connection id is required")
	}
	var conn domain.StorageConnection
	var rawConfig string
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, name, type, config FROM storage_connections WHERE id = $1`,
		id,
	)
	if err := row.Scan(&conn.ID, &conn.Name, &conn.Type, &rawConfig); err != nil {
		return domain.StorageConnection{}, handleNotFound(err)
	}
	cfg, err := domain.DecodeStorageConnectionConfig(rawConfig)
	if err != nil {
		return domain.StorageConnection{}, err
	}
	conn.Config = cfg
	return conn, nil
}
