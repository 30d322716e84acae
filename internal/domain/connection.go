package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// StorageConnection is a saved file/storage source. Only S3-compatible
// connections can be copied into the landing zone.
type StorageConnection struct {
	ID     string
	Name   string
	Type   string
	Config StorageConnectionConfig
}

type StorageConnectionConfig struct {
	Bucket string `json:"bucket,omitempty"`
	Prefix string `json:"prefix,omitempty"`
	Path   string `json:"path,omitempty"`
}

func DecodeStorageConnectionConfig(raw string) (StorageConnectionConfig, error) {
	var cfg StorageConnectionConfig
	if strings.TrimSpace(raw) == "" {
		return cfg, nil
	}
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return StorageConnectionConfig{}, fmt.Errorf("decode storage connection config: %w", err)
	}
	return cfg, nil
}

// ObjectKey joins the connection prefix and a relative file path.
func (c StorageConnectionConfig) ObjectKey(filePath string) string {
	prefix := strings.Trim(c.Prefix, "/")
	if prefix == "" {
		prefix = strings.Trim(c.Path, "/")
	}
	filePath = strings.TrimLeft(filePath, "/")
	if prefix == "" {
		return filePath
	}
	return prefix + "/" + filePath
}
