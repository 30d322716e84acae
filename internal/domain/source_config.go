package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// SourceKind discriminates the SourceConfig union.
type SourceKind string

const (
	SourceKindFile     SourceKind = "file"
	SourceKindDatabase SourceKind = "database"
	SourceKindAPI      SourceKind = "api"
)

// SourceConfig is decoded once from the persisted JSON blob. Exactly one of
// File, Database or API is set, matching Kind.
type SourceConfig struct {
	Kind     SourceKind
	File     *FileSourceConfig
	Database *DatabaseSourceConfig
	API      *APISourceConfig
}

type FileSourceConfig struct {
	FilePath            string
	FileFormat          string
	HasHeader           *bool
	Delimiter           string
	Pattern             string
	LandingKey          string
	StorageConnectionID string
	PrimaryKeys         []string
	ColumnMappings      []ColumnMapping
}

// Header reports the header flag, defaulting to true.
func (f FileSourceConfig) Header() bool {
	if f.HasHeader == nil {
		return true
	}
	return *f.HasHeader
}

type DatabaseSourceConfig struct {
	Connection  ConnectionConfig
	Table       string
	Query       string
	PrimaryKeys []string
}

type ConnectionConfig struct {
	ConnectionID string
	Type         string
	Host         string
	Port         int
	Database     string
	Username     string
	Password     string
}

// CanLookupPassword reports whether the identifying fields are complete and
// only the password is missing.
func (c ConnectionConfig) CanLookupPassword() bool {
	return strings.TrimSpace(c.Host) != "" &&
		c.Port > 0 &&
		strings.TrimSpace(c.Database) != "" &&
		strings.TrimSpace(c.Username) != "" &&
		c.Password == ""
}

type APISourceConfig struct {
	URL    string
	Method string
}

type ColumnMapping struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Type   string `json:"type,omitempty"`
}

type sourceConfigWire struct {
	Type           string              `json:"type,omitempty"`
	FileConfig     *fileConfigWire     `json:"fileConfig,omitempty"`
	Connection     *connectionWire     `json:"connection,omitempty"`
	DatabaseConfig *databaseConfigWire `json:"databaseConfig,omitempty"`
	APIConfig      *apiConfigWire      `json:"apiConfig,omitempty"`
	PrimaryKeys    []string            `json:"primaryKeys,omitempty"`
	ColumnMappings []ColumnMapping     `json:"columnMappings,omitempty"`
}

type fileConfigWire struct {
	FilePath            string `json:"filePath,omitempty"`
	FileFormat          string `json:"fileFormat,omitempty"`
	HasHeader           *bool  `json:"hasHeader,omitempty"`
	Delimiter           string `json:"delimiter,omitempty"`
	FilePattern         string `json:"filePattern,omitempty"`
	LandingKey          string `json:"landingKey,omitempty"`
	StorageConnectionID string `json:"storageConnectionId,omitempty"`
}

type connectionWire struct {
	ConnectionID string   `json:"connectionId,omitempty"`
	Type         string   `json:"type,omitempty"`
	Host         string   `json:"host,omitempty"`
	Port         flexPort `json:"port,omitempty"`
	Database     string   `json:"database,omitempty"`
	Username     string   `json:"username,omitempty"`
	Password     string   `json:"password,omitempty"`
}

type databaseConfigWire struct {
	TableName string `json:"tableName,omitempty"`
	Table     string `json:"table,omitempty"`
	Query     string `json:"query,omitempty"`
}

type apiConfigWire struct {
	URL    string `json:"url,omitempty"`
	Method string `json:"method,omitempty"`
}

// flexPort accepts both 5432 and "5432".
type flexPort int

func (p *flexPort) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if raw == "" || raw == "null" {
		*p = 0
		return nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("port: %w", err)
	}
	*p = flexPort(n)
	return nil
}

func ParseSourceConfig(data []byte) (SourceConfig, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return SourceConfig{}, nil
	}
	var cfg SourceConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return SourceConfig{}, err
	}
	return cfg, nil
}

func (c *SourceConfig) UnmarshalJSON(data []byte) error {
	var wire sourceConfigWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("decode source config: %w", err)
	}

	out := SourceConfig{Kind: sourceKindFromType(wire.Type)}
	if out.Kind == "" {
		switch {
		case wire.Connection != nil:
			out.Kind = SourceKindDatabase
		case wire.APIConfig != nil:
			out.Kind = SourceKindAPI
		default:
			out.Kind = SourceKindFile
		}
	}

	switch out.Kind {
	case SourceKindFile:
		f := &FileSourceConfig{PrimaryKeys: wire.PrimaryKeys, ColumnMappings: wire.ColumnMappings}
		if fc := wire.FileConfig; fc != nil {
			f.FilePath = fc.FilePath
			f.FileFormat = strings.ToLower(strings.TrimSpace(fc.FileFormat))
			f.HasHeader = fc.HasHeader
			f.Delimiter = fc.Delimiter
			f.Pattern = fc.FilePattern
			f.LandingKey = fc.LandingKey
			f.StorageConnectionID = fc.StorageConnectionID
		}
		out.File = f
	case SourceKindDatabase:
		d := &DatabaseSourceConfig{PrimaryKeys: wire.PrimaryKeys}
		if cw := wire.Connection; cw != nil {
			d.Connection = ConnectionConfig{
				ConnectionID: cw.ConnectionID,
				Type:         cw.Type,
				Host:         cw.Host,
				Port:         int(cw.Port),
				Database:     cw.Database,
				Username:     cw.Username,
				Password:     cw.Password,
			}
		}
		if dc := wire.DatabaseConfig; dc != nil {
			d.Table = strings.TrimSpace(dc.TableName)
			if d.Table == "" {
				d.Table = strings.TrimSpace(dc.Table)
			}
			d.Query = strings.TrimSpace(dc.Query)
		}
		out.Database = d
	case SourceKindAPI:
		a := &APISourceConfig{}
		if ac := wire.APIConfig; ac != nil {
			a.URL = ac.URL
			a.Method = ac.Method
		}
		out.API = a
	}

	*c = out
	return nil
}

func (c SourceConfig) MarshalJSON() ([]byte, error) {
	wire := sourceConfigWire{}
	switch c.Kind {
	case SourceKindFile:
		wire.Type = "file-based"
		if f := c.File; f != nil {
			wire.FileConfig = &fileConfigWire{
				FilePath:            f.FilePath,
				FileFormat:          f.FileFormat,
				HasHeader:           f.HasHeader,
				Delimiter:           f.Delimiter,
				FilePattern:         f.Pattern,
				LandingKey:          f.LandingKey,
				StorageConnectionID: f.StorageConnectionID,
			}
			wire.PrimaryKeys = f.PrimaryKeys
			wire.ColumnMappings = f.ColumnMappings
		}
	case SourceKindDatabase:
		wire.Type = "database"
		if d := c.Database; d != nil {
			conn := d.Connection
			wire.Connection = &connectionWire{
				ConnectionID: conn.ConnectionID,
				Type:         conn.Type,
				Host:         conn.Host,
				Port:         flexPort(conn.Port),
				Database:     conn.Database,
				Username:     conn.Username,
				Password:     conn.Password,
			}
			wire.DatabaseConfig = &databaseConfigWire{TableName: d.Table, Query: d.Query}
			wire.PrimaryKeys = d.PrimaryKeys
		}
	case SourceKindAPI:
		wire.Type = "api"
		if a := c.API; a != nil {
			wire.APIConfig = &apiConfigWire{URL: a.URL, Method: a.Method}
		}
	}
	return json.Marshal(wire)
}

func (p flexPort) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Itoa(int(p))), nil
}

func sourceKindFromType(value string) SourceKind {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "file", "file-based", "csv", "json", "parquet":
		return SourceKindFile
	case "database", "sql-server", "postgresql", "mysql":
		return SourceKindDatabase
	case "api":
		return SourceKindAPI
	default:
		return ""
	}
}

// Clone returns a deep copy.
func (c SourceConfig) Clone() SourceConfig {
	out := SourceConfig{Kind: c.Kind}
	if c.File != nil {
		f := *c.File
		if c.File.HasHeader != nil {
			h := *c.File.HasHeader
			f.HasHeader = &h
		}
		f.PrimaryKeys = append([]string(nil), c.File.PrimaryKeys...)
		f.ColumnMappings = append([]ColumnMapping(nil), c.File.ColumnMappings...)
		out.File = &f
	}
	if c.Database != nil {
		d := *c.Database
		d.PrimaryKeys = append([]string(nil), c.Database.PrimaryKeys...)
		out.Database = &d
	}
	if c.API != nil {
		a := *c.API
		out.API = &a
	}
	return out
}

// PrimaryKeys returns the primary keys declared by whichever variant is set.
func (c SourceConfig) PrimaryKeys() []string {
	switch {
	case c.File != nil:
		return c.File.PrimaryKeys
	case c.Database != nil:
		return c.Database.PrimaryKeys
	default:
		return nil
	}
}

// DestinationConfig holds per-layer table settings. The console stores one
// object per layer (bronzeConfig, silverConfig, goldConfig) keyed by
// tableName; flat bronzeTable-style keys are accepted as a fallback.
type DestinationConfig struct {
	BronzeTable string
	SilverTable string
	GoldTable   string
	Format      string
	// Layers keeps each layer object as stored so workers receive every
	// setting, not only the table name.
	Layers map[Layer]json.RawMessage
}

type destinationConfigWire struct {
	BronzeConfig json.RawMessage `json:"bronzeConfig,omitempty"`
	SilverConfig json.RawMessage `json:"silverConfig,omitempty"`
	GoldConfig   json.RawMessage `json:"goldConfig,omitempty"`
	BronzeTable  string          `json:"bronzeTable,omitempty"`
	SilverTable  string          `json:"silverTable,omitempty"`
	GoldTable    string          `json:"goldTable,omitempty"`
	Format       string          `json:"format,omitempty"`
}

func (d *DestinationConfig) UnmarshalJSON(data []byte) error {
	var wire destinationConfigWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("decode destination config: %w", err)
	}
	out := DestinationConfig{Format: strings.TrimSpace(wire.Format)}
	layers := []struct {
		layer Layer
		raw   json.RawMessage
		flat  string
		dst   *string
	}{
		{LayerBronze, wire.BronzeConfig, wire.BronzeTable, &out.BronzeTable},
		{LayerSilver, wire.SilverConfig, wire.SilverTable, &out.SilverTable},
		{LayerGold, wire.GoldConfig, wire.GoldTable, &out.GoldTable},
	}
	for _, l := range layers {
		*l.dst = strings.TrimSpace(l.flat)
		if len(l.raw) == 0 || string(l.raw) == "null" {
			continue
		}
		var named struct {
			TableName string `json:"tableName"`
		}
		if err := json.Unmarshal(l.raw, &named); err != nil {
			return fmt.Errorf("decode %sConfig: %w", l.layer, err)
		}
		if t := strings.TrimSpace(named.TableName); t != "" {
			*l.dst = t
		}
		if out.Layers == nil {
			out.Layers = make(map[Layer]json.RawMessage, 3)
		}
		out.Layers[l.layer] = append(json.RawMessage(nil), l.raw...)
	}
	*d = out
	return nil
}

func (d DestinationConfig) MarshalJSON() ([]byte, error) {
	wire := destinationConfigWire{Format: d.Format}
	for _, l := range []struct {
		layer Layer
		table string
		dst   *json.RawMessage
	}{
		{LayerBronze, d.BronzeTable, &wire.BronzeConfig},
		{LayerSilver, d.SilverTable, &wire.SilverConfig},
		{LayerGold, d.GoldTable, &wire.GoldConfig},
	} {
		raw, err := d.layerObject(l.layer, l.table)
		if err != nil {
			return nil, err
		}
		*l.dst = raw
	}
	return json.Marshal(wire)
}

// layerObject merges table into the stored layer object. It returns nil when
// the layer has neither.
func (d DestinationConfig) layerObject(layer Layer, table string) (json.RawMessage, error) {
	stored := d.Layers[layer]
	if len(stored) == 0 && strings.TrimSpace(table) == "" {
		return nil, nil
	}
	obj := map[string]any{}
	if len(stored) > 0 {
		if err := json.Unmarshal(stored, &obj); err != nil {
			return nil, fmt.Errorf("decode %sConfig: %w", layer, err)
		}
		if obj == nil {
			obj = map[string]any{}
		}
	}
	if t := strings.TrimSpace(table); t != "" {
		obj["tableName"] = t
	}
	return json.Marshal(obj)
}

// TableName returns the configured table for layer, or "" when unset.
func (d DestinationConfig) TableName(layer Layer) string {
	switch layer {
	case LayerBronze:
		return strings.TrimSpace(d.BronzeTable)
	case LayerSilver:
		return strings.TrimSpace(d.SilverTable)
	case LayerGold:
		return strings.TrimSpace(d.GoldTable)
	default:
		return ""
	}
}

// LayerConfig returns the layer's settings object with its resolved table
// name, or nil when nothing is configured for it.
func (d DestinationConfig) LayerConfig(layer Layer) json.RawMessage {
	raw, err := d.layerObject(layer, d.TableName(layer))
	if err != nil {
		return d.Layers[layer]
	}
	return raw
}

// BronzeTableName returns the configured bronze table or a table derived from
// fallback.
func (d DestinationConfig) BronzeTableName(fallback string) string {
	if t := d.TableName(LayerBronze); t != "" {
		return t
	}
	return strings.Trim(sanitizeIdentifier(fallback), "_")
}

type TransformationConfig struct {
	ParentTables []string `json:"parentTables,omitempty"`
}

func sanitizeIdentifier(value string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(value)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
