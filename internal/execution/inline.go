package execution

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/zeebo/xxh3"

	"github.com/animus-labs/pipeline-orchestrator/internal/analyzer"
	"github.com/animus-labs/pipeline-orchestrator/internal/inference"
	"github.com/animus-labs/pipeline-orchestrator/internal/storage/objectstore"
)

const (
	// DatabaseKeyPrefix marks the placeholder landing key of database sources.
	DatabaseKeyPrefix = "database://"

	DefaultMaxObjectBytes int64 = 256 << 20
)

// ErrNoSourceData is returned when there is nothing to ingest and the mock
// fallback is disabled.
var ErrNoSourceData = errors.New("no source data to ingest")

type InlineConfig struct {
	Bucket         string
	MockFallback   bool
	MaxObjectBytes int64
	ExtractLimit   int
}

// Inline lands source bytes into the bronze zone without the workflow engine.
type Inline struct {
	store     objectstore.Store
	analyzer  analyzer.FileAnalyzer
	extractor Extractor
	cfg       InlineConfig
	logger    *slog.Logger
	now       func() time.Time
	intN      func(n int) int
}

// NewInline returns nil without a store or analyzer. A nil extractor sends
// database sources to the mock path.
func NewInline(store objectstore.Store, fa analyzer.FileAnalyzer, extractor Extractor, cfg InlineConfig, logger *slog.Logger) *Inline {
	if store == nil || fa == nil {
		return nil
	}
	if cfg.MaxObjectBytes <= 0 {
		cfg.MaxObjectBytes = DefaultMaxObjectBytes
	}
	if cfg.ExtractLimit <= 0 {
		cfg.ExtractLimit = DefaultExtractLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Inline{
		store:     store,
		analyzer:  fa,
		extractor: extractor,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
		intN:      rand.IntN,
	}
}

func (in *Inline) Run(ctx context.Context, job Job) (Output, error) {
	if in == nil || in.store == nil || in.analyzer == nil {
		return Output{}, errors.New("inline executor not initialized")
	}
	table := strings.TrimSpace(job.TargetTable)
	if table == "" {
		table = job.DestinationConfig.BronzeTableName(job.Name)
	}
	if table == "" {
		return Output{}, errors.New("target table is required")
	}
	format := analyzer.NormalizeFormat(job.FileFormat)

	if job.SourceConfig.Database != nil || strings.HasPrefix(job.LandingKey, DatabaseKeyPrefix) {
		return in.runDatabase(ctx, job, table)
	}

	key := StripBucket(job.LandingKey, in.cfg.Bucket)
	if key == "" {
		return in.fallback(job, table, format, "no source path")
	}
	data, _, err := objectstore.ReadAll(ctx, in.store, in.cfg.Bucket, key, in.cfg.MaxObjectBytes)
	if err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			return in.fallback(job, table, format, "landing object not found: "+key)
		}
		return Output{}, fmt.Errorf("read landing object %s: %w", key, err)
	}
	return in.land(ctx, job, table, format, data)
}

func (in *Inline) runDatabase(ctx context.Context, job Job, table string) (Output, error) {
	db := job.SourceConfig.Database
	if in.extractor == nil || db == nil || strings.TrimSpace(db.Connection.Host+db.Connection.Database) == "" {
		return in.fallback(job, table, FormatJSON, "no database connection")
	}
	if strings.TrimSpace(db.Table) == "" && strings.TrimSpace(db.Query) == "" {
		return Output{}, ErrNoSelection
	}
	extract, err := in.extractor.Extract(ctx, *db, in.cfg.ExtractLimit)
	if err != nil {
		return Output{}, fmt.Errorf("extract %s: %w", selectionName(*db), err)
	}
	return in.land(ctx, job, table, FormatJSON, extract)
}

func (in *Inline) land(ctx context.Context, job Job, table, format string, data []byte) (Output, error) {
	analysis, err := in.analyzer.Analyze(ctx, analyzer.Request{
		Data:   data,
		Format: format,
		Options: inference.CSVOptions{
			HasHeader: job.HasHeader,
			Delimiter: job.Delimiter,
		},
	})
	if err != nil {
		return Output{}, fmt.Errorf("analyze %s: %w", format, err)
	}

	outputKey := BronzeKey(table, job.RunID, format, in.now())
	if err := in.store.Put(ctx, in.cfg.Bucket, outputKey, bytes.NewReader(data), int64(len(data)), ContentType(format)); err != nil {
		return Output{}, fmt.Errorf("write bronze object %s: %w", outputKey, err)
	}
	in.logger.Info("landed bronze object",
		"run_id", job.RunID,
		"output_key", outputKey,
		"row_count", analysis.RowCount,
	)
	return Output{
		RowCount:  analysis.RowCount,
		OutputKey: outputKey,
		Schema:    analysis.Schema,
		Checksum:  Checksum(data),
	}, nil
}

func (in *Inline) fallback(job Job, table, format, reason string) (Output, error) {
	if !in.cfg.MockFallback {
		return Output{}, fmt.Errorf("%w: %s", ErrNoSourceData, reason)
	}
	in.logger.Info("using mock ingestion result", "run_id", job.RunID, "reason", reason)
	return Output{
		RowCount:  int64(MockRowsMin + in.intN(MockRowsSpread)),
		OutputKey: BronzeKey(table, job.RunID, format, in.now()),
		Schema:    MockSchema(format),
		Mock:      true,
	}, nil
}

// StripBucket turns s3://{bucket}/{key} into {key}.
func StripBucket(key, bucket string) string {
	key = strings.TrimSpace(key)
	if bucket != "" {
		key = strings.TrimPrefix(key, "s3://"+bucket+"/")
	}
	return strings.TrimPrefix(key, "/")
}

// BronzeKey returns bronze/{table}/{yyyy-mm-dd}/{table}_{runID[:12]}.{ext}.
func BronzeKey(table, runID, format string, now time.Time) string {
	short := runID
	if len(short) > 12 {
		short = short[:12]
	}
	return fmt.Sprintf("bronze/%s/%s/%s_%s.%s", table, now.UTC().Format("2006-01-02"), table, short, format)
}

func ContentType(format string) string {
	switch format {
	case FormatJSON:
		return "application/json"
	case FormatCSV:
		return "text/csv"
	default:
		return "application/octet-stream"
	}
}

// Checksum fingerprints landed bytes.
func Checksum(data []byte) string {
	return fmt.Sprintf("%016x", xxh3.Hash(data))
}
