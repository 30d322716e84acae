package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/animus-labs/pipeline-orchestrator/internal/analyzer"
	"github.com/animus-labs/pipeline-orchestrator/internal/credentials"
	"github.com/animus-labs/pipeline-orchestrator/internal/engine/temporal"
	"github.com/animus-labs/pipeline-orchestrator/internal/execution"
	"github.com/animus-labs/pipeline-orchestrator/internal/platform/env"
	"github.com/animus-labs/pipeline-orchestrator/internal/service/statussync"
)

const (
	engineNone     = "none"
	enginePrefect  = "prefect"
	engineTemporal = "temporal"
)

type serviceConfig struct {
	Addr            string
	ShutdownTimeout time.Duration
	WriteTimeout    time.Duration

	Engine         string
	PrefectURL     string
	PrefectTimeout time.Duration
	Temporal       temporal.Config
	RoutesPath     string

	WorkerHostAlias     string
	MockFallback        bool
	LayerCentricEnabled bool

	AnalyzerCommand string
	AnalyzerTimeout time.Duration

	ExtractLimit   int
	ExtractTimeout time.Duration
	MaxObjectBytes int64

	EngineRPS       float64
	SyncInterval    time.Duration
	SyncConcurrency int
}

func configFromEnv() (serviceConfig, error) {
	var errs []error
	duration := func(key string, def time.Duration) time.Duration {
		d, err := env.Duration(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return d
	}
	boolean := func(key string, def bool) bool {
		b, err := env.Bool(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return b
	}
	integer := func(key string, def int) int {
		n, err := env.Int(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return n
	}

	engineName, err := env.OneOf("ORCH_ENGINE", enginePrefect, enginePrefect, engineTemporal, engineNone)
	if err != nil {
		errs = append(errs, err)
	}
	rps, err := env.Float("ORCH_ENGINE_RPS", statussync.DefaultRPS)
	if err != nil {
		errs = append(errs, err)
	}

	cfg := serviceConfig{
		Addr:            env.String("ORCH_HTTP_ADDR", ":8090"),
		ShutdownTimeout: duration("ORCH_SHUTDOWN_TIMEOUT", 10*time.Second),
		WriteTimeout:    duration("ORCH_WRITE_TIMEOUT", 0),

		Engine:         engineName,
		PrefectURL:     env.String("PREFECT_API_URL", "http://localhost:4200/api"),
		PrefectTimeout: duration("PREFECT_API_TIMEOUT", 15*time.Second),
		Temporal: temporal.Config{
			HostPort:   env.String("ORCH_TEMPORAL_HOST_PORT", "localhost:7233"),
			Namespace:  env.String("ORCH_TEMPORAL_NAMESPACE", "default"),
			TaskQueue:  env.String("ORCH_TEMPORAL_TASK_QUEUE", "layer-centric-ingest"),
			RunTimeout: duration("ORCH_TEMPORAL_RUN_TIMEOUT", time.Hour),
		},
		RoutesPath: env.String("ORCH_DEPLOYMENT_ROUTES", ""),

		WorkerHostAlias:     env.String("ORCH_WORKER_HOST_ALIAS", credentials.DefaultWorkerHostAlias),
		MockFallback:        boolean("ORCH_MOCK_FALLBACK", true),
		LayerCentricEnabled: boolean("ORCH_LAYER_CENTRIC_ENABLED", true),

		AnalyzerCommand: strings.TrimSpace(env.String("ORCH_ANALYZER_COMMAND", "")),
		AnalyzerTimeout: duration("ORCH_ANALYZER_TIMEOUT", analyzer.DefaultProcessTimeout),

		ExtractLimit:   integer("ORCH_DB_EXTRACT_LIMIT", execution.DefaultExtractLimit),
		ExtractTimeout: duration("ORCH_DB_EXTRACT_TIMEOUT", execution.DefaultExtractTimeout),
		MaxObjectBytes: int64(integer("ORCH_MAX_OBJECT_BYTES", int(execution.DefaultMaxObjectBytes))),

		EngineRPS:       rps,
		SyncInterval:    duration("ORCH_SYNC_INTERVAL", statussync.DefaultPollInterval),
		SyncConcurrency: integer("ORCH_SYNC_CONCURRENCY", statussync.DefaultConcurrency),
	}
	if len(errs) > 0 {
		return serviceConfig{}, errors.Join(errs...)
	}
	if err := cfg.Validate(); err != nil {
		return serviceConfig{}, err
	}
	return cfg, nil
}

func (c serviceConfig) Validate() error {
	if strings.TrimSpace(c.Addr) == "" {
		return errors.New("ORCH_HTTP_ADDR is required")
	}
	if c.ShutdownTimeout <= 0 {
		return errors.New("ORCH_SHUTDOWN_TIMEOUT must be positive")
	}
	if c.WriteTimeout < 0 {
		return errors.New("ORCH_WRITE_TIMEOUT must be >= 0")
	}
	switch c.Engine {
	case enginePrefect:
		if strings.TrimSpace(c.PrefectURL) == "" {
			return errors.New("PREFECT_API_URL is required when ORCH_ENGINE=prefect")
		}
	case engineTemporal:
		if err := c.Temporal.Validate(); err != nil {
			return err
		}
	case engineNone:
	default:
		return fmt.Errorf("ORCH_ENGINE %q is not supported", c.Engine)
	}
	if c.AnalyzerTimeout <= 0 {
		return errors.New("ORCH_ANALYZER_TIMEOUT must be positive")
	}
	if c.ExtractLimit < 1 {
		return errors.New("ORCH_DB_EXTRACT_LIMIT must be >= 1")
	}
	if c.ExtractTimeout <= 0 {
		return errors.New("ORCH_DB_EXTRACT_TIMEOUT must be positive")
	}
	if c.MaxObjectBytes < 1 {
		return errors.New("ORCH_MAX_OBJECT_BYTES must be >= 1")
	}
	if c.EngineRPS <= 0 {
		return errors.New("ORCH_ENGINE_RPS must be positive")
	}
	if c.SyncInterval <= 0 {
		return errors.New("ORCH_SYNC_INTERVAL must be positive")
	}
	if c.SyncConcurrency < 1 {
		return errors.New("ORCH_SYNC_CONCURRENCY must be >= 1")
	}
	return nil
}
