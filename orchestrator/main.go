package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/animus-labs/pipeline-orchestrator/internal/analyzer"
	"github.com/animus-labs/pipeline-orchestrator/internal/credentials"
	"github.com/animus-labs/pipeline-orchestrator/internal/engine"
	"github.com/animus-labs/pipeline-orchestrator/internal/engine/prefect"
	"github.com/animus-labs/pipeline-orchestrator/internal/engine/temporal"
	"github.com/animus-labs/pipeline-orchestrator/internal/execution"
	"github.com/animus-labs/pipeline-orchestrator/internal/landing"
	"github.com/animus-labs/pipeline-orchestrator/internal/platform/auditlog"
	"github.com/animus-labs/pipeline-orchestrator/internal/platform/database"
	"github.com/animus-labs/pipeline-orchestrator/internal/platform/httpserver"
	platformstore "github.com/animus-labs/pipeline-orchestrator/internal/platform/objectstore"
	"github.com/animus-labs/pipeline-orchestrator/internal/repo/sqlstore"
	"github.com/animus-labs/pipeline-orchestrator/internal/service/catalog"
	"github.com/animus-labs/pipeline-orchestrator/internal/service/orchestrator"
	"github.com/animus-labs/pipeline-orchestrator/internal/service/statussync"
	"github.com/animus-labs/pipeline-orchestrator/internal/storage/objectstore"
)

const serviceName = "orchestrator"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := configFromEnv()
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	dbCfg, err := database.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid database config", "error", err)
		os.Exit(2)
	}
	storeCfg, err := platformstore.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid object storage config", "error", err)
		os.Exit(2)
	}
	routes, err := engine.LoadRoutes(cfg.RoutesPath)
	if err != nil {
		logger.Error("invalid deployment routes", "error", err)
		os.Exit(2)
	}

	db, err := database.Open(ctx, dbCfg)
	if err != nil {
		logger.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	minioClient, err := platformstore.NewMinIOClient(storeCfg)
	if err != nil {
		logger.Error("object storage client init failed", "error", err)
		os.Exit(1)
	}
	if err := platformstore.EnsureBucket(ctx, minioClient, storeCfg); err != nil {
		logger.Error("object storage unavailable", "bucket", storeCfg.Bucket, "error", err)
		os.Exit(1)
	}
	store, err := objectstore.NewMinioStoreWithClient(minioClient)
	if err != nil {
		logger.Error("object store init failed", "error", err)
		os.Exit(1)
	}

	var eng engine.Engine
	switch cfg.Engine {
	case enginePrefect:
		client, err := prefect.NewClient(cfg.PrefectURL, cfg.PrefectTimeout)
		if err != nil {
			logger.Error("invalid prefect config", "error", err)
			os.Exit(2)
		}
		eng = client
	case engineTemporal:
		te, err := temporal.New(cfg.Temporal)
		if err != nil {
			logger.Error("temporal client init failed", "error", err)
			os.Exit(1)
		}
		defer te.Close()
		eng = te
	}
	logger.Info("workflow engine selected", "engine", cfg.Engine, "default_deployment", routes.Default, "dataset_deployment", routes.DatasetDeployment())

	var fa analyzer.FileAnalyzer = analyzer.NewNative()
	if cfg.AnalyzerCommand != "" {
		proc, err := analyzer.NewProcess(cfg.AnalyzerCommand, cfg.AnalyzerTimeout)
		if err != nil {
			logger.Error("invalid analyzer command", "error", err)
			os.Exit(2)
		}
		fa = proc
	}

	pipelines := sqlstore.NewPipelineStore(db)
	executions := sqlstore.NewExecutionStore(db)
	ingest := sqlstore.NewIngestStore(db)
	connections := sqlstore.NewConnectionStore(db)
	catalogWriter := catalog.NewWriter(sqlstore.NewCatalogStore(db))

	inline := execution.NewInline(store, fa, execution.NewSQLExtractor(cfg.ExtractTimeout), execution.InlineConfig{
		Bucket:         storeCfg.Bucket,
		MockFallback:   cfg.MockFallback,
		MaxObjectBytes: cfg.MaxObjectBytes,
		ExtractLimit:   cfg.ExtractLimit,
	}, logger)

	delegate := execution.NewDelegate(eng, routes, inline, logger)
	svc := orchestrator.New(orchestrator.Deps{
		Pipelines:   pipelines,
		Executions:  executions,
		Ingest:      ingest,
		Connections: connections,
		Enricher:    credentials.NewEnricher(connections, cfg.WorkerHostAlias, logger),
		Resolver:    landing.NewResolver(store, storeCfg.Bucket, fa, logger),
		Executor:    delegate,
		Catalog:     catalogWriter,
		Audit:       auditlog.NewRecorder(db, logger),
		Datasets:    delegate,
	}, orchestrator.Config{LayerCentricEnabled: cfg.LayerCentricEnabled}, logger)
	if svc == nil {
		logger.Error("orchestrator init failed")
		os.Exit(1)
	}

	var syncer executionSyncer
	if s := statussync.New(executions, ingest, eng, statussync.Config{
		RPS:         cfg.EngineRPS,
		Burst:       max(1, int(cfg.EngineRPS)),
		Concurrency: cfg.SyncConcurrency,
	}, logger); s != nil {
		syncer = s
		go s.Run(ctx, cfg.SyncInterval)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", httpserver.Healthz(serviceName))
	mux.HandleFunc(
		"/readyz",
		httpserver.ReadyzWithChecks(
			serviceName,
			httpserver.ReadinessCheck{
				Name: "database",
				Check: func(ctx context.Context) error {
					checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
					defer cancel()
					return db.PingContext(checkCtx)
				},
			},
			httpserver.ReadinessCheck{
				Name: "object_storage",
				Check: func(ctx context.Context) error {
					checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
					defer cancel()
					return platformstore.CheckBucket(checkCtx, minioClient, storeCfg)
				},
			},
		),
	)

	api := newOrchestratorAPI(logger, svc, catalogWriter, syncer)
	api.register(mux)

	serverCfg := httpserver.Config{
		Service:         serviceName,
		Addr:            cfg.Addr,
		ShutdownTimeout: cfg.ShutdownTimeout,
		WriteTimeout:    cfg.WriteTimeout,
	}

	if err := httpserver.Run(ctx, logger, serverCfg, httpserver.Wrap(logger, serviceName, mux)); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}
