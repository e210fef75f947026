package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/erp/costing/internal/application/costing"
	"github.com/erp/costing/internal/domain/inventory"
	"github.com/erp/costing/internal/infrastructure/cache"
	"github.com/erp/costing/internal/infrastructure/config"
	"github.com/erp/costing/internal/infrastructure/logger"
	"github.com/erp/costing/internal/infrastructure/persistence"
	"github.com/erp/costing/internal/infrastructure/storage"
	"github.com/erp/costing/internal/infrastructure/strategy"
	"github.com/erp/costing/internal/infrastructure/telemetry"
	"github.com/erp/costing/internal/interfaces/http/handler"
	"github.com/erp/costing/internal/interfaces/http/middleware"
	"github.com/erp/costing/internal/interfaces/http/router"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const version = "1.0.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	logCfg := &logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	}
	bootLog, err := logger.New(logCfg)
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}

	ctx := context.Background()

	// OTLP logs need a logger to report their own setup, so the final
	// logger is built once the provider exists.
	logProvider, err := telemetry.NewLoggerProvider(ctx, cfg.Telemetry, bootLog)
	if err != nil {
		bootLog.Fatal("Failed to initialize OTEL logs", zap.Error(err))
	}
	log, err := logger.New(logCfg, logger.WithCore(logProvider.ZapCore(logger.ParseLevel(cfg.Log.Level))))
	if err != nil {
		bootLog.Fatal("Failed to initialize logger", zap.Error(err))
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	log.Info("Starting costing engine",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.String("database", cfg.Database.Driver),
	)

	tracerProvider, err := telemetry.NewTracerProvider(ctx, cfg.Telemetry, log)
	if err != nil {
		log.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	meterProvider, err := telemetry.NewMeterProvider(ctx, cfg.Telemetry, log)
	if err != nil {
		log.Fatal("Failed to initialize metrics", zap.Error(err))
	}

	profiler, err := telemetry.NewProfiler(cfg.Profiling, cfg.Telemetry.ServiceName, log)
	if err != nil {
		log.Fatal("Failed to start profiler", zap.Error(err))
	}
	if profiler.SpanProfilesRequested() {
		if err := tracerProvider.EnableSpanProfiles(); err != nil {
			log.Warn("Failed to enable span profiles", zap.Error(err))
		}
	}

	costingMetrics, err := telemetry.NewCostingMetrics(meterProvider.Meter("costing"))
	if err != nil {
		log.Fatal("Failed to create costing metrics", zap.Error(err))
	}

	db, err := openDatabase(cfg, log)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	repos := persistence.NewRepositories(db)
	defer func() {
		if err := repos.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()

	snapshotCache := cache.NewSnapshotCache(ctx, cfg.Redis, cfg.Costing, log)
	defer func() {
		if err := snapshotCache.Close(); err != nil {
			log.Error("Error closing snapshot cache", zap.Error(err))
		}
	}()

	archive, err := newReportArchive(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize report archive", zap.Error(err))
	}

	loc := cfg.Costing.Location()
	opts := []costing.Option{
		costing.WithLogger(log),
		costing.WithMetrics(costingMetrics),
		costing.WithWorkers(cfg.Costing.ValuationWorkers),
		costing.WithLocation(loc),
	}
	registry := strategy.NewRegistryWithDefaults()
	ledger := inventory.NewLedger(repos.Movements)
	costingService := costing.NewCostingService(ledger, repos.Products, registry, opts...)
	snapshotService := costing.NewSnapshotService(ledger, repos.Products, registry, snapshotCache, opts...)
	valuationService := costing.NewValuationService(repos.Products, costingService, snapshotService, archive, opts...)

	// Faulty products are logged and rebuilt lazily on first use.
	if err := costingService.Warmup(ctx); err != nil {
		log.Warn("Warmup finished with faults", zap.Error(err))
	}

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	middleware.SetupValidator()

	engine := router.NewEngine(router.EngineConfig{
		Logger: log,
		Meter:  meterProvider.Meter("http"),
		Tracing: middleware.TracingConfig{
			ServiceName: cfg.Telemetry.ServiceName,
			Enabled:     cfg.Telemetry.Enabled,
		},
		MaxBodySize: cfg.HTTP.MaxBodySize,
	})

	var pinger handler.Pinger
	if db != nil {
		pinger = db
	}
	handler.NewSystemHandler(cfg.App.Name, version, pinger).RegisterRoutes(engine)

	router.NewRouter(engine, router.WithAPIVersion("v1")).
		Register(handler.NewCostingHandler(costingService, loc)).
		Register(handler.NewValuationHandler(valuationService, snapshotService, loc)).
		Register(handler.NewPolicyHandler(registry)).
		Setup()

	srv := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      http.TimeoutHandler(engine, cfg.HTTP.RequestTimeout, `{"success":false,"error":{"code":"ERR_INTERNAL","message":"Request timed out"}}`),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := profiler.Stop(); err != nil {
		log.Error("Error stopping profiler", zap.Error(err))
	}
	if err := meterProvider.Shutdown(shutdownCtx); err != nil {
		log.Error("Error shutting down meter provider", zap.Error(err))
	}
	if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
		log.Error("Error shutting down tracer provider", zap.Error(err))
	}
	if err := logProvider.Shutdown(shutdownCtx); err != nil {
		log.Error("Error shutting down logger provider", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}

// openDatabase connects to postgres or sqlite. It returns nil for the
// memory driver.
func openDatabase(cfg *config.Config, log *zap.Logger) (*persistence.Database, error) {
	if cfg.Database.Driver == config.DriverMemory {
		log.Warn("Using in-memory stores; the ledger is lost on restart")
		return nil, nil
	}

	gormLog := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level))
	db, err := persistence.NewDatabase(&cfg.Database, persistence.WithLogger(gormLog))
	if err != nil {
		return nil, err
	}

	dbSystem := "postgresql"
	if cfg.Database.Driver == config.DriverSQLite {
		dbSystem = "sqlite"
	}
	if err := telemetry.RegisterDBTracing(db.DB, telemetry.DBTracingConfig{
		Enabled:         cfg.Telemetry.Enabled && cfg.Telemetry.DBTraceEnabled,
		DBSystem:        dbSystem,
		SlowQueryThresh: telemetry.DefaultSlowQueryThreshold,
	}, log); err != nil {
		log.Warn("Failed to enable database tracing", zap.Error(err))
	}

	// Postgres schemas are owned by cmd/migrate.
	if cfg.Database.Driver == config.DriverSQLite {
		if err := db.AutoMigrate(); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	log.Info("Database connected successfully", zap.String("driver", cfg.Database.Driver))
	return db, nil
}

// newReportArchive returns the S3 archive when storage is enabled, or an
// in-process archive otherwise.
func newReportArchive(ctx context.Context, cfg *config.Config, log *zap.Logger) (costing.ReportArchive, error) {
	if !cfg.Storage.Enabled {
		log.Info("Report storage disabled, archiving valuation exports in memory")
		return storage.NewMemoryReportArchive(), nil
	}

	archive, err := storage.NewS3ReportArchive(&cfg.Storage,
		storage.WithLogger(log),
		storage.WithPresignExpiration(cfg.Storage.PresignExpiration),
	)
	if err != nil {
		return nil, err
	}
	if err := archive.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	log.Info("Report archive ready", zap.String("bucket", archive.Bucket()))
	return archive, nil
}
