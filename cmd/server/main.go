package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	appevent "github.com/erp/stockledger/internal/application/event"
	appinv "github.com/erp/stockledger/internal/application/inventory"
	reportapp "github.com/erp/stockledger/internal/application/report"
	"github.com/erp/stockledger/internal/domain/shared"
	"github.com/erp/stockledger/internal/infrastructure/auth"
	"github.com/erp/stockledger/internal/infrastructure/cache"
	"github.com/erp/stockledger/internal/infrastructure/config"
	"github.com/erp/stockledger/internal/infrastructure/event"
	csvimport "github.com/erp/stockledger/internal/infrastructure/import"
	"github.com/erp/stockledger/internal/infrastructure/logger"
	"github.com/erp/stockledger/internal/infrastructure/migration"
	"github.com/erp/stockledger/internal/infrastructure/persistence"
	"github.com/erp/stockledger/internal/infrastructure/scheduler"
	"github.com/erp/stockledger/internal/infrastructure/storage"
	"github.com/erp/stockledger/internal/infrastructure/telemetry"
	"github.com/erp/stockledger/internal/interfaces/http/handler"
	"github.com/erp/stockledger/internal/interfaces/http/middleware"
	"github.com/erp/stockledger/internal/interfaces/http/router"
	"github.com/erp/stockledger/migrations"
	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	logCfg := logger.FromAppConfig(cfg.Log)
	log, err := logger.New(logCfg)
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracerProvider, err := telemetry.NewTracerProvider(ctx, telemetry.ConfigFrom(cfg.Telemetry, version), log)
	if err != nil {
		log.Fatal("Failed to initialize tracer provider", zap.Error(err))
	}
	meterProvider, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfigFrom(cfg.Telemetry), log)
	if err != nil {
		log.Fatal("Failed to initialize meter provider", zap.Error(err))
	}
	profiler, err := telemetry.NewProfiler(telemetry.ProfilerConfigFrom(cfg.Telemetry), log)
	if err != nil {
		log.Fatal("Failed to initialize profiler", zap.Error(err))
	}
	if profiler.IsEnabled() && cfg.Telemetry.ProfilingSpans {
		if err := tracerProvider.EnableSpanProfiles(); err != nil {
			log.Warn("Failed to enable span profiles", zap.Error(err))
		}
	}
	loggerProvider, err := telemetry.NewLoggerProvider(ctx, telemetry.LogsConfigFrom(cfg.Telemetry, version), log)
	if err != nil {
		log.Fatal("Failed to initialize logger provider", zap.Error(err))
	}
	if loggerProvider.IsEnabled() {
		otelCore := telemetry.NewZapOTELCore(cfg.Telemetry.ServiceName, loggerProvider, logger.ParseLevel(cfg.Log.Level))
		log = telemetry.NewBridgedLogger(logger.NewCore(logCfg), otelCore,
			zap.AddCaller(),
			zap.AddStacktrace(zapcore.ErrorLevel),
		)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		for name, shutdown := range map[string]func(context.Context) error{
			"tracer": tracerProvider.Shutdown,
			"meter":  meterProvider.Shutdown,
			"logger": loggerProvider.Shutdown,
		} {
			if err := shutdown(shutdownCtx); err != nil {
				log.Warn("Telemetry shutdown failed", zap.String("provider", name), zap.Error(err))
			}
		}
		if err := profiler.Stop(); err != nil {
			log.Warn("Profiler shutdown failed", zap.Error(err))
		}
		_ = log.Sync()
	}()

	log.Info("Starting stock ledger",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.String("version", version),
	)

	gormOpts := append(logger.GormOptionsFrom(cfg.Log), logger.WithSlowThreshold(cfg.Telemetry.DBSlowQueryThresh))
	gormLog := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level), gormOpts...)
	db, err := persistence.NewDatabaseWithCustomLogger(&cfg.Database, gormLog)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	log.Info("Database connected", zap.String("driver", cfg.Database.Driver))

	if err := migrateSchema(cfg, db, log); err != nil {
		log.Fatal("Failed to migrate schema", zap.Error(err))
	}

	if err := telemetry.NewDBTracingPlugin(telemetry.DBTracingConfigFrom(cfg.Telemetry, cfg.Database.Driver), log).
		RegisterOtelGorm(db.DB); err != nil {
		log.Fatal("Failed to register database tracing", zap.Error(err))
	}
	dbMetrics, err := telemetry.RegisterDBMetrics(db.DB, meterProvider, telemetry.DBMetricsConfigFrom(cfg.Telemetry), log)
	if err != nil {
		log.Fatal("Failed to register database metrics", zap.Error(err))
	}
	if dbMetrics != nil {
		dbMetrics.StartPoolStatsCollection(ctx)
		defer dbMetrics.Stop()
	}

	backends, err := cache.NewBackends(ctx, cfg.Ledger, cfg.Redis, log)
	if err != nil {
		log.Fatal("Failed to initialize lock backend", zap.Error(err))
	}
	defer func() {
		if err := backends.Close(); err != nil {
			log.Error("Error closing lock backend", zap.Error(err))
		}
	}()

	var ledgerMetrics *telemetry.LedgerMetrics
	if meterProvider.IsEnabled() {
		ledgerMetrics, err = telemetry.NewLedgerMetrics(telemetry.LedgerMetricsConfig{
			Meter:          meterProvider.Meter("stockledger.ledger"),
			Logger:         log,
			HealthProvider: telemetry.NewGormStockHealthProvider(db.DB),
		})
		if err != nil {
			log.Fatal("Failed to initialize ledger metrics", zap.Error(err))
		}
		ledgerMetrics.StartPeriodicCollection(ctx, cfg.Telemetry.MetricsInterval)
		defer ledgerMetrics.Stop()
	}

	clock := shared.SystemClock{}
	scope := persistence.NewGormTransactionScope(db.DB, cfg.Ledger.SnapshotReads)
	serializer := event.NewLedgerEventSerializer()
	outboxRepo := event.NewGormOutboxRepository(db.DB)

	ledgerOpts := []appinv.LedgerOption{
		appinv.WithOutbox(event.NewOutboxPublisher(serializer)),
		appinv.WithClock(clock),
		appinv.WithOrphanPolicy(appinv.OrphanPolicy(cfg.Ledger.OrphanPolicy)),
		appinv.WithImportLimit(cfg.Ledger.ImportMaxDocs),
		appinv.WithLogger(log.Named("ledger")),
	}
	if ledgerMetrics != nil {
		ledgerOpts = append(ledgerOpts, appinv.WithMetrics(ledgerMetrics))
	}
	ledger := appinv.NewLedgerService(scope, backends.Locker, ledgerOpts...)
	products := appinv.NewProductService(scope, clock)
	valuation := appinv.NewValuationService(scope, clock)
	maintenance := appinv.NewMaintenanceService(scope, clock)
	reports := reportapp.NewReportService(scope, clock, log.Named("report"))
	outboxService := appevent.NewOutboxService(outboxRepo, log)

	eventBus := event.NewInMemoryEventBus(log)
	audit := event.NewAuditHandler(log.Named("audit"))
	// the in-process consumers share one set of dedupe counters
	dedupe := []event.IdempotentHandlerOption{
		event.WithIdempotencyTTL(cfg.Event.IdempotencyTTL),
		event.WithIdempotencyMetrics(&event.IdempotencyMetrics{}),
	}
	auditConsumer := event.NewIdempotentHandler(audit, backends.Idempotency, log, dedupe...)
	eventBus.Subscribe(auditConsumer)
	if ledgerMetrics != nil {
		eventBus.Subscribe(event.NewIdempotentHandler(event.NewMetricsHandler(ledgerMetrics), backends.Idempotency, log, dedupe...))
	}
	if cfg.Event.Kafka.Enabled {
		// consumers dedupe on the event_id header
		sink := event.NewKafkaSink(event.NewKafkaWriter(cfg.Event.Kafka), serializer, cfg.Event.Kafka.WriteTimeout, log)
		eventBus.Subscribe(sink)
		defer func() {
			if err := sink.Close(); err != nil {
				log.Warn("Error closing kafka writer", zap.Error(err))
			}
		}()
		log.Info("Kafka event sink enabled",
			zap.Strings("brokers", cfg.Event.Kafka.Brokers),
			zap.String("topic", cfg.Event.Kafka.Topic),
		)
	}

	// the interfaces stay nil when archiving is off so handlers can tell
	var (
		rebuildArchive handler.RebuildArchive
		reportArchive  handler.ReportArchive
		jobArchive     scheduler.ReportArchive
	)
	if cfg.Archive.Enabled {
		objects, err := storage.NewS3ObjectStorage(cfg.Archive,
			storage.WithLogger(log.Named("s3")),
			storage.WithPresignExpiration(cfg.Archive.PresignExpiration),
		)
		if err != nil {
			log.Fatal("Failed to initialize archive storage", zap.Error(err))
		}
		if cfg.Archive.CreateBucket {
			bucketCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			err := objects.EnsureBucket(bucketCtx)
			cancel()
			if err != nil {
				log.Fatal("Failed to prepare archive bucket", zap.Error(err))
			}
		}
		archive := storage.NewArchive(objects, cfg.Archive.Prefix, clock, log.Named("archive"))
		rebuildArchive, reportArchive, jobArchive = archive, archive, archive
		log.Info("Archive enabled",
			zap.String("bucket", cfg.Archive.Bucket),
			zap.String("prefix", cfg.Archive.Prefix),
		)
	}

	tokens := auth.NewTokenService(cfg.JWT)
	if !tokens.Enabled() {
		log.Warn("JWT secret not set, write routes are unauthenticated")
	}
	var limiter *middleware.RateLimiter
	if cfg.HTTP.RateLimit > 0 {
		limiter = middleware.NewRateLimiter(cfg.HTTP.RateLimit, cfg.HTTP.RateWindow)
		log.Info("Rate limiting enabled",
			zap.Int("requests", cfg.HTTP.RateLimit),
			zap.Duration("window", cfg.HTTP.RateWindow),
		)
	}

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	var httpMeter = meterProvider.Meter("stockledger.http")
	if !meterProvider.IsEnabled() {
		httpMeter = nil
	}
	engine := router.New(router.Options{
		HTTP:           cfg.HTTP,
		ServiceName:    cfg.Telemetry.ServiceName,
		TracingEnabled: tracerProvider.IsEnabled(),
		Meter:          httpMeter,
		Tokens:         tokens,
		Limiter:        limiter,
		Production:     cfg.App.Env == "production",
		Logger:         log,
	}, router.Handlers{
		System:      handler.NewSystemHandler(cfg.App.Name, version, db, ledger.Rebuilding),
		Products:    handler.NewProductHandler(products),
		Documents:   handler.NewDocumentHandler(ledger, csvimport.NewDecoder(products)),
		Valuation:   handler.NewValuationHandler(valuation),
		Reports:     handler.NewReportHandler(reports, reportArchive),
		Maintenance: handler.NewMaintenanceHandler(ledger, maintenance, rebuildArchive),
		Outbox:      handler.NewOutboxHandler(outboxService, handler.WithConsumerStats(auditConsumer.GetMetrics())),
	})

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	g, gctx := errgroup.WithContext(ctx)

	if err := eventBus.Start(gctx); err != nil {
		log.Fatal("Failed to start event bus", zap.Error(err))
	}
	var processor *event.OutboxProcessor
	if cfg.Event.ProcessorEnabled {
		processor = event.NewOutboxProcessor(outboxRepo, eventBus, serializer, event.ProcessorConfigFrom(cfg.Event), log)
		if err := processor.Start(gctx); err != nil {
			log.Fatal("Failed to start outbox processor", zap.Error(err))
		}
	}

	var (
		jobs    *scheduler.Scheduler
		trigger *scheduler.CronTrigger
	)
	if cfg.Scheduler.Enabled {
		schedCfg := scheduler.DefaultConfig()
		if cfg.Scheduler.JobTimeout > 0 {
			schedCfg.JobTimeout = cfg.Scheduler.JobTimeout
		}
		var reporter scheduler.PeriodReporter
		if jobArchive != nil {
			reporter = reports
		}
		executor := scheduler.NewLedgerExecutor(maintenance, reporter, jobArchive, log.Named("jobs"))
		schedOpts := []scheduler.Option{scheduler.WithClock(clock)}
		if ledgerMetrics != nil {
			schedOpts = append(schedOpts, scheduler.WithJobDone(func(j *scheduler.Job) {
				ledgerMetrics.RecordJob(context.Background(), string(j.Kind), string(j.Status))
			}))
		}
		jobs = scheduler.NewScheduler(schedCfg, executor, log, schedOpts...)
		if err := jobs.Start(gctx); err != nil {
			log.Fatal("Failed to start scheduler", zap.Error(err))
		}
		cronCfg := scheduler.DefaultCronTriggerConfig()
		cronCfg.Hour = cfg.Scheduler.IntegrityHour
		cronCfg.Minute = cfg.Scheduler.IntegrityMin
		cronCfg.ArchiveReports = cfg.Scheduler.ArchiveReports && jobArchive != nil
		trigger = scheduler.NewCronTrigger(cronCfg, jobs, clock, log)
		if err := trigger.Start(gctx); err != nil {
			log.Fatal("Failed to start cron trigger", zap.Error(err))
		}
		if cfg.Scheduler.RunOnStart {
			if err := trigger.TriggerNow(); err != nil {
				log.Warn("Failed to queue startup ledger jobs", zap.Error(err))
			}
		}
	}

	if limiter != nil {
		g.Go(func() error {
			limiter.Run(gctx)
			return nil
		})
	}

	g.Go(func() error {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("Server forced to shutdown", zap.Error(err))
		}
		if trigger != nil {
			_ = trigger.Stop(shutdownCtx)
		}
		if jobs != nil {
			if err := jobs.Stop(shutdownCtx); err != nil {
				log.Error("Error stopping scheduler", zap.Error(err))
			}
		}
		if processor != nil {
			if err := processor.Stop(shutdownCtx); err != nil {
				log.Error("Error stopping outbox processor", zap.Error(err))
			}
		}
		if err := eventBus.Stop(shutdownCtx); err != nil {
			log.Error("Error stopping event bus", zap.Error(err))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("Server exited with error", zap.Error(err))
		return
	}
	log.Info("Server exited gracefully")
}

// migrateSchema brings the database to the current schema: golang-migrate with
// the embedded files for postgres, AutoMigrate for sqlite.
func migrateSchema(cfg *config.Config, db *persistence.Database, log *zap.Logger) error {
	if !db.IsPostgres() {
		return db.AutoMigrate()
	}

	// the migrate driver closes the connection it is given, so it gets its own
	conn, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		return err
	}
	m, err := migration.NewEmbedded(conn, migrations.FS, ".", log, migration.Options{})
	if err != nil {
		_ = conn.Close()
		return err
	}
	defer m.Close()
	return m.Up()
}
