package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	appinv "github.com/erp/stockledger/internal/application/inventory"
	reportapp "github.com/erp/stockledger/internal/application/report"
	"github.com/erp/stockledger/internal/domain/shared"
	"github.com/erp/stockledger/internal/infrastructure/auth"
	"github.com/erp/stockledger/internal/infrastructure/cache"
	"github.com/erp/stockledger/internal/infrastructure/config"
	"github.com/erp/stockledger/internal/infrastructure/event"
	csvimport "github.com/erp/stockledger/internal/infrastructure/import"
	"github.com/erp/stockledger/internal/infrastructure/logger"
	"github.com/erp/stockledger/internal/infrastructure/persistence"
	"github.com/erp/stockledger/internal/infrastructure/storage"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const dateLayout = "2006-01-02"

// env holds the services a command works with
type env struct {
	cfg *config.Config
	log *zap.Logger

	db          *persistence.Database
	backends    *cache.Backends
	ledger      *appinv.LedgerService
	products    *appinv.ProductService
	maintenance *appinv.MaintenanceService
	reports     *reportapp.ReportService
	archive     *storage.Archive
}

func (e *env) open(ctx context.Context) error {
	gormLog := logger.NewGormLogger(e.log, logger.MapGormLogLevel(e.cfg.Log.Level), logger.GormOptionsFrom(e.cfg.Log)...)
	db, err := persistence.NewDatabaseWithCustomLogger(&e.cfg.Database, gormLog)
	if err != nil {
		return err
	}
	e.db = db

	// the server holds the same locks, so maintenance waits for in-flight writes
	backends, err := cache.NewBackends(ctx, e.cfg.Ledger, e.cfg.Redis, e.log)
	if err != nil {
		return err
	}
	e.backends = backends

	clock := shared.SystemClock{}
	scope := persistence.NewGormTransactionScope(db.DB, e.cfg.Ledger.SnapshotReads)
	e.ledger = appinv.NewLedgerService(scope, backends.Locker,
		appinv.WithOutbox(event.NewOutboxPublisher(event.NewLedgerEventSerializer())),
		appinv.WithOrphanPolicy(appinv.OrphanPolicy(e.cfg.Ledger.OrphanPolicy)),
		appinv.WithImportLimit(e.cfg.Ledger.ImportMaxDocs),
		appinv.WithLogger(e.log),
	)
	e.products = appinv.NewProductService(scope, clock)
	e.maintenance = appinv.NewMaintenanceService(scope, clock)
	e.reports = reportapp.NewReportService(scope, clock, e.log)

	if e.cfg.Archive.Enabled {
		objects, err := storage.NewS3ObjectStorage(e.cfg.Archive,
			storage.WithLogger(e.log),
			storage.WithPresignExpiration(e.cfg.Archive.PresignExpiration),
		)
		if err != nil {
			return err
		}
		if e.cfg.Archive.CreateBucket {
			if err := objects.EnsureBucket(ctx); err != nil {
				return err
			}
		}
		e.archive = storage.NewArchive(objects, e.cfg.Archive.Prefix, clock, e.log)
	}
	return nil
}

func (e *env) close() {
	if e.backends != nil {
		_ = e.backends.Close()
		e.backends = nil
	}
	if e.db != nil {
		_ = e.db.Close()
		e.db = nil
	}
}

func runRebuild(ctx context.Context, e *env, args []string) (any, error) {
	fs := flag.NewFlagSet("rebuild", flag.ContinueOnError)
	noArchive := fs.Bool("no-archive", false, "Do not archive the rebuild record")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	started := time.Now().UTC()
	before, err := e.maintenance.CheckConsistency(ctx)
	if err != nil {
		return nil, fmt.Errorf("consistency check before rebuild: %w", err)
	}
	summary, err := e.ledger.Rebuild(ctx)
	if err != nil {
		return nil, err
	}

	rec := storage.RebuildRecord{StartedAt: started, Before: before, Summary: summary}
	if e.archive != nil && !*noArchive {
		key, err := e.archive.SaveRebuild(ctx, rec)
		if err != nil {
			e.log.Warn("Rebuild succeeded but archiving failed", zap.Error(err))
		} else {
			e.log.Info("Rebuild archived", zap.String("key", key))
		}
	}
	return rec, nil
}

func runCheckOrphans(ctx context.Context, e *env, _ []string) (any, error) {
	return e.maintenance.FindOrphanedBatches(ctx)
}

func runCheckProduct(ctx context.Context, e *env, args []string) (any, error) {
	fs := flag.NewFlagSet("check-product", flag.ContinueOnError)
	atFlag := fs.String("at", "", "Check as of this date (exclusive); defaults to now")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() != 1 {
		return nil, errors.New("usage: check-product [-at date] <product-id or code>")
	}

	productID, err := uuid.Parse(fs.Arg(0))
	if err != nil {
		if productID, err = e.products.ResolveProduct(ctx, fs.Arg(0)); err != nil {
			return nil, err
		}
	}
	var at *time.Time
	if *atFlag != "" {
		t, err := time.Parse(dateLayout, *atFlag)
		if err != nil {
			return nil, fmt.Errorf("invalid -at: %w", err)
		}
		at = &t
	}
	return e.maintenance.CheckProduct(ctx, productID, at)
}

func runConsistency(ctx context.Context, e *env, _ []string) (any, error) {
	rep, err := e.maintenance.CheckConsistency(ctx)
	if err != nil {
		return nil, err
	}
	if !rep.Healthy() {
		e.log.Warn("Ledger is inconsistent; run 'ledgerctl rebuild' to re-derive it",
			zap.Int("mismatches", len(rep.Mismatches)),
			zap.Int("orphans", len(rep.Orphans)),
		)
	}
	return rep, nil
}

func runReport(ctx context.Context, e *env, args []string) (any, error) {
	fs := flag.NewFlagSet("report", flag.ContinueOnError)
	openFlag := fs.String("open", "", "First day of the period")
	closeFlag := fs.String("close", "", "Day after the period")
	archive := fs.Bool("archive", false, "Store the report in the archive")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	open, err := time.Parse(dateLayout, *openFlag)
	if err != nil {
		return nil, fmt.Errorf("invalid -open: %w", err)
	}
	closeAt, err := time.Parse(dateLayout, *closeFlag)
	if err != nil {
		return nil, fmt.Errorf("invalid -close: %w", err)
	}

	r, err := e.reports.PeriodReport(ctx, open, closeAt)
	if err != nil {
		return nil, err
	}
	if *archive {
		if e.archive == nil {
			return nil, errors.New("archive is not enabled")
		}
		key, err := e.archive.SaveReport(ctx, r)
		if err != nil {
			return nil, err
		}
		e.log.Info("Report archived", zap.String("key", key))
	}
	return r, nil
}

func runImport(ctx context.Context, e *env, args []string) (any, error) {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	delimiter := fs.String("delimiter", ",", "Field delimiter")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() != 1 || len([]rune(*delimiter)) != 1 {
		return nil, errors.New("usage: import [-delimiter c] <file.csv>")
	}

	f, err := os.Open(fs.Arg(0))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	batch, err := csvimport.NewDecoder(e.products, csvimport.WithFieldDelimiter([]rune(*delimiter)[0])).Decode(ctx, f)
	if err != nil {
		return nil, err
	}
	if !batch.Valid() {
		return nil, fmt.Errorf("file rejected, nothing recorded: %s", batch.Errors.String())
	}
	return e.ledger.RecordAll(ctx, batch.Documents)
}

func runToken(_ context.Context, e *env, args []string) (any, error) {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	subject := fs.String("subject", "", "Token subject")
	scopes := fs.String("scopes", auth.ScopeWrite, "Comma separated scopes")
	ttl := fs.Duration("ttl", auth.DefaultTokenTTL, "Token lifetime")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	var list []string
	for _, s := range strings.Split(*scopes, ",") {
		if s = strings.TrimSpace(s); s != "" {
			list = append(list, s)
		}
	}
	return auth.NewTokenService(e.cfg.JWT).Issue(*subject, list, *ttl)
}
