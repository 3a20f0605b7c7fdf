package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	_ "modernc.org/sqlite"

	"github.com/openshelf/circulation-go/circulation"
	"github.com/openshelf/circulation-go/circulation/memoryengine"
	"github.com/openshelf/circulation-go/circulation/oteladapters"
	"github.com/openshelf/circulation-go/circulation/promadapters"
	"github.com/openshelf/circulation-go/circulation/sqlengine"
	"github.com/openshelf/circulation-go/internal/config"
	"github.com/openshelf/circulation-go/internal/httpapi"
)

const shutdownGracePeriod = 10 * time.Second

func runServer(ctx context.Context, cfg config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	slogger := buildSlogger(cfg.Logging)
	logger := oteladapters.NewSlogLogger(slogger)
	ctxLogger := oteladapters.NewSlogBridgeLoggerWithHandler(slogger.Handler())

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	metrics := promadapters.NewMetricsCollector(registry)

	engine, closeEngine, err := buildEngine(ctx, cfg, logger, ctxLogger, metrics)
	if err != nil {
		return err
	}
	defer closeEngine()

	router := chi.NewRouter()
	router.Mount("/", httpapi.NewHandler(engine, logger, time.Now).Router())
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:    cfg.Listen,
		Handler: router,
	}

	go sweepLoop(ctx, engine, cfg.SweepInterval, slogger)

	errs := make(chan error, 1)
	go func() {
		slogger.Info("server listening", "addr", cfg.Listen, "storage", cfg.Storage)
		errs <- server.ListenAndServe()
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	slogger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}

	if err := <-errs; !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

// sweepLoop periodically reclassifies loans past their due date. A sweep
// failure is logged and retried on the next tick.
func sweepLoop(ctx context.Context, engine httpapi.Service, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			transitioned, err := engine.SweepOverdue(ctx, time.Now())
			if err != nil {
				logger.Warn("overdue sweep failed", "error", err.Error())
				continue
			}

			if transitioned > 0 {
				logger.Info("overdue sweep finished", "transitioned", transitioned)
			}
		}
	}
}

func buildEngine(
	ctx context.Context,
	cfg config.Config,
	logger circulation.Logger,
	ctxLogger circulation.ContextualLogger,
	metrics circulation.MetricsCollector,
) (httpapi.Service, func(), error) {

	noop := func() {}

	switch cfg.Storage {
	case config.StorageMemory:
		engine, err := memoryengine.NewEngine(
			memoryengine.WithLogger(logger),
			memoryengine.WithContextualLogger(ctxLogger),
			memoryengine.WithMetricsCollector(metrics),
			memoryengine.WithDefaultLoanPeriod(cfg.LoanPeriodDays),
			memoryengine.WithDailyFineRate(cfg.DailyFineRate),
			memoryengine.WithLockTimeout(cfg.LockTimeout),
		)
		if err != nil {
			return nil, noop, err
		}

		return engine, noop, nil

	case config.StorageSQLite:
		db, err := sql.Open("sqlite", cfg.SQLitePath)
		if err != nil {
			return nil, noop, err
		}

		// A single connection sidesteps SQLITE_BUSY under write contention.
		db.SetMaxOpenConns(1)

		engine, err := sqlengine.NewEngineFromSQLDB(db, sqlOptions(cfg, logger, ctxLogger, metrics, sqlengine.DialectSQLite)...)
		if err != nil {
			_ = db.Close()
			return nil, noop, err
		}

		if err := engine.CreateSchema(ctx); err != nil {
			_ = db.Close()
			return nil, noop, err
		}

		return engine, func() { _ = db.Close() }, nil

	case config.StoragePostgres:
		return buildPostgresEngine(ctx, cfg, logger, ctxLogger, metrics)

	default:
		return nil, noop, config.ErrUnknownStorage
	}
}

func buildPostgresEngine(
	ctx context.Context,
	cfg config.Config,
	logger circulation.Logger,
	ctxLogger circulation.ContextualLogger,
	metrics circulation.MetricsCollector,
) (httpapi.Service, func(), error) {

	noop := func() {}
	options := sqlOptions(cfg, logger, ctxLogger, metrics, sqlengine.DialectPostgres)

	var (
		engine      sqlengine.Engine
		closeEngine func()
		err         error
	)

	switch cfg.PostgresDriver {
	case config.DriverPGX:
		var pool *pgxpool.Pool
		pool, err = pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, noop, err
		}

		closeEngine = pool.Close
		engine, err = sqlengine.NewEngineFromPGXPool(pool, options...)

	case config.DriverSQLDB:
		var db *sql.DB
		db, err = sql.Open("postgres", cfg.PostgresDSN)
		if err != nil {
			return nil, noop, err
		}

		closeEngine = func() { _ = db.Close() }
		engine, err = sqlengine.NewEngineFromSQLDB(db, options...)

	case config.DriverSQLX:
		var db *sqlx.DB
		db, err = sqlx.ConnectContext(ctx, "postgres", cfg.PostgresDSN)
		if err != nil {
			return nil, noop, err
		}

		closeEngine = func() { _ = db.Close() }
		engine, err = sqlengine.NewEngineFromSQLX(db, options...)

	default:
		return nil, noop, config.ErrUnknownPostgresDriver
	}

	if err != nil {
		closeEngine()
		return nil, noop, err
	}

	if err := engine.CreateSchema(ctx); err != nil {
		closeEngine()
		return nil, noop, err
	}

	return engine, closeEngine, nil
}

func sqlOptions(
	cfg config.Config,
	logger circulation.Logger,
	ctxLogger circulation.ContextualLogger,
	metrics circulation.MetricsCollector,
	dialect sqlengine.Dialect,
) []sqlengine.Option {

	options := []sqlengine.Option{
		sqlengine.WithDialect(dialect),
		sqlengine.WithLogger(logger),
		sqlengine.WithContextualLogger(ctxLogger),
		sqlengine.WithMetricsCollector(metrics),
		sqlengine.WithDefaultLoanPeriod(cfg.LoanPeriodDays),
		sqlengine.WithDailyFineRate(cfg.DailyFineRate),
	}

	if cfg.TablePrefix != "" {
		options = append(options, sqlengine.WithTablePrefix(cfg.TablePrefix))
	}

	return options
}

func buildSlogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
