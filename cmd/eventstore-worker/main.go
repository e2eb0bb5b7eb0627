// Package main is the eventstore operational worker: it runs the cart
// projection consumer against one tenant partition and serves a small
// health/metrics/pprof HTTP surface alongside it.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/eventedge/eventstore/internal/config"
	"github.com/eventedge/eventstore/internal/eventstore"
	pgstore "github.com/eventedge/eventstore/internal/eventstore/postgres"
	litestore "github.com/eventedge/eventstore/internal/eventstore/sqlite"
	"github.com/eventedge/eventstore/internal/health"
	"github.com/eventedge/eventstore/internal/logger"
	"github.com/eventedge/eventstore/internal/projection"
	cartprojection "github.com/eventedge/eventstore/internal/projections/cart"
	"github.com/eventedge/eventstore/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

func main() {
	os.Exit(run())
}

func run() int {
	partition := flag.String("partition", config.GetEnv("EVENTSTORE_PARTITION", ""), "tenant partition to consume")
	dbDriver := flag.String("db-driver", config.GetEnv("EVENTSTORE_DB_DRIVER", "postgres"), "\"postgres\" or \"sqlite\"")
	dbURL := flag.String("db-url", config.GetEnv("EVENTSTORE_DB_URL", ""), "database connection string")
	batchSize := flag.Int64("batch-size", int64(config.GetEnvInt("EVENTSTORE_BATCH_SIZE", 100)), "events processed per stream per pass")
	healthAddr := flag.String("health-addr", config.GetEnv("EVENTSTORE_HEALTH_ADDR", ":8080"), "address for the health/metrics server")
	logLevel := flag.String("log-level", config.GetEnv("EVENTSTORE_LOG_LEVEL", "info"), "")
	logFormat := flag.String("log-format", config.GetEnv("EVENTSTORE_LOG_FORMAT", "console"), "")
	flag.Parse()

	cfg := config.Worker{
		Partition:       *partition,
		DBDriver:        *dbDriver,
		DBURL:           *dbURL,
		BatchSize:       *batchSize,
		PollingInterval: config.PollingIntervalFromEnv(),
		HealthAddr:      *healthAddr,
		SentryDSN:       config.GetEnv("SENTRY_DSN", ""),
		LogLevel:        *logLevel,
		LogFormat:       *logFormat,
	}

	logger.Initialize(cfg.LogLevel, cfg.LogFormat)
	log := logger.Get()

	if err := cfg.Validate(); err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		return 1
	}

	flushSentry, err := telemetry.InitSentry(cfg.SentryDSN, "eventstore-worker")
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize sentry")
		return 1
	}
	defer flushSentry()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, db, err := openStore(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Msg("failed to open store")
		return 1
	}
	defer store.Close()

	registry := projection.Merge(cartprojection.Registry())
	metrics := projection.NewMetrics()
	promRegistry := prometheus.NewRegistry()
	metrics.MustRegister(promRegistry)

	var reporter projection.ErrorReporter
	if cfg.SentryDSN != "" {
		reporter = telemetry.Reporter
	}

	consumer, err := projection.NewConsumer(store, db, projection.Config{
		Partition:       cfg.Partition,
		BatchSize:       cfg.BatchSize,
		PollingInterval: cfg.PollingInterval,
		Registry:        registry,
		Metrics:         metrics,
		Reporter:        reporter,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to build consumer")
		return 1
	}

	group, groupCtx := errgroup.WithContext(ctx)

	healthServer := health.New(cfg.HealthAddr, db, promRegistry)
	group.Go(func() error { return healthServer.ListenAndServe(groupCtx) })

	consumer.Start(groupCtx, group)

	log.Info().Str("partition", cfg.Partition).Str("health_addr", cfg.HealthAddr).Msg("eventstore-worker started")

	<-ctx.Done()
	log.Info().Msg("shutdown signal received")

	stopCtx, cancel := context.WithTimeout(context.Background(), cfg.PollingInterval*5)
	defer cancel()
	if err := consumer.Stop(stopCtx); err != nil {
		log.Error().Err(err).Msg("consumer did not stop cleanly")
	}

	if err := group.Wait(); err != nil {
		log.Error().Err(err).Msg("worker exited with error")
		return 1
	}
	return 0
}

func openStore(ctx context.Context, cfg config.Worker) (eventstore.Store, *sql.DB, error) {
	switch cfg.DBDriver {
	case "postgres":
		store, err := pgstore.Open(ctx, cfg.DBURL)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres store: %w", err)
		}
		return store, store.DB(), nil
	case "sqlite":
		store, err := litestore.Open(ctx, cfg.DBURL)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return store, store.DB(), nil
	default:
		return nil, nil, fmt.Errorf("unknown db driver %q", cfg.DBDriver)
	}
}
