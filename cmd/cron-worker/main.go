package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/stockledger-backend/internal/audit"
	"github.com/angelmondragon/stockledger-backend/internal/catalog"
	"github.com/angelmondragon/stockledger-backend/internal/cron"
	"github.com/angelmondragon/stockledger-backend/internal/reconciliation"
	"github.com/angelmondragon/stockledger-backend/internal/sales"
	"github.com/angelmondragon/stockledger-backend/internal/stock"
	"github.com/angelmondragon/stockledger-backend/internal/units"
	"github.com/angelmondragon/stockledger-backend/pkg/config"
	"github.com/angelmondragon/stockledger-backend/pkg/db"
	"github.com/angelmondragon/stockledger-backend/pkg/logger"
	"github.com/angelmondragon/stockledger-backend/pkg/metrics"
	"github.com/angelmondragon/stockledger-backend/pkg/migrate"
	"github.com/angelmondragon/stockledger-backend/pkg/outbox"
	"github.com/angelmondragon/stockledger-backend/pkg/redis"
)

const (
	serviceName   = "cron-worker"
	lockKeyFormat = "cron-worker:%s"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: serviceName})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: serviceName,
		Level:       cfg.App.LogLevel,
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	registry, err := buildJobs(cfg, logg, dbClient)
	if err != nil {
		logg.Error(context.Background(), "failed to build cron jobs", err)
		os.Exit(1)
	}

	interval := cfg.Reconciliation.Interval()
	lock, err := cron.NewRedisLock(redisClient, lockKey(cfg.App.Env), interval-interval/12)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"interval": interval.String(),
		"jobs":     registry.Names(),
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

// buildJobs wires the housekeeping jobs: closing abandoned reconciliation
// runs, cancelling stale pending sales and trimming published outbox rows.
func buildJobs(cfg *config.Config, logg *logger.Logger, dbClient *db.Client) (*cron.Registry, error) {
	conn := dbClient.DB()
	recorder := audit.NewOutboxRecorder(conn, outbox.NewService(outbox.NewRepository(conn), logg), logg, cfg.Audit.Enabled)

	catalogSvc, err := catalog.NewService(catalog.NewRepository(conn), dbClient, recorder)
	if err != nil {
		return nil, err
	}
	ledger, err := stock.NewService(stock.ServiceParams{
		TX:       dbClient,
		Repo:     stock.NewRepository(conn),
		Recorder: recorder,
		Logger:   logg,
	})
	if err != nil {
		return nil, err
	}
	converter, err := units.NewService(units.NewRepository(conn), recorder)
	if err != nil {
		return nil, err
	}
	salesSvc, err := sales.NewService(sales.ServiceParams{
		Repo:      sales.NewRepository(conn),
		Ledger:    ledger,
		Catalog:   catalogSvc,
		Converter: converter,
		Recorder:  recorder,
		Logger:    logg,
	})
	if err != nil {
		return nil, err
	}
	reconSvc, err := reconciliation.NewService(reconciliation.ServiceParams{
		Repo:   reconciliation.NewRepository(conn),
		Sales:  salesSvc,
		Logger: logg,
	})
	if err != nil {
		return nil, err
	}

	staleRuns, err := cron.NewStaleReconciliationJob(cron.StaleReconciliationJobParams{
		Logger:    logg,
		Logs:      reconSvc,
		OlderThan: cfg.Reconciliation.StaleRunningTTL,
	})
	if err != nil {
		return nil, err
	}
	pendingSweep, err := cron.NewPendingSaleSweepJob(cron.PendingSaleSweepJobParams{
		Logger:    logg,
		Sales:     salesSvc,
		OlderThan: cfg.Reconciliation.PendingSaleTTL,
		Limit:     cfg.Reconciliation.SweepBatchLimit,
	})
	if err != nil {
		return nil, err
	}
	retention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:       logg,
		Repository:   outbox.NewRepository(conn),
		DLQ:          outbox.NewDLQRepository(conn),
		Retention:    cfg.Reconciliation.OutboxRetainDays,
		DLQRetention: cfg.Reconciliation.DLQRetainDays,
	})
	if err != nil {
		return nil, err
	}
	return cron.NewRegistry(staleRuns, pendingSweep, retention), nil
}

func lockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockKeyFormat, env)
}
