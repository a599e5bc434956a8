package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/angelmondragon/stockledger-backend/api"
	"github.com/angelmondragon/stockledger-backend/api/routes"
	"github.com/angelmondragon/stockledger-backend/internal/audit"
	"github.com/angelmondragon/stockledger-backend/internal/catalog"
	"github.com/angelmondragon/stockledger-backend/internal/reconciliation"
	"github.com/angelmondragon/stockledger-backend/internal/sales"
	"github.com/angelmondragon/stockledger-backend/internal/stock"
	"github.com/angelmondragon/stockledger-backend/internal/terminals"
	"github.com/angelmondragon/stockledger-backend/internal/units"
	"github.com/angelmondragon/stockledger-backend/pkg/config"
	"github.com/angelmondragon/stockledger-backend/pkg/db"
	"github.com/angelmondragon/stockledger-backend/pkg/logger"
	"github.com/angelmondragon/stockledger-backend/pkg/metrics"
	"github.com/angelmondragon/stockledger-backend/pkg/migrate"
	"github.com/angelmondragon/stockledger-backend/pkg/outbox"
	"github.com/angelmondragon/stockledger-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
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

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	params, err := buildRouterParams(cfg, logg, dbClient, registry)
	if err != nil {
		logg.Error(context.Background(), "failed to wire services", err)
		os.Exit(1)
	}
	params.Redis = redisClient

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := api.NewServer(api.ServerParams{
		Addr:    addr,
		Handler: routes.NewRouter(params),
		Logger:  logg,
	})
	if err := server.Run(ctx); err != nil {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "api server stopped")
}

func buildRouterParams(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, registry *prometheus.Registry) (routes.RouterParams, error) {
	conn := dbClient.DB()
	recorder := audit.NewOutboxRecorder(conn, outbox.NewService(outbox.NewRepository(conn), logg), logg, cfg.Audit.Enabled)

	catalogSvc, err := catalog.NewService(catalog.NewRepository(conn), dbClient, recorder)
	if err != nil {
		return routes.RouterParams{}, err
	}
	ledger, err := stock.NewService(stock.ServiceParams{
		TX:       dbClient,
		Repo:     stock.NewRepository(conn),
		Recorder: recorder,
		Metrics:  metrics.NewLedgerMetrics(registry),
		Logger:   logg,
	})
	if err != nil {
		return routes.RouterParams{}, err
	}
	converter, err := units.NewService(units.NewRepository(conn), recorder)
	if err != nil {
		return routes.RouterParams{}, err
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
		return routes.RouterParams{}, err
	}
	terminalSvc, err := terminals.NewService(terminals.ServiceParams{
		Repo:      terminals.NewRepository(conn),
		Locations: catalogSvc,
		Recorder:  recorder,
	})
	if err != nil {
		return routes.RouterParams{}, err
	}
	reconSvc, err := reconciliation.NewService(reconciliation.ServiceParams{
		Repo:         reconciliation.NewRepository(conn),
		Sales:        salesSvc,
		Metrics:      metrics.NewReconciliationMetrics(registry),
		Logger:       logg,
		MaxBatchSize: cfg.Reconciliation.MaxBatchSize,
	})
	if err != nil {
		return routes.RouterParams{}, err
	}

	return routes.RouterParams{
		Config:         cfg,
		Logger:         logg,
		DB:             dbClient,
		Catalog:        catalogSvc,
		Stock:          ledger,
		Units:          converter,
		Sales:          salesSvc,
		Terminals:      terminalSvc,
		Reconciliation: reconSvc,
		HTTPMetrics:    metrics.NewHTTPMetrics(registry),
		Gatherer:       registry,
	}, nil
}
