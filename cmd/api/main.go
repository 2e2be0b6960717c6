package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/buttonbid-backend/api/controllers"
	"github.com/angelmondragon/buttonbid-backend/api/routes"
	"github.com/angelmondragon/buttonbid-backend/internal/auctions"
	"github.com/angelmondragon/buttonbid-backend/internal/bidding"
	"github.com/angelmondragon/buttonbid-backend/internal/issuance"
	"github.com/angelmondragon/buttonbid-backend/internal/ledger"
	"github.com/angelmondragon/buttonbid-backend/internal/notifications"
	"github.com/angelmondragon/buttonbid-backend/internal/settlement"
	"github.com/angelmondragon/buttonbid-backend/pkg/config"
	"github.com/angelmondragon/buttonbid-backend/pkg/db"
	"github.com/angelmondragon/buttonbid-backend/pkg/instance"
	"github.com/angelmondragon/buttonbid-backend/pkg/logger"
	"github.com/angelmondragon/buttonbid-backend/pkg/metrics"
	"github.com/angelmondragon/buttonbid-backend/pkg/migrate"
	"github.com/angelmondragon/buttonbid-backend/pkg/outbox"
	"github.com/angelmondragon/buttonbid-backend/pkg/redis"
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
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
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

	deps, err := buildDependencies(cfg, logg, dbClient, redisClient)
	if err != nil {
		logg.Error(context.Background(), "failed to wire services", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	id := instance.GetID()
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": id,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:    addr,
		Handler: routes.NewRouter(deps),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}

func buildDependencies(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, redisClient *redis.Client) (routes.Dependencies, error) {
	auctionMetrics := metrics.NewAuctionMetrics(prometheus.DefaultRegisterer)
	emitter := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)

	ledgerSvc, err := ledger.NewService(ledger.NewRepository(dbClient.DB()), dbClient)
	if err != nil {
		return routes.Dependencies{}, err
	}
	issuanceSvc, err := issuance.NewService(ledgerSvc, emitter, dbClient, logg)
	if err != nil {
		return routes.Dependencies{}, err
	}

	auctionRepo := auctions.NewRepository(dbClient.DB())
	auctionSvc, err := auctions.NewService(auctions.ServiceParams{
		Repo:   auctionRepo,
		Ledger: ledgerSvc,
		Outbox: emitter,
		Tx:     dbClient,
		Logger: logg,
		Windows: auctions.Windows{
			Clothing: cfg.Auctions.ClothingWindow,
			Resale:   cfg.Auctions.ResaleWindow,
		},
	})
	if err != nil {
		return routes.Dependencies{}, err
	}

	processor, err := bidding.NewProcessor(bidding.ProcessorParams{
		Repo:    auctionRepo,
		Ledger:  ledgerSvc,
		Outbox:  emitter,
		Tx:      dbClient,
		Logger:  logg,
		Metrics: auctionMetrics,
	})
	if err != nil {
		return routes.Dependencies{}, err
	}

	engine, err := settlement.NewEngine(settlement.EngineParams{
		Repo:      auctionRepo,
		Ledger:    ledgerSvc,
		Outbox:    emitter,
		Tx:        dbClient,
		Logger:    logg,
		Metrics:   auctionMetrics,
		BatchSize: cfg.Settlement.BatchSize,
	})
	if err != nil {
		return routes.Dependencies{}, err
	}

	notificationSvc, err := notifications.NewService(notifications.NewRepository(dbClient.DB()))
	if err != nil {
		return routes.Dependencies{}, err
	}

	return routes.Dependencies{
		Config: cfg,
		Logger: logg,
		Cache:  redisClient,
		HealthChecks: map[string]controllers.Pinger{
			"database": dbClient,
			"redis":    redisClient,
		},
		Ledger:        ledgerSvc,
		Issuance:      issuanceSvc,
		Auctions:      auctionSvc,
		Bids:          processor,
		Settlement:    engine,
		Notifications: notificationSvc,
		DeadLetters:   outbox.NewDLQRepository(dbClient.DB()),
		Metrics:       promhttp.Handler(),
	}, nil
}
