package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/buttonbid-backend/internal/auctions"
	"github.com/angelmondragon/buttonbid-backend/internal/cron"
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

const serviceName = "cron-worker"

func main() {
	runOnce := flag.String("run-once", "", "run a single job by name and exit (settlement|outbox-retention|notification-cleanup)")
	flag.Parse()

	logg := logger.New(logger.Options{ServiceName: serviceName})
	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logg, *runOnce); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "cron worker shutting down gracefully")
}

// run schedules the registered jobs, or runs only the named one when
// onlyJob is set.
func run(ctx context.Context, logg *logger.Logger, onlyJob string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.Service.Kind = serviceName

	logg = logger.New(logger.Options{
		ServiceName: serviceName,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"instance":    instance.GetID(),
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("bootstrap database: %w", err)
	}
	defer closeWithLog(ctx, logg, "database", dbClient.Close)

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return fmt.Errorf("dev migrations: %w", err)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return fmt.Errorf("bootstrap redis: %w", err)
	}
	defer closeWithLog(ctx, logg, "redis", redisClient.Close)

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(serviceName, cfg.App.Env), cfg.Settlement.LockTTL)
	if err != nil {
		return fmt.Errorf("cron lock: %w", err)
	}
	jobs, err := buildRegistry(cfg, logg, dbClient)
	if err != nil {
		return fmt.Errorf("register jobs: %w", err)
	}
	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: jobs,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Settlement.Interval,
	})
	if err != nil {
		return fmt.Errorf("cron service: %w", err)
	}

	if onlyJob != "" {
		ctx = logg.WithJob(ctx, onlyJob)
		if err := service.RunOnce(ctx, onlyJob); err != nil {
			return err
		}
		logg.Info(ctx, "cron job run complete")
		return nil
	}

	if addr := cfg.Settlement.MetricsAddr; addr != "" {
		go serveMetrics(ctx, logg, addr)
	}
	logg.Info(logg.WithField(ctx, "jobs", jobs.Names()), "starting cron worker")
	return service.Run(ctx)
}

func buildRegistry(cfg *config.Config, logg *logger.Logger, dbClient *db.Client) (*cron.Registry, error) {
	outboxRepo := outbox.NewRepository(dbClient.DB())

	ledgerSvc, err := ledger.NewService(ledger.NewRepository(dbClient.DB()), dbClient)
	if err != nil {
		return nil, err
	}
	engine, err := settlement.NewEngine(settlement.EngineParams{
		Repo:      auctions.NewRepository(dbClient.DB()),
		Ledger:    ledgerSvc,
		Outbox:    outbox.NewService(outboxRepo, logg),
		Tx:        dbClient,
		Logger:    logg,
		Metrics:   metrics.NewAuctionMetrics(prometheus.DefaultRegisterer),
		BatchSize: cfg.Settlement.BatchSize,
	})
	if err != nil {
		return nil, err
	}

	settlementJob, err := cron.NewSettlementJob(cron.SettlementJobParams{Logger: logg, Engine: engine})
	if err != nil {
		return nil, err
	}
	retentionJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		Repository: outboxRepo,
		Retention:  cfg.Outbox.Retention,
	})
	if err != nil {
		return nil, err
	}
	cleanupJob, err := cron.NewNotificationCleanupJob(cron.NotificationCleanupJobParams{
		Logger:     logg,
		DB:         dbClient,
		Repository: notifications.NewRepository(dbClient.DB()),
	})
	if err != nil {
		return nil, err
	}
	return cron.NewRegistry(settlementJob, retentionJob, cleanupJob), nil
}

func serveMetrics(ctx context.Context, logg *logger.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		_ = server.Close()
	}()
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logg.Error(ctx, "metrics listener stopped", err)
	}
}

func closeWithLog(ctx context.Context, logg *logger.Logger, resource string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logg.Error(ctx, "error closing "+resource, err)
	}
}
