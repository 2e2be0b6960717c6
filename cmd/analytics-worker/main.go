package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/buttonbid-backend/internal/consumers/analytics"
	"github.com/angelmondragon/buttonbid-backend/pkg/bigquery"
	"github.com/angelmondragon/buttonbid-backend/pkg/config"
	"github.com/angelmondragon/buttonbid-backend/pkg/instance"
	"github.com/angelmondragon/buttonbid-backend/pkg/logger"
	"github.com/angelmondragon/buttonbid-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/buttonbid-backend/pkg/pubsub"
	"github.com/angelmondragon/buttonbid-backend/pkg/redis"
)

const serviceName = "analytics-worker"

func main() {
	logg := logger.New(logger.Options{ServiceName: serviceName})
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logg); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "analytics worker stopped", err)
		os.Exit(1)
	}
}

// run streams the feed subscription into BigQuery until ctx is canceled.
func run(ctx context.Context, logg *logger.Logger) error {
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

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return fmt.Errorf("bootstrap redis: %w", err)
	}
	defer closeWithLog(ctx, logg, "redis", redisClient.Close)

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		return fmt.Errorf("bootstrap pubsub: %w", err)
	}
	defer closeWithLog(ctx, logg, "pubsub", pubsubClient.Close)

	bqClient, err := bigquery.NewClient(ctx, cfg.GCP, cfg.BigQuery, logg)
	if err != nil {
		return fmt.Errorf("bootstrap bigquery: %w", err)
	}
	defer closeWithLog(ctx, logg, "bigquery", bqClient.Close)

	subscription := pubsubClient.AnalyticsSubscription()
	if subscription == nil {
		return errors.New("analytics subscription not configured")
	}

	tables := analytics.Tables{
		Auctions: bqClient.AuctionEventsTable(),
		Ledger:   bqClient.LedgerEventsTable(),
	}
	if err := analytics.EnsureTables(ctx, bqClient, tables); err != nil {
		return err
	}

	manager, err := idempotency.NewManager(redisClient, cfg.Eventing.OutboxIdempotencyTTL)
	if err != nil {
		return fmt.Errorf("idempotency manager: %w", err)
	}
	consumer, err := analytics.NewConsumer(bqClient, tables, manager, subscription, logg)
	if err != nil {
		return fmt.Errorf("analytics consumer: %w", err)
	}

	logg.Info(ctx, "analytics worker ready")
	return consumer.Run(ctx)
}

func closeWithLog(ctx context.Context, logg *logger.Logger, resource string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logg.Error(ctx, "failed to close "+resource, err)
	}
}
