package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/buttonbid-backend/pkg/config"
	"github.com/angelmondragon/buttonbid-backend/pkg/db/models"
	"github.com/angelmondragon/buttonbid-backend/pkg/enums"
	"github.com/angelmondragon/buttonbid-backend/pkg/logger"
	"github.com/angelmondragon/buttonbid-backend/pkg/metrics"
	"github.com/angelmondragon/buttonbid-backend/pkg/outbox/registry"
)

const (
	defaultBatchSize      = 50
	defaultPollInterval   = 500 * time.Millisecond
	defaultPublishTimeout = 15 * time.Second
	defaultMaxAttempts    = 10
	maxBackoff            = 10 * time.Second
	jitterWindow          = 250 * time.Millisecond
)

type dbClient interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type pubSubClient interface {
	Ping(context.Context) error
	Publisher(name string) *gcppubsub.Publisher
}

type outboxRepository interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID, now time.Time) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, now time.Time, err error) error
}

type dlqRepository interface {
	InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error
}

type registryResolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

type ServiceParams struct {
	Config           *config.Config
	Logger           *logger.Logger
	DB               dbClient
	PubSub           pubSubClient
	Repository       outboxRepository
	Registry         registryResolver
	PublisherFactory publisherFactory
	DLQRepository    dlqRepository
	Metrics          *metrics.OutboxMetrics
}

// Service relays committed feed rows to Pub/Sub. Delivery is at-least-once;
// rows of one auction share an ordering key and go out in commit order.
type Service struct {
	logg        *logger.Logger
	db          dbClient
	repo        outboxRepository
	pubsub      pubSubClient
	registry    registryResolver
	dlq         dlqRepository
	publishers  publisherFactory
	metrics     *metrics.OutboxMetrics
	batchSize   int
	maxAttempts int
	interval    time.Duration
	now         func() time.Time
	jitter      *rand.Rand
}

func NewService(params ServiceParams) (*Service, error) {
	required := []struct {
		name string
		nil  bool
	}{
		{"config", params.Config == nil},
		{"logger", params.Logger == nil},
		{"database client", params.DB == nil},
		{"pubsub client", params.PubSub == nil},
		{"outbox repository", params.Repository == nil},
		{"event registry", params.Registry == nil},
		{"dlq repository", params.DLQRepository == nil},
	}
	for _, dep := range required {
		if dep.nil {
			return nil, fmt.Errorf("%s is required", dep.name)
		}
	}

	publishers := params.PublisherFactory
	if publishers == nil {
		publishers = topicPublishers(params.PubSub)
	}

	cfg := params.Config.Outbox
	s := &Service{
		logg:        params.Logger,
		db:          params.DB,
		repo:        params.Repository,
		pubsub:      params.PubSub,
		registry:    params.Registry,
		dlq:         params.DLQRepository,
		publishers:  publishers,
		metrics:     params.Metrics,
		batchSize:   positiveOr(cfg.BatchSize, defaultBatchSize),
		maxAttempts: positiveOr(cfg.MaxAttempts, defaultMaxAttempts),
		interval:    time.Duration(cfg.PollIntervalMS) * time.Millisecond,
		now:         func() time.Time { return time.Now().UTC() },
		jitter:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	if s.interval <= 0 {
		s.interval = defaultPollInterval
	}
	return s, nil
}

func positiveOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

// Run polls until ctx is canceled. Full batches are drained back to back;
// errors back off exponentially up to maxBackoff.
func (s *Service) Run(ctx context.Context) error {
	for name, ping := range map[string]func(context.Context) error{
		"database": s.db.Ping,
		"pubsub":   s.pubsub.Ping,
	} {
		if err := ping(ctx); err != nil {
			return fmt.Errorf("%s ping failed: %w", name, err)
		}
	}

	backoff := s.interval
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		processed, err := s.processBatch(ctx)
		wait := s.interval
		switch {
		case err != nil:
			s.logg.Error(ctx, "outbox publisher batch error", err)
			backoff = nextBackoff(backoff, s.interval, maxBackoff)
			wait = backoff
		case processed:
			backoff = s.interval
			continue
		default:
			backoff = s.interval
		}
		if err := s.sleep(ctx, s.withJitter(wait)); err != nil {
			return err
		}
	}
}

// processBatch reports whether any rows were claimed.
func (s *Service) processBatch(ctx context.Context) (bool, error) {
	var processed bool
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := s.repo.FetchUnpublishedForPublish(tx, s.batchSize, s.maxAttempts)
		if err != nil {
			return err
		}
		processed = len(rows) > 0

		// A failed row holds back later rows of the same auction until the
		// next batch.
		held := map[uuid.UUID]bool{}
		for _, row := range rows {
			if held[row.AggregateID] {
				s.metrics.Row(string(row.EventType), metrics.OutboxHeld)
				continue
			}
			retry, err := s.relay(ctx, tx, row)
			if err != nil {
				return err
			}
			if retry {
				held[row.AggregateID] = true
			}
		}
		return nil
	})
	return processed, err
}

// relay publishes one row and records its outcome. retry is true when the
// row stays pending.
func (s *Service) relay(ctx context.Context, tx *gorm.DB, row models.OutboxEvent) (retry bool, err error) {
	eventType := string(row.EventType)
	rowCtx := s.logg.WithFields(ctx, map[string]any{
		"outbox_id":      row.ID.String(),
		"event_type":     eventType,
		"aggregate_type": row.AggregateType,
		"aggregate_id":   row.AggregateID.String(),
		"attempt_count":  row.AttemptCount,
	})

	resolved, err := s.registry.Resolve(row)
	if err != nil {
		return false, s.deadLetter(rowCtx, tx, row, enums.OutboxDLQReasonNonRetryable, err)
	}
	rowCtx = s.logg.WithFields(rowCtx, map[string]any{
		"event_id": resolved.Envelope.EventID,
		"topic":    resolved.Descriptor.Topic,
	})

	pubErr := s.publish(ctx, row, resolved)
	var nonRetryable registry.NonRetryableError
	switch {
	case pubErr == nil:
		if err := s.repo.MarkPublishedTx(tx, row.ID, s.now()); err != nil {
			return false, fmt.Errorf("mark published %s: %w", row.ID, err)
		}
		s.metrics.Row(eventType, metrics.OutboxPublished)
		s.metrics.ObserveLag(s.now().Sub(row.CreatedAt))
		s.logg.Info(rowCtx, "outbox event published")
		return false, nil
	case errors.As(pubErr, &nonRetryable):
		return false, s.deadLetter(rowCtx, tx, row, enums.OutboxDLQReasonNonRetryable, pubErr)
	case row.AttemptCount+1 >= s.maxAttempts:
		return false, s.deadLetter(rowCtx, tx, row, enums.OutboxDLQReasonMaxAttempts,
			fmt.Errorf("max publish attempts reached: %w", pubErr))
	}

	s.logg.Warn(s.logg.WithField(rowCtx, "error", pubErr.Error()), "outbox publish failed")
	if err := s.repo.MarkFailedTx(tx, row.ID, pubErr); err != nil {
		return false, fmt.Errorf("mark failure %s: %w", row.ID, err)
	}
	s.metrics.Row(eventType, metrics.OutboxRetry)
	return true, nil
}

func (s *Service) deadLetter(ctx context.Context, tx *gorm.DB, row models.OutboxEvent, reason enums.OutboxDLQErrorReason, cause error) error {
	s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
		"error_reason": reason,
		"error":        cause.Error(),
	}), "outbox event moved to dead letter queue")

	msg := cause.Error()
	failedAt := s.now()
	if err := s.dlq.InsertTx(tx, models.OutboxDLQ{
		EventID:       row.ID,
		EventType:     row.EventType,
		AggregateType: row.AggregateType,
		AggregateID:   row.AggregateID,
		Payload:       row.Payload,
		ErrorReason:   reason,
		ErrorMessage:  &msg,
		AttemptCount:  row.AttemptCount,
		FailedAt:      failedAt,
	}); err != nil {
		return fmt.Errorf("insert dlq %s: %w", row.ID, err)
	}
	if err := s.repo.MarkTerminalTx(tx, row.ID, failedAt, cause); err != nil {
		return fmt.Errorf("mark terminal %s: %w", row.ID, err)
	}
	s.metrics.Row(string(row.EventType), metrics.OutboxDeadLettered)
	return nil
}

func (s *Service) publish(ctx context.Context, row models.OutboxEvent, resolved *registry.ResolvedEvent) error {
	topic := resolved.Descriptor.Topic
	pub := s.publishers(topic)
	if pub == nil {
		return registry.NewNonRetryableError(fmt.Errorf("publisher not configured for topic %s", topic))
	}

	msg := feedMessage(row, resolved)
	publishCtx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
	defer cancel()

	started := time.Now()
	result := pub.Publish(publishCtx, msg)
	if result == nil {
		return registry.NewNonRetryableError(fmt.Errorf("publisher returned nil for topic %s", topic))
	}
	_, err := result.Get(publishCtx)
	s.metrics.ObservePublish(topic, time.Since(started))
	if err != nil {
		// An ordering key pauses after a failure until resumed.
		pub.ResumePublish(msg.OrderingKey)
		return err
	}
	return nil
}

func (s *Service) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (s *Service) withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d + time.Duration(s.jitter.Int63n(int64(jitterWindow)))
}

func nextBackoff(current, base, limit time.Duration) time.Duration {
	if current <= 0 {
		current = base
	}
	if next := current * 2; next < limit {
		return next
	}
	return limit
}
