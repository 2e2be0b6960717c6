package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/buttonbid-backend/pkg/config"
	"github.com/angelmondragon/buttonbid-backend/pkg/db/models"
	"github.com/angelmondragon/buttonbid-backend/pkg/enums"
	"github.com/angelmondragon/buttonbid-backend/pkg/logger"
	"github.com/angelmondragon/buttonbid-backend/pkg/metrics"
	"github.com/angelmondragon/buttonbid-backend/pkg/outbox"
	"github.com/angelmondragon/buttonbid-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/buttonbid-backend/pkg/outbox/registry"
)

var errTransient = errors.New("pubsub unavailable")

// relayHarness wires a Service to in-memory collaborators.
type relayHarness struct {
	rows *memOutbox
	pub  *scriptedPublisher
	dlq  *memDLQ
	svc  *Service
}

func newHarness(t *testing.T, rows []models.OutboxEvent, cfg config.OutboxConfig, opts ...func(*ServiceParams)) *relayHarness {
	t.Helper()
	h := &relayHarness{
		rows: &memOutbox{pending: rows},
		pub:  &scriptedPublisher{},
		dlq:  &memDLQ{},
	}
	params := ServiceParams{
		Config:           &config.Config{Outbox: cfg},
		Logger:           logger.New(logger.Options{ServiceName: "outbox-publisher-test", Output: io.Discard}),
		DB:               inlineTx{},
		PubSub:           nopPubSub{},
		Repository:       h.rows,
		Registry:         resolveAs(enums.EventAuctionBidPlaced, nil),
		PublisherFactory: func(string) publisher { return h.pub },
		DLQRepository:    h.dlq,
	}
	for _, opt := range opts {
		opt(&params)
	}
	svc, err := NewService(params)
	require.NoError(t, err)
	h.svc = svc
	return h
}

func (h *relayHarness) drain(t *testing.T) bool {
	t.Helper()
	processed, err := h.svc.processBatch(context.Background())
	require.NoError(t, err)
	return processed
}

func feedRow(t *testing.T, auctionID uuid.UUID, attempts int) models.OutboxEvent {
	t.Helper()
	id := uuid.New()
	envelope, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    1,
		EventID:    id.String(),
		OccurredAt: time.Now().UTC(),
		Data:       json.RawMessage(`{}`),
	})
	require.NoError(t, err)
	return models.OutboxEvent{
		ID:            id,
		EventType:     enums.EventAuctionBidPlaced,
		AggregateType: enums.AggregateClothingAuction,
		AggregateID:   auctionID,
		Payload:       envelope,
		AttemptCount:  attempts,
		CreatedAt:     time.Now().UTC(),
	}
}

func TestRelayPublishesEnvelopeWithOrderingKey(t *testing.T) {
	auctionID := uuid.New()
	row := feedRow(t, auctionID, 0)
	h := newHarness(t, []models.OutboxEvent{row}, config.OutboxConfig{})

	assert.True(t, h.drain(t))

	require.Len(t, h.pub.sent, 1)
	msg := h.pub.sent[0]
	assert.Equal(t, auctionID.String(), msg.OrderingKey)
	assert.Equal(t, []byte(row.Payload), msg.Data)
	assert.Equal(t, string(enums.EventAuctionBidPlaced), msg.Attributes["event_type"])
	assert.Equal(t, auctionID.String(), msg.Attributes["aggregate_id"])
	assert.Equal(t, row.ID.String(), msg.Attributes["event_id"])
	assert.Equal(t, []uuid.UUID{row.ID}, h.rows.published)
}

func TestRelayRetriesFailedRowAndContinuesWithOtherAuctions(t *testing.T) {
	failing, healthy := feedRow(t, uuid.New(), 0), feedRow(t, uuid.New(), 0)
	h := newHarness(t, []models.OutboxEvent{failing, healthy}, config.OutboxConfig{})
	h.pub.failures = []error{errTransient}

	assert.True(t, h.drain(t))

	assert.Equal(t, []uuid.UUID{failing.ID}, h.rows.failed)
	assert.Equal(t, []uuid.UUID{healthy.ID}, h.rows.published)
	assert.Equal(t, []string{failing.AggregateID.String()}, h.pub.resumed)
	assert.Empty(t, h.dlq.entries)
}

func TestRelayHoldsRowsBehindAFailureOnTheSameAuction(t *testing.T) {
	auctionID := uuid.New()
	first, second := feedRow(t, auctionID, 0), feedRow(t, auctionID, 0)
	other := feedRow(t, uuid.New(), 0)
	h := newHarness(t, []models.OutboxEvent{first, second, other}, config.OutboxConfig{BatchSize: 3})
	h.pub.failures = []error{errTransient}

	h.drain(t)

	assert.Len(t, h.pub.sent, 2, "the held row is never offered to pubsub")
	assert.Equal(t, []uuid.UUID{first.ID}, h.rows.failed)
	assert.Equal(t, []uuid.UUID{other.ID}, h.rows.published)
}

func TestRelayDeadLettersUnresolvableRows(t *testing.T) {
	row := feedRow(t, uuid.New(), 0)
	h := newHarness(t, []models.OutboxEvent{row}, config.OutboxConfig{}, func(p *ServiceParams) {
		p.Registry = resolveAs("", registry.NewNonRetryableError(errors.New("unknown payload version")))
	})

	assert.True(t, h.drain(t))

	require.Len(t, h.dlq.entries, 1)
	entry := h.dlq.entries[0]
	assert.Equal(t, row.ID, entry.EventID)
	assert.Equal(t, []byte(row.Payload), []byte(entry.Payload))
	assert.Equal(t, enums.OutboxDLQReasonNonRetryable, entry.ErrorReason)
	require.NotNil(t, entry.ErrorMessage)
	assert.Contains(t, *entry.ErrorMessage, "unknown payload version")
	assert.Equal(t, []uuid.UUID{row.ID}, h.rows.terminal)
	assert.Empty(t, h.pub.sent)
}

func TestRelayDeadLettersWhenTopicHasNoPublisher(t *testing.T) {
	row := feedRow(t, uuid.New(), 0)
	h := newHarness(t, []models.OutboxEvent{row}, config.OutboxConfig{}, func(p *ServiceParams) {
		p.PublisherFactory = func(string) publisher { return nil }
	})

	h.drain(t)

	require.Len(t, h.dlq.entries, 1)
	assert.Equal(t, enums.OutboxDLQReasonNonRetryable, h.dlq.entries[0].ErrorReason)
	assert.Empty(t, h.rows.failed)
}

func TestRelayDeadLettersOnLastAttempt(t *testing.T) {
	row := feedRow(t, uuid.New(), 1)
	h := newHarness(t, []models.OutboxEvent{row}, config.OutboxConfig{BatchSize: 1, MaxAttempts: 2})
	h.pub.failures = []error{errTransient}

	assert.True(t, h.drain(t))

	require.Len(t, h.dlq.entries, 1)
	assert.Equal(t, enums.OutboxDLQReasonMaxAttempts, h.dlq.entries[0].ErrorReason)
	assert.Equal(t, []uuid.UUID{row.ID}, h.rows.terminal)
	assert.Empty(t, h.rows.failed, "terminal rows are not also marked failed")
}

func TestRelayReportsIdleOnEmptyBatch(t *testing.T) {
	h := newHarness(t, nil, config.OutboxConfig{})
	assert.False(t, h.drain(t))
	assert.Empty(t, h.pub.sent)
}

func TestRelayCountsOutcomes(t *testing.T) {
	auctionID := uuid.New()
	reg := prometheus.NewRegistry()
	h := newHarness(t, []models.OutboxEvent{feedRow(t, auctionID, 0), feedRow(t, auctionID, 0)}, config.OutboxConfig{},
		func(p *ServiceParams) { p.Metrics = metrics.NewOutboxMetrics(reg) })
	h.pub.failures = []error{errTransient}

	h.drain(t)

	families, err := reg.Gather()
	require.NoError(t, err)
	byOutcome := map[string]float64{}
	for _, family := range families {
		if family.GetName() != "buttonbid_outbox_rows_total" {
			continue
		}
		for _, m := range family.GetMetric() {
			for _, label := range m.GetLabel() {
				if label.GetName() == "outcome" {
					byOutcome[label.GetValue()] += m.GetCounter().GetValue()
				}
			}
		}
	}
	assert.Equal(t, map[string]float64{metrics.OutboxRetry: 1, metrics.OutboxHeld: 1}, byOutcome)
}

func TestNextBackoffDoublesUpToLimit(t *testing.T) {
	cases := []struct {
		current, want time.Duration
	}{
		{0, 2 * time.Second},
		{2 * time.Second, 4 * time.Second},
		{8 * time.Second, 10 * time.Second},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, nextBackoff(tc.current, time.Second, 10*time.Second), tc.current)
	}
}

func TestTopicPublishersYieldNilForUnknownTopic(t *testing.T) {
	client := &lookupCounter{}
	factory := topicPublishers(client)
	assert.Nil(t, factory("bb-auction-events"))
	assert.Nil(t, factory("bb-auction-events"))
	assert.Equal(t, 2, client.lookups, "missing publishers are not cached")
}

type memOutbox struct {
	pending   []models.OutboxEvent
	published []uuid.UUID
	failed    []uuid.UUID
	terminal  []uuid.UUID
}

func (m *memOutbox) FetchUnpublishedForPublish(_ *gorm.DB, _, _ int) ([]models.OutboxEvent, error) {
	return m.pending, nil
}

func (m *memOutbox) MarkPublishedTx(_ *gorm.DB, id uuid.UUID, _ time.Time) error {
	m.published = append(m.published, id)
	return nil
}

func (m *memOutbox) MarkFailedTx(_ *gorm.DB, id uuid.UUID, _ error) error {
	m.failed = append(m.failed, id)
	return nil
}

func (m *memOutbox) MarkTerminalTx(_ *gorm.DB, id uuid.UUID, _ time.Time, _ error) error {
	m.terminal = append(m.terminal, id)
	return nil
}

type memDLQ struct {
	entries []models.OutboxDLQ
}

func (m *memDLQ) InsertTx(_ *gorm.DB, entry models.OutboxDLQ) error {
	m.entries = append(m.entries, entry)
	return nil
}

type inlineTx struct{}

func (inlineTx) Ping(context.Context) error { return nil }

func (inlineTx) WithTx(_ context.Context, fn func(*gorm.DB) error) error { return fn(nil) }

type nopPubSub struct{}

func (nopPubSub) Ping(context.Context) error { return nil }

func (nopPubSub) Publisher(string) *gcppubsub.Publisher { return nil }

type lookupCounter struct {
	lookups int
}

func (l *lookupCounter) Ping(context.Context) error { return nil }

func (l *lookupCounter) Publisher(string) *gcppubsub.Publisher {
	l.lookups++
	return nil
}

// scriptedPublisher fails the first len(failures) publishes in order and
// acknowledges the rest.
type scriptedPublisher struct {
	failures []error
	sent     []*gcppubsub.Message
	resumed  []string
}

func (s *scriptedPublisher) Publish(_ context.Context, msg *gcppubsub.Message) publishResult {
	s.sent = append(s.sent, msg)
	var err error
	if len(s.failures) > 0 {
		err, s.failures = s.failures[0], s.failures[1:]
	}
	return ack{err: err}
}

func (s *scriptedPublisher) ResumePublish(orderingKey string) {
	s.resumed = append(s.resumed, orderingKey)
}

type ack struct {
	err error
}

func (a ack) Get(context.Context) (string, error) {
	if a.err != nil {
		return "", a.err
	}
	return "server-id", nil
}

// staticResolver resolves every row to one event type, or fails with err.
type staticResolver struct {
	eventType enums.OutboxEventType
	err       error
}

func resolveAs(eventType enums.OutboxEventType, err error) staticResolver {
	return staticResolver{eventType: eventType, err: err}
}

func (s staticResolver) Resolve(row models.OutboxEvent) (*registry.ResolvedEvent, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &registry.ResolvedEvent{
		Descriptor: registry.EventDescriptor{EventType: s.eventType, Topic: "bb-auction-events"},
		Envelope:   outbox.PayloadEnvelope{Version: 1, EventID: row.ID.String(), OccurredAt: row.CreatedAt},
		Payload:    &payloads.BidPlacedEvent{},
	}, nil
}
