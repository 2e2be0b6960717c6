package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	cbigquery "cloud.google.com/go/bigquery"
	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/angelmondragon/buttonbid-backend/pkg/enums"
	"github.com/angelmondragon/buttonbid-backend/pkg/logger"
	"github.com/angelmondragon/buttonbid-backend/pkg/outbox"
	"github.com/angelmondragon/buttonbid-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/buttonbid-backend/pkg/outbox/payloads"
)

const analyticsConsumerName = "analytics"

// errEventInFlight nacks a redelivery while another worker holds the claim.
var errEventInFlight = errors.New("event is being processed by another delivery")

type tableInserter interface {
	InsertRows(ctx context.Context, table string, rows []any) error
}

type idempotencyChecker interface {
	Claim(ctx context.Context, consumer string, eventID uuid.UUID) (idempotency.State, error)
	Complete(ctx context.Context, consumer string, eventID uuid.UUID) error
	Release(ctx context.Context, consumer string, eventID uuid.UUID) error
}

// Tables names the BigQuery destinations for feed rows.
type Tables struct {
	Auctions string
	Ledger   string
}

// Consumer writes feed events to BigQuery while honoring Redis idempotency.
type Consumer struct {
	client       tableInserter
	tables       Tables
	manager      idempotencyChecker
	subscription *gcppubsub.Subscriber
	logg         *logger.Logger
}

// NewConsumer builds a new analytics consumer. The subscription may be nil when
// the caller drives Process directly.
func NewConsumer(client tableInserter, tables Tables, manager idempotencyChecker, subscription *gcppubsub.Subscriber, logg *logger.Logger) (*Consumer, error) {
	if client == nil {
		return nil, fmt.Errorf("bigquery client required")
	}
	tables.Auctions = strings.TrimSpace(tables.Auctions)
	tables.Ledger = strings.TrimSpace(tables.Ledger)
	if tables.Auctions == "" {
		return nil, fmt.Errorf("auction events table name required")
	}
	if manager == nil {
		return nil, fmt.Errorf("idempotency manager required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{
		client:       client,
		tables:       tables,
		manager:      manager,
		subscription: subscription,
		logg:         logg,
	}, nil
}

// Run consumes the analytics subscription until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	if c.subscription == nil {
		return fmt.Errorf("analytics subscription required")
	}
	return c.subscription.Receive(ctx, func(innerCtx context.Context, msg *gcppubsub.Message) {
		if c.handleMessage(innerCtx, msg) {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

// handleMessage reports whether the message should be redelivered.
func (c *Consumer) handleMessage(ctx context.Context, msg *gcppubsub.Message) bool {
	logCtx := c.logg.WithField(ctx, "message_id", msg.ID)

	envelope, err := outbox.DecodeEnvelope(msg.Data)
	if err != nil {
		c.logg.Warn(c.logg.WithField(logCtx, "error", err.Error()), "invalid analytics envelope")
		return false
	}
	eventType, err := enums.ParseOutboxEventType(strings.TrimSpace(msg.Attributes["event_type"]))
	if err != nil {
		c.logg.Warn(logCtx, "unknown analytics event type")
		return false
	}
	if envelope.OccurredAt.IsZero() {
		if created, err := time.Parse(time.RFC3339Nano, msg.Attributes["created_at"]); err == nil {
			envelope.OccurredAt = created
		}
	}
	return c.Process(ctx, eventType, envelope) != nil
}

// Process ingests the outbox envelope into the table matching its event type.
func (c *Consumer) Process(ctx context.Context, eventType enums.OutboxEventType, envelope outbox.PayloadEnvelope) error {
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"event_id":   envelope.EventID,
		"event_type": string(eventType),
	})

	table := c.tables.Auctions
	if eventType == enums.EventButtonsGranted {
		table = c.tables.Ledger
	}
	if table == "" {
		c.logg.Debug(logCtx, "event not handled by analytics consumer")
		return nil
	}

	if envelope.EventID == "" {
		return fmt.Errorf("event id missing")
	}
	eventID, err := uuid.Parse(envelope.EventID)
	if err != nil {
		return fmt.Errorf("parse event id: %w", err)
	}

	state, err := c.manager.Claim(ctx, analyticsConsumerName, eventID)
	if err != nil {
		return fmt.Errorf("idempotency claim: %w", err)
	}
	switch state {
	case idempotency.Done:
		c.logg.Info(logCtx, "event already processed")
		return nil
	case idempotency.InFlight:
		return errEventInFlight
	}

	var row any
	if eventType == enums.EventButtonsGranted {
		row, err = buildLedgerRow(eventType, envelope)
	} else {
		row, err = buildAuctionRow(eventType, envelope)
	}
	if err != nil {
		c.logg.Error(logCtx, "failed to build analytics row", err)
		_ = c.manager.Release(ctx, analyticsConsumerName, eventID)
		return err
	}

	saver := &cbigquery.StructSaver{Struct: row, InsertID: envelope.EventID}
	if err := c.client.InsertRows(ctx, table, []any{saver}); err != nil {
		c.logg.Error(logCtx, "failed to insert analytics row", err)
		_ = c.manager.Release(ctx, analyticsConsumerName, eventID)
		return err
	}

	if err := c.manager.Complete(ctx, analyticsConsumerName, eventID); err != nil {
		// the insertID dedupes a replayed row on the BigQuery side
		c.logg.Warn(c.logg.WithField(logCtx, "error", err.Error()), "idempotency complete failed")
	}
	c.logg.Info(logCtx, "feed event ingested")
	return nil
}

type auctionEventRow struct {
	EventID      string              `bigquery:"event_id"`
	EventType    string              `bigquery:"event_type"`
	OccurredAt   time.Time           `bigquery:"occurred_at"`
	AuctionID    string              `bigquery:"auction_id"`
	AuctionKind  string              `bigquery:"auction_kind"`
	ActorID      *string             `bigquery:"actor_id"`
	Status       *string             `bigquery:"status"`
	Amount       *string             `bigquery:"amount"`
	ButtonAmount cbigquery.NullInt64 `bigquery:"button_amount"`
	Payload      cbigquery.NullJSON  `bigquery:"payload"`
}

type ledgerEventRow struct {
	EventID    string             `bigquery:"event_id"`
	EventType  string             `bigquery:"event_type"`
	OccurredAt time.Time          `bigquery:"occurred_at"`
	UserID     string             `bigquery:"user_id"`
	EntryKind  string             `bigquery:"entry_kind"`
	Amount     int64              `bigquery:"amount"`
	Balance    int64              `bigquery:"balance"`
	Payload    cbigquery.NullJSON `bigquery:"payload"`
}

func buildAuctionRow(eventType enums.OutboxEventType, envelope outbox.PayloadEnvelope) (*auctionEventRow, error) {
	row := &auctionEventRow{
		EventID:    envelope.EventID,
		EventType:  string(eventType),
		OccurredAt: envelope.OccurredAt.UTC(),
		Payload:    payloadJSON(envelope.Data),
	}

	switch eventType {
	case enums.EventAuctionCreated:
		var p payloads.AuctionCreatedEvent
		if err := decode(envelope.Data, &p); err != nil {
			return nil, err
		}
		row.AuctionID, row.AuctionKind, row.ActorID = p.AuctionID.String(), string(p.Kind), uuidString(p.OwnerID)
		if p.Kind == enums.AuctionKindResale && p.MinimumPriceUSD != nil {
			row.Amount = stringPtr(p.MinimumPriceUSD.StringFixed(2))
			row.ButtonAmount = cbigquery.NullInt64{Int64: p.ButtonAmount, Valid: true}
		} else {
			row.Amount = stringPtr(fmt.Sprintf("%d", p.MinimumPrice))
		}
	case enums.EventAuctionBidPlaced:
		var p payloads.BidPlacedEvent
		if err := decode(envelope.Data, &p); err != nil {
			return nil, err
		}
		row.AuctionID, row.AuctionKind, row.ActorID = p.AuctionID.String(), string(p.Kind), uuidString(p.BidderID)
		row.Amount = stringPtr(p.Amount)
	case enums.EventAuctionBidOutbid:
		var p payloads.BidOutbidEvent
		if err := decode(envelope.Data, &p); err != nil {
			return nil, err
		}
		row.AuctionID, row.AuctionKind, row.ActorID = p.AuctionID.String(), string(p.Kind), uuidString(p.BidderID)
		row.Amount = stringPtr(p.Amount)
	case enums.EventAuctionSettled:
		var p payloads.AuctionSettledEvent
		if err := decode(envelope.Data, &p); err != nil {
			return nil, err
		}
		row.AuctionID, row.AuctionKind = p.AuctionID.String(), string(p.Kind)
		row.Status = stringPtr(string(p.Status))
		if p.WinnerID != nil {
			row.ActorID = uuidString(*p.WinnerID)
		}
		if p.Amount != "" {
			row.Amount = stringPtr(p.Amount)
		}
		if p.ButtonAmount > 0 {
			row.ButtonAmount = cbigquery.NullInt64{Int64: p.ButtonAmount, Valid: true}
		}
	case enums.EventAuctionResaleSettled:
		var p payloads.ResaleSettledEvent
		if err := decode(envelope.Data, &p); err != nil {
			return nil, err
		}
		row.AuctionID, row.AuctionKind, row.ActorID = p.AuctionID.String(), string(enums.AuctionKindResale), uuidString(p.BuyerID)
		row.Amount = stringPtr(p.AmountUSD.StringFixed(2))
		row.ButtonAmount = cbigquery.NullInt64{Int64: p.ButtonAmount, Valid: true}
	case enums.EventAuctionCancelled:
		var p payloads.AuctionCancelledEvent
		if err := decode(envelope.Data, &p); err != nil {
			return nil, err
		}
		row.AuctionID, row.AuctionKind, row.ActorID = p.AuctionID.String(), string(p.Kind), uuidString(p.OwnerID)
		row.Status = stringPtr(string(enums.AuctionStatusCancelled))
	default:
		return nil, fmt.Errorf("unsupported auction event %s", eventType)
	}
	return row, nil
}

func buildLedgerRow(eventType enums.OutboxEventType, envelope outbox.PayloadEnvelope) (*ledgerEventRow, error) {
	var p payloads.ButtonsGrantedEvent
	if err := decode(envelope.Data, &p); err != nil {
		return nil, err
	}
	return &ledgerEventRow{
		EventID:    envelope.EventID,
		EventType:  string(eventType),
		OccurredAt: envelope.OccurredAt.UTC(),
		UserID:     p.UserID.String(),
		EntryKind:  string(p.Kind),
		Amount:     p.Amount,
		Balance:    p.Balance,
		Payload:    payloadJSON(envelope.Data),
	}, nil
}

func decode(data json.RawMessage, target any) error {
	if len(data) == 0 {
		return fmt.Errorf("payload missing")
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

func payloadJSON(data json.RawMessage) cbigquery.NullJSON {
	if len(data) == 0 {
		return cbigquery.NullJSON{}
	}
	return cbigquery.NullJSON{JSONVal: string(data), Valid: true}
}

func uuidString(id uuid.UUID) *string {
	if id == uuid.Nil {
		return nil
	}
	return stringPtr(id.String())
}

func stringPtr(value string) *string {
	return &value
}
