package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	cbigquery "cloud.google.com/go/bigquery"
	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/buttonbid-backend/pkg/enums"
	"github.com/angelmondragon/buttonbid-backend/pkg/logger"
	"github.com/angelmondragon/buttonbid-backend/pkg/outbox"
	"github.com/angelmondragon/buttonbid-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/buttonbid-backend/pkg/outbox/payloads"
)

func TestAnalyticsConsumerWritesBidPlaced(t *testing.T) {
	inserter := &fakeInserter{}
	consumer := mustConsumer(t, inserter, newFakeIdempotency(false))

	auctionID := uuid.New()
	bidderID := uuid.New()
	eventID := uuid.New()
	envelope := buildEnvelope(t, eventID, payloads.BidPlacedEvent{
		AuctionID: auctionID,
		Kind:      enums.AuctionKindClothing,
		BidID:     uuid.New(),
		BidderID:  bidderID,
		Amount:    "60",
	})

	if err := consumer.Process(context.Background(), enums.EventAuctionBidPlaced, envelope); err != nil {
		t.Fatalf("Process() error: %v", err)
	}

	if len(inserter.rows) != 1 || inserter.tables[0] != "auction_events" {
		t.Fatalf("expected one auction_events row, got %d rows in %v", len(inserter.rows), inserter.tables)
	}
	saver, ok := inserter.rows[0].(*cbigquery.StructSaver)
	if !ok {
		t.Fatalf("expected StructSaver, got %T", inserter.rows[0])
	}
	if saver.InsertID != eventID.String() {
		t.Fatalf("insert id must be the event id, got %q", saver.InsertID)
	}
	row := saver.Struct.(*auctionEventRow)
	if row.AuctionID != auctionID.String() || row.AuctionKind != "clothing" {
		t.Fatalf("unexpected auction columns %+v", row)
	}
	if row.ActorID == nil || *row.ActorID != bidderID.String() {
		t.Fatalf("actor should be the bidder")
	}
	if row.Amount == nil || *row.Amount != "60" {
		t.Fatalf("unexpected amount %v", row.Amount)
	}
	if !row.Payload.Valid {
		t.Fatalf("payload should be valid json")
	}
}

func TestAnalyticsConsumerWritesResaleSettlement(t *testing.T) {
	inserter := &fakeInserter{}
	consumer := mustConsumer(t, inserter, newFakeIdempotency(false))

	envelope := buildEnvelope(t, uuid.New(), payloads.ResaleSettledEvent{
		AuctionID:    uuid.New(),
		SellerID:     uuid.New(),
		BuyerID:      uuid.New(),
		AmountUSD:    decimal.RequireFromString("12"),
		ButtonAmount: 100,
	})
	if err := consumer.Process(context.Background(), enums.EventAuctionResaleSettled, envelope); err != nil {
		t.Fatalf("Process() error: %v", err)
	}
	row := inserter.rows[0].(*cbigquery.StructSaver).Struct.(*auctionEventRow)
	if row.AuctionKind != "resale" || *row.Amount != "12.00" {
		t.Fatalf("unexpected row %+v", row)
	}
	if !row.ButtonAmount.Valid || row.ButtonAmount.Int64 != 100 {
		t.Fatalf("unexpected button amount %+v", row.ButtonAmount)
	}
}

func TestAnalyticsConsumerRoutesGrantsToLedgerTable(t *testing.T) {
	inserter := &fakeInserter{}
	consumer := mustConsumer(t, inserter, newFakeIdempotency(false))

	userID := uuid.New()
	envelope := buildEnvelope(t, uuid.New(), payloads.ButtonsGrantedEvent{
		UserID:  userID,
		Amount:  250,
		Kind:    enums.LedgerEntryKindPurchasePlatform,
		Balance: 300,
	})
	if err := consumer.Process(context.Background(), enums.EventButtonsGranted, envelope); err != nil {
		t.Fatalf("Process() error: %v", err)
	}
	if inserter.tables[0] != "ledger_events" {
		t.Fatalf("expected ledger_events, got %s", inserter.tables[0])
	}
	row := inserter.rows[0].(*cbigquery.StructSaver).Struct.(*ledgerEventRow)
	if row.UserID != userID.String() || row.Amount != 250 || row.Balance != 300 {
		t.Fatalf("unexpected ledger row %+v", row)
	}
}

func TestAnalyticsConsumerSkipsGrantsWithoutLedgerTable(t *testing.T) {
	inserter := &fakeInserter{}
	consumer, err := NewConsumer(inserter, Tables{Auctions: "auction_events"}, newFakeIdempotency(false), nil, testLogger())
	if err != nil {
		t.Fatalf("failed to build consumer: %v", err)
	}
	envelope := buildEnvelope(t, uuid.New(), payloads.ButtonsGrantedEvent{UserID: uuid.New(), Amount: 5})
	if err := consumer.Process(context.Background(), enums.EventButtonsGranted, envelope); err != nil {
		t.Fatalf("Process() error: %v", err)
	}
	if len(inserter.rows) != 0 {
		t.Fatalf("expected no rows without a ledger table")
	}
}

func TestAnalyticsConsumerIsIdempotent(t *testing.T) {
	inserter := &fakeInserter{}
	consumer := mustConsumer(t, inserter, newFakeIdempotency(true))

	envelope := buildEnvelope(t, uuid.New(), payloads.BidPlacedEvent{AuctionID: uuid.New()})
	if err := consumer.Process(context.Background(), enums.EventAuctionBidPlaced, envelope); err != nil {
		t.Fatalf("Process() error: %v", err)
	}
	if len(inserter.rows) != 0 {
		t.Fatalf("expected no rows inserted when idempotent")
	}
}

func TestAnalyticsConsumerCompletesAfterInsert(t *testing.T) {
	manager := newFakeIdempotency(false)
	consumer := mustConsumer(t, &fakeInserter{}, manager)

	envelope := buildEnvelope(t, uuid.New(), payloads.BidPlacedEvent{AuctionID: uuid.New(), Amount: "5"})
	if err := consumer.Process(context.Background(), enums.EventAuctionBidPlaced, envelope); err != nil {
		t.Fatalf("Process() error: %v", err)
	}
	if !manager.completed || manager.released {
		t.Fatalf("expected claim completed, got completed=%v released=%v", manager.completed, manager.released)
	}
}

func TestAnalyticsConsumerRetriesWhileClaimInFlight(t *testing.T) {
	inserter := &fakeInserter{}
	consumer := mustConsumer(t, inserter, &fakeIdempotency{state: idempotency.InFlight})

	envelope := buildEnvelope(t, uuid.New(), payloads.BidPlacedEvent{AuctionID: uuid.New()})
	err := consumer.Process(context.Background(), enums.EventAuctionBidPlaced, envelope)
	if !errors.Is(err, errEventInFlight) {
		t.Fatalf("expected in-flight error, got %v", err)
	}
	if len(inserter.rows) != 0 {
		t.Fatalf("no row may be written while another delivery holds the claim")
	}
}

func TestAnalyticsConsumerReleasesOnInsertFailure(t *testing.T) {
	inserter := &fakeInserter{err: errors.New("bigquery down")}
	manager := newFakeIdempotency(false)
	consumer := mustConsumer(t, inserter, manager)

	envelope := buildEnvelope(t, uuid.New(), payloads.AuctionCancelledEvent{AuctionID: uuid.New(), Kind: enums.AuctionKindClothing, OwnerID: uuid.New()})
	if err := consumer.Process(context.Background(), enums.EventAuctionCancelled, envelope); err == nil {
		t.Fatalf("expected error when insert fails")
	}
	if !manager.released {
		t.Fatalf("expected idempotency key deletion on failure")
	}
}

func TestAnalyticsConsumerReleasesOnPayloadDecodeFailure(t *testing.T) {
	inserter := &fakeInserter{}
	manager := newFakeIdempotency(false)
	consumer := mustConsumer(t, inserter, manager)

	envelope := outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now(),
		Data:       []byte("{invalid json"),
	}
	if err := consumer.Process(context.Background(), enums.EventAuctionSettled, envelope); err == nil {
		t.Fatalf("expected error for bad payload")
	}
	if !manager.released {
		t.Fatalf("expected idempotency key deletion on payload error")
	}
	if len(inserter.rows) != 0 {
		t.Fatalf("expected no rows inserted on payload failure")
	}
}

func TestHandleMessageAcksUnknownEvents(t *testing.T) {
	inserter := &fakeInserter{}
	consumer := mustConsumer(t, inserter, newFakeIdempotency(false))

	envelope := buildEnvelope(t, uuid.New(), map[string]any{})
	data, _ := json.Marshal(envelope)
	retry := consumer.handleMessage(context.Background(), &gcppubsub.Message{
		Data:       data,
		Attributes: map[string]string{"event_type": "order_created"},
	})
	if retry {
		t.Fatalf("unknown events should be acked")
	}
	if len(inserter.rows) != 0 {
		t.Fatalf("expected no rows for unknown events")
	}
}

func TestHandleMessageNacksOnInsertFailure(t *testing.T) {
	inserter := &fakeInserter{err: errors.New("quota")}
	consumer := mustConsumer(t, inserter, newFakeIdempotency(false))

	envelope := buildEnvelope(t, uuid.New(), payloads.BidPlacedEvent{AuctionID: uuid.New(), Kind: enums.AuctionKindClothing})
	data, _ := json.Marshal(envelope)
	retry := consumer.handleMessage(context.Background(), &gcppubsub.Message{
		Data:       data,
		Attributes: map[string]string{"event_type": string(enums.EventAuctionBidPlaced)},
	})
	if !retry {
		t.Fatalf("insert failures should be redelivered")
	}
}

type fakeInserter struct {
	tables []string
	rows   []any
	err    error
}

func (f *fakeInserter) InsertRows(ctx context.Context, table string, rows []any) error {
	if f.err != nil {
		return f.err
	}
	f.tables = append(f.tables, table)
	f.rows = append(f.rows, rows...)
	return nil
}

type fakeIdempotency struct {
	state     idempotency.State
	released  bool
	completed bool
}

func newFakeIdempotency(processed bool) *fakeIdempotency {
	if processed {
		return &fakeIdempotency{state: idempotency.Done}
	}
	return &fakeIdempotency{state: idempotency.Claimed}
}

func (f *fakeIdempotency) Claim(ctx context.Context, consumer string, eventID uuid.UUID) (idempotency.State, error) {
	return f.state, nil
}

func (f *fakeIdempotency) Complete(ctx context.Context, consumer string, eventID uuid.UUID) error {
	f.completed = true
	return nil
}

func (f *fakeIdempotency) Release(ctx context.Context, consumer string, eventID uuid.UUID) error {
	f.released = true
	return nil
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{
		ServiceName: "analytics-test",
		Level:       logger.ParseLevel("debug"),
		Output:      io.Discard,
	})
}

func mustConsumer(t *testing.T, inserter *fakeInserter, manager *fakeIdempotency) *Consumer {
	t.Helper()
	consumer, err := NewConsumer(inserter, Tables{Auctions: "auction_events", Ledger: "ledger_events"}, manager, nil, testLogger())
	if err != nil {
		t.Fatalf("failed to build consumer: %v", err)
	}
	return consumer
}

func buildEnvelope(t *testing.T, eventID uuid.UUID, payload any) outbox.PayloadEnvelope {
	t.Helper()
	bytes, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return outbox.PayloadEnvelope{
		Version:    1,
		EventID:    eventID.String(),
		OccurredAt: time.Now(),
		Data:       bytes,
	}
}
