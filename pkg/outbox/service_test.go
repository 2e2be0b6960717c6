package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/buttonbid-backend/pkg/db/dbtest"
	"github.com/angelmondragon/buttonbid-backend/pkg/db/models"
	"github.com/angelmondragon/buttonbid-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/buttonbid-backend/pkg/errors"
)

func TestEmitStoresEnvelopeInsideTransaction(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	svc := NewService(repo, nil)
	auctionID := uuid.New()
	actor := uuid.New()

	tx := conn.Begin()
	require.NoError(t, svc.Emit(context.Background(), tx, DomainEvent{
		EventType:     enums.EventAuctionBidPlaced,
		AggregateType: enums.AggregateClothingAuction,
		AggregateID:   auctionID,
		Actor:         &ActorRef{UserID: actor, Source: "bidding"},
		Data:          map[string]any{"amount": "60"},
	}))
	require.NoError(t, tx.Commit().Error)

	rows, err := repo.ListByAggregate(context.Background(), auctionID)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	var envelope PayloadEnvelope
	require.NoError(t, json.Unmarshal(rows[0].Payload, &envelope))
	assert.Equal(t, 1, envelope.Version)
	assert.Equal(t, rows[0].ID.String(), envelope.EventID)
	require.NotNil(t, envelope.Actor)
	assert.Equal(t, actor, envelope.Actor.UserID)
	assert.JSONEq(t, `{"amount":"60"}`, string(envelope.Data))
}

func TestEmitRolledBackWithTransaction(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	svc := NewService(repo, nil)
	auctionID := uuid.New()

	tx := conn.Begin()
	require.NoError(t, svc.Emit(context.Background(), tx, DomainEvent{
		EventType:     enums.EventAuctionSettled,
		AggregateType: enums.AggregateResaleAuction,
		AggregateID:   auctionID,
		Data:          map[string]any{},
	}))
	require.NoError(t, tx.Rollback().Error)

	rows, err := repo.ListByAggregate(context.Background(), auctionID)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestEmitRejectsInvalidEvents(t *testing.T) {
	conn := dbtest.Open(t)
	svc := NewService(NewRepository(conn), nil)

	assert.Error(t, svc.Emit(context.Background(), nil, DomainEvent{}))
	assert.Error(t, svc.Emit(context.Background(), conn, DomainEvent{
		EventType:     "auction_paused",
		AggregateType: enums.AggregateClothingAuction,
		AggregateID:   uuid.New(),
	}))
	assert.Error(t, svc.Emit(context.Background(), conn, DomainEvent{
		EventType:     enums.EventAuctionSettled,
		AggregateType: enums.AggregateClothingAuction,
	}))
}

func TestNextStampIsStrictlyIncreasing(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := NewService(nil, nil)
	svc.now = func() time.Time { return fixed }

	first := svc.nextStamp()
	second := svc.nextStamp()
	third := svc.nextStamp()
	assert.True(t, second.After(first))
	assert.True(t, third.After(second))
	assert.Equal(t, time.Microsecond, third.Sub(second))
}

func TestRepositoryPublishLifecycle(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	svc := NewService(repo, nil)
	ctx := context.Background()
	auctionID := uuid.New()

	for i := 0; i < 3; i++ {
		require.NoError(t, svc.Emit(ctx, conn, DomainEvent{
			EventType:     enums.EventAuctionBidPlaced,
			AggregateType: enums.AggregateClothingAuction,
			AggregateID:   auctionID,
			Data:          map[string]any{"n": i},
		}))
	}

	pending, err := repo.FetchUnpublishedForPublish(conn, 10, 3)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.True(t, pending[0].CreatedAt.Before(pending[1].CreatedAt))

	now := time.Now().UTC()
	require.NoError(t, repo.MarkPublishedTx(conn, pending[0].ID, now.Add(-48*time.Hour)))
	for i := 0; i < 3; i++ {
		require.NoError(t, repo.MarkFailedTx(conn, pending[1].ID, errors.New("pubsub unavailable")))
	}
	require.NoError(t, repo.MarkTerminalTx(conn, pending[2].ID, now, errors.New("bad payload")))

	pending, err = repo.FetchUnpublishedForPublish(conn, 10, 3)
	require.NoError(t, err)
	assert.Empty(t, pending, "published, terminal, and exhausted rows are skipped")

	var failed models.OutboxEvent
	require.NoError(t, conn.First(&failed, "id = ?", auctionEventID(t, repo, auctionID, 1)).Error)
	assert.Equal(t, 3, failed.AttemptCount)
	require.NotNil(t, failed.LastError)

	deleted, err := repo.DeletePublishedBefore(ctx, now.Add(-24*time.Hour), 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}

func TestDLQRepositoryTruncatesMessages(t *testing.T) {
	conn := dbtest.Open(t)
	dlq := NewDLQRepository(conn)
	long := strings.Repeat("x", 2*maxLastErrorLen)
	eventID := uuid.New()

	require.NoError(t, dlq.InsertTx(conn, models.OutboxDLQ{
		EventID:       eventID,
		EventType:     enums.EventAuctionSettled,
		AggregateType: enums.AggregateClothingAuction,
		AggregateID:   uuid.New(),
		Payload:       json.RawMessage(`{}`),
		ErrorReason:   enums.OutboxDLQReasonNonRetryable,
		ErrorMessage:  &long,
	}))

	found, err := dlq.FindByEventID(context.Background(), eventID)
	require.NoError(t, err)
	require.NotNil(t, found)
	require.NotNil(t, found.ErrorMessage)
	assert.Len(t, *found.ErrorMessage, maxLastErrorLen)

	missing, err := dlq.FindByEventID(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func auctionEventID(t *testing.T, repo *Repository, auctionID uuid.UUID, index int) uuid.UUID {
	t.Helper()
	rows, err := repo.ListByAggregate(context.Background(), auctionID)
	require.NoError(t, err)
	require.Greater(t, len(rows), index)
	return rows[index].ID
}

func TestDLQRequeueReturnsEventToPublishLoop(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	dlq := NewDLQRepository(conn)
	svc := NewService(repo, nil)
	ctx := context.Background()
	auctionID := uuid.New()

	require.NoError(t, svc.Emit(ctx, conn, DomainEvent{
		EventType:     enums.EventAuctionSettled,
		AggregateType: enums.AggregateClothingAuction,
		AggregateID:   auctionID,
		Data:          map[string]any{"winner": "w"},
	}))
	pending, err := repo.FetchUnpublishedForPublish(conn, 10, 5)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	event := pending[0]

	msg := "schema mismatch"
	require.NoError(t, repo.MarkTerminalTx(conn, event.ID, time.Now().UTC(), errors.New(msg)))
	require.NoError(t, dlq.InsertTx(conn, models.OutboxDLQ{
		EventID:       event.ID,
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Payload:       event.Payload,
		ErrorReason:   enums.OutboxDLQReasonNonRetryable,
		ErrorMessage:  &msg,
		AttemptCount:  1,
	}))

	listed, err := dlq.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, listed, 1)

	require.NoError(t, dlq.Requeue(ctx, event.ID))

	pending, err = repo.FetchUnpublishedForPublish(conn, 10, 5)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, event.ID, pending[0].ID)
	assert.Zero(t, pending[0].AttemptCount)
	assert.Nil(t, pending[0].LastError)

	missing, err := dlq.FindByEventID(ctx, event.ID)
	require.NoError(t, err)
	assert.Nil(t, missing)

	err = dlq.Requeue(ctx, event.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}
