package registry

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/buttonbid-backend/pkg/config"
	"github.com/angelmondragon/buttonbid-backend/pkg/db/models"
	"github.com/angelmondragon/buttonbid-backend/pkg/enums"
	"github.com/angelmondragon/buttonbid-backend/pkg/outbox"
	"github.com/angelmondragon/buttonbid-backend/pkg/outbox/payloads"
)

func splitTopics(t *testing.T) *EventRegistry {
	t.Helper()
	r, err := NewEventRegistry(config.PubSubConfig{AuctionTopic: "auction-topic", LedgerTopic: "ledger-topic"})
	require.NoError(t, err)
	return r
}

// row wraps data in a v1 envelope the way the outbox service stores it.
func row(t *testing.T, eventType enums.OutboxEventType, aggregate enums.OutboxAggregateType, id uuid.UUID, data any) models.OutboxEvent {
	t.Helper()
	raw, ok := data.(string)
	if !ok {
		b, err := json.Marshal(data)
		require.NoError(t, err)
		raw = string(b)
	}
	envelope, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now().UTC(),
		Data:       json.RawMessage(raw),
	})
	require.NoError(t, err)
	return models.OutboxEvent{EventType: eventType, AggregateType: aggregate, AggregateID: id, Payload: envelope}
}

func TestResolveDecodesBidPlaced(t *testing.T) {
	auctionID, bidderID := uuid.New(), uuid.New()
	event := row(t, enums.EventAuctionBidPlaced, enums.AggregateClothingAuction, auctionID, payloads.BidPlacedEvent{
		AuctionID: auctionID,
		Kind:      enums.AuctionKindClothing,
		BidID:     uuid.New(),
		BidderID:  bidderID,
		Amount:    "60",
		Version:   3,
	})

	resolved, err := splitTopics(t).Resolve(event)
	require.NoError(t, err)

	assert.Equal(t, "auction-topic", resolved.Descriptor.Topic)
	assert.Equal(t, auctionID.String(), resolved.OrderingKey(event))
	assert.NotEmpty(t, resolved.Envelope.EventID)
	bid, ok := resolved.Payload.(*payloads.BidPlacedEvent)
	require.True(t, ok, "got %T", resolved.Payload)
	assert.Equal(t, bidderID, bid.BidderID)
	assert.EqualValues(t, 3, bid.Version)
}

func TestResolveRoutesLedgerEvents(t *testing.T) {
	grant := `{"amount":100,"kind":"purchase_platform"}`

	split := splitTopics(t)
	resolved, err := split.Resolve(row(t, enums.EventButtonsGranted, enums.AggregateUserBalance, uuid.New(), grant))
	require.NoError(t, err)
	assert.Equal(t, "ledger-topic", resolved.Descriptor.Topic)
	assert.Equal(t, []string{"auction-topic", "ledger-topic"}, split.Topics())

	shared, err := NewEventRegistry(config.PubSubConfig{AuctionTopic: "feed"})
	require.NoError(t, err)
	resolved, err = shared.Resolve(row(t, enums.EventButtonsGranted, enums.AggregateUserBalance, uuid.New(), grant))
	require.NoError(t, err)
	assert.Equal(t, "feed", resolved.Descriptor.Topic)
	assert.Equal(t, []string{"feed"}, shared.Topics())
}

func TestResolveRejectsPoisonRows(t *testing.T) {
	corrupt := row(t, enums.EventAuctionSettled, enums.AggregateResaleAuction, uuid.New(), `{}`)
	corrupt.Payload = json.RawMessage(`{"version":1,"eventId":"not-a-uuid","data":{}}`)

	cases := map[string]models.OutboxEvent{
		"unknown event type":               row(t, "auction_paused", enums.AggregateClothingAuction, uuid.New(), `{"reason":"none"}`),
		"resale event on clothing auction": row(t, enums.EventAuctionResaleSettled, enums.AggregateClothingAuction, uuid.New(), `{"button_amount":100}`),
		"grant on auction":                 row(t, enums.EventButtonsGranted, enums.AggregateClothingAuction, uuid.New(), `{"amount":1}`),
		"missing aggregate id":             row(t, enums.EventAuctionSettled, enums.AggregateClothingAuction, uuid.Nil, `{}`),
		"null data":                        row(t, enums.EventAuctionSettled, enums.AggregateResaleAuction, uuid.New(), `null`),
		"data of wrong shape":              row(t, enums.EventAuctionBidOutbid, enums.AggregateClothingAuction, uuid.New(), `{"refunded_amount":"lots"}`),
		"bad envelope":                     corrupt,
	}
	r := splitTopics(t)
	for name, event := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := r.Resolve(event)
			var poisoned NonRetryableError
			assert.True(t, errors.As(err, &poisoned), "got %v", err)
		})
	}
}

func TestNewEventRegistryRequiresAuctionTopic(t *testing.T) {
	_, err := NewEventRegistry(config.PubSubConfig{LedgerTopic: "ledger"})
	assert.Error(t, err)
}

func TestNonRetryableErrorUnwraps(t *testing.T) {
	cause := errors.New("bad row")
	err := NewNonRetryableError(cause)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "non-retryable error", NonRetryableError{}.Error())
}
