package registry

import (
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/angelmondragon/buttonbid-backend/pkg/config"
	"github.com/angelmondragon/buttonbid-backend/pkg/db/models"
	"github.com/angelmondragon/buttonbid-backend/pkg/enums"
	"github.com/angelmondragon/buttonbid-backend/pkg/outbox"
)

// EventDescriptor says which aggregates may emit an event type and which
// topic carries it.
type EventDescriptor struct {
	EventType      enums.OutboxEventType
	AggregateTypes []enums.OutboxAggregateType
	Topic          string
}

// ResolvedEvent is an outbox row that passed validation, with its envelope
// and typed payload.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    any
}

// OrderingKey is the aggregate id, so one auction or balance is delivered
// in commit order.
func (r ResolvedEvent) OrderingKey(event models.OutboxEvent) string {
	return event.AggregateID.String()
}

// NonRetryableError marks a row the publisher should dead-letter at once.
type NonRetryableError struct {
	Err error
}

func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error { return e.Err }

func poison(format string, args ...any) error {
	return NewNonRetryableError(fmt.Errorf(format, args...))
}

// EventRegistry validates outbox rows and routes them to topics.
type EventRegistry struct {
	routes   map[enums.OutboxEventType]EventDescriptor
	decoders *DecoderRegistry
}

// NewEventRegistry routes auction events to AuctionTopic and ledger events to
// LedgerTopic, which falls back to AuctionTopic when unset.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	auctionTopic := cfg.AuctionTopic
	if auctionTopic == "" {
		return nil, errors.New("auction topic is required")
	}
	ledgerTopic := cfg.LedgerTopic
	if ledgerTopic == "" {
		ledgerTopic = auctionTopic
	}

	auctions := []enums.OutboxAggregateType{enums.AggregateClothingAuction, enums.AggregateResaleAuction}
	resaleOnly := []enums.OutboxAggregateType{enums.AggregateResaleAuction}
	balances := []enums.OutboxAggregateType{enums.AggregateUserBalance}

	r := &EventRegistry{routes: map[enums.OutboxEventType]EventDescriptor{}, decoders: NewFeedDecoders()}
	r.route(enums.EventAuctionCreated, auctionTopic, auctions)
	r.route(enums.EventAuctionBidPlaced, auctionTopic, auctions)
	r.route(enums.EventAuctionBidOutbid, auctionTopic, auctions)
	r.route(enums.EventAuctionSettled, auctionTopic, auctions)
	r.route(enums.EventAuctionResaleSettled, auctionTopic, resaleOnly)
	r.route(enums.EventAuctionCancelled, auctionTopic, auctions)
	r.route(enums.EventButtonsGranted, ledgerTopic, balances)
	return r, nil
}

func (r *EventRegistry) route(eventType enums.OutboxEventType, topic string, aggregates []enums.OutboxAggregateType) {
	r.routes[eventType] = EventDescriptor{EventType: eventType, AggregateTypes: aggregates, Topic: topic}
}

// Topics lists each distinct destination topic once, sorted.
func (r *EventRegistry) Topics() []string {
	var topics []string
	for _, desc := range r.routes {
		if !slices.Contains(topics, desc.Topic) {
			topics = append(topics, desc.Topic)
		}
	}
	slices.Sort(topics)
	return topics
}

// Resolve checks the row against its route and decodes the payload for the
// envelope's version. Every failure is non-retryable since the row itself is
// malformed.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.routes[event.EventType]
	switch {
	case !ok:
		return nil, poison("unsupported event type %s", event.EventType)
	case !slices.Contains(desc.AggregateTypes, event.AggregateType):
		return nil, poison("aggregate mismatch: %s not accepted for %s", event.AggregateType, event.EventType)
	case event.AggregateID == uuid.Nil:
		return nil, poison("missing aggregate_id")
	}

	envelope, err := outbox.DecodeEnvelope(event.Payload)
	if errors.Is(err, outbox.ErrEmptyEventData) {
		return nil, poison("payload missing for %s", event.EventType)
	}
	if err != nil {
		return nil, NewNonRetryableError(err)
	}

	payload, err := r.decoders.Decode(event.EventType, envelope.Version, envelope.Data)
	if err != nil {
		return nil, poison("%s: %w", event.EventType, err)
	}
	return &ResolvedEvent{Descriptor: desc, Envelope: envelope, Payload: payload}, nil
}
