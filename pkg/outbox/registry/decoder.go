package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/angelmondragon/buttonbid-backend/pkg/enums"
	"github.com/angelmondragon/buttonbid-backend/pkg/outbox/payloads"
)

// ErrNoDecoder reports an event type and version pair nobody registered.
var ErrNoDecoder = errors.New("no decoder registered")

// Decoder turns envelope data into a typed payload pointer.
type Decoder func(data json.RawMessage) (any, error)

type decoderKey struct {
	eventType enums.OutboxEventType
	version   int
}

// DecoderRegistry maps (event type, envelope version) to a Decoder. It is
// safe for concurrent use.
type DecoderRegistry struct {
	mu       sync.RWMutex
	decoders map[decoderKey]Decoder
}

func NewDecoderRegistry() *DecoderRegistry {
	return &DecoderRegistry{decoders: map[decoderKey]Decoder{}}
}

// Typed decodes into a fresh *T.
func Typed[T any]() Decoder {
	return func(data json.RawMessage) (any, error) {
		out := new(T)
		if err := json.Unmarshal(data, out); err != nil {
			return nil, err
		}
		return out, nil
	}
}

// NewFeedDecoders knows the v1 payload of every feed event.
func NewFeedDecoders() *DecoderRegistry {
	r := NewDecoderRegistry()
	r.Register(enums.EventAuctionCreated, 1, Typed[payloads.AuctionCreatedEvent]())
	r.Register(enums.EventAuctionBidPlaced, 1, Typed[payloads.BidPlacedEvent]())
	r.Register(enums.EventAuctionBidOutbid, 1, Typed[payloads.BidOutbidEvent]())
	r.Register(enums.EventAuctionSettled, 1, Typed[payloads.AuctionSettledEvent]())
	r.Register(enums.EventAuctionResaleSettled, 1, Typed[payloads.ResaleSettledEvent]())
	r.Register(enums.EventAuctionCancelled, 1, Typed[payloads.AuctionCancelledEvent]())
	r.Register(enums.EventButtonsGranted, 1, Typed[payloads.ButtonsGrantedEvent]())
	return r
}

// Register replaces any decoder already stored for the pair.
func (r *DecoderRegistry) Register(eventType enums.OutboxEventType, version int, decode Decoder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decoders[decoderKey{eventType, version}] = decode
}

// Decode runs the decoder for the pair. Version 0 predates envelope
// versioning and is read as version 1.
func (r *DecoderRegistry) Decode(eventType enums.OutboxEventType, version int, data json.RawMessage) (any, error) {
	if version == 0 {
		version = 1
	}
	r.mu.RLock()
	decode, ok := r.decoders[decoderKey{eventType, version}]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w for %s@v%d", ErrNoDecoder, eventType, version)
	}
	return decode(data)
}
