// Package idempotency deduplicates feed deliveries per consumer. Pub/Sub
// redelivers at least once, so every consumer claims an event id before
// applying side effects and marks it done afterwards.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	pkgredis "github.com/angelmondragon/buttonbid-backend/pkg/redis"
)

// State is the outcome of a claim attempt.
type State int

const (
	// Claimed means the caller owns the event and must Complete or Release it.
	Claimed State = iota
	// InFlight means another delivery is processing the event right now.
	InFlight
	// Done means the event was already applied.
	Done
)

const (
	markerProcessing = "processing"
	markerDone       = "done"

	defaultClaimTTL = 2 * time.Minute
)

// Manager keeps `bb:idempotency:evt:<consumer>:<event_id>` markers in Redis.
// A claim lives for claimTTL so a crashed worker's event is retried on the
// next redelivery; completed markers live for the dedupe window.
type Manager struct {
	store    pkgredis.IdempotencyStore
	ttl      time.Duration
	claimTTL time.Duration
}

func NewManager(store pkgredis.IdempotencyStore, ttl time.Duration) (*Manager, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl <= 0 {
		return nil, errors.New("dedupe window must be positive")
	}
	claimTTL := defaultClaimTTL
	if claimTTL > ttl {
		claimTTL = ttl
	}
	return &Manager{store: store, ttl: ttl, claimTTL: claimTTL}, nil
}

// Claim tries to take ownership of eventID for consumer.
func (m *Manager) Claim(ctx context.Context, consumer string, eventID uuid.UUID) (State, error) {
	key, err := m.key(consumer, eventID)
	if err != nil {
		return InFlight, err
	}
	ok, err := m.store.SetNX(ctx, key, markerProcessing, m.claimTTL)
	if err != nil {
		return InFlight, fmt.Errorf("claim %s: %w", key, err)
	}
	if ok {
		return Claimed, nil
	}

	marker, err := m.store.Get(ctx, key)
	switch {
	case errors.Is(err, redis.Nil):
		// the other claim expired in between; let redelivery retry
		return InFlight, nil
	case err != nil:
		return InFlight, fmt.Errorf("read %s: %w", key, err)
	case marker == markerDone:
		return Done, nil
	default:
		return InFlight, nil
	}
}

// Complete records eventID as applied for the full dedupe window.
func (m *Manager) Complete(ctx context.Context, consumer string, eventID uuid.UUID) error {
	key, err := m.key(consumer, eventID)
	if err != nil {
		return err
	}
	return m.store.Set(ctx, key, markerDone, m.ttl)
}

// Release drops a claim after a failed attempt so redelivery can retry it.
func (m *Manager) Release(ctx context.Context, consumer string, eventID uuid.UUID) error {
	key, err := m.key(consumer, eventID)
	if err != nil {
		return err
	}
	return m.store.Del(ctx, key)
}

func (m *Manager) key(consumer string, eventID uuid.UUID) (string, error) {
	if consumer == "" {
		return "", errors.New("consumer name is required")
	}
	if eventID == uuid.Nil {
		return "", errors.New("event id is required")
	}
	return m.store.IdempotencyKey("evt:"+consumer, eventID.String()), nil
}
