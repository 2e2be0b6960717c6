package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	values map[string]string
	ttls   map[string]time.Duration
	err    error
}

func newMemStore() *memStore {
	return &memStore{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (m *memStore) Get(_ context.Context, key string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	v, ok := m.values[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

func (m *memStore) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	if m.err != nil {
		return m.err
	}
	m.values[key] = value.(string)
	m.ttls[key] = ttl
	return nil
}

func (m *memStore) SetNX(_ context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = value.(string)
	m.ttls[key] = ttl
	return true, nil
}

func (m *memStore) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(m.values, k)
	}
	return nil
}

func (m *memStore) IdempotencyKey(scope, id string) string {
	return "bb:idempotency:" + scope + ":" + id
}

func TestClaimLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	manager, err := NewManager(store, 720*time.Hour)
	require.NoError(t, err)
	eventID := uuid.New()
	key := "bb:idempotency:evt:feed-notifications:" + eventID.String()

	state, err := manager.Claim(ctx, "feed-notifications", eventID)
	require.NoError(t, err)
	assert.Equal(t, Claimed, state)
	assert.Equal(t, defaultClaimTTL, store.ttls[key])

	state, err = manager.Claim(ctx, "feed-notifications", eventID)
	require.NoError(t, err)
	assert.Equal(t, InFlight, state)

	require.NoError(t, manager.Complete(ctx, "feed-notifications", eventID))
	assert.Equal(t, 720*time.Hour, store.ttls[key])

	state, err = manager.Claim(ctx, "feed-notifications", eventID)
	require.NoError(t, err)
	assert.Equal(t, Done, state)

	// consumers are isolated from each other
	state, err = manager.Claim(ctx, "analytics", eventID)
	require.NoError(t, err)
	assert.Equal(t, Claimed, state)
}

func TestReleaseAllowsRetry(t *testing.T) {
	ctx := context.Background()
	manager, err := NewManager(newMemStore(), time.Hour)
	require.NoError(t, err)
	eventID := uuid.New()

	state, err := manager.Claim(ctx, "analytics", eventID)
	require.NoError(t, err)
	require.Equal(t, Claimed, state)
	require.NoError(t, manager.Release(ctx, "analytics", eventID))

	state, err = manager.Claim(ctx, "analytics", eventID)
	require.NoError(t, err)
	assert.Equal(t, Claimed, state)
}

func TestClaimTTLNeverExceedsWindow(t *testing.T) {
	store := newMemStore()
	manager, err := NewManager(store, 30*time.Second)
	require.NoError(t, err)
	eventID := uuid.New()

	_, err = manager.Claim(context.Background(), "analytics", eventID)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, store.ttls["bb:idempotency:evt:analytics:"+eventID.String()])
}

func TestClaimErrors(t *testing.T) {
	store := newMemStore()
	manager, err := NewManager(store, time.Hour)
	require.NoError(t, err)

	_, err = manager.Claim(context.Background(), "", uuid.New())
	assert.Error(t, err)
	_, err = manager.Claim(context.Background(), "analytics", uuid.Nil)
	assert.Error(t, err)

	store.err = errors.New("redis down")
	_, err = manager.Claim(context.Background(), "analytics", uuid.New())
	assert.ErrorContains(t, err, "redis down")

	_, err = NewManager(nil, time.Hour)
	assert.Error(t, err)
	_, err = NewManager(store, 0)
	assert.Error(t, err)
}
