package cache

import (
	"context"
	"testing"
	"time"

	"github.com/Shivanand-hulikatti/harvest-reservations/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCapacityMemory(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	c := NewCapacityMemory(5 * time.Second)
	c.now = func() time.Time { return now }

	_, ok, err := c.Get(ctx, "o1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "o1", model.Bounded(7)))
	require.NoError(t, c.Set(ctx, "o2", model.Unbounded()))

	got, ok, err := c.Get(ctx, "o1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, model.Bounded(7), got)

	require.NoError(t, c.Invalidate(ctx, "o1"))
	_, ok, _ = c.Get(ctx, "o1")
	assert.False(t, ok)

	now = now.Add(6 * time.Second)
	_, ok, _ = c.Get(ctx, "o2")
	assert.False(t, ok, "entry should expire after the TTL")
}

func TestIdempotencyMemory(t *testing.T) {
	ctx := context.Background()
	m := NewIdempotencyMemory()

	id, err := m.Reserve(ctx, "k1")
	require.NoError(t, err)
	assert.Empty(t, id)

	_, err = m.Reserve(ctx, "k1")
	assert.ErrorIs(t, err, ErrKeyInProgress)

	require.NoError(t, m.MarkSuccess(ctx, "k1", "booking-1"))
	id, err = m.Reserve(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, "booking-1", id)

	_, err = m.Reserve(ctx, "k2")
	require.NoError(t, err)
	require.NoError(t, m.MarkFailure(ctx, "k2"))
	id, err = m.Reserve(ctx, "k2")
	require.NoError(t, err)
	assert.Empty(t, id, "a failed key can be claimed again")
}

func TestIdempotencyMemoryProcessingKeyExpires(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	m := NewIdempotencyMemory()
	m.now = func() time.Time { return now }

	_, err := m.Reserve(ctx, "stuck")
	require.NoError(t, err)

	now = now.Add(processingTTL - time.Second)
	_, err = m.Reserve(ctx, "stuck")
	assert.ErrorIs(t, err, ErrKeyInProgress)

	now = now.Add(2 * time.Second)
	id, err := m.Reserve(ctx, "stuck")
	require.NoError(t, err, "an abandoned checkout releases its key")
	assert.Empty(t, id)

	require.NoError(t, m.MarkSuccess(ctx, "stuck", "booking-9"))
	now = now.Add(time.Hour)
	id, err = m.Reserve(ctx, "stuck")
	require.NoError(t, err)
	assert.Equal(t, "booking-9", id, "a finished checkout is replayed well past the processing window")
}
