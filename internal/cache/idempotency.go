package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrKeyInProgress is returned when another request holds the same key.
var ErrKeyInProgress = errors.New("idempotency key is already being processed")

const (
	keyProcessing = "processing"
	keySuccess    = "success"
)

// IdempotencyStore remembers which booking a checkout Idempotency-Key produced.
type IdempotencyStore interface {
	// Reserve claims key. It returns the booking id of an earlier successful
	// checkout with the same key, or "" when the caller now owns the key.
	Reserve(ctx context.Context, key string) (string, error)
	MarkSuccess(ctx context.Context, key, bookingID string) error
	// MarkFailure releases key so the checkout can be submitted again.
	MarkFailure(ctx context.Context, key string) error
}

type keyState struct {
	Status    string `json:"status"`
	BookingID string `json:"booking_id,omitempty"`
}

type memoryKey struct {
	keyState
	expiresAt time.Time
}

// IdempotencyMemory is an in-process IdempotencyStore.
type IdempotencyMemory struct {
	mu   sync.Mutex
	keys map[string]memoryKey
	now  func() time.Time
}

// NewIdempotencyMemory constructs an IdempotencyMemory.
func NewIdempotencyMemory() *IdempotencyMemory {
	return &IdempotencyMemory{keys: make(map[string]memoryKey), now: time.Now}
}

func (m *IdempotencyMemory) Reserve(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if state, ok := m.keys[key]; ok && now.Before(state.expiresAt) {
		switch state.Status {
		case keySuccess:
			return state.BookingID, nil
		case keyProcessing:
			return "", ErrKeyInProgress
		}
	}
	m.keys[key] = memoryKey{keyState: keyState{Status: keyProcessing}, expiresAt: now.Add(processingTTL)}
	return "", nil
}

func (m *IdempotencyMemory) MarkSuccess(_ context.Context, key, bookingID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[key] = memoryKey{
		keyState:  keyState{Status: keySuccess, BookingID: bookingID},
		expiresAt: m.now().Add(idempotencyTTL),
	}
	return nil
}

func (m *IdempotencyMemory) MarkFailure(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
	return nil
}

const (
	idempotencyKeyPrefix = "idempotency:checkout:"
	idempotencyTTL       = 24 * time.Hour

	// processingTTL bounds how long a checkout that never reported back
	// (crashed, or failed to record its outcome) blocks its key.
	processingTTL = time.Minute
)

// IdempotencyRedis is an IdempotencyStore shared by all service replicas.
type IdempotencyRedis struct {
	client *redis.Client
}

// NewIdempotencyRedis constructs an IdempotencyRedis.
func NewIdempotencyRedis(client *redis.Client) *IdempotencyRedis {
	return &IdempotencyRedis{client: client}
}

func (r *IdempotencyRedis) key(key string) string {
	return idempotencyKeyPrefix + key
}

func (r *IdempotencyRedis) Reserve(ctx context.Context, key string) (string, error) {
	k := r.key(key)
	processing, _ := json.Marshal(keyState{Status: keyProcessing})

	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		data, err := r.client.Get(ctx, k).Bytes()
		if errors.Is(err, redis.Nil) {
			_, err := r.client.SetArgs(ctx, k, processing, redis.SetArgs{Mode: "NX", TTL: processingTTL}).Result()
			if errors.Is(err, redis.Nil) {
				// lost the race to another request; read its state
				continue
			}
			if err != nil {
				return "", fmt.Errorf("redis set: %w", err)
			}
			return "", nil
		}
		if err != nil {
			return "", fmt.Errorf("redis get: %w", err)
		}

		var state keyState
		if err := json.Unmarshal(data, &state); err != nil {
			return "", fmt.Errorf("redis unmarshal: %w", err)
		}
		switch state.Status {
		case keySuccess:
			return state.BookingID, nil
		case keyProcessing:
			return "", ErrKeyInProgress
		}
		if err := r.client.Set(ctx, k, processing, processingTTL).Err(); err != nil {
			return "", fmt.Errorf("redis set: %w", err)
		}
		return "", nil
	}
}

func (r *IdempotencyRedis) MarkSuccess(ctx context.Context, key, bookingID string) error {
	raw, err := json.Marshal(keyState{Status: keySuccess, BookingID: bookingID})
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.key(key), raw, idempotencyTTL).Err()
}

func (r *IdempotencyRedis) MarkFailure(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.key(key)).Err()
}
