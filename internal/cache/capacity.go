// Package cache holds best-effort caches in front of the authoritative store:
// remaining offering capacity for the cart guard, and checkout idempotency keys.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/Shivanand-hulikatti/harvest-reservations/internal/model"
	"github.com/redis/go-redis/v9"
)

// CapacityCache stores remaining capacity per offering. Values may be stale;
// nothing that enforces the inventory invariant reads from it.
type CapacityCache interface {
	Get(ctx context.Context, offeringID string) (model.Capacity, bool, error)
	Set(ctx context.Context, offeringID string, c model.Capacity) error
	Invalidate(ctx context.Context, offeringIDs ...string) error
}

type capacityEntry struct {
	capacity  model.Capacity
	expiresAt time.Time
}

// CapacityMemory is an in-process CapacityCache with a fixed TTL.
type CapacityMemory struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]capacityEntry
	now     func() time.Time
}

// NewCapacityMemory constructs a CapacityMemory.
func NewCapacityMemory(ttl time.Duration) *CapacityMemory {
	return &CapacityMemory{
		ttl:     ttl,
		entries: make(map[string]capacityEntry),
		now:     time.Now,
	}
}

func (c *CapacityMemory) Get(_ context.Context, offeringID string) (model.Capacity, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[offeringID]
	if !ok || c.now().After(e.expiresAt) {
		return model.Capacity{}, false, nil
	}
	return e.capacity, true, nil
}

func (c *CapacityMemory) Set(_ context.Context, offeringID string, capacity model.Capacity) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[offeringID] = capacityEntry{capacity: capacity, expiresAt: c.now().Add(c.ttl)}
	return nil
}

func (c *CapacityMemory) Invalidate(_ context.Context, offeringIDs ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range offeringIDs {
		delete(c.entries, id)
	}
	return nil
}

const (
	capacityKeyPrefix = "capacity:offering:"
	unboundedValue    = "unbounded"
)

// CapacityRedis is a CapacityCache shared by all service replicas.
type CapacityRedis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCapacityRedis constructs a CapacityRedis.
func NewCapacityRedis(client *redis.Client, ttl time.Duration) *CapacityRedis {
	return &CapacityRedis{client: client, ttl: ttl}
}

func (c *CapacityRedis) key(offeringID string) string {
	return capacityKeyPrefix + offeringID
}

func (c *CapacityRedis) Get(ctx context.Context, offeringID string) (model.Capacity, bool, error) {
	v, err := c.client.Get(ctx, c.key(offeringID)).Result()
	if errors.Is(err, redis.Nil) {
		return model.Capacity{}, false, nil
	}
	if err != nil {
		return model.Capacity{}, false, fmt.Errorf("redis get: %w", err)
	}
	if v == unboundedValue {
		return model.Unbounded(), true, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return model.Capacity{}, false, fmt.Errorf("redis capacity value %q: %w", v, err)
	}
	return model.Bounded(n), true, nil
}

func (c *CapacityRedis) Set(ctx context.Context, offeringID string, capacity model.Capacity) error {
	v := unboundedValue
	if !capacity.Unbounded {
		v = strconv.Itoa(capacity.Remaining)
	}
	if err := c.client.Set(ctx, c.key(offeringID), v, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (c *CapacityRedis) Invalidate(ctx context.Context, offeringIDs ...string) error {
	if len(offeringIDs) == 0 {
		return nil
	}
	keys := make([]string, 0, len(offeringIDs))
	for _, id := range offeringIDs {
		keys = append(keys, c.key(id))
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
