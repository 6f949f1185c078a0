// Package dedup records which chat messages already entered the donation
// pipeline. A claim is never released: each message gets one attempt.
package dedup

import (
	"context"
	"fmt"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// DefaultTTL is how long memory and Redis claims are kept.
const DefaultTTL = 24 * time.Hour

// Claims marks keys as taken. Acquire returns false if the key is already held.
type Claims interface {
	Acquire(ctx context.Context, key string) (bool, error)
}

// Memory is an in-process claim set. Claims expire after ttl and are swept
// lazily, so the set stays bounded by the traffic of one ttl window.
type Memory struct {
	mu        sync.Mutex
	held      map[string]time.Time
	ttl       time.Duration
	now       func() time.Time
	lastSweep time.Time
}

// NewMemory creates an empty claim set. A non-positive ttl uses DefaultTTL.
func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{
		held: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

// Acquire claims key.
func (m *Memory) Acquire(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if now.Sub(m.lastSweep) >= m.ttl {
		m.sweep(now)
	}
	if expires, ok := m.held[key]; ok && now.Before(expires) {
		return false, nil
	}
	m.held[key] = now.Add(m.ttl)
	return true, nil
}

func (m *Memory) sweep(now time.Time) {
	for key, expires := range m.held {
		if !now.Before(expires) {
			delete(m.held, key)
		}
	}
	m.lastSweep = now
}

// Len returns the number of held keys, including expired ones not yet swept.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.held)
}

// Redis shares claims between instances with SET NX. Claims expire after ttl
// so the keyspace stays bounded.
type Redis struct {
	rdb    *goredis.Client
	prefix string
	ttl    time.Duration
}

// NewRedis creates a Redis-backed claim set.
func NewRedis(rdb *goredis.Client, prefix string, ttl time.Duration) *Redis {
	if prefix == "" {
		prefix = "strmly:claim:"
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{rdb: rdb, prefix: prefix, ttl: ttl}
}

// Acquire claims key across all instances.
func (r *Redis) Acquire(ctx context.Context, key string) (bool, error) {
	ok, err := r.rdb.SetNX(ctx, r.prefix+key, time.Now().UTC().Format(time.RFC3339Nano), r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis claim %s: %w", key, err)
	}
	return ok, nil
}

// Recorder persists message claims, e.g. store.SQLiteStore.
type Recorder interface {
	ClaimMessage(ctx context.Context, messageID string) (bool, error)
}

// Durable claims keys through a Recorder so they survive restarts.
type Durable struct {
	rec Recorder
}

// NewDurable wraps rec.
func NewDurable(rec Recorder) *Durable {
	return &Durable{rec: rec}
}

// Acquire claims key in the recorder.
func (d *Durable) Acquire(ctx context.Context, key string) (bool, error) {
	return d.rec.ClaimMessage(ctx, key)
}

// Layered acquires from each set in order and stops at the first refusal.
type Layered []Claims

// Acquire claims key in every layer.
func (l Layered) Acquire(ctx context.Context, key string) (bool, error) {
	for _, c := range l {
		ok, err := c.Acquire(ctx, key)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}
