// Package ratelimit bounds accepted analytics events per session within a
// fixed time window. Counters live in a shared Redis when one is configured,
// which keeps the limit correct across API replicas; without Redis (or when
// Redis errors mid-flight) counting degrades to a per-instance map, a
// documented single-instance-only guarantee.
package ratelimit

import (
	"context"
	"log"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const keyPrefix = "rl:"

// Result reports the outcome of one consume call.
type Result struct {
	Allowed   bool
	Remaining int
	Reset     time.Duration
}

// Limiter consumes one unit for a key and reports whether it was admitted.
type Limiter interface {
	Consume(ctx context.Context, key string) (Result, error)
}

// New wires the appropriate limiter: Redis-backed with in-process fallback
// when a client is supplied, in-process only otherwise. maxEvents <= 0 means
// unlimited.
func New(rdb *goredis.Client, window time.Duration, maxEvents int) Limiter {
	local := NewMemoryLimiter(window, maxEvents)
	if rdb == nil {
		log.Println("Rate limiter running without shared store; limits apply per instance only")
		return local
	}
	return &RedisLimiter{rdb: rdb, window: window, max: maxEvents, fallback: local}
}

// RedisLimiter implements fixed-window counting with INCR + EXPIRE. The
// first event in a window creates the counter and starts its TTL; the
// window then expires naturally.
type RedisLimiter struct {
	rdb      *goredis.Client
	window   time.Duration
	max      int
	fallback *MemoryLimiter
}

func (l *RedisLimiter) Consume(ctx context.Context, key string) (Result, error) {
	if l.max <= 0 {
		return Result{Allowed: true, Remaining: -1}, nil
	}

	redisKey := keyPrefix + key
	count, err := l.rdb.Incr(ctx, redisKey).Result()
	if err != nil {
		log.Printf("Rate limit store unreachable, falling back to in-process counting: %v", err)
		return l.fallback.Consume(ctx, key)
	}

	reset := l.window
	if count == 1 {
		if err := l.rdb.Expire(ctx, redisKey, l.window).Err(); err != nil {
			log.Printf("Failed to set rate limit window TTL for key: %v", err)
		}
	} else if ttl, err := l.rdb.TTL(ctx, redisKey).Result(); err == nil && ttl > 0 {
		reset = ttl
	}

	remaining := l.max - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Result{Allowed: count <= int64(l.max), Remaining: remaining, Reset: reset}, nil
}

// MemoryLimiter is the in-process fixed-window fallback. Counters for
// expired windows are pruned opportunistically.
type MemoryLimiter struct {
	window time.Duration
	max    int

	mu       sync.Mutex
	counters map[string]*windowCounter

	now func() time.Time
}

type windowCounter struct {
	count   int
	resetAt time.Time
}

func NewMemoryLimiter(window time.Duration, maxEvents int) *MemoryLimiter {
	return &MemoryLimiter{
		window:   window,
		max:      maxEvents,
		counters: make(map[string]*windowCounter),
		now:      time.Now,
	}
}

func (l *MemoryLimiter) Consume(_ context.Context, key string) (Result, error) {
	if l.max <= 0 {
		return Result{Allowed: true, Remaining: -1}, nil
	}

	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.counters) > 4096 {
		l.pruneLocked(now)
	}

	counter, ok := l.counters[key]
	if !ok || !now.Before(counter.resetAt) {
		counter = &windowCounter{resetAt: now.Add(l.window)}
		l.counters[key] = counter
	}
	counter.count++

	remaining := l.max - counter.count
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:   counter.count <= l.max,
		Remaining: remaining,
		Reset:     counter.resetAt.Sub(now),
	}, nil
}

func (l *MemoryLimiter) pruneLocked(now time.Time) {
	for key, counter := range l.counters {
		if !now.Before(counter.resetAt) {
			delete(l.counters, key)
		}
	}
}
