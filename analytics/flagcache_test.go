package analytics

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestFlagCacheServesWithinTTL(t *testing.T) {
	calls := 0
	cache := NewFlagCache(time.Minute, func(ctx context.Context) (bool, error) {
		calls++
		return false, nil
	})
	clock := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return clock }

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if cache.Enabled(ctx) {
			t.Fatal("expected disabled flag served")
		}
	}
	if calls != 1 {
		t.Errorf("expected a single fetch inside the TTL window, got %d", calls)
	}

	clock = clock.Add(61 * time.Second)
	cache.Enabled(ctx)
	if calls != 2 {
		t.Errorf("expected refresh after TTL expiry, got %d fetches", calls)
	}
}

func TestFlagCachePicksUpChangedValue(t *testing.T) {
	enabled := true
	cache := NewFlagCache(time.Minute, func(ctx context.Context) (bool, error) {
		return enabled, nil
	})
	clock := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return clock }

	ctx := context.Background()
	if !cache.Enabled(ctx) {
		t.Fatal("expected enabled initially")
	}

	enabled = false
	if !cache.Enabled(ctx) {
		t.Error("expected stale value inside TTL window")
	}

	clock = clock.Add(2 * time.Minute)
	if cache.Enabled(ctx) {
		t.Error("expected new value after expiry")
	}
}

func TestFlagCacheFetchFailure(t *testing.T) {
	failing := NewFlagCache(time.Minute, func(ctx context.Context) (bool, error) {
		return false, errors.New("connection refused")
	})
	if !failing.Enabled(context.Background()) {
		t.Error("expected unprimed cache to default to enabled on fetch failure")
	}

	var fail bool
	cache := NewFlagCache(time.Minute, func(ctx context.Context) (bool, error) {
		if fail {
			return true, errors.New("connection refused")
		}
		return false, nil
	})
	clock := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return clock }

	ctx := context.Background()
	cache.Enabled(ctx)
	fail = true
	clock = clock.Add(2 * time.Minute)
	if cache.Enabled(ctx) {
		t.Error("expected last known value served when refresh fails")
	}
}
