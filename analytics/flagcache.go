package analytics

import (
	"context"
	"log"
	"sync"
	"time"
)

// FlagCache memoizes the analytics-enabled setting with a short TTL so the
// hot ingestion path does not hit Postgres on every batch. The staleness
// window is an explicit parameter rather than hidden module state.
type FlagCache struct {
	fetch func(ctx context.Context) (bool, error)
	ttl   time.Duration

	mu      sync.Mutex
	value   bool
	primed  bool
	expires time.Time

	now func() time.Time
}

func NewFlagCache(ttl time.Duration, fetch func(ctx context.Context) (bool, error)) *FlagCache {
	return &FlagCache{
		fetch: fetch,
		ttl:   ttl,
		now:   time.Now,
	}
}

// Enabled returns the cached flag, refreshing it once per TTL window. A
// failed refresh keeps serving the last known value, or defaults to enabled
// when nothing was ever fetched; the settings store being down must not
// decide ingestion by itself.
func (f *FlagCache) Enabled(ctx context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.primed && f.now().Before(f.expires) {
		return f.value
	}

	value, err := f.fetch(ctx)
	if err != nil {
		log.Printf("Failed to refresh analytics-enabled flag: %v", err)
		if f.primed {
			return f.value
		}
		return true
	}

	f.value = value
	f.primed = true
	f.expires = f.now().Add(f.ttl)
	return value
}
