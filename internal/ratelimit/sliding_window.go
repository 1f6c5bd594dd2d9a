package ratelimit

import (
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

// Decision is the outcome of a SlidingWindow.Take call.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

type windowEntry struct {
	hits []time.Time
}

// SlidingWindow is an in-process sliding-window log limiter keyed by an
// arbitrary client key. Idle keys expire after one window and are evicted by
// the cache janitor, so memory tracks the set of recently active clients.
type SlidingWindow struct {
	limit  int
	window time.Duration

	mu    sync.Mutex
	store *cache.Cache
	now   func() time.Time
}

func NewSlidingWindow(limit int, window time.Duration) *SlidingWindow {
	if limit < 1 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}

	return &SlidingWindow{
		limit:  limit,
		window: window,
		store:  cache.New(window, window),
		now:    time.Now,
	}
}

// Take records a hit for key when the window has room and reports the result.
func (w *SlidingWindow) Take(key string) Decision {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	cutoff := now.Add(-w.window)

	entry := &windowEntry{}
	if cached, ok := w.store.Get(key); ok {
		entry = cached.(*windowEntry)
	}

	kept := entry.hits[:0]
	for _, hit := range entry.hits {
		if hit.After(cutoff) {
			kept = append(kept, hit)
		}
	}
	entry.hits = kept

	if len(entry.hits) >= w.limit {
		w.store.Set(key, entry, w.window)
		return Decision{
			Allowed:    false,
			Limit:      w.limit,
			Remaining:  0,
			RetryAfter: entry.hits[0].Add(w.window).Sub(now),
		}
	}

	entry.hits = append(entry.hits, now)
	w.store.Set(key, entry, w.window)

	return Decision{
		Allowed:   true,
		Limit:     w.limit,
		Remaining: w.limit - len(entry.hits),
	}
}

// TrackedKeys returns the number of keys currently held in memory.
func (w *SlidingWindow) TrackedKeys() int {
	return w.store.ItemCount()
}
