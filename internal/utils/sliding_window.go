package utils

import (
	"slices"
	"sync"
	"time"
)

// Tracker keeps per-key timestamps inside a sliding window. All mutation
// happens under one mutex and never spans a network call.
type Tracker struct {
	mu        sync.Mutex
	window    time.Duration
	threshold int
	hits      map[string][]time.Time
}

func NewTracker(window time.Duration, threshold int) *Tracker {
	return &Tracker{
		window:    window,
		threshold: threshold,
		hits:      make(map[string][]time.Time),
	}
}

func (t *Tracker) Window() time.Duration { return t.window }

func (t *Tracker) Threshold() int { return t.threshold }

// Record appends now to key and returns how many hits remain in the window.
func (t *Tracker) Record(key string, now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.recordLocked(key, now)
}

// Hit records now and, when the threshold is met, clears the key inside the
// same critical section. The returned count is the count that fired.
func (t *Tracker) Hit(key string, now time.Time) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	count := t.recordLocked(key, now)
	if t.threshold <= 0 || count < t.threshold {
		return count, false
	}
	delete(t.hits, key)
	return count, true
}

func (t *Tracker) Count(key string, now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	hits := t.pruneLocked(t.hits[key], now)
	if len(hits) == 0 {
		delete(t.hits, key)
		return 0
	}
	t.hits[key] = hits
	return len(hits)
}

func (t *Tracker) Reset(key string) {
	t.mu.Lock()
	delete(t.hits, key)
	t.mu.Unlock()
}

// Sweep drops keys whose hits have all expired and returns how many were removed.
func (t *Tracker) Sweep(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for key, hits := range t.hits {
		hits = t.pruneLocked(hits, now)
		if len(hits) == 0 {
			delete(t.hits, key)
			removed++
			continue
		}
		t.hits[key] = hits
	}
	return removed
}

// Len reports the number of live keys.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.hits)
}

func (t *Tracker) recordLocked(key string, now time.Time) int {
	hits := append(t.hits[key], now)
	hits = t.pruneLocked(hits, now)
	t.hits[key] = hits
	return len(hits)
}

// pruneLocked keeps hits strictly younger than the window. Arrival order is
// not assumed.
func (t *Tracker) pruneLocked(hits []time.Time, now time.Time) []time.Time {
	return slices.DeleteFunc(hits, func(hit time.Time) bool {
		return now.Sub(hit) >= t.window
	})
}
