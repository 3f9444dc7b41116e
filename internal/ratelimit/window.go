package ratelimit

import (
	"sync"
	"time"
)

// WindowConfig configures sliding window limits.
type WindowConfig struct {
	// MaxRequests caps the number of requests within the window.
	MaxRequests int

	// Window is the sliding window duration.
	Window time.Duration

	// MaxWeight caps the weighted sum within the window. Zero disables the
	// weight check.
	MaxWeight float64
}

// DefaultWindowConfig returns the default sliding window configuration.
func DefaultWindowConfig() WindowConfig {
	return WindowConfig{
		MaxRequests: 30,
		Window:      time.Minute,
	}
}

type windowEntry struct {
	at     time.Time
	weight float64
}

// SlidingWindow is a keyed sliding-window limiter. Each key keeps a list of
// request timestamps (with optional weights); entries older than the window
// are pruned before every admission test.
type SlidingWindow struct {
	mu      sync.Mutex
	entries map[string][]windowEntry
	config  WindowConfig
	nowFunc func() time.Time
}

// NewSlidingWindow creates a sliding window limiter.
func NewSlidingWindow(config WindowConfig) *SlidingWindow {
	if config.MaxRequests <= 0 {
		config.MaxRequests = DefaultWindowConfig().MaxRequests
	}
	if config.Window <= 0 {
		config.Window = DefaultWindowConfig().Window
	}
	return &SlidingWindow{
		entries: make(map[string][]windowEntry),
		config:  config,
		nowFunc: time.Now,
	}
}

// SetNowFunc sets a custom clock for testing.
func (w *SlidingWindow) SetNowFunc(fn func() time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.nowFunc = fn
}

// Check reports whether a request of the given weight would be admitted.
// Nothing is recorded.
func (w *SlidingWindow) Check(key string, weight float64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.checkLocked(key, weight, w.nowFunc())
}

// TryRequest checks then atomically records the request. Returns false and
// records nothing when the request would exceed the limits.
func (w *SlidingWindow) TryRequest(key string, weight float64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.nowFunc()
	if !w.checkLocked(key, weight, now) {
		return false
	}
	w.entries[key] = append(w.entries[key], windowEntry{at: now, weight: weight})
	return true
}

// Record appends a request without an admission test. Used by the composite
// limiter after all sub-limiters have passed.
func (w *SlidingWindow) Record(key string, weight float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pruneLocked(key, w.nowFunc())
	w.entries[key] = append(w.entries[key], windowEntry{at: w.nowFunc(), weight: weight})
}

// Remaining returns how many unweighted requests the key has left.
func (w *SlidingWindow) Remaining(key string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pruneLocked(key, w.nowFunc())
	remaining := w.config.MaxRequests - len(w.entries[key])
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (w *SlidingWindow) checkLocked(key string, weight float64, now time.Time) bool {
	w.pruneLocked(key, now)

	list := w.entries[key]
	if len(list)+1 > w.config.MaxRequests {
		return false
	}
	if w.config.MaxWeight > 0 {
		sum := weight
		for _, e := range list {
			sum += e.weight
		}
		if sum > w.config.MaxWeight {
			return false
		}
	}
	return true
}

// pruneLocked drops entries older than now - window.
func (w *SlidingWindow) pruneLocked(key string, now time.Time) {
	cutoff := now.Add(-w.config.Window)
	list := w.entries[key]
	kept := list[:0]
	for _, e := range list {
		if e.at.After(cutoff) {
			kept = append(kept, e)
		}
	}
	if len(kept) == 0 {
		delete(w.entries, key)
		return
	}
	w.entries[key] = kept
}

// Reset clears the entries for a key.
func (w *SlidingWindow) Reset(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.entries, key)
}
