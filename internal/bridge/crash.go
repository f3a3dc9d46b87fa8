package bridge

import (
	"sync"
	"time"
)

const (
	// DefaultCrashThreshold is the number of crashes that makes a storm
	DefaultCrashThreshold = 5
	// DefaultCrashWindow is the sliding window crashes are counted in
	DefaultCrashWindow = 10 * time.Second
)

// CrashWindow counts crashes per package over a sliding window. Old entries
// are purged on every record, so no background ticker is needed.
type CrashWindow struct {
	threshold int
	window    time.Duration
	now       func() time.Time

	mu      sync.Mutex
	crashes map[string][]time.Time
}

// NewCrashWindow creates a window. Zero values fall back to the defaults.
func NewCrashWindow(threshold int, window time.Duration) *CrashWindow {
	if threshold <= 0 {
		threshold = DefaultCrashThreshold
	}
	if window <= 0 {
		window = DefaultCrashWindow
	}
	return &CrashWindow{
		threshold: threshold,
		window:    window,
		now:       time.Now,
		crashes:   make(map[string][]time.Time),
	}
}

// Record notes a crash of pkg and reports whether the package is now in a storm
func (w *CrashWindow) Record(pkg string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	kept := w.crashes[pkg][:0]
	for _, ts := range w.crashes[pkg] {
		if now.Sub(ts) <= w.window {
			kept = append(kept, ts)
		}
	}
	kept = append(kept, now)
	w.crashes[pkg] = kept

	return len(kept) >= w.threshold
}

// Count returns the number of crashes currently held for pkg
func (w *CrashWindow) Count(pkg string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.crashes[pkg])
}
