package ratelimit

import (
	"context"
	"sync"
	"time"
)

type window struct {
	mu         sync.Mutex
	timestamps []time.Time
	dead       bool
}

// prune drops timestamps at or before cutoff. Timestamps are appended in
// order so the survivors are a suffix.
func (w *window) prune(cutoff time.Time) {
	i := 0
	for i < len(w.timestamps) && !w.timestamps[i].After(cutoff) {
		i++
	}
	w.timestamps = w.timestamps[i:]
}

// MemoryLimiter keeps windows in process. Each identifier has its own lock.
type MemoryLimiter struct {
	cfg     Config
	now     Clock
	windows sync.Map // identifier -> *window
}

// NewMemoryLimiter creates a MemoryLimiter. A nil clock uses time.Now.
func NewMemoryLimiter(cfg Config, clock Clock) *MemoryLimiter {
	if clock == nil {
		clock = time.Now
	}
	return &MemoryLimiter{cfg: cfg, now: clock}
}

// Allow prunes the identifier's window, rejects when full and otherwise
// records the request.
func (l *MemoryLimiter) Allow(_ context.Context, identifier string) (Result, error) {
	for {
		v, _ := l.windows.LoadOrStore(identifier, &window{})
		w := v.(*window)

		w.mu.Lock()
		if w.dead {
			w.mu.Unlock()
			continue
		}

		now := l.now()
		w.prune(now.Add(-l.cfg.Window))

		if len(w.timestamps) >= l.cfg.Limit {
			retry := w.timestamps[0].Add(l.cfg.Window).Sub(now)
			w.mu.Unlock()
			return Result{Allowed: false, RetryAfter: retry}, nil
		}

		w.timestamps = append(w.timestamps, now)
		remaining := l.cfg.Limit - len(w.timestamps)
		w.mu.Unlock()
		return Result{Allowed: true, Remaining: remaining}, nil
	}
}

// Sweep discards windows with no requests left inside the window.
func (l *MemoryLimiter) Sweep() {
	cutoff := l.now().Add(-l.cfg.Window)
	l.windows.Range(func(key, v any) bool {
		w := v.(*window)
		w.mu.Lock()
		w.prune(cutoff)
		if len(w.timestamps) == 0 {
			w.dead = true
			l.windows.Delete(key)
		}
		w.mu.Unlock()
		return true
	})
}

// Run sweeps every interval until ctx is done.
func (l *MemoryLimiter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep()
		}
	}
}

// Len returns the number of tracked identifiers.
func (l *MemoryLimiter) Len() int {
	n := 0
	l.windows.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
