// Package ratelimit implements a per-key sliding-window limiter used to
// keep outbound relay publishes below a configured rate.
package ratelimit

import (
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// Limiter tracks event timestamps per key over a sliding window.
type Limiter struct {
	limit   int
	window  time.Duration
	buckets *xsync.MapOf[string, *bucket]
	stopCh  chan struct{}
}

type bucket struct {
	mu         sync.Mutex
	timestamps []time.Time
}

// New creates a limiter allowing limit events per window for each key.
// A background loop drops idle buckets.
func New(limit int, window time.Duration) *Limiter {
	l := &Limiter{
		limit:   limit,
		window:  window,
		buckets: xsync.NewMapOf[string, *bucket](),
		stopCh:  make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

// Allow records an event for key if it fits in the window and reports
// whether it was admitted, plus the remaining budget.
func (l *Limiter) Allow(key string) (ok bool, remaining int) {
	b, _ := l.buckets.LoadOrStore(key, &bucket{})
	b.mu.Lock()
	defer b.mu.Unlock()

	cutoff := time.Now().Add(-l.window)
	valid := b.timestamps[:0]
	for _, t := range b.timestamps {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	b.timestamps = valid

	if len(b.timestamps) >= l.limit {
		return false, 0
	}
	b.timestamps = append(b.timestamps, time.Now())
	return true, l.limit - len(b.timestamps)
}

// Close stops the cleanup goroutine.
func (l *Limiter) Close() {
	close(l.stopCh)
}

func (l *Limiter) cleanupLoop() {
	ticker := time.NewTicker(2 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.cleanup()
		}
	}
}

func (l *Limiter) cleanup() {
	cutoff := time.Now().Add(-l.window)
	l.buckets.Range(func(key string, b *bucket) bool {
		b.mu.Lock()
		stale := true
		for _, t := range b.timestamps {
			if t.After(cutoff) {
				stale = false
				break
			}
		}
		b.mu.Unlock()
		if stale {
			l.buckets.Delete(key)
		}
		return true
	})
}
