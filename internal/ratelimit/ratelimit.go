// Package ratelimit provides a per-key sliding-window limiter.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter allows at most limit events per key within window.
type Limiter struct {
	mu     sync.Mutex
	events map[string][]time.Time
	limit  int
	window time.Duration
	now    func() time.Time
	stop   chan struct{}
	once   sync.Once
}

// New creates a limiter and starts the background eviction goroutine.
func New(limit int, window time.Duration) *Limiter {
	l := &Limiter{
		events: make(map[string][]time.Time),
		limit:  limit,
		window: window,
		now:    time.Now,
		stop:   make(chan struct{}),
	}
	go l.evictLoop()
	return l
}

// Allow records an event for key and reports whether it is within the limit.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	recent := l.fresh(l.events[key], now.Add(-l.window))

	if len(recent) >= l.limit {
		l.events[key] = recent
		return false
	}

	l.events[key] = append(recent, now)
	return true
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

// Stop ends the eviction goroutine.
func (l *Limiter) Stop() {
	l.once.Do(func() { close(l.stop) })
}

func (l *Limiter) fresh(times []time.Time, cutoff time.Time) []time.Time {
	var out []time.Time
	for _, t := range times {
		if t.After(cutoff) {
			out = append(out, t)
		}
	}
	return out
}

func (l *Limiter) evict() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.window)
	for key, times := range l.events {
		if recent := l.fresh(times, cutoff); len(recent) == 0 {
			delete(l.events, key)
		} else {
			l.events[key] = recent
		}
	}
}

func (l *Limiter) evictLoop() {
	ticker := time.NewTicker(l.window)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.evict()
		}
	}
}
