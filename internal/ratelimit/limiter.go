// Package ratelimit implements the fixed-window login attempt limiter.
package ratelimit

import (
	"sync"
	"time"
)

// Decision is the outcome of a limiter check.
type Decision struct {
	Allowed bool
	// RetryAfter is how long until the current window resets; only meaningful
	// when Allowed is false.
	RetryAfter time.Duration
}

// Limiter counts login attempts per identifier (client IP) in a fixed window.
// Once an identifier reaches the attempt budget, further attempts are rejected
// until the window elapses; the window then resets to zero on the next check.
// Each identifier has its own lock, so distinct identifiers do not contend.
type Limiter struct {
	maxAttempts int
	window      time.Duration
	now         func() time.Time

	mu      sync.Mutex
	entries map[string]*entry

	done      chan struct{}
	closeOnce sync.Once
}

type entry struct {
	mu          sync.Mutex
	count       int
	windowStart time.Time
}

// NewLimiter returns a Limiter allowing maxAttempts write attempts per window
// and starts a janitor that evicts identifiers idle for three windows.
// Call Close to stop the janitor.
func NewLimiter(maxAttempts int, window time.Duration) *Limiter {
	l := newLimiter(maxAttempts, window, time.Now)
	go l.janitor(window)
	return l
}

func newLimiter(maxAttempts int, window time.Duration, now func() time.Time) *Limiter {
	return &Limiter{
		maxAttempts: maxAttempts,
		window:      window,
		now:         now,
		entries:     make(map[string]*entry),
		done:        make(chan struct{}),
	}
}

// Check records a login attempt for id and reports whether it may proceed.
// increment is true for state-changing attempts (the login POST); read-only
// access to the login page passes increment=false and never consumes budget.
// At the attempt ceiling the count is not incremented further.
func (l *Limiter) Check(id string, increment bool) Decision {
	e := l.entry(id)
	now := l.now().UTC()

	e.mu.Lock()
	defer e.mu.Unlock()

	if now.Sub(e.windowStart) > l.window {
		e.count = 0
		e.windowStart = now
	}
	if e.count >= l.maxAttempts {
		retry := e.windowStart.Add(l.window).Sub(now)
		if retry < 0 {
			retry = 0
		}
		return Decision{Allowed: false, RetryAfter: retry}
	}
	if increment {
		e.count++
	}
	return Decision{Allowed: true}
}

func (l *Limiter) entry(id string) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[id]
	if !ok {
		e = &entry{windowStart: l.now().UTC()}
		l.entries[id] = e
	}
	return e
}

// Close stops the janitor goroutine. Safe to call more than once.
func (l *Limiter) Close() {
	l.closeOnce.Do(func() { close(l.done) })
}

// janitor periodically evicts identifiers whose window is long past, keeping
// the attempt map bounded for long-running processes.
func (l *Limiter) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			l.sweep()
		}
	}
}

func (l *Limiter) sweep() {
	cutoff := l.now().UTC().Add(-3 * l.window)
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, e := range l.entries {
		e.mu.Lock()
		stale := e.windowStart.Before(cutoff)
		e.mu.Unlock()
		if stale {
			delete(l.entries, id)
		}
	}
}

// size reports the number of tracked identifiers; used by tests.
func (l *Limiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
