// Package ratelimit enforces per-key submission limits over sliding windows.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

const sweepInterval = 10 * time.Minute

// Window is one sliding threshold.
type Window struct {
	Name  string
	Span  time.Duration
	Limit int // zero disables the window
}

// DefaultWindows are the minute, hour and day thresholds.
func DefaultWindows(perMinute, perHour, perDay int) []Window {
	return []Window{
		{Name: "minute", Span: time.Minute, Limit: perMinute},
		{Name: "hour", Span: time.Hour, Limit: perHour},
		{Name: "day", Span: 24 * time.Hour, Limit: perDay},
	}
}

// Decision is the result of one check.
type Decision struct {
	Allowed    bool
	Window     string        // the exceeded window when refused
	RetryAfter time.Duration // until the oldest counted request leaves that window
}

// Limiter decides whether key may make a request at now.
type Limiter interface {
	Allow(key string, now time.Time) Decision
}

// keyState is the request log of one key, oldest first.
type keyState struct {
	hits []time.Time
}

// SlidingLog keeps an explicit timestamp log per key. Only admitted requests
// are recorded, and every check trims entries older than the widest window.
type SlidingLog struct {
	windows []Window
	widest  time.Duration

	mu   sync.Mutex
	keys map[string]*keyState
}

var _ Limiter = (*SlidingLog)(nil)

// NewSlidingLog creates a limiter over windows.
func NewSlidingLog(windows []Window) *SlidingLog {
	l := &SlidingLog{keys: make(map[string]*keyState)}
	for _, w := range windows {
		if w.Span <= 0 || w.Limit <= 0 {
			continue
		}
		l.windows = append(l.windows, w)
		if w.Span > l.widest {
			l.widest = w.Span
		}
	}
	return l
}

// Allow records the request if every window has room.
func (l *SlidingLog) Allow(key string, now time.Time) Decision {
	if len(l.windows) == 0 {
		return Decision{Allowed: true}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	st := l.keys[key]
	if st == nil {
		st = &keyState{}
		l.keys[key] = st
	}
	st.trim(now.Add(-l.widest))

	for _, w := range l.windows {
		cutoff := now.Add(-w.Span)
		first, n := st.since(cutoff)
		if n >= w.Limit {
			// The request that frees a slot is the n-Limit'th in the window.
			oldest := st.hits[first+n-w.Limit]
			return Decision{Window: w.Name, RetryAfter: oldest.Add(w.Span).Sub(now)}
		}
	}

	st.hits = append(st.hits, now)
	return Decision{Allowed: true}
}

// Sweep drops keys with no request inside the widest window.
func (l *SlidingLog) Sweep(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, st := range l.keys {
		st.trim(now.Add(-l.widest))
		if len(st.hits) == 0 {
			delete(l.keys, key)
			removed++
		}
	}
	return removed
}

// Serve sweeps idle keys periodically until ctx is canceled.
func (l *SlidingLog) Serve(ctx context.Context) error {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			l.Sweep(now)
		}
	}
}

func (l *SlidingLog) String() string { return "ratelimit-sweeper" }

// Keys returns the number of tracked keys.
func (l *SlidingLog) Keys() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.keys)
}

func (s *keyState) trim(cutoff time.Time) {
	i := 0
	for i < len(s.hits) && !s.hits[i].After(cutoff) {
		i++
	}
	if i > 0 {
		s.hits = append(s.hits[:0], s.hits[i:]...)
	}
}

// since returns the index of the first hit after cutoff and how many follow.
func (s *keyState) since(cutoff time.Time) (int, int) {
	i := 0
	for i < len(s.hits) && !s.hits[i].After(cutoff) {
		i++
	}
	return i, len(s.hits) - i
}
