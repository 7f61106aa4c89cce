package ratelimit

import (
	"context"
	"sync"
	"time"
)

var _ Limiter = (*FixedWindow)(nil)

type counter struct {
	count       int
	windowStart time.Time
	resetAt     time.Time
}

// FixedWindow is an in-memory fixed-window limiter guarded by a single mutex.
// Requests at a window boundary may briefly admit close to twice the limit.
type FixedWindow struct {
	cfg Config
	now func() time.Time

	sweepOnCheck bool

	mu       sync.Mutex
	counters map[string]*counter
}

// Option configures FixedWindow.
type Option func(*FixedWindow)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(l *FixedWindow) {
		if fn != nil {
			l.now = fn
		}
	}
}

// WithoutSweepOnCheck disables the full sweep performed on every Allow.
// Expired counters are then reset lazily and removed by StartJanitor.
func WithoutSweepOnCheck() Option {
	return func(l *FixedWindow) { l.sweepOnCheck = false }
}

// NewFixedWindow builds a limiter for cfg.
func NewFixedWindow(cfg Config, opts ...Option) (*FixedWindow, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	l := &FixedWindow{
		cfg:          cfg,
		now:          time.Now,
		sweepOnCheck: true,
		counters:     make(map[string]*counter),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Config returns the limiter configuration.
func (l *FixedWindow) Config() Config { return l.cfg }

// Allow records a request for key and reports whether it is within the limit.
// A denied request does not modify the counter.
func (l *FixedWindow) Allow(_ context.Context, key string) Decision {
	key = normalizeKey(key)
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.sweepOnCheck {
		l.sweepLocked(now)
	}

	c, ok := l.counters[key]
	if !ok || !now.Before(c.resetAt) {
		c = &counter{count: 1, windowStart: now, resetAt: now.Add(l.cfg.Window)}
		l.counters[key] = c
		return l.decision(true, c)
	}
	if c.count < l.cfg.MaxRequests {
		c.count++
		return l.decision(true, c)
	}
	return l.decision(false, c)
}

func (l *FixedWindow) decision(allowed bool, c *counter) Decision {
	return Decision{
		Allowed:   allowed,
		Limit:     l.cfg.MaxRequests,
		Remaining: l.cfg.MaxRequests - c.count,
		ResetAt:   c.resetAt,
	}
}

// Sweep removes every counter whose window has ended.
func (l *FixedWindow) Sweep() {
	now := l.now()
	l.mu.Lock()
	l.sweepLocked(now)
	l.mu.Unlock()
}

func (l *FixedWindow) sweepLocked(now time.Time) {
	for k, c := range l.counters {
		if !now.Before(c.resetAt) {
			delete(l.counters, k)
		}
	}
}

// Len returns the number of tracked keys.
func (l *FixedWindow) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.counters)
}

// StartJanitor sweeps expired counters every interval until ctx is done.
func (l *FixedWindow) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = l.cfg.Window
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.Sweep()
			}
		}
	}()
}
