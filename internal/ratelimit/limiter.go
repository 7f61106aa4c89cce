// Package ratelimit gates requests per client identifier using fixed
// time windows. Each limiter instance owns its counters; instances never
// share state.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// UnknownClient is the key used when no client identifier can be resolved.
const UnknownClient = "unknown"

// Config defines a fixed window: at most MaxRequests per Window per key.
type Config struct {
	Window      time.Duration `yaml:"window"`
	MaxRequests int           `yaml:"max_requests"`
}

// Validate reports whether both bounds are positive.
func (c Config) Validate() error {
	if c.Window <= 0 {
		return errors.New("ratelimit: window must be greater than zero")
	}
	if c.MaxRequests <= 0 {
		return errors.New("ratelimit: max_requests must be greater than zero")
	}
	return nil
}

func (c Config) String() string {
	return fmt.Sprintf("%d/%s", c.MaxRequests, c.Window)
}

// Decision is the outcome of a single check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter returns how long a denied caller should wait, rounded up to a second.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	if d.Allowed || d.ResetAt.IsZero() {
		return 0
	}
	wait := d.ResetAt.Sub(now)
	if wait <= 0 {
		return time.Second
	}
	return wait.Truncate(time.Second) + time.Second
}

// Limiter checks and consumes one request for key. It never returns an
// error: backends that can fail decide on their own how to degrade.
type Limiter interface {
	Allow(ctx context.Context, key string) Decision
}

func normalizeKey(key string) string {
	if key == "" {
		return UnknownClient
	}
	return key
}
