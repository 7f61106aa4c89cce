package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var _ Limiter = (*RedisLimiter)(nil)

// fixedWindowScript mirrors FixedWindow: denied requests leave the counter
// untouched and the expiry is set only when a window opens.
var fixedWindowScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
local limit = tonumber(ARGV[2])
if current >= limit then
	return {0, current, redis.call('PTTL', KEYS[1])}
end
current = redis.call('INCR', KEYS[1])
if current == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return {1, current, redis.call('PTTL', KEYS[1])}
`)

// RedisLimiter keeps fixed-window counters in Redis so that several
// processes share one quota. Keys expire natively with the window.
type RedisLimiter struct {
	client redis.Scripter
	prefix string
	cfg    Config
	log    *zap.Logger
	now    func() time.Time
}

// NewRedisLimiter builds a limiter whose keys are namespaced by name.
func NewRedisLimiter(client redis.Scripter, name string, cfg Config, log *zap.Logger) (*RedisLimiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisLimiter{
		client: client,
		prefix: "rate_limit:" + name + ":",
		cfg:    cfg,
		log:    log.With(zap.String("limiter", name)),
		now:    time.Now,
	}, nil
}

// Allow consumes one request. When Redis is unreachable the request is
// admitted and the failure logged.
func (l *RedisLimiter) Allow(ctx context.Context, key string) Decision {
	key = normalizeKey(key)
	now := l.now()
	res, err := fixedWindowScript.Run(ctx, l.client,
		[]string{l.prefix + key},
		l.cfg.Window.Milliseconds(), l.cfg.MaxRequests,
	).Int64Slice()
	if err != nil || len(res) != 3 {
		l.log.Warn("rate limit backend unavailable, admitting request",
			zap.String("key", key), zap.Error(err))
		return Decision{Allowed: true, Limit: l.cfg.MaxRequests, Remaining: l.cfg.MaxRequests}
	}
	ttl := time.Duration(res[2]) * time.Millisecond
	if ttl < 0 {
		ttl = l.cfg.Window
	}
	remaining := l.cfg.MaxRequests - int(res[1])
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   res[0] == 1,
		Limit:     l.cfg.MaxRequests,
		Remaining: remaining,
		ResetAt:   now.Add(ttl),
	}
}
