package rate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "rl"

// incrWithExpiry increments KEYS[1] and sets its expiry (ARGV[1], ms) only
// when the increment created the key.
var incrWithExpiry = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n
`)

// Policy bounds one bucket: at most Limit requests per Window.
type Policy struct {
	Limit  int
	Window time.Duration
}

// Enabled reports whether the policy limits anything.
func (p Policy) Enabled() bool { return p.Limit > 0 && p.Window > 0 }

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Count      int64
	Limit      int
	Remaining  int
	RetryAfter time.Duration
	ResetAt    time.Time
}

// Config wires the limiter to its clock and key namespace.
type Config struct {
	Prefix string
	Now    func() time.Time
}

// Limiter is a Redis-backed fixed-window counter.
type Limiter struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

// New creates a Limiter backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	if cfg.Prefix == "" {
		cfg.Prefix = defaultPrefix
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Limiter{
		redis:  redisClient,
		prefix: cfg.Prefix,
		now:    cfg.Now,
	}
}

// Allow counts one request for (bucket, scope) and reports whether it fits in
// the current window. The request that takes the count past Limit, and every
// later one in the same window, is denied with RetryAfter set to the time
// left until the window ends. A disabled policy always allows.
func (l *Limiter) Allow(ctx context.Context, bucket, scope string, p Policy) (Decision, error) {
	if !p.Enabled() {
		return Decision{Allowed: true}, nil
	}

	key, resetAt := l.window(bucket, scope, p.Window)
	ttl := resetAt.Sub(l.now())
	if ttl < time.Millisecond {
		ttl = time.Millisecond
	}

	count, err := incrWithExpiry.Run(ctx, l.redis, []string{key}, ttl.Milliseconds()).Int64()
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %w", ErrRedisUnavailable, err)
	}

	d := Decision{
		Allowed: count <= int64(p.Limit),
		Count:   count,
		Limit:   p.Limit,
		ResetAt: resetAt,
	}
	if d.Allowed {
		d.Remaining = p.Limit - int(count)
	} else {
		d.RetryAfter = ttl
	}
	return d, nil
}

// Attempts returns the count recorded for (bucket, scope) in the current
// window. A missing counter is zero.
func (l *Limiter) Attempts(ctx context.Context, bucket, scope string, p Policy) (int64, error) {
	if !p.Enabled() {
		return 0, nil
	}
	key, _ := l.window(bucket, scope, p.Window)
	count, err := l.redis.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %w", ErrRedisUnavailable, err)
	}
	return count, nil
}

// Reset clears the current window's counter for (bucket, scope).
func (l *Limiter) Reset(ctx context.Context, bucket, scope string, p Policy) error {
	if !p.Enabled() {
		return nil
	}
	key, _ := l.window(bucket, scope, p.Window)
	if err := l.redis.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrRedisUnavailable, err)
	}
	return nil
}

func (l *Limiter) window(bucket, scope string, window time.Duration) (string, time.Time) {
	nowMs := l.now().UnixMilli()
	windowMs := window.Milliseconds()
	if windowMs <= 0 {
		windowMs = 1
	}
	index := nowMs / windowMs
	resetAt := time.UnixMilli((index + 1) * windowMs)
	return l.prefix + ":" + bucket + ":" + scope + ":" + strconv.FormatInt(index, 10), resetAt
}
