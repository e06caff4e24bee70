// Package blacklist records access tokens that were invalidated before their
// natural expiry. Entries are keyed by the token's jti and expire together with
// the token, so the set never outgrows the population of live tokens.
package blacklist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "blacklist"

// ErrRedisUnavailable wraps backend failures; the cause stays in the chain.
var ErrRedisUnavailable = errors.New("blacklist backend unavailable")

// Blacklist is a Redis-backed set of revoked access-token ids.
type Blacklist struct {
	redis  redis.UniversalClient
	prefix string
}

// New returns a Blacklist storing keys under prefix ("blacklist" when empty).
func New(redisClient redis.UniversalClient, prefix string) *Blacklist {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Blacklist{redis: redisClient, prefix: prefix}
}

// Add blacklists tokenID for ttl. A non-positive ttl means the token has
// already expired and nothing is written.
func (b *Blacklist) Add(ctx context.Context, tokenID string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if ttl < time.Millisecond {
		ttl = time.Millisecond
	}
	if err := b.redis.Set(ctx, b.key(tokenID), 1, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrRedisUnavailable, err)
	}
	return nil
}

// Contains reports whether tokenID is currently blacklisted.
func (b *Blacklist) Contains(ctx context.Context, tokenID string) (bool, error) {
	n, err := b.redis.Exists(ctx, b.key(tokenID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrRedisUnavailable, err)
	}
	return n > 0, nil
}

func (b *Blacklist) key(tokenID string) string {
	return b.prefix + ":" + tokenID
}
