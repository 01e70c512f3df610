package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/qrcoast/linkdrop/internal/claimgate"
)

// rateLimitKeyPrefix is the namespace prefix for fixed-window rate counters.
const rateLimitKeyPrefix = "ratelimit"

// rateLimitKey returns the Redis key holding the counter for an identity.
//
// Format: "ratelimit:hits:{identity}"
func rateLimitKey(identity string) string {
	return fmt.Sprintf("%s:hits:%s", rateLimitKeyPrefix, identity)
}

// Hit implements the claimgate.RateLimiter interface with a fixed-window
// counter: INCR the key and set the window expiry only when the increment
// opened the window.
//
// Parameters:
//   - ctx: context used for cancellation and timeout control.
//   - key: identity being counted (already namespaced by the caller).
//   - window: the fixed window length.
//
// Returns:
//   - The hit count within the current window, including this hit.
//   - An error if the Redis operations fail.
func (c *client) Hit(ctx context.Context, key string, window time.Duration) (int64, error) {
	redisKey := rateLimitKey(key)

	count, err := c.conn.Incr(ctx, redisKey).Result()
	if err != nil {
		return 0, err
	}

	if count == 1 {
		if err := c.conn.Expire(ctx, redisKey, window).Err(); err != nil {
			return 0, err
		}
	}

	return count, nil
}

// Compile-time assertion to ensure *client satisfies the claimgate.RateLimiter interface
var _ claimgate.RateLimiter = new(client)
