package redis

import (
	"context"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"

	"github.com/qrcoast/linkdrop/internal/claimlock"
)

// releaseScript deletes the lock key only while it still holds the
// caller's fencing token. Checking and deleting in one script keeps a
// client whose lock expired from releasing a lock someone else now holds.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Acquire implements the claimlock.Locker interface using SET NX EX with a
// random fencing token as the value.
//
// Parameters:
//   - ctx: context used for cancellation and timeout control.
//   - key: fully qualified lock key.
//   - ttl: how long the lock survives without release.
//
// Returns:
//   - The fencing token to present at release, when acquired.
//   - false when another holder owns the key.
//   - An error if the Redis operation fails.
func (c *client) Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()

	ok, err := c.conn.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	if !ok {
		return "", false, nil
	}

	return token, true, nil
}

// Release implements the claimlock.Locker interface. It deletes the key
// only when it still carries the given token, returning
// claimlock.ErrNotHeld when the key expired or was taken over.
func (c *client) Release(ctx context.Context, key, token string) error {
	deleted, err := releaseScript.Run(ctx, c.conn, []string{key}, token).Int()
	if err != nil {
		return err
	}
	if deleted == 0 {
		return claimlock.ErrNotHeld
	}

	return nil
}

// Compile-time assertion to ensure *client satisfies the claimlock.Locker interface
var _ claimlock.Locker = new(client)
