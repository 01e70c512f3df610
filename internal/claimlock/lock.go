// Package claimlock defines the distributed lock contract guarding
// claim-in-progress sections. Locks are fenced: acquisition returns an
// ownership token and release only succeeds when the caller still owns the
// key, so a slow process cannot delete a lock a later holder re-acquired.
package claimlock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultTTL is how long a claim lock survives without an explicit release.
// It doubles as the crash backstop: a request that dies mid-claim blocks
// retries for at most this window.
const DefaultTTL = 300 * time.Second

// ErrNotHeld is returned by Release when the key no longer exists or is
// owned by a different token. It is informational; callers treat it as a
// successful release since the protected section is already reclaimed.
var ErrNotHeld = errors.New("lock not held by this token")

// Locker provides mutual exclusion backed by a shared key-value store.
type Locker interface {
	// Acquire attempts an atomic set-if-absent of key with the given TTL.
	// On success it returns a fresh ownership token and ok=true. When the
	// key is already held, ok is false and the token is empty.
	Acquire(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)

	// Release deletes key only if it still stores token (compare-and-delete).
	// Returns ErrNotHeld when the key is absent or owned by someone else.
	Release(ctx context.Context, key, token string) error
}

// AddressKey builds the per-address claim lock key for one auction.
func AddressKey(address, auctionID string) string {
	return fmt.Sprintf("claim:lock:address:%s:%s", strings.ToLower(address), auctionID)
}

// FIDKey builds the per-FID claim lock key for one auction. It is acquired
// before the address lock so a Farcaster identity racing itself with two
// addresses fails fast.
func FIDKey(fid int64, auctionID string) string {
	return fmt.Sprintf("claim:lock:fid:%d:%s", fid, auctionID)
}

// UsernameKey builds the per-username claim lock key for one auction.
// Usernames are normalized to lowercase without the "@" prefix.
func UsernameKey(username, auctionID string) string {
	return fmt.Sprintf("claim:lock:username:%s:%s", NormalizeUsername(username), auctionID)
}

// BatchRunKey is the run-level lock preventing overlapping batch processor
// invocations.
func BatchRunKey() string {
	return "claim:batch:run"
}

// NormalizeUsername lowercases a username and strips a leading "@".
func NormalizeUsername(username string) string {
	return strings.TrimPrefix(strings.ToLower(username), "@")
}
