// Package claim holds the core domain types shared by the claim pipeline:
// claim records, failure records, ban records, the claim source enum, and
// the closed error-code taxonomy that decides retryability.
package claim

import (
	"hash/fnv"
	"strings"
	"time"
)

// Source identifies the client channel a claim originated from. It selects
// both the wallet/contract pair and the identity-verification path.
type Source string

const (
	SourceWeb     Source = "web"
	SourceMobile  Source = "mobile"
	SourceMiniApp Source = "mini_app"
)

// Valid reports whether s is a recognized claim source.
func (s Source) Valid() bool {
	switch s {
	case SourceWeb, SourceMobile, SourceMiniApp:
		return true
	default:
		return false
	}
}

// Record is one row in the claims table. A row may exist with only
// LinkVisitedAt set, representing "visited but not yet claimed"; ClaimedAt
// becomes non-nil exactly once per (address, auction) and per (fid, auction)
// when FID is positive.
type Record struct {
	ID              int64
	FID             int64 // negative synthetic value for non-Farcaster users
	EthAddress      string
	AuctionID       string
	Username        *string // nil for many web claims
	UserID          *string // verified external-identity id, web/Privy only
	WinningURL      string
	Source          Source
	Amount          int64 // token units
	TxHash          *string
	ClaimedAt       *time.Time
	LinkVisitedAt   *time.Time
	ClientIP        string
	NeynarUserScore *float64
	SpamLabel       *bool
	MiniAppClient   *string
}

// Claimed reports whether the row represents a completed claim.
func (r Record) Claimed() bool {
	return r.ClaimedAt != nil
}

// Failure is one row in the claim-failures table, eligible for retry by the
// batch processor.
type Failure struct {
	ID            int64
	FID           int64
	EthAddress    string
	AuctionID     string
	Username      *string
	UserID        *string
	WinningURL    string
	ErrorMessage  string
	ErrorCode     Code
	TxHash        *string
	RequestData   string // serialized original request
	GasPrice      string
	GasLimit      string
	NetworkStatus string
	RetryCount    int
	ClientIP      string
	Source        Source
	CreatedAt     time.Time
}

// Ban is one row in the banned-users table. FID is the canonical key;
// username and address are secondary lookup columns because a banned
// actor's fid may be a synthetic negative value at request time.
type Ban struct {
	FID                   int64
	Username              *string
	EthAddress            *string
	Reason                string
	AutoBanned            bool
	TotalClaimsAttempted  int
	IPAddresses           []string
	DuplicateTransactions []string // evidence tx hashes for race-detected bans
	CreatedAt             time.Time
}

// Winner is one row in the winners table; the claim pipeline only consults
// the latest entry to validate auction freshness.
type Winner struct {
	AuctionID  string
	WinningURL string
	WonAt      time.Time
}

// SyntheticFID derives the negative pseudo-identity fid assigned to
// non-Farcaster users from a hash of their address. The value is stable for
// a given address and always negative, partitioning it away from real fids.
func SyntheticFID(address string) int64 {
	h := fnv.New64a()
	h.Write([]byte(strings.ToLower(address)))
	v := int64(h.Sum64() & 0x7fffffffffffffff)
	if v == 0 {
		v = 1
	}
	return -v
}
