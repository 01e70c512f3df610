// Package claimgate implements the sequential anti-fraud checks every claim
// request passes before any lock is taken or transaction built. Checks are
// short-circuiting: the first failure produces a terminal GateError carrying
// the stable error code and HTTP status for the response.
package claimgate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/qrcoast/linkdrop/internal/claim"
	"github.com/qrcoast/linkdrop/internal/pkg/logger"
	"github.com/qrcoast/linkdrop/internal/pkg/types"
)

// ErrNoWinner is returned by WinnerReader implementations when the winners
// table is empty.
var ErrNoWinner = errors.New("no won auction recorded")

// Fixed-window rate limits per source, requests per window.
const (
	rateWindow        = 60 * time.Second
	rateLimitWeb      = 2
	rateLimitMiniApp  = 3
	ipAuctionQuota    = 3 // successful claims per IP per auction (web/mobile)
	ipDailyQuota      = 5 // successful claims per IP per rolling 24h (web/mobile)
	ipDailyQuotaSince = 24 * time.Hour
)

// GateError is a terminal rejection from the gate. Status is the HTTP
// status the handler should answer with; Code is the stable response code.
type GateError struct {
	Code    claim.Code
	Status  int
	Message string
}

func (e *GateError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Request is the normalized claim request evaluated by the gate.
type Request struct {
	FID          int64 // zero when the client did not supply one
	Address      string
	AuctionID    string
	Username     string // client-supplied; trusted only for mini-app after token match
	Source       claim.Source
	ClientIP     string
	MiniAppToken string
	PrivyToken   string
	WalletHint   string
	ClientFID    int64
}

// Identity is the verified identity the gate resolves for a passing
// request. Downstream stages must use these values, never the raw request's.
type Identity struct {
	FID      int64   // synthetic negative fid for web users
	Address  string  // lowercased
	Username *string // verified Twitter username for web, token fid's name for mini-app
	UserID   *string // Privy user id, web only
}

// RateLimiter counts hits against a fixed window.
type RateLimiter interface {
	// Hit increments the counter for key, starting a new window of the
	// given duration when none is active, and returns the updated count.
	Hit(ctx context.Context, key string, window time.Duration) (int64, error)
}

// ClaimReader exposes the duplicate and quota lookups the gate performs
// against the claims table.
type ClaimReader interface {
	// ClaimedByAddress returns the completed claim for (address, auction),
	// or nil when none exists.
	ClaimedByAddress(ctx context.Context, address, auctionID string) (*claim.Record, error)

	// ClaimedByFID returns the completed claim for (fid, auction), or nil.
	ClaimedByFID(ctx context.Context, fid int64, auctionID string) (*claim.Record, error)

	// ClaimedByUsername returns the completed claim for (username, auction),
	// or nil. Username matching is case-insensitive.
	ClaimedByUsername(ctx context.Context, username, auctionID string) (*claim.Record, error)

	// CountClaimsByIPForAuction counts completed claims from ip in one auction.
	CountClaimsByIPForAuction(ctx context.Context, ip, auctionID string) (int, error)

	// CountClaimsByIPSince counts completed claims from ip after the cutoff.
	CountClaimsByIPSince(ctx context.Context, ip string, since time.Time) (int, error)
}

// BanReader looks up and annotates ban records.
type BanReader interface {
	// FindBan fans out over fid (when positive), the username variants, and
	// the lowercased address, returning the first matching ban or nil.
	FindBan(ctx context.Context, fid int64, usernameVariants []string, address string) (*claim.Ban, error)

	// RecordBlockedAttempt bumps the attempt counter on an existing ban and
	// appends the IP to its address list.
	RecordBlockedAttempt(ctx context.Context, fid int64, ip string) error
}

// WinnerReader resolves the single latest won auction.
type WinnerReader interface {
	// LatestWinner returns the most recent winners row, or ErrNoWinner.
	LatestWinner(ctx context.Context) (*claim.Winner, error)
}

// MiniAppIdentity is the payload of a verified mini-app signed token.
type MiniAppIdentity struct {
	FID       int64
	Address   string
	ClientFID int64
}

// MiniAppVerifier validates mini-app signed tokens.
type MiniAppVerifier interface {
	VerifyToken(ctx context.Context, token string) (MiniAppIdentity, error)
}

// WebIdentity is the result of Privy token introspection for web users.
type WebIdentity struct {
	UserID          string
	TwitterUsername string // empty when the account has no verified Twitter link
}

// WebVerifier introspects Privy bearer tokens.
type WebVerifier interface {
	VerifyToken(ctx context.Context, token string) (WebIdentity, error)
}

// AddressOwnershipVerifier confirms a claimed Farcaster identity plausibly
// controls the given address (Neynar-backed for mini-app claims).
type AddressOwnershipVerifier interface {
	VerifyAddressOwnership(ctx context.Context, fid int64, address, walletHint string) (bool, error)
}

// service wires the gate's collaborators.
type service struct {
	rateLimiter RateLimiter
	claims      ClaimReader
	bans        BanReader
	winners     WinnerReader
	miniApp     MiniAppVerifier
	web         WebVerifier
	ownership   AddressOwnershipVerifier

	// deniedUsernames are hard-banned independently of the ban table.
	deniedUsernames types.Set[string]
}

// Service evaluates claim requests against the full anti-fraud check chain.
type Service interface {
	// Check runs every gate stage in order. On success it returns the
	// verified identity; on failure, a terminal GateError.
	Check(ctx context.Context, req Request) (Identity, *GateError)
}

var _ Service = (*service)(nil)

// Option customizes the gate service.
type Option func(*service)

// WithDeniedUsernames installs the hardcoded username denylist. Entries are
// normalized (lowercase, no "@") before comparison.
func WithDeniedUsernames(usernames ...string) Option {
	return func(s *service) {
		for _, u := range usernames {
			s.deniedUsernames.Add(normalizeUsername(u))
		}
	}
}

// New builds the gate service from its collaborators.
func New(
	rl RateLimiter,
	claims ClaimReader,
	bans BanReader,
	winners WinnerReader,
	miniApp MiniAppVerifier,
	web WebVerifier,
	ownership AddressOwnershipVerifier,
	opts ...Option,
) *service {
	s := &service{
		rateLimiter:     rl,
		claims:          claims,
		bans:            bans,
		winners:         winners,
		miniApp:         miniApp,
		web:             web,
		ownership:       ownership,
		deniedUsernames: types.NewSet[string](),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Check implements Service. The stage order mirrors the production flow:
// cheap request-shape checks first, then rate limits and quotas, then the
// duplicate pre-check, then authentication, bans, auction freshness, and
// finally the mini-app ownership verification.
func (s *service) Check(ctx context.Context, req Request) (Identity, *GateError) {
	if !req.Source.Valid() {
		return Identity{}, &GateError{Code: claim.CodeInvalidClaimSource, Status: 400, Message: "invalid claim_source"}
	}
	if req.Address == "" || req.AuctionID == "" {
		return Identity{}, &GateError{Code: claim.CodeMissingParameters, Status: 400, Message: "address and auction_id are required"}
	}

	if gerr := s.checkRateLimit(ctx, req); gerr != nil {
		return Identity{}, gerr
	}

	if req.Source != claim.SourceMiniApp {
		if gerr := s.checkIPQuotas(ctx, req); gerr != nil {
			return Identity{}, gerr
		}
	}

	// Pre-authentication duplicate check by address. Any completed row for
	// this address and auction is terminal regardless of identity.
	address := strings.ToLower(req.Address)
	existing, err := s.claims.ClaimedByAddress(ctx, address, req.AuctionID)
	if err != nil {
		return Identity{}, internalGateError(err)
	}
	if existing != nil {
		return Identity{}, &GateError{Code: claim.CodeAlreadyClaimed, Status: 400, Message: "tokens already claimed for this auction"}
	}

	identity, gerr := s.authenticate(ctx, req)
	if gerr != nil {
		return Identity{}, gerr
	}

	if gerr := s.checkIdentityDuplicates(ctx, identity, req.AuctionID); gerr != nil {
		return Identity{}, gerr
	}

	if gerr := s.checkBans(ctx, req, identity); gerr != nil {
		return Identity{}, gerr
	}

	if gerr := s.checkAuctionFreshness(ctx, req.AuctionID); gerr != nil {
		return Identity{}, gerr
	}

	if req.Source == claim.SourceMiniApp {
		ok, err := s.ownership.VerifyAddressOwnership(ctx, identity.FID, identity.Address, req.WalletHint)
		if err != nil {
			return Identity{}, internalGateError(err)
		}
		if !ok {
			return Identity{}, &GateError{Code: claim.CodeIdentityMismatch, Status: 403, Message: "address not verified for this account"}
		}
	}

	return identity, nil
}

// checkRateLimit enforces the fixed 60-second request window per IP.
func (s *service) checkRateLimit(ctx context.Context, req Request) *GateError {
	limit := int64(rateLimitWeb)
	if req.Source == claim.SourceMiniApp {
		limit = rateLimitMiniApp
	}

	key := fmt.Sprintf("claim:rate:%s:%s", req.Source, req.ClientIP)
	count, err := s.rateLimiter.Hit(ctx, key, rateWindow)
	if err != nil {
		return internalGateError(err)
	}
	if count > limit {
		return &GateError{Code: claim.CodeIPRateLimited, Status: 429, Message: "too many requests, slow down"}
	}
	return nil
}

// checkIPQuotas enforces the per-auction and rolling-24h successful-claim
// quotas for web and mobile claims.
func (s *service) checkIPQuotas(ctx context.Context, req Request) *GateError {
	perAuction, err := s.claims.CountClaimsByIPForAuction(ctx, req.ClientIP, req.AuctionID)
	if err != nil {
		return internalGateError(err)
	}
	if perAuction >= ipAuctionQuota {
		return &GateError{Code: claim.CodeIPAuctionLimit, Status: 429, Message: "claim limit reached for this auction from your network"}
	}

	daily, err := s.claims.CountClaimsByIPSince(ctx, req.ClientIP, time.Now().Add(-ipDailyQuotaSince))
	if err != nil {
		return internalGateError(err)
	}
	if daily >= ipDailyQuota {
		return &GateError{Code: claim.CodeIPDailyLimit, Status: 429, Message: "daily claim limit reached from your network"}
	}
	return nil
}

// authenticate resolves the verified identity for the request. Mini-app
// claims must present a signed token whose fid and address match the
// request; web claims must present a Privy token resolving to a verified
// Twitter username. No user-supplied username is trusted for web.
func (s *service) authenticate(ctx context.Context, req Request) (Identity, *GateError) {
	address := strings.ToLower(req.Address)

	switch req.Source {
	case claim.SourceMiniApp:
		if req.MiniAppToken == "" {
			return Identity{}, &GateError{Code: claim.CodeAuthFailed, Status: 401, Message: "mini-app token required"}
		}
		ident, err := s.miniApp.VerifyToken(ctx, req.MiniAppToken)
		if err != nil {
			return Identity{}, &GateError{Code: claim.CodeAuthFailed, Status: 401, Message: "mini-app token invalid"}
		}
		if ident.FID != req.FID || !strings.EqualFold(ident.Address, req.Address) {
			return Identity{}, &GateError{Code: claim.CodeAuthFailed, Status: 401, Message: "token identity does not match request"}
		}
		out := Identity{FID: ident.FID, Address: address}
		if req.Username != "" {
			u := normalizeUsername(req.Username)
			out.Username = &u
		}
		return out, nil

	case claim.SourceWeb:
		if req.PrivyToken == "" {
			return Identity{}, &GateError{Code: claim.CodeAuthFailed, Status: 401, Message: "authorization token required"}
		}
		ident, err := s.web.VerifyToken(ctx, req.PrivyToken)
		if err != nil {
			return Identity{}, &GateError{Code: claim.CodeAuthFailed, Status: 401, Message: "authorization token invalid"}
		}
		if ident.TwitterUsername == "" {
			return Identity{}, &GateError{Code: claim.CodeWebUsernameRequired, Status: 400, Message: "a verified Twitter account is required to claim"}
		}
		username := normalizeUsername(ident.TwitterUsername)
		userID := ident.UserID
		return Identity{
			FID:      claim.SyntheticFID(address),
			Address:  address,
			Username: &username,
			UserID:   &userID,
		}, nil

	default: // mobile: address-only auth, synthetic fid
		return Identity{FID: claim.SyntheticFID(address), Address: address}, nil
	}
}

// checkIdentityDuplicates repeats the duplicate check on the facets only
// known after authentication. Synthetic (negative) fids are derived from the
// address and already covered by the address pre-check, so only real fids
// are looked up.
func (s *service) checkIdentityDuplicates(ctx context.Context, identity Identity, auctionID string) *GateError {
	if identity.FID > 0 {
		existing, err := s.claims.ClaimedByFID(ctx, identity.FID, auctionID)
		if err != nil {
			return internalGateError(err)
		}
		if existing != nil {
			return &GateError{Code: claim.CodeAlreadyClaimed, Status: 400, Message: "tokens already claimed for this auction"}
		}
	}

	if identity.Username != nil && *identity.Username != "" {
		existing, err := s.claims.ClaimedByUsername(ctx, *identity.Username, auctionID)
		if err != nil {
			return internalGateError(err)
		}
		if existing != nil {
			return &GateError{Code: claim.CodeAlreadyClaimed, Status: 400, Message: "tokens already claimed for this auction"}
		}
	}

	return nil
}

// checkAuctionFreshness rejects claims for anything but the single latest
// won auction. Stale or future ids are user/gaming errors, never queued.
func (s *service) checkAuctionFreshness(ctx context.Context, auctionID string) *GateError {
	latest, err := s.winners.LatestWinner(ctx)
	if err != nil {
		if errors.Is(err, ErrNoWinner) {
			return &GateError{Code: claim.CodeInvalidAuction, Status: 400, Message: "no auction is currently claimable"}
		}
		return internalGateError(err)
	}
	if latest.AuctionID != auctionID {
		return &GateError{Code: claim.CodeInvalidAuction, Status: 400, Message: "auction is not the latest won auction"}
	}
	return nil
}

// internalGateError wraps unexpected collaborator failures. These are the
// only gate errors that are retryable.
func internalGateError(err error) *GateError {
	return &GateError{Code: claim.CodeUnexpectedError, Status: 500, Message: err.Error()}
}

// normalizeUsername lowercases and strips a leading "@".
func normalizeUsername(username string) string {
	return strings.TrimPrefix(strings.ToLower(username), "@")
}

// logBlockedAttempt records gate rejections against existing bans without
// failing the request path.
func (s *service) logBlockedAttempt(ctx context.Context, fid int64, ip string) {
	if err := s.bans.RecordBlockedAttempt(ctx, fid, ip); err != nil {
		logger.Warn(ctx, "failed to record blocked claim attempt", "fid", fid, "error", err)
	}
}
