package claim

// Code is the stable machine-readable error code surfaced to API clients
// and used to decide whether a failed claim is queued for retry. The
// retryable set is a closed list: legitimate user errors and detected bans
// must never consume retry-queue capacity.
type Code string

const (
	// User/gaming errors: rejected, never logged or queued.
	CodeInvalidAPIKey       Code = "INVALID_API_KEY"
	CodeInvalidClaimSource  Code = "INVALID_CLAIM_SOURCE"
	CodeMissingParameters   Code = "MISSING_PARAMETERS"
	CodeInvalidAuction      Code = "INVALID_AUCTION"
	CodeAlreadyClaimed      Code = "ALREADY_CLAIMED"
	CodeBannedUser          Code = "BANNED_USER"
	CodeAuthFailed          Code = "AUTH_FAILED"
	CodeWebUsernameRequired Code = "WEB_USERNAME_REQUIRED"
	CodeIPRateLimited       Code = "IP_RATE_LIMITED"
	CodeIPAuctionLimit      Code = "IP_AUCTION_LIMIT_EXCEEDED"
	CodeIPDailyLimit        Code = "IP_DAILY_LIMIT_EXCEEDED"
	CodeClaimInProgress     Code = "CLAIM_IN_PROGRESS"
	CodeIdentityMismatch    Code = "IDENTITY_MISMATCH"

	// Infrastructure transients: logged and queued for retry.
	CodeWalletPoolExhausted Code = "WALLET_POOL_EXHAUSTED"
	CodeInsufficientGas     Code = "INSUFFICIENT_GAS"
	CodeInsufficientTokens  Code = "INSUFFICIENT_TOKENS"
	CodeApprovalFailed      Code = "APPROVAL_FAILED"
	CodeTxFailed            Code = "TX_FAILED"
	CodeTxTimeout           Code = "TX_TIMEOUT"
	CodeUnexpectedError     Code = "UNEXPECTED_ERROR"

	// Terminal queue-side states.
	CodeMaxRetriesExceeded Code = "MAX_RETRIES_EXCEEDED"
)

// nonRetryable enumerates every code that must never be persisted to the
// failure log or enqueued. Anything outside this set is treated as a
// transient worth retrying, including unclassified errors.
var nonRetryable = map[Code]struct{}{
	CodeInvalidAPIKey:       {},
	CodeInvalidClaimSource:  {},
	CodeMissingParameters:   {},
	CodeInvalidAuction:      {},
	CodeAlreadyClaimed:      {},
	CodeBannedUser:          {},
	CodeAuthFailed:          {},
	CodeWebUsernameRequired: {},
	CodeIPRateLimited:       {},
	CodeIPAuctionLimit:      {},
	CodeIPDailyLimit:        {},
	CodeClaimInProgress:     {},
	CodeIdentityMismatch:    {},
	CodeMaxRetriesExceeded:  {},
}

// Retryable reports whether a failure carrying this code should be logged
// and queued for the batch processor.
func (c Code) Retryable() bool {
	_, blocked := nonRetryable[c]
	return !blocked
}
