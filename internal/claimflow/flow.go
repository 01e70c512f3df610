// Package claimflow orchestrates a single claim end to end: anti-fraud
// gating, distributed lock acquisition, the final duplicate re-check under
// lock, wallet checkout, amount resolution, on-chain execution, and
// recording. Locks are released only after the outcome is persisted, so a
// concurrent request for the same identity keeps seeing the lock until the
// database reflects the truth.
package claimflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/qrcoast/linkdrop/internal/claim"
	"github.com/qrcoast/linkdrop/internal/claimgate"
	"github.com/qrcoast/linkdrop/internal/claimlock"
	"github.com/qrcoast/linkdrop/internal/claimtier"
	"github.com/qrcoast/linkdrop/internal/pkg/logger"
	"github.com/qrcoast/linkdrop/internal/txexec"
	"github.com/qrcoast/linkdrop/internal/walletpool"
)

// tokenDecimals converts Record amounts (whole tokens) to base units.
var tokenDecimals = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// raceBanReason attributes bans created when two requests for the same
// identity both reach the chain despite the locks.
const raceBanReason = "race_condition_detector"

// ErrDuplicateRecord is returned by Recorder.RecordClaim when the insert
// hits the (address, auction) or (fid, auction) uniqueness constraint.
var ErrDuplicateRecord = errors.New("claim already recorded")

// Request is one inbound claim attempt.
type Request struct {
	claimgate.Request

	WinningURL string
}

// Result is a successful claim outcome. Duplicate is set when the race
// detector fired: the transaction went through, but another request for
// the same identity landed first.
type Result struct {
	TxHash         string
	Amount         int64
	Duplicate      bool
	OriginalTxHash string
	Warning        string
}

// Error is a claim rejection or failure carrying the taxonomy code and the
// HTTP status the transport layer should answer with.
type Error struct {
	Code    claim.Code
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Recorder persists claim outcomes.
type Recorder interface {
	// RecordClaim writes the completed claim, upgrading an existing
	// link-visit row for the same (fid, auction) when one exists. Returns
	// ErrDuplicateRecord on a uniqueness violation.
	RecordClaim(ctx context.Context, rec claim.Record) error

	// ClaimedByAddress returns the completed claim row for the address and
	// auction, or nil when none exists.
	ClaimedByAddress(ctx context.Context, address, auctionID string) (*claim.Record, error)

	// RecordLinkVisit upserts the visited-not-claimed row for the identity,
	// refreshing the visit timestamp. RecordClaim later upgrades the same
	// row on completion.
	RecordLinkVisit(ctx context.Context, fid int64, address, auctionID, winningURL string, source claim.Source) error
}

// BanWriter creates automatic bans.
type BanWriter interface {
	AutoBan(ctx context.Context, ban claim.Ban) error
}

// FailureSink receives execution failures. The sink decides whether the
// failure is queued for retry based on its error code.
type FailureSink interface {
	LogFailure(ctx context.Context, failure claim.Failure) error
}

// Service executes claims.
type Service interface {
	// Claim runs the full pipeline for one request.
	Claim(ctx context.Context, req Request) (Result, *Error)
}

type service struct {
	gate     claimgate.Service
	locker   claimlock.Locker
	pool     walletpool.Pool
	tier     claimtier.Service
	executor txexec.Executor
	recorder Recorder
	bans     BanWriter
	failures FailureSink
	lockTTL  time.Duration
}

var _ Service = (*service)(nil)

// Option customizes the claim service.
type Option func(*service)

// WithLockTTL overrides the identity lock TTL.
func WithLockTTL(ttl time.Duration) Option {
	return func(s *service) { s.lockTTL = ttl }
}

// New builds the claim orchestrator from its collaborators.
func New(
	gate claimgate.Service,
	locker claimlock.Locker,
	pool walletpool.Pool,
	tier claimtier.Service,
	executor txexec.Executor,
	recorder Recorder,
	bans BanWriter,
	failures FailureSink,
	opts ...Option,
) *service {
	s := &service{
		gate:     gate,
		locker:   locker,
		pool:     pool,
		tier:     tier,
		executor: executor,
		recorder: recorder,
		bans:     bans,
		failures: failures,
		lockTTL:  claimlock.DefaultTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// heldLock is one acquired identity lock pending release.
type heldLock struct {
	key   string
	token string
}

// Claim implements Service.
func (s *service) Claim(ctx context.Context, req Request) (Result, *Error) {
	ident, gerr := s.gate.Check(ctx, req.Request)
	if gerr != nil {
		return Result{}, &Error{Code: gerr.Code, Status: gerr.Status, Message: gerr.Message}
	}

	locks, lockErr := s.acquireLocks(ctx, ident, req)
	// Locks outlive the execution on purpose: they are dropped only once
	// the outcome is in the database, closing the window where a second
	// request could slip between chain success and the recorded row.
	defer s.releaseLocks(ctx, locks)
	if lockErr != nil {
		return Result{}, lockErr
	}

	existing, err := s.recorder.ClaimedByAddress(ctx, ident.Address, req.AuctionID)
	if err != nil {
		return Result{}, s.internalError(ctx, err)
	}
	if existing != nil && existing.Claimed() {
		return Result{}, &Error{
			Code:    claim.CodeAlreadyClaimed,
			Status:  http.StatusForbidden,
			Message: "tokens already claimed for this auction",
		}
	}

	return s.execute(ctx, ident, req)
}

// acquireLocks takes the identity locks in a fixed order: fid first for
// mini-app claims, then address, then username for web claims. A fixed
// order keeps two requests sharing any identity facet from deadlocking
// each other.
func (s *service) acquireLocks(ctx context.Context, ident claimgate.Identity, req Request) ([]heldLock, *Error) {
	var keys []string
	if req.Source == claim.SourceMiniApp {
		keys = append(keys, claimlock.FIDKey(ident.FID, req.AuctionID))
	}
	keys = append(keys, claimlock.AddressKey(ident.Address, req.AuctionID))
	if req.Source == claim.SourceWeb && ident.Username != nil {
		keys = append(keys, claimlock.UsernameKey(*ident.Username, req.AuctionID))
	}

	var held []heldLock
	for _, key := range keys {
		token, ok, err := s.locker.Acquire(ctx, key, s.lockTTL)
		if err != nil {
			return held, s.internalError(ctx, err)
		}
		if !ok {
			return held, &Error{
				Code:    claim.CodeClaimInProgress,
				Status:  http.StatusTooManyRequests,
				Message: "a claim for this identity is already being processed",
			}
		}
		held = append(held, heldLock{key: key, token: token})
	}
	return held, nil
}

func (s *service) releaseLocks(ctx context.Context, locks []heldLock) {
	for _, l := range locks {
		if err := s.locker.Release(ctx, l.key, l.token); err != nil && !errors.Is(err, claimlock.ErrNotHeld) {
			logger.Warn(ctx, "failed to release claim lock", "key", l.key, "error", err)
		}
	}
}

// execute runs the post-gate stages: wallet checkout, amount resolution,
// the airdrop itself, and recording.
func (s *service) execute(ctx context.Context, ident claimgate.Identity, req Request) (Result, *Error) {
	// The visit row is bookkeeping, not a gate: a write failure must not
	// block the claim itself.
	if err := s.recorder.RecordLinkVisit(ctx, ident.FID, ident.Address, req.AuctionID, req.WinningURL, req.Source); err != nil {
		logger.Warn(ctx, "failed to record link visit", "fid", ident.FID, "auction_id", req.AuctionID, "error", err)
	}

	wallet, ok := s.pool.DirectWallet(req.Source)
	if !ok {
		var err error
		wallet, err = s.pool.Acquire(ctx, req.Source)
		if errors.Is(err, walletpool.ErrPoolExhausted) {
			return Result{}, s.fail(ctx, ident, req, claim.CodeWalletPoolExhausted, err, "")
		}
		if err != nil {
			return Result{}, s.internalError(ctx, err)
		}
		defer func() {
			if relErr := s.pool.Release(ctx, wallet); relErr != nil {
				logger.Warn(ctx, "failed to release wallet", "wallet", wallet.Address, "error", relErr)
			}
		}()
	}

	resolution, err := s.tier.Resolve(ctx, claimtier.Identity{FID: ident.FID, Address: ident.Address}, req.Source)
	if err != nil {
		return Result{}, s.fail(ctx, ident, req, claim.CodeUnexpectedError, err, "")
	}

	txHash, err := s.executor.ExecuteAirdrop(ctx, txexec.Request{
		Signer:     txexec.Signer{Address: wallet.Address, PrivateKeyHex: wallet.PrivateKeyHex},
		Contract:   wallet.AirdropContract,
		Recipients: []string{ident.Address},
		Amounts:    []*big.Int{tokensToBase(resolution.Amount)},
	})
	if err != nil {
		return Result{}, s.fail(ctx, ident, req, executionCode(err), err, txHash)
	}

	record := s.buildRecord(ident, req, resolution, txHash)
	if err := s.recorder.RecordClaim(ctx, record); err != nil {
		if errors.Is(err, ErrDuplicateRecord) {
			return s.handleDuplicateRace(ctx, ident, req, txHash, resolution.Amount)
		}
		// The tokens moved but the row did not land. Surface the tx hash in
		// the failure record so operators can reconcile by hand.
		logger.Error(ctx, "claim executed but recording failed", "tx_hash", txHash, "error", err)
		return Result{}, s.fail(ctx, ident, req, claim.CodeUnexpectedError, err, txHash)
	}

	logger.Info(ctx, "claim completed",
		"fid", ident.FID,
		"address", ident.Address,
		"auction_id", req.AuctionID,
		"amount", resolution.Amount,
		"tx_hash", txHash,
	)
	return Result{TxHash: txHash, Amount: resolution.Amount}, nil
}

// handleDuplicateRace handles the insert losing to a concurrent claim that
// also reached the chain. The caller's transaction succeeded, so the
// response stays a success, flagged as a duplicate with the earlier hash,
// and the identity is auto-banned with both hashes as evidence.
func (s *service) handleDuplicateRace(ctx context.Context, ident claimgate.Identity, req Request, txHash string, amount int64) (Result, *Error) {
	var originalTx string
	if existing, err := s.recorder.ClaimedByAddress(ctx, ident.Address, req.AuctionID); err == nil && existing != nil && existing.TxHash != nil {
		originalTx = *existing.TxHash
	}

	ban := claim.Ban{
		FID:                   ident.FID,
		Username:              ident.Username,
		EthAddress:            &ident.Address,
		Reason:                raceBanReason,
		AutoBanned:            true,
		IPAddresses:           []string{req.ClientIP},
		DuplicateTransactions: []string{txHash, originalTx},
	}
	if err := s.bans.AutoBan(ctx, ban); err != nil {
		logger.Error(ctx, "failed to record race-condition ban", "fid", ident.FID, "error", err)
	}

	logger.Warn(ctx, "duplicate claim race detected",
		"fid", ident.FID,
		"address", ident.Address,
		"auction_id", req.AuctionID,
		"tx_hash", txHash,
		"original_tx", originalTx,
	)
	return Result{
		TxHash:         txHash,
		Amount:         amount,
		Duplicate:      true,
		OriginalTxHash: originalTx,
		Warning:        "duplicate claim detected; account flagged for review",
	}, nil
}

// fail logs the failure to the sink and converts it into the transport
// error. The sink decides retryability from the code.
func (s *service) fail(ctx context.Context, ident claimgate.Identity, req Request, code claim.Code, cause error, txHash string) *Error {
	failure := claim.Failure{
		FID:           ident.FID,
		EthAddress:    ident.Address,
		AuctionID:     req.AuctionID,
		Username:      ident.Username,
		UserID:        ident.UserID,
		WinningURL:    req.WinningURL,
		ErrorMessage:  cause.Error(),
		ErrorCode:     code,
		RequestData:   marshalRequest(req),
		ClientIP:      req.ClientIP,
		Source:        req.Source,
		NetworkStatus: networkStatus(cause),
	}
	if txHash != "" {
		failure.TxHash = &txHash
	}

	var execErr *txexec.ExecError
	if errors.As(cause, &execErr) {
		if execErr.GasPrice != nil {
			failure.GasPrice = execErr.GasPrice.String()
		}
		failure.GasLimit = strconv.FormatUint(execErr.GasLimit, 10)
	}

	if err := s.failures.LogFailure(ctx, failure); err != nil {
		logger.Error(ctx, "failed to log claim failure", "fid", ident.FID, "code", code, "error", err)
	}

	status := http.StatusInternalServerError
	if code == claim.CodeWalletPoolExhausted {
		status = http.StatusServiceUnavailable
	}
	return &Error{Code: code, Status: status, Message: cause.Error()}
}

func (s *service) buildRecord(ident claimgate.Identity, req Request, res claimtier.Resolution, txHash string) claim.Record {
	now := time.Now().UTC()
	record := claim.Record{
		FID:             ident.FID,
		EthAddress:      ident.Address,
		AuctionID:       req.AuctionID,
		Username:        ident.Username,
		UserID:          ident.UserID,
		WinningURL:      req.WinningURL,
		Source:          req.Source,
		Amount:          res.Amount,
		TxHash:          &txHash,
		ClaimedAt:       &now,
		ClientIP:        req.ClientIP,
		NeynarUserScore: res.NeynarScore,
		SpamLabel:       res.SpamLabel,
	}
	if req.Source == claim.SourceMiniApp && req.ClientFID != 0 {
		client := strconv.FormatInt(req.ClientFID, 10)
		record.MiniAppClient = &client
	}
	return record
}

func (s *service) internalError(ctx context.Context, err error) *Error {
	logger.Error(ctx, "unexpected claim pipeline error", "error", err)
	return &Error{
		Code:    claim.CodeUnexpectedError,
		Status:  http.StatusInternalServerError,
		Message: "internal error",
	}
}

// executionCode maps tagged executor errors onto the failure taxonomy.
func executionCode(err error) claim.Code {
	switch {
	case errors.Is(err, txexec.ErrApprovalFailed):
		return claim.CodeApprovalFailed
	case errors.Is(err, txexec.ErrInsufficientGas):
		return claim.CodeInsufficientGas
	case errors.Is(err, txexec.ErrInsufficientTokens):
		return claim.CodeInsufficientTokens
	case errors.Is(err, txexec.ErrTxTimeout):
		return claim.CodeTxTimeout
	default:
		return claim.CodeTxFailed
	}
}

// networkStatus summarizes RPC health at failure time for the failure row.
func networkStatus(err error) string {
	switch {
	case errors.Is(err, txexec.ErrNetwork):
		return "unreachable"
	case errors.Is(err, txexec.ErrTxTimeout):
		return "degraded"
	default:
		return "ok"
	}
}

// tokensToBase converts whole-token amounts to 18-decimal base units.
func tokensToBase(amount int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(amount), tokenDecimals)
}

// marshalRequest serializes the request for the failure record, dropping
// auth tokens.
func marshalRequest(req Request) string {
	data, err := json.Marshal(map[string]any{
		"fid":         req.FID,
		"address":     req.Address,
		"auction_id":  req.AuctionID,
		"username":    req.Username,
		"source":      req.Source,
		"winning_url": req.WinningURL,
	})
	if err != nil {
		return ""
	}
	return string(data)
}
