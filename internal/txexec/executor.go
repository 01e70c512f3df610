// Package txexec orchestrates airdrop transaction submission: balance and
// allowance preconditions, gas escalation across retries, and the
// timeout-then-reconcile discipline that distinguishes "we stopped waiting"
// from "the transaction failed".
package txexec

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common/math"

	"github.com/qrcoast/linkdrop/internal/pkg/logger"
)

const (
	// defaultReceiptTimeout bounds the receipt wait for one attempt.
	defaultReceiptTimeout = 45 * time.Second

	// defaultAttempts is the total submission attempts, including the first.
	defaultAttempts = 3

	// defaultGasLimit is fixed high; airdrop batches vary widely in size
	// and underestimating burns an attempt.
	defaultGasLimit = uint64(5_000_000)

	// gasBumpPercent escalates the gas price on each retry attempt.
	gasBumpPercent = 20
)

// defaultMinGasWei is the required native balance buffer (0.001 ETH).
var defaultMinGasWei = big.NewInt(1_000_000_000_000_000)

// Signer is the wallet submitting a transaction.
type Signer struct {
	Address       string
	PrivateKeyHex string
}

// Receipt is the final on-chain status of a transaction.
type Receipt struct {
	TxHash  string
	Success bool
}

// Chain is the EVM access surface the executor depends on. The ethereum
// infra adapter implements it and owns all provider-error translation.
type Chain interface {
	// NativeBalance returns the wei balance of address.
	NativeBalance(ctx context.Context, address string) (*big.Int, error)

	// TokenBalance returns the airdrop-token balance of owner.
	TokenBalance(ctx context.Context, owner string) (*big.Int, error)

	// Allowance returns the airdrop-token allowance owner has granted spender.
	Allowance(ctx context.Context, owner, spender string) (*big.Int, error)

	// Approve submits an ERC-20 approve and returns the transaction hash.
	Approve(ctx context.Context, signer Signer, spender string, amount, gasPrice *big.Int) (string, error)

	// Airdrop submits the multi-recipient airdrop call on contract. The
	// nonce is fetched fresh inside the adapter immediately before signing.
	Airdrop(ctx context.Context, signer Signer, contract string, recipients []string, amounts []*big.Int, gasPrice *big.Int, gasLimit uint64) (string, error)

	// WaitReceipt blocks until txHash is mined or ctx expires. A context
	// deadline surfaces as ErrTxTimeout.
	WaitReceipt(ctx context.Context, txHash string) (Receipt, error)

	// ReceiptStatus performs a single immediate receipt query, used to
	// reconcile after a wait timeout. found is false while the transaction
	// is still unmined.
	ReceiptStatus(ctx context.Context, txHash string) (found bool, success bool, err error)

	// SuggestGasPrice returns the node's current gas price estimate.
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
}

// Request describes one airdrop submission: a signer, the contract to call,
// and parallel recipient/amount slices.
type Request struct {
	Signer     Signer
	Contract   string
	Recipients []string
	Amounts    []*big.Int
}

// total sums the request's amounts.
func (r Request) total() *big.Int {
	sum := new(big.Int)
	for _, a := range r.Amounts {
		sum.Add(sum, a)
	}
	return sum
}

// Executor submits airdrop transactions with retry and reconciliation.
type Executor interface {
	// ExecuteAirdrop runs the full precondition-and-submit sequence and
	// returns the hash of the mined transaction. Errors are members of this
	// package's tagged set.
	ExecuteAirdrop(ctx context.Context, req Request) (string, error)
}

type executor struct {
	chain          Chain
	receiptTimeout time.Duration
	attempts       int
	gasLimit       uint64
	minGasWei      *big.Int
}

var _ Executor = (*executor)(nil)

// Option customizes the executor.
type Option func(*executor)

// WithReceiptTimeout overrides the per-attempt receipt wait.
func WithReceiptTimeout(d time.Duration) Option {
	return func(e *executor) { e.receiptTimeout = d }
}

// WithAttempts overrides the total submission attempts.
func WithAttempts(n int) Option {
	return func(e *executor) { e.attempts = n }
}

// WithGasLimit overrides the fixed gas limit.
func WithGasLimit(limit uint64) Option {
	return func(e *executor) { e.gasLimit = limit }
}

// New builds an Executor over the given chain access.
func New(chain Chain, opts ...Option) *executor {
	e := &executor{
		chain:          chain,
		receiptTimeout: defaultReceiptTimeout,
		attempts:       defaultAttempts,
		gasLimit:       defaultGasLimit,
		minGasWei:      defaultMinGasWei,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExecuteAirdrop implements Executor.
func (e *executor) ExecuteAirdrop(ctx context.Context, req Request) (string, error) {
	if len(req.Recipients) == 0 || len(req.Recipients) != len(req.Amounts) {
		return "", fmt.Errorf("%w: malformed airdrop request", ErrPermanent)
	}

	total := req.total()
	if err := e.checkPreconditions(ctx, req, total); err != nil {
		return "", err
	}

	if err := e.ensureAllowance(ctx, req, total); err != nil {
		return "", err
	}

	return e.submitWithRetry(ctx, req)
}

// checkPreconditions verifies the signer can pay for gas and holds enough
// tokens to cover the request.
func (e *executor) checkPreconditions(ctx context.Context, req Request, total *big.Int) error {
	native, err := e.chain.NativeBalance(ctx, req.Signer.Address)
	if err != nil {
		return err
	}
	if native.Cmp(e.minGasWei) < 0 {
		return fmt.Errorf("%w: signer %s holds %s wei", ErrInsufficientGas, req.Signer.Address, native)
	}

	tokens, err := e.chain.TokenBalance(ctx, req.Signer.Address)
	if err != nil {
		return err
	}
	if tokens.Cmp(total) < 0 {
		return fmt.Errorf("%w: need %s, have %s", ErrInsufficientTokens, total, tokens)
	}
	return nil
}

// ensureAllowance approves the airdrop contract when the current allowance
// is insufficient, granting the maximum allowance so subsequent batches skip
// the approval transaction entirely. The approve has its own receipt
// timeout; on timeout the allowance is re-checked on-chain before giving up,
// since the approval may have landed anyway.
func (e *executor) ensureAllowance(ctx context.Context, req Request, total *big.Int) error {
	allowance, err := e.chain.Allowance(ctx, req.Signer.Address, req.Contract)
	if err != nil {
		return err
	}
	if allowance.Cmp(total) >= 0 {
		return nil
	}

	gasPrice, err := e.chain.SuggestGasPrice(ctx)
	if err != nil {
		return err
	}

	txHash, err := e.chain.Approve(ctx, req.Signer, req.Contract, math.MaxBig256, gasPrice)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrApprovalFailed, err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, e.receiptTimeout)
	defer cancel()

	receipt, err := e.chain.WaitReceipt(waitCtx, txHash)
	if err != nil {
		if !errors.Is(err, ErrTxTimeout) {
			return err
		}

		// The wait expired; the approval may still have landed.
		allowance, recheckErr := e.chain.Allowance(ctx, req.Signer.Address, req.Contract)
		if recheckErr != nil {
			return recheckErr
		}
		if allowance.Cmp(total) < 0 {
			return fmt.Errorf("%w: unconfirmed: %w", ErrApprovalFailed, ErrTxTimeout)
		}

		logger.Warn(ctx, "approval confirmed after wait timeout", "tx_hash", txHash)
		return nil
	}
	if !receipt.Success {
		return fmt.Errorf("%w: reverted: %w", ErrApprovalFailed, ErrExecutionReverted)
	}
	return nil
}

// submitWithRetry submits the airdrop up to e.attempts times, escalating
// the gas price by gasBumpPercent on each retry. Only tagged transient
// errors are retried; everything else fails immediately.
func (e *executor) submitWithRetry(ctx context.Context, req Request) (string, error) {
	basePrice, err := e.chain.SuggestGasPrice(ctx)
	if err != nil {
		return "", err
	}

	var (
		lastErr      error
		lastGasPrice *big.Int
	)
	for attempt := 0; attempt < e.attempts; attempt++ {
		gasPrice := escalatedGasPrice(basePrice, attempt)
		lastGasPrice = gasPrice

		txHash, err := e.chain.Airdrop(ctx, req.Signer, req.Contract, req.Recipients, req.Amounts, gasPrice, e.gasLimit)
		if err != nil {
			if !Transient(err) {
				return "", e.execError(gasPrice, err)
			}
			lastErr = err
			continue
		}

		receipt, err := e.confirm(ctx, txHash)
		if err == nil {
			if !receipt.Success {
				lastErr = fmt.Errorf("airdrop tx %s reverted: %w", txHash, ErrExecutionReverted)
				continue
			}
			return txHash, nil
		}
		if !Transient(err) {
			return "", e.execError(gasPrice, err)
		}
		lastErr = err

		logger.Warn(ctx, "airdrop attempt failed, escalating gas",
			"attempt", attempt+1,
			"gas_price", gasPrice.String(),
			"error", err,
		)
	}

	return "", e.execError(lastGasPrice, lastErr)
}

// execError attaches the submission's gas parameters to err.
func (e *executor) execError(gasPrice *big.Int, err error) error {
	return &ExecError{GasPrice: gasPrice, GasLimit: e.gasLimit, Err: err}
}

// confirm waits for the receipt, and on timeout re-queries the chain once
// before reporting failure: a wait timeout only proves the client stopped
// waiting, not that the transaction missed the chain.
func (e *executor) confirm(ctx context.Context, txHash string) (Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, e.receiptTimeout)
	defer cancel()

	receipt, err := e.chain.WaitReceipt(waitCtx, txHash)
	if err == nil {
		return receipt, nil
	}
	if !errors.Is(err, ErrTxTimeout) {
		return Receipt{}, err
	}

	found, success, statusErr := e.chain.ReceiptStatus(ctx, txHash)
	if statusErr != nil {
		return Receipt{}, statusErr
	}
	if found {
		logger.Warn(ctx, "transaction confirmed after wait timeout", "tx_hash", txHash, "success", success)
		return Receipt{TxHash: txHash, Success: success}, nil
	}

	return Receipt{}, fmt.Errorf("tx %s unconfirmed: %w", txHash, ErrTxTimeout)
}

// escalatedGasPrice bumps base by gasBumpPercent per retry attempt.
func escalatedGasPrice(base *big.Int, attempt int) *big.Int {
	price := new(big.Int).Set(base)
	for i := 0; i < attempt; i++ {
		bump := new(big.Int).Div(new(big.Int).Mul(price, big.NewInt(gasBumpPercent)), big.NewInt(100))
		price.Add(price, bump)
	}
	return price
}
