package txexec

import (
	"errors"
	"math/big"
)

// Tagged transaction errors. The chain adapter translates opaque provider
// failures into exactly one of these; substring matching on provider
// messages happens only at that boundary, never here.
var (
	// ErrInsufficientGas means the signing wallet's native balance is below
	// the gas buffer required to submit.
	ErrInsufficientGas = errors.New("insufficient native balance for gas")

	// ErrInsufficientTokens means the signing wallet does not hold enough
	// of the airdrop token to cover the request.
	ErrInsufficientTokens = errors.New("insufficient token balance")

	// ErrNonceConflict covers nonce-already-used and pending-replacement
	// collisions from concurrent use of a wallet.
	ErrNonceConflict = errors.New("nonce conflict")

	// ErrReplacementUnderpriced means a replacement transaction's fee was
	// too low to displace the pending one.
	ErrReplacementUnderpriced = errors.New("replacement transaction underpriced")

	// ErrExecutionReverted means the contract call reverted.
	ErrExecutionReverted = errors.New("execution reverted")

	// ErrApprovalFailed marks failures of the allowance-approval step, as
	// opposed to the airdrop submission itself.
	ErrApprovalFailed = errors.New("token approval failed")

	// ErrTxTimeout means the receipt wait elapsed. This is a client-side
	// wait failure, not proof the transaction failed; callers must
	// reconcile against the chain before treating it as terminal.
	ErrTxTimeout = errors.New("transaction confirmation timed out")

	// ErrNetwork covers transport-level failures reaching the RPC endpoint.
	ErrNetwork = errors.New("network error")

	// ErrPermanent marks failures that retrying cannot fix.
	ErrPermanent = errors.New("permanent transaction failure")
)

// transientErrors is the closed allow-list of errors worth retrying with an
// escalated gas price. Everything else fails immediately.
var transientErrors = []error{
	ErrNonceConflict,
	ErrReplacementUnderpriced,
	ErrExecutionReverted,
	ErrTxTimeout,
	ErrNetwork,
}

// Transient reports whether err belongs to the retryable allow-list.
func Transient(err error) bool {
	for _, t := range transientErrors {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}

// ExecError wraps a submission failure with the gas parameters of the last
// attempt so failure records can capture them. It is transparent to
// errors.Is and errors.As via Unwrap.
type ExecError struct {
	GasPrice *big.Int
	GasLimit uint64
	Err      error
}

func (e *ExecError) Error() string { return e.Err.Error() }

func (e *ExecError) Unwrap() error { return e.Err }
