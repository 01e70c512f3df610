package ethereum

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/qrcoast/linkdrop/internal/txexec"
)

// errorTags maps provider message fragments to tagged errors. go-ethereum
// surfaces node failures as opaque strings, so this substring table is the
// one place in the codebase allowed to match on them. Order matters: the
// first matching fragment wins.
var errorTags = []struct {
	fragment string
	tag      error
}{
	{"replacement transaction underpriced", txexec.ErrReplacementUnderpriced},
	{"nonce too low", txexec.ErrNonceConflict},
	{"nonce too high", txexec.ErrNonceConflict},
	{"already known", txexec.ErrNonceConflict},
	{"execution reverted", txexec.ErrExecutionReverted},
	{"insufficient funds", txexec.ErrInsufficientGas},
	{"gas required exceeds allowance", txexec.ErrInsufficientGas},
}

// translateError converts a raw provider error into a tagged txexec error,
// preserving the original message for logging. Unrecognized failures are
// tagged as network errors, which keeps them retryable.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", txexec.ErrTxTimeout, err)
	}

	msg := strings.ToLower(err.Error())
	for _, entry := range errorTags {
		if strings.Contains(msg, entry.fragment) {
			return fmt.Errorf("%w: %s", entry.tag, err)
		}
	}

	return fmt.Errorf("%w: %s", txexec.ErrNetwork, err)
}
