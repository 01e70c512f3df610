package ethereum

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/qrcoast/linkdrop/internal/txexec"
)

func TestTranslateError(t *testing.T) {
	t.Run("nil passes through", func(t *testing.T) {
		assert.NoError(t, translateError(nil))
	})

	t.Run("context deadline becomes a timeout", func(t *testing.T) {
		err := translateError(fmt.Errorf("rpc call: %w", context.DeadlineExceeded))
		assert.ErrorIs(t, err, txexec.ErrTxTimeout)
	})

	t.Run("known provider fragments map to their tags", func(t *testing.T) {
		for _, tc := range []struct {
			message string
			want    error
		}{
			{message: "replacement transaction underpriced", want: txexec.ErrReplacementUnderpriced},
			{message: "nonce too low", want: txexec.ErrNonceConflict},
			{message: "nonce too high: expected 5, got 3", want: txexec.ErrNonceConflict},
			{message: "already known", want: txexec.ErrNonceConflict},
			{message: "execution reverted: ERC20: transfer amount exceeds balance", want: txexec.ErrExecutionReverted},
			{message: "insufficient funds for gas * price + value", want: txexec.ErrInsufficientGas},
			{message: "gas required exceeds allowance (21000)", want: txexec.ErrInsufficientGas},
		} {
			t.Run(tc.message, func(t *testing.T) {
				err := translateError(errors.New(tc.message))
				assert.ErrorIs(t, err, tc.want)
			})
		}
	})

	t.Run("matching is case-insensitive", func(t *testing.T) {
		err := translateError(errors.New("Execution Reverted"))
		assert.ErrorIs(t, err, txexec.ErrExecutionReverted)
	})

	t.Run("the original message is preserved", func(t *testing.T) {
		err := translateError(errors.New("nonce too low: next is 42"))
		assert.Contains(t, err.Error(), "next is 42")
	})

	t.Run("unrecognized failures are retryable network errors", func(t *testing.T) {
		err := translateError(errors.New("connection refused"))
		assert.ErrorIs(t, err, txexec.ErrNetwork)
		assert.True(t, txexec.Transient(err))
	})
}
