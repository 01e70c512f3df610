package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/qrcoast/linkdrop/internal/claimtier"
	"github.com/qrcoast/linkdrop/internal/txexec"
)

// NativeBalance implements the txexec.Chain interface.
func (c *client) NativeBalance(ctx context.Context, address string) (*big.Int, error) {
	balance, err := c.conn.BalanceAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		return nil, translateError(err)
	}
	return balance, nil
}

// TokenBalance implements both the txexec.Chain and claimtier.HoldingsReader
// interfaces, reading the airdrop token's balanceOf for owner.
func (c *client) TokenBalance(ctx context.Context, owner string) (*big.Int, error) {
	return c.callUint256(ctx, "balanceOf", common.HexToAddress(owner))
}

// Allowance implements the txexec.Chain interface.
func (c *client) Allowance(ctx context.Context, owner, spender string) (*big.Int, error) {
	return c.callUint256(ctx, "allowance", common.HexToAddress(owner), common.HexToAddress(spender))
}

// Approve implements the txexec.Chain interface, submitting an ERC-20
// approve from the signer to the spender contract.
func (c *client) Approve(ctx context.Context, signer txexec.Signer, spender string, amount, gasPrice *big.Int) (string, error) {
	input, err := c.erc20ABI.Pack("approve", common.HexToAddress(spender), amount)
	if err != nil {
		return "", fmt.Errorf("packing approve call: %w", err)
	}

	return c.submit(ctx, signer, c.token, input, gasPrice, approveGasLimit)
}

// Airdrop implements the txexec.Chain interface, submitting one grouped
// disperse transaction through the airdrop contract.
func (c *client) Airdrop(ctx context.Context, signer txexec.Signer, contract string, recipients []string, amounts []*big.Int, gasPrice *big.Int, gasLimit uint64) (string, error) {
	addresses := make([]common.Address, len(recipients))
	for i, r := range recipients {
		addresses[i] = common.HexToAddress(r)
	}

	input, err := c.airdropABI.Pack("airdrop", c.token, addresses, amounts)
	if err != nil {
		return "", fmt.Errorf("packing airdrop call: %w", err)
	}

	return c.submit(ctx, signer, common.HexToAddress(contract), input, gasPrice, gasLimit)
}

// WaitReceipt implements the txexec.Chain interface. It polls for the
// receipt until the context expires, reporting expiry as ErrTxTimeout so
// the executor can reconcile against the chain.
func (c *client) WaitReceipt(ctx context.Context, txHash string) (txexec.Receipt, error) {
	hash := common.HexToHash(txHash)
	for {
		receipt, err := c.conn.TransactionReceipt(ctx, hash)
		if err == nil {
			return txexec.Receipt{
				TxHash:  txHash,
				Success: receipt.Status == types.ReceiptStatusSuccessful,
			}, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			if ctx.Err() != nil {
				return txexec.Receipt{}, fmt.Errorf("%w: %s", txexec.ErrTxTimeout, txHash)
			}
			return txexec.Receipt{}, translateError(err)
		}

		select {
		case <-ctx.Done():
			return txexec.Receipt{}, fmt.Errorf("%w: %s", txexec.ErrTxTimeout, txHash)
		case <-time.After(c.pollInterval):
		}
	}
}

// ReceiptStatus implements the txexec.Chain interface with a single
// non-blocking receipt lookup.
func (c *client) ReceiptStatus(ctx context.Context, txHash string) (bool, bool, error) {
	receipt, err := c.conn.TransactionReceipt(ctx, common.HexToHash(txHash))
	if errors.Is(err, ethereum.NotFound) {
		return false, false, nil
	}
	if err != nil {
		return false, false, translateError(err)
	}

	return true, receipt.Status == types.ReceiptStatusSuccessful, nil
}

// SuggestGasPrice implements the txexec.Chain interface.
func (c *client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	price, err := c.conn.SuggestGasPrice(ctx)
	if err != nil {
		return nil, translateError(err)
	}
	return price, nil
}

// callUint256 performs a read-only token call returning one uint256.
func (c *client) callUint256(ctx context.Context, method string, args ...any) (*big.Int, error) {
	input, err := c.erc20ABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("packing %s call: %w", method, err)
	}

	output, err := c.conn.CallContract(ctx, ethereum.CallMsg{To: &c.token, Data: input}, nil)
	if err != nil {
		return nil, translateError(err)
	}

	results, err := c.erc20ABI.Unpack(method, output)
	if err != nil {
		return nil, fmt.Errorf("unpacking %s result: %w", method, err)
	}
	value, ok := results[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected %s result type %T", method, results[0])
	}

	return value, nil
}

// submit signs and sends one legacy transaction with a fresh pending
// nonce. Nonces are never cached: every submission re-reads the pending
// count so concurrent wallet use surfaces as a tagged nonce conflict
// instead of silently replacing a transaction.
func (c *client) submit(ctx context.Context, signer txexec.Signer, to common.Address, input []byte, gasPrice *big.Int, gasLimit uint64) (string, error) {
	key, err := crypto.HexToECDSA(signer.PrivateKeyHex)
	if err != nil {
		return "", fmt.Errorf("parsing signer key: %w", err)
	}

	nonce, err := c.conn.PendingNonceAt(ctx, common.HexToAddress(signer.Address))
	if err != nil {
		return "", translateError(err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     input,
	})

	signedTx, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), key)
	if err != nil {
		return "", fmt.Errorf("signing transaction: %w", err)
	}

	if err := c.conn.SendTransaction(ctx, signedTx); err != nil {
		return signedTx.Hash().Hex(), translateError(err)
	}

	return signedTx.Hash().Hex(), nil
}

// Compile-time assertions for the chain consumers
var (
	_ txexec.Chain             = new(client)
	_ claimtier.HoldingsReader = new(client)
)
