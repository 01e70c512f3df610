// Package ethereum adapts the go-ethereum client to the transaction
// executor and tiering interfaces. All translation from provider error
// strings to tagged errors happens here and nowhere else.
package ethereum

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

const (
	// erc20ABIJSON covers the three token calls the pipeline needs.
	erc20ABIJSON = `[
		{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"allowance","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"approve","type":"function","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
	]`

	// airdropABIJSON is the batch-disperse entrypoint of the airdrop
	// contracts. Every configured contract exposes the same signature.
	airdropABIJSON = `[
		{"name":"airdrop","type":"function","stateMutability":"nonpayable","inputs":[{"name":"token","type":"address"},{"name":"recipients","type":"address[]"},{"name":"amounts","type":"uint256[]"}],"outputs":[]}
	]`

	defaultReceiptPollInterval = 2 * time.Second
	approveGasLimit            = 100_000
)

// AddressFromKey derives the 0x-prefixed signer address from a hex
// private key, for configuring wallet pools from key material alone.
func AddressFromKey(privateKeyHex string) (string, error) {
	key, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return "", fmt.Errorf("parsing private key: %w", err)
	}
	return crypto.PubkeyToAddress(key.PublicKey).Hex(), nil
}

type client struct {
	conn         *ethclient.Client
	chainID      *big.Int
	token        common.Address
	erc20ABI     abi.ABI
	airdropABI   abi.ABI
	pollInterval time.Duration
}

func (c *client) Close() {
	c.conn.Close()
}

// NewClient dials the RPC endpoint and binds the adapter to the airdrop
// token contract.
func NewClient(ctx context.Context, rpcURL, tokenAddress string) (*client, error) {
	conn, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dialing rpc endpoint: %w", err)
	}

	chainID, err := conn.ChainID(ctx)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("fetching chain id: %w", err)
	}

	erc20, err := abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("parsing erc20 abi: %w", err)
	}

	airdrop, err := abi.JSON(strings.NewReader(airdropABIJSON))
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("parsing airdrop abi: %w", err)
	}

	return &client{
		conn:         conn,
		chainID:      chainID,
		token:        common.HexToAddress(tokenAddress),
		erc20ABI:     erc20,
		airdropABI:   airdrop,
		pollInterval: defaultReceiptPollInterval,
	}, nil
}
