package claimtier

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/qrcoast/linkdrop/internal/pkg/resilience/retry"
	"github.com/qrcoast/linkdrop/internal/pkg/transport/jsonrpc"
	"github.com/qrcoast/linkdrop/internal/pkg/types"
)

const (
	// blocksPerDay approximates a 2-second block time.
	blocksPerDay = 43_200

	// historicalSamples is how many evenly spaced points get checked
	// across the window. Sampling keeps the check to a handful of archive
	// calls while still catching sustained drops.
	historicalSamples = 9
)

// EthPriceSource quotes the current ETH/USD price. The current price is
// applied to every sample; per-block price history is not worth the cost
// for a five dollar threshold.
type EthPriceSource interface {
	EthPriceUSD(ctx context.Context) (float64, error)
}

type historicalChecker struct {
	rpc   jsonrpc.Client
	price EthPriceSource
	retry retry.Retry
}

var _ HistoricalChecker = (*historicalChecker)(nil)

// NewHistoricalChecker builds a checker that samples archive balances
// through a JSON-RPC provider. Archive endpoints drop individual calls
// often enough that each sample is retried with backoff.
func NewHistoricalChecker(rpc jsonrpc.Client, price EthPriceSource) *historicalChecker {
	return &historicalChecker{
		rpc:   rpc,
		price: price,
		retry: retry.New(retry.WithAttempts(3), retry.WithDelay(500*time.Millisecond)),
	}
}

// CheckHistoricalBalance implements HistoricalChecker. It samples the
// address balance at evenly spaced blocks across the trailing window and
// reports whether every sample met the USD threshold, along with the
// lowest USD value observed.
func (h *historicalChecker) CheckHistoricalBalance(ctx context.Context, address string, minUSD float64, days int) (bool, float64, error) {
	head, err := h.blockNumber(ctx)
	if err != nil {
		return false, 0, fmt.Errorf("fetching head block: %w", err)
	}

	priceUSD, err := h.price.EthPriceUSD(ctx)
	if err != nil {
		return false, 0, fmt.Errorf("fetching eth price: %w", err)
	}

	span := int64(days) * blocksPerDay
	start := head - span
	if start < 0 {
		start = 0
	}
	step := (head - start) / int64(historicalSamples)
	if step == 0 {
		step = 1
	}

	meets := true
	lowest := -1.0
	for block := start; block <= head; block += step {
		balance, err := h.balanceAt(ctx, address, block)
		if err != nil {
			return false, 0, fmt.Errorf("fetching balance at block %d: %w", block, err)
		}

		usd := weiToUSD(balance, priceUSD)
		if lowest < 0 || usd < lowest {
			lowest = usd
		}
		if usd < minUSD {
			meets = false
		}
	}
	if lowest < 0 {
		lowest = 0
	}

	return meets, lowest, nil
}

func (h *historicalChecker) blockNumber(ctx context.Context) (int64, error) {
	raw, err := h.fetch(ctx, "eth_blockNumber")
	if err != nil {
		return 0, err
	}

	var hex types.Hex
	if err := json.Unmarshal(raw, &hex); err != nil {
		return 0, err
	}
	return hex.Int(), nil
}

// balanceAt reads the wei balance at a block. Balances exceed 64 bits,
// so the quantity is decoded with big.Int rather than types.Hex.
func (h *historicalChecker) balanceAt(ctx context.Context, address string, block int64) (*big.Int, error) {
	raw, err := h.fetch(ctx, "eth_getBalance", address, types.HexFromInt(block))
	if err != nil {
		return nil, err
	}

	var quantity string
	if err := json.Unmarshal(raw, &quantity); err != nil {
		return nil, err
	}

	wei, ok := new(big.Int).SetString(strings.TrimPrefix(quantity, "0x"), 16)
	if !ok {
		return nil, fmt.Errorf("invalid balance quantity %q", quantity)
	}
	return wei, nil
}

// fetch issues one JSON-RPC call under the retry policy.
func (h *historicalChecker) fetch(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	var raw json.RawMessage
	err := h.retry.Execute(ctx, func() error {
		var fetchErr error
		raw, fetchErr = h.rpc.Fetch(ctx, method, params...)
		return fetchErr
	})
	return raw, err
}

// weiToUSD converts a wei balance to USD at the given price without
// overflowing for realistic balances.
func weiToUSD(wei *big.Int, priceUSD float64) float64 {
	eth := new(big.Float).Quo(new(big.Float).SetInt(wei), big.NewFloat(1e18))
	usd, _ := new(big.Float).Mul(eth, big.NewFloat(priceUSD)).Float64()
	return usd
}
