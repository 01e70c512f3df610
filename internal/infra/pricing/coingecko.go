// Package pricing quotes ETH in USD for the historical-balance check.
package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/qrcoast/linkdrop/internal/claimtier"
)

type coingeckoClient struct {
	httpClient *retryablehttp.Client
	baseURL    string
}

var _ claimtier.EthPriceSource = (*coingeckoClient)(nil)

// NewCoingeckoClient builds the CoinGecko-backed price source.
func NewCoingeckoClient(httpClient *retryablehttp.Client, baseURL string) *coingeckoClient {
	return &coingeckoClient{httpClient: httpClient, baseURL: baseURL}
}

// EthPriceUSD implements the claimtier.EthPriceSource interface.
func (c *coingeckoClient) EthPriceUSD(ctx context.Context) (float64, error) {
	url := c.baseURL + "/api/v3/simple/price?ids=ethereum&vs_currencies=usd"
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fetching eth price: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("price endpoint returned status %d", resp.StatusCode)
	}

	var payload map[string]struct {
		USD float64 `json:"usd"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, fmt.Errorf("decoding price response: %w", err)
	}

	quote, ok := payload["ethereum"]
	if !ok || quote.USD <= 0 {
		return 0, fmt.Errorf("price response missing ethereum quote")
	}

	return quote.USD, nil
}
