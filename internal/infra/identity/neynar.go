package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/qrcoast/linkdrop/internal/claimgate"
	"github.com/qrcoast/linkdrop/internal/claimtier"
)

type neynarClient struct {
	httpClient *retryablehttp.Client
	baseURL    string
	apiKey     string
}

var (
	_ claimgate.AddressOwnershipVerifier = (*neynarClient)(nil)
	_ claimtier.ReputationReader         = (*neynarClient)(nil)
)

// NewNeynarClient builds the Neynar-backed Farcaster profile client.
func NewNeynarClient(httpClient *retryablehttp.Client, baseURL, apiKey string) *neynarClient {
	return &neynarClient{
		httpClient: httpClient,
		baseURL:    baseURL,
		apiKey:     apiKey,
	}
}

// neynarUser is the subset of the bulk-user response the pipeline needs.
type neynarUser struct {
	FID               int64 `json:"fid"`
	VerifiedAddresses struct {
		EthAddresses []string `json:"eth_addresses"`
	} `json:"verified_addresses"`
	CustodyAddress string `json:"custody_address"`
	Experimental   struct {
		NeynarUserScore float64 `json:"neynar_user_score"`
	} `json:"experimental"`
	SpamLabel *int `json:"spam_label"`
}

// lookupUser fetches one profile through the bulk-user endpoint.
func (n *neynarClient) lookupUser(ctx context.Context, fid int64) (neynarUser, error) {
	url := fmt.Sprintf("%s/v2/farcaster/user/bulk?fids=%d", n.baseURL, fid)
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return neynarUser{}, err
	}
	req.Header.Set("x-api-key", n.apiKey)

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return neynarUser{}, fmt.Errorf("fetching neynar profile: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return neynarUser{}, fmt.Errorf("neynar lookup returned status %d", resp.StatusCode)
	}

	var payload struct {
		Users []neynarUser `json:"users"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return neynarUser{}, fmt.Errorf("decoding neynar response: %w", err)
	}
	if len(payload.Users) == 0 {
		return neynarUser{}, fmt.Errorf("neynar has no profile for fid %d", fid)
	}

	return payload.Users[0], nil
}

// VerifyAddressOwnership implements the claimgate.AddressOwnershipVerifier
// interface. The recipient address must appear among the fid's verified
// addresses or match its custody address. The wallet hint never widens the
// match; it is accepted only when it agrees with the recipient address.
func (n *neynarClient) VerifyAddressOwnership(ctx context.Context, fid int64, address, walletHint string) (bool, error) {
	if walletHint != "" && !strings.EqualFold(walletHint, address) {
		return false, nil
	}

	user, err := n.lookupUser(ctx, fid)
	if err != nil {
		return false, err
	}

	candidates := append([]string{user.CustodyAddress}, user.VerifiedAddresses.EthAddresses...)
	for _, candidate := range candidates {
		if strings.EqualFold(candidate, address) {
			return true, nil
		}
	}

	return false, nil
}

// UserReputation implements the claimtier.ReputationReader interface.
func (n *neynarClient) UserReputation(ctx context.Context, fid int64) (claimtier.Reputation, error) {
	user, err := n.lookupUser(ctx, fid)
	if err != nil {
		return claimtier.Reputation{}, err
	}

	return claimtier.Reputation{
		Score:        user.Experimental.NeynarUserScore,
		SpamOverride: user.SpamLabel,
	}, nil
}
