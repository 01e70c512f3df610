// Package identity adapts the external identity providers: Privy token
// introspection for web users, Neynar profile lookups for Farcaster
// users, and the mini-app's signed session tokens.
package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/qrcoast/linkdrop/internal/claimgate"
)

// ErrTokenRejected is returned when a provider refuses the presented
// credential.
var ErrTokenRejected = fmt.Errorf("identity token rejected")

type privyClient struct {
	httpClient *retryablehttp.Client
	baseURL    string
	appID      string
	appSecret  string
}

var _ claimgate.WebVerifier = (*privyClient)(nil)

// NewPrivyClient builds the Privy introspection verifier for web claims.
func NewPrivyClient(httpClient *retryablehttp.Client, baseURL, appID, appSecret string) *privyClient {
	return &privyClient{
		httpClient: httpClient,
		baseURL:    baseURL,
		appID:      appID,
		appSecret:  appSecret,
	}
}

// privyUser is the subset of the introspection response the gate needs.
type privyUser struct {
	ID             string `json:"id"`
	LinkedAccounts []struct {
		Type     string `json:"type"`
		Username string `json:"username"`
	} `json:"linked_accounts"`
}

// VerifyToken implements the claimgate.WebVerifier interface. It
// introspects the access token against Privy and extracts the linked
// Twitter username, which web claims require as the dedup identity.
func (p *privyClient) VerifyToken(ctx context.Context, token string) (claimgate.WebIdentity, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/v1/users/me", nil)
	if err != nil {
		return claimgate.WebIdentity{}, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("privy-app-id", p.appID)
	req.SetBasicAuth(p.appID, p.appSecret)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return claimgate.WebIdentity{}, fmt.Errorf("introspecting privy token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return claimgate.WebIdentity{}, ErrTokenRejected
	}
	if resp.StatusCode != http.StatusOK {
		return claimgate.WebIdentity{}, fmt.Errorf("privy introspection returned status %d", resp.StatusCode)
	}

	var user privyUser
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return claimgate.WebIdentity{}, fmt.Errorf("decoding privy response: %w", err)
	}

	ident := claimgate.WebIdentity{UserID: user.ID}
	for _, account := range user.LinkedAccounts {
		if account.Type == "twitter_oauth" && account.Username != "" {
			ident.TwitterUsername = account.Username
			break
		}
	}

	return ident, nil
}
