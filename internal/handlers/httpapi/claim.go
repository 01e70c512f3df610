package httpapi

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/qrcoast/linkdrop/internal/claim"
	"github.com/qrcoast/linkdrop/internal/claimflow"
	"github.com/qrcoast/linkdrop/internal/claimgate"
	"github.com/qrcoast/linkdrop/internal/pkg/validator"
)

// claimRequest is the claim endpoint body.
type claimRequest struct {
	FID          int64  `json:"fid"`
	Address      string `json:"address" validate:"required"`
	AuctionID    string `json:"auction_id" validate:"required"`
	Username     string `json:"username"`
	WinningURL   string `json:"winning_url"`
	Source       string `json:"claim_source" validate:"required"`
	WalletHint   string `json:"wallet_address"`
	ClientFID    int64  `json:"client_fid"`
	MiniAppToken string `json:"miniapp_token"`
}

// claimResponse is the claim endpoint reply for both outcomes.
type claimResponse struct {
	Success    bool   `json:"success"`
	TxHash     string `json:"tx_hash,omitempty"`
	Amount     int64  `json:"amount,omitempty"`
	Error      string `json:"error,omitempty"`
	Code       string `json:"code,omitempty"`
	Warning    string `json:"warning,omitempty"`
	Duplicate  bool   `json:"is_duplicate,omitempty"`
	OriginalTx string `json:"original_tx,omitempty"`
}

// requireAPIKey rejects requests without the shared x-api-key header.
func (s *server) requireAPIKey() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Get("x-api-key") != s.cfg.APIKey {
			return c.Status(http.StatusUnauthorized).JSON(claimResponse{
				Success: false,
				Error:   "invalid api key",
				Code:    string(claim.CodeInvalidAPIKey),
			})
		}
		return c.Next()
	}
}

// handleClaim parses and validates the body, lifts the auth tokens off the
// headers, and hands the request to the claim pipeline.
func (s *server) handleClaim(c *fiber.Ctx) error {
	var body claimRequest
	if err := c.BodyParser(&body); err != nil {
		return c.Status(http.StatusBadRequest).JSON(claimResponse{
			Success: false,
			Error:   "malformed request body",
			Code:    string(claim.CodeMissingParameters),
		})
	}
	if err := validator.Validate(body); err != nil {
		return c.Status(http.StatusBadRequest).JSON(claimResponse{
			Success: false,
			Error:   err.Error(),
			Code:    string(claim.CodeMissingParameters),
		})
	}

	req := claimflow.Request{
		Request: claimgate.Request{
			FID:          body.FID,
			Address:      body.Address,
			AuctionID:    body.AuctionID,
			Username:     body.Username,
			Source:       claim.Source(body.Source),
			ClientIP:     c.IP(),
			MiniAppToken: miniAppToken(c, body),
			PrivyToken:   bearerToken(c),
			WalletHint:   body.WalletHint,
			ClientFID:    body.ClientFID,
		},
		WinningURL: body.WinningURL,
	}

	result, claimErr := s.claims.Claim(c.UserContext(), req)
	if claimErr != nil {
		return c.Status(claimErr.Status).JSON(claimResponse{
			Success: false,
			Error:   claimErr.Message,
			Code:    string(claimErr.Code),
		})
	}

	return c.JSON(claimResponse{
		Success:    true,
		TxHash:     result.TxHash,
		Amount:     result.Amount,
		Warning:    result.Warning,
		Duplicate:  result.Duplicate,
		OriginalTx: result.OriginalTxHash,
	})
}

// miniAppToken resolves the mini-app signed token, preferring the body field
// over the legacy x-miniapp-token header.
func miniAppToken(c *fiber.Ctx, body claimRequest) string {
	if body.MiniAppToken != "" {
		return body.MiniAppToken
	}
	return c.Get("x-miniapp-token")
}

// bearerToken extracts the bearer credential from the Authorization header.
func bearerToken(c *fiber.Ctx) string {
	auth := c.Get(fiber.HeaderAuthorization)
	if token, found := strings.CutPrefix(auth, "Bearer "); found {
		return token
	}
	return ""
}
