package identity

import (
	"context"
	"fmt"
	"strconv"

	"github.com/golang-jwt/jwt/v5"

	"github.com/qrcoast/linkdrop/internal/claimgate"
)

type miniAppVerifier struct {
	secret []byte
}

var _ claimgate.MiniAppVerifier = (*miniAppVerifier)(nil)

// NewMiniAppVerifier builds the verifier for the mini-app's signed session
// tokens.
func NewMiniAppVerifier(secret string) *miniAppVerifier {
	return &miniAppVerifier{secret: []byte(secret)}
}

// miniAppClaims is the expected token payload. The subject carries the
// fid; address and client fid ride as custom claims.
type miniAppClaims struct {
	jwt.RegisteredClaims

	Address   string `json:"address"`
	ClientFID int64  `json:"client_fid"`
}

// VerifyToken implements the claimgate.MiniAppVerifier interface. It
// checks the HMAC signature and expiry and extracts the signed identity.
func (m *miniAppVerifier) VerifyToken(ctx context.Context, token string) (claimgate.MiniAppIdentity, error) {
	var claims miniAppClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return m.secret, nil
	})
	if err != nil {
		return claimgate.MiniAppIdentity{}, fmt.Errorf("%w: %s", ErrTokenRejected, err)
	}
	if !parsed.Valid {
		return claimgate.MiniAppIdentity{}, ErrTokenRejected
	}

	fid, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || fid <= 0 {
		return claimgate.MiniAppIdentity{}, fmt.Errorf("%w: invalid subject fid", ErrTokenRejected)
	}
	if claims.Address == "" {
		return claimgate.MiniAppIdentity{}, fmt.Errorf("%w: token carries no address", ErrTokenRejected)
	}

	return claimgate.MiniAppIdentity{
		FID:       fid,
		Address:   claims.Address,
		ClientFID: claims.ClientFID,
	}, nil
}
