package claimgate

import (
	"context"
	"strings"

	"github.com/qrcoast/linkdrop/internal/claim"
)

// usernameVariants returns the lookup forms tried against the ban table for
// a username: as-given, lowercased, with and without the "@" prefix. A
// banned actor's fid may be unknown at request time (web users carry
// synthetic fids), so username and address matching must be generous.
func usernameVariants(username string) []string {
	if username == "" {
		return nil
	}

	bare := strings.TrimPrefix(username, "@")
	lower := strings.ToLower(bare)

	seen := make(map[string]struct{}, 4)
	variants := make([]string, 0, 4)
	for _, v := range []string{username, bare, lower, "@" + lower} {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		variants = append(variants, v)
	}
	return variants
}

// checkBans enforces the hardcoded denylist first, then fans the lookup out
// over fid, username variants, and address. The first hit is terminal; the
// attempt is recorded against the ban row for audit.
func (s *service) checkBans(ctx context.Context, req Request, ident Identity) *GateError {
	username := ""
	if ident.Username != nil {
		username = *ident.Username
	}

	if username != "" && s.deniedUsernames.Contains(normalizeUsername(username)) {
		return &GateError{Code: claim.CodeBannedUser, Status: 403, Message: "account is not eligible to claim"}
	}

	fid := ident.FID
	if fid <= 0 {
		fid = 0 // synthetic fids are not looked up directly
	}

	ban, err := s.bans.FindBan(ctx, fid, usernameVariants(username), ident.Address)
	if err != nil {
		return internalGateError(err)
	}
	if ban != nil {
		s.logBlockedAttempt(ctx, ban.FID, req.ClientIP)
		return &GateError{Code: claim.CodeBannedUser, Status: 403, Message: "account is not eligible to claim"}
	}
	return nil
}
