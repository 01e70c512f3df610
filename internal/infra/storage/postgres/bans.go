package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/uptrace/bun"

	"github.com/qrcoast/linkdrop/internal/batchproc"
	"github.com/qrcoast/linkdrop/internal/claim"
	"github.com/qrcoast/linkdrop/internal/claimflow"
	"github.com/qrcoast/linkdrop/internal/claimgate"
)

// FindBan implements the claimgate.BanReader interface.
//
// The lookup fans out over every identity facet in one query: the fid
// when positive, any of the username variants, and the address. The first
// matching row wins.
func (c *client) FindBan(ctx context.Context, fid int64, usernameVariants []string, address string) (*claim.Ban, error) {
	var row banRow
	err := c.db.NewSelect().
		Model(&row).
		WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			if fid > 0 {
				q = q.WhereOr("fid = ?", fid)
			}
			if len(usernameVariants) > 0 {
				q = q.WhereOr("username IN (?)", bun.In(usernameVariants))
			}
			return q.WhereOr("LOWER(eth_address) = LOWER(?)", address)
		}).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	ban := row.toDomain()
	return &ban, nil
}

// RecordBlockedAttempt implements the claimgate.BanReader interface,
// bumping the attempt counter and appending the IP when it is new.
func (c *client) RecordBlockedAttempt(ctx context.Context, fid int64, ip string) error {
	_, err := c.db.NewUpdate().
		Model((*banRow)(nil)).
		Set("total_claims_attempted = total_claims_attempted + 1").
		Set("ip_addresses = CASE WHEN ? = ANY(ip_addresses) THEN ip_addresses ELSE array_append(ip_addresses, ?) END", ip, ip).
		Where("fid = ?", fid).
		Exec(ctx)
	return err
}

// AutoBan implements the claimflow.BanWriter interface. Re-banning an
// already banned fid merges the new evidence into the existing row.
func (c *client) AutoBan(ctx context.Context, ban claim.Ban) error {
	row := banRow{
		FID:                   ban.FID,
		Username:              ban.Username,
		EthAddress:            ban.EthAddress,
		Reason:                ban.Reason,
		AutoBanned:            ban.AutoBanned,
		TotalClaimsAttempted:  ban.TotalClaimsAttempted,
		IPAddresses:           ban.IPAddresses,
		DuplicateTransactions: ban.DuplicateTransactions,
	}

	_, err := c.db.NewInsert().
		Model(&row).
		ExcludeColumn("id").
		On("CONFLICT (fid) DO UPDATE").
		Set("duplicate_transactions = banned_users.duplicate_transactions || EXCLUDED.duplicate_transactions").
		Set("ip_addresses = banned_users.ip_addresses || EXCLUDED.ip_addresses").
		Set("total_claims_attempted = banned_users.total_claims_attempted + 1").
		Exec(ctx)
	return err
}

// IsBanned implements the batchproc.BanChecker interface.
func (c *client) IsBanned(ctx context.Context, fid int64, username *string, address string) (bool, error) {
	var variants []string
	if username != nil && *username != "" {
		variants = append(variants, *username)
	}

	ban, err := c.FindBan(ctx, fid, variants, address)
	if err != nil {
		return false, err
	}
	return ban != nil, nil
}

// Compile-time assertions for the ban-reading and ban-writing consumers
var (
	_ claimgate.BanReader  = new(client)
	_ claimflow.BanWriter  = new(client)
	_ batchproc.BanChecker = new(client)
)
