package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/qrcoast/linkdrop/internal/batchproc"
	"github.com/qrcoast/linkdrop/internal/claim"
	"github.com/qrcoast/linkdrop/internal/claimflow"
	"github.com/qrcoast/linkdrop/internal/claimgate"
)

// ClaimedByAddress implements the claimgate.ClaimReader interface.
//
// It returns the completed claim for the address within the auction, or
// nil when the address has not claimed. Link-visit rows without a
// claimed_at timestamp do not count.
func (c *client) ClaimedByAddress(ctx context.Context, address, auctionID string) (*claim.Record, error) {
	var row claimRow
	err := c.db.NewSelect().
		Model(&row).
		Where("LOWER(eth_address) = LOWER(?)", address).
		Where("auction_id = ?", auctionID).
		Where("claimed_at IS NOT NULL").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rec := row.toDomain()
	return &rec, nil
}

// ClaimedByFID implements the claimgate.ClaimReader interface.
func (c *client) ClaimedByFID(ctx context.Context, fid int64, auctionID string) (*claim.Record, error) {
	var row claimRow
	err := c.db.NewSelect().
		Model(&row).
		Where("fid = ?", fid).
		Where("auction_id = ?", auctionID).
		Where("claimed_at IS NOT NULL").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rec := row.toDomain()
	return &rec, nil
}

// ClaimedByUsername implements the claimgate.ClaimReader interface.
func (c *client) ClaimedByUsername(ctx context.Context, username, auctionID string) (*claim.Record, error) {
	var row claimRow
	err := c.db.NewSelect().
		Model(&row).
		Where("LOWER(username) = LOWER(?)", username).
		Where("auction_id = ?", auctionID).
		Where("claimed_at IS NOT NULL").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rec := row.toDomain()
	return &rec, nil
}

// CountClaimsByIPForAuction implements the claimgate.ClaimReader interface.
func (c *client) CountClaimsByIPForAuction(ctx context.Context, ip, auctionID string) (int, error) {
	return c.db.NewSelect().
		Model((*claimRow)(nil)).
		Where("client_ip = ?", ip).
		Where("auction_id = ?", auctionID).
		Where("claimed_at IS NOT NULL").
		Count(ctx)
}

// CountClaimsByIPSince implements the claimgate.ClaimReader interface.
func (c *client) CountClaimsByIPSince(ctx context.Context, ip string, since time.Time) (int, error) {
	return c.db.NewSelect().
		Model((*claimRow)(nil)).
		Where("client_ip = ?", ip).
		Where("claimed_at >= ?", since).
		Count(ctx)
}

// RecordClaim implements the claimflow.Recorder interface.
//
// When a link-visit row already exists for the (fid, auction) pair it is
// upgraded in place; otherwise a new row is inserted. A uniqueness
// violation on insert means a concurrent claim won the race and is
// surfaced as claimflow.ErrDuplicateRecord.
func (c *client) RecordClaim(ctx context.Context, rec claim.Record) error {
	row := claimRowFromDomain(rec)

	res, err := c.db.NewUpdate().
		Model(&row).
		Column("eth_address", "username", "user_id", "winning_url", "claim_source",
			"amount", "tx_hash", "claimed_at", "client_ip",
			"neynar_user_score", "spam_label", "mini_app_client").
		Where("fid = ?", rec.FID).
		Where("auction_id = ?", rec.AuctionID).
		Where("claimed_at IS NULL").
		Exec(ctx)
	if err != nil {
		return err
	}
	if affected, err := res.RowsAffected(); err == nil && affected > 0 {
		return nil
	}

	_, err = c.db.NewInsert().
		Model(&row).
		ExcludeColumn("id").
		Exec(ctx)
	if isUniqueViolation(err) {
		return claimflow.ErrDuplicateRecord
	}
	return err
}

// RecordLinkVisit upserts the visited-but-not-claimed marker row for a
// winner's link.
func (c *client) RecordLinkVisit(ctx context.Context, fid int64, address, auctionID, winningURL string, source claim.Source) error {
	now := time.Now().UTC()
	row := claimRow{
		FID:           fid,
		EthAddress:    address,
		AuctionID:     auctionID,
		WinningURL:    winningURL,
		Source:        string(source),
		LinkVisitedAt: &now,
	}

	_, err := c.db.NewInsert().
		Model(&row).
		ExcludeColumn("id").
		On("CONFLICT (fid, auction_id) DO UPDATE").
		Set("link_visited_at = EXCLUDED.link_visited_at").
		Exec(ctx)
	return err
}

// RecordClaims implements the batchproc.BatchRecorder interface, writing
// all records in one statement and upserting on (fid, auction_id) so rows
// left from link visits or earlier partial attempts are completed rather
// than duplicated.
func (c *client) RecordClaims(ctx context.Context, records []claim.Record) error {
	if len(records) == 0 {
		return nil
	}

	rows := make([]claimRow, len(records))
	for i, rec := range records {
		rows[i] = claimRowFromDomain(rec)
	}

	_, err := c.db.NewInsert().
		Model(&rows).
		ExcludeColumn("id").
		On("CONFLICT (fid, auction_id) DO UPDATE").
		Set("tx_hash = EXCLUDED.tx_hash").
		Set("amount = EXCLUDED.amount").
		Set("claimed_at = EXCLUDED.claimed_at").
		Set("claim_source = EXCLUDED.claim_source").
		Exec(ctx)
	return err
}

// CleanupFailedClaims deletes rows older than cutoff that never got a
// transaction hash. Only RecordLinkVisit produces such rows, so this prunes
// stale visited-but-never-claimed markers by their visit timestamp.
func (c *client) CleanupFailedClaims(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := c.db.NewDelete().
		Model((*claimRow)(nil)).
		Where("tx_hash IS NULL").
		Where("link_visited_at < ?", cutoff).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Compile-time assertions for the claim-reading and claim-writing consumers
var (
	_ claimgate.ClaimReader   = new(client)
	_ claimflow.Recorder      = new(client)
	_ batchproc.ClaimChecker  = new(client)
	_ batchproc.BatchRecorder = new(client)
)
