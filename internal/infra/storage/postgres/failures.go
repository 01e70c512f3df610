package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/qrcoast/linkdrop/internal/batchproc"
	"github.com/qrcoast/linkdrop/internal/claim"
	"github.com/qrcoast/linkdrop/internal/retryqueue"
)

// InsertFailure implements the retryqueue.FailureStore interface.
func (c *client) InsertFailure(ctx context.Context, failure claim.Failure) (int64, error) {
	row := failureRowFromDomain(failure)

	_, err := c.db.NewInsert().
		Model(&row).
		ExcludeColumn("id", "created_at").
		Returning("id").
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return row.ID, nil
}

// FailureExistsForAuctionByUsername implements the retryqueue.FailureStore interface.
func (c *client) FailureExistsForAuctionByUsername(ctx context.Context, username, auctionID string) (bool, error) {
	return c.db.NewSelect().
		Model((*failureRow)(nil)).
		Where("LOWER(username) = LOWER(?)", username).
		Where("auction_id = ?", auctionID).
		Exists(ctx)
}

// FailureExistsByUsernameSince implements the retryqueue.FailureStore interface.
func (c *client) FailureExistsByUsernameSince(ctx context.Context, username string, since time.Time) (bool, error) {
	return c.db.NewSelect().
		Model((*failureRow)(nil)).
		Where("LOWER(username) = LOWER(?)", username).
		Where("created_at >= ?", since).
		Exists(ctx)
}

// FailureExistsForAuctionByAddress implements the retryqueue.FailureStore interface.
func (c *client) FailureExistsForAuctionByAddress(ctx context.Context, address, auctionID string) (bool, error) {
	return c.db.NewSelect().
		Model((*failureRow)(nil)).
		Where("LOWER(eth_address) = LOWER(?)", address).
		Where("auction_id = ?", auctionID).
		Exists(ctx)
}

// FailureExistsForAuctionByIPSince implements the retryqueue.FailureStore interface.
func (c *client) FailureExistsForAuctionByIPSince(ctx context.Context, ip, auctionID string, since time.Time) (bool, error) {
	return c.db.NewSelect().
		Model((*failureRow)(nil)).
		Where("client_ip = ?", ip).
		Where("auction_id = ?", auctionID).
		Where("created_at >= ?", since).
		Exists(ctx)
}

// GetFailure implements the batchproc.FailureReader interface, returning
// nil when the row no longer exists.
func (c *client) GetFailure(ctx context.Context, id int64) (*claim.Failure, error) {
	var row failureRow
	err := c.db.NewSelect().
		Model(&row).
		Where("id = ?", id).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	failure := row.toDomain()
	return &failure, nil
}

// DeleteFailure implements the batchproc.FailureReader interface.
func (c *client) DeleteFailure(ctx context.Context, id int64) error {
	_, err := c.db.NewDelete().
		Model((*failureRow)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	return err
}

// SetRetryCount implements the batchproc.FailureReader interface.
func (c *client) SetRetryCount(ctx context.Context, id int64, count int) error {
	_, err := c.db.NewUpdate().
		Model((*failureRow)(nil)).
		Set("retry_count = ?", count).
		Where("id = ?", id).
		Exec(ctx)
	return err
}

// MarkExhausted implements the batchproc.FailureReader interface, stamping
// the row with the terminal code once its retry budget is spent.
func (c *client) MarkExhausted(ctx context.Context, id int64) error {
	_, err := c.db.NewUpdate().
		Model((*failureRow)(nil)).
		Set("error_code = ?", string(claim.CodeMaxRetriesExceeded)).
		Set("retry_count = ?", retryqueue.MaxAttempts).
		Where("id = ?", id).
		Exec(ctx)
	return err
}

// Compile-time assertions for the failure-store consumers
var (
	_ retryqueue.FailureStore = new(client)
	_ batchproc.FailureReader = new(client)
)
