package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/qrcoast/linkdrop/internal/claimtier"
)

// Fallback web tier amounts used when no claim_amount_configs row exists.
const (
	defaultEmptyWalletAmount = 100
	defaultValueWalletAmount = 500
)

// SpamLabel implements the claimtier.SpamLabelReader interface, returning
// nil for unlabeled accounts.
func (c *client) SpamLabel(ctx context.Context, fid int64) (*int, error) {
	var row spamLabelRow
	err := c.db.NewSelect().
		Model(&row).
		Where("fid = ?", fid).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &row.LabelValue, nil
}

// WalletClaimAmounts implements the claimtier.TierAmountsReader interface,
// reading the latest configured amounts and falling back to the built-in
// defaults when none are configured.
func (c *client) WalletClaimAmounts(ctx context.Context) (int64, int64, error) {
	var row tierAmountRow
	err := c.db.NewSelect().
		Model(&row).
		Order("id DESC").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return defaultEmptyWalletAmount, defaultValueWalletAmount, nil
	}
	if err != nil {
		return 0, 0, err
	}

	return row.EmptyAmount, row.ValueAmount, nil
}

// Compile-time assertions for the tiering reference-data consumers
var (
	_ claimtier.SpamLabelReader   = new(client)
	_ claimtier.TierAmountsReader = new(client)
)
