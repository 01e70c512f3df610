package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/qrcoast/linkdrop/internal/claim"
	"github.com/qrcoast/linkdrop/internal/claimgate"
)

// LatestWinner implements the claimgate.WinnerReader interface, returning
// claimgate.ErrNoWinner when the winners table is empty.
func (c *client) LatestWinner(ctx context.Context) (*claim.Winner, error) {
	var row winnerRow
	err := c.db.NewSelect().
		Model(&row).
		Order("won_at DESC").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, claimgate.ErrNoWinner
	}
	if err != nil {
		return nil, err
	}

	return &claim.Winner{
		AuctionID:  row.AuctionID,
		WinningURL: row.WinningURL,
		WonAt:      row.WonAt,
	}, nil
}

// Compile-time assertion to ensure *client satisfies the claimgate.WinnerReader interface
var _ claimgate.WinnerReader = new(client)
