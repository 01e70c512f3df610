package cli

import (
	"context"
	"time"

	"github.com/qrcoast/linkdrop/internal/pkg/logger"

	"github.com/urfave/cli/v3"
)

// ClaimCleaner removes stale claim rows that never got a transaction hash.
type ClaimCleaner interface {
	CleanupFailedClaims(ctx context.Context, cutoff time.Time) (int64, error)
}

// cleanupFailedCommand returns a CLI command that deletes claim rows whose
// transaction never materialized, freeing those identities to claim again.
//
// Usage example:
//
//	linkdrop cleanup-failed --older-than 1h
func cleanupFailedCommand(cleaner ClaimCleaner) *cli.Command {
	return &cli.Command{
		Name:        "cleanup-failed",
		Description: "Deletes claim rows without a transaction hash older than the given age.",
		Usage:       "Removes stranded claim rows so the affected identities can claim again.",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "older-than",
				Usage: "Minimum age of rows to delete",
				Value: time.Hour,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			cutoff := time.Now().UTC().Add(-c.Duration("older-than"))

			deleted, err := cleaner.CleanupFailedClaims(ctx, cutoff)
			if err != nil {
				return err
			}

			logger.Info(ctx, "stranded claim rows removed", "deleted", deleted, "cutoff", cutoff)
			return nil
		},
	}
}
