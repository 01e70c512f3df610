package cli

import (
	"context"
	"errors"

	"github.com/qrcoast/linkdrop/internal/batchproc"
	"github.com/qrcoast/linkdrop/internal/pkg/logger"

	"github.com/urfave/cli/v3"
)

// processBatchCommand returns a CLI command that drains the retry queue
// once and exits, for use by external schedulers or by hand.
//
// Usage example:
//
//	linkdrop process-batch
func processBatchCommand(bp batchproc.Processor) *cli.Command {
	return &cli.Command{
		Name:        "process-batch",
		Description: "Runs one retry-queue drain and exits.",
		Usage:       "Processes due retry jobs in grouped sub-batches. Exits cleanly when another run holds the lock.",
		Action: func(ctx context.Context, c *cli.Command) error {
			report, err := bp.Run(ctx)
			if errors.Is(err, batchproc.ErrRunInProgress) {
				logger.Info(ctx, "skipping run, another batch is in progress")
				return nil
			}
			if err != nil {
				return err
			}

			logger.Info(ctx, "batch run complete",
				"processed", report.TotalProcessed,
				"successful", report.Successful,
				"failed", report.Failed,
				"batches", len(report.Batches),
			)
			return nil
		},
	}
}
