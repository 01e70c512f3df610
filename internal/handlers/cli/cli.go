// Package cli wires the linkdrop commands: the HTTP server, a one-shot
// batch run, and maintenance of stale claim rows.
package cli

import (
	"context"
	"os"

	"github.com/qrcoast/linkdrop/internal/batchproc"

	"github.com/urfave/cli/v3"
)

// Run initializes and executes the linkdrop CLI application.
//
// It registers all available commands, including:
//
//   - `serve`: Starts the claim API server.
//   - `process-batch`: Runs one retry-queue drain and exits.
//   - `cleanup-failed`: Deletes stale claim rows that never got a transaction.
//
// Parameters:
//   - ctx: Context used to control the lifecycle of the CLI application.
//   - srv: The HTTP server started by the serve command.
//   - addr: The listen address for the serve command.
//   - bp: The batch processor used by the process-batch command.
//   - cleaner: The claim store maintenance interface used by cleanup-failed.
func Run(ctx context.Context, srv Server, addr string, bp batchproc.Processor, cleaner ClaimCleaner) error {
	app := &cli.Command{
		EnableShellCompletion: true,
		Name:                  "linkdrop",
		Description:           "Command-line interface for the linkdrop claim service.",
		Usage:                 "linkdrop [command] [flags]",
		Commands: []*cli.Command{
			serveCommand(srv, addr),
			processBatchCommand(bp),
			cleanupFailedCommand(cleaner),
		},
	}

	return app.Run(ctx, os.Args)
}
