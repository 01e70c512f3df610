package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/qrcoast/linkdrop/internal/pkg/logger"

	"github.com/urfave/cli/v3"
)

// Server is the HTTP surface the serve command manages.
type Server interface {
	Listen(addr string) error
	Shutdown() error
}

// serveCommand returns a CLI command that starts the claim API server.
//
// Usage example:
//
//	linkdrop serve
//
// The process runs until it receives an interrupt (SIGINT or SIGTERM),
// then drains in-flight requests before exiting.
func serveCommand(srv Server, addr string) *cli.Command {
	return &cli.Command{
		Name:        "serve",
		Description: "Starts the claim API server.",
		Usage:       "Serves the claim and batch-trigger endpoints. Terminates gracefully on Ctrl+C or termination signals.",
		Action: func(ctx context.Context, c *cli.Command) error {
			quit := make(chan os.Signal, 1)
			defer close(quit)

			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

			errCh := make(chan error, 1)
			go func() {
				errCh <- srv.Listen(addr)
			}()

			select {
			case err := <-errCh:
				return err
			case <-quit:
			case <-ctx.Done():
			}

			logger.Info(ctx, "shutting down claim api server")
			return srv.Shutdown()
		},
	}
}
