package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/YoshitsuguKoike/asw/internal/infrastructure/di"
)

// withContainer builds the DI container for one command, runs fn with a
// context cancelled on SIGINT/SIGTERM and closes the container afterwards.
func withContainer(cmd *cobra.Command, fn func(ctx context.Context, c *di.Container) error) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	container, err := di.NewContainer(ctx, di.Options{Config: globalConfig, Logger: appLogger})
	if err != nil {
		return configError{err: err}
	}
	defer func() {
		if cerr := container.Close(); cerr != nil {
			appLogger.Warn("failed to close container: %v", cerr)
		}
	}()

	return fn(ctx, container)
}
