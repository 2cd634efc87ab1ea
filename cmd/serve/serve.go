// Package serve implements the serve command.
package serve

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/chairside/chairside/internal/app"
	"github.com/chairside/chairside/internal/buildinfo"
	"github.com/chairside/chairside/internal/conf"
)

const shutdownTimeout = 10 * time.Second

// Command creates the serve command. It keeps the session open and exposes
// health, status and metrics until interrupted.
func Command(settings *conf.Settings, build *buildinfo.Context) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve session status and metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings.Metrics.Enabled = true
			if listen != "" {
				settings.Metrics.Listen = listen
			}
			return run(cmd, settings, build)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "Listen address (default: metrics.listen)")
	return cmd
}

func run(cmd *cobra.Command, settings *conf.Settings, build *buildinfo.Context) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(settings, app.WithBuildInfo(build))
	if err != nil {
		return err
	}
	if err := a.Serve(); err != nil {
		_ = a.Close(context.Background())
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "serving on http://%s (ctrl-c to stop)\n", a.HTTP.Addr())

	<-ctx.Done()

	closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return a.Close(closeCtx)
}
