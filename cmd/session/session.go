// Package session implements the session command: one unattended capture
// run from permission request to commit.
package session

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/chairside/chairside/internal/app"
	"github.com/chairside/chairside/internal/camera/device"
	"github.com/chairside/chairside/internal/conf"
	"github.com/chairside/chairside/internal/errors"
)

const closeTimeout = 10 * time.Second

type options struct {
	procedure string
	tooth     int
	stage     string
	angle     string
	shots     int
	flash     string
	zoom      float64
	discard   bool
}

// Command creates the session command.
func Command(settings *conf.Settings) *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Capture a batch of photos and commit them",
		Long: "Request camera access, capture the requested number of photos with the " +
			"given tags and save the batch to the photo store.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, settings, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.procedure, "procedure", "", "Procedure tag, e.g. \"Class 1\"")
	f.IntVar(&opts.tooth, "tooth", 0, "Tooth number 1-32")
	f.StringVar(&opts.stage, "stage", "", "Stage tag")
	f.StringVar(&opts.angle, "angle", "", "Angle tag")
	f.IntVarP(&opts.shots, "shots", "n", 1, "Number of photos to take")
	f.StringVar(&opts.flash, "flash", "", "Flash mode for every shot: off, on or auto (default: camera setting)")
	f.Float64Var(&opts.zoom, "zoom", 0, "Zoom factor applied before capturing")
	f.BoolVar(&opts.discard, "discard", false, "Discard the batch instead of committing it")

	return cmd
}

func (o *options) script() (app.Script, error) {
	s := app.Script{Shots: o.shots, Zoom: o.zoom, Discard: o.discard}
	if o.shots < 1 {
		return s, errors.ValidationError("--shots must be at least 1")
	}
	if o.flash != "" {
		mode, err := device.ParseFlashMode(o.flash)
		if err != nil {
			return s, errors.New(err).Category(errors.CategoryValidation).Build()
		}
		s.Flash = mode
	}
	if o.procedure != "" {
		s.Prefill.Procedure = &o.procedure
	}
	if o.tooth != 0 {
		s.Prefill.ToothNumber = &o.tooth
	}
	if o.stage != "" {
		s.Prefill.Stage = &o.stage
	}
	if o.angle != "" {
		s.Prefill.Angle = &o.angle
	}
	return s, nil
}

func run(cmd *cobra.Command, settings *conf.Settings, opts *options) error {
	script, err := opts.script()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(settings)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if cerr := a.Close(closeCtx); cerr != nil {
			fmt.Fprintln(cmd.ErrOrStderr(), "shutdown:", cerr)
		}
	}()

	p := newProgress(cmd.ErrOrStderr(), isTerminal(cmd.ErrOrStderr()))
	script.Progress = p.update
	res, err := a.RunSession(ctx, script)
	p.done()
	if errors.Is(err, app.ErrAccessNotGranted) {
		fmt.Fprintln(cmd.ErrOrStderr(), app.SettingsHint)
	}
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), res)
	for _, id := range res.Assets {
		fmt.Fprintln(cmd.OutOrStdout(), "  ", id)
	}
	return nil
}

func isTerminal(w any) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
