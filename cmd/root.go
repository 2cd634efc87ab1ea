// Package cmd builds the chairside command line.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/chairside/chairside/cmd/config"
	"github.com/chairside/chairside/cmd/serve"
	"github.com/chairside/chairside/cmd/session"
	"github.com/chairside/chairside/internal/buildinfo"
	"github.com/chairside/chairside/internal/conf"
	"github.com/chairside/chairside/internal/errors"
	"github.com/chairside/chairside/internal/logger"
)

// RootCommand creates and returns the root command. Settings are loaded
// before any subcommand that needs them runs.
func RootCommand(build *buildinfo.Context) *cobra.Command {
	settings := &conf.Settings{}
	v := viper.New()
	var configFile string

	rootCmd := &cobra.Command{
		Use:           "chairside",
		Short:         "Clinical photo capture for dental procedures",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to config.yaml (default: search standard locations)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug output")
	_ = v.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))

	rootCmd.AddCommand(
		session.Command(settings),
		serve.Command(settings, build),
		config.Command(v, &configFile),
		versionCommand(build),
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		// config init must work before a valid config exists.
		if cmd.Annotations["skipSettings"] == "true" {
			return nil
		}
		loaded, err := conf.Load(v, configFile)
		if err != nil {
			return err
		}
		*settings = *loaded
		return initialize(settings, build)
	}

	return rootCmd
}

// initialize installs the configured logger and error telemetry.
func initialize(settings *conf.Settings, build *buildinfo.Context) error {
	central, err := logger.NewCentralLogger(&settings.Logging)
	if err != nil {
		return errors.New(err).
			Component("cmd").
			Category(errors.CategoryConfiguration).
			Context("operation", "logging").
			Build()
	}
	logger.SetGlobal(central)

	if settings.Telemetry.SentryEnabled {
		if err := errors.InitSentry(settings.Telemetry.SentryDSN, build.Release()); err != nil {
			// Telemetry is optional; keep running without it.
			central.Module("cmd").Warn("error telemetry disabled", logger.Error(err))
		}
	}
	return nil
}

func versionCommand(build *buildinfo.Context) *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print version information",
		Annotations: map[string]string{"skipSettings": "true"},
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "chairside %s (built %s)\n", build.GetVersion(), build.GetBuildDate())
		},
	}
}

// Execute runs the root command and returns the process exit code.
func Execute(build *buildinfo.Context) int {
	if err := RootCommand(build).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	return 0
}
