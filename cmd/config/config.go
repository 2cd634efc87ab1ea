// Package config implements the config command for inspecting and creating
// configuration files.
package config

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/chairside/chairside/internal/conf"
)

// Command creates the config command with its dump and init subcommands.
func Command(v *viper.Viper, configFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create the configuration file",
	}
	cmd.AddCommand(dumpCommand(v, configFile), initCommand())
	return cmd
}

func dumpCommand(v *viper.Viper, configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "dump",
		Short: "Print the effective configuration with secrets masked",
		Args:  cobra.NoArgs,
		Annotations: map[string]string{
			"skipSettings": "true",
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, err := conf.Load(v, *configFile)
			if err != nil {
				return err
			}
			out, err := conf.Dump(settings.Redacted())
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}

func initCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init [path]",
		Short: "Write the default configuration",
		Args:  cobra.MaximumNArgs(1),
		Annotations: map[string]string{
			"skipSettings": "true",
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			path := filepath.Join(conf.DefaultConfigPaths()[0], "config.yaml")
			if len(args) == 1 {
				path = args[0]
			}
			if err := conf.WriteDefault(path); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "wrote", path)
			return nil
		},
	}
}
