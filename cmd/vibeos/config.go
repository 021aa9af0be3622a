// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"

	"github.com/vibeos/vibeos/internal/config"

	"github.com/spf13/cobra"
)

// newConfigCommand creates the `vibeos config` command tree.
func newConfigCommand(app *App) *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage vibeos configuration",
		Long: `Manage vibeos configuration.

Configuration is read from the first of:
  - the --config flag
  - $XDG_CONFIG_HOME/vibeos/config.cue (~/.config/vibeos/config.cue)
  - ./vibeos.cue`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration as CUE",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			source := SubtitleStyle.Render("(using defaults)")
			if app.ConfigPath != "" {
				source = app.ConfigPath
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s\n", CmdStyle.Render("Config file"), source)
			fmt.Fprint(cmd.OutOrStdout(), config.GenerateCUE(app.Config))
			return nil
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Create the default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := config.CreateDefaultConfig()
			if err != nil {
				return app.fail(cmd, err, ExitFailure)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", SuccessStyle.Render("Config file:"), path)
			return nil
		},
	})

	return cfgCmd
}
