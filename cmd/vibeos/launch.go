// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"github.com/vibeos/vibeos/internal/issue"
	"github.com/vibeos/vibeos/internal/launch"
	"github.com/vibeos/vibeos/internal/state"

	"github.com/spf13/cobra"
)

func newLaunchCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:    "launch",
		Short:  "Start the session program for this terminal",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			selector := launch.NewSelector(state.NewFileStore(app.Config.StateDir), launch.Options{
				Launch:      app.Config.Launch,
				Command:     app.Config.Installer.Command,
				ColorScheme: string(app.Config.UI.ColorScheme),
				Warnings:    cmd.ErrOrStderr(),
			}, app.Logger)

			// Run only returns when no baseline shell could replace this process.
			if _, err := selector.Run(cmd.Context()); err != nil {
				return app.fail(cmd, issue.WrapWithOperation(err, "start a baseline shell"), ExitFailure)
			}
			return nil
		},
	}
}
