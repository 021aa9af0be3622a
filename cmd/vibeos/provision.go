// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"fmt"
	"io"

	"github.com/vibeos/vibeos/internal/installer"
	"github.com/vibeos/vibeos/internal/issue"
	"github.com/vibeos/vibeos/internal/state"

	"github.com/spf13/cobra"
)

func newProvisionCommand(app *App) *cobra.Command {
	var stateDir string
	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Install the critical dependency into this system",
		Long: `Install Claude Code into this system and record the outcome.

This runs as the image customization hook during a build, and can be run
by hand to repair an image that booted without it. Strategies are tried in
order: direct, reconfigured registry, offline archive. The command exits 3
when the fetch tool is missing and 0 otherwise, including when every
strategy failed; the outcome is in the provisioning record.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if stateDir == "" {
				stateDir = app.Config.StateDir
			}
			store := state.NewFileStore(stateDir)
			pipeline := installer.NewPipeline(installer.NewSettings(app.Config.Installer), store,
				installer.WithLogger(app.Logger))

			report, err := pipeline.Run(cmd.Context())
			if errors.Is(err, installer.ErrPreconditionMissing) {
				app.renderIssue(cmd.ErrOrStderr(), issue.FetchToolMissingId)
				return app.fail(cmd, err, ExitPreconditionMissing)
			}
			if report != nil {
				printReport(cmd.OutOrStdout(), report)
			}
			if err != nil {
				return app.fail(cmd, err, ExitFailure)
			}
			if !report.Network.Reachable || !report.Network.Resolvable {
				app.renderIssue(cmd.ErrOrStderr(), issue.NetworkUnavailableId)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&stateDir, "state-dir", "", "directory of the provisioning record (default from config)")
	return cmd
}

func printReport(w io.Writer, r *installer.Report) {
	fmt.Fprintln(w, TitleStyle.Render("Provisioning"))
	for _, a := range r.Attempts {
		outcome := a.Outcome.String()
		switch a.Outcome {
		case installer.OutcomeSucceeded:
			outcome = SuccessStyle.Render(outcome)
		case installer.OutcomeFailed:
			outcome = ErrorStyle.Render(outcome)
		default:
			outcome = SubtitleStyle.Render(outcome)
		}
		fmt.Fprintf(w, "  %s %s", keyColumnStyle.Render(a.Strategy), outcome)
		if len(a.Preconditions.Failed) > 0 {
			fmt.Fprintf(w, " %s", SubtitleStyle.Render(fmt.Sprintf("(unmet: %v)", a.Preconditions.Failed)))
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintf(w, "  %s %s\n", keyColumnStyle.Render("installed"), yesNo(r.State.Installed))
	fmt.Fprintf(w, "  %s %s\n", keyColumnStyle.Render("sdk"), r.SDK.String())
	if r.State.CriticalAbsence != "" {
		fmt.Fprintln(w, WarningStyle.Render(r.State.CriticalAbsence))
	}
}
