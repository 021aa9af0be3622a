// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/vibeos/vibeos/internal/state"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newStatusCommand(app *App) *cobra.Command {
	var (
		stateDir string
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the provisioning record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if stateDir == "" {
				stateDir = app.Config.StateDir
			}
			st, err := state.NewFileStore(stateDir).Read(cmd.Context())
			if errors.Is(err, state.ErrStateAbsent) {
				st = &state.ProvisioningState{SelectedDependency: app.Config.Installer.Command}
				err = nil
			}
			if err != nil {
				return app.fail(cmd, err, ExitFailure)
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(st)
			}
			printStatus(cmd.OutOrStdout(), st)
			return nil
		},
	}
	cmd.Flags().StringVar(&stateDir, "state-dir", "", "directory of the provisioning record (default from config)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the record as JSON")
	return cmd
}

func printStatus(w io.Writer, st *state.ProvisioningState) {
	row := func(key, value string) {
		fmt.Fprintf(w, "  %s %s\n", keyColumnStyle.Render(key), value)
	}
	fmt.Fprintln(w, TitleStyle.Render("VibeOS status"))
	row("dependency", st.SelectedDependency)
	row("pre-installed", yesNo(st.Installed))
	row("SDK integrated", yesNo(st.SDKInstalled))
	if st.Installed {
		row("strategy", st.Strategy)
		row("wrapper", st.WrapperPath)
		row("version", st.Version)
	}
	if !st.InstallationTimestamp.IsZero() {
		row("provisioned", humanize.Time(st.InstallationTimestamp))
	}
	if st.CriticalAbsence != "" {
		fmt.Fprintln(w)
		fmt.Fprintln(w, WarningStyle.Render(st.CriticalAbsence))
	}
}
