// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"

	"github.com/vibeos/vibeos/internal/issue"
	"github.com/vibeos/vibeos/internal/orchestrator"
	"github.com/vibeos/vibeos/internal/vm"

	"github.com/spf13/cobra"
)

func newTestCommand(app *App) *cobra.Command {
	var (
		output string
		memory string
		cpus   int
		noKVM  bool
	)
	cmd := &cobra.Command{
		Use:   "test [ARTIFACT]",
		Short: "Boot an image in QEMU",
		Long: `Boot an image in QEMU.

Without an argument the artifact of the last completed build in the output
directory is booted.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := app.Config.VM
			if memory != "" {
				cfg.Memory = memory
			}
			if cpus > 0 {
				cfg.CPUs = cpus
			}
			if noKVM {
				cfg.KVM = false
			}
			if output == "" {
				output = app.Config.Build.OutputDir
			}

			artifact, err := resolveArtifact(args, output)
			if err == nil {
				err = vm.NewRunner(cfg, app.Logger).Boot(cmd.Context(), artifact)
			}
			if errors.Is(err, orchestrator.ErrNoMarker) || errors.Is(err, vm.ErrArtifactMissing) {
				err = issue.NewErrorContext().
					WithOperation("boot image").
					WithResource(output).
					WithSuggestion("Run 'vibeos build' first, or pass the image path").
					WithIssue(issue.ArtifactNotFoundId).
					Wrap(err).
					BuildError()
			}
			if err != nil {
				return app.fail(cmd, err, ExitFailure)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&output, "output", "", "output directory holding the build (default from config)")
	cmd.Flags().StringVar(&memory, "memory", "", "guest memory, e.g. 4G (default from config)")
	cmd.Flags().IntVar(&cpus, "cpus", 0, "guest CPUs (default from config)")
	cmd.Flags().BoolVar(&noKVM, "no-kvm", false, "disable KVM acceleration")
	return cmd
}

func resolveArtifact(args []string, outputDir string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	marker, err := orchestrator.ReadMarker(outputDir)
	if err != nil {
		return "", err
	}
	return marker.ArtifactPath(outputDir), nil
}
