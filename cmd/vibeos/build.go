// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/vibeos/vibeos/internal/builder"
	"github.com/vibeos/vibeos/internal/config"
	"github.com/vibeos/vibeos/internal/container"
	"github.com/vibeos/vibeos/internal/issue"
	"github.com/vibeos/vibeos/internal/orchestrator"
	"github.com/vibeos/vibeos/internal/profile"
	"github.com/vibeos/vibeos/internal/sandbox"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

type buildFlags struct {
	workspace    string
	output       string
	forceRebuild bool
	images       bool
}

func newBuildCommand(app *App) *cobra.Command {
	var flags buildFlags
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build a bootable image",
		Long: `Build a bootable image from the profile source tree.

The base sandbox image is provisioned once and reused while its inputs are
unchanged. Each build runs in a fresh container that is removed afterwards,
even when the build is interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBuild(cmd, app, flags)
		},
	}
	cmd.Flags().StringVar(&flags.workspace, "workspace", "", "workspace directory (default from config)")
	cmd.Flags().StringVar(&flags.output, "output", "", "output directory (default from config)")
	cmd.Flags().BoolVar(&flags.forceRebuild, "force-rebuild", false, "rebuild the base sandbox image")
	return cmd
}

func newCleanCommand(app *App) *cobra.Command {
	var flags buildFlags
	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove build outputs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			ws, out := app.workspaceDirs(flags)
			var orch *orchestrator.Orchestrator
			if flags.images {
				var err error
				orch, err = app.newOrchestrator(ctx, nil)
				if err != nil {
					return app.fail(cmd, err, ExitFailure)
				}
			} else {
				orch = orchestrator.New(nil, nil, nil, nil, app.orchestratorConfig(), app.Logger)
			}
			if err := orch.Clean(ctx, ws, out, flags.images); err != nil {
				return app.fail(cmd, err, ExitFailure)
			}
			fmt.Fprintln(cmd.OutOrStdout(), SuccessStyle.Render("Cleaned ")+out)
			return nil
		},
	}
	cmd.Flags().StringVar(&flags.workspace, "workspace", "", "workspace directory (default from config)")
	cmd.Flags().StringVar(&flags.output, "output", "", "output directory (default from config)")
	cmd.Flags().BoolVar(&flags.images, "images", false, "also remove the base sandbox image")
	return cmd
}

func (a *App) workspaceDirs(flags buildFlags) (workspace, output string) {
	workspace, output = a.Config.Build.Workspace, a.Config.Build.OutputDir
	if flags.workspace != "" {
		workspace = flags.workspace
	}
	if flags.output != "" {
		output = flags.output
	}
	return workspace, output
}

func (a *App) orchestratorConfig() orchestrator.Config {
	return orchestrator.Config{
		ProfileDir:      a.Config.Build.ProfileDir,
		TeardownTimeout: a.Config.Build.TeardownTimeout,
	}
}

// newOrchestrator wires the container engine, the sandbox, the assembler and
// mkarchiso. Build tool output goes to progress.
func (a *App) newOrchestrator(ctx context.Context, progress io.Writer) (*orchestrator.Orchestrator, error) {
	cfg := a.Config
	engine, err := container.NewEngine(ctx, container.EngineType(cfg.ContainerEngine))
	if err != nil {
		return nil, issue.NewErrorContext().
			WithOperation("find a container engine").
			WithResource(string(cfg.ContainerEngine)).
			WithSuggestions(
				"Install Docker or Podman",
				"Set container_engine in your config to the engine you have").
			WithIssue(issue.ContainerEngineNotFoundId).
			Wrap(err).
			BuildError()
	}
	if version, err := engine.Version(ctx); err == nil {
		a.Logger.Debug("container engine", "engine", engine.Name(), "version", version)
	} else {
		a.Logger.Warn("container engine version unavailable", "engine", engine.Name(), "error", err)
	}

	inject, err := a.injections()
	if err != nil {
		return nil, err
	}

	provisioner := sandbox.NewProvisioner(engine, sandbox.ProvisionerConfig{
		BaseImage:    cfg.Build.BaseImage,
		Packages:     cfg.Build.BuilderPackages,
		ForceRebuild: cfg.Build.ForceRebuild,
		Output:       progress,
	}, a.Logger)
	manager := sandbox.NewManager(engine, sandbox.ManagerConfig{TeardownTimeout: cfg.Build.TeardownTimeout}, a.Logger)
	assembler := profile.NewAssembler(profile.Options{
		RequiredPackages: cfg.Build.RequiredPackages,
		LauncherPaths:    cfg.Build.LauncherPaths,
		ModuleNamespace:  cfg.Build.ModuleNamespace,
		Inject:           inject,
	}, a.Logger)
	mkarchiso := builder.NewMkarchiso(builder.MkarchisoConfig{
		SandboxOutputDir: sandbox.OutputMount,
		Stdout:           progress,
		Stderr:           progress,
	}, a.Logger)

	return orchestrator.New(provisioner, orchestrator.FromManager(manager), assembler, mkarchiso, a.orchestratorConfig(), a.Logger), nil
}

// injections returns the files that wire this binary into the image. The
// installer config baked into the image is this host's config with the
// in-image state directory.
func (a *App) injections() ([]profile.File, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("locate vibeos binary: %w", err)
	}
	imageCfg := *a.Config
	imageCfg.StateDir = config.DefaultStateDir
	return profile.Injections(exe, []byte(config.GenerateCUE(&imageCfg)), a.Config.Launch.PrimaryTTY)
}

func runBuild(cmd *cobra.Command, app *App, flags buildFlags) error {
	ctx := cmd.Context()
	if flags.forceRebuild {
		app.Config.Build.ForceRebuild = true
	}
	ws, out := app.workspaceDirs(flags)

	var progress io.Writer = cmd.ErrOrStderr()
	var spin *spinner
	if !app.verbose {
		spin = newSpinner(cmd.ErrOrStderr(), "building image")
		progress = io.Discard
	}

	orch, err := app.newOrchestrator(ctx, progress)
	if err != nil {
		return app.fail(cmd, err, ExitFailure)
	}

	spin.start()
	artifact, err := orch.Run(ctx, ws, out)
	spin.stop()
	if err != nil {
		return app.fail(cmd, err, ExitFailure)
	}

	marker, err := orchestrator.ReadMarker(out)
	if err != nil {
		return app.fail(cmd, err, ExitFailure)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s)\n",
		SuccessStyle.Render("Built"), artifact, humanize.Bytes(uint64(marker.Size)))
	return nil
}
