// SPDX-License-Identifier: MPL-2.0

// Package cmd contains all CLI commands for vibeos.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"syscall"

	"github.com/vibeos/vibeos/internal/config"
	"github.com/vibeos/vibeos/internal/issue"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"
)

// Exit codes.
const (
	ExitOK      = 0
	ExitFailure = 1
	// ExitPreconditionMissing is returned by provision when the fetch tool is absent.
	ExitPreconditionMissing = 3
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"
)

// App carries the state shared by every command: flags, the loaded config
// and the logger built from them.
type App struct {
	cfgFile string
	verbose bool

	Config     *config.Config
	ConfigPath string
	Logger     *slog.Logger
}

// NewRootCommand creates the vibeos command tree.
func NewRootCommand(app *App) *cobra.Command {
	root := &cobra.Command{
		Use:   "vibeos",
		Short: "Build and provision VibeOS images",
		Long: TitleStyle.Render("vibeos") + SubtitleStyle.Render(" - build and provision VibeOS images") + `

vibeos assembles an archiso profile, builds it inside an ephemeral
container sandbox and installs Claude Code into the image. The same
binary runs inside the image as the provisioning hook and, at boot, as
the launch selector for the natural language shell.

` + SubtitleStyle.Render("Examples:") + `
  vibeos build              Build an image from ./profile into ./out
  vibeos test               Boot the last built image in QEMU
  vibeos status             Show the provisioning record
  vibeos config show        Show current configuration`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := app.load(cmd.Context(), cmd.ErrOrStderr()); err != nil {
				return app.fail(cmd, err, ExitFailure)
			}
			return nil
		},
	}

	root.PersistentFlags().BoolVarP(&app.verbose, "verbose", "v", false, "enable verbose output")
	root.PersistentFlags().StringVar(&app.cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/vibeos/config.cue)")

	root.AddCommand(
		newBuildCommand(app),
		newCleanCommand(app),
		newTestCommand(app),
		newProvisionCommand(app),
		newLaunchCommand(app),
		newStatusCommand(app),
		newConfigCommand(app),
	)
	return root
}

// load reads the configuration and installs the logger.
func (a *App) load(ctx context.Context, stderr io.Writer) error {
	cfg, path, err := config.LoadWithPath(ctx, config.LoadOptions{ConfigFilePath: a.cfgFile})
	if err != nil {
		return err
	}
	a.Config = cfg
	a.ConfigPath = path
	if !a.verbose {
		a.verbose = cfg.UI.Verbose
	}
	a.Logger = newLogger(stderr, a.verbose)
	slog.SetDefault(a.Logger)
	return nil
}

// getVersionString returns a formatted version string for display.
func getVersionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// Execute runs the root command and exits with its status. It is called by
// main.main().
func Execute() {
	app := &App{}
	if err := fang.Execute(
		context.Background(),
		NewRootCommand(app),
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt, syscall.SIGTERM),
		fang.WithErrorHandler(app.handleError),
	); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(ExitFailure)
	}
}

// formatErrorForDisplay formats an error for user display.
// An ActionableError renders its suggestions, and the full chain when verbose.
func formatErrorForDisplay(err error, verboseMode bool) string {
	var ae *issue.ActionableError
	if errors.As(err, &ae) {
		return ae.Format(verboseMode)
	}
	return err.Error()
}

// fail attaches an exit code to err.
func (a *App) fail(cmd *cobra.Command, err error, code int) error {
	cmd.SilenceUsage = true
	return &ExitError{Code: code, Err: err}
}

// handleError prints err with its remediation. An ExitError without a cause
// has already been reported.
func (a *App) handleError(w io.Writer, _ fang.Styles, err error) {
	var exitErr *ExitError
	if errors.As(err, &exitErr) && exitErr.Err == nil {
		return
	}
	fmt.Fprintln(w, ErrorStyle.Render("Error: ")+formatErrorForDisplay(err, a.verbose))
}

// renderIssue prints the catalog entry id to w.
func (a *App) renderIssue(w io.Writer, id issue.Id) {
	entry := issue.Get(id)
	if entry == nil {
		return
	}
	style := "auto"
	if a.Config != nil {
		style = string(a.Config.UI.ColorScheme)
	}
	rendered, err := entry.Render(style)
	if err != nil {
		rendered = string(entry.MarkdownMsg())
	}
	fmt.Fprint(w, rendered)
}
