// SPDX-License-Identifier: MPL-2.0

package launch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/vibeos/vibeos/internal/config"
	"github.com/vibeos/vibeos/internal/issue"
	"github.com/vibeos/vibeos/internal/state"
)

// State is a selector state.
type State int

// Selector states, in walk order.
const (
	StateStartup State = iota
	StateHealthCheck
	StateLaunch
	StateFallback
)

// Action is what a session ends up running.
type Action int

const (
	// ActionRunBaseline runs the baseline login shell.
	ActionRunBaseline Action = iota
	// ActionRunTarget runs the natural language shell.
	ActionRunTarget
)

// DefaultCandidateDirs are searched for the critical dependency's command.
var DefaultCandidateDirs = []string{"/usr/bin", "/usr/local/bin", "/opt/claude-code/bin"}

var errBaselineUnavailable = errors.New("no baseline shell could be started")

type (
	// Decision is the outcome of the health check for one session.
	Decision struct {
		Terminal Terminal
		Action   Action
		Reason   string
		// Issue names the catalog entry to show when the session degrades.
		Issue   issue.Id
		Visited []State
	}

	// Options configures a Selector.
	Options struct {
		Launch config.LaunchConfig
		// Command is the critical dependency's executable name.
		Command string
		// CandidateDirs default to DefaultCandidateDirs.
		CandidateDirs []string
		// ColorScheme is the glamour style used for warnings.
		ColorScheme string

		DetectTTY TTYDetector
		LookPath  func(string) (string, error)
		Runner    Runner
		Warnings  io.Writer
	}

	// Selector runs the launch state machine.
	Selector struct {
		opts   Options
		store  state.Store
		logger *slog.Logger
	}
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateStartup:
		return "Startup"
	case StateHealthCheck:
		return "HealthCheck"
	case StateLaunch:
		return "Launch"
	case StateFallback:
		return "Fallback"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// String returns the action name.
func (a Action) String() string {
	if a == ActionRunTarget {
		return "run-target"
	}
	return "run-baseline"
}

// NewSelector creates a Selector. A nil logger uses slog.Default().
func NewSelector(store state.Store, opts Options, logger *slog.Logger) *Selector {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.CandidateDirs == nil {
		opts.CandidateDirs = DefaultCandidateDirs
	}
	if opts.ColorScheme == "" {
		opts.ColorScheme = "auto"
	}
	if opts.DetectTTY == nil {
		opts.DetectTTY = DetectTTY
	}
	if opts.LookPath == nil {
		opts.LookPath = lookPath
	}
	if opts.Runner == nil {
		opts.Runner = processRunner{}
	}
	if opts.Warnings == nil {
		opts.Warnings = os.Stderr
	}
	return &Selector{opts: opts, store: store, logger: logger}
}

// Decide runs Startup and HealthCheck and returns the resolved action.
func (s *Selector) Decide(ctx context.Context) Decision {
	d := Decision{Visited: []State{StateStartup}}

	tty := s.opts.DetectTTY()
	d.Terminal = classify(tty, s.opts.Launch.PrimaryTTY)
	if d.Terminal == TerminalSecondary {
		d.Reason = fmt.Sprintf("terminal %q is not %s", tty, s.opts.Launch.PrimaryTTY)
		return s.fallback(d)
	}

	d.Visited = append(d.Visited, StateHealthCheck)
	if reason, id := s.healthCheck(ctx); id != 0 {
		d.Reason = reason
		d.Issue = id
		return s.fallback(d)
	}

	d.Action = ActionRunTarget
	d.Reason = "health check passed"
	d.Visited = append(d.Visited, StateLaunch)
	return d
}

func (s *Selector) fallback(d Decision) Decision {
	d.Action = ActionRunBaseline
	d.Visited = append(d.Visited, StateFallback)
	return d
}

func (s *Selector) healthCheck(ctx context.Context) (string, issue.Id) {
	if _, err := s.opts.LookPath(s.opts.Launch.Interpreter); err != nil {
		return fmt.Sprintf("interpreter %s not found", s.opts.Launch.Interpreter), issue.InterpreterMissingId
	}
	if _, err := s.opts.LookPath(s.opts.Launch.Target); err != nil {
		return fmt.Sprintf("target program %s not found", s.opts.Launch.Target), issue.TargetProgramMissingId
	}

	st, err := s.store.Read(ctx)
	if errors.Is(err, state.ErrStateAbsent) {
		return "no provisioning record", issue.StateMissingId
	}
	if err != nil {
		s.logger.Warn("unreadable provisioning record", "error", err)
		return "provisioning record unreadable", issue.StateMissingId
	}
	if !st.Installed {
		return "critical dependency not installed", issue.DependencyAbsentId
	}

	if s.opts.Command != "" && !s.commandPresent(st.WrapperPath) {
		return fmt.Sprintf("%s not found in %v", s.opts.Command, s.opts.CandidateDirs), issue.DependencyAbsentId
	}
	return "", 0
}

func (s *Selector) commandPresent(wrapper string) bool {
	if wrapper != "" {
		if _, err := s.opts.LookPath(wrapper); err == nil {
			return true
		}
	}
	for _, dir := range s.opts.CandidateDirs {
		if _, err := s.opts.LookPath(filepath.Join(dir, s.opts.Command)); err == nil {
			return true
		}
	}
	return false
}

// Run decides and then runs the session. It returns only when the baseline
// shell could not replace the process, or when the Runner returns from Exec.
func (s *Selector) Run(ctx context.Context) (Decision, error) {
	d := s.Decide(ctx)
	s.logger.Debug("launch decision",
		"terminal", d.Terminal.String(),
		"action", d.Action.String(),
		"reason", d.Reason)

	if d.Issue != 0 {
		s.warn(d.Issue)
	}

	if d.Action == ActionRunTarget {
		// A Ctrl-C for the target also cancels ctx. Only the target exiting
		// moves the session to the baseline shell.
		err := s.opts.Runner.Run(context.WithoutCancel(ctx), s.opts.Launch.Target, nil)
		s.logger.Debug("target program exited", "error", err)
		d = s.fallback(d)
		d.Reason = "target program exited"
	}

	return d, s.execBaseline()
}

func (s *Selector) warn(id issue.Id) {
	entry := issue.Get(id)
	if entry == nil {
		return
	}
	out, err := entry.Render(s.opts.ColorScheme)
	if err != nil {
		out = string(entry.MarkdownMsg())
	}
	_, _ = io.WriteString(s.opts.Warnings, out)
}

func (s *Selector) execBaseline() error {
	var errs []error
	for _, shell := range []string{s.opts.Launch.BaselineShell, s.opts.Launch.ShellFallback} {
		if shell == "" {
			continue
		}
		args := []string{"-l"}
		if filepath.Base(shell) == "sh" {
			args = nil
		}
		err := s.opts.Runner.Exec(shell, args)
		if err == nil {
			return nil
		}
		s.logger.Warn("baseline shell failed", "shell", shell, "error", err)
		errs = append(errs, err)
	}
	return fmt.Errorf("%w: %w", errBaselineUnavailable, errors.Join(errs...))
}
