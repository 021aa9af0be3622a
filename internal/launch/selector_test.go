// SPDX-License-Identifier: MPL-2.0

package launch

import (
	"bytes"
	"context"
	"errors"
	"os"
	"slices"
	"strings"
	"testing"

	"github.com/vibeos/vibeos/internal/config"
	"github.com/vibeos/vibeos/internal/issue"
	"github.com/vibeos/vibeos/internal/state"
)

type fakeRunner struct {
	ran     []string
	runErrs []error
	execed  []string
	execErr map[string]error
}

func (r *fakeRunner) Run(ctx context.Context, path string, _ []string) error {
	r.ran = append(r.ran, path)
	r.runErrs = append(r.runErrs, ctx.Err())
	return errors.New("exit status 1")
}

func (r *fakeRunner) Exec(path string, _ []string) error {
	r.execed = append(r.execed, path)
	return r.execErr[path]
}

func present(paths ...string) func(string) (string, error) {
	return func(name string) (string, error) {
		if slices.Contains(paths, name) {
			return name, nil
		}
		return "", os.ErrNotExist
	}
}

func installedStore(t *testing.T, installed bool) state.Store {
	t.Helper()
	s := state.NewMemoryStore()
	if err := s.Write(t.Context(), state.ProvisioningState{
		SelectedDependency: "claude-code",
		Installed:          installed,
		WrapperPath:        "/usr/local/bin/claude-code",
	}); err != nil {
		t.Fatal(err)
	}
	return s
}

func newTestSelector(store state.Store, tty string, lookPath func(string) (string, error), r *fakeRunner, w *bytes.Buffer) *Selector {
	return NewSelector(store, Options{
		Launch:      config.DefaultConfig().Launch,
		Command:     "claude-code",
		ColorScheme: "notty",
		DetectTTY:   func() string { return tty },
		LookPath:    lookPath,
		Runner:      r,
		Warnings:    w,
	}, nil)
}

var healthy = present("python3", "/usr/local/bin/vibesh", "/usr/local/bin/claude-code")

// A healthy primary session runs the target, then lands in the baseline shell.
func TestRun_PrimaryHealthy(t *testing.T) {
	t.Parallel()

	r := &fakeRunner{}
	var w bytes.Buffer
	sel := newTestSelector(installedStore(t, true), "/dev/tty1", healthy, r, &w)

	d, err := sel.Run(t.Context())
	if err != nil {
		t.Fatalf("Run() returned error: %v", err)
	}
	if !slices.Equal(r.ran, []string{"/usr/local/bin/vibesh"}) {
		t.Errorf("ran = %v", r.ran)
	}
	if !slices.Equal(r.execed, []string{"/bin/bash"}) {
		t.Errorf("execed = %v", r.execed)
	}
	want := []State{StateStartup, StateHealthCheck, StateLaunch, StateFallback}
	if !slices.Equal(d.Visited, want) {
		t.Errorf("visited = %v, want %v", d.Visited, want)
	}
	if d.Action != ActionRunBaseline {
		t.Errorf("final action = %s", d.Action)
	}
	if w.Len() != 0 {
		t.Errorf("unexpected warning: %s", w.String())
	}
}

// An interrupt at the console cancels the command context, but the target
// keeps its terminal until it exits.
func TestRun_TargetOutlivesCancellation(t *testing.T) {
	t.Parallel()

	r := &fakeRunner{}
	sel := newTestSelector(installedStore(t, true), "/dev/tty1", healthy, r, &bytes.Buffer{})

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	if _, err := sel.Run(ctx); err != nil {
		t.Fatalf("Run() returned error: %v", err)
	}
	if len(r.runErrs) != 1 || r.runErrs[0] != nil {
		t.Errorf("target context errors = %v, want one live context", r.runErrs)
	}
	if !slices.Equal(r.execed, []string{"/bin/bash"}) {
		t.Errorf("execed = %v", r.execed)
	}
}

func TestDecide_SecondaryTerminal(t *testing.T) {
	t.Parallel()

	r := &fakeRunner{}
	var w bytes.Buffer
	sel := newTestSelector(installedStore(t, true), "/dev/tty2", healthy, r, &w)

	d := sel.Decide(t.Context())
	if d.Terminal != TerminalSecondary || d.Action != ActionRunBaseline {
		t.Errorf("decision = %+v", d)
	}
	if !slices.Equal(d.Visited, []State{StateStartup, StateFallback}) {
		t.Errorf("visited = %v", d.Visited)
	}
	if d.Issue != 0 {
		t.Errorf("secondary terminals should not warn, got issue %d", d.Issue)
	}
}

func TestDecide_HealthCheckFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		store    func(t *testing.T) state.Store
		lookPath func(string) (string, error)
		want     issue.Id
	}{
		{"missing state", func(*testing.T) state.Store { return state.NewMemoryStore() }, healthy, issue.StateMissingId},
		{"not installed", func(t *testing.T) state.Store { return installedStore(t, false) }, healthy, issue.DependencyAbsentId},
		{"no interpreter", func(t *testing.T) state.Store { return installedStore(t, true) },
			present("/usr/local/bin/vibesh", "/usr/local/bin/claude-code"), issue.InterpreterMissingId},
		{"no target", func(t *testing.T) state.Store { return installedStore(t, true) },
			present("python3", "/usr/local/bin/claude-code"), issue.TargetProgramMissingId},
		{"command vanished", func(t *testing.T) state.Store { return installedStore(t, true) },
			present("python3", "/usr/local/bin/vibesh"), issue.DependencyAbsentId},
		{"command in candidate dir", func(t *testing.T) state.Store { return installedStore(t, true) },
			present("python3", "/usr/local/bin/vibesh", "/opt/claude-code/bin/claude-code"), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			sel := newTestSelector(tt.store(t), "/dev/tty1", tt.lookPath, &fakeRunner{}, &bytes.Buffer{})
			d := sel.Decide(t.Context())
			if d.Issue != tt.want {
				t.Errorf("issue = %d, want %d (reason %q)", d.Issue, tt.want, d.Reason)
			}
			wantAction := ActionRunBaseline
			if tt.want == 0 {
				wantAction = ActionRunTarget
			}
			if d.Action != wantAction {
				t.Errorf("action = %s, want %s", d.Action, wantAction)
			}
		})
	}
}

func TestRun_DegradedWarnsAndFallsBack(t *testing.T) {
	t.Parallel()

	r := &fakeRunner{}
	var w bytes.Buffer
	sel := newTestSelector(installedStore(t, false), "/dev/tty1", healthy, r, &w)

	if _, err := sel.Run(t.Context()); err != nil {
		t.Fatalf("Run() returned error: %v", err)
	}
	if len(r.ran) != 0 {
		t.Errorf("target should not run, ran %v", r.ran)
	}
	if !strings.Contains(w.String(), "vibeos provision") {
		t.Errorf("warning should name the remediation command, got %q", w.String())
	}
}

func TestRun_ShellFallback(t *testing.T) {
	t.Parallel()

	r := &fakeRunner{execErr: map[string]error{"/bin/bash": os.ErrNotExist}}
	sel := newTestSelector(installedStore(t, true), "/dev/tty2", healthy, r, &bytes.Buffer{})

	if _, err := sel.Run(t.Context()); err != nil {
		t.Fatalf("Run() returned error: %v", err)
	}
	if !slices.Equal(r.execed, []string{"/bin/bash", "/bin/sh"}) {
		t.Errorf("execed = %v", r.execed)
	}
}

func TestRun_NoBaseline(t *testing.T) {
	t.Parallel()

	r := &fakeRunner{execErr: map[string]error{"/bin/bash": os.ErrNotExist, "/bin/sh": os.ErrNotExist}}
	sel := newTestSelector(installedStore(t, true), "/dev/tty2", healthy, r, &bytes.Buffer{})

	_, err := sel.Run(t.Context())
	if !errors.Is(err, errBaselineUnavailable) || !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Run() error = %v", err)
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	if classify("/dev/tty1", "/dev/tty1") != TerminalPrimary {
		t.Error("tty1 should be primary")
	}
	if classify("", "") != TerminalSecondary {
		t.Error("no terminal should never be primary")
	}
}

func TestDetectTTY_Override(t *testing.T) {
	t.Setenv(TTYEnvVar, "/dev/tty1")
	if got := DetectTTY(); got != "/dev/tty1" {
		t.Errorf("DetectTTY() = %q", got)
	}
}
