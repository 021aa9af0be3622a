// SPDX-License-Identifier: MPL-2.0

package installer

import (
	"context"
	"errors"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/vibeos/vibeos/internal/config"
)

type fakeExecutor struct {
	mu    sync.Mutex
	paths map[string]string
	calls []Command
	run   func(ctx context.Context, c Command) (string, int, error)
}

func newFakeExecutor(paths map[string]string) *fakeExecutor {
	return &fakeExecutor{paths: paths}
}

func (f *fakeExecutor) LookPath(file string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.paths[file]; ok {
		return p, nil
	}
	return "", &exec.Error{Name: file, Err: exec.ErrNotFound}
}

func (f *fakeExecutor) Run(ctx context.Context, c Command) (string, int, error) {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	run := f.run
	f.mu.Unlock()
	if run == nil {
		return "", 1, nil
	}
	return run(ctx, c)
}

// installCalls returns the "install" invocations of the fetch tool.
func (f *fakeExecutor) installCalls() []Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Command
	for _, c := range f.calls {
		if filepath.Base(c.Path) == "npm" && len(c.Args) > 0 && c.Args[0] == "install" {
			out = append(out, c)
		}
	}
	return out
}

type fakeDiagnostics struct {
	status NetworkStatus
	calls  int
}

func (f *fakeDiagnostics) Run(context.Context) NetworkStatus {
	f.calls++
	return f.status
}

func onlineStatus() NetworkStatus {
	return NetworkStatus{Reachable: true, Resolvable: true, Nameservers: []string{"10.0.0.1"}}
}

func offlineStatus() NetworkStatus {
	return NetworkStatus{
		Nameservers: []string{"10.0.0.1"},
		Err:         &NetworkUnavailableError{Host: "registry.npmjs.org"},
	}
}

// testSettings points every host path into a temp dir.
func testSettings(t *testing.T) Settings {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig().Installer
	cfg.BinDir = filepath.Join(dir, "bin")
	cfg.ModuleDir = filepath.Join(dir, "lib", "node_modules", "@anthropic-ai", "claude-code")
	cfg.OfflineArchive = filepath.Join(dir, "cache", "claude-code.tgz")
	cfg.ResolvConf = filepath.Join(dir, "resolv.conf")
	cfg.StrategyTimeout = time.Minute
	cfg.ProbeTimeout = time.Second
	return NewSettings(cfg)
}

var errProbe = errors.New("exit status 127")

// probeOnly returns a probe that succeeds for paths accepted by ok.
func probeOnly(ok func(path string) bool) ProbeFunc {
	return func(_ context.Context, path string) (string, error) {
		if ok(path) {
			return "1.0.51 (Claude Code)\n", nil
		}
		return "", errProbe
	}
}
