// SPDX-License-Identifier: MPL-2.0

package launch

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"

	"golang.org/x/sys/unix"
)

// Runner starts session programs.
type Runner interface {
	// Run runs path attached to the current terminal and waits for it to
	// exit on its own. Cancelling ctx does not stop it.
	Run(ctx context.Context, path string, args []string) error
	// Exec replaces the current process with path. It returns only on failure.
	Exec(path string, args []string) error
}

type processRunner struct{}

// Run leaves terminal signals to the child. Ctrl-C reaches the whole
// foreground process group, so SIGINT and SIGQUIT are swallowed here while
// the child runs. They are caught, not ignored: SIG_IGN survives exec.
func (processRunner) Run(_ context.Context, path string, args []string) error {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGQUIT)
	defer signal.Stop(sigs)

	cmd := exec.Command(path, args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func (processRunner) Exec(path string, args []string) error {
	resolved, err := lookPath(path)
	if err != nil {
		return err
	}
	argv := append([]string{filepath.Base(resolved)}, args...)
	return unix.Exec(resolved, argv, os.Environ())
}

// lookPath accepts absolute paths to executable files and otherwise searches PATH.
func lookPath(name string) (string, error) {
	if !filepath.IsAbs(name) {
		return exec.LookPath(name)
	}
	info, err := os.Stat(name)
	if err != nil {
		return "", err
	}
	if info.IsDir() || info.Mode().Perm()&0o111 == 0 {
		return "", errors.New(name + ": not executable")
	}
	return name, nil
}
