// SPDX-License-Identifier: MPL-2.0

package installer

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"

	"github.com/siderolabs/go-cmd/pkg/cmd"
)

const diagnosticTailLines = 20

type (
	// Command is one external invocation. Env entries extend the process
	// environment for this invocation only.
	Command struct {
		Path string
		Args []string
		Env  []string
	}

	// Executor resolves and runs external commands.
	Executor interface {
		LookPath(file string) (string, error)
		Run(ctx context.Context, c Command) (output string, exitCode int, err error)
	}

	// ProbeFunc runs a minimal invocation of path and returns its output.
	ProbeFunc func(ctx context.Context, path string) (string, error)

	osExecutor struct{}
)

// NewExecutor returns the Executor backed by the host.
func NewExecutor() Executor { return osExecutor{} }

func (osExecutor) LookPath(file string) (string, error) {
	return exec.LookPath(file)
}

// Run returns combined output. A non-zero exit is reported via exitCode with
// a nil error; err is set only when the command could not run to completion.
func (osExecutor) Run(ctx context.Context, c Command) (string, int, error) {
	ec := exec.CommandContext(ctx, c.Path, c.Args...)
	ec.Env = append(os.Environ(), c.Env...)

	var out bytes.Buffer
	ec.Stdout = &out
	ec.Stderr = &out

	err := ec.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return out.String(), -1, ctxErr
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return out.String(), exitErr.ExitCode(), nil
	}
	if err != nil {
		return out.String(), -1, err
	}
	return out.String(), 0, nil
}

// VersionProbe invokes "path --version".
func VersionProbe(ctx context.Context, path string) (string, error) {
	return cmd.RunContext(ctx, path, "--version")
}

// tail keeps the last lines of output for diagnostics.
func tail(output string) string {
	lines := strings.Split(strings.TrimRight(output, "\n"), "\n")
	if len(lines) > diagnosticTailLines {
		lines = lines[len(lines)-diagnosticTailLines:]
	}
	return strings.Join(lines, "\n")
}
