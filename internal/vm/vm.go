// SPDX-License-Identifier: MPL-2.0

// Package vm boots a built image in QEMU for manual testing.
package vm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"

	"github.com/vibeos/vibeos/internal/config"
)

// ErrArtifactMissing is returned when the image to boot does not exist.
var ErrArtifactMissing = errors.New("image artifact not found")

// Runner boots artifacts with QEMU.
type Runner struct {
	config config.VMConfig
	logger *slog.Logger

	stdin          io.Reader
	stdout, stderr io.Writer
	command        func(ctx context.Context, name string, args ...string) *exec.Cmd
	kvmAvailable   func() bool
}

// NewRunner creates a Runner attached to the process's stdio. A nil logger
// uses slog.Default().
func NewRunner(cfg config.VMConfig, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		config:       cfg,
		logger:       logger,
		stdin:        os.Stdin,
		stdout:       os.Stdout,
		stderr:       os.Stderr,
		command:      exec.CommandContext,
		kvmAvailable: kvmAvailable,
	}
}

// Args returns the QEMU arguments for booting artifact.
func (r *Runner) Args(artifact string) []string {
	args := []string{
		"-m", r.config.Memory,
		"-smp", strconv.Itoa(r.config.CPUs),
		"-boot", "d",
		"-cdrom", artifact,
		"-nic", "user,model=virtio-net-pci",
	}
	if r.config.KVM && r.kvmAvailable() {
		args = append(args, "-enable-kvm", "-cpu", "host")
	}
	if r.config.OVMFCode != "" {
		args = append(args, "-drive", "if=pflash,format=raw,readonly=on,file="+r.config.OVMFCode)
	}
	return args
}

// Boot runs QEMU on artifact and waits for the VM to power off.
func (r *Runner) Boot(ctx context.Context, artifact string) error {
	if _, err := os.Stat(artifact); err != nil {
		return fmt.Errorf("%w: %s", ErrArtifactMissing, artifact)
	}

	args := r.Args(artifact)
	r.logger.Info("booting image", "artifact", artifact, "memory", r.config.Memory, "cpus", r.config.CPUs)
	r.logger.Debug("qemu command", "binary", r.config.QemuBinary, "args", args)

	cmd := r.command(ctx, r.config.QemuBinary, args...)
	cmd.Stdin = r.stdin
	cmd.Stdout = r.stdout
	cmd.Stderr = r.stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("run %s: %w", r.config.QemuBinary, err)
	}
	return nil
}

func kvmAvailable() bool {
	f, err := os.OpenFile("/dev/kvm", os.O_RDWR, 0)
	if err != nil {
		return false
	}
	_ = f.Close()
	return true
}
