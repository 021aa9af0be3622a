// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// selinuxEnforcePath is a variable so tests can point it at a fixture.
var selinuxEnforcePath = "/sys/fs/selinux/enforce"

// PodmanEngine implements the Engine interface using Podman CLI.
type PodmanEngine struct {
	*BaseCLIEngine
}

// NewPodmanEngine creates a new Podman engine.
// On Linux with SELinux enforcing, volume mounts are labeled with :z.
func NewPodmanEngine(opts ...BaseCLIEngineOption) *PodmanEngine {
	path, _ := exec.LookPath("podman")

	allOpts := append([]BaseCLIEngineOption{
		WithName(string(EngineTypePodman)),
		WithVolumeFormatter(addSELinuxLabel),
	}, opts...)

	return &PodmanEngine{
		BaseCLIEngine: NewBaseCLIEngine(path, allOpts...),
	}
}

// Name returns the engine name.
func (e *PodmanEngine) Name() string {
	return string(EngineTypePodman)
}

// Available checks if Podman is available.
func (e *PodmanEngine) Available(ctx context.Context) bool {
	if e.BinaryPath() == "" {
		return false
	}
	return e.CreateCommand(ctx, "version", "--format", "{{.Version}}").Run() == nil
}

// Version returns the Podman version.
func (e *PodmanEngine) Version(ctx context.Context) (string, error) {
	out, err := e.RunCommandWithOutput(ctx, "version", "--format", "{{.Version}}")
	if err != nil {
		return "", fmt.Errorf("failed to get podman version: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// ImageExists checks if an image exists.
func (e *PodmanEngine) ImageExists(ctx context.Context, image ImageTag) (bool, error) {
	err := e.RunCommandStatus(ctx, "image", "exists", string(image))
	return err == nil, nil
}

func isSELinuxEnabled() bool {
	data, err := os.ReadFile(selinuxEnforcePath)
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(data)) == "1"
}

// addSELinuxLabel adds the :z label when SELinux is enforcing and the mount
// carries no label of its own.
func addSELinuxLabel(volume VolumeMount) string {
	if volume.SELinux == SELinuxLabelNone && isSELinuxEnabled() {
		volume.SELinux = SELinuxLabelShared
	}
	return volume.String()
}
