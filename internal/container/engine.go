// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"errors"
	"fmt"
	"io"
)

const (
	// EngineTypePodman selects the Podman CLI.
	EngineTypePodman EngineType = "podman"
	// EngineTypeDocker selects the Docker CLI.
	EngineTypeDocker EngineType = "docker"
)

// ErrEngineNotAvailable is the sentinel wrapped by EngineNotAvailableError.
var ErrEngineNotAvailable = errors.New("container engine not available")

type (
	// Engine defines the container operations the build sandbox relies on.
	Engine interface {
		// Name returns the engine name (docker or podman).
		Name() string
		// Available checks if the engine is usable on this host.
		Available(ctx context.Context) bool
		// Version returns the engine version.
		Version(ctx context.Context) (string, error)

		// Build builds an image from a Containerfile.
		Build(ctx context.Context, opts BuildOptions) error
		// ImageExists checks if an image exists locally.
		ImageExists(ctx context.Context, image ImageTag) (bool, error)
		// RemoveImage removes an image.
		RemoveImage(ctx context.Context, image ImageTag, force bool) error

		// Run runs a container. With Detach set it returns once the container is
		// started and RunResult.ContainerID names it.
		Run(ctx context.Context, opts RunOptions) (*RunResult, error)
		// Exec runs a command inside a running container.
		Exec(ctx context.Context, containerID ContainerID, command []string, opts ExecOptions) (*RunResult, error)
		// IsRunning reports whether the container is in the running state.
		IsRunning(ctx context.Context, containerID ContainerID) (bool, error)
		// Remove removes a container.
		Remove(ctx context.Context, containerID ContainerID, force bool) error
	}

	// EngineType identifies the container engine type.
	EngineType string

	// ImageTag is an image reference such as "vibeos-builder:3f2a9c1b0d4e".
	ImageTag string

	// ContainerID names a container by id or name.
	ContainerID string

	// BuildOptions contains options for building an image.
	BuildOptions struct {
		// ContextDir is the build context directory.
		ContextDir string
		// Containerfile is the path to the Containerfile relative to ContextDir.
		Containerfile string
		Tag           ImageTag
		BuildArgs     map[string]string
		NoCache       bool
		Stdout        io.Writer
		Stderr        io.Writer
	}

	// RunOptions contains options for running a container.
	RunOptions struct {
		Image   ImageTag
		Command []string
		WorkDir string
		Env     map[string]string
		Volumes []VolumeMount
		Name    ContainerID
		Labels  map[string]string
		// Remove automatically removes the container after exit.
		Remove bool
		// Detach starts the container in the background.
		Detach bool
		// Privileged grants loop device and mount access, needed by mkarchiso.
		Privileged bool
		Stdin      io.Reader
		Stdout     io.Writer
		Stderr     io.Writer
	}

	// ExecOptions contains options for running a command in a container.
	ExecOptions struct {
		WorkDir string
		Env     map[string]string
		Stdin   io.Reader
		Stdout  io.Writer
		Stderr  io.Writer
	}

	// RunResult contains the result of running a container or an exec.
	RunResult struct {
		ContainerID ContainerID
		// ExitCode is the process exit code; non-zero exits are not errors.
		ExitCode int
		// Error records infrastructure failures such as a missing binary.
		Error error
	}

	// EngineNotAvailableError is returned when no usable engine is found.
	EngineNotAvailableError struct {
		Engine string
		Reason string
	}
)

func (e *EngineNotAvailableError) Error() string {
	return fmt.Sprintf("container engine '%s' is not available: %s", e.Engine, e.Reason)
}

// Unwrap returns ErrEngineNotAvailable for errors.Is() compatibility.
func (e *EngineNotAvailableError) Unwrap() error { return ErrEngineNotAvailable }

// String returns the image reference.
func (t ImageTag) String() string { return string(t) }

// NewEngine creates a container engine of the preferred type, falling back to
// the other type when the preferred one is unavailable.
func NewEngine(ctx context.Context, preferredType EngineType, opts ...BaseCLIEngineOption) (Engine, error) {
	var preferred, fallback Engine
	switch preferredType {
	case EngineTypePodman:
		preferred, fallback = NewPodmanEngine(opts...), NewDockerEngine(opts...)
	case EngineTypeDocker:
		preferred, fallback = NewDockerEngine(opts...), NewPodmanEngine(opts...)
	default:
		return nil, fmt.Errorf("unknown container engine type: %s", preferredType)
	}

	if preferred.Available(ctx) {
		return preferred, nil
	}
	if fallback.Available(ctx) {
		return fallback, nil
	}
	return nil, &EngineNotAvailableError{
		Engine: string(preferredType),
		Reason: fmt.Sprintf("%s is not installed or not accessible, and %s fallback is also not available",
			preferred.Name(), fallback.Name()),
	}
}
