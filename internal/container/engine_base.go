// SPDX-License-Identifier: MPL-2.0

package container

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/vibeos/vibeos/internal/issue"
)

const (
	// SELinuxLabelNone means no SELinux label is applied to volume mounts.
	SELinuxLabelNone SELinuxLabel = ""
	// SELinuxLabelShared allows sharing the volume between containers.
	SELinuxLabelShared SELinuxLabel = "z"
	// SELinuxLabelPrivate restricts the volume to a single container.
	SELinuxLabelPrivate SELinuxLabel = "Z"
)

// ErrInvalidVolumeMount is the sentinel error wrapped by InvalidVolumeMountError.
var ErrInvalidVolumeMount = errors.New("invalid volume mount")

type (
	// ExecCommandFunc is the function signature for creating exec.Cmd.
	// This allows injection of mock implementations for testing.
	ExecCommandFunc func(ctx context.Context, name string, arg ...string) *exec.Cmd

	// VolumeFormatFunc formats a volume mount for the -v flag. Podman uses it
	// to add SELinux labels.
	VolumeFormatFunc func(volume VolumeMount) string

	// BaseCLIEngineOption configures a BaseCLIEngine.
	BaseCLIEngineOption func(*BaseCLIEngine)

	// BaseCLIEngine provides common implementation for CLI-based container engines.
	// Docker and Podman engines embed this struct; engine-specific methods
	// (Available, Version, ImageExists) remain on the concrete types.
	BaseCLIEngine struct {
		name            string
		binaryPath      string
		execCommand     ExecCommandFunc
		volumeFormatter VolumeFormatFunc
	}

	// SELinuxLabel represents an SELinux volume labeling option.
	SELinuxLabel string

	// VolumeMount represents a bind mount from the host into the container.
	VolumeMount struct {
		HostPath      string
		ContainerPath string
		ReadOnly      bool
		SELinux       SELinuxLabel
	}

	// InvalidVolumeMountError is returned when a VolumeMount has invalid fields.
	InvalidVolumeMountError struct {
		Value  VolumeMount
		Reason string
	}
)

// Error implements the error interface for InvalidVolumeMountError.
func (e *InvalidVolumeMountError) Error() string {
	return fmt.Sprintf("invalid volume mount %s:%s: %s", e.Value.HostPath, e.Value.ContainerPath, e.Reason)
}

// Unwrap returns ErrInvalidVolumeMount for errors.Is() compatibility.
func (e *InvalidVolumeMountError) Unwrap() error { return ErrInvalidVolumeMount }

// Validate requires an absolute host path and an absolute container path.
func (v VolumeMount) Validate() error {
	switch {
	case strings.TrimSpace(v.HostPath) == "":
		return &InvalidVolumeMountError{Value: v, Reason: "host path must be non-empty"}
	case !filepath.IsAbs(v.HostPath):
		return &InvalidVolumeMountError{Value: v, Reason: "host path must be absolute"}
	case !strings.HasPrefix(v.ContainerPath, "/"):
		return &InvalidVolumeMountError{Value: v, Reason: "container path must be absolute"}
	}
	switch v.SELinux {
	case SELinuxLabelNone, SELinuxLabelShared, SELinuxLabelPrivate:
		return nil
	default:
		return &InvalidVolumeMountError{Value: v, Reason: fmt.Sprintf("unknown SELinux label %q", v.SELinux)}
	}
}

// String returns the mount in "host:container[:options]" format.
func (v VolumeMount) String() string {
	var result strings.Builder
	result.WriteString(v.HostPath)
	result.WriteString(":")
	result.WriteString(v.ContainerPath)

	var options []string
	if v.ReadOnly {
		options = append(options, "ro")
	}
	if v.SELinux != "" {
		options = append(options, string(v.SELinux))
	}
	if len(options) > 0 {
		result.WriteString(":")
		result.WriteString(strings.Join(options, ","))
	}
	return result.String()
}

// WithName sets the engine name used in error messages.
func WithName(name string) BaseCLIEngineOption {
	return func(e *BaseCLIEngine) {
		e.name = name
	}
}

// WithExecCommand sets a custom exec command function for testing.
func WithExecCommand(fn ExecCommandFunc) BaseCLIEngineOption {
	return func(e *BaseCLIEngine) {
		e.execCommand = fn
	}
}

// WithBinaryPath overrides the resolved engine binary.
func WithBinaryPath(path string) BaseCLIEngineOption {
	return func(e *BaseCLIEngine) {
		e.binaryPath = path
	}
}

// WithVolumeFormatter sets a custom volume formatter function.
func WithVolumeFormatter(fn VolumeFormatFunc) BaseCLIEngineOption {
	return func(e *BaseCLIEngine) {
		e.volumeFormatter = fn
	}
}

// NewBaseCLIEngine creates a new base engine with the given binary path.
func NewBaseCLIEngine(binaryPath string, opts ...BaseCLIEngineOption) *BaseCLIEngine {
	e := &BaseCLIEngine{
		binaryPath:      binaryPath,
		execCommand:     exec.CommandContext,
		volumeFormatter: VolumeMount.String,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name returns the engine name used in error messages.
func (e *BaseCLIEngine) Name() string {
	return e.name
}

// BinaryPath returns the path to the container engine binary.
func (e *BaseCLIEngine) BinaryPath() string {
	return e.binaryPath
}

// BuildArgs constructs arguments for a container build command.
//
// Generated command: <binary> build [options] <context>
func (e *BaseCLIEngine) BuildArgs(opts BuildOptions) []string {
	args := []string{"build"}

	if opts.Containerfile != "" {
		containerfile := opts.Containerfile
		if !filepath.IsAbs(containerfile) && opts.ContextDir != "" {
			containerfile = filepath.Join(opts.ContextDir, containerfile)
		}
		args = append(args, "-f", containerfile)
	}

	if opts.Tag != "" {
		args = append(args, "-t", string(opts.Tag))
	}

	if opts.NoCache {
		args = append(args, "--no-cache")
	}

	for _, k := range sortedKeys(opts.BuildArgs) {
		args = append(args, "--build-arg", k+"="+opts.BuildArgs[k])
	}

	return append(args, opts.ContextDir)
}

// RunArgs constructs arguments for a container run command.
//
// Generated command: <binary> run [options] <image> [command...]
func (e *BaseCLIEngine) RunArgs(opts RunOptions) []string {
	args := []string{"run"}

	if opts.Detach {
		args = append(args, "-d")
	}

	if opts.Remove {
		args = append(args, "--rm")
	}

	if opts.Privileged {
		args = append(args, "--privileged")
	}

	if opts.Name != "" {
		args = append(args, "--name", string(opts.Name))
	}

	if opts.WorkDir != "" {
		args = append(args, "-w", opts.WorkDir)
	}

	for _, k := range sortedKeys(opts.Labels) {
		args = append(args, "--label", k+"="+opts.Labels[k])
	}

	for _, k := range sortedKeys(opts.Env) {
		args = append(args, "-e", k+"="+opts.Env[k])
	}

	for _, v := range opts.Volumes {
		args = append(args, "-v", e.volumeFormatter(v))
	}

	args = append(args, string(opts.Image))
	return append(args, opts.Command...)
}

// ExecArgs constructs arguments for a container exec command.
//
// Generated command: <binary> exec [options] <container> <command...>
func (e *BaseCLIEngine) ExecArgs(containerID ContainerID, command []string, opts ExecOptions) []string {
	args := []string{"exec"}

	if opts.Stdin != nil {
		args = append(args, "-i")
	}

	if opts.WorkDir != "" {
		args = append(args, "-w", opts.WorkDir)
	}

	for _, k := range sortedKeys(opts.Env) {
		args = append(args, "-e", k+"="+opts.Env[k])
	}

	args = append(args, string(containerID))
	return append(args, command...)
}

// RemoveArgs constructs arguments for a container remove command.
func (e *BaseCLIEngine) RemoveArgs(containerID ContainerID, force bool) []string {
	args := []string{"rm"}
	if force {
		args = append(args, "-f")
	}
	return append(args, string(containerID))
}

// RemoveImageArgs constructs arguments for an image remove command.
func (e *BaseCLIEngine) RemoveImageArgs(image ImageTag, force bool) []string {
	args := []string{"rmi"}
	if force {
		args = append(args, "-f")
	}
	return append(args, string(image))
}

// CreateCommand creates an exec.Cmd for the given arguments.
func (e *BaseCLIEngine) CreateCommand(ctx context.Context, args ...string) *exec.Cmd {
	return e.execCommand(ctx, e.binaryPath, args...)
}

// RunCommandStatus executes a command and returns only the error status.
func (e *BaseCLIEngine) RunCommandStatus(ctx context.Context, args ...string) error {
	if err := e.CreateCommand(ctx, args...).Run(); err != nil {
		return fmt.Errorf("command %s %v failed: %w", e.binaryPath, args, err)
	}
	return nil
}

// RunCommandWithOutput executes a command with stdout captured to a buffer.
func (e *BaseCLIEngine) RunCommandWithOutput(ctx context.Context, args ...string) (string, error) {
	cmd := e.CreateCommand(ctx, args...)
	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("command %s %v failed: %w: %s", e.binaryPath, args, err, msg)
		}
		return "", fmt.Errorf("command %s %v failed: %w", e.binaryPath, args, err)
	}

	return out.String(), nil
}

// Build builds an image from a Containerfile.
func (e *BaseCLIEngine) Build(ctx context.Context, opts BuildOptions) error {
	if opts.ContextDir == "" {
		return fmt.Errorf("build context directory must be set")
	}

	cmd := e.CreateCommand(ctx, e.BuildArgs(opts)...)
	cmd.Stdout = opts.Stdout
	cmd.Stderr = opts.Stderr

	if err := cmd.Run(); err != nil {
		return buildContainerError(e.name, opts, err)
	}

	return nil
}

// Run runs a container. A non-zero exit code of a foreground container is
// captured in RunResult.ExitCode, not returned as an error. A detached run
// that fails to start is an error.
func (e *BaseCLIEngine) Run(ctx context.Context, opts RunOptions) (*RunResult, error) {
	for _, v := range opts.Volumes {
		if err := v.Validate(); err != nil {
			return nil, err
		}
	}

	args := e.RunArgs(opts)

	if opts.Detach {
		out, err := e.RunCommandWithOutput(ctx, args...)
		if err != nil {
			return nil, runContainerError(e.name, opts, err)
		}
		id := ContainerID(strings.TrimSpace(out))
		if id == "" {
			id = opts.Name
		}
		return &RunResult{ContainerID: id}, nil
	}

	cmd := e.CreateCommand(ctx, args...)
	cmd.Stdin = opts.Stdin
	cmd.Stdout = opts.Stdout
	cmd.Stderr = opts.Stderr

	return resultFromErr(opts.Name, cmd.Run()), nil
}

// Exec runs a command in a running container.
func (e *BaseCLIEngine) Exec(ctx context.Context, containerID ContainerID, command []string, opts ExecOptions) (*RunResult, error) {
	cmd := e.CreateCommand(ctx, e.ExecArgs(containerID, command, opts)...)
	cmd.Stdin = opts.Stdin
	cmd.Stdout = opts.Stdout
	cmd.Stderr = opts.Stderr

	return resultFromErr(containerID, cmd.Run()), nil
}

// IsRunning reports whether the container is running.
func (e *BaseCLIEngine) IsRunning(ctx context.Context, containerID ContainerID) (bool, error) {
	out, err := e.RunCommandWithOutput(ctx, "inspect", "--format", "{{.State.Running}}", string(containerID))
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) == "true", nil
}

// Remove removes a container.
func (e *BaseCLIEngine) Remove(ctx context.Context, containerID ContainerID, force bool) error {
	return e.RunCommandStatus(ctx, e.RemoveArgs(containerID, force)...)
}

// RemoveImage removes an image.
func (e *BaseCLIEngine) RemoveImage(ctx context.Context, image ImageTag, force bool) error {
	return e.RunCommandStatus(ctx, e.RemoveImageArgs(image, force)...)
}

func resultFromErr(id ContainerID, err error) *RunResult {
	result := &RunResult{ContainerID: id}
	if err == nil {
		return result
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
	} else {
		result.ExitCode = 1
		result.Error = err
	}
	return result
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// buildContainerError creates an actionable error for image build failures.
func buildContainerError(engine string, opts BuildOptions, cause error) error {
	ctx := issue.NewErrorContext().
		WithOperation("build container image").
		WithIssue(issue.SandboxUnavailableId)

	switch {
	case opts.Tag != "":
		ctx.WithResource(string(opts.Tag))
	case opts.Containerfile != "":
		ctx.WithResource(opts.Containerfile)
	}

	ctx.WithSuggestion("Ensure the base image is reachable (try: " + engine + " pull <base-image>)")
	ctx.WithSuggestion("Run with --verbose to see full build output")

	return ctx.Wrap(cause).BuildError()
}

// runContainerError creates an actionable error for container start failures.
func runContainerError(engine string, opts RunOptions, cause error) error {
	ctx := issue.NewErrorContext().
		WithOperation("start build sandbox").
		WithResource(string(opts.Image)).
		WithIssue(issue.SandboxUnavailableId)

	ctx.WithSuggestion("Verify the image exists (try: " + engine + " images)")
	ctx.WithSuggestion("Check that volume mount paths exist on the host")
	if opts.Privileged {
		ctx.WithSuggestion("Privileged containers may be refused by rootless engines")
	}

	return ctx.Wrap(cause).BuildError()
}
