// SPDX-License-Identifier: MPL-2.0

// Package builder invokes the image builder inside a build sandbox.
package builder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"
)

const (
	// DefaultWorkDir is the mkarchiso work directory inside the sandbox.
	DefaultWorkDir = "/tmp/vibeos-work"
	// ArtifactPattern matches the images mkarchiso writes.
	ArtifactPattern = "*.iso"
)

var (
	// ErrBuildTool is wrapped by BuildToolError.
	ErrBuildTool = errors.New("image build tool failed")
	// ErrNoArtifact is returned when the build tool succeeds without producing an image.
	ErrNoArtifact = errors.New("no image artifact produced")
)

type (
	// Sandbox runs commands in the build container.
	Sandbox interface {
		Exec(ctx context.Context, argv []string, stdout, stderr io.Writer) (int, error)
	}

	// Job describes one image build.
	Job struct {
		// ProfileDir is the assembled profile as seen inside the sandbox.
		ProfileDir string
		// OutputDir is the host directory mounted as the sandbox output dir.
		OutputDir string
	}

	// Builder produces a bootable image from an assembled profile.
	Builder interface {
		// Build runs the image builder once and returns the host path of the artifact.
		Build(ctx context.Context, sb Sandbox, job Job) (string, error)
	}

	// BuildToolError reports a non-zero exit of the image builder.
	BuildToolError struct {
		ExitCode int
		Err      error
	}

	// MkarchisoConfig configures Mkarchiso.
	MkarchisoConfig struct {
		// WorkDir is the scratch directory inside the sandbox.
		WorkDir string
		// SandboxOutputDir is where the sandbox sees the output mount.
		SandboxOutputDir string
		// Stdout and Stderr receive the build tool output. Nil discards it.
		Stdout io.Writer
		Stderr io.Writer
	}

	// Mkarchiso runs archiso's mkarchiso.
	Mkarchiso struct {
		config MkarchisoConfig
		logger *slog.Logger
	}
)

func (e *BuildToolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("mkarchiso failed: %v", e.Err)
	}
	return fmt.Sprintf("mkarchiso exited with code %d", e.ExitCode)
}

func (e *BuildToolError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrBuildTool}
	}
	return []error{ErrBuildTool, e.Err}
}

// NewMkarchiso creates a Mkarchiso builder. A nil logger uses slog.Default().
func NewMkarchiso(cfg MkarchisoConfig, logger *slog.Logger) *Mkarchiso {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = DefaultWorkDir
	}
	if cfg.SandboxOutputDir == "" {
		cfg.SandboxOutputDir = "/out"
	}
	if cfg.Stdout == nil {
		cfg.Stdout = io.Discard
	}
	if cfg.Stderr == nil {
		cfg.Stderr = io.Discard
	}
	return &Mkarchiso{config: cfg, logger: logger}
}

// Args returns the mkarchiso command line for profileDir.
func (m *Mkarchiso) Args(profileDir string) []string {
	return []string{"mkarchiso", "-v", "-w", m.config.WorkDir, "-o", m.config.SandboxOutputDir, profileDir}
}

// Build runs mkarchiso once. The work directory is cleared first so a
// previous interrupted run cannot leak into this one.
func (m *Mkarchiso) Build(ctx context.Context, sb Sandbox, job Job) (string, error) {
	if code, err := sb.Exec(ctx, []string{"rm", "-rf", m.config.WorkDir}, m.config.Stdout, m.config.Stderr); err != nil || code != 0 {
		return "", &BuildToolError{ExitCode: code, Err: errors.Join(err, fmt.Errorf("clear work dir %s", m.config.WorkDir))}
	}

	args := m.Args(job.ProfileDir)
	m.logger.Info("running image builder", "command", args)

	// Images from earlier builds are older than this. The filesystem may
	// round mtimes down to the second.
	started := time.Now().Truncate(time.Second)
	code, err := sb.Exec(ctx, args, m.config.Stdout, m.config.Stderr)
	if err != nil {
		return "", &BuildToolError{ExitCode: code, Err: err}
	}
	if code != 0 {
		return "", &BuildToolError{ExitCode: code}
	}

	artifact, err := newestArtifact(job.OutputDir, started)
	if err != nil {
		return "", err
	}
	m.logger.Info("image built", "artifact", artifact, "sandbox_path", path.Join(m.config.SandboxOutputDir, filepath.Base(artifact)))
	return artifact, nil
}

// newestArtifact returns the most recently modified image in dir, ignoring
// images last modified before since.
func newestArtifact(dir string, since time.Time) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, ArtifactPattern))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("%w in %s", ErrNoArtifact, dir)
	}

	type candidate struct {
		path string
		mod  int64
	}
	candidates := make([]candidate, 0, len(matches))
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil || !info.Mode().IsRegular() || info.ModTime().Before(since) {
			continue
		}
		candidates = append(candidates, candidate{path: m, mod: info.ModTime().UnixNano()})
	}
	if len(candidates) == 0 {
		return "", fmt.Errorf("%w in %s since %s", ErrNoArtifact, dir, since.Format(time.RFC3339))
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].mod != candidates[j].mod {
			return candidates[i].mod > candidates[j].mod
		}
		return candidates[i].path < candidates[j].path
	})
	return candidates[0].path, nil
}
