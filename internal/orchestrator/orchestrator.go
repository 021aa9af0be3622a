// SPDX-License-Identifier: MPL-2.0

package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/vibeos/vibeos/internal/builder"
	"github.com/vibeos/vibeos/internal/container"
	"github.com/vibeos/vibeos/internal/fsutil"
	"github.com/vibeos/vibeos/internal/issue"
	"github.com/vibeos/vibeos/internal/profile"
	"github.com/vibeos/vibeos/internal/sandbox"

	"github.com/dustin/go-humanize"
)

// DefaultAssembleDir is where the profile is assembled, relative to the workspace.
const DefaultAssembleDir = ".vibeos/profile"

type (
	// ImageProvisioner ensures the base sandbox image exists.
	ImageProvisioner interface {
		Ensure(ctx context.Context) (container.ImageTag, error)
		RemoveImage(ctx context.Context) error
	}

	// Sandbox is an acquired build sandbox.
	Sandbox interface {
		builder.Sandbox
		Close(ctx context.Context) error
	}

	// SandboxAcquirer starts build sandboxes.
	SandboxAcquirer interface {
		Acquire(ctx context.Context, image container.ImageTag, workspace, outputDir string) (Sandbox, error)
	}

	// ProfileAssembler assembles a profile source tree into dest.
	ProfileAssembler interface {
		Assemble(ctx context.Context, sourceTree, dest string) (*profile.ProfileDirectory, error)
	}

	// Config configures an Orchestrator.
	Config struct {
		// ProfileDir is the profile source tree, relative to the workspace.
		ProfileDir string
		// AssembleDir is the assembled profile, relative to the workspace.
		AssembleDir string
		// TeardownTimeout bounds sandbox removal.
		TeardownTimeout time.Duration
	}

	// Orchestrator runs builds.
	Orchestrator struct {
		provisioner ImageProvisioner
		sandboxes   SandboxAcquirer
		assembler   ProfileAssembler
		builder     builder.Builder
		config      Config
		logger      *slog.Logger
		now         func() time.Time
	}

	managerAcquirer struct {
		manager *sandbox.Manager
	}
)

// New creates an Orchestrator. A nil logger uses slog.Default().
func New(p ImageProvisioner, s SandboxAcquirer, a ProfileAssembler, b builder.Builder, cfg Config, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.AssembleDir == "" {
		cfg.AssembleDir = DefaultAssembleDir
	}
	if cfg.TeardownTimeout == 0 {
		cfg.TeardownTimeout = 30 * time.Second
	}
	return &Orchestrator{provisioner: p, sandboxes: s, assembler: a, builder: b, config: cfg, logger: logger, now: time.Now}
}

// FromManager adapts a sandbox.Manager to SandboxAcquirer.
func FromManager(m *sandbox.Manager) SandboxAcquirer {
	return managerAcquirer{manager: m}
}

func (m managerAcquirer) Acquire(ctx context.Context, image container.ImageTag, workspace, outputDir string) (Sandbox, error) {
	sb, err := m.manager.Acquire(ctx, image, workspace, outputDir)
	if err != nil {
		return nil, err
	}
	return sb, nil
}

// Run builds an image from workspace into outputDir and returns the artifact
// path. The completion marker is removed first and written last, only when
// every stage succeeded and ctx is still live. The sandbox is removed on
// every exit path, including cancellation.
func (o *Orchestrator) Run(ctx context.Context, workspace, outputDir string) (artifact string, err error) {
	workspace, err = filepath.Abs(workspace)
	if err != nil {
		return "", failed(StagePrepare, err)
	}
	outputDir, err = filepath.Abs(outputDir)
	if err != nil {
		return "", failed(StagePrepare, err)
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", failed(StagePrepare, err)
	}

	lock, err := lockOutputDir(outputDir)
	if err != nil {
		return "", failed(StageLock, err)
	}
	defer func() {
		if releaseErr := lock.release(); releaseErr != nil {
			o.logger.Warn("failed to release output lock", "dir", outputDir, "error", releaseErr)
		}
	}()

	if err := removeMarker(outputDir); err != nil {
		return "", failed(StagePrepare, fmt.Errorf("remove stale marker: %w", err))
	}

	image, err := o.provisioner.Ensure(ctx)
	if err != nil {
		return "", failed(StageProvision, err)
	}

	sb, err := o.sandboxes.Acquire(ctx, image, workspace, outputDir)
	if err != nil {
		return "", failed(StageSandbox, err)
	}
	defer func() {
		teardownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.config.TeardownTimeout)
		defer cancel()
		if closeErr := sb.Close(teardownCtx); closeErr != nil {
			o.logger.Warn("sandbox teardown failed", "error", closeErr)
		}
	}()

	assembled, err := o.assembler.Assemble(ctx,
		filepath.Join(workspace, o.config.ProfileDir),
		filepath.Join(workspace, filepath.FromSlash(o.config.AssembleDir)))
	if err != nil {
		return "", failed(StageAssemble, err)
	}

	artifact, err = o.builder.Build(ctx, sb, builder.Job{
		ProfileDir: path.Join(sandbox.WorkspaceMount, o.config.AssembleDir),
		OutputDir:  outputDir,
	})
	if err != nil {
		return "", failed(StageBuild, buildError(err))
	}

	if err := ctx.Err(); err != nil {
		return "", failed(StageFinalize, err)
	}
	marker, err := o.marker(image, assembled, artifact)
	if err != nil {
		return "", failed(StageFinalize, err)
	}
	if err := writeMarker(outputDir, marker); err != nil {
		return "", failed(StageFinalize, err)
	}

	o.logger.Info("build complete",
		"artifact", artifact,
		"size", humanize.Bytes(uint64(marker.Size)),
		"sha256", marker.SHA256)
	return artifact, nil
}

func (o *Orchestrator) marker(image container.ImageTag, assembled *profile.ProfileDirectory, artifact string) (*Marker, error) {
	info, err := os.Stat(artifact)
	if err != nil {
		return nil, err
	}
	sum, err := fsutil.CalculateFileHash(artifact)
	if err != nil {
		return nil, err
	}
	digest, err := assembled.Digest()
	if err != nil {
		return nil, err
	}
	return &Marker{
		Artifact:      filepath.Base(artifact),
		SHA256:        sum,
		Size:          info.Size(),
		Image:         string(image),
		ProfileDigest: digest,
		CompletedAt:   o.now().UTC(),
	}, nil
}

func buildError(err error) error {
	return issue.NewErrorContext().
		WithOperation("build image").
		WithSuggestion("Re-run with --verbose to see the full build tool output").
		WithIssue(issue.BuildToolFailedId).
		Wrap(err).
		BuildError()
}

// Clean removes the output directory contents and the assembled profile.
// With images set it also removes the base sandbox image.
func (o *Orchestrator) Clean(ctx context.Context, workspace, outputDir string, images bool) error {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return err
	}
	lock, err := lockOutputDir(outputDir)
	if err != nil {
		return err
	}
	defer func() { _ = lock.release() }()

	entries, err := os.ReadDir(outputDir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.Name() == LockFileName {
			continue
		}
		if err := os.RemoveAll(filepath.Join(outputDir, e.Name())); err != nil {
			return err
		}
	}

	assembleRoot := filepath.Join(workspace, filepath.FromSlash(o.config.AssembleDir))
	if err := os.RemoveAll(assembleRoot); err != nil {
		return err
	}
	o.logger.Info("cleaned build outputs", "output", outputDir, "profile", assembleRoot)

	if images {
		if err := o.provisioner.RemoveImage(ctx); err != nil {
			return err
		}
		o.logger.Info("removed base sandbox image")
	}
	return nil
}
