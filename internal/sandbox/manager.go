// SPDX-License-Identifier: MPL-2.0

package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/vibeos/vibeos/internal/container"
	"github.com/vibeos/vibeos/internal/issue"

	"github.com/google/uuid"
	"github.com/siderolabs/go-retry/retry"
)

const (
	// WorkspaceMount is where the host workspace appears inside the sandbox.
	WorkspaceMount = "/workspace"
	// OutputMount is where the host output directory appears inside the sandbox.
	OutputMount = "/out"

	// BuildLabel marks containers created by vibeos so clean can find strays.
	BuildLabel = "org.vibeos.build"

	defaultTeardownTimeout   = 30 * time.Second
	defaultReadyPollInterval = 250 * time.Millisecond
)

// ErrSandboxClosed is returned by Exec after Close.
var ErrSandboxClosed = errors.New("sandbox is closed")

type (
	// ManagerConfig controls sandbox lifecycle.
	ManagerConfig struct {
		// ReadyTimeout bounds the wait for the container to reach running state.
		ReadyTimeout time.Duration
		// ReadyPollInterval is the delay between readiness checks. It defaults
		// to 250ms, shortened to a tenth of ReadyTimeout when that is smaller.
		ReadyPollInterval time.Duration
		// TeardownTimeout bounds container removal on Close.
		TeardownTimeout time.Duration
	}

	// Manager creates ephemeral build sandboxes.
	Manager struct {
		engine container.Engine
		config ManagerConfig
		logger *slog.Logger
	}

	// Sandbox is a running build container. It must be closed.
	Sandbox struct {
		id       container.ContainerID
		buildID  string
		engine   container.Engine
		logger   *slog.Logger
		teardown time.Duration

		mu     sync.Mutex
		closed bool
	}
)

// NewManager creates a Manager. A nil logger uses slog.Default().
func NewManager(engine container.Engine, cfg ManagerConfig, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ReadyTimeout == 0 {
		cfg.ReadyTimeout = 30 * time.Second
	}
	if cfg.ReadyPollInterval == 0 {
		cfg.ReadyPollInterval = min(defaultReadyPollInterval, cfg.ReadyTimeout/10)
	}
	if cfg.TeardownTimeout == 0 {
		cfg.TeardownTimeout = defaultTeardownTimeout
	}
	return &Manager{engine: engine, config: cfg, logger: logger}
}

// Acquire starts a privileged container from image with workspace mounted at
// /workspace and outputDir at /out, and waits until it is running. Both
// paths must be absolute.
func (m *Manager) Acquire(ctx context.Context, image container.ImageTag, workspace, outputDir string) (*Sandbox, error) {
	buildID := uuid.NewString()
	name := container.ContainerID("vibeos-build-" + buildID[:8])

	res, err := m.engine.Run(ctx, container.RunOptions{
		Image:      image,
		Name:       name,
		Detach:     true,
		Privileged: true,
		WorkDir:    WorkspaceMount,
		Labels:     map[string]string{BuildLabel: buildID},
		Volumes: []container.VolumeMount{
			{HostPath: workspace, ContainerPath: WorkspaceMount},
			{HostPath: outputDir, ContainerPath: OutputMount},
		},
		Command: []string{"sleep", "infinity"},
	})
	if err != nil {
		return nil, err
	}

	sb := &Sandbox{
		id:       res.ContainerID,
		buildID:  buildID,
		engine:   m.engine,
		logger:   m.logger,
		teardown: m.config.TeardownTimeout,
	}

	err = retry.Constant(m.config.ReadyTimeout, retry.WithUnits(m.config.ReadyPollInterval)).RetryWithContext(ctx,
		func(ctx context.Context) error {
			running, err := m.engine.IsRunning(ctx, sb.id)
			if err != nil {
				return retry.ExpectedError(err)
			}
			if !running {
				return retry.ExpectedErrorf("container %s is not running yet", sb.id)
			}
			return nil
		})
	if err != nil {
		closeErr := sb.Close(ctx)
		return nil, issue.NewErrorContext().
			WithOperation("start build sandbox").
			WithResource(string(sb.id)).
			WithSuggestion("Check the container logs with '" + m.engine.Name() + " logs " + string(sb.id) + "'").
			WithIssue(issue.SandboxUnavailableId).
			Wrap(errors.Join(err, closeErr)).
			BuildError()
	}

	m.logger.Debug("sandbox ready", "container", sb.id, "build_id", buildID)
	return sb, nil
}

// ID returns the container id.
func (s *Sandbox) ID() container.ContainerID { return s.id }

// BuildID returns the unique id of the build this sandbox serves.
func (s *Sandbox) BuildID() string { return s.buildID }

// Exec runs argv inside the sandbox and returns its exit code.
func (s *Sandbox) Exec(ctx context.Context, argv []string, stdout, stderr io.Writer) (int, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return -1, ErrSandboxClosed
	}

	res, err := s.engine.Exec(ctx, s.id, argv, container.ExecOptions{
		WorkDir: WorkspaceMount,
		Stdout:  stdout,
		Stderr:  stderr,
	})
	if err != nil {
		return -1, err
	}
	if res.Error != nil {
		return res.ExitCode, fmt.Errorf("exec in sandbox %s: %w", s.id, res.Error)
	}
	if ctx.Err() != nil {
		return res.ExitCode, ctx.Err()
	}
	return res.ExitCode, nil
}

// Close force-removes the container. It detaches from ctx cancellation and
// bounds the removal by the teardown timeout instead. Repeated calls are no-ops.
func (s *Sandbox) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	teardownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.teardown)
	defer cancel()

	if err := s.engine.Remove(teardownCtx, s.id, true); err != nil {
		s.logger.Warn("failed to remove sandbox", "container", s.id, "error", err)
		return fmt.Errorf("remove sandbox %s: %w", s.id, err)
	}
	s.logger.Debug("sandbox removed", "container", s.id)
	return nil
}
