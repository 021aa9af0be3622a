// SPDX-License-Identifier: MPL-2.0

package sandbox

import (
	"bytes"
	"context"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"text/template"
	"time"

	"github.com/vibeos/vibeos/internal/container"
)

// ImageRepository is the repository part of every builder image tag.
const ImageRepository = "vibeos-builder"

var (
	//go:embed Containerfile.tmpl
	containerfileTemplate string

	containerfileTmpl = template.Must(template.New("Containerfile").Parse(containerfileTemplate))
)

type (
	// ProvisionerConfig controls base image provisioning.
	ProvisionerConfig struct {
		// BaseImage is the image the builder derives from.
		BaseImage string
		// Packages are installed into the builder image.
		Packages []string
		// ForceRebuild bypasses the image existence check.
		ForceRebuild bool
		// RetryWindow bounds retries of transient build failures.
		RetryWindow time.Duration
		// Output receives build progress; nil discards it.
		Output io.Writer
	}

	// Provisioner ensures the builder base image exists.
	Provisioner struct {
		engine container.Engine
		config ProvisionerConfig
		logger *slog.Logger
	}
)

// NewProvisioner creates a Provisioner. A nil logger uses slog.Default().
func NewProvisioner(engine container.Engine, cfg ProvisionerConfig, logger *slog.Logger) *Provisioner {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RetryWindow == 0 {
		cfg.RetryWindow = 2 * time.Minute
	}
	return &Provisioner{engine: engine, config: cfg, logger: logger}
}

// Containerfile renders the builder Containerfile.
func (p *Provisioner) Containerfile() (string, error) {
	var buf bytes.Buffer
	err := containerfileTmpl.Execute(&buf, struct {
		BaseImage string
		Packages  []string
	}{p.config.BaseImage, p.config.Packages})
	if err != nil {
		return "", fmt.Errorf("failed to render Containerfile: %w", err)
	}
	return buf.String(), nil
}

// Tag returns the stable tag for the current configuration.
func (p *Provisioner) Tag() (container.ImageTag, error) {
	content, err := p.Containerfile()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(content))
	return container.ImageTag(ImageRepository + ":" + hex.EncodeToString(sum[:])[:12]), nil
}

// Ensure returns the builder image tag, building the image only when it does
// not exist yet or ForceRebuild is set.
func (p *Provisioner) Ensure(ctx context.Context) (container.ImageTag, error) {
	content, err := p.Containerfile()
	if err != nil {
		return "", err
	}
	tag, err := p.Tag()
	if err != nil {
		return "", err
	}

	if !p.config.ForceRebuild {
		exists, _ := p.engine.ImageExists(ctx, tag) //nolint:errcheck // Error treated as "not found"
		if exists {
			p.logger.Debug("builder image cached", "tag", tag)
			return tag, nil
		}
	}

	p.logger.Info("provisioning builder image", "tag", tag, "base", p.config.BaseImage)

	buildCtx, err := os.MkdirTemp("", "vibeos-builder-*")
	if err != nil {
		return "", fmt.Errorf("failed to create build context: %w", err)
	}
	defer func() { _ = os.RemoveAll(buildCtx) }() // Temp dir cleanup; error non-critical

	if err := os.WriteFile(filepath.Join(buildCtx, "Containerfile"), []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("failed to write Containerfile: %w", err)
	}

	out := p.config.Output
	if out == nil {
		out = io.Discard
	}

	err = container.RetryTransient(ctx, p.config.RetryWindow, time.Second, func(ctx context.Context) error {
		return p.engine.Build(ctx, container.BuildOptions{
			ContextDir:    buildCtx,
			Containerfile: "Containerfile",
			Tag:           tag,
			NoCache:       p.config.ForceRebuild,
			Stdout:        out,
			Stderr:        out,
		})
	})
	if err != nil {
		return "", err
	}

	return tag, nil
}

// RemoveImage deletes the builder image for the current configuration.
// A missing image is not an error.
func (p *Provisioner) RemoveImage(ctx context.Context) error {
	tag, err := p.Tag()
	if err != nil {
		return err
	}
	exists, _ := p.engine.ImageExists(ctx, tag) //nolint:errcheck // Error treated as "not found"
	if !exists {
		return nil
	}
	return p.engine.RemoveImage(ctx, tag, true)
}
