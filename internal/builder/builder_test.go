// SPDX-License-Identifier: MPL-2.0

package builder

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"
)

type fakeSandbox struct {
	calls   [][]string
	onBuild func() (int, error)
}

func (f *fakeSandbox) Exec(_ context.Context, argv []string, stdout, _ io.Writer) (int, error) {
	f.calls = append(f.calls, argv)
	if argv[0] != "mkarchiso" {
		return 0, nil
	}
	_, _ = io.WriteString(stdout, "[mkarchiso] INFO: Done!\n")
	if f.onBuild == nil {
		return 0, nil
	}
	return f.onBuild()
}

func TestMkarchiso_Build(t *testing.T) {
	t.Parallel()

	out := t.TempDir()
	sb := &fakeSandbox{onBuild: func() (int, error) {
		return 0, os.WriteFile(filepath.Join(out, "vibeos-rolling-x86_64.iso"), []byte("iso"), 0o644)
	}}
	b := NewMkarchiso(MkarchisoConfig{SandboxOutputDir: "/out"}, nil)

	artifact, err := b.Build(t.Context(), sb, Job{ProfileDir: "/workspace/.vibeos/profile", OutputDir: out})
	if err != nil {
		t.Fatalf("Build() returned error: %v", err)
	}
	if artifact != filepath.Join(out, "vibeos-rolling-x86_64.iso") {
		t.Errorf("artifact = %s", artifact)
	}

	want := []string{"mkarchiso", "-v", "-w", DefaultWorkDir, "-o", "/out", "/workspace/.vibeos/profile"}
	if len(sb.calls) != 2 || !slices.Equal(sb.calls[1], want) {
		t.Errorf("calls = %v", sb.calls)
	}
	if sb.calls[0][0] != "rm" {
		t.Errorf("work dir should be cleared first, got %v", sb.calls[0])
	}
}

func TestMkarchiso_BuildToolError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		code     int
		err      error
		wantCode int
	}{
		{name: "non-zero exit", code: 4, wantCode: 4},
		{name: "exec failure", code: -1, err: context.Canceled, wantCode: -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			sb := &fakeSandbox{onBuild: func() (int, error) { return tt.code, tt.err }}
			b := NewMkarchiso(MkarchisoConfig{SandboxOutputDir: "/out"}, nil)

			_, err := b.Build(t.Context(), sb, Job{ProfileDir: "/workspace/p", OutputDir: t.TempDir()})
			var bt *BuildToolError
			if !errors.As(err, &bt) || !errors.Is(err, ErrBuildTool) {
				t.Fatalf("Build() error = %v, want *BuildToolError", err)
			}
			if bt.ExitCode != tt.wantCode {
				t.Errorf("ExitCode = %d, want %d", bt.ExitCode, tt.wantCode)
			}
			if tt.err != nil && !errors.Is(err, tt.err) {
				t.Errorf("cause lost: %v", err)
			}
		})
	}
}

func TestMkarchiso_NoArtifact(t *testing.T) {
	t.Parallel()

	b := NewMkarchiso(MkarchisoConfig{SandboxOutputDir: "/out"}, nil)
	if _, err := b.Build(t.Context(), &fakeSandbox{}, Job{ProfileDir: "/workspace/p", OutputDir: t.TempDir()}); !errors.Is(err, ErrNoArtifact) {
		t.Fatalf("Build() error = %v, want ErrNoArtifact", err)
	}
}

func TestNewestArtifact(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	old := filepath.Join(dir, "vibeos-old.iso")
	newer := filepath.Join(dir, "vibeos-new.iso")
	for _, p := range []string{old, newer, filepath.Join(dir, "notes.txt")} {
		if err := os.WriteFile(p, nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(old, past, past); err != nil {
		t.Fatal(err)
	}

	got, err := newestArtifact(dir, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if got != newer {
		t.Errorf("newestArtifact() = %s, want %s", got, newer)
	}

	if err := os.Chtimes(newer, past, past); err != nil {
		t.Fatal(err)
	}
	if _, err := newestArtifact(dir, time.Now().Add(-time.Minute)); !errors.Is(err, ErrNoArtifact) {
		t.Errorf("images older than the build should be ignored, got %v", err)
	}
}

// mkarchiso exiting 0 without writing an image must not pick up the image of
// an earlier build.
func TestMkarchiso_StaleArtifact(t *testing.T) {
	t.Parallel()

	out := t.TempDir()
	stale := filepath.Join(out, "vibeos-rolling-x86_64.iso")
	if err := os.WriteFile(stale, []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}
	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(stale, past, past); err != nil {
		t.Fatal(err)
	}

	b := NewMkarchiso(MkarchisoConfig{SandboxOutputDir: "/out"}, nil)
	if _, err := b.Build(t.Context(), &fakeSandbox{}, Job{ProfileDir: "/workspace/p", OutputDir: out}); !errors.Is(err, ErrNoArtifact) {
		t.Fatalf("Build() error = %v, want ErrNoArtifact", err)
	}
}
