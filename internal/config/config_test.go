// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/vibeos/vibeos/internal/issue"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "config.cue")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()

	if cfg.Installer.Package != "@anthropic-ai/claude-code" {
		t.Errorf("Installer.Package = %q", cfg.Installer.Package)
	}
	if cfg.Installer.Command != "claude-code" {
		t.Errorf("Installer.Command = %q", cfg.Installer.Command)
	}
	if cfg.StateDir != "/etc/vibeos" {
		t.Errorf("StateDir = %q", cfg.StateDir)
	}
	if cfg.Launch.PrimaryTTY != "/dev/tty1" {
		t.Errorf("Launch.PrimaryTTY = %q", cfg.Launch.PrimaryTTY)
	}
	if cfg.VM.Memory != "4G" || cfg.VM.CPUs != 2 {
		t.Errorf("VM = %+v", cfg.VM)
	}
	if valid, errs := cfg.IsValid(); !valid {
		t.Errorf("DefaultConfig() is invalid: %v", errs)
	}
}

func TestConfigDir_XDG(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/test-xdg-config")
	Reset()

	dir, err := ConfigDir()
	if err != nil {
		t.Fatalf("ConfigDir() returned error: %v", err)
	}
	if want := filepath.Join("/tmp/test-xdg-config", AppName); dir != want {
		t.Errorf("ConfigDir() = %s, want %s", dir, want)
	}
}

func TestLoad_DefaultsWhenNoFile(t *testing.T) {
	t.Chdir(t.TempDir())
	for _, env := range envBindings {
		t.Setenv(env, "")
		os.Unsetenv(env)
	}

	cfg, path, err := LoadWithPath(t.Context(), LoadOptions{ConfigDirPath: t.TempDir()})
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if path != "" {
		t.Errorf("resolved path = %q, want empty", path)
	}
	if cfg.Installer.StrategyTimeout != 10*time.Minute {
		t.Errorf("StrategyTimeout = %s", cfg.Installer.StrategyTimeout)
	}
	if len(cfg.Build.RequiredPackages) != 3 {
		t.Errorf("RequiredPackages = %v", cfg.Build.RequiredPackages)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
container_engine: "podman"
installer: {
	alternate_registry: "https://mirror.example/"
	probe_timeout: "2s"
	fetch_retries: 2
	resolvers: ["9.9.9.9"]
}
vm: cpus: 4
`)

	cfg, path, err := LoadWithPath(t.Context(), LoadOptions{ConfigDirPath: dir})
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if path != filepath.Join(dir, "config.cue") {
		t.Errorf("resolved path = %q", path)
	}
	if cfg.ContainerEngine != ContainerEnginePodman {
		t.Errorf("ContainerEngine = %q", cfg.ContainerEngine)
	}
	if cfg.Installer.AlternateRegistry != "https://mirror.example/" {
		t.Errorf("AlternateRegistry = %q", cfg.Installer.AlternateRegistry)
	}
	if cfg.Installer.ProbeTimeout != 2*time.Second {
		t.Errorf("ProbeTimeout = %s", cfg.Installer.ProbeTimeout)
	}
	if cfg.Installer.FetchRetries != 2 {
		t.Errorf("FetchRetries = %d", cfg.Installer.FetchRetries)
	}
	if len(cfg.Installer.Resolvers) != 1 || cfg.Installer.Resolvers[0] != "9.9.9.9" {
		t.Errorf("Resolvers = %v", cfg.Installer.Resolvers)
	}
	if cfg.VM.CPUs != 4 {
		t.Errorf("VM.CPUs = %d", cfg.VM.CPUs)
	}
	// Untouched keys keep their defaults.
	if cfg.Installer.Package != "@anthropic-ai/claude-code" {
		t.Errorf("Installer.Package = %q", cfg.Installer.Package)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `installer: resolvers: ["9.9.9.9"]`)
	t.Setenv("VIBEOS_RESOLVERS", "8.8.4.4,1.0.0.1")
	t.Setenv("VIBEOS_DEBUG", "1")
	t.Setenv("VIBEOS_VM_MEMORY", "8G")
	t.Setenv("VIBEOS_VM_CPUS", "6")

	cfg, err := NewProvider().Load(t.Context(), LoadOptions{ConfigDirPath: dir})
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if got := strings.Join(cfg.Installer.Resolvers, ","); got != "8.8.4.4,1.0.0.1" {
		t.Errorf("Resolvers = %q", got)
	}
	if !cfg.UI.Verbose {
		t.Error("VIBEOS_DEBUG=1 should enable verbose")
	}
	if cfg.VM.Memory != "8G" || cfg.VM.CPUs != 6 {
		t.Errorf("VM = %+v", cfg.VM)
	}
}

func TestLoad_SchemaViolations(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown engine", `container_engine: "lxc"`},
		{"unknown field", `bogus: true`},
		{"bad duration", `installer: probe_timeout: "soon"`},
		{"negative retries", `installer: fetch_retries: -1`},
		{"bad memory", `vm: memory: "lots"`},
		{"syntax error", `installer: {`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			path := writeConfig(t, dir, tt.content)

			_, err := NewProvider().Load(t.Context(), LoadOptions{ConfigFilePath: path})
			if err == nil {
				t.Fatal("Load() should fail")
			}
			var ae *issue.ActionableError
			if !errors.As(err, &ae) {
				t.Fatalf("error should be *issue.ActionableError, got %T", err)
			}
			if ae.Issue != issue.ConfigLoadFailedId {
				t.Errorf("Issue = %d, want %d", ae.Issue, issue.ConfigLoadFailedId)
			}
		})
	}
}

func TestLoad_ExplicitFileMissing(t *testing.T) {
	t.Parallel()

	_, err := NewProvider().Load(t.Context(), LoadOptions{ConfigFilePath: filepath.Join(t.TempDir(), "nope.cue")})
	if err == nil || !strings.Contains(err.Error(), "config file not found") {
		t.Fatalf("Load() error = %v", err)
	}
}

func TestLoad_Canceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	if _, err := NewProvider().Load(ctx, LoadOptions{}); err == nil {
		t.Fatal("Load() should fail on a canceled context")
	}
}

func TestGenerateCUE_RoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ContainerEngine = ContainerEnginePodman
	cfg.Installer.OfflineArchive = ""
	cfg.Installer.Resolvers = []string{"9.9.9.9"}
	cfg.Installer.StrategyTimeout = 90 * time.Second

	dir := t.TempDir()
	path := writeConfig(t, dir, GenerateCUE(cfg))

	loaded, err := NewProvider().Load(t.Context(), LoadOptions{ConfigFilePath: path})
	if err != nil {
		t.Fatalf("generated CUE failed to load: %v\n%s", err, GenerateCUE(cfg))
	}
	if loaded.ContainerEngine != ContainerEnginePodman {
		t.Errorf("ContainerEngine = %q", loaded.ContainerEngine)
	}
	if loaded.Installer.OfflineArchive != "" {
		t.Errorf("OfflineArchive = %q, want empty", loaded.Installer.OfflineArchive)
	}
	if loaded.Installer.StrategyTimeout != 90*time.Second {
		t.Errorf("StrategyTimeout = %s", loaded.Installer.StrategyTimeout)
	}
}

func TestGenerateCUE_Deterministic(t *testing.T) {
	t.Parallel()

	if GenerateCUE(DefaultConfig()) != GenerateCUE(DefaultConfig()) {
		t.Error("GenerateCUE() output differs between calls")
	}
}

func TestCreateDefaultConfig(t *testing.T) {
	dir := t.TempDir()
	SetConfigDirOverride(dir)
	t.Cleanup(Reset)

	path, err := CreateDefaultConfig()
	if err != nil {
		t.Fatalf("CreateDefaultConfig() returned error: %v", err)
	}
	if path != filepath.Join(dir, "config.cue") {
		t.Errorf("path = %q", path)
	}

	if err := os.WriteFile(path, []byte(`vm: cpus: 8`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := CreateDefaultConfig(); err != nil {
		t.Fatalf("second CreateDefaultConfig() returned error: %v", err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != `vm: cpus: 8` {
		t.Error("CreateDefaultConfig() should not overwrite an existing file")
	}
}

func TestConfig_IsValid(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.VM.CPUs = 0
	cfg.Installer.FetchRetryMinTimeout = time.Hour

	valid, errs := cfg.IsValid()
	if valid {
		t.Fatal("IsValid() = true, want false")
	}
	if !errors.Is(errs[0], ErrInvalidConfig) {
		t.Errorf("error should wrap ErrInvalidConfig: %v", errs[0])
	}
	var ice *InvalidConfigError
	if !errors.As(errs[0], &ice) || len(ice.FieldErrors) != 2 {
		t.Errorf("FieldErrors = %v", errs[0])
	}
}

func TestFormatPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   []string
		want string
	}{
		{nil, ""},
		{[]string{"vm"}, "vm"},
		{[]string{"installer", "resolvers", "0"}, "installer.resolvers[0]"},
	}
	for _, tt := range tests {
		if got := formatPath(tt.in); got != tt.want {
			t.Errorf("formatPath(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
