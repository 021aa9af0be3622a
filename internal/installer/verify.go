// SPDX-License-Identifier: MPL-2.0

package installer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/vibeos/vibeos/internal/fsutil"

	"github.com/blang/semver/v4"
)

type (
	// Verification describes how the installed command was found invocable.
	Verification struct {
		// Path is the invocable command.
		Path string
		// WrapperPath is set when a synthesized wrapper was needed.
		WrapperPath string
		// Wrapper is 0 for a direct hit, else the 1-based wrapper variant.
		Wrapper int
		// Version is the probe output, normalized to semver when it parses.
		Version string
	}

	// Verifier checks that the installed dependency can be invoked.
	Verifier struct {
		settings Settings
		exec     Executor
		probe    ProbeFunc
		logger   *slog.Logger
	}

	packageManifest struct {
		Bin json.RawMessage `json:"bin"`
	}
)

// NewVerifier creates a Verifier.
func NewVerifier(s Settings, exec Executor, probe ProbeFunc, logger *slog.Logger) *Verifier {
	if logger == nil {
		logger = slog.Default()
	}
	if probe == nil {
		probe = VersionProbe
	}
	return &Verifier{settings: s, exec: exec, probe: probe, logger: logger}
}

// Verify resolves the command on PATH and probes it. When that fails it
// writes a wrapper that runs the entry point through the runtime, and then a
// second one that also overrides the module search path, probing each.
func (v *Verifier) Verify(ctx context.Context) (*Verification, error) {
	var tried []string
	var lastErr error

	if path, err := v.exec.LookPath(v.settings.Command); err == nil {
		tried = append(tried, path)
		out, err := v.probeWithTimeout(ctx, path)
		if err == nil {
			return &Verification{Path: path, Version: parseVersion(out)}, nil
		}
		lastErr = err
		v.logger.Warn("installed command failed its health probe", "path", path, "error", err)
	} else {
		v.logger.Warn("installed command not on PATH", "command", v.settings.Command)
	}

	moduleDir := v.moduleDir(ctx)
	entry := filepath.Join(moduleDir, v.entryPoint(moduleDir))
	runtime := v.settings.Runtime
	if p, err := v.exec.LookPath(runtime); err == nil {
		runtime = p
	}
	wrapperPath := filepath.Join(v.settings.BinDir, v.settings.Command)

	backup, err := setAside(wrapperPath)
	if err != nil {
		return nil, err
	}
	if backup != "" {
		v.logger.Info("moved existing command aside", "path", wrapperPath, "backup", backup)
	}

	variants := []string{"", nodeModulesRoot(moduleDir)}
	for i, modulePath := range variants {
		if err := ctx.Err(); err != nil {
			v.restore(wrapperPath, backup)
			return nil, err
		}
		script, err := wrapperScript(runtime, entry, modulePath)
		if err != nil {
			v.restore(wrapperPath, backup)
			return nil, err
		}
		if err := fsutil.WriteFileAtomic(wrapperPath, script, 0o755); err != nil {
			v.restore(wrapperPath, backup)
			return nil, fmt.Errorf("write wrapper: %w", err)
		}
		label := fmt.Sprintf("wrapper %d (%s)", i+1, wrapperPath)
		tried = append(tried, label)

		out, err := v.probeWithTimeout(ctx, wrapperPath)
		if err == nil {
			v.logger.Info("wrapper probe succeeded", "wrapper", i+1, "path", wrapperPath)
			return &Verification{Path: wrapperPath, WrapperPath: wrapperPath, Wrapper: i + 1, Version: parseVersion(out)}, nil
		}
		lastErr = err
		v.logger.Warn("wrapper probe failed", "wrapper", i+1, "path", wrapperPath, "error", err)
	}

	v.restore(wrapperPath, backup)
	return nil, &VerificationFailedError{Command: v.settings.Command, Tried: tried, Err: lastErr}
}

// setAside renames whatever occupies path to path+backupSuffix, unless it is
// a wrapper written by an earlier run. It returns the backup path, or "" when
// nothing was moved.
func setAside(path string) (string, error) {
	info, err := os.Lstat(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("inspect %s: %w", path, err)
	}
	if info.Mode().IsRegular() && isWrapper(path) {
		return "", nil
	}
	backup := path + backupSuffix
	if err := os.Rename(path, backup); err != nil {
		return "", fmt.Errorf("move %s aside: %w", path, err)
	}
	return backup, nil
}

// restore removes the wrapper at path and puts backup back. A wrapper that
// does not work must not shadow a later manual install.
func (v *Verifier) restore(path, backup string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		v.logger.Warn("failed to remove broken wrapper", "path", path, "error", err)
	}
	if backup == "" {
		return
	}
	if err := os.Rename(backup, path); err != nil {
		v.logger.Warn("failed to restore original command", "path", path, "backup", backup, "error", err)
	}
}

func isWrapper(path string) bool {
	data, err := os.ReadFile(path)
	return err == nil && bytes.Contains(data, []byte(wrapperHeader))
}

func (v *Verifier) probeWithTimeout(ctx context.Context, path string) (string, error) {
	ctx, cancel := withTimeout(ctx, v.settings.ProbeTimeout)
	defer cancel()
	return v.probe(ctx, path)
}

// moduleDir asks the fetch tool for its global module root and falls back
// to the configured directory.
func (v *Verifier) moduleDir(ctx context.Context) string {
	fetch, err := v.exec.LookPath(v.settings.FetchTool)
	if err != nil {
		return v.settings.ModuleDir
	}
	out, code, err := v.exec.Run(ctx, Command{Path: fetch, Args: []string{"root", "-g"}})
	root := strings.TrimSpace(out)
	if err != nil || code != 0 || !filepath.IsAbs(root) {
		return v.settings.ModuleDir
	}
	return filepath.Join(root, filepath.FromSlash(v.settings.Package))
}

// entryPoint reads the command's entry from package.json "bin", which is
// either a path or a map of command name to path.
func (v *Verifier) entryPoint(moduleDir string) string {
	data, err := os.ReadFile(filepath.Join(moduleDir, "package.json"))
	if err != nil {
		return v.settings.EntryPoint
	}
	var pkg packageManifest
	if err := json.Unmarshal(data, &pkg); err != nil || len(pkg.Bin) == 0 {
		return v.settings.EntryPoint
	}

	var entry string
	var single string
	var multi map[string]string
	switch {
	case json.Unmarshal(pkg.Bin, &single) == nil:
		entry = single
	case json.Unmarshal(pkg.Bin, &multi) == nil:
		entry = multi[v.settings.Command]
	}

	entry = filepath.Clean(filepath.FromSlash(entry))
	if entry == "." || !filepath.IsLocal(entry) {
		return v.settings.EntryPoint
	}
	return entry
}

// nodeModulesRoot returns the node_modules directory containing moduleDir,
// e.g. /usr/lib/node_modules for /usr/lib/node_modules/@scope/pkg.
func nodeModulesRoot(moduleDir string) string {
	dir := moduleDir
	for dir != "/" && dir != "." {
		if filepath.Base(dir) == "node_modules" {
			return dir
		}
		dir = filepath.Dir(dir)
	}
	return filepath.Dir(moduleDir)
}

// parseVersion returns the first token of out that parses as a version, or
// the first line of out.
func parseVersion(out string) string {
	for _, field := range strings.Fields(out) {
		if v, err := semver.ParseTolerant(field); err == nil {
			return v.String()
		}
	}
	line, _, _ := strings.Cut(strings.TrimSpace(out), "\n")
	return line
}
