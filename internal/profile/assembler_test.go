// SPDX-License-Identifier: MPL-2.0

package profile

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
)

func writeFile(t *testing.T, path, content string, mode os.FileMode) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), mode); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(path, mode); err != nil {
		t.Fatal(err)
	}
}

func testOptions() Options {
	return Options{
		RequiredPackages: []string{"nodejs", "npm", "python"},
		LauncherPaths:    []string{"usr/local/bin/", "root/customize_airootfs.sh"},
		ModuleNamespace:  "usr/lib/vibeos/",
	}
}

// newSourceTree lays out a small but complete source tree.
func newSourceTree(t *testing.T) string {
	t.Helper()
	src := t.TempDir()
	writeFile(t, filepath.Join(src, ManifestFile), "# base\nbase\nlinux\n\nnodejs # runtime\nbase\n", 0o644)
	writeFile(t, filepath.Join(src, "pacman.conf"), "[options]\n", 0o644)
	writeFile(t, filepath.Join(src, "syslinux", "syslinux.cfg"), "DEFAULT arch\n", 0o644)
	writeFile(t, filepath.Join(src, OverlayDir, "usr", "local", "bin", "vibesh"), "#!/usr/bin/env python3\n", 0o644)
	writeFile(t, filepath.Join(src, OverlayDir, "root", "customize_airootfs.sh"), "#!/bin/bash\n", 0o600)
	writeFile(t, filepath.Join(src, OverlayDir, "usr", "lib", "vibeos", "shell", "vibesh.py"), "print('hi')\n", 0o755)
	writeFile(t, filepath.Join(src, OverlayDir, "etc", "motd"), "welcome\n", 0o640)
	return src
}

func TestAssemble_Permissions(t *testing.T) {
	t.Parallel()

	src := newSourceTree(t)
	dest := filepath.Join(t.TempDir(), "profile")

	dir, err := NewAssembler(testOptions(), nil).Assemble(t.Context(), src, dest)
	if err != nil {
		t.Fatalf("Assemble() returned error: %v", err)
	}

	tests := []struct {
		path string
		mode fs.FileMode
	}{
		{"airootfs/usr/local/bin/vibesh", 0o755},
		{"airootfs/root/customize_airootfs.sh", 0o755},
		{"airootfs/usr/lib/vibeos/shell/vibesh.py", 0o644},
		{"airootfs/usr/lib/vibeos/shell/__init__.py", 0o644},
		{"airootfs/etc/motd", 0o640},
	}
	for _, tt := range tests {
		info, err := os.Stat(filepath.Join(dest, tt.path))
		if err != nil {
			t.Errorf("%s: %v", tt.path, err)
			continue
		}
		if info.Mode().Perm() != tt.mode {
			t.Errorf("%s mode = %o, want %o", tt.path, info.Mode().Perm(), tt.mode)
		}
	}

	perms := dir.Profile.Permissions()
	wantPerms := map[string]string{
		"/usr/local/bin/vibesh":             "0:0:755",
		"/root/customize_airootfs.sh":       "0:0:755",
		"/usr/lib/vibeos/shell/vibesh.py":   "0:0:644",
		"/usr/lib/vibeos/shell/__init__.py": "0:0:644",
	}
	for p, want := range wantPerms {
		if got := perms[p].String(); got != want {
			t.Errorf("permission %s = %s, want %s", p, got, want)
		}
	}
	if _, ok := perms["/etc/motd"]; ok {
		t.Error("plain overlay files should not get a permission entry")
	}

	def, err := os.ReadFile(filepath.Join(dest, DefinitionFile))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(def), `["/root/customize_airootfs.sh"]=0:0:755`) {
		t.Errorf("profiledef.sh missing hook permission:\n%s", def)
	}

	for _, extra := range []string{"pacman.conf", "syslinux/syslinux.cfg"} {
		if _, err := os.Stat(filepath.Join(dest, extra)); err != nil {
			t.Errorf("extra file %s not copied: %v", extra, err)
		}
	}
}

func TestAssemble_Packages(t *testing.T) {
	t.Parallel()

	src := newSourceTree(t)
	dest := filepath.Join(t.TempDir(), "profile")

	dir, err := NewAssembler(testOptions(), nil).Assemble(t.Context(), src, dest)
	if err != nil {
		t.Fatal(err)
	}

	want := []string{"base", "linux", "nodejs", "npm", "python"}
	if got := dir.Profile.Packages(); !slices.Equal(got, want) {
		t.Errorf("Packages() = %v, want %v", got, want)
	}
	data, _ := os.ReadFile(filepath.Join(dest, ManifestFile))
	if string(data) != strings.Join(want, "\n")+"\n" {
		t.Errorf("manifest = %q", data)
	}

	// Accessors hand out copies.
	pkgs := dir.Profile.Packages()
	pkgs[0] = "mutated"
	if dir.Profile.Packages()[0] != "base" {
		t.Error("Packages() must return a copy")
	}
}

func TestAssemble_ManifestErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		manifest *string
		want     error
	}{
		{name: "missing", manifest: nil, want: ErrManifestMissing},
		{name: "empty", manifest: ptr(""), want: ErrManifestEmpty},
		{name: "comments only", manifest: ptr("# nothing\n\n   # here\n"), want: ErrManifestEmpty},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			src := t.TempDir()
			if tt.manifest != nil {
				writeFile(t, filepath.Join(src, ManifestFile), *tt.manifest, 0o644)
			}
			_, err := NewAssembler(testOptions(), nil).Assemble(t.Context(), src, filepath.Join(t.TempDir(), "out"))
			var ae *AssemblyError
			if !errors.As(err, &ae) {
				t.Fatalf("Assemble() error = %v, want *AssemblyError", err)
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("Assemble() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestAssemble_Idempotent(t *testing.T) {
	t.Parallel()

	src := newSourceTree(t)
	if err := os.Symlink("/usr/lib/systemd/system/sshd.service", filepath.Join(src, OverlayDir, "etc", "sshd.service")); err != nil {
		t.Fatal(err)
	}
	dest := filepath.Join(t.TempDir(), "profile")
	asm := NewAssembler(testOptions(), nil)

	first, err := asm.Assemble(t.Context(), src, dest)
	if err != nil {
		t.Fatal(err)
	}
	firstDigest, err := first.Digest()
	if err != nil {
		t.Fatal(err)
	}

	// A leftover from an earlier build must not survive reassembly.
	writeFile(t, filepath.Join(dest, "stale"), "x", 0o644)

	second, err := asm.Assemble(t.Context(), src, dest)
	if err != nil {
		t.Fatal(err)
	}
	secondDigest, _ := second.Digest()
	if firstDigest != secondDigest {
		t.Error("assembling an unchanged tree twice produced different directories")
	}

	other, err := asm.Assemble(t.Context(), src, filepath.Join(t.TempDir(), "profile"))
	if err != nil {
		t.Fatal(err)
	}
	otherDigest, _ := other.Digest()
	if otherDigest != firstDigest {
		t.Error("output should not depend on the destination path")
	}
}

func TestAssemble_ExistingNamespaceMarker(t *testing.T) {
	t.Parallel()

	src := newSourceTree(t)
	writeFile(t, filepath.Join(src, OverlayDir, "usr", "lib", "vibeos", "shell", NamespaceMarker), "# pkg\n", 0o644)

	dir, err := NewAssembler(testOptions(), nil).Assemble(t.Context(), src, filepath.Join(t.TempDir(), "p"))
	if err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(filepath.Join(dir.Root, OverlayDir, "usr", "lib", "vibeos", "shell", NamespaceMarker))
	if string(data) != "# pkg\n" {
		t.Errorf("existing marker overwritten: %q", data)
	}
}

// The shell package gets its marker even before any module is installed into it.
func TestAssemble_ShellMarkerWithoutSources(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	writeFile(t, filepath.Join(src, ManifestFile), "base\n", 0o644)
	writeFile(t, filepath.Join(src, OverlayDir, "usr", "lib", "vibeos", "shell", "prompts.txt"), "hi\n", 0o644)
	writeFile(t, filepath.Join(src, OverlayDir, "usr", "lib", "vibeos", "data", "words.txt"), "x\n", 0o644)

	dir, err := NewAssembler(testOptions(), nil).Assemble(t.Context(), src, filepath.Join(t.TempDir(), "p"))
	if err != nil {
		t.Fatal(err)
	}
	marker := filepath.Join(dir.Root, OverlayDir, "usr", "lib", "vibeos", "shell", NamespaceMarker)
	info, err := os.Stat(marker)
	if err != nil {
		t.Fatalf("shell package marker missing: %v", err)
	}
	if info.Size() != 0 || info.Mode().Perm() != 0o644 {
		t.Errorf("marker size %d mode %v, want empty 0644", info.Size(), info.Mode().Perm())
	}
	if _, err := os.Stat(filepath.Join(dir.Root, OverlayDir, "usr", "lib", "vibeos", "data", NamespaceMarker)); !os.IsNotExist(err) {
		t.Errorf("directories without sources should not get a marker: %v", err)
	}
}

func TestAssemble_InjectAndExplicitPermissions(t *testing.T) {
	t.Parallel()

	src := newSourceTree(t)
	writeFile(t, filepath.Join(src, MetadataFile), `
[profile]
iso_name = "vibeos-dev"
bootmodes = ["uefi-x64.systemd-boot.esp"]

[permissions]
"/etc/shadow" = "0:0:400"
"/usr/local/bin/vibesh" = "0:0:750"
`, 0o644)

	binary := filepath.Join(t.TempDir(), "vibeos")
	writeFile(t, binary, "\x7fELF", 0o600)

	opts := testOptions()
	opts.Inject = []File{
		{ImagePath: "usr/local/bin/vibeos", Source: binary},
		{ImagePath: "root/customize_airootfs.sh", Content: []byte("#!/bin/bash\nvibeos provision\n")},
		{ImagePath: "etc/vibeos/vibeos.cue", Content: []byte("state_dir: \"/etc/vibeos\"\n"), Mode: 0o644},
	}

	dir, err := NewAssembler(opts, nil).Assemble(t.Context(), src, filepath.Join(t.TempDir(), "p"))
	if err != nil {
		t.Fatal(err)
	}

	hook, _ := os.ReadFile(filepath.Join(dir.Root, OverlayDir, "root", "customize_airootfs.sh"))
	if !strings.Contains(string(hook), "vibeos provision") {
		t.Errorf("injected hook should replace the overlay one, got %q", hook)
	}
	info, err := os.Stat(filepath.Join(dir.Root, OverlayDir, "usr", "local", "bin", "vibeos"))
	if err != nil || info.Mode().Perm() != 0o755 {
		t.Errorf("injected binary mode = %v, %v", info, err)
	}

	perms := dir.Profile.Permissions()
	if perms["/etc/shadow"].String() != "0:0:400" {
		t.Errorf("/etc/shadow = %s", perms["/etc/shadow"])
	}
	if perms["/usr/local/bin/vibesh"].String() != "0:0:750" {
		t.Errorf("explicit entry should override generated one, got %s", perms["/usr/local/bin/vibesh"])
	}

	meta := dir.Profile.Metadata()
	if meta.ISOName != "vibeos-dev" || !slices.Equal(meta.BootModes, []string{"uefi-x64.systemd-boot.esp"}) {
		t.Errorf("Metadata() = %+v", meta)
	}
	if meta.Arch != "x86_64" {
		t.Errorf("unset keys should take defaults, Arch = %q", meta.Arch)
	}
}

func TestAssemble_InvalidPermissions(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"relative path": `[permissions]
"etc/shadow" = "0:0:400"`,
		"bad mode": `[permissions]
"/etc/shadow" = "0:0:999"`,
		"missing group": `[permissions]
"/etc/shadow" = "0::400"`,
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			src := newSourceTree(t)
			writeFile(t, filepath.Join(src, MetadataFile), content, 0o644)
			_, err := NewAssembler(testOptions(), nil).Assemble(t.Context(), src, filepath.Join(t.TempDir(), "p"))
			if !errors.Is(err, ErrInvalidPermission) {
				t.Errorf("Assemble() error = %v, want ErrInvalidPermission", err)
			}
		})
	}
}

func TestAssemble_CanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	dest := filepath.Join(t.TempDir(), "p")
	if _, err := NewAssembler(testOptions(), nil).Assemble(ctx, newSourceTree(t), dest); !errors.Is(err, context.Canceled) {
		t.Fatalf("Assemble() error = %v", err)
	}
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Error("nothing should be written after cancellation")
	}
}

func ptr[T any](v T) *T { return &v }
