// SPDX-License-Identifier: MPL-2.0

package fsutil

import (
	"os"
	"path/filepath"
	"testing"
	"time"
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

func TestCalculateDirHash_IgnoresModTime(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a", "b.txt"), "hello", 0o644)

	before, err := CalculateDirHash(dir)
	if err != nil {
		t.Fatal(err)
	}

	future := time.Now().Add(time.Hour)
	if err := os.Chtimes(filepath.Join(dir, "a", "b.txt"), future, future); err != nil {
		t.Fatal(err)
	}

	after, err := CalculateDirHash(dir)
	if err != nil {
		t.Fatal(err)
	}
	if before != after {
		t.Error("hash changed after touching mtime")
	}
}

func TestCalculateDirHash_SeesModeAndContent(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "run.sh")
	writeFile(t, path, "echo", 0o644)
	base, _ := CalculateDirHash(dir)

	if err := os.Chmod(path, 0o755); err != nil {
		t.Fatal(err)
	}
	modeChanged, _ := CalculateDirHash(dir)
	if modeChanged == base {
		t.Error("hash should change with mode")
	}

	writeFile(t, path, "echo hi", 0o755)
	contentChanged, _ := CalculateDirHash(dir)
	if contentChanged == modeChanged {
		t.Error("hash should change with content")
	}
}

func TestCopyFile_Mode(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	writeFile(t, src, "data", 0o600)

	dst := filepath.Join(dir, "nested", "dst")
	if err := CopyFile(src, dst, 0o755); err != nil {
		t.Fatalf("CopyFile() returned error: %v", err)
	}
	info, err := os.Stat(dst)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o755 {
		t.Errorf("mode = %o, want 755", info.Mode().Perm())
	}

	keep := filepath.Join(dir, "keep")
	if err := CopyFile(src, keep, 0); err != nil {
		t.Fatal(err)
	}
	info, _ = os.Stat(keep)
	if info.Mode().Perm() != 0o600 {
		t.Errorf("mode = %o, want 600", info.Mode().Perm())
	}
}

func TestCopyDir(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	writeFile(t, filepath.Join(src, "x", "y", "z.txt"), "z", 0o644)
	writeFile(t, filepath.Join(src, "top"), "t", 0o755)

	dst := filepath.Join(t.TempDir(), "copy")
	if err := CopyDir(src, dst); err != nil {
		t.Fatalf("CopyDir() returned error: %v", err)
	}

	srcHash, _ := CalculateDirHash(src)
	dstHash, _ := CalculateDirHash(dst)
	if srcHash != dstHash {
		t.Error("copied tree differs from source")
	}
}

func TestCopyDir_DanglingSymlink(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	link := filepath.Join(src, "etc", "systemd", "system", "multi-user.target.wants", "sshd.service")
	if err := os.MkdirAll(filepath.Dir(link), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink("/usr/lib/systemd/system/sshd.service", link); err != nil {
		t.Fatal(err)
	}

	dst := t.TempDir()
	if err := CopyDir(src, dst); err != nil {
		t.Fatalf("CopyDir() returned error: %v", err)
	}
	target, err := os.Readlink(filepath.Join(dst, "etc", "systemd", "system", "multi-user.target.wants", "sshd.service"))
	if err != nil || target != "/usr/lib/systemd/system/sshd.service" {
		t.Errorf("Readlink() = %q, %v", target, err)
	}

	srcHash, err := CalculateDirHash(src)
	if err != nil {
		t.Fatalf("CalculateDirHash() returned error: %v", err)
	}
	dstHash, _ := CalculateDirHash(dst)
	if srcHash != dstHash {
		t.Error("symlink copy should hash identically")
	}
}

func TestWriteFileAtomic(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "state", "ai_config.json")

	if err := WriteFileAtomic(path, []byte(`{"a":1}`), 0o644); err != nil {
		t.Fatalf("WriteFileAtomic() returned error: %v", err)
	}
	if err := WriteFileAtomic(path, []byte(`{"a":2}`), 0o644); err != nil {
		t.Fatal(err)
	}

	data, _ := os.ReadFile(path)
	if string(data) != `{"a":2}` {
		t.Errorf("content = %s", data)
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("temp files left behind: %v", entries)
	}
}
