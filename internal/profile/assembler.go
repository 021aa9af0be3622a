// SPDX-License-Identifier: MPL-2.0

package profile

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/vibeos/vibeos/internal/fsutil"

	"github.com/pelletier/go-toml/v2"
)

const (
	launcherMode fs.FileMode = 0o755
	dataMode     fs.FileMode = 0o644
)

type (
	// Options configures an Assembler.
	Options struct {
		// RequiredPackages are appended to the manifest when absent.
		RequiredPackages []string
		// LauncherPaths are image path prefixes whose files must be executable.
		// A prefix without a trailing slash matches one file exactly.
		LauncherPaths []string
		// ModuleNamespace is the image path prefix of the shell's data modules.
		ModuleNamespace string
		// Inject adds or replaces overlay files.
		Inject []File
	}

	// Assembler turns a source tree into a profile directory.
	Assembler struct {
		opts   Options
		logger *slog.Logger
	}

	// ProfileDirectory is an assembled profile on disk.
	ProfileDirectory struct {
		Root    string
		Profile *BuildProfile
	}

	metadataFile struct {
		Profile     Metadata          `toml:"profile"`
		Permissions map[string]string `toml:"permissions"`
	}
)

// NewAssembler creates an Assembler. A nil logger uses slog.Default().
func NewAssembler(opts Options, logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{opts: opts, logger: logger}
}

// Digest hashes the profile directory by path, mode and content.
func (d *ProfileDirectory) Digest() (string, error) {
	return fsutil.CalculateDirHash(d.Root)
}

// Load reads sourceTree into a BuildProfile without writing anything.
func (a *Assembler) Load(sourceTree string) (*BuildProfile, error) {
	packages, err := readManifest(filepath.Join(sourceTree, ManifestFile))
	if err != nil {
		return nil, err
	}

	meta, explicit, err := readMetadata(filepath.Join(sourceTree, MetadataFile))
	if err != nil {
		return nil, err
	}

	files, err := a.collectOverlay(filepath.Join(sourceTree, OverlayDir))
	if err != nil {
		return nil, err
	}
	files = a.inject(files)
	files = a.synthesizeMarkers(files)

	for i := range files {
		if files[i].Link == "" {
			files[i].Mode = a.modeFor(files[i].ImagePath, files[i].Mode)
		}
	}
	sort.Slice(files, func(i, j int) bool { return files[i].ImagePath < files[j].ImagePath })

	permissions := a.permissionTable(files)
	for p, perm := range explicit {
		permissions[p] = perm
	}

	return &BuildProfile{
		packages:    mergePackages(packages, a.opts.RequiredPackages),
		files:       files,
		permissions: permissions,
		metadata:    meta.withDefaults(),
	}, nil
}

// Assemble rebuilds dest from sourceTree. Output depends only on the inputs,
// so assembling an unchanged tree twice yields identical directories.
func (a *Assembler) Assemble(ctx context.Context, sourceTree, dest string) (*ProfileDirectory, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	profile, err := a.Load(sourceTree)
	if err != nil {
		return nil, err
	}

	if err := os.RemoveAll(dest); err != nil {
		return nil, &AssemblyError{Path: dest, Err: err}
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return nil, &AssemblyError{Path: dest, Err: err}
	}

	if err := a.copyExtras(sourceTree, dest); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for _, f := range profile.files {
		if err := writeOverlayFile(filepath.Join(dest, OverlayDir), f); err != nil {
			return nil, err
		}
	}

	manifestPath := filepath.Join(dest, ManifestFile)
	if err := fsutil.WriteFileAtomic(manifestPath, renderManifest(profile.packages), dataMode); err != nil {
		return nil, &AssemblyError{Path: manifestPath, Err: err}
	}

	def, err := renderProfileDef(profile.metadata, profile.permissions)
	if err != nil {
		return nil, &AssemblyError{Path: DefinitionFile, Err: err}
	}
	defPath := filepath.Join(dest, DefinitionFile)
	if err := fsutil.WriteFileAtomic(defPath, def, dataMode); err != nil {
		return nil, &AssemblyError{Path: defPath, Err: err}
	}

	a.logger.Debug("profile assembled",
		"dest", dest,
		"packages", len(profile.packages),
		"files", len(profile.files),
		"permissions", len(profile.permissions))

	return &ProfileDirectory{Root: dest, Profile: profile}, nil
}

func readMetadata(file string) (Metadata, map[string]Permission, error) {
	data, err := os.ReadFile(file)
	if errors.Is(err, fs.ErrNotExist) {
		return Metadata{}, nil, nil
	}
	if err != nil {
		return Metadata{}, nil, &AssemblyError{Path: file, Err: err}
	}

	var mf metadataFile
	if err := toml.Unmarshal(data, &mf); err != nil {
		return Metadata{}, nil, &AssemblyError{Path: file, Err: fmt.Errorf("parse TOML: %w", err)}
	}

	perms := make(map[string]Permission, len(mf.Permissions))
	for p, raw := range mf.Permissions {
		if !path.IsAbs(p) {
			return Metadata{}, nil, &AssemblyError{Path: file, Err: fmt.Errorf("%w: path %q is not absolute", ErrInvalidPermission, p)}
		}
		perm, err := ParsePermission(raw)
		if err != nil {
			return Metadata{}, nil, &AssemblyError{Path: file, Err: err}
		}
		perms[path.Clean(p)] = perm
	}
	return mf.Profile, perms, nil
}

func (a *Assembler) collectOverlay(root string) ([]File, error) {
	var files []File
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == root && errors.Is(err, fs.ErrNotExist) {
				return fs.SkipDir
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		f := File{ImagePath: filepath.ToSlash(rel), Source: p}
		if d.Type()&fs.ModeSymlink != 0 {
			if f.Link, err = os.Readlink(p); err != nil {
				return err
			}
			files = append(files, f)
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		f.Mode = info.Mode().Perm()
		files = append(files, f)
		return nil
	})
	if err != nil {
		return nil, &AssemblyError{Path: root, Err: err}
	}
	return files, nil
}

func (a *Assembler) inject(files []File) []File {
	if len(a.opts.Inject) == 0 {
		return files
	}
	replaced := make(map[string]bool, len(a.opts.Inject))
	for _, f := range a.opts.Inject {
		replaced[f.ImagePath] = true
	}
	out := files[:0]
	for _, f := range files {
		if !replaced[f.ImagePath] {
			out = append(out, f)
		}
	}
	return append(out, a.opts.Inject...)
}

// synthesizeMarkers adds an empty namespace marker to the shell package
// directory and to every other directory under the module namespace that
// holds Python sources, unless the directory already has one.
func (a *Assembler) synthesizeMarkers(files []File) []File {
	if a.opts.ModuleNamespace == "" {
		return files
	}
	hasSources := map[string]bool{
		path.Join(a.opts.ModuleNamespace, ShellPackageDir): true,
	}
	hasMarker := map[string]bool{}
	for _, f := range files {
		if !strings.HasPrefix(f.ImagePath, a.opts.ModuleNamespace) {
			continue
		}
		dir := path.Dir(f.ImagePath)
		switch {
		case path.Base(f.ImagePath) == NamespaceMarker:
			hasMarker[dir] = true
		case strings.HasSuffix(f.ImagePath, ".py"):
			hasSources[dir] = true
		}
	}

	dirs := make([]string, 0, len(hasSources))
	for dir := range hasSources {
		if !hasMarker[dir] {
			dirs = append(dirs, dir)
		}
	}
	sort.Strings(dirs)
	for _, dir := range dirs {
		a.logger.Debug("synthesizing namespace marker", "dir", dir)
		files = append(files, File{ImagePath: path.Join(dir, NamespaceMarker), Content: []byte{}})
	}
	return files
}

func (a *Assembler) isLauncher(imagePath string) bool {
	for _, prefix := range a.opts.LauncherPaths {
		if strings.HasSuffix(prefix, "/") {
			if strings.HasPrefix(imagePath, prefix) {
				return true
			}
		} else if imagePath == prefix {
			return true
		}
	}
	return false
}

func (a *Assembler) inNamespace(imagePath string) bool {
	return a.opts.ModuleNamespace != "" && strings.HasPrefix(imagePath, a.opts.ModuleNamespace)
}

func (a *Assembler) modeFor(imagePath string, mode fs.FileMode) fs.FileMode {
	switch {
	case a.isLauncher(imagePath):
		return launcherMode
	case a.inNamespace(imagePath):
		return dataMode
	case mode == 0:
		return dataMode
	default:
		return mode
	}
}

func (a *Assembler) permissionTable(files []File) map[string]Permission {
	table := map[string]Permission{}
	for _, f := range files {
		if f.Link != "" {
			continue
		}
		if a.isLauncher(f.ImagePath) || a.inNamespace(f.ImagePath) {
			table["/"+f.ImagePath] = Permission{Owner: "0", Group: "0", Mode: f.Mode}
		}
	}
	return table
}

// copyExtras copies every top-level entry of sourceTree the assembler does not render.
func (a *Assembler) copyExtras(sourceTree, dest string) error {
	entries, err := os.ReadDir(sourceTree)
	if err != nil {
		return &AssemblyError{Path: sourceTree, Err: err}
	}
	for _, e := range entries {
		switch e.Name() {
		case ManifestFile, MetadataFile, OverlayDir, DefinitionFile:
			continue
		}
		src := filepath.Join(sourceTree, e.Name())
		dst := filepath.Join(dest, e.Name())
		switch {
		case e.IsDir():
			err = fsutil.CopyDir(src, dst)
		case e.Type()&fs.ModeSymlink != 0:
			err = fsutil.CopySymlink(src, dst)
		default:
			err = fsutil.CopyFile(src, dst, 0)
		}
		if err != nil {
			return &AssemblyError{Path: src, Err: err}
		}
	}
	return nil
}

func writeOverlayFile(root string, f File) error {
	dst := filepath.Join(root, filepath.FromSlash(f.ImagePath))
	var err error
	switch {
	case f.Link != "":
		if err = os.MkdirAll(filepath.Dir(dst), 0o755); err == nil {
			err = os.Symlink(f.Link, dst)
		}
	case f.Content != nil:
		err = fsutil.WriteFileAtomic(dst, f.Content, f.Mode)
	default:
		err = fsutil.CopyFile(f.Source, dst, f.Mode)
	}
	if err != nil {
		return &AssemblyError{Path: f.ImagePath, Err: err}
	}
	return nil
}
