// SPDX-License-Identifier: MPL-2.0

package profile

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

const (
	// ManifestFile is the package manifest inside a source tree.
	ManifestFile = "packages.x86_64"
	// MetadataFile is the optional profile metadata inside a source tree.
	MetadataFile = "profile.toml"
	// OverlayDir is the root filesystem overlay inside a source tree.
	OverlayDir = "airootfs"
	// DefinitionFile is the archiso profile definition written to the profile directory.
	DefinitionFile = "profiledef.sh"

	// NamespaceMarker makes a directory importable by the Python interpreter.
	NamespaceMarker = "__init__.py"

	// ShellPackageDir is the shell's package directory under the module
	// namespace. It always carries a NamespaceMarker.
	ShellPackageDir = "shell"
)

var (
	// ErrManifestMissing is wrapped when the source tree has no package manifest.
	ErrManifestMissing = errors.New("package manifest missing")
	// ErrManifestEmpty is wrapped when the manifest lists no packages.
	ErrManifestEmpty = errors.New("package manifest empty")
	// ErrInvalidPermission is wrapped when a permission entry cannot be parsed.
	ErrInvalidPermission = errors.New("invalid permission entry")
)

type (
	// AssemblyError reports a failure to assemble a profile.
	AssemblyError struct {
		Path string
		Err  error
	}

	// Permission is an owner:group:mode entry of the archiso permission table.
	Permission struct {
		Owner string
		Group string
		Mode  fs.FileMode
	}

	// File is one entry of the overlay file tree.
	File struct {
		// ImagePath is the slash-separated path relative to the image root.
		ImagePath string
		// Source is the host file to copy. Ignored when Content or Link is set.
		Source string
		// Content is written verbatim when non-nil.
		Content []byte
		// Link makes the entry a symlink with this target.
		Link string
		// Mode is the permission bits of the written file.
		Mode fs.FileMode
	}

	// Metadata is the [profile] table of profile.toml rendered into profiledef.sh.
	Metadata struct {
		ISOName                  string   `toml:"iso_name"`
		ISOLabel                 string   `toml:"iso_label"`
		ISOPublisher             string   `toml:"iso_publisher"`
		ISOApplication           string   `toml:"iso_application"`
		ISOVersion               string   `toml:"iso_version"`
		InstallDir               string   `toml:"install_dir"`
		BuildModes               []string `toml:"buildmodes"`
		BootModes                []string `toml:"bootmodes"`
		Arch                     string   `toml:"arch"`
		PacmanConf               string   `toml:"pacman_conf"`
		AirootfsImageType        string   `toml:"airootfs_image_type"`
		AirootfsImageToolOptions []string `toml:"airootfs_image_tool_options"`
	}

	// BuildProfile is the merged package set, overlay tree, permission table
	// and metadata of one build. It does not change after assembly.
	BuildProfile struct {
		packages    []string
		files       []File
		permissions map[string]Permission
		metadata    Metadata
	}
)

func (e *AssemblyError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("assemble profile: %v", e.Err)
	}
	return fmt.Sprintf("assemble profile: %s: %v", e.Path, e.Err)
}

func (e *AssemblyError) Unwrap() error { return e.Err }

// ParsePermission parses "owner:group:mode" with an octal mode.
func ParsePermission(s string) (Permission, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return Permission{}, fmt.Errorf("%w: %q is not owner:group:mode", ErrInvalidPermission, s)
	}
	mode, err := strconv.ParseUint(parts[2], 8, 32)
	if err != nil || mode > 0o7777 {
		return Permission{}, fmt.Errorf("%w: %q has a bad mode", ErrInvalidPermission, s)
	}
	return Permission{Owner: parts[0], Group: parts[1], Mode: fs.FileMode(mode)}, nil
}

// String renders the entry as archiso expects, e.g. "0:0:755".
func (p Permission) String() string {
	return fmt.Sprintf("%s:%s:%o", p.Owner, p.Group, uint32(p.Mode))
}

// DefaultMetadata returns the metadata used for keys profile.toml leaves unset.
func DefaultMetadata() Metadata {
	return Metadata{
		ISOName:        "vibeos",
		ISOLabel:       "VIBEOS",
		ISOPublisher:   "VibeOS <https://vibeos.dev>",
		ISOApplication: "VibeOS Live/Rescue DVD",
		ISOVersion:     "rolling",
		InstallDir:     "arch",
		BuildModes:     []string{"iso"},
		BootModes: []string{
			"bios.syslinux.mbr",
			"bios.syslinux.eltorito",
			"uefi-x64.systemd-boot.esp",
			"uefi-x64.systemd-boot.eltorito",
		},
		Arch:                     "x86_64",
		PacmanConf:               "pacman.conf",
		AirootfsImageType:        "squashfs",
		AirootfsImageToolOptions: []string{"-comp", "xz", "-Xbcj", "x86", "-b", "1M", "-Xdict-size", "1M"},
	}
}

func (m Metadata) withDefaults() Metadata {
	d := DefaultMetadata()
	pick := func(v, def string) string {
		if v == "" {
			return def
		}
		return v
	}
	m.ISOName = pick(m.ISOName, d.ISOName)
	m.ISOLabel = pick(m.ISOLabel, d.ISOLabel)
	m.ISOPublisher = pick(m.ISOPublisher, d.ISOPublisher)
	m.ISOApplication = pick(m.ISOApplication, d.ISOApplication)
	m.ISOVersion = pick(m.ISOVersion, d.ISOVersion)
	m.InstallDir = pick(m.InstallDir, d.InstallDir)
	m.Arch = pick(m.Arch, d.Arch)
	m.PacmanConf = pick(m.PacmanConf, d.PacmanConf)
	m.AirootfsImageType = pick(m.AirootfsImageType, d.AirootfsImageType)
	if len(m.BuildModes) == 0 {
		m.BuildModes = d.BuildModes
	}
	if len(m.BootModes) == 0 {
		m.BootModes = d.BootModes
	}
	if len(m.AirootfsImageToolOptions) == 0 {
		m.AirootfsImageToolOptions = d.AirootfsImageToolOptions
	}
	return m
}

// Packages returns the ordered package set.
func (p *BuildProfile) Packages() []string { return slices.Clone(p.packages) }

// Files returns the overlay file tree sorted by image path.
func (p *BuildProfile) Files() []File {
	out := slices.Clone(p.files)
	for i := range out {
		out[i].Content = slices.Clone(out[i].Content)
	}
	return out
}

// Permissions returns the permission table keyed by absolute image path.
func (p *BuildProfile) Permissions() map[string]Permission { return maps.Clone(p.permissions) }

// Metadata returns the profile metadata.
func (p *BuildProfile) Metadata() Metadata {
	m := p.metadata
	m.BuildModes = slices.Clone(m.BuildModes)
	m.BootModes = slices.Clone(m.BootModes)
	m.AirootfsImageToolOptions = slices.Clone(m.AirootfsImageToolOptions)
	return m
}
