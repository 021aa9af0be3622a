// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// ContainerEnginePodman uses Podman as the container runtime.
	ContainerEnginePodman ContainerEngine = "podman"
	// ContainerEngineDocker uses Docker as the container runtime.
	ContainerEngineDocker ContainerEngine = "docker"

	// ColorSchemeAuto detects the terminal color scheme automatically.
	ColorSchemeAuto ColorScheme = "auto"
	// ColorSchemeDark forces dark color scheme.
	ColorSchemeDark ColorScheme = "dark"
	// ColorSchemeLight forces light color scheme.
	ColorSchemeLight ColorScheme = "light"

	// DefaultStateDir is where the provisioning record lives inside the image.
	DefaultStateDir = "/etc/vibeos"
	// ImageConfigPath is where the rendered installer config is baked into the image.
	ImageConfigPath = "/etc/vibeos/vibeos.cue"
)

var (
	// ErrInvalidContainerEngine is returned when a ContainerEngine value is not recognized.
	ErrInvalidContainerEngine = errors.New("invalid container engine")
	// ErrInvalidColorScheme is returned when a ColorScheme value is not recognized.
	ErrInvalidColorScheme = errors.New("invalid color scheme")
	// ErrInvalidConfig is the sentinel error wrapped by InvalidConfigError.
	ErrInvalidConfig = errors.New("invalid config")
)

type (
	// ContainerEngine specifies which container runtime to use.
	ContainerEngine string

	// InvalidContainerEngineError is returned when a ContainerEngine value is not recognized.
	// It wraps ErrInvalidContainerEngine for errors.Is() compatibility.
	InvalidContainerEngineError struct {
		Value ContainerEngine
	}

	// ColorScheme specifies the terminal color scheme preference.
	ColorScheme string

	// InvalidColorSchemeError is returned when a ColorScheme value is not recognized.
	InvalidColorSchemeError struct {
		Value ColorScheme
	}

	// InvalidConfigError is returned when a Config has invalid fields.
	// It wraps ErrInvalidConfig for errors.Is() compatibility and collects
	// field-level validation errors from all sub-components.
	InvalidConfigError struct {
		FieldErrors []error
	}

	// Config holds the application configuration.
	Config struct {
		// ContainerEngine specifies whether to use "podman" or "docker".
		ContainerEngine ContainerEngine `json:"container_engine" mapstructure:"container_engine"`
		// StateDir holds the provisioning record and marker files.
		StateDir string `json:"state_dir" mapstructure:"state_dir"`
		// Build configures the host-side build.
		Build BuildConfig `json:"build" mapstructure:"build"`
		// Installer configures the in-sandbox dependency installer.
		Installer InstallerConfig `json:"installer" mapstructure:"installer"`
		// Launch configures the boot launch selector.
		Launch LaunchConfig `json:"launch" mapstructure:"launch"`
		// VM configures the QEMU test runner.
		VM VMConfig `json:"vm" mapstructure:"vm"`
		// UI configures the user interface.
		UI UIConfig `json:"ui" mapstructure:"ui"`
	}

	// BuildConfig configures the Build Orchestrator and the Profile Assembler.
	BuildConfig struct {
		Workspace  string `json:"workspace" mapstructure:"workspace"`
		OutputDir  string `json:"output_dir" mapstructure:"output_dir"`
		ProfileDir string `json:"profile_dir" mapstructure:"profile_dir"`
		// BaseImage is the container image the builder sandbox derives from.
		BaseImage string `json:"base_image" mapstructure:"base_image"`
		// BuilderPackages are installed into the sandbox base image.
		BuilderPackages []string `json:"builder_packages" mapstructure:"builder_packages"`
		// RequiredPackages are appended to the image manifest when absent.
		RequiredPackages []string `json:"required_packages" mapstructure:"required_packages"`
		// LauncherPaths are overlay path prefixes that must be executable.
		LauncherPaths []string `json:"launcher_paths" mapstructure:"launcher_paths"`
		// ModuleNamespace is the overlay prefix holding the shell's data modules.
		ModuleNamespace string `json:"module_namespace" mapstructure:"module_namespace"`
		ForceRebuild    bool   `json:"force_rebuild" mapstructure:"force_rebuild"`
		// TeardownTimeout bounds sandbox removal after cancellation.
		TeardownTimeout time.Duration `json:"teardown_timeout" mapstructure:"teardown_timeout"`
	}

	// InstallerConfig configures the Dependency Installer.
	InstallerConfig struct {
		// Package is the fetch tool package name of the critical dependency.
		Package string `json:"package" mapstructure:"package"`
		// Command is the executable name the dependency installs.
		Command   string `json:"command" mapstructure:"command"`
		FetchTool string `json:"fetch_tool" mapstructure:"fetch_tool"`
		// Runtime is the interpreter wrappers exec the entry point with.
		Runtime             string   `json:"runtime" mapstructure:"runtime"`
		RegistryHost        string   `json:"registry_host" mapstructure:"registry_host"`
		AlternateRegistry   string   `json:"alternate_registry" mapstructure:"alternate_registry"`
		ConnectivityAddress string   `json:"connectivity_address" mapstructure:"connectivity_address"`
		Resolvers           []string `json:"resolvers" mapstructure:"resolvers"`
		ResolvConf          string   `json:"resolv_conf" mapstructure:"resolv_conf"`
		// OfflineArchive is a pre-fetched package tarball; empty disables the offline strategy.
		OfflineArchive       string        `json:"offline_archive" mapstructure:"offline_archive"`
		BinDir               string        `json:"bin_dir" mapstructure:"bin_dir"`
		ModuleDir            string        `json:"module_dir" mapstructure:"module_dir"`
		EntryPoint           string        `json:"entry_point" mapstructure:"entry_point"`
		FetchRetries         int           `json:"fetch_retries" mapstructure:"fetch_retries"`
		FetchRetryMinTimeout time.Duration `json:"fetch_retry_min_timeout" mapstructure:"fetch_retry_min_timeout"`
		FetchRetryMaxTimeout time.Duration `json:"fetch_retry_max_timeout" mapstructure:"fetch_retry_max_timeout"`
		ProbeTimeout         time.Duration `json:"probe_timeout" mapstructure:"probe_timeout"`
		StrategyTimeout      time.Duration `json:"strategy_timeout" mapstructure:"strategy_timeout"`
		SDKPackage           string        `json:"sdk_package" mapstructure:"sdk_package"`
		SDKEnabled           bool          `json:"sdk_enabled" mapstructure:"sdk_enabled"`
	}

	// LaunchConfig configures the Boot Launch Selector.
	LaunchConfig struct {
		PrimaryTTY    string `json:"primary_tty" mapstructure:"primary_tty"`
		Interpreter   string `json:"interpreter" mapstructure:"interpreter"`
		Target        string `json:"target" mapstructure:"target"`
		BaselineShell string `json:"baseline_shell" mapstructure:"baseline_shell"`
		ShellFallback string `json:"shell_fallback" mapstructure:"shell_fallback"`
	}

	// VMConfig configures the QEMU test runner.
	VMConfig struct {
		Memory     string `json:"memory" mapstructure:"memory"`
		CPUs       int    `json:"cpus" mapstructure:"cpus"`
		KVM        bool   `json:"kvm" mapstructure:"kvm"`
		QemuBinary string `json:"qemu_binary" mapstructure:"qemu_binary"`
		// OVMFCode boots the artifact under UEFI when set.
		OVMFCode string `json:"ovmf_code" mapstructure:"ovmf_code"`
	}

	// UIConfig configures the user interface.
	UIConfig struct {
		ColorScheme ColorScheme `json:"color_scheme" mapstructure:"color_scheme"`
		Verbose     bool        `json:"verbose" mapstructure:"verbose"`
	}
)

// Error implements the error interface for InvalidContainerEngineError.
func (e *InvalidContainerEngineError) Error() string {
	return fmt.Sprintf("invalid container engine %q (valid: podman, docker)", e.Value)
}

// Unwrap returns the sentinel error for errors.Is() compatibility.
func (e *InvalidContainerEngineError) Unwrap() error {
	return ErrInvalidContainerEngine
}

// String returns the string representation of the ContainerEngine.
func (ce ContainerEngine) String() string { return string(ce) }

// IsValid returns whether the ContainerEngine is one of the defined engine types,
// and a list of validation errors if it is not.
func (ce ContainerEngine) IsValid() (bool, []error) {
	switch ce {
	case ContainerEnginePodman, ContainerEngineDocker:
		return true, nil
	default:
		return false, []error{&InvalidContainerEngineError{Value: ce}}
	}
}

// Error implements the error interface for InvalidColorSchemeError.
func (e *InvalidColorSchemeError) Error() string {
	return fmt.Sprintf("invalid color scheme %q (valid: auto, dark, light)", e.Value)
}

// Unwrap returns the sentinel error for errors.Is() compatibility.
func (e *InvalidColorSchemeError) Unwrap() error {
	return ErrInvalidColorScheme
}

// IsValid returns whether the ColorScheme is one of the defined color schemes.
func (cs ColorScheme) IsValid() (bool, []error) {
	switch cs {
	case ColorSchemeAuto, ColorSchemeDark, ColorSchemeLight:
		return true, nil
	default:
		return false, []error{&InvalidColorSchemeError{Value: cs}}
	}
}

// Error implements the error interface for InvalidConfigError.
func (e *InvalidConfigError) Error() string {
	msgs := make([]string, 0, len(e.FieldErrors))
	for _, fe := range e.FieldErrors {
		msgs = append(msgs, fe.Error())
	}
	return fmt.Sprintf("invalid config: %s", strings.Join(msgs, "; "))
}

// Unwrap returns ErrInvalidConfig for errors.Is() compatibility.
func (e *InvalidConfigError) Unwrap() error { return ErrInvalidConfig }

// IsValid checks the constraints the CUE schema cannot express on defaults
// and env overrides, which never pass through the schema.
func (c Config) IsValid() (bool, []error) {
	var errs []error
	if valid, fieldErrs := c.ContainerEngine.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if valid, fieldErrs := c.UI.ColorScheme.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if c.VM.CPUs < 1 {
		errs = append(errs, fmt.Errorf("vm.cpus must be at least 1, got %d", c.VM.CPUs))
	}
	if c.Installer.FetchRetryMinTimeout > c.Installer.FetchRetryMaxTimeout {
		errs = append(errs, fmt.Errorf("installer.fetch_retry_min_timeout %s exceeds fetch_retry_max_timeout %s",
			c.Installer.FetchRetryMinTimeout, c.Installer.FetchRetryMaxTimeout))
	}
	if c.Installer.ProbeTimeout <= 0 {
		errs = append(errs, fmt.Errorf("installer.probe_timeout must be positive"))
	}
	if c.Installer.StrategyTimeout <= 0 {
		errs = append(errs, fmt.Errorf("installer.strategy_timeout must be positive"))
	}
	for _, r := range c.Installer.Resolvers {
		if strings.TrimSpace(r) == "" {
			errs = append(errs, fmt.Errorf("installer.resolvers contains an empty entry"))
			break
		}
	}
	if len(errs) > 0 {
		return false, []error{&InvalidConfigError{FieldErrors: errs}}
	}
	return true, nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		ContainerEngine: ContainerEngineDocker,
		StateDir:        DefaultStateDir,
		Build: BuildConfig{
			Workspace:        ".",
			OutputDir:        "out",
			ProfileDir:       "profile",
			BaseImage:        "docker.io/library/archlinux:latest",
			BuilderPackages:  []string{"archiso", "grub", "dosfstools", "mtools", "squashfs-tools", "libisoburn"},
			RequiredPackages: []string{"nodejs", "npm", "python"},
			LauncherPaths:    []string{"usr/local/bin/", "root/customize_airootfs.sh"},
			ModuleNamespace:  "usr/lib/vibeos/",
			ForceRebuild:     false,
			TeardownTimeout:  30 * time.Second,
		},
		Installer: InstallerConfig{
			Package:              "@anthropic-ai/claude-code",
			Command:              "claude-code",
			FetchTool:            "npm",
			Runtime:              "node",
			RegistryHost:         "registry.npmjs.org",
			AlternateRegistry:    "https://registry.npmmirror.com/",
			ConnectivityAddress:  "1.1.1.1:443",
			Resolvers:            []string{"8.8.8.8", "1.1.1.1"},
			ResolvConf:           "/etc/resolv.conf",
			OfflineArchive:       "/var/cache/vibeos/claude-code.tgz",
			BinDir:               "/usr/local/bin",
			ModuleDir:            "/usr/lib/node_modules/@anthropic-ai/claude-code",
			EntryPoint:           "cli.js",
			FetchRetries:         5,
			FetchRetryMinTimeout: 20 * time.Second,
			FetchRetryMaxTimeout: 2 * time.Minute,
			ProbeTimeout:         5 * time.Second,
			StrategyTimeout:      10 * time.Minute,
			SDKPackage:           "claude-code-sdk",
			SDKEnabled:           true,
		},
		Launch: LaunchConfig{
			PrimaryTTY:    "/dev/tty1",
			Interpreter:   "python3",
			Target:        "/usr/local/bin/vibesh",
			BaselineShell: "/bin/bash",
			ShellFallback: "/bin/sh",
		},
		VM: VMConfig{
			Memory:     "4G",
			CPUs:       2,
			KVM:        true,
			QemuBinary: "qemu-system-x86_64",
		},
		UI: UIConfig{
			ColorScheme: ColorSchemeAuto,
			Verbose:     false,
		},
	}
}
