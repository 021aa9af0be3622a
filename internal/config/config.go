// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vibeos/vibeos/internal/issue"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/spf13/viper"
)

const (
	// AppName is the application name.
	AppName = "vibeos"
	// ConfigFileName is the name of the config file (without extension).
	ConfigFileName = "config"
	// ConfigFileExt is the config file extension.
	ConfigFileExt = "cue"
	// LocalConfigFile is looked up in the working directory last.
	LocalConfigFile = "vibeos.cue"

	maxConfigFileSize = 1 << 20
)

//go:embed config_schema.cue
var configSchema string

// envBindings maps config keys to the environment variables that override them.
var envBindings = map[string]string{
	"ui.verbose":          "VIBEOS_DEBUG",
	"installer.resolvers": "VIBEOS_RESOLVERS",
	"vm.memory":           "VIBEOS_VM_MEMORY",
	"vm.cpus":             "VIBEOS_VM_CPUS",
}

// ConfigDir returns the vibeos configuration directory, $XDG_CONFIG_HOME/vibeos
// defaulting to ~/.config/vibeos.
//
//nolint:revive // ConfigDir is more descriptive than Dir for external callers
func ConfigDir() (string, error) {
	if configDirOverride != "" {
		return configDirOverride, nil
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir = filepath.Join(home, ".config")
	}

	return filepath.Join(configDir, AppName), nil
}

// loadWithOptions performs option-driven config loading. It returns the
// resolved config file path, empty when only defaults applied.
func loadWithOptions(ctx context.Context, opts LoadOptions) (*Config, string, error) {
	select {
	case <-ctx.Done():
		return nil, "", fmt.Errorf("load config canceled: %w", ctx.Err())
	default:
	}

	v := viper.New()
	setDefaults(v, DefaultConfig())
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, "", fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	resolvedPath := ""

	if opts.ConfigFilePath != "" {
		if !fileExists(opts.ConfigFilePath) {
			return nil, "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(opts.ConfigFilePath).
				WithSuggestion("Verify the file path is correct").
				WithSuggestion("Use 'vibeos config show' to see the default configuration").
				WithIssue(issue.ConfigLoadFailedId).
				Wrap(fmt.Errorf("config file not found: %s", opts.ConfigFilePath)).
				BuildError()
		}
		resolvedPath = opts.ConfigFilePath
	} else {
		cfgDir, err := configDirWithOverride(opts.ConfigDirPath)
		if err != nil {
			return nil, "", err
		}
		for _, candidate := range []string{
			filepath.Join(cfgDir, ConfigFileName+"."+ConfigFileExt),
			LocalConfigFile,
		} {
			if fileExists(candidate) {
				resolvedPath = candidate
				break
			}
		}
	}

	if resolvedPath != "" {
		if err := loadCUEIntoViper(v, resolvedPath); err != nil {
			return nil, "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(resolvedPath).
				WithSuggestion("Check that the file contains valid CUE syntax").
				WithSuggestion("Verify the configuration values match the expected schema").
				WithIssue(issue.ConfigLoadFailedId).
				Wrap(err).
				BuildError()
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", fmt.Errorf("failed to parse config: %w", err)
	}

	if valid, errs := cfg.IsValid(); !valid {
		return nil, "", issue.NewErrorContext().
			WithOperation("validate configuration").
			WithResource(resolvedPath).
			WithSuggestion("Check environment overrides such as VIBEOS_VM_CPUS").
			WithIssue(issue.ConfigLoadFailedId).
			Wrap(errs[0]).
			BuildError()
	}

	return &cfg, resolvedPath, nil
}

func configDirWithOverride(configDirPath string) (string, error) {
	if configDirPath != "" {
		return configDirPath, nil
	}

	return ConfigDir()
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("container_engine", d.ContainerEngine)
	v.SetDefault("state_dir", d.StateDir)

	v.SetDefault("build.workspace", d.Build.Workspace)
	v.SetDefault("build.output_dir", d.Build.OutputDir)
	v.SetDefault("build.profile_dir", d.Build.ProfileDir)
	v.SetDefault("build.base_image", d.Build.BaseImage)
	v.SetDefault("build.builder_packages", d.Build.BuilderPackages)
	v.SetDefault("build.required_packages", d.Build.RequiredPackages)
	v.SetDefault("build.launcher_paths", d.Build.LauncherPaths)
	v.SetDefault("build.module_namespace", d.Build.ModuleNamespace)
	v.SetDefault("build.force_rebuild", d.Build.ForceRebuild)
	v.SetDefault("build.teardown_timeout", d.Build.TeardownTimeout)

	v.SetDefault("installer.package", d.Installer.Package)
	v.SetDefault("installer.command", d.Installer.Command)
	v.SetDefault("installer.fetch_tool", d.Installer.FetchTool)
	v.SetDefault("installer.runtime", d.Installer.Runtime)
	v.SetDefault("installer.registry_host", d.Installer.RegistryHost)
	v.SetDefault("installer.alternate_registry", d.Installer.AlternateRegistry)
	v.SetDefault("installer.connectivity_address", d.Installer.ConnectivityAddress)
	v.SetDefault("installer.resolvers", d.Installer.Resolvers)
	v.SetDefault("installer.resolv_conf", d.Installer.ResolvConf)
	v.SetDefault("installer.offline_archive", d.Installer.OfflineArchive)
	v.SetDefault("installer.bin_dir", d.Installer.BinDir)
	v.SetDefault("installer.module_dir", d.Installer.ModuleDir)
	v.SetDefault("installer.entry_point", d.Installer.EntryPoint)
	v.SetDefault("installer.fetch_retries", d.Installer.FetchRetries)
	v.SetDefault("installer.fetch_retry_min_timeout", d.Installer.FetchRetryMinTimeout)
	v.SetDefault("installer.fetch_retry_max_timeout", d.Installer.FetchRetryMaxTimeout)
	v.SetDefault("installer.probe_timeout", d.Installer.ProbeTimeout)
	v.SetDefault("installer.strategy_timeout", d.Installer.StrategyTimeout)
	v.SetDefault("installer.sdk_package", d.Installer.SDKPackage)
	v.SetDefault("installer.sdk_enabled", d.Installer.SDKEnabled)

	v.SetDefault("launch.primary_tty", d.Launch.PrimaryTTY)
	v.SetDefault("launch.interpreter", d.Launch.Interpreter)
	v.SetDefault("launch.target", d.Launch.Target)
	v.SetDefault("launch.baseline_shell", d.Launch.BaselineShell)
	v.SetDefault("launch.shell_fallback", d.Launch.ShellFallback)

	v.SetDefault("vm.memory", d.VM.Memory)
	v.SetDefault("vm.cpus", d.VM.CPUs)
	v.SetDefault("vm.kvm", d.VM.KVM)
	v.SetDefault("vm.qemu_binary", d.VM.QemuBinary)
	v.SetDefault("vm.ovmf_code", d.VM.OVMFCode)

	v.SetDefault("ui.color_scheme", d.UI.ColorScheme)
	v.SetDefault("ui.verbose", d.UI.Verbose)
}

// loadCUEIntoViper parses a CUE file, validates it against the #Config schema,
// and merges its contents into Viper.
//
// Concrete(false) is used because every config field is optional.
func loadCUEIntoViper(v *viper.Viper, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if len(data) > maxConfigFileSize {
		return fmt.Errorf("%s: file size %d bytes exceeds maximum %d bytes", path, len(data), maxConfigFileSize)
	}

	ctx := cuecontext.New()

	schemaValue := ctx.CompileString(configSchema)
	if schemaValue.Err() != nil {
		return fmt.Errorf("internal error: failed to compile config schema: %w", schemaValue.Err())
	}

	userValue := ctx.CompileBytes(data, cue.Filename(path))
	if userValue.Err() != nil {
		return formatCUEError(userValue.Err(), path)
	}

	schema := schemaValue.LookupPath(cue.ParsePath("#Config"))
	unified := schema.Unify(userValue)
	if err := unified.Validate(cue.Concrete(false)); err != nil {
		return formatCUEError(err, path)
	}

	var configMap map[string]any
	if err := unified.Decode(&configMap); err != nil {
		return formatCUEError(err, path)
	}

	// Merging keeps defaults and env overrides in effect.
	if err := v.MergeConfigMap(configMap); err != nil {
		return fmt.Errorf("failed to merge config: %w", err)
	}

	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false
	}
	return err == nil && !info.IsDir()
}

// CreateDefaultConfig writes the default config file into the config
// directory unless one exists, and returns its path.
func CreateDefaultConfig() (string, error) {
	cfgDir, err := ConfigDir()
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(cfgDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	cfgPath := filepath.Join(cfgDir, ConfigFileName+"."+ConfigFileExt)
	if _, err := os.Stat(cfgPath); err == nil {
		return cfgPath, nil
	}

	if err := os.WriteFile(cfgPath, []byte(GenerateCUE(DefaultConfig())), 0o644); err != nil {
		return "", fmt.Errorf("failed to write config file: %w", err)
	}

	return cfgPath, nil
}
