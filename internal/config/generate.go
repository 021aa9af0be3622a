// SPDX-License-Identifier: MPL-2.0

package config

import (
	"fmt"
	"strings"
)

// GenerateCUE renders cfg as a CUE document accepted by the #Config schema.
// Output is deterministic so a rendered image config hashes stably.
func GenerateCUE(cfg *Config) string {
	var sb strings.Builder

	sb.WriteString("// vibeos configuration file\n\n")

	fmt.Fprintf(&sb, "container_engine: %q\n", cfg.ContainerEngine)
	fmt.Fprintf(&sb, "state_dir: %q\n", cfg.StateDir)

	sb.WriteString("\nbuild: {\n")
	writeString(&sb, "workspace", cfg.Build.Workspace)
	writeString(&sb, "output_dir", cfg.Build.OutputDir)
	writeString(&sb, "profile_dir", cfg.Build.ProfileDir)
	writeString(&sb, "base_image", cfg.Build.BaseImage)
	writeList(&sb, "builder_packages", cfg.Build.BuilderPackages)
	writeList(&sb, "required_packages", cfg.Build.RequiredPackages)
	writeList(&sb, "launcher_paths", cfg.Build.LauncherPaths)
	writeString(&sb, "module_namespace", cfg.Build.ModuleNamespace)
	fmt.Fprintf(&sb, "\tforce_rebuild: %v\n", cfg.Build.ForceRebuild)
	fmt.Fprintf(&sb, "\tteardown_timeout: %q\n", cfg.Build.TeardownTimeout.String())
	sb.WriteString("}\n")

	in := cfg.Installer
	sb.WriteString("\ninstaller: {\n")
	writeString(&sb, "package", in.Package)
	writeString(&sb, "command", in.Command)
	writeString(&sb, "fetch_tool", in.FetchTool)
	writeString(&sb, "runtime", in.Runtime)
	writeString(&sb, "registry_host", in.RegistryHost)
	writeString(&sb, "alternate_registry", in.AlternateRegistry)
	writeString(&sb, "connectivity_address", in.ConnectivityAddress)
	writeList(&sb, "resolvers", in.Resolvers)
	writeString(&sb, "resolv_conf", in.ResolvConf)
	fmt.Fprintf(&sb, "\toffline_archive: %q\n", in.OfflineArchive)
	writeString(&sb, "bin_dir", in.BinDir)
	writeString(&sb, "module_dir", in.ModuleDir)
	fmt.Fprintf(&sb, "\tentry_point: %q\n", in.EntryPoint)
	fmt.Fprintf(&sb, "\tfetch_retries: %d\n", in.FetchRetries)
	fmt.Fprintf(&sb, "\tfetch_retry_min_timeout: %q\n", in.FetchRetryMinTimeout.String())
	fmt.Fprintf(&sb, "\tfetch_retry_max_timeout: %q\n", in.FetchRetryMaxTimeout.String())
	fmt.Fprintf(&sb, "\tprobe_timeout: %q\n", in.ProbeTimeout.String())
	fmt.Fprintf(&sb, "\tstrategy_timeout: %q\n", in.StrategyTimeout.String())
	fmt.Fprintf(&sb, "\tsdk_package: %q\n", in.SDKPackage)
	fmt.Fprintf(&sb, "\tsdk_enabled: %v\n", in.SDKEnabled)
	sb.WriteString("}\n")

	sb.WriteString("\nlaunch: {\n")
	writeString(&sb, "primary_tty", cfg.Launch.PrimaryTTY)
	writeString(&sb, "interpreter", cfg.Launch.Interpreter)
	writeString(&sb, "target", cfg.Launch.Target)
	writeString(&sb, "baseline_shell", cfg.Launch.BaselineShell)
	writeString(&sb, "shell_fallback", cfg.Launch.ShellFallback)
	sb.WriteString("}\n")

	sb.WriteString("\nvm: {\n")
	writeString(&sb, "memory", cfg.VM.Memory)
	fmt.Fprintf(&sb, "\tcpus: %d\n", cfg.VM.CPUs)
	fmt.Fprintf(&sb, "\tkvm: %v\n", cfg.VM.KVM)
	writeString(&sb, "qemu_binary", cfg.VM.QemuBinary)
	fmt.Fprintf(&sb, "\tovmf_code: %q\n", cfg.VM.OVMFCode)
	sb.WriteString("}\n")

	sb.WriteString("\nui: {\n")
	fmt.Fprintf(&sb, "\tcolor_scheme: %q\n", cfg.UI.ColorScheme)
	fmt.Fprintf(&sb, "\tverbose: %v\n", cfg.UI.Verbose)
	sb.WriteString("}\n")

	return sb.String()
}

// writeString omits empty values; the schema rejects empty strings for these fields.
func writeString(sb *strings.Builder, key, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(sb, "\t%s: %q\n", key, value)
}

func writeList(sb *strings.Builder, key string, values []string) {
	if len(values) == 0 {
		fmt.Fprintf(sb, "\t%s: []\n", key)
		return
	}
	fmt.Fprintf(sb, "\t%s: [\n", key)
	for _, v := range values {
		fmt.Fprintf(sb, "\t\t%q,\n", v)
	}
	sb.WriteString("\t]\n")
}
