// SPDX-License-Identifier: MPL-2.0

package profile

import (
	"bytes"
	"fmt"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// Image paths of the files every build injects into the overlay.
const (
	BinaryImagePath          = "usr/local/bin/vibeos"
	HookImagePath            = "root/customize_airootfs.sh"
	LaunchImagePath          = "etc/profile.d/vibeos-launch.sh"
	InstallerConfigImagePath = "etc/vibeos/vibeos.cue"
)

// preconditionMissingExit is the provision exit code for a missing fetch tool.
const preconditionMissingExit = 3

// launchGuardEnv stops the baseline login shell from re-entering the selector.
const launchGuardEnv = "VIBEOS_LAUNCHED"

// Injections returns the overlay files that wire vibeos into the image: the
// binary itself, the installer config, the customization hook that runs
// the dependency installer, and the login script that starts the selector on
// primaryTTY.
func Injections(binarySource string, installerConfig []byte, primaryTTY string) ([]File, error) {
	binary := "/" + BinaryImagePath
	hook, err := customizeHook(binary, "/"+InstallerConfigImagePath)
	if err != nil {
		return nil, err
	}
	launch, err := launchScript(binary, primaryTTY)
	if err != nil {
		return nil, err
	}
	return []File{
		{ImagePath: BinaryImagePath, Source: binarySource, Mode: launcherMode},
		{ImagePath: InstallerConfigImagePath, Content: installerConfig, Mode: dataMode},
		{ImagePath: HookImagePath, Content: hook, Mode: launcherMode},
		{ImagePath: LaunchImagePath, Content: launch, Mode: dataMode},
	}, nil
}

func customizeHook(binary, configPath string) ([]byte, error) {
	qBinary, err := quote(binary)
	if err != nil {
		return nil, err
	}
	qConfig, err := quote(configPath)
	if err != nil {
		return nil, err
	}
	var sb strings.Builder
	sb.WriteString("#!/usr/bin/env bash\n")
	sb.WriteString("# Generated by vibeos. Runs inside the image root during the build.\n")
	sb.WriteString("set -euo pipefail\n\n")
	sb.WriteString("status=0\n")
	fmt.Fprintf(&sb, "%s --config %s provision || status=$?\n", qBinary, qConfig)
	// Exit 3 means the fetch tool is missing: the image still builds, without a record.
	fmt.Fprintf(&sb, "if [ \"$status\" -eq %d ]; then\n", preconditionMissingExit)
	sb.WriteString("\techo 'vibeos: fetch tool missing, the image will boot into the baseline shell' >&2\n")
	sb.WriteString("elif [ \"$status\" -ne 0 ]; then\n")
	sb.WriteString("\texit \"$status\"\n")
	sb.WriteString("fi\n")
	return printScript(sb.String(), syntax.LangBash, HookImagePath)
}

func launchScript(binary, primaryTTY string) ([]byte, error) {
	qBinary, err := quote(binary)
	if err != nil {
		return nil, err
	}
	qTTY, err := quote(primaryTTY)
	if err != nil {
		return nil, err
	}
	var sb strings.Builder
	sb.WriteString("# Generated by vibeos. Starts the launch selector on the primary console.\n")
	fmt.Fprintf(&sb, "if [ -z \"${%s:-}\" ] && [ \"$(tty)\" = %s ]; then\n", launchGuardEnv, qTTY)
	fmt.Fprintf(&sb, "\texport %s=1\n", launchGuardEnv)
	fmt.Fprintf(&sb, "\texec %s launch\n", qBinary)
	sb.WriteString("fi\n")
	return printScript(sb.String(), syntax.LangPOSIX, LaunchImagePath)
}

func printScript(src string, lang syntax.LangVariant, name string) ([]byte, error) {
	file, err := syntax.NewParser(syntax.Variant(lang), syntax.KeepComments(true)).Parse(strings.NewReader(src), name)
	if err != nil {
		return nil, fmt.Errorf("%s does not parse: %w", name, err)
	}
	var out bytes.Buffer
	if err := syntax.NewPrinter().Print(&out, file); err != nil {
		return nil, fmt.Errorf("print %s: %w", name, err)
	}
	return out.Bytes(), nil
}
