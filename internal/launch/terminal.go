// SPDX-License-Identifier: MPL-2.0

package launch

import (
	"os"
	"strings"

	"golang.org/x/term"
)

// TTYEnvVar overrides terminal detection.
const TTYEnvVar = "VIBEOS_TTY"

const stdinLink = "/proc/self/fd/0"

// Terminal identifies the session's terminal.
type Terminal int

const (
	// TerminalSecondary is any terminal other than the configured primary.
	TerminalSecondary Terminal = iota
	// TerminalPrimary is the configured primary tty.
	TerminalPrimary
)

// String returns the terminal name.
func (t Terminal) String() string {
	if t == TerminalPrimary {
		return "primary"
	}
	return "secondary"
}

// TTYDetector reports the device path of the session's terminal, or "" when
// stdin is not a terminal.
type TTYDetector func() string

// DetectTTY resolves the stdin device. VIBEOS_TTY wins when set.
func DetectTTY() string {
	if v := strings.TrimSpace(os.Getenv(TTYEnvVar)); v != "" {
		return v
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return ""
	}
	dev, err := os.Readlink(stdinLink)
	if err != nil {
		return ""
	}
	return dev
}

func classify(tty, primary string) Terminal {
	if tty != "" && tty == primary {
		return TerminalPrimary
	}
	return TerminalSecondary
}
