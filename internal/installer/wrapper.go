// SPDX-License-Identifier: MPL-2.0

package installer

import (
	"bytes"
	"fmt"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

const (
	wrapperHeader = "# Generated by vibeos provision"
	backupSuffix  = ".vibeos-orig"
)

// wrapperScript renders a POSIX shell wrapper that execs entry with runtime.
// A non-empty modulePath is exported as NODE_PATH first. The script is
// parsed and reprinted so a malformed wrapper is never written.
func wrapperScript(runtime, entry, modulePath string) ([]byte, error) {
	qRuntime, err := syntax.Quote(runtime, syntax.LangPOSIX)
	if err != nil {
		return nil, fmt.Errorf("quote runtime: %w", err)
	}
	qEntry, err := syntax.Quote(entry, syntax.LangPOSIX)
	if err != nil {
		return nil, fmt.Errorf("quote entry point: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("#!/bin/sh\n")
	sb.WriteString(wrapperHeader + "\n")
	if modulePath != "" {
		qPath, err := syntax.Quote(modulePath, syntax.LangPOSIX)
		if err != nil {
			return nil, fmt.Errorf("quote module path: %w", err)
		}
		fmt.Fprintf(&sb, "NODE_PATH=%s${NODE_PATH:+:$NODE_PATH}\n", qPath)
		sb.WriteString("export NODE_PATH\n")
	}
	fmt.Fprintf(&sb, "exec %s %s \"$@\"\n", qRuntime, qEntry)

	parser := syntax.NewParser(syntax.Variant(syntax.LangPOSIX), syntax.KeepComments(true))
	file, err := parser.Parse(strings.NewReader(sb.String()), "wrapper")
	if err != nil {
		return nil, fmt.Errorf("wrapper does not parse: %w", err)
	}
	var out bytes.Buffer
	if err := syntax.NewPrinter().Print(&out, file); err != nil {
		return nil, fmt.Errorf("print wrapper: %w", err)
	}
	return out.Bytes(), nil
}
