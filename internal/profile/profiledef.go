// SPDX-License-Identifier: MPL-2.0

package profile

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// renderProfileDef writes the archiso profile definition. Every value is
// shell-quoted, and the result is parsed back to reject malformed output.
func renderProfileDef(m Metadata, permissions map[string]Permission) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("#!/usr/bin/env bash\n")
	buf.WriteString("# shellcheck disable=SC2034\n")
	buf.WriteString("# Generated by vibeos. Do not edit.\n\n")

	scalars := []struct{ key, value string }{
		{"iso_name", m.ISOName},
		{"iso_label", m.ISOLabel},
		{"iso_publisher", m.ISOPublisher},
		{"iso_application", m.ISOApplication},
		{"iso_version", m.ISOVersion},
		{"install_dir", m.InstallDir},
	}
	for _, s := range scalars {
		if err := writeAssign(&buf, s.key, s.value); err != nil {
			return nil, err
		}
	}
	if err := writeArray(&buf, "buildmodes", m.BuildModes); err != nil {
		return nil, err
	}
	if err := writeArray(&buf, "bootmodes", m.BootModes); err != nil {
		return nil, err
	}
	for _, s := range []struct{ key, value string }{
		{"arch", m.Arch},
		{"pacman_conf", m.PacmanConf},
		{"airootfs_image_type", m.AirootfsImageType},
	} {
		if err := writeAssign(&buf, s.key, s.value); err != nil {
			return nil, err
		}
	}
	if err := writeArray(&buf, "airootfs_image_tool_options", m.AirootfsImageToolOptions); err != nil {
		return nil, err
	}

	paths := make([]string, 0, len(permissions))
	for p := range permissions {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	buf.WriteString("file_permissions=(\n")
	for _, p := range paths {
		key, err := quoteKey(p)
		if err != nil {
			return nil, err
		}
		val, err := quote(permissions[p].String())
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(&buf, "  [%s]=%s\n", key, val)
	}
	buf.WriteString(")\n")

	if _, err := syntax.NewParser(syntax.Variant(syntax.LangBash)).Parse(bytes.NewReader(buf.Bytes()), DefinitionFile); err != nil {
		return nil, fmt.Errorf("rendered %s does not parse: %w", DefinitionFile, err)
	}
	return buf.Bytes(), nil
}

func quote(s string) (string, error) {
	q, err := syntax.Quote(s, syntax.LangBash)
	if err != nil {
		return "", fmt.Errorf("quote %q: %w", s, err)
	}
	return q, nil
}

// quoteKey always quotes, since a bare subscript would parse as arithmetic.
func quoteKey(s string) (string, error) {
	q, err := quote(s)
	if err != nil {
		return "", err
	}
	if q == s {
		q = `"` + s + `"`
	}
	return q, nil
}

func writeAssign(buf *bytes.Buffer, key, value string) error {
	q, err := quote(value)
	if err != nil {
		return err
	}
	fmt.Fprintf(buf, "%s=%s\n", key, q)
	return nil
}

func writeArray(buf *bytes.Buffer, key string, values []string) error {
	quoted := make([]string, len(values))
	for i, v := range values {
		q, err := quote(v)
		if err != nil {
			return err
		}
		quoted[i] = q
	}
	fmt.Fprintf(buf, "%s=(%s)\n", key, strings.Join(quoted, " "))
	return nil
}
