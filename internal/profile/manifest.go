// SPDX-License-Identifier: MPL-2.0

package profile

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
)

// readManifest returns the packages listed in path in first-seen order.
// Blank lines and "#" comments are ignored.
func readManifest(path string) ([]string, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &AssemblyError{Path: path, Err: ErrManifestMissing}
	}
	if err != nil {
		return nil, &AssemblyError{Path: path, Err: err}
	}
	defer func() { _ = f.Close() }() // Read-only file; close error non-critical

	packages, err := parseManifest(f)
	if err != nil {
		return nil, &AssemblyError{Path: path, Err: err}
	}
	if len(packages) == 0 {
		return nil, &AssemblyError{Path: path, Err: ErrManifestEmpty}
	}
	return packages, nil
}

func parseManifest(r io.Reader) ([]string, error) {
	var packages []string
	seen := map[string]bool{}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		for _, pkg := range strings.Fields(line) {
			if seen[pkg] {
				continue
			}
			seen[pkg] = true
			packages = append(packages, pkg)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return packages, nil
}

// mergePackages appends the required packages missing from packages.
func mergePackages(packages, required []string) []string {
	seen := make(map[string]bool, len(packages))
	for _, p := range packages {
		seen[p] = true
	}
	out := packages
	for _, r := range required {
		if !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}
	return out
}

func renderManifest(packages []string) []byte {
	var sb strings.Builder
	for _, p := range packages {
		sb.WriteString(p)
		sb.WriteByte('\n')
	}
	return []byte(sb.String())
}
