// SPDX-License-Identifier: MPL-2.0

package orchestrator

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/vibeos/vibeos/internal/fsutil"
)

// MarkerFileName marks an output directory whose artifact is complete.
const MarkerFileName = ".build-complete"

// ErrNoMarker is returned by ReadMarker when no completed build exists.
var ErrNoMarker = errors.New("no completed build")

// Marker describes a completed build.
type Marker struct {
	Artifact      string    `json:"artifact"`
	SHA256        string    `json:"sha256"`
	Size          int64     `json:"size"`
	Image         string    `json:"image"`
	ProfileDigest string    `json:"profile_digest"`
	CompletedAt   time.Time `json:"completed_at"`
}

// ArtifactPath returns the artifact path inside outputDir.
func (m *Marker) ArtifactPath(outputDir string) string {
	return filepath.Join(outputDir, m.Artifact)
}

// ReadMarker loads the completion marker of outputDir.
func ReadMarker(outputDir string) (*Marker, error) {
	data, err := os.ReadFile(filepath.Join(outputDir, MarkerFileName))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNoMarker
	}
	if err != nil {
		return nil, err
	}
	var m Marker
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode %s: %w", MarkerFileName, err)
	}
	return &m, nil
}

func writeMarker(outputDir string, m *Marker) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(filepath.Join(outputDir, MarkerFileName), append(data, '\n'), 0o644)
}

func removeMarker(outputDir string) error {
	err := os.Remove(filepath.Join(outputDir, MarkerFileName))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
