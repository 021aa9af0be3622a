// SPDX-License-Identifier: MPL-2.0

package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/vibeos/vibeos/internal/fsutil"
)

var (
	// ErrStateAbsent is returned by Read when no record has been written.
	ErrStateAbsent = errors.New("provisioning state absent")

	// ErrAlreadyWritten is returned by a second Write on the same store.
	ErrAlreadyWritten = errors.New("provisioning state already written")
)

type (
	// Store is the read/write contract for the provisioning record.
	Store interface {
		// Read returns the persisted record or ErrStateAbsent.
		Read(ctx context.Context) (*ProvisioningState, error)
		// Write persists the record. It may be called once.
		Write(ctx context.Context, s ProvisioningState) error
	}

	// FileStore keeps the record and its marker files in a directory.
	FileStore struct {
		dir string

		mu      sync.Mutex
		written bool
	}

	// MemoryStore is an in-process Store.
	MemoryStore struct {
		mu     sync.Mutex
		state  *ProvisioningState
		writes int
	}
)

// NewFileStore returns a FileStore rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// Dir returns the state directory.
func (f *FileStore) Dir() string { return f.dir }

// RecordPath returns the path of the JSON record.
func (f *FileStore) RecordPath() string { return filepath.Join(f.dir, RecordFileName) }

// Read loads the record.
func (f *FileStore) Read(ctx context.Context) (*ProvisioningState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.RecordPath())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrStateAbsent
	}
	if err != nil {
		return nil, fmt.Errorf("read provisioning state: %w", err)
	}

	var s ProvisioningState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode provisioning state %s: %w", f.RecordPath(), err)
	}
	if err := f.fillFromMarkers(data, &s); err != nil {
		return nil, fmt.Errorf("decode provisioning state %s: %w", f.RecordPath(), err)
	}
	return &s, nil
}

// fillFromMarkers takes Installed and SDKInstalled from the marker files when
// the record does not carry them.
func (f *FileStore) fillFromMarkers(data []byte, s *ProvisioningState) error {
	if s.SelectedDependency == "" {
		return nil
	}
	preinstalled, sdk, _ := f.MarkerPaths(s.SelectedDependency)

	ok, err := carriesInstalled(data, s.SelectedDependency)
	if err != nil {
		return err
	}
	if !ok {
		s.Installed = fileExists(preinstalled)
	}
	if !carriesSDK(data) {
		s.SDKInstalled = fileExists(sdk)
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Write refreshes the marker files and then atomically replaces the record.
func (f *FileStore) Write(ctx context.Context, s ProvisioningState) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.written {
		return ErrAlreadyWritten
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode provisioning state: %w", err)
	}
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	if err := f.writeMarkers(s); err != nil {
		return err
	}
	if err := fsutil.WriteFileAtomic(f.RecordPath(), append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write provisioning state: %w", err)
	}

	f.written = true
	return nil
}

// MarkerPaths returns the preinstalled, SDK and missing marker paths for dependency.
func (f *FileStore) MarkerPaths(dependency string) (preinstalled, sdk, missing string) {
	key := DependencyKey(dependency)
	return filepath.Join(f.dir, "."+key+"_preinstalled"),
		filepath.Join(f.dir, "."+key+"_sdk_installed"),
		filepath.Join(f.dir, "."+key+"_missing")
}

func (f *FileStore) writeMarkers(s ProvisioningState) error {
	if s.SelectedDependency == "" {
		return nil
	}
	preinstalled, sdk, missing := f.MarkerPaths(s.SelectedDependency)

	if err := setMarker(preinstalled, s.Installed, nil); err != nil {
		return err
	}
	if err := setMarker(sdk, s.SDKInstalled, nil); err != nil {
		return err
	}
	return setMarker(missing, !s.Installed, []byte(s.CriticalAbsence+"\n"))
}

func setMarker(path string, present bool, content []byte) error {
	if !present {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove marker %s: %w", path, err)
		}
		return nil
	}
	if err := fsutil.WriteFileAtomic(path, content, 0o644); err != nil {
		return fmt.Errorf("write marker %s: %w", path, err)
	}
	return nil
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

// Read returns a copy of the stored record.
func (m *MemoryStore) Read(context.Context) (*ProvisioningState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return nil, ErrStateAbsent
	}
	s := *m.state
	return &s, nil
}

// Write stores s once.
func (m *MemoryStore) Write(_ context.Context, s ProvisioningState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	if m.state != nil {
		return ErrAlreadyWritten
	}
	m.state = &s
	return nil
}

// Writes reports how many times Write was called.
func (m *MemoryStore) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}
