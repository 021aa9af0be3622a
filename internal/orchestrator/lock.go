// SPDX-License-Identifier: MPL-2.0

package orchestrator

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// LockFileName is the advisory lock taken in the output directory.
const LockFileName = ".build.lock"

type outputLock struct {
	f *os.File
}

// lockOutputDir takes an exclusive, non-blocking flock on dir.
func lockOutputDir(dir string) (*outputLock, error) {
	f, err := os.OpenFile(filepath.Join(dir, LockFileName), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, ErrBuildInProgress
		}
		return nil, fmt.Errorf("lock %s: %w", dir, err)
	}
	return &outputLock{f: f}, nil
}

func (l *outputLock) release() error {
	if err := unix.Flock(int(l.f.Fd()), unix.LOCK_UN); err != nil {
		_ = l.f.Close()
		return err
	}
	return l.f.Close()
}
