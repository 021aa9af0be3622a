// SPDX-License-Identifier: MPL-2.0

package sandbox

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/vibeos/vibeos/internal/container"
)

// fakeEngine is an in-memory container.Engine.
type fakeEngine struct {
	mu sync.Mutex

	images      map[container.ImageTag]bool
	builds      []container.BuildOptions
	runs        []container.RunOptions
	execs       [][]string
	removed     []container.ContainerID
	removeCtxOK []bool

	buildErr    error
	runErr      error
	neverReady  bool
	execCode    int
	execOutput  string
	runningPoll int
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{images: map[container.ImageTag]bool{}}
}

func (f *fakeEngine) Name() string                            { return "fake" }
func (f *fakeEngine) Available(context.Context) bool          { return true }
func (f *fakeEngine) Version(context.Context) (string, error) { return "1.0", nil }

func (f *fakeEngine) Build(_ context.Context, opts container.BuildOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.builds = append(f.builds, opts)
	if f.buildErr != nil {
		return f.buildErr
	}
	f.images[opts.Tag] = true
	return nil
}

func (f *fakeEngine) ImageExists(_ context.Context, image container.ImageTag) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.images[image], nil
}

func (f *fakeEngine) RemoveImage(_ context.Context, image container.ImageTag, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.images[image] {
		return errors.New("no such image")
	}
	delete(f.images, image)
	return nil
}

func (f *fakeEngine) Run(_ context.Context, opts container.RunOptions) (*container.RunResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, opts)
	if f.runErr != nil {
		return nil, f.runErr
	}
	return &container.RunResult{ContainerID: opts.Name}, nil
}

func (f *fakeEngine) Exec(ctx context.Context, _ container.ContainerID, command []string, opts container.ExecOptions) (*container.RunResult, error) {
	f.mu.Lock()
	f.execs = append(f.execs, command)
	code, out := f.execCode, f.execOutput
	f.mu.Unlock()
	if opts.Stdout != nil && out != "" {
		_, _ = io.WriteString(opts.Stdout, out)
	}
	if ctx.Err() != nil {
		return &container.RunResult{ExitCode: 137}, nil
	}
	return &container.RunResult{ExitCode: code}, nil
}

func (f *fakeEngine) IsRunning(context.Context, container.ContainerID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runningPoll++
	if f.neverReady {
		return false, nil
	}
	// Report "created" once before "running".
	return f.runningPoll > 1, nil
}

func (f *fakeEngine) Remove(ctx context.Context, id container.ContainerID, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, id)
	f.removeCtxOK = append(f.removeCtxOK, ctx.Err() == nil)
	return nil
}
