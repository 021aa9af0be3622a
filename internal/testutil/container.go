// SPDX-License-Identifier: MPL-2.0

package testutil

import (
	"os"
	"runtime"
	"strconv"
	"sync"
	"testing"

	"github.com/testcontainers/testcontainers-go"
)

// ContainerParallelEnv overrides the number of concurrent container tests.
const ContainerParallelEnv = "VIBEOS_TEST_CONTAINER_PARALLEL"

// ContainerSemaphore returns a process-wide buffered channel that limits
// concurrent container operations in tests. Acquire a slot by sending,
// release by receiving.
//
// The capacity is VIBEOS_TEST_CONTAINER_PARALLEL when set, otherwise
// min(GOMAXPROCS, 2). Privileged build sandboxes are heavy; more than two at
// once starves small CI runners.
var ContainerSemaphore = sync.OnceValue(func() chan struct{} {
	return make(chan struct{}, containerParallelism())
})

func containerParallelism() int {
	if v := os.Getenv(ContainerParallelEnv); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return min(runtime.GOMAXPROCS(0), 2)
}

// TestcontainersAvailable reports whether a Docker provider can be reached.
// The provider lookup panics on some hosts without a daemon.
func TestcontainersAvailable() (available bool) {
	defer func() {
		if r := recover(); r != nil {
			available = false
		}
	}()

	provider, err := testcontainers.ProviderDocker.GetProvider()
	if err != nil {
		return false
	}
	defer provider.Close()
	return true
}

// RequireContainers skips t in short mode or without a Docker provider, and
// otherwise holds a ContainerSemaphore slot until t finishes.
func RequireContainers(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	if !TestcontainersAvailable() {
		t.Skip("skipping integration test: testcontainers provider not available")
	}
	sem := ContainerSemaphore()
	sem <- struct{}{}
	t.Cleanup(func() { <-sem })
}
