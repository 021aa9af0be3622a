// SPDX-License-Identifier: MPL-2.0

package installer

import (
	"fmt"
	"io"
	"os"

	"github.com/klauspost/pgzip"
)

const (
	// StrategyDirect installs with the fetch tool defaults.
	StrategyDirect = "direct"
	// StrategyReconfigured installs against the alternate registry with relaxed transport.
	StrategyReconfigured = "reconfigured"
	// StrategyOffline installs from the pre-fetched archive.
	StrategyOffline = "offline"

	condFetchTool  = "fetch tool present"
	condReachable  = "network reachable"
	condResolvable = "registry resolvable"
	condArchive    = "offline archive present"
)

type (
	// Environment is what strategies may inspect when checking preconditions.
	Environment struct {
		FetchToolPath string
		Network       NetworkStatus
	}

	// Strategy is one installation method with its own preconditions.
	Strategy interface {
		Name() string
		Preconditions(env Environment) PreconditionResult
		Command(env Environment) Command
	}

	directStrategy       struct{ settings Settings }
	reconfiguredStrategy struct{ settings Settings }
	offlineStrategy      struct{ settings Settings }
)

// Strategies returns the strategies in the order they are attempted.
func Strategies(s Settings) []Strategy {
	return []Strategy{
		directStrategy{settings: s},
		reconfiguredStrategy{settings: s},
		offlineStrategy{settings: s},
	}
}

func check(result *PreconditionResult, name string, ok bool) {
	if ok {
		result.Passed = append(result.Passed, name)
	} else {
		result.Failed = append(result.Failed, name)
	}
}

func (directStrategy) Name() string { return StrategyDirect }

func (directStrategy) Preconditions(env Environment) PreconditionResult {
	var r PreconditionResult
	check(&r, condFetchTool, env.FetchToolPath != "")
	check(&r, condReachable, env.Network.Reachable)
	check(&r, condResolvable, env.Network.Resolvable)
	return r
}

func (s directStrategy) Command(env Environment) Command {
	return Command{Path: env.FetchToolPath, Args: []string{"install", "-g", s.settings.Package}}
}

func (reconfiguredStrategy) Name() string { return StrategyReconfigured }

func (reconfiguredStrategy) Preconditions(env Environment) PreconditionResult {
	var r PreconditionResult
	check(&r, condFetchTool, env.FetchToolPath != "")
	check(&r, condReachable, env.Network.Reachable)
	return r
}

// Command passes every override as a flag or environment entry of this
// invocation, leaving the fetch tool's persistent configuration untouched.
func (s reconfiguredStrategy) Command(env Environment) Command {
	st := s.settings
	return Command{
		Path: env.FetchToolPath,
		Args: []string{
			"install", "-g",
			"--registry=" + st.AlternateRegistry,
			"--strict-ssl=false",
			fmt.Sprintf("--fetch-retries=%d", st.FetchRetries),
			fmt.Sprintf("--fetch-retry-mintimeout=%d", st.FetchRetryMinTimeout.Milliseconds()),
			fmt.Sprintf("--fetch-retry-maxtimeout=%d", st.FetchRetryMaxTimeout.Milliseconds()),
			st.Package,
		},
		Env: []string{
			"NODE_TLS_REJECT_UNAUTHORIZED=0",
			"npm_config_registry=" + st.AlternateRegistry,
		},
	}
}

func (offlineStrategy) Name() string { return StrategyOffline }

func (s offlineStrategy) Preconditions(env Environment) PreconditionResult {
	var r PreconditionResult
	check(&r, condFetchTool, env.FetchToolPath != "")
	check(&r, condArchive, archiveReadable(s.settings.OfflineArchive))
	return r
}

func (s offlineStrategy) Command(env Environment) Command {
	return Command{Path: env.FetchToolPath, Args: []string{"install", "-g", "--offline", s.settings.OfflineArchive}}
}

// archiveReadable reports whether path holds a gzip stream with at least one
// tar header block.
func archiveReadable(path string) bool {
	if path == "" {
		return false
	}
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer func() { _ = f.Close() }() // Read-only file; close error non-critical

	zr, err := pgzip.NewReader(f)
	if err != nil {
		return false
	}
	defer func() { _ = zr.Close() }()

	_, err = io.CopyN(io.Discard, zr, 512)
	return err == nil
}
