// SPDX-License-Identifier: MPL-2.0

package installer

import (
	"time"

	"github.com/vibeos/vibeos/internal/config"

	"golang.org/x/exp/slices"
)

// Settings is an immutable snapshot of the installer configuration. It is
// passed by value; slice fields are only reachable through copying accessors.
type Settings struct {
	Package             string
	Command             string
	FetchTool           string
	Runtime             string
	RegistryHost        string
	AlternateRegistry   string
	ConnectivityAddress string
	ResolvConf          string
	OfflineArchive      string
	BinDir              string
	ModuleDir           string
	EntryPoint          string

	FetchRetries         int
	FetchRetryMinTimeout time.Duration
	FetchRetryMaxTimeout time.Duration
	ProbeTimeout         time.Duration
	StrategyTimeout      time.Duration

	SDKPackage string
	SDKEnabled bool

	resolvers []string
}

// NewSettings snapshots cfg.
func NewSettings(cfg config.InstallerConfig) Settings {
	return Settings{
		Package:              cfg.Package,
		Command:              cfg.Command,
		FetchTool:            cfg.FetchTool,
		Runtime:              cfg.Runtime,
		RegistryHost:         cfg.RegistryHost,
		AlternateRegistry:    cfg.AlternateRegistry,
		ConnectivityAddress:  cfg.ConnectivityAddress,
		ResolvConf:           cfg.ResolvConf,
		OfflineArchive:       cfg.OfflineArchive,
		BinDir:               cfg.BinDir,
		ModuleDir:            cfg.ModuleDir,
		EntryPoint:           cfg.EntryPoint,
		FetchRetries:         cfg.FetchRetries,
		FetchRetryMinTimeout: cfg.FetchRetryMinTimeout,
		FetchRetryMaxTimeout: cfg.FetchRetryMaxTimeout,
		ProbeTimeout:         cfg.ProbeTimeout,
		StrategyTimeout:      cfg.StrategyTimeout,
		SDKPackage:           cfg.SDKPackage,
		SDKEnabled:           cfg.SDKEnabled,
		resolvers:            slices.Clone(cfg.Resolvers),
	}
}

// Resolvers returns the fallback nameserver list.
func (s Settings) Resolvers() []string { return slices.Clone(s.resolvers) }

// RemediationMessage tells the user how to install the dependency by hand.
func (s Settings) RemediationMessage() string {
	return s.Command + " is not installed. Run 'sudo vibeos provision' or 'sudo " +
		s.FetchTool + " install -g " + s.Package + "', then '" + s.Command + " auth'."
}
