// SPDX-License-Identifier: MPL-2.0

package installer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vibeos/vibeos/internal/state"
)

var sdkTools = []string{"pip", "pip3"}

type (
	// Option configures a Pipeline.
	Option func(*Pipeline)

	// Pipeline runs diagnostics, strategies, verification and the SDK step,
	// then persists the outcome.
	Pipeline struct {
		settings    Settings
		store       state.Store
		exec        Executor
		probe       ProbeFunc
		diagnostics DiagnosticsRunner
		logger      *slog.Logger
		now         func() time.Time
	}
)

// WithExecutor replaces the host executor.
func WithExecutor(e Executor) Option { return func(p *Pipeline) { p.exec = e } }

// WithProbe replaces the "--version" health probe.
func WithProbe(fn ProbeFunc) Option { return func(p *Pipeline) { p.probe = fn } }

// WithDiagnostics replaces the network diagnostics.
func WithDiagnostics(d DiagnosticsRunner) Option { return func(p *Pipeline) { p.diagnostics = d } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(p *Pipeline) { p.logger = l } }

// WithClock sets the clock used for the installation timestamp.
func WithClock(now func() time.Time) Option { return func(p *Pipeline) { p.now = now } }

// NewPipeline creates a Pipeline that writes its outcome to store.
func NewPipeline(s Settings, store state.Store, opts ...Option) *Pipeline {
	p := &Pipeline{
		settings: s,
		store:    store,
		exec:     NewExecutor(),
		probe:    VersionProbe,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.diagnostics == nil {
		p.diagnostics = NewDiagnostics(s, p.logger)
	}
	return p
}

// Run installs the dependency. It returns a *PreconditionMissingError, with
// nothing written, when the fetch tool is absent. Every other failure is
// recovered: the record is written once and Run returns the report with a
// nil error, unless the record itself cannot be written.
func (p *Pipeline) Run(ctx context.Context) (*Report, error) {
	fetchPath, err := p.exec.LookPath(p.settings.FetchTool)
	if err != nil {
		return nil, &PreconditionMissingError{Tool: p.settings.FetchTool, Err: err}
	}

	report := &Report{}
	report.Network = p.diagnostics.Run(ctx)
	report.record(report.Network.Err)
	p.logger.Info("network diagnostics complete",
		"reachable", report.Network.Reachable,
		"resolvable", report.Network.Resolvable,
		"resolvers_rewritten", report.Network.ResolversRewritten)

	env := Environment{FetchToolPath: fetchPath, Network: report.Network}
	for _, strategy := range Strategies(p.settings) {
		if ctx.Err() != nil {
			break
		}
		attempt := p.attempt(ctx, strategy, env)
		report.Attempts = append(report.Attempts, attempt)
		report.record(attempt.Err)
		if attempt.Outcome == OutcomeSucceeded {
			break
		}
	}

	installed := false
	succeeded, ok := report.Succeeded()
	if ok {
		verification, err := NewVerifier(p.settings, p.exec, p.probe, p.logger).Verify(ctx)
		if err != nil {
			report.record(err)
			p.logger.Error("verification failed", "error", err)
		} else {
			report.Verification = verification
			installed = true
		}
	}

	report.SDK = OutcomeSkipped
	if installed && p.settings.SDKEnabled && p.settings.SDKPackage != "" {
		report.SDK = p.installSDK(ctx, report)
	}

	report.State = state.ProvisioningState{
		SelectedDependency:    p.settings.Command,
		AutoLaunch:            installed,
		Installed:             installed,
		SDKInstalled:          report.SDK == OutcomeSucceeded,
		InstallationTimestamp: p.now().UTC(),
	}
	if installed {
		report.State.Strategy = succeeded.Strategy
		report.State.WrapperPath = report.Verification.WrapperPath
		report.State.Version = report.Verification.Version
	} else {
		report.State.CriticalAbsence = p.settings.RemediationMessage()
		p.logger.Error("critical dependency absent, image will boot into the fallback shell",
			"command", p.settings.Command)
	}

	// The record is written even when the run was interrupted.
	if err := p.store.Write(context.WithoutCancel(ctx), report.State); err != nil {
		return report, fmt.Errorf("persist provisioning state: %w", err)
	}
	return report, nil
}

func (p *Pipeline) attempt(ctx context.Context, s Strategy, env Environment) Attempt {
	a := Attempt{Strategy: s.Name(), Preconditions: s.Preconditions(env)}
	if !a.Preconditions.Ok() {
		a.Outcome = OutcomeSkipped
		a.Diagnostic = fmt.Sprintf("unmet preconditions: %v", a.Preconditions.Failed)
		p.logger.Info("strategy skipped", "strategy", a.Strategy, "unmet", a.Preconditions.Failed)
		return a
	}

	sctx, cancel := withTimeout(ctx, p.settings.StrategyTimeout)
	defer cancel()

	p.logger.Info("running strategy", "strategy", a.Strategy)
	start := time.Now()
	out, code, err := p.exec.Run(sctx, s.Command(env))
	a.Duration = time.Since(start)
	a.Diagnostic = tail(out)

	switch {
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		a.Outcome = OutcomeFailed
		a.Err = &StrategyFailedError{Strategy: a.Strategy, Timeout: p.settings.StrategyTimeout, Output: a.Diagnostic}
	case err != nil:
		a.Outcome = OutcomeFailed
		a.Err = &StrategyFailedError{Strategy: a.Strategy, ExitCode: code, Output: a.Diagnostic, Err: err}
	case code != 0:
		a.Outcome = OutcomeFailed
		a.Err = &StrategyFailedError{Strategy: a.Strategy, ExitCode: code, Output: a.Diagnostic}
	default:
		a.Outcome = OutcomeSucceeded
	}

	if a.Err != nil {
		p.logger.Warn("strategy failed", "strategy", a.Strategy, "duration", a.Duration, "error", a.Err)
	} else {
		p.logger.Info("strategy succeeded", "strategy", a.Strategy, "duration", a.Duration)
	}
	return a
}

// installSDK installs the companion SDK once. It never changes the primary outcome.
func (p *Pipeline) installSDK(ctx context.Context, report *Report) Outcome {
	var pip string
	for _, tool := range sdkTools {
		if path, err := p.exec.LookPath(tool); err == nil {
			pip = path
			break
		}
	}
	if pip == "" {
		p.logger.Info("pip not found, skipping SDK install", "package", p.settings.SDKPackage)
		return OutcomeSkipped
	}

	sctx, cancel := withTimeout(ctx, p.settings.StrategyTimeout)
	defer cancel()

	out, code, err := p.exec.Run(sctx, Command{
		Path: pip,
		Args: []string{"install", "--break-system-packages", p.settings.SDKPackage},
	})
	if err != nil || code != 0 {
		report.record(&StrategyFailedError{Strategy: "sdk", ExitCode: code, Output: tail(out), Err: err})
		p.logger.Warn("SDK install failed", "package", p.settings.SDKPackage, "exit_code", code, "error", err)
		return OutcomeFailed
	}
	p.logger.Info("SDK installed", "package", p.settings.SDKPackage)
	return OutcomeSucceeded
}

// withTimeout bounds ctx by d when d is positive.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
