// SPDX-License-Identifier: MPL-2.0

package installer

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrPreconditionMissing is wrapped when a tool the whole pipeline needs is absent.
	ErrPreconditionMissing = errors.New("installer precondition missing")
	// ErrNetworkUnavailable is wrapped when diagnostics find the network unusable.
	ErrNetworkUnavailable = errors.New("network unavailable")
	// ErrStrategyFailed is wrapped when a strategy ran and did not succeed.
	ErrStrategyFailed = errors.New("installation strategy failed")
	// ErrVerificationFailed is wrapped when the installed command cannot be invoked.
	ErrVerificationFailed = errors.New("installation verification failed")
)

type (
	// PreconditionMissingError aborts the pipeline before diagnostics run.
	PreconditionMissingError struct {
		Tool string
		Err  error
	}

	// NetworkUnavailableError describes a negative diagnostics result.
	NetworkUnavailableError struct {
		Reachable  bool
		Resolvable bool
		Host       string
	}

	// StrategyFailedError describes one failed strategy execution.
	StrategyFailedError struct {
		Strategy string
		ExitCode int
		Timeout  time.Duration
		Output   string
		Err      error
	}

	// VerificationFailedError lists every invocation path that was tried.
	VerificationFailedError struct {
		Command string
		Tried   []string
		Err     error
	}
)

func (e *PreconditionMissingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s not found: %v", e.Tool, e.Err)
	}
	return e.Tool + " not found"
}

func (e *PreconditionMissingError) Unwrap() error { return ErrPreconditionMissing }

func (e *NetworkUnavailableError) Error() string {
	var parts []string
	if !e.Reachable {
		parts = append(parts, "no connectivity")
	}
	if !e.Resolvable {
		parts = append(parts, "cannot resolve "+e.Host)
	}
	return "network unavailable: " + strings.Join(parts, ", ")
}

func (e *NetworkUnavailableError) Unwrap() error { return ErrNetworkUnavailable }

func (e *StrategyFailedError) Error() string {
	switch {
	case e.Timeout > 0:
		return fmt.Sprintf("strategy %s timed out after %s", e.Strategy, e.Timeout)
	case e.Err != nil:
		return fmt.Sprintf("strategy %s failed: %v", e.Strategy, e.Err)
	default:
		return fmt.Sprintf("strategy %s exited with code %d", e.Strategy, e.ExitCode)
	}
}

func (e *StrategyFailedError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrStrategyFailed}
	}
	return []error{ErrStrategyFailed, e.Err}
}

func (e *VerificationFailedError) Error() string {
	msg := fmt.Sprintf("%s is not invocable (tried %s)", e.Command, strings.Join(e.Tried, ", "))
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *VerificationFailedError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrVerificationFailed}
	}
	return []error{ErrVerificationFailed, e.Err}
}
