// SPDX-License-Identifier: MPL-2.0

package installer

import (
	"time"

	"github.com/vibeos/vibeos/internal/state"

	"github.com/hashicorp/go-multierror"
)

const (
	// OutcomeSkipped means a precondition was not met and nothing ran.
	OutcomeSkipped Outcome = iota
	// OutcomeFailed means the step ran and did not succeed.
	OutcomeFailed
	// OutcomeSucceeded means the step ran and succeeded.
	OutcomeSucceeded
)

type (
	// Outcome is the typed result of a strategy or of the SDK step.
	Outcome int

	// PreconditionResult lists the preconditions a strategy checked.
	PreconditionResult struct {
		Passed []string
		Failed []string
	}

	// Attempt records one strategy in the order it was considered.
	Attempt struct {
		Strategy      string
		Preconditions PreconditionResult
		Outcome       Outcome
		Diagnostic    string
		Duration      time.Duration
		Err           error
	}

	// Report is the full account of one pipeline run.
	Report struct {
		Network      NetworkStatus
		Attempts     []Attempt
		Verification *Verification
		SDK          Outcome
		State        state.ProvisioningState

		errs *multierror.Error
	}
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSkipped:
		return "skipped"
	case OutcomeFailed:
		return "failed"
	case OutcomeSucceeded:
		return "succeeded"
	default:
		return "unknown"
	}
}

// Ok reports whether every precondition passed.
func (p PreconditionResult) Ok() bool { return len(p.Failed) == 0 }

// Succeeded returns the successful attempt, if any.
func (r *Report) Succeeded() (Attempt, bool) {
	for _, a := range r.Attempts {
		if a.Outcome == OutcomeSucceeded {
			return a, true
		}
	}
	return Attempt{}, false
}

// Errors returns every recovered error of the run, or nil.
func (r *Report) Errors() error { return r.errs.ErrorOrNil() }

func (r *Report) record(err error) {
	if err != nil {
		r.errs = multierror.Append(r.errs, err)
	}
}
