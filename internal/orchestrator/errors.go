// SPDX-License-Identifier: MPL-2.0

package orchestrator

import (
	"errors"
	"fmt"
)

// Stages of a build, in order.
const (
	StageLock      = "lock"
	StagePrepare   = "prepare"
	StageProvision = "provision"
	StageSandbox   = "sandbox"
	StageAssemble  = "assemble"
	StageBuild     = "build"
	StageFinalize  = "finalize"
)

// ErrBuildInProgress is returned when another build holds the output directory.
var ErrBuildInProgress = errors.New("another build is using the output directory")

// BuildFailedError reports the stage at which a build stopped.
type BuildFailedError struct {
	Stage string
	Err   error
}

func (e *BuildFailedError) Error() string {
	return fmt.Sprintf("build failed during %s: %v", e.Stage, e.Err)
}

func (e *BuildFailedError) Unwrap() error { return e.Err }

func failed(stage string, err error) error {
	return &BuildFailedError{Stage: stage, Err: err}
}
