// SPDX-License-Identifier: MPL-2.0

// Package installer installs the critical CLI dependency inside the build
// sandbox.
//
// A Pipeline checks that the fetch tool exists, runs network diagnostics
// once, then tries a fixed, ordered list of strategies until one succeeds.
// Each strategy declares preconditions; one that is not met records the
// strategy as skipped and the pipeline moves on. A successful install is
// verified by invoking the command, synthesizing wrapper scripts when it is
// not directly invocable. The outcome is written to a state.Store exactly
// once. Exhausting every strategy is not an error: the record then carries
// installed=false and a remediation message.
package installer
