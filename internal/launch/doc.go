// SPDX-License-Identifier: MPL-2.0

// Package launch decides, at the start of an interactive session, whether to
// run the natural language shell or the baseline login shell.
//
// The selector walks Startup, HealthCheck, Launch and Fallback. Secondary
// terminals skip straight to Fallback, a failed health check renders a
// warning from the issue catalog before falling back, and the target
// program's exit always lands in Fallback. Fallback replaces the process with
// the baseline shell, so a primary session always ends with an interactive
// program.
package launch
