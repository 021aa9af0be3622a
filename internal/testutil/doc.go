// SPDX-License-Identifier: MPL-2.0

// Package testutil provides helpers that fail the test on error, and the
// gating used by container integration tests.
package testutil
