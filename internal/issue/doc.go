// SPDX-License-Identifier: MPL-2.0

// Package issue provides actionable error handling with user-friendly messages.
//
// ActionableError carries the failed operation, the resource involved and a list of
// remediation hints. The Markdown issue catalog backs the longer guidance shown when
// a build stage fails or when a boot session degrades to the baseline shell.
package issue
