// SPDX-License-Identifier: MPL-2.0

// Package sandbox provisions the builder base image and runs the ephemeral
// build container.
//
// The base image tag is vibeos-builder:<hash> where the hash covers the
// rendered Containerfile, so an unchanged base image reference and package
// list never trigger a rebuild. Each build acquires a fresh privileged
// container from that image and must Close it; Close survives cancellation
// of the caller's context.
package sandbox
