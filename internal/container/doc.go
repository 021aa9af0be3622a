// SPDX-License-Identifier: MPL-2.0

// Package container provides a unified abstraction layer for container engines (Docker/Podman).
//
// The Engine interface covers what the build sandbox needs: Build and ImageExists for
// the base image, detached Run plus Exec for the ephemeral build container, and
// Remove for teardown. DockerEngine and PodmanEngine both embed BaseCLIEngine for
// shared CLI argument construction and command execution; its ExecCommandFunc is
// the injection point tests use to replace the engine binary.
//
// Engine selection uses NewEngine(EngineType) with automatic fallback if the preferred
// engine is unavailable.
package container
