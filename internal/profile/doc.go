// SPDX-License-Identifier: MPL-2.0

// Package profile assembles an archiso build profile from a source tree.
//
// A source tree holds a package manifest (packages.x86_64), an airootfs/
// overlay and an optional profile.toml with metadata and explicit file
// permissions. The Assembler merges these with files injected by the
// orchestrator and writes a deterministic profile directory, including a
// rendered profiledef.sh, that mkarchiso consumes.
package profile
