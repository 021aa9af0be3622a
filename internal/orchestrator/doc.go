// SPDX-License-Identifier: MPL-2.0

// Package orchestrator drives one image build end to end: base image, build
// sandbox, profile assembly, image builder and the completion marker.
package orchestrator
