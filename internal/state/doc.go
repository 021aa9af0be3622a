// SPDX-License-Identifier: MPL-2.0

// Package state persists the provisioning outcome recorded inside the image.
//
// The record is written once by the in-sandbox installer and read at boot by
// the launch selector and by the interactive shell. A missing record means
// the dependency is not installed.
package state
