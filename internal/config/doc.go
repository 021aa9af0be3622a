// SPDX-License-Identifier: MPL-2.0

// Package config handles vibeos configuration using Viper with CUE as the file format.
//
// Configuration is loaded from the file named by --config, else from
// $XDG_CONFIG_HOME/vibeos/config.cue (~/.config/vibeos/config.cue), else from
// ./vibeos.cue. Every file is unified with the embedded #Config schema
// (config_schema.cue) before its values are merged over the defaults.
//
// The same format is used for the installer configuration baked into the
// image at /etc/vibeos/vibeos.cue; GenerateCUE renders it.
package config
