// SPDX-License-Identifier: MPL-2.0

package state

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
)

const (
	// RecordFileName is the state record file inside the state directory.
	RecordFileName = "ai_config.json"

	preinstalledSuffix = "_preinstalled"
)

var unsafeValueChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// ProvisioningState describes what the installer did.
type ProvisioningState struct {
	// SelectedDependency is the command name of the critical dependency.
	SelectedDependency string
	// AutoLaunch tells the boot selector to start the target program.
	AutoLaunch bool
	// Installed reports that the dependency passed verification.
	Installed bool
	// SDKInstalled reports that the companion SDK was installed.
	SDKInstalled bool
	// InstallationTimestamp is when the installer pipeline concluded.
	InstallationTimestamp time.Time
	// Strategy is the name of the strategy that succeeded, if any.
	Strategy string
	// WrapperPath is set when verification had to synthesize a wrapper.
	WrapperPath string
	// Version is the version reported by the health probe.
	Version string
	// CriticalAbsence carries the remediation message when Installed is false.
	CriticalAbsence string
}

// record is the JSON shape shared with the in-image shell.
type record struct {
	SelectedDependency    string `json:"selected_dependency"`
	SelectedAssistant     string `json:"selected_assistant,omitempty"`
	AutoLaunch            bool   `json:"auto_launch"`
	InstallationDate      string `json:"installation_date,omitempty"`
	Installed             *bool  `json:"installed,omitempty"`
	SDKInstalled          bool   `json:"sdk_installed"`
	InstallationTimestamp string `json:"installation_timestamp,omitempty"`
	Strategy              string `json:"strategy,omitempty"`
	WrapperPath           string `json:"wrapper_path,omitempty"`
	Version               string `json:"version,omitempty"`
	CriticalAbsence       string `json:"critical_absence,omitempty"`
}

// Sanitize strips every character outside [a-zA-Z0-9_-].
func Sanitize(value string) string {
	return unsafeValueChars.ReplaceAllString(value, "")
}

// DependencyKey returns the key prefix used for per-dependency fields and
// marker files, e.g. "claude_code" for "claude-code".
func DependencyKey(dependency string) string {
	return strings.ReplaceAll(Sanitize(dependency), "-", "_")
}

// PreinstalledKey returns the "<dependency>_preinstalled" record key.
func (s ProvisioningState) PreinstalledKey() string {
	return DependencyKey(s.SelectedDependency) + preinstalledSuffix
}

// MarshalJSON writes the record with the dynamic "<dependency>_preinstalled" key.
func (s ProvisioningState) MarshalJSON() ([]byte, error) {
	installed := s.Installed
	rec := record{
		SelectedDependency: s.SelectedDependency,
		SelectedAssistant:  s.SelectedDependency,
		AutoLaunch:         s.AutoLaunch,
		Installed:          &installed,
		SDKInstalled:       s.SDKInstalled,
		Strategy:           s.Strategy,
		WrapperPath:        s.WrapperPath,
		Version:            s.Version,
		CriticalAbsence:    s.CriticalAbsence,
	}
	if !s.InstallationTimestamp.IsZero() {
		ts := s.InstallationTimestamp.UTC()
		rec.InstallationTimestamp = ts.Format(time.RFC3339Nano)
		rec.InstallationDate = ts.Format(time.DateOnly)
	}

	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	if s.SelectedDependency != "" {
		fields[s.PreinstalledKey()] = json.RawMessage(fmt.Sprint(s.Installed))
	}
	// Map keys are emitted sorted, so the output is stable.
	return json.Marshal(fields)
}

// UnmarshalJSON reads a record. selected_dependency is sanitized, and when
// "installed" is absent the "<dependency>_preinstalled" key is used instead.
func (s *ProvisioningState) UnmarshalJSON(data []byte) error {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}

	// Records written by the shell only carry selected_assistant.
	if rec.SelectedDependency == "" {
		rec.SelectedDependency = rec.SelectedAssistant
	}

	out := ProvisioningState{
		SelectedDependency: Sanitize(rec.SelectedDependency),
		AutoLaunch:         rec.AutoLaunch,
		SDKInstalled:       rec.SDKInstalled,
		Strategy:           rec.Strategy,
		WrapperPath:        rec.WrapperPath,
		Version:            rec.Version,
		CriticalAbsence:    rec.CriticalAbsence,
	}

	if rec.InstallationTimestamp != "" {
		ts, err := time.Parse(time.RFC3339Nano, rec.InstallationTimestamp)
		if err != nil {
			return fmt.Errorf("parse installation_timestamp: %w", err)
		}
		out.InstallationTimestamp = ts
	}

	switch {
	case rec.Installed != nil:
		out.Installed = *rec.Installed
	case out.SelectedDependency != "":
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(data, &fields); err != nil {
			return err
		}
		if v, ok := fields[out.PreinstalledKey()]; ok {
			if err := json.Unmarshal(v, &out.Installed); err != nil {
				return fmt.Errorf("parse %s: %w", out.PreinstalledKey(), err)
			}
		}
	}

	*s = out
	return nil
}

// carriesInstalled reports whether data holds "installed" or the
// "<dependency>_preinstalled" key. The shell rewrites the record without
// either when the user changes launch settings.
func carriesInstalled(data []byte, dependency string) (bool, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return false, err
	}
	if _, ok := fields["installed"]; ok {
		return true, nil
	}
	_, ok := fields[DependencyKey(dependency)+preinstalledSuffix]
	return ok, nil
}

// carriesSDK reports whether data holds "sdk_installed".
func carriesSDK(data []byte) bool {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return false
	}
	_, ok := fields["sdk_installed"]
	return ok
}
