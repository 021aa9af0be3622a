// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestActionableError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *ActionableError
		expected string
	}{
		{
			name:     "operation only",
			err:      &ActionableError{Operation: "assemble build profile"},
			expected: "failed to assemble build profile",
		},
		{
			name: "operation with resource",
			err: &ActionableError{
				Operation: "assemble build profile",
				Resource:  "./profile",
			},
			expected: "failed to assemble build profile: ./profile",
		},
		{
			name: "full context",
			err: &ActionableError{
				Operation: "provision base sandbox image",
				Resource:  "vibeos-builder:3f2a9c1b0d4e",
				Cause:     errors.New("daemon not running"),
			},
			expected: "failed to provision base sandbox image: vibeos-builder:3f2a9c1b0d4e: daemon not running",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestActionableError_Unwrap(t *testing.T) {
	sentinel := errors.New("sentinel")
	err := NewErrorContext().
		WithOperation("run image builder").
		Wrap(fmt.Errorf("exit status 1: %w", sentinel)).
		BuildError()

	if !errors.Is(err, sentinel) {
		t.Error("errors.Is should find the wrapped sentinel")
	}

	var ae *ActionableError
	if !errors.As(err, &ae) {
		t.Fatal("errors.As should find *ActionableError")
	}
	if ae.Operation != "run image builder" {
		t.Errorf("Operation = %q", ae.Operation)
	}
}

func TestActionableError_Format(t *testing.T) {
	err := &ActionableError{
		Operation:   "run image builder",
		Suggestions: []string{"Run with --verbose", "Run vibeos clean"},
		Cause:       fmt.Errorf("outer: %w", errors.New("inner")),
	}

	short := err.Format(false)
	if !strings.Contains(short, "• Run with --verbose") || !strings.Contains(short, "• Run vibeos clean") {
		t.Errorf("Format(false) missing suggestions: %q", short)
	}
	if strings.Contains(short, "Error chain:") {
		t.Error("Format(false) should not include the error chain")
	}

	verbose := err.Format(true)
	if !strings.Contains(verbose, "Error chain:") || !strings.Contains(verbose, "2. inner") {
		t.Errorf("Format(true) missing error chain: %q", verbose)
	}
}

func TestErrorContext_Build(t *testing.T) {
	t.Run("requires operation", func(t *testing.T) {
		if NewErrorContext().WithResource("x").Build() != nil {
			t.Error("Build() without operation should return nil")
		}
		if NewErrorContext().BuildError() != nil {
			t.Error("BuildError() without operation should return nil error")
		}
	})

	t.Run("carries all fields", func(t *testing.T) {
		ae := NewErrorContext().
			WithOperation("write provisioning state").
			WithResource("/etc/vibeos/ai_config.json").
			WithSuggestion("one").
			WithSuggestions("two", "three").
			WithIssue(StateMissingId).
			Build()

		if ae.Resource != "/etc/vibeos/ai_config.json" {
			t.Errorf("Resource = %q", ae.Resource)
		}
		if len(ae.Suggestions) != 3 || !ae.HasSuggestions() {
			t.Errorf("Suggestions = %v", ae.Suggestions)
		}
		if ae.Issue != StateMissingId {
			t.Errorf("Issue = %d, want %d", ae.Issue, StateMissingId)
		}
	})
}

func TestWrapWithOperation(t *testing.T) {
	if WrapWithOperation(nil, "x") != nil {
		t.Error("WrapWithOperation(nil) should return nil")
	}
	ae := WrapWithOperation(errors.New("boom"), "launch shell")
	if ae.Error() != "failed to launch shell: boom" {
		t.Errorf("Error() = %q", ae.Error())
	}
}
