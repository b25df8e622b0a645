// Copyright SAP SE
// SPDX-License-Identifier: Apache-2.0

package fault

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected Kind
	}{
		{"nil", nil, ""},
		{"config", Config("missing %s", "url"), KindConfig},
		{"input", Input("unknown component %q", "web"), KindInput},
		{"remote", Remote("status %d", 500), KindRemote},
		{"timeout", Timeout("deploy"), KindTimeout},
		{"conflict", Conflict("already running"), KindConflict},
		{"wrapped", fmt.Errorf("outer: %w", Timeout("inner")), KindTimeout},
		{"path not found", &PathNotFoundError{Expr: "{.a}"}, KindPathNotFound},
		{"wrapped path not found", fmt.Errorf("x: %w", &PathNotFoundError{Expr: "{.a}"}), KindPathNotFound},
		{"plain", errors.New("boom"), KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestWrap(t *testing.T) {
	if Wrap(KindRemote, nil, "nothing") != nil {
		t.Fatal("expected nil when wrapping nil")
	}
	cause := errors.New("connection refused")
	err := Wrap(KindRemote, cause, "failed to fetch %s", "pipeline")
	if !errors.Is(err, cause) {
		t.Error("expected cause to be reachable")
	}
	if !strings.Contains(err.Error(), "connection refused") || !strings.Contains(err.Error(), "failed to fetch pipeline") {
		t.Errorf("unexpected message: %s", err)
	}
}

func TestForSetting(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"bare", &PathNotFoundError{Expr: "{.stages[*].x}"}},
		{"wrapped", fmt.Errorf("mutate: %w", &PathNotFoundError{Expr: "{.stages[*].x}"})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ForSetting(tt.err, "web", "replicas")
			msg := err.Error()
			for _, want := range []string{"{.stages[*].x}", `"web"`, `"replicas"`} {
				if !strings.Contains(msg, want) {
					t.Errorf("expected %q in %q", want, msg)
				}
			}
			if !errors.Is(err, tt.err) {
				t.Error("expected the original error to stay reachable")
			}
			var pnf *PathNotFoundError
			if !errors.As(err, &pnf) || pnf.Component != "web" || pnf.Setting != "replicas" {
				t.Errorf("expected the outermost error to name the setting, got %+v", pnf)
			}
			if KindOf(err) != KindPathNotFound {
				t.Errorf("expected kind path_not_found, got %q", KindOf(err))
			}
		})
	}
	other := Remote("x")
	if ForSetting(other, "a", "b") != other {
		t.Error("expected other errors to pass through unchanged")
	}
}
