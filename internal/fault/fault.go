// Copyright SAP SE
// SPDX-License-Identifier: Apache-2.0

package fault

import (
	"errors"
	"fmt"
)

// Kind classifies why an adjustment or query was aborted.
type Kind string

const (
	// Missing or malformed static configuration.
	KindConfig Kind = "config"
	// The adjustment request references unknown components or settings.
	KindInput Kind = "input"
	// A declared path matched nothing in the live document.
	KindPathNotFound Kind = "path_not_found"
	// Unexpected status or malformed response from a remote service.
	KindRemote Kind = "remote"
	// The deploy or health check budget was exceeded.
	KindTimeout Kind = "timeout"
	// The target pipeline is already active.
	KindConflict Kind = "conflict"
	// Anything that is not classified.
	KindUnknown Kind = "unknown"
)

// Error is a classified, fatal error surfaced to the caller of the driver.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s error: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s error: %s: %v", e.Kind, e.Message, e.Err)
}

// Unwrap exposes the underlying error for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

func newf(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func Config(format string, args ...any) error   { return newf(KindConfig, nil, format, args...) }
func Input(format string, args ...any) error    { return newf(KindInput, nil, format, args...) }
func Remote(format string, args ...any) error   { return newf(KindRemote, nil, format, args...) }
func Timeout(format string, args ...any) error  { return newf(KindTimeout, nil, format, args...) }
func Conflict(format string, args ...any) error { return newf(KindConflict, nil, format, args...) }

// Wrap classifies an existing error, keeping it reachable through errors.Is/As.
func Wrap(kind Kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return newf(kind, err, format, args...)
}

// PathNotFoundError is returned when a path expression matches nothing.
// Component and Setting are empty when the expression was evaluated outside
// of a setting, e.g. in a plain find.
type PathNotFoundError struct {
	Expr      string
	Component string
	Setting   string
	// The error that was annotated with the setting, if any.
	Err error
}

func (e *PathNotFoundError) Error() string {
	if e.Component == "" && e.Setting == "" {
		return fmt.Sprintf("path not found: %s", e.Expr)
	}
	return fmt.Sprintf(
		"path not found: %s (component %q, setting %q)",
		e.Expr, e.Component, e.Setting,
	)
}

func (e *PathNotFoundError) Unwrap() error {
	return e.Err
}

// ForSetting names the enclosing component and setting when err carries a
// PathNotFoundError anywhere in its chain. The result wraps err. Other
// errors are returned unchanged.
func ForSetting(err error, component, setting string) error {
	var pnf *PathNotFoundError
	if !errors.As(err, &pnf) {
		return err
	}
	return &PathNotFoundError{Expr: pnf.Expr, Component: component, Setting: setting, Err: err}
}

// KindOf returns the classification of err, looking through wrapped errors.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var pnf *PathNotFoundError
	if errors.As(err, &pnf) {
		return KindPathNotFound
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}
