// Copyright SAP SE
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"os"

	"github.com/sapcc/go-bits/must"
	"golang.org/x/term"

	"github.com/cobaltcore-dev/pipeline-adjust/internal/fault"
)

// Speaks the driver protocol on stdout: one JSON document per line for
// progress, followed by the final result document.
type stdioRuntime struct {
	out io.Writer
	// Pretty print result documents for humans.
	indent bool
}

func newStdioRuntime(out io.Writer) *stdioRuntime {
	r := &stdioRuntime{out: out}
	if f, ok := out.(*os.File); ok {
		r.indent = term.IsTerminal(int(f.Fd()))
	}
	return r
}

type progressDoc struct {
	Progress float64 `json:"progress"`
	Message  string  `json:"message"`
}

func (r *stdioRuntime) EmitProgress(percent float64, message string) {
	// Without the host reading stdout the adjustment cannot be reported.
	must.Succeed(json.NewEncoder(r.out).Encode(progressDoc{
		Progress: math.Round(percent*10) / 10,
		Message:  message,
	}))
}

func (r *stdioRuntime) Debug(msg string, args ...any) {
	slog.Debug(msg, args...)
}

// Write a result document.
func (r *stdioRuntime) Result(doc any) error {
	enc := json.NewEncoder(r.out)
	if r.indent {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(doc)
}

type okDoc struct {
	Status string `json:"status"`
}

type failureDoc struct {
	Status  string     `json:"status"`
	Reason  fault.Kind `json:"reason"`
	Message string     `json:"message"`
}

// Returned by commands that already reported their failure on stdout.
var errReported = errors.New("adjustment failed")

// Report a failure document and return errReported.
func (r *stdioRuntime) Fail(err error) error {
	doc := failureDoc{Status: "failed", Reason: fault.KindOf(err), Message: err.Error()}
	if writeErr := r.Result(doc); writeErr != nil {
		return errors.Join(err, writeErr)
	}
	return errReported
}
