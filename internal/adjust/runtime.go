// Copyright SAP SE
// SPDX-License-Identifier: Apache-2.0

package adjust

// Runtime is the host process driving the adjustment. It receives progress
// and diagnostics while the adjustment runs.
type Runtime interface {
	// Report the overall progress in percent with a short message.
	EmitProgress(percent float64, message string)
	// Emit a diagnostic message with key/value attributes.
	Debug(msg string, args ...any)
}
