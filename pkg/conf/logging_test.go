// Copyright SAP SE
// SPDX-License-Identifier: Apache-2.0

package conf

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestLoggingConfig_Level(t *testing.T) {
	tests := []struct {
		levelStr string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"WARN", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info+2", slog.LevelInfo + 2},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.levelStr, func(t *testing.T) {
			if got := (LoggingConfig{LevelStr: tt.levelStr}).Level(); got != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestLoggingConfig_NewLogger(t *testing.T) {
	tests := []struct {
		format   string
		expected string
	}{
		{"json", `"level":"WARN","msg":"registry unavailable","attempt":2`},
		{"text", `level=WARN msg="registry unavailable" attempt=2`},
		{"", `level=WARN msg="registry unavailable" attempt=2`},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			var buf bytes.Buffer
			logger := LoggingConfig{LevelStr: "warn", Format: tt.format}.NewLogger(&buf)
			logger.Info("dropped below the level")
			logger.Warn("registry unavailable", "attempt", 2)
			output := buf.String()
			if !strings.Contains(output, tt.expected) {
				t.Errorf("expected output to contain %q, got %q", tt.expected, output)
			}
			if strings.Contains(output, "dropped") {
				t.Errorf("expected info records to be filtered, got %q", output)
			}
		})
	}
}
