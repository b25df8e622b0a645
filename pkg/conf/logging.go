// Copyright SAP SE
// SPDX-License-Identifier: Apache-2.0

package conf

import (
	"io"
	"log/slog"
	"os"
)

// Level parses the configured level, e.g. "debug", "WARN" or "info+2".
// Unknown or empty levels fall back to info.
func (c LoggingConfig) Level() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LevelStr)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// NewLogger builds a logger writing to w in the configured format,
// "json" or text otherwise.
func (c LoggingConfig) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// SetDefaultLogger installs the configured logger on stderr. Stdout carries
// the progress and result documents of the driver.
func (c LoggingConfig) SetDefaultLogger() {
	slog.SetDefault(c.NewLogger(os.Stderr))
	slog.Debug("logging: set default logger", "level", c.Level().String(), "format", c.Format)
}
