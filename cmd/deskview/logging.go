// Copyright © 2025 Deskview contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: cmd/deskview/logging.go
// Summary: Logger selection; the terminal view moves logs off stderr.

package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"pkt.systems/pslog"

	"github.com/framegrace/deskview/config"
)

var logLevels = map[string]pslog.Level{
	"trace": pslog.TraceLevel,
	"debug": pslog.DebugLevel,
	"info":  pslog.InfoLevel,
	"warn":  pslog.WarnLevel,
	"error": pslog.ErrorLevel,
}

func levelFor(name string) pslog.Level {
	if lvl, ok := logLevels[strings.ToLower(name)]; ok {
		return lvl
	}
	return pslog.InfoLevel
}

// newLogger writes to w at the configured level.
func newLogger(w io.Writer, cfg config.Config, console bool) pslog.Logger {
	opts := pslog.Options{Mode: pslog.ModeStructured, NoColor: true, MinLevel: levelFor(cfg.LogLevel)}
	if console {
		opts.Mode = pslog.ModeConsole
		opts.NoColor = false
	}
	return pslog.NewWithOptions(w, opts)
}

// openLogFile opens deskview.log next to the config file.
func openLogFile() (*os.File, error) {
	dir, err := config.Dir()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	return os.OpenFile(filepath.Join(dir, "deskview.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
}
