// Copyright © 2025 Deskview contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: config/paths.go
// Summary: Path helpers for deskview configuration.

package config

import (
	"os"
	"path/filepath"
)

const (
	configName    = "config.yaml"
	sessionDBName = "sessions.db"
)

func configRoot() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "deskview"), nil
}

// DefaultPath is where Load looks when given an empty path.
func DefaultPath() (string, error) {
	root, err := configRoot()
	if err != nil {
		return "", err
	}
	return filepath.Join(root, configName), nil
}

// Dir returns the configuration directory, also used for logs.
func Dir() (string, error) {
	return configRoot()
}

func sessionDBPath() (string, error) {
	root, err := configRoot()
	if err != nil {
		return "", err
	}
	return filepath.Join(root, sessionDBName), nil
}
