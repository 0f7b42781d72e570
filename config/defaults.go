// Copyright © 2025 Deskview contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: config/defaults.go
// Summary: Default values for the viewer configuration file.

package config

import (
	"os"
	"time"

	"github.com/framegrace/deskview/protocol"
)

const (
	defaultRefreshHz      = 60
	defaultResizeDebounce = 150 * time.Millisecond
	defaultPingInterval   = 5 * time.Second
	defaultWriteTimeout   = 2 * time.Second
	defaultDialTimeout    = 10 * time.Second
	defaultViewScale      = 8
	defaultAddress        = "tcp://127.0.0.1:7390"
)

// Default returns the configuration used when no file exists.
func Default() Config {
	name, _ := os.Hostname()
	if name == "" {
		name = "deskview"
	}
	cfg := Config{
		Address:        defaultAddress,
		ConnectionID:   "default",
		ClientName:     name,
		Renderer:       "auto",
		RefreshHz:      defaultRefreshHz,
		ResizeDebounce: defaultResizeDebounce,
		PingInterval:   defaultPingInterval,
		WriteTimeout:   defaultWriteTimeout,
		DialTimeout:    defaultDialTimeout,
		Compression:    []string{protocol.CompressionLZ4, protocol.CompressionZstd},
		Display:        DisplayAuto,
		ViewScale:      defaultViewScale,
		LogLevel:       "info",
	}
	if path, err := sessionDBPath(); err == nil {
		cfg.SessionDB = path
	}
	return cfg
}

// applyDefaults fills zero fields left by a partial file.
func applyDefaults(cfg *Config) {
	def := Default()
	if cfg.Address == "" {
		cfg.Address = def.Address
	}
	if cfg.ConnectionID == "" {
		cfg.ConnectionID = def.ConnectionID
	}
	if cfg.ClientName == "" {
		cfg.ClientName = def.ClientName
	}
	if cfg.Renderer == "" {
		cfg.Renderer = def.Renderer
	}
	if cfg.RefreshHz == 0 {
		cfg.RefreshHz = def.RefreshHz
	}
	if cfg.ResizeDebounce == 0 {
		cfg.ResizeDebounce = def.ResizeDebounce
	}
	if cfg.PingInterval == 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = def.DialTimeout
	}
	if cfg.Compression == nil {
		cfg.Compression = def.Compression
	}
	if cfg.Display == "" {
		cfg.Display = def.Display
	}
	if cfg.ViewScale == 0 {
		cfg.ViewScale = def.ViewScale
	}
	if cfg.SessionDB == "" {
		cfg.SessionDB = def.SessionDB
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = def.LogLevel
	}
}
