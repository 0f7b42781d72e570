// Copyright © 2025 Deskview contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: config/config.go
// Summary: Viewer configuration (YAML) with defaults and validation.

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/framegrace/deskview/protocol"
	"github.com/framegrace/deskview/render"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("config: invalid")

// Display modes.
const (
	DisplayAuto     = "auto"
	DisplayTerminal = "terminal"
	DisplayHeadless = "headless"
)

// Config is the viewer configuration file.
type Config struct {
	Address        string        `yaml:"address"`
	ConnectionID   string        `yaml:"connection_id"`
	ClientName     string        `yaml:"client_name"`
	Renderer       string        `yaml:"renderer"`
	RefreshHz      int           `yaml:"refresh_hz"`
	ResizeDebounce time.Duration `yaml:"resize_debounce"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	DialTimeout    time.Duration `yaml:"dial_timeout"`
	Compression    []string      `yaml:"compression"`
	Display        string        `yaml:"display"`
	Width          int           `yaml:"width,omitempty"`
	Height         int           `yaml:"height,omitempty"`
	FollowView     bool          `yaml:"follow_view"`
	ViewScale      int           `yaml:"view_scale"`
	Snapshot       string        `yaml:"snapshot,omitempty"`
	SessionDB      string        `yaml:"session_db"`
	LogLevel       string        `yaml:"log_level"`
	WebRTC         WebRTC        `yaml:"webrtc"`
}

// WebRTC holds data-channel transport settings.
type WebRTC struct {
	ICEServers []string `yaml:"ice_servers"`
}

// RefreshInterval converts RefreshHz into a tick period.
func (c Config) RefreshInterval() time.Duration {
	if c.RefreshHz <= 0 {
		return time.Second / defaultRefreshHz
	}
	return time.Second / time.Duration(c.RefreshHz)
}

// RendererKind parses Renderer.
func (c Config) RendererKind() render.Kind {
	kind, err := render.ParseKind(c.Renderer)
	if err != nil {
		return render.KindAuto
	}
	return kind
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	if _, err := render.ParseKind(c.Renderer); err != nil {
		return fmt.Errorf("%w: renderer %q", ErrInvalid, c.Renderer)
	}
	if c.RefreshHz < 1 || c.RefreshHz > 240 {
		return fmt.Errorf("%w: refresh_hz %d out of range 1..240", ErrInvalid, c.RefreshHz)
	}
	if c.ResizeDebounce < 0 {
		return fmt.Errorf("%w: resize_debounce must not be negative", ErrInvalid)
	}
	if c.WriteTimeout < 0 {
		return fmt.Errorf("%w: write_timeout must not be negative", ErrInvalid)
	}
	for _, name := range c.Compression {
		if _, err := protocol.CompressionFlag(name); err != nil {
			return fmt.Errorf("%w: compression %q", ErrInvalid, name)
		}
	}
	if c.Width < 0 || c.Height < 0 || c.Width > 0xffff || c.Height > 0xffff {
		return fmt.Errorf("%w: desktop size %dx%d", ErrInvalid, c.Width, c.Height)
	}
	if c.ViewScale < 1 || c.ViewScale > 32 {
		return fmt.Errorf("%w: view_scale %d out of range 1..32", ErrInvalid, c.ViewScale)
	}
	switch c.Display {
	case DisplayAuto, DisplayTerminal, DisplayHeadless:
	default:
		return fmt.Errorf("%w: display %q", ErrInvalid, c.Display)
	}
	switch strings.ToLower(c.LogLevel) {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: log_level %q", ErrInvalid, c.LogLevel)
	}
	return nil
}
