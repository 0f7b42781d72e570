// Copyright © 2025 Deskview contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/framegrace/deskview/render"
)

func TestLoadWritesDefaults(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := Load(context.Background(), "")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RefreshHz != defaultRefreshHz || cfg.Display != DisplayAuto {
		t.Fatalf("unexpected defaults %+v", cfg)
	}

	path, err := DefaultPath()
	if err != nil {
		t.Fatalf("DefaultPath: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read default config: %v", err)
	}
	var disk Config
	if err := yaml.Unmarshal(data, &disk); err != nil {
		t.Fatalf("unmarshal default config: %v", err)
	}
	if disk.ResizeDebounce != defaultResizeDebounce {
		t.Fatalf("resize_debounce on disk = %v", disk.ResizeDebounce)
	}
	if filepath.Dir(disk.SessionDB) != filepath.Dir(path) {
		t.Fatalf("session db %q should live next to %q", disk.SessionDB, path)
	}
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "address: ws://desk.example/ws\nrefresh_hz: 30\nresize_debounce: 250ms\nrenderer: software\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(context.Background(), path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Address != "ws://desk.example/ws" || cfg.RefreshHz != 30 {
		t.Fatalf("file values lost: %+v", cfg)
	}
	if cfg.ResizeDebounce != 250*time.Millisecond {
		t.Fatalf("resize_debounce = %v", cfg.ResizeDebounce)
	}
	if cfg.RendererKind() != render.KindSoftware {
		t.Fatalf("renderer = %v", cfg.RendererKind())
	}
	if cfg.PingInterval != defaultPingInterval || cfg.WriteTimeout != defaultWriteTimeout || cfg.LogLevel != "info" {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if cfg.RefreshInterval() != time.Second/30 {
		t.Fatalf("refresh interval = %v", cfg.RefreshInterval())
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"renderer":    "renderer: vulkan\n",
		"refresh":     "refresh_hz: 1000\n",
		"compression": "compression: [brotli]\n",
		"display":     "display: x11\n",
		"log level":   "log_level: loud\n",
		"write":       "write_timeout: -1s\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
				t.Fatalf("write: %v", err)
			}
			if _, err := Load(context.Background(), path); !errors.Is(err, ErrInvalid) {
				t.Fatalf("expected ErrInvalid, got %v", err)
			}
		})
	}
}

func TestLoadMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("address: [unterminated\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(context.Background(), path); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := Default()
	cfg.Compression = []string{"zstd"}
	cfg.WebRTC.ICEServers = []string{"stun:stun.example.org:3478"}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := Load(context.Background(), path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got.Compression) != 1 || got.Compression[0] != "zstd" {
		t.Fatalf("compression = %v", got.Compression)
	}
	if len(got.WebRTC.ICEServers) != 1 {
		t.Fatalf("ice servers = %v", got.WebRTC.ICEServers)
	}
}
