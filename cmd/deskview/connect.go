// Copyright © 2025 Deskview contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: cmd/deskview/connect.go
// Summary: The connect command: terminal or headless viewing session.

package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"pkt.systems/pslog"

	"github.com/framegrace/deskview/config"
	clientruntime "github.com/framegrace/deskview/internal/runtime/client"
	"github.com/framegrace/deskview/internal/sessionstore"
)

type connectFlags struct {
	connectionID string
	renderer     string
	display      string
	snapshot     string
	duration     time.Duration
	size         string
	followView   bool
	terminate    bool
	trustAny     bool
	pins         []string
	panicLog     string
}

func newConnectCmd(g *globalFlags) *cobra.Command {
	var f connectFlags
	cmd := &cobra.Command{
		Use:   "connect [address]",
		Short: "Attach to a remote desktop",
		Long: "Attach to a remote desktop over unix://, tcp://, ws:// or webrtc+http(s)://.\n" +
			"Ctrl+] leaves the session; it keeps running on the host unless --terminate is set.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := config.Load(ctx, g.config)
			if err != nil {
				return err
			}
			if len(args) == 1 {
				cfg.Address = args[0]
			}
			if err := f.apply(cmd, &cfg); err != nil {
				return err
			}
			return runConnect(ctx, cfg, f)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&f.connectionID, "id", "", "logical connection id used to find the session again")
	flags.StringVar(&f.renderer, "renderer", "", "renderer preference: auto, gpu, worker or software")
	flags.StringVar(&f.display, "display", "", "auto, terminal or headless")
	flags.StringVar(&f.snapshot, "snapshot", "", "headless: write the final frame to this PNG")
	flags.DurationVar(&f.duration, "duration", 0, "headless: disconnect after this long")
	flags.StringVar(&f.size, "size", "", "requested desktop size, WxH")
	flags.BoolVar(&f.followView, "follow-view", false, "resize the remote desktop with the terminal")
	flags.BoolVar(&f.terminate, "terminate", false, "terminate the remote session on exit instead of detaching")
	flags.BoolVar(&f.trustAny, "trust-any", false, "accept any host identity")
	flags.StringSliceVar(&f.pins, "pin", nil, "trusted host fingerprint (repeatable)")
	flags.StringVar(&f.panicLog, "panic-log", "", "file to append panic stack traces")
	return cmd
}

// apply overlays explicitly set flags on the loaded configuration.
func (f connectFlags) apply(cmd *cobra.Command, cfg *config.Config) error {
	set := cmd.Flags().Changed
	if set("id") {
		cfg.ConnectionID = f.connectionID
	}
	if set("renderer") {
		cfg.Renderer = f.renderer
	}
	if set("display") {
		cfg.Display = f.display
	}
	if set("snapshot") {
		cfg.Snapshot = f.snapshot
	}
	if set("follow-view") {
		cfg.FollowView = f.followView
	}
	if set("size") {
		var w, h int
		if _, err := fmt.Sscanf(f.size, "%dx%d", &w, &h); err != nil {
			return fmt.Errorf("size %q: want WxH", f.size)
		}
		cfg.Width, cfg.Height = w, h
	}
	return cfg.Validate()
}

func (f connectFlags) trust() clientruntime.TrustDecider {
	switch {
	case f.trustAny:
		return clientruntime.AcceptAnyHost()
	case len(f.pins) > 0:
		return clientruntime.PinnedHosts(f.pins...)
	}
	return nil
}

// useTerminal resolves the auto display mode from stdout.
func useTerminal(cfg config.Config) bool {
	switch cfg.Display {
	case config.DisplayTerminal:
		return true
	case config.DisplayHeadless:
		return false
	}
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func runConnect(ctx context.Context, cfg config.Config, f connectFlags) error {
	terminal := useTerminal(cfg)
	var logger pslog.Logger
	if terminal {
		file, err := openLogFile()
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer file.Close()
		logger = newLogger(file, cfg, false)
	} else {
		logger = newLogger(os.Stderr, cfg, term.IsTerminal(int(os.Stderr.Fd())))
	}
	ctx = pslog.ContextWithLogger(ctx, logger)

	opts := clientruntime.AppOptions{
		Config:          cfg,
		Trust:           f.trust(),
		PanicLog:        f.panicLog,
		TerminateOnExit: f.terminate,
		Duration:        f.duration,
		Logger:          logger,
	}
	if cfg.SessionDB != "" {
		store, err := sessionstore.Open(cfg.SessionDB)
		if err != nil {
			logger.Warn("session registry unavailable", "path", cfg.SessionDB, "err", err)
		} else {
			defer store.Close()
			opts.Sessions = store
		}
	}

	logger.Info("connecting", "address", cfg.Address, "connection", cfg.ConnectionID, "terminal", terminal)
	if terminal {
		return clientruntime.Run(ctx, opts)
	}
	surface, err := clientruntime.RunHeadless(ctx, opts)
	if surface != nil {
		logger.Info("headless run finished", "presents", surface.Presents())
		_ = surface.Close()
	}
	return err
}
