// Copyright © 2025 Deskview contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: cmd/deskview-server-sim/main.go
// Summary: Reference desktop host serving a test pattern or the real screen.
// Usage: deskview-server-sim --listen tcp://127.0.0.1:7390 [--screen]

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"pkt.systems/pslog"

	"github.com/framegrace/deskview/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type simFlags struct {
	listen   string
	name     string
	size     string
	fps      int
	tile     int
	screen   bool
	display  int
	identity bool
	ice      []string
	verbose  bool
}

func run() error {
	var f simFlags
	flagSet := pflag.NewFlagSet("deskview-server-sim", pflag.ContinueOnError)
	flagSet.StringVarP(&f.listen, "listen", "l", "tcp://127.0.0.1:7390", "listen address (unix, tcp, ws or webrtc+http)")
	flagSet.StringVar(&f.name, "name", "deskview-server-sim", "server name sent in Welcome")
	flagSet.StringVar(&f.size, "size", "", "default desktop size WxH for new sessions")
	flagSet.IntVar(&f.fps, "fps", server.DefaultFPS, "frames captured per second")
	flagSet.IntVar(&f.tile, "tile", server.DefaultTileSize, "diff tile edge in pixels")
	flagSet.BoolVar(&f.screen, "screen", false, "capture the local display instead of the test pattern")
	flagSet.IntVar(&f.display, "display", 0, "display index for --screen")
	flagSet.BoolVar(&f.identity, "identity", true, "present a host identity to viewers that support the trust gate")
	flagSet.StringSliceVar(&f.ice, "ice", nil, "ICE server URL for webrtc (repeatable)")
	flagSet.BoolVarP(&f.verbose, "verbose", "v", false, "debug logging")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	level := pslog.InfoLevel
	if f.verbose {
		level = pslog.DebugLevel
	}
	logger := pslog.NewWithOptions(os.Stderr, pslog.Options{Mode: pslog.ModeConsole, MinLevel: level})
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = pslog.ContextWithLogger(ctx, logger)

	factory, err := f.sourceFactory()
	if err != nil {
		return err
	}
	opts := server.Options{
		Name:          f.name,
		FPS:           f.fps,
		TileSize:      f.tile,
		Sink:          inputSink(logger),
		StatsObserver: server.NewSessionStatsLogger(logger),
		ICEServers:    f.ice,
		Logger:        logger,
	}
	if f.identity {
		host, _ := os.Hostname()
		id, err := server.GenerateIdentity(host, 24*time.Hour)
		if err != nil {
			return err
		}
		opts.Identity = &id
		logger.Info("host identity", "fingerprint", id.Fingerprint())
	}

	manager := server.NewManager(factory)
	defer manager.Close()
	srv := server.NewServer(f.listen, manager, opts)
	if err := srv.Start(ctx); err != nil {
		return err
	}
	go server.LogActiveSessions(ctx, manager, 30*time.Second, logger)

	<-ctx.Done()
	shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Stop(shutdown); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}

// sourceFactory picks the frame source and applies --size to new sessions
// that did not request one.
func (f simFlags) sourceFactory() (server.SourceFactory, error) {
	base := server.NewPatternSource
	if f.screen {
		if !server.ScreenAvailable() {
			return nil, server.ErrNoDisplay
		}
		base = server.ScreenSourceFactory(f.display)
	}
	if f.size == "" {
		return base, nil
	}
	var w, h int
	if _, err := fmt.Sscanf(f.size, "%dx%d", &w, &h); err != nil || w <= 0 || h <= 0 {
		return nil, fmt.Errorf("size %q: want WxH", f.size)
	}
	return func(width, height int) (server.Source, error) {
		if width == server.DefaultWidth && height == server.DefaultHeight {
			width, height = w, h
		}
		return base(width, height)
	}, nil
}
