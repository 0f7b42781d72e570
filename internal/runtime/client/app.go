// Copyright © 2025 Deskview contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: internal/runtime/client/app.go
// Summary: Wires a session to a terminal or headless display and runs it.
// Usage: Called by cmd/deskview once configuration is loaded.
// Notes: Every pipeline call happens on the Loop goroutine; tcell events are
//   polled on a helper goroutine and posted across.

package clientruntime

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/gdamore/tcell/v2"
	"pkt.systems/pslog"

	"github.com/framegrace/deskview/config"
	"github.com/framegrace/deskview/display"
	"github.com/framegrace/deskview/protocol"
	"github.com/framegrace/deskview/render"
	"github.com/framegrace/deskview/transport"
)

// ErrSessionFailed is returned by RunHeadless when the session errors.
var ErrSessionFailed = errors.New("session failed")

// AppOptions configures Run and RunHeadless.
type AppOptions struct {
	Config   config.Config
	Sessions SessionRegistry
	Trust    TrustDecider
	Registry *render.Registry
	PanicLog string
	// Screen overrides the terminal screen (tests use a simulation screen).
	Screen tcell.Screen
	// TerminateOnExit ends the remote session on quit instead of detaching.
	TerminateOnExit bool
	// Duration bounds a headless run; zero runs until ctx ends.
	Duration time.Duration
	Dial     func(ctx context.Context, address string) (net.Conn, error)
	Logger   pslog.Logger
}

func (o AppOptions) managerOptions(surface render.Surface, panics *PanicLogger, logger pslog.Logger) Options {
	cfg := o.Config
	dial := o.Dial
	if dial == nil {
		topts := transport.Options{Timeout: cfg.DialTimeout, ICEServers: cfg.WebRTC.ICEServers}
		dial = func(ctx context.Context, address string) (net.Conn, error) {
			return transport.DialOptions(ctx, address, topts)
		}
	}
	return Options{
		Address:        cfg.Address,
		ConnectionID:   cfg.ConnectionID,
		ClientName:     cfg.ClientName,
		Renderer:       cfg.RendererKind(),
		Registry:       o.Registry,
		Surface:        surface,
		Compression:    cfg.Compression,
		Width:          cfg.Width,
		Height:         cfg.Height,
		ResizeDebounce: cfg.ResizeDebounce,
		PingInterval:   cfg.PingInterval,
		WriteTimeout:   cfg.WriteTimeout,
		Dial:           dial,
		Sessions:       o.Sessions,
		Trust:          o.Trust,
		Panics:         panics,
		Logger:         logger,
	}
}

// statusView keeps the terminal status line in step with the session.
type statusView struct {
	term *display.Terminal
	rec  SessionRecord
}

func (v *statusView) StateChanged(rec SessionRecord) {
	v.rec = rec
	v.refresh()
}

func (v *statusView) RendererSelected(name string) {
	v.rec.Renderer = name
	v.refresh()
}

func (v *statusView) StatsUpdated(remote protocol.Stats, _ CompositorStats) {
	v.rec.Stats = remote
	v.refresh()
}

func (v *statusView) refresh() {
	detail := v.rec.Err
	switch v.rec.Status {
	case protocol.StateError:
		detail += " │ r retry · q quit"
	case protocol.StateDisconnected:
		detail = "r reconnect · q quit"
	}
	v.term.SetStatus(display.FormatStatus(v.rec.Status, v.rec.DesktopWidth, v.rec.DesktopHeight, v.rec.Stats, v.rec.Renderer, detail))
}

// Run shows the session in the terminal until the user quits or ctx ends.
// Ctrl+] leaves the session (detach, or terminate with TerminateOnExit).
func Run(ctx context.Context, opts AppOptions) error {
	logger := opts.Logger
	if logger == nil {
		logger = pslog.Ctx(ctx)
	}
	panics := NewPanicLogger(opts.PanicLog, logger)
	defer panics.Recover("run")

	screen := opts.Screen
	if screen == nil {
		var err error
		if screen, err = tcell.NewScreen(); err != nil {
			return fmt.Errorf("create screen failed: %w", err)
		}
	}
	if err := screen.Init(); err != nil {
		return fmt.Errorf("init screen failed: %w", err)
	}
	screen.EnableMouse()
	defer screen.DisableMouse()
	screen.HideCursor()
	defer screen.Fini()

	term := display.NewTerminal(screen)
	view := &statusView{term: term}
	loop := NewLoop(opts.Config.RefreshInterval(), logger)
	mopts := opts.managerOptions(term, panics, logger)
	mopts.Observer = view
	mgr := NewManager(loop, mopts)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var translator display.InputTranslator
	leave := func() {
		if opts.TerminateOnExit {
			mgr.Terminate()
		} else {
			mgr.Detach()
		}
		cancel()
	}
	handle := func(ev tcell.Event) {
		switch ev := ev.(type) {
		case *tcell.EventResize:
			term.Sync()
			w, h := term.Size()
			mgr.ViewResized(w, h)
			if opts.Config.FollowView && mgr.Record().Status == protocol.StateConnected {
				mgr.Resize(w*opts.Config.ViewScale, h*opts.Config.ViewScale)
			}
			view.refresh()
			return
		case *tcell.EventKey:
			if ev.Key() == tcell.KeyCtrlRightSq {
				leave()
				return
			}
			switch mgr.Record().Status {
			case protocol.StateError, protocol.StateDisconnected:
				switch ev.Rune() {
				case 'r', 'R':
					mgr.Retry(runCtx)
				case 'q', 'Q':
					cancel()
				}
				return
			}
		}
		mgr.SendInput(translator.Translate(ev)...)
	}

	panics.Go("eventPoll", func() {
		for {
			ev := screen.PollEvent()
			if ev == nil {
				return
			}
			if _, ok := ev.(*tcell.EventInterrupt); ok {
				continue
			}
			loop.Post(func() { handle(ev) })
		}
	})

	loop.Post(func() {
		view.refresh()
		mgr.Connect(runCtx)
	})
	err := loop.Run(runCtx)
	// the loop has stopped; the manager can be touched from here
	if st := mgr.Record().Status; st == protocol.StateConnected || st == protocol.StateConnecting {
		mgr.Detach()
	}
	drain(mgr, logger)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// shutdownGrace bounds how long an exiting viewer waits for its last
// messages to reach the host.
const shutdownGrace = 3 * time.Second

// drain waits for queued host and registry writes once the loop has stopped.
func drain(mgr *Manager, logger pslog.Logger) {
	select {
	case <-mgr.Shutdown():
	case <-time.After(shutdownGrace):
		logger.Warn("pending writes abandoned at exit")
	}
}

// headlessObserver logs state changes and stops the run on error.
type headlessObserver struct {
	logger pslog.Logger
	fail   func(error)
}

func (o headlessObserver) StateChanged(rec SessionRecord) {
	o.logger.Info("session", "state", rec.Status, "session", rec.ID, "width", rec.DesktopWidth, "height", rec.DesktopHeight)
	if rec.Status == protocol.StateError {
		o.fail(fmt.Errorf("%w: %s", ErrSessionFailed, rec.Err))
	}
}

func (o headlessObserver) RendererSelected(name string) {
	o.logger.Info("renderer selected", "renderer", name)
}

func (o headlessObserver) StatsUpdated(remote protocol.Stats, local CompositorStats) {
	o.logger.Debug("stats",
		"fps", remote.FPS,
		"rx", remote.BytesSent,
		"frames", remote.Frames,
		"presents", local.Presents,
		"queue_high_water", local.QueueHighWater)
}

// RunHeadless attaches, presents into an offscreen surface and writes a PNG
// snapshot to Config.Snapshot when the run ends. The session is detached on
// exit so it can be picked up again. The caller closes the returned surface.
func RunHeadless(ctx context.Context, opts AppOptions) (*display.Headless, error) {
	logger := opts.Logger
	if logger == nil {
		logger = pslog.Ctx(ctx)
	}
	panics := NewPanicLogger(opts.PanicLog, logger)
	defer panics.Recover("runHeadless")

	w, h := opts.Config.Width, opts.Config.Height
	if w <= 0 || h <= 0 {
		w, h = 1024, 768
	}
	surface := display.NewHeadless(w, h)

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	if opts.Duration > 0 {
		var stop context.CancelFunc
		runCtx, stop = context.WithTimeout(runCtx, opts.Duration)
		defer stop()
	}

	loop := NewLoop(opts.Config.RefreshInterval(), logger)
	mopts := opts.managerOptions(surface, panics, logger)
	mopts.Observer = headlessObserver{logger: logger, fail: cancel}
	mgr := NewManager(loop, mopts)
	loop.Post(func() { mgr.Connect(runCtx) })

	runErr := loop.Run(runCtx)
	mgr.Detach()
	drain(mgr, logger)

	if path := opts.Config.Snapshot; path != "" && surface.Presents() > 0 {
		if err := surface.SavePNG(path); err != nil {
			return surface, fmt.Errorf("save snapshot: %w", err)
		}
		logger.Info("snapshot written", "path", path, "presents", surface.Presents())
	}
	if cause := context.Cause(runCtx); errors.Is(cause, ErrSessionFailed) {
		return surface, cause
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) && !errors.Is(runErr, context.DeadlineExceeded) {
		return surface, runErr
	}
	return surface, nil
}
