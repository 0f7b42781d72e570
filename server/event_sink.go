// Copyright © 2025 Deskview contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: server/event_sink.go
// Summary: Receivers for viewer input delivered to a session.

package server

import (
	"context"
	"sync"

	"pkt.systems/pslog"

	"github.com/framegrace/deskview/protocol"
)

// EventSink receives input batches associated with a session.
type EventSink interface {
	HandleInput(ctx context.Context, session *Session, events []protocol.InputEvent) error
}

// nopSink discards events when no sink is provided.
type nopSink struct{}

func (nopSink) HandleInput(context.Context, *Session, []protocol.InputEvent) error { return nil }

// LogSink traces every event and keeps a per-session tally.
type LogSink struct {
	logger pslog.Logger

	mu     sync.Mutex
	counts map[[16]byte]int
}

// NewLogSink returns a sink logging through logger (the context logger when nil).
func NewLogSink(logger pslog.Logger) *LogSink {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &LogSink{logger: logger, counts: make(map[[16]byte]int)}
}

func (l *LogSink) HandleInput(_ context.Context, session *Session, events []protocol.InputEvent) error {
	l.mu.Lock()
	l.counts[session.ID()] += len(events)
	l.mu.Unlock()
	for _, ev := range events {
		l.logger.Trace("input", "session", session.ID(), "kind", ev.Kind, "x", ev.X, "y", ev.Y,
			"button", ev.Button, "pressed", ev.Pressed, "scancode", ev.Scancode)
	}
	return nil
}

// Count returns the number of events seen for session.
func (l *LogSink) Count(session *Session) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counts[session.ID()]
}
