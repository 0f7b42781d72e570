// Copyright © 2025 Deskview contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: server/metrics.go
// Summary: Periodic session counters written to the structured log.

package server

import (
	"context"
	"time"

	"github.com/dustin/go-humanize"
	"pkt.systems/pslog"

	"github.com/framegrace/deskview/protocol"
)

// SessionStatsObserver records session counters.
type SessionStatsObserver interface {
	ObserveSessionStats(session *Session, stats protocol.Stats)
}

// SessionStatsLogger logs session stats.
type SessionStatsLogger struct {
	logger pslog.Logger
}

// NewSessionStatsLogger returns an observer that logs counters.
func NewSessionStatsLogger(l pslog.Logger) *SessionStatsLogger {
	if l == nil {
		l = pslog.Ctx(context.Background())
	}
	return &SessionStatsLogger{logger: l}
}

func (s *SessionStatsLogger) ObserveSessionStats(session *Session, stats protocol.Stats) {
	if s == nil || s.logger == nil || session == nil {
		return
	}
	s.logger.Debug("session stats",
		"session", session.ID(),
		"uptime", (time.Duration(stats.UptimeMillis) * time.Millisecond).String(),
		"sent", humanize.IBytes(stats.BytesSent),
		"received", humanize.IBytes(stats.BytesReceived),
		"frames", stats.Frames,
		"fps", stats.FPS,
	)
}

// LogActiveSessions writes one summary line per session every interval until
// ctx ends.
func LogActiveSessions(ctx context.Context, m *Manager, interval time.Duration, logger pslog.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for id, st := range m.SessionStats() {
				logger.Info("session", "id", id, "frames", st.Frames, "sent", humanize.IBytes(st.BytesSent), "fps", st.FPS)
			}
		}
	}
}
