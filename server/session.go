// Copyright © 2025 Deskview contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: server/session.go
// Summary: Headless desktop session kept alive between viewer attachments.

package server

import (
	"context"
	"errors"
	"image"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/framegrace/deskview/protocol"
)

// ErrSessionClosed is returned by operations on a terminated session.
var ErrSessionClosed = errors.New("server: session closed")

// Session owns one frame source and the counters reported in Stats.
type Session struct {
	id      uuid.UUID
	connID  string
	created time.Time

	mu        sync.Mutex
	source    Source
	attached  bool
	closed    bool
	frames    uint64
	pdus      uint64
	bytesSent uint64
	bytesRecv uint64
	lastStats time.Time
	lastFrame uint64
}

func newSession(id uuid.UUID, connID string, source Source) *Session {
	now := time.Now()
	return &Session{id: id, connID: connID, created: now, source: source, lastStats: now}
}

func (s *Session) ID() uuid.UUID        { return s.id }
func (s *Session) ConnectionID() string { return s.connID }
func (s *Session) Created() time.Time   { return s.created }

// Size returns the current desktop size.
func (s *Session) Size() (int, int) {
	return s.source.Size()
}

// Attached reports whether a viewer currently holds the session.
func (s *Session) Attached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attached
}

func (s *Session) setAttached(v bool) {
	s.mu.Lock()
	s.attached = v
	s.mu.Unlock()
}

// Capture grabs the next frame from the source and counts it.
func (s *Session) Capture(ctx context.Context) (*image.RGBA, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	s.mu.Unlock()
	img, err := s.source.Capture(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.frames++
	s.mu.Unlock()
	return img, nil
}

// Resize changes the desktop size.
func (s *Session) Resize(width, height int) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrSessionClosed
	}
	return s.source.Resize(width, height)
}

// RecordSent counts one outbound message of n bytes.
func (s *Session) RecordSent(n int) {
	s.mu.Lock()
	s.pdus++
	s.bytesSent += uint64(n)
	s.mu.Unlock()
}

// RecordRecv counts n inbound bytes.
func (s *Session) RecordRecv(n int) {
	s.mu.Lock()
	s.bytesRecv += uint64(n)
	s.mu.Unlock()
}

// Info describes the session for SessionList.
func (s *Session) Info() protocol.SessionInfo {
	w, h := s.Size()
	return protocol.SessionInfo{
		ID:           s.id,
		ConnectionID: s.connID,
		Width:        uint16(w),
		Height:       uint16(h),
		Attached:     s.Attached(),
		CreatedAt:    s.created.Unix(),
	}
}

// Stats snapshots the counters. FPS covers the interval since the previous
// Stats call.
func (s *Session) Stats() protocol.Stats {
	return s.stats(true)
}

func (s *Session) stats(roll bool) protocol.Stats {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	var fps float64
	if elapsed := now.Sub(s.lastStats).Seconds(); elapsed > 0 {
		fps = float64(s.frames-s.lastFrame) / elapsed
	}
	if roll {
		s.lastStats = now
		s.lastFrame = s.frames
	}
	return protocol.Stats{
		UptimeMillis:  uint64(now.Sub(s.created).Milliseconds()),
		BytesSent:     s.bytesSent,
		BytesReceived: s.bytesRecv,
		Frames:        s.frames,
		PDUs:          s.pdus,
		FPS:           fps,
	}
}

// Close releases the source. Further captures fail with ErrSessionClosed.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.attached = false
	s.mu.Unlock()
	return s.source.Close()
}
