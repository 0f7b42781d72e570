// Copyright © 2025 Deskview contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: server/manager.go
// Summary: Tracks headless sessions by id and by logical connection.
// Notes: A connection id maps to at most one session; attaching with the
//   zero id reuses it instead of creating a duplicate.

package server

import (
	"errors"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/framegrace/deskview/protocol"
)

var (
	ErrSessionNotFound = errors.New("server: session not found")
)

const (
	DefaultWidth  = 1024
	DefaultHeight = 768
)

// Manager tracks active sessions and coordinates creation/lookup.
type Manager struct {
	factory SourceFactory

	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session
	byConn   map[string]uuid.UUID
}

// NewManager returns a manager creating sources with factory
// (NewPatternSource when nil).
func NewManager(factory SourceFactory) *Manager {
	if factory == nil {
		factory = NewPatternSource
	}
	return &Manager{
		factory:  factory,
		sessions: make(map[uuid.UUID]*Session),
		byConn:   make(map[string]uuid.UUID),
	}
}

// List returns sessions for connID, or every session when connID is empty,
// oldest first.
func (m *Manager) List(connID string) []protocol.SessionInfo {
	m.mu.RLock()
	matched := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		if connID == "" || s.connID == connID {
			matched = append(matched, s)
		}
	}
	m.mu.RUnlock()
	slices.SortFunc(matched, func(a, b *Session) int { return a.created.Compare(b.created) })
	infos := make([]protocol.SessionInfo, len(matched))
	for i, s := range matched {
		infos[i] = s.Info()
	}
	return infos
}

// Attach resolves req to a session and marks it attached. An explicit id must
// exist. The zero id reuses the connection's session, or creates one at the
// requested size (DefaultWidth×DefaultHeight when unset).
func (m *Manager) Attach(req protocol.Attach) (session *Session, created bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if req.SessionID != uuid.Nil {
		s, ok := m.sessions[req.SessionID]
		if !ok {
			return nil, false, ErrSessionNotFound
		}
		s.setAttached(true)
		return s, false, nil
	}
	if req.ConnectionID != "" {
		if id, ok := m.byConn[req.ConnectionID]; ok {
			if s, ok := m.sessions[id]; ok {
				s.setAttached(true)
				return s, false, nil
			}
		}
	}
	w, h := int(req.Width), int(req.Height)
	if w == 0 || h == 0 {
		w, h = DefaultWidth, DefaultHeight
	}
	source, err := m.factory(w, h)
	if err != nil {
		return nil, false, err
	}
	id, err := uuid.NewRandom()
	if err != nil {
		_ = source.Close()
		return nil, false, err
	}
	s := newSession(id, req.ConnectionID, source)
	s.setAttached(true)
	m.sessions[id] = s
	if req.ConnectionID != "" {
		m.byConn[req.ConnectionID] = id
	}
	return s, true, nil
}

// Detach marks the session headless; it keeps running.
func (m *Manager) Detach(id uuid.UUID) {
	if s, err := m.Lookup(id); err == nil {
		s.setAttached(false)
	}
}

// Terminate closes and forgets the session.
func (m *Manager) Terminate(id uuid.UUID) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
		if m.byConn[s.connID] == id {
			delete(m.byConn, s.connID)
		}
	}
	m.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	return s.Close()
}

func (m *Manager) Lookup(id uuid.UUID) (*Session, error) {
	m.mu.RLock()
	session, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

func (m *Manager) ActiveSessions() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// SessionStats snapshots every session's counters keyed by id.
func (m *Manager) SessionStats() map[uuid.UUID]protocol.Stats {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()
	stats := make(map[uuid.UUID]protocol.Stats, len(sessions))
	for _, s := range sessions {
		stats[s.id] = s.stats(false)
	}
	return stats
}

// Close terminates every session.
func (m *Manager) Close() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[uuid.UUID]*Session)
	m.byConn = make(map[string]uuid.UUID)
	m.mu.Unlock()
	for _, s := range sessions {
		_ = s.Close()
	}
}
