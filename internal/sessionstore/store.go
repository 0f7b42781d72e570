// Copyright © 2025 Deskview contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: internal/sessionstore/store.go
// Summary: SQLite record of the last remote session per logical connection.
// Usage: The session manager remembers an id on attach, looks it up before
//   reconnecting, and forgets it when the remote session is terminated.

package sessionstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned by Lookup when no session is recorded.
var ErrNotFound = errors.New("sessionstore: no session recorded")

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
    connection_id TEXT PRIMARY KEY,
    session_id    TEXT NOT NULL,
    address       TEXT NOT NULL DEFAULT '',
    width         INTEGER NOT NULL DEFAULT 0,
    height        INTEGER NOT NULL DEFAULT 0,
    updated_at    INTEGER NOT NULL,
    bytes_rx      INTEGER NOT NULL DEFAULT 0,
    bytes_tx      INTEGER NOT NULL DEFAULT 0,
    frames        INTEGER NOT NULL DEFAULT 0
);
`

// Record is one remembered session.
type Record struct {
	ConnectionID string
	SessionID    uuid.UUID
	Address      string
	Width        int
	Height       int
	UpdatedAt    time.Time
	BytesRx      uint64
	BytesTx      uint64
	Frames       uint64
}

// Store wraps the sessions database.
type Store struct {
	db *sql.DB
}

// Open creates or opens the database at path.
func Open(path string) (*Store, error) {
	dsn := path
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sessionstore: create directory: %w", err)
		}
		dsn = path +
			"?_pragma=journal_mode(WAL)" +
			"&_pragma=synchronous(NORMAL)" +
			"&_pragma=busy_timeout(2000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sessionstore: open: %w", err)
	}
	if path == MemoryPath {
		// each connection to :memory: is its own database
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sessionstore: connect: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sessionstore: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Remember records id as the current session for connectionID.
func (s *Store) Remember(ctx context.Context, rec Record) error {
	if rec.ConnectionID == "" {
		return fmt.Errorf("sessionstore: empty connection id")
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO sessions (connection_id, session_id, address, width, height, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(connection_id) DO UPDATE SET
    session_id = excluded.session_id,
    address    = excluded.address,
    width      = excluded.width,
    height     = excluded.height,
    updated_at = excluded.updated_at,
    bytes_rx   = CASE WHEN sessions.session_id = excluded.session_id THEN sessions.bytes_rx ELSE 0 END,
    bytes_tx   = CASE WHEN sessions.session_id = excluded.session_id THEN sessions.bytes_tx ELSE 0 END,
    frames     = CASE WHEN sessions.session_id = excluded.session_id THEN sessions.frames ELSE 0 END`,
		rec.ConnectionID, rec.SessionID.String(), rec.Address, rec.Width, rec.Height, rec.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("sessionstore: remember %s: %w", rec.ConnectionID, err)
	}
	return nil
}

// Lookup returns the remembered session for connectionID.
func (s *Store) Lookup(ctx context.Context, connectionID string) (Record, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT connection_id, session_id, address, width, height, updated_at, bytes_rx, bytes_tx, frames
FROM sessions WHERE connection_id = ?`, connectionID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("sessionstore: lookup %s: %w", connectionID, err)
	}
	return rec, nil
}

// Forget drops the record for connectionID. Forgetting an unknown id is not
// an error.
func (s *Store) Forget(ctx context.Context, connectionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE connection_id = ?`, connectionID); err != nil {
		return fmt.Errorf("sessionstore: forget %s: %w", connectionID, err)
	}
	return nil
}

// RecordStats stores the latest counters reported for the session.
func (s *Store) RecordStats(ctx context.Context, connectionID string, rx, tx, frames uint64) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE sessions SET bytes_rx = ?, bytes_tx = ?, frames = ?, updated_at = ?
WHERE connection_id = ?`, int64(rx), int64(tx), int64(frames), time.Now().UnixNano(), connectionID)
	if err != nil {
		return fmt.Errorf("sessionstore: record stats %s: %w", connectionID, err)
	}
	return nil
}

// List returns every record, most recently updated first.
func (s *Store) List(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT connection_id, session_id, address, width, height, updated_at, bytes_rx, bytes_tx, frames
FROM sessions ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("sessionstore: list: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("sessionstore: list: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (Record, error) {
	var (
		rec            Record
		sessionID      string
		updated        int64
		rx, tx, frames int64
	)
	if err := sc.Scan(&rec.ConnectionID, &sessionID, &rec.Address, &rec.Width, &rec.Height, &updated, &rx, &tx, &frames); err != nil {
		return Record{}, err
	}
	id, err := uuid.Parse(sessionID)
	if err != nil {
		return Record{}, fmt.Errorf("parse session id: %w", err)
	}
	rec.SessionID = id
	rec.UpdatedAt = time.Unix(0, updated)
	rec.BytesRx, rec.BytesTx, rec.Frames = uint64(rx), uint64(tx), uint64(frames)
	return rec, nil
}
