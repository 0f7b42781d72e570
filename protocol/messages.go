// Copyright © 2025 Deskview contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: protocol/messages.go
// Summary: Control message payloads exchanged between viewer and remote host.
// Notes: Payloads are CBOR maps with integer keys; never renumber a key.

package protocol

import (
	"errors"

	"github.com/google/uuid"
)

var (
	errPayloadShort = errors.New("protocol: payload too short")
)

// Hello initiates the handshake from viewer to host.
type Hello struct {
	ClientName   string   `cbor:"1,keyasint"`
	Capabilities uint32   `cbor:"2,keyasint,omitempty"`
	Compression  []string `cbor:"3,keyasint,omitempty"`
}

// Capability bits advertised in Hello.
const (
	CapMultiRect uint32 = 1 << iota
	CapTrustGate
	CapStats
)

// Welcome is returned by the host acknowledging the handshake. Compression
// names the frame codec the host will use ("" for none).
type Welcome struct {
	ServerName  string `cbor:"1,keyasint"`
	Compression string `cbor:"2,keyasint,omitempty"`
}

// ListSessions asks for headless sessions belonging to a logical connection.
type ListSessions struct {
	ConnectionID string `cbor:"1,keyasint"`
}

// SessionInfo describes one session kept alive by the host.
type SessionInfo struct {
	ID           uuid.UUID `cbor:"1,keyasint"`
	ConnectionID string    `cbor:"2,keyasint"`
	Width        uint16    `cbor:"3,keyasint"`
	Height       uint16    `cbor:"4,keyasint"`
	Attached     bool      `cbor:"5,keyasint,omitempty"`
	CreatedAt    int64     `cbor:"6,keyasint,omitempty"`
}

// SessionList answers ListSessions.
type SessionList struct {
	Sessions []SessionInfo `cbor:"1,keyasint"`
}

// Attach binds the connection to an existing session, or creates one when
// SessionID is the zero UUID.
type Attach struct {
	SessionID    uuid.UUID `cbor:"1,keyasint"`
	ConnectionID string    `cbor:"2,keyasint"`
	Width        uint16    `cbor:"3,keyasint,omitempty"`
	Height       uint16    `cbor:"4,keyasint,omitempty"`
}

// AttachAccept reports the bound session and its desktop size.
type AttachAccept struct {
	SessionID uuid.UUID `cbor:"1,keyasint"`
	Width     uint16    `cbor:"2,keyasint"`
	Height    uint16    `cbor:"3,keyasint"`
	Created   bool      `cbor:"4,keyasint,omitempty"`
}

// Detach releases the view; the session keeps running headless.
type Detach struct {
	SessionID uuid.UUID `cbor:"1,keyasint"`
}

// Terminate ends the remote session.
type Terminate struct {
	SessionID uuid.UUID `cbor:"1,keyasint"`
}

// Resize notifies the host of the committed local view size.
type Resize struct {
	Width  uint16 `cbor:"1,keyasint"`
	Height uint16 `cbor:"2,keyasint"`
}

// DesktopSize is sent by the host when the remote desktop changes size
// mid-session.
type DesktopSize struct {
	Width  uint16 `cbor:"1,keyasint"`
	Height uint16 `cbor:"2,keyasint"`
}

// SessionState mirrors the lifecycle states reported by the host.
type SessionState uint8

const (
	StateDisconnected SessionState = iota
	StateConnecting
	StateConnected
	StateError
)

func (s SessionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	}
	return "unknown"
}

// Status is a lifecycle notification, optionally carrying desktop size.
type Status struct {
	State   SessionState `cbor:"1,keyasint"`
	Message string       `cbor:"2,keyasint,omitempty"`
	Width   uint16       `cbor:"3,keyasint,omitempty"`
	Height  uint16       `cbor:"4,keyasint,omitempty"`
}

// Stats carries periodic host-side counters.
type Stats struct {
	UptimeMillis  uint64  `cbor:"1,keyasint"`
	BytesSent     uint64  `cbor:"2,keyasint"`
	BytesReceived uint64  `cbor:"3,keyasint"`
	Frames        uint64  `cbor:"4,keyasint"`
	PDUs          uint64  `cbor:"5,keyasint"`
	FPS           float64 `cbor:"6,keyasint"`
}

// ServerIdentity presents the host identity for an external trust decision.
type ServerIdentity struct {
	Host        string `cbor:"1,keyasint"`
	Fingerprint string `cbor:"2,keyasint"`
	Subject     string `cbor:"3,keyasint,omitempty"`
	Issuer      string `cbor:"4,keyasint,omitempty"`
	NotAfter    int64  `cbor:"5,keyasint,omitempty"`
}

// TrustDecision answers ServerIdentity.
type TrustDecision struct {
	Accept      bool   `cbor:"1,keyasint"`
	Fingerprint string `cbor:"2,keyasint,omitempty"`
}

// Ping/Pong keep the connection alive.
type Ping struct {
	Timestamp int64 `cbor:"1,keyasint"`
}

type Pong struct {
	Timestamp int64 `cbor:"1,keyasint"`
}

// Error codes carried in ErrorFrame.
const (
	ErrCodeInternal uint16 = iota + 1
	ErrCodeBadRequest
	ErrCodeSessionNotFound
	ErrCodeUntrusted
)

// ErrorFrame communicates protocol-level errors.
type ErrorFrame struct {
	Code    uint16 `cbor:"1,keyasint"`
	Message string `cbor:"2,keyasint"`
}

func (e ErrorFrame) Error() string {
	return "protocol: remote error: " + e.Message
}

// Encode serialises a control message payload.
func Encode(v any) ([]byte, error) {
	return marshal(v)
}

// Decode parses a control message payload into T.
func Decode[T any](payload []byte) (T, error) {
	var v T
	err := unmarshal(payload, &v)
	return v, err
}
