// Copyright © 2025 Deskview contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: protocol/protocol.go
// Summary: Fixed-size message framing shared by the viewer and remote hosts.
// Notes: Keep changes backward-compatible; any additions require coordinated version bumps.

package protocol

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
	"io"
)

const (
	magic      uint32 = 0x014b5344 // "DSK\x01"
	headerSize        = 40

	// MaxPayload bounds a single message. A full 8K desktop frame is ~133MB,
	// so frames larger than this must be split into several messages.
	MaxPayload = 64 << 20
)

// Flag bits for the header Flags byte.
const (
	FlagChecksum uint8 = 0x01
	FlagLZ4      uint8 = 0x02
	FlagZstd     uint8 = 0x04
)

// Version is the negotiated protocol version implemented by this package.
const Version uint8 = 1

// MessageType enumerates the message categories exchanged between viewer
// and remote host.
type MessageType uint8

const (
	MsgHello MessageType = iota
	MsgWelcome
	MsgListSessions
	MsgSessionList
	MsgAttach
	MsgAttachAccept
	MsgDetach
	MsgTerminate
	MsgResize
	MsgDesktopSize
	MsgFrameUpdate
	MsgInputBatch
	MsgStatus
	MsgStats
	MsgServerIdentity
	MsgTrustDecision
	MsgPing
	MsgPong
	MsgError
)

var messageNames = [...]string{
	MsgHello:          "hello",
	MsgWelcome:        "welcome",
	MsgListSessions:   "list-sessions",
	MsgSessionList:    "session-list",
	MsgAttach:         "attach",
	MsgAttachAccept:   "attach-accept",
	MsgDetach:         "detach",
	MsgTerminate:      "terminate",
	MsgResize:         "resize",
	MsgDesktopSize:    "desktop-size",
	MsgFrameUpdate:    "frame-update",
	MsgInputBatch:     "input-batch",
	MsgStatus:         "status",
	MsgStats:          "stats",
	MsgServerIdentity: "server-identity",
	MsgTrustDecision:  "trust-decision",
	MsgPing:           "ping",
	MsgPong:           "pong",
	MsgError:          "error",
}

func (t MessageType) String() string {
	if int(t) < len(messageNames) {
		return messageNames[t]
	}
	return "unknown"
}

// Header describes the fixed portion of every message exchanged over the wire.
type Header struct {
	Version    uint8
	Type       MessageType
	Flags      uint8
	Reserved   uint8
	SessionID  [16]byte
	Sequence   uint64
	PayloadLen uint32
	Checksum   uint32
}

var (
	ErrInvalidMagic     = errors.New("protocol: invalid magic")
	ErrUnsupportedVer   = errors.New("protocol: unsupported version")
	ErrShortPayload     = errors.New("protocol: payload shorter than declared length")
	ErrChecksumMismatch = errors.New("protocol: checksum mismatch")
	ErrPayloadTooLarge  = errors.New("protocol: payload exceeds limit")
)

// WriteMessage serialises the header and payload to the provided writer. The
// payload slice is written as-is; callers retain ownership of the buffer.
// Header and payload go out in a single Write so message-oriented
// transports see one message per call.
func WriteMessage(w io.Writer, hdr Header, payload []byte) error {
	if len(payload) > MaxPayload {
		return ErrPayloadTooLarge
	}
	hdr.PayloadLen = uint32(len(payload))

	buf := make([]byte, headerSize+len(payload))
	binary.LittleEndian.PutUint32(buf[0:], magic)
	buf[4] = hdr.Version
	buf[5] = byte(hdr.Type)
	buf[6] = hdr.Flags
	buf[7] = hdr.Reserved
	copy(buf[8:24], hdr.SessionID[:])
	binary.LittleEndian.PutUint64(buf[24:32], hdr.Sequence)
	binary.LittleEndian.PutUint32(buf[32:36], hdr.PayloadLen)

	checksum := hdr.Checksum
	if hdr.Flags&FlagChecksum != 0 {
		crc := crc32.NewIEEE()
		_, _ = crc.Write(buf[4:36])
		if len(payload) > 0 {
			_, _ = crc.Write(payload)
		}
		checksum = crc.Sum32()
	}
	binary.LittleEndian.PutUint32(buf[36:40], checksum)
	copy(buf[headerSize:], payload)

	_, err := w.Write(buf)
	return err
}

// ReadMessage reads a header and payload from r. The returned payload points to
// a freshly allocated slice sized to the declared payload length.
func ReadMessage(r io.Reader) (Header, []byte, error) {
	var hdr Header
	buf := make([]byte, headerSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return hdr, nil, err
	}

	if binary.LittleEndian.Uint32(buf[0:4]) != magic {
		return hdr, nil, ErrInvalidMagic
	}

	hdr.Version = buf[4]
	hdr.Type = MessageType(buf[5])
	hdr.Flags = buf[6]
	hdr.Reserved = buf[7]
	copy(hdr.SessionID[:], buf[8:24])
	hdr.Sequence = binary.LittleEndian.Uint64(buf[24:32])
	hdr.PayloadLen = binary.LittleEndian.Uint32(buf[32:36])
	hdr.Checksum = binary.LittleEndian.Uint32(buf[36:40])

	if hdr.Version != Version {
		return hdr, nil, ErrUnsupportedVer
	}
	if hdr.PayloadLen > MaxPayload {
		return hdr, nil, ErrPayloadTooLarge
	}

	payload := make([]byte, hdr.PayloadLen)
	if hdr.PayloadLen > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
				return hdr, nil, ErrShortPayload
			}
			return hdr, nil, err
		}
	}

	if hdr.Flags&FlagChecksum != 0 {
		crc := crc32.NewIEEE()
		_, _ = crc.Write(buf[4:36])
		if len(payload) > 0 {
			_, _ = crc.Write(payload)
		}
		if crc.Sum32() != hdr.Checksum {
			return hdr, nil, ErrChecksumMismatch
		}
	}

	return hdr, payload, nil
}
