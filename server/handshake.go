// Copyright © 2025 Deskview contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: server/handshake.go
// Summary: Hello/Welcome exchange and the pre-attach control loop.

package server

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/framegrace/deskview/protocol"
)

const handshakeTimeout = 10 * time.Second

var errHandshake = errors.New("server: handshake failed")

// handshakeResult is what the control phase settled on.
type handshakeResult struct {
	hello   protocol.Hello
	codec   uint8
	session *Session
}

// handleHandshake answers Hello, then serves ListSessions/Terminate until an
// Attach succeeds. An Attach for an unknown session is answered with an
// ErrorFrame and the loop continues.
func handleHandshake(w *wireWriter, conn net.Conn, manager *Manager, name string) (handshakeResult, error) {
	var res handshakeResult
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	defer conn.SetReadDeadline(time.Time{})

	hdr, payload, err := protocol.ReadMessage(conn)
	if err != nil {
		return res, err
	}
	if hdr.Type != protocol.MsgHello {
		return res, fmt.Errorf("%w: expected hello, got %s", errHandshake, hdr.Type)
	}
	hello, err := protocol.Decode[protocol.Hello](payload)
	if err != nil {
		return res, err
	}
	res.hello = hello
	compression := protocol.NegotiateCompression(hello.Compression)
	if res.codec, err = protocol.CompressionFlag(compression); err != nil {
		return res, err
	}
	if err := w.send(protocol.MsgWelcome, protocol.Welcome{ServerName: name, Compression: compression}); err != nil {
		return res, err
	}

	for {
		_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
		hdr, payload, err := protocol.ReadMessage(conn)
		if err != nil {
			return res, err
		}
		switch hdr.Type {
		case protocol.MsgListSessions:
			req, err := protocol.Decode[protocol.ListSessions](payload)
			if err != nil {
				return res, err
			}
			if err := w.send(protocol.MsgSessionList, protocol.SessionList{Sessions: manager.List(req.ConnectionID)}); err != nil {
				return res, err
			}
		case protocol.MsgAttach:
			req, err := protocol.Decode[protocol.Attach](payload)
			if err != nil {
				return res, err
			}
			session, created, err := manager.Attach(req)
			if errors.Is(err, ErrSessionNotFound) {
				if err := w.sendError(protocol.ErrCodeSessionNotFound, "session not found"); err != nil {
					return res, err
				}
				continue
			}
			if err != nil {
				_ = w.sendError(protocol.ErrCodeInternal, err.Error())
				return res, err
			}
			width, height := session.Size()
			w.setSession(session.ID())
			if err := w.send(protocol.MsgAttachAccept, protocol.AttachAccept{
				SessionID: session.ID(),
				Width:     uint16(width),
				Height:    uint16(height),
				Created:   created,
			}); err != nil {
				manager.Detach(session.ID())
				return res, err
			}
			res.session = session
			return res, nil
		case protocol.MsgTerminate:
			req, err := protocol.Decode[protocol.Terminate](payload)
			if err != nil {
				return res, err
			}
			if req.SessionID != uuid.Nil {
				_ = manager.Terminate(req.SessionID)
			}
		case protocol.MsgPing:
			ping, err := protocol.Decode[protocol.Ping](payload)
			if err != nil {
				return res, err
			}
			if err := w.send(protocol.MsgPong, protocol.Pong(ping)); err != nil {
				return res, err
			}
		case protocol.MsgDetach:
			return res, fmt.Errorf("%w: detached before attach", errHandshake)
		default:
			if err := w.sendError(protocol.ErrCodeBadRequest, "unexpected "+hdr.Type.String()); err != nil {
				return res, err
			}
		}
	}
}
