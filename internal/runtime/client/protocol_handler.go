// Copyright © 2025 Deskview contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: internal/runtime/client/protocol_handler.go
// Summary: Inbound message decoding for an attached session.
// Usage: readLoop runs on its own goroutine; every state change it causes is
//   posted to the Scheduler guarded by the connection generation.

package clientruntime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/framegrace/deskview/client"
	"github.com/framegrace/deskview/protocol"
)

func (m *Manager) readLoop(ctx context.Context, gen uint64, sc *client.SimpleClient) {
	conn := sc.Conn()
	for {
		hdr, payload, err := protocol.ReadMessage(conn)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			reason := fmt.Sprintf("connection lost: %v", err)
			if errors.Is(err, io.EOF) || isNetworkClosed(err) {
				reason = "connection closed by host"
			}
			m.post(gen, func() { m.fail(reason) })
			return
		}
		m.rxBytes.Add(uint64(len(payload)))
		m.handleMessage(ctx, gen, sc, hdr, payload)
	}
}

func (m *Manager) handleMessage(ctx context.Context, gen uint64, sc *client.SimpleClient, hdr protocol.Header, payload []byte) {
	switch hdr.Type {
	case protocol.MsgFrameUpdate:
		rects, err := protocol.DecompressFrame(hdr.Flags, payload)
		if err != nil {
			m.logger.Warn("decompress frame failed", "seq", hdr.Sequence, "err", err)
			return
		}
		m.post(gen, func() { m.onFrame(rects) })
	case protocol.MsgStatus:
		st, err := protocol.Decode[protocol.Status](payload)
		if err != nil {
			m.logger.Warn("decode status failed", "err", err)
			return
		}
		m.post(gen, func() { m.HandleStatus(st) })
	case protocol.MsgStats:
		stats, err := protocol.Decode[protocol.Stats](payload)
		if err != nil {
			m.logger.Warn("decode stats failed", "err", err)
			return
		}
		m.post(gen, func() { m.onStats(stats) })
	case protocol.MsgDesktopSize:
		size, err := protocol.Decode[protocol.DesktopSize](payload)
		if err != nil {
			m.logger.Warn("decode desktop size failed", "err", err)
			return
		}
		m.post(gen, func() { m.Reactivate(int(size.Width), int(size.Height)) })
	case protocol.MsgServerIdentity:
		id, err := protocol.Decode[protocol.ServerIdentity](payload)
		if err != nil {
			m.logger.Warn("decode server identity failed", "err", err)
			return
		}
		m.post(gen, func() { m.onIdentity(ctx, id) })
	case protocol.MsgPing:
		ping, err := protocol.Decode[protocol.Ping](payload)
		if err != nil {
			m.logger.Warn("decode ping failed", "err", err)
			return
		}
		sendPong(sc, ping, m.logger)
	case protocol.MsgPong:
		pong, err := protocol.Decode[protocol.Pong](payload)
		if err == nil && pong.Timestamp > 0 {
			m.logger.Trace("pong", "rtt", time.Since(time.Unix(0, pong.Timestamp)))
		}
	case protocol.MsgError:
		frame, err := protocol.Decode[protocol.ErrorFrame](payload)
		if err != nil {
			m.logger.Warn("decode error frame failed", "err", err)
			return
		}
		m.post(gen, func() { m.fail(frame.Error()) })
	default:
		m.logger.Debug("unhandled message", "type", hdr.Type, "len", len(payload))
	}
}

func isNetworkClosed(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}
