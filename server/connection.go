// Copyright © 2025 Deskview contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: server/connection.go
// Summary: Serves one attached viewer: frame pump, stats and inbound control.
// Notes: A reader goroutine feeds incoming; every write happens on the serve
//   loop.

package server

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"pkt.systems/pslog"

	"github.com/framegrace/deskview/protocol"
)

// wireWriter serializes writes and stamps headers.
type wireWriter struct {
	conn    net.Conn
	mu      sync.Mutex
	seq     atomic.Uint64
	session atomic.Pointer[Session]
	id      atomic.Value // uuid.UUID
}

func newWireWriter(conn net.Conn) *wireWriter {
	w := &wireWriter{conn: conn}
	w.id.Store(uuid.Nil)
	return w
}

func (w *wireWriter) setSession(id uuid.UUID) {
	w.id.Store(id)
}

func (w *wireWriter) send(t protocol.MessageType, v any) error {
	payload, err := protocol.Encode(v)
	if err != nil {
		return err
	}
	return w.write(t, 0, payload)
}

func (w *wireWriter) sendError(code uint16, msg string) error {
	return w.send(protocol.MsgError, protocol.ErrorFrame{Code: code, Message: msg})
}

func (w *wireWriter) write(t protocol.MessageType, flags uint8, payload []byte) error {
	hdr := protocol.Header{
		Version:   protocol.Version,
		Type:      t,
		Flags:     protocol.FlagChecksum | flags,
		SessionID: w.id.Load().(uuid.UUID),
		Sequence:  w.seq.Add(1),
	}
	w.mu.Lock()
	err := protocol.WriteMessage(w.conn, hdr, payload)
	w.mu.Unlock()
	if err == nil {
		if s := w.session.Load(); s != nil {
			s.RecordSent(len(payload) + 40)
		}
	}
	return err
}

type protocolMessage struct {
	header  protocol.Header
	payload []byte
}

type connection struct {
	conn     net.Conn
	w        *wireWriter
	session  *Session
	manager  *Manager
	sink     EventSink
	observer SessionStatsObserver
	logger   pslog.Logger

	hello    protocol.Hello
	codec    uint8
	identity *Identity
	fps      int
	statsInt time.Duration

	differ   *TileDiffer
	incoming chan protocolMessage
	readErr  chan error
	stop     chan struct{}
}

var errRejected = errors.New("server: viewer rejected host identity")

func newConnection(conn net.Conn, w *wireWriter, hs handshakeResult, manager *Manager, opts Options) *connection {
	sink := opts.Sink
	if sink == nil {
		sink = nopSink{}
	}
	c := &connection{
		conn:     conn,
		w:        w,
		session:  hs.session,
		manager:  manager,
		sink:     sink,
		observer: opts.StatsObserver,
		logger:   opts.Logger.With("session", hs.session.ID()),
		hello:    hs.hello,
		codec:    hs.codec,
		identity: opts.Identity,
		fps:      opts.FPS,
		statsInt: opts.StatsInterval,
		differ:   NewTileDiffer(opts.TileSize),
		incoming: make(chan protocolMessage, 32),
		readErr:  make(chan error, 1),
		stop:     make(chan struct{}),
	}
	w.session.Store(hs.session)
	return c
}

// serve runs until the viewer detaches, terminates, rejects the host or the
// transport fails. A dropped transport leaves the session running headless.
func (c *connection) serve(ctx context.Context) (retErr error) {
	defer close(c.stop)
	defer func() {
		if retErr != nil {
			c.logger.Debug("connection exiting with error", "err", retErr)
		} else {
			c.logger.Debug("connection exiting cleanly")
		}
	}()
	go c.readMessages()

	if c.identity != nil && c.hello.Capabilities&protocol.CapTrustGate != 0 {
		if err := c.w.send(protocol.MsgServerIdentity, c.identity.Message()); err != nil {
			c.manager.Detach(c.session.ID())
			return err
		}
	}

	frames := time.NewTicker(time.Second / time.Duration(max(c.fps, 1)))
	defer frames.Stop()
	stats := time.NewTicker(c.statsInt)
	defer stats.Stop()

	if err := c.pushFrame(ctx); err != nil {
		c.manager.Detach(c.session.ID())
		return err
	}
	for {
		select {
		case <-ctx.Done():
			_ = c.w.send(protocol.MsgStatus, protocol.Status{State: protocol.StateDisconnected, Message: "host shutting down"})
			c.manager.Detach(c.session.ID())
			return nil
		case <-frames.C:
			if err := c.pushFrame(ctx); err != nil {
				c.manager.Detach(c.session.ID())
				return err
			}
		case <-stats.C:
			st := c.session.Stats()
			if c.observer != nil {
				c.observer.ObserveSessionStats(c.session, st)
			}
			if c.hello.Capabilities&protocol.CapStats != 0 {
				if err := c.w.send(protocol.MsgStats, st); err != nil {
					c.manager.Detach(c.session.ID())
					return err
				}
			}
		case err := <-c.readErr:
			c.manager.Detach(c.session.ID())
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		case msg := <-c.incoming:
			done, err := c.handleMessage(ctx, msg.header, msg.payload)
			if err != nil || done {
				return err
			}
		}
	}
}

func (c *connection) readMessages() {
	for {
		header, payload, err := protocol.ReadMessage(c.conn)
		if err != nil {
			select {
			case c.readErr <- err:
			default:
			}
			return
		}
		c.session.RecordRecv(len(payload) + 40)
		select {
		case c.incoming <- protocolMessage{header: header, payload: payload}:
		case <-c.stop:
			return
		}
	}
}

// handleMessage reports done when the viewer ended the attachment.
func (c *connection) handleMessage(ctx context.Context, header protocol.Header, payload []byte) (bool, error) {
	switch header.Type {
	case protocol.MsgInputBatch:
		batch, err := protocol.Decode[protocol.InputBatch](payload)
		if err != nil {
			return false, err
		}
		if err := c.sink.HandleInput(ctx, c.session, batch.Events); err != nil {
			c.logger.Warn("input injection failed", "err", err)
		}
	case protocol.MsgResize:
		size, err := protocol.Decode[protocol.Resize](payload)
		if err != nil {
			return false, err
		}
		if err := c.session.Resize(int(size.Width), int(size.Height)); err != nil {
			return false, c.w.sendError(protocol.ErrCodeBadRequest, err.Error())
		}
		c.differ.Reset()
		if err := c.w.send(protocol.MsgDesktopSize, protocol.DesktopSize(size)); err != nil {
			return false, err
		}
		c.logger.Info("desktop resized", "width", size.Width, "height", size.Height)
	case protocol.MsgDetach:
		c.manager.Detach(c.session.ID())
		c.logger.Info("viewer detached")
		return true, nil
	case protocol.MsgTerminate:
		req, err := protocol.Decode[protocol.Terminate](payload)
		if err != nil {
			return false, err
		}
		id := req.SessionID
		if id == uuid.Nil {
			id = c.session.ID()
		}
		_ = c.manager.Terminate(id)
		c.logger.Info("session terminated", "terminated", id)
		return id == c.session.ID(), nil
	case protocol.MsgTrustDecision:
		decision, err := protocol.Decode[protocol.TrustDecision](payload)
		if err != nil {
			return false, err
		}
		if !decision.Accept {
			c.manager.Detach(c.session.ID())
			return true, errRejected
		}
		c.logger.Debug("viewer trusts host", "fingerprint", decision.Fingerprint)
	case protocol.MsgPing:
		ping, err := protocol.Decode[protocol.Ping](payload)
		if err != nil {
			return false, err
		}
		return false, c.w.send(protocol.MsgPong, protocol.Pong(ping))
	case protocol.MsgPong:
	default:
		c.logger.Debug("ignoring message", "type", header.Type)
	}
	return false, nil
}

// pushFrame captures, diffs and sends whatever changed.
func (c *connection) pushFrame(ctx context.Context) error {
	img, err := c.session.Capture(ctx)
	if err != nil {
		if errors.Is(err, ErrSessionClosed) || ctx.Err() != nil {
			return nil
		}
		c.logger.Warn("capture failed", "err", err)
		return nil
	}
	payloads, _ := c.differ.Diff(img)
	for _, payload := range payloads {
		body, flags, err := protocol.CompressFrame(c.codec, payload)
		if err != nil {
			return err
		}
		if err := c.w.write(protocol.MsgFrameUpdate, flags, body); err != nil {
			return err
		}
	}
	return nil
}
