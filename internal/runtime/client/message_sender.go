// Copyright © 2025 Deskview contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: internal/runtime/client/message_sender.go
// Summary: Outbound message helpers for an attached session.
// Usage: The Scheduler never writes to the transport itself. It queues
//   messages on an outbox whose goroutine performs the writes under a
//   deadline; a full queue drops the message.

package clientruntime

import (
	"errors"
	"time"

	"pkt.systems/pslog"

	"github.com/framegrace/deskview/client"
	"github.com/framegrace/deskview/protocol"
)

// DefaultWriteTimeout bounds a single write to the host.
const DefaultWriteTimeout = 2 * time.Second

const (
	outboxSize   = 64
	registrySize = 32
)

var errQueueFull = errors.New("outbound queue full")

// serialQueue runs jobs in submission order on one goroutine. push never
// blocks. Only the Scheduler pushes and closes.
type serialQueue struct {
	jobs   chan func()
	done   chan struct{}
	closed bool
}

func newSerialQueue(panics *PanicLogger, where string, size int) *serialQueue {
	q := &serialQueue{jobs: make(chan func(), size), done: make(chan struct{})}
	panics.Go(where, func() {
		defer close(q.done)
		for job := range q.jobs {
			job()
		}
	})
	return q
}

func (q *serialQueue) push(job func()) error {
	if q.closed {
		return errNotConnected
	}
	select {
	case q.jobs <- job:
		return nil
	default:
		return errQueueFull
	}
}

// close lets the worker finish what is queued and exit.
func (q *serialQueue) close() {
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
}

// outbox owns the writing side of one attached connection. After the first
// write error every later message is dropped and onError runs once.
type outbox struct {
	q       *serialQueue
	sc      *client.SimpleClient
	onError func(error)
	logger  pslog.Logger
	failed  bool // worker goroutine only
}

func newOutbox(sc *client.SimpleClient, panics *PanicLogger, onError func(error), logger pslog.Logger) *outbox {
	return &outbox{
		q:       newSerialQueue(panics, "outbox", outboxSize),
		sc:      sc,
		onError: onError,
		logger:  logger,
	}
}

// Send implements messageSender without touching the connection.
func (o *outbox) Send(t protocol.MessageType, v any) error {
	return o.do(t.String(), func(sc *client.SimpleClient) error { return sc.Send(t, v) })
}

// do queues a write; what names it in the log.
func (o *outbox) do(what string, write func(sc *client.SimpleClient) error) error {
	return o.q.push(func() {
		if o.failed {
			return
		}
		if err := write(o.sc); err != nil {
			o.failed = true
			o.logger.Warn("write to host failed", "msg", what, "err", err)
			o.onError(err)
		}
	})
}

// close queues the transport shutdown behind any pending messages.
func (o *outbox) close() {
	if o.q.closed {
		return
	}
	if err := o.q.push(func() { o.sc.Close() }); err != nil {
		// no room left; closing now fails the queued writes
		o.sc.Close()
	}
	o.q.close()
}

func (o *outbox) done() <-chan struct{} {
	return o.q.done
}

func sendResize(sender messageSender, w, h int, logger pslog.Logger) {
	if w <= 0 || h <= 0 || w > 0xffff || h > 0xffff {
		logger.Warn("resize out of range", "width", w, "height", h)
		return
	}
	if err := sender.Send(protocol.MsgResize, protocol.Resize{Width: uint16(w), Height: uint16(h)}); err != nil {
		logger.Warn("send resize failed", "err", err)
	}
}

func sendInputBatch(sender messageSender, events []protocol.InputEvent) error {
	return sender.Send(protocol.MsgInputBatch, protocol.InputBatch{Events: events})
}

func sendTrustDecision(sender messageSender, decision protocol.TrustDecision, logger pslog.Logger) {
	if err := sender.Send(protocol.MsgTrustDecision, decision); err != nil {
		logger.Warn("send trust decision failed", "err", err)
	}
}

func sendPong(sender messageSender, ping protocol.Ping, logger pslog.Logger) {
	ts := ping.Timestamp
	if ts == 0 {
		ts = time.Now().UnixNano()
	}
	if err := sender.Send(protocol.MsgPong, protocol.Pong{Timestamp: ts}); err != nil {
		logger.Debug("send pong failed", "err", err)
	}
}
