// Copyright © 2025 Deskview contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: internal/runtime/client/input_batcher.go
// Summary: Coalesces pointer motion and batches input toward the host.
// Usage: Submit translated events; pointer moves wait for the next microtask,
//   anything else flushes the buffer to the outbox at once.

package clientruntime

import (
	"context"

	"pkt.systems/pslog"

	"github.com/framegrace/deskview/protocol"
)

// InputStats counts batcher activity.
type InputStats struct {
	Batches   uint64
	Events    uint64
	Coalesced uint64
	Failures  uint64
}

// InputBatcher holds at most one pending PointerMove, tracked by index so a
// newer move overwrites it in place.
type InputBatcher struct {
	sched  Scheduler
	send   func([]protocol.InputEvent) error
	logger pslog.Logger

	buf       []protocol.InputEvent
	moveIdx   int
	scheduled bool
	closed    bool
	stats     InputStats
}

// NewInputBatcher returns a batcher that hands flushed batches to send.
func NewInputBatcher(sched Scheduler, send func([]protocol.InputEvent) error, logger pslog.Logger) *InputBatcher {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &InputBatcher{sched: sched, send: send, logger: logger, moveIdx: -1}
}

// Stats returns a copy of the counters.
func (b *InputBatcher) Stats() InputStats {
	return b.stats
}

// Buffered returns a copy of the pending events.
func (b *InputBatcher) Buffered() []protocol.InputEvent {
	return append([]protocol.InputEvent(nil), b.buf...)
}

// Submit routes events: a list containing any priority event takes the
// immediate path, otherwise events are buffered.
func (b *InputBatcher) Submit(events ...protocol.InputEvent) {
	for _, ev := range events {
		if ev.Priority() {
			b.SendNow(events...)
			return
		}
	}
	for _, ev := range events {
		b.Push(ev)
	}
}

// Push buffers one event and schedules a microtask flush.
func (b *InputBatcher) Push(ev protocol.InputEvent) {
	if b.closed {
		return
	}
	b.add(ev)
	if !b.scheduled {
		b.scheduled = true
		b.sched.Defer(func() {
			b.scheduled = false
			b.Flush()
		})
	}
}

// SendNow flushes the buffer together with events without waiting.
func (b *InputBatcher) SendNow(events ...protocol.InputEvent) {
	if b.closed {
		return
	}
	for _, ev := range events {
		b.add(ev)
	}
	b.Flush()
}

func (b *InputBatcher) add(ev protocol.InputEvent) {
	if ev.Kind == protocol.InputPointerMove {
		if b.moveIdx >= 0 {
			b.buf[b.moveIdx] = ev
			b.stats.Coalesced++
			return
		}
		b.moveIdx = len(b.buf)
	}
	b.buf = append(b.buf, ev)
}

// Flush sends whatever is buffered. Send failures are logged and the batch
// is dropped.
func (b *InputBatcher) Flush() {
	if len(b.buf) == 0 || b.closed {
		return
	}
	batch := b.buf
	b.buf = nil
	b.moveIdx = -1
	b.stats.Batches++
	b.stats.Events += uint64(len(batch))
	if err := b.send(batch); err != nil {
		b.stats.Failures++
		b.logger.Warn("input batch dropped", "events", len(batch), "err", err)
	}
}

// Close discards pending input; later calls are no-ops.
func (b *InputBatcher) Close() {
	b.closed = true
	b.buf = nil
	b.moveIdx = -1
}
