// Copyright © 2025 Deskview contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: internal/runtime/client/compositor.go
// Summary: Frame ingest queue drained once per refresh tick.
// Usage: The read loop posts each decoded frame message to Enqueue; the
//   compositor paints every queued rect and presents exactly once per tick.
// Notes: The queue is unbounded. Rects are deltas, so dropping a message would
//   leave stale pixels on screen; the high-water mark is exported instead.

package clientruntime

import (
	"context"

	"pkt.systems/pslog"

	"github.com/framegrace/deskview/client"
	"github.com/framegrace/deskview/protocol"
	"github.com/framegrace/deskview/render"
)

// PaintTarget resolves where drained rects go. Backend may return nil before
// a renderer is bound; rects then go straight into Store.
type PaintTarget interface {
	Backend() render.Backend
	Store() *client.FrameStore
}

// CompositorStats are local pipeline counters.
type CompositorStats struct {
	Enqueued       uint64
	Drained        uint64
	Ticks          uint64
	Presents       uint64
	Rects          uint64
	DroppedRects   uint64
	Truncated      uint64
	Panics         uint64
	PresentErrors  uint64
	QueueHighWater int
}

// Compositor is not safe for concurrent use; it lives on the Scheduler.
type Compositor struct {
	sched  Scheduler
	target PaintTarget
	logger pslog.Logger

	queue      [][]byte
	cancelTick func()
	invalid    bool
	stats      CompositorStats
}

// NewCompositor binds a compositor to its scheduler and paint target.
func NewCompositor(sched Scheduler, target PaintTarget, logger pslog.Logger) *Compositor {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Compositor{sched: sched, target: target, logger: logger}
}

// Scheduled reports whether a tick is outstanding.
func (c *Compositor) Scheduled() bool {
	return c.cancelTick != nil
}

// Pending returns the number of queued messages.
func (c *Compositor) Pending() int {
	return len(c.queue)
}

// Stats returns a copy of the counters.
func (c *Compositor) Stats() CompositorStats {
	return c.stats
}

// Enqueue appends one frame message and requests a tick when idle.
func (c *Compositor) Enqueue(msg []byte) {
	c.queue = append(c.queue, msg)
	c.stats.Enqueued++
	if n := len(c.queue); n > c.stats.QueueHighWater {
		c.stats.QueueHighWater = n
	}
	c.schedule()
}

// Invalidate requests a tick that presents even if nothing is queued.
func (c *Compositor) Invalidate() {
	c.invalid = true
	c.schedule()
}

func (c *Compositor) schedule() {
	if c.cancelTick != nil {
		return
	}
	c.cancelTick = c.sched.RequestFrame(c.tick)
}

// Cancel drops the outstanding tick and anything queued.
func (c *Compositor) Cancel() {
	if c.cancelTick != nil {
		c.cancelTick()
		c.cancelTick = nil
	}
	c.queue = nil
	c.invalid = false
}

func (c *Compositor) tick() {
	// back to idle first: messages enqueued while draining schedule the
	// next tick
	c.cancelTick = nil
	queue := c.queue
	c.queue = nil
	invalid := c.invalid
	c.invalid = false
	c.stats.Ticks++

	backend := c.target.Backend()
	store := c.target.Store()
	for _, msg := range queue {
		c.apply(msg, backend, store)
	}
	c.stats.Drained += uint64(len(queue))

	if backend == nil || (len(queue) == 0 && !invalid) {
		return
	}
	c.stats.Presents++
	if err := backend.Present(); err != nil {
		c.stats.PresentErrors++
		c.logger.Warn("present failed", "renderer", backend.Name(), "err", err)
	}
}

func (c *Compositor) apply(msg []byte, backend render.Backend, store *client.FrameStore) {
	defer func() {
		if r := recover(); r != nil {
			c.stats.Panics++
			c.logger.Error("frame message dropped", "panic", r, "bytes", len(msg))
		}
	}()
	rd := protocol.NewRectReader(msg)
	for rd.Next() {
		u := rd.Rect()
		var ok bool
		if backend != nil {
			ok = backend.PaintRegion(u.X, u.Y, u.W, u.H, u.Pixels)
		} else {
			ok = render.PaintDirect(store, u)
		}
		if ok {
			c.stats.Rects++
		} else {
			c.stats.DroppedRects++
		}
	}
	if rd.Truncated() {
		c.stats.Truncated++
		c.logger.Debug("frame message truncated", "bytes", len(msg))
	}
}
