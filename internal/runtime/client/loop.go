// Copyright © 2025 Deskview contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: internal/runtime/client/loop.go
// Summary: Single-goroutine execution context with refresh ticks and microtasks.
// Usage: Everything that touches session state runs inside Loop.Run; other
//   goroutines hand work over with Post.
// Notes: The frame timer is armed only while a frame callback is pending, so an
//   idle loop costs nothing.

package clientruntime

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"pkt.systems/pslog"
)

// DefaultRefreshInterval matches a 60Hz display.
const DefaultRefreshInterval = time.Second / 60

// Scheduler is the cooperative execution context the pipeline runs on.
// Post is safe from any goroutine; Defer and RequestFrame must be called
// from a task already running on the scheduler.
type Scheduler interface {
	// Post queues fn as a task.
	Post(fn func())
	// Defer queues fn as a microtask, run after the current task completes
	// and before the next task or frame.
	Defer(fn func())
	// RequestFrame runs fn on the next refresh tick. The returned cancel
	// removes it if it has not fired.
	RequestFrame(fn func()) (cancel func())
}

// Loop implements Scheduler on one goroutine.
type Loop struct {
	interval time.Duration
	epoch    time.Time
	logger   pslog.Logger

	mu    sync.Mutex
	tasks []func()
	wake  chan struct{}

	micro     []func()
	frames    []frameRequest
	nextFrame uint64
	timer     *time.Timer
	frameDue  chan struct{}
	// timerGen tags the armed timer; dueGen is the tag of the last one that
	// fired. A token from a cancelled timer carries an old tag.
	timerGen uint64
	dueGen   atomic.Uint64
}

type frameRequest struct {
	id uint64
	fn func()
}

// NewLoop creates a loop ticking every interval (DefaultRefreshInterval when
// zero).
func NewLoop(interval time.Duration, logger pslog.Logger) *Loop {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Loop{
		interval: interval,
		epoch:    time.Now(),
		logger:   logger,
		wake:     make(chan struct{}, 1),
		frameDue: make(chan struct{}, 1),
	}
}

// Interval returns the refresh period.
func (l *Loop) Interval() time.Duration {
	return l.interval
}

func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	l.tasks = append(l.tasks, fn)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *Loop) Defer(fn func()) {
	l.micro = append(l.micro, fn)
}

func (l *Loop) RequestFrame(fn func()) func() {
	l.nextFrame++
	id := l.nextFrame
	l.frames = append(l.frames, frameRequest{id: id, fn: fn})
	if l.timer == nil {
		l.timerGen++
		gen := l.timerGen
		l.timer = time.AfterFunc(l.untilNextBoundary(), func() {
			l.dueGen.Store(gen)
			select {
			case l.frameDue <- struct{}{}:
			default:
			}
		})
	}
	return func() {
		for i, req := range l.frames {
			if req.id == id {
				l.frames = append(l.frames[:i], l.frames[i+1:]...)
				break
			}
		}
		if len(l.frames) == 0 && l.timer != nil {
			l.timer.Stop()
			l.timer = nil
		}
	}
}

// untilNextBoundary aligns ticks to multiples of the interval since the loop
// was created.
func (l *Loop) untilNextBoundary() time.Duration {
	elapsed := time.Since(l.epoch)
	next := (elapsed/l.interval + 1) * l.interval
	return next - elapsed
}

// Run executes tasks until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	defer func() {
		if l.timer != nil {
			l.timer.Stop()
			l.timer = nil
		}
	}()
	for {
		l.runTasks()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		case <-l.frameDue:
			if l.timer != nil && l.dueGen.Load() == l.timerGen {
				l.runFrames()
			}
		}
	}
}

func (l *Loop) runTasks() {
	for {
		l.mu.Lock()
		tasks := l.tasks
		l.tasks = nil
		l.mu.Unlock()
		if len(tasks) == 0 {
			return
		}
		for _, fn := range tasks {
			l.run("task", fn)
		}
	}
}

func (l *Loop) runFrames() {
	l.timer = nil
	frames := l.frames
	l.frames = nil
	for _, req := range frames {
		l.run("frame", req.fn)
	}
}

// run executes fn and then drains microtasks, recovering panics in both.
func (l *Loop) run(kind string, fn func()) {
	l.guard(kind, fn)
	for len(l.micro) > 0 {
		micro := l.micro
		l.micro = nil
		for _, m := range micro {
			l.guard("microtask", m)
		}
	}
}

func (l *Loop) guard(kind string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("loop callback panicked", "kind", kind, "panic", r)
		}
	}()
	fn()
}
