// Copyright © 2025 Deskview contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: render/worker.go
// Summary: Backend that paints on the loop and presents from a dedicated goroutine.
// Notes: Present copies dirty regions into a front buffer and signals the presenter;
//   back-to-back presents coalesce into one surface update.

package render

import (
	"image"
	"runtime"
	"sync"

	"golang.org/x/image/draw"

	"github.com/framegrace/deskview/client"
)

// WorkerAvailable reports whether a second CPU is available to offload to.
func WorkerAvailable() bool {
	return runtime.NumCPU() > 1
}

// Worker keeps the store authoritative and hands presentation to a goroutine.
type Worker struct {
	store   *client.FrameStore
	surface Surface
	dirty   dirtyRect

	mu      sync.Mutex
	front   *image.RGBA
	pending image.Rectangle
	err     error

	signal chan struct{}
	done   chan struct{}
	closed bool
}

// NewWorker is the Factory for KindWorker.
func NewWorker(store *client.FrameStore, surface Surface) (Backend, error) {
	w := &Worker{
		store:   store,
		surface: surface,
		front:   image.NewRGBA(store.Bounds()),
		signal:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	if store.HasPainted() {
		w.dirty.r = store.Bounds()
	}
	go w.run()
	return w, nil
}

func (w *Worker) Kind() Kind           { return KindWorker }
func (w *Worker) Name() string         { return "worker" }
func (w *Worker) Authoritative() bool  { return true }
func (w *Worker) Visible() image.Image { return w.store.Image() }

func (w *Worker) PaintRegion(x, y, width, height int, pixels []byte) bool {
	if w.closed || !w.store.PaintRegion(x, y, width, height, pixels) {
		return false
	}
	w.dirty.add(x, y, width, height)
	return true
}

// Present publishes the dirty region to the presenter. It returns the error
// of the previous asynchronous present, if any.
func (w *Worker) Present() error {
	if w.closed {
		return ErrBackendClosed
	}
	dirty := w.dirty.take()
	w.mu.Lock()
	err := w.err
	w.err = nil
	if !dirty.Empty() {
		draw.Draw(w.front, dirty, w.store.Image(), dirty.Min, draw.Src)
		w.pending = w.pending.Union(dirty)
	}
	w.mu.Unlock()
	if !dirty.Empty() {
		select {
		case w.signal <- struct{}{}:
		default:
		}
	}
	return err
}

func (w *Worker) run() {
	defer close(w.done)
	for range w.signal {
		w.mu.Lock()
		dirty := w.pending
		w.pending = image.Rectangle{}
		if !dirty.Empty() && w.surface != nil {
			if err := w.surface.Present(w.front, dirty); err != nil {
				w.err = err
			}
		}
		w.mu.Unlock()
	}
}

// Resize reallocates the front buffer from the (already resized) store.
func (w *Worker) Resize(width, height int) error {
	if w.closed {
		return ErrBackendClosed
	}
	w.mu.Lock()
	w.front = image.NewRGBA(image.Rect(0, 0, width, height))
	w.pending = image.Rectangle{}
	w.mu.Unlock()
	w.dirty.r = image.Rect(0, 0, width, height)
	return nil
}

// Destroy stops the presenter and waits for it to exit.
func (w *Worker) Destroy() {
	if w.closed {
		return
	}
	w.closed = true
	close(w.signal)
	<-w.done
}
