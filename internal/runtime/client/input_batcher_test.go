// Copyright © 2025 Deskview contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: internal/runtime/client/input_batcher_test.go
// Summary: Exercises pointer-move coalescing and the priority path.

package clientruntime

import (
	"errors"
	"reflect"
	"testing"

	"github.com/framegrace/deskview/protocol"
)

type batchRecorder struct {
	batches [][]protocol.InputEvent
	err     error
}

func (r *batchRecorder) send(events []protocol.InputEvent) error {
	r.batches = append(r.batches, append([]protocol.InputEvent(nil), events...))
	return r.err
}

func countMoves(events []protocol.InputEvent) int {
	n := 0
	for _, ev := range events {
		if ev.Kind == protocol.InputPointerMove {
			n++
		}
	}
	return n
}

func TestBatcherCoalescesMovesIntoOneSlot(t *testing.T) {
	sched := &manualScheduler{}
	rec := &batchRecorder{}
	b := NewInputBatcher(sched, rec.send, nil)

	for i := range 50 {
		b.Submit(protocol.PointerMove(i, i*2))
	}
	if got := sched.pendingMicro(); got != 1 {
		t.Fatalf("scheduled flushes = %d, want 1", got)
	}
	if got := countMoves(b.Buffered()); got != 1 {
		t.Fatalf("buffered moves = %d, want 1", got)
	}
	sched.drainMicro()

	want := [][]protocol.InputEvent{{protocol.PointerMove(49, 98)}}
	if !reflect.DeepEqual(rec.batches, want) {
		t.Fatalf("batches = %+v, want %+v", rec.batches, want)
	}
	if st := b.Stats(); st.Coalesced != 49 || st.Batches != 1 || st.Events != 1 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestBatcherPriorityFlushesImmediately(t *testing.T) {
	cases := []struct {
		name  string
		event protocol.InputEvent
	}{
		{"button", protocol.PointerButton(5, 5, protocol.ButtonLeft, true)},
		{"key", protocol.KeyboardKey(0x1e, true, false)},
		{"wheel", protocol.Wheel(5, 5, 1, false)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sched := &manualScheduler{}
			rec := &batchRecorder{}
			b := NewInputBatcher(sched, rec.send, nil)

			b.Submit(protocol.PointerMove(1, 1))
			b.Submit(protocol.PointerMove(4, 4))
			b.Submit(tc.event)

			if len(rec.batches) != 1 {
				t.Fatalf("batches = %d, want 1 sent synchronously", len(rec.batches))
			}
			want := []protocol.InputEvent{protocol.PointerMove(4, 4), tc.event}
			if !reflect.DeepEqual(rec.batches[0], want) {
				t.Fatalf("batch = %+v, want %+v", rec.batches[0], want)
			}
			// the scheduled flush finds nothing left
			sched.drainMicro()
			if len(rec.batches) != 1 {
				t.Fatalf("empty flush sent a batch")
			}
		})
	}
}

func TestBatcherKeepsOrderAroundMoveSlot(t *testing.T) {
	sched := &manualScheduler{}
	rec := &batchRecorder{}
	b := NewInputBatcher(sched, rec.send, nil)

	b.Push(protocol.PointerMove(1, 1))
	b.Push(protocol.KeyboardKey(0x10, true, false))
	b.Push(protocol.PointerMove(9, 9))
	b.Flush()

	want := []protocol.InputEvent{protocol.PointerMove(9, 9), protocol.KeyboardKey(0x10, true, false)}
	if len(rec.batches) != 1 || !reflect.DeepEqual(rec.batches[0], want) {
		t.Fatalf("batches = %+v, want [%+v]", rec.batches, want)
	}
}

func TestBatcherSendFailureIsAbsorbed(t *testing.T) {
	sched := &manualScheduler{}
	rec := &batchRecorder{err: errors.New("broken pipe")}
	b := NewInputBatcher(sched, rec.send, nil)

	b.Submit(protocol.KeyboardKey(0x1c, true, false))
	b.Submit(protocol.KeyboardKey(0x1c, false, false))

	if st := b.Stats(); st.Failures != 2 || st.Batches != 2 {
		t.Fatalf("stats = %+v", st)
	}
	if len(b.Buffered()) != 0 {
		t.Fatal("failed batch was kept for retry")
	}
}

func TestBatcherClosedDropsInput(t *testing.T) {
	sched := &manualScheduler{}
	rec := &batchRecorder{}
	b := NewInputBatcher(sched, rec.send, nil)

	b.Push(protocol.PointerMove(1, 1))
	b.Close()
	sched.drainMicro()
	b.Submit(protocol.KeyboardKey(0x1c, true, false))
	if len(rec.batches) != 0 {
		t.Fatalf("closed batcher sent %d batches", len(rec.batches))
	}
}
