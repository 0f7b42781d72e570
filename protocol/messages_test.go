// Copyright © 2025 Deskview contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: protocol/messages_test.go
// Summary: Exercises control payload encoding.
// Notes: Keep changes backward-compatible; never renumber CBOR keys.

package protocol

import (
	"bytes"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestAttachRoundTrip(t *testing.T) {
	id := uuid.New()
	attach := Attach{SessionID: id, ConnectionID: "office-pc", Width: 1024, Height: 768}
	payload, err := Encode(attach)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	decoded, err := Decode[Attach](payload)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if decoded != attach {
		t.Fatalf("mismatch: %#v vs %#v", decoded, attach)
	}
}

func TestEncodeDeterministic(t *testing.T) {
	list := SessionList{Sessions: []SessionInfo{
		{ID: uuid.New(), ConnectionID: "a", Width: 640, Height: 480, Attached: true},
		{ID: uuid.New(), ConnectionID: "a", Width: 800, Height: 600},
	}}
	first, err := Encode(list)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	second, err := Encode(list)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Fatalf("expected identical encodings")
	}
}

func TestInputBatchPreservesOrder(t *testing.T) {
	batch := InputBatch{Events: []InputEvent{
		PointerMove(10, 20),
		PointerButton(10, 20, ButtonRight, true),
		Wheel(10, 20, -120, false),
		KeyboardKey(0x1c, true, true),
	}}
	payload, err := Encode(batch)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	decoded, err := Decode[InputBatch](payload)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(decoded.Events) != len(batch.Events) {
		t.Fatalf("expected %d events, got %d", len(batch.Events), len(decoded.Events))
	}
	for i := range batch.Events {
		if decoded.Events[i] != batch.Events[i] {
			t.Fatalf("event %d mismatch: %#v vs %#v", i, decoded.Events[i], batch.Events[i])
		}
	}
}

func TestInputPriority(t *testing.T) {
	if PointerMove(1, 1).Priority() {
		t.Fatalf("pointer move must not be priority")
	}
	for _, ev := range []InputEvent{PointerButton(0, 0, ButtonLeft, true), Wheel(0, 0, 1, true), KeyboardKey(1, false, false)} {
		if !ev.Priority() {
			t.Fatalf("%s should be priority", ev.Kind)
		}
	}
}

func TestDecodeEmptyPayload(t *testing.T) {
	if _, err := Decode[Status](nil); err == nil {
		t.Fatalf("expected error for empty payload")
	}
}

func TestErrorFrameMessage(t *testing.T) {
	frame := ErrorFrame{Code: ErrCodeSessionNotFound, Message: "no such session"}
	payload, err := Encode(frame)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	decoded, err := Decode[ErrorFrame](payload)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if decoded.Code != frame.Code || !strings.Contains(decoded.Error(), "no such session") {
		t.Fatalf("unexpected frame: %#v", decoded)
	}
}

func TestSessionStateString(t *testing.T) {
	cases := map[SessionState]string{
		StateDisconnected: "disconnected",
		StateConnecting:   "connecting",
		StateConnected:    "connected",
		StateError:        "error",
		SessionState(42):  "unknown",
	}
	for state, want := range cases {
		if state.String() != want {
			t.Fatalf("state %d: expected %q, got %q", state, want, state.String())
		}
	}
}
