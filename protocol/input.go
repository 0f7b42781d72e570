// Copyright © 2025 Deskview contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: protocol/input.go
// Summary: Typed input records forwarded from the viewer to the remote session.

package protocol

import "fmt"

// InputKind tags the variant carried by an InputEvent.
type InputKind uint8

const (
	InputPointerMove InputKind = iota + 1
	InputPointerButton
	InputWheel
	InputKeyboardKey
)

func (k InputKind) String() string {
	switch k {
	case InputPointerMove:
		return "pointer-move"
	case InputPointerButton:
		return "pointer-button"
	case InputWheel:
		return "wheel"
	case InputKeyboardKey:
		return "keyboard-key"
	}
	return fmt.Sprintf("input(%d)", uint8(k))
}

// Pointer buttons.
const (
	ButtonLeft   uint8 = 0
	ButtonMiddle uint8 = 1
	ButtonRight  uint8 = 2
)

// InputEvent is a tagged record. Only the fields relevant to Kind are set:
//
//	PointerMove   X, Y
//	PointerButton X, Y, Button, Pressed
//	Wheel         X, Y, Delta, Horizontal
//	KeyboardKey   Scancode, Pressed, Extended
type InputEvent struct {
	Kind       InputKind `cbor:"1,keyasint"`
	X          int32     `cbor:"2,keyasint,omitempty"`
	Y          int32     `cbor:"3,keyasint,omitempty"`
	Button     uint8     `cbor:"4,keyasint,omitempty"`
	Pressed    bool      `cbor:"5,keyasint,omitempty"`
	Delta      int32     `cbor:"6,keyasint,omitempty"`
	Horizontal bool      `cbor:"7,keyasint,omitempty"`
	Scancode   uint16    `cbor:"8,keyasint,omitempty"`
	Extended   bool      `cbor:"9,keyasint,omitempty"`
}

// PointerMove builds a pointer-move record.
func PointerMove(x, y int) InputEvent {
	return InputEvent{Kind: InputPointerMove, X: int32(x), Y: int32(y)}
}

// PointerButton builds a button press/release record.
func PointerButton(x, y int, button uint8, pressed bool) InputEvent {
	return InputEvent{Kind: InputPointerButton, X: int32(x), Y: int32(y), Button: button, Pressed: pressed}
}

// Wheel builds a wheel record. Positive delta scrolls down (or right).
func Wheel(x, y, delta int, horizontal bool) InputEvent {
	return InputEvent{Kind: InputWheel, X: int32(x), Y: int32(y), Delta: int32(delta), Horizontal: horizontal}
}

// KeyboardKey builds a key press/release record from a set-1 scancode.
func KeyboardKey(scancode uint16, pressed, extended bool) InputEvent {
	return InputEvent{Kind: InputKeyboardKey, Scancode: scancode, Pressed: pressed, Extended: extended}
}

// Priority reports whether the event must never wait behind coalesced
// pointer motion. Everything except pointer moves is priority.
func (e InputEvent) Priority() bool {
	return e.Kind != InputPointerMove
}

// InputBatch is the outbound payload of MsgInputBatch. Order is significant.
type InputBatch struct {
	Events []InputEvent `cbor:"1,keyasint"`
}
