// Copyright © 2025 Deskview contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: server/event_sink_robotgo.go
// Summary: Injects viewer input into the local desktop.
// Notes: Needs cgo and a display; build with -tags robotgo.

//go:build robotgo

package server

import (
	"context"

	"github.com/go-vgo/robotgo"

	"github.com/framegrace/deskview/protocol"
)

// RobotSink replays input on the host's real pointer and keyboard.
type RobotSink struct{}

func NewRobotSink() *RobotSink { return &RobotSink{} }

var robotButtons = map[uint8]string{
	protocol.ButtonLeft:   "left",
	protocol.ButtonMiddle: "center",
	protocol.ButtonRight:  "right",
}

// set-1 scancodes; extended keys are looked up with the 0xe000 prefix.
var robotKeys = map[uint16]string{
	0x01: "esc", 0x0e: "backspace", 0x0f: "tab", 0x1c: "enter", 0x39: "space",
	0x02: "1", 0x03: "2", 0x04: "3", 0x05: "4", 0x06: "5",
	0x07: "6", 0x08: "7", 0x09: "8", 0x0a: "9", 0x0b: "0",
	0x10: "q", 0x11: "w", 0x12: "e", 0x13: "r", 0x14: "t",
	0x15: "y", 0x16: "u", 0x17: "i", 0x18: "o", 0x19: "p",
	0x1e: "a", 0x1f: "s", 0x20: "d", 0x21: "f", 0x22: "g",
	0x23: "h", 0x24: "j", 0x25: "k", 0x26: "l",
	0x2c: "z", 0x2d: "x", 0x2e: "c", 0x2f: "v", 0x30: "b", 0x31: "n", 0x32: "m",
	0x0c: "-", 0x0d: "=", 0x1a: "[", 0x1b: "]", 0x27: ";", 0x28: "'",
	0x29: "`", 0x2b: "\\", 0x33: ",", 0x34: ".", 0x35: "/",
	0x1d: "lctrl", 0x2a: "lshift", 0x36: "rshift", 0x38: "lalt", 0x3a: "capslock",
	0x3b: "f1", 0x3c: "f2", 0x3d: "f3", 0x3e: "f4", 0x3f: "f5", 0x40: "f6",
	0x41: "f7", 0x42: "f8", 0x43: "f9", 0x44: "f10", 0x57: "f11", 0x58: "f12",
	0xe01d: "rctrl", 0xe038: "ralt", 0xe05b: "lcmd", 0xe05c: "rcmd",
	0xe047: "home", 0xe048: "up", 0xe049: "pageup", 0xe04b: "left",
	0xe04d: "right", 0xe04f: "end", 0xe050: "down", 0xe051: "pagedown",
	0xe052: "insert", 0xe053: "delete",
}

func (RobotSink) HandleInput(_ context.Context, _ *Session, events []protocol.InputEvent) error {
	for _, ev := range events {
		switch ev.Kind {
		case protocol.InputPointerMove:
			robotgo.Move(int(ev.X), int(ev.Y))
		case protocol.InputPointerButton:
			name, ok := robotButtons[ev.Button]
			if !ok {
				continue
			}
			robotgo.Move(int(ev.X), int(ev.Y))
			if ev.Pressed {
				robotgo.Toggle(name, "down")
			} else {
				robotgo.Toggle(name, "up")
			}
		case protocol.InputWheel:
			if ev.Horizontal {
				robotgo.Scroll(int(ev.Delta), 0)
			} else {
				robotgo.Scroll(0, int(ev.Delta))
			}
		case protocol.InputKeyboardKey:
			code := ev.Scancode
			if ev.Extended {
				code |= 0xe000
			}
			key, ok := robotKeys[code]
			if !ok {
				continue
			}
			if ev.Pressed {
				robotgo.KeyToggle(key, "down")
			} else {
				robotgo.KeyToggle(key, "up")
			}
		}
	}
	return nil
}
