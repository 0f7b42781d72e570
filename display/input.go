// Copyright © 2025 Deskview contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: display/input.go
// Summary: Translates tcell events into remote input records in view coordinates.
// Notes: Terminals report cells; the vertical coordinate is doubled to match the
//   half-block pixel grid. Keys arrive without release events, so each key is sent
//   as a press/release pair.

package display

import (
	"github.com/gdamore/tcell/v2"

	"github.com/framegrace/deskview/protocol"
)

// WheelStep is the delta reported for one wheel notch.
const WheelStep = 120

var trackedButtons = []struct {
	mask   tcell.ButtonMask
	button uint8
}{
	{tcell.Button1, protocol.ButtonLeft},
	{tcell.Button2, protocol.ButtonRight},
	{tcell.Button3, protocol.ButtonMiddle},
}

// InputTranslator keeps the button and pointer state needed to turn tcell's
// level-triggered mouse reports into edge events.
type InputTranslator struct {
	buttons tcell.ButtonMask
	lastX   int
	lastY   int
	seen    bool
}

// Translate converts one event. It returns nil for events that carry no
// remote input.
func (t *InputTranslator) Translate(ev tcell.Event) []protocol.InputEvent {
	switch ev := ev.(type) {
	case *tcell.EventMouse:
		return t.mouse(ev)
	case *tcell.EventKey:
		return translateKey(ev)
	}
	return nil
}

func (t *InputTranslator) mouse(ev *tcell.EventMouse) []protocol.InputEvent {
	cx, cy := ev.Position()
	x, y := cx, cy*2
	mask := ev.Buttons()
	var out []protocol.InputEvent

	if !t.seen || x != t.lastX || y != t.lastY {
		out = append(out, protocol.PointerMove(x, y))
		t.lastX, t.lastY, t.seen = x, y, true
	}
	for _, b := range trackedButtons {
		was := t.buttons&b.mask != 0
		now := mask&b.mask != 0
		if was != now {
			out = append(out, protocol.PointerButton(x, y, b.button, now))
		}
	}
	t.buttons = mask & (tcell.Button1 | tcell.Button2 | tcell.Button3)

	switch {
	case mask&tcell.WheelUp != 0:
		out = append(out, protocol.Wheel(x, y, -WheelStep, false))
	case mask&tcell.WheelDown != 0:
		out = append(out, protocol.Wheel(x, y, WheelStep, false))
	case mask&tcell.WheelLeft != 0:
		out = append(out, protocol.Wheel(x, y, -WheelStep, true))
	case mask&tcell.WheelRight != 0:
		out = append(out, protocol.Wheel(x, y, WheelStep, true))
	}
	return out
}

func translateKey(ev *tcell.EventKey) []protocol.InputEvent {
	sc, ctrl, ok := keyScancode(ev)
	if !ok {
		return nil
	}
	shift := sc.shift || (ev.Key() != tcell.KeyRune && ev.Modifiers()&tcell.ModShift != 0)
	alt := ev.Modifiers()&tcell.ModAlt != 0

	var out []protocol.InputEvent
	if ctrl {
		out = append(out, protocol.KeyboardKey(scanLeftCtrl, true, false))
	}
	if alt {
		out = append(out, protocol.KeyboardKey(scanLeftAlt, true, false))
	}
	if shift {
		out = append(out, protocol.KeyboardKey(scanLeftShift, true, false))
	}
	out = append(out,
		protocol.KeyboardKey(sc.code, true, sc.extended),
		protocol.KeyboardKey(sc.code, false, sc.extended),
	)
	if shift {
		out = append(out, protocol.KeyboardKey(scanLeftShift, false, false))
	}
	if alt {
		out = append(out, protocol.KeyboardKey(scanLeftAlt, false, false))
	}
	if ctrl {
		out = append(out, protocol.KeyboardKey(scanLeftCtrl, false, false))
	}
	return out
}
