// Copyright © 2025 Deskview contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: display/keymap.go
// Summary: Terminal key events to PC set-1 scancodes.

package display

import (
	"unicode"

	"github.com/gdamore/tcell/v2"
)

type scancode struct {
	code     uint16
	extended bool
	shift    bool
}

const (
	scanLeftShift uint16 = 0x2a
	scanLeftCtrl  uint16 = 0x1d
	scanLeftAlt   uint16 = 0x38
)

var runeScancodes = map[rune]uint16{
	'1': 0x02, '2': 0x03, '3': 0x04, '4': 0x05, '5': 0x06,
	'6': 0x07, '7': 0x08, '8': 0x09, '9': 0x0a, '0': 0x0b,
	'-': 0x0c, '=': 0x0d,
	'q': 0x10, 'w': 0x11, 'e': 0x12, 'r': 0x13, 't': 0x14,
	'y': 0x15, 'u': 0x16, 'i': 0x17, 'o': 0x18, 'p': 0x19,
	'[': 0x1a, ']': 0x1b,
	'a': 0x1e, 's': 0x1f, 'd': 0x20, 'f': 0x21, 'g': 0x22,
	'h': 0x23, 'j': 0x24, 'k': 0x25, 'l': 0x26,
	';': 0x27, '\'': 0x28, '`': 0x29, '\\': 0x2b,
	'z': 0x2c, 'x': 0x2d, 'c': 0x2e, 'v': 0x2f, 'b': 0x30,
	'n': 0x31, 'm': 0x32,
	',': 0x33, '.': 0x34, '/': 0x35,
	' ': 0x39,
}

// shifted punctuation and the unshifted key that produces it
var shiftedRunes = map[rune]rune{
	'!': '1', '@': '2', '#': '3', '$': '4', '%': '5',
	'^': '6', '&': '7', '*': '8', '(': '9', ')': '0',
	'_': '-', '+': '=', '{': '[', '}': ']', ':': ';',
	'"': '\'', '~': '`', '|': '\\', '<': ',', '>': '.', '?': '/',
}

var keyScancodes = map[tcell.Key]scancode{
	tcell.KeyEnter:      {code: 0x1c},
	tcell.KeyEscape:     {code: 0x01},
	tcell.KeyBackspace:  {code: 0x0e},
	tcell.KeyBackspace2: {code: 0x0e},
	tcell.KeyTab:        {code: 0x0f},
	tcell.KeyBacktab:    {code: 0x0f, shift: true},
	tcell.KeyUp:         {code: 0x48, extended: true},
	tcell.KeyDown:       {code: 0x50, extended: true},
	tcell.KeyLeft:       {code: 0x4b, extended: true},
	tcell.KeyRight:      {code: 0x4d, extended: true},
	tcell.KeyHome:       {code: 0x47, extended: true},
	tcell.KeyEnd:        {code: 0x4f, extended: true},
	tcell.KeyPgUp:       {code: 0x49, extended: true},
	tcell.KeyPgDn:       {code: 0x51, extended: true},
	tcell.KeyInsert:     {code: 0x52, extended: true},
	tcell.KeyDelete:     {code: 0x53, extended: true},
	tcell.KeyF1:         {code: 0x3b},
	tcell.KeyF2:         {code: 0x3c},
	tcell.KeyF3:         {code: 0x3d},
	tcell.KeyF4:         {code: 0x3e},
	tcell.KeyF5:         {code: 0x3f},
	tcell.KeyF6:         {code: 0x40},
	tcell.KeyF7:         {code: 0x41},
	tcell.KeyF8:         {code: 0x42},
	tcell.KeyF9:         {code: 0x43},
	tcell.KeyF10:        {code: 0x44},
	tcell.KeyF11:        {code: 0x57},
	tcell.KeyF12:        {code: 0x58},
}

func runeScancode(r rune) (scancode, bool) {
	if code, ok := runeScancodes[r]; ok {
		return scancode{code: code}, true
	}
	if unicode.IsUpper(r) {
		if code, ok := runeScancodes[unicode.ToLower(r)]; ok {
			return scancode{code: code, shift: true}, true
		}
	}
	if base, ok := shiftedRunes[r]; ok {
		return scancode{code: runeScancodes[base], shift: true}, true
	}
	return scancode{}, false
}

// keyScancode resolves a tcell key event. ctrl reports a control chord that
// must be wrapped in LeftCtrl press/release.
func keyScancode(ev *tcell.EventKey) (sc scancode, ctrl bool, ok bool) {
	key := ev.Key()
	if key == tcell.KeyRune {
		sc, ok = runeScancode(ev.Rune())
		return sc, ev.Modifiers()&tcell.ModCtrl != 0, ok
	}
	if sc, ok = keyScancodes[key]; ok {
		return sc, ev.Modifiers()&tcell.ModCtrl != 0, true
	}
	if key >= tcell.KeyCtrlA && key <= tcell.KeyCtrlZ {
		letter := rune('a' + int(key-tcell.KeyCtrlA))
		sc, ok = runeScancode(letter)
		return sc, true, ok
	}
	return scancode{}, false, false
}
