/*
   Keyboard driver: scan-code decoding, line-buffer assembly, and the
   ALT-Fn terminal switch gesture.

   Copyright (c) 2024, Richard Cornwell, see ../../pic/pic.go for license
   text.
*/

// Package keyboard owns global modifier state and, per terminal, a
// 128-byte line buffer fed one scan code at a time from the IRQ1 handler.
// keyboard_read's cooperative spin-on-a-flag contract is expressed here as
// a goroutine blocking on a per-line channel instead of busy-waiting,
// which is how emu/timer's Ticker turns a hardware-driven event into
// something a blocked goroutine can simply receive on.
package keyboard

import (
	"sync"

	"trikernel/util/trace"
)

// Line buffers hold at most this many bytes before a newline is forced.
const LineSize = 128

// Sentinel bytes keyboard_read delivers in place of an echoed character
// when CTRL is held with L, A, or C.
const (
	CtrlL = 0x0C
	CtrlA = 0x01
	CtrlC = 0x03
)

// Set-1 scan codes this driver recognizes. Unlisted codes are decoded via
// the ASCII translation tables below.
const (
	scLeftShift  = 0x2A
	scRightShift = 0x36
	scCtrl       = 0x1D
	scAlt        = 0x38
	scCapsLock   = 0x3A
	scBackspace  = 0x0E
	scTab        = 0x0F
	scEnter      = 0x1C
	scF1         = 0x3B
	scF2         = 0x3C
	scF3         = 0x3D
	scL          = 0x26
	scA          = 0x1E
	scC          = 0x2E

	releaseBit = 0x80
)

// Console is the terminal multiplexer's console surface, the slice of it
// the keyboard driver needs: where to echo, which terminal is active, and
// how to switch it. Kept as an interface here rather than importing the
// terminal package directly, so the multiplexer can depend on this
// package without a cycle.
type Console interface {
	Putc(term int, ch byte)
	ActiveTerminal() int
	SwitchActiveTerminal(to int) error
}

type line struct {
	mu      sync.Mutex
	buf     [LineSize]byte
	n       int
	readAck bool
	ackCh   chan struct{}
}

// Keyboard holds the global modifier state and one line buffer per
// terminal.
type Keyboard struct {
	mu      sync.Mutex
	console Console
	shift   bool
	ctrl    bool
	alt     bool
	caps    bool
	lines   [3]*line
}

// New builds a driver wired to console for echo and terminal switching.
func New(console Console) *Keyboard {
	k := &Keyboard{console: console}
	for i := range k.lines {
		k.lines[i] = &line{ackCh: make(chan struct{}, 1)}
	}
	return k
}

// HandleScancode runs on IRQ1 with the raw set-1 byte, including the
// release bit.
func (k *Keyboard) HandleScancode(code byte) {
	trace.Debugf("KBD", trace.KBD, "scancode %#02x", code)
	k.mu.Lock()
	release := code&releaseBit != 0
	base := code &^ releaseBit

	switch base {
	case scLeftShift, scRightShift:
		k.shift = !release
		k.mu.Unlock()
		return
	case scCtrl:
		k.ctrl = !release
		k.mu.Unlock()
		return
	case scAlt:
		k.alt = !release
		k.mu.Unlock()
		return
	case scCapsLock:
		if !release {
			k.caps = !k.caps
		}
		k.mu.Unlock()
		return
	}

	if release {
		k.mu.Unlock()
		return
	}

	if k.alt {
		switch base {
		case scF1:
			k.mu.Unlock()
			k.console.SwitchActiveTerminal(0)
			return
		case scF2:
			k.mu.Unlock()
			k.console.SwitchActiveTerminal(1)
			return
		case scF3:
			k.mu.Unlock()
			k.console.SwitchActiveTerminal(2)
			return
		}
	}

	shift, ctrl, caps := k.shift, k.ctrl, k.caps
	term := k.console.ActiveTerminal()
	k.mu.Unlock()

	ln := k.lines[term]
	ln.mu.Lock()
	defer ln.mu.Unlock()
	if !ln.readAck {
		return
	}

	switch {
	case base == scBackspace:
		if ln.n > 0 {
			ln.n--
			k.console.Putc(term, '\b')
		}
		return
	case base == scTab:
		if ln.n < LineSize-1 {
			ln.buf[ln.n] = ' '
			ln.n++
			k.console.Putc(term, ' ')
			if ln.n == LineSize-1 {
				ln.buf[ln.n] = '\n'
				ln.n++
				k.console.Putc(term, '\n')
				wake(ln)
			}
		}
		return
	case base == scEnter:
		ln.buf[ln.n] = '\n'
		ln.n++
		k.console.Putc(term, '\n')
		wake(ln)
		return
	case ctrl && base == scL:
		k.deliverSentinel(term, ln, CtrlL)
		return
	case ctrl && base == scA:
		k.deliverSentinel(term, ln, CtrlA)
		return
	case ctrl && base == scC:
		k.deliverSentinel(term, ln, CtrlC)
		return
	}

	ch := translate(base, shift, caps)
	if ch == 0 {
		return
	}
	ln.buf[ln.n] = ch
	ln.n++
	k.console.Putc(term, ch)
	if ln.n == LineSize-1 {
		ln.buf[ln.n] = '\n'
		ln.n++
		k.console.Putc(term, '\n')
		wake(ln)
	}
}

// deliverSentinel must be called with ln.mu held.
func (k *Keyboard) deliverSentinel(_ int, ln *line, b byte) {
	ln.buf[ln.n] = b
	ln.n++
	wake(ln)
}

// wake must be called with ln.mu held; it clears readAck and releases any
// reader blocked in Read.
func wake(ln *line) {
	ln.readAck = false
	select {
	case ln.ackCh <- struct{}{}:
	default:
	}
}

// Read is the keyboard_read contract for terminal term: arm read_ack,
// block until the IRQ handler completes a line, then drain the buffer
// into buf (truncating to len(buf)) and reset it.
func (k *Keyboard) Read(term int, buf []byte) (int, error) {
	ln := k.lines[term]
	ln.mu.Lock()
	ln.readAck = true
	ack := ln.ackCh
	ln.mu.Unlock()

	<-ack

	ln.mu.Lock()
	defer ln.mu.Unlock()
	n := ln.n
	if n > len(buf) {
		n = len(buf)
	}
	copy(buf, ln.buf[:n])
	ln.n = 0
	return n, nil
}

var lowerTable = [0x40]byte{
	0x02: '1', 0x03: '2', 0x04: '3', 0x05: '4', 0x06: '5',
	0x07: '6', 0x08: '7', 0x09: '8', 0x0A: '9', 0x0B: '0',
	0x0C: '-', 0x0D: '=',
	0x10: 'q', 0x11: 'w', 0x12: 'e', 0x13: 'r', 0x14: 't',
	0x15: 'y', 0x16: 'u', 0x17: 'i', 0x18: 'o', 0x19: 'p',
	0x1A: '[', 0x1B: ']',
	0x1E: 'a', 0x1F: 's', 0x20: 'd', 0x21: 'f', 0x22: 'g',
	0x23: 'h', 0x24: 'j', 0x25: 'k', 0x26: 'l',
	0x27: ';', 0x28: '\'', 0x29: '`',
	0x2B: '\\',
	0x2C: 'z', 0x2D: 'x', 0x2E: 'c', 0x2F: 'v', 0x30: 'b',
	0x31: 'n', 0x32: 'm',
	0x33: ',', 0x34: '.', 0x35: '/',
	0x39: ' ',
}

var upperTable = [0x40]byte{
	0x02: '!', 0x03: '@', 0x04: '#', 0x05: '$', 0x06: '%',
	0x07: '^', 0x08: '&', 0x09: '*', 0x0A: '(', 0x0B: ')',
	0x0C: '_', 0x0D: '+',
	0x10: 'Q', 0x11: 'W', 0x12: 'E', 0x13: 'R', 0x14: 'T',
	0x15: 'Y', 0x16: 'U', 0x17: 'I', 0x18: 'O', 0x19: 'P',
	0x1A: '{', 0x1B: '}',
	0x1E: 'A', 0x1F: 'S', 0x20: 'D', 0x21: 'F', 0x22: 'G',
	0x23: 'H', 0x24: 'J', 0x25: 'K', 0x26: 'L',
	0x27: ':', 0x28: '"', 0x29: '~',
	0x2B: '|',
	0x2C: 'Z', 0x2D: 'X', 0x2E: 'C', 0x2F: 'V', 0x30: 'B',
	0x31: 'N', 0x32: 'M',
	0x33: '<', 0x34: '>', 0x35: '?',
	0x39: ' ',
}

func isLetter(base byte) bool {
	switch {
	case base >= 0x10 && base <= 0x19:
		return true
	case base >= 0x1E && base <= 0x26:
		return true
	case base >= 0x2C && base <= 0x32:
		return true
	}
	return false
}

// translate maps a non-modifier, non-special-key scan code to ASCII,
// applying shift and caps-lock (which, unlike shift, only affects
// letters).
func translate(base byte, shift, caps bool) byte {
	if int(base) >= len(lowerTable) {
		return 0
	}
	useUpper := shift
	if caps && isLetter(base) {
		useUpper = !useUpper
	}
	if useUpper {
		return upperTable[base]
	}
	return lowerTable[base]
}
