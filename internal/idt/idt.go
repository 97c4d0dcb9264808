/*
   IDT: the 256-entry interrupt descriptor table and its dispatcher.

   Copyright (c) 2024, Richard Cornwell

   Permission is hereby granted, free of charge, to any person obtaining a
   copy of this software and associated documentation files (the "Software"),
   to deal in the Software without restriction, including without limitation
   the rights to use, copy, modify, merge, publish, distribute, sublicense,
   and/or sell copies of the Software, and to permit persons to whom the
   Software is furnished to do so, subject to the following conditions:

   The above copyright notice and this permission notice shall be included in
   all copies or substantial portions of the Software.

   THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
   IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
   FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT.  IN NO EVENT SHALL
   ROBERT M SUPNIK BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY, WHETHER
   IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN
   CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.

*/

// Package idt models the 256-vector interrupt descriptor table: exception
// vectors 0-19 (minus the reserved 15), the IRQ vectors 0x20-0x2F, and the
// 0x80 syscall trap gate. Handlers are installed once at boot from literal
// tables rather than being hand-spread across call sites, per the design's
// "diagnostic string is data, not code" guidance.
package idt

import (
	"fmt"
	"log/slog"

	"trikernel/util/trace"
)

const (
	SyscallVector = 0x80
	IRQBase       = 0x20 // PIT, keyboard, RTC, cascade start here.

	numVectors = 256
)

// HandlerFunc runs when its vector is dispatched.
type HandlerFunc func(vector int)

// Descriptor is one IDT entry. Present/DPL/Trap mirror the real x86 bit
// layout described in the design (present=1, size=1, DPL 0 except the
// syscall gate at DPL 3; trap gates don't clear IF).
type Descriptor struct {
	Present bool
	DPL     uint8
	Trap    bool // Trap gate (reserved3=1): IF untouched on entry.
	Handler HandlerFunc
}

// Table is the 256-entry interrupt descriptor table.
type Table struct {
	entries [numVectors]Descriptor
}

var table Table

// Install populates vector with a handler at the given privilege level.
// trap selects a trap gate (used only for the 0x80 syscall vector) over an
// interrupt gate.
func Install(vector int, handler HandlerFunc, dpl uint8, trap bool) {
	table.entries[vector] = Descriptor{Present: true, DPL: dpl, Trap: trap, Handler: handler}
}

// Get returns the descriptor currently installed at vector.
func Get(vector int) Descriptor {
	return table.entries[vector]
}

// Dispatch invokes the handler installed at vector, or logs and ignores an
// unpopulated vector (the "all other vectors go to a logging stub" rule).
func Dispatch(vector int) {
	d := table.entries[vector]
	if !d.Present || d.Handler == nil {
		slog.Warn("unhandled interrupt vector", "vector", fmt.Sprintf("%#x", vector))
		return
	}
	trace.Debugf("IDT", trace.IDT, "dispatch vector %#x", vector)
	d.Handler(vector)
}

// Reset clears every descriptor. Used by tests and at boot before
// InstallExceptions/Install populate the table fresh.
func Reset() {
	table = Table{}
}
