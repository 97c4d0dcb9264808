/*
   Simulated I/O port bus.

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

// Package ioport stands in for the x86 port-mapped I/O bus: a flat,
// byte-addressed space that the PIC, PIT, RTC and keyboard drivers read and
// write through instead of issuing real IN/OUT instructions.
package ioport

import "sync"

const numPorts = 1 << 16

// Hook is a per-port callback. Installed with OnWrite, it runs after a
// written byte has already landed in the backing array, so a driver can
// react to writes rather than polling; installed with OnRead, it runs
// before a read returns, with value 0.
type Hook func(port uint16, value uint8)

type bus struct {
	mu     sync.Mutex
	ports  [numPorts]uint8
	onWr   map[uint16]Hook
	onRead map[uint16]Hook
}

var b bus

func init() {
	Reset()
}

// Reset clears all ports and hooks. Used at kernel boot and between tests.
func Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ports = [numPorts]uint8{}
	b.onWr = make(map[uint16]Hook)
	b.onRead = make(map[uint16]Hook)
}

// Out writes a byte to a port, as if executing `out port, value`.
func Out(port uint16, value uint8) {
	b.mu.Lock()
	b.ports[port] = value
	hook := b.onWr[port]
	b.mu.Unlock()
	if hook != nil {
		hook(port, value)
	}
}

// In reads a byte from a port, as if executing `in value, port`.
func In(port uint16) uint8 {
	b.mu.Lock()
	hook := b.onRead[port]
	b.mu.Unlock()
	if hook != nil {
		hook(port, 0)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ports[port]
}

// Poke sets a port's raw value without running the write hook. Used by a
// device to publish a value (e.g. a status register) that a CPU read will
// later observe via In.
func Poke(port uint16, value uint8) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ports[port] = value
}

// OnWrite installs a hook fired after any write to port.
func OnWrite(port uint16, hook Hook) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onWr[port] = hook
}

// OnRead installs a hook fired before a read of port is returned, letting a
// device compute the value to return just in time.
func OnRead(port uint16, hook Hook) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onRead[port] = hook
}
