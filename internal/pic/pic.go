/*
   PIC: cascaded 8259 programmable interrupt controller pair.

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

// Package pic models the legacy dual-8259 PIC: a master at ports 0x20/0x21
// and a slave at 0xA0/0xA1, cascaded on IRQ2, remapped off the BIOS defaults
// onto vectors 0x20 and 0x28.
package pic

import (
	"trikernel/internal/ioport"
	"trikernel/util/trace"
)

const (
	MasterCommand uint16 = 0x20
	MasterData    uint16 = 0x21
	SlaveCommand  uint16 = 0xA0
	SlaveData     uint16 = 0xA1

	settlePort uint16 = 0x80 // I/O delay port, written after every command.

	MasterVectorBase uint8 = 0x20
	SlaveVectorBase   uint8 = 0x28

	icw1Init uint8 = 0x11 // ICW1: edge triggered, cascade, ICW4 needed.
	icw4_8086 uint8 = 0x01

	eoiCmd uint8 = 0x60 // Base for a specific EOI; the line number is ORed in.
)

// Controller is one physical 8259.
type Controller struct {
	command, data uint16 // I/O ports this chip is mapped to.
	mask          uint8  // Shadow of the current IMR (1 = masked).
}

var (
	Master = &Controller{command: MasterCommand, data: MasterData}
	Slave  = &Controller{command: SlaveCommand, data: SlaveData}
)

func settle() {
	ioport.Out(settlePort, 0)
}

// Init programs both controllers through the standard ICW1..ICW4 sequence,
// remapping master to vector 0x20 and slave to 0x28 with the slave cascaded
// on IRQ2 of the master.
func Init() {
	Master.mask = 0xff
	Slave.mask = 0xff

	// ICW1: start initialization sequence.
	ioport.Out(Master.command, icw1Init)
	settle()
	ioport.Out(Slave.command, icw1Init)
	settle()

	// ICW2: vector offsets.
	ioport.Out(Master.data, MasterVectorBase)
	settle()
	ioport.Out(Slave.data, SlaveVectorBase)
	settle()

	// ICW3: cascade wiring - slave lives on master's IRQ2.
	ioport.Out(Master.data, 1<<2)
	settle()
	ioport.Out(Slave.data, 2)
	settle()

	// ICW4: 8086 mode.
	ioport.Out(Master.data, icw4_8086)
	settle()
	ioport.Out(Slave.data, icw4_8086)
	settle()

	// Mask everything until a driver explicitly enables its line.
	ioport.Out(Master.data, Master.mask)
	settle()
	ioport.Out(Slave.data, Slave.mask)
	settle()
}

// controllerFor returns the chip owning IRQ line n, and the line's bit
// position within that chip (0-7).
func controllerFor(irq int) (*Controller, uint) {
	if irq >= 8 {
		return Slave, uint(irq - 8)
	}
	return Master, uint(irq)
}

// EnableIRQ unmasks IRQ line n.
func EnableIRQ(irq int) {
	c, bit := controllerFor(irq)
	c.mask &^= 1 << bit
	ioport.Out(c.data, c.mask)
	settle()
	trace.Debugf("PIC", trace.PIC, "enable irq %d", irq)
}

// DisableIRQ masks IRQ line n.
func DisableIRQ(irq int) {
	c, bit := controllerFor(irq)
	c.mask |= 1 << bit
	ioport.Out(c.data, c.mask)
	settle()
}

// Enabled reports whether IRQ line n is currently unmasked.
func Enabled(irq int) bool {
	c, bit := controllerFor(irq)
	return c.mask&(1<<bit) == 0
}

// SendEOI acknowledges IRQ line n, additionally EOI-ing the cascade line on
// the master when the interrupt originated on the slave.
func SendEOI(irq int) {
	c, bit := controllerFor(irq)
	ioport.Out(c.command, eoiCmd|uint8(bit))
	settle()
	if irq >= 8 {
		ioport.Out(Master.command, eoiCmd|2)
		settle()
	}
	trace.Debugf("PIC", trace.PIC, "EOI irq %d", irq)
}
