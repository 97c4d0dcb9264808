/*
   Table-driven installation of the 20 architecturally defined exception
   vectors (minus the reserved 15). Per the design's REDESIGN FLAGS note,
   the macro-instantiated handlers of the original kernel become an array
   of small wrappers generated from this table; the diagnostic string is
   data, not code.

   Copyright (c) 2024, Richard Cornwell, see idt.go for license text.
*/

package idt

// ExceptionVector names one of the 20 architectural exception vectors.
type ExceptionVector struct {
	Vector    int
	Mnemonic  string // One-line diagnostic, e.g. "DIVIDE ERROR".
	PageFault bool   // Vector 14 additionally reports a faulting address.
}

// exceptionTable lists vectors 0-19, skipping the reserved vector 15.
var exceptionTable = []ExceptionVector{
	{0, "DIVIDE ERROR", false},
	{1, "DEBUG", false},
	{2, "NMI", false},
	{3, "BREAKPOINT", false},
	{4, "OVERFLOW", false},
	{5, "BOUND RANGE EXCEEDED", false},
	{6, "INVALID OPCODE", false},
	{7, "DEVICE NOT AVAILABLE", false},
	{8, "DOUBLE FAULT", false},
	{9, "COPROCESSOR SEGMENT OVERRUN", false},
	{10, "INVALID TSS", false},
	{11, "SEGMENT NOT PRESENT", false},
	{12, "STACK SEGMENT FAULT", false},
	{13, "GENERAL PROTECTION FAULT", false},
	{14, "PAGE FAULT", true},
	// 15 is reserved by the architecture.
	{16, "X87 FLOATING POINT", false},
	{17, "ALIGNMENT CHECK", false},
	{18, "MACHINE CHECK", false},
	{19, "SIMD FLOATING POINT", false},
}

// ExceptionHandler is invoked for any of the 20 exception vectors. faultAddr
// is only meaningful when the vector is the page fault (14); it is the
// value reported by the control register at fault time.
type ExceptionHandler func(vector int, mnemonic string, faultAddr uint32)

var lastFaultAddr uint32

// SetPageFaultAddr records the faulting address, as if reading it back out
// of the control register a real page-fault handler would consult.
func SetPageFaultAddr(addr uint32) {
	lastFaultAddr = addr
}

// InstallExceptions populates the 19 exception vectors of exceptionTable
// (0-19 minus the reserved 15) with wrappers around
// a single handler, data-driven from exceptionTable. This is the sole
// install site for exception diagnostics: no vector gets a bespoke handler
// function.
func InstallExceptions(onException ExceptionHandler) {
	for _, ev := range exceptionTable {
		ev := ev
		Install(ev.Vector, func(vector int) {
			addr := uint32(0)
			if ev.PageFault {
				addr = lastFaultAddr
			}
			onException(vector, ev.Mnemonic, addr)
		}, 0, false)
	}
}

// Exceptions returns the literal exception table, for tests and tooling
// that want to enumerate its 19 vectors without reaching into internals.
func Exceptions() []ExceptionVector {
	out := make([]ExceptionVector, len(exceptionTable))
	copy(out, exceptionTable)
	return out
}
