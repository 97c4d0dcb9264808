/*
   Scheduler: PIT-driven preemptive round-robin across terminals with at
   least one live process.

   Copyright (c) 2024, Richard Cornwell, see ../pic/pic.go for license
   text.
*/

// Package scheduler implements spec.md §4.7's tick handler and context
// switch. It owns no ticker itself: internal/kernel's run loop is the one
// hardware-facing piece that turns pit.Ticker events into Tick() calls,
// the same separation the teacher draws between emu/timer (the ticker)
// and emu/core (the loop that reacts to it).
package scheduler

import (
	"trikernel/internal/devices/terminal"
	"trikernel/internal/paging"
	"trikernel/internal/pic"
	"trikernel/internal/process"
	"trikernel/util/trace"
)

// pitIRQ is the legacy IRQ line the PIT is wired to.
const pitIRQ = 0

// TSS stands in for the single Task State Segment: the one CPU-visible
// field a context switch must keep current is esp0, per spec.md §4.7
// step 4 and the testable property in §8.
type TSS struct {
	ESP0 uint32
}

// Scheduler tracks which terminal is currently executing and performs the
// bookkeeping half of a context switch: there is no real register file to
// save/restore in this simulation, so "loading incoming esp/ebp" is
// represented by updating the TSS state and the executing terminal a real
// switch would leave current; the PCBs' saved esp/ebp fields are not
// touched.
type Scheduler struct {
	procs *process.Table
	dir   *paging.Directory
	mux   *terminal.Multiplexer

	tss           TSS
	executingTerm int
}

// NewScheduler builds a scheduler over procs/dir/mux, not yet booted.
func NewScheduler(procs *process.Table, dir *paging.Directory, mux *terminal.Multiplexer) *Scheduler {
	return &Scheduler{procs: procs, dir: dir, mux: mux}
}

// Boot sets the scheduler's starting point to terminal 0, per the
// resolution of spec.md §9's open question on post-boot scheduling.
func (s *Scheduler) Boot() {
	s.executingTerm = 0
}

// ExecutingTerm reports which terminal currently owns the CPU.
func (s *Scheduler) ExecutingTerm() int {
	return s.executingTerm
}

// TSS reports the current TSS state, for tests asserting the esp0
// invariant.
func (s *Scheduler) TSS() TSS {
	return s.tss
}

// Tick is the PIT's IRQ0 handler body: spec.md §4.7's three numbered
// steps. It EOIs first, then looks for the next terminal (starting after
// the one currently executing) with at least one live process, and
// performs a context switch to that terminal's foreground process.
func (s *Scheduler) Tick() {
	pic.SendEOI(pitIRQ)

	next, ok := s.nextTerminal()
	if !ok {
		return
	}
	s.Switch(next)
}

// nextTerminal scans terminal.Count terminals starting just after the
// executing one, wrapping around, and returns the first with a live
// process. It never returns the executing terminal itself unless no other
// terminal qualifies, in which case ok is false (spec.md §4.7 step 2:
// "if none other than self, return").
func (s *Scheduler) nextTerminal() (int, bool) {
	for i := 1; i <= terminal.Count; i++ {
		t := (s.executingTerm + i) % terminal.Count
		if t == s.executingTerm {
			return 0, false
		}
		if s.procs.LiveProcessCount(t) > 0 {
			return t, true
		}
	}
	return 0, false
}

// Switch performs the context switch described in spec.md §4.7: reprogram
// the user-region PDE, flush the TLB, reconcile the vidmap PTE against
// whichever terminal is actually on-screen, update TSS.esp0, and record the
// incoming terminal as executing.
func (s *Scheduler) Switch(to int) bool {
	pcb, ok := s.procs.TopOfStack(to)
	if !ok {
		return false
	}

	s.dir.Map4MB(paging.UserVirt, pcb.UserPDE)
	s.dir.FlushTLB()

	if pcb.VidmapAddr != 0 {
		s.dir.MapUserVideoAt(paging.VidmapVirt, s.mux.VidmapTarget(to))
	} else {
		s.dir.UnmapUserVideo(paging.VidmapVirt)
	}

	s.tss.ESP0 = pcb.ESP0
	s.executingTerm = to
	trace.Debugf("SCHED", trace.SCHED, "switched to terminal %d (pid %d)", to, pcb.PID)
	return true
}
