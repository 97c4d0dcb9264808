package scheduler

import (
	"testing"

	"trikernel/internal/devices/terminal"
	"trikernel/internal/paging"
	"trikernel/internal/process"
)

type fakeHost struct{ procs *process.Table }

func (h *fakeHost) LiveProcessCount(term int) int { return h.procs.LiveProcessCount(term) }
func (h *fakeHost) HasFreePID() bool              { return h.procs.HasFreePID() }
func (h *fakeHost) SpawnShell(term int) error     { return nil }
func (h *fakeHost) RestoreVidmap(term int)        {}

func newTestScheduler() (*Scheduler, *process.Table) {
	procs := process.NewTable()
	dir := paging.NewDirectory()
	mux := terminal.NewMultiplexer(dir, &fakeHost{procs: procs})
	return NewScheduler(procs, dir, mux), procs
}

func TestBootSetsExecutingTerminalZero(t *testing.T) {
	s, _ := newTestScheduler()
	s.Boot()
	if s.ExecutingTerm() != 0 {
		t.Fatalf("expected terminal 0 after boot, got %d", s.ExecutingTerm())
	}
}

func TestTickSwitchesToNextTerminalWithLiveProcess(t *testing.T) {
	s, procs := newTestScheduler()
	s.Boot()

	pcb, err := procs.Spawn(nil, 1)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	pcb.UserPDE = 0xABCD000

	s.Tick()

	if s.ExecutingTerm() != 1 {
		t.Fatalf("expected switch to terminal 1, got %d", s.ExecutingTerm())
	}
	if s.TSS().ESP0 != pcb.ESP0 {
		t.Fatalf("expected TSS.esp0 %#x, got %#x", pcb.ESP0, s.TSS().ESP0)
	}
}

func TestTickIsNoOpWhenNoOtherTerminalHasProcesses(t *testing.T) {
	s, procs := newTestScheduler()
	s.Boot()
	if _, err := procs.Spawn(nil, 0); err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	s.Tick()

	if s.ExecutingTerm() != 0 {
		t.Fatalf("expected to remain on terminal 0, got %d", s.ExecutingTerm())
	}
}

func TestSwitchReturnsFalseForEmptyTerminal(t *testing.T) {
	s, _ := newTestScheduler()
	s.Boot()

	if s.Switch(2) {
		t.Fatalf("expected Switch to an empty terminal to fail")
	}
}

func TestSwitchPointsVidmapAtBackupPageWhenTargetTerminalNotActive(t *testing.T) {
	s, procs := newTestScheduler()
	s.Boot()

	p1, _ := procs.Spawn(nil, 1)
	p1.UserPDE = 0x1000000
	p1.VidmapAddr = paging.VidmapVirt

	// Terminal 0 stays active; switching execution to terminal 1 must not
	// point its vidmap window at real VRAM, or its writes would appear on
	// the visible terminal 0 screen.
	s.Switch(1)

	if got := s.mux.VidmapTarget(1); got == paging.VRAMPhys {
		t.Fatalf("expected terminal 1's vidmap target to be its backup page, got VRAM")
	}
}

func TestSwitchRoundRobinsAcrossMultipleLiveTerminals(t *testing.T) {
	s, procs := newTestScheduler()
	s.Boot()

	p1, _ := procs.Spawn(nil, 1)
	p1.UserPDE = 0x1000000
	p2, _ := procs.Spawn(nil, 2)
	p2.UserPDE = 0x2000000

	s.Tick()
	if s.ExecutingTerm() != 1 {
		t.Fatalf("expected first tick to land on terminal 1, got %d", s.ExecutingTerm())
	}

	s.Tick()
	if s.ExecutingTerm() != 2 {
		t.Fatalf("expected second tick to land on terminal 2, got %d", s.ExecutingTerm())
	}
}
