/*
   Kernel: boots every subsystem and runs the event loop that turns
   simulated hardware ticks into IDT dispatches.

   Copyright (c) 2024, Richard Cornwell, see ../pic/pic.go for license
   text.
*/

// Package kernel wires every other internal/* package together and owns
// the run loop, structurally adapted from emu/core.Start's select over a
// done channel and an inbound event channel: here the inbound events are
// the PIT and RTC tickers instead of a telnet/IPL/master-packet union.
package kernel

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"trikernel/internal/devices/keyboard"
	"trikernel/internal/devices/pit"
	"trikernel/internal/devices/rtc"
	"trikernel/internal/devices/terminal"
	"trikernel/internal/fs"
	"trikernel/internal/idt"
	"trikernel/internal/ioport"
	"trikernel/internal/paging"
	"trikernel/internal/pic"
	"trikernel/internal/process"
	"trikernel/internal/scheduler"
	"trikernel/internal/syscall"
)

const keyboardDataPort = 0x60

// keyboardVector and pitVector sit on the master 8259; rtcVector sits on
// the slave (IRQ8 is the slave's line 0), per spec.md §6's port table.
const (
	pitVector      = idt.IRQBase + 0
	keyboardVector = idt.IRQBase + 1
	rtcVector      = int(pic.SlaveVectorBase) + 0
)

// Kernel owns every subsystem singleton and the goroutine that dispatches
// simulated hardware ticks through the IDT.
type Kernel struct {
	Procs *process.Table
	Dir   *paging.Directory
	Phys  *paging.Physical
	FS    fs.FileSystem
	Mux   *terminal.Multiplexer
	KB    *keyboard.Keyboard
	Sched *scheduler.Scheduler
	Sys   *syscall.Syscalls

	pitTicker *pit.Ticker
	rtcTicker *pit.Ticker

	wg   sync.WaitGroup
	done chan struct{}
}

// hostAdapter implements terminal.Host over a Kernel, bridging the
// multiplexer's switch procedure to the process table and the syscall
// layer's execute(). It exists because terminal.Host needs SpawnShell and
// RestoreVidmap, neither of which process.Table (the other implementer
// of most of this interface) can provide without importing syscall and
// creating a cycle.
type hostAdapter struct {
	k *Kernel
}

func (h *hostAdapter) LiveProcessCount(term int) int { return h.k.Procs.LiveProcessCount(term) }
func (h *hostAdapter) HasFreePID() bool              { return h.k.Procs.HasFreePID() }

// SpawnShell launches a fresh root shell in term. It must not block the
// caller: switchLocked holds the multiplexer's lock for the duration of
// this call, and Execute only returns once its child halts, so spawning
// runs on its own goroutine exactly like Halt's own root-shell respawn.
func (h *hostAdapter) SpawnShell(term int) error {
	go h.k.Sys.Execute(nil, term, "shell")
	return nil
}

// RestoreVidmap is a bookkeeping-only hook: switchLocked already re-points
// the incoming terminal's vidmap PTE itself just before calling this, so
// there is nothing left for the host to do here.
func (h *hostAdapter) RestoreVidmap(term int) {}

// New builds every subsystem and wires them together, but does not yet
// program any hardware or start the run loop; call Boot for that.
func New(fsys fs.FileSystem) *Kernel {
	k := &Kernel{
		Procs: process.NewTable(),
		Dir:   paging.NewDirectory(),
		Phys:  paging.NewPhysical(),
		FS:    fsys,
		done:  make(chan struct{}),
	}

	k.Mux = terminal.NewMultiplexer(k.Dir, &hostAdapter{k: k})
	k.KB = keyboard.New(k.Mux)
	k.Mux.SetKeyboard(k.KB)
	k.Sys = syscall.New(k.Procs, k.Dir, k.Phys, k.FS, k.Mux)
	k.Sched = scheduler.NewScheduler(k.Procs, k.Dir, k.Mux)
	return k
}

// Boot programs the PIC and IDT, starts the PIT and RTC heartbeats, spawns
// the initial root shell in terminal 0, and starts the run loop.
func (k *Kernel) Boot() {
	ioport.Reset()
	pic.Init()
	idt.Reset()
	idt.InstallExceptions(k.onException)
	idt.Install(pitVector, func(int) { k.Sched.Tick() }, 0, false)
	idt.Install(keyboardVector, k.handleKeyboardIRQ, 0, false)
	idt.Install(rtcVector, k.handleRTCIRQ, 0, false)
	idt.Install(idt.SyscallVector, k.handleSyscallTrap, 3, true)

	rtc.Init()
	pic.EnableIRQ(0) // PIT
	pic.EnableIRQ(1) // keyboard
	pic.EnableIRQ(2) // cascade, required for any slave IRQ to reach the CPU
	pic.EnableIRQ(8) // RTC

	k.Sched.Boot()

	k.pitTicker = pit.NewTicker(pit.DefaultHz)
	k.rtcTicker = pit.NewTicker(rtc.HardwareHz)
	k.pitTicker.Start()
	k.rtcTicker.Start()

	k.wg.Add(1)
	go k.run()

	go k.Sys.Execute(nil, 0, "shell")
}

// Stop tears down both tickers and the run loop, waiting up to a second.
func (k *Kernel) Stop() {
	close(k.done)
	k.pitTicker.Shutdown()
	k.rtcTicker.Shutdown()

	done := make(chan struct{})
	go func() {
		k.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		slog.Warn("timed out waiting for kernel run loop to stop")
	}
}

// run turns simulated hardware ticks into IDT dispatches, the same
// packet-switch shape emu/core.Start uses for its master channel.
func (k *Kernel) run() {
	defer k.wg.Done()
	for {
		select {
		case <-k.done:
			return
		case <-k.pitTicker.Ticks:
			idt.Dispatch(pitVector)
		case <-k.rtcTicker.Ticks:
			idt.Dispatch(rtcVector)
		}
	}
}

// InjectKey simulates a hardware IRQ1 firing with a raw set-1 scan code:
// the byte lands on the keyboard data port exactly as a real keyboard
// would drive it, then the IDT is dispatched as if the CPU had vectored
// through the PIC.
func (k *Kernel) InjectKey(code byte) {
	ioport.Out(keyboardDataPort, code)
	idt.Dispatch(keyboardVector)
}

func (k *Kernel) handleKeyboardIRQ(int) {
	code := ioport.In(keyboardDataPort)
	k.KB.HandleScancode(code)
	pic.SendEOI(1)
}

func (k *Kernel) handleRTCIRQ(int) {
	rtc.HandleIRQ()
	pic.SendEOI(8)
}

// handleSyscallTrap is the vector 0x80 install site spec.md §4.3 names.
// The argument marshalling it would perform on a real trap frame is the
// out-of-scope assembly trampoline (spec.md §1); callers that want an
// actual syscall effect call the *syscall.Syscalls methods directly, the
// same boundary spec.md draws around "low-level assembly trampolines...
// specified only by what they must save/restore".
func (k *Kernel) handleSyscallTrap(vector int) {
	slog.Debug("syscall trap", "vector", fmt.Sprintf("%#x", vector))
}

// onException is installed for all 19 exception vectors: it logs the
// one-line diagnostic spec.md §4.3 calls for, sets the executing
// process's retval to the exception sentinel, and halts it. Rather than
// the literal "invoke halt(0)" text, it calls Halt with the sentinel
// status directly, since halt(0) would overwrite retval back to 0 right
// after setting it to 256.
func (k *Kernel) onException(vector int, mnemonic string, faultAddr uint32) {
	term := k.Sched.ExecutingTerm()
	pcb, ok := k.Procs.TopOfStack(term)
	if !ok {
		slog.Warn("exception with no executing process", "vector", vector, "mnemonic", mnemonic)
		return
	}
	if mnemonic == "PAGE FAULT" {
		slog.Error("EXCEPT", "vector", vector, "mnemonic", mnemonic, "fault_addr", fmt.Sprintf("%#x", faultAddr))
	} else {
		slog.Error("EXCEPT", "vector", vector, "mnemonic", mnemonic)
	}
	k.Sys.Halt(pcb, process.ExceptionRetval)
}
