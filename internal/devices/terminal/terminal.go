/*
   Terminal multiplexer: three VGA-text terminals sharing one physical
   screen, exactly one of them visible at a time.

   Copyright (c) 2024, Richard Cornwell, see ../../pic/pic.go for license
   text.
*/

// Package terminal owns the three terminal line disciplines and the
// video-backup-page aliasing swap described in the design. It implements
// keyboard.Console so the keyboard driver can echo and request a switch
// without importing this package back.
package terminal

import (
	"errors"
	"sync"

	"trikernel/internal/devices/keyboard"
	"trikernel/internal/driver"
	"trikernel/internal/paging"
	"trikernel/internal/pic"
	"trikernel/util/trace"
)

// errNoFreePID is returned by SwitchActiveTerminal when the target
// terminal has no live process and no PID is free to start one.
var errNoFreePID = errors.New("terminal: no free pid to spawn a shell on switch")

const (
	Count   = 3
	Cols    = 80
	Rows    = 25
	cellLen = Cols * Rows * 2 // character + attribute byte per cell

	defaultAttr = 0x07 // light grey on black, the BIOS default

	keyboardIRQ = 1
)

// backupVirtBase is the first of Count consecutive 4KiB virtual pages used
// as each terminal's private backup-mapping window, sitting just past the
// kernel's own 4MiB large page.
const backupVirtBase = paging.KernelVirt + paging.LargePage

// backupPhysBase is a synthetic physical base for the Count backup pages;
// there is no real RAM behind it, only the Terminal.backup buffer.
const backupPhysBase = 0x200000

// Host is the process-table surface the multiplexer needs to complete a
// terminal switch: whether a new shell could be spawned, spawning one, and
// restoring the incoming terminal's foreground process's vidmap mapping.
type Host interface {
	LiveProcessCount(term int) int
	HasFreePID() bool
	SpawnShell(term int) error
	RestoreVidmap(term int)
}

// Terminal is one virtual screen: its own cursor, attribute byte, and
// backup page. Only the active terminal's backup mapping is aliased onto
// physical VRAM; the others hold their last-rendered frame.
type Terminal struct {
	id       int
	cursor   int // cell index, 0..Rows*Cols-1
	attr     byte
	backup   [cellLen]byte
	virtAddr uint32
	physAddr uint32

	vidmapInstalled bool
}

// Multiplexer owns all three terminals, the single physical VRAM buffer,
// and the index of the one terminal currently aliased onto it.
type Multiplexer struct {
	mu     sync.Mutex
	dir    *paging.Directory
	kb     *keyboard.Keyboard
	host   Host
	terms  [Count]*Terminal
	active int
	vram   [cellLen]byte
}

// NewMultiplexer builds the three terminals and installs terminal 0's
// backup mapping onto real VRAM, matching the boot-time state: one
// terminal visible, none of the others yet rendered.
func NewMultiplexer(dir *paging.Directory, host Host) *Multiplexer {
	m := &Multiplexer{dir: dir, host: host}
	for i := 0; i < Count; i++ {
		t := &Terminal{
			id:       i,
			attr:     defaultAttr,
			virtAddr: backupVirtBase + uint32(i)*paging.PageSize,
			physAddr: backupPhysBase + uint32(i)*paging.PageSize,
		}
		for c := 0; c < cellLen; c += 2 {
			t.backup[c] = ' '
			t.backup[c+1] = defaultAttr
		}
		m.terms[i] = t
	}
	for c := 0; c < cellLen; c += 2 {
		m.vram[c] = ' '
		m.vram[c+1] = defaultAttr
	}
	dir.MapBackupVideo(m.terms[0].virtAddr, paging.VRAMPhys)
	return m
}

// SetKeyboard completes the two-phase wiring keyboard.New(mux) requires:
// the multiplexer must exist before the keyboard driver can be built, and
// the keyboard driver must exist before the multiplexer can delegate reads
// to it.
func (m *Multiplexer) SetKeyboard(kb *keyboard.Keyboard) {
	m.kb = kb
}

// ActiveTerminal implements keyboard.Console.
func (m *Multiplexer) ActiveTerminal() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Putc implements keyboard.Console and is also terminal_write's inner
// primitive: it writes one character to whichever physical page term's
// output currently targets. Writes to the active terminal land on VRAM;
// writes to any other terminal land on that terminal's backup buffer.
func (m *Multiplexer) Putc(term int, ch byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.terms[term]
	dest := &t.backup
	if term == m.active {
		dest = &m.vram
	}

	switch ch {
	case '\n':
		t.cursor = (t.cursor/Cols + 1) * Cols
	case '\b':
		if t.cursor > 0 {
			t.cursor--
			dest[t.cursor*2] = ' '
			dest[t.cursor*2+1] = t.attr
		}
	default:
		dest[t.cursor*2] = ch
		dest[t.cursor*2+1] = t.attr
		t.cursor++
	}
	if t.cursor >= Rows*Cols {
		m.scroll(dest, t)
	}
}

func (m *Multiplexer) scroll(dest *[cellLen]byte, t *Terminal) {
	copy(dest[:], dest[Cols*2:])
	for c := (Rows - 1) * Cols * 2; c < cellLen; c += 2 {
		dest[c] = ' '
		dest[c+1] = t.attr
	}
	t.cursor -= Cols
}

// clearScreen blanks term's currently-visible buffer and resets its
// cursor, used by terminal_read's CTRL+L handling.
func (m *Multiplexer) clearScreen(term int) {
	t := m.terms[term]
	dest := &t.backup
	if term == m.active {
		dest = &m.vram
	}
	for c := 0; c < cellLen; c += 2 {
		dest[c] = ' '
		dest[c+1] = t.attr
	}
	t.cursor = 0
}

// SwitchActiveTerminal implements keyboard.Console and the ALT-Fn gesture;
// it is the six-step procedure described in the design.
func (m *Multiplexer) SwitchActiveTerminal(to int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.switchLocked(to)
}

func (m *Multiplexer) switchLocked(to int) error {
	from := m.active
	if to == from {
		return nil
	}
	if m.host.LiveProcessCount(to) == 0 && !m.host.HasFreePID() {
		return errNoFreePID
	}

	fromTerm := m.terms[from]
	m.dir.MapBackupVideo(fromTerm.virtAddr, fromTerm.physAddr)
	copy(fromTerm.backup[:], m.vram[:])
	if fromTerm.vidmapInstalled {
		m.dir.MapUserVideoAt(paging.VidmapVirt, fromTerm.physAddr)
	}

	m.active = to
	trace.Debugf("TERM", trace.TERM, "active terminal %d -> %d", from, to)
	toTerm := m.terms[to]
	copy(m.vram[:], toTerm.backup[:])
	m.dir.MapBackupVideo(toTerm.virtAddr, paging.VRAMPhys)
	m.dir.FlushTLB()

	if m.host.LiveProcessCount(to) == 0 {
		return m.host.SpawnShell(to)
	}
	if toTerm.vidmapInstalled {
		m.dir.MapUserVideoAt(paging.VidmapVirt, paging.VRAMPhys)
	}
	m.host.RestoreVidmap(to)
	return nil
}

// VidmapTarget returns the physical page term's vidmap window should be
// pointed at right now: real VRAM if term is the one currently on-screen,
// otherwise term's own backup page. A scheduler context switch into a
// background terminal must consult this instead of assuming VRAM, or a
// vidmap write from a terminal that isn't visible would leak onto whatever
// terminal is.
func (m *Multiplexer) VidmapTarget(term int) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if term == m.active {
		return paging.VRAMPhys
	}
	return m.terms[term].physAddr
}

// SetVidmapInstalled records whether term's foreground process currently
// has a vidmap mapping, so a later switch knows whether to re-point it.
func (m *Multiplexer) SetVidmapInstalled(term int, installed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.terms[term].vidmapInstalled = installed
}

// TerminalRead is terminal_read: delegate to keyboard_read for the
// executing terminal, then special-case a leading CTRL+L.
func (m *Multiplexer) TerminalRead(term int, buf []byte) (int, error) {
	n, err := m.kb.Read(term, buf)
	if err != nil {
		return n, err
	}
	if n > 0 && buf[0] == keyboard.CtrlL {
		m.mu.Lock()
		m.clearScreen(term)
		m.mu.Unlock()
		return 0, nil
	}
	return n, nil
}

// TerminalWrite is terminal_write: mask the keyboard IRQ for the duration
// of the write so the line-buffer assembly in the keyboard driver cannot
// interleave with it, then push every byte through Putc.
func (m *Multiplexer) TerminalWrite(term int, buf []byte) (int, error) {
	pic.DisableIRQ(keyboardIRQ)
	defer pic.EnableIRQ(keyboardIRQ)
	for _, b := range buf {
		m.Putc(term, b)
	}
	return len(buf), nil
}

// File is a terminal file descriptor, fixed to the terminal owned by the
// process that opened it (fds 0 and 1 at execute time).
type File struct {
	driver.Unsupported
	mux  *Multiplexer
	term int
}

// NewFile returns a terminal file descriptor bound to term.
func NewFile(mux *Multiplexer, term int) *File {
	return &File{mux: mux, term: term}
}

// Open is a no-op, per spec.
func (f *File) Open(string) error { return nil }

// Close is a no-op, per spec.
func (f *File) Close() error { return nil }

func (f *File) Read(buf []byte) (int, error) { return f.mux.TerminalRead(f.term, buf) }

func (f *File) Write(buf []byte) (int, error) { return f.mux.TerminalWrite(f.term, buf) }
