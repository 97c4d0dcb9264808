/*
   Paging: page directory management and the simulated physical backing
   store it maps onto.

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

// Package paging models the one kernel page directory described in the
// design: entry 0 a 4KiB table covering the first 4MiB (with VRAM at
// 0xB8000), entry 1 a 4MiB supervisor page for the kernel, a per-process 4MiB
// user entry, and two 4KiB tables servicing the vidmap window and the
// per-terminal video backup pages.
package paging

import (
	"errors"

	"trikernel/util/trace"
)

var errOutOfRange = errors.New("paging: physical address out of range")

const (
	PageSize    = 4 * 1024
	LargePage   = 4 * 1024 * 1024
	DirEntries  = 1024
	TableEnts   = 1024

	// PDE/PTE flag bits (x86 semantics).
	FlagPresent uint32 = 1 << 0
	FlagWrite   uint32 = 1 << 1
	FlagUser    uint32 = 1 << 2
	FlagLarge   uint32 = 1 << 7

	VRAMPhys uint32 = 0xB8000

	KernelVirt    uint32 = 4 * 1024 * 1024
	UserVirt      uint32 = 128 * 1024 * 1024
	VidmapVirt    uint32 = UserVirt + LargePage // 132 MiB
	UserEntryprintOffset uint32 = 0x48000

	// UserImageBase is the physical base of the per-process 4MiB image
	// region described in spec.md §4.8 ("physical 8 MiB + 4 MiB ×
	// (pid-1)"). It shares its numeric value with the *virtual* kernel
	// stack region named in spec.md §6's address table, but the two name
	// different address spaces: that table describes where kernel stacks
	// live virtually, this constant is execute()'s literal physical
	// placement formula for the loaded image.
	UserImageBase uint32 = 8 * 1024 * 1024
)

// UserImagePhys returns the physical base address of pid's loaded user
// image, per spec.md §4.8.
func UserImagePhys(pid int) uint32 {
	return UserImageBase + uint32(pid-1)*LargePage
}

// PhysicalSize is exactly large enough to hold every process's 4MiB image
// region (UserImageBase through MaxProcesses images). The terminals' video
// backup pages are not stored here; terminal.Multiplexer keeps them in its
// own buffers.
const PhysicalSize = UserImageBase + 6*LargePage

// Physical is the simulated RAM backing physical addresses: a flat byte
// slab that execute writes each loaded image into through WritePhys, and
// that the monitor's examine command reads back through ReadPhys.
type Physical struct {
	mem [PhysicalSize]byte
}

// NewPhysical returns a zeroed physical memory slab.
func NewPhysical() *Physical {
	return &Physical{}
}

// WritePhys copies data into physical memory starting at addr.
func (p *Physical) WritePhys(addr uint32, data []byte) error {
	if uint64(addr)+uint64(len(data)) > uint64(len(p.mem)) {
		return errOutOfRange
	}
	copy(p.mem[addr:], data)
	return nil
}

// ReadPhys copies len(buf) bytes from physical memory starting at addr.
func (p *Physical) ReadPhys(addr uint32, buf []byte) error {
	if uint64(addr)+uint64(len(buf)) > uint64(len(p.mem)) {
		return errOutOfRange
	}
	copy(buf, p.mem[addr:])
	return nil
}

// Directory is the single kernel-owned page directory: 1024 32-bit PDEs.
type Directory struct {
	entries [DirEntries]uint32

	// tables backs the 4KiB tables installed for entry 0 (identity/VRAM),
	// the vidmap window, and the backup-video window. Index by directory
	// index so multiple 4KiB regions can coexist without aliasing.
	tables map[uint32]*[TableEnts]uint32

	tlbFlushes int // counts FlushTLB calls, reported by TLBFlushes.
}

// NewDirectory builds the fixed identity/kernel layout described in the
// design: entry 0 is a table mapping the first 4MiB 1:1, with VRAM present;
// entry 1 is a 4MiB supervisor large page covering the kernel at 4MiB.
func NewDirectory() *Directory {
	d := &Directory{tables: make(map[uint32]*[TableEnts]uint32)}

	identity := &[TableEnts]uint32{}
	for i := 0; i < TableEnts; i++ {
		phys := uint32(i) * PageSize
		flags := FlagPresent | FlagWrite
		identity[i] = phys | flags
	}
	// VRAM page at physical 0xB8000 sits at table index 0xB8.
	identity[0xB8] = VRAMPhys | FlagPresent | FlagWrite
	d.tables[0] = identity
	d.entries[0] = FlagPresent | FlagWrite // points at the identity table.

	d.entries[1] = KernelVirt | FlagPresent | FlagWrite | FlagLarge
	return d
}

func dirIndex(virt uint32) uint32 { return virt >> 22 }

// Map4MB overwrites the directory entry for virt's 4MiB region with pde,
// per spec: used to swap the running process's user image in/out.
func (d *Directory) Map4MB(virt, pde uint32) {
	d.entries[dirIndex(virt)] = pde | FlagLarge
	trace.Debugf("PAGING", trace.PAGING, "map4mb virt %#x pde %#x", virt, pde)
}

// Entry returns the raw PDE currently installed for virt's 4MiB region.
func (d *Directory) Entry(virt uint32) uint32 {
	return d.entries[dirIndex(virt)]
}

func (d *Directory) tableFor(virt uint32, create bool) *[TableEnts]uint32 {
	idx := dirIndex(virt)
	t, ok := d.tables[idx]
	if !ok {
		if !create {
			return nil
		}
		t = &[TableEnts]uint32{}
		d.tables[idx] = t
		d.entries[idx] = FlagPresent | FlagUser | FlagWrite
	}
	return t
}

func pteIndex(virt uint32) uint32 { return (virt >> 12) & 0x3ff }

// MapUserVideo installs a 4KiB user-visible PTE at virt pointing at real
// VRAM, creating the intermediate table on demand (the vidmap syscall).
func (d *Directory) MapUserVideo(virt uint32) {
	d.MapUserVideoAt(virt, VRAMPhys)
}

// MapUserVideoAt installs a 4KiB user-visible PTE at virt pointing at an
// arbitrary physical page, creating the intermediate table on demand. Used
// to re-point a process's vidmap window at its terminal's backup page
// instead of real VRAM when that terminal is switched out.
func (d *Directory) MapUserVideoAt(virt, phys uint32) {
	t := d.tableFor(virt, true)
	t[pteIndex(virt)] = phys | FlagPresent | FlagUser | FlagWrite
}

// UnmapUserVideo clears the vidmap PTE at virt.
func (d *Directory) UnmapUserVideo(virt uint32) {
	t := d.tableFor(virt, false)
	if t == nil {
		return
	}
	t[pteIndex(virt)] = 0
}

// MapBackupVideo installs a 4KiB supervisor PTE for a per-terminal backup
// page at virt, pointing at phys.
func (d *Directory) MapBackupVideo(virt, phys uint32) {
	t := d.tableFor(virt, true)
	t[pteIndex(virt)] = phys | FlagPresent | FlagWrite
}

// FlushTLB reloads the page-directory register. There is no real TLB in
// this simulation; the call is still required at every call site the spec
// names, and is counted so tests can assert it happens.
func (d *Directory) FlushTLB() {
	d.tlbFlushes++
}

// TLBFlushes reports how many times FlushTLB has been called, for tests
// that assert the "flush before next dependent access" invariant.
func (d *Directory) TLBFlushes() int {
	return d.tlbFlushes
}
