/*
   Syscall layer: the ten system calls, execute/halt's process lifecycle,
   and ELF image loading.

   Copyright (c) 2024, Richard Cornwell, see ../pic/pic.go for license
   text.
*/

// Package syscall implements the handlers behind int 0x80, exactly the
// set spec.md §4.8 and §6 name. The trap-frame argument marshalling that
// would normally sit in front of these handlers is an assembly trampoline
// spec.md §1 explicitly puts out of scope ("specified only by what they
// must save/restore"); this package exposes the post-marshalled handlers
// directly with Go-typed arguments instead of raw trap-frame registers.
//
// There is no x86 instruction interpreter in this simulation (running the
// loaded image is out of scope the same way), so execute() does not
// transfer control to the entrypoint it validates and records. Instead it
// blocks on the child PCB's HaltCh, the stand-in this repo uses wherever
// the design calls for "control returns to the parent once the child
// halts" (see process.PCB.HaltCh).
package syscall

import (
	"bytes"
	"encoding/binary"
	"errors"
	"log/slog"
	"strings"

	"trikernel/internal/devices/rtc"
	"trikernel/internal/devices/terminal"
	"trikernel/internal/driver"
	"trikernel/internal/fs"
	"trikernel/internal/paging"
	"trikernel/internal/process"
	"trikernel/util/trace"
)

// Syscall numbers, register-encoded per spec.md §6.
const (
	SysHalt       = 1
	SysExecute    = 2
	SysRead       = 3
	SysWrite      = 4
	SysOpen       = 5
	SysClose      = 6
	SysGetArgs    = 7
	SysVidmap     = 8
	SysSetHandler = 9
	SysSigreturn  = 10
)

var (
	errEmptyCommand = errors.New("syscall: empty command")
	errNameTooLong  = errors.New("syscall: filename exceeds 32 bytes")
	errBadELF       = errors.New("syscall: not an ELF image")

	elfMagic = []byte{0x7F, 'E', 'L', 'F'}
)

const maxNameLen = 32

// Syscalls holds every subsystem the handlers dispatch into: the process
// table, the single page directory and its physical backing, the
// consumed file system, and the terminal multiplexer fds 0/1 bind to.
type Syscalls struct {
	Procs *process.Table
	Dir   *paging.Directory
	Phys  *paging.Physical
	FS    fs.FileSystem
	Mux   *terminal.Multiplexer
}

// New wires a Syscalls instance to its subsystems.
func New(procs *process.Table, dir *paging.Directory, phys *paging.Physical, fsys fs.FileSystem, mux *terminal.Multiplexer) *Syscalls {
	return &Syscalls{Procs: procs, Dir: dir, Phys: phys, FS: fsys, Mux: mux}
}

// parseCommand splits a command line into its leading filename (max 32
// bytes) and the remaining, trimmed argument bytes, per spec.md §4.8.
func parseCommand(cmdline string) (name, args string, err error) {
	cmdline = strings.TrimSpace(cmdline)
	if cmdline == "" {
		return "", "", errEmptyCommand
	}
	parts := strings.SplitN(cmdline, " ", 2)
	name = parts[0]
	if len(name) > maxNameLen {
		return "", "", errNameTooLong
	}
	if len(parts) == 2 {
		args = strings.TrimSpace(parts[1])
		if len(args) > process.ArgsLength {
			args = args[:process.ArgsLength]
		}
	}
	return name, args, nil
}

// readWholeFile drains inode through repeated ReadData calls until a
// zero-byte read signals EOF, since fs.FileSystem only offers a
// positioned, bounded read primitive.
func readWholeFile(fsys fs.FileSystem, inode int) ([]byte, error) {
	var out []byte
	buf := make([]byte, 1024)
	offset := 0
	for {
		n, err := fsys.ReadData(inode, offset, buf)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return out, nil
		}
		out = append(out, buf[:n]...)
		offset += n
	}
}

// validateELF checks the four-byte magic and reads the entrypoint at file
// offset 24, per spec.md §6. No program-header processing is performed.
func validateELF(data []byte) (entry uint32, err error) {
	if len(data) < 28 || !bytes.Equal(data[:4], elfMagic) {
		return 0, errBadELF
	}
	return binary.LittleEndian.Uint32(data[24:28]), nil
}

// Execute is execute(command): resolve, validate, load, and spawn, then
// block until the child halts. parent is nil for a freshly (re)spawned
// root shell. Returns the child's exit status, or -1 on any validation
// failure (spec.md §4.8's failure model).
func (s *Syscalls) Execute(parent *process.PCB, term int, cmdline string) int32 {
	name, args, err := parseCommand(cmdline)
	if err != nil {
		return -1
	}

	dentry, err := s.FS.ReadDentryByName(name)
	if err != nil {
		return -1
	}
	if dentry.Type != fs.TypeNormal {
		return -1
	}

	data, err := readWholeFile(s.FS, dentry.Inode)
	if err != nil {
		return -1
	}
	entry, err := validateELF(data)
	if err != nil {
		return -1
	}

	if !s.Procs.HasFreePID() {
		return -1
	}
	pcb, err := s.Procs.Spawn(parent, term)
	if err != nil {
		return -1
	}

	phys := paging.UserImagePhys(pcb.PID)
	pde := phys | paging.FlagPresent | paging.FlagUser | paging.FlagWrite
	s.Dir.Map4MB(paging.UserVirt, pde)
	s.Dir.FlushTLB()

	if err := s.Phys.WritePhys(phys+paging.UserEntryprintOffset, data); err != nil {
		s.Procs.Exit(pcb)
		return -1
	}

	pcb.UserPDE = pde
	pcb.UserVirtAddr = paging.UserVirt
	pcb.ArgsLength = copy(pcb.Args[:], args)

	pcb.FDs[process.FDStdin] = process.FD{Ops: terminal.NewFile(s.Mux, term), InUse: true, Type: driver.TypeStdin}
	pcb.FDs[process.FDStdout] = process.FD{Ops: terminal.NewFile(s.Mux, term), InUse: true, Type: driver.TypeStdout}

	// entry would seed EIP in the IRET frame a real trampoline pushes; it
	// is only recorded for diagnostics here since nothing in this
	// simulation executes the loaded image.
	slog.Debug("execute", "pid", pcb.PID, "name", name, "entry", entry)

	return <-pcb.HaltCh
}

// Halt is halt(status): it is the only way (besides an exception) a
// process terminates. Cleans up fds, the vidmap mapping, the pid, and the
// terminal's process count, restores the parent's page mapping, then
// unblocks the parent's pending Execute call. A halted process with no
// parent is the root shell; per the published-contract resolution of
// spec.md §9's open question, it is unconditionally re-executed in the
// same terminal.
func (s *Syscalls) Halt(pcb *process.PCB, status int32) {
	for i := range pcb.FDs {
		fd := &pcb.FDs[i]
		if fd.InUse && fd.Ops != nil {
			fd.Ops.Close()
		}
		*fd = process.FD{}
	}

	if pcb.VidmapAddr != 0 {
		s.Dir.UnmapUserVideo(paging.VidmapVirt)
		s.Dir.FlushTLB()
		s.Mux.SetVidmapInstalled(pcb.Terminal, false)
	}

	parent := pcb.Parent
	term := pcb.Terminal
	pcb.Retval = status
	trace.Debugf("SYSCALL", trace.SYSCALL, "halt pid %d status %d", pcb.PID, status)
	s.Procs.Exit(pcb)

	if parent != nil {
		s.Dir.Map4MB(paging.UserVirt, parent.UserPDE)
		s.Dir.FlushTLB()
	}

	select {
	case pcb.HaltCh <- status:
	default:
	}

	if parent == nil {
		go s.Execute(nil, term, "shell")
	}
}

// Read is read(fd, buf): dispatches through the fd's ops.
func (s *Syscalls) Read(pcb *process.PCB, fd int, buf []byte) int32 {
	if fd < 0 || fd >= process.MaxOpenFiles || !pcb.FDs[fd].InUse {
		return -1
	}
	n, err := pcb.FDs[fd].Ops.Read(buf)
	if err != nil {
		return -1
	}
	return int32(n)
}

// Write is write(fd, buf): dispatches through the fd's ops.
func (s *Syscalls) Write(pcb *process.PCB, fd int, buf []byte) int32 {
	if fd < 0 || fd >= process.MaxOpenFiles || !pcb.FDs[fd].InUse {
		return -1
	}
	n, err := pcb.FDs[fd].Ops.Write(buf)
	if err != nil {
		return -1
	}
	return int32(n)
}

// Open is open(name): resolves name in the file system, builds the
// matching ops for its type, and installs it at the first free fd ≥ 2.
func (s *Syscalls) Open(pcb *process.PCB, name string) int32 {
	dentry, err := s.FS.ReadDentryByName(name)
	if err != nil {
		return -1
	}

	var ops driver.FileOps
	var typ driver.Type
	switch dentry.Type {
	case fs.TypeNormal:
		ops = fs.NewNormalFile(s.FS, dentry.Inode)
		typ = driver.TypeNormal
	case fs.TypeDir:
		memfs, ok := s.FS.(*fs.MemFS)
		if !ok {
			return -1
		}
		ops = fs.NewDirFile(memfs)
		typ = driver.TypeDir
	case fs.TypeRTC:
		ops = rtc.NewFile()
		typ = driver.TypeRTC
	default:
		return -1
	}

	fd, err := pcb.OpenFD(ops, typ, dentry.Inode)
	if err != nil {
		return -1
	}
	return int32(fd)
}

// Close is close(fd): refuses fds 0 and 1, per process.PCB.CloseFD.
func (s *Syscalls) Close(pcb *process.PCB, fd int) int32 {
	if fd < 0 || fd >= process.MaxOpenFiles || !pcb.FDs[fd].InUse {
		return -1
	}
	ops := pcb.FDs[fd].Ops
	if err := pcb.CloseFD(fd); err != nil {
		return -1
	}
	if ops != nil {
		ops.Close()
	}
	return 0
}

// GetArgs is getargs(buf, n): fails if n is too small for the stored
// args plus a trailing NUL, or if addr falls outside the user image's
// 4MiB virtual region. addr is a purely symbolic stand-in for the real
// pointer spec.md validates; there is no addressable user memory in this
// simulation, so the destination is the caller-supplied buf.
func (s *Syscalls) GetArgs(pcb *process.PCB, addr uint32, buf []byte) int32 {
	if addr < paging.UserVirt || addr >= paging.UserVirt+paging.LargePage {
		return -1
	}
	if len(buf) < pcb.ArgsLength+1 {
		return -1
	}
	copy(buf, pcb.Args[:pcb.ArgsLength])
	buf[pcb.ArgsLength] = 0
	return 0
}

// Vidmap is vidmap(out): maps a single 4KiB user-visible VRAM window and
// records it in the PCB. addr is the symbolic stand-in described in
// GetArgs; it must fall in the user image's 4MiB region.
func (s *Syscalls) Vidmap(pcb *process.PCB, addr uint32) (mapped uint32, status int32) {
	if addr < paging.UserVirt || addr >= paging.UserVirt+paging.LargePage {
		return 0, -1
	}
	s.Dir.MapUserVideo(paging.VidmapVirt)
	s.Dir.FlushTLB()
	pcb.VidmapAddr = paging.VidmapVirt
	pcb.VidmapPTE = paging.VRAMPhys | paging.FlagPresent | paging.FlagUser | paging.FlagWrite
	s.Mux.SetVidmapInstalled(pcb.Terminal, true)
	return paging.VidmapVirt, 0
}

// SetHandler and Sigreturn are present for surface parity only, per
// spec.md §4.8; neither has an effect.
func (s *Syscalls) SetHandler(*process.PCB, int, uint32) int32 { return 0 }
func (s *Syscalls) Sigreturn(*process.PCB) int32               { return 0 }
