package syscall

import (
	"encoding/binary"
	"testing"
	"time"

	"trikernel/internal/devices/terminal"
	"trikernel/internal/fs"
	"trikernel/internal/paging"
	"trikernel/internal/process"
)

// fakeHost satisfies terminal.Host with just enough behavior for these
// tests: it reports the real process table's counts and treats shell
// spawning and vidmap restoration as no-ops, since no test here exercises
// terminal switching.
type fakeHost struct{ procs *process.Table }

func (h *fakeHost) LiveProcessCount(term int) int { return h.procs.LiveProcessCount(term) }
func (h *fakeHost) HasFreePID() bool              { return h.procs.HasFreePID() }
func (h *fakeHost) SpawnShell(term int) error     { return nil }
func (h *fakeHost) RestoreVidmap(term int)        {}

func elfImage(entry uint32, body string) []byte {
	data := make([]byte, 28+len(body))
	copy(data, []byte{0x7F, 'E', 'L', 'F'})
	binary.LittleEndian.PutUint32(data[24:28], entry)
	copy(data[28:], body)
	return data
}

func newTestSyscalls(t *testing.T) (*Syscalls, *fs.MemFS) {
	t.Helper()
	procs := process.NewTable()
	dir := paging.NewDirectory()
	phys := paging.NewPhysical()
	memfs := fs.NewMemFS()
	memfs.AddFile("shell", elfImage(0x1000, "shell body"))

	host := &fakeHost{procs: procs}
	mux := terminal.NewMultiplexer(dir, host)
	return New(procs, dir, phys, memfs, mux), memfs
}

func TestExecuteValidatesCommand(t *testing.T) {
	s, _ := newTestSyscalls(t)
	if status := s.Execute(nil, 0, "   "); status != -1 {
		t.Fatalf("expected -1 for empty command, got %d", status)
	}
	if status := s.Execute(nil, 0, "doesnotexist"); status != -1 {
		t.Fatalf("expected -1 for missing file, got %d", status)
	}
}

func TestExecuteRejectsNonELF(t *testing.T) {
	s, memfs := newTestSyscalls(t)
	memfs.AddFile("notelf", []byte("not an elf at all"))
	if status := s.Execute(nil, 0, "notelf"); status != -1 {
		t.Fatalf("expected -1 for non-ELF file, got %d", status)
	}
}

func TestExecuteRejectsDirectoryType(t *testing.T) {
	s, _ := newTestSyscalls(t)
	if status := s.Execute(nil, 0, "."); status != -1 {
		t.Fatalf("expected -1 executing a directory dentry, got %d", status)
	}
}

// waitForChild polls until term has a foreground process, for tests that
// need the spawned child's PCB before calling Halt on it. Execute blocks
// past the point the PCB is installed, so a short poll is reliable.
func waitForChild(t *testing.T, procs *process.Table, term int) *process.PCB {
	t.Helper()
	for i := 0; i < 200; i++ {
		if pcb, ok := procs.TopOfStack(term); ok && pcb.UserVirtAddr != 0 {
			return pcb
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("no fully-loaded child appeared in terminal %d", term)
	return nil
}

func TestExecuteBlocksUntilHaltAndReturnsStatus(t *testing.T) {
	s, _ := newTestSyscalls(t)
	result := make(chan int32, 1)
	go func() { result <- s.Execute(nil, 0, "shell") }()

	child := waitForChild(t, s.Procs, 0)
	if child.UserVirtAddr != paging.UserVirt {
		t.Fatalf("expected user image mapped at %#x, got %#x", paging.UserVirt, child.UserVirtAddr)
	}

	s.Halt(child, 42)

	select {
	case status := <-result:
		if status != 42 {
			t.Fatalf("expected Execute to return 42, got %d", status)
		}
	case <-time.After(time.Second):
		t.Fatalf("Execute never returned after Halt")
	}

	// The halted child was a root shell, so Halt respawns one that may reuse
	// the freed pid; the halted PCB itself must be gone from the table.
	if p, ok := s.Procs.Get(child.PID); ok && p == child {
		t.Fatalf("expected halted pcb removed from table")
	}
}

func TestHaltRespawnsRootShell(t *testing.T) {
	s, _ := newTestSyscalls(t)
	root, err := s.Procs.Spawn(nil, 1)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	s.Halt(root, 0)

	for i := 0; i < 100; i++ {
		if s.Procs.LiveProcessCount(1) == 1 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("expected a fresh root shell spawned in terminal 1 after halt")
}

func TestOpenReadCloseNormalFile(t *testing.T) {
	s, memfs := newTestSyscalls(t)
	memfs.AddFile("data.txt", []byte("hi"))
	pcb := &process.PCB{}

	fd := s.Open(pcb, "data.txt")
	if fd != 2 {
		t.Fatalf("expected first free fd 2, got %d", fd)
	}

	buf := make([]byte, 2)
	n := s.Read(pcb, int(fd), buf)
	if n != 2 || string(buf) != "hi" {
		t.Fatalf("expected to read \"hi\", got %q n=%d", buf, n)
	}

	if status := s.Close(pcb, int(fd)); status != 0 {
		t.Fatalf("expected Close to succeed, got %d", status)
	}
	if status := s.Close(pcb, int(fd)); status != -1 {
		t.Fatalf("expected double-close to fail, got %d", status)
	}
}

func TestOpenUnknownFileFails(t *testing.T) {
	s, _ := newTestSyscalls(t)
	pcb := &process.PCB{}
	if fd := s.Open(pcb, "nope"); fd != -1 {
		t.Fatalf("expected -1 opening an unknown file, got %d", fd)
	}
}

func TestCloseRefusesStdio(t *testing.T) {
	s, _ := newTestSyscalls(t)
	pcb := &process.PCB{}
	pcb.FDs[process.FDStdin] = process.FD{InUse: true}
	if status := s.Close(pcb, process.FDStdin); status != -1 {
		t.Fatalf("expected closing stdin to fail, got %d", status)
	}
}

func TestGetArgsBoundsChecking(t *testing.T) {
	s, _ := newTestSyscalls(t)
	pcb := &process.PCB{}
	pcb.ArgsLength = copy(pcb.Args[:], "abc")

	if status := s.GetArgs(pcb, 0, make([]byte, 16)); status != -1 {
		t.Fatalf("expected -1 for out-of-range addr, got %d", status)
	}

	tooSmall := make([]byte, 2)
	if status := s.GetArgs(pcb, paging.UserVirt, tooSmall); status != -1 {
		t.Fatalf("expected -1 for undersized buffer, got %d", status)
	}

	buf := make([]byte, 16)
	if status := s.GetArgs(pcb, paging.UserVirt, buf); status != 0 {
		t.Fatalf("expected 0, got %d", status)
	}
	if string(buf[:3]) != "abc" || buf[3] != 0 {
		t.Fatalf("expected NUL-terminated \"abc\", got %q", buf[:4])
	}
}

func TestVidmapRejectsOutOfRangeAddr(t *testing.T) {
	s, _ := newTestSyscalls(t)
	pcb := &process.PCB{}
	if _, status := s.Vidmap(pcb, 0); status != -1 {
		t.Fatalf("expected -1 for out-of-range addr, got %d", status)
	}
}

func TestVidmapInstallsMapping(t *testing.T) {
	s, _ := newTestSyscalls(t)
	pcb := &process.PCB{}
	addr, status := s.Vidmap(pcb, paging.UserVirt)
	if status != 0 || addr != paging.VidmapVirt {
		t.Fatalf("expected success at %#x, got addr=%#x status=%d", paging.VidmapVirt, addr, status)
	}
	if pcb.VidmapAddr != paging.VidmapVirt {
		t.Fatalf("expected pcb.VidmapAddr recorded, got %#x", pcb.VidmapAddr)
	}
}
