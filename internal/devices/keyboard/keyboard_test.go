package keyboard

import (
	"sync"
	"testing"
	"time"
)

type fakeConsole struct {
	mu       sync.Mutex
	active   int
	echoed   []byte
	switched []int
}

func (f *fakeConsole) Putc(_ int, ch byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.echoed = append(f.echoed, ch)
}

func (f *fakeConsole) ActiveTerminal() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

func (f *fakeConsole) SwitchActiveTerminal(to int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.switched = append(f.switched, to)
	f.active = to
	return nil
}

func press(k *Keyboard, code byte) {
	k.HandleScancode(code)
	k.HandleScancode(code | releaseBit)
}

func TestReadAssemblesLineAndEchoes(t *testing.T) {
	c := &fakeConsole{}
	k := New(c)

	buf := make([]byte, LineSize)
	n := 0
	var readErr error
	done := make(chan struct{})
	go func() { n, readErr = k.Read(0, buf); close(done) }()

	time.Sleep(10 * time.Millisecond) // let Read arm read_ack first

	for _, code := range []byte{0x23, 0x12, 0x1e} { // h, e, a -> lowercase "hea"... see table
		press(k, code)
	}
	press(k, scEnter)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Read did not return after ENTER")
	}
	if readErr != nil {
		t.Fatalf("Read: %v", readErr)
	}
	want := "hea\n"
	if string(buf[:n]) != want {
		t.Fatalf("got %q, want %q", buf[:n], want)
	}
	if string(c.echoed) != want {
		t.Fatalf("echoed %q, want %q", c.echoed, want)
	}
}

func TestBackspaceRemovesLastChar(t *testing.T) {
	c := &fakeConsole{}
	k := New(c)
	buf := make([]byte, LineSize)
	n := 0
	done := make(chan struct{})
	go func() { n, _ = k.Read(0, buf); close(done) }()
	time.Sleep(10 * time.Millisecond)

	press(k, 0x1e) // a
	press(k, 0x1f) // s
	press(k, scBackspace)
	press(k, scEnter)

	<-done
	if len(c.echoed) == 0 || c.echoed[len(c.echoed)-2] != '\b' {
		t.Fatalf("expected backspace to echo, got %q", c.echoed)
	}
	if string(buf[:n]) != "a\n" {
		t.Fatalf("expected backspace to drop 's' from the line, got %q", buf[:n])
	}
}

func TestTabInsertsOneSpace(t *testing.T) {
	c := &fakeConsole{}
	k := New(c)
	buf := make([]byte, LineSize)
	n := 0
	done := make(chan struct{})
	go func() { n, _ = k.Read(0, buf); close(done) }()
	time.Sleep(10 * time.Millisecond)

	press(k, scTab)
	press(k, scEnter)
	<-done

	if string(buf[:n]) != " \n" {
		t.Fatalf("expected a single space then newline, got %q", buf[:n])
	}
}

func TestCtrlLProducesSentinelByte(t *testing.T) {
	c := &fakeConsole{}
	k := New(c)
	buf := make([]byte, LineSize)
	n := 0
	done := make(chan struct{})
	go func() { n, _ = k.Read(0, buf); close(done) }()
	time.Sleep(10 * time.Millisecond)

	k.HandleScancode(scCtrl)
	press(k, scL)
	k.HandleScancode(scCtrl | releaseBit)

	<-done
	if n != 1 || buf[0] != CtrlL {
		t.Fatalf("expected a single CtrlL sentinel byte, got %v", buf[:n])
	}
}

func TestAltF2SwitchesActiveTerminalWithoutBuffering(t *testing.T) {
	c := &fakeConsole{}
	k := New(c)

	k.HandleScancode(scAlt)
	press(k, scF2)
	k.HandleScancode(scAlt | releaseBit)

	if len(c.switched) != 1 || c.switched[0] != 1 {
		t.Fatalf("expected a switch to terminal 1, got %v", c.switched)
	}
}

func TestLineForcesNewlineAtCapacity(t *testing.T) {
	c := &fakeConsole{}
	k := New(c)
	buf := make([]byte, LineSize)
	n := 0
	done := make(chan struct{})
	go func() { n, _ = k.Read(0, buf); close(done) }()
	time.Sleep(10 * time.Millisecond)

	for i := 0; i < LineSize-1; i++ {
		press(k, 0x1e) // 'a'
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("expected buffer-full to force a newline and wake the reader")
	}
	if n != LineSize || buf[n-1] != '\n' {
		t.Fatalf("expected a forced trailing newline at capacity, got n=%d last=%q", n, buf[n-1])
	}
}
