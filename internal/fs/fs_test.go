package fs

import "testing"

func TestMemFSReadDentryByName(t *testing.T) {
	m := NewMemFS()
	m.AddFile("shell", []byte("hello"))

	d, err := m.ReadDentryByName("shell")
	if err != nil {
		t.Fatalf("ReadDentryByName: %v", err)
	}
	if d.Type != TypeNormal || d.Inode != 0 {
		t.Fatalf("unexpected dentry: %+v", d)
	}

	if _, err := m.ReadDentryByName("nope"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemFSReadDentryByIndex(t *testing.T) {
	m := NewMemFS()
	m.AddFile("counter", nil)

	d, err := m.ReadDentryByIndex(0)
	if err != nil || d.Name != "." {
		t.Fatalf("expected root dentry at index 0, got %+v err=%v", d, err)
	}

	if _, err := m.ReadDentryByIndex(99); err != ErrIndexRange {
		t.Fatalf("expected ErrIndexRange, got %v", err)
	}
}

func TestMemFSReadData(t *testing.T) {
	m := NewMemFS()
	m.AddFile("shell", []byte("0123456789"))

	buf := make([]byte, 4)
	n, err := m.ReadData(0, 3, buf)
	if err != nil {
		t.Fatalf("ReadData: %v", err)
	}
	if n != 4 || string(buf) != "3456" {
		t.Fatalf("expected \"3456\", got %q n=%d", buf[:n], n)
	}

	n, err = m.ReadData(0, 100, buf)
	if err != nil || n != 0 {
		t.Fatalf("expected EOF read to return 0, got n=%d err=%v", n, err)
	}
}

func TestNormalFileReadAdvancesPosition(t *testing.T) {
	m := NewMemFS()
	idx := m.AddFile("shell", []byte("abcdefgh"))
	d, _ := m.ReadDentryByIndex(idx)

	f := NewNormalFile(m, d.Inode)
	buf := make([]byte, 3)

	n, err := f.Read(buf)
	if err != nil || n != 3 || string(buf) != "abc" {
		t.Fatalf("first read: n=%d buf=%q err=%v", n, buf[:n], err)
	}
	n, err = f.Read(buf)
	if err != nil || n != 3 || string(buf) != "def" {
		t.Fatalf("second read: n=%d buf=%q err=%v", n, buf[:n], err)
	}
}

func TestDirFileStreamsNamesOnePerRead(t *testing.T) {
	m := NewMemFS()
	m.AddFile("shell", nil)
	m.AddFile("counter", nil)

	d := NewDirFile(m)
	buf := make([]byte, 32)

	n, err := d.Read(buf)
	if err != nil || string(buf[:n]) != "counter" {
		t.Fatalf("expected \"counter\" first (sorted), got %q err=%v", buf[:n], err)
	}
	n, err = d.Read(buf)
	if err != nil || string(buf[:n]) != "shell" {
		t.Fatalf("expected \"shell\" second, got %q err=%v", buf[:n], err)
	}
	n, err = d.Read(buf)
	if err != nil || n != 0 {
		t.Fatalf("expected 0 bytes once exhausted, got n=%d err=%v", n, err)
	}
}
