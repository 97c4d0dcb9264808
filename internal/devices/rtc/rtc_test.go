package rtc

import (
	"encoding/binary"
	"testing"
	"time"
)

func freqBytes(f uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, f)
	return b
}

func TestWriteRejectsNonPowerOfTwoAndOutOfRange(t *testing.T) {
	f := NewFile()
	cases := []uint32{0, 1, 3, 1023, 2048}
	for _, freq := range cases {
		if _, err := f.Write(freqBytes(freq)); err == nil {
			t.Fatalf("frequency %d: expected error", freq)
		}
	}
}

func TestWriteAcceptsPowersOfTwoInRange(t *testing.T) {
	f := NewFile()
	for _, freq := range []uint32{2, 4, 8, 1024} {
		if _, err := f.Write(freqBytes(freq)); err != nil {
			t.Fatalf("frequency %d: unexpected error: %v", freq, err)
		}
	}
}

func TestReadWaitsForVirtualizedFrequency(t *testing.T) {
	Reset()
	f := NewFile()
	if _, err := f.Write(freqBytes(4)); err != nil {
		t.Fatalf("Write: %v", err)
	}

	readDone := make(chan struct{})
	go func() {
		f.Read(nil)
		close(readDone)
	}()

	select {
	case <-readDone:
		t.Fatalf("read returned before enough hardware ticks elapsed")
	case <-time.After(20 * time.Millisecond):
	}

	for i := 0; i < 256; i++ { // 1024/4 == 256
		HandleIRQ()
	}

	select {
	case <-readDone:
	case <-time.After(time.Second):
		t.Fatalf("read did not return after 256 hardware ticks")
	}
}

func TestTwoFilesAtDifferentRatesFireIndependently(t *testing.T) {
	Reset()
	slow := NewFile()
	fast := NewFile()
	if _, err := slow.Write(freqBytes(2)); err != nil { // 512 ticks
		t.Fatalf("Write: %v", err)
	}
	if _, err := fast.Write(freqBytes(1024)); err != nil { // 1 tick
		t.Fatalf("Write: %v", err)
	}

	fastDone := make(chan struct{})
	slowDone := make(chan struct{})
	go func() { fast.Read(nil); close(fastDone) }()
	go func() { slow.Read(nil); close(slowDone) }()
	time.Sleep(20 * time.Millisecond) // let both reads arm on the wheel first

	HandleIRQ()
	select {
	case <-fastDone:
	case <-time.After(time.Second):
		t.Fatalf("fast fd did not return after its single tick")
	}
	select {
	case <-slowDone:
		t.Fatalf("slow fd returned far too early")
	case <-time.After(20 * time.Millisecond):
	}
}
