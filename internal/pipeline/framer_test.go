package pipeline

import (
	"bytes"
	"errors"
	"testing"
)

func TestFramerReslicesChunks(t *testing.T) {
	f := NewFramer(8, 4)

	// Three frames' worth, delivered in awkward chunk sizes.
	var want []byte
	for i := 0; i < 24; i++ {
		want = append(want, byte(i))
	}
	for _, n := range []int{3, 10, 11} {
		if err := f.Push(want[:n]); err != nil {
			t.Fatalf("Push(%d bytes) error = %v", n, err)
		}
		want = want[n:]
	}

	buf := make([]byte, 8)
	var got []byte
	for f.Next(buf) {
		got = append(got, buf...)
	}
	if len(got) != 24 {
		t.Fatalf("framed %d bytes, want 24", len(got))
	}
	for i := range got {
		if got[i] != byte(i) {
			t.Fatalf("byte %d = %d, want %d", i, got[i], i)
		}
	}
}

func TestFramerKeepsPartialFrame(t *testing.T) {
	f := NewFramer(8, 4)
	if err := f.Push(make([]byte, 5)); err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	if f.Next(make([]byte, 8)) {
		t.Error("Next() = true with only a partial frame buffered")
	}
	if err := f.Push(make([]byte, 3)); err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	if !f.Next(make([]byte, 8)) {
		t.Error("Next() = false after the frame completed")
	}
}

func TestFramerOverflowDropsOldest(t *testing.T) {
	f := NewFramer(4, 2) // 8-byte capacity

	first := []byte{1, 1, 1, 1}
	second := []byte{2, 2, 2, 2}
	third := []byte{3, 3, 3, 3}
	if err := f.Push(first); err != nil {
		t.Fatalf("Push(first) error = %v", err)
	}
	if err := f.Push(second); err != nil {
		t.Fatalf("Push(second) error = %v", err)
	}

	err := f.Push(third)
	var tioe *TransientIOError
	if !errors.As(err, &tioe) {
		t.Fatalf("Push(third) error = %v, want TransientIOError", err)
	}
	if f.Dropped() == 0 {
		t.Error("Dropped() = 0 after overflow")
	}

	// Oldest frame was evicted; the newest survives.
	buf := make([]byte, 4)
	var frames [][]byte
	for f.Next(buf) {
		frames = append(frames, append([]byte(nil), buf...))
	}
	if len(frames) == 0 {
		t.Fatal("no frames readable after overflow")
	}
	last := frames[len(frames)-1]
	if !bytes.Equal(last, third) {
		t.Errorf("newest frame = %v, want %v", last, third)
	}
	for _, fr := range frames {
		if bytes.Equal(fr, first) {
			t.Error("oldest frame survived the overflow")
		}
	}
}

func TestFramerRejectsOversizedChunk(t *testing.T) {
	f := NewFramer(4, 2)
	err := f.Push(make([]byte, 64))
	var tioe *TransientIOError
	if !errors.As(err, &tioe) {
		t.Fatalf("Push(oversized) error = %v, want TransientIOError", err)
	}
	if f.Pending() != 0 {
		t.Errorf("Pending() = %d after rejected chunk, want 0", f.Pending())
	}
}

func TestFramerReset(t *testing.T) {
	f := NewFramer(4, 4)
	if err := f.Push(make([]byte, 12)); err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	f.Reset()
	if f.Pending() != 0 {
		t.Errorf("Pending() = %d after Reset, want 0", f.Pending())
	}
	if f.Next(make([]byte, 4)) {
		t.Error("Next() = true after Reset")
	}
}
