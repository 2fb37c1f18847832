package pipeline

import (
	"log/slog"

	"github.com/smallnest/ringbuffer"
)

// Framer re-slices arbitrarily sized capture chunks into fixed analysis
// frames. Inbound bytes accumulate in a ring; when the ring would overflow,
// the oldest complete frames are discarded so the stream stays current at
// the cost of a gap. Owned by one stream, not safe for concurrent use.
type Framer struct {
	rb         *ringbuffer.RingBuffer
	frameBytes int

	dropped uint64
}

// NewFramer creates a framer emitting frames of frameBytes, buffering up to
// capacityFrames of backlog.
func NewFramer(frameBytes, capacityFrames int) *Framer {
	if capacityFrames < 2 {
		capacityFrames = 2
	}
	return &Framer{
		// Non-blocking: overflow is handled by dropping, never by stalling
		// the capture goroutine.
		rb:         ringbuffer.New(frameBytes * capacityFrames).SetBlocking(false),
		frameBytes: frameBytes,
	}
}

// Push appends a capture chunk. When the backlog would overflow, the oldest
// frames are dropped first and a [TransientIOError] is returned after the
// chunk is still stored. Chunks larger than the whole ring are rejected.
func (f *Framer) Push(p []byte) error {
	if len(p) > f.rb.Capacity() {
		return &TransientIOError{Reason: "chunk larger than frame backlog"}
	}

	var droppedNow int
	for f.rb.Free() < len(p) {
		if _, err := f.rb.Read(make([]byte, f.frameBytes)); err != nil {
			f.rb.Reset()
			break
		}
		droppedNow++
	}
	if _, err := f.rb.Write(p); err != nil {
		return &TransientIOError{Reason: "ring write failed: " + err.Error()}
	}
	if droppedNow > 0 {
		f.dropped += uint64(droppedNow)
		slog.Warn("frame backlog overflow, dropped oldest audio",
			"frames", droppedNow, "total_dropped", f.dropped)
		return &TransientIOError{Reason: "backlog overflow"}
	}
	return nil
}

// Next copies one complete frame into buf (which must be frameBytes long)
// and reports whether a frame was available.
func (f *Framer) Next(buf []byte) bool {
	if f.rb.Length() < f.frameBytes {
		return false
	}
	n, err := f.rb.Read(buf)
	if err != nil || n != f.frameBytes {
		return false
	}
	return true
}

// Pending returns the number of complete frames currently buffered.
func (f *Framer) Pending() int {
	return f.rb.Length() / f.frameBytes
}

// Dropped returns the total number of frames discarded due to overflow.
func (f *Framer) Dropped() uint64 {
	return f.dropped
}

// Reset discards all buffered audio, e.g. on an input format change.
func (f *Framer) Reset() {
	f.rb.Reset()
}
