// Package audio defines the core audio frame types and PCM helpers shared by
// the earshot preprocessing pipeline. Frames are the atomic unit of transport:
// captured upstream, analysed by the voice activity detector, converted by the
// resampling engine, and handed to downstream speech consumers.
//
// All PCM data is little-endian signed 16-bit, interleaved when stereo.
package audio

import "time"

// AudioFrame is a single immutable chunk of audio flowing through the
// pipeline. A frame is transient: no stage retains it past the point where it
// produced its output.
type AudioFrame struct {
	// Data is raw little-endian int16 PCM. Interleaved L/R when Channels == 2.
	Data []byte

	// SampleRate in Hz (e.g., 44100 for typical capture, 16000 for ASR).
	SampleRate int

	// Channels: 1 for mono, 2 for stereo.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Valid reports whether the format carries a positive rate and a supported
// channel count.
func (f Format) Valid() bool {
	return f.SampleRate > 0 && (f.Channels == 1 || f.Channels == 2)
}

// Duration returns the play time covered by the frame, derived from the
// sample count and rate. Returns 0 for malformed or empty frames.
func (f AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	perChannel := len(f.Data) / 2 / f.Channels
	return time.Duration(perChannel) * time.Second / time.Duration(f.SampleRate)
}

// Malformed reports whether the frame's byte count does not align to whole
// int16 samples across all channels. Malformed frames are dropped by the
// pipeline and treated as silence by the detector.
func (f AudioFrame) Malformed() bool {
	if f.Channels <= 0 {
		return true
	}
	return len(f.Data)%(2*f.Channels) != 0
}
