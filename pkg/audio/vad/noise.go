package vad

import (
	"fmt"
	"slices"
)

// NoiseConfig holds the tunable parameters of a [NoiseEstimator].
type NoiseConfig struct {
	// WindowFrames is the number of recent frame energies retained for the
	// rolling percentile, typically a few seconds worth. Default: 150
	// (3 s at 20 ms frames).
	WindowFrames int

	// Percentile of the trailing window taken as the noise floor, in (0, 50].
	// Default: 15.
	Percentile float64

	// MinThreshold is the lower bound of the derived detection threshold.
	// Default: 0.01.
	MinThreshold float64

	// VoiceMultiplier scales the noise floor into the detection threshold.
	// Default: 3.0.
	VoiceMultiplier float64

	// GrowthClamp limits how far the threshold may rise in one update step,
	// as a multiplier over the previous value. Sustained high-frequency noise
	// must not ratchet the threshold up and suppress quieter vowel-dominant
	// speech. Decay is not clamped. Default: 1.1.
	GrowthClamp float64
}

func (c *NoiseConfig) applyDefaults() {
	if c.WindowFrames <= 0 {
		c.WindowFrames = 150
	}
	if c.Percentile <= 0 {
		c.Percentile = 15
	}
	if c.MinThreshold <= 0 {
		c.MinThreshold = 0.01
	}
	if c.VoiceMultiplier <= 0 {
		c.VoiceMultiplier = 3.0
	}
	if c.GrowthClamp <= 1 {
		c.GrowthClamp = 1.1
	}
}

// NoiseEstimator maintains a rolling noise-floor estimate for one stream and
// derives the adaptive detection threshold from it. Not safe for concurrent
// use; owned exclusively by its stream context.
type NoiseEstimator struct {
	cfg NoiseConfig

	window []float64
	next   int
	filled int

	threshold float64
	scratch   []float64
}

// NewNoiseEstimator creates an estimator. Zero-value config fields take
// defaults; a percentile above 50 is rejected because the upper half of the
// energy distribution is speech, not noise.
func NewNoiseEstimator(cfg NoiseConfig) (*NoiseEstimator, error) {
	cfg.applyDefaults()
	if cfg.Percentile > 50 {
		return nil, fmt.Errorf("vad: noise percentile %.1f outside (0, 50]", cfg.Percentile)
	}
	return &NoiseEstimator{
		cfg:       cfg,
		window:    make([]float64, cfg.WindowFrames),
		scratch:   make([]float64, 0, cfg.WindowFrames),
		threshold: cfg.MinThreshold,
	}, nil
}

// Observe records one frame energy and updates the derived threshold.
// Growth per step is clamped by GrowthClamp; decay is immediate.
func (n *NoiseEstimator) Observe(energy float64) {
	n.window[n.next] = energy
	n.next = (n.next + 1) % len(n.window)
	if n.filled < len(n.window) {
		n.filled++
	}

	raw := n.cfg.MinThreshold
	if floor := n.Floor() * n.cfg.VoiceMultiplier; floor > raw {
		raw = floor
	}
	if limit := n.threshold * n.cfg.GrowthClamp; raw > limit {
		raw = limit
	}
	n.threshold = raw
}

// Floor returns the current rolling-percentile noise floor. Returns 0 until
// at least one frame has been observed.
func (n *NoiseEstimator) Floor() float64 {
	if n.filled == 0 {
		return 0
	}
	n.scratch = append(n.scratch[:0], n.window[:n.filled]...)
	slices.Sort(n.scratch)
	idx := int(float64(n.filled) * n.cfg.Percentile / 100)
	if idx >= n.filled {
		idx = n.filled - 1
	}
	return n.scratch[idx]
}

// Threshold returns the current detection threshold:
// max(MinThreshold, floor × VoiceMultiplier), growth-clamped per step.
func (n *NoiseEstimator) Threshold() float64 {
	return n.threshold
}

// Calibrate replaces the window with the supplied frame energies (e.g. from
// an explicit calibration recording) and returns the resulting threshold.
// The growth clamp does not apply to calibration: it is an intentional reset.
func (n *NoiseEstimator) Calibrate(energies []float64) float64 {
	n.Reset()
	for _, e := range energies {
		n.window[n.next] = e
		n.next = (n.next + 1) % len(n.window)
		if n.filled < len(n.window) {
			n.filled++
		}
	}
	raw := n.cfg.MinThreshold
	if floor := n.Floor() * n.cfg.VoiceMultiplier; floor > raw {
		raw = floor
	}
	n.threshold = raw
	return n.threshold
}

// Reset clears the window and returns the threshold to its minimum.
func (n *NoiseEstimator) Reset() {
	n.next = 0
	n.filled = 0
	n.threshold = n.cfg.MinThreshold
}
