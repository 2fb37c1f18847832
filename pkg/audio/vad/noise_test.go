package vad

import (
	"math"
	"testing"
)

func TestNewNoiseEstimatorRejectsHighPercentile(t *testing.T) {
	if _, err := NewNoiseEstimator(NoiseConfig{Percentile: 60}); err == nil {
		t.Error("NewNoiseEstimator() error = nil, want rejection above 50th percentile")
	}
}

func TestThresholdFloorsAtMinimum(t *testing.T) {
	n, err := NewNoiseEstimator(NoiseConfig{MinThreshold: 0.01})
	if err != nil {
		t.Fatal(err)
	}
	if got := n.Threshold(); got != 0.01 {
		t.Errorf("initial Threshold() = %v, want MinThreshold", got)
	}
	for iter := 0; iter < 200; iter++ {
		n.Observe(0.0001)
	}
	if got := n.Threshold(); got != 0.01 {
		t.Errorf("Threshold() = %v in near-silence, want MinThreshold 0.01", got)
	}
}

func TestThresholdTracksNoiseFloor(t *testing.T) {
	n, err := NewNoiseEstimator(NoiseConfig{WindowFrames: 50, MinThreshold: 0.01, VoiceMultiplier: 3})
	if err != nil {
		t.Fatal(err)
	}
	for iter := 0; iter < 300; iter++ {
		n.Observe(0.1)
	}
	if got := n.Floor(); got != 0.1 {
		t.Errorf("Floor() = %v, want 0.1", got)
	}
	if got := n.Threshold(); math.Abs(got-0.3) > 1e-9 {
		t.Errorf("Threshold() = %v, want floor x multiplier = 0.3", got)
	}
}

func TestThresholdGrowthIsClamped(t *testing.T) {
	n, err := NewNoiseEstimator(NoiseConfig{MinThreshold: 0.01, GrowthClamp: 1.1})
	if err != nil {
		t.Fatal(err)
	}
	n.Observe(0.5)
	// One loud frame cannot spike the threshold; it may rise by at most 10%.
	if got := n.Threshold(); got > 0.011+1e-12 {
		t.Errorf("Threshold() = %v after one loud frame, want <= 0.011", got)
	}
}

func TestThresholdDecayIsImmediate(t *testing.T) {
	n, err := NewNoiseEstimator(NoiseConfig{WindowFrames: 10, MinThreshold: 0.01})
	if err != nil {
		t.Fatal(err)
	}
	for iter := 0; iter < 100; iter++ {
		n.Observe(0.1)
	}
	high := n.Threshold()
	// Quiet frames replace the window; the threshold drops without clamping.
	for iter := 0; iter < 10; iter++ {
		n.Observe(0.0001)
	}
	if got := n.Threshold(); got >= high {
		t.Errorf("Threshold() = %v after quiet window, want below %v", got, high)
	}
	if got := n.Threshold(); got != 0.01 {
		t.Errorf("Threshold() = %v, want decay all the way to MinThreshold", got)
	}
}

func TestFloorUsesPercentile(t *testing.T) {
	n, err := NewNoiseEstimator(NoiseConfig{WindowFrames: 10, Percentile: 15, MinThreshold: 0.001})
	if err != nil {
		t.Fatal(err)
	}
	// Eight quiet frames and two loud ones: the 15th percentile must ignore
	// the loud outliers.
	for iter := 0; iter < 8; iter++ {
		n.Observe(0.01)
	}
	n.Observe(1.0)
	n.Observe(1.0)
	if got := n.Floor(); got != 0.01 {
		t.Errorf("Floor() = %v, want percentile below outliers 0.01", got)
	}
}

func TestCalibrate(t *testing.T) {
	n, err := NewNoiseEstimator(NoiseConfig{MinThreshold: 0.01, VoiceMultiplier: 3})
	if err != nil {
		t.Fatal(err)
	}
	energies := make([]float64, 100)
	for i := range energies {
		energies[i] = 0.05
	}
	got := n.Calibrate(energies)
	// Calibration is an intentional reset: the growth clamp does not apply.
	if math.Abs(got-0.15) > 1e-9 {
		t.Errorf("Calibrate() = %v, want 0.15", got)
	}
	if n.Threshold() != got {
		t.Errorf("Threshold() = %v, want calibrated %v", n.Threshold(), got)
	}
}

func TestReset(t *testing.T) {
	n, err := NewNoiseEstimator(NoiseConfig{WindowFrames: 10, MinThreshold: 0.01})
	if err != nil {
		t.Fatal(err)
	}
	for iter := 0; iter < 50; iter++ {
		n.Observe(0.2)
	}
	n.Reset()
	if got := n.Threshold(); got != 0.01 {
		t.Errorf("Threshold() = %v after Reset, want MinThreshold", got)
	}
	if got := n.Floor(); got != 0 {
		t.Errorf("Floor() = %v after Reset, want 0", got)
	}
}
