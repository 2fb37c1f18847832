package vad

import (
	"math"
	"testing"
)

func tone(freq float64, rate, n int, amp float64) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(amp * math.Sin(2*math.Pi*freq*float64(i)/float64(rate)))
	}
	return out
}

func TestNewFeatureExtractorValidation(t *testing.T) {
	tests := []struct {
		name string
		rate int
		cfg  FeatureConfig
	}{
		{"zero rate", 0, FeatureConfig{}},
		{"pre-emphasis too strong", 16000, FeatureConfig{PreEmphasis: 0.9}},
		{"high-pass too strong", 16000, FeatureConfig{HighPass: 0.5}},
		{"weights off", 16000, FeatureConfig{Weights: BandWeights{Low: 0.9, Mid: 0.9, High: 0.1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewFeatureExtractor(tt.rate, tt.cfg); err == nil {
				t.Error("NewFeatureExtractor() error = nil, want error")
			}
		})
	}
}

func TestProcessEmptyFrame(t *testing.T) {
	e, err := NewFeatureExtractor(16000, FeatureConfig{})
	if err != nil {
		t.Fatal(err)
	}
	if f := e.Process(nil); f != (Features{}) {
		t.Errorf("Process(nil) = %+v, want zero features", f)
	}
	if f := e.Process([]int16{100}); f.ZCR != 0 {
		t.Errorf("single-sample ZCR = %v, want 0", f.ZCR)
	}
}

func TestProcessSilence(t *testing.T) {
	e, err := NewFeatureExtractor(16000, FeatureConfig{})
	if err != nil {
		t.Fatal(err)
	}
	f := e.Process(make([]int16, 320))
	if f.EnergyTotal != 0 {
		t.Errorf("EnergyTotal = %v for silence, want 0", f.EnergyTotal)
	}
	if f.ZCR != 0 {
		t.Errorf("ZCR = %v for silence, want 0", f.ZCR)
	}
}

func TestProcessEnergyScalesWithAmplitude(t *testing.T) {
	quietE, err := NewFeatureExtractor(16000, FeatureConfig{})
	if err != nil {
		t.Fatal(err)
	}
	loudE, err := NewFeatureExtractor(16000, FeatureConfig{})
	if err != nil {
		t.Fatal(err)
	}
	quiet := quietE.Process(tone(440, 16000, 320, 500))
	loud := loudE.Process(tone(440, 16000, 320, 16000))
	if loud.EnergyTotal <= quiet.EnergyTotal {
		t.Errorf("loud energy %v <= quiet energy %v", loud.EnergyTotal, quiet.EnergyTotal)
	}
	if loud.EnergyTotal > 1 {
		t.Errorf("EnergyTotal = %v, want normalised to [0,1]", loud.EnergyTotal)
	}
}

func TestProcessBandSplit(t *testing.T) {
	lowE, err := NewFeatureExtractor(16000, FeatureConfig{})
	if err != nil {
		t.Fatal(err)
	}
	highE, err := NewFeatureExtractor(16000, FeatureConfig{})
	if err != nil {
		t.Fatal(err)
	}

	// Warm the filters with a couple of frames before judging.
	var lowF, highF Features
	for iter := 0; iter < 3; iter++ {
		lowF = lowE.Process(tone(120, 16000, 320, 8000))
		highF = highE.Process(tone(6000, 16000, 320, 8000))
	}
	if lowF.EnergyLow <= lowF.EnergyHigh {
		t.Errorf("120 Hz tone: EnergyLow %v <= EnergyHigh %v", lowF.EnergyLow, lowF.EnergyHigh)
	}
	if highF.EnergyHigh <= highF.EnergyLow {
		t.Errorf("6 kHz tone: EnergyHigh %v <= EnergyLow %v", highF.EnergyHigh, highF.EnergyLow)
	}
}

func TestProcessZCR(t *testing.T) {
	e, err := NewFeatureExtractor(16000, FeatureConfig{})
	if err != nil {
		t.Fatal(err)
	}

	alternating := make([]int16, 100)
	for i := range alternating {
		if i%2 == 0 {
			alternating[i] = 1000
		} else {
			alternating[i] = -1000
		}
	}
	if f := e.Process(alternating); f.ZCR != 1 {
		t.Errorf("alternating signal ZCR = %v, want 1", f.ZCR)
	}

	constant := make([]int16, 100)
	for i := range constant {
		constant[i] = 1000
	}
	if f := e.Process(constant); f.ZCR != 0 {
		t.Errorf("constant signal ZCR = %v, want 0", f.ZCR)
	}
}

func TestProcessStatePersistsAcrossFrames(t *testing.T) {
	cont, err := NewFeatureExtractor(16000, FeatureConfig{})
	if err != nil {
		t.Fatal(err)
	}
	reset, err := NewFeatureExtractor(16000, FeatureConfig{})
	if err != nil {
		t.Fatal(err)
	}

	sig := tone(300, 16000, 640, 8000)
	cont.Process(sig[:320])
	contSecond := cont.Process(sig[320:])

	reset.Process(sig[:320])
	reset.Reset()
	resetSecond := reset.Process(sig[320:])

	// With filter state reset, the second frame sees a discontinuity and
	// produces a different result than the continuous stream.
	if contSecond.EnergyTotal == resetSecond.EnergyTotal {
		t.Error("Reset() had no effect on persistent filter state")
	}
}
