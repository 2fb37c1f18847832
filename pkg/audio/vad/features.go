package vad

import (
	"fmt"
	"math"
)

// Band boundary frequencies for the three-way energy split. The low band
// carries vowel fundamentals, the mid band most voiced speech energy, and the
// high band fricative/sibilant energy.
const (
	lowBandCutoffHz  = 300.0
	highBandCutoffHz = 3000.0
)

// Limits on the persistent filter strengths. Stronger settings attenuate
// low-frequency vowel energy below detectability.
const (
	MaxPreEmphasis = 0.85
	MaxHighPass    = 0.3
)

// BandWeights is the weighted combination applied to the per-band energies
// when computing the total detection energy. Weights must sum to 1 (within a
// small tolerance). A naive single-band or high-pass-biased energy
// over-weights high-frequency content and biases the detector toward
// sibilants while missing vowels.
type BandWeights struct {
	Low  float64
	Mid  float64
	High float64
}

// DefaultBandWeights is the tuned low-heavy combination: 50% low, 40% mid,
// 10% high.
var DefaultBandWeights = BandWeights{Low: 0.5, Mid: 0.4, High: 0.1}

// FeatureConfig holds the tunable parameters of a [FeatureExtractor].
type FeatureConfig struct {
	// PreEmphasis is the pre-emphasis filter strength in [0, MaxPreEmphasis].
	// Default: 0.6.
	PreEmphasis float64

	// HighPass is the single-pole high-pass (DC removal) strength in
	// [0, MaxHighPass]. Default: 0.25.
	HighPass float64

	// Weights combines the three band energies. Zero value selects
	// [DefaultBandWeights].
	Weights BandWeights
}

// Features is the per-frame output of the extractor. All energies are RMS
// values normalised to [0,1] against int16 full scale.
type Features struct {
	EnergyTotal float64
	EnergyLow   float64
	EnergyMid   float64
	EnergyHigh  float64

	// ZCR is the zero-crossing rate: sign changes divided by frame length.
	ZCR float64
}

// FeatureExtractor computes per-frame energy and zero-crossing features.
// Filter state persists across frames, so one extractor must only ever see
// one stream, in order.
type FeatureExtractor struct {
	cfg        FeatureConfig
	sampleRate int

	// One-pole filter state carried across frames.
	hpPrevIn   float64
	hpPrevOut  float64
	emphPrev   float64
	lpLowState float64
	lpMidState float64

	lowAlpha float64
	midAlpha float64
}

// NewFeatureExtractor creates an extractor for the given sample rate.
// Zero-value config fields take defaults; out-of-range filter strengths are
// rejected rather than clamped so misconfiguration is visible at startup.
func NewFeatureExtractor(sampleRate int, cfg FeatureConfig) (*FeatureExtractor, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("vad: sample rate must be positive, got %d", sampleRate)
	}
	if cfg.PreEmphasis == 0 {
		cfg.PreEmphasis = 0.6
	}
	if cfg.HighPass == 0 {
		cfg.HighPass = 0.25
	}
	if cfg.PreEmphasis < 0 || cfg.PreEmphasis > MaxPreEmphasis {
		return nil, fmt.Errorf("vad: pre-emphasis %.2f outside [0, %.2f]", cfg.PreEmphasis, MaxPreEmphasis)
	}
	if cfg.HighPass < 0 || cfg.HighPass > MaxHighPass {
		return nil, fmt.Errorf("vad: high-pass %.2f outside [0, %.2f]", cfg.HighPass, MaxHighPass)
	}
	if (cfg.Weights == BandWeights{}) {
		cfg.Weights = DefaultBandWeights
	}
	if sum := cfg.Weights.Low + cfg.Weights.Mid + cfg.Weights.High; math.Abs(sum-1) > 0.01 {
		return nil, fmt.Errorf("vad: band weights sum to %.3f, want 1.0", sum)
	}

	fs := float64(sampleRate)
	return &FeatureExtractor{
		cfg:        cfg,
		sampleRate: sampleRate,
		lowAlpha:   1 - math.Exp(-2*math.Pi*lowBandCutoffHz/fs),
		midAlpha:   1 - math.Exp(-2*math.Pi*highBandCutoffHz/fs),
	}, nil
}

// Process computes the features for one frame of mono int16 samples.
// Empty or single-sample frames yield zero features.
func (e *FeatureExtractor) Process(samples []int16) Features {
	if len(samples) == 0 {
		return Features{}
	}

	var (
		sumTotal, sumLow, sumMid, sumHigh float64
		signChanges                       int
		prevSign                          = sign(samples[0])
	)

	for i, s := range samples {
		x := float64(s)

		// ZCR on the raw signal.
		if i > 0 {
			if cur := sign(samples[i]); cur != prevSign && cur != 0 {
				signChanges++
				prevSign = cur
			}
		}

		// Single-pole high-pass (DC / rumble removal).
		hp := e.cfg.HighPass*(e.hpPrevOut+x-e.hpPrevIn) + (1-e.cfg.HighPass)*x
		e.hpPrevIn = x
		e.hpPrevOut = hp

		// Pre-emphasis.
		y := hp - e.cfg.PreEmphasis*e.emphPrev
		e.emphPrev = hp

		// Band split via cascaded one-pole low-passes.
		e.lpLowState += e.lowAlpha * (y - e.lpLowState)
		e.lpMidState += e.midAlpha * (y - e.lpMidState)
		low := e.lpLowState
		mid := e.lpMidState - e.lpLowState
		high := y - e.lpMidState

		sumLow += low * low
		sumMid += mid * mid
		sumHigh += high * high
		sumTotal += y * y
	}

	n := float64(len(samples))
	f := Features{
		EnergyLow:  rmsNorm(sumLow, n),
		EnergyMid:  rmsNorm(sumMid, n),
		EnergyHigh: rmsNorm(sumHigh, n),
	}
	f.EnergyTotal = e.cfg.Weights.Low*f.EnergyLow +
		e.cfg.Weights.Mid*f.EnergyMid +
		e.cfg.Weights.High*f.EnergyHigh
	if len(samples) > 1 {
		f.ZCR = float64(signChanges) / float64(len(samples)-1)
	}
	return f
}

// Reset clears all persistent filter state, e.g. after a stream restart or
// an explicit input format change.
func (e *FeatureExtractor) Reset() {
	e.hpPrevIn = 0
	e.hpPrevOut = 0
	e.emphPrev = 0
	e.lpLowState = 0
	e.lpMidState = 0
}

func rmsNorm(sumSquares, n float64) float64 {
	return math.Min(1, math.Sqrt(sumSquares/n)/32768.0)
}

func sign(s int16) int {
	switch {
	case s > 0:
		return 1
	case s < 0:
		return -1
	default:
		return 0
	}
}
