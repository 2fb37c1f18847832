package resample

// Method selects the conversion algorithm.
type Method int

const (
	// MethodLinear is two-point linear interpolation: cheapest, aliases at
	// large ratios. Also the no-op path for equal rates.
	MethodLinear Method = iota

	// MethodPolyphase is a Hann-windowed polyphase FIR bank: the balanced
	// default.
	MethodPolyphase

	// MethodSincKaiser is a long windowed-sinc filter with a Kaiser window:
	// highest quality, highest cost.
	MethodSincKaiser

	// MethodAdaptive cascades two polyphase stages through an intermediate
	// rate for large ratio changes.
	MethodAdaptive
)

// String returns the config-facing method name.
func (m Method) String() string {
	switch m {
	case MethodLinear:
		return "linear"
	case MethodPolyphase:
		return "polyphase"
	case MethodSincKaiser:
		return "sinc_kaiser"
	case MethodAdaptive:
		return "adaptive"
	default:
		return "unknown"
	}
}

// UseCase expresses the caller's latency/quality trade-off.
type UseCase int

const (
	// UseLowLatency favours cheap conversion: wake-word and VAD paths.
	UseLowLatency UseCase = iota

	// UseHighQuality favours fidelity: transcription paths.
	UseHighQuality

	// UseBalanced is the general-purpose middle ground.
	UseBalanced
)

// String returns the config-facing use-case name.
func (u UseCase) String() string {
	switch u {
	case UseLowLatency:
		return "low_latency"
	case UseHighQuality:
		return "high_quality"
	case UseBalanced:
		return "balanced"
	default:
		return "unknown"
	}
}

// Select returns the conversion method for a rate pair and use case. It is a
// pure lookup; equal or non-positive rates fall through to MethodLinear,
// which passes such input straight through.
func Select(srcRate, dstRate int, uc UseCase) Method {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate {
		return MethodLinear
	}

	ratio := float64(srcRate) / float64(dstRate)
	if ratio < 1 {
		ratio = 1 / ratio
	}

	switch uc {
	case UseLowLatency:
		if ratio <= 2 {
			return MethodLinear
		}
		return MethodPolyphase
	case UseHighQuality:
		switch {
		case ratio <= 1.5:
			return MethodSincKaiser
		case ratio <= 4:
			return MethodPolyphase
		default:
			return MethodAdaptive
		}
	default: // UseBalanced
		return MethodPolyphase
	}
}
