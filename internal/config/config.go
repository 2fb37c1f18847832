// Package config provides the configuration schema, loader, and file watcher
// for the earshot audio preprocessing daemon.
package config

// LogLevel controls log verbosity for the earshot daemon.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Quality selects the latency/fidelity trade-off for a consumer's
// conversion path.
type Quality string

const (
	// QualityLowLatency favours cheap conversion: wake-word style consumers.
	QualityLowLatency Quality = "low_latency"

	// QualityHighQuality favours fidelity: transcription consumers.
	QualityHighQuality Quality = "high_quality"

	// QualityBalanced is the general-purpose middle ground.
	QualityBalanced Quality = "balanced"
)

// IsValid reports whether q is a recognised quality setting.
func (q Quality) IsValid() bool {
	switch q {
	case QualityLowLatency, QualityHighQuality, QualityBalanced:
		return true
	}
	return false
}

// Config is the root configuration structure for earshot.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Input     InputConfig      `yaml:"input"`
	VAD       VADConfig        `yaml:"vad"`
	Resample  ResampleConfig   `yaml:"resample"`
	Consumers []ConsumerConfig `yaml:"consumers"`
	Fallback  FallbackConfig   `yaml:"fallback"`
}

// ServerConfig holds network and logging settings for the earshot daemon.
type ServerConfig struct {
	// ListenAddr is the TCP address the metrics/health server listens on
	// (e.g., ":9090").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// InputConfig describes the capture format frames arrive in.
type InputConfig struct {
	// SampleRate is the capture sample rate in Hz.
	SampleRate int `yaml:"sample_rate"`

	// Channels is the capture channel count (1 or 2).
	Channels int `yaml:"channels"`

	// FrameMs is the analysis frame length in milliseconds.
	FrameMs int `yaml:"frame_ms"`
}

// BandWeights distributes the combined energy across the three analysis
// bands. The weights must sum to 1 within a small tolerance.
type BandWeights struct {
	Low  float64 `yaml:"low"`
	Mid  float64 `yaml:"mid"`
	High float64 `yaml:"high"`
}

// VADConfig tunes voice activity detection. Zero values fall back to
// defaults applied by [Load].
type VADConfig struct {
	// EnergyThreshold is the minimum adaptive threshold floor.
	EnergyThreshold float64 `yaml:"energy_threshold"`

	// VoiceMultiplier scales the noise floor into the voice threshold.
	VoiceMultiplier float64 `yaml:"voice_multiplier"`

	// NoisePercentile picks the noise floor from the trailing energy
	// window. Must be in (0, 50].
	NoisePercentile float64 `yaml:"noise_percentile"`

	// NoiseWindowMs is the trailing window the noise floor is estimated
	// over.
	NoiseWindowMs int `yaml:"noise_window_ms"`

	// VoiceDurationMs is how long qualifying audio must persist before an
	// utterance onset fires.
	VoiceDurationMs int `yaml:"voice_duration_ms"`

	// SilenceDurationMs is the hangover length before an utterance ends.
	SilenceDurationMs int `yaml:"silence_duration_ms"`

	// PreEmphasis is the pre-emphasis strength in [0, 0.85].
	PreEmphasis float64 `yaml:"pre_emphasis"`

	// HighPass is the DC-rejection high-pass coefficient in [0, 0.3].
	HighPass float64 `yaml:"high_pass"`

	// BandWeights distributes combined energy across the bands. When nil
	// the built-in 0.5/0.4/0.1 split applies.
	BandWeights *BandWeights `yaml:"band_weights"`

	// DisabledPaths lists detection path names to switch off.
	DisabledPaths []string `yaml:"disabled_paths"`
}

// ResampleConfig tunes the sample rate conversion engine.
type ResampleConfig struct {
	// CacheSize bounds the whole-buffer conversion cache entry count.
	CacheSize int `yaml:"cache_size"`

	// MaxRatio is the largest supported rate ratio for one conversion.
	MaxRatio float64 `yaml:"max_ratio"`

	// JobTimeoutMs is the soft deadline for one conversion job before the
	// fallback chain takes over.
	JobTimeoutMs int `yaml:"job_timeout_ms"`

	// MaxParallel bounds concurrent conversion jobs across all streams.
	MaxParallel int `yaml:"max_parallel"`
}

// ConsumerConfig declares one downstream audio consumer and the format it
// should be fed.
type ConsumerConfig struct {
	// Name identifies the consumer in logs and metrics.
	Name string `yaml:"name"`

	// SampleRate is the explicitly requested delivery rate in Hz.
	// Zero means use the consumer's declared default.
	SampleRate int `yaml:"sample_rate"`

	// Channels is the delivery channel count. Zero means the consumer's
	// declared channel count.
	Channels int `yaml:"channels"`

	// AllowResampling permits converting capture audio for this consumer.
	AllowResampling bool `yaml:"allow_resampling"`

	// Quality selects the conversion path for this consumer.
	Quality Quality `yaml:"quality"`

	// StrictValidation rejects rates outside the consumer's declared
	// support list even when the consumer could resample internally.
	StrictValidation bool `yaml:"strict_validation"`
}

// FallbackConfig tunes delivery failure handling.
type FallbackConfig struct {
	// DegradedThreshold is the run of consecutively dropped utterances
	// that flips the pipeline into degraded mode.
	DegradedThreshold int `yaml:"degraded_threshold"`
}
