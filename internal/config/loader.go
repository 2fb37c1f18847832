package config

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

// Defaults applied by [Load] for zero-valued tunables.
const (
	DefaultListenAddr        = ":9090"
	DefaultSampleRate        = 16000
	DefaultChannels          = 1
	DefaultFrameMs           = 20
	DefaultEnergyThreshold   = 0.01
	DefaultVoiceMultiplier   = 3.0
	DefaultNoisePercentile   = 15.0
	DefaultNoiseWindowMs     = 3000
	DefaultVoiceDurationMs   = 100
	DefaultSilenceDurationMs = 500
	DefaultPreEmphasis       = 0.6
	DefaultHighPass          = 0.25
	DefaultCacheSize         = 100
	DefaultMaxRatio          = 12.0
	DefaultJobTimeoutMs      = 500
	DefaultMaxParallel       = 4
	DefaultDegradedThreshold = 5
)

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero-valued tunables in place.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Input.SampleRate == 0 {
		cfg.Input.SampleRate = DefaultSampleRate
	}
	if cfg.Input.Channels == 0 {
		cfg.Input.Channels = DefaultChannels
	}
	if cfg.Input.FrameMs == 0 {
		cfg.Input.FrameMs = DefaultFrameMs
	}
	if cfg.VAD.EnergyThreshold == 0 {
		cfg.VAD.EnergyThreshold = DefaultEnergyThreshold
	}
	if cfg.VAD.VoiceMultiplier == 0 {
		cfg.VAD.VoiceMultiplier = DefaultVoiceMultiplier
	}
	if cfg.VAD.NoisePercentile == 0 {
		cfg.VAD.NoisePercentile = DefaultNoisePercentile
	}
	if cfg.VAD.NoiseWindowMs == 0 {
		cfg.VAD.NoiseWindowMs = DefaultNoiseWindowMs
	}
	if cfg.VAD.VoiceDurationMs == 0 {
		cfg.VAD.VoiceDurationMs = DefaultVoiceDurationMs
	}
	if cfg.VAD.SilenceDurationMs == 0 {
		cfg.VAD.SilenceDurationMs = DefaultSilenceDurationMs
	}
	if cfg.VAD.PreEmphasis == 0 {
		cfg.VAD.PreEmphasis = DefaultPreEmphasis
	}
	if cfg.VAD.HighPass == 0 {
		cfg.VAD.HighPass = DefaultHighPass
	}
	if cfg.Resample.CacheSize == 0 {
		cfg.Resample.CacheSize = DefaultCacheSize
	}
	if cfg.Resample.MaxRatio == 0 {
		cfg.Resample.MaxRatio = DefaultMaxRatio
	}
	if cfg.Resample.JobTimeoutMs == 0 {
		cfg.Resample.JobTimeoutMs = DefaultJobTimeoutMs
	}
	if cfg.Resample.MaxParallel == 0 {
		cfg.Resample.MaxParallel = DefaultMaxParallel
	}
	if cfg.Fallback.DegradedThreshold == 0 {
		cfg.Fallback.DegradedThreshold = DefaultDegradedThreshold
	}
	for i := range cfg.Consumers {
		if cfg.Consumers[i].Quality == "" {
			cfg.Consumers[i].Quality = QualityBalanced
		}
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Input.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("input.sample_rate %d is invalid", cfg.Input.SampleRate))
	}
	if cfg.Input.Channels != 1 && cfg.Input.Channels != 2 {
		errs = append(errs, fmt.Errorf("input.channels %d is invalid; valid values: 1, 2", cfg.Input.Channels))
	}
	if cfg.Input.FrameMs < 0 || cfg.Input.FrameMs > 100 {
		errs = append(errs, fmt.Errorf("input.frame_ms %d is out of range (0, 100]", cfg.Input.FrameMs))
	}

	if cfg.VAD.PreEmphasis < 0 || cfg.VAD.PreEmphasis > 0.85 {
		errs = append(errs, fmt.Errorf("vad.pre_emphasis %.2f is out of range [0, 0.85]", cfg.VAD.PreEmphasis))
	}
	if cfg.VAD.HighPass < 0 || cfg.VAD.HighPass > 0.3 {
		errs = append(errs, fmt.Errorf("vad.high_pass %.2f is out of range [0, 0.3]", cfg.VAD.HighPass))
	}
	if cfg.VAD.NoisePercentile <= 0 || cfg.VAD.NoisePercentile > 50 {
		errs = append(errs, fmt.Errorf("vad.noise_percentile %.1f is out of range (0, 50]", cfg.VAD.NoisePercentile))
	}
	if cfg.VAD.VoiceMultiplier <= 0 {
		errs = append(errs, fmt.Errorf("vad.voice_multiplier %.2f must be positive", cfg.VAD.VoiceMultiplier))
	}
	if w := cfg.VAD.BandWeights; w != nil {
		if sum := w.Low + w.Mid + w.High; math.Abs(sum-1) > 0.01 {
			errs = append(errs, fmt.Errorf("vad.band_weights sum %.3f, must sum to 1", sum))
		}
	}

	if cfg.Resample.CacheSize < 0 {
		errs = append(errs, fmt.Errorf("resample.cache_size %d must not be negative", cfg.Resample.CacheSize))
	}
	if cfg.Resample.MaxRatio < 1 {
		errs = append(errs, fmt.Errorf("resample.max_ratio %.1f must be at least 1", cfg.Resample.MaxRatio))
	}
	if cfg.Resample.MaxParallel < 1 {
		errs = append(errs, fmt.Errorf("resample.max_parallel %d must be at least 1", cfg.Resample.MaxParallel))
	}

	namesSeen := make(map[string]int, len(cfg.Consumers))
	for i, c := range cfg.Consumers {
		prefix := fmt.Sprintf("consumers[%d]", i)
		if c.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, ok := namesSeen[c.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of consumers[%d]", prefix, c.Name, prev))
			}
			namesSeen[c.Name] = i
		}
		if c.SampleRate < 0 {
			errs = append(errs, fmt.Errorf("%s.sample_rate %d is invalid", prefix, c.SampleRate))
		}
		if c.Channels < 0 || c.Channels > 2 {
			errs = append(errs, fmt.Errorf("%s.channels %d is invalid; valid values: 1, 2", prefix, c.Channels))
		}
		if c.Quality != "" && !c.Quality.IsValid() {
			errs = append(errs, fmt.Errorf("%s.quality %q is invalid; valid values: low_latency, high_quality, balanced", prefix, c.Quality))
		}
	}

	if cfg.Fallback.DegradedThreshold < 1 {
		errs = append(errs, fmt.Errorf("fallback.degraded_threshold %d must be at least 1", cfg.Fallback.DegradedThreshold))
	}

	return errors.Join(errs...)
}
