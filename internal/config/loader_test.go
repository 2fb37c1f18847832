package config

import (
	"strings"
	"testing"
)

const validYAML = `
server:
  listen_addr: ":9090"
  log_level: debug
input:
  sample_rate: 48000
  channels: 2
  frame_ms: 20
vad:
  voice_multiplier: 2.5
  noise_percentile: 20
  band_weights:
    low: 0.5
    mid: 0.4
    high: 0.1
resample:
  cache_size: 50
  max_ratio: 8
consumers:
  - name: transcriber
    sample_rate: 16000
    allow_resampling: true
    quality: high_quality
  - name: wake
    quality: low_latency
fallback:
  degraded_threshold: 3
`

func TestLoadFromReaderValid(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("LoadFromReader() error = %v", err)
	}
	if cfg.Input.SampleRate != 48000 {
		t.Errorf("Input.SampleRate = %d, want 48000", cfg.Input.SampleRate)
	}
	if cfg.VAD.VoiceMultiplier != 2.5 {
		t.Errorf("VAD.VoiceMultiplier = %v, want 2.5", cfg.VAD.VoiceMultiplier)
	}
	if len(cfg.Consumers) != 2 {
		t.Fatalf("len(Consumers) = %d, want 2", len(cfg.Consumers))
	}
	if cfg.Consumers[0].Quality != QualityHighQuality {
		t.Errorf("Consumers[0].Quality = %q, want high_quality", cfg.Consumers[0].Quality)
	}
}

func TestLoadFromReaderDefaults(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader("consumers:\n  - name: asr\n"))
	if err != nil {
		t.Fatalf("LoadFromReader() error = %v", err)
	}
	if cfg.Input.SampleRate != DefaultSampleRate {
		t.Errorf("Input.SampleRate = %d, want %d", cfg.Input.SampleRate, DefaultSampleRate)
	}
	if cfg.Input.FrameMs != DefaultFrameMs {
		t.Errorf("Input.FrameMs = %d, want %d", cfg.Input.FrameMs, DefaultFrameMs)
	}
	if cfg.VAD.VoiceMultiplier != DefaultVoiceMultiplier {
		t.Errorf("VAD.VoiceMultiplier = %v, want %v", cfg.VAD.VoiceMultiplier, DefaultVoiceMultiplier)
	}
	if cfg.VAD.NoiseWindowMs != DefaultNoiseWindowMs {
		t.Errorf("VAD.NoiseWindowMs = %d, want %d", cfg.VAD.NoiseWindowMs, DefaultNoiseWindowMs)
	}
	if cfg.Resample.JobTimeoutMs != DefaultJobTimeoutMs {
		t.Errorf("Resample.JobTimeoutMs = %d, want %d", cfg.Resample.JobTimeoutMs, DefaultJobTimeoutMs)
	}
	if cfg.Fallback.DegradedThreshold != DefaultDegradedThreshold {
		t.Errorf("Fallback.DegradedThreshold = %d, want %d", cfg.Fallback.DegradedThreshold, DefaultDegradedThreshold)
	}
	if cfg.Consumers[0].Quality != QualityBalanced {
		t.Errorf("Consumers[0].Quality = %q, want balanced", cfg.Consumers[0].Quality)
	}
}

func TestLoadFromReaderUnknownField(t *testing.T) {
	if _, err := LoadFromReader(strings.NewReader("serverr:\n  listen_addr: \":1\"\n")); err == nil {
		t.Error("LoadFromReader() with unknown field: error = nil, want decode error")
	}
}

func TestValidateFailures(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantSub string
	}{
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Server.LogLevel = "loud" },
			wantSub: "log_level",
		},
		{
			name:    "pre-emphasis too strong",
			mutate:  func(c *Config) { c.VAD.PreEmphasis = 0.9 },
			wantSub: "pre_emphasis",
		},
		{
			name:    "high-pass too strong",
			mutate:  func(c *Config) { c.VAD.HighPass = 0.5 },
			wantSub: "high_pass",
		},
		{
			name:    "percentile above median",
			mutate:  func(c *Config) { c.VAD.NoisePercentile = 60 },
			wantSub: "noise_percentile",
		},
		{
			name: "band weights off",
			mutate: func(c *Config) {
				c.VAD.BandWeights = &BandWeights{Low: 0.7, Mid: 0.7, High: 0.1}
			},
			wantSub: "band_weights",
		},
		{
			name:    "bad quality",
			mutate:  func(c *Config) { c.Consumers[0].Quality = "fastest" },
			wantSub: "quality",
		},
		{
			name: "duplicate consumer name",
			mutate: func(c *Config) {
				c.Consumers = append(c.Consumers, ConsumerConfig{Name: "asr", Quality: QualityBalanced})
			},
			wantSub: "duplicate",
		},
		{
			name:    "unnamed consumer",
			mutate:  func(c *Config) { c.Consumers[0].Name = "" },
			wantSub: "name is required",
		},
		{
			name:    "three channel input",
			mutate:  func(c *Config) { c.Input.Channels = 3 },
			wantSub: "channels",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Consumers: []ConsumerConfig{{Name: "asr"}}}
			ApplyDefaults(cfg)
			tt.mutate(cfg)
			err := Validate(cfg)
			if err == nil {
				t.Fatal("Validate() error = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("Validate() error = %q, want mention of %q", err, tt.wantSub)
			}
		})
	}
}

func TestValidateJoinsMultipleErrors(t *testing.T) {
	cfg := &Config{Consumers: []ConsumerConfig{{Name: "asr"}}}
	ApplyDefaults(cfg)
	cfg.VAD.PreEmphasis = 0.95
	cfg.VAD.HighPass = 0.8
	err := Validate(cfg)
	if err == nil {
		t.Fatal("Validate() error = nil, want joined errors")
	}
	msg := err.Error()
	if !strings.Contains(msg, "pre_emphasis") || !strings.Contains(msg, "high_pass") {
		t.Errorf("Validate() error = %q, want both failures reported", msg)
	}
}
