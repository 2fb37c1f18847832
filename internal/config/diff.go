package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked: detection tuning
// and the log level. Consumer topology and input format changes require a
// restart and are reported so the watcher can warn about them.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// VADChanged is true when any detection tunable changed. NewVAD holds
	// the full replacement block; per-stream state is rebuilt from it.
	VADChanged bool
	NewVAD     VADConfig

	// RequiresRestart is true when a change outside the hot-reloadable set
	// was detected (consumers, input format, resample engine, server).
	RequiresRestart bool
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if !vadEqual(&old.VAD, &new.VAD) {
		d.VADChanged = true
		d.NewVAD = new.VAD
	}

	if old.Server.ListenAddr != new.Server.ListenAddr ||
		old.Input != new.Input ||
		old.Resample != new.Resample ||
		old.Fallback != new.Fallback ||
		!slices.Equal(old.Consumers, new.Consumers) {
		d.RequiresRestart = true
	}

	return d
}

func vadEqual(a, b *VADConfig) bool {
	if a.EnergyThreshold != b.EnergyThreshold ||
		a.VoiceMultiplier != b.VoiceMultiplier ||
		a.NoisePercentile != b.NoisePercentile ||
		a.NoiseWindowMs != b.NoiseWindowMs ||
		a.VoiceDurationMs != b.VoiceDurationMs ||
		a.SilenceDurationMs != b.SilenceDurationMs ||
		a.PreEmphasis != b.PreEmphasis ||
		a.HighPass != b.HighPass {
		return false
	}
	if (a.BandWeights == nil) != (b.BandWeights == nil) {
		return false
	}
	if a.BandWeights != nil && *a.BandWeights != *b.BandWeights {
		return false
	}
	return slices.Equal(a.DisabledPaths, b.DisabledPaths)
}
