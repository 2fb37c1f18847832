// Package compat resolves the audio format each downstream consumer is fed,
// reconciling explicit configuration with the capabilities the consumer
// declares. Resolution happens once at startup; any contradiction is fatal
// so the pipeline never runs with an undefined format.
package compat

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/earshot-audio/earshot/internal/config"
	"github.com/earshot-audio/earshot/pkg/audio/resample"
)

// Plausible rate bounds for relaxed validation. Rates in this range outside
// a consumer's declared support list are accepted with a warning when the
// consumer can resample internally.
const (
	minPlausibleRate = 8000
	maxPlausibleRate = 192000
)

// ConsumerCapability describes what audio formats a consumer accepts. It is
// declared by the consumer implementation and treated as read-only input.
type ConsumerCapability struct {
	// Name must match the config entry.
	Name string

	// SupportedRates lists accepted sample rates in preference order.
	SupportedRates []int

	// DefaultRate is used when the config does not pin a rate. Must appear
	// in SupportedRates.
	DefaultRate int

	// CanResample reports whether the consumer converts internally, so
	// rates outside SupportedRates may still be delivered.
	CanResample bool

	// Channels is the channel count the consumer expects.
	Channels int
}

// ResolvedAudioConfig is the validated delivery format for one consumer.
type ResolvedAudioConfig struct {
	Consumer        string
	SampleRate      int
	Channels        int
	AllowResampling bool
	Quality         config.Quality

	// NeedsResample is true when the consumer's own conversion path must
	// handle the delivered rate. The engine is mandatory on this route.
	NeedsResample bool
}

// ConfigurationError reports an unresolvable consumer/config combination.
// It is startup-fatal: the daemon must not run with a partially resolved
// consumer set.
type ConfigurationError struct {
	Consumer string
	Field    string
	Detail   string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("compat: consumer %q: %s: %s", e.Consumer, e.Field, e.Detail)
}

// Resolve reconciles one consumer's config block with its declared
// capability. Precedence: explicit config > consumer default > error.
func Resolve(cfg *config.ConsumerConfig, cap ConsumerCapability) (ResolvedAudioConfig, error) {
	if cfg.Name != cap.Name {
		return ResolvedAudioConfig{}, &ConfigurationError{
			Consumer: cfg.Name,
			Field:    "name",
			Detail:   fmt.Sprintf("capability declared for %q", cap.Name),
		}
	}

	rate := cfg.SampleRate
	if rate == 0 {
		rate = cap.DefaultRate
	}
	if rate <= 0 {
		return ResolvedAudioConfig{}, &ConfigurationError{
			Consumer: cfg.Name,
			Field:    "sample_rate",
			Detail:   "no explicit rate configured and the consumer declares no default",
		}
	}

	resolved := ResolvedAudioConfig{
		Consumer:        cfg.Name,
		SampleRate:      rate,
		Channels:        cfg.Channels,
		AllowResampling: cfg.AllowResampling,
		Quality:         cfg.Quality,
	}
	if resolved.Channels == 0 {
		resolved.Channels = cap.Channels
	}
	if resolved.Channels == 0 {
		resolved.Channels = 1
	}

	if slices.Contains(cap.SupportedRates, rate) {
		return resolved, nil
	}

	// Rate outside the declared support list.
	if !cap.CanResample {
		return ResolvedAudioConfig{}, &ConfigurationError{
			Consumer: cfg.Name,
			Field:    "sample_rate",
			Detail: fmt.Sprintf("%d Hz is not supported (supported: %v) and the consumer cannot resample",
				rate, cap.SupportedRates),
		}
	}
	if cfg.StrictValidation {
		return ResolvedAudioConfig{}, &ConfigurationError{
			Consumer: cfg.Name,
			Field:    "sample_rate",
			Detail: fmt.Sprintf("%d Hz is not in the declared support list %v and strict_validation is on",
				rate, cap.SupportedRates),
		}
	}
	if rate < minPlausibleRate || rate > maxPlausibleRate {
		return ResolvedAudioConfig{}, &ConfigurationError{
			Consumer: cfg.Name,
			Field:    "sample_rate",
			Detail:   fmt.Sprintf("%d Hz is outside the plausible range [%d, %d]", rate, minPlausibleRate, maxPlausibleRate),
		}
	}

	slog.Warn("consumer rate outside declared support list; relying on internal resampling",
		"consumer", cfg.Name,
		"rate", rate,
		"supported", cap.SupportedRates,
	)
	resolved.NeedsResample = true
	return resolved, nil
}

// ResolveAll resolves every configured consumer against the capability
// registry. Any single failure aborts the whole resolution: the daemon
// starts with a fully resolved consumer set or not at all.
func ResolveAll(cfgs []config.ConsumerConfig, caps map[string]ConsumerCapability, inputRate int, maxRatio float64) ([]ResolvedAudioConfig, error) {
	out := make([]ResolvedAudioConfig, 0, len(cfgs))
	for i := range cfgs {
		cap, ok := caps[cfgs[i].Name]
		if !ok {
			return nil, &ConfigurationError{
				Consumer: cfgs[i].Name,
				Field:    "name",
				Detail:   "no capability registered for this consumer",
			}
		}
		r, err := Resolve(&cfgs[i], cap)
		if err != nil {
			return nil, err
		}
		// A consumer that needs conversion from the capture rate must both
		// allow it and sit within the engine's ratio limit.
		if r.SampleRate != inputRate {
			if !r.AllowResampling && !r.NeedsResample {
				return nil, &ConfigurationError{
					Consumer: r.Consumer,
					Field:    "allow_resampling",
					Detail: fmt.Sprintf("capture rate %d Hz differs from delivery rate %d Hz but resampling is not allowed",
						inputRate, r.SampleRate),
				}
			}
			if r.AllowResampling {
				if err := resample.ValidateRates(inputRate, r.SampleRate, maxRatio); err != nil {
					return nil, &ConfigurationError{
						Consumer: r.Consumer,
						Field:    "sample_rate",
						Detail:   err.Error(),
					}
				}
			}
		}
		out = append(out, r)
	}
	return out, nil
}
