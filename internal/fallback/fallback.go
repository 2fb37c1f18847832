// Package fallback coordinates delivery recovery when a consumer's
// conversion path fails. The chain is fixed and ordered: resample for the
// primary consumer, then an alternate consumer that natively accepts the
// source rate, then a terminal per-utterance drop. A drop never stops the
// stream; the next utterance starts the chain fresh.
package fallback

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/earshot-audio/earshot/internal/compat"
	"github.com/earshot-audio/earshot/internal/config"
	"github.com/earshot-audio/earshot/internal/observe"
	"github.com/earshot-audio/earshot/pkg/audio"
	"github.com/earshot-audio/earshot/pkg/audio/resample"
)

// ErrDropped is returned by [Coordinator.Deliver] when the whole chain was
// exhausted and the utterance was discarded.
var ErrDropped = errors.New("fallback: utterance dropped")

// Sink receives finished utterance audio in its resolved format.
type Sink interface {
	Name() string
	Consume(ctx context.Context, f audio.AudioFrame) error
}

// Route pairs a sink with its startup-resolved delivery format.
type Route struct {
	Sink     Sink
	Resolved compat.ResolvedAudioConfig
}

// Coordinator walks the fallback chain for one utterance at a time.
// It is safe for concurrent use across streams.
type Coordinator struct {
	engine  *resample.Engine
	routes  []Route
	metrics *observe.Metrics
	monitor *DegradedMonitor
}

// NewCoordinator builds a coordinator over the resolved routes. metrics may
// not be nil; use [observe.DefaultMetrics] outside tests.
func NewCoordinator(engine *resample.Engine, routes []Route, metrics *observe.Metrics, monitor *DegradedMonitor) *Coordinator {
	return &Coordinator{
		engine:  engine,
		routes:  routes,
		metrics: metrics,
		monitor: monitor,
	}
}

// Deliver pushes one utterance to primary, converting as needed, and walks
// the fallback chain on failure. Every attempt is recorded with its stage
// and outcome.
func (c *Coordinator) Deliver(ctx context.Context, utt audio.AudioFrame, primary Route) error {
	log := observe.Logger(ctx)

	// Stage 1: convert for the primary consumer. A route resolved onto a
	// rate the consumer can only reach by converting carries an implicit
	// authorisation, whatever its allow_resampling flag says.
	if primary.Resolved.AllowResampling || primary.Resolved.NeedsResample ||
		utt.SampleRate == primary.Resolved.SampleRate {
		err := c.deliverConverted(ctx, utt, primary)
		if err == nil {
			c.metrics.RecordFallbackAttempt(ctx, "resample", "ok")
			c.monitor.RecordSuccess()
			return nil
		}
		c.metrics.RecordFallbackAttempt(ctx, "resample", "failed")
		log.Warn("primary delivery failed, trying alternate consumer",
			"consumer", primary.Resolved.Consumer, "error", err)
	} else {
		c.metrics.RecordFallbackAttempt(ctx, "resample", "skipped")
	}

	// Stage 2: an alternate consumer that natively accepts the source rate.
	// No engine invocation on this path.
	for _, alt := range c.routes {
		if alt.Resolved.Consumer == primary.Resolved.Consumer {
			continue
		}
		if alt.Resolved.SampleRate != utt.SampleRate {
			continue
		}
		adapted, err := adaptChannels(utt, alt.Resolved.Channels)
		if err != nil {
			continue
		}
		start := time.Now()
		if err := alt.Sink.Consume(ctx, adapted); err != nil {
			c.metrics.RecordFallbackAttempt(ctx, "alternate", "failed")
			log.Warn("alternate consumer failed",
				"consumer", alt.Resolved.Consumer, "error", err)
			continue
		}
		c.metrics.RecordFallbackAttempt(ctx, "alternate", "ok")
		log.Info("utterance delivered via alternate consumer",
			"consumer", alt.Resolved.Consumer,
			"elapsed", time.Since(start))
		c.monitor.RecordSuccess()
		return nil
	}

	// Stage 3: terminal drop. The stream continues with the next utterance.
	c.metrics.UtterancesDropped.Add(ctx, 1)
	c.monitor.RecordDrop()
	log.Error("utterance dropped after exhausting fallback chain",
		"consumer", primary.Resolved.Consumer,
		"source_rate", utt.SampleRate)
	return ErrDropped
}

// Drop records a terminal utterance drop that happened before the chain
// could run, e.g. a conversion job timing out waiting for a slot. Degraded
// tracking stays exact either way.
func (c *Coordinator) Drop(ctx context.Context, reason string) {
	c.metrics.RecordFallbackAttempt(ctx, "resample", reason)
	c.metrics.UtterancesDropped.Add(ctx, 1)
	c.monitor.RecordDrop()
	observe.Logger(ctx).Error("utterance dropped before fallback chain", "reason", reason)
}

// Monitor exposes the degraded-mode monitor for readiness checks.
func (c *Coordinator) Monitor() *DegradedMonitor {
	return c.monitor
}

// deliverConverted converts utt into primary's resolved format and hands it
// to the sink.
func (c *Coordinator) deliverConverted(ctx context.Context, utt audio.AudioFrame, primary Route) error {
	f := utt
	var err error
	if f.SampleRate != primary.Resolved.SampleRate {
		uc := UseCaseFor(primary.Resolved.Quality)
		start := time.Now()
		f, err = c.engine.ConvertFrame(f, primary.Resolved.SampleRate, uc)
		if err != nil {
			return fmt.Errorf("convert for %s: %w", primary.Resolved.Consumer, err)
		}
		c.metrics.RecordResample(ctx, resample.Select(utt.SampleRate, primary.Resolved.SampleRate, uc).String(), time.Since(start))
	}
	f, err = adaptChannels(f, primary.Resolved.Channels)
	if err != nil {
		return err
	}
	return primary.Sink.Consume(ctx, f)
}

func adaptChannels(f audio.AudioFrame, channels int) (audio.AudioFrame, error) {
	switch {
	case f.Channels == channels:
		return f, nil
	case f.Channels == 1 && channels == 2:
		out := f
		out.Data = audio.MonoToStereo(f.Data)
		out.Channels = 2
		return out, nil
	case f.Channels == 2 && channels == 1:
		out := f
		out.Data = audio.StereoToMono(f.Data)
		out.Channels = 1
		return out, nil
	default:
		return audio.AudioFrame{}, fmt.Errorf("fallback: cannot adapt %d channels to %d", f.Channels, channels)
	}
}

// UseCaseFor maps a consumer's configured quality onto the engine's use
// case. Unrecognised values fall back to the balanced path.
func UseCaseFor(q config.Quality) resample.UseCase {
	switch q {
	case config.QualityLowLatency:
		return resample.UseLowLatency
	case config.QualityHighQuality:
		return resample.UseHighQuality
	default:
		return resample.UseBalanced
	}
}
