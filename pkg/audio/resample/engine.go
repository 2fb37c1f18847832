package resample

import (
	"fmt"
	"time"

	"github.com/earshot-audio/earshot/pkg/audio"
)

const (
	// DefaultCacheSize bounds the whole-buffer conversion cache.
	DefaultCacheSize = 100
	// DefaultMaxRatio is the largest src/dst (or dst/src) rate ratio a
	// conversion may span in a single engine.
	DefaultMaxRatio = 12.0
)

// Hooks receive engine lifecycle notifications. Nil hooks are skipped.
type Hooks struct {
	CacheHit  func()
	CacheMiss func()
	Converted func(m Method, srcRate, dstRate int, elapsed time.Duration)
}

// Config tunes an [Engine]. Zero values fall back to defaults.
type Config struct {
	CacheSize int
	MaxRatio  float64
	Hooks     Hooks
}

// Stats is a point-in-time snapshot of engine counters.
type Stats struct {
	CacheHits   uint64
	CacheMisses uint64
	CacheSize   int
	Conversions uint64
}

// Engine performs whole-buffer and per-frame sample rate conversion with a
// bounded result cache. It is safe for concurrent use.
type Engine struct {
	cacheSize int
	maxRatio  float64
	hooks     Hooks
	cache     *conversionCache
}

// NewEngine builds an engine from cfg, applying defaults for zero fields.
func NewEngine(cfg Config) *Engine {
	if cfg.CacheSize == 0 {
		cfg.CacheSize = DefaultCacheSize
	}
	if cfg.MaxRatio <= 0 {
		cfg.MaxRatio = DefaultMaxRatio
	}
	return &Engine{
		cacheSize: cfg.CacheSize,
		maxRatio:  cfg.MaxRatio,
		hooks:     cfg.Hooks,
		cache:     newConversionCache(cfg.CacheSize),
	}
}

// NewStream opens a streaming converter using the method selected for uc.
// The caller owns the converter and must Close it.
func (e *Engine) NewStream(srcRate, dstRate int, uc UseCase) (*StreamConverter, error) {
	return NewStreamConverter(srcRate, dstRate, Select(srcRate, dstRate, uc), e.maxRatio)
}

// ConvertFor resamples using the method [Select] picks for uc.
func (e *Engine) ConvertFor(samples []int16, srcRate, dstRate int, uc UseCase) ([]int16, Method, error) {
	m := Select(srcRate, dstRate, uc)
	out, err := e.Convert(samples, srcRate, dstRate, m)
	return out, m, err
}

// Convert resamples a complete mono buffer from srcRate to dstRate using m.
// Identical inputs at identical rates are served from the cache; results are
// always caller-owned copies.
func (e *Engine) Convert(samples []int16, srcRate, dstRate int, m Method) ([]int16, error) {
	if err := ValidateRates(srcRate, dstRate, e.maxRatio); err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return []int16{}, nil
	}
	if srcRate == dstRate {
		out := make([]int16, len(samples))
		copy(out, samples)
		return out, nil
	}
	key := makeCacheKey(samples, srcRate, dstRate, m)
	if out, ok := e.cache.get(key); ok {
		if e.hooks.CacheHit != nil {
			e.hooks.CacheHit()
		}
		return out, nil
	}
	if e.hooks.CacheMiss != nil {
		e.hooks.CacheMiss()
	}

	start := time.Now()
	out, err := e.convertOnce(samples, srcRate, dstRate, m)
	if err != nil {
		return nil, err
	}
	e.cache.put(key, out)
	if e.hooks.Converted != nil {
		e.hooks.Converted(m, srcRate, dstRate, time.Since(start))
	}
	return out, nil
}

func (e *Engine) convertOnce(samples []int16, srcRate, dstRate int, m Method) ([]int16, error) {
	c, err := NewStreamConverter(srcRate, dstRate, m, e.maxRatio)
	if err != nil {
		return nil, err
	}
	defer c.Close()
	out, err := c.Process(samples)
	if err != nil {
		return nil, err
	}
	tail, err := c.Flush()
	if err != nil {
		return nil, err
	}
	return append(out, tail...), nil
}

// ConvertFrame resamples one frame to dstRate, preserving channel count and
// timestamp. Stereo frames are de-interleaved and each channel is converted
// independently so the channels stay phase-aligned.
func (e *Engine) ConvertFrame(f audio.AudioFrame, dstRate int, uc UseCase) (audio.AudioFrame, error) {
	if f.Malformed() {
		return audio.AudioFrame{}, fmt.Errorf("resample: malformed frame: %d bytes, %d channels", len(f.Data), f.Channels)
	}
	if f.SampleRate == dstRate {
		return f, nil
	}
	samples := audio.Samples(f.Data)
	var out []int16
	m := Select(f.SampleRate, dstRate, uc)
	switch f.Channels {
	case 1:
		converted, err := e.Convert(samples, f.SampleRate, dstRate, m)
		if err != nil {
			return audio.AudioFrame{}, err
		}
		out = converted
	case 2:
		left := make([]int16, 0, len(samples)/2)
		right := make([]int16, 0, len(samples)/2)
		for i := 0; i+1 < len(samples); i += 2 {
			left = append(left, samples[i])
			right = append(right, samples[i+1])
		}
		cl, err := e.Convert(left, f.SampleRate, dstRate, m)
		if err != nil {
			return audio.AudioFrame{}, err
		}
		cr, err := e.Convert(right, f.SampleRate, dstRate, m)
		if err != nil {
			return audio.AudioFrame{}, err
		}
		n := len(cl)
		if len(cr) < n {
			n = len(cr)
		}
		out = make([]int16, 0, 2*n)
		for i := 0; i < n; i++ {
			out = append(out, cl[i], cr[i])
		}
	default:
		return audio.AudioFrame{}, fmt.Errorf("resample: unsupported channel count %d", f.Channels)
	}
	return audio.AudioFrame{
		Data:       audio.Bytes(out),
		SampleRate: dstRate,
		Channels:   f.Channels,
		Timestamp:  f.Timestamp,
	}, nil
}

// Stats returns current cache and conversion counters.
func (e *Engine) Stats() Stats {
	hits, misses, size := e.cache.stats()
	return Stats{
		CacheHits:   hits,
		CacheMisses: misses,
		CacheSize:   size,
		Conversions: misses,
	}
}

// ResetCache drops all cached conversions and counters.
func (e *Engine) ResetCache() {
	e.cache.reset()
}
