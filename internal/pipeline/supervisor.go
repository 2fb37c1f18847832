package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/earshot-audio/earshot/internal/config"
	"github.com/earshot-audio/earshot/internal/fallback"
	"github.com/earshot-audio/earshot/internal/observe"
	"github.com/earshot-audio/earshot/pkg/audio"
	"github.com/earshot-audio/earshot/pkg/audio/resample"
)

// Supervisor owns the shared pipeline services: the conversion engine, the
// fallback coordinator with its degraded-mode monitor, the conversion-job
// semaphore, and the registry of live streams. One supervisor exists per
// process.
type Supervisor struct {
	cfg     *config.Config
	routes  []fallback.Route
	metrics *observe.Metrics

	engine      *resample.Engine
	coordinator *fallback.Coordinator
	monitor     *fallback.DegradedMonitor
	sem         *semaphore.Weighted

	mu      sync.Mutex
	streams map[uuid.UUID]*Stream
	running bool

	ctx    context.Context
	cancel context.CancelFunc
}

// NewSupervisor wires the shared services from the validated config and the
// startup-resolved consumer routes.
func NewSupervisor(cfg *config.Config, routes []fallback.Route, metrics *observe.Metrics) *Supervisor {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}

	engine := resample.NewEngine(resample.Config{
		CacheSize: cfg.Resample.CacheSize,
		MaxRatio:  cfg.Resample.MaxRatio,
		Hooks: resample.Hooks{
			CacheHit: func() {
				metrics.CacheHits.Add(context.Background(), 1)
			},
			CacheMiss: func() {
				metrics.CacheMisses.Add(context.Background(), 1)
			},
			Converted: func(m resample.Method, srcRate, dstRate int, elapsed time.Duration) {
				metrics.RecordResample(context.Background(), m.String(), elapsed)
			},
		},
	})

	monitor := fallback.NewDegradedMonitor(fallback.DegradedMonitorConfig{
		Threshold: cfg.Fallback.DegradedThreshold,
	})

	maxParallel := cfg.Resample.MaxParallel
	if maxParallel <= 0 {
		maxParallel = config.DefaultMaxParallel
	}

	return &Supervisor{
		cfg:         cfg,
		routes:      routes,
		metrics:     metrics,
		engine:      engine,
		coordinator: fallback.NewCoordinator(engine, routes, metrics, monitor),
		monitor:     monitor,
		sem:         semaphore.NewWeighted(int64(maxParallel)),
		streams:     make(map[uuid.UUID]*Stream),
	}
}

// Start transitions the supervisor to running. ctx bounds the lifetime of
// every stream opened afterwards.
func (sv *Supervisor) Start(ctx context.Context) {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	if sv.running {
		return
	}
	sv.ctx, sv.cancel = context.WithCancel(ctx)
	sv.running = true
	slog.Info("pipeline supervisor started",
		"consumers", len(sv.routes),
		"max_parallel", sv.cfg.Resample.MaxParallel)
}

// OpenStream creates and starts a stream for the given capture format. The
// default format comes from the input config when f is the zero value.
func (sv *Supervisor) OpenStream(f audio.Format) (*Stream, error) {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	if !sv.running {
		return nil, fmt.Errorf("pipeline: supervisor is not running")
	}

	if f == (audio.Format{}) {
		f = audio.Format{
			SampleRate: sv.cfg.Input.SampleRate,
			Channels:   sv.cfg.Input.Channels,
		}
	}

	s, err := NewStream(StreamConfig{
		Input:       f,
		FrameMs:     sv.cfg.Input.FrameMs,
		VAD:         sv.cfg.VAD,
		Routes:      sv.routes,
		Engine:      sv.engine,
		Coordinator: sv.coordinator,
		Metrics:     sv.metrics,
		Sem:         sv.sem,
		JobTimeout:  time.Duration(sv.cfg.Resample.JobTimeoutMs) * time.Millisecond,
	})
	if err != nil {
		return nil, err
	}
	if err := s.Start(sv.ctx); err != nil {
		return nil, err
	}

	sv.streams[s.ID] = s
	sv.metrics.ActiveStreams.Add(sv.ctx, 1)
	return s, nil
}

// CloseStream drains and removes a stream. Unknown IDs are a no-op.
func (sv *Supervisor) CloseStream(ctx context.Context, id uuid.UUID) error {
	sv.mu.Lock()
	s, ok := sv.streams[id]
	if ok {
		delete(sv.streams, id)
	}
	sv.mu.Unlock()
	if !ok {
		return nil
	}

	err := s.Drain(ctx)
	s.Stop()
	sv.metrics.ActiveStreams.Add(context.Background(), -1)
	return err
}

// Stream looks up a live stream by ID.
func (sv *Supervisor) Stream(id uuid.UUID) (*Stream, bool) {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	s, ok := sv.streams[id]
	return s, ok
}

// StreamCount returns the number of live streams.
func (sv *Supervisor) StreamCount() int {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	return len(sv.streams)
}

// Engine exposes the shared conversion engine.
func (sv *Supervisor) Engine() *resample.Engine {
	return sv.engine
}

// Monitor exposes the degraded-mode monitor.
func (sv *Supervisor) Monitor() *fallback.DegradedMonitor {
	return sv.monitor
}

// SetVADConfig applies hot-reloaded detection tuning to future streams.
// Existing streams keep their tuning until their next rebuild.
func (sv *Supervisor) SetVADConfig(vc config.VADConfig) {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	sv.cfg.VAD = vc
	slog.Info("detection tuning updated",
		"energy_threshold", vc.EnergyThreshold,
		"voice_multiplier", vc.VoiceMultiplier)
}

// Ready reports whether the pipeline can accept work: it must be running
// and not in degraded mode.
func (sv *Supervisor) Ready() error {
	sv.mu.Lock()
	running := sv.running
	sv.mu.Unlock()
	if !running {
		return fmt.Errorf("pipeline: supervisor is not running")
	}
	if sv.monitor.Degraded() {
		return fmt.Errorf("pipeline: degraded, %d consecutive utterance drops", sv.monitor.Run())
	}
	return nil
}

// Stop drains every stream and shuts the supervisor down. ctx bounds the
// total drain time; streams still busy when it expires are cancelled.
func (sv *Supervisor) Stop(ctx context.Context) error {
	sv.mu.Lock()
	if !sv.running {
		sv.mu.Unlock()
		return nil
	}
	sv.running = false
	streams := make([]*Stream, 0, len(sv.streams))
	for _, s := range sv.streams {
		streams = append(streams, s)
	}
	sv.streams = make(map[uuid.UUID]*Stream)
	sv.mu.Unlock()

	var firstErr error
	for _, s := range streams {
		if err := s.Drain(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
		s.Stop()
		sv.metrics.ActiveStreams.Add(context.Background(), -1)
	}
	sv.cancel()
	slog.Info("pipeline supervisor stopped", "streams_closed", len(streams))
	return firstErr
}
