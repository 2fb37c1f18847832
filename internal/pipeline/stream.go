package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"golang.org/x/sync/semaphore"

	"github.com/earshot-audio/earshot/internal/config"
	"github.com/earshot-audio/earshot/internal/fallback"
	"github.com/earshot-audio/earshot/internal/observe"
	"github.com/earshot-audio/earshot/pkg/audio"
	"github.com/earshot-audio/earshot/pkg/audio/resample"
	"github.com/earshot-audio/earshot/pkg/audio/vad"
)

// Lifecycle states and events for a stream's state machine.
const (
	stateIdle     = "idle"
	stateRunning  = "running"
	stateDraining = "draining"
	stateStopped  = "stopped"

	eventStart   = "start"
	eventDrain   = "drain"
	eventStop    = "stop"
	eventRebuild = "rebuild"
)

// maxUtteranceSeconds bounds the in-flight utterance buffer. Exceeding it
// means boundary events stopped arriving, which is an internal invariant
// violation, not merely long speech.
const maxUtteranceSeconds = 300

// DecisionConsumer is implemented by sinks that also want the per-frame
// detection stream and the utterance boundary events alongside delivered
// audio. Both calls happen on the capture path and must return quickly.
type DecisionConsumer interface {
	ConsumeDecision(ctx context.Context, d vad.Decision)
	ConsumeBoundary(ctx context.Context, ev vad.BoundaryEvent)
}

// StreamConfig wires one stream into the shared pipeline services.
type StreamConfig struct {
	// Input is the capture format chunks arrive in.
	Input audio.Format

	// FrameMs is the analysis frame length.
	FrameMs int

	// VAD carries the detection tuning.
	VAD config.VADConfig

	// Routes are the startup-resolved consumer routes. Low-latency routes
	// receive converted frames continuously; all others receive whole
	// utterances on detection boundaries.
	Routes []fallback.Route

	Engine      *resample.Engine
	Coordinator *fallback.Coordinator
	Metrics     *observe.Metrics

	// Sem bounds concurrent conversion jobs across all streams.
	Sem *semaphore.Weighted

	// JobTimeout is the soft deadline for one conversion job, including
	// the wait for a semaphore slot. Default: 500 ms.
	JobTimeout time.Duration

	// BacklogFrames is the framer capacity. Default: 16.
	BacklogFrames int
}

func (c *StreamConfig) applyDefaults() {
	if c.FrameMs <= 0 {
		c.FrameMs = 20
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 500 * time.Millisecond
	}
	if c.BacklogFrames <= 0 {
		c.BacklogFrames = 16
	}
}

// Stream is one session's processing context. It owns all mutable per-stream
// state: the feature extractor, noise estimator, detector, and framer. Frames
// within a stream are processed strictly in arrival order; different streams
// share nothing mutable and run concurrently.
//
// ProcessChunk must be called from a single capture goroutine. Conversion and
// delivery run on background goroutines behind the shared semaphore so the
// capture path never blocks on a consumer.
type Stream struct {
	ID  uuid.UUID
	cfg StreamConfig

	lifecycle *fsm.FSM

	mu        sync.Mutex
	input     audio.Format
	extractor *vad.FeatureExtractor
	noise     *vad.NoiseEstimator
	detector  *vad.Detector
	framer    *Framer

	frameBytes int
	frameBuf   []byte
	clock      time.Duration

	utterance  []int16
	onsetBuf   []int16
	utterSpan  func() // ends the active utterance span, nil outside one
	utterCtx   context.Context
	transients uint64

	workers []*frameWorker

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewStream builds a stream in the idle state.
func NewStream(cfg StreamConfig) (*Stream, error) {
	cfg.applyDefaults()
	if !cfg.Input.Valid() {
		return nil, fmt.Errorf("pipeline: invalid input format %+v", cfg.Input)
	}

	s := &Stream{
		ID:    uuid.New(),
		cfg:   cfg,
		input: cfg.Input,
	}
	if err := s.buildDetection(); err != nil {
		return nil, err
	}

	s.lifecycle = fsm.NewFSM(
		stateIdle,
		fsm.Events{
			{Name: eventStart, Src: []string{stateIdle}, Dst: stateRunning},
			{Name: eventDrain, Src: []string{stateRunning}, Dst: stateDraining},
			{Name: eventStop, Src: []string{stateRunning, stateDraining, stateIdle}, Dst: stateStopped},
			{Name: eventRebuild, Src: []string{stateRunning}, Dst: stateRunning},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				slog.Debug("stream lifecycle transition",
					"stream", s.ID, "from", e.Src, "to", e.Dst, "event", e.Event)
			},
		},
	)
	return s, nil
}

// buildDetection (re)creates all per-stream detection state for the current
// input format. Callers hold s.mu or have exclusive access.
func (s *Stream) buildDetection() error {
	vc := s.cfg.VAD

	fc := vad.FeatureConfig{
		PreEmphasis: vc.PreEmphasis,
		HighPass:    vc.HighPass,
	}
	if w := vc.BandWeights; w != nil {
		fc.Weights = vad.BandWeights{Low: w.Low, Mid: w.Mid, High: w.High}
	}
	ex, err := vad.NewFeatureExtractor(s.input.SampleRate, fc)
	if err != nil {
		return err
	}

	windowFrames := 0
	if vc.NoiseWindowMs > 0 && s.cfg.FrameMs > 0 {
		windowFrames = vc.NoiseWindowMs / s.cfg.FrameMs
	}
	ne, err := vad.NewNoiseEstimator(vad.NoiseConfig{
		WindowFrames:    windowFrames,
		Percentile:      vc.NoisePercentile,
		MinThreshold:    vc.EnergyThreshold,
		VoiceMultiplier: vc.VoiceMultiplier,
	})
	if err != nil {
		return err
	}

	preds := vad.DefaultPredicates()
	for _, name := range vc.DisabledPaths {
		for i := range preds {
			if preds[i].Name == name {
				preds[i].Disabled = true
			}
		}
	}
	det, err := vad.NewDetector(vad.DetectorConfig{
		FrameDuration:   time.Duration(s.cfg.FrameMs) * time.Millisecond,
		VoiceDuration:   time.Duration(vc.VoiceDurationMs) * time.Millisecond,
		SilenceDuration: time.Duration(vc.SilenceDurationMs) * time.Millisecond,
		Predicates:      preds,
	})
	if err != nil {
		return err
	}

	s.frameBytes = s.input.SampleRate * s.cfg.FrameMs / 1000 * 2 * s.input.Channels
	s.frameBuf = make([]byte, s.frameBytes)
	s.extractor = ex
	s.noise = ne
	s.detector = det
	s.framer = NewFramer(s.frameBytes, s.cfg.BacklogFrames)
	s.utterance = s.utterance[:0]
	s.onsetBuf = s.onsetBuf[:0]
	s.endUtteranceSpan()

	s.stopWorkers()
	var workers []*frameWorker
	for _, r := range s.cfg.Routes {
		if r.Resolved.Quality != config.QualityLowLatency {
			continue
		}
		conv, err := s.cfg.Engine.NewStream(s.input.SampleRate, r.Resolved.SampleRate, resample.UseLowLatency)
		if err != nil {
			return err
		}
		workers = append(workers, &frameWorker{
			route: r,
			conv:  conv,
			in:    make(chan audio.AudioFrame, s.cfg.BacklogFrames),
		})
	}
	s.workers = workers
	if s.ctx != nil {
		s.startWorkers(s.ctx)
	}
	return nil
}

// Start transitions the stream to running. ctx bounds all background
// conversion work; cancelling it is equivalent to Stop.
func (s *Stream) Start(ctx context.Context) error {
	if err := s.lifecycle.Event(ctx, eventStart); err != nil {
		return fmt.Errorf("pipeline: start stream %s: %w", s.ID, err)
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Lock()
	s.startWorkers(s.ctx)
	s.mu.Unlock()
	slog.Info("stream started", "stream", s.ID,
		"rate", s.input.SampleRate, "channels", s.input.Channels)
	return nil
}

// State returns the lifecycle state name.
func (s *Stream) State() string {
	return s.lifecycle.Current()
}

// Transients returns the count of dropped malformed or overrun chunks.
func (s *Stream) Transients() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transients
}

// ProcessChunk consumes one capture chunk in the stream's input format.
// Malformed chunks are dropped and reported as [TransientIOError]; the
// stream stays usable.
func (s *Stream) ProcessChunk(pcm []byte) error {
	if s.lifecycle.Current() != stateRunning {
		return fmt.Errorf("pipeline: stream %s is %s, not running", s.ID, s.lifecycle.Current())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(pcm)%(2*s.input.Channels) != 0 {
		s.transients++
		return &TransientIOError{Reason: fmt.Sprintf("chunk of %d bytes is not sample-aligned", len(pcm))}
	}

	pushErr := s.framer.Push(pcm)
	var tioe *TransientIOError
	if errors.As(pushErr, &tioe) {
		s.transients++
	}

	for s.framer.Next(s.frameBuf) {
		if err := s.processFrame(s.frameBuf); err != nil {
			return err
		}
	}
	return pushErr
}

// processFrame runs detection over one analysis frame and routes audio.
// Caller holds s.mu.
func (s *Stream) processFrame(frame []byte) error {
	ts := s.clock
	s.clock += time.Duration(s.cfg.FrameMs) * time.Millisecond

	mono := frame
	if s.input.Channels == 2 {
		mono = audio.StereoToMono(frame)
	}
	samples := audio.Samples(mono)

	feats := s.extractor.Process(samples)
	s.noise.Observe(feats.EnergyTotal)
	dec, ev := s.detector.Process(feats, s.noise.Threshold(), ts)
	s.cfg.Metrics.RecordVADFrame(s.ctx, dec.IsVoice)

	for _, r := range s.cfg.Routes {
		if dc, ok := r.Sink.(DecisionConsumer); ok {
			dc.ConsumeDecision(s.ctx, dec)
			if ev != nil {
				dc.ConsumeBoundary(s.ctx, *ev)
			}
		}
	}

	// Low-latency routes get every frame, in capture order.
	s.dispatchFrame(mono, ts)

	switch {
	case dec.State != vad.StateSilence:
		// The qualifying run that triggered the onset belongs to the
		// utterance too.
		s.utterance = append(s.utterance, s.onsetBuf...)
		s.onsetBuf = s.onsetBuf[:0]
		s.utterance = append(s.utterance, samples...)
		if max := s.input.SampleRate * maxUtteranceSeconds; len(s.utterance) > max {
			err := &InternalStateError{Stream: s.ID.String(), Reason: "utterance buffer exceeded bound without an end event"}
			s.rebuild(err)
			return err
		}
	case dec.IsVoice:
		// Qualifying frame before the onset threshold is reached; keep it
		// in case this run becomes an utterance.
		s.onsetBuf = append(s.onsetBuf, samples...)
	case ev != nil && ev.Type == vad.EventUtteranceEnd:
		// The hangover expiry frame still counts toward the utterance.
		s.utterance = append(s.utterance, samples...)
	default:
		s.onsetBuf = s.onsetBuf[:0]
	}

	if ev == nil {
		return nil
	}
	switch ev.Type {
	case vad.EventOnset:
		s.cfg.Metrics.VADTriggers.Add(s.ctx, 1)
		ctx, span := observe.StartSpan(s.ctx, "utterance")
		s.utterCtx = ctx
		s.utterSpan = func() { span.End() }
		observe.Logger(ctx).Info("utterance onset",
			"stream", s.ID, "timestamp", ev.Timestamp, "path", dec.Path)
	case vad.EventUtteranceEnd:
		s.finishUtterance(ev)
	}
	return nil
}

// finishUtterance hands the assembled utterance to every quality route via
// the fallback coordinator. Caller holds s.mu.
func (s *Stream) finishUtterance(ev *vad.BoundaryEvent) {
	if len(s.utterance) == 0 {
		s.endUtteranceSpan()
		return
	}
	utt := audio.AudioFrame{
		Data:       audio.Bytes(s.utterance),
		SampleRate: s.input.SampleRate,
		Channels:   1,
		Timestamp:  ev.Timestamp - ev.Duration,
	}
	s.utterance = s.utterance[:0]

	ctx := s.utterCtx
	if ctx == nil {
		ctx = s.ctx
	}
	endSpan := s.utterSpan
	s.utterSpan = nil
	s.utterCtx = nil

	observe.Logger(ctx).Info("utterance ended",
		"stream", s.ID, "duration", ev.Duration, "frames", ev.FrameCount)

	routes := s.qualityRoutes()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if endSpan != nil {
			defer endSpan()
		}
		for _, r := range routes {
			s.deliver(ctx, utt, r)
		}
	}()
}

// deliver runs one conversion/delivery job behind the shared semaphore with
// the soft timeout applied to the wait as well as the work.
func (s *Stream) deliver(ctx context.Context, utt audio.AudioFrame, r fallback.Route) {
	jobCtx, cancel := context.WithTimeout(ctx, s.cfg.JobTimeout)
	defer cancel()

	if err := s.cfg.Sem.Acquire(jobCtx, 1); err != nil {
		s.cfg.Coordinator.Drop(ctx, "timeout")
		return
	}
	defer s.cfg.Sem.Release(1)

	if err := s.cfg.Coordinator.Deliver(jobCtx, utt, r); err != nil && !errors.Is(err, fallback.ErrDropped) {
		observe.Logger(ctx).Warn("utterance delivery failed",
			"stream", s.ID, "consumer", r.Resolved.Consumer, "error", err)
	}
}

// frameWorker serializes low-latency frame delivery for one route. Frames
// arrive on an ordered channel and pass through a persistent converter, so
// filter state carries across frame boundaries and the consumer sees them
// in capture order.
type frameWorker struct {
	route fallback.Route
	conv  *resample.StreamConverter
	in    chan audio.AudioFrame
}

// dispatchFrame feeds the mono analysis frame to every low-latency route
// worker without blocking the capture path. When a worker's backlog is full
// the oldest pending frame is dropped, matching the framer's overflow
// policy. Caller holds s.mu.
func (s *Stream) dispatchFrame(mono []byte, ts time.Duration) {
	if len(s.workers) == 0 {
		return
	}
	f := audio.AudioFrame{
		Data:       append([]byte(nil), mono...),
		SampleRate: s.input.SampleRate,
		Channels:   1,
		Timestamp:  ts,
	}
	for _, w := range s.workers {
		select {
		case w.in <- f:
			continue
		default:
		}
		select {
		case <-w.in:
		default:
		}
		select {
		case w.in <- f:
		default:
		}
	}
}

// startWorkers launches the run loops of the current worker set. Caller
// holds s.mu.
func (s *Stream) startWorkers(ctx context.Context) {
	for _, w := range s.workers {
		s.wg.Add(1)
		go s.runWorker(ctx, w)
	}
}

// stopWorkers closes the worker channels; each run loop drains its backlog
// and exits. Caller holds s.mu or has exclusive access.
func (s *Stream) stopWorkers() {
	for _, w := range s.workers {
		close(w.in)
	}
	s.workers = nil
}

func (s *Stream) runWorker(ctx context.Context, w *frameWorker) {
	defer s.wg.Done()
	defer w.conv.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-w.in:
			if !ok {
				return
			}
			s.deliverFrame(ctx, w, f)
		}
	}
}

func (s *Stream) deliverFrame(ctx context.Context, w *frameWorker, f audio.AudioFrame) {
	out, err := w.conv.Process(audio.Samples(f.Data))
	if err != nil || len(out) == 0 {
		return
	}
	cf := audio.AudioFrame{
		Data:       audio.Bytes(out),
		SampleRate: w.route.Resolved.SampleRate,
		Channels:   1,
		Timestamp:  f.Timestamp,
	}
	if w.route.Resolved.Channels == 2 {
		cf.Data = audio.MonoToStereo(cf.Data)
		cf.Channels = 2
	}
	if err := w.route.Sink.Consume(ctx, cf); err != nil {
		slog.Debug("low-latency frame delivery failed",
			"stream", s.ID, "consumer", w.route.Resolved.Consumer, "error", err)
	}
}

func (s *Stream) qualityRoutes() []fallback.Route {
	out := make([]fallback.Route, 0, len(s.cfg.Routes))
	for _, r := range s.cfg.Routes {
		if r.Resolved.Quality != config.QualityLowLatency {
			out = append(out, r)
		}
	}
	return out
}

// SetInputFormat switches the capture format mid-stream. All detection
// state is rebuilt for the new rate; buffered audio in the old format is
// discarded.
func (s *Stream) SetInputFormat(f audio.Format) error {
	if !f.Valid() {
		return fmt.Errorf("pipeline: invalid input format %+v", f)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if f == s.input {
		return nil
	}
	old := s.input
	s.input = f
	if err := s.buildDetection(); err != nil {
		s.input = old
		return err
	}
	slog.Info("stream input format changed",
		"stream", s.ID, "rate", f.SampleRate, "channels", f.Channels)
	return nil
}

// Calibrate seeds the noise estimator from an ambient recording in the
// stream's input format and returns the resulting detection threshold.
// Call it before speech is expected; feature state is reset afterwards so
// the recording does not bleed into live detection.
func (s *Stream) Calibrate(pcm []byte) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(pcm)%(2*s.input.Channels) != 0 {
		return 0, &TransientIOError{Reason: fmt.Sprintf("calibration recording of %d bytes is not sample-aligned", len(pcm))}
	}
	if len(pcm) < s.frameBytes {
		return 0, fmt.Errorf("pipeline: calibration recording of %d bytes is shorter than one %d ms frame", len(pcm), s.cfg.FrameMs)
	}

	energies := make([]float64, 0, len(pcm)/s.frameBytes)
	for off := 0; off+s.frameBytes <= len(pcm); off += s.frameBytes {
		mono := pcm[off : off+s.frameBytes]
		if s.input.Channels == 2 {
			mono = audio.StereoToMono(mono)
		}
		feats := s.extractor.Process(audio.Samples(mono))
		energies = append(energies, feats.EnergyTotal)
	}
	s.extractor.Reset()

	threshold := s.noise.Calibrate(energies)
	slog.Info("stream calibrated", "stream", s.ID,
		"frames", len(energies), "threshold", threshold)
	return threshold, nil
}

// rebuild tears down and recreates per-stream state after an internal
// invariant violation. The stream keeps its ID and lifecycle. Caller holds
// s.mu.
func (s *Stream) rebuild(cause error) {
	slog.Error("rebuilding stream state", "stream", s.ID, "cause", cause)
	if err := s.buildDetection(); err != nil {
		// Construction succeeded once with this config; a rebuild failure
		// means the stream is unusable.
		slog.Error("stream rebuild failed, stopping", "stream", s.ID, "error", err)
		_ = s.lifecycle.Event(context.Background(), eventStop)
		return
	}
	_ = s.lifecycle.Event(context.Background(), eventRebuild)
}

// Drain stops accepting new chunks but lets in-flight conversions finish.
func (s *Stream) Drain(ctx context.Context) error {
	if err := s.lifecycle.Event(ctx, eventDrain); err != nil {
		return err
	}
	s.mu.Lock()
	s.stopWorkers()
	s.mu.Unlock()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// Stop cancels in-flight conversions and releases buffers without waiting
// for completion.
func (s *Stream) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	_ = s.lifecycle.Event(context.Background(), eventStop)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.framer != nil {
		s.framer.Reset()
	}
	s.stopWorkers()
	s.utterance = nil
	s.onsetBuf = nil
	s.endUtteranceSpan()
	slog.Info("stream stopped", "stream", s.ID)
}

// endUtteranceSpan closes any active utterance span. Caller holds s.mu or
// has exclusive access.
func (s *Stream) endUtteranceSpan() {
	if s.utterSpan != nil {
		s.utterSpan()
		s.utterSpan = nil
	}
	s.utterCtx = nil
}
