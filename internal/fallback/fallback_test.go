package fallback

import (
	"context"
	"errors"
	"math"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/earshot-audio/earshot/internal/compat"
	"github.com/earshot-audio/earshot/internal/config"
	"github.com/earshot-audio/earshot/internal/observe"
	"github.com/earshot-audio/earshot/pkg/audio"
	"github.com/earshot-audio/earshot/pkg/audio/resample"
)

type recordingSink struct {
	name   string
	fail   bool
	frames []audio.AudioFrame
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Consume(ctx context.Context, f audio.AudioFrame) error {
	if s.fail {
		return errors.New("sink unavailable")
	}
	s.frames = append(s.frames, f)
	return nil
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func toneFrame(rate, channels int) audio.AudioFrame {
	n := rate / 10 // 100 ms
	samples := make([]int16, n*channels)
	for i := range samples {
		samples[i] = int16(8000 * math.Sin(2*math.Pi*440*float64(i/channels)/float64(rate)))
	}
	return audio.AudioFrame{Data: audio.Bytes(samples), SampleRate: rate, Channels: channels}
}

func route(name string, sink Sink, rate int, allowResample bool) Route {
	return Route{
		Sink: sink,
		Resolved: compat.ResolvedAudioConfig{
			Consumer:        name,
			SampleRate:      rate,
			Channels:        1,
			AllowResampling: allowResample,
			Quality:         config.QualityBalanced,
		},
	}
}

func TestDeliverPrimaryWithResample(t *testing.T) {
	sink := &recordingSink{name: "asr"}
	primary := route("asr", sink, 16000, true)
	c := NewCoordinator(resample.NewEngine(resample.Config{}), []Route{primary},
		testMetrics(t), NewDegradedMonitor(DegradedMonitorConfig{}))

	if err := c.Deliver(context.Background(), toneFrame(48000, 1), primary); err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}
	if len(sink.frames) != 1 {
		t.Fatalf("delivered frames = %d, want 1", len(sink.frames))
	}
	if got := sink.frames[0].SampleRate; got != 16000 {
		t.Errorf("delivered rate = %d, want 16000", got)
	}
}

func TestDeliverConvertsWhenResolutionRequiresIt(t *testing.T) {
	// A consumer pinned to a rate outside its declared support list resolves
	// with NeedsResample set even when allow_resampling is off. Delivery
	// must convert for it rather than skip straight to the fallback chain.
	sink := &recordingSink{name: "bridge"}
	primary := route("bridge", sink, 22050, false)
	primary.Resolved.NeedsResample = true
	c := NewCoordinator(resample.NewEngine(resample.Config{}), []Route{primary},
		testMetrics(t), NewDegradedMonitor(DegradedMonitorConfig{}))

	if err := c.Deliver(context.Background(), toneFrame(16000, 1), primary); err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}
	if len(sink.frames) != 1 {
		t.Fatalf("delivered frames = %d, want 1", len(sink.frames))
	}
	if got := sink.frames[0].SampleRate; got != 22050 {
		t.Errorf("delivered rate = %d, want 22050", got)
	}
}

func TestDeliverFallsBackToNativeAlternate(t *testing.T) {
	primarySink := &recordingSink{name: "asr", fail: true}
	altSink := &recordingSink{name: "raw"}
	primary := route("asr", primarySink, 16000, true)
	alt := route("raw", altSink, 48000, false)
	c := NewCoordinator(resample.NewEngine(resample.Config{}), []Route{primary, alt},
		testMetrics(t), NewDegradedMonitor(DegradedMonitorConfig{}))

	if err := c.Deliver(context.Background(), toneFrame(48000, 1), primary); err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}
	if len(altSink.frames) != 1 {
		t.Fatalf("alternate frames = %d, want 1", len(altSink.frames))
	}
	// The alternate path must carry source audio untouched.
	if got := altSink.frames[0].SampleRate; got != 48000 {
		t.Errorf("alternate rate = %d, want source rate 48000", got)
	}
}

func TestDeliverDropsWhenChainExhausted(t *testing.T) {
	primarySink := &recordingSink{name: "asr", fail: true}
	altSink := &recordingSink{name: "wake", fail: true}
	primary := route("asr", primarySink, 16000, true)
	alt := route("wake", altSink, 48000, false)
	mon := NewDegradedMonitor(DegradedMonitorConfig{})
	c := NewCoordinator(resample.NewEngine(resample.Config{}), []Route{primary, alt}, testMetrics(t), mon)

	err := c.Deliver(context.Background(), toneFrame(48000, 1), primary)
	if !errors.Is(err, ErrDropped) {
		t.Fatalf("Deliver() error = %v, want ErrDropped", err)
	}
	if mon.Run() != 1 {
		t.Errorf("drop run = %d, want 1", mon.Run())
	}
}

func TestDeliverStereoAdaptation(t *testing.T) {
	sink := &recordingSink{name: "asr"}
	primary := route("asr", sink, 16000, true)
	c := NewCoordinator(resample.NewEngine(resample.Config{}), []Route{primary},
		testMetrics(t), NewDegradedMonitor(DegradedMonitorConfig{}))

	if err := c.Deliver(context.Background(), toneFrame(48000, 2), primary); err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}
	if got := sink.frames[0].Channels; got != 1 {
		t.Errorf("delivered channels = %d, want mono", got)
	}
}

func TestDegradedMonitorThreshold(t *testing.T) {
	var degradedRun int
	recovered := false
	m := NewDegradedMonitor(DegradedMonitorConfig{
		Threshold:   3,
		OnDegraded:  func(run int) { degradedRun = run },
		OnRecovered: func() { recovered = true },
	})

	m.RecordDrop()
	m.RecordDrop()
	if m.Degraded() {
		t.Fatal("Degraded() = true below threshold")
	}
	m.RecordDrop()
	if !m.Degraded() {
		t.Fatal("Degraded() = false at threshold")
	}
	if degradedRun != 3 {
		t.Errorf("OnDegraded run = %d, want 3", degradedRun)
	}

	m.RecordSuccess()
	if m.Degraded() {
		t.Error("Degraded() = true after success")
	}
	if !recovered {
		t.Error("OnRecovered not called")
	}
	if m.Run() != 0 {
		t.Errorf("Run() = %d after success, want 0", m.Run())
	}
}

func TestDegradedMonitorResetBelowThreshold(t *testing.T) {
	fired := false
	m := NewDegradedMonitor(DegradedMonitorConfig{
		Threshold:  3,
		OnDegraded: func(int) { fired = true },
	})
	m.RecordDrop()
	m.RecordDrop()
	m.RecordSuccess()
	m.RecordDrop()
	m.RecordDrop()
	if fired {
		t.Error("OnDegraded fired for non-consecutive drops")
	}
}
