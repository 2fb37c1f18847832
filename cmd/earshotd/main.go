// Command earshotd runs the earshot audio preprocessing daemon: it ingests
// raw capture audio, runs voice activity detection, and hands detected
// utterances to the configured downstream consumers at the rates they accept.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/earshot-audio/earshot/internal/compat"
	"github.com/earshot-audio/earshot/internal/config"
	"github.com/earshot-audio/earshot/internal/fallback"
	"github.com/earshot-audio/earshot/internal/health"
	"github.com/earshot-audio/earshot/internal/observe"
	"github.com/earshot-audio/earshot/internal/pipeline"
	"github.com/earshot-audio/earshot/pkg/audio"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "earshotd: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "earshotd: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("earshotd starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"input_rate", cfg.Input.SampleRate,
		"consumers", len(cfg.Consumers),
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownObserve, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "earshotd",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}

	// ── Consumer resolution ───────────────────────────────────────────────────
	// Capability resolution is startup-fatal: a consumer the pipeline cannot
	// feed correctly must never run half-configured.
	caps := builtinCapabilities(cfg.Consumers)
	resolved, err := compat.ResolveAll(cfg.Consumers, caps, cfg.Input.SampleRate, cfg.Resample.MaxRatio)
	if err != nil {
		slog.Error("consumer configuration rejected", "err", err)
		return 1
	}
	routes := make([]fallback.Route, len(resolved))
	for i, r := range resolved {
		routes[i] = fallback.Route{
			Sink:     &logSink{name: r.Consumer},
			Resolved: r,
		}
		slog.Info("consumer route resolved",
			"consumer", r.Consumer,
			"rate", r.SampleRate,
			"channels", r.Channels,
			"quality", r.Quality,
			"needs_resample", r.NeedsResample,
		)
	}

	// ── Pipeline ──────────────────────────────────────────────────────────────
	supervisor := pipeline.NewSupervisor(cfg, routes, observe.DefaultMetrics())
	supervisor.Start(ctx)

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevelChanged {
			slog.SetDefault(newLogger(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if d.VADChanged {
			supervisor.SetVADConfig(d.NewVAD)
		}
		if d.RequiresRestart {
			slog.Warn("config change requires a restart to take effect")
		}
	})
	if err != nil {
		slog.Error("failed to start config watcher", "err", err)
		return 1
	}
	defer watcher.Stop()

	// ── HTTP: metrics + probes ────────────────────────────────────────────────
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	health.New(
		health.Static("config", func() error { return nil }),
		health.Static("pipeline", supervisor.Ready),
	).Register(mux)

	httpSrv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	httpErr := make(chan error, 1)
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErr <- err
		}
	}()

	slog.Info("earshotd ready — press Ctrl+C to shut down")

	select {
	case err := <-httpErr:
		slog.Error("http server error", "err", err)
		return 1
	case <-ctx.Done():
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown error", "err", err)
	}
	if err := supervisor.Stop(shutdownCtx); err != nil {
		slog.Warn("pipeline shutdown error", "err", err)
	}
	if err := shutdownObserve(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}

	slog.Info("goodbye")
	return 0
}

// newLogger builds a text slog handler at the configured level.
func newLogger(level config.LogLevel) *slog.Logger {
	var l slog.Level
	switch level {
	case config.LogDebug:
		l = slog.LevelDebug
	case config.LogWarn:
		l = slog.LevelWarn
	case config.LogError:
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

// ── Consumer capabilities ─────────────────────────────────────────────────────

// builtinCapabilities derives a capability profile for each configured
// consumer from its quality archetype. Real consumers will eventually push
// their capabilities over a registration API; until then these profiles
// describe the engines earshot is deployed against.
func builtinCapabilities(consumers []config.ConsumerConfig) map[string]compat.ConsumerCapability {
	caps := make(map[string]compat.ConsumerCapability, len(consumers))
	for _, c := range consumers {
		channels := c.Channels
		if channels == 0 {
			channels = 1
		}
		cap := compat.ConsumerCapability{
			Name:     c.Name,
			Channels: channels,
		}
		switch c.Quality {
		case config.QualityLowLatency:
			// Wake-word engines run fixed small models.
			cap.SupportedRates = []int{16000}
			cap.DefaultRate = 16000
			cap.CanResample = false
		case config.QualityHighQuality:
			// Transcription engines accept wideband input and can resample
			// internally when they must.
			cap.SupportedRates = []int{16000, 24000, 44100, 48000}
			cap.DefaultRate = 16000
			cap.CanResample = true
		default:
			cap.SupportedRates = []int{8000, 16000, 48000}
			cap.DefaultRate = 16000
			cap.CanResample = true
		}
		caps[c.Name] = cap
	}
	return caps
}

// ── Delivery stub ─────────────────────────────────────────────────────────────

// logSink stands in for a downstream consumer connection. Transport to real
// engines lives outside this process; the sink records what would have been
// sent.
type logSink struct {
	name string
}

func (s *logSink) Name() string { return s.name }

func (s *logSink) Consume(ctx context.Context, f audio.AudioFrame) error {
	observe.Logger(ctx).Debug("frame delivered",
		"consumer", s.name,
		"rate", f.SampleRate,
		"channels", f.Channels,
		"duration", f.Duration(),
	)
	return nil
}
