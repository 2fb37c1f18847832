package fallback

import (
	"log/slog"
	"sync"
)

// DegradedMonitorConfig holds tuning knobs for a [DegradedMonitor].
type DegradedMonitorConfig struct {
	// Threshold is the run of consecutive drops that flips the pipeline
	// into degraded mode. Default: 5.
	Threshold int

	// OnDegraded is called once when the threshold is crossed, with the
	// current drop run. May be nil.
	OnDegraded func(run int)

	// OnRecovered is called once on the first successful delivery while
	// degraded. May be nil.
	OnRecovered func()
}

// DegradedMonitor tracks consecutive dropped utterances and raises a
// degraded-mode notification when the run crosses the threshold. A single
// successful delivery resets the run and, if degraded, raises recovery.
// It is safe for concurrent use from multiple streams.
type DegradedMonitor struct {
	threshold   int
	onDegraded  func(run int)
	onRecovered func()

	mu       sync.Mutex
	run      int
	degraded bool
}

// NewDegradedMonitor creates a [DegradedMonitor] with the supplied
// configuration. Zero-value config fields are replaced with defaults.
func NewDegradedMonitor(cfg DegradedMonitorConfig) *DegradedMonitor {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	return &DegradedMonitor{
		threshold:   cfg.Threshold,
		onDegraded:  cfg.OnDegraded,
		onRecovered: cfg.OnRecovered,
	}
}

// RecordDrop notes one dropped utterance.
func (m *DegradedMonitor) RecordDrop() {
	m.mu.Lock()
	m.run++
	justDegraded := !m.degraded && m.run >= m.threshold
	if justDegraded {
		m.degraded = true
	}
	run := m.run
	m.mu.Unlock()

	if justDegraded {
		slog.Error("pipeline entering degraded mode", "consecutive_drops", run)
		if m.onDegraded != nil {
			m.onDegraded(run)
		}
	}
}

// RecordSuccess notes one successful delivery.
func (m *DegradedMonitor) RecordSuccess() {
	m.mu.Lock()
	wasDegraded := m.degraded
	m.run = 0
	m.degraded = false
	m.mu.Unlock()

	if wasDegraded {
		slog.Info("pipeline recovered from degraded mode")
		if m.onRecovered != nil {
			m.onRecovered()
		}
	}
}

// Degraded reports whether the pipeline is currently degraded.
func (m *DegradedMonitor) Degraded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.degraded
}

// Run returns the current consecutive drop count.
func (m *DegradedMonitor) Run() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.run
}
