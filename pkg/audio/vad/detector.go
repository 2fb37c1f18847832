package vad

import (
	"fmt"
	"time"
)

// State is the detector's position in the voiced/silence cycle.
type State int

const (
	// StateSilence: no voice activity; frames are skipped downstream.
	StateSilence State = iota

	// StateOnset: enough consecutive qualifying frames have accumulated to
	// commit to a voiced segment.
	StateOnset

	// StateVoice: an utterance is in progress.
	StateVoice

	// StateHangover: consecutive disqualifying frames seen during voice; the
	// segment lingers so natural pauses don't split an utterance.
	StateHangover
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateSilence:
		return "silence"
	case StateOnset:
		return "onset"
	case StateVoice:
		return "voice"
	case StateHangover:
		return "hangover"
	default:
		return "unknown"
	}
}

// Predicate is one independently named qualification path. A frame qualifies
// as voice when ANY enabled predicate holds, evaluated in order. Keeping the
// paths separate lets each be tuned, tested, and disabled in isolation.
type Predicate struct {
	// Name identifies the path in decisions, logs, and config.
	Name string

	// EnergyRatio is the minimum energy as a fraction of the adaptive
	// threshold.
	EnergyRatio float64

	// MinZCR/MaxZCR bound the zero-crossing rate when CheckZCR is set.
	MinZCR, MaxZCR float64
	CheckZCR       bool

	// Disabled skips the path without removing it from the ordered list.
	Disabled bool
}

func (p Predicate) holds(energy, zcr, threshold float64) bool {
	if p.Disabled || energy < p.EnergyRatio*threshold {
		return false
	}
	if p.CheckZCR && (zcr < p.MinZCR || zcr > p.MaxZCR) {
		return false
	}
	return true
}

// DefaultPredicates returns the tuned ordered path list. The graded OR
// restores coverage of low-energy/low-ZCR vowels that a single
// energy-AND-ZCR gate misses, while the lowest path stays bounded by the
// adaptive noise floor.
func DefaultPredicates() []Predicate {
	return []Predicate{
		{Name: "strong_energy", EnergyRatio: 0.8},
		{Name: "moderate_energy_with_zcr", EnergyRatio: 0.4, CheckZCR: true, MinZCR: 0.05, MaxZCR: 0.35},
		{Name: "low_zcr_voiced", EnergyRatio: 0.3, CheckZCR: true, MaxZCR: 0.12},
		{Name: "very_low_zcr_voiced", EnergyRatio: 0.2, CheckZCR: true, MaxZCR: 0.05},
		{Name: "energy_only_bypass", EnergyRatio: 0.15},
	}
}

// DetectorConfig holds the state-machine timing parameters.
type DetectorConfig struct {
	// FrameDuration is the fixed duration of each processed frame.
	// Default: 20 ms.
	FrameDuration time.Duration

	// VoiceDuration is the minimum run of consecutive qualifying frames
	// before an onset is committed. Default: 100 ms.
	VoiceDuration time.Duration

	// SilenceDuration is the hangover length: how long the detector lingers
	// after voice stops before declaring the utterance ended. Default: 500 ms.
	SilenceDuration time.Duration

	// HangoverEntryFrames is the number of consecutive disqualifying frames
	// during voice before the hangover starts. Default: 2.
	HangoverEntryFrames int

	// Predicates overrides the qualification paths. Nil selects
	// [DefaultPredicates].
	Predicates []Predicate
}

func (c *DetectorConfig) applyDefaults() {
	if c.FrameDuration <= 0 {
		c.FrameDuration = 20 * time.Millisecond
	}
	if c.VoiceDuration <= 0 {
		c.VoiceDuration = 100 * time.Millisecond
	}
	if c.SilenceDuration <= 0 {
		c.SilenceDuration = 500 * time.Millisecond
	}
	if c.HangoverEntryFrames <= 0 {
		c.HangoverEntryFrames = 2
	}
	if c.Predicates == nil {
		c.Predicates = DefaultPredicates()
	}
}

// Decision is the per-frame detector output.
type Decision struct {
	// IsVoice reports whether this frame qualified on any path. Utterance
	// boundaries additionally require the consecutive-frame gates; see
	// [BoundaryEvent].
	IsVoice bool

	// Confidence in [0,1], scaling with how far energy exceeded the
	// triggering path's ratio. 0 for silence.
	Confidence float64

	Energy float64
	ZCR    float64

	// State after processing this frame.
	State State

	// Path names the predicate that qualified the frame, "" for silence.
	Path string
}

// EventType distinguishes utterance boundary events.
type EventType int

const (
	// EventOnset fires once when a voiced segment is committed.
	EventOnset EventType = iota

	// EventUtteranceEnd fires once when the hangover expires.
	EventUtteranceEnd
)

// BoundaryEvent is a discrete utterance boundary emitted alongside a frame
// decision.
type BoundaryEvent struct {
	Type EventType

	// Timestamp of the frame that produced the event.
	Timestamp time.Duration

	// Duration and FrameCount describe the completed utterance; set only on
	// [EventUtteranceEnd].
	Duration   time.Duration
	FrameCount int
}

// Detector is the per-stream VAD state machine. Exactly one instance exists
// per stream; it is not safe for concurrent use.
type Detector struct {
	cfg         DetectorConfig
	onsetFrames int
	hangFrames  int

	state      State
	voiceRun   int
	silenceRun int
	hangRun    int

	utterStart  time.Duration
	utterFrames int
}

// NewDetector creates a detector. Zero-value config fields take defaults.
func NewDetector(cfg DetectorConfig) (*Detector, error) {
	cfg.applyDefaults()
	for i, p := range cfg.Predicates {
		if p.Name == "" {
			return nil, fmt.Errorf("vad: predicate %d has no name", i)
		}
		if p.EnergyRatio <= 0 {
			return nil, fmt.Errorf("vad: predicate %q has non-positive energy ratio", p.Name)
		}
	}
	d := &Detector{
		cfg:         cfg,
		onsetFrames: int(cfg.VoiceDuration / cfg.FrameDuration),
		hangFrames:  int(cfg.SilenceDuration / cfg.FrameDuration),
	}
	if d.onsetFrames < 1 {
		d.onsetFrames = 1
	}
	if d.hangFrames < 1 {
		d.hangFrames = 1
	}
	return d, nil
}

// State returns the current machine state.
func (d *Detector) State() State {
	return d.state
}

// Reset returns the machine to silence, discarding any partial utterance.
func (d *Detector) Reset() {
	d.state = StateSilence
	d.voiceRun = 0
	d.silenceRun = 0
	d.hangRun = 0
	d.utterFrames = 0
}

// Process consumes one frame's features and the current adaptive threshold,
// returning the per-frame decision and an optional boundary event. The
// detector never fails: malformed input shows up here as zero features and is
// treated as silence with confidence 0.
func (d *Detector) Process(f Features, threshold float64, ts time.Duration) (Decision, *BoundaryEvent) {
	dec := Decision{Energy: f.EnergyTotal, ZCR: f.ZCR}

	if threshold > 0 {
		for _, p := range d.cfg.Predicates {
			if p.holds(f.EnergyTotal, f.ZCR, threshold) {
				dec.IsVoice = true
				dec.Path = p.Name
				dec.Confidence = confidence(f.EnergyTotal, p.EnergyRatio*threshold)
				break
			}
		}
	}

	ev := d.advance(dec.IsVoice, ts)
	dec.State = d.state
	return dec, ev
}

// advance applies one frame's qualification to the state machine.
func (d *Detector) advance(qualifies bool, ts time.Duration) *BoundaryEvent {
	switch d.state {
	case StateSilence:
		if !qualifies {
			d.voiceRun = 0
			return nil
		}
		d.voiceRun++
		if d.voiceRun == 1 {
			d.utterStart = ts - time.Duration(d.voiceRun-1)*d.cfg.FrameDuration
		}
		d.utterFrames = d.voiceRun
		if d.voiceRun >= d.onsetFrames {
			d.state = StateOnset
			return &BoundaryEvent{Type: EventOnset, Timestamp: ts}
		}
		return nil

	case StateOnset, StateVoice:
		if qualifies {
			d.state = StateVoice
			d.silenceRun = 0
			d.utterFrames++
			return nil
		}
		d.silenceRun++
		d.utterFrames++
		if d.silenceRun >= d.cfg.HangoverEntryFrames {
			d.state = StateHangover
			d.hangRun = 0
		}
		return nil

	case StateHangover:
		d.utterFrames++
		if qualifies {
			// Re-qualification during hangover resumes the utterance.
			d.state = StateVoice
			d.silenceRun = 0
			d.hangRun = 0
			return nil
		}
		d.hangRun++
		if d.hangRun >= d.hangFrames {
			ev := &BoundaryEvent{
				Type:       EventUtteranceEnd,
				Timestamp:  ts,
				Duration:   ts - d.utterStart + d.cfg.FrameDuration,
				FrameCount: d.utterFrames,
			}
			d.Reset()
			return ev
		}
		return nil
	}
	return nil
}

// confidence scales with how far energy exceeds the triggering path's
// effective threshold: 0.5 at the threshold itself, 1.0 at double it.
func confidence(energy, pathThreshold float64) float64 {
	if pathThreshold <= 0 {
		return 0
	}
	c := 0.5 * energy / pathThreshold
	if c > 1 {
		c = 1
	}
	return c
}
