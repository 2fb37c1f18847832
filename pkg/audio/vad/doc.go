// Package vad implements frame-level voice activity detection for the
// earshot pipeline.
//
// Detection is split into three cooperating pieces, each owned exclusively by
// one stream:
//
//   - [FeatureExtractor] computes per-frame multi-band energy and
//     zero-crossing rate, keeping single-pole filter state across frames.
//   - [NoiseEstimator] tracks a rolling percentile of recent frame energies
//     and derives an adaptive detection threshold from the noise floor.
//   - [Detector] is the state machine that turns features plus threshold into
//     per-frame voiced/silence decisions and utterance boundary events.
//
// A frame qualifies as voice when ANY of an ordered list of independently
// named predicates holds. The redundancy is deliberate: gating on energy AND
// zero-crossing rate together over-selects sibilants and misses low-energy
// vowels, so graded OR paths restore balanced coverage, with the lowest path
// bounded by the adaptive noise floor to keep false positives controlled.
//
// None of the types in this package are safe for concurrent use; create one
// instance per stream.
package vad
