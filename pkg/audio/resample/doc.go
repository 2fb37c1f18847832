// Package resample implements sample-rate conversion for the earshot
// pipeline: whole-buffer and streaming conversion, a use-case-driven method
// selector, a bounded result cache, and pooled scratch buffers.
//
// Method choice is a pure lookup over (rate ratio, use case) — see [Select] —
// so the latency/quality trade-off stays auditable in one place. Cheap linear
// interpolation serves wake-word and VAD paths at small ratios; polyphase and
// windowed-sinc filtering serve quality-sensitive transcription or large
// ratio changes where cheap methods alias.
//
// The [Engine]'s cache and buffer pool are process-wide shared resources and
// safe for concurrent use. A [StreamConverter] carries filter state across
// chunk boundaries and belongs to exactly one stream.
package resample
