package pipeline

import "fmt"

// TransientIOError marks a malformed or overrun input chunk. The offending
// data is dropped and counted; the stream continues with the next chunk.
type TransientIOError struct {
	Reason string
}

func (e *TransientIOError) Error() string {
	return "pipeline: transient input error: " + e.Reason
}

// InternalStateError marks a violated processing invariant. The stream's
// per-session state is torn down and rebuilt rather than continuing in an
// undefined state.
type InternalStateError struct {
	Stream string
	Reason string
}

func (e *InternalStateError) Error() string {
	return fmt.Sprintf("pipeline: stream %s internal state violation: %s", e.Stream, e.Reason)
}
