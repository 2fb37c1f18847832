package resample

import "sync"

// Scratch buffers are pooled at power-of-two sizes so per-call conversion
// carries no steady-state allocation for the common frame sizes.
const (
	minPoolShift = 10 // 1 Ki samples
	maxPoolShift = 16 // 64 Ki samples
)

var floatPools [maxPoolShift - minPoolShift + 1]sync.Pool

func init() {
	for i := range floatPools {
		size := 1 << (minPoolShift + i)
		floatPools[i].New = func() any {
			b := make([]float64, size)
			return &b
		}
	}
}

// getFloatBuf returns a scratch slice of length n. Requests beyond the
// largest tier fall back to a plain allocation.
func getFloatBuf(n int) []float64 {
	for i := range floatPools {
		if size := 1 << (minPoolShift + i); n <= size {
			b := *(floatPools[i].Get().(*[]float64))
			return b[:n]
		}
	}
	return make([]float64, n)
}

// putFloatBuf returns a scratch slice to its tier. Slices whose capacity
// does not match a tier are dropped for the GC.
func putFloatBuf(b []float64) {
	c := cap(b)
	for i := range floatPools {
		if size := 1 << (minPoolShift + i); c == size {
			b = b[:size]
			floatPools[i].Put(&b)
			return
		}
	}
}
