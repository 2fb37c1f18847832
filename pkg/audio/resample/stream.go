package resample

import (
	"math"
)

// firState is one resampling stage with persistent history, so chunked input
// produces bit-identical output to whole-buffer conversion of the same
// samples.
type firState struct {
	kernel *firKernel
	step   float64 // source samples advanced per output sample

	// hist holds left filter context plus not-yet-consumable input.
	hist []float64
	// pos is the next output's centre position within hist.
	pos float64
	// left/right are the context samples needed around the centre.
	left, right int
}

func newFIRState(srcRate, dstRate int, kernel *firKernel) *firState {
	s := &firState{
		kernel: kernel,
		step:   float64(srcRate) / float64(dstRate),
	}
	if kernel != nil {
		s.left = kernel.center
		s.right = kernel.taps - kernel.center - 1
	} else {
		s.right = 1
	}
	// Prime with zero left-context so the first output is centred on the
	// first real sample.
	s.hist = make([]float64, s.left, s.left+4096)
	s.pos = float64(s.left)
	return s
}

// process appends in to the history and emits every output whose filter
// support is fully available, returning out extended in place.
func (s *firState) process(in, out []float64) []float64 {
	s.hist = append(s.hist, in...)

	limit := float64(len(s.hist) - s.right)
	for s.pos < limit {
		out = append(out, s.interpolate())
		s.pos += s.step
	}

	// Drop fully consumed history, keeping left context.
	if keep := int(s.pos) - s.left; keep > 0 {
		n := copy(s.hist, s.hist[keep:])
		s.hist = s.hist[:n]
		s.pos -= float64(keep)
	}
	return out
}

// flush pads with zero right-context and drains the remaining output.
func (s *firState) flush(out []float64) []float64 {
	pad := make([]float64, s.right)
	return s.process(pad, out)
}

func (s *firState) interpolate() float64 {
	i := int(s.pos)
	frac := s.pos - float64(i)

	if s.kernel == nil {
		// Linear: two-point interpolation.
		return s.hist[i]*(1-frac) + s.hist[i+1]*frac
	}

	k := s.kernel
	p := int(frac * float64(k.phases))
	if p >= k.phases {
		p = k.phases - 1
	}
	row := k.coeff[p]
	base := i - k.center
	var sum float64
	for t := 0; t < k.taps; t++ {
		sum += row[t] * s.hist[base+t]
	}
	return sum
}

// StreamConverter converts a stream of mono int16 chunks from one rate to
// another with continuity preserved across chunk boundaries. It belongs to
// exactly one stream and is not safe for concurrent use.
type StreamConverter struct {
	srcRate int
	dstRate int
	method  Method

	stages []*firState
	closed bool
}

// NewStreamConverter validates the rate pair against maxRatio and builds the
// stage chain for the method. MethodAdaptive with ratio > 4 cascades two
// polyphase stages through an intermediate rate.
func NewStreamConverter(srcRate, dstRate int, m Method, maxRatio float64) (*StreamConverter, error) {
	if err := ValidateRates(srcRate, dstRate, maxRatio); err != nil {
		return nil, err
	}
	ratio := float64(srcRate) / float64(dstRate)
	if ratio < 1 {
		ratio = 1 / ratio
	}

	c := &StreamConverter{srcRate: srcRate, dstRate: dstRate, method: m}

	if m == MethodAdaptive && ratio > 4 {
		// Two-stage path through the geometric-mean rate keeps each stage's
		// cutoff gentle enough for the short polyphase filter.
		mid := int(math.Round(math.Sqrt(float64(srcRate) * float64(dstRate))))
		c.stages = []*firState{
			newFIRState(srcRate, mid, kernelFor(MethodPolyphase, srcRate, mid)),
			newFIRState(mid, dstRate, kernelFor(MethodPolyphase, mid, dstRate)),
		}
		return c, nil
	}

	c.stages = []*firState{newFIRState(srcRate, dstRate, kernelFor(m, srcRate, dstRate))}
	return c, nil
}

// SrcRate returns the configured source rate.
func (c *StreamConverter) SrcRate() int { return c.srcRate }

// DstRate returns the configured target rate.
func (c *StreamConverter) DstRate() int { return c.dstRate }

// Method returns the configured conversion method.
func (c *StreamConverter) Method() Method { return c.method }

// Process converts one chunk. Output length varies chunk to chunk as the
// fractional read position drifts; an empty chunk yields empty output.
func (c *StreamConverter) Process(samples []int16) ([]int16, error) {
	if c.closed {
		return nil, ErrConverterClosed
	}
	if c.srcRate == c.dstRate {
		out := make([]int16, len(samples))
		copy(out, samples)
		return out, nil
	}
	if len(samples) == 0 {
		return nil, nil
	}

	in := getFloatBuf(len(samples))
	defer putFloatBuf(in)
	for i, s := range samples {
		in[i] = float64(s)
	}
	return clampToInt16(c.run(in, false)), nil
}

// Flush drains the tail of the stream. The converter stays usable only for
// Close afterwards.
func (c *StreamConverter) Flush() ([]int16, error) {
	if c.closed {
		return nil, ErrConverterClosed
	}
	if c.srcRate == c.dstRate {
		return nil, nil
	}
	return clampToInt16(c.run(nil, true)), nil
}

// Close releases the converter's history buffers. Safe to call repeatedly.
func (c *StreamConverter) Close() {
	c.closed = true
	c.stages = nil
}

// run pushes in through the stage chain, flushing every stage when final.
func (c *StreamConverter) run(in []float64, final bool) []float64 {
	cur := in
	for i, st := range c.stages {
		var out []float64
		out = st.process(cur, out)
		if final {
			out = st.flush(out)
		}
		if i > 0 {
			putFloatBuf(cur)
		}
		cur = out
	}
	return cur
}

func clampToInt16(in []float64) []int16 {
	out := make([]int16, len(in))
	for i, v := range in {
		switch {
		case v > 32767:
			out[i] = 32767
		case v < -32768:
			out[i] = -32768
		default:
			out[i] = int16(math.Round(v))
		}
	}
	return out
}
