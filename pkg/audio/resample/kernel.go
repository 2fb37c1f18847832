package resample

import "math"

// Filter geometry per method. Phase count trades table size against
// interpolation accuracy; 64 phases keep phase-quantisation error below the
// int16 noise floor.
const (
	polyphaseTaps  = 16
	sincKaiserTaps = 48
	kernelPhases   = 64

	kaiserBeta = 8.6
)

// windowFunc evaluates a window at normalised position x ∈ [0,1].
type windowFunc func(x float64) float64

func hannWindow(x float64) float64 {
	return 0.5 - 0.5*math.Cos(2*math.Pi*x)
}

// kaiserWindow returns a Kaiser window with the given beta.
func kaiserWindow(beta float64) windowFunc {
	denom := besselI0(beta)
	return func(x float64) float64 {
		t := 2*x - 1
		return besselI0(beta*math.Sqrt(1-t*t)) / denom
	}
}

// besselI0 is the zeroth-order modified Bessel function of the first kind,
// evaluated by its power series.
func besselI0(x float64) float64 {
	sum := 1.0
	term := 1.0
	half := x / 2
	for k := 1; k < 32; k++ {
		term *= (half / float64(k)) * (half / float64(k))
		sum += term
		if term < 1e-12*sum {
			break
		}
	}
	return sum
}

// firKernel is a bank of windowed-sinc FIR coefficients, one row per
// fractional phase. Rows are normalised to unit DC gain.
type firKernel struct {
	taps   int
	phases int
	center int
	coeff  [][]float64
}

// newFIRKernel builds a kernel with the given tap count, cutoff as a
// fraction of the source Nyquist (≤ 1), and window.
func newFIRKernel(taps, phases int, cutoff float64, win windowFunc) *firKernel {
	if cutoff > 1 {
		cutoff = 1
	}
	center := taps/2 - 1
	k := &firKernel{
		taps:   taps,
		phases: phases,
		center: center,
		coeff:  make([][]float64, phases),
	}
	for p := 0; p < phases; p++ {
		frac := float64(p) / float64(phases)
		row := make([]float64, taps)
		var sum float64
		for t := 0; t < taps; t++ {
			offset := float64(t-center) - frac
			wpos := (offset + float64(taps)/2) / float64(taps)
			if wpos < 0 {
				wpos = 0
			} else if wpos > 1 {
				wpos = 1
			}
			row[t] = cutoff * sinc(cutoff*offset) * win(wpos)
			sum += row[t]
		}
		if sum != 0 {
			for t := 0; t < taps; t++ {
				row[t] /= sum
			}
		}
		k.coeff[p] = row
	}
	return k
}

func sinc(x float64) float64 {
	if x == 0 {
		return 1
	}
	px := math.Pi * x
	return math.Sin(px) / px
}

// kernelFor builds the filter kernel for a method and rate pair. Linear
// interpolation uses no kernel.
func kernelFor(m Method, srcRate, dstRate int) *firKernel {
	cutoff := 1.0
	if dstRate < srcRate {
		cutoff = float64(dstRate) / float64(srcRate)
	}
	switch m {
	case MethodSincKaiser:
		return newFIRKernel(sincKaiserTaps, kernelPhases, cutoff, kaiserWindow(kaiserBeta))
	case MethodPolyphase, MethodAdaptive:
		return newFIRKernel(polyphaseTaps, kernelPhases, cutoff, hannWindow)
	default:
		return nil
	}
}
