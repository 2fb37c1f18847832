package resample

import (
	"errors"
	"fmt"
)

// ErrInvalidRate is returned for zero or negative sample rates. It is a
// configuration-class error: startup must not proceed with an undefined rate.
var ErrInvalidRate = errors.New("resample: invalid sample rate")

// ErrConverterClosed is returned by a [StreamConverter] after Close.
var ErrConverterClosed = errors.New("resample: stream converter closed")

// UnsupportedConversionError reports a rate pair whose ratio exceeds the
// engine's supported maximum. It is recoverable: the fallback coordinator
// tries an alternate consumer before dropping the utterance.
type UnsupportedConversionError struct {
	SrcRate  int
	DstRate  int
	Ratio    float64
	MaxRatio float64
}

func (e *UnsupportedConversionError) Error() string {
	return fmt.Sprintf("resample: %d Hz → %d Hz ratio %.1f exceeds supported maximum %.1f",
		e.SrcRate, e.DstRate, e.Ratio, e.MaxRatio)
}

// ValidateRates checks a rate pair against maxRatio (≤ 0 disables the ratio
// check) without building a converter.
func ValidateRates(srcRate, dstRate int, maxRatio float64) error {
	if srcRate <= 0 || dstRate <= 0 {
		return fmt.Errorf("%w: %d Hz → %d Hz", ErrInvalidRate, srcRate, dstRate)
	}
	ratio := float64(srcRate) / float64(dstRate)
	if ratio < 1 {
		ratio = 1 / ratio
	}
	if maxRatio > 0 && ratio > maxRatio {
		return &UnsupportedConversionError{
			SrcRate: srcRate, DstRate: dstRate, Ratio: ratio, MaxRatio: maxRatio,
		}
	}
	return nil
}
