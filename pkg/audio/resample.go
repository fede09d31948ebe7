package audio

import (
	"fmt"

	resampling "github.com/tphakala/go-audio-resampling"
)

// Resampler converts a continuous mono stream from one sample rate to another.
// It keeps filter state between calls, so one Resampler must only ever see a
// single stream. When both rates match it passes samples through unchanged.
//
// A Resampler is not safe for concurrent use.
type Resampler struct {
	src, dst int
	r        resampling.Resampler
}

// NewResampler returns a Resampler from srcRate to dstRate.
func NewResampler(srcRate, dstRate int) (*Resampler, error) {
	if srcRate <= 0 || dstRate <= 0 {
		return nil, fmt.Errorf("audio: resampler: invalid rates %d -> %d", srcRate, dstRate)
	}
	rs := &Resampler{src: srcRate, dst: dstRate}
	if srcRate == dstRate {
		return rs, nil
	}
	r, err := resampling.New(&resampling.Config{
		InputRate:  float64(srcRate),
		OutputRate: float64(dstRate),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("audio: resampler %d -> %d: %w", srcRate, dstRate, err)
	}
	rs.r = r
	return rs, nil
}

// Passthrough reports whether the resampler leaves samples untouched.
func (rs *Resampler) Passthrough() bool { return rs.r == nil }

// Process converts the next block of the stream. The returned slice may be
// shorter or longer than the ratio suggests while the filter fills up.
func (rs *Resampler) Process(in []float32) ([]float32, error) {
	if rs.r == nil {
		return in, nil
	}
	buf := make([]float64, len(in))
	for i, s := range in {
		buf[i] = float64(s)
	}
	res, err := rs.r.Process(buf)
	if err != nil {
		return nil, fmt.Errorf("audio: resample: %w", err)
	}
	out := make([]float32, len(res))
	for i, s := range res {
		out[i] = float32(s)
	}
	return out, nil
}
