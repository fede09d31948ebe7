package audio

import "time"

// DefaultSampleRate is the rate both directions of the realtime channel use.
const DefaultSampleRate = 24000

// DefaultFrameSize is the number of samples per outbound capture frame.
const DefaultFrameSize = 4096

// Format describes the sample rate and channel count of an audio stream.
// The session pipelines are mono; Channels exists so device adapters can
// describe what they actually opened.
type Format struct {
	SampleRate int
	Channels   int
}

// Mono returns a single-channel format at rate.
func Mono(rate int) Format {
	return Format{SampleRate: rate, Channels: 1}
}

// Duration returns how long n samples (per channel) last at this format's rate.
func (f Format) Duration(n int64) time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(f.SampleRate)
}

// Samples returns the number of samples (per channel) in d, rounded down.
func (f Format) Samples(d time.Duration) int64 {
	return int64(d) * int64(f.SampleRate) / int64(time.Second)
}

// String returns a human-readable description, e.g. "24000Hz mono".
func (f Format) String() string {
	return formatString(f.SampleRate, f.Channels)
}
