// Package playback schedules inbound audio chunks back-to-back on the output
// timeline.
//
// The [Scheduler] keeps one cursor, the next free sample position. Every chunk
// is placed exactly at the cursor and the cursor advances by the chunk length,
// so consecutive chunks of a turn never overlap and never leave a gap while
// they arrive faster than real time. If the output clock has already passed the
// cursor (the network fell behind) the cursor is pulled forward to "now"; this
// is the only forward jump. [Scheduler.Reset] is the only other cursor move and
// is called when a new turn starts; it first flushes the output so the previous
// turn's queued tail cannot play under the new one.
package playback

import (
	"fmt"

	"github.com/MrWong99/parley/pkg/audio"
)

// Result describes one scheduled chunk.
type Result struct {
	// At is the output sample position the chunk starts at.
	At int64

	// Samples is the chunk length in output samples.
	Samples int

	// Underrun is true when the cursor had fallen behind the output clock.
	Underrun bool
}

// Scheduler places decoded chunks on an [audio.Output]. It is not safe for
// concurrent use.
type Scheduler struct {
	out     audio.Output
	srcRate int
	dstRate int
	rs      *audio.Resampler
	next    int64
}

// New returns a Scheduler for chunks at srcRate played on out. When the
// output runs at a different rate, chunks are resampled.
func New(out audio.Output, srcRate int) (*Scheduler, error) {
	s := &Scheduler{
		out:     out,
		srcRate: srcRate,
		dstRate: out.Format().SampleRate,
	}
	if err := s.newResampler(); err != nil {
		return nil, err
	}
	s.next = out.Position()
	return s, nil
}

// NextPlayTime returns the cursor in output samples.
func (s *Scheduler) NextPlayTime() int64 { return s.next }

// Reset discards everything still scheduled on the output, moves the cursor
// to the current output position and drops any resampler state carried over
// from the previous turn.
func (s *Scheduler) Reset() {
	s.out.Flush()
	s.next = s.out.Position()
	if !s.rs.Passthrough() {
		// Same rates as before, cannot fail.
		_ = s.newResampler()
	}
}

// Enqueue decodes a base64 PCM16 chunk and schedules it.
func (s *Scheduler) Enqueue(payload string) (Result, error) {
	samples, err := audio.DecodeChunk(payload)
	if err != nil {
		return Result{}, fmt.Errorf("playback: %w", err)
	}
	return s.Play(samples)
}

// Play schedules samples (at the source rate) at the cursor and advances it.
// Empty input is a no-op.
func (s *Scheduler) Play(samples []float32) (Result, error) {
	out, err := s.rs.Process(samples)
	if err != nil {
		return Result{}, fmt.Errorf("playback: %w", err)
	}
	if len(out) == 0 {
		return Result{At: s.next}, nil
	}

	var res Result
	if now := s.out.Position(); s.next < now {
		s.next = now
		res.Underrun = true
	}
	res.At = s.next
	res.Samples = len(out)

	if err := s.out.Schedule(s.next, out); err != nil {
		return res, fmt.Errorf("playback: schedule: %w", err)
	}
	s.next += int64(len(out))
	return res, nil
}

func (s *Scheduler) newResampler() error {
	rs, err := audio.NewResampler(s.srcRate, s.dstRate)
	if err != nil {
		return fmt.Errorf("playback: %w", err)
	}
	s.rs = rs
	return nil
}
