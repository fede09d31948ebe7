// Package capture turns microphone input into outbound audio frames.
//
// Device callbacks deliver blocks of any size at the device rate. The
// [Pipeline] resamples them to the session rate when needed, re-chunks them
// into fixed-size frames and, for every frame:
//
//  1. hands a copy to the level callback (always, for metering);
//  2. if the gate is open, encodes the frame as base64 PCM16 and sends it as
//     an input_audio_buffer.append event. Otherwise the frame is discarded.
//
// Frames are never retained after processing and are sent in the order they
// were produced.
package capture

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/parley/internal/protocol"
	"github.com/MrWong99/parley/pkg/audio"
)

// Outcome classifies what happened to one frame.
type Outcome string

const (
	// OutcomeSent means the frame was transmitted.
	OutcomeSent Outcome = "sent"

	// OutcomeSuppressed means the gate was closed and the frame discarded.
	OutcomeSuppressed Outcome = "suppressed"

	// OutcomeFailed means transmission was attempted and failed.
	OutcomeFailed Outcome = "failed"
)

// Sender is the part of the transport a Pipeline writes to.
type Sender interface {
	Send(ctx context.Context, msg any) error
	Open() bool
}

// Config configures a [Pipeline].
type Config struct {
	// DeviceRate is the rate of the samples passed to [Pipeline.Push].
	// Default: SessionRate.
	DeviceRate int

	// SessionRate is the rate of transmitted frames.
	// Default: [audio.DefaultSampleRate].
	SessionRate int

	// FrameSize is the number of samples per transmitted frame.
	// Default: [audio.DefaultFrameSize].
	FrameSize int

	// Sender receives the append events. Required.
	Sender Sender

	// Gate reports whether frames may be transmitted right now. Required.
	Gate func() bool

	// Level, if set, receives a copy of every frame.
	Level func(frame []float32)

	// Observe, if set, is told the outcome of every frame.
	Observe func(Outcome)
}

// Pipeline is the capture pipeline of one session. It is not safe for
// concurrent use; the session feeds it from its event loop.
type Pipeline struct {
	cfg     Config
	rs      *audio.Resampler
	pending []float32
}

// New validates cfg and returns a Pipeline.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Sender == nil {
		return nil, errors.New("capture: sender is required")
	}
	if cfg.Gate == nil {
		return nil, errors.New("capture: gate is required")
	}
	if cfg.SessionRate <= 0 {
		cfg.SessionRate = audio.DefaultSampleRate
	}
	if cfg.DeviceRate <= 0 {
		cfg.DeviceRate = cfg.SessionRate
	}
	if cfg.FrameSize <= 0 {
		cfg.FrameSize = audio.DefaultFrameSize
	}
	rs, err := audio.NewResampler(cfg.DeviceRate, cfg.SessionRate)
	if err != nil {
		return nil, fmt.Errorf("capture: %w", err)
	}
	return &Pipeline{
		cfg:     cfg,
		rs:      rs,
		pending: make([]float32, 0, cfg.FrameSize*2),
	}, nil
}

// FrameSize returns the number of samples per frame.
func (p *Pipeline) FrameSize() int { return p.cfg.FrameSize }

// Buffered returns the number of samples waiting for a complete frame.
func (p *Pipeline) Buffered() int { return len(p.pending) }

// Push adds device samples and processes every frame they complete. It stops
// at the first transmission error and returns it; the remaining complete
// frames stay buffered.
func (p *Pipeline) Push(ctx context.Context, samples []float32) error {
	in, err := p.rs.Process(samples)
	if err != nil {
		return fmt.Errorf("capture: %w", err)
	}
	p.pending = append(p.pending, in...)

	n := p.cfg.FrameSize
	consumed := 0
	for len(p.pending)-consumed >= n {
		frame := p.pending[consumed : consumed+n]
		consumed += n
		if err := p.process(ctx, frame); err != nil {
			p.compact(consumed)
			return err
		}
	}
	p.compact(consumed)
	return nil
}

// Reset discards any partially filled frame.
func (p *Pipeline) Reset() {
	p.pending = p.pending[:0]
}

func (p *Pipeline) process(ctx context.Context, frame []float32) error {
	if p.cfg.Level != nil {
		cp := make([]float32, len(frame))
		copy(cp, frame)
		p.cfg.Level(cp)
	}

	if !p.cfg.Gate() || !p.cfg.Sender.Open() {
		p.observe(OutcomeSuppressed)
		return nil
	}

	msg := protocol.NewInputAudioAppend(audio.EncodeFrame(frame))
	if err := p.cfg.Sender.Send(ctx, msg); err != nil {
		p.observe(OutcomeFailed)
		return fmt.Errorf("capture: send frame: %w", err)
	}
	p.observe(OutcomeSent)
	return nil
}

func (p *Pipeline) observe(o Outcome) {
	if p.cfg.Observe != nil {
		p.cfg.Observe(o)
	}
}

// compact drops the first n samples of the pending buffer in place.
func (p *Pipeline) compact(n int) {
	if n == 0 {
		return
	}
	rest := copy(p.pending, p.pending[n:])
	p.pending = p.pending[:rest]
}
