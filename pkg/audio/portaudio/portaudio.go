// Package portaudio provides an [audio.Device] backed by the host's default
// input and output devices through PortAudio.
//
// Playback runs as a PortAudio callback stream that pulls samples from a
// [mixer.Timeline]; the timeline position is therefore the hardware clock.
// Capture opens a second callback stream per microphone.
//
// Requires the PortAudio C library (pkg-config portaudio-2.0).
package portaudio

import (
	"log/slog"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	pa "github.com/gordonklaus/portaudio"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/audio/mixer"
)

// Compile-time interface assertions.
var (
	_ audio.Device     = (*Device)(nil)
	_ audio.Microphone = (*microphone)(nil)
)

// DefaultOutputBuffer is the number of frames per output callback.
const DefaultOutputBuffer = 1024

// Option configures a [Device].
type Option func(*config)

type config struct {
	frameSize    int
	outputBuffer int
	gain         float32
}

// WithFrameSize sets the number of samples delivered per capture callback.
func WithFrameSize(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.frameSize = n
		}
	}
}

// WithOutputBuffer sets the number of frames per output callback.
func WithOutputBuffer(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.outputBuffer = n
		}
	}
}

// WithGain sets the master playback gain.
func WithGain(g float32) Option {
	return func(c *config) { c.gain = g }
}

// Opener opens a new [Device] per call and keeps the master gain of the
// devices it opened adjustable at runtime.
type Opener struct {
	opts []Option

	mu      sync.Mutex
	gain    float32
	devices []*Device
}

var _ audio.Opener = (*Opener)(nil)

// NewOpener returns an Opener that applies opts to every device.
func NewOpener(opts ...Option) *Opener {
	cfg := config{gain: mixer.DefaultGain}
	for _, o := range opts {
		o(&cfg)
	}
	return &Opener{opts: opts, gain: cfg.gain}
}

// Open implements [audio.Opener].
func (o *Opener) Open(ctx context.Context, format audio.Format) (audio.Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	dev, err := Open(format, append(o.opts, WithGain(o.gain))...)
	if err != nil {
		return nil, err
	}
	o.devices = slices.DeleteFunc(o.devices, (*Device).isClosed)
	o.devices = append(o.devices, dev)
	return dev, nil
}

// SetGain changes the gain of every open device and of those opened later.
func (o *Opener) SetGain(g float32) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.gain = g
	for _, d := range o.devices {
		d.timeline.SetGain(g)
	}
}

// Device is one PortAudio session: an initialised library reference plus a
// running output stream.
type Device struct {
	cfg      config
	format   audio.Format
	timeline *mixer.Timeline
	out      *pa.Stream

	mu     sync.Mutex
	mics   []*microphone
	closed bool
}

// Open initialises PortAudio and starts the output stream at format.
func Open(format audio.Format, opts ...Option) (*Device, error) {
	cfg := config{
		frameSize:    audio.DefaultFrameSize,
		outputBuffer: DefaultOutputBuffer,
		gain:         mixer.DefaultGain,
	}
	for _, o := range opts {
		o(&cfg)
	}

	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}

	tl := mixer.New(audio.Mono(format.SampleRate), mixer.WithGain(cfg.gain))
	out, err := pa.OpenDefaultStream(0, 1, float64(format.SampleRate), cfg.outputBuffer, func(buf []float32) {
		tl.Render(buf)
	})
	if err != nil {
		_ = pa.Terminate()
		return nil, fmt.Errorf("portaudio: open output: %w", err)
	}
	if err := out.Start(); err != nil {
		_ = out.Close()
		_ = pa.Terminate()
		return nil, fmt.Errorf("portaudio: start output: %w", err)
	}

	return &Device{
		cfg:      cfg,
		format:   audio.Mono(format.SampleRate),
		timeline: tl,
		out:      out,
	}, nil
}

// Output returns the playback timeline.
func (d *Device) Output() audio.Output { return d.timeline }

// OpenMicrophone opens the default input device as a mono stream and delivers
// every callback buffer to handler.
func (d *Device) OpenMicrophone(handler audio.FrameHandler) (audio.Microphone, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, errors.New("portaudio: device closed")
	}

	m := &microphone{}
	stream, err := pa.OpenDefaultStream(1, 0, float64(d.format.SampleRate), d.cfg.frameSize, func(in []float32) {
		if m.stopped() {
			return
		}
		handler(in)
	})
	if err != nil {
		return nil, fmt.Errorf("portaudio: open input: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("portaudio: start input: %w", err)
	}
	m.stream = stream
	d.mics = append(d.mics, m)
	return m, nil
}

func (d *Device) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// Close stops every microphone and the output stream, then releases the
// PortAudio reference. Close is idempotent.
func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	mics := d.mics
	d.mics = nil
	d.mu.Unlock()

	var errs []error
	for _, m := range mics {
		if err := m.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if n := d.timeline.Pending(); n > 0 {
		slog.Debug("portaudio: discarding scheduled playback", "buffers", n)
	}
	_ = d.timeline.Close()
	if err := d.out.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("portaudio: stop output: %w", err))
	}
	if err := d.out.Close(); err != nil {
		errs = append(errs, fmt.Errorf("portaudio: close output: %w", err))
	}
	if err := pa.Terminate(); err != nil {
		errs = append(errs, fmt.Errorf("portaudio: terminate: %w", err))
	}
	return errors.Join(errs...)
}

type microphone struct {
	stream *pa.Stream

	mu   sync.Mutex
	done bool
}

func (m *microphone) stopped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done
}

func (m *microphone) Close() error {
	m.mu.Lock()
	if m.done {
		m.mu.Unlock()
		return nil
	}
	m.done = true
	m.mu.Unlock()

	if err := m.stream.Stop(); err != nil {
		_ = m.stream.Close()
		return fmt.Errorf("portaudio: stop input: %w", err)
	}
	if err := m.stream.Close(); err != nil {
		return fmt.Errorf("portaudio: close input: %w", err)
	}
	return nil
}
