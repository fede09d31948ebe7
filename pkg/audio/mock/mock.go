// Package mock provides in-memory mock implementations of the [audio.Opener],
// [audio.Device], [audio.Output] and [audio.Microphone] interfaces for use in
// unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	dev := &mock.Device{}
//	opener := &mock.Opener{Device: dev}
//	// ... start a session with opener ...
//	dev.EmitFrame(samples) // simulate microphone input
//	calls := dev.Out().Calls()
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/parley/pkg/audio"
)

// Compile-time interface assertions.
var (
	_ audio.Opener     = (*Opener)(nil)
	_ audio.Device     = (*Device)(nil)
	_ audio.Output     = (*Output)(nil)
	_ audio.Microphone = (*Microphone)(nil)
)

// ─── Output ───────────────────────────────────────────────────────────────────

// ScheduleCall records a single invocation of [Output.Schedule].
type ScheduleCall struct {
	At      int64
	Samples []float32
}

// Output is a mock [audio.Output]. The position only moves when the test
// calls [Output.SetPosition] or [Output.Advance].
type Output struct {
	mu sync.Mutex

	// FormatResult is returned by [Output.Format]. Defaults to 24kHz mono.
	FormatResult audio.Format

	// ScheduleErr is returned by [Output.Schedule].
	ScheduleErr error

	pos     int64
	calls   []ScheduleCall
	flushes int
}

// Format implements [audio.Output].
func (o *Output) Format() audio.Format {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.FormatResult.SampleRate == 0 {
		return audio.Mono(audio.DefaultSampleRate)
	}
	return o.FormatResult
}

// Position implements [audio.Output].
func (o *Output) Position() int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.pos
}

// Schedule implements [audio.Output]. Records a copy of samples.
func (o *Output) Schedule(at int64, samples []float32) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	cp := make([]float32, len(samples))
	copy(cp, samples)
	o.calls = append(o.calls, ScheduleCall{At: at, Samples: cp})
	return o.ScheduleErr
}

// Flush implements [audio.Output]. Recorded calls are kept; use
// [Output.FlushCount] to assert on flushes.
func (o *Output) Flush() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.flushes++
}

// FlushCount returns how many times Flush was called.
func (o *Output) FlushCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.flushes
}

// SetPosition moves the playback position to pos.
func (o *Output) SetPosition(pos int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pos = pos
}

// Advance moves the playback position forward by n samples.
func (o *Output) Advance(n int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pos += n
}

// Calls returns a snapshot of every recorded Schedule call.
func (o *Output) Calls() []ScheduleCall {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]ScheduleCall, len(o.calls))
	copy(out, o.calls)
	return out
}

// ─── Microphone ───────────────────────────────────────────────────────────────

// Microphone is a mock [audio.Microphone].
type Microphone struct {
	mu sync.Mutex

	// CloseErr is returned by [Microphone.Close].
	CloseErr error

	// CallCountClose records how many times Close was called.
	CallCountClose int

	closed bool
}

// Close implements [audio.Microphone].
func (m *Microphone) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallCountClose++
	m.closed = true
	return m.CloseErr
}

// Closed reports whether Close has been called.
func (m *Microphone) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// ─── Device ───────────────────────────────────────────────────────────────────

// Device is a mock [audio.Device]. Set the exported fields before use; inspect
// the CallCount fields after.
type Device struct {
	mu sync.Mutex

	// OutputResult is returned by [Device.Output]. A fresh [Output] is
	// created lazily when nil.
	OutputResult *Output

	// MicErr is returned by [Device.OpenMicrophone] when non-nil.
	MicErr error

	// CloseErr is returned by [Device.Close].
	CloseErr error

	// CallCountOpenMicrophone records how many times OpenMicrophone was called.
	CallCountOpenMicrophone int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	handler audio.FrameHandler
	mic     *Microphone
}

// Output implements [audio.Device].
func (d *Device) Output() audio.Output { return d.Out() }

// Out returns the concrete mock output.
func (d *Device) Out() *Output {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.OutputResult == nil {
		d.OutputResult = &Output{}
	}
	return d.OutputResult
}

// OpenMicrophone implements [audio.Device]. It stores handler so that
// [Device.EmitFrame] can drive it.
func (d *Device) OpenMicrophone(handler audio.FrameHandler) (audio.Microphone, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountOpenMicrophone++
	if d.MicErr != nil {
		return nil, d.MicErr
	}
	d.handler = handler
	d.mic = &Microphone{}
	return d.mic, nil
}

// Mic returns the most recently opened microphone, or nil.
func (d *Device) Mic() *Microphone {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mic
}

// EmitFrame delivers samples to the registered handler as if captured by the
// microphone. It is a no-op when no microphone is open or it was closed.
func (d *Device) EmitFrame(samples []float32) {
	d.mu.Lock()
	h, mic := d.handler, d.mic
	d.mu.Unlock()
	if h == nil || mic == nil || mic.Closed() {
		return
	}
	h(samples)
}

// Close implements [audio.Device].
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountClose++
	return d.CloseErr
}

// Closed reports whether Close has been called at least once.
func (d *Device) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.CallCountClose > 0
}

// ─── Opener ───────────────────────────────────────────────────────────────────

// Opener is a mock [audio.Opener].
type Opener struct {
	mu sync.Mutex

	// Device is returned by [Opener.Open]. A fresh [Device] is created per
	// call when nil.
	Device *Device

	// OpenErr is returned by [Opener.Open] when non-nil.
	OpenErr error

	// Formats records the format requested by each Open call.
	Formats []audio.Format

	opened []*Device
}

// Open implements [audio.Opener].
func (o *Opener) Open(_ context.Context, format audio.Format) (audio.Device, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Formats = append(o.Formats, format)
	if o.OpenErr != nil {
		return nil, o.OpenErr
	}
	d := o.Device
	if d == nil {
		d = &Device{}
	}
	o.opened = append(o.opened, d)
	return d, nil
}

// Opened returns every device handed out so far, in order.
func (o *Opener) Opened() []*Device {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*Device, len(o.opened))
	copy(out, o.opened)
	return out
}

// CallCount returns how many times Open was called.
func (o *Opener) CallCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.Formats)
}
