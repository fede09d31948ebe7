// Package audio defines the interfaces and types for audio device access
// within parley.
//
// The primary abstractions are:
//
//   - [Opener] acquires a [Device] (the audio device context) for one session.
//   - [Device] owns the output stage and hands out microphone streams.
//   - [Output] is a sample-accurate playback timeline: buffers are scheduled at
//     absolute sample positions rather than played on arrival.
//   - [Microphone] is an active capture stream delivering fixed-format frames to
//     a [FrameHandler].
//
// Implementations are provided by adapter packages (audio/portaudio for real
// hardware, audio/mock for tests). The interfaces are intentionally narrow to
// keep the session decoupled from device details.
//
// This package lives under pkg/ because external code (third-party device
// adapters) is expected to implement [Device] and [Output].
package audio

import "context"

// FrameHandler receives captured mono samples. It is invoked on the device's
// capture goroutine (for hardware adapters, the audio thread) and must return
// quickly; the slice is only valid for the duration of the call.
type FrameHandler func(samples []float32)

// Output is a playback timeline driven by the device clock.
//
// Position advances as the device consumes samples; it never jumps backwards.
// Schedule queues samples to begin at an absolute position; buffers scheduled
// at or after Position play in full, buffers scheduled in the past are
// truncated by the part already elapsed.
//
// Implementations must be safe for concurrent use.
type Output interface {
	// Format returns the sample format of the timeline.
	Format() Format

	// Position returns the current playback position in samples since the
	// output was opened.
	Position() int64

	// Schedule queues samples to start playing at sample position at.
	Schedule(at int64, samples []float32) error

	// Flush drops every buffer that is queued or still playing. Position is
	// unaffected.
	Flush()
}

// Microphone is an active capture stream. Close stops delivery; after Close
// returns the handler is not invoked again. Calling Close more than once is
// safe.
type Microphone interface {
	Close() error
}

// Device is the audio device context of one session. It is exclusively owned
// by that session and never reused across reconnects.
//
// Implementations must be safe for concurrent use.
type Device interface {
	// Output returns the playback timeline (behind the device gain stage).
	Output() Output

	// OpenMicrophone starts a mono capture stream that delivers frames to
	// handler. Returns an error when the microphone cannot be acquired
	// (permission denied, no input device, unsupported format).
	OpenMicrophone(handler FrameHandler) (Microphone, error)

	// Close releases the device, stopping playback and discarding anything
	// still scheduled. Calling Close more than once is safe.
	Close() error
}

// Opener acquires a fresh [Device] for the given format. The supplied ctx
// governs the acquisition only.
type Opener interface {
	Open(ctx context.Context, format Format) (Device, error)
}

// OpenerFunc adapts a function to the [Opener] interface.
type OpenerFunc func(ctx context.Context, format Format) (Device, error)

// Open calls f(ctx, format).
func (f OpenerFunc) Open(ctx context.Context, format Format) (Device, error) {
	return f(ctx, format)
}
