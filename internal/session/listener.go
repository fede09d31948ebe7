package session

import "github.com/MrWong99/parley/pkg/types"

// Listener receives session notifications. Callbacks are invoked from the
// session's event loop (or from the goroutine calling [Controller.Connect]
// before the loop starts), never concurrently. They must return quickly and
// must not call [Controller.Disconnect] or [Controller.Connect].
type Listener interface {
	// OnStatus reports every status transition.
	OnStatus(s types.Status)

	// OnTranscript reports a user utterance or an assistant delta.
	OnTranscript(f types.TranscriptFragment)

	// OnAudioLevel receives a copy of every captured frame, transmitted or
	// not. The slice is owned by the listener.
	OnAudioLevel(samples []float32)

	// OnError reports a failure that ended a live session. Failures during
	// Connect are returned to the caller instead.
	OnError(err error)
}

// ListenerFuncs adapts optional functions to the [Listener] interface. Nil
// fields are skipped.
type ListenerFuncs struct {
	Status     func(types.Status)
	Transcript func(types.TranscriptFragment)
	AudioLevel func([]float32)
	Error      func(error)
}

var _ Listener = ListenerFuncs{}

// OnStatus implements [Listener].
func (l ListenerFuncs) OnStatus(s types.Status) {
	if l.Status != nil {
		l.Status(s)
	}
}

// OnTranscript implements [Listener].
func (l ListenerFuncs) OnTranscript(f types.TranscriptFragment) {
	if l.Transcript != nil {
		l.Transcript(f)
	}
}

// OnAudioLevel implements [Listener].
func (l ListenerFuncs) OnAudioLevel(samples []float32) {
	if l.AudioLevel != nil {
		l.AudioLevel(samples)
	}
}

// OnError implements [Listener].
func (l ListenerFuncs) OnError(err error) {
	if l.Error != nil {
		l.Error(err)
	}
}
