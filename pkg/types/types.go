// Package types defines the shared types used across all parley packages.
//
// These types form the lingua franca between the transport, the turn machine,
// the audio pipelines and the session controller. They are intentionally
// minimal. Each package defines its own domain types, but cross-cutting data
// structures live here to avoid circular imports.
package types

import "time"

// Status is the externally visible connection state of a voice session.
type Status int

const (
	// StatusDisconnected is the initial and terminal state of a session.
	StatusDisconnected Status = iota

	// StatusConnecting is entered when a connect is requested and lasts until
	// the remote side acknowledged the session configuration.
	StatusConnecting

	// StatusConnected means the session is live and the microphone is
	// transmitting.
	StatusConnected

	// StatusSpeaking means a remote turn is current. Captured audio is not
	// transmitted in this state.
	StatusSpeaking

	// StatusError is entered on any failure; it always settles to
	// [StatusDisconnected] once resources are released.
	StatusError
)

// String returns the lower-case name used in notifications and logs.
func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusSpeaking:
		return "speaking"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Live reports whether the session holds an open channel (connected or
// speaking).
func (s Status) Live() bool {
	return s == StatusConnected || s == StatusSpeaking
}

// Role identifies who produced a transcript fragment.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// TranscriptFragment is a piece of recognised or generated text.
//
// User fragments are complete utterances as transcribed by the remote service;
// assistant fragments are deltas of the current turn and are meant to be
// appended by the consumer.
type TranscriptFragment struct {
	// Role is the speaker.
	Role Role

	// Text is the fragment content.
	Text string

	// TurnID is the remote turn the fragment belongs to. Empty for user
	// fragments.
	TurnID string

	// Timestamp is when the fragment was received.
	Timestamp time.Time
}
