// Package protocol defines the JSON events exchanged with the realtime
// speech service.
//
// Outbound events are plain structs that the transport JSON-encodes; each
// constructor stamps a fresh event id. Inbound events are decoded with
// [Parse] into a single flat [ServerEvent] whose populated fields depend on
// its Type.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// ── Event types ───────────────────────────────────────────────────────────────

// Client → server.
const (
	TypeSessionUpdate    = "session.update"
	TypeInputAudioAppend = "input_audio_buffer.append"
	TypeInputAudioClear  = "input_audio_buffer.clear"
	TypeResponseCancel   = "response.cancel"
)

// Server → client.
const (
	TypeSessionCreated          = "session.created"
	TypeSessionUpdated          = "session.updated"
	TypeInputTranscriptComplete = "conversation.item.input_audio_transcription.completed"
	TypeResponseCreated         = "response.created"
	TypeResponseAudioDelta      = "response.audio.delta"
	TypeResponseTranscriptDelta = "response.audio_transcript.delta"
	TypeResponseDone            = "response.done"
	TypeError                   = "error"
)

// newEventID returns a client event id of the form "evt_<12 hex/dash chars>".
func newEventID() string {
	return "evt_" + uuid.New().String()[:12]
}

// ── Outbound ──────────────────────────────────────────────────────────────────

// SessionConfig is the session section of a session.update event.
type SessionConfig struct {
	Modalities              []string       `json:"modalities"`
	Voice                   string         `json:"voice,omitempty"`
	Instructions            string         `json:"instructions,omitempty"`
	InputAudioFormat        string         `json:"input_audio_format"`
	OutputAudioFormat       string         `json:"output_audio_format"`
	InputAudioTranscription *Transcription `json:"input_audio_transcription,omitempty"`
	TurnDetection           *TurnDetection `json:"turn_detection,omitempty"`
}

// Transcription selects the model used to transcribe user audio.
type Transcription struct {
	Model string `json:"model"`
}

// TurnDetection configures server-side voice activity detection.
type TurnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms"`
	SilenceDurationMs int     `json:"silence_duration_ms"`
	CreateResponse    bool    `json:"create_response"`
	InterruptResponse bool    `json:"interrupt_response"`
}

// SessionUpdate configures the remote session.
type SessionUpdate struct {
	EventID string        `json:"event_id"`
	Type    string        `json:"type"`
	Session SessionConfig `json:"session"`
}

// NewSessionUpdate returns a session.update event for cfg.
func NewSessionUpdate(cfg SessionConfig) SessionUpdate {
	return SessionUpdate{EventID: newEventID(), Type: TypeSessionUpdate, Session: cfg}
}

// InputAudioAppend carries one base64 PCM16 capture frame.
type InputAudioAppend struct {
	EventID string `json:"event_id"`
	Type    string `json:"type"`
	Audio   string `json:"audio"`
}

// NewInputAudioAppend returns an input_audio_buffer.append event.
func NewInputAudioAppend(audio string) InputAudioAppend {
	return InputAudioAppend{EventID: newEventID(), Type: TypeInputAudioAppend, Audio: audio}
}

// InputAudioClear discards any user audio the server has buffered.
type InputAudioClear struct {
	EventID string `json:"event_id"`
	Type    string `json:"type"`
}

// NewInputAudioClear returns an input_audio_buffer.clear event.
func NewInputAudioClear() InputAudioClear {
	return InputAudioClear{EventID: newEventID(), Type: TypeInputAudioClear}
}

// ResponseCancel asks the server to abandon a response.
type ResponseCancel struct {
	EventID    string `json:"event_id"`
	Type       string `json:"type"`
	ResponseID string `json:"response_id,omitempty"`
}

// NewResponseCancel returns a response.cancel event for responseID.
func NewResponseCancel(responseID string) ResponseCancel {
	return ResponseCancel{EventID: newEventID(), Type: TypeResponseCancel, ResponseID: responseID}
}

// ── Inbound ───────────────────────────────────────────────────────────────────

// Response is the response object carried by response.created and
// response.done.
type Response struct {
	ID     string `json:"id"`
	Status string `json:"status,omitempty"`
}

// ErrorDetail is the nested error object of an error event:
// {"type":"error","error":{"type":"...","code":"...","message":"..."}}.
type ErrorDetail struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// ServerEvent is any inbound event. Only the fields relevant to Type are set.
type ServerEvent struct {
	Type    string `json:"type"`
	EventID string `json:"event_id,omitempty"`

	// response.audio.delta / response.audio_transcript.delta
	ResponseID string `json:"response_id,omitempty"`
	Delta      string `json:"delta,omitempty"`

	// conversation.item.input_audio_transcription.completed
	Transcript string `json:"transcript,omitempty"`

	// response.created / response.done
	Response *Response `json:"response,omitempty"`

	// error
	Error *ErrorDetail `json:"error,omitempty"`
}

// TurnID returns the remote turn the event belongs to: the nested response id
// for response.created and response.done, the response_id field otherwise.
func (e *ServerEvent) TurnID() string {
	if e.Response != nil && e.Response.ID != "" {
		return e.Response.ID
	}
	return e.ResponseID
}

// ErrorMessage returns the message of an error event, or a placeholder if the
// server sent none.
func (e *ServerEvent) ErrorMessage() string {
	if e.Error != nil && e.Error.Message != "" {
		return e.Error.Message
	}
	return "unknown error"
}

// Parse decodes one inbound message. Messages that are not a JSON object with
// a string type field are rejected. The payload is decoded only for the event
// types listed above; any other type yields a ServerEvent with just Type and
// EventID set, whatever its body looks like.
func Parse(data []byte) (*ServerEvent, error) {
	var head struct {
		Type    string `json:"type"`
		EventID string `json:"event_id"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("protocol: parse: %w", err)
	}
	if head.Type == "" {
		return nil, fmt.Errorf("protocol: parse: missing event type")
	}

	switch head.Type {
	case TypeSessionCreated, TypeSessionUpdated, TypeInputTranscriptComplete,
		TypeResponseCreated, TypeResponseAudioDelta, TypeResponseTranscriptDelta,
		TypeResponseDone, TypeError:
	default:
		return &ServerEvent{Type: head.Type, EventID: head.EventID}, nil
	}

	var evt ServerEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return nil, fmt.Errorf("protocol: parse %s: %w", head.Type, err)
	}
	return &evt, nil
}
