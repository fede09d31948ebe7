package protocol_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/MrWong99/parley/internal/protocol"
)

func TestParse_ResponseCreated(t *testing.T) {
	t.Parallel()

	evt, err := protocol.Parse([]byte(`{"type":"response.created","event_id":"e1","response":{"id":"resp_1","status":"in_progress"}}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if evt.Type != protocol.TypeResponseCreated {
		t.Errorf("Type = %q", evt.Type)
	}
	if got := evt.TurnID(); got != "resp_1" {
		t.Errorf("TurnID = %q, want resp_1", got)
	}
}

func TestParse_AudioDelta(t *testing.T) {
	t.Parallel()

	evt, err := protocol.Parse([]byte(`{"type":"response.audio.delta","response_id":"resp_2","item_id":"x","delta":"AAAA"}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := evt.TurnID(); got != "resp_2" {
		t.Errorf("TurnID = %q, want resp_2", got)
	}
	if evt.Delta != "AAAA" {
		t.Errorf("Delta = %q", evt.Delta)
	}
}

func TestParse_UserTranscript(t *testing.T) {
	t.Parallel()

	evt, err := protocol.Parse([]byte(`{"type":"conversation.item.input_audio_transcription.completed","transcript":"hello there"}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if evt.Transcript != "hello there" {
		t.Errorf("Transcript = %q", evt.Transcript)
	}
}

func TestParse_ErrorEvent(t *testing.T) {
	t.Parallel()

	evt, err := protocol.Parse([]byte(`{"type":"error","error":{"type":"invalid_request_error","code":"bad","message":"boom"}}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := evt.ErrorMessage(); got != "boom" {
		t.Errorf("ErrorMessage = %q, want boom", got)
	}

	bare, err := protocol.Parse([]byte(`{"type":"error"}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := bare.ErrorMessage(); got != "unknown error" {
		t.Errorf("ErrorMessage = %q, want placeholder", got)
	}
}

func TestParse_Rejects(t *testing.T) {
	t.Parallel()

	for _, in := range []string{`not json`, `[]`, `{}`, `{"type":""}`, `{"type":42}`} {
		if _, err := protocol.Parse([]byte(in)); err == nil {
			t.Errorf("Parse(%q): expected error", in)
		}
	}
}

func TestParse_UnknownTypeIsNotAnError(t *testing.T) {
	t.Parallel()

	evt, err := protocol.Parse([]byte(`{"type":"rate_limits.updated","rate_limits":[]}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if evt.Type != "rate_limits.updated" {
		t.Errorf("Type = %q", evt.Type)
	}
}

func TestParse_UnknownTypeWithForeignFieldShapes(t *testing.T) {
	t.Parallel()

	in := `{"type":"conversation.item.created","event_id":"e9","response":"text","error":[1,2],"delta":{"x":1}}`
	evt, err := protocol.Parse([]byte(in))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if evt.Type != "conversation.item.created" || evt.EventID != "e9" {
		t.Errorf("event = %+v", evt)
	}
	if evt.Response != nil || evt.Error != nil || evt.Delta != "" {
		t.Errorf("payload of unknown event decoded: %+v", evt)
	}
}

func TestParse_KnownTypeWithMalformedPayload(t *testing.T) {
	t.Parallel()

	if _, err := protocol.Parse([]byte(`{"type":"response.created","response":"oops"}`)); err == nil {
		t.Fatal("expected error for response.created with a string response")
	}
}

func TestOutboundEvents_Encoding(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		v    any
		want map[string]any
	}{
		{
			name: "append",
			v:    protocol.NewInputAudioAppend("QUJD"),
			want: map[string]any{"type": "input_audio_buffer.append", "audio": "QUJD"},
		},
		{
			name: "clear",
			v:    protocol.NewInputAudioClear(),
			want: map[string]any{"type": "input_audio_buffer.clear"},
		},
		{
			name: "cancel",
			v:    protocol.NewResponseCancel("resp_9"),
			want: map[string]any{"type": "response.cancel", "response_id": "resp_9"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			data, err := json.Marshal(tt.v)
			if err != nil {
				t.Fatalf("Marshal: %v", err)
			}
			var got map[string]any
			if err := json.Unmarshal(data, &got); err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("%s = %v, want %v", k, got[k], v)
				}
			}
			id, _ := got["event_id"].(string)
			if !strings.HasPrefix(id, "evt_") || len(id) != len("evt_")+12 {
				t.Errorf("event_id = %q, want evt_ + 12 chars", id)
			}
		})
	}
}

func TestSessionUpdate_Payload(t *testing.T) {
	t.Parallel()

	msg := protocol.NewSessionUpdate(protocol.SessionConfig{
		Modalities:              []string{"audio", "text"},
		Voice:                   "alloy",
		Instructions:            "be brief",
		InputAudioFormat:        "pcm16",
		OutputAudioFormat:       "pcm16",
		InputAudioTranscription: &protocol.Transcription{Model: "whisper-1"},
		TurnDetection: &protocol.TurnDetection{
			Type:              "server_vad",
			Threshold:         0.9,
			PrefixPaddingMs:   200,
			SilenceDurationMs: 900,
			CreateResponse:    true,
			InterruptResponse: true,
		},
	})
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var got struct {
		Type    string `json:"type"`
		Session struct {
			Modalities    []string `json:"modalities"`
			Voice         string   `json:"voice"`
			InputFormat   string   `json:"input_audio_format"`
			Transcription struct {
				Model string `json:"model"`
			} `json:"input_audio_transcription"`
			TurnDetection struct {
				Type              string  `json:"type"`
				Threshold         float64 `json:"threshold"`
				SilenceDurationMs int     `json:"silence_duration_ms"`
				InterruptResponse bool    `json:"interrupt_response"`
			} `json:"turn_detection"`
		} `json:"session"`
	}
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.Type != "session.update" {
		t.Errorf("type = %q", got.Type)
	}
	if len(got.Session.Modalities) != 2 || got.Session.Voice != "alloy" || got.Session.InputFormat != "pcm16" {
		t.Errorf("unexpected session section: %+v", got.Session)
	}
	if got.Session.Transcription.Model != "whisper-1" {
		t.Errorf("transcription model = %q", got.Session.Transcription.Model)
	}
	td := got.Session.TurnDetection
	if td.Type != "server_vad" || td.Threshold != 0.9 || td.SilenceDurationMs != 900 || !td.InterruptResponse {
		t.Errorf("unexpected turn_detection: %+v", td)
	}
}
