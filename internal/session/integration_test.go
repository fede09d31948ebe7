package session_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/parley/internal/credentials"
	"github.com/MrWong99/parley/internal/protocol"
	"github.com/MrWong99/parley/internal/session"
	"github.com/MrWong99/parley/internal/transport"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/audio/mock"
	"github.com/MrWong99/parley/pkg/types"
)

// realtimeServer plays the remote side of one call: it acknowledges the
// session, then speaks one turn made of three chunks.
func realtimeServer(t *testing.T, gotAuth chan<- string, gotTypes chan<- []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		gotAuth <- r.Header.Get("Authorization")
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		var seen []string
		read := func() string {
			var msg struct {
				Type string `json:"type"`
			}
			if err := wsjson.Read(ctx, conn, &msg); err != nil {
				return ""
			}
			seen = append(seen, msg.Type)
			return msg.Type
		}
		write := func(v any) {
			if err := wsjson.Write(ctx, conn, v); err != nil {
				t.Logf("server write: %v", err)
			}
		}

		if read() != protocol.TypeSessionUpdate {
			return
		}
		write(map[string]any{"type": "session.updated"})
		write(map[string]any{"type": "response.created", "response": map[string]any{"id": "resp_1"}})
		for range 3 {
			write(map[string]any{
				"type":        "response.audio.delta",
				"response_id": "resp_1",
				"delta":       audio.EncodeFrame(make([]float32, 240)),
			})
		}
		write(map[string]any{"type": "response.done", "response": map[string]any{"id": "resp_1"}})

		// Expect the input buffer to be cleared once the turn is done.
		for {
			typ := read()
			if typ == "" {
				return
			}
			if typ == protocol.TypeInputAudioClear {
				break
			}
		}
		gotTypes <- seen
		<-conn.CloseRead(ctx).Done()
	}
}

func TestController_EndToEnd(t *testing.T) {
	t.Parallel()

	gotAuth := make(chan string, 1)
	gotTypes := make(chan []string, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/voice/session", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			UserID string `json:"userId"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		_ = json.NewEncoder(w).Encode(map[string]string{"sessionToken": "st_" + body.UserID})
	})
	mux.HandleFunc("POST /api/voice/realtime-key", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"ephemeralKey": "ek_live"})
	})
	mux.HandleFunc("/v1/realtime", realtimeServer(t, gotAuth, gotTypes))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	broker, err := credentials.NewBroker([]string{srv.URL})
	if err != nil {
		t.Fatalf("NewBroker: %v", err)
	}
	endpoint, err := transport.Endpoint("ws"+strings.TrimPrefix(srv.URL, "http")+"/v1/realtime", "test-model")
	if err != nil {
		t.Fatalf("Endpoint: %v", err)
	}

	var (
		mu       sync.Mutex
		statuses []types.Status
	)
	dev := &mock.Device{}
	ctrl, err := session.New(session.Config{
		Endpoint:    endpoint,
		Model:       "test-model",
		Session:     protocol.SessionConfig{Modalities: []string{"audio", "text"}, InputAudioFormat: "pcm16", OutputAudioFormat: "pcm16"},
		SettleDelay: 10 * time.Millisecond,
	},
		session.WithOpener(&mock.Opener{Device: dev}),
		session.WithIssuer(broker),
		session.WithListener(session.ListenerFuncs{
			Status: func(s types.Status) {
				mu.Lock()
				defer mu.Unlock()
				statuses = append(statuses, s)
			},
		}),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ctrl.Connect(ctx, "alice"); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	select {
	case auth := <-gotAuth:
		if auth != "Bearer ek_live" {
			t.Errorf("Authorization = %q, want Bearer ek_live", auth)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server never saw the handshake")
	}

	select {
	case got := <-gotTypes:
		if len(got) == 0 || got[0] != protocol.TypeSessionUpdate {
			t.Errorf("client events = %v, want session.update first", got)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server never saw input_audio_buffer.clear")
	}

	deadline := time.After(3 * time.Second)
	for len(dev.Out().Calls()) < 3 || ctrl.Status() != types.StatusConnected {
		select {
		case <-deadline:
			t.Fatalf("calls = %d, status = %s", len(dev.Out().Calls()), ctrl.Status())
		case <-time.After(5 * time.Millisecond):
		}
	}
	for i, c := range dev.Out().Calls() {
		if c.At != int64(i*240) {
			t.Errorf("chunk %d scheduled at %d, want %d", i, c.At, i*240)
		}
	}

	ctrl.Disconnect()
	mu.Lock()
	got := slices.Clone(statuses)
	mu.Unlock()
	want := []types.Status{
		types.StatusConnecting, types.StatusConnected, types.StatusSpeaking,
		types.StatusConnected, types.StatusDisconnected,
	}
	if !slices.Equal(got, want) {
		t.Errorf("statuses = %v, want %v", got, want)
	}
}
