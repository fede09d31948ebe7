package capture_test

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"testing"

	"github.com/MrWong99/parley/internal/capture"
	"github.com/MrWong99/parley/internal/protocol"
	"github.com/MrWong99/parley/pkg/audio"
)

// fakeSender records append events.
type fakeSender struct {
	mu     sync.Mutex
	open   bool
	err    error
	frames []string
}

func (s *fakeSender) Send(_ context.Context, msg any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	m, ok := msg.(protocol.InputAudioAppend)
	if !ok {
		return errors.New("unexpected message type")
	}
	s.frames = append(s.frames, m.Audio)
	return nil
}

func (s *fakeSender) Open() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

func (s *fakeSender) sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.frames...)
}

type harness struct {
	p        *capture.Pipeline
	sender   *fakeSender
	gate     bool
	levels   [][]float32
	outcomes map[capture.Outcome]int
}

func newHarness(t *testing.T, frameSize int) *harness {
	t.Helper()
	h := &harness{
		sender:   &fakeSender{open: true},
		gate:     true,
		outcomes: map[capture.Outcome]int{},
	}
	p, err := capture.New(capture.Config{
		FrameSize: frameSize,
		Sender:    h.sender,
		Gate:      func() bool { return h.gate },
		Level:     func(f []float32) { h.levels = append(h.levels, f) },
		Observe:   func(o capture.Outcome) { h.outcomes[o]++ },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.p = p
	return h
}

func ramp(n int, start float32) []float32 {
	s := make([]float32, n)
	for i := range s {
		s[i] = start + float32(i)/float32(4*n)
	}
	return s
}

func TestPipeline_RechunksIntoFixedFrames(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 4)
	ctx := context.Background()
	for _, n := range []int{3, 3, 5, 1} {
		if err := h.p.Push(ctx, make([]float32, n)); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}
	// 12 samples = 3 frames, nothing left over.
	if got := len(h.sender.sent()); got != 3 {
		t.Fatalf("sent %d frames, want 3", got)
	}
	if h.p.Buffered() != 0 {
		t.Errorf("Buffered = %d, want 0", h.p.Buffered())
	}
	for _, payload := range h.sender.sent() {
		raw, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			t.Fatalf("payload not base64: %v", err)
		}
		if len(raw) != 8 {
			t.Errorf("frame has %d bytes, want 8", len(raw))
		}
	}
}

func TestPipeline_FramesSentInOrder(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 2)
	in := []float32{0.1, 0.2, 0.3, 0.4, 0.5, 0.6}
	if err := h.p.Push(context.Background(), in); err != nil {
		t.Fatalf("Push: %v", err)
	}
	sent := h.sender.sent()
	for i, payload := range sent {
		want := audio.EncodeFrame(in[i*2 : i*2+2])
		if payload != want {
			t.Errorf("frame %d = %q, want %q", i, payload, want)
		}
	}
}

func TestPipeline_ClampsBeforeEncoding(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 2)
	if err := h.p.Push(context.Background(), []float32{2, -2}); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if got, want := h.sender.sent()[0], audio.EncodeFrame([]float32{1, -1}); got != want {
		t.Errorf("payload %q, want clamped %q", got, want)
	}
}

func TestPipeline_GateClosedSuppressesButMeters(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 4)
	h.gate = false
	if err := h.p.Push(context.Background(), ramp(8, 0)); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if got := len(h.sender.sent()); got != 0 {
		t.Fatalf("sent %d frames while gate closed", got)
	}
	if len(h.levels) != 2 {
		t.Errorf("level callback got %d frames, want 2", len(h.levels))
	}
	if h.outcomes[capture.OutcomeSuppressed] != 2 {
		t.Errorf("outcomes = %v", h.outcomes)
	}

	h.gate = true
	_ = h.p.Push(context.Background(), ramp(4, 0))
	if got := len(h.sender.sent()); got != 1 {
		t.Errorf("sent %d frames after gate opened, want 1", got)
	}
}

func TestPipeline_ChannelClosedSuppresses(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 2)
	h.sender.open = false
	_ = h.p.Push(context.Background(), ramp(4, 0))
	if got := len(h.sender.sent()); got != 0 {
		t.Fatalf("sent %d frames on a closed channel", got)
	}
	if h.outcomes[capture.OutcomeSuppressed] != 2 {
		t.Errorf("outcomes = %v", h.outcomes)
	}
}

func TestPipeline_LevelGetsCopy(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 2)
	in := []float32{0.5, 0.5}
	_ = h.p.Push(context.Background(), in)
	if len(h.levels) != 1 {
		t.Fatalf("levels = %d, want 1", len(h.levels))
	}
	h.levels[0][0] = 0.9
	if got, want := h.sender.sent()[0], audio.EncodeFrame(in); got != want {
		t.Error("mutating the level copy affected the transmitted frame")
	}
}

func TestPipeline_SendErrorStops(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 2)
	boom := errors.New("boom")
	h.sender.err = boom

	err := h.p.Push(context.Background(), ramp(6, 0))
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if h.outcomes[capture.OutcomeFailed] != 1 {
		t.Errorf("outcomes = %v, want one failure", h.outcomes)
	}
	if h.p.Buffered() != 4 {
		t.Errorf("Buffered = %d, want the 2 unprocessed frames kept", h.p.Buffered())
	}
}

func TestPipeline_Reset(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 4)
	_ = h.p.Push(context.Background(), make([]float32, 3))
	h.p.Reset()
	if h.p.Buffered() != 0 {
		t.Errorf("Buffered = %d after Reset", h.p.Buffered())
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	if _, err := capture.New(capture.Config{Gate: func() bool { return true }}); err == nil {
		t.Error("expected error without sender")
	}
	if _, err := capture.New(capture.Config{Sender: &fakeSender{}}); err == nil {
		t.Error("expected error without gate")
	}
	p, err := capture.New(capture.Config{Sender: &fakeSender{}, Gate: func() bool { return true }})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.FrameSize() != audio.DefaultFrameSize {
		t.Errorf("FrameSize = %d, want default %d", p.FrameSize(), audio.DefaultFrameSize)
	}
}
