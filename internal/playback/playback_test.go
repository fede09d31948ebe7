package playback_test

import (
	"errors"
	"testing"

	"github.com/MrWong99/parley/internal/playback"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/audio/mixer"
	"github.com/MrWong99/parley/pkg/audio/mock"
)

func newScheduler(t *testing.T, out audio.Output) *playback.Scheduler {
	t.Helper()
	s, err := playback.New(out, audio.DefaultSampleRate)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func chunk(n int) string {
	return audio.EncodeFrame(make([]float32, n))
}

func TestScheduler_ChunksAreContiguous(t *testing.T) {
	t.Parallel()

	out := &mock.Output{}
	s := newScheduler(t, out)

	sizes := []int{480, 960, 240, 1200, 480}
	for _, n := range sizes {
		if _, err := s.Enqueue(chunk(n)); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	calls := out.Calls()
	if len(calls) != len(sizes) {
		t.Fatalf("scheduled %d buffers, want %d", len(calls), len(sizes))
	}
	var want int64
	for i, c := range calls {
		if c.At != want {
			t.Errorf("buffer %d at %d, want %d", i, c.At, want)
		}
		if len(c.Samples) != sizes[i] {
			t.Errorf("buffer %d length %d, want %d", i, len(c.Samples), sizes[i])
		}
		want += int64(sizes[i])
	}
	if s.NextPlayTime() != want {
		t.Errorf("NextPlayTime = %d, want %d", s.NextPlayTime(), want)
	}
}

func TestScheduler_NoOverlapWhileClockAdvances(t *testing.T) {
	t.Parallel()

	out := &mock.Output{}
	s := newScheduler(t, out)

	for i := range 20 {
		if _, err := s.Enqueue(chunk(480)); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
		// The device consumes less than it receives.
		out.Advance(int64(100 + i*10))
	}

	calls := out.Calls()
	for i := 1; i < len(calls); i++ {
		prevEnd := calls[i-1].At + int64(len(calls[i-1].Samples))
		if calls[i].At < prevEnd {
			t.Fatalf("buffer %d starts at %d before previous ends at %d", i, calls[i].At, prevEnd)
		}
	}
}

func TestScheduler_UnderrunClampsToNow(t *testing.T) {
	t.Parallel()

	out := &mock.Output{}
	s := newScheduler(t, out)

	if _, err := s.Enqueue(chunk(100)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	out.SetPosition(5000)

	res, err := s.Enqueue(chunk(100))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if !res.Underrun {
		t.Error("expected underrun")
	}
	if res.At != 5000 {
		t.Errorf("At = %d, want 5000 (clamped to now)", res.At)
	}
	if s.NextPlayTime() != 5100 {
		t.Errorf("NextPlayTime = %d, want 5100", s.NextPlayTime())
	}

	res, _ = s.Enqueue(chunk(100))
	if res.Underrun || res.At != 5100 {
		t.Errorf("follow-up chunk: %+v, want contiguous without underrun", res)
	}
}

func TestScheduler_ResetJumpsToNow(t *testing.T) {
	t.Parallel()

	out := &mock.Output{}
	s := newScheduler(t, out)

	for range 4 {
		_, _ = s.Enqueue(chunk(1000))
	}
	out.SetPosition(1500)
	s.Reset()
	if out.FlushCount() != 1 {
		t.Errorf("FlushCount = %d, want the previous turn flushed", out.FlushCount())
	}
	if s.NextPlayTime() != 1500 {
		t.Fatalf("NextPlayTime = %d, want 1500 after Reset", s.NextPlayTime())
	}
	res, _ := s.Enqueue(chunk(10))
	if res.At != 1500 || res.Underrun {
		t.Errorf("first chunk after reset: %+v", res)
	}
}

func TestScheduler_StartsAtOutputPosition(t *testing.T) {
	t.Parallel()

	out := &mock.Output{}
	out.SetPosition(777)
	s := newScheduler(t, out)
	if s.NextPlayTime() != 777 {
		t.Errorf("NextPlayTime = %d, want 777", s.NextPlayTime())
	}
}

func TestScheduler_InvalidPayload(t *testing.T) {
	t.Parallel()

	out := &mock.Output{}
	s := newScheduler(t, out)
	if _, err := s.Enqueue("%%%"); err == nil {
		t.Fatal("expected decode error")
	}
	if len(out.Calls()) != 0 || s.NextPlayTime() != 0 {
		t.Error("invalid payload must not move the cursor")
	}
}

func TestScheduler_ScheduleError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	out := &mock.Output{ScheduleErr: boom}
	s := newScheduler(t, out)
	if _, err := s.Enqueue(chunk(10)); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
}

func TestScheduler_EndToEndThroughTimeline(t *testing.T) {
	t.Parallel()

	tl := mixer.New(audio.Mono(audio.DefaultSampleRate), mixer.WithGain(1))
	s := newScheduler(t, tl)

	a := make([]float32, 64)
	b := make([]float32, 64)
	for i := range a {
		a[i] = 0.25
		b[i] = 0.5
	}
	_, _ = s.Play(a)
	_, _ = s.Play(b)

	out := make([]float32, 128)
	tl.Render(out)
	for i, v := range out {
		want := float32(0.25)
		if i >= 64 {
			want = 0.5
		}
		if v != want {
			t.Fatalf("sample %d = %v, want %v (no overlap, no gap)", i, v, want)
		}
	}
}

func TestScheduler_ResetSilencesPreviousTurn(t *testing.T) {
	t.Parallel()

	tl := mixer.New(audio.Mono(audio.DefaultSampleRate), mixer.WithGain(1))
	s := newScheduler(t, tl)

	voice := func(n int) []float32 {
		v := make([]float32, n)
		for i := range v {
			v[i] = 0.25
		}
		return v
	}

	// Turn A arrives faster than real time; only part of it has played.
	if _, err := s.Play(voice(4000)); err != nil {
		t.Fatalf("Play: %v", err)
	}
	tl.Render(make([]float32, 1500))

	s.Reset()
	res, err := s.Play(voice(4000))
	if err != nil {
		t.Fatalf("Play: %v", err)
	}
	if res.At != 1500 {
		t.Errorf("turn B at %d, want 1500", res.At)
	}

	out := make([]float32, 4000)
	tl.Render(out)
	for i, v := range out {
		if v != 0.25 {
			t.Fatalf("sample %d = %v, want 0.25 from a single voice", i, v)
		}
	}
	if n := tl.Pending(); n != 0 {
		t.Errorf("Pending = %d after turn B finished, want 0", n)
	}
}
