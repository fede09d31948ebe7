package main

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/parley/pkg/types"
)

func TestConsole_StreamsAssistantTurns(t *testing.T) {
	t.Parallel()
	var b strings.Builder
	c := newConsole(&b)

	c.OnStatus(types.StatusConnected)
	c.OnTranscript(types.TranscriptFragment{Role: types.RoleUser, Text: " hello there "})
	c.OnTranscript(types.TranscriptFragment{Role: types.RoleAssistant, TurnID: "r1", Text: "Hi"})
	c.OnTranscript(types.TranscriptFragment{Role: types.RoleAssistant, TurnID: "r1", Text: ", friend."})
	c.OnStatus(types.StatusSpeaking)
	c.OnTranscript(types.TranscriptFragment{Role: types.RoleAssistant, TurnID: "r2", Text: "Again"})
	c.OnTranscript(types.TranscriptFragment{Role: types.RoleAssistant, TurnID: "r3", Text: "More"})
	c.OnStatus(types.StatusDisconnected)

	want := "[connected]\n" +
		"you: hello there\n" +
		"assistant: Hi, friend.\n" +
		"[speaking]\n" +
		"assistant: Again\n" +
		"assistant: More\n" +
		"[disconnected]\n"
	if got := b.String(); got != want {
		t.Errorf("output =\n%s\nwant\n%s", got, want)
	}
}

func TestConsole_OnErrorKeepsFirst(t *testing.T) {
	t.Parallel()
	var b strings.Builder
	c := newConsole(&b)

	first := errors.New("transport lost")
	c.OnError(first)
	c.OnError(errors.New("second"))

	select {
	case err := <-c.failed:
		if err != first {
			t.Errorf("failed = %v, want %v", err, first)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no failure delivered")
	}
	if !strings.Contains(b.String(), "error: transport lost") {
		t.Errorf("output = %q", b.String())
	}
}

func TestConsole_MeterThrottled(t *testing.T) {
	t.Parallel()
	c := newConsole(&strings.Builder{})
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	c.OnAudioLevel([]float32{0.5})
	first := c.lastMeter
	now = now.Add(100 * time.Millisecond)
	c.OnAudioLevel([]float32{0.5})
	if !c.lastMeter.Equal(first) {
		t.Error("meter updated inside the throttle window")
	}
	now = now.Add(meterInterval)
	c.OnAudioLevel([]float32{0.5})
	if !c.lastMeter.Equal(now) {
		t.Error("meter not updated after the throttle window")
	}
}

func TestMeter(t *testing.T) {
	t.Parallel()
	tests := []struct {
		peak float32
		want string
	}{
		{0, ".........."},
		{0.5, "#####....."},
		{1, "##########"},
		{3, "##########"},
		{-1, ".........."},
	}
	for _, tc := range tests {
		if got := meter(tc.peak, 10); got != tc.want {
			t.Errorf("meter(%v) = %q, want %q", tc.peak, got, tc.want)
		}
	}
}
