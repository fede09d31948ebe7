package config_test

import (
	"slices"
	"strings"
	"testing"

	"github.com/MrWong99/parley/internal/config"
)

func mustLoad(t *testing.T, extra string) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(minimalYAML + extra))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	return cfg
}

func TestDiff_NoChange(t *testing.T) {
	t.Parallel()
	d := config.Diff(mustLoad(t, ""), mustLoad(t, ""))
	if !d.Empty() {
		t.Errorf("diff = %+v, want empty", d)
	}
}

func TestDiff_HotReloadable(t *testing.T) {
	t.Parallel()
	old := mustLoad(t, "")
	updated := mustLoad(t, "log_level: debug\naudio:\n  playback_volume: 0.8\n")

	d := config.Diff(old, updated)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("log level diff = %v/%q", d.LogLevelChanged, d.NewLogLevel)
	}
	if !d.PlaybackVolumeChanged || d.NewPlaybackVolume != 0.8 {
		t.Errorf("volume diff = %v/%v", d.PlaybackVolumeChanged, d.NewPlaybackVolume)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("RestartRequired = %v, want none", d.RestartRequired)
	}
}

func TestDiff_ExplicitDefaultVolumeIsNoChange(t *testing.T) {
	t.Parallel()
	d := config.Diff(mustLoad(t, ""), mustLoad(t, "audio:\n  playback_volume: 0.35\n"))
	if d.PlaybackVolumeChanged {
		t.Error("explicit default volume reported as a change")
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		extra string
		want  string
	}{
		{"voice", "realtime:\n  voice: verse\n", "realtime"},
		{"sample rate", "audio:\n  sample_rate: 16000\n", "audio.sample_rate"},
		{"frame size", "audio:\n  frame_size: 2048\n", "audio.frame_size"},
		{"cooldown", "turn:\n  cooldown: 3s\n", "turn"},
		{"fallbacks", "  fallback_urls: [https://b.example.com]\n", "credentials"},
		{"listen addr", "server:\n  listen_addr: :9090\n", "server"},
		{"log format", "log_format: json\n", "log_format"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			d := config.Diff(mustLoad(t, ""), mustLoad(t, tc.extra))
			if !slices.Contains(d.RestartRequired, tc.want) {
				t.Errorf("RestartRequired = %v, want to contain %q", d.RestartRequired, tc.want)
			}
			if d.LogLevelChanged || d.PlaybackVolumeChanged {
				t.Errorf("unexpected hot-reload change: %+v", d)
			}
		})
	}
}
