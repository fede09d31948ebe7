package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MrWong99/parley/internal/config"
)

func TestValidate_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"missing credentials", "log_level: info\n", "credentials.base_url is required"},
		{"bad log level", minimalYAML + "log_level: loud\n", "log_level"},
		{"bad log format", minimalYAML + "log_format: xml\n", "log_format"},
		{"http realtime url", minimalYAML + "realtime:\n  url: http://api.example.com\n", "realtime.url"},
		{"bad modality", minimalYAML + "realtime:\n  modalities: [audio, video]\n", "realtime.modalities[1]"},
		{"threshold range", minimalYAML + "realtime:\n  turn_detection:\n    type: server_vad\n    threshold: 1.5\n", "threshold"},
		{"negative sample rate", minimalYAML + "audio:\n  sample_rate: -1\n", "audio.sample_rate"},
		{"volume range", minimalYAML + "audio:\n  playback_volume: 2\n", "audio.playback_volume"},
		{"ws credentials url", "credentials:\n  base_url: ws://voice.example.com\n", "credentials.base_url"},
		{"bad fallback", minimalYAML + "  fallback_urls: [\"not a url\"]\n", "credentials.fallback_urls[0]"},
		{"negative breaker", minimalYAML + "  breaker:\n    max_failures: -1\n", "credentials.breaker"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tc.yaml))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error should mention %q, got: %v", tc.want, err)
			}
		})
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader(`
log_level: loud
audio:
  frame_size: -4
`))
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	for _, want := range []string{"log_level", "audio.frame_size", "credentials.base_url"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %q, got: %v", want, err)
		}
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader(minimalYAML + "npcs: []\n"))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestLoadFromReader_Durations(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(minimalYAML + `
turn:
  cooldown: 2s
  settle_delay: 100ms
`))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Turn.Cooldown.String() != "2s" || cfg.Turn.SettleDelay.String() != "100ms" {
		t.Errorf("turn = %+v", cfg.Turn)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "parley.yaml")
	if err := os.WriteFile(path, []byte("credentials:\n  identity: alice\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(config.EnvCredentialsURL, "https://env.example.com")
	t.Setenv(config.EnvIdentity, "bob")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Credentials.BaseURL != "https://env.example.com" {
		t.Errorf("base_url = %q", cfg.Credentials.BaseURL)
	}
	if cfg.Credentials.Identity != "bob" {
		t.Errorf("identity = %q, want bob", cfg.Credentials.Identity)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
	if !strings.Contains(err.Error(), "config: open") {
		t.Errorf("error = %v", err)
	}
}
