package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by [ApplyDefaults].
const (
	DefaultRealtimeURL        = "wss://api.openai.com/v1/realtime"
	DefaultModel              = "gpt-4o-mini-realtime-preview"
	DefaultVoice              = "alloy"
	DefaultInstructions       = "You are a helpful voice assistant. Be conversational, friendly, and concise. If unsure, ask a clarifying question."
	DefaultTranscriptionModel = "whisper-1"
	DefaultSampleRate         = 24000
	DefaultFrameSize          = 4096
	DefaultPlaybackVolume     = 0.35
	DefaultOutputBuffer       = 1024
	DefaultCooldown           = 1200 * time.Millisecond
	DefaultSettleDelay        = 250 * time.Millisecond
	DefaultIdentity           = "anon"
	DefaultCredentialsTimeout = 10 * time.Second
)

// Environment variables consulted by [Load].
const (
	EnvCredentialsURL = "PARLEY_CREDENTIALS_URL"
	EnvIdentity       = "PARLEY_IDENTITY"
)

// KnownModalities lists the modalities the realtime API accepts.
var KnownModalities = []string{"audio", "text"}

// Load reads the YAML configuration file at path, applies environment
// overrides and defaults, and returns a validated [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := load(f, os.LookupEnv)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. The environment is not consulted.
func LoadFromReader(r io.Reader) (*Config, error) {
	return load(r, nil)
}

func load(r io.Reader, lookup func(string) (string, bool)) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if lookup != nil {
		ApplyEnv(cfg, lookup)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides the credential endpoint and identity from the
// environment. lookup is usually [os.LookupEnv].
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvCredentialsURL); ok && v != "" {
		cfg.Credentials.BaseURL = v
	}
	if v, ok := lookup(EnvIdentity); ok && v != "" {
		cfg.Credentials.Identity = v
	}
}

// ApplyDefaults fills every unset field with its default.
func ApplyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = LogInfo
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = LogText
	}

	rt := &cfg.Realtime
	if rt.URL == "" {
		rt.URL = DefaultRealtimeURL
	}
	if rt.Model == "" {
		rt.Model = DefaultModel
	}
	if rt.Voice == "" {
		rt.Voice = DefaultVoice
	}
	if len(rt.Modalities) == 0 {
		rt.Modalities = slices.Clone(KnownModalities)
	}
	if rt.Instructions == "" {
		rt.Instructions = DefaultInstructions
	}
	if rt.TranscriptionModel == "" {
		rt.TranscriptionModel = DefaultTranscriptionModel
	}
	if rt.TurnDetection.Type == "" {
		rt.TurnDetection = TurnDetectionConfig{
			Type:              "server_vad",
			Threshold:         0.9,
			PrefixPaddingMs:   200,
			SilenceDurationMs: 900,
		}
	}

	a := &cfg.Audio
	if a.SampleRate == 0 {
		a.SampleRate = DefaultSampleRate
	}
	if a.DeviceRate == 0 {
		a.DeviceRate = a.SampleRate
	}
	if a.FrameSize == 0 {
		a.FrameSize = DefaultFrameSize
	}
	if a.OutputBuffer == 0 {
		a.OutputBuffer = DefaultOutputBuffer
	}

	if cfg.Turn.Cooldown == 0 {
		cfg.Turn.Cooldown = DefaultCooldown
	}
	if cfg.Turn.SettleDelay == 0 {
		cfg.Turn.SettleDelay = DefaultSettleDelay
	}

	if cfg.Credentials.Identity == "" {
		cfg.Credentials.Identity = DefaultIdentity
	}
	if cfg.Credentials.Timeout == 0 {
		cfg.Credentials.Timeout = DefaultCredentialsTimeout
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.LogLevel != "" && !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}
	if cfg.LogFormat != "" && !cfg.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("log_format %q is invalid; valid values: text, json", cfg.LogFormat))
	}

	// Realtime
	rt := cfg.Realtime
	if err := checkURL(rt.URL, "ws", "wss"); err != nil {
		errs = append(errs, fmt.Errorf("realtime.url: %w", err))
	}
	if rt.Model == "" {
		errs = append(errs, errors.New("realtime.model is required"))
	}
	for i, m := range rt.Modalities {
		if !slices.Contains(KnownModalities, m) {
			errs = append(errs, fmt.Errorf("realtime.modalities[%d] %q is invalid; valid values: audio, text", i, m))
		}
	}
	if len(rt.Modalities) > 0 && !slices.Contains(rt.Modalities, "audio") {
		slog.Warn("realtime.modalities does not include audio; the assistant will not speak")
	}
	td := rt.TurnDetection
	if td.Threshold < 0 || td.Threshold > 1 {
		errs = append(errs, fmt.Errorf("realtime.turn_detection.threshold %.2f is out of range [0, 1]", td.Threshold))
	}
	if td.PrefixPaddingMs < 0 || td.SilenceDurationMs < 0 {
		errs = append(errs, errors.New("realtime.turn_detection durations must not be negative"))
	}
	if td.Type != "" && td.Type != "server_vad" {
		slog.Warn("unknown turn detection type; may be a typo", "type", td.Type)
	}

	// Audio
	a := cfg.Audio
	if a.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must be positive", a.SampleRate))
	}
	if a.DeviceRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.device_rate %d must be positive", a.DeviceRate))
	}
	if a.FrameSize <= 0 {
		errs = append(errs, fmt.Errorf("audio.frame_size %d must be positive", a.FrameSize))
	}
	if a.OutputBuffer < 0 {
		errs = append(errs, fmt.Errorf("audio.output_buffer %d must not be negative", a.OutputBuffer))
	}
	if v := a.Volume(); v < 0 || v > 1 {
		errs = append(errs, fmt.Errorf("audio.playback_volume %.2f is out of range [0, 1]", v))
	}
	if a.DeviceRate > 0 && a.SampleRate > 0 && a.DeviceRate != a.SampleRate {
		slog.Info("capture will be resampled", "device_rate", a.DeviceRate, "sample_rate", a.SampleRate)
	}

	// Credentials
	c := cfg.Credentials
	if c.BaseURL == "" {
		errs = append(errs, fmt.Errorf("credentials.base_url is required (or set %s)", EnvCredentialsURL))
	} else if err := checkURL(c.BaseURL, "http", "https"); err != nil {
		errs = append(errs, fmt.Errorf("credentials.base_url: %w", err))
	}
	for i, u := range c.FallbackURLs {
		if err := checkURL(u, "http", "https"); err != nil {
			errs = append(errs, fmt.Errorf("credentials.fallback_urls[%d]: %w", i, err))
		}
	}
	if c.Timeout < 0 {
		errs = append(errs, fmt.Errorf("credentials.timeout %s must not be negative", c.Timeout))
	}
	if c.Breaker.MaxFailures < 0 || c.Breaker.HalfOpenMax < 0 || c.Breaker.ResetTimeout < 0 {
		errs = append(errs, errors.New("credentials.breaker values must not be negative"))
	}

	return errors.Join(errs...)
}

// checkURL reports whether raw is an absolute URL with one of schemes.
func checkURL(raw string, schemes ...string) error {
	if raw == "" {
		return errors.New("is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL %q: %w", raw, err)
	}
	if !slices.Contains(schemes, u.Scheme) || u.Host == "" {
		return fmt.Errorf("%q must be an absolute %s URL", raw, schemes[len(schemes)-1])
	}
	return nil
}
