// Package config defines the configuration schema for the parley voice client
// and provides loading, defaulting, validation and hot-reload support.
package config

import (
	"time"

	"github.com/MrWong99/parley/internal/protocol"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// LogFormat selects the slog handler.
type LogFormat string

const (
	LogText LogFormat = "text"
	LogJSON LogFormat = "json"
)

// IsValid reports whether f is a recognised log format.
func (f LogFormat) IsValid() bool {
	return f == LogText || f == LogJSON
}

// Config is the root configuration.
type Config struct {
	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`

	// LogFormat selects text or JSON log output.
	LogFormat LogFormat `yaml:"log_format"`

	Server      ServerConfig      `yaml:"server"`
	Realtime    RealtimeConfig    `yaml:"realtime"`
	Audio       AudioConfig       `yaml:"audio"`
	Turn        TurnConfig        `yaml:"turn"`
	Credentials CredentialsConfig `yaml:"credentials"`
}

// ServerConfig holds the ops HTTP server settings.
type ServerConfig struct {
	// ListenAddr is the address for /healthz, /readyz and /metrics.
	// Empty disables the ops server.
	ListenAddr string `yaml:"listen_addr"`
}

// RealtimeConfig describes the remote realtime session.
type RealtimeConfig struct {
	// URL is the WebSocket base URL; the model is appended as a query parameter.
	URL string `yaml:"url"`

	Model        string   `yaml:"model"`
	Voice        string   `yaml:"voice"`
	Modalities   []string `yaml:"modalities"`
	Instructions string   `yaml:"instructions"`

	// TranscriptionModel transcribes the user's speech. Empty disables
	// user transcripts.
	TranscriptionModel string `yaml:"transcription_model"`

	TurnDetection TurnDetectionConfig `yaml:"turn_detection"`
}

// TurnDetectionConfig configures server-side voice activity detection.
type TurnDetectionConfig struct {
	Type              string  `yaml:"type"`
	Threshold         float64 `yaml:"threshold"`
	PrefixPaddingMs   int     `yaml:"prefix_padding_ms"`
	SilenceDurationMs int     `yaml:"silence_duration_ms"`

	// CreateResponse and InterruptResponse default to true when unset.
	CreateResponse    *bool `yaml:"create_response"`
	InterruptResponse *bool `yaml:"interrupt_response"`
}

// SessionConfig returns the session.update payload for r. Audio is always
// exchanged as pcm16.
func (r RealtimeConfig) SessionConfig() protocol.SessionConfig {
	sc := protocol.SessionConfig{
		Modalities:        r.Modalities,
		Voice:             r.Voice,
		Instructions:      r.Instructions,
		InputAudioFormat:  "pcm16",
		OutputAudioFormat: "pcm16",
	}
	if r.TranscriptionModel != "" {
		sc.InputAudioTranscription = &protocol.Transcription{Model: r.TranscriptionModel}
	}
	if td := r.TurnDetection; td.Type != "" {
		sc.TurnDetection = &protocol.TurnDetection{
			Type:              td.Type,
			Threshold:         td.Threshold,
			PrefixPaddingMs:   td.PrefixPaddingMs,
			SilenceDurationMs: td.SilenceDurationMs,
			CreateResponse:    boolOr(td.CreateResponse, true),
			InterruptResponse: boolOr(td.InterruptResponse, true),
		}
	}
	return sc
}

// AudioConfig holds local audio settings.
type AudioConfig struct {
	// SampleRate is the wire rate in both directions.
	SampleRate int `yaml:"sample_rate"`

	// DeviceRate is the rate the sound card is opened at. When it differs
	// from SampleRate, capture is resampled. Default: SampleRate.
	DeviceRate int `yaml:"device_rate"`

	// FrameSize is the number of samples per transmitted frame.
	FrameSize int `yaml:"frame_size"`

	// PlaybackVolume is the master output gain in [0, 1]. A nil value means
	// the default; 0 mutes. Hot-reloadable.
	PlaybackVolume *float64 `yaml:"playback_volume"`

	// OutputBuffer is the number of frames per output callback.
	OutputBuffer int `yaml:"output_buffer"`
}

// Volume returns the effective playback volume.
func (a AudioConfig) Volume() float64 {
	if a.PlaybackVolume == nil {
		return DefaultPlaybackVolume
	}
	return *a.PlaybackVolume
}

// TurnConfig tunes turn taking.
type TurnConfig struct {
	// Cooldown is the minimum interval between two accepted turn starts.
	Cooldown time.Duration `yaml:"cooldown"`

	// SettleDelay is how long a completed turn stays current.
	SettleDelay time.Duration `yaml:"settle_delay"`
}

// CredentialsConfig configures the ephemeral key backend.
type CredentialsConfig struct {
	// BaseURL is the primary backend. Overridden by PARLEY_CREDENTIALS_URL.
	BaseURL string `yaml:"base_url"`

	// FallbackURLs are tried in order when BaseURL fails.
	FallbackURLs []string `yaml:"fallback_urls"`

	// Identity is the user id sent to the backend. Overridden by
	// PARLEY_IDENTITY.
	Identity string `yaml:"identity"`

	// Timeout bounds each HTTP request to a backend.
	Timeout time.Duration `yaml:"timeout"`

	Breaker BreakerConfig `yaml:"breaker"`
}

// URLs returns BaseURL followed by every fallback.
func (c CredentialsConfig) URLs() []string {
	urls := make([]string, 0, 1+len(c.FallbackURLs))
	if c.BaseURL != "" {
		urls = append(urls, c.BaseURL)
	}
	return append(urls, c.FallbackURLs...)
}

// BreakerConfig tunes the per-backend circuit breakers.
type BreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
	HalfOpenMax  int           `yaml:"half_open_max"`
}

func boolOr(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}
