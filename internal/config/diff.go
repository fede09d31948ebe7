package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
// Only the log level and the playback volume apply without a restart; every
// other changed section is listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	PlaybackVolumeChanged bool
	NewPlaybackVolume     float64

	// RestartRequired names the sections whose changes take effect only on
	// the next start, e.g. "realtime" or "audio.sample_rate".
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.PlaybackVolumeChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.LogLevel != new.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.LogLevel
	}
	if old.Audio.Volume() != new.Audio.Volume() {
		d.PlaybackVolumeChanged = true
		d.NewPlaybackVolume = new.Audio.Volume()
	}

	restart := func(name string, changed bool) {
		if changed {
			d.RestartRequired = append(d.RestartRequired, name)
		}
	}
	restart("log_format", old.LogFormat != new.LogFormat)
	restart("server", old.Server != new.Server)
	restart("realtime", !reflect.DeepEqual(old.Realtime, new.Realtime))

	oa, na := old.Audio, new.Audio
	restart("audio.sample_rate", oa.SampleRate != na.SampleRate)
	restart("audio.device_rate", oa.DeviceRate != na.DeviceRate)
	restart("audio.frame_size", oa.FrameSize != na.FrameSize)
	restart("audio.output_buffer", oa.OutputBuffer != na.OutputBuffer)

	restart("turn", old.Turn != new.Turn)

	oc, nc := old.Credentials, new.Credentials
	restart("credentials", oc.BaseURL != nc.BaseURL ||
		!slices.Equal(oc.FallbackURLs, nc.FallbackURLs) ||
		oc.Identity != nc.Identity ||
		oc.Timeout != nc.Timeout ||
		oc.Breaker != nc.Breaker)

	return d
}
