package audio

import (
	"encoding/base64"
	"fmt"
)

// Float32ToPCM16 converts float samples to little-endian int16 PCM. Samples are
// clamped to [-1, 1] first; negative values scale by 0x8000 and positive ones
// by 0x7FFF so both extremes map onto the full int16 range.
func Float32ToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, f := range samples {
		s := clamp(f)
		var v int16
		if s < 0 {
			v = int16(s * 0x8000)
		} else {
			v = int16(s * 0x7FFF)
		}
		out[i*2] = byte(v)
		out[i*2+1] = byte(uint16(v) >> 8)
	}
	return out
}

// PCM16ToFloat32 converts little-endian int16 PCM to float samples in [-1, 1].
// A trailing odd byte is ignored.
func PCM16ToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	out := make([]float32, n)
	for i := range n {
		v := int16(uint16(pcm[i*2]) | uint16(pcm[i*2+1])<<8)
		if v < 0 {
			out[i] = float32(v) / 0x8000
		} else {
			out[i] = float32(v) / 0x7FFF
		}
	}
	return out
}

// EncodeFrame clamps and converts samples to PCM16 and returns the base64
// payload carried by input_audio_buffer.append.
func EncodeFrame(samples []float32) string {
	return base64.StdEncoding.EncodeToString(Float32ToPCM16(samples))
}

// DecodeChunk decodes a base64 PCM16 payload into float samples.
func DecodeChunk(payload string) ([]float32, error) {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("audio: decode chunk: %w", err)
	}
	if len(raw)%2 != 0 {
		return nil, fmt.Errorf("audio: decode chunk: odd byte count %d", len(raw))
	}
	return PCM16ToFloat32(raw), nil
}

// Peak returns the largest absolute sample value in samples.
func Peak(samples []float32) float32 {
	var peak float32
	for _, s := range samples {
		if s < 0 {
			s = -s
		}
		if s > peak {
			peak = s
		}
	}
	return peak
}

func clamp(f float32) float32 {
	if f > 1 {
		return 1
	}
	if f < -1 {
		return -1
	}
	return f
}

// formatString returns a human-readable string for a sample rate and channel count,
// e.g. "24000Hz mono".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
