package audio

import (
	"fmt"
	"log/slog"
	"sync"
)

// ClipConverter converts decoded clips to mono at a target sample rate. It
// logs a warning on the first format mismatch.
// Create one per stream; not designed for shared use across goroutines.
type ClipConverter struct {
	TargetRate     int
	warnedMismatch sync.Once
}

// Convert returns clip as mono samples at TargetRate. If the clip is already
// mono at the target rate its sample slice is returned unchanged (zero
// allocation). Conversion order: downmix first, then resample.
func (c *ClipConverter) Convert(clip Clip) []float32 {
	channels := clip.Channels
	if channels <= 0 {
		channels = 1
	}
	if channels == 1 && (clip.SampleRate == c.TargetRate || c.TargetRate <= 0) {
		return clip.Samples
	}

	c.warnedMismatch.Do(func() {
		slog.Debug("audio clip format mismatch: converting",
			"from", formatString(clip.SampleRate, channels),
			"to", formatString(c.TargetRate, 1),
		)
	})

	// Downmix first so we resample a single channel.
	mono := Downmix(clip.Samples, channels)
	if c.TargetRate > 0 && clip.SampleRate != c.TargetRate {
		mono = Resample(mono, clip.SampleRate, c.TargetRate)
	}
	return mono
}

// PCM16ToFloat32 converts little-endian int16 PCM to samples in [-1, 1).
// A trailing odd byte is ignored.
func PCM16ToFloat32(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/2)
	for i := range out {
		s := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		out[i] = float32(s) / 32768
	}
	return out
}

// IntToFloat32 converts signed integer samples of the given bit depth to
// samples in [-1, 1). Unknown bit depths are treated as 16-bit.
func IntToFloat32(samples []int, bitDepth int) []float32 {
	if bitDepth <= 0 || bitDepth > 32 {
		bitDepth = 16
	}
	scale := float64(int64(1) << (bitDepth - 1))
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(float64(s) / scale)
	}
	return out
}

// Downmix averages interleaved channels into a mono signal. Mono input is
// returned unchanged.
func Downmix(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}
	frames := len(samples) / channels
	out := make([]float32, frames)
	for i := range frames {
		var sum float32
		for ch := range channels {
			sum += samples[i*channels+ch]
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// formatString returns a human-readable string for a sample rate and channel count,
// e.g. "48000Hz stereo".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
