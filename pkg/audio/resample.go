package audio

import (
	"github.com/gopxl/beep/v2"
)

// ResampleQuality is the beep interpolation quality used for every sample
// rate conversion. Reference clips, file sources and live devices all go
// through the same resampler so that one sound yields one feature vector.
const ResampleQuality = 4

// NewResampler converts the stream s from srcRate to dstRate. It returns s
// unchanged when the rates match or are unknown.
func NewResampler(srcRate, dstRate int, s beep.Streamer) beep.Streamer {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate {
		return s
	}
	return beep.Resample(ResampleQuality, beep.SampleRate(srcRate), beep.SampleRate(dstRate), s)
}

// Resample converts mono samples from srcRate to dstRate with [NewResampler].
// The result has exactly len(samples)*dstRate/srcRate samples. The input is
// returned unchanged when the rates match.
func Resample(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(samples) == 0 {
		return samples
	}
	dstLen := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	out := make([]float32, 0, dstLen)

	r := NewResampler(srcRate, dstRate, &MonoStreamer{Samples: samples})
	buf := make([][2]float64, 512)
	for len(out) < dstLen {
		n, ok := r.Stream(buf)
		for i := range n {
			out = append(out, float32(buf[i][0]))
		}
		if !ok || n == 0 {
			break
		}
	}
	if len(out) > dstLen {
		return out[:dstLen]
	}
	// The resampler may stop a few samples early at the end of input.
	for len(out) < dstLen {
		out = append(out, 0)
	}
	return out
}

// MonoStreamer plays mono samples as a beep stream with both channels equal.
type MonoStreamer struct {
	Samples []float32
	pos     int
}

var _ beep.Streamer = (*MonoStreamer)(nil)

// Stream implements [beep.Streamer].
func (m *MonoStreamer) Stream(samples [][2]float64) (int, bool) {
	if m.pos >= len(m.Samples) {
		return 0, false
	}
	n := copy32(samples, m.Samples[m.pos:])
	m.pos += n
	return n, true
}

// Err implements [beep.Streamer].
func (*MonoStreamer) Err() error { return nil }

func copy32(dst [][2]float64, src []float32) int {
	n := min(len(dst), len(src))
	for i := range n {
		v := float64(src[i])
		dst[i] = [2]float64{v, v}
	}
	return n
}
