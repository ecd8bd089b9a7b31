package audio

import "time"

// AudioFrame is one fixed-length window of consecutively captured mono samples.
// Frames are the atomic unit flowing from a [Capture] into the detection
// session. A frame is immutable once captured; the consumer owns it.
type AudioFrame struct {
	// Samples holds signed samples in the range [-1, 1]. The length equals the
	// window size requested from the [Source].
	Samples []float32

	// SampleRate in Hz (e.g., 16000, 44100).
	SampleRate int

	// Seq is the monotonic position of this frame within its capture, starting at 0.
	Seq uint64

	// Timestamp marks when the first sample of this frame was captured,
	// relative to stream start.
	Timestamp time.Duration
}

// Duration returns the playback length of the frame.
func (f AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(f.Samples)) * time.Second / time.Duration(f.SampleRate)
}

// Clip is a fully decoded piece of audio, e.g. a reference sample read from disk.
// Samples are interleaved when Channels > 1.
type Clip struct {
	Samples    []float32
	SampleRate int
	Channels   int
}

// Duration returns the playback length of the clip.
func (c Clip) Duration() time.Duration {
	if c.SampleRate <= 0 || c.Channels <= 0 {
		return 0
	}
	frames := len(c.Samples) / c.Channels
	return time.Duration(frames) * time.Second / time.Duration(c.SampleRate)
}
