package audio

import "time"

// Framer cuts a continuous mono sample stream into fixed-size [AudioFrame]
// windows. Device callbacks deliver arbitrary chunk sizes; the framer buffers
// the remainder until a full window is available.
//
// A Framer is not safe for concurrent use.
type Framer struct {
	format Format
	buf    []float32
	seq    uint64
	// consumed counts samples already emitted, used for frame timestamps.
	consumed uint64
}

// NewFramer returns a Framer emitting frames of format.WindowSize samples.
func NewFramer(format Format) *Framer {
	return &Framer{
		format: format,
		buf:    make([]float32, 0, format.WindowSize*2),
	}
}

// Push appends samples and returns every complete frame now available. Each
// returned frame owns its sample slice.
func (f *Framer) Push(samples []float32) []AudioFrame {
	if f.format.WindowSize <= 0 {
		return nil
	}
	f.buf = append(f.buf, samples...)

	var frames []AudioFrame
	for len(f.buf) >= f.format.WindowSize {
		window := make([]float32, f.format.WindowSize)
		copy(window, f.buf[:f.format.WindowSize])
		frames = append(frames, AudioFrame{
			Samples:    window,
			SampleRate: f.format.SampleRate,
			Seq:        f.seq,
			Timestamp:  f.offset(),
		})
		f.seq++
		f.consumed += uint64(f.format.WindowSize)
		f.buf = f.buf[f.format.WindowSize:]
	}

	// Compact so the buffer does not grow without bound.
	if cap(f.buf) > f.format.WindowSize*4 {
		rest := make([]float32, len(f.buf), f.format.WindowSize*2)
		copy(rest, f.buf)
		f.buf = rest
	}
	return frames
}

// Buffered returns the number of samples waiting for a full window.
func (f *Framer) Buffered() int {
	return len(f.buf)
}

func (f *Framer) offset() time.Duration {
	if f.format.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.consumed) * time.Second / time.Duration(f.format.SampleRate)
}
