package decode

import (
	"errors"
	"io"
	"math"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/MrWong99/hornwatch/pkg/audio"
)

// EncodeWAV renders mono samples as a 16-bit PCM WAV file.
func EncodeWAV(samples []float32, sampleRate int) ([]byte, error) {
	ints := make([]int, len(samples))
	for i, s := range samples {
		v := math.Round(float64(s) * 32767)
		ints[i] = int(math.Max(-32768, math.Min(32767, v)))
	}

	var out seekBuffer
	enc := wav.NewEncoder(&out, sampleRate, 16, 1, 1) // 16-bit PCM, mono
	err := enc.Write(&goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           ints,
		SourceBitDepth: 16,
	})
	if err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return out.buf, nil
}

// MustEncodeWAV is like [EncodeWAV] but panics on error. It is used to
// produce synthetic reference samples and test fixtures.
func MustEncodeWAV(samples []float32, sampleRate int) []byte {
	data, err := EncodeWAV(samples, sampleRate)
	if err != nil {
		panic("decode: encode wav: " + err.Error())
	}
	return data
}

// seekBuffer is an in-memory io.WriteSeeker; the WAV encoder seeks back to
// patch chunk sizes on Close.
type seekBuffer struct {
	buf []byte
	pos int
}

func (b *seekBuffer) Write(p []byte) (int, error) {
	if end := b.pos + len(p); end > len(b.buf) {
		b.buf = append(b.buf, make([]byte, end-len(b.buf))...)
	}
	n := copy(b.buf[b.pos:], p)
	b.pos += n
	return n, nil
}

func (b *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(b.pos) + offset
	case io.SeekEnd:
		abs = int64(len(b.buf)) + offset
	default:
		return 0, errors.New("decode: invalid whence")
	}
	if abs < 0 {
		return 0, errors.New("decode: negative position")
	}
	b.pos = int(abs)
	return abs, nil
}

// Tone synthesises a sine wave of the given frequency, peak amplitude and
// length in samples.
func Tone(freq, amplitude float64, sampleRate, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(amplitude * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate)))
	}
	return out
}

// ToneClip is [Tone] wrapped in a mono [audio.Clip].
func ToneClip(freq, amplitude float64, sampleRate, n int) audio.Clip {
	return audio.Clip{Samples: Tone(freq, amplitude, sampleRate, n), SampleRate: sampleRate, Channels: 1}
}
