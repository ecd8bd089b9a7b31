// Package decode turns encoded audio files (WAV, MP3) into [audio.Clip]
// values of float samples.
package decode

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/MrWong99/hornwatch/pkg/audio"
	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
)

var (
	// ErrUnsupportedFormat is returned when the data is neither WAV nor MP3.
	ErrUnsupportedFormat = errors.New("decode: unsupported audio format")

	// ErrCorrupt is returned when the container is recognised but the payload
	// cannot be decoded.
	ErrCorrupt = errors.New("decode: corrupt audio data")
)

// Format identifies a supported container.
type Format string

const (
	FormatWAV Format = "wav"
	FormatMP3 Format = "mp3"
)

// Sniff inspects the leading bytes of data and returns the container format.
func Sniff(data []byte) (Format, error) {
	switch {
	case len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE":
		return FormatWAV, nil
	case len(data) >= 3 && string(data[0:3]) == "ID3":
		return FormatMP3, nil
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		// MPEG audio frame sync.
		return FormatMP3, nil
	}
	return "", ErrUnsupportedFormat
}

// Decode sniffs and decodes data into a clip. Multichannel audio is returned
// interleaved; use [audio.ClipConverter] to get mono samples.
func Decode(data []byte) (audio.Clip, error) {
	format, err := Sniff(data)
	if err != nil {
		return audio.Clip{}, err
	}
	switch format {
	case FormatWAV:
		return DecodeWAV(bytes.NewReader(data))
	default:
		return DecodeMP3(bytes.NewReader(data))
	}
}

// DecodeWAV decodes a PCM WAV stream.
func DecodeWAV(r io.ReadSeeker) (audio.Clip, error) {
	d := wav.NewDecoder(r)
	if !d.IsValidFile() {
		return audio.Clip{}, fmt.Errorf("%w: invalid wav header", ErrCorrupt)
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return audio.Clip{}, fmt.Errorf("%w: read wav pcm: %v", ErrCorrupt, err)
	}
	if buf == nil || buf.Format == nil || buf.Format.SampleRate <= 0 {
		return audio.Clip{}, fmt.Errorf("%w: wav has no format", ErrCorrupt)
	}
	bitDepth := buf.SourceBitDepth
	if bitDepth == 0 {
		bitDepth = int(d.BitDepth)
	}
	channels := buf.Format.NumChannels
	if channels <= 0 {
		channels = 1
	}
	return audio.Clip{
		Samples:    audio.IntToFloat32(buf.Data, bitDepth),
		SampleRate: buf.Format.SampleRate,
		Channels:   channels,
	}, nil
}

// DecodeMP3 decodes an MP3 stream. go-mp3 always yields 16-bit stereo.
func DecodeMP3(r io.Reader) (audio.Clip, error) {
	d, err := mp3.NewDecoder(r)
	if err != nil {
		return audio.Clip{}, fmt.Errorf("%w: open mp3: %v", ErrCorrupt, err)
	}
	pcm, err := io.ReadAll(d)
	if err != nil {
		return audio.Clip{}, fmt.Errorf("%w: read mp3: %v", ErrCorrupt, err)
	}
	return audio.Clip{
		Samples:    audio.PCM16ToFloat32(pcm),
		SampleRate: d.SampleRate(),
		Channels:   2,
	}, nil
}
