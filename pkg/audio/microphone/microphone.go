//go:build portaudio

// Package microphone captures audio from the default input device through
// PortAudio. It is only built with the "portaudio" build tag; other builds
// get a Source that reports capture as unsupported.
package microphone

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MarkKremer/microphone/v2"
	"github.com/gopxl/beep/v2"

	"github.com/MrWong99/hornwatch/pkg/audio"
)

// Compile-time interface assertions.
var (
	_ audio.Source  = (*Source)(nil)
	_ audio.Capture = (*Capture)(nil)
)

const (
	frameBuffer = 16

	// chunk is the number of device samples pulled per read.
	chunk = 512
)

// Source opens the default input device.
type Source struct{}

// New returns a microphone Source.
func New() *Source { return &Source{} }

// Supported reports true: this build links PortAudio.
func (*Source) Supported() bool { return true }

// RequestCapture opens the default input device as a mono stream and starts
// delivering frames.
func (*Source) RequestCapture(ctx context.Context, format audio.Format) (audio.Capture, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := microphone.Init(); err != nil {
		return nil, fmt.Errorf("microphone: init portaudio: %w: %w", audio.ErrUnsupported, err)
	}

	stream, devFormat, err := microphone.OpenDefaultStream(beep.SampleRate(format.SampleRate), 1)
	if err != nil {
		_ = microphone.Terminate()
		return nil, openError(err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = microphone.Terminate()
		return nil, fmt.Errorf("microphone: start stream: %w: %w", audio.ErrDevice, err)
	}

	if int(devFormat.SampleRate) != format.SampleRate {
		slog.Debug("microphone rate differs from requested, resampling",
			"device_rate", int(devFormat.SampleRate),
			"rate", format.SampleRate,
		)
	}
	src := audio.NewResampler(int(devFormat.SampleRate), format.SampleRate, stream)

	c := &Capture{
		stream:   stream,
		frames:   make(chan audio.AudioFrame, frameBuffer),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}
	go c.read(src, format)
	return c, nil
}

// Capture is an open input stream.
type Capture struct {
	stream *microphone.Streamer
	frames chan audio.AudioFrame

	mu  sync.Mutex
	err error

	done      chan struct{}
	closeOnce sync.Once
	finished  chan struct{}
}

// Frames implements [audio.Capture].
func (c *Capture) Frames() <-chan audio.AudioFrame { return c.frames }

// Err implements [audio.Capture].
func (c *Capture) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Release implements [audio.Capture]. It stops the stream, waits for the
// reader to exit and shuts PortAudio down.
func (c *Capture) Release() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = errors.Join(c.stream.Stop(), c.stream.Close())
		<-c.finished
		err = errors.Join(err, microphone.Terminate())
	})
	return err
}

func (c *Capture) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

func (c *Capture) read(src beep.Streamer, format audio.Format) {
	defer close(c.finished)
	defer close(c.frames)

	framer := audio.NewFramer(format)
	buf := make([][2]float64, chunk)
	mono := make([]float32, chunk)
	for {
		select {
		case <-c.done:
			return
		default:
		}

		n, ok := src.Stream(buf)
		if !ok {
			select {
			case <-c.done:
			default:
				err := src.Err()
				if err == nil {
					err = errors.New("stream ended")
				}
				c.fail(fmt.Errorf("microphone: %w: %w", audio.ErrDevice, err))
			}
			return
		}
		for i := range n {
			mono[i] = float32(buf[i][0])
		}
		for _, frame := range framer.Push(mono[:n]) {
			select {
			case <-c.done:
				return
			case c.frames <- frame:
			}
		}
	}
}
