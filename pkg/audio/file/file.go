// Package file provides an [audio.Source] that replays a WAV or MP3
// recording. It lets the detection engine run offline over a recording,
// for example to tune the threshold against known traffic noise.
package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/MrWong99/hornwatch/pkg/audio"
	"github.com/MrWong99/hornwatch/pkg/audio/decode"
)

// Compile-time interface assertions.
var (
	_ audio.Source  = (*Source)(nil)
	_ audio.Capture = (*Capture)(nil)
)

const frameBuffer = 64

// Source replays one recording per capture. Every RequestCapture starts
// again from the beginning.
type Source struct {
	path     string
	realtime bool

	// readFile is os.ReadFile; overridden in tests.
	readFile func(string) ([]byte, error)
}

// Option configures a [Source].
type Option func(*Source)

// WithRealtime paces frames at the recording's own speed instead of as
// fast as the consumer reads them.
func WithRealtime(on bool) Option {
	return func(s *Source) { s.realtime = on }
}

// New returns a Source for the recording at path. The file is read on
// every RequestCapture, not here.
func New(path string, opts ...Option) *Source {
	s := &Source{path: path, readFile: os.ReadFile}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Supported always reports true; decoding needs no device.
func (s *Source) Supported() bool { return true }

// RequestCapture decodes the recording and starts delivering frames.
// A missing or unreadable file wraps [audio.ErrDevice]; a file the
// process may not read wraps [audio.ErrPermissionDenied].
func (s *Source) RequestCapture(ctx context.Context, format audio.Format) (audio.Capture, error) {
	if format.WindowSize <= 0 || format.SampleRate <= 0 {
		return nil, fmt.Errorf("file: invalid format %+v: %w", format, audio.ErrDevice)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := s.readFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return nil, fmt.Errorf("file: read %s: %w: %w", s.path, audio.ErrPermissionDenied, err)
		}
		return nil, fmt.Errorf("file: read %s: %w: %w", s.path, audio.ErrDevice, err)
	}
	clip, err := decode.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("file: decode %s: %w: %w", s.path, audio.ErrDevice, err)
	}

	conv := audio.ClipConverter{TargetRate: format.SampleRate}
	c := &Capture{
		frames:   make(chan audio.AudioFrame, frameBuffer),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}
	go c.play(conv.Convert(clip), format, s.realtime)
	return c, nil
}

// Capture is an active replay. The frame channel closes after the last
// complete window or on Release; a trailing partial window is dropped.
type Capture struct {
	frames chan audio.AudioFrame

	done      chan struct{}
	closeOnce sync.Once
	finished  chan struct{}
}

// Frames implements [audio.Capture].
func (c *Capture) Frames() <-chan audio.AudioFrame { return c.frames }

// Err implements [audio.Capture]. A replay never fails once started.
func (c *Capture) Err() error { return nil }

// Release implements [audio.Capture]. It stops playback and waits for the
// playback goroutine to exit.
func (c *Capture) Release() error {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	<-c.finished
	return nil
}

func (c *Capture) play(samples []float32, format audio.Format, realtime bool) {
	defer close(c.finished)
	defer close(c.frames)

	var tick <-chan time.Time
	if realtime {
		t := time.NewTicker(format.FramePeriod())
		defer t.Stop()
		tick = t.C
	}

	framer := audio.NewFramer(format)
	for _, frame := range framer.Push(samples) {
		if tick != nil {
			select {
			case <-c.done:
				return
			case <-tick:
			}
		}
		select {
		case <-c.done:
			return
		case c.frames <- frame:
		}
	}
}
