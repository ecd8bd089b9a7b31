// Package mock provides in-memory mock implementations of the [audio.Source]
// and [audio.Capture] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	src := &mock.Source{}
//	capture, _ := src.RequestCapture(ctx, audio.Format{SampleRate: 16000, WindowSize: 2048})
//	src.Last().Send(audio.AudioFrame{Samples: window})
//	...
//	if src.Acquired() != src.Released() { t.Fatal("capture leaked") }
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/hornwatch/pkg/audio"
)

// defaultBuffer is the frame channel capacity used when Source.Buffer is zero.
const defaultBuffer = 64

// ─── Capture ──────────────────────────────────────────────────────────────────

// Capture is a mock implementation of [audio.Capture]. Frames are injected
// with [Capture.Send]; a device failure is simulated with [Capture.Fail].
type Capture struct {
	mu     sync.Mutex
	frames chan audio.AudioFrame
	closed   bool
	released bool
	err      error
	src      *Source

	// Format is the format passed to RequestCapture.
	Format audio.Format

	// ReleaseError is returned by the first Release call.
	ReleaseError error

	// CallCountRelease records how many times Release was called.
	CallCountRelease int
}

// NewCapture returns an open Capture with the given channel capacity.
func NewCapture(buffer int) *Capture {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Capture{frames: make(chan audio.AudioFrame, buffer)}
}

// Frames implements [audio.Capture].
func (c *Capture) Frames() <-chan audio.AudioFrame {
	return c.frames
}

// Err implements [audio.Capture].
func (c *Capture) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Release implements [audio.Capture]. The frame channel is closed on the
// first call (unless Fail already closed it); later calls only bump
// CallCountRelease.
func (c *Capture) Release() error {
	c.mu.Lock()
	c.CallCountRelease++
	if c.released {
		c.mu.Unlock()
		return nil
	}
	c.released = true
	if !c.closed {
		c.closed = true
		close(c.frames)
	}
	err := c.ReleaseError
	src := c.src
	c.mu.Unlock()

	if src != nil {
		src.recordRelease()
	}
	return err
}

// Send delivers frame to the consumer. It reports false when the capture is
// already closed or the buffer is full.
func (c *Capture) Send(frame audio.AudioFrame) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.frames <- frame:
		return true
	default:
		return false
	}
}

// Fail simulates a device failure: Err reports err and the frame channel is
// closed. The capture still counts as unreleased until Release is called.
func (c *Capture) Fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		c.err = err
	}
	if !c.closed {
		c.closed = true
		close(c.frames)
	}
}

// Closed reports whether the frame channel has been closed.
func (c *Capture) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Ensure Capture implements audio.Capture at compile time.
var _ audio.Capture = (*Capture)(nil)

// ─── Source ───────────────────────────────────────────────────────────────────

// Source is a mock implementation of [audio.Source].
type Source struct {
	mu sync.Mutex

	// Unsupported makes Supported report false.
	Unsupported bool

	// RequestCaptureErr, if non-nil, is returned by RequestCapture.
	RequestCaptureErr error

	// Buffer is the frame channel capacity for new captures. Default: 64.
	Buffer int

	// CallCountSupported records how many times Supported was called.
	CallCountSupported int

	// CallCountRequestCapture records how many times RequestCapture was called.
	CallCountRequestCapture int

	captures []*Capture
	released int
}

// Supported implements [audio.Source].
func (s *Source) Supported() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountSupported++
	return !s.Unsupported
}

// RequestCapture implements [audio.Source]. It returns RequestCaptureErr or a
// fresh [Capture].
func (s *Source) RequestCapture(_ context.Context, format audio.Format) (audio.Capture, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountRequestCapture++
	if s.RequestCaptureErr != nil {
		return nil, s.RequestCaptureErr
	}
	c := NewCapture(s.Buffer)
	c.Format = format
	c.src = s
	s.captures = append(s.captures, c)
	return c, nil
}

// Last returns the most recently created capture, or nil.
func (s *Source) Last() *Capture {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.captures) == 0 {
		return nil
	}
	return s.captures[len(s.captures)-1]
}

// Acquired returns the number of captures handed out.
func (s *Source) Acquired() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.captures)
}

// Released returns the number of captures that were released at least once.
func (s *Source) Released() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

func (s *Source) recordRelease() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released++
}

// Ensure Source implements audio.Source at compile time.
var _ audio.Source = (*Source)(nil)
