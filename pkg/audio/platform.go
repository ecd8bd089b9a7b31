// Package audio defines the interfaces and types for live audio capture within
// hornwatch.
//
// The two primary abstractions are:
//
//   - [Source]: probes for capture support and hands out a [Capture].
//   - [Capture]: an active capture delivering fixed-size [AudioFrame] values
//     until it is released or fails.
//
// Implementations are provided by adapter packages (audio/microphone for a
// real input device, audio/file for offline scans, audio/mock for tests). The
// interfaces are intentionally narrow to keep the detection session decoupled
// from device details.
package audio

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUnsupported is returned when no capture API is available on this
	// platform or build.
	ErrUnsupported = errors.New("audio: capture not supported")

	// ErrPermissionDenied is returned when the user or OS refused access to
	// the input device.
	ErrPermissionDenied = errors.New("audio: permission denied")

	// ErrDevice is returned for device failures: disconnected hardware, stream
	// errors, unreadable input.
	ErrDevice = errors.New("audio: device error")
)

// Format describes the frames a caller wants from a [Source].
type Format struct {
	// SampleRate in Hz.
	SampleRate int

	// WindowSize is the number of mono samples per [AudioFrame].
	WindowSize int
}

// FramePeriod returns how much audio one frame covers.
func (f Format) FramePeriod() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.WindowSize) * time.Second / time.Duration(f.SampleRate)
}

// Capture is an active audio capture.
//
// The channel returned by Frames delivers frames in capture order and is
// closed when the capture ends, either because Release was called or because
// the underlying device failed. After the channel closes, Err reports the
// failure (nil after a clean Release or end of input).
type Capture interface {
	// Frames returns the read-only frame channel. Every call returns the same channel.
	Frames() <-chan AudioFrame

	// Err returns the error that terminated the capture, if any.
	Err() error

	// Release stops the capture and frees the device. It is safe to call
	// Release more than once; subsequent calls are no-ops and return nil.
	Release() error
}

// Source is the entry point for an audio input provider.
//
// Implementations must be safe for concurrent use.
type Source interface {
	// Supported reports whether a capture API is available at all. Callers
	// check it before RequestCapture so that an unsupported platform never
	// triggers a device request.
	Supported() bool

	// RequestCapture opens the input and returns an active [Capture]
	// delivering frames in the requested format. ctx governs the request only.
	// Errors wrap [ErrUnsupported], [ErrPermissionDenied] or [ErrDevice].
	RequestCapture(ctx context.Context, format Format) (Capture, error)
}
