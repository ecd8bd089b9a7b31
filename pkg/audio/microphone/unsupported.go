//go:build !portaudio

package microphone

import (
	"context"
	"fmt"

	"github.com/MrWong99/hornwatch/pkg/audio"
)

var _ audio.Source = (*Source)(nil)

// Source is the microphone source of builds without PortAudio. It reports
// capture as unsupported so that no device request is ever made.
type Source struct{}

// New returns a microphone Source.
func New() *Source { return &Source{} }

// Supported reports false.
func (*Source) Supported() bool { return false }

// RequestCapture always fails with [audio.ErrUnsupported].
func (*Source) RequestCapture(context.Context, audio.Format) (audio.Capture, error) {
	return nil, fmt.Errorf("microphone: built without the portaudio tag: %w", audio.ErrUnsupported)
}
