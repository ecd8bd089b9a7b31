// Package feature converts fixed-size windows of audio samples into
// comparable feature vectors.
//
// Three strategies are available, selected by [Strategy]:
//
//   - [StrategySpectral]: Hann-windowed FFT magnitude per frequency bin.
//   - [StrategyAmplitude]: a scalar peak or RMS amplitude.
//   - [StrategyClassifier]: the score of a pluggable [Classifier].
//
// Every [Extractor] is a deterministic function of its input window and its
// construction parameters. The same Extractor value must be used for the
// reference signature and the live signal, otherwise distances are
// meaningless.
package feature

import (
	"errors"
	"fmt"
)

// ErrWindowSize is returned when a window does not have the configured length.
var ErrWindowSize = errors.New("feature: window size mismatch")

// Vector is an ordered sequence of non-negative feature values.
type Vector []float64

// Clone returns a copy of v that does not share memory.
func (v Vector) Clone() Vector {
	out := make(Vector, len(v))
	copy(out, v)
	return out
}

// Extractor turns one window of samples into a [Vector].
//
// Implementations are safe for concurrent use.
type Extractor interface {
	// Extract computes the feature vector of samples. len(samples) must equal
	// the configured window size.
	Extract(samples []float32) (Vector, error)

	// Len is the length of every vector returned by Extract.
	Len() int

	// Name identifies the strategy in logs and metrics.
	Name() string
}

// Strategy selects the feature extraction method.
type Strategy string

const (
	StrategySpectral   Strategy = "spectral"
	StrategyAmplitude  Strategy = "amplitude"
	StrategyClassifier Strategy = "classifier"
)

// IsValid reports whether s is a recognised strategy.
func (s Strategy) IsValid() bool {
	switch s {
	case StrategySpectral, StrategyAmplitude, StrategyClassifier:
		return true
	}
	return false
}

// Config collects the parameters of every strategy. Only the fields relevant
// to the selected Strategy are read.
type Config struct {
	Strategy   Strategy
	SampleRate int
	WindowSize int

	// Spectral options.
	Normalize Normalization
	MinHz     float64
	MaxHz     float64

	// Amplitude option.
	Amplitude AmplitudeMode

	// Classifier is used by StrategyClassifier. When nil, a [BandEnergy]
	// classifier over [BandLowHz, BandHighHz] is built.
	Classifier Classifier
	BandLowHz  float64
	BandHighHz float64
}

// New builds the Extractor described by cfg.
func New(cfg Config) (Extractor, error) {
	if cfg.WindowSize <= 0 {
		return nil, fmt.Errorf("feature: window size must be positive, got %d", cfg.WindowSize)
	}
	switch cfg.Strategy {
	case StrategySpectral, "":
		return NewSpectral(SpectralConfig{
			SampleRate: cfg.SampleRate,
			WindowSize: cfg.WindowSize,
			Normalize:  cfg.Normalize,
			MinHz:      cfg.MinHz,
			MaxHz:      cfg.MaxHz,
		})
	case StrategyAmplitude:
		return NewAmplitude(cfg.WindowSize, cfg.Amplitude)
	case StrategyClassifier:
		c := cfg.Classifier
		if c == nil {
			band, err := NewBandEnergy(cfg.SampleRate, cfg.WindowSize, cfg.BandLowHz, cfg.BandHighHz)
			if err != nil {
				return nil, err
			}
			c = band
		}
		return NewClassifierExtractor(c, cfg.WindowSize), nil
	default:
		return nil, fmt.Errorf("feature: unknown strategy %q", cfg.Strategy)
	}
}

func checkWindow(samples []float32, want int) error {
	if len(samples) != want {
		return fmt.Errorf("%w: got %d samples, want %d", ErrWindowSize, len(samples), want)
	}
	return nil
}
