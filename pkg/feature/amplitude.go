package feature

import (
	"fmt"
	"math"
)

// AmplitudeMode selects the scalar computed by [Amplitude].
type AmplitudeMode string

const (
	AmplitudePeak AmplitudeMode = "peak"
	AmplitudeRMS  AmplitudeMode = "rms"
)

// IsValid reports whether m is a recognised amplitude mode.
func (m AmplitudeMode) IsValid() bool {
	return m == AmplitudePeak || m == AmplitudeRMS
}

// Amplitude is the cheap fallback extractor: a one-element vector holding the
// peak or RMS amplitude of the window.
type Amplitude struct {
	windowSize int
	mode       AmplitudeMode
}

// NewAmplitude returns an amplitude extractor. An empty mode means peak.
func NewAmplitude(windowSize int, mode AmplitudeMode) (*Amplitude, error) {
	if mode == "" {
		mode = AmplitudePeak
	}
	if !mode.IsValid() {
		return nil, fmt.Errorf("feature: unknown amplitude mode %q", mode)
	}
	return &Amplitude{windowSize: windowSize, mode: mode}, nil
}

// Extract implements [Extractor].
func (a *Amplitude) Extract(samples []float32) (Vector, error) {
	if err := checkWindow(samples, a.windowSize); err != nil {
		return nil, err
	}
	if a.mode == AmplitudeRMS {
		return Vector{RMS(samples)}, nil
	}
	return Vector{Peak(samples)}, nil
}

// Len implements [Extractor].
func (a *Amplitude) Len() int { return 1 }

// Name implements [Extractor].
func (a *Amplitude) Name() string { return string(StrategyAmplitude) + "/" + string(a.mode) }

// Peak returns the largest absolute sample value.
func Peak(samples []float32) float64 {
	var peak float64
	for _, s := range samples {
		peak = max(peak, math.Abs(float64(s)))
	}
	return peak
}

// RMS returns the root mean square of samples.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
