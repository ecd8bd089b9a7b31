package feature

import (
	"fmt"
	"math"
)

// Classifier scores how likely a window contains the target sound.
// Score must be deterministic and return a value in [0, 1].
type Classifier interface {
	Score(samples []float32) (float64, error)
}

// ClassifierFunc adapts a plain function to [Classifier].
type ClassifierFunc func(samples []float32) (float64, error)

// Score implements [Classifier].
func (f ClassifierFunc) Score(samples []float32) (float64, error) { return f(samples) }

// ClassifierExtractor exposes a [Classifier] through the [Extractor]
// contract. The vector is the single score, so the reference signature
// holds the score of the reference sample and the detector distance is the
// score difference.
type ClassifierExtractor struct {
	c          Classifier
	windowSize int
}

// NewClassifierExtractor wraps c.
func NewClassifierExtractor(c Classifier, windowSize int) *ClassifierExtractor {
	return &ClassifierExtractor{c: c, windowSize: windowSize}
}

// Extract implements [Extractor].
func (e *ClassifierExtractor) Extract(samples []float32) (Vector, error) {
	if err := checkWindow(samples, e.windowSize); err != nil {
		return nil, err
	}
	score, err := e.c.Score(samples)
	if err != nil {
		return nil, fmt.Errorf("feature: classifier: %w", err)
	}
	if math.IsNaN(score) {
		score = 0
	}
	return Vector{math.Max(0, math.Min(1, score))}, nil
}

// Len implements [Extractor].
func (e *ClassifierExtractor) Len() int { return 1 }

// Name implements [Extractor].
func (e *ClassifierExtractor) Name() string { return string(StrategyClassifier) }

// BandEnergy is the built-in classifier: the share of spectral energy that
// falls inside [LowHz, HighHz]. Car horns concentrate their energy in a
// narrow band of a few hundred Hz, while broadband traffic noise does not.
type BandEnergy struct {
	spectral *Spectral
	lo, hi   int // band bin range within the full spectrum
}

// NewBandEnergy returns a band-energy classifier. sampleRate must be positive.
func NewBandEnergy(sampleRate, windowSize int, lowHz, highHz float64) (*BandEnergy, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("feature: band energy requires a sample rate")
	}
	if lowHz < 0 || highHz <= lowHz {
		return nil, fmt.Errorf("feature: invalid band [%.1f, %.1f] Hz", lowHz, highHz)
	}
	full, err := NewSpectral(SpectralConfig{
		SampleRate: sampleRate,
		WindowSize: windowSize,
		Normalize:  NormalizeNone,
	})
	if err != nil {
		return nil, err
	}
	binHz := float64(sampleRate) / float64(windowSize)
	lo := int(math.Ceil(lowHz / binHz))
	hi := min(int(math.Floor(highHz/binHz))+1, full.Len())
	if hi <= lo {
		return nil, fmt.Errorf("feature: band [%.1f, %.1f] Hz contains no bins", lowHz, highHz)
	}
	return &BandEnergy{spectral: full, lo: lo, hi: hi}, nil
}

// Score implements [Classifier].
func (b *BandEnergy) Score(samples []float32) (float64, error) {
	if err := checkWindow(samples, b.spectral.cfg.WindowSize); err != nil {
		return 0, err
	}
	mags := b.spectral.magnitudes(samples)
	var total, band float64
	for k, m := range mags {
		e := m * m
		total += e
		if k >= b.lo && k < b.hi {
			band += e
		}
	}
	if total == 0 {
		return 0, nil
	}
	return band / total, nil
}
