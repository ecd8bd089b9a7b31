package feature

import (
	"fmt"
	"math"
	"math/cmplx"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Normalization scales a magnitude spectrum so that recordings at different
// loudness compare by shape.
type Normalization string

const (
	// NormalizeMax divides every bin by the largest bin.
	NormalizeMax Normalization = "max"

	// NormalizeSum divides every bin by the sum of all bins.
	NormalizeSum Normalization = "sum"

	// NormalizeNone keeps raw magnitudes (divided by the window size).
	NormalizeNone Normalization = "none"
)

// IsValid reports whether n is a recognised normalisation.
func (n Normalization) IsValid() bool {
	switch n {
	case NormalizeMax, NormalizeSum, NormalizeNone:
		return true
	}
	return false
}

// SpectralConfig parameterises [Spectral].
type SpectralConfig struct {
	SampleRate int
	WindowSize int
	Normalize  Normalization

	// MinHz and MaxHz restrict the returned bins to a frequency band. Zero
	// values mean DC and Nyquist respectively.
	MinHz float64
	MaxHz float64
}

// Spectral computes the Hann-windowed magnitude spectrum of a window.
type Spectral struct {
	cfg    SpectralConfig
	window []float64
	lo, hi int // bin range [lo, hi)

	mu      sync.Mutex
	fft     *fourier.FFT
	scratch []float64
	coeffs  []complex128
}

// NewSpectral returns a spectral extractor. WindowSize is the FFT length.
func NewSpectral(cfg SpectralConfig) (*Spectral, error) {
	if cfg.WindowSize < 2 {
		return nil, fmt.Errorf("feature: spectral window size must be at least 2, got %d", cfg.WindowSize)
	}
	if cfg.Normalize == "" {
		cfg.Normalize = NormalizeMax
	}
	if !cfg.Normalize.IsValid() {
		return nil, fmt.Errorf("feature: unknown normalization %q", cfg.Normalize)
	}

	bins := cfg.WindowSize/2 + 1
	lo, hi := 0, bins
	if cfg.SampleRate > 0 {
		binHz := float64(cfg.SampleRate) / float64(cfg.WindowSize)
		if cfg.MinHz > 0 {
			lo = min(int(math.Ceil(cfg.MinHz/binHz)), bins)
		}
		if cfg.MaxHz > 0 {
			hi = min(int(math.Floor(cfg.MaxHz/binHz))+1, bins)
		}
	}
	if hi <= lo {
		return nil, fmt.Errorf("feature: empty frequency band [%.1f, %.1f] Hz", cfg.MinHz, cfg.MaxHz)
	}

	return &Spectral{
		cfg:     cfg,
		window:  hann(cfg.WindowSize),
		lo:      lo,
		hi:      hi,
		fft:     fourier.NewFFT(cfg.WindowSize),
		scratch: make([]float64, cfg.WindowSize),
		coeffs:  make([]complex128, bins),
	}, nil
}

// Extract implements [Extractor].
func (s *Spectral) Extract(samples []float32) (Vector, error) {
	if err := checkWindow(samples, s.cfg.WindowSize); err != nil {
		return nil, err
	}
	mags := s.magnitudes(samples)
	normalize(mags, s.cfg.Normalize)
	return mags, nil
}

// magnitudes returns |X_k| / N for the configured bin range.
func (s *Spectral) magnitudes(samples []float32) Vector {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, v := range samples {
		s.scratch[i] = float64(v) * s.window[i]
	}
	s.coeffs = s.fft.Coefficients(s.coeffs, s.scratch)

	n := float64(s.cfg.WindowSize)
	out := make(Vector, s.hi-s.lo)
	for k := s.lo; k < s.hi; k++ {
		out[k-s.lo] = cmplx.Abs(s.coeffs[k]) / n
	}
	return out
}

// Len implements [Extractor].
func (s *Spectral) Len() int { return s.hi - s.lo }

// Name implements [Extractor].
func (s *Spectral) Name() string { return string(StrategySpectral) }

// BinHz returns the centre frequency of vector index i.
func (s *Spectral) BinHz(i int) float64 {
	if s.cfg.SampleRate <= 0 {
		return 0
	}
	return float64(s.lo+i) * float64(s.cfg.SampleRate) / float64(s.cfg.WindowSize)
}

func normalize(v Vector, mode Normalization) {
	var div float64
	switch mode {
	case NormalizeMax:
		for _, x := range v {
			div = max(div, x)
		}
	case NormalizeSum:
		for _, x := range v {
			div += x
		}
	default:
		return
	}
	// Silence stays an all-zero vector.
	if div == 0 {
		return
	}
	for i := range v {
		v[i] /= div
	}
}

// hann returns the periodic Hann window of length n.
func hann(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n))
	}
	return w
}
