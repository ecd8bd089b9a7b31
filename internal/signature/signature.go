// Package signature builds the reference signature that live audio is
// compared against.
//
// A [Loader] fetches a reference sample through a [SampleSource], decodes it
// (WAV or MP3), converts it to mono at the session sample rate, cuts it into
// windows and runs the same [feature.Extractor] that processes live frames.
// The result is computed once per process and shared read-only.
package signature

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/hornwatch/internal/observe"
	"github.com/MrWong99/hornwatch/pkg/audio"
	"github.com/MrWong99/hornwatch/pkg/audio/decode"
	"github.com/MrWong99/hornwatch/pkg/detect"
	"github.com/MrWong99/hornwatch/pkg/feature"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var (
	// ErrLoad matches every [*LoadError].
	ErrLoad = errors.New("signature: load failed")

	// ErrNotFound is returned by a [SampleSource] when the sample does not exist.
	ErrNotFound = errors.New("signature: sample not found")
)

// Load stages reported in [LoadError.Op].
const (
	OpFetch   = "fetch"
	OpDecode  = "decode"
	OpExtract = "extract"
)

// LoadError describes why a reference signature could not be built.
type LoadError struct {
	Op   string
	Path string
	Err  error
}

// Error implements error.
func (e *LoadError) Error() string {
	return fmt.Sprintf("signature: %s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap returns the underlying cause.
func (e *LoadError) Unwrap() error { return e.Err }

// Is reports whether target is [ErrLoad].
func (e *LoadError) Is(target error) bool { return target == ErrLoad }

// activeFraction is the share of the loudest window's RMS a window needs to
// contribute to the mean. Leading and trailing silence in a recording is
// thereby ignored.
const activeFraction = 0.1

// Signature is the immutable reference feature representation.
type Signature struct {
	// Mean is the average feature vector over all active windows.
	Mean feature.Vector

	// Loudest holds the vectors of the loudest windows, loudest first.
	Loudest []feature.Vector

	// Extractor names the strategy the vectors were computed with.
	Extractor string

	// Windows is the number of windows the sample was cut into; Active is how
	// many of them contributed to Mean.
	Windows int
	Active  int

	SampleRate int
	Duration   time.Duration
	Source     string
}

var _ detect.Reference = (*Signature)(nil)

// Templates implements [detect.Reference]: the mean followed by the loudest
// windows.
func (s *Signature) Templates() []feature.Vector {
	if s == nil {
		return nil
	}
	out := make([]feature.Vector, 0, 1+len(s.Loudest))
	out = append(out, s.Mean)
	return append(out, s.Loudest...)
}

// BuildConfig controls how a clip is turned into a [Signature].
type BuildConfig struct {
	SampleRate int
	WindowSize int

	// Templates is the number of loudest windows kept besides the mean.
	Templates int
}

// Build computes the signature of clip with ex. The clip is converted to mono
// at cfg.SampleRate; a clip shorter than one window is zero padded.
func Build(clip audio.Clip, ex feature.Extractor, cfg BuildConfig) (*Signature, error) {
	conv := audio.ClipConverter{TargetRate: cfg.SampleRate}
	mono := conv.Convert(clip)
	if len(mono) == 0 {
		return nil, errors.New("reference sample contains no audio")
	}
	if len(mono) < cfg.WindowSize {
		padded := make([]float32, cfg.WindowSize)
		copy(padded, mono)
		mono = padded
	}

	type window struct {
		vec feature.Vector
		rms float64
	}
	framer := audio.NewFramer(audio.Format{SampleRate: cfg.SampleRate, WindowSize: cfg.WindowSize})
	frames := framer.Push(mono)

	windows := make([]window, 0, len(frames))
	var loudest float64
	for _, f := range frames {
		v, err := ex.Extract(f.Samples)
		if err != nil {
			return nil, fmt.Errorf("window %d: %w", f.Seq, err)
		}
		rms := feature.RMS(f.Samples)
		loudest = max(loudest, rms)
		windows = append(windows, window{vec: v, rms: rms})
	}
	if loudest == 0 {
		return nil, errors.New("reference sample is silent")
	}

	mean := make(feature.Vector, ex.Len())
	var active []window
	for _, w := range windows {
		if w.rms < loudest*activeFraction {
			continue
		}
		active = append(active, w)
		for i, x := range w.vec {
			mean[i] += x
		}
	}
	for i := range mean {
		mean[i] /= float64(len(active))
	}

	slices.SortStableFunc(active, func(a, b window) int {
		switch {
		case a.rms > b.rms:
			return -1
		case a.rms < b.rms:
			return 1
		}
		return 0
	})
	k := min(max(cfg.Templates, 0), len(active))
	top := make([]feature.Vector, k)
	for i := range k {
		top[i] = active[i].vec.Clone()
	}

	return &Signature{
		Mean:       mean,
		Loudest:    top,
		Extractor:  ex.Name(),
		Windows:    len(windows),
		Active:     len(active),
		SampleRate: cfg.SampleRate,
		Duration:   clip.Duration(),
	}, nil
}

// Option configures a [Loader].
type Option func(*Loader)

// WithMetrics records load latency on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(l *Loader) { l.metrics = m }
}

// Loader builds the reference signature once and caches the outcome.
type Loader struct {
	src     SampleSource
	ex      feature.Extractor
	path    string
	cfg     BuildConfig
	metrics *observe.Metrics

	once sync.Once
	done atomic.Bool
	sig  *Signature
	err  error
}

// NewLoader returns a Loader for the sample at path.
func NewLoader(src SampleSource, path string, ex feature.Extractor, cfg BuildConfig, opts ...Option) *Loader {
	l := &Loader{src: src, ex: ex, path: path, cfg: cfg}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Load returns the signature, building it on the first call. Later calls
// return the cached signature or the cached error without touching the
// source again. Errors are [*LoadError] values.
func (l *Loader) Load(ctx context.Context) (*Signature, error) {
	l.once.Do(func() {
		l.sig, l.err = l.load(ctx)
		l.done.Store(true)
	})
	return l.sig, l.err
}

// Loaded reports whether Load has completed successfully. It never
// triggers a load.
func (l *Loader) Loaded() bool {
	return l.done.Load() && l.err == nil
}

func (l *Loader) load(ctx context.Context) (_ *Signature, err error) {
	ctx, span := observe.StartSpan(ctx, "signature.Load",
		trace.WithAttributes(
			attribute.String("signature.path", l.path),
			attribute.String("signature.extractor", l.ex.Name()),
		),
	)
	defer func() { observe.EndSpan(span, err) }()

	start := time.Now()
	defer func() {
		if l.metrics != nil {
			l.metrics.SignatureLoadDuration.Record(ctx, time.Since(start).Seconds())
		}
	}()

	data, err := l.src.FetchBytes(ctx, l.path)
	if err != nil {
		return nil, &LoadError{Op: OpFetch, Path: l.path, Err: err}
	}
	clip, err := decode.Decode(data)
	if err != nil {
		return nil, &LoadError{Op: OpDecode, Path: l.path, Err: err}
	}
	sig, err := Build(clip, l.ex, l.cfg)
	if err != nil {
		return nil, &LoadError{Op: OpExtract, Path: l.path, Err: err}
	}
	sig.Source = l.path

	observe.Logger(ctx).Info("reference signature loaded",
		slog.String("path", l.path),
		slog.String("extractor", sig.Extractor),
		slog.Int("windows", sig.Windows),
		slog.Int("active", sig.Active),
		slog.Int("templates", len(sig.Templates())),
		slog.Duration("duration", sig.Duration),
	)
	return sig, nil
}
