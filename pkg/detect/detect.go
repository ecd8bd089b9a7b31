// Package detect compares live feature vectors against a reference signature
// and debounces the resulting matches into detection episodes.
//
// A [Detector] reports [Match] when the distance to the closest reference
// template is at or below the configured threshold. The first Match opens an
// episode and is flagged [Result.Triggered]; further matches inside the
// episode are not re-flagged. The episode closes ([Result.Rearmed]) on the
// first NoMatch frame once the cooldown has elapsed since the episode began.
// All timing uses frame timestamps, so detection is reproducible for offline
// input.
package detect

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/MrWong99/hornwatch/pkg/feature"
)

// ErrDimension is returned when a live vector and a template differ in length.
var ErrDimension = errors.New("detect: vector length mismatch")

// Outcome is the raw comparison verdict for one frame.
type Outcome int

const (
	NoMatch Outcome = iota
	Match
)

// String implements [fmt.Stringer].
func (o Outcome) String() string {
	if o == Match {
		return "match"
	}
	return "no_match"
}

// Reference is the read-only baseline a [Detector] compares against.
type Reference interface {
	// Templates returns the reference vectors. Callers must not modify them.
	Templates() []feature.Vector
}

// Templates is a [Reference] backed by a plain slice.
type Templates []feature.Vector

// Templates implements [Reference].
func (t Templates) Templates() []feature.Vector { return t }

// Config holds the tunable detector parameters.
type Config struct {
	Metric    Metric
	Threshold float64
	Cooldown  time.Duration
}

// Validate reports invalid parameters.
func (c Config) Validate() error {
	var errs []error
	if c.Metric != "" && !c.Metric.IsValid() {
		errs = append(errs, fmt.Errorf("detect: unknown metric %q", c.Metric))
	}
	if c.Threshold < 0 || math.IsNaN(c.Threshold) {
		errs = append(errs, fmt.Errorf("detect: threshold must be >= 0, got %v", c.Threshold))
	}
	if c.Cooldown < 0 {
		errs = append(errs, fmt.Errorf("detect: cooldown must be >= 0, got %s", c.Cooldown))
	}
	return errors.Join(errs...)
}

// Result describes the evaluation of one frame.
type Result struct {
	Outcome Outcome

	// Distance to the closest template. +Inf when the detector is degraded.
	Distance float64

	// Triggered is set on the first Match of a new episode.
	Triggered bool

	// Rearmed is set on the NoMatch that closes an episode.
	Rearmed bool

	// InEpisode reports whether an episode is open after this frame.
	InEpisode bool
}

// Detector is the similarity detector with debounce state. All methods are
// safe for concurrent use, although a session evaluates from a single
// goroutine.
type Detector struct {
	mu        sync.Mutex
	cfg       Config
	templates []feature.Vector

	inEpisode    bool
	episodeStart time.Duration
}

// New returns a Detector comparing against ref. A nil ref, or one without
// templates, yields a degraded detector that never matches.
func New(cfg Config, ref Reference) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Metric == "" {
		cfg.Metric = Manhattan
	}
	d := &Detector{cfg: cfg}
	if ref != nil {
		d.templates = ref.Templates()
	}
	return d, nil
}

// Degraded reports whether the detector has no reference to compare against.
func (d *Detector) Degraded() bool {
	return len(d.templates) == 0
}

// Config returns the current parameters.
func (d *Detector) Config() Config {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg
}

// Evaluate compares v against the reference. at is the timestamp of the
// frame v was extracted from and must not decrease between calls.
func (d *Detector) Evaluate(v feature.Vector, at time.Duration) (Result, error) {
	dist, err := d.closest(v)
	if err != nil {
		return Result{}, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	res := Result{Outcome: NoMatch, Distance: dist}
	if !math.IsInf(dist, 1) && dist <= d.cfg.Threshold {
		res.Outcome = Match
	}

	switch {
	case res.Outcome == Match && !d.inEpisode:
		d.inEpisode = true
		d.episodeStart = at
		res.Triggered = true
	case res.Outcome == NoMatch && d.inEpisode && at-d.episodeStart >= d.cfg.Cooldown:
		d.inEpisode = false
		res.Rearmed = true
	}
	res.InEpisode = d.inEpisode
	return res, nil
}

func (d *Detector) closest(v feature.Vector) (float64, error) {
	best := math.Inf(1)
	for _, tmpl := range d.templates {
		dist, err := Distance(d.cfg.Metric, v, tmpl)
		if err != nil {
			return 0, err
		}
		best = min(best, dist)
	}
	return best, nil
}

// Retune replaces threshold and cooldown without touching an open episode.
func (d *Detector) Retune(threshold float64, cooldown time.Duration) error {
	next := Config{Metric: d.Config().Metric, Threshold: threshold, Cooldown: cooldown}
	if err := next.Validate(); err != nil {
		return err
	}
	d.mu.Lock()
	d.cfg.Threshold = threshold
	d.cfg.Cooldown = cooldown
	d.mu.Unlock()
	return nil
}

// Reset closes any open episode.
func (d *Detector) Reset() {
	d.mu.Lock()
	d.inEpisode = false
	d.episodeStart = 0
	d.mu.Unlock()
}
