// Package session implements the detection session: the state machine that
// owns an audio capture, runs every frame through feature extraction and the
// similarity detector, and raises the alarm once per detection episode.
//
// The frame loop is an explicit step function, [Session.ProcessNextFrame],
// driven by [Session.Run] in production and called directly by tests. All
// methods are safe for concurrent use; in particular [Session.Stop] may be
// called from any goroutine while a step is waiting for a frame.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/hornwatch/internal/observe"
	"github.com/MrWong99/hornwatch/internal/signature"
	"github.com/MrWong99/hornwatch/pkg/audio"
	"github.com/MrWong99/hornwatch/pkg/detect"
	"github.com/MrWong99/hornwatch/pkg/feature"
)

var (
	// ErrUnsupportedPlatform is returned by Start when no capture API exists.
	ErrUnsupportedPlatform = errors.New("session: audio capture not supported")

	// ErrPermissionDenied is returned by Start when microphone access is refused.
	ErrPermissionDenied = errors.New("session: microphone permission denied")

	// ErrCapture reports a capture that could not be opened or failed while
	// running. The session is Stopped and the capture released.
	ErrCapture = errors.New("session: audio capture failed")

	// ErrAlreadyActive is returned by Start while Listening or Detected.
	ErrAlreadyActive = errors.New("session: already listening")

	// ErrNotActive is returned by ProcessNextFrame when the session holds no
	// capture, including when Stop raced with the step.
	ErrNotActive = errors.New("session: not listening")

	// ErrEndOfInput is returned by ProcessNextFrame when a finite source ran
	// out of frames. The session is Stopped.
	ErrEndOfInput = errors.New("session: end of input")

	// ErrClosed is returned by Start after Close.
	ErrClosed = errors.New("session: closed")
)

// Alarm is notified once per detection episode. Errors are logged and never
// change the session state.
type Alarm interface {
	Trigger(ctx context.Context) error
}

// AlarmFunc adapts a plain function to [Alarm].
type AlarmFunc func(ctx context.Context) error

// Trigger implements [Alarm].
func (f AlarmFunc) Trigger(ctx context.Context) error { return f(ctx) }

// SignatureProvider supplies the reference signature. [signature.Loader]
// satisfies it and caches the result.
type SignatureProvider interface {
	Load(ctx context.Context) (*signature.Signature, error)
}

// Config holds the session parameters.
type Config struct {
	Format   audio.Format
	Detect   detect.Config
	Messages Messages

	// SignatureRequired makes Start fail when the signature cannot be loaded.
	// Otherwise the session runs degraded and never detects.
	SignatureRequired bool
}

// Option configures a [Session].
type Option func(*Session)

// WithSignature sets the reference signature provider.
func WithSignature(p SignatureProvider) Option {
	return func(s *Session) { s.signatures = p }
}

// WithAlarm sets the alarm fired on each new detection episode.
func WithAlarm(a Alarm) Option {
	return func(s *Session) { s.alarm = a }
}

// WithStatusSink sets the sink receiving status reports.
func WithStatusSink(sink StatusSink) Option {
	return func(s *Session) { s.sink = sink }
}

// WithRecorder sets the recorder persisting finished episodes.
func WithRecorder(r Recorder) Option {
	return func(s *Session) { s.recorder = r }
}

// WithRecordQueue sets how many finished episodes may wait for the
// recorder. Zero means 32.
func WithRecordQueue(n int) Option {
	return func(s *Session) { s.queueSize = n }
}

// WithMetrics records frame and capture metrics on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithClock overrides the wall clock used for status and episode times.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// Session is one detection session. The zero value is not usable; create it
// with [New].
type Session struct {
	src        audio.Source
	ex         feature.Extractor
	signatures SignatureProvider
	alarm      Alarm
	sink       StatusSink
	recorder   Recorder
	queueSize  int
	metrics    *observe.Metrics
	now        func() time.Time
	records    *recordQueue

	mu       sync.Mutex
	cfg      Config
	state    State
	id       string
	capture  audio.Capture
	detector *detect.Detector
	degraded bool
	since    time.Time
	episode  *Episode
	stats    Stats
	starting bool
	closed   bool
}

// New returns an Idle session reading from src and extracting features with
// ex. The same extractor must have built the reference signature.
func New(cfg Config, src audio.Source, ex feature.Extractor, opts ...Option) (*Session, error) {
	if err := cfg.Detect.Validate(); err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	if cfg.Format.SampleRate <= 0 || cfg.Format.WindowSize <= 0 {
		return nil, fmt.Errorf("session: invalid audio format %+v", cfg.Format)
	}
	cfg.Messages = cfg.Messages.withDefaults()

	s := &Session{
		src:   src,
		ex:    ex,
		alarm: AlarmFunc(func(context.Context) error { return nil }),
		sink:  nopSink{},
		now:   time.Now,
		cfg:   cfg,
		state: Idle,
	}
	for _, o := range opts {
		o(s)
	}
	if s.recorder != nil {
		s.records = newRecordQueue(s.recorder, s.queueSize, defaultRecordTimeout)
	}
	return s, nil
}

// Start acquires the capture and moves the session to Listening.
//
// Start is only valid from Idle or Stopped. On failure the session keeps its
// previous state and holds no capture. An unsupported platform is detected
// before any capture is requested.
//
// The signature load and the capture request run without holding the
// session lock, so Snapshot and State stay responsive. A concurrent Start in
// that window returns [ErrAlreadyActive].
func (s *Session) Start(ctx context.Context) (err error) {
	ctx, span := observe.StartSpan(ctx, "session.Start")
	defer func() { observe.EndSpan(span, err) }()

	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return ErrClosed
	case s.starting || !s.state.CanStart():
		s.mu.Unlock()
		return ErrAlreadyActive
	}
	if !s.src.Supported() {
		st := s.statusLocked(s.cfg.Messages.Unsupported, ErrUnsupportedPlatform)
		s.mu.Unlock()
		s.recordCaptureError(ctx, "unsupported")
		s.emit(st)
		return ErrUnsupportedPlatform
	}
	s.starting = true
	cfg := s.cfg
	s.mu.Unlock()

	p, msg, err := s.prepare(ctx, cfg)

	s.mu.Lock()
	s.starting = false
	var statuses []Status
	if p.sigErr != nil {
		statuses = append(statuses, s.statusLocked(cfg.Messages.SignatureError, p.sigErr))
	}
	if err != nil {
		if msg != "" {
			statuses = append(statuses, s.statusLocked(msg, err))
		}
		s.mu.Unlock()
		s.emit(statuses...)
		return err
	}
	if s.closed {
		s.mu.Unlock()
		if relErr := p.capture.Release(); relErr != nil {
			observe.Logger(ctx).Warn("release capture", slog.Any("err", relErr))
		}
		return ErrClosed
	}
	// A Tune may have landed while the capture was being opened.
	if s.cfg.Detect != cfg.Detect {
		if err := p.detector.Retune(s.cfg.Detect.Threshold, s.cfg.Detect.Cooldown); err != nil {
			observe.Logger(ctx).Warn("apply detector tuning", slog.Any("err", err))
		}
	}

	s.id = uuid.NewString()
	s.capture = p.capture
	s.detector = p.detector
	s.degraded = p.degraded
	s.state = Listening
	s.since = s.now()
	s.episode = nil
	s.stats = Stats{}
	id := s.id
	statuses = append(statuses, s.statusLocked(s.cfg.Messages.Listening, nil))
	if s.metrics != nil {
		s.metrics.ActiveSessions.Add(ctx, 1)
	}
	s.mu.Unlock()

	span.SetAttributes(
		attribute.String("session.id", id),
		attribute.Bool("session.degraded", p.degraded),
	)
	observe.Logger(ctx).Info("session started",
		slog.String("session_id", id),
		slog.String("extractor", s.ex.Name()),
		slog.Int("sample_rate", cfg.Format.SampleRate),
		slog.Int("window_size", cfg.Format.WindowSize),
		slog.Bool("degraded", p.degraded),
	)
	s.emit(statuses...)
	return nil
}

// prepared holds what Start acquires outside the session lock.
type prepared struct {
	capture  audio.Capture
	detector *detect.Detector
	degraded bool

	// sigErr is set when the signature failed to load and the session runs
	// degraded.
	sigErr error
}

// prepare loads the signature, builds the detector and requests the
// capture. On failure it returns the status message to report, if any.
func (s *Session) prepare(ctx context.Context, cfg Config) (prepared, string, error) {
	p := prepared{degraded: true}
	var ref detect.Reference
	if s.signatures != nil {
		sig, err := s.signatures.Load(ctx)
		switch {
		case err == nil:
			ref, p.degraded = sig, false
		case cfg.SignatureRequired:
			return prepared{}, cfg.Messages.SignatureError, err
		default:
			observe.Logger(ctx).Warn("running without reference signature: nothing will be detected",
				slog.Any("err", err))
			p.sigErr = err
		}
	}

	det, err := detect.New(cfg.Detect, ref)
	if err != nil {
		return prepared{sigErr: p.sigErr}, "", fmt.Errorf("session: %w", err)
	}
	p.detector = det

	capture, err := s.src.RequestCapture(ctx, cfg.Format)
	if err != nil {
		mapped := mapCaptureError(err)
		s.recordCaptureError(ctx, captureErrorKind(mapped))
		msg := cfg.Messages.CaptureDenied
		if errors.Is(mapped, ErrUnsupportedPlatform) {
			msg = cfg.Messages.Unsupported
		}
		return prepared{sigErr: p.sigErr}, msg, mapped
	}
	p.capture = capture
	return p, "", nil
}

// Step describes one processed frame.
type Step struct {
	Seq       uint64
	Timestamp time.Duration
	Result    detect.Result
	State     State
	Elapsed   time.Duration
}

// ProcessNextFrame waits for the next frame, extracts its features and
// evaluates it. It is the only place the session blocks.
//
// It returns [ErrNotActive] when the session holds no capture (or Stop won
// the race for the frame), [ErrEndOfInput] when a finite source is
// exhausted, and an error wrapping [ErrCapture] when the device failed. In
// the last two cases the session has moved to Stopped. Other errors concern
// the single frame and the loop may continue.
func (s *Session) ProcessNextFrame(ctx context.Context) (Step, error) {
	s.mu.Lock()
	if !s.state.Active() {
		s.mu.Unlock()
		return Step{}, ErrNotActive
	}
	capture := s.capture
	s.mu.Unlock()

	var (
		frame audio.AudioFrame
		ok    bool
	)
	select {
	case <-ctx.Done():
		return Step{}, ctx.Err()
	case frame, ok = <-capture.Frames():
	}
	if !ok {
		return Step{}, s.captureEnded(ctx, capture)
	}

	start := time.Now()
	s.mu.Lock()
	// Stop may have run while we waited.
	if s.capture != capture || !s.state.Active() {
		s.mu.Unlock()
		return Step{}, ErrNotActive
	}

	v, err := s.ex.Extract(frame.Samples)
	if err != nil {
		s.mu.Unlock()
		return Step{}, fmt.Errorf("session: extract frame %d: %w", frame.Seq, err)
	}
	res, err := s.detector.Evaluate(v, frame.Timestamp)
	if err != nil {
		s.mu.Unlock()
		return Step{}, fmt.Errorf("session: evaluate frame %d: %w", frame.Seq, err)
	}

	var (
		statuses []Status
		finished *Episode
		fire     bool
	)
	s.stats.Frames++
	if !math.IsInf(res.Distance, 1) {
		s.stats.LastDistance = res.Distance
	}
	if s.episode != nil && res.Outcome == detect.Match {
		s.episode.extend(res.Distance, frame.Timestamp+frame.Duration())
	}

	switch {
	case res.Triggered && s.state == Listening:
		s.state = Detected
		s.stats.Detections++
		s.episode = s.newEpisodeLocked(frame, res.Distance)
		fire = true
		st := s.statusLocked(s.cfg.Messages.Detected, nil)
		st.Distance = res.Distance
		statuses = append(statuses, st)
	case res.Rearmed && s.state == Detected:
		s.state = Listening
		finished = s.closeEpisodeLocked()
		statuses = append(statuses, s.statusLocked(s.cfg.Messages.Listening, nil))
	}
	step := Step{
		Seq:       frame.Seq,
		Timestamp: frame.Timestamp,
		Result:    res,
		State:     s.state,
		Elapsed:   time.Since(start),
	}
	id := s.id
	var episodeID string
	if s.episode != nil {
		episodeID = s.episode.ID
	}
	s.mu.Unlock()

	s.emit(statuses...)
	if s.metrics != nil {
		s.metrics.RecordFrame(ctx, res.Outcome.String(), res.Distance, step.Elapsed.Seconds())
	}
	if period := frame.Duration(); period > 0 && step.Elapsed > period {
		observe.Logger(ctx).Warn("frame processing slower than real time",
			slog.String("session_id", id),
			slog.Duration("elapsed", step.Elapsed),
			slog.Duration("frame_period", period),
		)
	}
	if fire {
		s.fireAlarm(ctx, id, episodeID, res.Distance)
	}
	if finished != nil {
		s.record(ctx, *finished)
	}
	return step, nil
}

// captureEnded handles a closed frame channel.
func (s *Session) captureEnded(ctx context.Context, capture audio.Capture) error {
	cause := capture.Err()

	s.mu.Lock()
	if s.capture != capture || !s.state.Active() {
		s.mu.Unlock()
		return ErrNotActive
	}
	msg := s.cfg.Messages.Stopped
	var result error = ErrEndOfInput
	if cause != nil {
		msg = s.cfg.Messages.CaptureFailed
		result = fmt.Errorf("%w: %w", ErrCapture, cause)
	}
	finished, releaseErr := s.teardownLocked(ctx)
	st := s.statusLocked(msg, cause)
	s.mu.Unlock()

	if cause != nil {
		s.recordCaptureError(ctx, "device")
		observe.Logger(ctx).Error("audio capture failed", slog.Any("err", cause))
	}
	if releaseErr != nil {
		observe.Logger(ctx).Warn("release capture", slog.Any("err", releaseErr))
	}
	s.emit(st)
	if finished != nil {
		s.record(ctx, *finished)
	}
	return result
}

// Stop releases the capture and moves the session to Stopped. It is
// idempotent: calling it in Idle or Stopped does nothing and returns nil.
// After Stop returns no further frame is compared.
func (s *Session) Stop() error {
	ctx := context.Background()

	s.mu.Lock()
	if !s.state.Active() {
		s.mu.Unlock()
		return nil
	}
	id := s.id
	finished, releaseErr := s.teardownLocked(ctx)
	st := s.statusLocked(s.cfg.Messages.Stopped, nil)
	s.mu.Unlock()

	slog.Info("session stopped", slog.String("session_id", id))
	s.emit(st)
	if finished != nil {
		s.record(ctx, *finished)
	}
	if releaseErr != nil {
		return fmt.Errorf("session: release capture: %w", releaseErr)
	}
	return nil
}

// teardownLocked releases the capture and closes any open episode.
func (s *Session) teardownLocked(ctx context.Context) (*Episode, error) {
	err := s.capture.Release()
	s.capture = nil
	s.detector = nil
	s.state = Stopped
	finished := s.closeEpisodeLocked()
	if s.metrics != nil {
		s.metrics.ActiveSessions.Add(ctx, -1)
	}
	return finished, err
}

// Run drives ProcessNextFrame until the session stops. It returns nil after
// Stop or at the end of finite input, the capture error after a device
// failure, and ctx.Err() after stopping the session because ctx ended.
func (s *Session) Run(ctx context.Context) error {
	for {
		_, err := s.ProcessNextFrame(ctx)
		switch {
		case err == nil:
		case errors.Is(err, ErrNotActive), errors.Is(err, ErrEndOfInput):
			return nil
		case errors.Is(err, ErrCapture):
			return err
		case ctx.Err() != nil:
			if stopErr := s.Stop(); stopErr != nil {
				slog.Warn("stop session", slog.Any("err", stopErr))
			}
			return ctx.Err()
		default:
			observe.Logger(ctx).Warn("frame skipped", slog.Any("err", err))
		}
	}
}

// Tuning is a partial detector update. Nil fields keep their current value.
type Tuning struct {
	Threshold *float64
	Cooldown  *time.Duration
}

// Tune applies t to the running detector and to every later Start. The
// read and the update happen under one lock, so concurrent partial updates
// never undo each other. It returns the resulting detector config.
func (s *Session) Tune(t Tuning) (detect.Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.cfg.Detect
	if t.Threshold != nil {
		next.Threshold = *t.Threshold
	}
	if t.Cooldown != nil {
		next.Cooldown = *t.Cooldown
	}
	if err := next.Validate(); err != nil {
		return s.cfg.Detect, fmt.Errorf("session: %w", err)
	}
	if s.detector != nil {
		if err := s.detector.Retune(next.Threshold, next.Cooldown); err != nil {
			return s.cfg.Detect, fmt.Errorf("session: %w", err)
		}
	}
	s.cfg.Detect = next
	return next, nil
}

// Retune sets both threshold and cooldown. See [Session.Tune].
func (s *Session) Retune(threshold float64, cooldown time.Duration) error {
	_, err := s.Tune(Tuning{Threshold: &threshold, Cooldown: &cooldown})
	return err
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Stats counts activity of the current (or last) capture.
type Stats struct {
	Frames       uint64  `json:"frames"`
	Detections   uint64  `json:"detections"`
	LastDistance float64 `json:"last_distance"`
}

// Info is a point-in-time snapshot of the session.
type Info struct {
	ID        string        `json:"id,omitempty"`
	State     State         `json:"state"`
	Degraded  bool          `json:"degraded"`
	Since     time.Time     `json:"since,omitzero"`
	Threshold float64       `json:"threshold"`
	Cooldown  time.Duration `json:"cooldown_ns"`
	Metric    detect.Metric `json:"metric"`
	Extractor string        `json:"extractor"`
	EpisodeID string        `json:"episode_id,omitempty"`
	Stats     Stats         `json:"stats"`
}

// Snapshot returns the current session info.
func (s *Session) Snapshot() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := Info{
		ID:        s.id,
		State:     s.state,
		Degraded:  s.degraded,
		Since:     s.since,
		Threshold: s.cfg.Detect.Threshold,
		Cooldown:  s.cfg.Detect.Cooldown,
		Metric:    s.cfg.Detect.Metric,
		Extractor: s.ex.Name(),
		Stats:     s.stats,
	}
	if info.Metric == "" {
		info.Metric = detect.Manhattan
	}
	if s.episode != nil {
		info.EpisodeID = s.episode.ID
	}
	return info
}

func (s *Session) statusLocked(msg string, err error) Status {
	st := Status{
		SessionID: s.id,
		State:     s.state,
		Message:   msg,
		Degraded:  s.degraded && s.state.Active(),
		Time:      s.now(),
	}
	if err != nil {
		st.Error = err.Error()
	}
	if s.episode != nil {
		st.EpisodeID = s.episode.ID
	}
	return st
}

func (s *Session) emit(statuses ...Status) {
	for _, st := range statuses {
		s.sink.Status(st)
	}
}

func (s *Session) fireAlarm(ctx context.Context, sessionID, episodeID string, distance float64) {
	ctx, span := observe.StartSpan(ctx, "session.alarm",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.String("episode.id", episodeID),
			attribute.Float64("detect.distance", distance),
		),
	)
	if s.metrics != nil {
		s.metrics.Detections.Add(ctx, 1)
	}
	err := s.alarm.Trigger(ctx)
	observe.EndSpan(span, err)

	log := observe.Logger(ctx).With(
		slog.String("session_id", sessionID),
		slog.String("episode_id", episodeID),
	)
	if err != nil {
		log.Error("alarm trigger failed", slog.Any("err", err))
		return
	}
	log.Info("detection", slog.Float64("distance", distance))
}

func (s *Session) recordCaptureError(ctx context.Context, kind string) {
	if s.metrics != nil {
		s.metrics.RecordCaptureError(ctx, kind)
	}
}

func mapCaptureError(err error) error {
	switch {
	case errors.Is(err, audio.ErrUnsupported):
		return fmt.Errorf("%w: %w", ErrUnsupportedPlatform, err)
	case errors.Is(err, audio.ErrPermissionDenied):
		return fmt.Errorf("%w: %w", ErrPermissionDenied, err)
	default:
		return fmt.Errorf("%w: %w", ErrCapture, err)
	}
}

func captureErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrUnsupportedPlatform):
		return "unsupported"
	case errors.Is(err, ErrPermissionDenied):
		return "permission"
	default:
		return "device"
	}
}
