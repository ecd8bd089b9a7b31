package session_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/hornwatch/internal/session"
	"github.com/MrWong99/hornwatch/internal/session/mock"
	"github.com/MrWong99/hornwatch/internal/signature"
	"github.com/MrWong99/hornwatch/pkg/audio"
	"github.com/MrWong99/hornwatch/pkg/audio/decode"
	audiomock "github.com/MrWong99/hornwatch/pkg/audio/mock"
	"github.com/MrWong99/hornwatch/pkg/detect"
	"github.com/MrWong99/hornwatch/pkg/feature"
)

const (
	rate   = 16000
	window = 2048
	toneHz = 1000
	period = window * time.Second / rate // 128ms
)

var format = audio.Format{SampleRate: rate, WindowSize: window}

type fixture struct {
	src   *audiomock.Source
	alarm *mock.Alarm
	sink  *mock.StatusSink
	rec   *mock.Recorder
	sess  *session.Session
}

type fixtureConfig struct {
	threshold float64
	cooldown  time.Duration
	sample    []byte // reference WAV; nil means a 2s tone
	fetchErr  error
	noSig     bool
	required  bool
}

func newFixture(t *testing.T, fc fixtureConfig) *fixture {
	t.Helper()

	ex, err := feature.New(feature.Config{Strategy: feature.StrategySpectral, SampleRate: rate, WindowSize: window})
	if err != nil {
		t.Fatalf("feature.New: %v", err)
	}

	f := &fixture{
		src:   &audiomock.Source{},
		alarm: &mock.Alarm{},
		sink:  &mock.StatusSink{},
		rec:   &mock.Recorder{},
	}

	opts := []session.Option{
		session.WithAlarm(f.alarm),
		session.WithStatusSink(f.sink),
		session.WithRecorder(f.rec),
		session.WithClock(func() time.Time { return time.Date(2026, 10, 17, 8, 0, 0, 0, time.UTC) }),
	}
	if !fc.noSig {
		sample := fc.sample
		if sample == nil {
			sample = decode.MustEncodeWAV(decode.Tone(toneHz, 0.8, rate, 2*rate), rate)
		}
		src := signature.SourceFunc(func(context.Context, string) ([]byte, error) {
			return sample, fc.fetchErr
		})
		loader := signature.NewLoader(src, "horn.wav", ex, signature.BuildConfig{
			SampleRate: rate, WindowSize: window, Templates: 2,
		})
		opts = append(opts, session.WithSignature(loader))
	}

	f.sess, err = session.New(session.Config{
		Format:            format,
		Detect:            detect.Config{Metric: detect.Manhattan, Threshold: fc.threshold, Cooldown: fc.cooldown},
		SignatureRequired: fc.required,
	}, f.src, ex, opts...)
	if err != nil {
		t.Fatalf("session.New: %v", err)
	}
	return f
}

func silence(seq uint64) audio.AudioFrame {
	return audio.AudioFrame{
		Samples:    make([]float32, window),
		SampleRate: rate,
		Seq:        seq,
		Timestamp:  time.Duration(seq) * period,
	}
}

func tone(seq uint64) audio.AudioFrame {
	return audio.AudioFrame{
		Samples:    decode.Tone(toneHz, 0.8, rate, window),
		SampleRate: rate,
		Seq:        seq,
		Timestamp:  time.Duration(seq) * period,
	}
}

func (f *fixture) send(t *testing.T, frames ...audio.AudioFrame) {
	t.Helper()
	c := f.src.Last()
	if c == nil {
		t.Fatal("no capture acquired")
	}
	for _, fr := range frames {
		if !c.Send(fr) {
			t.Fatalf("send frame %d failed", fr.Seq)
		}
	}
}

func (f *fixture) step(t *testing.T) session.Step {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	st, err := f.sess.ProcessNextFrame(ctx)
	if err != nil {
		t.Fatalf("ProcessNextFrame: %v", err)
	}
	return st
}

// episodes waits until the recorder holds at least n episodes.
func (f *fixture) episodes(t *testing.T, n int) []session.Episode {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		eps := f.rec.Episodes()
		if len(eps) >= n || time.Now().After(deadline) {
			return eps
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (f *fixture) assertReleased(t *testing.T) {
	t.Helper()
	if a, r := f.src.Acquired(), f.src.Released(); a != r {
		t.Errorf("captures acquired = %d, released = %d", a, r)
	}
}

func TestSession_ToneScenario(t *testing.T) {
	t.Parallel()
	f := newFixture(t, fixtureConfig{threshold: 0.05, cooldown: time.Second})

	if err := f.sess.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := f.sess.State(); got != session.Listening {
		t.Fatalf("state after Start = %s, want listening", got)
	}

	for i := range uint64(5) {
		f.send(t, silence(i))
	}
	for i := range uint64(5) {
		f.send(t, tone(5+i))
	}

	for i := range 5 {
		st := f.step(t)
		if st.State != session.Listening || st.Result.Outcome != detect.NoMatch {
			t.Fatalf("silent frame %d: state = %s outcome = %s", i, st.State, st.Result.Outcome)
		}
	}
	for i := range 5 {
		st := f.step(t)
		if st.State != session.Detected {
			t.Fatalf("tone frame %d: state = %s, want detected (distance %g)", i, st.State, st.Result.Distance)
		}
		if st.Result.Triggered != (i == 0) {
			t.Errorf("tone frame %d: triggered = %v", i, st.Result.Triggered)
		}
	}

	if got := f.alarm.Calls(); got != 1 {
		t.Errorf("alarm calls = %d, want 1", got)
	}
	want := []string{"Listening for car horn...", "Car horn detected!"}
	if got := f.sink.Messages(); !slices.Equal(got, want) {
		t.Errorf("messages = %q, want %q", got, want)
	}
	if snap := f.sess.Snapshot(); snap.Stats.Frames != 10 || snap.Stats.Detections != 1 || snap.EpisodeID == "" {
		t.Errorf("snapshot = %+v", snap)
	}

	if err := f.sess.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	f.assertReleased(t)

	eps := f.episodes(t, 1)
	if len(eps) != 1 {
		t.Fatalf("episodes = %d, want 1", len(eps))
	}
	if eps[0].Matches != 5 || eps[0].Offset != 5*period || eps[0].Length != 5*period {
		t.Errorf("episode = %+v", eps[0])
	}
}

func TestSession_RearmAndRetrigger(t *testing.T) {
	t.Parallel()
	f := newFixture(t, fixtureConfig{threshold: 0.05, cooldown: 2 * period})

	if err := f.sess.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	f.send(t, tone(0), silence(1), silence(2), tone(3))

	wantStates := []session.State{session.Detected, session.Detected, session.Listening, session.Detected}
	for i, want := range wantStates {
		if st := f.step(t); st.State != want {
			t.Fatalf("frame %d: state = %s, want %s", i, st.State, want)
		}
	}
	if got := f.alarm.Calls(); got != 2 {
		t.Errorf("alarm calls = %d, want 2", got)
	}
	eps := f.episodes(t, 1)
	if len(eps) != 1 || eps[0].Matches != 1 || eps[0].Offset != 0 {
		t.Errorf("episodes = %+v, want one closed single-frame episode", eps)
	}
}

func TestSession_Unsupported(t *testing.T) {
	t.Parallel()
	f := newFixture(t, fixtureConfig{threshold: 0.05})
	f.src.Unsupported = true

	err := f.sess.Start(context.Background())
	if !errors.Is(err, session.ErrUnsupportedPlatform) {
		t.Fatalf("Start err = %v, want ErrUnsupportedPlatform", err)
	}
	if got := f.sess.State(); got != session.Idle {
		t.Errorf("state = %s, want idle", got)
	}
	if f.src.CallCountRequestCapture != 0 {
		t.Errorf("RequestCapture calls = %d, want 0", f.src.CallCountRequestCapture)
	}
	last, ok := f.sink.Last()
	if !ok || last.Message != "Microphone access not supported" || last.Error == "" {
		t.Errorf("last status = %+v", last)
	}
}

func TestSession_StartCaptureErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		err     error
		want    error
		message string
	}{
		{"permission", fmt.Errorf("%w: user declined", audio.ErrPermissionDenied), session.ErrPermissionDenied, "Could not access microphone"},
		{"device", fmt.Errorf("%w: no input device", audio.ErrDevice), session.ErrCapture, "Could not access microphone"},
		{"late unsupported", audio.ErrUnsupported, session.ErrUnsupportedPlatform, "Microphone access not supported"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, fixtureConfig{threshold: 0.05})
			f.src.RequestCaptureErr = tt.err

			err := f.sess.Start(context.Background())
			if !errors.Is(err, tt.want) {
				t.Fatalf("Start err = %v, want %v", err, tt.want)
			}
			if got := f.sess.State(); got != session.Idle {
				t.Errorf("state = %s, want idle", got)
			}
			if last, _ := f.sink.Last(); last.Message != tt.message {
				t.Errorf("message = %q, want %q", last.Message, tt.message)
			}
			if _, err := f.sess.ProcessNextFrame(context.Background()); !errors.Is(err, session.ErrNotActive) {
				t.Errorf("ProcessNextFrame err = %v, want ErrNotActive", err)
			}
		})
	}
}

func TestSession_StartWhileActive(t *testing.T) {
	t.Parallel()
	f := newFixture(t, fixtureConfig{threshold: 0.05})

	if err := f.sess.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := f.sess.Start(context.Background()); !errors.Is(err, session.ErrAlreadyActive) {
		t.Errorf("second Start err = %v, want ErrAlreadyActive", err)
	}
	if got := f.src.Acquired(); got != 1 {
		t.Errorf("captures acquired = %d, want 1", got)
	}
	_ = f.sess.Stop()
	f.assertReleased(t)
}

func TestSession_StopIdempotent(t *testing.T) {
	t.Parallel()
	f := newFixture(t, fixtureConfig{threshold: 0.05})

	if err := f.sess.Stop(); err != nil {
		t.Fatalf("Stop in idle: %v", err)
	}
	if got := f.sess.State(); got != session.Idle {
		t.Errorf("state = %s, want idle", got)
	}
	if n := len(f.sink.Statuses()); n != 0 {
		t.Errorf("statuses after idle Stop = %d, want 0", n)
	}

	if err := f.sess.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for range 3 {
		if err := f.sess.Stop(); err != nil {
			t.Fatalf("Stop: %v", err)
		}
	}
	if got := f.sess.State(); got != session.Stopped {
		t.Errorf("state = %s, want stopped", got)
	}
	if got := f.src.Last().CallCountRelease; got != 1 {
		t.Errorf("Release calls = %d, want 1", got)
	}
	want := []string{"Listening for car horn...", "Stopped listening"}
	if got := f.sink.Messages(); !slices.Equal(got, want) {
		t.Errorf("messages = %q, want %q", got, want)
	}

	// Restart from Stopped.
	if err := f.sess.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	_ = f.sess.Stop()
	if a, r := f.src.Acquired(), f.src.Released(); a != 2 || r != 2 {
		t.Errorf("acquired/released = %d/%d, want 2/2", a, r)
	}
}

func TestSession_CaptureFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t, fixtureConfig{threshold: 0.05})

	if err := f.sess.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	f.send(t, tone(0))
	f.step(t)
	f.src.Last().Fail(fmt.Errorf("%w: device unplugged", audio.ErrDevice))

	_, err := f.sess.ProcessNextFrame(context.Background())
	if !errors.Is(err, session.ErrCapture) || !errors.Is(err, audio.ErrDevice) {
		t.Fatalf("err = %v, want ErrCapture wrapping ErrDevice", err)
	}
	if got := f.sess.State(); got != session.Stopped {
		t.Errorf("state = %s, want stopped", got)
	}
	f.assertReleased(t)
	if last, _ := f.sink.Last(); last.Message != "Microphone stopped unexpectedly" {
		t.Errorf("last message = %q", last.Message)
	}
	// The open episode is closed and recorded on teardown.
	if n := len(f.episodes(t, 1)); n != 1 {
		t.Errorf("episodes = %d, want 1", n)
	}
	if err := f.sess.Stop(); err != nil {
		t.Errorf("Stop after failure: %v", err)
	}
}

func TestSession_EndOfInput(t *testing.T) {
	t.Parallel()
	f := newFixture(t, fixtureConfig{threshold: 0.05})

	if err := f.sess.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	f.send(t, silence(0))
	f.src.Last().Fail(nil)

	f.step(t) // buffered frame is still delivered
	_, err := f.sess.ProcessNextFrame(context.Background())
	if !errors.Is(err, session.ErrEndOfInput) {
		t.Fatalf("err = %v, want ErrEndOfInput", err)
	}
	if got := f.sess.State(); got != session.Stopped {
		t.Errorf("state = %s, want stopped", got)
	}
	f.assertReleased(t)
}

func TestSession_StopWhileWaiting(t *testing.T) {
	t.Parallel()
	f := newFixture(t, fixtureConfig{threshold: 0.05})

	if err := f.sess.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	done := make(chan error, 1)
	go func() {
		_, err := f.sess.ProcessNextFrame(context.Background())
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	if err := f.sess.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	select {
	case err := <-done:
		if !errors.Is(err, session.ErrNotActive) {
			t.Errorf("in-flight step err = %v, want ErrNotActive", err)
		}
	case <-time.After(time.Second):
		t.Fatal("in-flight step did not return after Stop")
	}
	if got := f.src.Last().Send(tone(1)); got {
		t.Error("capture still accepts frames after Stop")
	}
	if f.alarm.Calls() != 0 {
		t.Error("alarm fired after Stop")
	}
	f.assertReleased(t)
}

func TestSession_Degraded(t *testing.T) {
	t.Parallel()
	f := newFixture(t, fixtureConfig{threshold: 1e6, fetchErr: signature.ErrNotFound})

	if err := f.sess.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !f.sess.Snapshot().Degraded {
		t.Error("snapshot not degraded")
	}
	f.send(t, tone(0), tone(1), tone(2))
	for range 3 {
		if st := f.step(t); st.State != session.Listening {
			t.Fatalf("state = %s, want listening", st.State)
		}
	}
	if f.alarm.Calls() != 0 {
		t.Error("alarm fired without a signature")
	}
	msgs := f.sink.Messages()
	if len(msgs) != 2 || msgs[0] != "Could not load car horn reference sample" {
		t.Errorf("messages = %q", msgs)
	}
	last, _ := f.sink.Last()
	if !last.Degraded {
		t.Error("listening status not flagged degraded")
	}
	_ = f.sess.Stop()
}

func TestSession_SignatureRequired(t *testing.T) {
	t.Parallel()
	f := newFixture(t, fixtureConfig{threshold: 0.05, sample: []byte("junk"), required: true})

	err := f.sess.Start(context.Background())
	if !errors.Is(err, signature.ErrLoad) {
		t.Fatalf("Start err = %v, want ErrLoad", err)
	}
	if got := f.sess.State(); got != session.Idle {
		t.Errorf("state = %s, want idle", got)
	}
	if f.src.CallCountRequestCapture != 0 {
		t.Errorf("RequestCapture calls = %d, want 0", f.src.CallCountRequestCapture)
	}
}

func TestSession_ZeroThresholdAndRetune(t *testing.T) {
	t.Parallel()
	f := newFixture(t, fixtureConfig{threshold: 0})

	if err := f.sess.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// The reference went through 16-bit WAV quantisation, so the live tone
	// differs by a tiny nonzero distance.
	f.send(t, tone(0))
	st := f.step(t)
	if st.Result.Outcome != detect.NoMatch || st.Result.Distance == 0 {
		t.Fatalf("zero threshold: outcome = %s distance = %g, want no_match > 0", st.Result.Outcome, st.Result.Distance)
	}

	if err := f.sess.Retune(0.05, 0); err != nil {
		t.Fatalf("Retune: %v", err)
	}
	f.send(t, tone(1))
	if st := f.step(t); st.State != session.Detected {
		t.Errorf("after retune state = %s, want detected", st.State)
	}
	if snap := f.sess.Snapshot(); snap.Threshold != 0.05 {
		t.Errorf("snapshot threshold = %v, want 0.05", snap.Threshold)
	}
	if err := f.sess.Retune(-1, 0); err == nil {
		t.Error("expected error for negative threshold")
	}
	_ = f.sess.Stop()
}

func TestSession_BadFrameIsSkipped(t *testing.T) {
	t.Parallel()
	f := newFixture(t, fixtureConfig{threshold: 0.05})

	if err := f.sess.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	f.send(t, audio.AudioFrame{Samples: make([]float32, 100), SampleRate: rate})

	_, err := f.sess.ProcessNextFrame(context.Background())
	if !errors.Is(err, feature.ErrWindowSize) {
		t.Fatalf("err = %v, want ErrWindowSize", err)
	}
	if got := f.sess.State(); got != session.Listening {
		t.Errorf("state = %s, want listening", got)
	}
	_ = f.sess.Stop()
}

func TestSession_AlarmFailureKeepsState(t *testing.T) {
	t.Parallel()
	f := newFixture(t, fixtureConfig{threshold: 0.05})
	f.alarm.TriggerErr = errors.New("speaker on fire")

	if err := f.sess.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	f.send(t, tone(0))
	if st := f.step(t); st.State != session.Detected {
		t.Errorf("state = %s, want detected", st.State)
	}
	_ = f.sess.Stop()
}

func TestSession_Run(t *testing.T) {
	t.Parallel()
	f := newFixture(t, fixtureConfig{threshold: 0.05, cooldown: time.Second})

	if err := f.sess.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- f.sess.Run(context.Background()) }()

	f.send(t, silence(0), tone(1), tone(2))
	select {
	case <-f.alarm.Fired():
	case <-time.After(2 * time.Second):
		t.Fatal("alarm not fired")
	}

	if err := f.sess.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}
	f.assertReleased(t)
}

func TestSession_RunContextCancel(t *testing.T) {
	t.Parallel()
	f := newFixture(t, fixtureConfig{threshold: 0.05})

	if err := f.sess.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.sess.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if got := f.sess.State(); got != session.Stopped {
		t.Errorf("state = %s, want stopped", got)
	}
	f.assertReleased(t)
}

func TestSession_NewValidation(t *testing.T) {
	t.Parallel()
	ex, _ := feature.NewAmplitude(window, feature.AmplitudePeak)

	if _, err := session.New(session.Config{Format: audio.Format{}}, &audiomock.Source{}, ex); err == nil {
		t.Error("expected error for empty format")
	}
	if _, err := session.New(session.Config{Format: format, Detect: detect.Config{Threshold: -1}}, &audiomock.Source{}, ex); err == nil {
		t.Error("expected error for negative threshold")
	}
}

func TestState_StringAndJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state session.State
		want  string
	}{
		{session.Idle, "idle"},
		{session.Listening, "listening"},
		{session.Detected, "detected"},
		{session.Stopped, "stopped"},
		{session.State(42), "state(42)"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", int(tt.state), got, tt.want)
		}
	}

	data, err := json.Marshal(session.Status{State: session.Detected, Message: "x"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var back struct {
		State session.State `json:"state"`
	}
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if back.State != session.Detected {
		t.Errorf("round trip state = %s, want detected", back.State)
	}
}

func TestDefaultMessages(t *testing.T) {
	t.Parallel()

	m := session.DefaultMessages("doorbell")
	if m.Listening != "Listening for doorbell..." || m.Detected != "Doorbell detected!" {
		t.Errorf("messages = %+v", m)
	}
}
