// Package mock provides in-memory implementations of the session
// collaborators ([session.Alarm], [session.StatusSink], [session.Recorder])
// for use in unit tests.
//
// All mocks are safe for concurrent use and record every call.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/hornwatch/internal/session"
)

// Alarm is a mock implementation of [session.Alarm].
type Alarm struct {
	mu sync.Mutex

	// TriggerErr, if non-nil, is returned by Trigger.
	TriggerErr error

	// CallCountTrigger records how many times Trigger was called.
	CallCountTrigger int

	// fired is signalled (non-blocking) on every Trigger.
	fired chan struct{}
}

// Trigger implements [session.Alarm].
func (a *Alarm) Trigger(_ context.Context) error {
	a.mu.Lock()
	a.CallCountTrigger++
	err := a.TriggerErr
	ch := a.firedLocked()
	a.mu.Unlock()

	select {
	case ch <- struct{}{}:
	default:
	}
	return err
}

// Calls returns CallCountTrigger under the lock.
func (a *Alarm) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.CallCountTrigger
}

// Fired returns a channel signalled on every Trigger call.
func (a *Alarm) Fired() <-chan struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.firedLocked()
}

func (a *Alarm) firedLocked() chan struct{} {
	if a.fired == nil {
		a.fired = make(chan struct{}, 16)
	}
	return a.fired
}

var _ session.Alarm = (*Alarm)(nil)

// StatusSink is a mock implementation of [session.StatusSink] that keeps
// every status it receives.
type StatusSink struct {
	mu       sync.Mutex
	statuses []session.Status
}

// Status implements [session.StatusSink].
func (s *StatusSink) Status(st session.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, st)
}

// Statuses returns a copy of the received statuses.
func (s *StatusSink) Statuses() []session.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]session.Status, len(s.statuses))
	copy(out, s.statuses)
	return out
}

// Messages returns the message of every received status.
func (s *StatusSink) Messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.statuses))
	for i, st := range s.statuses {
		out[i] = st.Message
	}
	return out
}

// Last returns the most recent status and whether there was one.
func (s *StatusSink) Last() (session.Status, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.statuses) == 0 {
		return session.Status{}, false
	}
	return s.statuses[len(s.statuses)-1], true
}

var _ session.StatusSink = (*StatusSink)(nil)

// Recorder is a mock implementation of [session.Recorder].
type Recorder struct {
	mu sync.Mutex

	// RecordErr, if non-nil, is returned by Record.
	RecordErr error

	// Delay makes every Record call wait this long before storing, like a
	// slow disk.
	Delay time.Duration

	episodes []session.Episode
}

// Record implements [session.Recorder].
func (r *Recorder) Record(ctx context.Context, ep session.Episode) error {
	r.mu.Lock()
	delay := r.Delay
	r.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.episodes = append(r.episodes, ep)
	return r.RecordErr
}

// Episodes returns a copy of the recorded episodes.
func (r *Recorder) Episodes() []session.Episode {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]session.Episode, len(r.episodes))
	copy(out, r.episodes)
	return out
}

var _ session.Recorder = (*Recorder)(nil)
