package session

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Default restart parameters.
const (
	defaultMaxRestarts = 5
	defaultBackoff     = 1 * time.Second
	defaultMaxBackoff  = 30 * time.Second
)

// Supervisor drives a started [Session] and restarts it after capture
// failures, for example an unplugged USB microphone, with exponential
// backoff.
//
// A Supervisor never restarts a session that was stopped with
// [Session.Stop]; it only reacts to errors wrapping [ErrCapture].
type Supervisor struct {
	sess        *Session
	maxRestarts int
	backoff     time.Duration
	maxBackoff  time.Duration
	onRestart   func()
}

// SupervisorConfig configures a [Supervisor].
type SupervisorConfig struct {
	// MaxRestarts is the number of consecutive restart attempts after a
	// capture failure. Negative disables restarts; zero means 5.
	MaxRestarts int

	// Backoff is the initial wait before a restart. Doubles each attempt up to
	// MaxBackoff. Defaults to 1s if zero.
	Backoff time.Duration

	// MaxBackoff is the upper limit on backoff duration. Defaults to 30s if zero.
	MaxBackoff time.Duration

	// OnRestart is called after a successful restart. May be nil.
	OnRestart func()
}

// NewSupervisor creates a new [Supervisor] for sess.
func NewSupervisor(sess *Session, cfg SupervisorConfig) *Supervisor {
	maxRestarts := cfg.MaxRestarts
	if maxRestarts == 0 {
		maxRestarts = defaultMaxRestarts
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = defaultBackoff
	}
	maxBackoff := cfg.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = defaultMaxBackoff
	}
	return &Supervisor{
		sess:        sess,
		maxRestarts: max(maxRestarts, 0),
		backoff:     backoff,
		maxBackoff:  maxBackoff,
		onRestart:   cfg.OnRestart,
	}
}

// Run drives the session until it is stopped, ctx ends, or a capture failure
// could not be recovered. It returns the last capture error in that case.
func (sv *Supervisor) Run(ctx context.Context) error {
	for {
		err := sv.sess.Run(ctx)
		if err == nil || ctx.Err() != nil || !errors.Is(err, ErrCapture) {
			return err
		}
		if !sv.restart(ctx, err) {
			return err
		}
	}
}

// restart tries to start the session again with exponential backoff.
func (sv *Supervisor) restart(ctx context.Context, cause error) bool {
	currentBackoff := sv.backoff

	for attempt := 1; attempt <= sv.maxRestarts; attempt++ {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(currentBackoff):
		}

		slog.Info("restarting audio capture",
			"attempt", attempt,
			"max_restarts", sv.maxRestarts,
			"cause", cause,
		)

		err := sv.sess.Start(ctx)
		if err == nil || errors.Is(err, ErrAlreadyActive) {
			slog.Info("audio capture restarted", "attempt", attempt)
			if sv.onRestart != nil {
				sv.onRestart()
			}
			return true
		}
		// These will not resolve by waiting.
		if errors.Is(err, ErrUnsupportedPlatform) || errors.Is(err, ErrPermissionDenied) {
			slog.Error("audio capture cannot be restarted", "error", err)
			return false
		}

		slog.Warn("restart attempt failed",
			"attempt", attempt,
			"error", err,
		)

		// Exponential backoff.
		currentBackoff *= 2
		if currentBackoff > sv.maxBackoff {
			currentBackoff = sv.maxBackoff
		}
	}

	slog.Error("audio capture restart failed after max attempts",
		"max_restarts", sv.maxRestarts,
	)
	return false
}
