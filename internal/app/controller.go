package app

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/hornwatch/internal/session"
)

// Controller owns the run loop of the detection session. Start begins
// capture and hands it to a supervised loop; Stop ends both. Only one loop
// runs at a time. All exported methods are safe for concurrent use.
type Controller struct {
	sess    *session.Session
	restart session.SupervisorConfig

	mu     sync.Mutex
	base   context.Context
	cancel context.CancelFunc
	done   chan struct{}

	errMu   sync.Mutex
	lastErr error
}

// NewController returns a Controller for sess. Run loops are children of
// context.Background until [Controller.bind] is called.
func NewController(sess *session.Session, restart session.SupervisorConfig) *Controller {
	return &Controller{
		sess:    sess,
		restart: restart,
		base:    context.Background(),
	}
}

// bind makes later run loops children of ctx so that they end with the
// application.
func (c *Controller) bind(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.base = ctx
}

// Start starts the session and its run loop. ctx governs the start request
// only; the loop lives until Stop or application shutdown.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running() {
		return session.ErrAlreadyActive
	}
	if err := c.sess.Start(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(c.base)
	done := make(chan struct{})
	c.cancel, c.done = cancel, done
	c.setErr(nil)

	sup := session.NewSupervisor(c.sess, c.restart)
	go func() {
		defer close(done)
		err := sup.Run(runCtx)
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("detection loop ended", "err", err)
		}
		c.setErr(err)
	}()
	return nil
}

// Stop stops the session and waits for the run loop to exit. Stopping an
// idle controller is a no-op.
func (c *Controller) Stop() error {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()

	// Stop first so the loop sees a clean stop rather than a cancellation.
	err := c.sess.Stop()
	if cancel != nil {
		cancel()
		<-done
	}
	return err
}

// Done returns a channel closed when the current run loop exits, or nil
// when no loop was started.
func (c *Controller) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// Err returns the error that ended the last run loop.
func (c *Controller) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.lastErr
}

// Info returns the session snapshot.
func (c *Controller) Info() session.Info {
	return c.sess.Snapshot()
}

// Retune forwards to [session.Session.Retune].
func (c *Controller) Retune(threshold float64, cooldown time.Duration) error {
	return c.sess.Retune(threshold, cooldown)
}

// Tune forwards to [session.Session.Tune].
func (c *Controller) Tune(t session.Tuning) error {
	_, err := c.sess.Tune(t)
	return err
}

// Close stops the run loop and closes the session, waiting for queued
// episodes to be recorded.
func (c *Controller) Close(ctx context.Context) error {
	stopErr := c.Stop()
	return errors.Join(stopErr, c.sess.Close(ctx))
}

func (c *Controller) running() bool {
	if c.done == nil {
		return false
	}
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

func (c *Controller) setErr(err error) {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	c.lastErr = err
}
