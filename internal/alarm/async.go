package alarm

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/hornwatch/internal/observe"
	"github.com/MrWong99/hornwatch/internal/session"
)

// ErrQueueFull is returned by [Async.Trigger] when the delivery queue is full.
var ErrQueueFull = errors.New("alarm: delivery queue full")

// ErrClosed is returned by [Async.Trigger] after Close.
var ErrClosed = errors.New("alarm: closed")

// Async delivers triggers to the wrapped alarm on a background goroutine, in
// order. Trigger never blocks.
type Async struct {
	next    session.Alarm
	timeout time.Duration

	mu     sync.Mutex
	closed bool
	queue  chan context.Context
	done   chan struct{}
}

var _ session.Alarm = (*Async)(nil)

// NewAsync starts the delivery goroutine. queue is the number of pending
// triggers kept; timeout bounds each delivery (zero means 30s).
func NewAsync(next session.Alarm, queue int, timeout time.Duration) *Async {
	if queue <= 0 {
		queue = 8
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	a := &Async{
		next:    next,
		timeout: timeout,
		queue:   make(chan context.Context, queue),
		done:    make(chan struct{}),
	}
	go a.loop()
	return a
}

// Trigger implements [session.Alarm]. The trace and values of ctx are kept,
// its cancellation is not.
func (a *Async) Trigger(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrClosed
	}
	select {
	case a.queue <- context.WithoutCancel(ctx):
		return nil
	default:
		return ErrQueueFull
	}
}

func (a *Async) loop() {
	defer close(a.done)
	for ctx := range a.queue {
		tctx, cancel := context.WithTimeout(ctx, a.timeout)
		if err := a.next.Trigger(tctx); err != nil {
			observe.Logger(ctx).Error("alarm delivery failed", slog.Any("err", err))
		}
		cancel()
	}
}

// Close stops accepting triggers and waits until pending ones are delivered
// or ctx ends.
func (a *Async) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
