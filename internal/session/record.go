package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/hornwatch/internal/observe"
)

// Episode queue defaults.
const (
	defaultRecordQueue   = 32
	defaultRecordTimeout = 10 * time.Second
)

var errRecordQueueFull = errors.New("session: episode queue full")

type recordJob struct {
	ctx context.Context
	ep  Episode
}

// recordQueue hands finished episodes to the recorder on a background
// goroutine, in order, so that storage latency never reaches the frame
// path.
type recordQueue struct {
	next    Recorder
	timeout time.Duration

	mu     sync.Mutex
	closed bool
	jobs   chan recordJob
	done   chan struct{}
}

func newRecordQueue(next Recorder, size int, timeout time.Duration) *recordQueue {
	if size <= 0 {
		size = defaultRecordQueue
	}
	q := &recordQueue{
		next:    next,
		timeout: timeout,
		jobs:    make(chan recordJob, size),
		done:    make(chan struct{}),
	}
	go q.loop()
	return q
}

// push queues ep without blocking. The trace and values of ctx are kept,
// its cancellation is not.
func (q *recordQueue) push(ctx context.Context, ep Episode) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case q.jobs <- recordJob{ctx: context.WithoutCancel(ctx), ep: ep}:
		return nil
	default:
		return errRecordQueueFull
	}
}

func (q *recordQueue) loop() {
	defer close(q.done)
	for job := range q.jobs {
		ctx, cancel := context.WithTimeout(job.ctx, q.timeout)
		if err := q.next.Record(ctx, job.ep); err != nil {
			observe.Logger(job.ctx).Warn("record detection episode",
				slog.String("episode_id", job.ep.ID),
				slog.Any("err", err),
			)
		}
		cancel()
	}
}

// close stops accepting episodes and waits until the queued ones are
// recorded or ctx ends.
func (q *recordQueue) close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	q.mu.Unlock()

	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// record queues a finished episode for the recorder.
func (s *Session) record(ctx context.Context, ep Episode) {
	if s.records == nil {
		return
	}
	if err := s.records.push(ctx, ep); err != nil {
		observe.Logger(ctx).Warn("detection episode dropped",
			slog.String("episode_id", ep.ID),
			slog.Any("err", err),
		)
	}
}

// Close stops the session for good and waits until every finished episode
// has reached the recorder or ctx ends. Start returns [ErrClosed] afterwards.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	err := s.Stop()
	if s.records != nil {
		err = errors.Join(err, s.records.close(ctx))
	}
	return err
}
