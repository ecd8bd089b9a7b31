package alarm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/hornwatch/internal/observe"
	"github.com/MrWong99/hornwatch/internal/resilience"
)

// Multi triggers every target concurrently. Each target sits behind its own
// circuit breaker so a dead endpoint stops being called until its reset
// timeout expires. Trigger returns the joined errors of all failed targets.
type Multi struct {
	targets []guarded
	metrics *observe.Metrics
}

type guarded struct {
	target  Target
	breaker *resilience.CircuitBreaker
}

var _ Target = (*Multi)(nil)

// NewMulti wraps targets. m may be nil.
func NewMulti(cfg resilience.CircuitBreakerConfig, m *observe.Metrics, targets ...Target) *Multi {
	multi := &Multi{metrics: m}
	for _, t := range targets {
		cbCfg := cfg
		cbCfg.Name = t.Name()
		if cbCfg.OnStateChange == nil {
			cbCfg.OnStateChange = func(name string, from, to resilience.State) {
				slog.Info("alarm target breaker state changed",
					"target", name, "from", from.String(), "to", to.String())
			}
		}
		multi.targets = append(multi.targets, guarded{
			target:  t,
			breaker: resilience.NewCircuitBreaker(cbCfg),
		})
	}
	return multi
}

// Trigger implements [session.Alarm].
func (m *Multi) Trigger(ctx context.Context) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	for _, t := range m.targets {
		g.Go(func() error {
			start := time.Now()
			err := t.breaker.Execute(ctx, t.target.Trigger)
			m.record(ctx, t.target.Name(), err, time.Since(start))
			if err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", t.target.Name(), err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

func (m *Multi) record(ctx context.Context, name string, err error, d time.Duration) {
	if m.metrics == nil {
		return
	}
	status := "ok"
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		status = "circuit_open"
	case err != nil:
		status = "error"
	}
	m.metrics.RecordAlarm(ctx, name, status, d.Seconds())
}

// Name implements [Target].
func (m *Multi) Name() string { return "multi" }

// Names returns the wrapped target names.
func (m *Multi) Names() []string {
	names := make([]string, len(m.targets))
	for i, t := range m.targets {
		names[i] = t.target.Name()
	}
	return names
}
