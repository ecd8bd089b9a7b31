package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every entry of a [FallbackGroup] failed or
// was skipped by its breaker.
var ErrAllFailed = errors.New("all targets failed")

// FallbackConfig configures the breaker created for each entry of a
// [FallbackGroup].
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup holds interchangeable targets tried in registration order.
// Register all entries before sharing the group; Execute is then safe for
// concurrent use.
type FallbackGroup[T any] struct {
	entries []fallbackEntry[T]
	cfg     FallbackConfig
}

// NewFallbackGroup returns an empty group.
func NewFallbackGroup[T any](cfg FallbackConfig) *FallbackGroup[T] {
	return &FallbackGroup[T]{cfg: cfg}
}

// Add appends an entry with its own breaker.
func (fg *FallbackGroup[T]) Add(name string, value T) {
	cbCfg := fg.cfg.CircuitBreaker
	cbCfg.Name = name
	fg.entries = append(fg.entries, fallbackEntry[T]{
		name:    name,
		value:   value,
		breaker: NewCircuitBreaker(cbCfg),
	})
}

// Len returns the number of entries.
func (fg *FallbackGroup[T]) Len() int { return len(fg.entries) }

// Names returns the entry names in the order they are tried.
func (fg *FallbackGroup[T]) Names() []string {
	names := make([]string, len(fg.entries))
	for i, e := range fg.entries {
		names[i] = e.name
	}
	return names
}

// Execute runs fn against each entry until one succeeds and returns that
// entry's name. It gives up early when ctx ends. When every entry fails the
// error wraps [ErrAllFailed] and the last failure.
func (fg *FallbackGroup[T]) Execute(ctx context.Context, fn func(ctx context.Context, v T) error) (string, error) {
	lastErr := errors.New("no entries")
	for i := range fg.entries {
		e := &fg.entries[i]
		err := e.breaker.Execute(ctx, func(ctx context.Context) error {
			return fn(ctx, e.value)
		})
		if err == nil {
			return e.name, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping target, circuit open", "target", e.name)
			continue
		}
		slog.Warn("target failed, trying next", "target", e.name, "err", err)
	}
	return "", fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
