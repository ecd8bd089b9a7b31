package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/hornwatch/pkg/audio"
)

// ErrSourceNotRegistered is returned by [Registry.CreateSource] when no
// factory has been registered for the requested source kind.
var ErrSourceNotRegistered = errors.New("config: audio source not registered")

// Registry maps audio source kinds to their constructors. The microphone
// backend is only linked into builds that support it, so the binary
// registers what it has at startup. Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	sources map[SourceKind]func(AudioConfig) (audio.Source, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		sources: make(map[SourceKind]func(AudioConfig) (audio.Source, error)),
	}
}

// RegisterSource registers a source factory under kind.
// Subsequent calls with the same kind overwrite the previous registration.
func (r *Registry) RegisterSource(kind SourceKind, factory func(AudioConfig) (audio.Source, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[kind] = factory
}

// CreateSource instantiates the source selected by cfg.Source.
func (r *Registry) CreateSource(cfg AudioConfig) (audio.Source, error) {
	r.mu.RLock()
	factory, ok := r.sources[cfg.Source]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrSourceNotRegistered, cfg.Source)
	}
	src, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("config: create %s source: %w", cfg.Source, err)
	}
	return src, nil
}

// Sources lists the registered kinds in sorted order.
func (r *Registry) Sources() []SourceKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]SourceKind, 0, len(r.sources))
	for k := range r.sources {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}
