package config

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/tasmi/pkg/provider/stt"
	"github.com/MrWong99/tasmi/pkg/provider/vad"
	"github.com/MrWong99/tasmi/pkg/quran"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// WordsFactory opens a word store for cfg.
type WordsFactory func(ctx context.Context, cfg WordsConfig) (quran.Store, error)

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	stt   map[string]func(ProviderEntry) (stt.Transcriber, error)
	vad   map[string]func(VADConfig) (vad.Engine, error)
	words map[WordsBackend]WordsFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		stt:   make(map[string]func(ProviderEntry) (stt.Transcriber, error)),
		vad:   make(map[string]func(VADConfig) (vad.Engine, error)),
		words: make(map[WordsBackend]WordsFactory),
	}
}

// RegisterSTT registers a transcriber factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterSTT(name string, factory func(ProviderEntry) (stt.Transcriber, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt[name] = factory
}

// RegisterVAD registers a VAD engine factory under name.
func (r *Registry) RegisterVAD(name string, factory func(VADConfig) (vad.Engine, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vad[name] = factory
}

// RegisterWords registers a word store factory for backend.
func (r *Registry) RegisterWords(backend WordsBackend, factory WordsFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.words[backend] = factory
}

// CreateSTT instantiates a transcriber using the factory registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Transcriber, error) {
	r.mu.RLock()
	factory, ok := r.stt[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: stt/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateVAD instantiates a VAD engine using the factory registered under cfg.Engine.
func (r *Registry) CreateVAD(cfg VADConfig) (vad.Engine, error) {
	r.mu.RLock()
	factory, ok := r.vad[cfg.Engine]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: vad/%q", ErrProviderNotRegistered, cfg.Engine)
	}
	return factory(cfg)
}

// CreateWords opens the word store registered for cfg.Backend.
func (r *Registry) CreateWords(ctx context.Context, cfg WordsConfig) (quran.Store, error) {
	r.mu.RLock()
	factory, ok := r.words[cfg.Backend]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: words/%q", ErrProviderNotRegistered, cfg.Backend)
	}
	return factory(ctx, cfg)
}
