package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Predictive-Systems-Inc/dr-a/pkg/provider/transcribe"
)

// ErrProviderNotRegistered is returned by [Registry.CreateTranscriber] when
// no factory has been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps transcription provider names to their constructor functions.
// It is safe for concurrent use.
type Registry struct {
	mu           sync.RWMutex
	transcribers map[string]func(TranscriptionConfig) (transcribe.Provider, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		transcribers: make(map[string]func(TranscriptionConfig) (transcribe.Provider, error)),
	}
}

// RegisterTranscriber registers a transcription provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterTranscriber(name string, factory func(TranscriptionConfig) (transcribe.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transcribers[name] = factory
}

// CreateTranscriber instantiates a transcription provider using the factory
// registered under cfg.Provider. Returns [ErrProviderNotRegistered] if no
// factory has been registered for that name.
func (r *Registry) CreateTranscriber(cfg TranscriptionConfig) (transcribe.Provider, error) {
	r.mu.RLock()
	factory, ok := r.transcribers[cfg.Provider]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: transcribe/%q", ErrProviderNotRegistered, cfg.Provider)
	}
	return factory(cfg)
}
