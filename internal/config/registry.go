package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/swaracoach/pkg/audio/capture"
	"github.com/MrWong99/swaracoach/pkg/provider/stt"
	"github.com/MrWong99/swaracoach/pkg/provider/vad"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	stt        map[string]func(ProviderEntry) (stt.Provider, error)
	vad        map[string]func(VADConfig) (vad.Engine, error)
	microphone map[string]func(AudioConfig) (capture.Microphone, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		stt:        make(map[string]func(ProviderEntry) (stt.Provider, error)),
		vad:        make(map[string]func(VADConfig) (vad.Engine, error)),
		microphone: make(map[string]func(AudioConfig) (capture.Microphone, error)),
	}
}

// RegisterSTT registers an STT provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterSTT(name string, factory func(ProviderEntry) (stt.Provider, error)) {
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

// RegisterMicrophone registers a capture backend factory under name.
func (r *Registry) RegisterMicrophone(name string, factory func(AudioConfig) (capture.Microphone, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.microphone[name] = factory
}

// CreateSTT instantiates an STT provider using the factory registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	r.mu.RLock()
	factory, ok := r.stt[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: stt/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateVAD instantiates the VAD engine named by cfg.Engine.
func (r *Registry) CreateVAD(cfg VADConfig) (vad.Engine, error) {
	r.mu.RLock()
	factory, ok := r.vad[cfg.Engine]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: vad/%q", ErrProviderNotRegistered, cfg.Engine)
	}
	return factory(cfg)
}

// CreateMicrophone instantiates the capture backend named by cfg.Capture.
func (r *Registry) CreateMicrophone(cfg AudioConfig) (capture.Microphone, error) {
	r.mu.RLock()
	factory, ok := r.microphone[cfg.Capture]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: capture/%q", ErrProviderNotRegistered, cfg.Capture)
	}
	return factory(cfg)
}
