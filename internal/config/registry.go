package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/torqueshop/voicedesk/internal/directory"
	"github.com/torqueshop/voicedesk/pkg/audio"
	"github.com/torqueshop/voicedesk/pkg/provider/stt"
	"github.com/torqueshop/voicedesk/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// AudioDevices is the microphone and speaker pair created by an audio
// factory. Close releases the underlying host library and may be nil.
type AudioDevices struct {
	Microphone audio.Microphone
	Speaker    audio.Speaker
	Close      func() error
}

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	stt       map[string]func(ProviderEntry) (stt.Provider, error)
	tts       map[string]func(ProviderEntry) (tts.Provider, error)
	directory map[string]func(ProviderEntry) (directory.Source, error)
	audio     map[string]func(ProviderEntry) (AudioDevices, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		stt:       make(map[string]func(ProviderEntry) (stt.Provider, error)),
		tts:       make(map[string]func(ProviderEntry) (tts.Provider, error)),
		directory: make(map[string]func(ProviderEntry) (directory.Source, error)),
		audio:     make(map[string]func(ProviderEntry) (AudioDevices, error)),
	}
}

// RegisterSTT registers an STT provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterSTT(name string, factory func(ProviderEntry) (stt.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt[name] = factory
}

// RegisterTTS registers a TTS provider factory under name.
func (r *Registry) RegisterTTS(name string, factory func(ProviderEntry) (tts.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts[name] = factory
}

// RegisterDirectory registers a customer/vehicle source factory under name.
func (r *Registry) RegisterDirectory(name string, factory func(ProviderEntry) (directory.Source, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.directory[name] = factory
}

// RegisterAudio registers an audio device factory under name.
func (r *Registry) RegisterAudio(name string, factory func(ProviderEntry) (AudioDevices, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audio[name] = factory
}

// CreateSTT instantiates an STT provider using the factory registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	return create(r, r.stt, "stt", entry)
}

// CreateTTS instantiates a TTS provider using the factory registered under entry.Name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	return create(r, r.tts, "tts", entry)
}

// CreateDirectory instantiates a directory source using the factory registered under entry.Name.
func (r *Registry) CreateDirectory(entry ProviderEntry) (directory.Source, error) {
	return create(r, r.directory, "directory", entry)
}

// CreateAudio instantiates audio devices using the factory registered under entry.Name.
func (r *Registry) CreateAudio(entry ProviderEntry) (AudioDevices, error) {
	return create(r, r.audio, "audio", entry)
}

func create[T any](r *Registry, factories map[string]func(ProviderEntry) (T, error), kind string, entry ProviderEntry) (T, error) {
	r.mu.RLock()
	factory, ok := factories[entry.Name]
	r.mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, kind, entry.Name)
	}
	return factory(entry)
}
