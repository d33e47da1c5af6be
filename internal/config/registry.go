package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/voxd-io/voxd/pkg/transcriber"
	"github.com/voxd-io/voxd/pkg/vad"
)

// ErrBackendNotRegistered is returned by Create* methods when no factory has
// been registered under the requested backend name.
var ErrBackendNotRegistered = errors.New("config: backend not registered")

// Registry maps backend names to their constructor functions. It is safe
// for concurrent use. The main binary registers the compiled-in backends at
// startup; build tags decide which native backends are available.
type Registry struct {
	mu           sync.RWMutex
	transcribers map[string]func(TranscriberConfig) (transcriber.Transcriber, error)
	detectors    map[string]func(VADConfig, AudioConfig) (vad.Detector, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		transcribers: make(map[string]func(TranscriberConfig) (transcriber.Transcriber, error)),
		detectors:    make(map[string]func(VADConfig, AudioConfig) (vad.Detector, error)),
	}
}

// RegisterTranscriber registers a transcriber factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterTranscriber(name string, factory func(TranscriberConfig) (transcriber.Transcriber, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transcribers[name] = factory
}

// RegisterDetector registers a VAD detector factory under name.
func (r *Registry) RegisterDetector(name string, factory func(VADConfig, AudioConfig) (vad.Detector, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.detectors[name] = factory
}

// CreateTranscriber builds the transcriber selected by cfg.Backend.
func (r *Registry) CreateTranscriber(cfg TranscriberConfig) (transcriber.Transcriber, error) {
	r.mu.RLock()
	factory, ok := r.transcribers[cfg.Backend]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: transcriber %q", ErrBackendNotRegistered, cfg.Backend)
	}
	return factory(cfg)
}

// CreateDetector builds the VAD detector selected by vadCfg.Backend.
func (r *Registry) CreateDetector(vadCfg VADConfig, audioCfg AudioConfig) (vad.Detector, error) {
	r.mu.RLock()
	factory, ok := r.detectors[vadCfg.Backend]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: vad %q", ErrBackendNotRegistered, vadCfg.Backend)
	}
	return factory(vadCfg, audioCfg)
}
