package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/lorikeet/pkg/asr"
	"github.com/MrWong99/lorikeet/pkg/vad"
)

// ErrEngineNotRegistered is returned by Create* methods when no factory has
// been registered under the requested engine name.
var ErrEngineNotRegistered = errors.New("config: engine not registered")

// Registry maps engine names to their constructor functions for each pipeline
// stage. It is safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	recognizers map[string]func(ASRConfig) (asr.Recognizer, error)
	classifiers map[string]func(NeuralConfig, int) (vad.ClassifierFactory, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		recognizers: make(map[string]func(ASRConfig) (asr.Recognizer, error)),
		classifiers: make(map[string]func(NeuralConfig, int) (vad.ClassifierFactory, error)),
	}
}

// RegisterRecognizer registers a speech-recognition engine factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterRecognizer(name string, factory func(ASRConfig) (asr.Recognizer, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recognizers[name] = factory
}

// RegisterClassifier registers a VAD classifier factory under name. The
// factory receives the neural VAD config plus the stream sample rate.
func (r *Registry) RegisterClassifier(name string, factory func(NeuralConfig, int) (vad.ClassifierFactory, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.classifiers[name] = factory
}

// CreateRecognizer instantiates a recognizer using the factory registered
// under cfg.Engine. Returns [ErrEngineNotRegistered] if no factory has been
// registered for that name.
func (r *Registry) CreateRecognizer(cfg ASRConfig) (asr.Recognizer, error) {
	r.mu.RLock()
	factory, ok := r.recognizers[cfg.Engine]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: asr/%q", ErrEngineNotRegistered, cfg.Engine)
	}
	return factory(cfg)
}

// CreateClassifier builds a vad.ClassifierFactory using the factory
// registered under cfg.Engine.
func (r *Registry) CreateClassifier(cfg NeuralConfig, sampleRate int) (vad.ClassifierFactory, error) {
	r.mu.RLock()
	factory, ok := r.classifiers[cfg.Engine]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: vad/%q", ErrEngineNotRegistered, cfg.Engine)
	}
	return factory(cfg, sampleRate)
}
