package vad

import (
	"context"
	"fmt"
)

// Classifier is the external forward pass behind [NeuralVAD]: a small
// recurrent speech classifier (e.g. Silero) that scores one hop of audio.
// The recurrent hidden state lives inside the implementation and persists
// across calls until Reset.
//
// Implementations need not be safe for concurrent use; NeuralVAD serializes
// calls.
type Classifier interface {
	// Infer returns the speech probability (0.0–1.0) for samples, which is
	// one hop of audio with the trailing context prefix already prepended.
	Infer(ctx context.Context, samples []float32) (float32, error)

	// Reset clears the recurrent hidden state.
	Reset() error

	// Close releases the classifier. Safe to call more than once.
	Close() error
}

// ClassifierFactory loads and compiles a [Classifier]. Loading is the slow
// part of NeuralVAD initialization and may be cancelled via ctx.
type ClassifierFactory func(ctx context.Context) (Classifier, error)

// NeuralConfig holds the parameters for a [NeuralVAD].
type NeuralConfig struct {
	// HopSize is the exact number of samples per Process call. Silero at
	// 16 kHz uses 512.
	HopSize int

	// ContextSize is the number of trailing samples from the previous hop
	// prepended to each input to give the classifier lookback. Silero at
	// 16 kHz uses 64.
	ContextSize int

	// Threshold is the probability above which a hop counts as speech.
	Threshold float32
}

func (c NeuralConfig) validate() error {
	if c.HopSize <= 0 {
		return fmt.Errorf("vad: hop size must be positive, got %d", c.HopSize)
	}
	if c.ContextSize < 0 || c.ContextSize > c.HopSize {
		return fmt.Errorf("vad: context size must be in [0, hop size], got %d", c.ContextSize)
	}
	if c.Threshold <= 0 || c.Threshold >= 1 {
		return fmt.Errorf("vad: neural threshold must be in (0, 1), got %g", c.Threshold)
	}
	return nil
}

// NeuralVAD wraps a neural speech classifier with the hop/context plumbing
// the live pipeline needs: a trailing-context buffer prepended to every
// input, a pending buffer so arbitrary-length input can be split into
// hop-aligned sub-chunks, and explicit not-ready semantics before Init
// completes.
//
// Not safe for concurrent use; create one per stream.
type NeuralVAD struct {
	cfg     NeuralConfig
	factory ClassifierFactory

	classifier Classifier
	context    []float32 // trailing samples of the previous hop
	pending    []float32 // partial hop carried between ProcessBuffer calls
	scratch    []float32 // reused context+hop input buffer
}

// NewNeuralVAD creates an uninitialized NeuralVAD. Call [NeuralVAD.Init]
// before Process; earlier calls return [ErrNotReady].
func NewNeuralVAD(cfg NeuralConfig, factory ClassifierFactory) (*NeuralVAD, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if factory == nil {
		return nil, fmt.Errorf("vad: classifier factory must not be nil")
	}
	return &NeuralVAD{
		cfg:     cfg,
		factory: factory,
		context: make([]float32, 0, cfg.ContextSize),
		scratch: make([]float32, 0, cfg.ContextSize+cfg.HopSize),
	}, nil
}

// Init loads and compiles the classifier. It must complete before Process is
// called. Init on an already-initialized detector is a no-op.
func (n *NeuralVAD) Init(ctx context.Context) error {
	if n.classifier != nil {
		return nil
	}
	c, err := n.factory(ctx)
	if err != nil {
		return fmt.Errorf("vad: classifier init: %w", err)
	}
	n.classifier = c
	return nil
}

// Ready reports whether Init has completed.
func (n *NeuralVAD) Ready() bool { return n.classifier != nil }

// Process scores one hop of exactly HopSize samples. The trailing context of
// the previous hop is prepended before inference.
func (n *NeuralVAD) Process(ctx context.Context, chunk []float32) (NeuralResult, error) {
	if n.classifier == nil {
		return NeuralResult{}, ErrNotReady
	}
	if len(chunk) != n.cfg.HopSize {
		return NeuralResult{}, fmt.Errorf("vad: chunk has %d samples, hop size is %d", len(chunk), n.cfg.HopSize)
	}

	n.scratch = n.scratch[:0]
	n.scratch = append(n.scratch, n.context...)
	n.scratch = append(n.scratch, chunk...)

	p, err := n.classifier.Infer(ctx, n.scratch)
	if err != nil {
		return NeuralResult{}, fmt.Errorf("vad: inference: %w", err)
	}

	// Keep the last ContextSize samples as lookback for the next hop.
	if n.cfg.ContextSize > 0 {
		n.context = append(n.context[:0], chunk[len(chunk)-n.cfg.ContextSize:]...)
	}

	return NeuralResult{Probability: p, IsSpeech: p >= n.cfg.Threshold}, nil
}

// ProcessBuffer splits an arbitrary-length input into hop-aligned sub-chunks
// and scores each. A trailing partial hop is retained and completed by the
// next call.
func (n *NeuralVAD) ProcessBuffer(ctx context.Context, samples []float32) ([]NeuralResult, error) {
	if n.classifier == nil {
		return nil, ErrNotReady
	}

	n.pending = append(n.pending, samples...)
	var results []NeuralResult
	for len(n.pending) >= n.cfg.HopSize {
		res, err := n.Process(ctx, n.pending[:n.cfg.HopSize])
		if err != nil {
			return results, err
		}
		results = append(results, res)
		n.pending = n.pending[n.cfg.HopSize:]
	}
	if len(n.pending) > 0 {
		// Compact so the backing array does not grow without bound.
		n.pending = append(make([]float32, 0, n.cfg.HopSize), n.pending...)
	}
	return results, nil
}

// Reset clears the context and pending buffers and the classifier's
// recurrent state. Call when starting a new session.
func (n *NeuralVAD) Reset() error {
	n.context = n.context[:0]
	n.pending = n.pending[:0]
	if n.classifier != nil {
		if err := n.classifier.Reset(); err != nil {
			return fmt.Errorf("vad: classifier reset: %w", err)
		}
	}
	return nil
}

// Close releases the classifier. Subsequent Process calls return
// [ErrNotReady].
func (n *NeuralVAD) Close() error {
	if n.classifier == nil {
		return nil
	}
	err := n.classifier.Close()
	n.classifier = nil
	return err
}
