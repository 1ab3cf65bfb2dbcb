package vad

import (
	"context"
	"errors"
	"testing"
)

// stubClassifier returns scripted probabilities and records the inputs it
// received.
type stubClassifier struct {
	probs  []float32
	calls  int
	inputs [][]float32
	resets int
	closed bool
}

func (s *stubClassifier) Infer(_ context.Context, samples []float32) (float32, error) {
	cp := make([]float32, len(samples))
	copy(cp, samples)
	s.inputs = append(s.inputs, cp)
	p := float32(0.5)
	if s.calls < len(s.probs) {
		p = s.probs[s.calls]
	}
	s.calls++
	return p, nil
}

func (s *stubClassifier) Reset() error {
	s.resets++
	return nil
}

func (s *stubClassifier) Close() error {
	s.closed = true
	return nil
}

func newReadyNeural(t *testing.T, cfg NeuralConfig, stub *stubClassifier) *NeuralVAD {
	t.Helper()
	n, err := NewNeuralVAD(cfg, func(context.Context) (Classifier, error) { return stub, nil })
	if err != nil {
		t.Fatalf("NewNeuralVAD: %v", err)
	}
	if err := n.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return n
}

func TestNeuralVADNotReady(t *testing.T) {
	t.Parallel()

	n, err := NewNeuralVAD(
		NeuralConfig{HopSize: 512, ContextSize: 64, Threshold: 0.5},
		func(context.Context) (Classifier, error) { return &stubClassifier{}, nil },
	)
	if err != nil {
		t.Fatalf("NewNeuralVAD: %v", err)
	}
	if _, err := n.Process(context.Background(), make([]float32, 512)); !errors.Is(err, ErrNotReady) {
		t.Errorf("Process before Init = %v, want ErrNotReady", err)
	}
	if _, err := n.ProcessBuffer(context.Background(), make([]float32, 1024)); !errors.Is(err, ErrNotReady) {
		t.Errorf("ProcessBuffer before Init = %v, want ErrNotReady", err)
	}
}

func TestNeuralVADInitFailure(t *testing.T) {
	t.Parallel()

	wantErr := errors.New("model file corrupt")
	n, err := NewNeuralVAD(
		NeuralConfig{HopSize: 512, ContextSize: 64, Threshold: 0.5},
		func(context.Context) (Classifier, error) { return nil, wantErr },
	)
	if err != nil {
		t.Fatalf("NewNeuralVAD: %v", err)
	}
	if err := n.Init(context.Background()); !errors.Is(err, wantErr) {
		t.Errorf("Init = %v, want wrapped %v", err, wantErr)
	}
	if n.Ready() {
		t.Error("Ready after failed Init")
	}
}

func TestNeuralVADContextPrepended(t *testing.T) {
	t.Parallel()

	stub := &stubClassifier{probs: []float32{0.9, 0.9}}
	n := newReadyNeural(t, NeuralConfig{HopSize: 4, ContextSize: 2, Threshold: 0.5}, stub)
	ctx := context.Background()

	if _, err := n.Process(ctx, []float32{1, 2, 3, 4}); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if _, err := n.Process(ctx, []float32{5, 6, 7, 8}); err != nil {
		t.Fatalf("Process: %v", err)
	}

	// First call has no lookback; second is prefixed with the previous
	// hop's trailing two samples.
	if got := stub.inputs[0]; len(got) != 4 {
		t.Fatalf("first input length = %d, want 4", len(got))
	}
	want := []float32{3, 4, 5, 6, 7, 8}
	got := stub.inputs[1]
	if len(got) != len(want) {
		t.Fatalf("second input length = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("second input = %v, want %v", got, want)
		}
	}
}

func TestNeuralVADWrongChunkSize(t *testing.T) {
	t.Parallel()

	n := newReadyNeural(t, NeuralConfig{HopSize: 512, ContextSize: 64, Threshold: 0.5}, &stubClassifier{})
	if _, err := n.Process(context.Background(), make([]float32, 100)); err == nil {
		t.Error("expected error for wrong chunk size")
	}
}

func TestNeuralVADProcessBufferSplitsHops(t *testing.T) {
	t.Parallel()

	stub := &stubClassifier{probs: []float32{0.9, 0.2, 0.8}}
	n := newReadyNeural(t, NeuralConfig{HopSize: 4, ContextSize: 0, Threshold: 0.5}, stub)
	ctx := context.Background()

	// 10 samples: two full hops now, two samples pending.
	results, err := n.ProcessBuffer(ctx, make([]float32, 10))
	if err != nil {
		t.Fatalf("ProcessBuffer: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	if !results[0].IsSpeech || results[1].IsSpeech {
		t.Errorf("results = %+v, want [speech, non-speech]", results)
	}

	// Two more samples complete the pending hop.
	results, err = n.ProcessBuffer(ctx, make([]float32, 2))
	if err != nil {
		t.Fatalf("ProcessBuffer: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("results after completing pending hop = %d, want 1", len(results))
	}
	if stub.calls != 3 {
		t.Errorf("classifier calls = %d, want 3", stub.calls)
	}
}

func TestNeuralVADResetClearsState(t *testing.T) {
	t.Parallel()

	stub := &stubClassifier{probs: []float32{0.9, 0.9}}
	n := newReadyNeural(t, NeuralConfig{HopSize: 4, ContextSize: 2, Threshold: 0.5}, stub)
	ctx := context.Background()

	if _, err := n.Process(ctx, []float32{1, 2, 3, 4}); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if err := n.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if stub.resets != 1 {
		t.Errorf("classifier resets = %d, want 1", stub.resets)
	}

	// No lookback after reset.
	if _, err := n.Process(ctx, []float32{5, 6, 7, 8}); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if got := stub.inputs[1]; len(got) != 4 {
		t.Errorf("input after reset has %d samples, want 4 (no context)", len(got))
	}
}

func TestNeuralVADClose(t *testing.T) {
	t.Parallel()

	stub := &stubClassifier{}
	n := newReadyNeural(t, NeuralConfig{HopSize: 4, ContextSize: 0, Threshold: 0.5}, stub)

	if err := n.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !stub.closed {
		t.Error("classifier not closed")
	}
	if _, err := n.Process(context.Background(), make([]float32, 4)); !errors.Is(err, ErrNotReady) {
		t.Errorf("Process after Close = %v, want ErrNotReady", err)
	}
}
