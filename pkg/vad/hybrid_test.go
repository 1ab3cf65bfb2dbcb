package vad

import (
	"context"
	"testing"
	"time"
)

// hybridTestConfig uses 10 ms hops at 16 kHz with fast energy hysteresis so
// the energy boolean flips within a few chunks.
func hybridTestConfig(onset, offset int) HybridConfig {
	return HybridConfig{
		Energy: EnergyConfig{
			SampleRate:         16000,
			Threshold:          0.02,
			MinSpeechDuration:  10 * time.Millisecond,
			MinSilenceDuration: 10 * time.Millisecond,
		},
		OnsetConfirmations:  onset,
		OffsetConfirmations: offset,
	}
}

// scriptedNeural builds a ready NeuralVAD whose classifier returns the given
// probabilities in order (0.5 once the script runs out).
func scriptedNeural(t *testing.T, probs ...float32) *NeuralVAD {
	t.Helper()
	return newReadyNeural(t, NeuralConfig{HopSize: 160, ContextSize: 0, Threshold: 0.5}, &stubClassifier{probs: probs})
}

func TestHybridOnsetConfirmation(t *testing.T) {
	t.Parallel()

	// Two consecutive neural positives required for onset.
	neural := scriptedNeural(t, 0.9, 0.9, 0.9)
	d, err := NewHybridDetector(hybridTestConfig(2, 2), neural)
	if err != nil {
		t.Fatalf("NewHybridDetector: %v", err)
	}
	ctx := context.Background()
	loud := constChunk(160, 0.5)

	res, err := d.Process(ctx, loud)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.State != StateCandidate || res.IsSpeech {
		t.Fatalf("after 1 positive: state = %s, isSpeech = %v; want speech_candidate, false", res.State, res.IsSpeech)
	}

	res, err = d.Process(ctx, loud)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.State != StateConfirmed || !res.SpeechStart {
		t.Fatalf("after 2 positives: state = %s, speechStart = %v; want speech_confirmed, true", res.State, res.SpeechStart)
	}
}

func TestHybridNeuralVetoInSilence(t *testing.T) {
	t.Parallel()

	// Energy elevated but classifier says no: stay in silence.
	neural := scriptedNeural(t, 0.1, 0.1, 0.1)
	d, err := NewHybridDetector(hybridTestConfig(1, 1), neural)
	if err != nil {
		t.Fatalf("NewHybridDetector: %v", err)
	}
	loud := constChunk(160, 0.5)

	for i := 0; i < 3; i++ {
		res, err := d.Process(context.Background(), loud)
		if err != nil {
			t.Fatalf("Process: %v", err)
		}
		if res.State != StateSilence {
			t.Fatalf("chunk %d: state = %s, want silence (neural veto)", i, res.State)
		}
	}
}

func TestHybridCandidateRevertsOnNegative(t *testing.T) {
	t.Parallel()

	neural := scriptedNeural(t, 0.9, 0.1)
	d, err := NewHybridDetector(hybridTestConfig(3, 1), neural)
	if err != nil {
		t.Fatalf("NewHybridDetector: %v", err)
	}
	ctx := context.Background()
	loud := constChunk(160, 0.5)

	if res, _ := d.Process(ctx, loud); res.State != StateCandidate {
		t.Fatalf("state = %s, want speech_candidate", res.State)
	}
	if res, _ := d.Process(ctx, loud); res.State != StateSilence {
		t.Fatalf("state after neural negative = %s, want silence", res.State)
	}
}

func TestHybridEndingRevertsWithoutDoubleConfirm(t *testing.T) {
	t.Parallel()

	// Onset, one negative (ending), one positive (revert), then negatives
	// to end. OffsetConfirmations=2.
	neural := scriptedNeural(t, 0.9, 0.1, 0.9, 0.1, 0.1)
	d, err := NewHybridDetector(hybridTestConfig(1, 2), neural)
	if err != nil {
		t.Fatalf("NewHybridDetector: %v", err)
	}
	ctx := context.Background()
	loud := constChunk(160, 0.5)

	if res, _ := d.Process(ctx, loud); res.State != StateConfirmed {
		t.Fatalf("state = %s, want speech_confirmed", res.State)
	}
	if res, _ := d.Process(ctx, loud); res.State != StateEnding {
		t.Fatalf("state = %s, want speech_ending", res.State)
	}
	// The single contradicting positive reverts directly to confirmed —
	// no onset re-confirmation, still speech throughout.
	res, _ := d.Process(ctx, loud)
	if res.State != StateConfirmed || !res.IsSpeech || res.SpeechStart {
		t.Fatalf("revert: state = %s, isSpeech = %v, speechStart = %v; want speech_confirmed, true, false",
			res.State, res.IsSpeech, res.SpeechStart)
	}
	// Two fresh negatives are required again for offset.
	if res, _ := d.Process(ctx, loud); res.State != StateEnding {
		t.Fatalf("state = %s, want speech_ending", res.State)
	}
	res, _ = d.Process(ctx, loud)
	if res.State != StateSilence || !res.SpeechEnd {
		t.Fatalf("state = %s, speechEnd = %v; want silence, true", res.State, res.SpeechEnd)
	}
}

func TestHybridEnergyOnlyMatchesEnergyDetector(t *testing.T) {
	t.Parallel()

	// With confirmations=1 and no classifier, the hybrid machine must flip
	// isSpeech on exactly the chunks the bare energy detector does.
	cfg := EnergyConfig{
		SampleRate:         16000,
		Threshold:          0.02,
		MinSpeechDuration:  100 * time.Millisecond,
		MinSilenceDuration: 300 * time.Millisecond,
	}
	bare, err := NewEnergyDetector(cfg)
	if err != nil {
		t.Fatalf("NewEnergyDetector: %v", err)
	}
	hybrid, err := NewHybridDetector(HybridConfig{Energy: cfg, OnsetConfirmations: 1, OffsetConfirmations: 1}, nil)
	if err != nil {
		t.Fatalf("NewHybridDetector: %v", err)
	}

	loud := constChunk(160, 0.5)
	quiet := constChunk(160, 0.001)
	ctx := context.Background()

	var chunks [][]float32
	for i := 0; i < 15; i++ {
		chunks = append(chunks, loud)
	}
	for i := 0; i < 35; i++ {
		chunks = append(chunks, quiet)
	}

	for i, chunk := range chunks {
		want := bare.Process(chunk).IsSpeech
		res, err := hybrid.Process(ctx, chunk)
		if err != nil {
			t.Fatalf("chunk %d: %v", i, err)
		}
		if res.IsSpeech != want {
			t.Fatalf("chunk %d: hybrid isSpeech = %v, energy detector = %v", i, res.IsSpeech, want)
		}
	}
}

func TestHybridSkipsClassifierOnClearSilence(t *testing.T) {
	t.Parallel()

	stub := &stubClassifier{probs: []float32{0.9}}
	neural := newReadyNeural(t, NeuralConfig{HopSize: 160, ContextSize: 0, Threshold: 0.5}, stub)
	d, err := NewHybridDetector(hybridTestConfig(1, 1), neural)
	if err != nil {
		t.Fatalf("NewHybridDetector: %v", err)
	}

	quiet := constChunk(160, 0.001)
	for i := 0; i < 5; i++ {
		if _, err := d.Process(context.Background(), quiet); err != nil {
			t.Fatalf("Process: %v", err)
		}
	}
	if stub.calls != 0 {
		t.Errorf("classifier invoked %d times on clear silence, want 0", stub.calls)
	}
}

func TestHybridReset(t *testing.T) {
	t.Parallel()

	neural := scriptedNeural(t, 0.9, 0.9)
	d, err := NewHybridDetector(hybridTestConfig(1, 1), neural)
	if err != nil {
		t.Fatalf("NewHybridDetector: %v", err)
	}
	ctx := context.Background()

	if res, _ := d.Process(ctx, constChunk(160, 0.5)); res.State != StateConfirmed {
		t.Fatalf("state = %s, want speech_confirmed", res.State)
	}
	if err := d.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if got := d.State(); got != StateSilence {
		t.Errorf("state after reset = %s, want silence", got)
	}
}
