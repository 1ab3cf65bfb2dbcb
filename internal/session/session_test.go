package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/lorikeet/pkg/asr"
	asrmock "github.com/MrWong99/lorikeet/pkg/asr/mock"
	"github.com/MrWong99/lorikeet/pkg/merge"
	"github.com/MrWong99/lorikeet/pkg/timeline"
	"github.com/MrWong99/lorikeet/pkg/vad"
)

const (
	testRate = 16000
	testHop  = 512
)

func testSettings() Settings {
	return Settings{
		SessionID:       "test",
		SampleRate:      testRate,
		ChunkSize:       testHop,
		Window:          4 * time.Second,
		MinWindow:       500 * time.Millisecond,
		SilenceFlush:    300 * time.Millisecond,
		Overlap:         600 * time.Millisecond,
		SpeechThreshold: 0.01,
		Engine:          "mock",
	}
}

func testStore(t *testing.T) *timeline.Store {
	t.Helper()
	store, err := timeline.NewStore(timeline.StoreConfig{
		SampleRate: testRate,
		Audio:      timeline.LayerConfig{HopSamples: 1, EntryDimension: 1, MaxDuration: 30 * time.Second},
		Feature:    timeline.LayerConfig{HopSamples: 160, EntryDimension: 1, MaxDuration: 30 * time.Second},
		EnergyVAD:  timeline.LayerConfig{HopSamples: testHop, EntryDimension: 1, MaxDuration: 30 * time.Second},
		NeuralVAD:  timeline.LayerConfig{HopSamples: testHop, EntryDimension: 1, MaxDuration: 30 * time.Second},
	})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store
}

// testDetector runs energy-only with single-chunk confirmations so tests can
// script transitions with loud and quiet chunks.
func testDetector(t *testing.T) *vad.HybridDetector {
	t.Helper()
	d, err := vad.NewHybridDetector(vad.HybridConfig{
		Energy: vad.EnergyConfig{
			SampleRate:         testRate,
			Threshold:          0.01,
			MinSpeechDuration:  100 * time.Millisecond,
			MinSilenceDuration: 200 * time.Millisecond,
		},
		OnsetConfirmations:  1,
		OffsetConfirmations: 1,
	}, nil)
	if err != nil {
		t.Fatalf("NewHybridDetector: %v", err)
	}
	return d
}

func testMerger(t *testing.T) merge.Merger {
	t.Helper()
	m, err := merge.NewFrameMerger(merge.FrameMergerConfig{
		FrameStride:        80 * time.Millisecond,
		TimeTolerance:      80 * time.Millisecond,
		StabilityThreshold: 3,
	})
	if err != nil {
		t.Fatalf("NewFrameMerger: %v", err)
	}
	return m
}

func newTestSession(t *testing.T, rec asr.Recognizer) *Session {
	t.Helper()
	s, err := New(context.Background(), testSettings(), testStore(t), testDetector(t), rec, testMerger(t), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func chunkOf(amplitude float32) []float32 {
	out := make([]float32, testHop)
	for i := range out {
		out[i] = amplitude
	}
	return out
}

// waitFor polls the session snapshot until cond passes or the deadline hits.
func waitFor(t *testing.T, s *Session, what string, cond func(Snapshot) bool) Snapshot {
	t.Helper()
	snap, ok := pollSnapshot(s, 5*time.Second, cond)
	if !ok {
		t.Fatalf("timed out waiting for %s; last snapshot: %+v", what, s.Snapshot())
	}
	return snap
}

func pollSnapshot(s *Session, timeout time.Duration, cond func(Snapshot) bool) (Snapshot, bool) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		snap := s.Snapshot()
		if cond(snap) {
			return snap, true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return Snapshot{}, false
}

func TestSessionTranscribesUtterance(t *testing.T) {
	t.Parallel()

	rec := &asrmock.Recognizer{
		Results: []asr.Result{
			{Tokens: []asr.Token{{TokenID: 10, FrameIndex: 0, Text: "he"}, {TokenID: 11, FrameIndex: 3, Text: "llo"}}},
			{Tokens: []asr.Token{{TokenID: 10, FrameIndex: 0, Text: "he"}, {TokenID: 11, FrameIndex: 3, Text: "llo"}}},
			{Tokens: []asr.Token{{TokenID: 10, FrameIndex: 0, Text: "he"}, {TokenID: 11, FrameIndex: 3, Text: "llo"}}},
		},
	}
	s := newTestSession(t, rec)

	// One second of loud audio confirms speech and accumulates a window.
	for range 32 {
		if err := s.PushAudio(chunkOf(0.1)); err != nil {
			t.Fatalf("PushAudio: %v", err)
		}
	}
	waitFor(t, s, "speech confirmation", func(sn Snapshot) bool { return sn.Speech })

	// Feed silence one chunk at a time: once the offset is confirmed, the
	// final decode publishes while the pipeline is idle, so the snapshot
	// keeps Final set until the next chunk arrives.
	pushed := int64(32)
	var snap Snapshot
	var final bool
	for range 32 {
		if err := s.PushAudio(chunkOf(0)); err != nil {
			t.Fatalf("PushAudio: %v", err)
		}
		pushed++
		snap, final = pollSnapshot(s, 200*time.Millisecond, func(sn Snapshot) bool {
			return sn.Position >= pushed*testHop && sn.Final
		})
		if final {
			break
		}
	}
	if !final {
		t.Fatalf("no final decode after sustained silence; last snapshot: %+v", s.Snapshot())
	}

	if len(snap.Confirmed)+len(snap.Pending) == 0 {
		t.Error("final snapshot has no tokens")
	}
	if snap.VADState != "silence" {
		t.Errorf("VADState = %q, want silence after the flush", snap.VADState)
	}

	_ = s.Close()
	if len(rec.RecognizeCalls) == 0 {
		t.Fatal("recognizer was never invoked")
	}
	for _, call := range rec.RecognizeCalls {
		if call.Window.SampleRate != testRate {
			t.Errorf("window sample rate = %d, want %d", call.Window.SampleRate, testRate)
		}
		if len(call.Window.Samples) == 0 {
			t.Error("empty recognition window submitted")
		}
	}
}

func TestSessionSkipsSilentAudio(t *testing.T) {
	t.Parallel()

	rec := &asrmock.Recognizer{}
	s := newTestSession(t, rec)

	for range 64 {
		if err := s.PushAudio(chunkOf(0)); err != nil {
			t.Fatalf("PushAudio: %v", err)
		}
	}
	waitFor(t, s, "ingestion", func(sn Snapshot) bool { return sn.Position >= 64*testHop })

	_ = s.Close()
	if n := len(rec.RecognizeCalls); n != 0 {
		t.Errorf("recognizer called %d times on pure silence, want 0", n)
	}
}

func TestSessionRecognizerErrorKeepsPipelineAlive(t *testing.T) {
	t.Parallel()

	rec := &asrmock.Recognizer{RecognizeErr: errors.New("engine exploded")}
	s := newTestSession(t, rec)

	for range 64 {
		if err := s.PushAudio(chunkOf(0.1)); err != nil {
			t.Fatalf("PushAudio: %v", err)
		}
	}
	for range 32 {
		if err := s.PushAudio(chunkOf(0)); err != nil {
			t.Fatalf("PushAudio: %v", err)
		}
	}

	// The pipeline keeps counting samples despite recognition failures.
	waitFor(t, s, "ingestion to continue", func(sn Snapshot) bool { return sn.Position >= 96*testHop })
	if snap := s.Snapshot(); len(snap.Confirmed) != 0 {
		t.Errorf("Confirmed = %v, want empty when every decode fails", snap.Confirmed)
	}
}

func TestSessionPushAfterClose(t *testing.T) {
	t.Parallel()

	s := newTestSession(t, &asrmock.Recognizer{})
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.PushAudio(chunkOf(0)); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("PushAudio after Close = %v, want ErrSessionClosed", err)
	}
	// Close is idempotent.
	if err := s.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestSessionUpdatesStream(t *testing.T) {
	t.Parallel()

	s := newTestSession(t, &asrmock.Recognizer{})
	if err := s.PushAudio(chunkOf(0)); err != nil {
		t.Fatalf("PushAudio: %v", err)
	}

	select {
	case snap, ok := <-s.Updates():
		if !ok {
			t.Fatal("updates channel closed prematurely")
		}
		if snap.SessionID != "test" {
			t.Errorf("SessionID = %q, want test", snap.SessionID)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no snapshot published")
	}
}

func TestSessionSettingsValidation(t *testing.T) {
	t.Parallel()

	bad := testSettings()
	bad.Overlap = bad.Window
	_, err := New(context.Background(), bad, testStore(t), testDetector(t), &asrmock.Recognizer{}, testMerger(t), nil)
	if err == nil {
		t.Fatal("expected error for overlap >= window, got nil")
	}
}
