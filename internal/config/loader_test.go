package config_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/lorikeet/internal/config"
)

func TestLoadFromReader_DefaultsApply(t *testing.T) {
	t.Parallel()
	yaml := `
asr:
  engine: mock
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Audio.SampleRate != 16000 {
		t.Errorf("SampleRate = %d, want default 16000", cfg.Audio.SampleRate)
	}
	if cfg.Merger.Strategy != config.MergeFrame {
		t.Errorf("Strategy = %q, want default %q", cfg.Merger.Strategy, config.MergeFrame)
	}
	if cfg.VAD.OffsetConfirmations != 3 {
		t.Errorf("OffsetConfirmations = %d, want default 3", cfg.VAD.OffsetConfirmations)
	}
}

func TestValidate_WhisperRequiresModelPath(t *testing.T) {
	t.Parallel()
	yaml := `
asr:
  engine: whisper
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for whisper engine without model path, got nil")
	}
	if !strings.Contains(err.Error(), "model_path") {
		t.Errorf("error should mention model_path, got: %v", err)
	}
}

func TestValidate_InvalidSampleRate(t *testing.T) {
	t.Parallel()
	yaml := `
audio:
  sample_rate: 44100
asr:
  engine: mock
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for unsupported sample rate, got nil")
	}
	if !strings.Contains(err.Error(), "sample_rate") {
		t.Errorf("error should mention sample_rate, got: %v", err)
	}
}

func TestValidate_InvalidMergeStrategy(t *testing.T) {
	t.Parallel()
	yaml := `
merger:
  strategy: fuzzy
asr:
  engine: mock
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for unknown merge strategy, got nil")
	}
	if !strings.Contains(err.Error(), "strategy") {
		t.Errorf("error should mention strategy, got: %v", err)
	}
}

func TestValidate_NeuralEngineRequiresModelPath(t *testing.T) {
	t.Parallel()
	yaml := `
vad:
  neural:
    engine: silero
asr:
  engine: mock
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for neural engine without model path, got nil")
	}
	if !strings.Contains(err.Error(), "vad.neural.model_path") {
		t.Errorf("error should mention vad.neural.model_path, got: %v", err)
	}
}

func TestValidate_TimeToleranceMustBePositive(t *testing.T) {
	t.Parallel()
	yaml := `
merger:
  time_tolerance_ms: 0
asr:
  engine: mock
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for zero time tolerance, got nil")
	}
	if !strings.Contains(err.Error(), "time_tolerance_ms") {
		t.Errorf("error should mention time_tolerance_ms, got: %v", err)
	}
}

func TestValidate_OverlapMustFitWindow(t *testing.T) {
	t.Parallel()
	yaml := `
merger:
  overlap_ms: 9000
asr:
  engine: mock
  window_sec: 8
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for overlap exceeding the window, got nil")
	}
	if !strings.Contains(err.Error(), "overlap_ms") {
		t.Errorf("error should mention overlap_ms, got: %v", err)
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	yaml := `
audio:
  sample_rate: 44100
merger:
  strategy: fuzzy
asr:
  engine: whisper
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "sample_rate") || !strings.Contains(errStr, "strategy") {
		t.Errorf("error should list all failures, got: %v", err)
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	t.Parallel()
	yaml := `
asr:
  engine: mock
  temperature: 0.7
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestValidEngineNames(t *testing.T) {
	t.Parallel()
	asrNames := config.ValidEngineNames["asr"]
	if len(asrNames) == 0 {
		t.Fatal("ValidEngineNames[\"asr\"] should not be empty")
	}
	found := false
	for _, n := range asrNames {
		if n == "whisper" {
			found = true
			break
		}
	}
	if !found {
		t.Error("ValidEngineNames[\"asr\"] should contain \"whisper\"")
	}
}
