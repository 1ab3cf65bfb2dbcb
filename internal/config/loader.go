package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidEngineNames lists known engine names per pipeline stage.
// Used by [Validate] to warn about unrecognised engine names.
var ValidEngineNames = map[string][]string{
	"asr": {"whisper", "mock"},
	"vad": {"silero"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of [Default] values and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Audio
	if cfg.Audio.SampleRate != 8000 && cfg.Audio.SampleRate != 16000 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d is invalid; valid values: 8000, 16000", cfg.Audio.SampleRate))
	}

	// Store
	if cfg.Store.MaxDurationSec <= 0 {
		errs = append(errs, fmt.Errorf("store.max_duration_sec must be positive, got %d", cfg.Store.MaxDurationSec))
	}
	if cfg.Store.FeatureDim < 0 {
		errs = append(errs, fmt.Errorf("store.feature_dim must not be negative, got %d", cfg.Store.FeatureDim))
	}
	if cfg.Store.FeatureHop <= 0 {
		errs = append(errs, fmt.Errorf("store.feature_hop must be positive, got %d", cfg.Store.FeatureHop))
	}
	if cfg.Store.VADHop <= 0 {
		errs = append(errs, fmt.Errorf("store.vad_hop must be positive, got %d", cfg.Store.VADHop))
	}

	// VAD
	if t := cfg.VAD.Energy.Threshold; t <= 0 || t >= 1 {
		errs = append(errs, fmt.Errorf("vad.energy.threshold %g is out of range (0, 1)", t))
	}
	if cfg.VAD.Energy.MinSpeechMs <= 0 {
		errs = append(errs, fmt.Errorf("vad.energy.min_speech_ms must be positive, got %d", cfg.VAD.Energy.MinSpeechMs))
	}
	if cfg.VAD.Energy.MinSilenceMs <= 0 {
		errs = append(errs, fmt.Errorf("vad.energy.min_silence_ms must be positive, got %d", cfg.VAD.Energy.MinSilenceMs))
	}
	if cfg.VAD.OnsetConfirmations <= 0 {
		errs = append(errs, fmt.Errorf("vad.onset_confirmations must be positive, got %d", cfg.VAD.OnsetConfirmations))
	}
	if cfg.VAD.OffsetConfirmations <= 0 {
		errs = append(errs, fmt.Errorf("vad.offset_confirmations must be positive, got %d", cfg.VAD.OffsetConfirmations))
	}
	if cfg.VAD.Neural.Engine != "" {
		validateEngineName("vad", cfg.VAD.Neural.Engine)
		if cfg.VAD.Neural.ModelPath == "" {
			errs = append(errs, fmt.Errorf("vad.neural.model_path is required when vad.neural.engine is set"))
		}
		if cfg.VAD.Neural.HopSize <= 0 {
			errs = append(errs, fmt.Errorf("vad.neural.hop_size must be positive, got %d", cfg.VAD.Neural.HopSize))
		}
		if t := cfg.VAD.Neural.Threshold; t <= 0 || t >= 1 {
			errs = append(errs, fmt.Errorf("vad.neural.threshold %g is out of range (0, 1)", t))
		}
		if cfg.VAD.Neural.HopSize != cfg.Store.VADHop {
			slog.Warn("vad.neural.hop_size differs from store.vad_hop; probability entries will not align with the VAD layers",
				"hop_size", cfg.VAD.Neural.HopSize,
				"vad_hop", cfg.Store.VADHop,
			)
		}
	} else {
		slog.Warn("vad.neural.engine is empty; running on energy hysteresis alone without neural confirmation")
	}

	// Merger
	if cfg.Merger.Strategy != "" && !cfg.Merger.Strategy.IsValid() {
		errs = append(errs, fmt.Errorf("merger.strategy %q is invalid; valid values: frame, lcs", cfg.Merger.Strategy))
	}
	if cfg.Merger.FrameStrideMs <= 0 {
		errs = append(errs, fmt.Errorf("merger.frame_stride_ms must be positive, got %d", cfg.Merger.FrameStrideMs))
	}
	if cfg.Merger.TimeToleranceMs <= 0 {
		errs = append(errs, fmt.Errorf("merger.time_tolerance_ms must be positive, got %d", cfg.Merger.TimeToleranceMs))
	}
	if cfg.Merger.OverlapMs < 0 {
		errs = append(errs, fmt.Errorf("merger.overlap_ms must not be negative, got %d", cfg.Merger.OverlapMs))
	}
	if cfg.Merger.StabilityThreshold <= 0 {
		errs = append(errs, fmt.Errorf("merger.stability_threshold must be positive, got %d", cfg.Merger.StabilityThreshold))
	}

	// ASR
	if cfg.ASR.Engine == "" {
		errs = append(errs, fmt.Errorf("asr.engine is required"))
	} else {
		validateEngineName("asr", cfg.ASR.Engine)
	}
	if cfg.ASR.Engine == "whisper" && cfg.ASR.ModelPath == "" {
		errs = append(errs, fmt.Errorf("asr.model_path is required when asr.engine is whisper"))
	}
	if cfg.ASR.WindowSec <= 0 {
		errs = append(errs, fmt.Errorf("asr.window_sec must be positive, got %d", cfg.ASR.WindowSec))
	}
	if cfg.ASR.MinWindowMs <= 0 {
		errs = append(errs, fmt.Errorf("asr.min_window_ms must be positive, got %d", cfg.ASR.MinWindowMs))
	}
	if cfg.ASR.SilenceFlushMs <= 0 {
		errs = append(errs, fmt.Errorf("asr.silence_flush_ms must be positive, got %d", cfg.ASR.SilenceFlushMs))
	}
	if ws, ov := cfg.ASR.WindowSec*1000, cfg.Merger.OverlapMs; ov >= ws {
		errs = append(errs, fmt.Errorf("merger.overlap_ms %d must be smaller than the %d ms recognition window", ov, ws))
	}

	return errors.Join(errs...)
}

// validateEngineName logs a warning if name is non-empty and not found in the
// [ValidEngineNames] list for the given stage.
func validateEngineName(stage, name string) {
	known, ok := ValidEngineNames[stage]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown engine name — may be a typo or third-party engine",
		"stage", stage,
		"name", name,
		"known", known,
	)
}
