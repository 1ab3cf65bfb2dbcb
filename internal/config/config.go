// Package config provides the configuration schema, loader, and engine
// registry for the Lorikeet transcription server.
package config

// LogLevel controls log verbosity for the Lorikeet server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// MergeStrategy selects how overlapping recognizer outputs are reconciled.
type MergeStrategy string

const (
	// MergeFrame anchors on a single (token id, frame time) match.
	MergeFrame MergeStrategy = "frame"

	// MergeLCS anchors on the longest common subsequence of token ids,
	// which survives a misrecognized token at the chunk boundary.
	MergeLCS MergeStrategy = "lcs"
)

// IsValid reports whether s is a recognised merge strategy.
func (s MergeStrategy) IsValid() bool {
	return s == MergeFrame || s == MergeLCS
}

// Config is the root configuration structure for Lorikeet.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server ServerConfig `yaml:"server"`
	Audio  AudioConfig  `yaml:"audio"`
	Store  StoreConfig  `yaml:"store"`
	VAD    VADConfig    `yaml:"vad"`
	Merger MergerConfig `yaml:"merger"`
	ASR    ASRConfig    `yaml:"asr"`
}

// ServerConfig holds network and logging settings for the Lorikeet server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// AudioConfig describes the PCM stream clients deliver.
type AudioConfig struct {
	// SampleRate of the incoming mono audio in Hz. Must be 8000 or 16000.
	SampleRate int `yaml:"sample_rate"`
}

// StoreConfig sizes the per-session timeline store and its layers.
type StoreConfig struct {
	// MaxDurationSec is the rolling retention window of every layer in
	// seconds. Older entries are overwritten in place.
	MaxDurationSec int `yaml:"max_duration_sec"`

	// FeatureDim is the vector dimension of the acoustic-feature layer.
	// Zero allocates a minimal one-dimension layer that stays empty until
	// a feature producer writes to it.
	FeatureDim int `yaml:"feature_dim"`

	// FeatureHop is the feature layer's hop in samples.
	FeatureHop int `yaml:"feature_hop"`

	// VADHop is the hop in samples of both VAD probability layers. It
	// should match vad.neural.hop_size.
	VADHop int `yaml:"vad_hop"`

	// MailboxSize bounds the store actor's request queue.
	MailboxSize int `yaml:"mailbox_size"`
}

// VADConfig holds the hybrid voice-activity-detection parameters.
type VADConfig struct {
	Energy EnergyConfig `yaml:"energy"`
	Neural NeuralConfig `yaml:"neural"`

	// OnsetConfirmations is the number of consecutive positive classifier
	// results required to confirm a speech onset.
	OnsetConfirmations int `yaml:"onset_confirmations"`

	// OffsetConfirmations is the number of consecutive negative classifier
	// results required to confirm a speech offset.
	OffsetConfirmations int `yaml:"offset_confirmations"`
}

// EnergyConfig parameterizes the first-stage RMS energy detector.
type EnergyConfig struct {
	// Threshold is the RMS level above which a chunk counts as speech
	// energy, on normalized [-1, 1] samples.
	Threshold float64 `yaml:"threshold"`

	// MinSpeechMs is the sustained-energy duration before the detector
	// reports speech.
	MinSpeechMs int `yaml:"min_speech_ms"`

	// MinSilenceMs is the sustained-quiet duration before the detector
	// reports silence again.
	MinSilenceMs int `yaml:"min_silence_ms"`
}

// NeuralConfig parameterizes the second-stage neural classifier.
type NeuralConfig struct {
	// Engine selects the registered classifier implementation
	// (e.g., "silero"). Empty disables the neural stage; the hybrid
	// detector then runs on energy hysteresis alone.
	Engine string `yaml:"engine"`

	// ModelPath is the path to the classifier's model file.
	ModelPath string `yaml:"model_path"`

	// HopSize is the number of samples scored per inference. Silero at
	// 16 kHz uses 512.
	HopSize int `yaml:"hop_size"`

	// ContextSize is the trailing-sample lookback prepended to each hop.
	ContextSize int `yaml:"context_size"`

	// Threshold is the speech probability threshold (0.0–1.0).
	Threshold float64 `yaml:"threshold"`
}

// MergerConfig holds the token-stream reconciliation parameters.
type MergerConfig struct {
	// Strategy selects the anchor search: "frame" or "lcs".
	Strategy MergeStrategy `yaml:"strategy"`

	// FrameStrideMs is the encoder frame duration in milliseconds.
	FrameStrideMs int `yaml:"frame_stride_ms"`

	// TimeToleranceMs is the absolute-time slack for token identity
	// matching, in milliseconds.
	TimeToleranceMs int `yaml:"time_tolerance_ms"`

	// OverlapMs is the audio overlap between consecutive recognition
	// windows, in milliseconds.
	OverlapMs int `yaml:"overlap_ms"`

	// StabilityThreshold is the number of consecutive identical sightings
	// after which a pending token graduates to confirmed.
	StabilityThreshold int `yaml:"stability_threshold"`
}

// ASRConfig selects and parameterizes the speech-recognition engine.
type ASRConfig struct {
	// Engine selects the registered recognizer implementation
	// (e.g., "whisper", "mock").
	Engine string `yaml:"engine"`

	// ModelPath is the path to the engine's model file.
	ModelPath string `yaml:"model_path"`

	// Language is the BCP-47 language code for transcription.
	Language string `yaml:"language"`

	// WindowSec is the maximum recognition window length in seconds.
	WindowSec int `yaml:"window_sec"`

	// MinWindowMs is the minimum accumulated speech before a window is
	// submitted mid-utterance.
	MinWindowMs int `yaml:"min_window_ms"`

	// SilenceFlushMs is the trailing-silence duration that finalizes the
	// current utterance and flushes a window immediately.
	SilenceFlushMs int `yaml:"silence_flush_ms"`
}

// Default returns a Config populated with the values used when a field is
// absent from the YAML file.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: ":8080",
			LogLevel:   LogInfo,
		},
		Audio: AudioConfig{SampleRate: 16000},
		Store: StoreConfig{
			MaxDurationSec: 120,
			FeatureHop:     160,
			VADHop:         512,
			MailboxSize:    1024,
		},
		VAD: VADConfig{
			Energy: EnergyConfig{
				Threshold:    0.01,
				MinSpeechMs:  100,
				MinSilenceMs: 300,
			},
			Neural: NeuralConfig{
				HopSize:     512,
				ContextSize: 64,
				Threshold:   0.5,
			},
			OnsetConfirmations:  2,
			OffsetConfirmations: 3,
		},
		Merger: MergerConfig{
			Strategy:           MergeFrame,
			FrameStrideMs:      80,
			TimeToleranceMs:    80,
			OverlapMs:          600,
			StabilityThreshold: 3,
		},
		ASR: ASRConfig{
			Engine:         "whisper",
			Language:       "en",
			WindowSec:      8,
			MinWindowMs:    1000,
			SilenceFlushMs: 500,
		},
	}
}
