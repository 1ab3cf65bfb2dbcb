// Package vad implements Lorikeet's voice activity detection: a cheap
// RMS-energy detector with duration hysteresis ([EnergyDetector]), a wrapper
// around a per-hop neural speech classifier ([NeuralVAD]), and the
// [HybridDetector] that fuses both behind a four-state confirmation machine.
//
// The energy detector and the hybrid orchestration run synchronously on the
// audio-producing goroutine with no allocation in the hot loop. The neural
// forward pass is the only suspension point in the VAD path; it lives behind
// the [Classifier] interface so that the hybrid detector degrades to an
// energy-only mode when no classifier is available.
package vad

import "errors"

// ErrNotReady is returned when an inference-dependent method is called
// before initialization has completed.
var ErrNotReady = errors.New("vad: classifier not initialized")

// ErrClosed is returned when a detector is used after Close.
var ErrClosed = errors.New("vad: detector closed")

// State enumerates the hybrid detector's confirmation states.
type State int

const (
	// StateSilence: no speech, classifier gated behind elevated energy.
	StateSilence State = iota

	// StateCandidate: energy and classifier both fired once; onset
	// confirmations accumulating.
	StateCandidate

	// StateConfirmed: speech confirmed; offset counter idle.
	StateConfirmed

	// StateEnding: negative confirmations accumulating; a single positive
	// reverts to StateConfirmed without re-confirming onset.
	StateEnding
)

// String returns the lowercase state name used in logs and snapshots.
func (s State) String() string {
	switch s {
	case StateSilence:
		return "silence"
	case StateCandidate:
		return "speech_candidate"
	case StateConfirmed:
		return "speech_confirmed"
	case StateEnding:
		return "speech_ending"
	default:
		return "unknown"
	}
}

// IsSpeech reports whether the state counts as active speech.
func (s State) IsSpeech() bool {
	return s == StateConfirmed || s == StateEnding
}

// EnergyResult is the outcome of one [EnergyDetector.Process] call.
type EnergyResult struct {
	// IsSpeech is the hysteresis state after this chunk.
	IsSpeech bool

	// Energy is the RMS energy of the chunk.
	Energy float64

	// SpeechStart is true on the exact chunk that crossed minSpeechDuration.
	SpeechStart bool

	// SpeechEnd is true on the exact chunk that crossed minSilenceDuration.
	SpeechEnd bool
}

// NeuralResult is the outcome of one [NeuralVAD.Process] call.
type NeuralResult struct {
	// Probability is the classifier's speech probability for the hop.
	Probability float32

	// IsSpeech is Probability compared against the configured threshold.
	IsSpeech bool
}

// HybridResult is the snapshot emitted by [HybridDetector.Process], suitable
// for feeding VAD layers and UI state.
type HybridResult struct {
	// IsSpeech is true in StateConfirmed and StateEnding.
	IsSpeech bool

	// Energy is the RMS energy of the processed chunk.
	Energy float64

	// Probability is the most recent classifier probability, or the energy
	// boolean mapped to 0/1 in energy-only mode.
	Probability float32

	// State is the confirmation state after this chunk.
	State State

	// SpeechStart fires on the transition into StateConfirmed.
	SpeechStart bool

	// SpeechEnd fires on the transition back to StateSilence.
	SpeechEnd bool
}
