// Package asr defines the Recognizer interface for the speech-recognition
// inference collaborator.
//
// The Lorikeet core does not decode speech itself: a windowing orchestrator
// pulls ranges of audio out of the timeline store and hands them to a
// Recognizer, which returns token-level output aligned to encoder frames.
// The merge package then reconciles consecutive overlapping results. The
// interface is deliberately small so local engines (whisper.cpp via CGO) and
// remote services can sit behind it interchangeably.
//
// Implementations must be safe for concurrent use unless documented
// otherwise; the orchestrator serializes calls per session.
package asr

import "context"

// Token is one decoded unit with its frame alignment and score.
type Token struct {
	// TokenID is the vocabulary id of the token.
	TokenID int

	// FrameIndex is the encoder frame the token was emitted at, relative
	// to the start of the recognized window.
	FrameIndex int

	// LogProb is the decoder's log-probability for this token.
	LogProb float64

	// Text is the token's surface text.
	Text string
}

// Window is one request to the recognizer: a range of mono float32 PCM cut
// from the session timeline.
type Window struct {
	// Samples is normalized mono PCM.
	Samples []float32

	// StartSample is the window's absolute position on the session
	// timeline.
	StartSample int64

	// SampleRate is the rate of Samples in Hz.
	SampleRate int
}

// Result is the ordered token output for one window.
type Result struct {
	// Tokens in emission order.
	Tokens []Token

	// IsFinal reports whether the engine considers this output settled
	// (e.g. the window ended on silence) rather than a mid-utterance
	// hypothesis.
	IsFinal bool
}

// Recognizer turns a window of audio into frame-aligned tokens.
type Recognizer interface {
	// Recognize decodes one window. Returns an error only for engine
	// failures; an empty window yields an empty Result.
	Recognize(ctx context.Context, w Window) (Result, error)

	// Close releases engine resources. Safe to call more than once.
	Close() error
}
