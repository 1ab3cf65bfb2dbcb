// Package whisper implements asr.Recognizer on top of the whisper.cpp CGO
// bindings. The whisper.cpp static library (libwhisper.a) and headers
// (whisper.h) must be available at link time via LIBRARY_PATH and
// C_INCLUDE_PATH environment variables.
package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"time"

	"github.com/MrWong99/lorikeet/pkg/asr"
	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

const (
	defaultLanguage = "en"

	// defaultFrameStride is the encoder frame duration used to convert the
	// bindings' token timestamps into frame indices.
	defaultFrameStride = 80 * time.Millisecond
)

// Compile-time assertion that Recognizer satisfies asr.Recognizer.
var _ asr.Recognizer = (*Recognizer)(nil)

// Recognizer implements asr.Recognizer using whisper.cpp Go bindings (CGO).
// The model is loaded once and shared; each Recognize call creates its own
// whisper context, so concurrent calls do not interfere.
type Recognizer struct {
	model       whisperlib.Model
	language    string
	frameStride time.Duration
}

// Option is a functional option for configuring a Recognizer.
type Option func(*Recognizer)

// WithLanguage sets the BCP-47 language code for transcription
// (e.g., "en", "de", "fr"). Defaults to "en".
func WithLanguage(lang string) Option {
	return func(r *Recognizer) { r.language = lang }
}

// WithFrameStride sets the encoder frame duration used to map token
// timestamps to frame indices. Defaults to 80 ms.
func WithFrameStride(stride time.Duration) Option {
	return func(r *Recognizer) { r.frameStride = stride }
}

// New creates a Recognizer that loads the whisper.cpp model from the given
// file path. The caller must call Close when the recognizer is no longer
// needed.
func New(modelPath string, opts ...Option) (*Recognizer, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	r := &Recognizer{
		model:       model,
		language:    defaultLanguage,
		frameStride: defaultFrameStride,
	}
	for _, o := range opts {
		o(r)
	}
	if r.frameStride <= 0 {
		r.frameStride = defaultFrameStride
	}
	return r, nil
}

// Recognize runs whisper.cpp inference over the window and returns the
// decoded tokens with frame alignment relative to the window start.
func (r *Recognizer) Recognize(ctx context.Context, w asr.Window) (asr.Result, error) {
	if err := ctx.Err(); err != nil {
		return asr.Result{}, err
	}
	if len(w.Samples) == 0 {
		return asr.Result{}, nil
	}

	// Each context is NOT thread-safe, but the model can be shared across
	// goroutines.
	wctx, err := r.model.NewContext()
	if err != nil {
		return asr.Result{}, fmt.Errorf("whisper: create context: %w", err)
	}

	if err := wctx.SetLanguage(r.language); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", r.language, "error", err)
	}
	wctx.SetTokenTimestamps(true)

	if err := wctx.Process(w.Samples, nil, nil, nil); err != nil {
		return asr.Result{}, fmt.Errorf("whisper: process audio: %w", err)
	}

	var tokens []asr.Token
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return asr.Result{}, fmt.Errorf("whisper: read segment: %w", err)
		}
		for _, tok := range segment.Tokens {
			if tok.Text == "" {
				continue
			}
			tokens = append(tokens, asr.Token{
				TokenID:    tok.Id,
				FrameIndex: int(tok.Start / r.frameStride),
				LogProb:    logProb(tok.P),
				Text:       tok.Text,
			})
		}
	}

	return asr.Result{Tokens: tokens}, nil
}

// Close releases the whisper model. Safe to call more than once.
func (r *Recognizer) Close() error {
	if r.model != nil {
		err := r.model.Close()
		r.model = nil
		return err
	}
	return nil
}

// logProb converts the bindings' token probability into a log-probability,
// clamping zero to a large negative value instead of -Inf.
func logProb(p float32) float64 {
	if p <= 0 {
		return -1e9
	}
	return math.Log(float64(p))
}
