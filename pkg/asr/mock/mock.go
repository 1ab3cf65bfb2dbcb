// Package mock provides test doubles for the asr package interfaces.
//
// Use Recognizer to script token output per Recognize call and inspect the
// windows the orchestrator submitted.
//
// Example:
//
//	rec := &mock.Recognizer{
//	    Results: []asr.Result{{Tokens: []asr.Token{{TokenID: 7, Text: "hi"}}}},
//	}
//	res, _ := rec.Recognize(ctx, window)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/lorikeet/pkg/asr"
)

// RecognizeCall records a single invocation of Recognizer.Recognize.
type RecognizeCall struct {
	// Ctx is the context passed to Recognize.
	Ctx context.Context
	// Window is the audio window passed to Recognize.
	Window asr.Window
}

// Recognizer is a mock implementation of asr.Recognizer.
type Recognizer struct {
	mu sync.Mutex

	// Results are returned in order, one per Recognize call. Once
	// exhausted, Recognize returns an empty Result.
	Results []asr.Result

	// RecognizeErr, if non-nil, is returned as the error from Recognize.
	RecognizeErr error

	// RecognizeCalls records every call to Recognize.
	RecognizeCalls []RecognizeCall

	// Closed reports whether Close was called.
	Closed bool

	next int
}

// Compile-time interface assertion.
var _ asr.Recognizer = (*Recognizer)(nil)

// Recognize records the call and returns the next scripted Result.
func (r *Recognizer) Recognize(ctx context.Context, w asr.Window) (asr.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.RecognizeCalls = append(r.RecognizeCalls, RecognizeCall{Ctx: ctx, Window: w})
	if r.RecognizeErr != nil {
		return asr.Result{}, r.RecognizeErr
	}
	if r.next < len(r.Results) {
		res := r.Results[r.next]
		r.next++
		return res, nil
	}
	return asr.Result{}, nil
}

// Close marks the recognizer closed.
func (r *Recognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Closed = true
	return nil
}
