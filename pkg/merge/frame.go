package merge

import (
	"fmt"
	"time"
)

// FrameMergerConfig holds the parameters for a [FrameMerger] or [LCSMerger].
type FrameMergerConfig struct {
	// FrameStride is the audio time advanced per encoder frame. Parakeet-
	// style encoders use 80 ms.
	FrameStride time.Duration

	// TimeTolerance is the maximum absolute-time difference for two tokens
	// to count as the same event. Typical: one frame stride.
	TimeTolerance time.Duration

	// StabilityThreshold is the number of consecutive chunks a pending
	// token must survive unchanged to graduate to confirmed without an
	// anchor passing over it. Typical: 2–3.
	StabilityThreshold int
}

func (c FrameMergerConfig) validate() error {
	if c.FrameStride <= 0 {
		return fmt.Errorf("merge: frame stride must be positive, got %s", c.FrameStride)
	}
	if c.TimeTolerance <= 0 {
		return fmt.Errorf("merge: time tolerance must be positive, got %s", c.TimeTolerance)
	}
	if c.StabilityThreshold <= 0 {
		return fmt.Errorf("merge: stability threshold must be positive, got %d", c.StabilityThreshold)
	}
	return nil
}

// FrameMerger is the frame-anchored merge strategy: the anchor is a single
// token present in both the previous and the new output with identical id
// and matching absolute time within tolerance, searched inside the declared
// overlap window. Cheap — one backward scan — but defeated by a single
// misrecognized token exactly at the boundary; see [LCSMerger] for the
// robust alternative.
type FrameMerger struct {
	state mergeState
}

// Compile-time interface assertion.
var _ Merger = (*FrameMerger)(nil)

// NewFrameMerger creates an empty frame-anchored merger.
func NewFrameMerger(cfg FrameMergerConfig) (*FrameMerger, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &FrameMerger{state: mergeState{
		stride:             cfg.FrameStride,
		tolerance:          cfg.TimeTolerance,
		stabilityThreshold: cfg.StabilityThreshold,
	}}, nil
}

// ProcessChunk implements [Merger].
func (f *FrameMerger) ProcessChunk(tokens []Token, chunkStart, overlap time.Duration) MergeResult {
	f.state.setAbsTimes(tokens, chunkStart)

	prevIdx, newIdx, found := f.findAnchor(tokens, overlap)
	if !found {
		f.state.applyNoAnchor(tokens)
		return f.state.result(0)
	}
	f.state.applyAnchor(tokens, prevIdx, newIdx)
	return f.state.result(1)
}

// findAnchor scans the previous output's final overlap window in order for
// the first (id, time) pair that also appears in the new chunk. Returns the
// pending index of the anchor (-1 when the anchor is the last confirmed
// token) and the matching new-token index.
func (f *FrameMerger) findAnchor(tokens []Token, overlap time.Duration) (prevIdx, newIdx int, found bool) {
	prev := f.previousWindow()
	if len(prev) == 0 || len(tokens) == 0 {
		return 0, 0, false
	}

	windowStart := prev[len(prev)-1].AbsTime - overlap
	for i, pt := range prev {
		if pt.AbsTime < windowStart {
			continue
		}
		for j, nt := range tokens {
			if nt.ID != pt.ID {
				continue
			}
			if d := nt.AbsTime - pt.AbsTime; d <= f.state.tolerance && d >= -f.state.tolerance {
				return i - f.windowOffset(), j, true
			}
		}
	}
	return 0, 0, false
}

// previousWindow returns the searchable tail of the previous output: the
// last confirmed token (when present) followed by the pending suffix.
func (f *FrameMerger) previousWindow() []Token {
	out := make([]Token, 0, len(f.state.pending)+1)
	if last, ok := f.state.lastConfirmed(); ok {
		out = append(out, last)
	}
	for _, p := range f.state.pending {
		out = append(out, p.Token)
	}
	return out
}

// windowOffset is 1 when previousWindow is prefixed by the last confirmed
// token, so window index i maps to pending index i-1.
func (f *FrameMerger) windowOffset() int {
	if len(f.state.confirmed) > 0 {
		return 1
	}
	return 0
}

// Reset implements [Merger].
func (f *FrameMerger) Reset() {
	f.state.reset()
}
