package merge

import "time"

// LCSMerger is the longest-common-subsequence merge strategy. Instead of
// requiring one exact matching pair, it computes the LCS of token ids
// between the trailing overlap window of the previous output and the leading
// overlap window of the new output; the LCS endpoint in each sequence
// becomes the anchor. This survives a single misrecognized token at the
// exact boundary sample, at O(n·m) cost over the overlap windows — bounded,
// since overlaps are seconds long, never the whole transcript.
type LCSMerger struct {
	state mergeState
}

// Compile-time interface assertion.
var _ Merger = (*LCSMerger)(nil)

// NewLCSMerger creates an empty LCS-anchored merger. It shares
// [FrameMergerConfig] with the frame strategy; TimeTolerance only gates
// pending-token stability matching, not the anchor search.
func NewLCSMerger(cfg FrameMergerConfig) (*LCSMerger, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &LCSMerger{state: mergeState{
		stride:             cfg.FrameStride,
		tolerance:          cfg.TimeTolerance,
		stabilityThreshold: cfg.StabilityThreshold,
	}}, nil
}

// ProcessChunk implements [Merger].
func (l *LCSMerger) ProcessChunk(tokens []Token, chunkStart, overlap time.Duration) MergeResult {
	l.state.setAbsTimes(tokens, chunkStart)

	prevIdx, newIdx, found := l.findAnchor(tokens, chunkStart, overlap)
	if !found {
		l.state.applyNoAnchor(tokens)
		return l.state.result(0)
	}
	l.state.applyAnchor(tokens, prevIdx, newIdx)
	return l.state.result(1)
}

// findAnchor computes the LCS of token ids between the previous output's
// trailing overlap window and the new chunk's leading overlap window, and
// returns the final matched pair as the anchor.
func (l *LCSMerger) findAnchor(tokens []Token, chunkStart, overlap time.Duration) (prevIdx, newIdx int, found bool) {
	// Trailing window of the previous output (pending plus last confirmed).
	var prev []Token
	offset := 0
	if last, ok := l.state.lastConfirmed(); ok {
		prev = append(prev, last)
		offset = 1
	}
	for _, p := range l.state.pending {
		prev = append(prev, p.Token)
	}
	if len(prev) == 0 || len(tokens) == 0 {
		return 0, 0, false
	}

	windowStart := prev[len(prev)-1].AbsTime - overlap
	first := 0
	for first < len(prev) && prev[first].AbsTime < windowStart {
		first++
	}
	a := prev[first:]

	// Leading window of the new chunk.
	windowEnd := chunkStart + overlap
	last := 0
	for last < len(tokens) && tokens[last].AbsTime <= windowEnd {
		last++
	}
	b := tokens[:last]
	if len(a) == 0 || len(b) == 0 {
		return 0, 0, false
	}

	ai, bi, ok := lcsEndpoint(a, b)
	if !ok {
		return 0, 0, false
	}
	return first + ai - offset, bi, true
}

// Reset implements [Merger].
func (l *LCSMerger) Reset() {
	l.state.reset()
}

// lcsEndpoint runs the classic dynamic-programming LCS over token ids and
// backtracks to the last matched pair, returning its index in each input.
func lcsEndpoint(a, b []Token) (ai, bi int, ok bool) {
	n, m := len(a), len(b)
	dp := make([][]int, n+1)
	for i := range dp {
		dp[i] = make([]int, m+1)
	}
	for i := 1; i <= n; i++ {
		for j := 1; j <= m; j++ {
			if a[i-1].ID == b[j-1].ID {
				dp[i][j] = dp[i-1][j-1] + 1
			} else if dp[i-1][j] >= dp[i][j-1] {
				dp[i][j] = dp[i-1][j]
			} else {
				dp[i][j] = dp[i][j-1]
			}
		}
	}
	if dp[n][m] == 0 {
		return 0, 0, false
	}

	// Backtrack to the final matched pair.
	i, j := n, m
	for i > 0 && j > 0 {
		switch {
		case a[i-1].ID == b[j-1].ID && dp[i][j] == dp[i-1][j-1]+1:
			return i - 1, j - 1, true
		case dp[i-1][j] >= dp[i][j-1]:
			i--
		default:
			j--
		}
	}
	return 0, 0, false
}
