// Package merge reconciles the outputs of repeated, overlapping inference
// calls on a sliding audio window into one coherent, monotonically growing
// transcript.
//
// Each inference call re-decodes the trailing seconds of audio, so
// consecutive outputs overlap and partially disagree. A [Merger] finds a safe
// merge point — the anchor — using frame-index alignment rather than text
// matching, keeps everything up to the anchor as the stable lineage, and
// treats everything after it as a volatile pending suffix that later calls
// may still revise.
//
// Two interchangeable strategies implement the interface: [FrameMerger]
// anchors on a single exact (tokenID, time) pair, [LCSMerger] anchors on the
// endpoint of the longest common subsequence of token ids over the overlap
// window. Select one at construction time.
package merge

import (
	"time"

	"github.com/antzucaro/matchr"
)

// Token is one decoded unit from the inference collaborator, aligned to the
// audio timeline by frame index.
type Token struct {
	// ID is the vocabulary id of the token.
	ID int

	// FrameIndex is the encoder frame the token was emitted at, relative to
	// the chunk it came from.
	FrameIndex int

	// AbsTime is the absolute time of the token on the session timeline,
	// derived from the chunk start and the frame stride.
	AbsTime time.Duration

	// LogProb is the decoder's log-probability for the token.
	LogProb float64

	// Text is the token's surface text.
	Text string
}

// MergeResult is the output of one [Merger.ProcessChunk] call.
type MergeResult struct {
	// Confirmed is the stable prefix. Tokens here are immutable: they are
	// never re-ordered, revised, or duplicated by later chunks.
	Confirmed []Token

	// Pending is the volatile suffix, replaceable by the next chunk.
	Pending []Token

	// AnchorsFound is the number of anchor matches used for this merge.
	// Zero means the chunk was appended without alignment and the caller
	// should treat it as lower-confidence.
	AnchorsFound int
}

// Merger reconciles per-chunk token output into a growing transcript.
// Implementations are not safe for concurrent use; create one per session.
type Merger interface {
	// ProcessChunk merges the ordered token list of one inference call.
	// chunkStart is the wall-clock start of the chunk on the session
	// timeline; overlap is the nominal overlap duration with the previous
	// chunk. Token AbsTime values are filled in from FrameIndex by the
	// implementation.
	ProcessChunk(tokens []Token, chunkStart, overlap time.Duration) MergeResult

	// Reset discards all merge state for a new utterance or session.
	Reset()
}

// pendingToken tracks how many consecutive chunks a pending token has
// survived unchanged.
type pendingToken struct {
	Token
	stability int
}

// mergeState is the shared bookkeeping used by both strategies: the
// confirmed prefix, the pending suffix with stability counters, and the
// graduation rules.
type mergeState struct {
	stride             time.Duration
	tolerance          time.Duration
	stabilityThreshold int

	confirmed []Token
	pending   []pendingToken
}

// setAbsTimes derives each token's absolute time from its frame index.
func (m *mergeState) setAbsTimes(tokens []Token, chunkStart time.Duration) {
	for i := range tokens {
		tokens[i].AbsTime = chunkStart + time.Duration(tokens[i].FrameIndex)*m.stride
	}
}

// sameToken reports whether a re-decoded token counts as "unchanged":
// identical id, time within tolerance, and text equal up to one character of
// sub-word decoder jitter.
func (m *mergeState) sameToken(a, b Token) bool {
	if a.ID != b.ID {
		return false
	}
	if d := a.AbsTime - b.AbsTime; d > m.tolerance || d < -m.tolerance {
		return false
	}
	if a.Text == b.Text {
		return true
	}
	return matchr.Levenshtein(a.Text, b.Text) <= 1
}

// applyAnchor commits a merge around an anchor found at pending position
// prevIdx (with -1 meaning the anchor was the last confirmed token) and new
// token position newIdx. Pending tokens through the anchor graduate to
// confirmed with their previous-chunk lineage; new tokens after the anchor
// replace the pending suffix, inheriting stability from positional matches.
func (m *mergeState) applyAnchor(newTokens []Token, prevIdx, newIdx int) {
	for i := 0; i <= prevIdx; i++ {
		m.confirmed = append(m.confirmed, m.pending[i].Token)
	}
	oldSuffix := m.pending[prevIdx+1:]

	fresh := make([]pendingToken, 0, len(newTokens)-newIdx-1)
	for k, tok := range newTokens[newIdx+1:] {
		stability := 1
		if k < len(oldSuffix) && m.sameToken(oldSuffix[k].Token, tok) {
			stability = oldSuffix[k].stability + 1
		}
		fresh = append(fresh, pendingToken{Token: tok, stability: stability})
	}
	m.pending = fresh
	m.graduate()
}

// applyNoAnchor is the fallback when no anchor is found: every new token
// becomes pending with fresh stability, discarding accumulated confirmation
// history. Kept as the source behavior; callers see AnchorsFound=0 and can
// hold back confirmation-sensitive consumers.
func (m *mergeState) applyNoAnchor(newTokens []Token) {
	m.pending = m.pending[:0]
	for _, tok := range newTokens {
		m.pending = append(m.pending, pendingToken{Token: tok, stability: 1})
	}
}

// graduate promotes the longest stable prefix of pending into confirmed.
// Only a prefix may graduate: confirmation is in-order by construction.
func (m *mergeState) graduate() {
	n := 0
	for n < len(m.pending) && m.pending[n].stability >= m.stabilityThreshold {
		m.confirmed = append(m.confirmed, m.pending[n].Token)
		n++
	}
	if n > 0 {
		m.pending = append(m.pending[:0], m.pending[n:]...)
	}
}

// result snapshots the current confirmed and pending sequences.
func (m *mergeState) result(anchors int) MergeResult {
	confirmed := make([]Token, len(m.confirmed))
	copy(confirmed, m.confirmed)
	pending := make([]Token, len(m.pending))
	for i, p := range m.pending {
		pending[i] = p.Token
	}
	return MergeResult{Confirmed: confirmed, Pending: pending, AnchorsFound: anchors}
}

// reset drops all state.
func (m *mergeState) reset() {
	m.confirmed = m.confirmed[:0]
	m.pending = m.pending[:0]
}

// lastConfirmed returns the final confirmed token, if any.
func (m *mergeState) lastConfirmed() (Token, bool) {
	if len(m.confirmed) == 0 {
		return Token{}, false
	}
	return m.confirmed[len(m.confirmed)-1], true
}
