// Package timeline implements the time-aligned buffer store at the heart of
// the Lorikeet transcription core.
//
// A [Layer] is a fixed-capacity ring buffer of fixed-size entries addressed by
// an ever-increasing global sample offset, so that raw audio, spectral feature
// frames, and voice-activity probabilities — each produced at its own hop
// size — can all be queried on one shared timeline. A [Store] groups the four
// layers used by the live pipeline behind a message-passing actor; see store.go.
//
// Layers are not safe for concurrent use on their own. The [Store] confines
// all layer access to a single goroutine, which is the intended way to share
// them between producers and consumers.
package timeline

import (
	"fmt"
	"math"
	"time"
)

// LayerConfig describes the granularity and retention of a single layer.
type LayerConfig struct {
	// HopSamples is the number of audio samples spanned by one entry.
	// 1 for the raw audio layer, the model hop size for VAD probability
	// layers, and the feature hop for spectral frames.
	HopSamples int

	// EntryDimension is the number of float32 values per entry. 1 for scalar
	// layers (audio samples, VAD probabilities), N for feature frames.
	EntryDimension int

	// MaxDuration bounds the retained history. Older entries are silently
	// overwritten once the ring wraps.
	MaxDuration time.Duration
}

// validate checks the config against the shared sample rate.
func (c LayerConfig) validate(sampleRate int) error {
	if c.HopSamples <= 0 {
		return fmt.Errorf("timeline: hop samples must be positive, got %d", c.HopSamples)
	}
	if c.EntryDimension <= 0 {
		return fmt.Errorf("timeline: entry dimension must be positive, got %d", c.EntryDimension)
	}
	if c.MaxDuration <= 0 {
		return fmt.Errorf("timeline: max duration must be positive, got %s", c.MaxDuration)
	}
	if sampleRate <= 0 {
		return fmt.Errorf("timeline: sample rate must be positive, got %d", sampleRate)
	}
	return nil
}

// RangeData is the result of a [Layer.ReadRange] call. Data is a flat copy of
// the entries overlapping the requested sample range; StartSample and
// EndSample describe the sample span the returned entries actually cover
// after clamping to retained history.
type RangeData struct {
	Data        []float32
	StartSample int64
	EndSample   int64
}

// Entries returns the number of entries contained in the range.
func (r RangeData) Entries(entryDimension int) int {
	if entryDimension <= 0 {
		return 0
	}
	return len(r.Data) / entryDimension
}

// RangeScan is the result of a [Layer.HasValueInRange] call. When Found is
// false, Max is the largest value seen and Checked the number of entries
// examined.
type RangeScan struct {
	Found   bool
	Max     float32
	Checked int
}

// Layer is a ring buffer of fixed-size entries on the global sample timeline.
//
// Entries are addressed by a monotonically increasing global entry index that
// never resets except via [Layer.Reset]. The oldest retained entry is
// max(0, writeIndex-maxEntries); reads below it are silently clamped — data
// before that point is permanently lost, which is the intended best-effort
// sliding-window semantics.
type Layer struct {
	hop        int
	dim        int
	maxEntries int
	sampleRate int

	data       []float32
	writeIndex int64 // global entry index of the next write
}

// NewLayer allocates a layer with capacity
// ceil(sampleRate*maxDuration/hopSamples) entries, fixed for the lifetime of
// the layer.
func NewLayer(sampleRate int, cfg LayerConfig) (*Layer, error) {
	if err := cfg.validate(sampleRate); err != nil {
		return nil, err
	}
	maxEntries := int(math.Ceil(float64(sampleRate) * cfg.MaxDuration.Seconds() / float64(cfg.HopSamples)))
	if maxEntries <= 0 {
		return nil, fmt.Errorf("timeline: computed capacity of %d entries", maxEntries)
	}
	return &Layer{
		hop:        cfg.HopSamples,
		dim:        cfg.EntryDimension,
		maxEntries: maxEntries,
		sampleRate: sampleRate,
		data:       make([]float32, maxEntries*cfg.EntryDimension),
	}, nil
}

// HopSamples returns the samples spanned by one entry.
func (l *Layer) HopSamples() int { return l.hop }

// EntryDimension returns the values per entry.
func (l *Layer) EntryDimension() int { return l.dim }

// MaxEntries returns the fixed ring capacity in entries.
func (l *Layer) MaxEntries() int { return l.maxEntries }

// WriteIndex returns the global entry index of the next write.
func (l *Layer) WriteIndex() int64 { return l.writeIndex }

// BaseEntry returns the global index of the oldest retained entry.
func (l *Layer) BaseEntry() int64 {
	base := l.writeIndex - int64(l.maxEntries)
	if base < 0 {
		base = 0
	}
	return base
}

// OldestSample returns the sample offset of the oldest retained entry.
func (l *Layer) OldestSample() int64 { return l.BaseEntry() * int64(l.hop) }

// CurrentSample returns the sample offset just past the newest entry.
func (l *Layer) CurrentSample() int64 { return l.writeIndex * int64(l.hop) }

// Write appends one entry at the current global index. The entry length must
// equal the layer's entry dimension.
func (l *Layer) Write(entry []float32) error {
	if len(entry) != l.dim {
		return fmt.Errorf("timeline: entry has %d values, layer dimension is %d", len(entry), l.dim)
	}
	slot := int(l.writeIndex % int64(l.maxEntries))
	copy(l.data[slot*l.dim:(slot+1)*l.dim], entry)
	l.writeIndex++
	return nil
}

// WriteScalar appends a single value to a scalar layer.
func (l *Layer) WriteScalar(v float32) error {
	if l.dim != 1 {
		return fmt.Errorf("timeline: WriteScalar on layer with dimension %d", l.dim)
	}
	slot := int(l.writeIndex % int64(l.maxEntries))
	l.data[slot] = v
	l.writeIndex++
	return nil
}

// WriteBatch appends len(flat)/dim entries at the current global index. The
// flat slice length must be a multiple of the entry dimension.
func (l *Layer) WriteBatch(flat []float32) error {
	if len(flat)%l.dim != 0 {
		return fmt.Errorf("timeline: batch of %d values is not a multiple of dimension %d", len(flat), l.dim)
	}
	for off := 0; off < len(flat); off += l.dim {
		slot := int(l.writeIndex % int64(l.maxEntries))
		copy(l.data[slot*l.dim:(slot+1)*l.dim], flat[off:off+l.dim])
		l.writeIndex++
	}
	return nil
}

// WriteBatchAt repositions the write head to the entry containing the given
// global sample offset and then appends the batch. Used when a session
// restarts mid-timeline or a gap must be explicitly jumped. The offset must
// be hop-aligned.
func (l *Layer) WriteBatchAt(flat []float32, sampleOffset int64) error {
	if sampleOffset < 0 {
		return fmt.Errorf("timeline: negative sample offset %d", sampleOffset)
	}
	if sampleOffset%int64(l.hop) != 0 {
		return fmt.Errorf("timeline: sample offset %d is not aligned to hop %d", sampleOffset, l.hop)
	}
	l.writeIndex = sampleOffset / int64(l.hop)
	return l.WriteBatch(flat)
}

// ReadRange returns a copy of the entries overlapping [startSample, endSample),
// clamped to retained history. A range that clamps to nothing (including
// endSample <= startSample) returns a RangeData with nil Data.
func (l *Layer) ReadRange(startSample, endSample int64) RangeData {
	if endSample <= startSample {
		return RangeData{}
	}

	startEntry := startSample / int64(l.hop)
	endEntry := (endSample + int64(l.hop) - 1) / int64(l.hop) // entries overlapping the range

	if base := l.BaseEntry(); startEntry < base {
		startEntry = base
	}
	if endEntry > l.writeIndex {
		endEntry = l.writeIndex
	}
	if endEntry <= startEntry {
		return RangeData{}
	}

	n := int(endEntry - startEntry)
	out := make([]float32, n*l.dim)
	for i := 0; i < n; i++ {
		slot := int((startEntry + int64(i)) % int64(l.maxEntries))
		copy(out[i*l.dim:(i+1)*l.dim], l.data[slot*l.dim:(slot+1)*l.dim])
	}
	return RangeData{
		Data:        out,
		StartSample: startEntry * int64(l.hop),
		EndSample:   endEntry * int64(l.hop),
	}
}

// HasValueInRange scans entries overlapping [startSample, endSample) and
// returns early on the first value >= threshold. Only valid for scalar
// layers. An empty or fully clamped range yields {Found: false, Checked: 0}.
func (l *Layer) HasValueInRange(startSample, endSample int64, threshold float32) (RangeScan, error) {
	if l.dim != 1 {
		return RangeScan{}, fmt.Errorf("timeline: HasValueInRange on layer with dimension %d", l.dim)
	}
	if endSample <= startSample {
		return RangeScan{}, nil
	}

	startEntry := startSample / int64(l.hop)
	endEntry := (endSample + int64(l.hop) - 1) / int64(l.hop)
	if base := l.BaseEntry(); startEntry < base {
		startEntry = base
	}
	if endEntry > l.writeIndex {
		endEntry = l.writeIndex
	}

	scan := RangeScan{Max: float32(math.Inf(-1))}
	for e := startEntry; e < endEntry; e++ {
		v := l.data[int(e%int64(l.maxEntries))]
		scan.Checked++
		if v >= threshold {
			scan.Found = true
			scan.Max = v
			return scan, nil
		}
		if v > scan.Max {
			scan.Max = v
		}
	}
	if scan.Checked == 0 {
		scan.Max = 0
	}
	return scan, nil
}

// SilenceTailDuration scans backward from the write head counting consecutive
// entries below threshold and returns their total duration. Only valid for
// scalar layers. The scan stops at the oldest retained entry.
func (l *Layer) SilenceTailDuration(threshold float32) (time.Duration, error) {
	if l.dim != 1 {
		return 0, fmt.Errorf("timeline: SilenceTailDuration on layer with dimension %d", l.dim)
	}
	base := l.BaseEntry()
	var entries int64
	for e := l.writeIndex - 1; e >= base; e-- {
		if l.data[int(e%int64(l.maxEntries))] >= threshold {
			break
		}
		entries++
	}
	samples := entries * int64(l.hop)
	return time.Duration(float64(samples) / float64(l.sampleRate) * float64(time.Second)), nil
}

// Reset zeroes the buffer and returns the write index to 0. Calling Reset on
// an already-reset layer is a no-op.
func (l *Layer) Reset() {
	for i := range l.data {
		l.data[i] = 0
	}
	l.writeIndex = 0
}
