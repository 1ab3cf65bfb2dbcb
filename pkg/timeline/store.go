package timeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// LayerID names one of the four layers owned by a [Store].
type LayerID string

const (
	// LayerAudio holds raw mono PCM samples (hop 1, dimension 1).
	LayerAudio LayerID = "audio"

	// LayerFeature holds spectral feature frames produced by the
	// feature-extraction collaborator.
	LayerFeature LayerID = "feature"

	// LayerEnergyVAD holds per-chunk RMS-based speech probabilities.
	LayerEnergyVAD LayerID = "energy_vad"

	// LayerNeuralVAD holds per-hop neural classifier speech probabilities.
	LayerNeuralVAD LayerID = "neural_vad"
)

// ErrStoreClosed is returned for requests issued after Close, and is the
// rejection error delivered to requests still queued when the store shuts
// down.
var ErrStoreClosed = errors.New("timeline: store is closed")

// ErrStoreFaulted is returned once the store's goroutine has died from an
// unrecovered fault. The store stays unusable until recreated; there is no
// automatic restart.
var ErrStoreFaulted = errors.New("timeline: store faulted")

// StoreConfig configures a [Store]. All four layers share SampleRate; each
// has its own hop and dimension.
type StoreConfig struct {
	SampleRate int
	Audio      LayerConfig
	Feature    LayerConfig
	EnergyVAD  LayerConfig
	NeuralVAD  LayerConfig

	// MailboxSize is the capacity of the request queue. Writes never block
	// the producer as long as the mailbox has room; the default of 1024 is
	// generous for real-time audio rates.
	MailboxSize int
}

// LayerState describes one layer's occupancy for diagnostics.
type LayerState struct {
	ID             LayerID `json:"id"`
	HopSamples     int     `json:"hop_samples"`
	EntryDimension int     `json:"entry_dimension"`
	MaxEntries     int     `json:"max_entries"`
	WriteIndex     int64   `json:"write_index"`
	OldestSample   int64   `json:"oldest_sample"`
	CurrentSample  int64   `json:"current_sample"`
}

// StoreState is the per-layer occupancy snapshot returned by [Store.State].
type StoreState struct {
	SampleRate int                   `json:"sample_rate"`
	Layers     map[LayerID]LayerState `json:"layers"`
}

// request is one mailbox message. Fire-and-forget writes carry a nil reply
// channel; request/response calls carry a buffered reply channel correlated
// by id.
type request struct {
	id    uint64
	op    func(s *storeActor) any
	reply chan response
}

type response struct {
	id    uint64
	value any
	err   error
}

// Store owns the four time-aligned layers of a session and confines them to a
// single goroutine. All interaction crosses the mailbox: writes are
// asynchronous fire-and-forget, queries are request/response futures ordered
// FIFO after every write issued before them.
//
// A write call returns immediately and does not guarantee the data is
// queryable before the next request is processed; a query issued after a
// write from the same caller always observes it.
type Store struct {
	cfg       StoreConfig
	mailbox   chan request
	nextID    atomic.Uint64
	done      chan struct{}
	closeOnce sync.Once
}

// NewStore allocates the four layers and starts the store goroutine.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.MailboxSize <= 0 {
		cfg.MailboxSize = 1024
	}
	actor := &storeActor{layers: make(map[LayerID]*Layer, 4)}
	for _, spec := range []struct {
		id LayerID
		lc LayerConfig
	}{
		{LayerAudio, cfg.Audio},
		{LayerFeature, cfg.Feature},
		{LayerEnergyVAD, cfg.EnergyVAD},
		{LayerNeuralVAD, cfg.NeuralVAD},
	} {
		layer, err := NewLayer(cfg.SampleRate, spec.lc)
		if err != nil {
			return nil, fmt.Errorf("timeline: layer %q: %w", spec.id, err)
		}
		actor.layers[spec.id] = layer
	}

	s := &Store{
		cfg:     cfg,
		mailbox: make(chan request, cfg.MailboxSize),
		done:    make(chan struct{}),
	}
	go s.run(actor)
	return s, nil
}

// storeActor holds the goroutine-confined layer state.
type storeActor struct {
	layers map[LayerID]*Layer
}

// run is the store goroutine. An unrecovered fault in a layer operation
// rejects all queued requests and leaves the store permanently faulted.
func (s *Store) run(actor *storeActor) {
	var faultErr error

	defer func() {
		if r := recover(); r != nil {
			faultErr = fmt.Errorf("%w: %v", ErrStoreFaulted, r)
			slog.Error("timeline store faulted", "err", faultErr)
		}
		// Reject everything still queued, then keep rejecting until Close.
		for {
			select {
			case req := <-s.mailbox:
				s.reject(req, faultErr)
			case <-s.done:
				for {
					select {
					case req := <-s.mailbox:
						s.reject(req, faultErr)
					default:
						return
					}
				}
			}
		}
	}()

	for {
		select {
		case <-s.done:
			faultErr = ErrStoreClosed
			return
		case req := <-s.mailbox:
			value := req.op(actor)
			if req.reply != nil {
				err, _ := value.(error)
				if err != nil {
					req.reply <- response{id: req.id, err: err}
				} else {
					req.reply <- response{id: req.id, value: value}
				}
			}
		}
	}
}

func (s *Store) reject(req request, err error) {
	if req.reply == nil {
		return
	}
	if err == nil {
		err = ErrStoreClosed
	}
	req.reply <- response{id: req.id, err: err}
}

// submit queues a fire-and-forget operation. Dropped (with a log line) when
// the store is closed — not-ready writes are a silent no-op by design.
func (s *Store) submit(op func(a *storeActor) any) {
	id := s.nextID.Add(1)
	select {
	case <-s.done:
		slog.Debug("timeline store write dropped: store closed")
	case s.mailbox <- request{id: id, op: op}:
	}
}

// call queues a request/response operation and waits for its future.
func (s *Store) call(ctx context.Context, op func(a *storeActor) any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	req := request{id: s.nextID.Add(1), op: op, reply: make(chan response, 1)}
	select {
	case <-s.done:
		return nil, ErrStoreClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	case s.mailbox <- req:
	}
	select {
	case resp := <-req.reply:
		return resp.value, resp.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// WriteScalar appends a single value to a scalar layer. Fire-and-forget.
func (s *Store) WriteScalar(layer LayerID, v float32) {
	s.submit(func(a *storeActor) any {
		l, ok := a.layers[layer]
		if !ok {
			slog.Warn("timeline store write to unknown layer", "layer", layer)
			return nil
		}
		if err := l.WriteScalar(v); err != nil {
			slog.Warn("timeline store scalar write failed", "layer", layer, "err", err)
		}
		return nil
	})
}

// WriteEntry appends one multi-value entry. Fire-and-forget. The store owns
// entry after the call; the caller must not reuse it.
func (s *Store) WriteEntry(layer LayerID, entry []float32) {
	s.submit(func(a *storeActor) any {
		l, ok := a.layers[layer]
		if !ok {
			slog.Warn("timeline store write to unknown layer", "layer", layer)
			return nil
		}
		if err := l.Write(entry); err != nil {
			slog.Warn("timeline store entry write failed", "layer", layer, "err", err)
		}
		return nil
	})
}

// WriteBatch appends a flat batch of entries. Fire-and-forget. The store owns
// flat after the call; the caller must not reuse it.
func (s *Store) WriteBatch(layer LayerID, flat []float32) {
	s.submit(func(a *storeActor) any {
		l, ok := a.layers[layer]
		if !ok {
			slog.Warn("timeline store write to unknown layer", "layer", layer)
			return nil
		}
		if err := l.WriteBatch(flat); err != nil {
			slog.Warn("timeline store batch write failed", "layer", layer, "err", err)
		}
		return nil
	})
}

// WriteBatchAt repositions the layer's write head to sampleOffset and appends
// the batch, skipping any gap. Fire-and-forget.
func (s *Store) WriteBatchAt(layer LayerID, flat []float32, sampleOffset int64) {
	s.submit(func(a *storeActor) any {
		l, ok := a.layers[layer]
		if !ok {
			slog.Warn("timeline store write to unknown layer", "layer", layer)
			return nil
		}
		if err := l.WriteBatchAt(flat, sampleOffset); err != nil {
			slog.Warn("timeline store positioned write failed", "layer", layer, "err", err)
		}
		return nil
	})
}

// HasSpeech reports whether any entry of a scalar layer within
// [startSample, endSample) reaches threshold. Resolves once every previously
// issued write has been applied.
func (s *Store) HasSpeech(ctx context.Context, layer LayerID, startSample, endSample int64, threshold float32) (RangeScan, error) {
	v, err := s.call(ctx, func(a *storeActor) any {
		l, ok := a.layers[layer]
		if !ok {
			return fmt.Errorf("timeline: unknown layer %q", layer)
		}
		scan, err := l.HasValueInRange(startSample, endSample, threshold)
		if err != nil {
			return err
		}
		return scan
	})
	if err != nil {
		return RangeScan{}, err
	}
	return v.(RangeScan), nil
}

// SilenceTail returns the duration of consecutive sub-threshold entries at
// the write head of a scalar layer.
func (s *Store) SilenceTail(ctx context.Context, layer LayerID, threshold float32) (time.Duration, error) {
	v, err := s.call(ctx, func(a *storeActor) any {
		l, ok := a.layers[layer]
		if !ok {
			return fmt.Errorf("timeline: unknown layer %q", layer)
		}
		d, err := l.SilenceTailDuration(threshold)
		if err != nil {
			return err
		}
		return d
	})
	if err != nil {
		return 0, err
	}
	return v.(time.Duration), nil
}

// QueryRange reads [startSample, endSample) from each requested layer,
// clamped per layer to its retained history. The returned buffers are owned
// by the caller — the store does not keep references.
func (s *Store) QueryRange(ctx context.Context, startSample, endSample int64, layers []LayerID) (map[LayerID]RangeData, error) {
	v, err := s.call(ctx, func(a *storeActor) any {
		out := make(map[LayerID]RangeData, len(layers))
		for _, id := range layers {
			l, ok := a.layers[id]
			if !ok {
				return fmt.Errorf("timeline: unknown layer %q", id)
			}
			out[id] = l.ReadRange(startSample, endSample)
		}
		return out
	})
	if err != nil {
		return nil, err
	}
	return v.(map[LayerID]RangeData), nil
}

// State returns per-layer occupancy and bounds for diagnostics.
func (s *Store) State(ctx context.Context) (StoreState, error) {
	v, err := s.call(ctx, func(a *storeActor) any {
		st := StoreState{
			SampleRate: s.cfg.SampleRate,
			Layers:     make(map[LayerID]LayerState, len(a.layers)),
		}
		for id, l := range a.layers {
			st.Layers[id] = LayerState{
				ID:             id,
				HopSamples:     l.HopSamples(),
				EntryDimension: l.EntryDimension(),
				MaxEntries:     l.MaxEntries(),
				WriteIndex:     l.WriteIndex(),
				OldestSample:   l.OldestSample(),
				CurrentSample:  l.CurrentSample(),
			}
		}
		return st
	})
	if err != nil {
		return StoreState{}, err
	}
	return v.(StoreState), nil
}

// Reset zeroes all layers and write indices. Idempotent.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.call(ctx, func(a *storeActor) any {
		for _, l := range a.layers {
			l.Reset()
		}
		return nil
	})
	return err
}

// Close stops the store goroutine. Requests still queued are rejected with
// [ErrStoreClosed]. Close is idempotent and safe for concurrent callers.
func (s *Store) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}
