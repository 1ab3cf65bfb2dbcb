// Package session runs the per-stream transcription pipeline: audio
// ingestion into the timeline store, hybrid VAD, recognition-window
// scheduling, and token-stream reconciliation. A [Session] owns one stream;
// the [Manager] tracks all live sessions.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/lorikeet/internal/observe"
	"github.com/MrWong99/lorikeet/pkg/asr"
	"github.com/MrWong99/lorikeet/pkg/merge"
	"github.com/MrWong99/lorikeet/pkg/timeline"
	"github.com/MrWong99/lorikeet/pkg/vad"
)

// ErrSessionClosed is returned by PushAudio after Close.
var ErrSessionClosed = errors.New("session: closed")

// Settings holds the per-session pipeline parameters, already converted to
// the units the pipeline works in.
type Settings struct {
	// SessionID identifies the session in logs and snapshots.
	SessionID string

	// SampleRate of the incoming mono PCM in Hz.
	SampleRate int

	// ChunkSize is the VAD hop in samples. Audio is processed in chunks of
	// exactly this size; a trailing partial chunk waits for more input.
	ChunkSize int

	// Window caps a single recognition window.
	Window time.Duration

	// MinWindow is the minimum new speech accumulated before a
	// mid-utterance re-decode is submitted.
	MinWindow time.Duration

	// SilenceFlush is the trailing-silence duration that finalizes the
	// current utterance.
	SilenceFlush time.Duration

	// Overlap is the audio re-decoded at the start of each rolling window
	// so the merger can anchor on the previous output.
	Overlap time.Duration

	// SpeechThreshold gates the energy-layer scans used for window
	// selection.
	SpeechThreshold float32

	// Engine names the recognizer implementation for metrics attribution.
	Engine string
}

func (s Settings) validate() error {
	if s.SampleRate <= 0 {
		return fmt.Errorf("session: sample rate must be positive, got %d", s.SampleRate)
	}
	if s.ChunkSize <= 0 {
		return fmt.Errorf("session: chunk size must be positive, got %d", s.ChunkSize)
	}
	if s.Window <= 0 || s.MinWindow <= 0 || s.SilenceFlush <= 0 {
		return fmt.Errorf("session: window, min window, and silence flush must be positive")
	}
	if s.Overlap < 0 || s.Overlap >= s.Window {
		return fmt.Errorf("session: overlap must be in [0, window)")
	}
	return nil
}

// TranscriptToken is one decoded token in a [Snapshot].
type TranscriptToken struct {
	ID      int     `json:"id"`
	Text    string  `json:"text"`
	TimeSec float64 `json:"time_sec"`
	LogProb float64 `json:"log_prob"`
}

// Snapshot is the session state published after every pipeline step that
// changes it. Token slices are fresh copies safe to retain.
type Snapshot struct {
	SessionID string  `json:"session_id"`
	Position  int64   `json:"position_samples"`
	VADState  string  `json:"vad_state"`
	Speech    bool    `json:"speech"`
	Energy    float64 `json:"energy"`

	Confirmed []TranscriptToken `json:"confirmed"`
	Pending   []TranscriptToken `json:"pending"`

	// Final reports that the last decode closed an utterance.
	Final bool `json:"final"`
}

// Session is one live transcription stream. Audio is queued via PushAudio and
// consumed by a single pipeline goroutine that owns all mutable state; the
// latest [Snapshot] is available from Snapshot and streamed via Updates.
type Session struct {
	set        Settings
	store      *timeline.Store
	detector   *vad.HybridDetector
	recognizer asr.Recognizer
	merger     merge.Merger
	metrics    *observe.Metrics

	audioCh chan []float32
	updates chan Snapshot
	done    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup

	mu   sync.Mutex
	snap Snapshot

	// pipeline-goroutine state
	pending        []float32
	position       int64
	utteranceStart int64
	windowStart    int64
	lastDecodeEnd  int64
	confirmedCount int
}

// New creates a Session and starts its pipeline goroutine. The session takes
// ownership of store, detector, and merger; the recognizer is shared and left
// open on Close.
func New(ctx context.Context, set Settings, store *timeline.Store, detector *vad.HybridDetector, recognizer asr.Recognizer, merger merge.Merger, metrics *observe.Metrics) (*Session, error) {
	if err := set.validate(); err != nil {
		return nil, err
	}
	if store == nil || detector == nil || recognizer == nil || merger == nil {
		return nil, errors.New("session: store, detector, recognizer, and merger are required")
	}
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}

	s := &Session{
		set:            set,
		store:          store,
		detector:       detector,
		recognizer:     recognizer,
		merger:         merger,
		metrics:        metrics,
		audioCh:        make(chan []float32, 256),
		updates:        make(chan Snapshot, 16),
		done:           make(chan struct{}),
		utteranceStart: -1,
		windowStart:    -1,
		snap:           Snapshot{SessionID: set.SessionID, VADState: vad.StateSilence.String()},
	}

	s.wg.Add(1)
	go s.run(ctx)
	return s, nil
}

// PushAudio queues a chunk of normalized mono float32 PCM. The caller keeps
// ownership of samples. A full queue drops the chunk with a warning rather
// than stalling the network path.
func (s *Session) PushAudio(samples []float32) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}

	buf := make([]float32, len(samples))
	copy(buf, samples)

	select {
	case s.audioCh <- buf:
		return nil
	case <-s.done:
		return ErrSessionClosed
	default:
		s.metrics.StoreWritesDropped.Add(context.Background(), 1)
		slog.Warn("session audio queue full, dropping chunk",
			"session_id", s.set.SessionID, "samples", len(samples))
		return nil
	}
}

// Snapshot returns the most recent pipeline state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

// Updates returns a channel carrying every published snapshot. Slow readers
// miss intermediate snapshots; the latest is always available via Snapshot.
func (s *Session) Updates() <-chan Snapshot {
	return s.updates
}

// Close stops the pipeline goroutine and the timeline store. Idempotent.
func (s *Session) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.wg.Wait()
		if err := s.store.Close(); err != nil {
			slog.Warn("session store close", "session_id", s.set.SessionID, "err", err)
		}
		if err := s.detector.Close(); err != nil {
			slog.Warn("session detector close", "session_id", s.set.SessionID, "err", err)
		}
	})
	return nil
}

// run is the single pipeline goroutine. All windowing state is confined here.
func (s *Session) run(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.updates)

	for {
		select {
		case <-ctx.Done():
			s.flushFinal(context.WithoutCancel(ctx))
			return
		case <-s.done:
			s.flushFinal(context.WithoutCancel(ctx))
			return
		case samples := <-s.audioCh:
			s.ingest(ctx, samples)
		}
	}
}

// ingest appends samples to the partial-chunk buffer and processes every
// complete chunk through VAD, the store layers, and the window scheduler.
func (s *Session) ingest(ctx context.Context, samples []float32) {
	s.metrics.AudioSamples.Add(ctx, int64(len(samples)))
	s.pending = append(s.pending, samples...)

	for len(s.pending) >= s.set.ChunkSize {
		chunk := s.pending[:s.set.ChunkSize]
		s.processChunk(ctx, chunk)
		s.pending = s.pending[s.set.ChunkSize:]
	}
	if len(s.pending) > 0 {
		s.pending = append(make([]float32, 0, s.set.ChunkSize), s.pending...)
	}
}

func (s *Session) processChunk(ctx context.Context, chunk []float32) {
	start := time.Now()
	res, err := s.detector.Process(ctx, chunk)
	s.metrics.VADProcessDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		slog.Error("session vad processing failed", "session_id", s.set.SessionID, "err", err)
		return
	}

	// The store owns write buffers, so the audio chunk is copied out of the
	// reusable pending buffer.
	audio := make([]float32, len(chunk))
	copy(audio, chunk)
	s.store.WriteBatch(timeline.LayerAudio, audio)
	s.store.WriteScalar(timeline.LayerEnergyVAD, float32(res.Energy))
	s.store.WriteScalar(timeline.LayerNeuralVAD, res.Probability)

	chunkStart := s.position
	s.position += int64(len(chunk))

	if res.SpeechStart && s.utteranceStart < 0 {
		s.utteranceStart = chunkStart
		s.windowStart = chunkStart
		s.lastDecodeEnd = chunkStart
		slog.Debug("utterance started", "session_id", s.set.SessionID, "sample", chunkStart)
	}

	s.publish(res, false)

	if s.utteranceStart < 0 {
		return
	}

	windowLen := s.sampleDuration(s.position - s.windowStart)
	switch {
	case res.SpeechEnd:
		s.decode(ctx, s.position, true)

	case windowLen >= s.set.Window:
		s.decode(ctx, s.position, false)
		s.windowStart = s.position - s.durationSamples(s.set.Overlap)

	case !res.State.IsSpeech():
		// Trailing silence inside an open utterance: consult the energy
		// layer and finalize once it exceeds the flush threshold.
		tail, err := s.store.SilenceTail(ctx, timeline.LayerEnergyVAD, s.set.SpeechThreshold)
		if err != nil {
			slog.Warn("session silence tail query failed", "session_id", s.set.SessionID, "err", err)
			return
		}
		if tail >= s.set.SilenceFlush {
			s.decode(ctx, s.position, true)
		}

	case s.sampleDuration(s.position-s.lastDecodeEnd) >= s.set.MinWindow:
		// Enough new speech for a mid-utterance re-decode of the growing
		// window.
		s.decode(ctx, s.position, false)
	}
}

// decode recognizes [s.windowStart, end) and reconciles the token output.
// A final decode closes the current utterance.
func (s *Session) decode(ctx context.Context, end int64, final bool) {
	start := s.windowStart
	if final {
		s.utteranceStart = -1
		s.windowStart = -1
	}
	if end <= start {
		return
	}

	// Skip windows the energy layer says are empty.
	scan, err := s.store.HasSpeech(ctx, timeline.LayerEnergyVAD, start, end, s.set.SpeechThreshold)
	if err != nil {
		slog.Warn("session speech scan failed", "session_id", s.set.SessionID, "err", err)
		return
	}
	if !scan.Found {
		slog.Debug("window skipped, no speech energy",
			"session_id", s.set.SessionID, "start", start, "end", end)
		return
	}

	data, err := s.store.QueryRange(ctx, start, end, []timeline.LayerID{timeline.LayerAudio})
	if err != nil {
		slog.Error("session window query failed", "session_id", s.set.SessionID, "err", err)
		return
	}
	window := data[timeline.LayerAudio]
	if len(window.Data) == 0 {
		return
	}

	began := time.Now()
	result, err := s.recognizer.Recognize(ctx, asr.Window{
		Samples:     window.Data,
		StartSample: window.StartSample,
		SampleRate:  s.set.SampleRate,
	})
	s.metrics.RecordRecognize(ctx, s.set.Engine, time.Since(began).Seconds(), err)
	if err != nil {
		slog.Error("session recognition failed", "session_id", s.set.SessionID, "err", err)
		return
	}

	overlap := s.sampleDuration(s.lastDecodeEnd - window.StartSample)
	if overlap < 0 {
		overlap = 0
	}
	s.lastDecodeEnd = end

	tokens := make([]merge.Token, len(result.Tokens))
	for i, t := range result.Tokens {
		tokens[i] = merge.Token{
			ID:         t.TokenID,
			FrameIndex: t.FrameIndex,
			LogProb:    t.LogProb,
			Text:       t.Text,
		}
	}

	began = time.Now()
	mres := s.merger.ProcessChunk(tokens, s.sampleDuration(window.StartSample), overlap)
	s.metrics.MergeDuration.Record(ctx, time.Since(began).Seconds())
	s.metrics.RecordAnchor(ctx, mres.AnchorsFound > 0)
	s.metrics.RecordConfirmedTokens(ctx, len(mres.Confirmed)-s.confirmedCount)
	s.confirmedCount = len(mres.Confirmed)

	s.mu.Lock()
	s.snap.Confirmed = transcriptTokens(mres.Confirmed)
	s.snap.Pending = transcriptTokens(mres.Pending)
	s.snap.Final = final
	snap := s.snap
	s.mu.Unlock()

	select {
	case s.updates <- snap:
	default:
	}
}

// flushFinal runs one last decode over any open utterance during shutdown.
func (s *Session) flushFinal(ctx context.Context) {
	if s.utteranceStart < 0 {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	s.decode(ctx, s.position, true)
}

// publish refreshes the shared snapshot and offers it on the updates channel
// without blocking the pipeline.
func (s *Session) publish(res vad.HybridResult, final bool) {
	s.mu.Lock()
	s.snap.Position = s.position
	s.snap.VADState = res.State.String()
	s.snap.Speech = res.IsSpeech
	s.snap.Energy = res.Energy
	s.snap.Final = final
	snap := s.snap
	s.mu.Unlock()

	select {
	case s.updates <- snap:
	default:
	}
}

func (s *Session) sampleDuration(n int64) time.Duration {
	return time.Duration(n) * time.Second / time.Duration(s.set.SampleRate)
}

func (s *Session) durationSamples(d time.Duration) int64 {
	return int64(d * time.Duration(s.set.SampleRate) / time.Second)
}

func transcriptTokens(tokens []merge.Token) []TranscriptToken {
	out := make([]TranscriptToken, len(tokens))
	for i, t := range tokens {
		out[i] = TranscriptToken{
			ID:      t.ID,
			Text:    t.Text,
			TimeSec: t.AbsTime.Seconds(),
			LogProb: t.LogProb,
		}
	}
	return out
}
