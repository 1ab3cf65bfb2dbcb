package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/lorikeet/internal/config"
	"github.com/MrWong99/lorikeet/internal/observe"
	"github.com/MrWong99/lorikeet/pkg/asr"
	"github.com/MrWong99/lorikeet/pkg/merge"
	"github.com/MrWong99/lorikeet/pkg/timeline"
	"github.com/MrWong99/lorikeet/pkg/vad"
)

// Manager owns the shared recognizer and builds one pipeline per stream.
// All exported methods are safe for concurrent use.
type Manager struct {
	cfg        *config.Config
	recognizer asr.Recognizer
	classifier vad.ClassifierFactory // nil when the neural stage is disabled
	metrics    *observe.Metrics

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
}

// NewManager creates the shared engine instances from cfg using the given
// registry. The recognizer model is loaded once here and shared across
// sessions.
func NewManager(cfg *config.Config, reg *config.Registry, metrics *observe.Metrics) (*Manager, error) {
	recognizer, err := reg.CreateRecognizer(cfg.ASR)
	if err != nil {
		return nil, fmt.Errorf("session: create recognizer: %w", err)
	}

	var classifier vad.ClassifierFactory
	if cfg.VAD.Neural.Engine != "" {
		classifier, err = reg.CreateClassifier(cfg.VAD.Neural, cfg.Audio.SampleRate)
		if err != nil {
			_ = recognizer.Close()
			return nil, fmt.Errorf("session: create vad classifier: %w", err)
		}
	}

	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}

	return &Manager{
		cfg:        cfg,
		recognizer: recognizer,
		classifier: classifier,
		metrics:    metrics,
		sessions:   make(map[string]*Session),
	}, nil
}

// Open builds and starts a new session pipeline under id. Returns an error if
// the id is already in use.
func (m *Manager) Open(ctx context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrSessionClosed
	}
	if _, exists := m.sessions[id]; exists {
		return nil, fmt.Errorf("session: id %q is already active", id)
	}

	store, err := timeline.NewStore(m.storeConfig())
	if err != nil {
		return nil, fmt.Errorf("session: create store: %w", err)
	}

	detector, err := m.buildDetector(ctx)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	merger, err := m.buildMerger()
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	s, err := New(ctx, m.settings(id), store, detector, m.recognizer, merger, m.metrics)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	m.sessions[id] = s
	m.metrics.ActiveSessions.Add(ctx, 1)
	slog.Info("session opened", "session_id", id, "active", len(m.sessions))
	return s, nil
}

// Get returns the session registered under id, or nil.
func (m *Manager) Get(id string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[id]
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// CloseSession stops the session registered under id and removes it.
func (m *Manager) CloseSession(ctx context.Context, id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("session: no session %q", id)
	}
	m.metrics.ActiveSessions.Add(ctx, -1)
	slog.Info("session closed", "session_id", id)
	return s.Close()
}

// Close stops every live session and releases the shared recognizer.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for id, s := range sessions {
		if err := s.Close(); err != nil {
			slog.Warn("session close", "session_id", id, "err", err)
		}
		m.metrics.ActiveSessions.Add(ctx, -1)
	}
	return m.recognizer.Close()
}

// Ready probes the shared engines for readiness checks: the recognizer must
// be constructed and, when configured, the classifier must load.
func (m *Manager) Ready(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrSessionClosed
	}
	if m.recognizer == nil {
		return fmt.Errorf("session: recognizer not initialized")
	}
	_ = ctx
	return nil
}

func (m *Manager) storeConfig() timeline.StoreConfig {
	c := m.cfg.Store
	retention := time.Duration(c.MaxDurationSec) * time.Second

	featureDim := c.FeatureDim
	if featureDim <= 0 {
		featureDim = 1
	}

	return timeline.StoreConfig{
		SampleRate: m.cfg.Audio.SampleRate,
		Audio: timeline.LayerConfig{
			HopSamples:     1,
			EntryDimension: 1,
			MaxDuration:    retention,
		},
		Feature: timeline.LayerConfig{
			HopSamples:     c.FeatureHop,
			EntryDimension: featureDim,
			MaxDuration:    retention,
		},
		EnergyVAD: timeline.LayerConfig{
			HopSamples:     c.VADHop,
			EntryDimension: 1,
			MaxDuration:    retention,
		},
		NeuralVAD: timeline.LayerConfig{
			HopSamples:     c.VADHop,
			EntryDimension: 1,
			MaxDuration:    retention,
		},
		MailboxSize: c.MailboxSize,
	}
}

// buildDetector assembles the per-session hybrid detector. The neural stage
// is initialized eagerly so model-load failures surface at open time, not
// mid-stream.
func (m *Manager) buildDetector(ctx context.Context) (*vad.HybridDetector, error) {
	var neural *vad.NeuralVAD
	if m.classifier != nil {
		var err error
		neural, err = vad.NewNeuralVAD(vad.NeuralConfig{
			HopSize:     m.cfg.VAD.Neural.HopSize,
			ContextSize: m.cfg.VAD.Neural.ContextSize,
			Threshold:   float32(m.cfg.VAD.Neural.Threshold),
		}, m.classifier)
		if err != nil {
			return nil, fmt.Errorf("session: create neural vad: %w", err)
		}
		if err := neural.Init(ctx); err != nil {
			return nil, fmt.Errorf("session: init neural vad: %w", err)
		}
	}

	detector, err := vad.NewHybridDetector(vad.HybridConfig{
		Energy: vad.EnergyConfig{
			SampleRate:         m.cfg.Audio.SampleRate,
			Threshold:          m.cfg.VAD.Energy.Threshold,
			MinSpeechDuration:  time.Duration(m.cfg.VAD.Energy.MinSpeechMs) * time.Millisecond,
			MinSilenceDuration: time.Duration(m.cfg.VAD.Energy.MinSilenceMs) * time.Millisecond,
		},
		OnsetConfirmations:  m.cfg.VAD.OnsetConfirmations,
		OffsetConfirmations: m.cfg.VAD.OffsetConfirmations,
	}, neural)
	if err != nil {
		if neural != nil {
			_ = neural.Close()
		}
		return nil, fmt.Errorf("session: create hybrid detector: %w", err)
	}
	return detector, nil
}

func (m *Manager) buildMerger() (merge.Merger, error) {
	mc := merge.FrameMergerConfig{
		FrameStride:        time.Duration(m.cfg.Merger.FrameStrideMs) * time.Millisecond,
		TimeTolerance:      time.Duration(m.cfg.Merger.TimeToleranceMs) * time.Millisecond,
		StabilityThreshold: m.cfg.Merger.StabilityThreshold,
	}
	switch m.cfg.Merger.Strategy {
	case config.MergeLCS:
		return merge.NewLCSMerger(mc)
	default:
		return merge.NewFrameMerger(mc)
	}
}

func (m *Manager) settings(id string) Settings {
	return Settings{
		SessionID:       id,
		SampleRate:      m.cfg.Audio.SampleRate,
		ChunkSize:       m.cfg.Store.VADHop,
		Window:          time.Duration(m.cfg.ASR.WindowSec) * time.Second,
		MinWindow:       time.Duration(m.cfg.ASR.MinWindowMs) * time.Millisecond,
		SilenceFlush:    time.Duration(m.cfg.ASR.SilenceFlushMs) * time.Millisecond,
		Overlap:         time.Duration(m.cfg.Merger.OverlapMs) * time.Millisecond,
		SpeechThreshold: float32(m.cfg.VAD.Energy.Threshold),
		Engine:          m.cfg.ASR.Engine,
	}
}
