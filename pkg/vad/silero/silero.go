// Package silero wraps the native Silero ONNX voice-activity detector from
// github.com/streamer45/silero-vad-go behind two adapters: a Classifier for
// the hybrid detector's confirmation stage and a streaming Detector that
// delivers speech start/end events from its own goroutine.
//
// The Silero model at 16 kHz scores frames of exactly 512 samples; feed it
// through vad.NeuralVAD or Detector.SendFrame with matching hop sizes.
package silero

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/streamer45/silero-vad-go/speech"

	"github.com/MrWong99/lorikeet/pkg/vad"
)

// Config holds the parameters shared by both adapters.
type Config struct {
	// ModelPath is the path to the silero_vad.onnx model file.
	ModelPath string

	// SampleRate of the input audio in Hz. Silero supports 8000 and 16000.
	SampleRate int

	// Threshold is the speech probability threshold (0.0–1.0) applied
	// inside the native detector. Defaults to 0.5 when zero.
	Threshold float32

	// MinSilenceDurationMs is the silence duration before the native
	// detector emits a speech-end event.
	MinSilenceDurationMs int
}

func (c Config) detectorConfig() speech.DetectorConfig {
	threshold := c.Threshold
	if threshold == 0 {
		threshold = 0.5
	}
	return speech.DetectorConfig{
		ModelPath:            c.ModelPath,
		SampleRate:           c.SampleRate,
		Threshold:            threshold,
		MinSilenceDurationMs: c.MinSilenceDurationMs,
	}
}

func (c Config) validate() error {
	if c.ModelPath == "" {
		return errors.New("silero: model path must not be empty")
	}
	if c.SampleRate != 8000 && c.SampleRate != 16000 {
		return fmt.Errorf("silero: sample rate must be 8000 or 16000, got %d", c.SampleRate)
	}
	return nil
}

// ---- Classifier -------------------------------------------------------------

// Compile-time assertion that Classifier satisfies vad.Classifier.
var _ vad.Classifier = (*Classifier)(nil)

// Classifier adapts the native detector to the vad.Classifier contract. The
// native library thresholds internally and exposes start/end events rather
// than raw scores, so the reported probability saturates to 0 or 1 with the
// detector's own hysteresis applied.
type Classifier struct {
	detector *speech.Detector
	inSpeech bool
	closed   bool
}

// NewClassifier loads the ONNX model and returns a ready Classifier.
func NewClassifier(cfg Config) (*Classifier, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	d, err := speech.NewDetector(cfg.detectorConfig())
	if err != nil {
		return nil, fmt.Errorf("silero: create detector: %w", err)
	}
	return &Classifier{detector: d}, nil
}

// Factory returns a vad.ClassifierFactory that loads the model on first use,
// so NeuralVAD initialization can be deferred and cancelled.
func Factory(cfg Config) vad.ClassifierFactory {
	return func(ctx context.Context) (vad.Classifier, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return NewClassifier(cfg)
	}
}

// Infer scores one frame of samples. The native detector consumes the frame
// statefully; the returned probability reflects whether the detector
// currently considers the stream inside a speech segment.
func (c *Classifier) Infer(_ context.Context, samples []float32) (float32, error) {
	if c.closed {
		return 0, vad.ErrClosed
	}
	event, err := c.detector.DetectStreamFrame(samples)
	if err != nil {
		return 0, fmt.Errorf("silero: detect frame: %w", err)
	}
	if event != nil {
		if event.IsStart {
			c.inSpeech = true
		}
		if event.IsEnd {
			c.inSpeech = false
		}
	}
	if c.inSpeech {
		return 1, nil
	}
	return 0, nil
}

// Reset clears the recurrent state of the native detector.
func (c *Classifier) Reset() error {
	if c.closed {
		return vad.ErrClosed
	}
	c.inSpeech = false
	if err := c.detector.Reset(); err != nil {
		return fmt.Errorf("silero: reset detector: %w", err)
	}
	return nil
}

// Close destroys the native detector. Safe to call more than once.
func (c *Classifier) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	if err := c.detector.Destroy(); err != nil {
		return fmt.Errorf("silero: destroy detector: %w", err)
	}
	return nil
}

// ---- streaming Detector -----------------------------------------------------

// Event is one speech boundary reported by the streaming detector. Samples
// are absolute positions on the stream fed via SendFrame.
type Event struct {
	// Start reports a speech onset; otherwise the event is a speech end.
	Start bool

	// Sample is the boundary position in samples.
	Sample int64
}

// EventFunc receives detector events. It is called from the detector's own
// goroutine and must not block for long.
type EventFunc func(Event)

// Detector runs the native Silero detector on a dedicated goroutine and
// delivers speech start/end events through a callback. Frames are queued via
// SendFrame; a full queue drops the frame rather than stalling the audio
// path.
type Detector struct {
	detector *speech.Detector
	onEvent  EventFunc

	frames chan []float32
	done   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

// NewDetector loads the model and starts the detection goroutine. Events are
// delivered to onEvent until Close.
func NewDetector(cfg Config, onEvent EventFunc) (*Detector, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if onEvent == nil {
		return nil, errors.New("silero: event callback must not be nil")
	}
	sd, err := speech.NewDetector(cfg.detectorConfig())
	if err != nil {
		return nil, fmt.Errorf("silero: create detector: %w", err)
	}

	d := &Detector{
		detector: sd,
		onEvent:  onEvent,
		frames:   make(chan []float32, 64),
		done:     make(chan struct{}),
	}
	d.wg.Add(1)
	go d.run()
	return d, nil
}

// SendFrame queues one frame of exactly the model's frame size (512 samples
// at 16 kHz). The frame is dropped with a warning if the queue is full.
func (d *Detector) SendFrame(frame []float32) error {
	select {
	case <-d.done:
		return vad.ErrClosed
	default:
	}
	select {
	case d.frames <- frame:
		return nil
	case <-d.done:
		return vad.ErrClosed
	default:
		slog.Warn("silero: frame queue full, dropping frame")
		return nil
	}
}

// Close stops the goroutine and destroys the native detector. Safe to call
// more than once.
func (d *Detector) Close() error {
	d.once.Do(func() {
		close(d.done)
		d.wg.Wait()
	})
	return nil
}

// run is the single goroutine that owns the native detector state.
func (d *Detector) run() {
	defer d.wg.Done()
	defer func() {
		if err := d.detector.Destroy(); err != nil {
			slog.Error("silero: destroy detector", "error", err)
		}
	}()

	for {
		select {
		case <-d.done:
			return
		case frame := <-d.frames:
			event, err := d.detector.DetectStreamFrame(frame)
			if err != nil {
				// The native detector can desync on truncated speech;
				// reset and keep the stream alive.
				slog.Warn("silero: detect frame failed, resetting", "error", err)
				if rerr := d.detector.Reset(); rerr != nil {
					slog.Error("silero: reset detector", "error", rerr)
				}
				continue
			}
			if event == nil {
				continue
			}
			if event.IsStart {
				d.onEvent(Event{Start: true, Sample: int64(event.StartSample)})
			}
			if event.IsEnd {
				d.onEvent(Event{Sample: int64(event.EndSample)})
			}
		}
	}
}
