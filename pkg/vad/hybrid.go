package vad

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// HybridConfig holds the parameters for a [HybridDetector].
type HybridConfig struct {
	// Energy configures the always-on RMS heuristic.
	Energy EnergyConfig

	// OnsetConfirmations is the number of consecutive positive
	// confirmations required to leave silence for speech_confirmed.
	OnsetConfirmations int

	// OffsetConfirmations is the number of consecutive negative
	// confirmations required to leave speech_confirmed for silence.
	OffsetConfirmations int
}

func (c HybridConfig) validate() error {
	if err := c.Energy.validate(); err != nil {
		return err
	}
	if c.OnsetConfirmations <= 0 || c.OffsetConfirmations <= 0 {
		return fmt.Errorf("vad: confirmation counts must be positive")
	}
	return nil
}

// HybridDetector fuses the energy heuristic with the neural classifier
// through an explicit confirmation state machine. The classifier is invoked
// selectively: in silence only when energy is elevated (so clear silence
// never pays for inference), in every other state unconditionally, to
// confirm onset, continuation, and offset.
//
// A single state machine serves both modes: when the classifier is nil or
// not yet initialized, the energy detector's hysteresis boolean substitutes
// for neural confirmation and behavior degrades gracefully instead of
// failing.
//
// Not safe for concurrent use; create one per stream. The neural forward
// pass is the only suspension point.
type HybridDetector struct {
	cfg    HybridConfig
	energy *EnergyDetector
	neural *NeuralVAD // may be nil: energy-only mode

	state       State
	onsetCount  int
	offsetCount int

	lastProbability float32
	warnedDegraded  bool
}

// NewHybridDetector creates a detector in StateSilence. neural may be nil
// for pure energy-only operation.
func NewHybridDetector(cfg HybridConfig, neural *NeuralVAD) (*HybridDetector, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	ed, err := NewEnergyDetector(cfg.Energy)
	if err != nil {
		return nil, err
	}
	return &HybridDetector{cfg: cfg, energy: ed, neural: neural}, nil
}

// State returns the current confirmation state.
func (d *HybridDetector) State() State { return d.state }

// Process advances the state machine by one chunk of mono float32 PCM.
// Chunks must be hop-sized when a classifier is attached.
func (d *HybridDetector) Process(ctx context.Context, chunk []float32) (HybridResult, error) {
	eres := d.energy.Process(chunk)
	energyPositive := eres.Energy >= d.cfg.Energy.Threshold

	res := HybridResult{Energy: eres.Energy}

	// Decide whether this chunk needs a confirmation signal at all: in
	// silence the classifier is gated behind elevated energy.
	needConfirm := d.state != StateSilence || energyPositive

	confirm := false
	if needConfirm {
		confirm = d.confirmation(ctx, chunk, eres)
	} else {
		d.lastProbability = 0
	}

	switch d.state {
	case StateSilence:
		if energyPositive && confirm {
			d.transition(StateCandidate)
			d.onsetCount = 1
			if d.onsetCount >= d.cfg.OnsetConfirmations {
				d.transition(StateConfirmed)
				res.SpeechStart = true
			}
		} else {
			d.onsetCount = 0
		}

	case StateCandidate:
		switch {
		case confirm && energyPositive:
			d.onsetCount++
			if d.onsetCount >= d.cfg.OnsetConfirmations {
				d.transition(StateConfirmed)
				res.SpeechStart = true
			}
		default:
			// Neural negative or energy dropped: the candidate was noise.
			d.transition(StateSilence)
		}

	case StateConfirmed:
		if confirm {
			d.offsetCount = 0
		} else {
			d.transition(StateEnding)
			d.offsetCount = 1
			if d.offsetCount >= d.cfg.OffsetConfirmations {
				d.transition(StateSilence)
				res.SpeechEnd = true
			}
		}

	case StateEnding:
		if confirm {
			// One contradicting signal reverts without re-confirming onset.
			d.transition(StateConfirmed)
		} else {
			d.offsetCount++
			if d.offsetCount >= d.cfg.OffsetConfirmations {
				d.transition(StateSilence)
				res.SpeechEnd = true
			}
		}
	}

	res.IsSpeech = d.state.IsSpeech()
	res.State = d.state
	res.Probability = d.lastProbability
	return res, nil
}

// confirmation produces the boolean signal driving state transitions: the
// classifier's thresholded probability when available, the energy hysteresis
// boolean otherwise.
func (d *HybridDetector) confirmation(ctx context.Context, chunk []float32, eres EnergyResult) bool {
	if d.neural == nil || !d.neural.Ready() {
		d.lastProbability = boolProbability(eres.IsSpeech)
		return eres.IsSpeech
	}

	nres, err := d.neural.Process(ctx, chunk)
	if err != nil {
		// Classifier unavailable mid-stream: fall back to the energy
		// boolean for this chunk rather than failing the whole path.
		if !d.warnedDegraded || !errors.Is(err, ErrNotReady) {
			slog.Warn("hybrid vad falling back to energy confirmation", "err", err)
			d.warnedDegraded = true
		}
		d.lastProbability = boolProbability(eres.IsSpeech)
		return eres.IsSpeech
	}
	d.lastProbability = nres.Probability
	return nres.IsSpeech
}

// transition moves to a new state, resetting the counters that belong to the
// state being entered.
func (d *HybridDetector) transition(next State) {
	switch next {
	case StateSilence:
		d.onsetCount = 0
		d.offsetCount = 0
	case StateCandidate:
		d.offsetCount = 0
	case StateConfirmed:
		d.offsetCount = 0
	case StateEnding:
		d.onsetCount = 0
	}
	d.state = next
}

// Reset returns the machine to StateSilence and resets both detectors.
func (d *HybridDetector) Reset() error {
	d.state = StateSilence
	d.onsetCount = 0
	d.offsetCount = 0
	d.lastProbability = 0
	d.energy.Reset()
	if d.neural != nil {
		return d.neural.Reset()
	}
	return nil
}

// Close releases the neural classifier, if any. Safe to call more than once.
func (d *HybridDetector) Close() error {
	if d.neural != nil {
		return d.neural.Close()
	}
	return nil
}

func boolProbability(b bool) float32 {
	if b {
		return 1
	}
	return 0
}
