package vad

import (
	"fmt"
	"math"
	"time"
)

// EnergyConfig holds the parameters for an [EnergyDetector].
type EnergyConfig struct {
	// SampleRate is the audio sample rate in Hz. Hysteresis durations are
	// converted to sample counts against this rate.
	SampleRate int

	// Threshold is the RMS energy above which a chunk counts toward speech
	// onset. Typical for normalized float32 PCM: 0.01–0.03.
	Threshold float64

	// MinSpeechDuration is how long energy must stay above Threshold before
	// SpeechStart fires. Typical: 100 ms.
	MinSpeechDuration time.Duration

	// MinSilenceDuration is how long energy must stay below Threshold before
	// SpeechEnd fires. Typical: 300 ms.
	MinSilenceDuration time.Duration
}

func (c EnergyConfig) validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("vad: sample rate must be positive, got %d", c.SampleRate)
	}
	if c.Threshold <= 0 {
		return fmt.Errorf("vad: energy threshold must be positive, got %g", c.Threshold)
	}
	if c.MinSpeechDuration <= 0 || c.MinSilenceDuration <= 0 {
		return fmt.Errorf("vad: hysteresis durations must be positive")
	}
	return nil
}

// EnergyDetector classifies chunks by RMS energy with duration hysteresis.
// Counters accumulate sample counts, not chunk counts, so chunk size may vary
// between calls. A chunk on the opposite side of the threshold zeroes the
// opposing counter — no partial credit survives a momentary reversal.
//
// Purely deterministic, allocation-free, synchronous. Not safe for concurrent
// use; create one per stream.
type EnergyDetector struct {
	cfg               EnergyConfig
	minSpeechSamples  int
	minSilenceSamples int

	active         bool
	speechSamples  int
	silenceSamples int
}

// NewEnergyDetector creates a detector in the inactive (silence) state.
func NewEnergyDetector(cfg EnergyConfig) (*EnergyDetector, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &EnergyDetector{
		cfg:               cfg,
		minSpeechSamples:  int(float64(cfg.SampleRate) * cfg.MinSpeechDuration.Seconds()),
		minSilenceSamples: int(float64(cfg.SampleRate) * cfg.MinSilenceDuration.Seconds()),
	}, nil
}

// Process classifies one chunk of mono float32 PCM.
func (d *EnergyDetector) Process(chunk []float32) EnergyResult {
	energy := RMS(chunk)
	res := EnergyResult{Energy: energy}

	if energy >= d.cfg.Threshold {
		d.silenceSamples = 0
		if !d.active {
			d.speechSamples += len(chunk)
			if d.speechSamples >= d.minSpeechSamples {
				d.active = true
				d.speechSamples = 0
				res.SpeechStart = true
			}
		}
	} else {
		d.speechSamples = 0
		if d.active {
			d.silenceSamples += len(chunk)
			if d.silenceSamples >= d.minSilenceSamples {
				d.active = false
				d.silenceSamples = 0
				res.SpeechEnd = true
			}
		}
	}

	res.IsSpeech = d.active
	return res
}

// Reset returns the detector to the inactive state with zeroed counters.
func (d *EnergyDetector) Reset() {
	d.active = false
	d.speechSamples = 0
	d.silenceSamples = 0
}

// RMS computes the root-mean-square energy of a chunk. Returns 0 for an
// empty chunk.
func RMS(chunk []float32) float64 {
	if len(chunk) == 0 {
		return 0
	}
	var sum float64
	for _, s := range chunk {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(chunk)))
}
