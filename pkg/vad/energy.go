package vad

import (
	"errors"
	"fmt"

	"github.com/voxd-io/voxd/pkg/audio"
)

// Default energy detector parameters, tuned for 16 kHz 20 ms frames.
const (
	defaultSpeechThreshold  = 0.015
	defaultSilenceThreshold = 0.008
	defaultWindow           = 5
)

// EnergyConfig holds the parameters for an [Energy] detector. Thresholds are
// normalized RMS levels in [0, 1]; see [audio.RMS].
type EnergyConfig struct {
	// SpeechThreshold is the smoothed energy level at or above which a
	// frame is classified as speech. Typical: 0.015.
	SpeechThreshold float64

	// SilenceThreshold is the smoothed energy level below which an active
	// speech run is considered ended. Must be ≤ SpeechThreshold; the gap
	// between the two provides hysteresis against flickering. Typical: 0.008.
	SilenceThreshold float64

	// Window is the number of recent frames averaged before thresholding.
	// Until the window has filled, every frame classifies as silence.
	Window int
}

func (c EnergyConfig) validate() error {
	var errs []error
	if c.SpeechThreshold < 0 || c.SpeechThreshold > 1 {
		errs = append(errs, fmt.Errorf("speech threshold %.4f is out of range [0, 1]", c.SpeechThreshold))
	}
	if c.SilenceThreshold < 0 || c.SilenceThreshold > c.SpeechThreshold {
		errs = append(errs, fmt.Errorf("silence threshold %.4f must be in [0, speech threshold]", c.SilenceThreshold))
	}
	if c.Window < 1 {
		errs = append(errs, fmt.Errorf("window %d must be at least 1", c.Window))
	}
	return errors.Join(errs...)
}

// Energy is a pure-Go voice activity detector based on smoothed RMS energy
// with hysteresis. It keeps a fixed-size rolling window of per-frame energy
// values; classification is a deterministic function of the input history.
type Energy struct {
	cfg EnergyConfig

	window   []float64
	writePos int
	filled   int
	sum      float64

	inSpeech bool
}

// Compile-time assertion that Energy satisfies Detector.
var _ Detector = (*Energy)(nil)

// NewEnergy creates an energy detector. Zero-value config fields fall back
// to defaults suitable for 16 kHz 20 ms frames.
func NewEnergy(cfg EnergyConfig) (*Energy, error) {
	if cfg.SpeechThreshold == 0 {
		cfg.SpeechThreshold = defaultSpeechThreshold
	}
	if cfg.SilenceThreshold == 0 {
		cfg.SilenceThreshold = defaultSilenceThreshold
	}
	if cfg.Window == 0 {
		cfg.Window = defaultWindow
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("vad: invalid energy config: %w", err)
	}
	return &Energy{
		cfg:    cfg,
		window: make([]float64, cfg.Window),
	}, nil
}

// Classify computes the frame's RMS energy, folds it into the rolling
// window, and thresholds the smoothed value with hysteresis. The first
// Window frames of a session always classify as silence.
func (e *Energy) Classify(frame audio.AudioFrame) (Decision, error) {
	level := audio.RMS(frame.Data)

	// Rolling-window update: constant time, bounded memory.
	e.sum -= e.window[e.writePos]
	e.window[e.writePos] = level
	e.sum += level
	e.writePos = (e.writePos + 1) % len(e.window)
	if e.filled < len(e.window) {
		e.filled++
		// Insufficient history: silence until the window fills.
		return Decision{Speech: false, Confidence: 0}, nil
	}

	avg := e.sum / float64(len(e.window))

	if e.inSpeech {
		if avg < e.cfg.SilenceThreshold {
			e.inSpeech = false
		}
	} else {
		if avg >= e.cfg.SpeechThreshold {
			e.inSpeech = true
		}
	}

	return Decision{Speech: e.inSpeech, Confidence: confidence(avg, e.cfg.SpeechThreshold)}, nil
}

// Reset clears the smoothing window and speech state.
func (e *Energy) Reset() {
	for i := range e.window {
		e.window[i] = 0
	}
	e.writePos = 0
	e.filled = 0
	e.sum = 0
	e.inSpeech = false
}

// Close is a no-op; the energy detector holds no external resources.
func (e *Energy) Close() error { return nil }

// confidence maps a smoothed energy level to a pseudo-probability: 0.5 at
// the speech threshold, saturating towards 1 for louder input.
func confidence(avg, threshold float64) float32 {
	if threshold <= 0 {
		return 0
	}
	c := avg / (2 * threshold)
	if c > 1 {
		c = 1
	}
	return float32(c)
}
