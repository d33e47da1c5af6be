// Package mock provides a scripted vad.Detector for tests.
package mock

import (
	"github.com/voxd-io/voxd/pkg/audio"
	"github.com/voxd-io/voxd/pkg/vad"
)

// Detector is a scripted vad.Detector. Each call to Classify consumes the
// next queued decision; when the script is exhausted it returns the Fallback
// decision. The zero value classifies everything as silence.
type Detector struct {
	// Script is consumed one decision per Classify call.
	Script []vad.Decision

	// Fallback is returned after the script is exhausted.
	Fallback vad.Decision

	// Err, when non-nil, is returned by every Classify call.
	Err error

	// Calls counts Classify invocations.
	Calls int

	// ResetCalls counts Reset invocations.
	ResetCalls int
}

// Compile-time assertion that Detector satisfies vad.Detector.
var _ vad.Detector = (*Detector)(nil)

// Classify returns the next scripted decision.
func (d *Detector) Classify(audio.AudioFrame) (vad.Decision, error) {
	d.Calls++
	if d.Err != nil {
		return vad.Decision{}, d.Err
	}
	if len(d.Script) > 0 {
		dec := d.Script[0]
		d.Script = d.Script[1:]
		return dec, nil
	}
	return d.Fallback, nil
}

// Reset records the call.
func (d *Detector) Reset() { d.ResetCalls++ }

// Close is a no-op.
func (d *Detector) Close() error { return nil }
