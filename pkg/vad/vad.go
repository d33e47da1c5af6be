// Package vad defines the per-frame voice-activity detection contract and
// the detectors that implement it.
//
// A Detector classifies one audio frame at a time, carrying only a small
// bounded amount of internal smoothing state. Detectors are synchronous by
// design: Classify returns immediately, making it suitable for the
// low-latency segmentation loop that gates transcription input. A Detector
// is owned by a single goroutine; implementations are not required to be
// safe for concurrent use.
//
// The default detector ([Energy]) is fully deterministic given identical
// input history, which the segmenter's tests rely on. The Silero ONNX
// detector is available behind the `silero` build tag.
package vad

import "github.com/voxd-io/voxd/pkg/audio"

// Decision is the per-frame classification result.
type Decision struct {
	// Speech reports whether the frame is classified as speech.
	Speech bool

	// Confidence is the speech probability score (0.0–1.0).
	Confidence float32
}

// Detector classifies audio frames as speech or silence.
type Detector interface {
	// Classify analyses a single audio frame and returns the decision.
	// It must not block; returns an error only on internal detector
	// failure (e.g., model inference error), never for borderline audio.
	Classify(frame audio.AudioFrame) (Decision, error)

	// Reset clears all accumulated smoothing state. Use this when the
	// audio stream is interrupted or restarted so stale history does not
	// affect subsequent frames.
	Reset()

	// Close releases detector resources. Calling Close more than once is
	// safe and returns nil.
	Close() error
}
