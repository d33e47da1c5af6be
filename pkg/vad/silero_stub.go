//go:build !silero

package vad

import "errors"

// SileroConfig configures the Silero detector. See silero.go for field
// semantics; this stub keeps the type available to callers in builds
// without the `silero` tag.
type SileroConfig struct {
	ModelPath            string
	SampleRate           int
	Threshold            float32
	MinSilenceDurationMs int
	SpeechPadMs          int
}

// NewSilero reports that this binary was built without Silero support.
// Build with `-tags silero` (and the onnxruntime shared library installed)
// to enable the ONNX detector.
func NewSilero(SileroConfig) (Detector, error) {
	return nil, errors.New("vad: silero detector not available: rebuild with -tags silero")
}
