//go:build silero

package vad

import (
	"fmt"

	"github.com/streamer45/silero-vad-go/speech"

	"github.com/voxd-io/voxd/pkg/audio"
)

// sileroChunk is the sample count the Silero model operates on (32 ms at
// 16 kHz). Incoming frames are re-chunked to this size internally.
const sileroChunk = 512

// Silero wraps the Silero ONNX voice-activity model behind the [Detector]
// contract. Frames are buffered and analysed in fixed 512-sample chunks;
// the decision for a frame reflects the model state after the last chunk
// that frame completed.
//
// Requires the onnxruntime shared library at run time. Build with
// `-tags silero` to enable.
type Silero struct {
	detector *speech.Detector

	pending    []float32
	inSpeech   bool
	lastScore  float32
	sampleRate int
}

// Compile-time assertion that Silero satisfies Detector.
var _ Detector = (*Silero)(nil)

// SileroConfig configures the Silero detector.
type SileroConfig struct {
	// ModelPath is the path to the silero_vad.onnx model file.
	ModelPath string

	// SampleRate must be 8000 or 16000.
	SampleRate int

	// Threshold is the speech probability threshold (typical: 0.5).
	Threshold float32

	// MinSilenceDurationMs is the model-internal silence duration before a
	// speech segment is considered ended.
	MinSilenceDurationMs int

	// SpeechPadMs pads detected segments at both ends.
	SpeechPadMs int
}

// NewSilero loads the Silero VAD model and returns a detector.
func NewSilero(cfg SileroConfig) (*Silero, error) {
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("vad: silero model path must not be empty")
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Threshold == 0 {
		cfg.Threshold = 0.5
	}
	if cfg.MinSilenceDurationMs == 0 {
		cfg.MinSilenceDurationMs = 100
	}

	d, err := speech.NewDetector(speech.DetectorConfig{
		ModelPath:            cfg.ModelPath,
		SampleRate:           cfg.SampleRate,
		Threshold:            cfg.Threshold,
		MinSilenceDurationMs: cfg.MinSilenceDurationMs,
		SpeechPadMs:          cfg.SpeechPadMs,
	})
	if err != nil {
		return nil, fmt.Errorf("vad: create silero detector: %w", err)
	}
	return &Silero{detector: d, sampleRate: cfg.SampleRate}, nil
}

// Classify buffers the frame's samples and runs the model over every
// complete 512-sample chunk.
func (s *Silero) Classify(frame audio.AudioFrame) (Decision, error) {
	s.pending = append(s.pending, audio.PCMToFloat32(frame.Data)...)

	for len(s.pending) >= sileroChunk {
		chunk := s.pending[:sileroChunk]
		s.pending = s.pending[sileroChunk:]

		segments, err := s.detector.Detect(chunk)
		if err != nil {
			return Decision{}, fmt.Errorf("vad: silero detect: %w", err)
		}
		for _, seg := range segments {
			if seg.SpeechStartAt > 0 {
				s.inSpeech = true
			}
			if seg.SpeechEndAt > 0 {
				s.inSpeech = false
			}
		}
	}

	conf := float32(0)
	if s.inSpeech {
		conf = 1
	}
	s.lastScore = conf
	return Decision{Speech: s.inSpeech, Confidence: conf}, nil
}

// Reset clears the model state and any partially buffered chunk.
func (s *Silero) Reset() {
	s.pending = s.pending[:0]
	s.inSpeech = false
	if s.detector != nil {
		_ = s.detector.Reset()
	}
}

// Close destroys the underlying ONNX session.
func (s *Silero) Close() error {
	if s.detector == nil {
		return nil
	}
	err := s.detector.Destroy()
	s.detector = nil
	return err
}
