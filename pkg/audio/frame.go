// Package audio provides the audio value types and buffering primitives
// shared by the capture, segmentation, and transcription stages.
package audio

import "time"

// bitsPerSample is fixed at 16 for the signed little-endian PCM audio the
// pipeline carries end to end.
const bitsPerSample = 16

// AudioFrame is a single fixed-duration block of mono PCM audio flowing
// through the pipeline. Frames are immutable once produced: the capture
// source owns a frame until it is pushed into the ring, after which it is
// only ever shared read-only.
type AudioFrame struct {
	// Data is 16-bit signed little-endian mono PCM.
	Data []byte

	// SampleRate in Hz (e.g., 16000 for STT input).
	SampleRate int

	// Seq is the monotonically increasing capture sequence number. The first
	// frame of a session has Seq 1.
	Seq uint64

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Samples returns the number of PCM samples in the frame.
func (f AudioFrame) Samples() int {
	return len(f.Data) / (bitsPerSample / 8)
}

// Duration returns the play time of the frame, or 0 when the sample rate
// is unset.
func (f AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.Samples()) * time.Second / time.Duration(f.SampleRate)
}
