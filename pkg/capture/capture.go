// Package capture abstracts the real-time audio input device.
//
// A Source owns the platform audio device and delivers fixed-duration
// [audio.AudioFrame] values through a callback that runs on the device's
// capture thread. The callback must never block — it is expected to do
// nothing more than push the frame into a ring buffer.
//
// Device-level failures (disconnect, backend errors) are reported through
// the error callback; they are fatal to the capture stream and require an
// explicit restart by the owner.
package capture

import (
	"context"
	"time"

	"github.com/voxd-io/voxd/pkg/audio"
)

// FrameFunc receives each captured frame. It runs on the capture thread
// and must not block.
type FrameFunc func(audio.AudioFrame)

// ErrorFunc receives a fatal device error. It may be called at most once
// per Start.
type ErrorFunc func(error)

// Config describes the capture format.
type Config struct {
	// SampleRate in Hz. The device is opened mono at this rate.
	SampleRate int

	// FrameDuration is the period size of each delivered frame.
	FrameDuration time.Duration

	// Device optionally selects a capture device by case-insensitive name
	// substring. Empty selects the system default device.
	Device string
}

// Source is an audio input device delivering frames until stopped.
//
// Pause and Resume suspend and restart frame production without releasing
// the device. A Source is not safe for concurrent use; the pipeline
// controller serialises lifecycle calls.
type Source interface {
	// Start opens the device and begins frame delivery. The context bounds
	// device initialisation only; delivery continues until Pause or Close.
	Start(ctx context.Context) error

	// Pause suspends frame production. No frames are delivered until
	// Resume. Pausing an already-paused source is a no-op.
	Pause() error

	// Resume restarts frame production after Pause. Sequence numbers
	// continue from where they left off.
	Resume() error

	// Close stops the device and releases all resources. After Close the
	// source cannot be restarted.
	Close() error
}
