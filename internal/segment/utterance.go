package segment

import (
	"fmt"
	"time"
)

// State is the lifecycle state of an Utterance.
type State int

const (
	// Open means the segmenter is still accumulating audio into the utterance.
	Open State = iota
	// Closed means the utterance is finalized and eligible for inference.
	Closed
	// Submitted means the scheduler has taken ownership of the utterance.
	Submitted
	// Completed means inference succeeded and the result was handed on.
	Completed
	// Cancelled means the utterance was superseded or the pipeline stopped
	// before inference finished.
	Cancelled
	// Failed means the transcriber returned an error for this utterance.
	Failed
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case Closed:
		return "closed"
	case Submitted:
		return "submitted"
	case Completed:
		return "completed"
	case Cancelled:
		return "cancelled"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Utterance is one bounded, contiguous span of detected speech treated as a
// single transcription unit. The segmenter mutates it while Open; from
// Submitted onward the scheduler owns it exclusively.
type Utterance struct {
	// ID is unique and strictly increasing across the pipeline's lifetime.
	ID uint64

	// PCM is the accumulated 16-bit signed little-endian mono audio,
	// including pre-roll and hangover padding.
	PCM []byte

	// SampleRate is the sample rate of PCM in Hz.
	SampleRate int

	// Start and End are stream-relative capture timestamps of the first and
	// last audio in the utterance.
	Start time.Duration
	End   time.Duration

	// State is the lifecycle state. Only the current owner writes it.
	State State
}

// Duration returns the audio duration derived from the PCM length.
func (u *Utterance) Duration() time.Duration {
	if u.SampleRate <= 0 {
		return 0
	}
	samples := len(u.PCM) / 2
	return time.Duration(samples) * time.Second / time.Duration(u.SampleRate)
}
