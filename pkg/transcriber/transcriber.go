// Package transcriber defines the Transcriber interface for batch
// speech-to-text backends.
//
// A transcriber receives a complete utterance as raw PCM audio and returns
// the recognised text. Segmentation happens upstream; implementations only
// need to turn one finished audio buffer into one transcript. Implementations
// must be safe for concurrent use because the scheduler dispatches several
// utterances at once.
package transcriber

import "context"

// Request carries one complete utterance for transcription.
type Request struct {
	// PCM is raw 16-bit signed little-endian mono audio.
	PCM []byte

	// SampleRate is the sample rate of PCM in Hz.
	SampleRate int

	// Language is the BCP-47 language code (e.g., "en", "de"). An empty
	// string uses the backend's configured default.
	Language string

	// OnPartial, when non-nil, receives interim hypotheses as the backend
	// produces them. Backends that only do batch inference may ignore it or
	// invoke it once with the final text. Callbacks run on the backend's
	// goroutine and must not block.
	OnPartial func(text string)
}

// Result is the outcome of a successful transcription.
type Result struct {
	// Text is the recognised text with surrounding whitespace trimmed.
	Text string

	// Language is the language the backend actually used, if it reports one.
	Language string
}

// Transcriber is the abstraction over any speech-to-text backend.
//
// Transcribe must honour ctx: when the context is cancelled before or during
// inference the call returns ctx.Err() (possibly wrapped) and the result is
// discarded by the caller. Close releases backend resources; calls to
// Transcribe after Close return an error.
type Transcriber interface {
	Transcribe(ctx context.Context, req Request) (Result, error)
	Close() error
}
