package pipeline

import "github.com/voxd-io/voxd/internal/schedule"

// Sink is the ordered consumer of transcription results. Deliver runs on a
// single goroutine; implementations need not be thread-safe but must not
// block indefinitely. PipelineStopped is the final call a sink receives:
// err is nil after a clean stop and non-nil when the pipeline died from a
// capture failure or abandoned work at shutdown.
type Sink interface {
	Deliver(res schedule.Result)
	PipelineStopped(err error)
}

// PartialSink optionally receives interim hypotheses while an utterance is
// still being transcribed. Partials are advisory: they carry no ordering
// guarantee and may arrive on any goroutine.
type PartialSink interface {
	DeliverPartial(utteranceID uint64, text string)
}
