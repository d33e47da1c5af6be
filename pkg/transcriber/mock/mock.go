// Package mock provides a scripted Transcriber for tests.
package mock

import (
	"context"
	"sync"

	"github.com/voxd-io/voxd/pkg/transcriber"
)

var _ transcriber.Transcriber = (*Transcriber)(nil)

// Call records one Transcribe invocation.
type Call struct {
	PCMLen     int
	SampleRate int
	Language   string
}

// Transcriber returns scripted results in call order. When the script is
// exhausted it returns Fallback (or FallbackErr). Transcribe blocks on Gate
// when set, letting tests control inference timing, and honours context
// cancellation while blocked.
type Transcriber struct {
	// Script is consumed one entry per call; each entry is either a result
	// or an error.
	Script []Outcome

	Fallback    transcriber.Result
	FallbackErr error

	// Gate, when non-nil, is received from before each scripted outcome is
	// returned. Close it or send to it to release calls.
	Gate chan struct{}

	// Partial, when non-empty, is emitted through req.OnPartial before the
	// final result.
	Partial string

	mu     sync.Mutex
	next   int
	Calls  []Call
	Closed bool
}

// Outcome is one scripted Transcribe result.
type Outcome struct {
	Result transcriber.Result
	Err    error
}

func (m *Transcriber) Transcribe(ctx context.Context, req transcriber.Request) (transcriber.Result, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, Call{PCMLen: len(req.PCM), SampleRate: req.SampleRate, Language: req.Language})
	idx := m.next
	m.next++
	gate := m.Gate
	m.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return transcriber.Result{}, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return transcriber.Result{}, err
	}

	if m.Partial != "" && req.OnPartial != nil {
		req.OnPartial(m.Partial)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if idx < len(m.Script) {
		out := m.Script[idx]
		return out.Result, out.Err
	}
	return m.Fallback, m.FallbackErr
}

func (m *Transcriber) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return nil
}

// CallCount returns the number of Transcribe invocations so far.
func (m *Transcriber) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}
