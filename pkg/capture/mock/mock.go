// Package mock provides a scripted capture source for tests.
package mock

import (
	"context"
	"sync"

	"github.com/voxd-io/voxd/pkg/audio"
	"github.com/voxd-io/voxd/pkg/capture"
)

var _ capture.Source = (*Source)(nil)

// Source is a capture source driven by the test instead of hardware.
// Frames are injected with Emit; errors with Fail.
type Source struct {
	StartErr  error
	PauseErr  error
	ResumeErr error
	CloseErr  error

	mu      sync.Mutex
	onFrame capture.FrameFunc
	onError capture.ErrorFunc
	started bool
	paused  bool
	closed  bool

	StartCalls  int
	PauseCalls  int
	ResumeCalls int
	CloseCalls  int
}

// New creates a mock source wired to the given callbacks.
func New(onFrame capture.FrameFunc, onError capture.ErrorFunc) *Source {
	return &Source{onFrame: onFrame, onError: onError}
}

func (s *Source) Start(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.StartCalls++
	if s.StartErr != nil {
		return s.StartErr
	}
	s.started = true
	return nil
}

func (s *Source) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PauseCalls++
	if s.PauseErr != nil {
		return s.PauseErr
	}
	s.paused = true
	return nil
}

func (s *Source) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ResumeCalls++
	if s.ResumeErr != nil {
		return s.ResumeErr
	}
	s.paused = false
	return nil
}

func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCalls++
	s.closed = true
	return s.CloseErr
}

// Emit delivers a frame as if it arrived from the device. Frames emitted
// while paused or closed are dropped, matching real device behavior.
func (s *Source) Emit(frame audio.AudioFrame) {
	s.mu.Lock()
	deliver := s.started && !s.paused && !s.closed
	fn := s.onFrame
	s.mu.Unlock()
	if deliver && fn != nil {
		fn(frame)
	}
}

// Fail reports a device error through the error callback.
func (s *Source) Fail(err error) {
	s.mu.Lock()
	fn := s.onError
	s.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

// Paused reports whether the source is currently paused.
func (s *Source) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}
