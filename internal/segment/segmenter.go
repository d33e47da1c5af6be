// Package segment turns a stream of audio frames plus voice-activity
// decisions into bounded Utterance values.
//
// The segmenter is a two-state machine: Idle while only silence arrives, and
// Accumulating while an utterance is open. Speech onset opens an utterance
// with a pre-roll of recently buffered silence prepended; a sustained silence
// run (the hangover) closes it. Utterances longer than the configured maximum
// are force-closed and reopened with overlap from the tail so continuous
// speech still yields bounded chunks. Utterances whose speech content is
// below the minimum-viable duration are discarded as noise spikes.
//
// The segmenter is single-goroutine: Process and Flush must be called from
// one consumer loop.
package segment

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/voxd-io/voxd/pkg/audio"
	"github.com/voxd-io/voxd/pkg/vad"
)

// Defaults applied by Config.withDefaults for zero-valued fields.
const (
	DefaultPreRoll      = 200 * time.Millisecond
	DefaultHangover     = 500 * time.Millisecond
	DefaultMinUtterance = 300 * time.Millisecond
	DefaultMaxUtterance = 15 * time.Second
	DefaultTailOverlap  = 500 * time.Millisecond
)

// Config holds the segmentation thresholds. All durations refer to audio
// time, not wall-clock time.
type Config struct {
	// SampleRate is the expected sample rate of incoming frames in Hz.
	SampleRate int

	// PreRoll is the amount of already-buffered audio prepended to a new
	// utterance at speech onset, so the first phoneme is not clipped.
	PreRoll time.Duration

	// Hangover is the silence run required before an open utterance closes.
	Hangover time.Duration

	// MinUtterance is the minimum speech content an utterance needs to be
	// submitted; anything shorter is discarded.
	MinUtterance time.Duration

	// MaxUtterance force-closes an utterance that grows past this length
	// even without silence, bounding memory and inference cost.
	MaxUtterance time.Duration

	// TailOverlap is the amount of audio carried from a force-closed
	// utterance into its successor so no speech is lost at the split.
	TailOverlap time.Duration

	// ResetMaxOnResume resets the max-utterance budget of an open utterance
	// when the pipeline resumes from pause. When false the budget is
	// preserved across the pause boundary.
	ResetMaxOnResume bool
}

func (c *Config) withDefaults() {
	if c.PreRoll == 0 {
		c.PreRoll = DefaultPreRoll
	}
	if c.Hangover == 0 {
		c.Hangover = DefaultHangover
	}
	if c.MinUtterance == 0 {
		c.MinUtterance = DefaultMinUtterance
	}
	if c.MaxUtterance == 0 {
		c.MaxUtterance = DefaultMaxUtterance
	}
	if c.TailOverlap == 0 {
		c.TailOverlap = DefaultTailOverlap
	}
}

func (c Config) validate() error {
	var errs []error
	if c.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("sample rate %d must be positive", c.SampleRate))
	}
	if c.PreRoll < 0 {
		errs = append(errs, fmt.Errorf("pre-roll %v must not be negative", c.PreRoll))
	}
	if c.Hangover <= 0 {
		errs = append(errs, fmt.Errorf("hangover %v must be positive", c.Hangover))
	}
	if c.MinUtterance < 0 {
		errs = append(errs, fmt.Errorf("min utterance %v must not be negative", c.MinUtterance))
	}
	if c.MaxUtterance <= c.MinUtterance {
		errs = append(errs, fmt.Errorf("max utterance %v must exceed min utterance %v", c.MaxUtterance, c.MinUtterance))
	}
	if c.TailOverlap < 0 || c.TailOverlap >= c.MaxUtterance {
		errs = append(errs, fmt.Errorf("tail overlap %v must be in [0, max utterance)", c.TailOverlap))
	}
	return errors.Join(errs...)
}

// EmitFunc receives each closed utterance, in strictly increasing ID order.
// It must not block; the consumer loop is latency-sensitive.
type EmitFunc func(*Utterance)

// Segmenter consumes frames and VAD decisions and emits bounded utterances.
type Segmenter struct {
	cfg      Config
	detector vad.Detector
	emit     EmitFunc

	// onDiscard, when set, observes utterances dropped for being below the
	// minimum-viable duration.
	onDiscard func(*Utterance)

	accumulating bool
	current      *Utterance
	nextID       uint64

	// preRoll holds recent silence frames, trimmed to cfg.PreRoll, used to
	// seed the next utterance. Only maintained while idle.
	preRoll    []audio.AudioFrame
	preRollDur time.Duration

	silenceRun time.Duration
	speechDur  time.Duration
	budget     time.Duration
}

// Option configures optional segmenter behaviour.
type Option func(*Segmenter)

// WithDiscardObserver registers a callback invoked for every utterance
// discarded below the minimum-viable duration.
func WithDiscardObserver(fn func(*Utterance)) Option {
	return func(s *Segmenter) { s.onDiscard = fn }
}

// New creates a segmenter. Closed utterances are handed to emit; detector
// classifies each frame.
func New(cfg Config, detector vad.Detector, emit EmitFunc, opts ...Option) (*Segmenter, error) {
	cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("segment: invalid config: %w", err)
	}
	if detector == nil {
		return nil, errors.New("segment: detector must not be nil")
	}
	if emit == nil {
		return nil, errors.New("segment: emit must not be nil")
	}
	s := &Segmenter{
		cfg:      cfg,
		detector: detector,
		emit:     emit,
		nextID:   1,
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Process classifies one frame and advances the state machine.
func (s *Segmenter) Process(frame audio.AudioFrame) error {
	decision, err := s.detector.Classify(frame)
	if err != nil {
		return fmt.Errorf("segment: classify frame %d: %w", frame.Seq, err)
	}

	if !s.accumulating {
		if !decision.Speech {
			s.bufferPreRoll(frame)
			return nil
		}
		s.open(frame)
		return nil
	}

	s.append(frame)
	if decision.Speech {
		s.silenceRun = 0
		s.speechDur += frame.Duration()
	} else {
		s.silenceRun += frame.Duration()
		if s.silenceRun >= s.cfg.Hangover {
			s.close()
			return nil
		}
	}

	if s.budget >= s.cfg.MaxUtterance {
		s.forceSplit()
	}
	return nil
}

// Flush force-closes any open utterance, applying the minimum-viable policy.
// Called on stop and session end.
func (s *Segmenter) Flush() {
	if s.accumulating {
		s.close()
	}
}

// MarkResume informs the segmenter that the pipeline resumed from pause.
// With ResetMaxOnResume set, the max-utterance budget of an open utterance
// starts over.
func (s *Segmenter) MarkResume() {
	if s.cfg.ResetMaxOnResume && s.accumulating {
		s.budget = 0
	}
}

// Accumulating reports whether an utterance is currently open.
func (s *Segmenter) Accumulating() bool { return s.accumulating }

// ── state transitions ─────────────────────────────────────────────────────────

// open starts a new utterance at speech onset, seeded with the pre-roll.
func (s *Segmenter) open(frame audio.AudioFrame) {
	u := &Utterance{
		ID:         s.nextID,
		SampleRate: s.cfg.SampleRate,
		State:      Open,
	}
	s.nextID++

	if len(s.preRoll) > 0 {
		u.Start = s.preRoll[0].Timestamp
		for _, f := range s.preRoll {
			u.PCM = append(u.PCM, f.Data...)
		}
	} else {
		u.Start = frame.Timestamp
	}
	s.preRoll = nil
	s.preRollDur = 0

	s.current = u
	s.accumulating = true
	s.silenceRun = 0
	s.speechDur = 0
	s.budget = u.Duration()

	s.append(frame)
	s.speechDur += frame.Duration()

	slog.Debug("utterance opened", "utterance_id", u.ID, "start", u.Start)
}

// append adds one frame to the open utterance.
func (s *Segmenter) append(frame audio.AudioFrame) {
	s.current.PCM = append(s.current.PCM, frame.Data...)
	s.current.End = frame.Timestamp + frame.Duration()
	s.budget += frame.Duration()
}

// close finalizes the open utterance and returns to idle. Utterances with
// too little speech content are discarded instead of emitted.
func (s *Segmenter) close() {
	u := s.current
	s.current = nil
	s.accumulating = false
	s.silenceRun = 0

	if s.speechDur < s.cfg.MinUtterance {
		slog.Debug("utterance discarded below minimum",
			"utterance_id", u.ID, "speech", s.speechDur, "min", s.cfg.MinUtterance)
		if s.onDiscard != nil {
			s.onDiscard(u)
		}
		return
	}

	u.State = Closed
	slog.Debug("utterance closed",
		"utterance_id", u.ID, "duration", u.Duration(), "speech", s.speechDur)
	s.emit(u)
}

// forceSplit closes the over-long open utterance and immediately reopens a
// successor seeded with the tail overlap, so continuous speech keeps flowing
// in bounded chunks.
func (s *Segmenter) forceSplit() {
	u := s.current
	u.State = Closed

	overlapBytes := 2 * int(s.cfg.TailOverlap.Seconds()*float64(s.cfg.SampleRate))
	if overlapBytes > len(u.PCM) {
		overlapBytes = len(u.PCM)
	}
	tail := make([]byte, overlapBytes)
	copy(tail, u.PCM[len(u.PCM)-overlapBytes:])

	overlapDur := time.Duration(overlapBytes/2) * time.Second / time.Duration(s.cfg.SampleRate)

	next := &Utterance{
		ID:         s.nextID,
		SampleRate: s.cfg.SampleRate,
		State:      Open,
		PCM:        tail,
		Start:      u.End - overlapDur,
		End:        u.End,
	}
	s.nextID++

	slog.Debug("utterance force-split",
		"utterance_id", u.ID, "duration", u.Duration(), "overlap", overlapDur)
	s.emit(u)

	s.current = next
	s.silenceRun = 0
	s.speechDur = overlapDur
	s.budget = overlapDur
}

// bufferPreRoll retains recent idle frames, trimmed to the configured
// pre-roll duration.
func (s *Segmenter) bufferPreRoll(frame audio.AudioFrame) {
	if s.cfg.PreRoll == 0 {
		return
	}
	s.preRoll = append(s.preRoll, frame)
	s.preRollDur += frame.Duration()
	for len(s.preRoll) > 0 && s.preRollDur-s.preRoll[0].Duration() >= s.cfg.PreRoll {
		s.preRollDur -= s.preRoll[0].Duration()
		s.preRoll = s.preRoll[1:]
	}
}
