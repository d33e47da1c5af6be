// Package schedule dispatches closed utterances to a transcriber with
// bounded concurrency and delivers results in utterance-ID order.
//
// At most K transcriber calls run at once; jobs beyond that wait in a queue
// of depth Q. When the queue overflows, the oldest pending job is cancelled
// and superseded (drop-oldest backpressure), favouring low latency for
// recent speech over completeness under sustained overload. Completed
// results pass through a reorder buffer so the sink always observes
// non-decreasing utterance IDs; a job that blocks the head of the buffer
// past the reorder timeout is force-released per the configured late policy.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/voxd-io/voxd/internal/observe"
	"github.com/voxd-io/voxd/internal/segment"
	"github.com/voxd-io/voxd/pkg/transcriber"
)

// Defaults applied by Config.withDefaults for zero-valued fields.
const (
	DefaultConcurrency    = 2
	DefaultQueueDepth     = 8
	DefaultReorderTimeout = 10 * time.Second
)

// ErrReorderTimeout marks an error record delivered in place of a result
// that did not arrive before the reorder timeout under the drop policy.
var ErrReorderTimeout = errors.New("result missed the reorder timeout")

// ErrStopped is returned by Submit after Stop has begun.
var ErrStopped = errors.New("scheduler is stopped")

// LatePolicy decides what happens to a result that arrives after its slot
// was force-released from the reorder buffer.
type LatePolicy string

const (
	// LateDeliver hands the late result to the sink flagged as late. This
	// is the only case where the sink observes a decreasing utterance ID.
	LateDeliver LatePolicy = "deliver"

	// LateDrop discards the late result; the sink already received an error
	// record for the utterance when the timeout fired.
	LateDrop LatePolicy = "drop"
)

// Config holds the scheduling limits.
type Config struct {
	// Concurrency is the maximum number of in-flight transcriber calls (K).
	Concurrency int

	// QueueDepth is the maximum number of jobs waiting for a slot (Q).
	QueueDepth int

	// ReorderTimeout bounds how long one missing result may block in-order
	// delivery of everything behind it.
	ReorderTimeout time.Duration

	// LatePolicy picks the fate of results arriving after a force-release.
	LatePolicy LatePolicy

	// Language is the BCP-47 language code passed to the transcriber.
	Language string
}

func (c *Config) withDefaults() {
	if c.Concurrency == 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.QueueDepth == 0 {
		c.QueueDepth = DefaultQueueDepth
	}
	if c.ReorderTimeout == 0 {
		c.ReorderTimeout = DefaultReorderTimeout
	}
	if c.LatePolicy == "" {
		c.LatePolicy = LateDeliver
	}
}

func (c Config) validate() error {
	var errs []error
	if c.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("concurrency %d must be at least 1", c.Concurrency))
	}
	if c.QueueDepth < 1 {
		errs = append(errs, fmt.Errorf("queue depth %d must be at least 1", c.QueueDepth))
	}
	if c.ReorderTimeout <= 0 {
		errs = append(errs, fmt.Errorf("reorder timeout %v must be positive", c.ReorderTimeout))
	}
	if c.LatePolicy != LateDeliver && c.LatePolicy != LateDrop {
		errs = append(errs, fmt.Errorf("late policy %q must be %q or %q", c.LatePolicy, LateDeliver, LateDrop))
	}
	return errors.Join(errs...)
}

// Result is one ordered delivery to the sink: either a transcript or an
// explicit per-utterance error record.
type Result struct {
	UtteranceID uint64
	Text        string
	Err         error

	// Start and End are the utterance's stream-relative capture timestamps.
	Start time.Duration
	End   time.Duration

	// Latency is the transcriber call duration.
	Latency time.Duration

	// Late marks a result released after its reorder slot timed out.
	Late bool
}

// DeliverFunc receives results on the single ordered delivery path. It runs
// on one goroutine; implementations need not be thread-safe but must not
// block indefinitely.
type DeliverFunc func(Result)

// PartialFunc observes interim hypotheses for an utterance still being
// transcribed. Partials are advisory and carry no ordering guarantee.
type PartialFunc func(utteranceID uint64, text string)

// Option configures optional scheduler behaviour.
type Option func(*Scheduler)

// WithMetrics replaces the metrics instance, mainly for tests.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithPartialObserver registers a callback for interim hypotheses.
func WithPartialObserver(fn PartialFunc) Option {
	return func(s *Scheduler) { s.onPartial = fn }
}

// Scheduler owns the pending queue, the worker pool, and the reorder buffer.
type Scheduler struct {
	cfg       Config
	tr        transcriber.Transcriber
	metrics   *observe.Metrics
	onPartial PartialFunc

	ctx    context.Context
	cancel context.CancelFunc
	sem    *semaphore.Weighted
	wg     sync.WaitGroup

	out        chan Result
	reorder    *reorderBuffer
	deliveryWG sync.WaitGroup

	mu      sync.Mutex
	pending []*job
	jobs    map[uint64]*job
	lastID  uint64
	stopped bool
}

// job is one submitted utterance on its way through the scheduler.
type job struct {
	u      *segment.Utterance
	ctx    context.Context
	cancel context.CancelFunc

	// handled is set once the job has been claimed off the pending queue,
	// either by its worker or by drop-oldest eviction. Guarded by
	// Scheduler.mu.
	handled bool
}

// New creates a scheduler delivering ordered results to deliver.
func New(cfg Config, tr transcriber.Transcriber, deliver DeliverFunc, opts ...Option) (*Scheduler, error) {
	cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("schedule: invalid config: %w", err)
	}
	if tr == nil {
		return nil, errors.New("schedule: transcriber must not be nil")
	}
	if deliver == nil {
		return nil, errors.New("schedule: deliver must not be nil")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cfg:    cfg,
		tr:     tr,
		ctx:    ctx,
		cancel: cancel,
		sem:    semaphore.NewWeighted(int64(cfg.Concurrency)),
		out:    make(chan Result, cfg.Concurrency+cfg.QueueDepth),
		jobs:   make(map[uint64]*job),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	s.reorder = newReorderBuffer(cfg.ReorderTimeout, cfg.LatePolicy, s.out, func() {
		s.metrics.ForcedReleases.Add(context.Background(), 1)
	})

	s.deliveryWG.Add(1)
	go s.deliveryLoop(deliver)
	return s, nil
}

// Submit accepts a closed utterance without blocking. Utterance IDs must be
// strictly increasing.
func (s *Scheduler) Submit(u *segment.Utterance) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return fmt.Errorf("schedule: %w", ErrStopped)
	}
	if u.ID <= s.lastID {
		s.mu.Unlock()
		return fmt.Errorf("schedule: utterance ID %d not after %d", u.ID, s.lastID)
	}
	s.lastID = u.ID
	u.State = segment.Submitted

	jctx, jcancel := context.WithCancel(s.ctx)
	j := &job{u: u, ctx: jctx, cancel: jcancel}
	s.pending = append(s.pending, j)
	s.jobs[u.ID] = j
	s.reorder.register(u.ID)
	s.metrics.QueueDepth.Add(jctx, 1)
	s.metrics.UtteranceDuration.Record(jctx, u.Duration().Seconds())

	// Drop-oldest backpressure: the queue never holds more than Q jobs.
	if len(s.pending) > s.cfg.QueueDepth {
		s.evictOldestLocked()
	}
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(j)
	return nil
}

// evictOldestLocked cancels and discards the oldest pending job. Caller
// holds mu.
func (s *Scheduler) evictOldestLocked() {
	victim := s.pending[0]
	s.pending = s.pending[1:]
	victim.handled = true
	victim.cancel()
	victim.u.State = segment.Cancelled
	delete(s.jobs, victim.u.ID)

	s.reorder.cancel(victim.u.ID)
	s.metrics.QueueDrops.Add(context.Background(), 1)
	s.metrics.QueueDepth.Add(context.Background(), -1)
	slog.Debug("pending job superseded", "utterance_id", victim.u.ID)
}

// claim removes j from the pending queue. It returns false when the job was
// already evicted.
func (s *Scheduler) claim(j *job) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j.handled {
		return false
	}
	j.handled = true
	for i, p := range s.pending {
		if p == j {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			break
		}
	}
	s.metrics.QueueDepth.Add(context.Background(), -1)
	return true
}

// run carries one job through slot acquisition, inference, and reordering.
func (s *Scheduler) run(j *job) {
	defer s.wg.Done()
	defer j.cancel()
	defer func() {
		s.mu.Lock()
		delete(s.jobs, j.u.ID)
		s.mu.Unlock()
	}()

	if err := s.sem.Acquire(j.ctx, 1); err != nil {
		if s.claim(j) {
			j.u.State = segment.Cancelled
			s.reorder.cancel(j.u.ID)
		}
		return
	}
	defer s.sem.Release(1)

	if !s.claim(j) {
		return
	}
	// Acquire can succeed on an already-cancelled context when a slot is
	// free, so the token is checked again before touching the transcriber.
	if j.ctx.Err() != nil {
		j.u.State = segment.Cancelled
		s.reorder.cancel(j.u.ID)
		return
	}

	s.metrics.InflightJobs.Add(context.Background(), 1)
	defer s.metrics.InflightJobs.Add(context.Background(), -1)

	ctx, span := observe.StartSpan(j.ctx, "transcribe utterance",
		trace.WithAttributes(observe.Attr("utterance_id", fmt.Sprint(j.u.ID))))
	defer span.End()

	var onPartial func(string)
	if s.onPartial != nil {
		id := j.u.ID
		onPartial = func(text string) { s.onPartial(id, text) }
	}

	start := time.Now()
	res, err := s.tr.Transcribe(ctx, transcriber.Request{
		PCM:        j.u.PCM,
		SampleRate: j.u.SampleRate,
		Language:   s.cfg.Language,
		OnPartial:  onPartial,
	})
	latency := time.Since(start)
	s.metrics.InferenceDuration.Record(context.Background(), latency.Seconds())

	// A result arriving after cancellation is dropped, never delivered.
	if j.ctx.Err() != nil {
		j.u.State = segment.Cancelled
		s.reorder.cancel(j.u.ID)
		return
	}

	if err != nil {
		j.u.State = segment.Failed
		s.metrics.TranscriptionFailures.Add(context.Background(), 1)
		observe.Logger(ctx).Warn("transcription failed",
			"utterance_id", j.u.ID, "error", err, "latency", latency)
		s.reorder.complete(j.u.ID, Result{
			UtteranceID: j.u.ID,
			Err:         fmt.Errorf("utterance %d: %w", j.u.ID, err),
			Start:       j.u.Start,
			End:         j.u.End,
			Latency:     latency,
		})
		return
	}

	j.u.State = segment.Completed
	s.reorder.complete(j.u.ID, Result{
		UtteranceID: j.u.ID,
		Text:        res.Text,
		Start:       j.u.Start,
		End:         j.u.End,
		Latency:     latency,
	})
}

// deliveryLoop is the single consumer of the out channel, preserving order
// without requiring a thread-safe sink.
func (s *Scheduler) deliveryLoop(deliver DeliverFunc) {
	defer s.deliveryWG.Done()
	for res := range s.out {
		status := "ok"
		switch {
		case res.Err != nil:
			status = "error"
		case res.Late:
			status = "late"
		}
		s.metrics.Results.Add(context.Background(), 1,
			metric.WithAttributes(observe.Attr("status", status)))
		deliver(res)
	}
}

// CancelAll cancels every pending and in-flight job. In-flight transcriber
// calls are cancelled cooperatively; their results, if any, are dropped.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(s.jobs))
	for _, j := range s.jobs {
		cancels = append(cancels, j.cancel)
	}
	s.mu.Unlock()
	for _, c := range cancels {
		c()
	}
}

// QueueLen reports the number of jobs waiting for an inference slot.
func (s *Scheduler) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Stop rejects further submissions, cancels all jobs, and waits for workers
// bounded by ctx. On a clean stop the delivery path is drained and closed;
// when ctx expires first the remaining work is abandoned.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("schedule: stop: %w", ctx.Err())
	}

	s.reorder.close()
	close(s.out)
	s.deliveryWG.Wait()
	return nil
}
