// Package pipeline wires capture, segmentation, scheduling, and delivery
// into one supervised dictation pipeline.
//
// The controller owns the lifecycle: Start opens the capture source and the
// consumer loop, Pause and Resume suspend frame flow without losing buffered
// state, and Stop propagates one cancellation end-to-end: capture stops, the
// open utterance is flushed, outstanding inference is cancelled, and the
// sink receives a final PipelineStopped call. A capture device failure is
// the only fatal condition; everything else is recorded and survived.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/voxd-io/voxd/internal/observe"
	"github.com/voxd-io/voxd/internal/schedule"
	"github.com/voxd-io/voxd/internal/segment"
	"github.com/voxd-io/voxd/pkg/audio"
	"github.com/voxd-io/voxd/pkg/capture"
	"github.com/voxd-io/voxd/pkg/transcriber"
	"github.com/voxd-io/voxd/pkg/vad"
)

// ErrCaptureFailure marks a device-level failure that killed the pipeline.
var ErrCaptureFailure = errors.New("capture failure")

// ErrShutdownTimeout marks in-flight work abandoned because it outlived the
// shutdown timeout.
var ErrShutdownTimeout = errors.New("shutdown timed out")

// Defaults applied by Config.withDefaults for zero-valued fields.
const (
	DefaultPollInterval    = 5 * time.Millisecond
	DefaultShutdownTimeout = 5 * time.Second
	DefaultRingCapacity    = 150 // frames; 3 s of 20 ms frames

	popBatchSize = 32
)

// SourceFactory builds the capture source wired to the controller's
// callbacks. The real implementation returns a microphone; tests inject a
// scripted source.
type SourceFactory func(onFrame capture.FrameFunc, onError capture.ErrorFunc) (capture.Source, error)

// Config assembles the per-component settings the controller passes down.
type Config struct {
	// RingCapacity is the capture ring size in frames. Sized to tolerate
	// worst-case consumer scheduling jitter (a few seconds of audio).
	RingCapacity int

	// PollInterval is how often the consumer loop drains the ring.
	PollInterval time.Duration

	// ShutdownTimeout bounds how long Stop waits for in-flight inference.
	ShutdownTimeout time.Duration

	Segmenter segment.Config
	Scheduler schedule.Config
}

func (c *Config) withDefaults() {
	if c.RingCapacity == 0 {
		c.RingCapacity = DefaultRingCapacity
	}
	if c.PollInterval == 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
}

// Deps are the externally supplied collaborators.
type Deps struct {
	// NewSource builds the capture source.
	NewSource SourceFactory

	// Detector classifies frames as speech or silence. The controller
	// closes it on Stop.
	Detector vad.Detector

	// Transcriber performs utterance inference. The controller closes it
	// on Stop.
	Transcriber transcriber.Transcriber

	// Sink receives ordered results and the final stop notification.
	Sink Sink

	// Partials optionally receives interim hypotheses.
	Partials PartialSink

	// Metrics overrides the default metrics instance, mainly for tests.
	Metrics *observe.Metrics
}

// state is the controller lifecycle state.
type state int

const (
	stateIdle state = iota
	stateRunning
	statePaused
	stateStopped
)

// Controller owns the pipeline components and their lifecycle.
type Controller struct {
	cfg     Config
	deps    Deps
	metrics *observe.Metrics

	ring      *audio.Ring
	segmenter *segment.Segmenter
	scheduler *schedule.Scheduler
	source    capture.Source

	group      *errgroup.Group
	cancelLoop context.CancelFunc

	mu            sync.Mutex
	state         state
	resumePending atomic.Bool
	fatalOnce     sync.Once
	stopOnce      sync.Once
	stopErr       error
	lastDropped   uint64
}

// New creates an idle controller. Call Start to begin capture.
func New(cfg Config, deps Deps) (*Controller, error) {
	cfg.withDefaults()
	var errs []error
	if deps.NewSource == nil {
		errs = append(errs, errors.New("source factory must not be nil"))
	}
	if deps.Detector == nil {
		errs = append(errs, errors.New("detector must not be nil"))
	}
	if deps.Transcriber == nil {
		errs = append(errs, errors.New("transcriber must not be nil"))
	}
	if deps.Sink == nil {
		errs = append(errs, errors.New("sink must not be nil"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("pipeline: invalid deps: %w", err)
	}

	c := &Controller{cfg: cfg, deps: deps, metrics: deps.Metrics}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c, nil
}

// Start builds the components and begins capture and consumption. It
// returns once audio is flowing; the pipeline then runs until Stop or a
// capture failure.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateIdle {
		return fmt.Errorf("pipeline: cannot start from state %d", c.state)
	}

	c.ring = audio.NewRing(c.cfg.RingCapacity)

	var schedOpts []schedule.Option
	schedOpts = append(schedOpts, schedule.WithMetrics(c.metrics))
	if c.deps.Partials != nil {
		schedOpts = append(schedOpts, schedule.WithPartialObserver(c.deps.Partials.DeliverPartial))
	}
	scheduler, err := schedule.New(c.cfg.Scheduler, c.deps.Transcriber, c.deps.Sink.Deliver, schedOpts...)
	if err != nil {
		return err
	}
	c.scheduler = scheduler

	segmenter, err := segment.New(c.cfg.Segmenter, c.deps.Detector, c.submit,
		segment.WithDiscardObserver(func(*segment.Utterance) {
			c.metrics.Utterances.Add(context.Background(), 1,
				metric.WithAttributes(observe.Attr("outcome", "discarded")))
		}))
	if err != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), c.cfg.ShutdownTimeout)
		defer cancel()
		_ = scheduler.Stop(stopCtx)
		return err
	}
	c.segmenter = segmenter

	source, err := c.deps.NewSource(c.onFrame, c.onCaptureError)
	if err != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), c.cfg.ShutdownTimeout)
		defer cancel()
		_ = scheduler.Stop(stopCtx)
		return fmt.Errorf("pipeline: build capture source: %w", err)
	}
	c.source = source

	if err := source.Start(ctx); err != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), c.cfg.ShutdownTimeout)
		defer cancel()
		_ = scheduler.Stop(stopCtx)
		_ = source.Close()
		return fmt.Errorf("pipeline: start capture: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	c.cancelLoop = cancel
	c.group, _ = errgroup.WithContext(loopCtx)
	c.group.Go(func() error {
		c.consumeLoop(loopCtx)
		return nil
	})

	c.state = stateRunning
	slog.Info("pipeline started")
	return nil
}

// submit hands a closed utterance to the scheduler. Runs on the consumer
// goroutine.
func (c *Controller) submit(u *segment.Utterance) {
	c.metrics.Utterances.Add(context.Background(), 1,
		metric.WithAttributes(observe.Attr("outcome", "closed")))
	if err := c.scheduler.Submit(u); err != nil {
		slog.Warn("utterance submission rejected", "utterance_id", u.ID, "error", err)
	}
}

// onFrame runs on the capture thread. It only pushes into the ring.
func (c *Controller) onFrame(frame audio.AudioFrame) {
	c.ring.Push(frame)
}

// onCaptureError handles a fatal device failure: the pipeline stops and the
// sink is told why. Runs at most once; later device noise is ignored.
func (c *Controller) onCaptureError(err error) {
	c.fatalOnce.Do(func() {
		fatal := fmt.Errorf("pipeline: %w: %v", ErrCaptureFailure, err)
		slog.Error("capture failed, stopping pipeline", "error", err)
		go func() {
			_ = c.stop(fatal)
		}()
	})
}

// consumeLoop drains the ring on a tight poll, feeding the segmenter. VAD
// and segmentation work per frame is O(1), so the loop keeps up with
// capture at any realistic frame rate.
func (c *Controller) consumeLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		c.mu.Lock()
		paused := c.state == statePaused
		c.mu.Unlock()
		if paused {
			continue
		}

		if c.resumePending.CompareAndSwap(true, false) {
			c.segmenter.MarkResume()
		}
		c.drainRing()
	}
}

// drainRing consumes whatever the ring currently holds and records dropped
// frames since the last visit.
func (c *Controller) drainRing() {
	for {
		batch := c.ring.PopBatch(popBatchSize)
		if len(batch) == 0 {
			break
		}
		for _, frame := range batch {
			if err := c.segmenter.Process(frame); err != nil {
				slog.Warn("frame classification failed", "seq", frame.Seq, "error", err)
			}
		}
	}

	if dropped := c.ring.Dropped(); dropped > c.lastDropped {
		c.metrics.DroppedFrames.Add(context.Background(), int64(dropped-c.lastDropped))
		c.lastDropped = dropped
	}
}

// Pause suspends frame production and consumption. Buffered state, including
// an open utterance, survives until Resume.
func (c *Controller) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateRunning {
		return fmt.Errorf("pipeline: cannot pause from state %d", c.state)
	}
	if err := c.source.Pause(); err != nil {
		return fmt.Errorf("pipeline: pause capture: %w", err)
	}
	c.state = statePaused
	slog.Info("pipeline paused")
	return nil
}

// Resume restarts frame flow after a pause.
func (c *Controller) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != statePaused {
		return fmt.Errorf("pipeline: cannot resume from state %d", c.state)
	}
	if err := c.source.Resume(); err != nil {
		return fmt.Errorf("pipeline: resume capture: %w", err)
	}
	// The segmenter is only touched from the consumer goroutine, so the
	// resume mark is applied there on the next tick.
	c.resumePending.Store(true)
	c.state = stateRunning
	slog.Info("pipeline resumed")
	return nil
}

// Stop shuts the pipeline down: capture stops, remaining buffered audio is
// consumed, the open utterance is flushed, outstanding inference is
// cancelled, and the sink receives PipelineStopped. Safe to call more than
// once; later calls return the first outcome.
func (c *Controller) Stop() error {
	return c.stop(nil)
}

func (c *Controller) stop(fatal error) error {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		started := c.state == stateRunning || c.state == statePaused
		c.state = stateStopped
		c.mu.Unlock()
		if !started {
			return
		}

		if err := c.source.Close(); err != nil {
			slog.Warn("capture close failed", "error", err)
		}
		c.cancelLoop()
		_ = c.group.Wait()

		// Consume what the capture thread managed to push before closing,
		// then flush the open utterance.
		c.drainRing()
		c.segmenter.Flush()

		c.scheduler.CancelAll()
		stopCtx, cancel := context.WithTimeout(context.Background(), c.cfg.ShutdownTimeout)
		defer cancel()
		if err := c.scheduler.Stop(stopCtx); err != nil {
			c.stopErr = fmt.Errorf("pipeline: %w: %v", ErrShutdownTimeout, err)
			slog.Warn("in-flight inference abandoned at shutdown", "error", err)
		}

		if err := c.deps.Detector.Close(); err != nil {
			slog.Warn("detector close failed", "error", err)
		}
		if err := c.deps.Transcriber.Close(); err != nil {
			slog.Warn("transcriber close failed", "error", err)
		}

		final := fatal
		if final == nil {
			final = c.stopErr
		}
		c.deps.Sink.PipelineStopped(final)
		if fatal != nil && c.stopErr == nil {
			c.stopErr = fatal
		}
		slog.Info("pipeline stopped", "error", final)
	})
	return c.stopErr
}

// Running reports whether the pipeline is actively consuming audio. Used by
// the readiness probe.
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == stateRunning
}

// DroppedFrames reports the cumulative capture-ring eviction count.
func (c *Controller) DroppedFrames() uint64 {
	if c.ring == nil {
		return 0
	}
	return c.ring.Dropped()
}
