package schedule_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/voxd-io/voxd/internal/observe"
	"github.com/voxd-io/voxd/internal/schedule"
	"github.com/voxd-io/voxd/internal/segment"
	"github.com/voxd-io/voxd/pkg/transcriber"
)

// ---- helpers ----------------------------------------------------------------

// funcTranscriber adapts a function to the transcriber interface so tests
// can control blocking and results per utterance.
type funcTranscriber struct {
	fn func(ctx context.Context, req transcriber.Request) (transcriber.Result, error)

	mu    sync.Mutex
	calls int
}

func (f *funcTranscriber) Transcribe(ctx context.Context, req transcriber.Request) (transcriber.Result, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.fn(ctx, req)
}

func (f *funcTranscriber) Close() error { return nil }

func (f *funcTranscriber) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// recorder collects delivered results from the single delivery path.
type recorder struct {
	mu      sync.Mutex
	results []schedule.Result
}

func (r *recorder) deliver(res schedule.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
}

func (r *recorder) snapshot() []schedule.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]schedule.Result, len(r.results))
	copy(out, r.results)
	return out
}

// waitFor polls until the recorder holds at least n results or the deadline
// passes.
func (r *recorder) waitFor(t *testing.T, n int) []schedule.Result {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if got := r.snapshot(); len(got) >= n {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d results, have %d", n, len(r.snapshot()))
	return nil
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider()
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func utt(id uint64, dur time.Duration) *segment.Utterance {
	samples := int(dur.Seconds() * 16000)
	return &segment.Utterance{
		ID:         id,
		PCM:        make([]byte, samples*2),
		SampleRate: 16000,
		Start:      0,
		End:        dur,
		State:      segment.Closed,
	}
}

func newScheduler(t *testing.T, cfg schedule.Config, tr transcriber.Transcriber, rec *recorder) *schedule.Scheduler {
	t.Helper()
	s, err := schedule.New(cfg, tr, rec.deliver, schedule.WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	})
	return s
}

// ---- tests ------------------------------------------------------------------

func TestConfigValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     schedule.Config
		wantErr bool
	}{
		{"defaults", schedule.Config{}, false},
		{"negative concurrency", schedule.Config{Concurrency: -1}, true},
		{"negative queue depth", schedule.Config{QueueDepth: -1}, true},
		{"bad late policy", schedule.Config{LatePolicy: "maybe"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tr := &funcTranscriber{fn: func(context.Context, transcriber.Request) (transcriber.Result, error) {
				return transcriber.Result{}, nil
			}}
			_, err := schedule.New(tt.cfg, tr, func(schedule.Result) {})
			if gotErr := err != nil; gotErr != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSequentialDelivery(t *testing.T) {
	t.Parallel()

	tr := &funcTranscriber{fn: func(_ context.Context, req transcriber.Request) (transcriber.Result, error) {
		return transcriber.Result{Text: fmt.Sprintf("len %d", len(req.PCM))}, nil
	}}
	rec := &recorder{}
	s := newScheduler(t, schedule.Config{Concurrency: 1}, tr, rec)

	for id := uint64(1); id <= 5; id++ {
		if err := s.Submit(utt(id, time.Second)); err != nil {
			t.Fatalf("Submit(%d) error = %v", id, err)
		}
	}

	got := rec.waitFor(t, 5)
	for i, res := range got {
		if res.UtteranceID != uint64(i+1) {
			t.Errorf("result %d: UtteranceID = %d, want %d", i, res.UtteranceID, i+1)
		}
		if res.Err != nil {
			t.Errorf("result %d: Err = %v", i, res.Err)
		}
	}
}

func TestSubmitRejectsNonIncreasingID(t *testing.T) {
	t.Parallel()

	tr := &funcTranscriber{fn: func(context.Context, transcriber.Request) (transcriber.Result, error) {
		return transcriber.Result{}, nil
	}}
	rec := &recorder{}
	s := newScheduler(t, schedule.Config{}, tr, rec)

	if err := s.Submit(utt(5, time.Second)); err != nil {
		t.Fatalf("Submit(5) error = %v", err)
	}
	if err := s.Submit(utt(5, time.Second)); err == nil {
		t.Error("Submit(5) again: error = nil, want error")
	}
	if err := s.Submit(utt(3, time.Second)); err == nil {
		t.Error("Submit(3) after 5: error = nil, want error")
	}
}

func TestSecondJobQueuesBehindFirst(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	tr := &funcTranscriber{fn: func(ctx context.Context, req transcriber.Request) (transcriber.Result, error) {
		// Only the first utterance blocks.
		if len(req.PCM) == 32000 {
			select {
			case <-release:
			case <-ctx.Done():
				return transcriber.Result{}, ctx.Err()
			}
		}
		return transcriber.Result{Text: "ok"}, nil
	}}
	rec := &recorder{}
	s := newScheduler(t, schedule.Config{Concurrency: 1, QueueDepth: 4}, tr, rec)

	if err := s.Submit(utt(1, time.Second)); err != nil { // blocks in flight
		t.Fatalf("Submit(1) error = %v", err)
	}
	if err := s.Submit(utt(2, 2*time.Second)); err != nil { // queues
		t.Fatalf("Submit(2) error = %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	if got := rec.snapshot(); len(got) != 0 {
		t.Fatalf("delivered %d results while first job in flight, want 0", len(got))
	}

	close(release)
	got := rec.waitFor(t, 2)
	if got[0].UtteranceID != 1 || got[1].UtteranceID != 2 {
		t.Errorf("delivery order = [%d, %d], want [1, 2]", got[0].UtteranceID, got[1].UtteranceID)
	}
}

func TestReorderBuffersOutOfOrderCompletions(t *testing.T) {
	t.Parallel()

	gates := map[uint64]chan struct{}{
		1: make(chan struct{}),
		2: make(chan struct{}),
	}
	tr := &funcTranscriber{fn: func(ctx context.Context, req transcriber.Request) (transcriber.Result, error) {
		id := uint64(len(req.PCM) / 32000) // duration in seconds encodes the ID
		select {
		case <-gates[id]:
		case <-ctx.Done():
			return transcriber.Result{}, ctx.Err()
		}
		return transcriber.Result{Text: fmt.Sprintf("u%d", id)}, nil
	}}
	rec := &recorder{}
	s := newScheduler(t, schedule.Config{Concurrency: 2}, tr, rec)

	if err := s.Submit(utt(1, time.Second)); err != nil {
		t.Fatalf("Submit(1) error = %v", err)
	}
	if err := s.Submit(utt(2, 2*time.Second)); err != nil {
		t.Fatalf("Submit(2) error = %v", err)
	}

	// Finish the second utterance first; it must wait for the first.
	close(gates[2])
	time.Sleep(50 * time.Millisecond)
	if got := rec.snapshot(); len(got) != 0 {
		t.Fatalf("delivered %d results before utterance 1 completed, want 0", len(got))
	}

	close(gates[1])
	got := rec.waitFor(t, 2)
	if got[0].UtteranceID != 1 || got[1].UtteranceID != 2 {
		t.Errorf("delivery order = [%d, %d], want [1, 2]", got[0].UtteranceID, got[1].UtteranceID)
	}
	if got[0].Text != "u1" || got[1].Text != "u2" {
		t.Errorf("texts = [%q, %q], want [u1, u2]", got[0].Text, got[1].Text)
	}
}

func TestDropOldestBackpressure(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	started := make(chan struct{}, 4)
	tr := &funcTranscriber{fn: func(ctx context.Context, req transcriber.Request) (transcriber.Result, error) {
		started <- struct{}{}
		select {
		case <-release:
		case <-ctx.Done():
			return transcriber.Result{}, ctx.Err()
		}
		return transcriber.Result{Text: "ok"}, nil
	}}
	rec := &recorder{}
	s := newScheduler(t, schedule.Config{Concurrency: 1, QueueDepth: 2}, tr, rec)

	// Job 1 occupies the single slot; jobs 2 and 3 fill the queue; job 4
	// evicts job 2, the oldest pending.
	if err := s.Submit(utt(1, time.Second)); err != nil {
		t.Fatalf("Submit(1) error = %v", err)
	}
	<-started // job 1 holds the inference slot
	for id := uint64(2); id <= 4; id++ {
		if err := s.Submit(utt(id, time.Second)); err != nil {
			t.Fatalf("Submit(%d) error = %v", id, err)
		}
	}

	if got := s.QueueLen(); got != 2 {
		t.Errorf("QueueLen() = %d, want 2", got)
	}

	close(release)
	got := rec.waitFor(t, 3)
	wantIDs := []uint64{1, 3, 4}
	for i, res := range got {
		if res.UtteranceID != wantIDs[i] {
			t.Errorf("result %d: UtteranceID = %d, want %d", i, res.UtteranceID, wantIDs[i])
		}
	}

	// The evicted job never reached the transcriber: one in-flight call
	// plus two queued jobs that later ran.
	if calls := tr.callCount(); calls != 3 {
		t.Errorf("transcriber calls = %d, want 3", calls)
	}
}

func TestFailureDeliversErrorRecordAndContinues(t *testing.T) {
	t.Parallel()

	boom := errors.New("model exploded")
	tr := &funcTranscriber{fn: func(_ context.Context, req transcriber.Request) (transcriber.Result, error) {
		if len(req.PCM) == 32000 {
			return transcriber.Result{}, boom
		}
		return transcriber.Result{Text: "fine"}, nil
	}}
	rec := &recorder{}
	s := newScheduler(t, schedule.Config{Concurrency: 1}, tr, rec)

	if err := s.Submit(utt(1, time.Second)); err != nil {
		t.Fatalf("Submit(1) error = %v", err)
	}
	if err := s.Submit(utt(2, 2*time.Second)); err != nil {
		t.Fatalf("Submit(2) error = %v", err)
	}

	got := rec.waitFor(t, 2)
	if got[0].UtteranceID != 1 || !errors.Is(got[0].Err, boom) {
		t.Errorf("result 0 = %+v, want error record for utterance 1", got[0])
	}
	if got[1].UtteranceID != 2 || got[1].Err != nil || got[1].Text != "fine" {
		t.Errorf("result 1 = %+v, want clean result for utterance 2", got[1])
	}
}

func TestReorderTimeoutDeliverPolicy(t *testing.T) {
	t.Parallel()

	stuck := make(chan struct{})
	tr := &funcTranscriber{fn: func(ctx context.Context, req transcriber.Request) (transcriber.Result, error) {
		if len(req.PCM) == 32000 {
			select {
			case <-stuck:
			case <-ctx.Done():
				return transcriber.Result{}, ctx.Err()
			}
			return transcriber.Result{Text: "slow"}, nil
		}
		return transcriber.Result{Text: "fast"}, nil
	}}
	rec := &recorder{}
	s := newScheduler(t, schedule.Config{
		Concurrency:    2,
		ReorderTimeout: 100 * time.Millisecond,
		LatePolicy:     schedule.LateDeliver,
	}, tr, rec)

	if err := s.Submit(utt(1, time.Second)); err != nil { // stuck
		t.Fatalf("Submit(1) error = %v", err)
	}
	if err := s.Submit(utt(2, 2*time.Second)); err != nil {
		t.Fatalf("Submit(2) error = %v", err)
	}

	// After the reorder timeout, utterance 2 is released past the stuck
	// head job.
	got := rec.waitFor(t, 1)
	if got[0].UtteranceID != 2 || got[0].Late {
		t.Fatalf("result 0 = %+v, want on-time result for utterance 2", got[0])
	}

	// The stuck job finally finishes; its result arrives flagged late.
	close(stuck)
	got = rec.waitFor(t, 2)
	if got[1].UtteranceID != 1 || !got[1].Late || got[1].Text != "slow" {
		t.Errorf("result 1 = %+v, want late result for utterance 1", got[1])
	}
}

func TestReorderTimeoutDropPolicy(t *testing.T) {
	t.Parallel()

	stuck := make(chan struct{})
	tr := &funcTranscriber{fn: func(ctx context.Context, req transcriber.Request) (transcriber.Result, error) {
		if len(req.PCM) == 32000 {
			select {
			case <-stuck:
			case <-ctx.Done():
				return transcriber.Result{}, ctx.Err()
			}
			return transcriber.Result{Text: "slow"}, nil
		}
		return transcriber.Result{Text: "fast"}, nil
	}}
	rec := &recorder{}
	s := newScheduler(t, schedule.Config{
		Concurrency:    2,
		ReorderTimeout: 100 * time.Millisecond,
		LatePolicy:     schedule.LateDrop,
	}, tr, rec)

	if err := s.Submit(utt(1, time.Second)); err != nil {
		t.Fatalf("Submit(1) error = %v", err)
	}
	if err := s.Submit(utt(2, 2*time.Second)); err != nil {
		t.Fatalf("Submit(2) error = %v", err)
	}

	// The timeout yields an error record for utterance 1, then utterance 2.
	got := rec.waitFor(t, 2)
	if got[0].UtteranceID != 1 || !errors.Is(got[0].Err, schedule.ErrReorderTimeout) {
		t.Fatalf("result 0 = %+v, want reorder-timeout error record", got[0])
	}
	if got[1].UtteranceID != 2 || got[1].Err != nil {
		t.Fatalf("result 1 = %+v, want clean result for utterance 2", got[1])
	}

	// The late result is dropped silently.
	close(stuck)
	time.Sleep(100 * time.Millisecond)
	if got := rec.snapshot(); len(got) != 2 {
		t.Errorf("delivered %d results, want 2 (late result dropped)", len(got))
	}
}

func TestCancelAllSuppressesResults(t *testing.T) {
	t.Parallel()

	tr := &funcTranscriber{fn: func(ctx context.Context, req transcriber.Request) (transcriber.Result, error) {
		<-ctx.Done()
		return transcriber.Result{}, ctx.Err()
	}}
	rec := &recorder{}
	s := newScheduler(t, schedule.Config{Concurrency: 1, QueueDepth: 4}, tr, rec)

	for id := uint64(1); id <= 3; id++ {
		if err := s.Submit(utt(id, time.Second)); err != nil {
			t.Fatalf("Submit(%d) error = %v", id, err)
		}
	}
	s.CancelAll()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if got := rec.snapshot(); len(got) != 0 {
		t.Errorf("delivered %d results after CancelAll, want 0", len(got))
	}
	// Only the in-flight job ever reached the transcriber.
	if calls := tr.callCount(); calls > 1 {
		t.Errorf("transcriber calls = %d, want at most 1", calls)
	}
}

func TestStopTimesOutOnStuckTranscriber(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	defer close(block)
	tr := &funcTranscriber{fn: func(context.Context, transcriber.Request) (transcriber.Result, error) {
		<-block // ignores cancellation
		return transcriber.Result{}, nil
	}}
	rec := &recorder{}
	s, err := schedule.New(schedule.Config{Concurrency: 1}, tr, rec.deliver,
		schedule.WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := s.Submit(utt(1, time.Second)); err != nil {
		t.Fatalf("Submit(1) error = %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := s.Stop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Stop() error = %v, want deadline exceeded", err)
	}
}

func TestSubmitAfterStop(t *testing.T) {
	t.Parallel()

	tr := &funcTranscriber{fn: func(context.Context, transcriber.Request) (transcriber.Result, error) {
		return transcriber.Result{}, nil
	}}
	rec := &recorder{}
	s, err := schedule.New(schedule.Config{}, tr, rec.deliver,
		schedule.WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := s.Submit(utt(1, time.Second)); !errors.Is(err, schedule.ErrStopped) {
		t.Errorf("Submit() after Stop: error = %v, want ErrStopped", err)
	}
}

func TestPartialObserver(t *testing.T) {
	t.Parallel()

	tr := &funcTranscriber{fn: func(_ context.Context, req transcriber.Request) (transcriber.Result, error) {
		if req.OnPartial != nil {
			req.OnPartial("interim")
		}
		return transcriber.Result{Text: "final"}, nil
	}}
	rec := &recorder{}

	var (
		mu       sync.Mutex
		partials []string
	)
	s, err := schedule.New(schedule.Config{}, tr, rec.deliver,
		schedule.WithMetrics(testMetrics(t)),
		schedule.WithPartialObserver(func(id uint64, text string) {
			mu.Lock()
			partials = append(partials, fmt.Sprintf("%d:%s", id, text))
			mu.Unlock()
		}))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	})

	if err := s.Submit(utt(1, time.Second)); err != nil {
		t.Fatalf("Submit(1) error = %v", err)
	}
	rec.waitFor(t, 1)

	mu.Lock()
	defer mu.Unlock()
	if len(partials) != 1 || partials[0] != "1:interim" {
		t.Errorf("partials = %v, want [1:interim]", partials)
	}
}
