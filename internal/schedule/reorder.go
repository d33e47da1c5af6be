package schedule

import (
	"fmt"
	"sync"
	"time"
)

// reorderEntry tracks one submitted utterance until its result is released
// or discarded.
type reorderEntry struct {
	id        uint64
	res       Result
	done      bool
	cancelled bool
}

// reorderBuffer holds completed results until they can be released in
// utterance-ID order. Entries are registered in submission order; a result
// leaves the buffer when everything submitted before it has been released,
// cancelled, or force-released after the reorder timeout.
type reorderBuffer struct {
	mu      sync.Mutex
	timeout time.Duration
	policy  LatePolicy
	out     chan<- Result

	// onForcedRelease observes each timeout-driven release for metrics.
	onForcedRelease func()

	entries []*reorderEntry
	byID    map[uint64]*reorderEntry

	// late holds IDs that were force-released while still pending. A result
	// arriving for one of them is delivered flagged or dropped, per policy.
	late map[uint64]struct{}

	timer    *time.Timer
	timerFor uint64
	closed   bool
}

func newReorderBuffer(timeout time.Duration, policy LatePolicy, out chan<- Result, onForcedRelease func()) *reorderBuffer {
	return &reorderBuffer{
		timeout:         timeout,
		policy:          policy,
		out:             out,
		onForcedRelease: onForcedRelease,
		byID:            make(map[uint64]*reorderEntry),
		late:            make(map[uint64]struct{}),
	}
}

// register reserves an ordering slot for the utterance. Must be called in
// strictly increasing ID order.
func (b *reorderBuffer) register(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	e := &reorderEntry{id: id}
	b.entries = append(b.entries, e)
	b.byID[id] = e
}

// complete stores the result for id and releases everything now in order.
func (b *reorderBuffer) complete(id uint64, res Result) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	if _, wasLate := b.late[id]; wasLate {
		delete(b.late, id)
		if b.policy == LateDeliver {
			res.Late = true
			b.out <- res
		}
		return
	}
	e, ok := b.byID[id]
	if !ok {
		return
	}
	e.res = res
	e.done = true
	b.release()
}

// cancel marks id as never producing a result, so it no longer holds up
// later utterances.
func (b *reorderBuffer) cancel(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	if _, wasLate := b.late[id]; wasLate {
		delete(b.late, id)
		return
	}
	e, ok := b.byID[id]
	if !ok {
		return
	}
	e.cancelled = true
	b.release()
}

// release pops head entries while they are terminal, delivering completed
// results in order. A pending head arms the reorder timeout. Caller holds mu.
func (b *reorderBuffer) release() {
	for len(b.entries) > 0 {
		head := b.entries[0]
		switch {
		case head.done:
			b.out <- head.res
		case head.cancelled:
			// nothing to deliver
		default:
			b.armTimer(head.id)
			return
		}
		b.pop()
	}
	b.stopTimer()
}

// pop removes the head entry. Caller holds mu.
func (b *reorderBuffer) pop() {
	head := b.entries[0]
	delete(b.byID, head.id)
	b.entries = b.entries[1:]
	if b.timerFor == head.id {
		b.stopTimer()
	}
}

// armTimer schedules a forced release for the pending head entry. Re-arming
// for the same ID is a no-op, so the timeout measures continuous head-of-line
// blocking by one job.
func (b *reorderBuffer) armTimer(id uint64) {
	if b.timerFor == id {
		return
	}
	b.stopTimer()
	b.timerFor = id
	b.timer = time.AfterFunc(b.timeout, func() { b.onTimeout(id) })
}

func (b *reorderBuffer) stopTimer() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.timerFor = 0
}

// onTimeout force-releases the head entry when it is still the one the timer
// was armed for.
func (b *reorderBuffer) onTimeout(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || len(b.entries) == 0 {
		return
	}
	head := b.entries[0]
	if head.id != id || head.done || head.cancelled {
		return
	}
	if b.onForcedRelease != nil {
		b.onForcedRelease()
	}
	b.late[id] = struct{}{}
	if b.policy == LateDrop {
		b.out <- Result{
			UtteranceID: id,
			Err:         fmt.Errorf("utterance %d: %w", id, ErrReorderTimeout),
		}
	}
	b.pop()
	b.release()
}

// close stops the timer and drops any remaining state. No deliveries happen
// after close returns.
func (b *reorderBuffer) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.stopTimer()
	b.entries = nil
	b.byID = nil
	b.late = nil
}

// pendingLen reports the number of unreleased entries, for tests and health.
func (b *reorderBuffer) pendingLen() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}
