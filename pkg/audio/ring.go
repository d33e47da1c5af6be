package audio

import (
	"sync"
	"sync/atomic"
)

// Ring is a fixed-capacity circular buffer of [AudioFrame] values written by
// the capture callback and drained by the segmentation loop.
//
// Push never blocks: when the ring is full the oldest unread frame is
// evicted and the dropped-frame counter increments. Losing the oldest audio
// under sustained overload is the designed degradation — the capture thread
// must never stall on buffer fullness.
//
// All operations hold the mutex only for a constant-time window, so Push is
// safe to call from a realtime audio callback.
type Ring struct {
	mu    sync.Mutex
	slots []AudioFrame
	head  int // index of the oldest unread frame
	size  int // number of unread frames

	dropped atomic.Uint64
}

// NewRing creates a ring holding at most capacity frames. Capacity must be
// at least 1; smaller values are clamped.
func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{slots: make([]AudioFrame, capacity)}
}

// Push appends a frame. When the ring is full the oldest frame is evicted
// and the dropped counter increments.
func (r *Ring) Push(frame AudioFrame) {
	r.mu.Lock()
	if r.size == len(r.slots) {
		// Evict the oldest frame.
		r.head = (r.head + 1) % len(r.slots)
		r.size--
		r.dropped.Add(1)
	}
	tail := (r.head + r.size) % len(r.slots)
	r.slots[tail] = frame
	r.size++
	r.mu.Unlock()
}

// PopBatch removes and returns up to max frames in capture order. It never
// blocks; when no frames are buffered it returns nil.
func (r *Ring) PopBatch(max int) []AudioFrame {
	if max <= 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.size
	if n > max {
		n = max
	}
	if n == 0 {
		return nil
	}

	out := make([]AudioFrame, n)
	for i := range out {
		out[i] = r.slots[r.head]
		r.slots[r.head] = AudioFrame{} // release payload reference
		r.head = (r.head + 1) % len(r.slots)
	}
	r.size -= n
	return out
}

// Len returns the number of unread frames.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Capacity returns the fixed frame capacity of the ring.
func (r *Ring) Capacity() int {
	return len(r.slots)
}

// Dropped returns the total number of frames evicted because the ring was
// full. The counter is cumulative for the lifetime of the ring.
func (r *Ring) Dropped() uint64 {
	return r.dropped.Load()
}
