// Package feed streams transcription results to WebSocket subscribers and
// hosts the service's HTTP surface: the live result feed, health probes,
// and the Prometheus metrics endpoint.
//
// The Hub is the pipeline's result sink. Delivery into the hub never
// blocks: each subscriber has a bounded outbound queue, and a subscriber
// that cannot keep up is disconnected rather than allowed to stall the
// ordered delivery path.
package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/voxd-io/voxd/internal/schedule"
)

// subscriberQueueSize bounds each subscriber's outbound event queue.
const subscriberQueueSize = 64

// Event is one JSON message on the feed. Kind is one of "result", "error",
// "partial", or "stopped"; the remaining fields are populated per kind.
type Event struct {
	Kind        string `json:"kind"`
	UtteranceID uint64 `json:"utterance_id,omitempty"`
	Text        string `json:"text,omitempty"`
	Error       string `json:"error,omitempty"`
	StartMs     int64  `json:"start_ms,omitempty"`
	EndMs       int64  `json:"end_ms,omitempty"`
	LatencyMs   int64  `json:"latency_ms,omitempty"`
	Late        bool   `json:"late,omitempty"`
}

// subscriber is one connected WebSocket client.
type subscriber struct {
	events chan Event
	cancel context.CancelFunc
}

// Hub fans transcription events out to WebSocket subscribers. It implements
// the pipeline's result and partial sinks.
type Hub struct {
	partials bool

	mu      sync.Mutex
	subs    map[*subscriber]struct{}
	stopped bool
	final   *Event
}

// HubOption configures optional hub behaviour.
type HubOption func(*Hub)

// WithPartials enables forwarding of interim hypotheses on the feed.
func WithPartials() HubOption {
	return func(h *Hub) { h.partials = true }
}

// NewHub creates an empty hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{subs: make(map[*subscriber]struct{})}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Deliver broadcasts one ordered pipeline result.
func (h *Hub) Deliver(r schedule.Result) {
	ev := Event{
		Kind:        "result",
		UtteranceID: r.UtteranceID,
		Text:        r.Text,
		StartMs:     r.Start.Milliseconds(),
		EndMs:       r.End.Milliseconds(),
		LatencyMs:   r.Latency.Milliseconds(),
		Late:        r.Late,
	}
	if r.Err != nil {
		ev.Kind = "error"
		ev.Error = r.Err.Error()
	}
	h.broadcast(ev)
}

// DeliverPartial broadcasts an interim hypothesis when partials are enabled.
func (h *Hub) DeliverPartial(utteranceID uint64, text string) {
	if !h.partials {
		return
	}
	h.broadcast(Event{Kind: "partial", UtteranceID: utteranceID, Text: text})
}

// PipelineStopped broadcasts the terminal event and disconnects all
// subscribers. New subscribers after this point receive the terminal event
// immediately.
func (h *Hub) PipelineStopped(err error) {
	ev := Event{Kind: "stopped"}
	if err != nil {
		ev.Error = err.Error()
	}

	h.mu.Lock()
	h.stopped = true
	h.final = &ev
	subs := make([]*subscriber, 0, len(h.subs))
	for sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		sub.send(ev)
	}
}

// State broadcasts a pipeline state change ("running", "paused").
func (h *Hub) State(name string) {
	h.broadcast(Event{Kind: "state", Text: name})
}

// PartialsEnabled reports whether interim hypotheses are forwarded.
func (h *Hub) PartialsEnabled() bool { return h.partials }

// SubscriberCount reports the number of connected feed clients.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) broadcast(ev Event) {
	h.mu.Lock()
	subs := make([]*subscriber, 0, len(h.subs))
	for sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		if !sub.send(ev) {
			// The subscriber's queue is full; disconnect it rather than
			// block the delivery path.
			sub.cancel()
			h.remove(sub)
			slog.Warn("feed subscriber dropped, queue full")
		}
	}
}

func (h *Hub) add(sub *subscriber) (stopped *Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return h.final
	}
	h.subs[sub] = struct{}{}
	return nil
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, sub)
}

// send queues ev for the subscriber, reporting false when the queue is full.
func (s *subscriber) send(ev Event) bool {
	select {
	case s.events <- ev:
		return true
	default:
		return false
	}
}

// ServeHTTP upgrades the request to a WebSocket and streams events until the
// client disconnects or the pipeline stops.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("feed upgrade failed", "err", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sub := &subscriber{
		events: make(chan Event, subscriberQueueSize),
		cancel: cancel,
	}
	if final := h.add(sub); final != nil {
		_ = h.writeEvent(ctx, conn, *final)
		conn.Close(websocket.StatusNormalClosure, "pipeline stopped")
		return
	}
	defer h.remove(sub)

	// Reads are discarded; the feed is one-way. The read loop still runs so
	// close frames and pings are processed.
	go func() {
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				cancel()
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "bye")
			return
		case ev := <-sub.events:
			if err := h.writeEvent(ctx, conn, ev); err != nil {
				return
			}
			if ev.Kind == "stopped" {
				conn.Close(websocket.StatusNormalClosure, "pipeline stopped")
				return
			}
		}
	}
}

func (h *Hub) writeEvent(ctx context.Context, conn *websocket.Conn, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
