// Package events fans orchestrator lifecycle notifications (task state
// changes, ingestion outcomes, poll ticks, agent toggles) out to SSE
// clients. Delivery is best-effort; a slow client loses events rather
// than stalling a producer.
package events

import (
	"encoding/json"
	"sync"
	"time"
)

// Kind labels what happened. The SSE "event:" field carries it verbatim.
type Kind string

const (
	KindTaskSubmitted   Kind = "task.submitted"
	KindTaskCompleted   Kind = "task.completed"
	KindTaskFailed      Kind = "task.failed"
	KindIngestQueued    Kind = "ingest.queued"
	KindIngestProcessed Kind = "ingest.processed"
	KindIngestError     Kind = "ingest.error"
	KindAgentToggled    Kind = "agent.toggled"
	KindPollTick        Kind = "poll.tick"
)

// Event is one notification. Seq increases monotonically and doubles as
// the SSE event id, so clients resume with Last-Event-ID.
type Event struct {
	Seq  int64           `json:"seq"`
	Kind Kind            `json:"kind"`
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Hub keeps the most recent events in a fixed ring and fans new ones out
// to live subscribers.
type Hub struct {
	mu      sync.Mutex
	seq     int64
	ring    []Event
	next    int  // ring slot the next event lands in
	wrapped bool // set once the ring has overwritten its oldest slot
	subs    map[chan Event]struct{}
}

func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = 100
	}
	return &Hub{
		ring: make([]Event, capacity),
		subs: make(map[chan Event]struct{}),
	}
}

// Publish records the event and offers it to every subscriber. Data is
// JSON-encoded here so all subscribers share one immutable payload.
func (h *Hub) Publish(kind Kind, data any) {
	payload := json.RawMessage("{}")
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			payload = b
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.seq++
	ev := Event{Seq: h.seq, Kind: kind, At: time.Now().UTC(), Data: payload}

	h.ring[h.next] = ev
	h.next++
	if h.next == len(h.ring) {
		h.next = 0
		h.wrapped = true
	}

	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
			// Slow client; it resyncs via Replay on reconnect.
		}
	}
}

// Subscribe registers a listener for events published from now on. The
// returned cancel must be called; it closes the channel.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 128)

	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
		}
		h.mu.Unlock()
	}
}

// Replay returns buffered events with Seq > afterSeq, oldest first. Pass
// 0 for everything still in the ring.
func (h *Hub) Replay(afterSeq int64) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	var ordered []Event
	if h.wrapped {
		ordered = append(ordered, h.ring[h.next:]...)
	}
	ordered = append(ordered, h.ring[:h.next]...)

	out := make([]Event, 0, len(ordered))
	for _, ev := range ordered {
		if ev.Seq > afterSeq {
			out = append(out, ev)
		}
	}
	return out
}
