// Package sse fans run events out to server-sent-event subscribers.
package sse

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// DefaultRetention is how long a closed topic stays available for replay.
// After that, clients fall back to the run history.
const DefaultRetention = 10 * time.Minute

// Event represents a server-sent event.
type Event struct {
	Seq  int
	Type string // "progress", "complete", "error"
	Data string // JSON payload
}

// Write encodes e in the text/event-stream format.
func (e Event) Write(w io.Writer) error {
	_, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", e.Seq, e.Type, e.Data)
	return err
}

type topic struct {
	log      []Event
	subs     map[chan Event]struct{}
	closed   bool
	closedAt time.Time
}

// Hub is an in-memory pub/sub hub keyed by run id. Each topic keeps a log so
// late subscribers can replay what they missed. Closed topics are evicted
// once they are older than the retention window.
type Hub struct {
	mu     sync.Mutex
	topics map[string]*topic
	retain time.Duration
	now    func() time.Time
}

// New creates a new SSE Hub with DefaultRetention.
func New() *Hub {
	return NewWithRetention(DefaultRetention)
}

func NewWithRetention(retain time.Duration) *Hub {
	if retain <= 0 {
		retain = DefaultRetention
	}
	return &Hub{topics: make(map[string]*topic), retain: retain, now: time.Now}
}

func (h *Hub) topic(name string) *topic {
	t := h.topics[name]
	if t == nil {
		t = &topic{subs: make(map[chan Event]struct{})}
		h.topics[name] = t
	}
	return t
}

// Subscribe returns the events published so far and a channel for the rest.
// The channel is closed when the topic closes. Call unsub when done.
func (h *Hub) Subscribe(name string) ([]Event, <-chan Event, func()) {
	ch := make(chan Event, 16)

	h.mu.Lock()
	t := h.topic(name)
	replay := append([]Event(nil), t.log...)
	if t.closed {
		close(ch)
		h.mu.Unlock()
		return replay, ch, func() {}
	}
	t.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if _, ok := t.subs[ch]; ok {
				delete(t.subs, ch)
				close(ch)
			}
		})
	}
	return replay, ch, unsub
}

// Publish appends an event to the topic log and offers it to subscribers.
// Non-blocking: slow clients miss the event and catch up through Since.
func (h *Hub) Publish(name, typ, data string) Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	t := h.topic(name)
	e := Event{Seq: len(t.log) + 1, Type: typ, Data: data}
	if t.closed {
		return e
	}
	t.log = append(t.log, e)
	for ch := range t.subs {
		select {
		case ch <- e:
		default:
			// skip slow client
		}
	}
	return e
}

// Since returns logged events with Seq greater than seq.
func (h *Hub) Since(name string, seq int) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.topics[name]
	if !ok {
		return nil
	}
	var out []Event
	for _, e := range t.log {
		if e.Seq > seq {
			out = append(out, e)
		}
	}
	return out
}

// Close ends a topic: subscriber channels are closed and later publishes are
// dropped. The log is kept for replay until the retention window passes.
func (h *Hub) Close(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := h.now()
	h.evict(now)
	t := h.topic(name)
	if t.closed {
		return
	}
	t.closed = true
	t.closedAt = now
	for ch := range t.subs {
		delete(t.subs, ch)
		close(ch)
	}
}

// evict drops closed topics past retention. Caller holds h.mu.
func (h *Hub) evict(now time.Time) {
	for name, t := range h.topics {
		if t.closed && now.Sub(t.closedAt) >= h.retain {
			delete(h.topics, name)
		}
	}
}

// Closed reports whether the topic has ended.
func (h *Hub) Closed(name string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.topics[name]
	return ok && t.closed
}

// Has reports whether anything was ever published or subscribed on name.
func (h *Hub) Has(name string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.topics[name]
	return ok
}
