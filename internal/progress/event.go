package progress

import "sync"

// EventType distinguishes progress updates from terminal events.
type EventType string

const (
	EventProgress EventType = "progress"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
)

// Event is one entry in a run's ordered event stream. Exactly one terminal
// event (complete or error) ends a stream.
type Event struct {
	Type     EventType       `json:"type"`
	Progress float64         `json:"progress,omitempty"`
	FilePath string          `json:"file_path,omitempty"`
	Units    int             `json:"units,omitempty"`
	Failures []FailureRecord `json:"failures,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// Terminal reports whether e ends a stream.
func (e Event) Terminal() bool {
	return e.Type == EventComplete || e.Type == EventError
}

// Observer receives events synchronously in order.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) Observe(e Event) { f(e) }

// Multi fans events out to every non-nil observer.
func Multi(observers ...Observer) Observer {
	var out []Observer
	for _, o := range observers {
		if o != nil {
			out = append(out, o)
		}
	}
	return ObserverFunc(func(e Event) {
		for _, o := range out {
			o.Observe(e)
		}
	})
}

// Channel is an Observer backed by a buffered channel with a single consumer.
// Sends block when the buffer is full, which keeps events ordered and lossless.
type Channel struct {
	ch     chan Event
	once   sync.Once
	mu     sync.Mutex
	closed bool
}

func NewChannel(buf int) *Channel {
	if buf < 1 {
		buf = 1
	}
	return &Channel{ch: make(chan Event, buf)}
}

func (c *Channel) Observe(e Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.ch <- e
}

// Events is the receive side of the stream.
func (c *Channel) Events() <-chan Event {
	return c.ch
}

// Close ends the stream. Later Observe calls are dropped.
func (c *Channel) Close() {
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		close(c.ch)
		c.mu.Unlock()
	})
}
