package engine

import (
	"sync"

	"github.com/teranos/yume/logger"
	"github.com/teranos/yume/metrics"
)

// EventKind discriminates pool bus events.
type EventKind string

const (
	EventStarted  EventKind = "started"
	EventProgress EventKind = "progress"
	EventComplete EventKind = "complete"
	EventError    EventKind = "error"
	EventCanceled EventKind = "canceled"

	// EventQueue signals that the queue changed shape. It carries no
	// payload; consumers re-snapshot.
	EventQueue EventKind = "queue"
)

// Event is what the pool publishes on its bus. One consumer (the
// session dispatcher) fans these out to clients.
type Event struct {
	Kind      EventKind
	JobID     string
	CorrID    string
	SessionID string
	Type      Type
	Source    Source
	State     State
	Fraction  float64
	Result    *Result
	Err       error
}

// bus is the pool's outbound event channel with a close guard. Terminal
// events publish blocking (the dispatcher drains until close), progress
// and queue ticks publish non-blocking and drop on overflow.
type bus struct {
	mu     sync.RWMutex
	ch     chan Event
	closed bool
}

func newBus(size int) *bus {
	if size <= 0 {
		size = 512
	}
	return &bus{ch: make(chan Event, size)}
}

func (b *bus) events() <-chan Event {
	return b.ch
}

// publish delivers ev, blocking while the buffer is full. Dropped
// silently after close.
func (b *bus) publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	b.ch <- ev
}

// tryPublish delivers ev unless the buffer is full or the bus closed.
func (b *bus) tryPublish(ev Event) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return false
	}
	select {
	case b.ch <- ev:
		return true
	default:
		metrics.EventsDropped.WithLabelValues(string(ev.Kind)).Inc()
		logger.Debugw("event bus full, dropped event",
			"kind", ev.Kind,
			logger.FieldJobID, ev.JobID)
		return false
	}
}

// close ends the stream. Pending blocking publishes complete first.
func (b *bus) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.ch)
}
