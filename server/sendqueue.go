package server

import "sync"

// outboundFrame wraps a wire payload with its delivery class. Droppable
// frames (progress ticks, pushes) may be evicted under backpressure;
// everything else (acks, replies, terminals) must reach the socket or
// take the connection down trying. Terminal frames additionally close
// the job subscription they belong to.
type outboundFrame struct {
	payload   interface{}
	droppable bool
	terminal  bool
}

// sendQueue holds frames awaiting a session's write pump. The pump is
// the only consumer; producers are the read pump (replies) and the
// dispatcher (events, broadcasts).
type sendQueue struct {
	mu     sync.Mutex
	items  []outboundFrame
	max    int
	closed bool
	ready  chan struct{}
}

func newSendQueue(max int) *sendQueue {
	return &sendQueue{max: max, ready: make(chan struct{}, 1)}
}

// push queues f for delivery. When the queue is full the oldest
// droppable frame is evicted to make room; if nothing is evictable a
// droppable f is dropped instead, while a critical f is queued past the
// bound (the bound then recovers as the pump drains, or the write
// deadline tears the session down). Returns how many frames this push
// lost; pushes to a closed queue discard f without counting.
func (q *sendQueue) push(f outboundFrame) int {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return 0
	}
	dropped := 0
	if len(q.items) >= q.max {
		if i := q.oldestDroppable(); i >= 0 {
			q.items = append(q.items[:i], q.items[i+1:]...)
			dropped = 1
		} else if f.droppable {
			q.mu.Unlock()
			return 1
		}
	}
	q.items = append(q.items, f)
	q.mu.Unlock()
	q.wake()
	return dropped
}

// oldestDroppable returns the index of the first evictable frame, -1
// when the queue holds only critical frames. Callers hold q.mu.
func (q *sendQueue) oldestDroppable() int {
	for i, f := range q.items {
		if f.droppable {
			return i
		}
	}
	return -1
}

func (q *sendQueue) wake() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// pop removes the head frame; ok is false when the queue is empty.
func (q *sendQueue) pop() (outboundFrame, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return outboundFrame{}, false
	}
	f := q.items[0]
	q.items = q.items[1:]
	return f, true
}

func (q *sendQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// close rejects further pushes and discards queued frames.
func (q *sendQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.items = nil
	q.mu.Unlock()
	q.wake()
}
