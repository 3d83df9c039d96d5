package engine

import (
	"container/heap"
	"sync"

	"github.com/teranos/yume/errors"
)

// jobHeap orders queued jobs by (priority ASC, submittedAt ASC, seq ASC).
// seq breaks ties between jobs submitted within the same clock tick.
type jobHeap []*Job

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	a, b := h[i], h[j]
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	if !a.SubmittedAt.Equal(b.SubmittedAt) {
		return a.SubmittedAt.Before(b.SubmittedAt)
	}
	return a.seq < b.seq
}

func (h jobHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}

func (h *jobHeap) Push(x interface{}) {
	job := x.(*Job)
	job.heapIndex = len(*h)
	*h = append(*h, job)
}

func (h *jobHeap) Pop() interface{} {
	old := *h
	n := len(old)
	job := old[n-1]
	old[n-1] = nil
	job.heapIndex = -1
	*h = old[:n-1]
	return job
}

// Queue is the rendezvous point between producers (router, dream
// controller, HTTP bridge) and the pool's single consumer goroutine.
// Bounded; mutators all serialize under one mutex; Get blocks on a cond
// until an item arrives or Close wakes it.
type Queue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending jobHeap
	index   map[string]*Job // id -> queued job for O(1) Remove/UpdatePriority
	max     int
	seq     uint64
	closed  bool
}

// NewQueue creates a queue holding at most max jobs. max <= 0 means 64.
func NewQueue(max int) *Queue {
	if max <= 0 {
		max = 64
	}
	q := &Queue{
		pending: make(jobHeap, 0, max),
		index:   make(map[string]*Job),
		max:     max,
	}
	q.cond = sync.NewCond(&q.mu)
	heap.Init(&q.pending)
	return q
}

// Put enqueues a job. Returns ErrQueueFull at the bound and ErrShutdown
// after Close; the queue is not mutated on rejection.
func (q *Queue) Put(job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return errors.ErrShutdown
	}
	if len(q.pending) >= q.max {
		return errors.ErrQueueFull
	}

	q.seq++
	job.seq = q.seq
	heap.Push(&q.pending, job)
	q.index[job.ID] = job
	q.cond.Signal()
	return nil
}

// Get blocks until a job is available or the queue is closed. A closed
// queue hands out nothing even when items remain; shutdown drains those
// itself.
func (q *Queue) Get() (*Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.pending) == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.closed {
		return nil, false
	}

	job := heap.Pop(&q.pending).(*Job)
	delete(q.index, job.ID)
	return job, true
}

// Remove takes a queued job out of the queue. Returns false when the
// id is not queued (unknown, running, or already terminal).
func (q *Queue) Remove(id string) (*Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.index[id]
	if !ok {
		return nil, false
	}
	heap.Remove(&q.pending, job.heapIndex)
	delete(q.index, id)
	return job, true
}

// UpdatePriority moves a queued job to another lane. Returns false for
// ids that are not queued or priorities outside the four lanes.
func (q *Queue) UpdatePriority(id string, p Priority) bool {
	if !ValidPriority(p) {
		return false
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.index[id]
	if !ok {
		return false
	}
	if job.Priority == p {
		return true
	}
	job.Priority = p
	heap.Fix(&q.pending, job.heapIndex)
	return true
}

// Len returns the number of queued jobs.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Snapshot copies the queued job descriptors, unordered.
func (q *Queue) Snapshot() []Descriptor {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Descriptor, 0, len(q.pending))
	for _, job := range q.pending {
		out = append(out, job.Describe())
	}
	return out
}

// Drain removes and returns every queued job. Used by shutdown to fail
// the backlog without racing new Puts (callers close first).
func (q *Queue) Drain() []*Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*Job, 0, len(q.pending))
	for len(q.pending) > 0 {
		job := heap.Pop(&q.pending).(*Job)
		delete(q.index, job.ID)
		out = append(out, job)
	}
	return out
}

// Close rejects further Puts and wakes blocked Gets. Idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.cond.Broadcast()
}
