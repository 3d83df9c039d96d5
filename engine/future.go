package engine

import (
	"context"
	"sync"
	"time"
)

// OutputRef names one stored render output.
type OutputRef struct {
	Key string `json:"key"`
	URL string `json:"url"`
}

// Result is the terminal payload of a successful job.
type Result struct {
	JobID    string        `json:"jobId"`
	Outputs  []OutputRef   `json:"outputs"`
	Seed     uint32        `json:"seed"`
	Backend  string        `json:"backend"`
	SR       bool          `json:"sr"`
	Duration time.Duration `json:"-"`
}

// Future resolves exactly once with the job's result or error. Safe for
// any number of waiters; resolution after the first is ignored.
type Future struct {
	done   chan struct{}
	once   sync.Once
	result *Result
	err    error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) resolve(r *Result) {
	f.once.Do(func() {
		f.result = r
		close(f.done)
	})
}

func (f *Future) fail(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}

// Done is closed when the future has resolved either way.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until resolution or ctx expiry. The job keeps running if
// the caller gives up; only the wait is abandoned.
func (f *Future) Wait(ctx context.Context) (*Result, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// resolvedFuture returns an already-resolved future. Used when a mode
// switch targets the mode that is already loaded.
func resolvedFuture(r *Result) *Future {
	f := newFuture()
	f.resolve(r)
	return f
}
