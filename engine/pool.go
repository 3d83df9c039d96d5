package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/teranos/yume/errors"
	"github.com/teranos/yume/logger"
	"github.com/teranos/yume/metrics"
	"github.com/teranos/yume/modes"
	"github.com/teranos/yume/store"
)

const (
	// DefaultQueueMax bounds the number of queued jobs before Submit
	// rejects with QueueFull.
	DefaultQueueMax = 64

	// progressInterval coalesces worker progress callbacks. Keep-last:
	// a pending fraction flushes before the terminal event.
	progressInterval = 100 * time.Millisecond

	// maxWireErrorLen bounds failure messages on terminal envelopes.
	maxWireErrorLen = 300

	defaultStopTimeout = 30 * time.Second
)

// Options tunes the pool. Zero values mean defaults.
type Options struct {
	QueueMax    int
	JobTimeout  time.Duration // per-job watchdog, 0 disables
	StopTimeout time.Duration // shutdown wait for the in-flight job
	InitialMode string        // empty means the provider's default
}

type trackedJob struct {
	job    *Job
	future *Future
}

// Pool owns the single render worker and the priority queue in front of
// it. One consumer goroutine pulls jobs in priority order; the worker is
// built lazily for the current mode and rebuilt across mode switches.
type Pool struct {
	factory  Factory
	provider ModeProvider
	registry Registry
	outputs  *store.OutputStore
	opts     Options

	queue *Queue
	bus   *bus

	mu          sync.Mutex
	tracked     map[string]*trackedJob // queued + running, by job id
	worker      Worker                 // nil when unloaded
	currentMode modes.Mode
	running     *Job
	cancelRun   context.CancelFunc
	workerSeq   int

	runCtx    context.Context
	forceStop context.CancelFunc
	wg        sync.WaitGroup
	stopOnce  sync.Once
}

// NewPool wires the pool. The initial mode is resolved eagerly so a bad
// configuration fails at startup; the worker itself loads on the first
// job.
func NewPool(factory Factory, provider ModeProvider, registry Registry, outputs *store.OutputStore, opts Options) (*Pool, error) {
	if factory == nil {
		return nil, errors.New("pool requires a worker factory")
	}
	if provider == nil {
		return nil, errors.New("pool requires a mode provider")
	}
	if opts.QueueMax <= 0 {
		opts.QueueMax = DefaultQueueMax
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = defaultStopTimeout
	}

	target := provider.Default()
	if opts.InitialMode != "" {
		target = opts.InitialMode
	}
	initial, err := provider.Get(target)
	if err != nil {
		return nil, err
	}

	return &Pool{
		factory:     factory,
		provider:    provider,
		registry:    registry,
		outputs:     outputs,
		opts:        opts,
		queue:       NewQueue(opts.QueueMax),
		bus:         newBus(0),
		tracked:     make(map[string]*trackedJob),
		currentMode: initial,
	}, nil
}

// Start launches the consumer goroutine. Jobs submitted before Start
// wait in the queue.
func (p *Pool) Start(ctx context.Context) {
	p.runCtx, p.forceStop = context.WithCancel(ctx)
	p.wg.Add(1)
	go p.run()
	logger.PulseOpenInfow("worker pool started",
		logger.FieldMode, p.currentMode.Name,
		"queue_max", p.opts.QueueMax)
}

// Events returns the pool's outbound bus. Single consumer; the channel
// closes when Shutdown completes.
func (p *Pool) Events() <-chan Event {
	return p.bus.events()
}

// CurrentMode reports the mode the worker is, or will be, loaded with.
func (p *Pool) CurrentMode() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentMode.Name
}

// Registry exposes the injected model registry for status reporting.
func (p *Pool) Registry() Registry {
	return p.registry
}

// QueueDepth reports the number of queued jobs.
func (p *Pool) QueueDepth() int {
	return p.queue.Len()
}

// QueueSnapshot lists queued jobs in display order.
func (p *Pool) QueueSnapshot() []Descriptor {
	snap := p.queue.Snapshot()
	sort.Slice(snap, func(i, j int) bool {
		if snap[i].Priority != snap[j].Priority {
			return snap[i].Priority < snap[j].Priority
		}
		return snap[i].SubmittedAt.Before(snap[j].SubmittedAt)
	})
	return snap
}

// RunningJob describes the in-flight job, nil when idle.
func (p *Pool) RunningJob() *Descriptor {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running == nil {
		return nil
	}
	d := p.running.Describe()
	return &d
}

// Submit enqueues a job and returns its future. Fails fast with
// QueueFull at the bound and Shutdown after Close; the job is not
// tracked on rejection.
func (p *Pool) Submit(job *Job) (*Future, error) {
	if job == nil {
		return nil, errors.NewKind(errors.KindBadRequest, "nil job")
	}
	if !KnownType(job.Type) {
		return nil, errors.NewKindf(errors.KindBadRequest, "unknown job type %q", job.Type)
	}

	fut := newFuture()
	p.mu.Lock()
	if err := p.queue.Put(job); err != nil {
		p.mu.Unlock()
		return nil, err
	}
	p.tracked[job.ID] = &trackedJob{job: job, future: fut}
	depth := p.queue.Len()
	p.mu.Unlock()

	metrics.JobsSubmitted.WithLabelValues(string(job.Type), string(job.Source)).Inc()
	metrics.QueueDepth.Set(float64(depth))
	logger.PulseDebugw("job queued",
		logger.FieldJobID, job.ID,
		logger.FieldJobType, job.Type,
		logger.FieldPriority, job.Priority.String(),
		"source", job.Source,
		logger.FieldQueueDepth, depth)
	p.bus.tryPublish(Event{Kind: EventQueue})
	return fut, nil
}

// SwitchMode enqueues a modeSwitch job at URGENT priority. Switching to
// the already-loaded mode resolves immediately without touching the
// queue or the worker.
func (p *Pool) SwitchMode(corrID, mode string) (*Future, error) {
	if !p.provider.Has(mode) {
		return nil, errors.NewKindf(errors.KindModeNotFound, "mode %q not found", mode)
	}

	p.mu.Lock()
	loaded := p.worker != nil && p.currentMode.Name == mode
	p.mu.Unlock()
	if loaded {
		return resolvedFuture(&Result{}), nil
	}

	job := NewJob(TypeModeSwitch, corrID, PriorityUrgent, SourceHTTP)
	job.ModeSwitch = &ModeSwitchParams{Mode: mode}
	return p.Submit(job)
}

// Cancel removes a queued job or signals the running one. Best effort:
// false when the id is unknown or already terminal.
func (p *Pool) Cancel(jobID string) bool {
	p.mu.Lock()
	t, ok := p.tracked[jobID]
	if !ok {
		p.mu.Unlock()
		return false
	}
	job := t.job

	if _, removed := p.queue.Remove(jobID); removed {
		job.transition(StateCanceled, StateQueued)
		delete(p.tracked, jobID)
		depth := p.queue.Len()
		p.mu.Unlock()

		t.future.fail(errors.ErrCanceled)
		metrics.QueueDepth.Set(float64(depth))
		p.publishTerminal(job, EventCanceled, nil, errors.ErrCanceled)
		p.bus.tryPublish(Event{Kind: EventQueue})
		logger.PulseInfow("queued job canceled", logger.FieldJobID, jobID)
		return true
	}

	// Dequeued but not yet running: flag it so execute aborts.
	if job.transition(StateCanceling, StateQueued) {
		p.mu.Unlock()
		return true
	}

	if job.transition(StateCanceling, StateRunning) {
		if p.running != nil && p.running.ID == jobID && p.cancelRun != nil {
			p.cancelRun()
		}
		p.mu.Unlock()
		logger.PulseInfow("cancel signaled to running job", logger.FieldJobID, jobID)
		return true
	}

	p.mu.Unlock()
	return false
}

// Reprioritize moves a queued job to another lane. Running and terminal
// jobs are not movable.
func (p *Pool) Reprioritize(jobID string, pr Priority) bool {
	if !ValidPriority(pr) {
		return false
	}

	p.mu.Lock()
	t, ok := p.tracked[jobID]
	if !ok || t.job.State() != StateQueued {
		p.mu.Unlock()
		return false
	}
	moved := p.queue.UpdatePriority(jobID, pr)
	p.mu.Unlock()

	if moved {
		logger.PulseInfow("job reprioritized",
			logger.FieldJobID, jobID,
			logger.FieldPriority, pr.String())
		p.bus.tryPublish(Event{Kind: EventQueue})
	}
	return moved
}

// Shutdown drains the pool: the backlog fails with Shutdown, the
// in-flight job gets StopTimeout to finish before its context is
// cancelled, then the worker unloads and the event bus closes.
// Idempotent; subsequent calls return immediately.
func (p *Pool) Shutdown(ctx context.Context) {
	p.stopOnce.Do(func() {
		logger.PulseCloseInfow("worker pool shutting down",
			logger.FieldQueueDepth, p.queue.Len())

		p.queue.Close()
		for _, job := range p.queue.Drain() {
			p.mu.Lock()
			t := p.tracked[job.ID]
			delete(p.tracked, job.ID)
			p.mu.Unlock()

			job.transition(StateCanceled, StateQueued, StateCanceling)
			if t != nil {
				t.future.fail(errors.ErrShutdown)
			}
			p.publishTerminal(job, EventError, nil, errors.ErrShutdown)
		}
		metrics.QueueDepth.Set(0)

		done := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(done)
		}()

		if p.forceStop == nil {
			// Never started; nothing in flight.
			<-done
		} else {
			select {
			case <-done:
			case <-time.After(p.opts.StopTimeout):
				logger.PulseWarnw("stop timeout, cancelling in-flight job",
					"timeout", p.opts.StopTimeout)
				p.forceStop()
				<-done
			case <-ctx.Done():
				p.forceStop()
				<-done
			}
		}

		p.mu.Lock()
		w := p.worker
		p.worker = nil
		name := p.currentMode.Name
		p.mu.Unlock()
		if w != nil {
			w.Unload()
			logger.ModeInfow("worker unloaded", logger.FieldMode, name)
		}

		p.bus.close()
		logger.PulseCloseInfow("worker pool stopped")
	})
}

// run is the single consumer loop.
func (p *Pool) run() {
	defer p.wg.Done()
	for {
		job, ok := p.queue.Get()
		if !ok {
			return
		}
		metrics.QueueDepth.Set(float64(p.queue.Len()))
		p.bus.tryPublish(Event{Kind: EventQueue})
		p.execute(job)
	}
}

func (p *Pool) execute(job *Job) {
	p.mu.Lock()
	t := p.tracked[job.ID]
	if t == nil {
		p.mu.Unlock()
		return
	}

	if !job.transition(StateRunning, StateQueued) {
		// Cancel landed between dequeue and start.
		delete(p.tracked, job.ID)
		p.mu.Unlock()
		job.transition(StateCanceled, StateCanceling)
		t.future.fail(errors.ErrCanceled)
		p.publishTerminal(job, EventCanceled, nil, errors.ErrCanceled)
		return
	}

	ctx := p.runCtx
	var cancel context.CancelFunc
	if p.opts.JobTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, p.opts.JobTimeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	p.running = job
	p.cancelRun = cancel
	p.mu.Unlock()

	defer func() {
		cancel()
		p.mu.Lock()
		p.running = nil
		p.cancelRun = nil
		delete(p.tracked, job.ID)
		p.mu.Unlock()
	}()

	p.bus.publish(p.event(job, EventStarted))
	logger.PulseInfow("job started",
		logger.FieldJobID, job.ID,
		logger.FieldJobType, job.Type,
		logger.FieldMode, p.CurrentMode())

	start := time.Now()
	var (
		out *RenderOutput
		err error
	)
	if job.Type == TypeModeSwitch {
		err = p.executeSwitch(ctx, job)
	} else {
		out, err = p.executeRender(ctx, job)
	}
	p.finish(t, job, out, err, time.Since(start))
}

// executeRender runs a render job on the lazily-built worker. Worker
// panics surface as WorkerFailure instead of taking the pool down.
func (p *Pool) executeRender(ctx context.Context, job *Job) (out *RenderOutput, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = errors.NewKindf(errors.KindWorkerFailure, "worker panic: %v", r)
			logger.PulseErrorw("worker panicked",
				logger.FieldJobID, job.ID,
				"panic", fmt.Sprint(r))
		}
	}()

	w, err := p.ensureWorker()
	if err != nil {
		return nil, err
	}

	sink := newProgressSink(p, job)
	out, err = w.Run(ctx, job, sink.report)
	sink.flush()
	return out, err
}

// ensureWorker builds the worker for the current mode if none is
// loaded. Only the consumer goroutine calls this.
func (p *Pool) ensureWorker() (Worker, error) {
	p.mu.Lock()
	if p.worker != nil {
		w := p.worker
		p.mu.Unlock()
		return w, nil
	}
	mode := p.currentMode
	p.mu.Unlock()

	w, err := p.buildWorker(mode)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.worker = w
	p.mu.Unlock()
	return w, nil
}

func (p *Pool) buildWorker(mode modes.Mode) (Worker, error) {
	p.mu.Lock()
	p.workerSeq++
	id := fmt.Sprintf("worker-%d", p.workerSeq)
	p.mu.Unlock()

	logger.ModeInfow("loading worker",
		"worker_id", id,
		logger.FieldMode, mode.Name)
	w, err := p.factory(id, mode)
	if err != nil {
		return nil, errors.WithKind(
			errors.Wrapf(err, "loading mode %q", mode.Name),
			errors.KindModelLoadFailed)
	}
	return w, nil
}

// executeSwitch tears the current worker down and builds one for the
// target mode. On factory failure the current mode name is kept and the
// handle stays unloaded: the next job rebuilds lazily.
func (p *Pool) executeSwitch(ctx context.Context, job *Job) error {
	target := job.ModeSwitch.Mode
	mode, err := p.provider.Get(target)
	if err != nil {
		metrics.ModeSwitches.WithLabelValues("not_found").Inc()
		return err
	}

	p.mu.Lock()
	cur := p.currentMode.Name
	w := p.worker
	p.mu.Unlock()

	if cur == mode.Name && w != nil {
		logger.ModeInfow("mode already loaded", logger.FieldMode, mode.Name)
		metrics.ModeSwitches.WithLabelValues("noop").Inc()
		return nil
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	if w != nil {
		p.mu.Lock()
		p.worker = nil
		p.mu.Unlock()
		w.Unload()
		logger.ModeInfow("worker unloaded", logger.FieldMode, cur)
	}

	w2, err := p.buildWorker(mode)
	if err != nil {
		metrics.ModeSwitches.WithLabelValues("load_failed").Inc()
		return err
	}

	p.mu.Lock()
	p.worker = w2
	p.currentMode = mode
	p.mu.Unlock()

	metrics.ModeSwitches.WithLabelValues("ok").Inc()
	logger.ModeInfow("mode switched", "from", cur, "to", mode.Name)
	return nil
}

// finish maps the execution outcome onto the terminal state, resolves
// the future, and publishes the terminal event.
func (p *Pool) finish(t *trackedJob, job *Job, out *RenderOutput, err error, dur time.Duration) {
	if err == nil {
		res := &Result{JobID: job.ID, Duration: dur}
		if out != nil {
			blob := p.outputs.Put(out.Data, out.Mime)
			res.Outputs = []OutputRef{{Key: blob.Key, URL: blob.URL()}}
			res.Seed = out.Seed
			res.Backend = out.Backend
			res.SR = out.SR
		}
		job.transition(StateDone, StateRunning, StateCanceling)
		t.future.resolve(res)

		metrics.JobsCompleted.WithLabelValues(string(job.Type), string(StateDone)).Inc()
		metrics.JobDuration.WithLabelValues(string(job.Type)).Observe(dur.Seconds())
		logger.PulseInfow("job complete",
			logger.FieldJobID, job.ID,
			logger.FieldJobType, job.Type,
			logger.FieldDurationMS, dur.Milliseconds())
		ev := p.event(job, EventComplete)
		ev.Result = res
		p.bus.publish(ev)
		return
	}

	canceled := errors.Is(err, context.Canceled) || errors.Is(err, errors.ErrCanceled)
	timedOut := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, errors.ErrTimeout)

	switch {
	case canceled && job.State() == StateCanceling:
		job.transition(StateCanceled, StateCanceling)
		t.future.fail(errors.ErrCanceled)
		metrics.JobsCompleted.WithLabelValues(string(job.Type), string(StateCanceled)).Inc()
		logger.PulseInfow("job canceled",
			logger.FieldJobID, job.ID,
			logger.FieldDurationMS, dur.Milliseconds())
		p.publishTerminal(job, EventCanceled, nil, errors.ErrCanceled)
		return

	case canceled:
		// Context cancelled from above the job: shutdown, not a user cancel.
		err = errors.ErrShutdown

	case timedOut:
		err = errors.NewKindf(errors.KindTimeout,
			"job exceeded maximum execution time of %s", p.opts.JobTimeout)

	default:
		if errors.KindOf(err) == errors.KindWorkerFailure {
			logger.PulseErrorw("worker failure",
				logger.FieldJobID, job.ID,
				logger.FieldError, err)
			err = errors.NewKind(errors.KindWorkerFailure,
				errors.TruncateMessage(err, maxWireErrorLen))
		}
	}

	job.transition(StateFailed, StateRunning, StateCanceling)
	t.future.fail(err)

	metrics.JobsCompleted.WithLabelValues(string(job.Type), string(StateFailed)).Inc()
	metrics.JobDuration.WithLabelValues(string(job.Type)).Observe(dur.Seconds())
	logger.PulseWarnw("job failed",
		logger.FieldJobID, job.ID,
		logger.FieldJobType, job.Type,
		logger.FieldErrorKind, errors.KindOf(err),
		logger.FieldError, err)
	p.publishTerminal(job, EventError, nil, err)
}

// event seeds an Event with the job's routing fields.
func (p *Pool) event(job *Job, kind EventKind) Event {
	return Event{
		Kind:      kind,
		JobID:     job.ID,
		CorrID:    job.CorrID,
		SessionID: job.SessionID,
		Type:      job.Type,
		Source:    job.Source,
		State:     job.State(),
	}
}

func (p *Pool) publishTerminal(job *Job, kind EventKind, res *Result, err error) {
	ev := p.event(job, kind)
	ev.Result = res
	ev.Err = err
	p.bus.publish(ev)
}

// progressSink coalesces worker progress callbacks with a rate limiter.
// Keep-last semantics: the newest fraction of a suppressed burst flushes
// before the terminal event.
type progressSink struct {
	pool *Pool
	job  *Job
	lim  *rate.Limiter

	mu      sync.Mutex
	pending float64
	dirty   bool
}

func newProgressSink(p *Pool, job *Job) *progressSink {
	return &progressSink{
		pool: p,
		job:  job,
		lim:  rate.NewLimiter(rate.Every(progressInterval), 1),
	}
}

func (s *progressSink) report(fraction float64) {
	if fraction < 0 {
		fraction = 0
	} else if fraction > 1 {
		fraction = 1
	}

	s.mu.Lock()
	s.pending = fraction
	s.dirty = true
	if !s.lim.Allow() {
		s.mu.Unlock()
		return
	}
	s.dirty = false
	s.mu.Unlock()

	s.publish(fraction)
}

// flush emits the last suppressed fraction, if any.
func (s *progressSink) flush() {
	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		return
	}
	fraction := s.pending
	s.dirty = false
	s.mu.Unlock()

	s.publish(fraction)
}

func (s *progressSink) publish(fraction float64) {
	ev := s.pool.event(s.job, EventProgress)
	ev.State = StateRunning
	ev.Fraction = fraction
	s.pool.bus.tryPublish(ev)
}
