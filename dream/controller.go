// Package dream runs the background exploration loop: it mutates a base
// prompt into a stream of low-priority generation jobs and keeps the
// results as a bounded ring of candidates.
package dream

import (
	"math/rand"
	"sync"
	"time"

	"github.com/teranos/yume/engine"
	"github.com/teranos/yume/errors"
	"github.com/teranos/yume/logger"
	"github.com/teranos/yume/metrics"
	"github.com/teranos/yume/modes"
)

// State is the controller's lifecycle phase.
type State string

const (
	StateIdle     State = "idle"
	StateStarting State = "starting"
	StateDreaming State = "dreaming"
	StateStopping State = "stopping"
)

const (
	DefaultInterval = 5 * time.Second
	DefaultKeep     = 200
	DefaultDuration = 1.0 // hours
	defaultTopLimit = 50
	busSize         = 64
)

// Engine is the slice of the worker pool the controller drives.
type Engine interface {
	Submit(job *engine.Job) (*engine.Future, error)
	Cancel(jobID string) bool
	CurrentMode() string
}

// ModeSource resolves the current mode's defaults for tick jitter.
// Satisfied by *modes.Manager.
type ModeSource interface {
	Get(name string) (modes.Mode, error)
}

// Candidate is one completed dream child. Score is reserved for a
// CLIP-style scorer and reads 0 until one exists.
type Candidate struct {
	JobID       string    `json:"jobId"`
	Seed        uint32    `json:"seed"`
	Prompt      string    `json:"prompt"`
	Score       float64   `json:"score"`
	Key         string    `json:"key"`
	URL         string    `json:"url"`
	CompletedAt time.Time `json:"completedAt"`
}

// Stats summarizes a dream session for dream:stopped.
type Stats struct {
	Total          int     `json:"total"`
	CandidatesKept int     `json:"candidatesKept"`
	ElapsedSeconds float64 `json:"elapsedSeconds"`
}

// Status is the dream:status snapshot.
type Status struct {
	State           string  `json:"state"`
	Active          bool    `json:"active"`
	DreamCount      int     `json:"dreamCount"`
	DreamsPerSecond float64 `json:"dreamsPerSecond"`
	Candidates      int     `json:"candidates"`
	ElapsedSeconds  float64 `json:"elapsedSeconds"`
	BasePrompt      string  `json:"basePrompt"`
	Temperature     float64 `json:"temperature"`
}

// EventKind tags controller bus events.
type EventKind string

const (
	EventStatus    EventKind = "status"    // state changed; Status set
	EventCandidate EventKind = "candidate" // child completed; Candidate set
	EventStopped   EventKind = "stopped"   // session wound down; Stats set
)

// Event is one controller broadcast. Exactly one payload field is set,
// matching Kind.
type Event struct {
	Kind      EventKind
	SessionID string
	Status    *Status
	Candidate *Candidate
	Stats     *Stats
}

// StartParams configures one dream session. Zero DurationHours means
// one hour; zero Interval falls back to the controller's configured
// tick cadence.
type StartParams struct {
	Prompt        string
	DurationHours float64
	Temperature   float64
	Interval      time.Duration
}

// Options tunes the controller.
type Options struct {
	Interval time.Duration // default tick cadence, 5s when zero
	Keep     int           // candidate ring bound, 200 when zero
}

type child struct {
	prompt  string
	started bool
}

// Controller owns the dream state machine:
//
//	idle → starting → dreaming → stopping → idle
//
// One session owns a dream at a time; a second dream:start fails with
// DreamBusy. Ticks submit generate children at BACKGROUND priority so
// interactive work always runs first.
type Controller struct {
	eng    Engine
	source ModeSource
	opts   Options

	mu          sync.Mutex
	state       State
	owner       string
	basePrompt  string
	temperature float64
	startedAt   time.Time
	lastElapsed float64
	dreamCount  int
	children    map[string]*child
	candidates  []Candidate
	stopCh      chan struct{}
	rng         *rand.Rand

	busMu  sync.RWMutex
	bus    chan Event
	closed bool

	wg sync.WaitGroup
}

// NewController builds an idle controller. One per process; sessions
// contend for it through Start.
func NewController(eng Engine, source ModeSource, opts Options) *Controller {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Keep <= 0 {
		opts.Keep = DefaultKeep
	}
	return &Controller{
		eng:      eng,
		source:   source,
		opts:     opts,
		state:    StateIdle,
		children: make(map[string]*child),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		bus:      make(chan Event, busSize),
	}
}

// Events returns the controller's broadcast bus. Single consumer.
func (c *Controller) Events() <-chan Event {
	return c.bus
}

// Start begins a dream session owned by sessionID. Fails with
// DreamBusy while any session is active, and BadRequest on an empty
// prompt or an out-of-range temperature.
func (c *Controller) Start(sessionID string, params StartParams) error {
	if params.Prompt == "" {
		return errors.NewKind(errors.KindBadRequest, "prompt is required")
	}
	if params.Temperature < 0 || params.Temperature > 1 {
		return errors.NewKindf(errors.KindBadRequest,
			"temperature %.2f out of range 0..1", params.Temperature)
	}
	if params.DurationHours < 0 {
		return errors.NewKindf(errors.KindBadRequest,
			"duration_hours %.2f must be positive", params.DurationHours)
	}
	if params.DurationHours == 0 {
		params.DurationHours = DefaultDuration
	}
	if params.Interval <= 0 {
		params.Interval = c.opts.Interval
	}

	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return errors.ErrDreamBusy
	}
	c.state = StateStarting
	c.owner = sessionID
	c.basePrompt = params.Prompt
	c.temperature = params.Temperature
	c.startedAt = time.Now()
	c.lastElapsed = 0
	c.dreamCount = 0
	c.children = make(map[string]*child)
	c.stopCh = make(chan struct{})
	stopCh := c.stopCh
	c.mu.Unlock()

	c.emitStatus()

	duration := time.Duration(params.DurationHours * float64(time.Hour))
	logger.DreamInfow("dream session started",
		logger.FieldSessionID, sessionID,
		"base_prompt", params.Prompt,
		"duration_hours", params.DurationHours,
		"temperature", params.Temperature,
		"interval_ms", params.Interval.Milliseconds(),
	)

	c.wg.Add(1)
	go c.loop(stopCh, params.Interval, duration)
	return nil
}

// Stop winds the active session down: queued children are canceled,
// the running child is awaited, then the controller returns to idle
// and emits dream:stopped. Returns false when no dream is active.
func (c *Controller) Stop() bool {
	return c.beginStop("requested")
}

// OnSessionClose stops the dream if the closing session owns it.
// Other sessions' jobs are unaffected by a disconnect; the dream is
// the one thing a session takes down with it.
func (c *Controller) OnSessionClose(sessionID string) {
	c.mu.Lock()
	owns := c.owner == sessionID && c.state != StateIdle
	c.mu.Unlock()
	if owns {
		c.beginStop("owner disconnected")
	}
}

func (c *Controller) beginStop(reason string) bool {
	c.mu.Lock()
	if c.state != StateStarting && c.state != StateDreaming {
		c.mu.Unlock()
		return false
	}
	c.state = StateStopping
	close(c.stopCh)

	queued := make([]string, 0, len(c.children))
	for id, ch := range c.children {
		if !ch.started {
			queued = append(queued, id)
		}
	}
	remaining := len(c.children)
	c.mu.Unlock()

	logger.DreamInfow("dream stopping",
		"reason", reason,
		"queued_children", len(queued),
		"live_children", remaining,
	)
	c.emitStatus()

	// Cancel the queued children; their canceled terminals drain the
	// ledger. The running child is left to finish.
	for _, id := range queued {
		c.eng.Cancel(id)
	}

	c.mu.Lock()
	done := len(c.children) == 0
	c.mu.Unlock()
	if done {
		c.finalize()
	}
	return true
}

// loop is the per-session ticker goroutine. The first tick fires
// immediately; the deadline and stop channel both end the session.
func (c *Controller) loop(stopCh chan struct{}, interval, duration time.Duration) {
	defer c.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	deadline := time.NewTimer(duration)
	defer deadline.Stop()

	c.mu.Lock()
	if c.state == StateStarting {
		c.state = StateDreaming
	}
	c.mu.Unlock()
	c.emitStatus()

	c.tick()
	for {
		select {
		case <-ticker.C:
			c.tick()
		case <-deadline.C:
			c.beginStop("duration elapsed")
			return
		case <-stopCh:
			return
		}
	}
}

// tick submits one mutated generate child. Ticks that land while the
// session is stopping are dropped.
func (c *Controller) tick() {
	c.mu.Lock()
	if c.state != StateDreaming {
		c.mu.Unlock()
		return
	}
	owner := c.owner
	mode := c.currentMode()
	params := mutateParams(c.basePrompt, c.temperature, mode, c.rng)
	c.mu.Unlock()

	if err := params.ApplyModeDefaults(mode, true); err != nil {
		metrics.DreamTicks.WithLabelValues("error").Inc()
		logger.Warnw("dream tick produced invalid params", logger.FieldError, err)
		return
	}

	job := engine.NewJob(engine.TypeGenerate, "", engine.PriorityBackground, engine.SourceDream)
	job.SessionID = owner
	job.Generate = params

	if _, err := c.eng.Submit(job); err != nil {
		switch errors.KindOf(err) {
		case errors.KindQueueFull:
			metrics.DreamTicks.WithLabelValues("queue_full").Inc()
			logger.DreamDebugw("dream tick skipped, queue full")
		default:
			metrics.DreamTicks.WithLabelValues("error").Inc()
			logger.Warnw("dream tick submit failed", logger.FieldError, err)
		}
		return
	}

	c.mu.Lock()
	// A stop can slip in between the submit and here; track the child
	// anyway so the drain logic owns its terminal.
	c.children[job.ID] = &child{prompt: params.Prompt}
	c.dreamCount++
	count := c.dreamCount
	c.mu.Unlock()

	metrics.DreamTicks.WithLabelValues("ok").Inc()
	logger.DreamDebugw("dream child submitted",
		logger.FieldJobID, job.ID,
		logger.FieldSeed, params.Seed,
		logger.FieldSteps, params.Steps,
		"prompt", params.Prompt,
		logger.FieldCount, count,
	)
}

// currentMode resolves the pool's mode for jitter baselines. Callers
// hold c.mu; the engine and source have their own locks.
func (c *Controller) currentMode() modes.Mode {
	mode, err := c.source.Get(c.eng.CurrentMode())
	if err != nil {
		return fallbackMode()
	}
	return mode
}

func fallbackMode() modes.Mode {
	return modes.Mode{
		DefaultSize:     modes.DefaultSize,
		DefaultSteps:    modes.DefaultSteps,
		DefaultGuidance: modes.DefaultGuidance,
	}
}

// HandleChildEvent consumes a pool event for a dream-sourced job. The
// server's dispatcher routes these; completions become candidates and
// terminals drain the stopping ledger.
func (c *Controller) HandleChildEvent(ev engine.Event) {
	switch ev.Kind {
	case engine.EventStarted:
		c.mu.Lock()
		if ch, ok := c.children[ev.JobID]; ok {
			ch.started = true
		}
		c.mu.Unlock()

	case engine.EventComplete:
		c.recordCandidate(ev)
		c.removeChild(ev.JobID)

	case engine.EventError, engine.EventCanceled:
		c.removeChild(ev.JobID)
	}
}

func (c *Controller) recordCandidate(ev engine.Event) {
	if ev.Result == nil {
		return
	}

	c.mu.Lock()
	ch, ok := c.children[ev.JobID]
	if !ok {
		c.mu.Unlock()
		return
	}

	cand := Candidate{
		JobID:       ev.JobID,
		Seed:        ev.Result.Seed,
		Prompt:      ch.prompt,
		CompletedAt: time.Now(),
	}
	if len(ev.Result.Outputs) > 0 {
		cand.Key = ev.Result.Outputs[0].Key
		cand.URL = ev.Result.Outputs[0].URL
	}

	c.candidates = append(c.candidates, cand)
	if len(c.candidates) > c.opts.Keep {
		c.candidates = c.candidates[len(c.candidates)-c.opts.Keep:]
	}
	sessionID := c.owner
	c.mu.Unlock()

	c.emit(Event{Kind: EventCandidate, SessionID: sessionID, Candidate: &cand})
}

func (c *Controller) removeChild(jobID string) {
	c.mu.Lock()
	_, ok := c.children[jobID]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.children, jobID)
	drained := c.state == StateStopping && len(c.children) == 0
	c.mu.Unlock()

	if drained {
		c.finalize()
	}
}

// finalize closes out a stopping session: record stats, return to
// idle, and emit dream:stopped.
func (c *Controller) finalize() {
	c.mu.Lock()
	if c.state != StateStopping {
		c.mu.Unlock()
		return
	}
	c.lastElapsed = time.Since(c.startedAt).Seconds()
	stats := Stats{
		Total:          c.dreamCount,
		CandidatesKept: len(c.candidates),
		ElapsedSeconds: c.lastElapsed,
	}
	sessionID := c.owner
	c.state = StateIdle
	c.owner = ""
	c.mu.Unlock()

	logger.DreamInfow("dream session complete",
		"total", stats.Total,
		"candidates_kept", stats.CandidatesKept,
		"elapsed_seconds", stats.ElapsedSeconds,
	)
	c.emit(Event{Kind: EventStopped, SessionID: sessionID, Stats: &stats})
	c.emitStatus()
}

// Guide atomically replaces the base prompt and/or temperature. The
// next tick uses the new values; the in-flight child is untouched.
// Returns the fields that changed, for the guide ack.
func (c *Controller) Guide(prompt *string, temperature *float64) (map[string]interface{}, error) {
	if temperature != nil && (*temperature < 0 || *temperature > 1) {
		return nil, errors.NewKindf(errors.KindBadRequest,
			"temperature %.2f out of range 0..1", *temperature)
	}

	updated := make(map[string]interface{})
	c.mu.Lock()
	if prompt != nil && *prompt != "" {
		c.basePrompt = *prompt
		updated["prompt"] = *prompt
	}
	if temperature != nil {
		c.temperature = *temperature
		updated["temperature"] = *temperature
	}
	c.mu.Unlock()

	if len(updated) > 0 {
		logger.DreamInfow("dream guided", "updated", updated)
	}
	return updated, nil
}

// Status snapshots the controller for dream:status.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	elapsed := c.lastElapsed
	if c.state != StateIdle {
		elapsed = time.Since(c.startedAt).Seconds()
	}

	var dps float64
	if elapsed > 0 {
		dps = float64(c.dreamCount) / elapsed
	}

	return Status{
		State:           string(c.state),
		Active:          c.state != StateIdle,
		DreamCount:      c.dreamCount,
		DreamsPerSecond: dps,
		Candidates:      len(c.candidates),
		ElapsedSeconds:  elapsed,
		BasePrompt:      c.basePrompt,
		Temperature:     c.temperature,
	}
}

// Stats snapshots session totals; used when stop is a no-op and the
// reply still wants numbers.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	elapsed := c.lastElapsed
	if c.state != StateIdle {
		elapsed = time.Since(c.startedAt).Seconds()
	}
	return Stats{
		Total:          c.dreamCount,
		CandidatesKept: len(c.candidates),
		ElapsedSeconds: elapsed,
	}
}

// Top returns the most recent limit candidates, newest first. minScore
// is accepted for wire compatibility but does not filter until a
// scorer lands.
func (c *Controller) Top(limit int, minScore float64) []Candidate {
	_ = minScore

	if limit <= 0 {
		limit = defaultTopLimit
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.candidates)
	if limit > n {
		limit = n
	}
	out := make([]Candidate, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, c.candidates[i])
	}
	return out
}

// Owner reports the session that holds the dream, empty when idle.
func (c *Controller) Owner() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.owner
}

// Close stops any active session without waiting for children (the
// pool's shutdown owns those) and closes the event bus.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.state == StateStarting || c.state == StateDreaming {
		c.state = StateStopping
		close(c.stopCh)
	}
	c.state = StateIdle
	c.owner = ""
	c.mu.Unlock()

	c.wg.Wait()

	c.busMu.Lock()
	if !c.closed {
		c.closed = true
		close(c.bus)
	}
	c.busMu.Unlock()
}

func (c *Controller) emitStatus() {
	status := c.Status()
	c.mu.Lock()
	sessionID := c.owner
	c.mu.Unlock()
	c.emit(Event{Kind: EventStatus, SessionID: sessionID, Status: &status})
}

// emit publishes without blocking; a full bus drops the event. Status
// and candidate broadcasts are advisory, and dream:stopped is also
// answerable from Stats() on the request path.
func (c *Controller) emit(ev Event) {
	c.busMu.RLock()
	defer c.busMu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.bus <- ev:
	default:
		metrics.EventsDropped.WithLabelValues("dream:" + string(ev.Kind)).Inc()
		logger.Debugw("dream bus full, dropped event", "kind", ev.Kind)
	}
}
