// Package engine implements the render job core: the job model, the
// priority queue, the single-worker pool, and the event bus the session
// router drains. The pool never references a concrete worker; backends
// are injected through a Factory.
package engine

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type discriminates job payloads.
type Type string

const (
	TypeGenerate   Type = "generate"
	TypeSR         Type = "sr"
	TypeComfy      Type = "comfy"
	TypeModeSwitch Type = "modeSwitch"
)

// KnownType reports whether t is a recognized job type.
func KnownType(t Type) bool {
	switch t {
	case TypeGenerate, TypeSR, TypeComfy, TypeModeSwitch:
		return true
	}
	return false
}

// Priority lanes. Lower value wins; FIFO within a lane.
type Priority int

const (
	PriorityUrgent     Priority = 0 // mode switches, interactive retries
	PriorityNormal     Priority = 1 // interactive generates
	PriorityBatch      Priority = 2 // bulk work
	PriorityBackground Priority = 3 // dream children
)

// ValidPriority reports whether p is one of the four lanes.
func ValidPriority(p Priority) bool {
	return p >= PriorityUrgent && p <= PriorityBackground
}

func (p Priority) String() string {
	switch p {
	case PriorityUrgent:
		return "urgent"
	case PriorityNormal:
		return "normal"
	case PriorityBatch:
		return "batch"
	case PriorityBackground:
		return "background"
	}
	return "unknown"
}

// Source records who created a job.
type Source string

const (
	SourceWS    Source = "ws"
	SourceHTTP  Source = "http"
	SourceDream Source = "dream"
)

// State is a job's lifecycle position. Transitions form a DAG:
// queued→canceled, queued→running→{done,failed,canceled}, with
// canceling as a transient marker on a running job.
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateCanceling State = "canceling"
	StateDone      State = "done"
	StateFailed    State = "failed"
	StateCanceled  State = "canceled"
)

// Terminal reports whether s is final. Terminal states are immutable.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed || s == StateCanceled
}

// Job is the central entity: one unit of render work. Submission fields
// are immutable after Submit; state moves only through transition().
type Job struct {
	ID        string
	CorrID    string // client-chosen correlation id, opaque, echoed on ack/errors
	Type      Type
	Priority  Priority
	Source    Source
	SessionID string // owning WS session, empty for HTTP/dream jobs

	// Exactly one params field is set, matching Type.
	Generate   *GenerateParams
	SR         *SRParams
	Comfy      *ComfyParams
	ModeSwitch *ModeSwitchParams

	// InitImage holds bytes resolved from a fileRef before submission.
	InitImage []byte

	SubmittedAt time.Time
	seq         uint64 // queue arrival order, FIFO tie-break within a lane
	heapIndex   int    // position in the queue's heap, -1 when not queued

	mu    sync.Mutex
	state State
}

// NewJobID returns a fresh server-assigned job id: 12 hex chars.
func NewJobID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
}

// NewJob constructs a queued job with a fresh id.
func NewJob(t Type, corrID string, priority Priority, source Source) *Job {
	return &Job{
		ID:          NewJobID(),
		CorrID:      corrID,
		Type:        t,
		Priority:    priority,
		Source:      source,
		SubmittedAt: time.Now(),
		heapIndex:   -1,
		state:       StateQueued,
	}
}

// State returns the job's current lifecycle state.
func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// transition moves the job from one of the expected states to next.
// Returns false (and leaves state untouched) when the current state is
// not in from. Terminal states can never be left.
func (j *Job) transition(next State, from ...State) bool {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.state.Terminal() {
		return false
	}
	for _, f := range from {
		if j.state == f {
			j.state = next
			return true
		}
	}
	return false
}

// Descriptor is the queue-visible summary of a job.
type Descriptor struct {
	ID          string    `json:"id"`
	Type        Type      `json:"type"`
	Priority    Priority  `json:"priority"`
	Source      Source    `json:"source"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Describe snapshots the job's queue-visible fields.
func (j *Job) Describe() Descriptor {
	return Descriptor{
		ID:          j.ID,
		Type:        j.Type,
		Priority:    j.Priority,
		Source:      j.Source,
		SubmittedAt: j.SubmittedAt,
	}
}
