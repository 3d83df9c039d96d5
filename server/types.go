package server

import (
	"encoding/json"
	"time"

	"github.com/teranos/yume/dream"
	"github.com/teranos/yume/engine"
	"github.com/teranos/yume/store"
)

// ServerState tracks the lifecycle phase for graceful shutdown.
type ServerState int32

const (
	ServerStateRunning ServerState = iota
	ServerStateDraining
	ServerStateStopped
)

const (
	// MaxClients bounds concurrent WebSocket sessions.
	MaxClients = 128

	// ShutdownTimeout bounds the drain phase during Stop.
	ShutdownTimeout = 10 * time.Second

	// statusInterval is the system:status broadcast cadence.
	statusInterval = 5 * time.Second

	// wireErrorLimit bounds error messages on outbound frames.
	wireErrorLimit = 300
)

// Envelope is the inbound WebSocket message. Type selects the handler
// and id is the client's correlation token, echoed on acks and errors.
// The remaining fields are populated per type; handlers read only the
// ones their type defines.
type Envelope struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`

	// job:submit
	JobType      string          `json:"jobType,omitempty"`
	Params       json.RawMessage `json:"params,omitempty"`
	InitImageRef string          `json:"initImageRef,omitempty"`

	// job:cancel, job:priority
	JobID    string `json:"jobId,omitempty"`
	Priority *int   `json:"priority,omitempty"`

	// dream:start, dream:guide
	Prompt        string   `json:"prompt,omitempty"`
	DurationHours float64  `json:"durationHours,omitempty"`
	Temperature   *float64 `json:"temperature,omitempty"`
	IntervalMS    int      `json:"intervalMs,omitempty"`

	// dream:top
	Limit    int     `json:"limit,omitempty"`
	MinScore float64 `json:"minScore,omitempty"`

	// storage:put
	Data        string `json:"data,omitempty"`
	ContentType string `json:"contentType,omitempty"`

	// telemetry:otlp
	Payload json.RawMessage `json:"payload,omitempty"`
}

type jobAck struct {
	Type  string `json:"type"`
	ID    string `json:"id"`
	JobID string `json:"jobId"`
}

type progressBody struct {
	Fraction float64 `json:"fraction"`
}

type jobProgress struct {
	Type     string       `json:"type"`
	JobID    string       `json:"jobId"`
	Status   string       `json:"status"`
	Progress progressBody `json:"progress"`
}

type completeMeta struct {
	Seed    uint32 `json:"seed"`
	Backend string `json:"backend"`
	SR      bool   `json:"sr"`
}

type jobComplete struct {
	Type    string             `json:"type"`
	JobID   string             `json:"jobId"`
	Outputs []engine.OutputRef `json:"outputs"`
	Meta    completeMeta       `json:"meta"`
}

// jobCanceled is the terminal frame of a canceled job's stream.
type jobCanceled struct {
	Type  string `json:"type"`
	JobID string `json:"jobId"`
}

type jobError struct {
	Type  string `json:"type"`
	JobID string `json:"jobId,omitempty"`
	ID    string `json:"id,omitempty"`
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

type dreamStarted struct {
	Type          string  `json:"type"`
	ID            string  `json:"id,omitempty"`
	SessionID     string  `json:"sessionId"`
	Status        string  `json:"status"`
	BasePrompt    string  `json:"basePrompt"`
	DurationHours float64 `json:"durationHours"`
}

type dreamStopped struct {
	Type   string      `json:"type"`
	ID     string      `json:"id,omitempty"`
	Status string      `json:"status"`
	Stats  dream.Stats `json:"stats"`
}

type dreamGuideAck struct {
	Type    string                 `json:"type"`
	ID      string                 `json:"id,omitempty"`
	Updated map[string]interface{} `json:"updated"`
}

type dreamStatusResult struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
	dream.Status
}

type dreamTopResult struct {
	Type   string            `json:"type"`
	ID     string            `json:"id,omitempty"`
	Dreams []dream.Candidate `json:"dreams"`
}

type dreamCandidateFrame struct {
	Type string `json:"type"`
	dream.Candidate
}

type dreamStatusPush struct {
	Type string `json:"type"`
	dream.Status
}

type storagePutAck struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
	Key  string `json:"key"`
	URL  string `json:"url"`
}

type telemetryAck struct {
	Type   string `json:"type"`
	ID     string `json:"id,omitempty"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type pongFrame struct {
	Type string `json:"type"`
}

// queueStateBody is the queue snapshot payload, shared by the
// queue:state push and the system:status composite.
type queueStateBody struct {
	Pending int                 `json:"pending"`
	Running *engine.Descriptor  `json:"running"`
	Jobs    []engine.Descriptor `json:"jobs"`
}

type queueStateFrame struct {
	Type string `json:"type"`
	queueStateBody
}

type systemStatusFrame struct {
	Type       string               `json:"type"`
	Mode       string               `json:"mode"`
	VRAM       engine.RegistryStats `json:"vram"`
	Storage    store.Stats          `json:"storage"`
	QueueState queueStateBody       `json:"queueState"`
	WSClients  int                  `json:"wsClients"`
	Dream      dream.Status         `json:"dream"`
}
