package server

import (
	"encoding/json"

	"github.com/teranos/yume/engine"
	"github.com/teranos/yume/errors"
	"github.com/teranos/yume/modes"
)

// generateWire is the client-facing generate params document. Field
// names match the legacy REST body, so the blocking adapters and WS
// submits decode through the same shape.
type generateWire struct {
	Prompt            string  `json:"prompt"`
	Size              string  `json:"size"`
	Steps             int     `json:"steps"`
	CFG               float64 `json:"cfg"`
	Seed              *uint32 `json:"seed"`
	Superres          bool    `json:"superres"`
	SuperresMagnitude int     `json:"superres_magnitude"`
	InitImageRef      string  `json:"init_image_ref"`
	DenoiseStrength   float64 `json:"denoise_strength"`
}

type srWire struct {
	InitImageRef string `json:"init_image_ref"`
	Magnitude    int    `json:"magnitude"`
}

type comfyWire struct {
	WorkflowID string                 `json:"workflowId"`
	Params     map[string]interface{} `json:"params"`
	InputImage string                 `json:"inputImage"`
}

type modeSwitchWire struct {
	Mode string `json:"mode"`
}

// handleJobSubmit validates, resolves any init image ref, and submits.
// The subscription gate opens only after a successful submit, via the
// ack, so no event frame can precede job:ack.
func (s *Server) handleJobSubmit(c *Client, env *Envelope) {
	corr := env.ID
	if corr == "" {
		c.sendError("", "", errors.NewKind(errors.KindBadRequest, "id is required"))
		return
	}
	if c.seenCorr(corr) {
		c.sendError(corr, "", errors.NewKindf(errors.KindBadRequest, "id %q already used", corr))
		return
	}

	job, ref, err := s.buildJob(corr, env)
	if err != nil {
		c.sendError(corr, "", err)
		return
	}
	job.SessionID = c.id

	if env.InitImageRef != "" {
		ref = env.InitImageRef
	}
	if ref != "" {
		data, _, err := s.refs.Take(ref)
		if err != nil {
			c.sendError(corr, "", err)
			return
		}
		job.InitImage = data
	}

	c.openSub(job.ID)
	if _, err := s.pool.Submit(job); err != nil {
		c.dropSub(job.ID)
		c.sendError(corr, "", err)
		return
	}
	c.ackJob(corr, job.ID)
}

// buildJob constructs the typed job for env, returning the fileRef to
// resolve before submission (empty when the type carries none).
func (s *Server) buildJob(corr string, env *Envelope) (*engine.Job, string, error) {
	switch engine.Type(env.JobType) {
	case engine.TypeGenerate:
		var wire generateWire
		if err := decodeParams(env.Params, &wire); err != nil {
			return nil, "", err
		}
		return s.generateJob(corr, engine.SourceWS, wire)
	case engine.TypeSR:
		var wire srWire
		if err := decodeParams(env.Params, &wire); err != nil {
			return nil, "", err
		}
		return s.srJob(corr, engine.SourceWS, wire)
	case engine.TypeComfy:
		var wire comfyWire
		if err := decodeParams(env.Params, &wire); err != nil {
			return nil, "", err
		}
		return s.comfyJob(corr, engine.SourceWS, wire)
	case engine.TypeModeSwitch:
		var wire modeSwitchWire
		if err := decodeParams(env.Params, &wire); err != nil {
			return nil, "", err
		}
		return s.modeSwitchJob(corr, wire)
	default:
		return nil, "", errors.NewKindf(errors.KindUnknownType, "unknown job type: %s", env.JobType)
	}
}

func decodeParams(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errors.WithKind(errors.Wrap(err, "invalid params"), errors.KindBadRequest)
	}
	return nil
}

// currentMode returns the pool's loaded mode, falling back to package
// defaults when the catalog entry vanished in a reload race.
func (s *Server) currentMode() modes.Mode {
	mode, err := s.modes.Get(s.pool.CurrentMode())
	if err != nil {
		return modes.Mode{
			DefaultSize:     modes.DefaultSize,
			DefaultSteps:    modes.DefaultSteps,
			DefaultGuidance: modes.DefaultGuidance,
		}
	}
	return mode
}

// generateJob validates generate params against the current mode's
// defaults and wraps them in a job.
func (s *Server) generateJob(corr string, source engine.Source, wire generateWire) (*engine.Job, string, error) {
	p := engine.GenerateParams{
		Prompt:            wire.Prompt,
		Steps:             wire.Steps,
		CFG:               wire.CFG,
		Superres:          wire.Superres,
		SuperresMagnitude: wire.SuperresMagnitude,
		InitImageRef:      wire.InitImageRef,
		DenoiseStrength:   wire.DenoiseStrength,
	}
	if wire.Size != "" {
		w, h, err := engine.ParseSize(wire.Size)
		if err != nil {
			return nil, "", errors.WithKind(err, errors.KindBadRequest)
		}
		p.Width, p.Height = w, h
	}
	seedSet := wire.Seed != nil
	if seedSet {
		p.Seed = *wire.Seed
	}
	if err := p.ApplyModeDefaults(s.currentMode(), seedSet); err != nil {
		return nil, "", err
	}
	if err := p.Validate(); err != nil {
		return nil, "", errors.WithKind(err, errors.KindBadRequest)
	}

	job := engine.NewJob(engine.TypeGenerate, corr, engine.PriorityNormal, source)
	job.Generate = &p
	return job, p.InitImageRef, nil
}

func (s *Server) srJob(corr string, source engine.Source, wire srWire) (*engine.Job, string, error) {
	p := engine.SRParams{
		InitImageRef: wire.InitImageRef,
		Magnitude:    wire.Magnitude,
	}
	if p.Magnitude == 0 {
		p.Magnitude = 2
	}
	if err := p.Validate(); err != nil {
		return nil, "", errors.WithKind(err, errors.KindBadRequest)
	}

	job := engine.NewJob(engine.TypeSR, corr, engine.PriorityNormal, source)
	job.SR = &p
	return job, p.InitImageRef, nil
}

func (s *Server) comfyJob(corr string, source engine.Source, wire comfyWire) (*engine.Job, string, error) {
	p := engine.ComfyParams{
		WorkflowID:    wire.WorkflowID,
		Params:        wire.Params,
		InputImageRef: wire.InputImage,
	}
	if err := p.Validate(); err != nil {
		return nil, "", errors.WithKind(err, errors.KindBadRequest)
	}
	if !s.workflows.Has(p.WorkflowID) {
		return nil, "", errors.NewKindf(errors.KindBadRequest, "unknown workflow: %s", p.WorkflowID)
	}

	job := engine.NewJob(engine.TypeComfy, corr, engine.PriorityNormal, source)
	job.Comfy = &p
	return job, p.InputImageRef, nil
}

// modeSwitchJob enqueues a switch at URGENT so it jumps the render
// queue. The worker re-checks loadedness, so switching to the current
// mode is a cheap no-op job rather than an error.
func (s *Server) modeSwitchJob(corr string, wire modeSwitchWire) (*engine.Job, string, error) {
	p := engine.ModeSwitchParams{Mode: wire.Mode}
	if err := p.Validate(); err != nil {
		return nil, "", errors.WithKind(err, errors.KindBadRequest)
	}
	if !s.modes.Has(p.Mode) {
		return nil, "", errors.NewKindf(errors.KindModeNotFound, "mode %q not found", p.Mode)
	}

	job := engine.NewJob(engine.TypeModeSwitch, corr, engine.PriorityUrgent, engine.SourceWS)
	job.ModeSwitch = &p
	return job, "", nil
}

// handleJobCancel forwards a best-effort cancel. A hit surfaces through
// the job's stream as terminal job:cancel; a miss gets no reply.
func (s *Server) handleJobCancel(c *Client, env *Envelope) {
	if env.JobID == "" {
		c.sendError(env.ID, "", errors.NewKind(errors.KindBadRequest, "jobId is required"))
		return
	}
	s.pool.Cancel(env.JobID)
}

// handleJobPriority revalidates and forwards a reprioritize. The
// queue:state broadcast reflects the outcome either way.
func (s *Server) handleJobPriority(c *Client, env *Envelope) {
	if env.JobID == "" {
		c.sendError(env.ID, "", errors.NewKind(errors.KindBadRequest, "jobId is required"))
		return
	}
	if env.Priority == nil || !engine.ValidPriority(engine.Priority(*env.Priority)) {
		c.sendError(env.ID, "", errors.NewKind(errors.KindBadRequest, "priority must be 0..3"))
		return
	}
	s.pool.Reprioritize(env.JobID, engine.Priority(*env.Priority))
}
