package server

import (
	"time"

	"github.com/teranos/yume/dream"
)

// defaultDreamTemperature applies when dream:start omits temperature.
const defaultDreamTemperature = 0.5

func (s *Server) handleDreamStart(c *Client, env *Envelope) {
	params := dream.StartParams{
		Prompt:        env.Prompt,
		DurationHours: env.DurationHours,
		Temperature:   defaultDreamTemperature,
	}
	if env.Temperature != nil {
		params.Temperature = *env.Temperature
	}
	if env.IntervalMS > 0 {
		params.Interval = time.Duration(env.IntervalMS) * time.Millisecond
	}

	if err := s.dream.Start(c.id, params); err != nil {
		c.sendError(env.ID, "", err)
		return
	}

	duration := env.DurationHours
	if duration == 0 {
		duration = dream.DefaultDuration
	}
	c.send(dreamStarted{
		Type:          "dream:started",
		ID:            env.ID,
		SessionID:     c.id,
		Status:        "started",
		BasePrompt:    env.Prompt,
		DurationHours: duration,
	})
}

// handleDreamStop begins the drain. The dream:stopped reply is deferred
// until the controller's stopped event, when the last child resolved;
// stopping an idle controller replies immediately with current stats.
func (s *Server) handleDreamStop(c *Client, env *Envelope) {
	if s.dream.Stop() {
		c.setPendingStop(env.ID)
		return
	}
	state := dream.State(s.dream.Status().State)
	if state == dream.StateStopping {
		c.setPendingStop(env.ID)
		return
	}
	c.send(dreamStopped{
		Type:   "dream:stopped",
		ID:     env.ID,
		Status: string(state),
		Stats:  s.dream.Stats(),
	})
}

func (s *Server) handleDreamStatus(c *Client, env *Envelope) {
	c.send(dreamStatusResult{
		Type:   "dream:status:result",
		ID:     env.ID,
		Status: s.dream.Status(),
	})
}

func (s *Server) handleDreamTop(c *Client, env *Envelope) {
	c.send(dreamTopResult{
		Type:   "dream:top:result",
		ID:     env.ID,
		Dreams: s.dream.Top(env.Limit, env.MinScore),
	})
}

// handleDreamGuide forwards prompt/temperature redirection. An empty
// prompt field means "leave the prompt alone", matching the controller.
func (s *Server) handleDreamGuide(c *Client, env *Envelope) {
	var prompt *string
	if env.Prompt != "" {
		prompt = &env.Prompt
	}
	updated, err := s.dream.Guide(prompt, env.Temperature)
	if err != nil {
		c.sendError(env.ID, "", err)
		return
	}
	c.send(dreamGuideAck{Type: "dream:guide:ack", ID: env.ID, Updated: updated})
}
