package engine

import (
	"math/rand"
	"strconv"
	"strings"

	"github.com/teranos/yume/errors"
	"github.com/teranos/yume/modes"
)

// Server-side parameter guards. Values beyond these are rejected before
// a job is created.
const (
	MinDim   = 64
	MaxDim   = 4096
	MaxSteps = 150
	MaxCFG   = 30.0

	MinMagnitude = 1
	MaxMagnitude = 4

	// seedRange matches the exploration seed space: [0, 2^31).
	seedRange = 1 << 31
)

// RandomSeed returns a fresh seed in [0, 2^31).
func RandomSeed() uint32 {
	return uint32(rand.Int63n(seedRange))
}

// ParseSize splits a "WxH" string into dimensions.
func ParseSize(s string) (int, int, error) {
	parts := strings.SplitN(strings.ToLower(s), "x", 2)
	if len(parts) != 2 {
		return 0, 0, errors.NewKindf(errors.KindBadRequest, "invalid size %q, expected WxH", s)
	}
	w, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, errors.NewKindf(errors.KindBadRequest, "invalid size %q, expected WxH", s)
	}
	h, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, errors.NewKindf(errors.KindBadRequest, "invalid size %q, expected WxH", s)
	}
	return w, h, nil
}

// FormatSize renders dimensions back to the "WxH" wire form.
func FormatSize(w, h int) string {
	return strconv.Itoa(w) + "x" + strconv.Itoa(h)
}

// GenerateParams drives a text-to-image (or image-to-image) render.
type GenerateParams struct {
	Prompt            string
	Width             int
	Height            int
	Steps             int
	CFG               float64
	Seed              uint32
	Superres          bool
	SuperresMagnitude int
	InitImageRef      string  // resolved to Job.InitImage before submit
	DenoiseStrength   float64 // img2img only, 0..1
}

// ApplyModeDefaults fills unset size/steps/cfg from the mode's defaults
// and assigns a random seed when none was provided.
func (p *GenerateParams) ApplyModeDefaults(mode modes.Mode, seedSet bool) error {
	if p.Width == 0 || p.Height == 0 {
		w, h, err := ParseSize(mode.DefaultSize)
		if err != nil {
			return err
		}
		p.Width, p.Height = w, h
	}
	if p.Steps == 0 {
		p.Steps = mode.DefaultSteps
	}
	if p.CFG == 0 {
		p.CFG = mode.DefaultGuidance
	}
	if !seedSet {
		p.Seed = RandomSeed()
	}
	if p.Superres && p.SuperresMagnitude == 0 {
		p.SuperresMagnitude = 2
	}
	return nil
}

// Validate bounds-checks the params. Errors carry KindBadRequest.
func (p *GenerateParams) Validate() error {
	if strings.TrimSpace(p.Prompt) == "" {
		return errors.NewKind(errors.KindBadRequest, "prompt is required")
	}
	if p.Width < MinDim || p.Width > MaxDim || p.Height < MinDim || p.Height > MaxDim {
		return errors.NewKindf(errors.KindBadRequest,
			"size %s out of range %d..%d", FormatSize(p.Width, p.Height), MinDim, MaxDim)
	}
	if p.Steps < 1 || p.Steps > MaxSteps {
		return errors.NewKindf(errors.KindBadRequest, "steps %d out of range 1..%d", p.Steps, MaxSteps)
	}
	if p.CFG < 0 || p.CFG > MaxCFG {
		return errors.NewKindf(errors.KindBadRequest, "cfg %.2f out of range 0..%.0f", p.CFG, MaxCFG)
	}
	if p.Superres {
		if p.SuperresMagnitude < MinMagnitude || p.SuperresMagnitude > MaxMagnitude {
			return errors.NewKindf(errors.KindBadRequest,
				"superres_magnitude %d out of range %d..%d", p.SuperresMagnitude, MinMagnitude, MaxMagnitude)
		}
	}
	if p.DenoiseStrength < 0 || p.DenoiseStrength > 1 {
		return errors.NewKindf(errors.KindBadRequest,
			"denoise_strength %.2f out of range 0..1", p.DenoiseStrength)
	}
	return nil
}

// SRParams drives a standalone super-resolution pass.
type SRParams struct {
	InitImageRef string
	Magnitude    int
}

// Validate bounds-checks the params. Errors carry KindBadRequest.
func (p *SRParams) Validate() error {
	if p.InitImageRef == "" {
		return errors.NewKind(errors.KindBadRequest, "init_image_ref is required")
	}
	if p.Magnitude < MinMagnitude || p.Magnitude > MaxMagnitude {
		return errors.NewKindf(errors.KindBadRequest,
			"magnitude %d out of range %d..%d", p.Magnitude, MinMagnitude, MaxMagnitude)
	}
	return nil
}

// ComfyParams drives a node-graph workflow render.
type ComfyParams struct {
	WorkflowID    string
	Params        map[string]interface{}
	InputImageRef string
}

// Validate checks the required fields. Workflow existence is checked by
// the router against the workflow catalog.
func (p *ComfyParams) Validate() error {
	if p.WorkflowID == "" {
		return errors.NewKind(errors.KindBadRequest, "workflowId is required")
	}
	return nil
}

// ModeSwitchParams names the target mode.
type ModeSwitchParams struct {
	Mode string
}

// Validate checks the required fields. Mode existence is checked
// against the mode catalog at submit time.
func (p *ModeSwitchParams) Validate() error {
	if p.Mode == "" {
		return errors.NewKind(errors.KindBadRequest, "mode is required")
	}
	return nil
}
