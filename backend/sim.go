package backend

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"github.com/teranos/yume/engine"
	"github.com/teranos/yume/errors"
	"github.com/teranos/yume/logger"
)

// BackendName is the meta.backend value stamped on every output.
const BackendName = "sim"

// pngSignature opens every synthesized blob so downstream tooling that
// sniffs magic bytes treats the output as an image.
const pngSignature = "\x89PNG\r\n\x1a\n"

const (
	srBaseSteps    = 2    // progress ticks per magnitude unit for sr jobs
	comfySteps     = 8    // fixed progress ticks for workflow jobs
	minOutputBytes = 256  // floor for tiny inputs
	pixelsPerByte  = 64   // output size scale for generated images
)

// SimWorker renders deterministic pseudo-images. The same recipe (mode,
// prompt, dimensions, steps, cfg, seed, init image) always yields the
// same bytes, so repeat submissions land on the same content key.
//
// It steps through the inference loop for real: progress callbacks fire
// per step and the context is honored between steps, with an optional
// per-step delay to make timing-sensitive behavior observable.
type SimWorker struct {
	id        string
	mode      string
	stepDelay time.Duration

	registry engine.Registry
}

// Run executes one job. Only render job types reach a worker; the pool
// handles modeSwitch itself.
func (w *SimWorker) Run(ctx context.Context, job *engine.Job, progress func(float64)) (*engine.RenderOutput, error) {
	switch job.Type {
	case engine.TypeGenerate:
		return w.generate(ctx, job, progress)
	case engine.TypeSR:
		return w.superres(ctx, job, progress)
	case engine.TypeComfy:
		return w.comfy(ctx, job, progress)
	default:
		return nil, errors.Newf("sim worker cannot execute %s jobs", job.Type)
	}
}

func (w *SimWorker) generate(ctx context.Context, job *engine.Job, progress func(float64)) (*engine.RenderOutput, error) {
	p := job.Generate

	logger.RenderDebugw("render start",
		logger.FieldJobID, job.ID,
		logger.FieldMode, w.mode,
		logger.FieldSize, fmt.Sprintf("%dx%d", p.Width, p.Height),
		logger.FieldSteps, p.Steps,
		logger.FieldSeed, p.Seed,
	)

	if err := w.stepThrough(ctx, p.Steps, progress); err != nil {
		return nil, err
	}

	width, height := p.Width, p.Height
	if p.Superres {
		width *= p.SuperresMagnitude
		height *= p.SuperresMagnitude
	}

	recipe := fmt.Sprintf("generate|%s|%s|%dx%d|%d|%.3f|%d|sr=%v|mag=%d|denoise=%.3f|init=%x",
		w.mode, p.Prompt, p.Width, p.Height, p.Steps, p.CFG, p.Seed,
		p.Superres, p.SuperresMagnitude, p.DenoiseStrength, digest(job.InitImage))

	return &engine.RenderOutput{
		Data:    synthesize(recipe, width*height/pixelsPerByte),
		Mime:    "image/png",
		Seed:    p.Seed,
		Backend: BackendName,
		SR:      p.Superres,
	}, nil
}

func (w *SimWorker) superres(ctx context.Context, job *engine.Job, progress func(float64)) (*engine.RenderOutput, error) {
	p := job.SR
	if len(job.InitImage) == 0 {
		return nil, errors.New("sr job reached the worker without init image bytes")
	}

	if err := w.stepThrough(ctx, p.Magnitude*srBaseSteps, progress); err != nil {
		return nil, err
	}

	recipe := fmt.Sprintf("sr|%s|mag=%d|init=%x", w.mode, p.Magnitude, digest(job.InitImage))

	return &engine.RenderOutput{
		Data:    synthesize(recipe, len(job.InitImage)*p.Magnitude*p.Magnitude),
		Mime:    "image/png",
		Backend: BackendName,
		SR:      true,
	}, nil
}

func (w *SimWorker) comfy(ctx context.Context, job *engine.Job, progress func(float64)) (*engine.RenderOutput, error) {
	p := job.Comfy

	if err := w.stepThrough(ctx, comfySteps, progress); err != nil {
		return nil, err
	}

	// json.Marshal sorts map keys, so the recipe is stable for any
	// iteration order of the free-form params.
	encoded, err := json.Marshal(p.Params)
	if err != nil {
		return nil, errors.Wrap(err, "encoding workflow params")
	}

	recipe := fmt.Sprintf("comfy|%s|%s|%s|init=%x", w.mode, p.WorkflowID, encoded, digest(job.InitImage))

	return &engine.RenderOutput{
		Data:    synthesize(recipe, 4096),
		Mime:    "image/png",
		Backend: BackendName,
	}, nil
}

// stepThrough walks the inference loop: one progress report per step,
// context checked between steps, stepDelay slept per step when set.
func (w *SimWorker) stepThrough(ctx context.Context, steps int, progress func(float64)) error {
	if steps < 1 {
		steps = 1
	}
	for step := 1; step <= steps; step++ {
		if err := w.pause(ctx); err != nil {
			return err
		}
		progress(float64(step) / float64(steps))
	}
	return nil
}

func (w *SimWorker) pause(ctx context.Context) error {
	if w.stepDelay <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(w.stepDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Unload releases the worker's model registration. The sim holds no
// real allocations, so this is entirely ledger work.
func (w *SimWorker) Unload() {
	w.registry.Unregister(w.mode)
	logger.RenderInfow("worker unloaded",
		"worker_id", w.id,
		logger.FieldMode, w.mode,
	)
}

// synthesize expands a recipe into n deterministic pseudo-PNG bytes:
// the PNG signature followed by a sha256 chain seeded from the recipe.
func synthesize(recipe string, n int) []byte {
	if n < minOutputBytes {
		n = minOutputBytes
	}

	buf := make([]byte, 0, len(pngSignature)+n)
	buf = append(buf, pngSignature...)

	block := sha256.Sum256([]byte(recipe))
	for len(buf) < len(pngSignature)+n {
		buf = append(buf, block[:]...)
		block = sha256.Sum256(block[:])
	}
	return buf[:len(pngSignature)+n]
}

// digest folds init-image bytes into a recipe without embedding them.
func digest(data []byte) []byte {
	if len(data) == 0 {
		return nil
	}
	sum := sha256.Sum256(data)
	return sum[:]
}
