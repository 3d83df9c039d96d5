package dream

import (
	"math"
	"math/rand"
	"strings"

	"github.com/teranos/yume/engine"
	"github.com/teranos/yume/modes"
)

// modifiers is the textual mutation corpus. Suffixes are appended to
// the base prompt to push each dream into a different region of the
// model's space without losing the subject.
var modifiers = []string{
	"dramatic lighting", "soft lighting", "golden hour",
	"cinematic", "highly detailed", "ethereal",
	"warm tones", "cool tones", "vibrant colors",
	"misty", "foggy", "hazy", "atmospheric",
	"sharp focus", "shallow depth of field", "bokeh",
	"film grain", "vintage", "modern",
}

// jitterSpread is the relative range applied to steps and guidance:
// each tick samples uniformly from [1-spread, 1+spread] around the
// mode's defaults.
const jitterSpread = 0.2

// mutatePrompt appends 0..n distinct modifiers to the base prompt,
// where n grows with temperature: cold dreams stay close to the base,
// hot dreams wander.
func mutatePrompt(base string, temperature float64, rng *rand.Rand) string {
	maxMods := int(3*temperature) + 1
	n := rng.Intn(maxMods)
	if n == 0 {
		return base
	}

	parts := make([]string, 0, n+1)
	parts = append(parts, base)
	for _, i := range rng.Perm(len(modifiers))[:n] {
		parts = append(parts, modifiers[i])
	}
	return strings.Join(parts, ", ")
}

// mutateParams builds one dream tick's generation params: mutated
// prompt, steps and guidance jittered around the mode's defaults and
// clipped to the engine's limits, and a fresh seed.
func mutateParams(base string, temperature float64, mode modes.Mode, rng *rand.Rand) *engine.GenerateParams {
	steps := mode.DefaultSteps
	if steps <= 0 {
		steps = modes.DefaultSteps
	}
	cfg := mode.DefaultGuidance
	if cfg <= 0 {
		cfg = modes.DefaultGuidance
	}

	return &engine.GenerateParams{
		Prompt: mutatePrompt(base, temperature, rng),
		Steps:  clampSteps(int(math.Round(float64(steps) * jitter(rng)))),
		CFG:    clampCFG(cfg * jitter(rng)),
		Seed:   engine.RandomSeed(),
	}
}

func jitter(rng *rand.Rand) float64 {
	return 1 - jitterSpread + 2*jitterSpread*rng.Float64()
}

func clampSteps(steps int) int {
	if steps < 1 {
		return 1
	}
	if steps > engine.MaxSteps {
		return engine.MaxSteps
	}
	return steps
}

func clampCFG(cfg float64) float64 {
	if cfg < 0 {
		return 0
	}
	if cfg > engine.MaxCFG {
		return engine.MaxCFG
	}
	return cfg
}
