package engine

import (
	"context"

	"github.com/teranos/yume/modes"
)

// RenderOutput is what a worker hands back for persistence. The pool
// writes Data to the output store and never inspects it.
type RenderOutput struct {
	Data    []byte
	Mime    string
	Seed    uint32
	Backend string
	SR      bool
}

// Worker executes jobs against one loaded model. A worker belongs to a
// single mode; the pool builds a fresh one per mode switch.
//
// Run must honor ctx between steps and report progress in [0,1] through
// the callback. The callback is cheap and never blocks the worker.
type Worker interface {
	Run(ctx context.Context, job *Job, progress func(float64)) (*RenderOutput, error)
	Unload()
}

// Factory builds a worker loaded with the given mode's model. The pool
// never references a concrete worker type.
type Factory func(workerID string, mode modes.Mode) (Worker, error)

// ModeProvider resolves mode names. Satisfied by *modes.Manager.
type ModeProvider interface {
	Get(name string) (modes.Mode, error)
	Has(name string) bool
	Default() string
}

// ModelInfo records one model allocation in the registry.
type ModelInfo struct {
	Name      string
	Path      string
	VRAMBytes uint64
	WorkerID  string
	Loras     []string
}

// ModelStats is the per-model slice of RegistryStats.
type ModelStats struct {
	Name      string   `json:"name"`
	ModelPath string   `json:"model_path"`
	VRAMGB    float64  `json:"vram_gb"`
	Loras     []string `json:"loras"`
}

// RegistryStats is the device-wide memory picture.
type RegistryStats struct {
	Device       string       `json:"device"`
	TotalGB      float64      `json:"total_gb"`
	UsedGB       float64      `json:"used_gb"`
	AvailableGB  float64      `json:"available_gb"`
	UsagePercent float64      `json:"usage_percent"`
	ModelsLoaded int          `json:"models_loaded"`
	Models       []ModelStats `json:"models"`
}

// Registry tracks model memory accounting. Observational only: the
// factory registers what it loads, Unload unregisters it, and nothing
// gates on the numbers.
type Registry interface {
	Register(info ModelInfo)
	Unregister(name string)
	UsedBytes() uint64
	AvailableBytes() uint64
	CanFit(estimated uint64) bool
	IsLoaded(name string) bool
	Stats() RegistryStats
}
