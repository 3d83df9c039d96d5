package backend

import (
	"os"
	"path/filepath"
	"time"

	"github.com/teranos/yume/engine"
	"github.com/teranos/yume/logger"
	"github.com/teranos/yume/modes"
)

// vramOverhead pads the model file size to estimate its loaded
// footprint: weights plus inference activations.
const vramOverhead = 1.2

// FactoryOptions tunes the simulated backend.
type FactoryOptions struct {
	// StepDelay is slept per inference step. Zero renders instantly.
	StepDelay time.Duration
}

// NewFactory returns an engine.Factory producing simulated workers.
// Loading a mode registers its model in the registry with a file-size
// based memory estimate; the worker's Unload unregisters it.
//
// A missing model file is tolerated: the sim needs no weights, so it
// warns, registers a zero estimate, and loads anyway. A real backend
// would fail here instead.
func NewFactory(manager *modes.Manager, registry engine.Registry, opts FactoryOptions) engine.Factory {
	return func(workerID string, mode modes.Mode) (engine.Worker, error) {
		modelPath := manager.ModelPath(mode)
		estimate := estimateVRAM(modelPath)

		if estimate > 0 && !registry.CanFit(estimate) {
			// Accounting is observational; load anyway but say so.
			logger.RenderWarnw("estimated model size exceeds available memory, loading anyway",
				logger.FieldMode, mode.Name,
				"need_gb", round2(float64(estimate)/bytesPerGB),
			)
		}

		loras := manager.LoraPaths(mode)
		loraPaths := make([]string, len(loras))
		for i, l := range loras {
			loraPaths[i] = l.Path
			logger.RenderDebugw("lora attached",
				logger.FieldMode, mode.Name,
				logger.FieldPath, l.Path,
				"strength", l.Strength,
			)
		}

		registry.Register(engine.ModelInfo{
			Name:      mode.Name,
			Path:      modelPath,
			VRAMBytes: estimate,
			WorkerID:  workerID,
			Loras:     loraPaths,
		})

		logger.RenderInfow("worker loaded",
			"worker_id", workerID,
			logger.FieldMode, mode.Name,
			"model", filepath.Base(modelPath),
			"backend", BackendName,
		)

		return &SimWorker{
			id:        workerID,
			mode:      mode.Name,
			stepDelay: opts.StepDelay,
			registry:  registry,
		}, nil
	}
}

// estimateVRAM sizes a model from its file: weights plus 20% overhead.
// A missing file estimates to zero with a warning.
func estimateVRAM(modelPath string) uint64 {
	fi, err := os.Stat(modelPath)
	if err != nil {
		logger.RenderWarnw("model not found", logger.FieldPath, modelPath)
		return 0
	}
	return uint64(float64(fi.Size()) * vramOverhead)
}
