// Package backend provides the worker side of the render engine: a
// model registry with device memory accounting, a memory probe, and a
// simulated diffusion worker with the factory that loads it.
package backend

import (
	"math"
	"sort"
	"sync"

	"github.com/teranos/yume/engine"
	"github.com/teranos/yume/logger"
)

const bytesPerGB = 1024 * 1024 * 1024

// Probe reports the render device: a human-readable name and its total
// memory in bytes. Called once at registry construction.
type Probe func() (device string, total uint64, err error)

// ModelRegistry tracks loaded models and their memory cost. It is
// observational: the worker factory registers what it loads, a worker's
// Unload unregisters it, and nothing gates on the numbers.
//
// Used memory is the ledger sum of registered models. There is no
// accelerator API to measure against, so the registry trusts the
// estimates it was handed.
type ModelRegistry struct {
	mu     sync.Mutex
	loaded map[string]engine.ModelInfo

	device string
	total  uint64
}

// NewModelRegistry constructs a registry backed by the given probe.
// A nil probe uses HostMemory. A failing probe leaves total at zero,
// which makes CanFit always refuse; everything else still works.
func NewModelRegistry(probe Probe) *ModelRegistry {
	if probe == nil {
		probe = HostMemory
	}

	r := &ModelRegistry{loaded: make(map[string]engine.ModelInfo)}

	device, total, err := probe()
	if err != nil {
		r.device = "none"
		logger.Warnw("no device memory information", logger.FieldError, err)
		return r
	}

	r.device = device
	r.total = total
	logger.Infow("render device detected",
		"device", device,
		"total_gb", round2(float64(total)/bytesPerGB),
	)
	return r
}

// Register records a loaded model. Re-registering a name replaces the
// previous entry.
func (r *ModelRegistry) Register(info engine.ModelInfo) {
	r.mu.Lock()
	r.loaded[info.Name] = info
	r.mu.Unlock()

	logger.RenderInfow("model registered",
		logger.FieldMode, info.Name,
		"vram_gb", round2(float64(info.VRAMBytes)/bytesPerGB),
	)
}

// Unregister removes a model from the ledger. Unknown names log a
// warning rather than fail; an unload racing a reload is harmless.
func (r *ModelRegistry) Unregister(name string) {
	r.mu.Lock()
	info, ok := r.loaded[name]
	if ok {
		delete(r.loaded, name)
	}
	r.mu.Unlock()

	if !ok {
		logger.Warnw("model not registered", logger.FieldMode, name)
		return
	}
	logger.RenderInfow("model unregistered",
		logger.FieldMode, name,
		"freed_gb", round2(float64(info.VRAMBytes)/bytesPerGB),
	)
}

// UsedBytes returns the ledger sum of registered model memory.
func (r *ModelRegistry) UsedBytes() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.usedLocked()
}

func (r *ModelRegistry) usedLocked() uint64 {
	var used uint64
	for _, info := range r.loaded {
		used += info.VRAMBytes
	}
	return used
}

// AvailableBytes returns total minus used, floored at zero. Estimates
// can overshoot a small device, so the floor matters.
func (r *ModelRegistry) AvailableBytes() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	used := r.usedLocked()
	if used >= r.total {
		return 0
	}
	return r.total - used
}

// CanFit reports whether an estimated allocation fits in available
// memory. With no probed device it always refuses.
func (r *ModelRegistry) CanFit(estimated uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.total == 0 {
		return false
	}

	used := r.usedLocked()
	var available uint64
	if used < r.total {
		available = r.total - used
	}

	fits := estimated <= available
	logger.Debugw("memory check",
		"need_gb", round2(float64(estimated)/bytesPerGB),
		"available_gb", round2(float64(available)/bytesPerGB),
		"fits", fits,
	)
	return fits
}

// IsLoaded reports whether a model name is in the ledger.
func (r *ModelRegistry) IsLoaded(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.loaded[name]
	return ok
}

// Stats returns the device-wide memory picture for status payloads.
// Models are sorted by name so the JSON is stable.
func (r *ModelRegistry) Stats() engine.RegistryStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	used := r.usedLocked()
	var available uint64
	if used < r.total {
		available = r.total - used
	}

	models := make([]engine.ModelStats, 0, len(r.loaded))
	for _, info := range r.loaded {
		models = append(models, engine.ModelStats{
			Name:      info.Name,
			ModelPath: info.Path,
			VRAMGB:    round2(float64(info.VRAMBytes) / bytesPerGB),
			Loras:     info.Loras,
		})
	}
	sort.Slice(models, func(i, j int) bool { return models[i].Name < models[j].Name })

	var usagePercent float64
	if r.total > 0 {
		usagePercent = round1(float64(used) / float64(r.total) * 100)
	}

	return engine.RegistryStats{
		Device:       r.device,
		TotalGB:      round2(float64(r.total) / bytesPerGB),
		UsedGB:       round2(float64(used) / bytesPerGB),
		AvailableGB:  round2(float64(available) / bytesPerGB),
		UsagePercent: usagePercent,
		ModelsLoaded: len(models),
		Models:       models,
	}
}

func round2(x float64) float64 { return math.Round(x*100) / 100 }
func round1(x float64) float64 { return math.Round(x*10) / 10 }
