package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/yume/engine"
	"github.com/teranos/yume/errors"
)

const testGB = uint64(1) << 30

func fixedProbe(total uint64) Probe {
	return func() (string, uint64, error) { return "test-device", total, nil }
}

func failingProbe() (string, uint64, error) {
	return "", 0, errors.New("no device")
}

func TestModelRegistry_RegisterUnregister(t *testing.T) {
	r := NewModelRegistry(fixedProbe(8 * testGB))

	r.Register(engine.ModelInfo{Name: "base", Path: "/models/base.safetensors", VRAMBytes: 2 * testGB})
	assert.True(t, r.IsLoaded("base"))
	assert.Equal(t, 2*testGB, r.UsedBytes())
	assert.Equal(t, 6*testGB, r.AvailableBytes())

	r.Unregister("base")
	assert.False(t, r.IsLoaded("base"))
	assert.Equal(t, uint64(0), r.UsedBytes())
	assert.Equal(t, 8*testGB, r.AvailableBytes())

	// Unknown names warn but never fail.
	r.Unregister("base")
}

func TestModelRegistry_ReregisterReplaces(t *testing.T) {
	r := NewModelRegistry(fixedProbe(8 * testGB))

	r.Register(engine.ModelInfo{Name: "base", VRAMBytes: 2 * testGB})
	r.Register(engine.ModelInfo{Name: "base", VRAMBytes: 3 * testGB})

	assert.Equal(t, 3*testGB, r.UsedBytes())
	assert.Equal(t, 1, r.Stats().ModelsLoaded)
}

func TestModelRegistry_CanFit(t *testing.T) {
	r := NewModelRegistry(fixedProbe(8 * testGB))
	r.Register(engine.ModelInfo{Name: "base", VRAMBytes: 6 * testGB})

	assert.True(t, r.CanFit(2*testGB), "exact remainder should fit")
	assert.False(t, r.CanFit(2*testGB+1))
}

func TestModelRegistry_AvailableFloorsAtZero(t *testing.T) {
	r := NewModelRegistry(fixedProbe(2 * testGB))

	// Estimates can overshoot a small device.
	r.Register(engine.ModelInfo{Name: "huge", VRAMBytes: 3 * testGB})

	assert.Equal(t, uint64(0), r.AvailableBytes())
	assert.False(t, r.CanFit(1))
}

func TestModelRegistry_NoDevice(t *testing.T) {
	r := NewModelRegistry(failingProbe)

	assert.False(t, r.CanFit(1), "no probed device refuses everything")
	assert.Equal(t, uint64(0), r.AvailableBytes())

	stats := r.Stats()
	assert.Equal(t, "none", stats.Device)
	assert.Equal(t, float64(0), stats.TotalGB)
	assert.Equal(t, float64(0), stats.UsagePercent)
}

func TestModelRegistry_Stats(t *testing.T) {
	r := NewModelRegistry(fixedProbe(8 * testGB))

	r.Register(engine.ModelInfo{
		Name:      "zebra",
		Path:      "/models/zebra.safetensors",
		VRAMBytes: 3 * testGB / 2,
		Loras:     []string{"/loras/stripes.safetensors"},
	})
	r.Register(engine.ModelInfo{Name: "aardvark", Path: "/models/aardvark.safetensors", VRAMBytes: 2 * testGB})

	stats := r.Stats()
	assert.Equal(t, "test-device", stats.Device)
	assert.Equal(t, 8.0, stats.TotalGB)
	assert.Equal(t, 3.5, stats.UsedGB)
	assert.Equal(t, 4.5, stats.AvailableGB)
	assert.Equal(t, 43.8, stats.UsagePercent)
	assert.Equal(t, 2, stats.ModelsLoaded)

	require.Len(t, stats.Models, 2)
	assert.Equal(t, "aardvark", stats.Models[0].Name, "models sorted by name")
	assert.Equal(t, "zebra", stats.Models[1].Name)
	assert.Equal(t, 1.5, stats.Models[1].VRAMGB)
	assert.Equal(t, []string{"/loras/stripes.safetensors"}, stats.Models[1].Loras)
}

func TestHostMemoryProbe(t *testing.T) {
	device, total, err := HostMemory()
	require.NoError(t, err)
	assert.Equal(t, "host", device)
	assert.Greater(t, total, uint64(0))
}
