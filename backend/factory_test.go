package backend

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/yume/modes"
)

// testManager writes a one-mode catalog rooted in a temp dir, with the
// model file present only when modelBytes > 0.
func testManager(t *testing.T, modelBytes int) *modes.Manager {
	t.Helper()
	dir := t.TempDir()

	if modelBytes > 0 {
		payload := make([]byte, modelBytes)
		require.NoError(t, os.WriteFile(filepath.Join(dir, "model.safetensors"), payload, 0644))
	}

	catalog := `
default_mode: test-mode
model_root: ` + dir + `
lora_root: ` + dir + `
modes:
  test-mode:
    model: model.safetensors
    loras:
      - detail.safetensors
    default_size: 512x512
    default_steps: 4
    default_guidance: 7.0
`
	path := filepath.Join(dir, "modes.yml")
	require.NoError(t, os.WriteFile(path, []byte(catalog), 0644))

	m, err := modes.NewManager(path)
	require.NoError(t, err)
	return m
}

func TestFactory_RegistersModel(t *testing.T) {
	manager := testManager(t, 1000)
	registry := NewModelRegistry(fixedProbe(8 * testGB))
	factory := NewFactory(manager, registry, FactoryOptions{})

	mode, err := manager.Get("test-mode")
	require.NoError(t, err)

	w, err := factory("worker-1", mode)
	require.NoError(t, err)
	require.NotNil(t, w)

	assert.True(t, registry.IsLoaded("test-mode"))
	assert.Equal(t, uint64(1200), registry.UsedBytes(), "file size plus 20% overhead")

	stats := registry.Stats()
	require.Len(t, stats.Models, 1)
	assert.Equal(t, "test-mode", stats.Models[0].Name)
	assert.Equal(t, []string{filepath.Join(manager.Snapshot().LoraRoot, "detail.safetensors")}, stats.Models[0].Loras)
}

func TestFactory_MissingModelFileLoadsAnyway(t *testing.T) {
	manager := testManager(t, 0)
	registry := NewModelRegistry(fixedProbe(8 * testGB))
	factory := NewFactory(manager, registry, FactoryOptions{})

	mode, err := manager.Get("test-mode")
	require.NoError(t, err)

	w, err := factory("worker-1", mode)
	require.NoError(t, err, "the sim needs no weights on disk")
	require.NotNil(t, w)

	assert.True(t, registry.IsLoaded("test-mode"))
	assert.Equal(t, uint64(0), registry.UsedBytes())
}

func TestFactory_UnloadUnregisters(t *testing.T) {
	manager := testManager(t, 1000)
	registry := NewModelRegistry(fixedProbe(8 * testGB))
	factory := NewFactory(manager, registry, FactoryOptions{})

	mode, err := manager.Get("test-mode")
	require.NoError(t, err)

	w, err := factory("worker-1", mode)
	require.NoError(t, err)

	w.Unload()
	assert.False(t, registry.IsLoaded("test-mode"))
	assert.Equal(t, uint64(0), registry.UsedBytes())
}
