package modes

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeWorkflowCatalog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "workflows.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

const sampleWorkflows = `
default_workflow: txt2img
workflows:
  txt2img:
    display_name: Text to Image
    description: Basic prompt-to-image graph
    default_size: 768x768
    default_steps: 25
    tags: portrait, fast
    workflow:
      "1":
        class_type: KSampler
        inputs:
          steps: 25
  img2img:
    display_name: Image to Image
    filepath: graphs/img2img.json
    tags:
      - refine
`

func TestWorkflowManager_Load(t *testing.T) {
	m, err := NewWorkflowManager(writeWorkflowCatalog(t, sampleWorkflows))
	require.NoError(t, err)

	assert.Equal(t, "txt2img", m.Default())
	assert.Equal(t, []string{"img2img", "txt2img"}, m.List())

	wf, err := m.Get("txt2img")
	require.NoError(t, err)
	assert.Equal(t, "Text to Image", wf.DisplayName)
	assert.Equal(t, "768x768", wf.DefaultSize)
	assert.Equal(t, 25, wf.DefaultSteps)
	assert.Equal(t, DefaultGuidance, wf.DefaultCFG)
}

func TestWorkflowManager_TagsDualShape(t *testing.T) {
	m, err := NewWorkflowManager(writeWorkflowCatalog(t, sampleWorkflows))
	require.NoError(t, err)

	// Comma-string form
	wf, err := m.Get("txt2img")
	require.NoError(t, err)
	assert.Equal(t, Tags{"portrait", "fast"}, wf.Tags)

	// List form
	wf, err = m.Get("img2img")
	require.NoError(t, err)
	assert.Equal(t, Tags{"refine"}, wf.Tags)
}

func TestWorkflowManager_ResolveInlineGraph(t *testing.T) {
	m, err := NewWorkflowManager(writeWorkflowCatalog(t, sampleWorkflows))
	require.NoError(t, err)

	graph, err := m.ResolveGraph("txt2img")
	require.NoError(t, err)

	node, ok := graph["1"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "KSampler", node["class_type"])
}

func TestWorkflowManager_ResolveFileGraph(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "graphs"), 0755))
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "graphs", "img2img.json"),
		[]byte(`{"2": {"class_type": "VAEEncode"}}`),
		0644,
	))

	path := filepath.Join(dir, "workflows.yml")
	require.NoError(t, os.WriteFile(path, []byte(sampleWorkflows), 0644))

	m, err := NewWorkflowManager(path)
	require.NoError(t, err)

	graph, err := m.ResolveGraph("img2img")
	require.NoError(t, err)

	node, ok := graph["2"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "VAEEncode", node["class_type"])
}

func TestWorkflowManager_InvalidCatalogs(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"missing default", "workflows:\n  a:\n    filepath: x.json\n"},
		{"empty workflows", "default_workflow: a\n"},
		{"default not present", "default_workflow: b\nworkflows:\n  a:\n    filepath: x.json\n"},
		{"neither source", "default_workflow: a\nworkflows:\n  a:\n    display_name: A\n"},
		{
			"both sources",
			"default_workflow: a\nworkflows:\n  a:\n    filepath: x.json\n    workflow:\n      \"1\": {}\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewWorkflowManager(writeWorkflowCatalog(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestWorkflowManager_DeleteDefaultRefused(t *testing.T) {
	m, err := NewWorkflowManager(writeWorkflowCatalog(t, sampleWorkflows))
	require.NoError(t, err)

	err = m.Delete("txt2img")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "default workflow")

	require.NoError(t, m.Delete("img2img"))
	assert.False(t, m.Has("img2img"))
}
