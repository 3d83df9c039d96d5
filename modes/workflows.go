package modes

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/teranos/yume/config"
	"github.com/teranos/yume/errors"
	"github.com/teranos/yume/logger"
)

// Tags accepts both a YAML list and a comma-separated string.
type Tags []string

// UnmarshalYAML normalizes the two accepted shapes into a list.
func (t *Tags) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		var s string
		if err := value.Decode(&s); err != nil {
			return err
		}
		var out []string
		for _, part := range strings.Split(s, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		*t = out
		return nil
	}

	var list []string
	if err := value.Decode(&list); err != nil {
		return err
	}
	*t = list
	return nil
}

// Workflow is a named node-graph recipe for the comfy job type. The
// graph lives either inline under `workflow:` or on disk via
// `filepath:`; exactly one of the two must be set.
type Workflow struct {
	Name         string                 `yaml:"-" json:"name"`
	DisplayName  string                 `yaml:"display_name" json:"display_name"`
	Description  string                 `yaml:"description,omitempty" json:"description,omitempty"`
	Filepath     string                 `yaml:"filepath,omitempty" json:"filepath,omitempty"`
	Graph        map[string]interface{} `yaml:"workflow,omitempty" json:"workflow,omitempty"`
	DefaultSize  string                 `yaml:"default_size,omitempty" json:"default_size"`
	DefaultSteps int                    `yaml:"default_steps,omitempty" json:"default_steps"`
	DefaultCFG   float64                `yaml:"default_cfg,omitempty" json:"default_cfg"`
	CreatedAt    string                 `yaml:"created_at,omitempty" json:"created_at,omitempty"`
	UpdatedAt    string                 `yaml:"updated_at,omitempty" json:"updated_at,omitempty"`
	Tags         Tags                   `yaml:"tags,omitempty" json:"tags,omitempty"`
}

// WorkflowCatalog is the root document of workflows.yml.
type WorkflowCatalog struct {
	DefaultWorkflow string              `yaml:"default_workflow" json:"default_workflow"`
	Workflows       map[string]Workflow `yaml:"workflows" json:"workflows"`
}

// WorkflowManager provides thread-safe access to the workflow catalog.
type WorkflowManager struct {
	path string

	mu      sync.RWMutex
	catalog WorkflowCatalog
}

// NewWorkflowManager loads the catalog at path.
func NewWorkflowManager(path string) (*WorkflowManager, error) {
	m := &WorkflowManager{path: path}
	if err := m.load(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *WorkflowManager) load() error {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return errors.Wrapf(err, "failed to read workflow catalog %s", m.path)
	}

	var catalog WorkflowCatalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return errors.Wrapf(err, "failed to parse workflow catalog %s", m.path)
	}

	if err := validateWorkflowCatalog(&catalog); err != nil {
		return errors.Wrapf(err, "invalid workflow catalog %s", m.path)
	}

	m.mu.Lock()
	m.catalog = catalog
	m.mu.Unlock()

	logger.ModeInfow("Workflow catalog loaded",
		"path", m.path,
		"workflows", len(catalog.Workflows),
		"default", catalog.DefaultWorkflow,
	)
	return nil
}

func validateWorkflowCatalog(c *WorkflowCatalog) error {
	if c.DefaultWorkflow == "" {
		return errors.New("missing required field: default_workflow")
	}
	if len(c.Workflows) == 0 {
		return errors.New("missing or empty: workflows")
	}

	for name, wf := range c.Workflows {
		wf.Name = name
		if wf.DisplayName == "" {
			wf.DisplayName = name
		}
		if wf.Filepath == "" && len(wf.Graph) == 0 {
			return errors.Newf("workflow %q has neither filepath nor inline graph", name)
		}
		if wf.Filepath != "" && len(wf.Graph) > 0 {
			return errors.Newf("workflow %q has both filepath and inline graph", name)
		}
		if wf.DefaultSize == "" {
			wf.DefaultSize = DefaultSize
		}
		if wf.DefaultSteps == 0 {
			wf.DefaultSteps = DefaultSteps
		}
		if wf.DefaultCFG == 0 {
			wf.DefaultCFG = DefaultGuidance
		}
		c.Workflows[name] = wf
	}

	if _, ok := c.Workflows[c.DefaultWorkflow]; !ok {
		return errors.Newf("default_workflow %q not found in workflows", c.DefaultWorkflow)
	}
	return nil
}

// Reload re-reads the catalog from disk.
func (m *WorkflowManager) Reload() error {
	return m.load()
}

// Get returns the named workflow.
func (m *WorkflowManager) Get(name string) (Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	wf, ok := m.catalog.Workflows[name]
	if !ok {
		return Workflow{}, errors.NewKindf(errors.KindBadRequest,
			"workflow %q not found, available: %v", name, m.listLocked())
	}
	return wf, nil
}

// Has checks whether a workflow exists.
func (m *WorkflowManager) Has(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.catalog.Workflows[name]
	return ok
}

// List returns all workflow names sorted.
func (m *WorkflowManager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listLocked()
}

func (m *WorkflowManager) listLocked() []string {
	names := make([]string, 0, len(m.catalog.Workflows))
	for name := range m.catalog.Workflows {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Default returns the catalog's default workflow name.
func (m *WorkflowManager) Default() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.catalog.DefaultWorkflow
}

// Snapshot returns a copy of the catalog for serialization. Inline
// graphs are shared maps; callers must not mutate them.
func (m *WorkflowManager) Snapshot() WorkflowCatalog {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := WorkflowCatalog{
		DefaultWorkflow: m.catalog.DefaultWorkflow,
		Workflows:       make(map[string]Workflow, len(m.catalog.Workflows)),
	}
	for name, wf := range m.catalog.Workflows {
		out.Workflows[name] = wf
	}
	return out
}

// ResolveGraph returns the workflow's node graph, reading the JSON file
// for filepath-backed workflows. Relative paths resolve against the
// catalog file's directory.
func (m *WorkflowManager) ResolveGraph(name string) (map[string]interface{}, error) {
	wf, err := m.Get(name)
	if err != nil {
		return nil, err
	}

	if len(wf.Graph) > 0 {
		return wf.Graph, nil
	}

	path := wf.Filepath
	if !filepath.IsAbs(path) {
		path = filepath.Join(filepath.Dir(m.path), path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read workflow graph %s", path)
	}

	var graph map[string]interface{}
	if err := json.Unmarshal(data, &graph); err != nil {
		return nil, errors.Wrapf(err, "failed to parse workflow graph %s", path)
	}
	return graph, nil
}

// Save validates and persists a catalog atomically, then reloads. The
// previous version rotates into .back1/2/3 like every catalog save.
func (m *WorkflowManager) Save(catalog WorkflowCatalog) error {
	if err := validateWorkflowCatalog(&catalog); err != nil {
		return errors.WithKind(errors.Wrap(err, "refusing to save invalid catalog"), errors.KindBadRequest)
	}

	data, err := yaml.Marshal(catalog)
	if err != nil {
		return errors.Wrap(err, "failed to marshal workflow catalog")
	}

	if err := config.CreateBackup(m.path); err != nil {
		return errors.Wrap(err, "failed to back up workflow catalog")
	}

	tmpPath := m.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return errors.Wrap(err, "failed to write workflow catalog")
	}
	if err := os.Rename(tmpPath, m.path); err != nil {
		return errors.Wrap(err, "failed to replace workflow catalog")
	}

	logger.ModeInfow("Workflow catalog saved", "path", m.path, "workflows", len(catalog.Workflows))
	return m.load()
}

// Upsert adds or replaces a single workflow and persists the catalog.
func (m *WorkflowManager) Upsert(name string, wf Workflow) error {
	catalog := m.Snapshot()
	wf.Name = name
	catalog.Workflows[name] = wf
	return m.Save(catalog)
}

// Delete removes a workflow and persists the catalog. The default
// workflow cannot be deleted.
func (m *WorkflowManager) Delete(name string) error {
	catalog := m.Snapshot()
	if name == catalog.DefaultWorkflow {
		return errors.Newf("cannot delete default workflow %q", name)
	}
	if _, ok := catalog.Workflows[name]; !ok {
		return errors.NewKindf(errors.KindBadRequest, "workflow %q not found", name)
	}
	delete(catalog.Workflows, name)
	return m.Save(catalog)
}
