// Package modes loads and persists the declarative mode catalog
// (conf/modes.yml). A mode is a named recipe binding a base model, an
// ordered LoRA stack, and default generation parameters. The pool asks
// this package which model to load when a mode switch is requested.
package modes

import (
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/teranos/yume/config"
	"github.com/teranos/yume/errors"
	"github.com/teranos/yume/logger"
)

// Per-mode fallbacks applied when the catalog omits a field.
const (
	DefaultSize     = "512x512"
	DefaultSteps    = 20
	DefaultGuidance = 7.0
)

// LoraRef is one adapter in a mode's LoRA stack.
type LoraRef struct {
	Path     string  `json:"path"`
	Strength float64 `json:"strength"`
}

// UnmarshalYAML accepts both catalog shapes: a bare string (strength 1.0)
// or an explicit {path, strength} mapping.
func (l *LoraRef) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		var path string
		if err := value.Decode(&path); err != nil {
			return err
		}
		l.Path = path
		l.Strength = 1.0
		return nil
	}

	var raw struct {
		Path     string  `yaml:"path"`
		Strength float64 `yaml:"strength"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw.Path == "" {
		return errors.New("lora entry missing path")
	}
	if raw.Strength == 0 {
		raw.Strength = 1.0
	}
	l.Path = raw.Path
	l.Strength = raw.Strength
	return nil
}

// MarshalYAML writes strength-1.0 adapters back in the compact string form.
func (l LoraRef) MarshalYAML() (interface{}, error) {
	if l.Strength == 1.0 {
		return l.Path, nil
	}
	return struct {
		Path     string  `yaml:"path"`
		Strength float64 `yaml:"strength"`
	}{l.Path, l.Strength}, nil
}

// Mode is a named generation recipe.
type Mode struct {
	Name            string    `yaml:"-" json:"name"`
	Model           string    `yaml:"model" json:"model"`
	Loras           []LoraRef `yaml:"loras,omitempty" json:"loras"`
	DefaultSize     string    `yaml:"default_size,omitempty" json:"default_size"`
	DefaultSteps    int       `yaml:"default_steps,omitempty" json:"default_steps"`
	DefaultGuidance float64   `yaml:"default_guidance,omitempty" json:"default_guidance"`
}

// Catalog is the root document of modes.yml.
type Catalog struct {
	DefaultMode string          `yaml:"default_mode" json:"default_mode"`
	ModelRoot   string          `yaml:"model_root,omitempty" json:"model_root,omitempty"`
	LoraRoot    string          `yaml:"lora_root,omitempty" json:"lora_root,omitempty"`
	Modes       map[string]Mode `yaml:"modes" json:"modes"`
}

// Manager provides thread-safe access to the mode catalog, with
// explicit reload and persisted edits.
type Manager struct {
	path string

	mu      sync.RWMutex
	catalog Catalog
}

// NewManager loads the catalog at path. The file must exist and be valid.
func NewManager(path string) (*Manager, error) {
	m := &Manager{path: path}
	if err := m.load(); err != nil {
		return nil, err
	}
	return m, nil
}

// load reads and validates the catalog file, replacing the in-memory copy.
func (m *Manager) load() error {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return errors.Wrapf(err, "failed to read mode catalog %s", m.path)
	}

	var catalog Catalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return errors.Wrapf(err, "failed to parse mode catalog %s", m.path)
	}

	if err := validateCatalog(&catalog); err != nil {
		return errors.Wrapf(err, "invalid mode catalog %s", m.path)
	}

	m.mu.Lock()
	m.catalog = catalog
	m.mu.Unlock()

	logger.ModeInfow("Mode catalog loaded",
		"path", m.path,
		"modes", len(catalog.Modes),
		"default", catalog.DefaultMode,
	)
	return nil
}

// validateCatalog checks structural invariants and fills per-mode defaults.
func validateCatalog(c *Catalog) error {
	if c.DefaultMode == "" {
		return errors.New("missing required field: default_mode")
	}
	if len(c.Modes) == 0 {
		return errors.New("missing or empty: modes")
	}

	for name, mode := range c.Modes {
		if mode.Model == "" {
			return errors.Newf("mode %q has no model", name)
		}
		mode.Name = name
		if mode.DefaultSize == "" {
			mode.DefaultSize = DefaultSize
		}
		if mode.DefaultSteps == 0 {
			mode.DefaultSteps = DefaultSteps
		}
		if mode.DefaultGuidance == 0 {
			mode.DefaultGuidance = DefaultGuidance
		}
		c.Modes[name] = mode
	}

	if _, ok := c.Modes[c.DefaultMode]; !ok {
		return errors.Newf("default_mode %q not found in modes", c.DefaultMode)
	}
	return nil
}

// Reload re-reads the catalog from disk.
func (m *Manager) Reload() error {
	return m.load()
}

// Get returns the named mode. The error carries KindModeNotFound so it
// maps to a stable wire kind and a 404.
func (m *Manager) Get(name string) (Mode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	mode, ok := m.catalog.Modes[name]
	if !ok {
		return Mode{}, errors.NewKindf(errors.KindModeNotFound,
			"mode %q not found, available: %v", name, m.listLocked())
	}
	return mode, nil
}

// Has checks whether a mode exists.
func (m *Manager) Has(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.catalog.Modes[name]
	return ok
}

// List returns all mode names sorted.
func (m *Manager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listLocked()
}

func (m *Manager) listLocked() []string {
	names := make([]string, 0, len(m.catalog.Modes))
	for name := range m.catalog.Modes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Default returns the catalog's default mode name.
func (m *Manager) Default() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.catalog.DefaultMode
}

// Snapshot returns a deep copy of the catalog for serialization.
func (m *Manager) Snapshot() Catalog {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := Catalog{
		DefaultMode: m.catalog.DefaultMode,
		ModelRoot:   m.catalog.ModelRoot,
		LoraRoot:    m.catalog.LoraRoot,
		Modes:       make(map[string]Mode, len(m.catalog.Modes)),
	}
	for name, mode := range m.catalog.Modes {
		cp := mode
		cp.Loras = append([]LoraRef(nil), mode.Loras...)
		out.Modes[name] = cp
	}
	return out
}

// ModelPath resolves a mode's model file against the catalog's model_root.
// Absolute paths pass through unchanged.
func (m *Manager) ModelPath(mode Mode) string {
	m.mu.RLock()
	root := m.catalog.ModelRoot
	m.mu.RUnlock()

	if root == "" || filepath.IsAbs(mode.Model) {
		return mode.Model
	}
	return filepath.Join(root, mode.Model)
}

// LoraPaths resolves a mode's LoRA stack against lora_root, preserving order.
func (m *Manager) LoraPaths(mode Mode) []LoraRef {
	m.mu.RLock()
	root := m.catalog.LoraRoot
	m.mu.RUnlock()

	out := make([]LoraRef, len(mode.Loras))
	for i, l := range mode.Loras {
		out[i] = l
		if root != "" && !filepath.IsAbs(l.Path) {
			out[i].Path = filepath.Join(root, l.Path)
		}
	}
	return out
}

// Save validates and persists a catalog, then reloads from disk. The
// write is atomic (tmp file + rename) so a crash never truncates the
// live catalog, and the previous version rotates into .back1/2/3.
func (m *Manager) Save(catalog Catalog) error {
	if err := validateCatalog(&catalog); err != nil {
		return errors.WithKind(errors.Wrap(err, "refusing to save invalid catalog"), errors.KindBadRequest)
	}

	data, err := yaml.Marshal(catalog)
	if err != nil {
		return errors.Wrap(err, "failed to marshal mode catalog")
	}

	if err := config.CreateBackup(m.path); err != nil {
		return errors.Wrap(err, "failed to back up mode catalog")
	}

	tmpPath := m.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return errors.Wrap(err, "failed to write mode catalog")
	}
	if err := os.Rename(tmpPath, m.path); err != nil {
		return errors.Wrap(err, "failed to replace mode catalog")
	}

	logger.ModeInfow("Mode catalog saved", "path", m.path, "modes", len(catalog.Modes))
	return m.load()
}

// Upsert adds or replaces a single mode and persists the catalog.
func (m *Manager) Upsert(name string, mode Mode) error {
	catalog := m.Snapshot()
	mode.Name = name
	catalog.Modes[name] = mode
	return m.Save(catalog)
}

// Delete removes a mode and persists the catalog. The default mode
// cannot be deleted.
func (m *Manager) Delete(name string) error {
	catalog := m.Snapshot()
	if name == catalog.DefaultMode {
		return errors.Newf("cannot delete default mode %q", name)
	}
	if _, ok := catalog.Modes[name]; !ok {
		return errors.NewKindf(errors.KindModeNotFound, "mode %q not found", name)
	}
	delete(catalog.Modes, name)
	return m.Save(catalog)
}
