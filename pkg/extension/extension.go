// Package extension loads installed extensions and invokes the actions
// they declare. An extension is a directory under the extensions root that
// contains a manifest (extension.yaml, extension.yml, extension.jsonc or
// extension.json). The catalog is loaded once per invocation and is
// read-only afterwards.
package extension

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

var manifestNames = []string{"extension.yaml", "extension.yml", "extension.jsonc", "extension.json"}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Action is a named capability an extension provides.
type Action struct {
	ID      string   `json:"id" yaml:"id" validate:"required"`
	Command string   `json:"command" yaml:"command" validate:"required"`
	Args    []string `json:"args,omitempty" yaml:"args,omitempty"`
	// Timeout is a Go duration string; empty means no timeout.
	Timeout string `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// TimeoutDuration parses Timeout.
func (a Action) TimeoutDuration() (time.Duration, error) {
	if a.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(a.Timeout)
	if err != nil {
		return 0, fmt.Errorf("action %q: invalid timeout %q: %w", a.ID, a.Timeout, err)
	}
	return d, nil
}

// Manifest describes one installed extension.
type Manifest struct {
	ID      string `json:"id" yaml:"id" validate:"required"`
	Name    string `json:"name,omitempty" yaml:"name,omitempty"`
	Version string `json:"version,omitempty" yaml:"version,omitempty"`
	// Components restricts the extension to these component ids. Empty
	// means it applies everywhere.
	Components []string `json:"components,omitempty" yaml:"components,omitempty"`
	Actions    []Action `json:"actions" yaml:"actions" validate:"dive"`

	// Dir is the extension's directory; commands run there.
	Dir string `json:"-" yaml:"-"`
}

// Action returns the action with the given id.
func (m *Manifest) Action(id string) (Action, bool) {
	for _, a := range m.Actions {
		if a.ID == id {
			return a, true
		}
	}
	return Action{}, false
}

// ActionRef points at one action of one extension.
type ActionRef struct {
	Extension *Manifest
	Action    Action
}

// Name returns "extension-id:action-id".
func (r ActionRef) Name() string {
	return r.Extension.ID + ":" + r.Action.ID
}

// Catalog is an immutable, id-sorted set of manifests.
type Catalog struct {
	extensions []*Manifest
}

// NewCatalog builds a catalog from manifests. Later duplicates of an id are
// dropped.
func NewCatalog(manifests ...*Manifest) *Catalog {
	seen := map[string]bool{}
	c := &Catalog{}
	for _, m := range manifests {
		if m == nil || seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		c.extensions = append(c.extensions, m)
	}
	sort.Slice(c.extensions, func(i, j int) bool { return c.extensions[i].ID < c.extensions[j].ID })
	return c
}

// List returns the manifests in id order.
func (c *Catalog) List() []*Manifest {
	return slices.Clone(c.extensions)
}

// Compatible returns the subset usable by componentID: extensions that
// declare no component restriction, list the component, or that the
// component itself opted into via enabled.
func (c *Catalog) Compatible(componentID string, enabled []string) *Catalog {
	var out []*Manifest
	for _, m := range c.extensions {
		if len(m.Components) == 0 ||
			slices.Contains(m.Components, componentID) ||
			slices.Contains(enabled, m.ID) {
			out = append(out, m)
		}
	}
	return NewCatalog(out...)
}

// FindAction returns the first action named name, searching extensions in
// id order.
func (c *Catalog) FindAction(name string) (ActionRef, bool) {
	for _, m := range c.extensions {
		if a, ok := m.Action(name); ok {
			return ActionRef{Extension: m, Action: a}, true
		}
	}
	return ActionRef{}, false
}

// LoadDir reads every extension directory under root. A missing root yields
// an empty catalog.
func LoadDir(root string) (*Catalog, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return NewCatalog(), nil
		}
		return nil, fmt.Errorf("list extensions: %w", err)
	}

	var manifests []*Manifest
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		m, err := ReadDir(filepath.Join(root, e.Name()))
		if errors.Is(err, errNoManifest) {
			continue
		}
		if err != nil {
			return nil, err
		}
		manifests = append(manifests, m)
	}
	return NewCatalog(manifests...), nil
}

var errNoManifest = errors.New("no extension manifest")

// ReadDir reads the manifest of the extension in dir.
func ReadDir(dir string) (*Manifest, error) {
	for _, name := range manifestNames {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		m, err := ParseManifest(data, filepath.Ext(name))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		m.Dir = dir
		return m, nil
	}
	return nil, fmt.Errorf("%s: %w", dir, errNoManifest)
}

// ParseManifest decodes and validates a manifest. ext selects the format.
func ParseManifest(data []byte, ext string) (*Manifest, error) {
	var m Manifest
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("parsing manifest: %w", err)
		}
	case ".json", ".jsonc":
		if err := json.Unmarshal(jsonc.ToJSON(data), &m); err != nil {
			return nil, fmt.Errorf("parsing manifest: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported manifest extension %q", ext)
	}
	if err := getValidator().Struct(&m); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}
	for _, a := range m.Actions {
		if _, err := a.TimeoutDuration(); err != nil {
			return nil, err
		}
	}
	return &m, nil
}
