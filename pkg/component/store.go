package component

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// extensions lists the recognised component file extensions, in lookup
// priority order.
var extensions = []string{".yaml", ".yml", ".jsonc", ".json"}

// ErrNotFound is returned when no file exists for a component id.
var ErrNotFound = errors.New("component not found")

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

// Store reads components from a directory.
type Store struct {
	Dir string
}

// NewStore returns a Store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{Dir: dir}
}

// Load reads the component with the given id.
func (s *Store) Load(id string) (*Component, error) {
	if id == "" || strings.ContainsAny(id, `/\`) {
		return nil, fmt.Errorf("invalid component id %q", id)
	}
	for _, ext := range extensions {
		path := filepath.Join(s.Dir, id+ext)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		c, err := ReadFile(path)
		if err != nil {
			return nil, err
		}
		if c.ID != id {
			return nil, fmt.Errorf("%s: declares id %q, expected %q", path, c.ID, id)
		}
		return c, nil
	}
	return nil, fmt.Errorf("%w: %q in %s", ErrNotFound, id, s.Dir)
}

// List returns the ids of every component file in the directory, sorted.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("list components: %w", err)
	}
	seen := map[string]bool{}
	ids := []string{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if !isComponentExt(ext) {
			continue
		}
		id := strings.TrimSuffix(e.Name(), ext)
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func isComponentExt(ext string) bool {
	for _, e := range extensions {
		if e == ext {
			return true
		}
	}
	return false
}

// ReadFile parses and validates one component file. The format is chosen
// by extension: YAML for .yaml/.yml, JSON with comments otherwise. A
// relative local_path is resolved against the file's directory.
func ReadFile(path string) (*Component, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	c, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	c.file = path
	if !filepath.IsAbs(c.LocalPath) {
		c.LocalPath = filepath.Join(filepath.Dir(path), c.LocalPath)
	}
	return c, nil
}

// Parse decodes a component from data. ext selects the format.
func Parse(data []byte, ext string) (*Component, error) {
	var c Component
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("parsing component: %w", err)
		}
	case ".json", ".jsonc":
		if err := json.Unmarshal(jsonc.ToJSON(data), &c); err != nil {
			return nil, fmt.Errorf("parsing component: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported component file extension %q", ext)
	}
	if err := getValidator().Struct(&c); err != nil {
		return nil, fmt.Errorf("invalid component: %w", err)
	}
	return &c, nil
}
