// Package component loads component definitions: the versioned,
// buildable units keel releases. A component lives in one file under the
// components directory, named after its id, in YAML or JSONC.
package component

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/ravi-parthasarathy/keel/pkg/release"
)

// DefaultVersionPattern matches `version = "1.2.3"`, `"version": "1.2.3"`
// and `version: 1.2.3`. The first capture group is the version.
const DefaultVersionPattern = `(?m)version["']?\s*[:=]\s*["']?(\d+\.\d+\.\d+[0-9A-Za-z.+-]*)`

// VersionTarget is a file holding the component's version string.
type VersionTarget struct {
	File string `json:"file" yaml:"file" validate:"required"`
	// Pattern is a regular expression whose first group is the version.
	Pattern string `json:"pattern,omitempty" yaml:"pattern,omitempty"`
}

// EffectivePattern returns Pattern or DefaultVersionPattern.
func (t VersionTarget) EffectivePattern() string {
	if t.Pattern == "" {
		return DefaultVersionPattern
	}
	return t.Pattern
}

// BuildConfig describes how to build the component.
type BuildConfig struct {
	Command string `json:"command,omitempty" yaml:"command,omitempty"`
	Timeout string `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// ReleaseConfig is the release block stored with the component.
type ReleaseConfig struct {
	Enabled  bool                     `json:"enabled" yaml:"enabled"`
	Steps    []release.StepDefinition `json:"steps,omitempty" yaml:"steps,omitempty"`
	Settings map[string]any           `json:"settings,omitempty" yaml:"settings,omitempty"`
	// StepsFile points to a Graphviz DOT file declaring the steps. It is
	// resolved relative to the component file and replaces Steps.
	StepsFile string `json:"steps_file,omitempty" yaml:"steps_file,omitempty"`
}

// Component is a versioned deployable unit.
type Component struct {
	ID             string             `json:"id" yaml:"id" validate:"required"`
	Name           string             `json:"name,omitempty" yaml:"name,omitempty"`
	LocalPath      string             `json:"local_path" yaml:"local_path" validate:"required"`
	VersionTargets []VersionTarget    `json:"version_targets" yaml:"version_targets" validate:"dive"`
	Changelog      string             `json:"changelog,omitempty" yaml:"changelog,omitempty"`
	Build          BuildConfig        `json:"build,omitempty" yaml:"build,omitempty"`
	Artifacts      []release.Artifact `json:"artifacts,omitempty" yaml:"artifacts,omitempty" validate:"dive"`
	Extensions     []string           `json:"extensions,omitempty" yaml:"extensions,omitempty"`
	Release        ReleaseConfig      `json:"release" yaml:"release"`

	// file is the path the component was loaded from.
	file string
}

// File returns the path the component was loaded from, if any.
func (c *Component) File() string { return c.file }

// Path resolves p against the component's local path.
func (c *Component) Path(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.LocalPath, p)
}

// ChangelogPath returns the changelog location, or "" when none is set.
func (c *Component) ChangelogPath() string {
	if c.Changelog == "" {
		return ""
	}
	return c.Path(c.Changelog)
}

// AllowedChanges lists the paths, relative to the local path, that the
// version_bump step is expected to modify.
func (c *Component) AllowedChanges() []string {
	var out []string
	if c.Changelog != "" {
		out = append(out, c.Changelog)
	}
	for _, t := range c.VersionTargets {
		if !slices.Contains(out, t.File) {
			out = append(out, t.File)
		}
	}
	return out
}

// UsesExtension reports whether the component opted into extension id.
func (c *Component) UsesExtension(id string) bool {
	return slices.Contains(c.Extensions, id)
}

// PipelineConfig returns the release pipeline, reading the DOT steps file
// when one is configured.
func (c *Component) PipelineConfig() (release.PipelineConfig, error) {
	cfg := release.PipelineConfig{
		Enabled:  c.Release.Enabled,
		Steps:    c.Release.Steps,
		Settings: c.Release.Settings,
	}
	if c.Release.StepsFile == "" {
		return cfg.Clone(), nil
	}

	path := c.Release.StepsFile
	if !filepath.IsAbs(path) && c.file != "" {
		path = filepath.Join(filepath.Dir(c.file), path)
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return release.PipelineConfig{}, fmt.Errorf("component %q: read steps file: %w", c.ID, err)
	}
	steps, err := release.ParseDOT(string(src))
	if err != nil {
		return release.PipelineConfig{}, fmt.Errorf("component %q: %s: %w", c.ID, path, err)
	}
	cfg.Steps = steps
	return cfg.Clone(), nil
}
