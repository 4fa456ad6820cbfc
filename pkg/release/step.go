package release

import (
	"maps"
	"slices"
	"sort"
)

// StepType identifies the kind of work a step performs. Built-in types
// form a closed set; any other value is resolved against extension actions
// at run time.
type StepType string

const (
	StepTypeBuild       StepType = "build"
	StepTypeVersionBump StepType = "version_bump"
	StepTypeGitCommit   StepType = "git_commit"
	StepTypeGitTag      StepType = "git_tag"
	StepTypeGitPush     StepType = "git_push"
)

// BuiltinTypes lists the built-in step types in a stable order.
var BuiltinTypes = []StepType{
	StepTypeBuild,
	StepTypeVersionBump,
	StepTypeGitCommit,
	StepTypeGitTag,
	StepTypeGitPush,
}

// IsBuiltin reports whether t is one of the built-in step types.
func (t StepType) IsBuiltin() bool {
	return slices.Contains(BuiltinTypes, t)
}

// mutatesGit reports whether steps of this type write to the working tree
// or the repository.
func (t StepType) mutatesGit() bool {
	switch t {
	case StepTypeVersionBump, StepTypeGitCommit, StepTypeGitTag, StepTypeGitPush:
		return true
	}
	return false
}

// StepDefinition is a single declared unit of work in a release pipeline.
type StepDefinition struct {
	ID     string         `json:"id" yaml:"id"`
	Type   StepType       `json:"type" yaml:"type"`
	Label  string         `json:"label,omitempty" yaml:"label,omitempty"`
	Needs  []string       `json:"needs" yaml:"needs,omitempty"`
	Config map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
}

// Clone returns a deep-enough copy of s: needs and the top-level config
// map are copied, nested config values are shared.
func (s StepDefinition) Clone() StepDefinition {
	out := s
	out.Needs = slices.Clone(s.Needs)
	if s.Config != nil {
		out.Config = maps.Clone(s.Config)
	}
	return out
}

// DisplayName returns the label, falling back to the id.
func (s StepDefinition) DisplayName() string {
	if s.Label != "" {
		return s.Label
	}
	return s.ID
}

// normalizedNeeds returns the sorted, de-duplicated needs set.
func (s StepDefinition) normalizedNeeds() []string {
	if len(s.Needs) == 0 {
		return []string{}
	}
	out := slices.Clone(s.Needs)
	sort.Strings(out)
	return slices.Compact(out)
}

// PipelineConfig is the release block of a component. The engine only
// reads it.
type PipelineConfig struct {
	Enabled  bool             `json:"enabled" yaml:"enabled"`
	Steps    []StepDefinition `json:"steps" yaml:"steps"`
	Settings map[string]any   `json:"settings,omitempty" yaml:"settings,omitempty"`
}

// Clone returns a copy of c whose steps can be modified freely.
func (c PipelineConfig) Clone() PipelineConfig {
	out := PipelineConfig{Enabled: c.Enabled}
	out.Steps = make([]StepDefinition, len(c.Steps))
	for i, s := range c.Steps {
		out.Steps[i] = s.Clone()
	}
	if c.Settings != nil {
		out.Settings = maps.Clone(c.Settings)
	}
	return out
}

// HasType reports whether any step has type t.
func (c PipelineConfig) HasType(t StepType) bool {
	for _, s := range c.Steps {
		if s.Type == t {
			return true
		}
	}
	return false
}

// StepByID returns the step with the given id.
func (c PipelineConfig) StepByID(id string) (StepDefinition, bool) {
	for _, s := range c.Steps {
		if s.ID == id {
			return s, true
		}
	}
	return StepDefinition{}, false
}
