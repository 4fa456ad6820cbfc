package release

import (
	"fmt"
	"maps"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// Artifact is a file produced by the build that publish steps may upload.
type Artifact struct {
	Path     string `json:"path" yaml:"path" validate:"required"`
	Type     string `json:"type,omitempty" yaml:"type,omitempty"`
	Platform string `json:"platform,omitempty" yaml:"platform,omitempty"`
}

// ReleasePayload is the shared, read-only context handed to every step.
type ReleasePayload struct {
	Version         string     `json:"version"`
	PreviousVersion string     `json:"previous_version,omitempty"`
	BumpType        string     `json:"bump_type,omitempty" validate:"omitempty,oneof=patch minor major"`
	Tag             string     `json:"tag" validate:"required_with=Version"`
	Notes           string     `json:"notes"`
	ComponentID     string     `json:"component_id" validate:"required"`
	LocalPath       string     `json:"local_path" validate:"required"`
	Artifacts       []Artifact `json:"artifacts" validate:"dive"`
}

// Expand replaces {version}, {tag}, {component} and {previous_version}
// placeholders in s.
func (p ReleasePayload) Expand(s string) string {
	return strings.NewReplacer(
		"{version}", p.Version,
		"{tag}", p.Tag,
		"{component}", p.ComponentID,
		"{previous_version}", p.PreviousVersion,
	).Replace(s)
}

// StepInput is what a handler receives: the shared payload plus a private
// copy of the step's own config.
type StepInput struct {
	Release ReleasePayload `json:"release"`
	Config  map[string]any `json:"config"`
	// Step is the definition being executed. Not part of the wire format.
	Step StepDefinition `json:"-"`
}

// NewStepInput merges payload and step config without sharing the step's
// config map.
func NewStepInput(payload ReleasePayload, step StepDefinition) StepInput {
	cfg := map[string]any{}
	if step.Config != nil {
		cfg = maps.Clone(step.Config)
	}
	payload.Artifacts = append([]Artifact(nil), payload.Artifacts...)
	return StepInput{Release: payload, Config: cfg, Step: step.Clone()}
}

var (
	payloadValidate *validator.Validate
	payloadOnce     sync.Once
)

func getValidator() *validator.Validate {
	payloadOnce.Do(func() {
		payloadValidate = validator.New(validator.WithRequiredStructEnabled())
	})
	return payloadValidate
}

// TagName expands format, or DefaultTagFormat when empty, for version v.
func TagName(format, v string) string {
	if format == "" {
		format = DefaultTagFormat
	}
	return strings.ReplaceAll(format, "{version}", v)
}

// PayloadBuilder assembles a ReleasePayload. Version is the version being
// released (already bumped), Previous the version currently on disk. A
// component without version targets has no Version and no Tag.
type PayloadBuilder struct {
	ComponentID string
	LocalPath   string
	Version     string
	Previous    string
	BumpType    string
	// TagFormat may contain {version}; defaults to DefaultTagFormat.
	TagFormat string
	Notes     string
	Artifacts []Artifact
}

// Build validates the inputs and returns the payload. Relative artifact
// paths are resolved against LocalPath.
func (b PayloadBuilder) Build() (ReleasePayload, error) {
	localPath := b.LocalPath
	if localPath != "" {
		if abs, err := filepath.Abs(localPath); err == nil {
			localPath = abs
		}
	}

	p := ReleasePayload{
		Version:         b.Version,
		PreviousVersion: b.Previous,
		BumpType:        b.BumpType,
		Notes:           strings.TrimSpace(b.Notes),
		ComponentID:     b.ComponentID,
		LocalPath:       localPath,
		Artifacts:       make([]Artifact, 0, len(b.Artifacts)),
	}
	if b.Version != "" {
		p.Tag = TagName(b.TagFormat, b.Version)
	}

	for _, a := range b.Artifacts {
		if a.Path != "" && !filepath.IsAbs(a.Path) && localPath != "" {
			a.Path = filepath.Join(localPath, a.Path)
		}
		p.Artifacts = append(p.Artifacts, a)
	}

	if err := getValidator().Struct(p); err != nil {
		return ReleasePayload{}, fmt.Errorf("release payload: %w", err)
	}
	return p, nil
}
