package handlers

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"

	"github.com/ravi-parthasarathy/keel/pkg/release"
)

// BuildConfig is the config shape of a build step.
type BuildConfig struct {
	Command string        `mapstructure:"command"`
	Timeout time.Duration `mapstructure:"timeout" validate:"gte=0"`
}

// VersionBumpConfig is the config shape of a version_bump step.
type VersionBumpConfig struct {
	BumpType string `mapstructure:"bump_type" validate:"omitempty,oneof=patch minor major"`
}

// CommitConfig is the config shape of a git_commit step.
type CommitConfig struct {
	Message string   `mapstructure:"message"`
	Files   []string `mapstructure:"files" validate:"dive,required"`
}

// TagConfig is the config shape of a git_tag step.
type TagConfig struct {
	Name    string `mapstructure:"name"`
	Message string `mapstructure:"message"`
}

// PushConfig is the config shape of a git_push step. Tags defaults to true.
type PushConfig struct {
	Tags *bool `mapstructure:"tags"`
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// getValidator reports field names by their config key.
func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("mapstructure"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// decodeConfig decodes raw into out. Values from DOT files arrive as
// strings, so input is weakly typed; unknown keys are rejected.
func decodeConfig(raw map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(raw); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := getValidator().Struct(out); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// configShape returns an empty config value for a built-in step type.
func configShape(t release.StepType) any {
	switch t {
	case release.StepTypeBuild:
		return &BuildConfig{}
	case release.StepTypeVersionBump:
		return &VersionBumpConfig{}
	case release.StepTypeGitCommit:
		return &CommitConfig{}
	case release.StepTypeGitTag:
		return &TagConfig{}
	case release.StepTypeGitPush:
		return &PushConfig{}
	}
	return nil
}

// ConfigAdvisor warns about built-in steps whose config the handler will
// reject when it runs.
func ConfigAdvisor() release.Advisor {
	return release.AdvisorFunc(func(steps []release.StepDefinition) []string {
		var warnings []string
		for _, s := range steps {
			shape := configShape(s.Type)
			if shape == nil {
				continue
			}
			if err := decodeConfig(s.Config, shape); err != nil {
				warnings = append(warnings, fmt.Sprintf("step %q: %v", s.ID, err))
			}
		}
		return warnings
	})
}
