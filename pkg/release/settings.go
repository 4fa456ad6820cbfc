package release

import (
	"fmt"
	"strconv"
)

// Setting keys recognised in PipelineConfig.Settings.
const (
	SettingMaxParallel            = "max_parallel"
	SettingSynthesizedCommitNeeds = "synthesized_commit_needs"
	SettingTagFormat              = "tag_format"
	SettingCommitMessage          = "commit_message"
)

const (
	DefaultTagFormat     = "v{version}"
	DefaultCommitMessage = "release: v{version}"
)

// SettingString returns settings[key] as a string, or def when unset.
func (c PipelineConfig) SettingString(key, def string) string {
	v, ok := c.Settings[key]
	if !ok || v == nil {
		return def
	}
	if s, ok := v.(string); ok {
		if s == "" {
			return def
		}
		return s
	}
	return fmt.Sprint(v)
}

// SettingInt returns settings[key] as an int. YAML decodes integers as int,
// JSON as float64; numeric strings are accepted too.
func (c PipelineConfig) SettingInt(key string, def int) (int, error) {
	v, ok := c.Settings[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != float64(int(n)) {
			return 0, fmt.Errorf("setting %q: %v is not an integer", key, n)
		}
		return int(n), nil
	case string:
		i, err := strconv.Atoi(n)
		if err != nil {
			return 0, fmt.Errorf("setting %q: %w", key, err)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("setting %q: unsupported type %T", key, v)
	}
}
