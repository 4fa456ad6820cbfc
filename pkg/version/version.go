// Package version reads, bumps and rewrites component versions, and
// finalizes the changelog's Unreleased section at release time.
package version

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/mod/semver"

	"github.com/ravi-parthasarathy/keel/pkg/component"
)

// Bump types accepted by Next.
const (
	BumpPatch = "patch"
	BumpMinor = "minor"
	BumpMajor = "major"
)

// Bump is the outcome of rewriting a component's version.
type Bump struct {
	Old string `json:"old_version"`
	New string `json:"new_version"`
}

// Valid reports whether v is a semantic version (without a "v" prefix).
func Valid(v string) bool {
	return semver.IsValid("v" + v)
}

// Next returns the version after applying bumpType to current. Pre-release
// and build suffixes are dropped.
func Next(current, bumpType string) (string, error) {
	if !Valid(current) {
		return "", fmt.Errorf("invalid semantic version %q", current)
	}
	core := strings.TrimPrefix(semver.Canonical("v"+current), "v")
	if i := strings.IndexAny(core, "-+"); i >= 0 {
		core = core[:i]
	}
	parts := strings.Split(core, ".")
	nums := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return "", fmt.Errorf("invalid semantic version %q: %w", current, err)
		}
		nums[i] = n
	}

	switch bumpType {
	case BumpMajor:
		nums = []int{nums[0] + 1, 0, 0}
	case BumpMinor:
		nums = []int{nums[0], nums[1] + 1, 0}
	case BumpPatch, "":
		nums[2]++
	default:
		return "", fmt.Errorf("unknown bump type %q: use patch, minor or major", bumpType)
	}
	return fmt.Sprintf("%d.%d.%d", nums[0], nums[1], nums[2]), nil
}

// ErrNoVersionTargets is returned for components that declare no version
// target.
var ErrNoVersionTargets = errors.New("component has no version targets")

// Read returns the component's current version from its first version
// target.
func Read(c *component.Component) (string, error) {
	if len(c.VersionTargets) == 0 {
		return "", fmt.Errorf("component %q: %w", c.ID, ErrNoVersionTargets)
	}
	t := c.VersionTargets[0]
	v, _, err := readTarget(c.Path(t.File), t.EffectivePattern())
	return v, err
}

// readTarget returns the version found in path and the compiled pattern.
func readTarget(path, pattern string) (string, *regexp.Regexp, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", nil, fmt.Errorf("read version target: %w", err)
	}
	return parseVersion(path, data, pattern)
}

// parseVersion extracts the version from data, the contents of path.
func parseVersion(path string, data []byte, pattern string) (string, *regexp.Regexp, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return "", nil, fmt.Errorf("version pattern %q: %w", pattern, err)
	}
	if re.NumSubexp() < 1 {
		return "", nil, fmt.Errorf("version pattern %q has no capture group", pattern)
	}
	m := re.FindSubmatch(data)
	if m == nil {
		// A bare VERSION file holds nothing but the version.
		if v := strings.TrimSpace(string(data)); Valid(v) {
			return v, nil, nil
		}
		return "", nil, fmt.Errorf("%s: no version matching %q", path, pattern)
	}
	return string(m[1]), re, nil
}

// Manager performs version and changelog mutations on disk. The zero value
// uses the current time for changelog dates.
type Manager struct {
	Now func() time.Time
}

func (m *Manager) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

// Current returns the version currently on disk.
func (m *Manager) Current(_ context.Context, c *component.Component) (string, error) {
	return Read(c)
}

// BumpVersion rewrites every version target of c. All targets must agree
// on the current version before anything is written.
func (m *Manager) BumpVersion(_ context.Context, c *component.Component, bumpType string) (Bump, error) {
	current, targets, err := readTargets(c)
	if err != nil {
		return Bump{}, err
	}
	next, err := Next(current, bumpType)
	if err != nil {
		return Bump{}, err
	}
	return writeTargets(targets, current, next)
}

// SetVersion rewrites every version target of c to v.
func (m *Manager) SetVersion(_ context.Context, c *component.Component, v string) (Bump, error) {
	if !Valid(v) {
		return Bump{}, fmt.Errorf("invalid semantic version %q", v)
	}
	current, targets, err := readTargets(c)
	if err != nil {
		return Bump{}, err
	}
	return writeTargets(targets, current, v)
}

type target struct {
	path string
	re   *regexp.Regexp
}

// readTargets returns the version shared by every target of c.
func readTargets(c *component.Component) (string, []target, error) {
	if len(c.VersionTargets) == 0 {
		return "", nil, fmt.Errorf("component %q: %w", c.ID, ErrNoVersionTargets)
	}
	targets := make([]target, 0, len(c.VersionTargets))
	current := ""
	for _, t := range c.VersionTargets {
		path := c.Path(t.File)
		v, re, err := readTarget(path, t.EffectivePattern())
		if err != nil {
			return "", nil, err
		}
		if current == "" {
			current = v
		} else if v != current {
			return "", nil, fmt.Errorf("version targets disagree: %s has %s, expected %s", t.File, v, current)
		}
		targets = append(targets, target{path: path, re: re})
	}
	return current, targets, nil
}

func writeTargets(targets []target, current, next string) (Bump, error) {
	for _, t := range targets {
		if err := rewriteTarget(t.path, t.re, next); err != nil {
			return Bump{}, err
		}
	}
	return Bump{Old: current, New: next}, nil
}

// rewriteTarget replaces the first captured version in path. A nil re
// means the file contains only the version.
func rewriteTarget(path string, re *regexp.Regexp, next string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat version target: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read version target: %w", err)
	}

	var out []byte
	if re == nil {
		out = []byte(next + "\n")
	} else {
		loc := re.FindSubmatchIndex(data)
		if loc == nil {
			return fmt.Errorf("%s: version disappeared while bumping", path)
		}
		out = append(append(append([]byte{}, data[:loc[2]]...), next...), data[loc[3]:]...)
	}
	if err := os.WriteFile(path, out, info.Mode().Perm()); err != nil {
		return fmt.Errorf("write version target: %w", err)
	}
	return nil
}

// ErrNoChangelog is returned when the component does not declare one.
var ErrNoChangelog = errors.New("component has no changelog")
