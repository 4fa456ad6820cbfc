package version

import (
	"context"
	"fmt"
	"path/filepath"

	"golang.org/x/mod/semver"

	"github.com/ravi-parthasarathy/keel/pkg/component"
	"github.com/ravi-parthasarathy/keel/pkg/release"
)

// History is read-only access to a component's committed state.
// *git.Repository implements it.
type History interface {
	TagAtHead(ctx context.Context, name string) (exists, atHead bool, err error)
	FileAtHead(ctx context.Context, path string) ([]byte, error)
}

// Target is the version a release should produce.
type Target struct {
	// Current is the version on disk.
	Current string
	// Version is the version to release.
	Version string
	// Previous is the last released version, "" when unknown.
	Previous string
	// Resumed is set when an earlier run already moved the component to
	// Current without finishing. Version is then Current.
	Resumed bool
	Reason  string
}

// Resolver decides the release version. A re-run after a partial failure
// must release the version the first run bumped to, not bump it again.
type Resolver struct {
	// History may be nil, leaving the changelog as the only evidence.
	History   History
	TagFormat string
}

// Resolve reads the current version and returns the release target.
func (r Resolver) Resolve(ctx context.Context, c *component.Component, bumpType string) (Target, error) {
	current, err := Read(c)
	if err != nil {
		return Target{}, err
	}
	next, err := Next(current, bumpType)
	if err != nil {
		return Target{}, err
	}
	t := Target{Current: current, Version: next, Previous: current}
	if committed, reason := r.unfinished(ctx, c, current); reason != "" {
		t.Version, t.Previous, t.Resumed, t.Reason = current, committed, true, reason
	}
	return t, nil
}

// unfinished returns why current looks like a release still in progress,
// or "" when it was released (or never bumped). committed is the version
// at HEAD when the bump is not committed yet.
func (r Resolver) unfinished(ctx context.Context, c *component.Component, current string) (committed, reason string) {
	if r.History != nil {
		tag := release.TagName(r.TagFormat, current)
		exists, atHead, err := r.History.TagAtHead(ctx, tag)
		if err == nil && exists {
			if atHead {
				return "", fmt.Sprintf("tag %s already points at HEAD", tag)
			}
			return "", ""
		}
		if v := r.committedVersion(ctx, c); v != "" && semver.Compare("v"+current, "v"+v) > 0 {
			return v, fmt.Sprintf("version change %s -> %s is not committed", v, current)
		}
	}
	if path := c.ChangelogPath(); path != "" {
		latest, notes, err := LatestRelease(path)
		if err == nil && notes == "" && latest == current {
			return "", fmt.Sprintf("changelog already finalized for %s", current)
		}
	}
	return "", ""
}

// committedVersion returns the first version target's version at HEAD, or
// "" when it cannot be read.
func (r Resolver) committedVersion(ctx context.Context, c *component.Component) string {
	t := c.VersionTargets[0]
	rel, err := filepath.Rel(c.LocalPath, c.Path(t.File))
	if err != nil {
		return ""
	}
	data, err := r.History.FileAtHead(ctx, rel)
	if err != nil {
		return ""
	}
	v, _, err := parseVersion(rel, data, t.EffectivePattern())
	if err != nil || !Valid(v) {
		return ""
	}
	return v
}
