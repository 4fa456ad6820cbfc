package handlers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ravi-parthasarathy/keel/pkg/component"
	"github.com/ravi-parthasarathy/keel/pkg/process"
	"github.com/ravi-parthasarathy/keel/pkg/release"
	"github.com/ravi-parthasarathy/keel/pkg/version"
)

// Git is the repository surface the git steps use. *git.Client
// implements it.
type Git interface {
	Commit(ctx context.Context, path, message string, files []string) (*process.Result, error)
	Tag(ctx context.Context, path, name, message string) (*process.Result, error)
	Push(ctx context.Context, path string, includeTags bool) (*process.Result, error)
}

// Versioner rewrites versions and changelogs. *version.Manager implements
// it.
type Versioner interface {
	Current(ctx context.Context, c *component.Component) (string, error)
	BumpVersion(ctx context.Context, c *component.Component, bumpType string) (version.Bump, error)
	SetVersion(ctx context.Context, c *component.Component, v string) (version.Bump, error)
	FinalizeChangelog(ctx context.Context, c *component.Component, newVersion string) (string, error)
}

// Builder runs a component's build command.
type Builder interface {
	RunBuild(ctx context.Context, c *component.Component, command string, timeout time.Duration) (*process.Result, error)
}

// ShellBuilder runs build commands through /bin/sh in the component's
// local path.
type ShellBuilder struct{}

func (ShellBuilder) RunBuild(ctx context.Context, c *component.Component, command string, timeout time.Duration) (*process.Result, error) {
	return process.Shell(ctx, command, c.LocalPath, timeout)
}

// Deps are the collaborators of the built-in handlers.
type Deps struct {
	Component *component.Component
	Git       Git
	Versions  Versioner
	Builds    Builder
}

// RegisterBuiltins registers the five built-in step handlers on r.
func RegisterBuiltins(r *Registry, d Deps) error {
	switch {
	case d.Component == nil:
		return errors.New("built-in handlers need a component")
	case d.Git == nil, d.Versions == nil, d.Builds == nil:
		return errors.New("built-in handlers need git, version and build collaborators")
	}
	r.Register(release.StepTypeBuild, &BuildHandler{Component: d.Component, Builds: d.Builds})
	r.Register(release.StepTypeVersionBump, &VersionBumpHandler{Component: d.Component, Versions: d.Versions})
	r.Register(release.StepTypeGitCommit, &CommitHandler{Component: d.Component, Git: d.Git})
	r.Register(release.StepTypeGitTag, &TagHandler{Component: d.Component, Git: d.Git})
	r.Register(release.StepTypeGitPush, &PushHandler{Component: d.Component, Git: d.Git})
	return nil
}

// outcome converts a process result. A non-zero exit is reported through
// the exit code so the captured output survives; other errors pass
// through.
func outcome(res *process.Result, err error) (release.Outcome, error) {
	if res == nil {
		return release.Outcome{}, err
	}
	out := release.Outcome{
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
		ExitCode: release.ExitCodeOf(res.ExitCode),
	}
	var exitErr *process.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return out, err
	}
	return out, nil
}

// ─── build ────────────────────────────────────────────────────────────────────

// BuildHandler runs the step's command, or the component's build command
// when the step does not set one.
type BuildHandler struct {
	Component *component.Component
	Builds    Builder
}

func (h *BuildHandler) Run(ctx context.Context, in release.StepInput) (release.Outcome, error) {
	var cfg BuildConfig
	if err := decodeConfig(in.Config, &cfg); err != nil {
		return release.Outcome{}, err
	}
	command := cfg.Command
	if command == "" {
		command = h.Component.Build.Command
	}
	if command == "" {
		return release.Outcome{}, fmt.Errorf("component %q has no build command and step sets none", h.Component.ID)
	}
	timeout := cfg.Timeout
	if timeout == 0 && h.Component.Build.Timeout != "" {
		d, err := time.ParseDuration(h.Component.Build.Timeout)
		if err != nil {
			return release.Outcome{}, fmt.Errorf("component %q: invalid build timeout %q: %w", h.Component.ID, h.Component.Build.Timeout, err)
		}
		timeout = d
	}
	return outcome(h.Builds.RunBuild(ctx, h.Component, in.Release.Expand(command), timeout))
}

// ─── version_bump ─────────────────────────────────────────────────────────────

// VersionBumpHandler finalizes the changelog and rewrites the version
// targets. The changelog goes first so an empty Unreleased section fails
// the step before any version file changes. When the targets already hold
// the release version the bump is not repeated, so a re-run after a later
// step failed is safe.
type VersionBumpHandler struct {
	Component *component.Component
	Versions  Versioner
}

func (h *VersionBumpHandler) Run(ctx context.Context, in release.StepInput) (release.Outcome, error) {
	var cfg VersionBumpConfig
	if err := decodeConfig(in.Config, &cfg); err != nil {
		return release.Outcome{}, err
	}
	bumpType := cfg.BumpType
	if bumpType == "" {
		bumpType = in.Release.BumpType
	}

	current, err := h.Versions.Current(ctx, h.Component)
	if err != nil {
		return release.Outcome{}, err
	}

	var changelog string
	if h.Component.ChangelogPath() != "" {
		path, err := h.Versions.FinalizeChangelog(ctx, h.Component, in.Release.Version)
		if err != nil {
			return release.Outcome{}, err
		}
		changelog = fmt.Sprintf("changelog %s finalized for %s\n", path, in.Release.Version)
	}

	if current == in.Release.Version {
		return release.Outcome{Stdout: fmt.Sprintf("version already %s\n", current) + changelog}, nil
	}

	// An explicit release version (--version) is written as is.
	var bump version.Bump
	if next, nerr := version.Next(current, bumpType); nerr == nil && next == in.Release.Version {
		bump, err = h.Versions.BumpVersion(ctx, h.Component, bumpType)
	} else {
		bump, err = h.Versions.SetVersion(ctx, h.Component, in.Release.Version)
	}
	if err != nil {
		return release.Outcome{Stdout: changelog}, err
	}
	if bump.New != in.Release.Version {
		return release.Outcome{Stdout: changelog}, fmt.Errorf("bumped %s to %s (%s), but the release version is %s",
			bump.Old, bump.New, bumpType, in.Release.Version)
	}
	return release.Outcome{Stdout: fmt.Sprintf("version %s -> %s\n", bump.Old, bump.New) + changelog}, nil
}

// ─── git ──────────────────────────────────────────────────────────────────────

// CommitHandler commits the release changes. Without explicit files it
// stages the changelog and version targets.
type CommitHandler struct {
	Component *component.Component
	Git       Git
}

func (h *CommitHandler) Run(ctx context.Context, in release.StepInput) (release.Outcome, error) {
	var cfg CommitConfig
	if err := decodeConfig(in.Config, &cfg); err != nil {
		return release.Outcome{}, err
	}
	message := cfg.Message
	if message == "" {
		message = release.DefaultCommitMessage
	}
	files := cfg.Files
	if len(files) == 0 {
		files = h.Component.AllowedChanges()
	}
	return outcome(h.Git.Commit(ctx, in.Release.LocalPath, in.Release.Expand(message), files))
}

// TagHandler tags HEAD with the release tag.
type TagHandler struct {
	Component *component.Component
	Git       Git
}

func (h *TagHandler) Run(ctx context.Context, in release.StepInput) (release.Outcome, error) {
	var cfg TagConfig
	if err := decodeConfig(in.Config, &cfg); err != nil {
		return release.Outcome{}, err
	}
	name := in.Release.Tag
	if cfg.Name != "" {
		name = in.Release.Expand(cfg.Name)
	}
	return outcome(h.Git.Tag(ctx, in.Release.LocalPath, name, in.Release.Expand(cfg.Message)))
}

// PushHandler pushes the current branch and, unless disabled, tags.
type PushHandler struct {
	Component *component.Component
	Git       Git
}

func (h *PushHandler) Run(ctx context.Context, in release.StepInput) (release.Outcome, error) {
	var cfg PushConfig
	if err := decodeConfig(in.Config, &cfg); err != nil {
		return release.Outcome{}, err
	}
	tags := cfg.Tags == nil || *cfg.Tags
	return outcome(h.Git.Push(ctx, in.Release.LocalPath, tags))
}
