package handlers_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ravi-parthasarathy/keel/pkg/component"
	"github.com/ravi-parthasarathy/keel/pkg/extension"
	"github.com/ravi-parthasarathy/keel/pkg/process"
	"github.com/ravi-parthasarathy/keel/pkg/release"
	"github.com/ravi-parthasarathy/keel/pkg/release/handlers"
	"github.com/ravi-parthasarathy/keel/pkg/version"
)

// ─── Fakes ────────────────────────────────────────────────────────────────────

type call struct {
	Op   string
	Args []string
}

type recorder struct {
	mu    sync.Mutex
	calls []call
}

func (r *recorder) record(op string, args ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call{Op: op, Args: args})
}

type fakeGit struct {
	recorder
	result *process.Result
	err    error
}

func (g *fakeGit) Commit(_ context.Context, path, message string, files []string) (*process.Result, error) {
	g.record("commit", append([]string{path, message}, files...)...)
	return g.reply()
}

func (g *fakeGit) Tag(_ context.Context, path, name, message string) (*process.Result, error) {
	g.record("tag", path, name, message)
	return g.reply()
}

func (g *fakeGit) Push(_ context.Context, path string, includeTags bool) (*process.Result, error) {
	tags := "false"
	if includeTags {
		tags = "true"
	}
	g.record("push", path, tags)
	return g.reply()
}

func (g *fakeGit) reply() (*process.Result, error) {
	if g.result != nil || g.err != nil {
		return g.result, g.err
	}
	return &process.Result{Stdout: "ok\n"}, nil
}

type fakeVersions struct {
	recorder
	current string
	bumpTo  string
}

func (v *fakeVersions) Current(context.Context, *component.Component) (string, error) {
	return v.current, nil
}

func (v *fakeVersions) BumpVersion(_ context.Context, _ *component.Component, bumpType string) (version.Bump, error) {
	v.record("bump", bumpType)
	return version.Bump{Old: v.current, New: v.bumpTo}, nil
}

func (v *fakeVersions) SetVersion(_ context.Context, _ *component.Component, ver string) (version.Bump, error) {
	v.record("set", ver)
	return version.Bump{Old: v.current, New: ver}, nil
}

func (v *fakeVersions) FinalizeChangelog(_ context.Context, c *component.Component, ver string) (string, error) {
	v.record("changelog", ver)
	return c.ChangelogPath(), nil
}

type fakeBuilder struct {
	recorder
	result *process.Result
	err    error
}

func (b *fakeBuilder) RunBuild(_ context.Context, _ *component.Component, command string, timeout time.Duration) (*process.Result, error) {
	b.record("build", command, timeout.String())
	if b.result != nil || b.err != nil {
		return b.result, b.err
	}
	return &process.Result{Stdout: "built\n"}, nil
}

type fakeInvoker struct {
	recorder
	input []byte
	env   []string
}

func (f *fakeInvoker) Invoke(_ context.Context, ref extension.ActionRef, input []byte, env []string) (*process.Result, error) {
	f.record("invoke", ref.Name())
	f.input = input
	f.env = env
	return &process.Result{Stdout: "published\n"}, nil
}

func testComponent() *component.Component {
	return &component.Component{
		ID:             "api",
		LocalPath:      "/src/api",
		Changelog:      "CHANGELOG.md",
		VersionTargets: []component.VersionTarget{{File: "VERSION"}},
		Build:          component.BuildConfig{Command: "make VERSION={version}", Timeout: "2m"},
	}
}

func testPayload() release.ReleasePayload {
	return release.ReleasePayload{
		Version:         "1.3.0",
		PreviousVersion: "1.2.3",
		BumpType:        "minor",
		Tag:             "v1.3.0",
		ComponentID:     "api",
		LocalPath:       "/src/api",
	}
}

func input(t release.StepType, cfg map[string]any) release.StepInput {
	return release.NewStepInput(testPayload(), release.StepDefinition{ID: string(t), Type: t, Config: cfg})
}

// ─── Registry ─────────────────────────────────────────────────────────────────

func TestResolve(t *testing.T) {
	t.Parallel()
	catalog := extension.NewCatalog(&extension.Manifest{
		ID: "github",
		Actions: []extension.Action{
			{ID: "release.publish", Command: "./publish.sh"},
			{ID: "release.build", Command: "./build.sh"},
		},
	})
	r := handlers.NewRegistry(catalog, &fakeInvoker{})
	require.NoError(t, handlers.RegisterBuiltins(r, handlers.Deps{
		Component: testComponent(),
		Git:       &fakeGit{},
		Versions:  &fakeVersions{},
		Builds:    &fakeBuilder{},
	}))

	assert.Equal(t, []release.StepType{"build", "git_commit", "git_push", "git_tag", "version_bump"}, r.Builtins())

	build := r.Resolve(release.StepTypeBuild)
	assert.Equal(t, release.RefBuiltin, build.Kind)
	assert.Equal(t, "builtin", build.Source())

	publish := r.Resolve("publish")
	assert.Equal(t, release.RefExternal, publish.Kind)
	assert.Equal(t, "release.publish", publish.Action)
	assert.Equal(t, "github", publish.Source())

	deploy := r.Resolve("deploy")
	assert.Equal(t, release.RefMissing, deploy.Kind)
	assert.Nil(t, deploy.Handler)
}

func TestResolveBuiltinTypeNeverUsesExtensions(t *testing.T) {
	t.Parallel()
	catalog := extension.NewCatalog(&extension.Manifest{
		ID:      "shadow",
		Actions: []extension.Action{{ID: "release.git_push", Command: "./push.sh"}},
	})
	r := handlers.NewRegistry(catalog, &fakeInvoker{})
	assert.Equal(t, release.RefMissing, r.Resolve(release.StepTypeGitPush).Kind)
}

func TestResolveWithoutCatalog(t *testing.T) {
	t.Parallel()
	r := handlers.NewRegistry(nil, nil)
	assert.Equal(t, release.RefMissing, r.Resolve("publish").Kind)
}

func TestRegisterBuiltinsRequiresDeps(t *testing.T) {
	t.Parallel()
	r := handlers.NewRegistry(nil, nil)
	require.Error(t, handlers.RegisterBuiltins(r, handlers.Deps{}))
	require.Error(t, handlers.RegisterBuiltins(r, handlers.Deps{Component: testComponent()}))
	assert.Empty(t, r.Builtins())
}

// ─── Built-ins ────────────────────────────────────────────────────────────────

func TestBuildHandlerDefaultsToComponentCommand(t *testing.T) {
	t.Parallel()
	b := &fakeBuilder{}
	h := &handlers.BuildHandler{Component: testComponent(), Builds: b}

	out, err := h.Run(t.Context(), input(release.StepTypeBuild, nil))
	require.NoError(t, err)
	assert.Equal(t, "built\n", out.Stdout)
	require.NotNil(t, out.ExitCode)
	assert.Equal(t, 0, *out.ExitCode)
	assert.Equal(t, []call{{Op: "build", Args: []string{"make VERSION=1.3.0", "2m0s"}}}, b.calls)
}

func TestBuildHandlerStepConfigOverrides(t *testing.T) {
	t.Parallel()
	b := &fakeBuilder{}
	h := &handlers.BuildHandler{Component: testComponent(), Builds: b}

	_, err := h.Run(t.Context(), input(release.StepTypeBuild, map[string]any{"command": "go test ./...", "timeout": "90s"}))
	require.NoError(t, err)
	assert.Equal(t, []call{{Op: "build", Args: []string{"go test ./...", "1m30s"}}}, b.calls)
}

func TestBuildHandlerNonZeroExitKeepsOutput(t *testing.T) {
	t.Parallel()
	b := &fakeBuilder{
		result: &process.Result{Stdout: "compiling\n", Stderr: "undefined: x\n", ExitCode: 2},
		err:    &process.ExitError{Name: "/bin/sh", ExitCode: 2, Stderr: "undefined: x\n"},
	}
	h := &handlers.BuildHandler{Component: testComponent(), Builds: b}

	out, err := h.Run(t.Context(), input(release.StepTypeBuild, nil))
	require.NoError(t, err)
	require.NotNil(t, out.ExitCode)
	assert.Equal(t, 2, *out.ExitCode)
	assert.Equal(t, "undefined: x\n", out.Stderr)
}

func TestBuildHandlerWithoutCommand(t *testing.T) {
	t.Parallel()
	c := testComponent()
	c.Build = component.BuildConfig{}
	h := &handlers.BuildHandler{Component: c, Builds: &fakeBuilder{}}
	_, err := h.Run(t.Context(), input(release.StepTypeBuild, nil))
	require.ErrorContains(t, err, "no build command")
}

func TestBuildHandlerProcessError(t *testing.T) {
	t.Parallel()
	b := &fakeBuilder{
		result: &process.Result{ExitCode: -1},
		err:    errors.New("process: /bin/sh killed: context deadline exceeded"),
	}
	h := &handlers.BuildHandler{Component: testComponent(), Builds: b}
	out, err := h.Run(t.Context(), input(release.StepTypeBuild, nil))
	require.Error(t, err)
	require.NotNil(t, out.ExitCode)
	assert.Equal(t, -1, *out.ExitCode)
}

func TestVersionBumpHandler(t *testing.T) {
	t.Parallel()
	v := &fakeVersions{current: "1.2.3", bumpTo: "1.3.0"}
	h := &handlers.VersionBumpHandler{Component: testComponent(), Versions: v}

	out, err := h.Run(t.Context(), input(release.StepTypeVersionBump, nil))
	require.NoError(t, err)
	assert.Contains(t, out.Stdout, "1.2.3 -> 1.3.0")
	assert.Equal(t, []call{
		{Op: "changelog", Args: []string{"1.3.0"}},
		{Op: "bump", Args: []string{"minor"}},
	}, v.calls)
}

func TestVersionBumpHandlerAlreadyBumped(t *testing.T) {
	t.Parallel()
	v := &fakeVersions{current: "1.3.0"}
	h := &handlers.VersionBumpHandler{Component: testComponent(), Versions: v}

	out, err := h.Run(t.Context(), input(release.StepTypeVersionBump, nil))
	require.NoError(t, err)
	assert.Contains(t, out.Stdout, "version already 1.3.0")
	assert.Equal(t, []call{{Op: "changelog", Args: []string{"1.3.0"}}}, v.calls)
}

func TestVersionBumpHandlerMismatch(t *testing.T) {
	t.Parallel()
	v := &fakeVersions{current: "1.2.3", bumpTo: "1.4.0"}
	h := &handlers.VersionBumpHandler{Component: testComponent(), Versions: v}

	_, err := h.Run(t.Context(), input(release.StepTypeVersionBump, nil))
	require.ErrorContains(t, err, "release version is 1.3.0")
	assert.Equal(t, []call{
		{Op: "changelog", Args: []string{"1.3.0"}},
		{Op: "bump", Args: []string{"minor"}},
	}, v.calls)
}

func TestVersionBumpHandlerExplicitVersion(t *testing.T) {
	t.Parallel()
	v := &fakeVersions{current: "1.2.3"}
	h := &handlers.VersionBumpHandler{Component: testComponent(), Versions: v}

	// A major bump would give 2.0.0; the payload's version wins.
	out, err := h.Run(t.Context(), input(release.StepTypeVersionBump, map[string]any{"bump_type": "major"}))
	require.NoError(t, err)
	assert.Contains(t, out.Stdout, "1.2.3 -> 1.3.0")
	assert.Equal(t, []call{
		{Op: "changelog", Args: []string{"1.3.0"}},
		{Op: "set", Args: []string{"1.3.0"}},
	}, v.calls)
}

func TestVersionBumpHandlerEmptyChangelogChangesNothing(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "VERSION"), []byte("1.2.3\n"), 0o644))
	changelog := "# Changelog\n\n## [Unreleased]\n\n## [1.2.3] - 2026-01-01\n\n- Old\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "CHANGELOG.md"), []byte(changelog), 0o644))
	c := testComponent()
	c.LocalPath = dir

	h := &handlers.VersionBumpHandler{Component: c, Versions: &version.Manager{}}
	_, err := h.Run(t.Context(), input(release.StepTypeVersionBump, nil))
	require.ErrorIs(t, err, version.ErrEmptyUnreleased)

	raw, err := os.ReadFile(filepath.Join(dir, "VERSION"))
	require.NoError(t, err)
	assert.Equal(t, "1.2.3\n", string(raw))
	raw, err = os.ReadFile(filepath.Join(dir, "CHANGELOG.md"))
	require.NoError(t, err)
	assert.Equal(t, changelog, string(raw))
}

func TestVersionBumpHandlerRerunIsNoOp(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "VERSION"), []byte("1.2.3\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "CHANGELOG.md"),
		[]byte("# Changelog\n\n## [Unreleased]\n\n- Retries\n"), 0o644))
	c := testComponent()
	c.LocalPath = dir
	h := &handlers.VersionBumpHandler{Component: c, Versions: &version.Manager{}}

	_, err := h.Run(t.Context(), input(release.StepTypeVersionBump, nil))
	require.NoError(t, err)
	out, err := h.Run(t.Context(), input(release.StepTypeVersionBump, nil))
	require.NoError(t, err)
	assert.Contains(t, out.Stdout, "version already 1.3.0")

	raw, err := os.ReadFile(filepath.Join(dir, "VERSION"))
	require.NoError(t, err)
	assert.Equal(t, "1.3.0\n", string(raw))
	raw, err = os.ReadFile(filepath.Join(dir, "CHANGELOG.md"))
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(raw), "## [1.3.0]"))
}

func TestVersionBumpHandlerRejectsBadConfig(t *testing.T) {
	t.Parallel()
	v := &fakeVersions{current: "1.2.3", bumpTo: "1.3.0"}
	h := &handlers.VersionBumpHandler{Component: testComponent(), Versions: v}

	_, err := h.Run(t.Context(), input(release.StepTypeVersionBump, map[string]any{"bump_type": "huge"}))
	require.ErrorContains(t, err, "bump_type")
	assert.Empty(t, v.calls)
}

func TestCommitHandlerDefaults(t *testing.T) {
	t.Parallel()
	g := &fakeGit{}
	h := &handlers.CommitHandler{Component: testComponent(), Git: g}

	_, err := h.Run(t.Context(), input(release.StepTypeGitCommit, nil))
	require.NoError(t, err)
	want := []call{{Op: "commit", Args: []string{"/src/api", "release: v1.3.0", "CHANGELOG.md", "VERSION"}}}
	if diff := cmp.Diff(want, g.calls); diff != "" {
		t.Errorf("git calls mismatch (-want +got):\n%s", diff)
	}
}

func TestCommitHandlerConfig(t *testing.T) {
	t.Parallel()
	g := &fakeGit{}
	h := &handlers.CommitHandler{Component: testComponent(), Git: g}

	_, err := h.Run(t.Context(), input(release.StepTypeGitCommit, map[string]any{
		"message": "chore({component}): {previous_version} to {version}",
		"files":   "VERSION,package.json",
	}))
	require.NoError(t, err)
	want := []call{{Op: "commit", Args: []string{"/src/api", "chore(api): 1.2.3 to 1.3.0", "VERSION", "package.json"}}}
	if diff := cmp.Diff(want, g.calls); diff != "" {
		t.Errorf("git calls mismatch (-want +got):\n%s", diff)
	}
}

func TestTagHandler(t *testing.T) {
	t.Parallel()
	g := &fakeGit{}
	h := &handlers.TagHandler{Component: testComponent(), Git: g}

	_, err := h.Run(t.Context(), input(release.StepTypeGitTag, nil))
	require.NoError(t, err)
	_, err = h.Run(t.Context(), input(release.StepTypeGitTag, map[string]any{"name": "api/{tag}", "message": "API {version}"}))
	require.NoError(t, err)

	assert.Equal(t, []call{
		{Op: "tag", Args: []string{"/src/api", "v1.3.0", ""}},
		{Op: "tag", Args: []string{"/src/api", "api/v1.3.0", "API 1.3.0"}},
	}, g.calls)
}

func TestTagHandlerErrorPassesThrough(t *testing.T) {
	t.Parallel()
	g := &fakeGit{err: errors.New("git tag: v1.3.0 already exists at abc1234, not at HEAD def5678")}
	h := &handlers.TagHandler{Component: testComponent(), Git: g}
	_, err := h.Run(t.Context(), input(release.StepTypeGitTag, nil))
	require.ErrorContains(t, err, "already exists")
}

func TestPushHandlerTags(t *testing.T) {
	t.Parallel()
	g := &fakeGit{}
	h := &handlers.PushHandler{Component: testComponent(), Git: g}

	_, err := h.Run(t.Context(), input(release.StepTypeGitPush, nil))
	require.NoError(t, err)
	_, err = h.Run(t.Context(), input(release.StepTypeGitPush, map[string]any{"tags": "false"}))
	require.NoError(t, err)

	assert.Equal(t, []call{
		{Op: "push", Args: []string{"/src/api", "true"}},
		{Op: "push", Args: []string{"/src/api", "false"}},
	}, g.calls)
}

func TestPushHandlerRejectsUnknownKeys(t *testing.T) {
	t.Parallel()
	g := &fakeGit{}
	h := &handlers.PushHandler{Component: testComponent(), Git: g}
	_, err := h.Run(t.Context(), input(release.StepTypeGitPush, map[string]any{"remote": "upstream"}))
	require.ErrorContains(t, err, "invalid config")
	assert.Empty(t, g.calls)
}

// ─── Extensions ───────────────────────────────────────────────────────────────

func TestExtensionHandlerSendsStepInput(t *testing.T) {
	t.Parallel()
	inv := &fakeInvoker{}
	catalog := extension.NewCatalog(&extension.Manifest{
		ID:      "github",
		Dir:     "/ext/github",
		Actions: []extension.Action{{ID: "release.publish", Command: "./publish.sh"}},
	})
	r := handlers.NewRegistry(catalog, inv)
	ref := r.Resolve("publish")
	require.Equal(t, release.RefExternal, ref.Kind)

	in := release.NewStepInput(testPayload(), release.StepDefinition{
		ID:     "publish",
		Type:   "publish",
		Config: map[string]any{"draft": true},
	})
	out, err := ref.Handler.Run(t.Context(), in)
	require.NoError(t, err)
	assert.Equal(t, "published\n", out.Stdout)
	assert.Equal(t, []call{{Op: "invoke", Args: []string{"github:release.publish"}}}, inv.calls)

	var got struct {
		Release release.ReleasePayload `json:"release"`
		Config  map[string]any         `json:"config"`
	}
	require.NoError(t, json.Unmarshal(inv.input, &got))
	assert.Equal(t, "1.3.0", got.Release.Version)
	assert.Equal(t, map[string]any{"draft": true}, got.Config)
	assert.Contains(t, inv.env, "KEEL_STEP_ID=publish")
	assert.Contains(t, inv.env, "KEEL_TAG=v1.3.0")
}

// ─── Advisor ──────────────────────────────────────────────────────────────────

func TestConfigAdvisor(t *testing.T) {
	t.Parallel()
	warnings := handlers.ConfigAdvisor().Advise([]release.StepDefinition{
		{ID: "build", Type: release.StepTypeBuild, Config: map[string]any{"command": "make"}},
		{ID: "bump", Type: release.StepTypeVersionBump, Config: map[string]any{"bump_type": "huge"}},
		{ID: "push", Type: release.StepTypeGitPush, Config: map[string]any{"force": "yes"}},
		{ID: "publish", Type: "publish", Config: map[string]any{"anything": 1}},
	})
	require.Len(t, warnings, 2)
	assert.True(t, strings.HasPrefix(warnings[0], `step "bump":`), warnings[0])
	assert.True(t, strings.HasPrefix(warnings[1], `step "push":`), warnings[1])
}
