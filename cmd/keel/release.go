package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ravi-parthasarathy/keel/pkg/component"
	"github.com/ravi-parthasarathy/keel/pkg/extension"
	"github.com/ravi-parthasarathy/keel/pkg/release"
	"github.com/ravi-parthasarathy/keel/pkg/release/handlers"
	"github.com/ravi-parthasarathy/keel/pkg/version"
)

func releaseCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "release",
		Short: "Plan, run or inspect a component's release pipeline",
	}
	cmd.AddCommand(releasePlanCmd(a))
	cmd.AddCommand(releaseRunCmd(a))
	cmd.AddCommand(releaseGraphCmd(a))
	return cmd
}

// releaseOptions are the flags shared by the release sub-commands.
type releaseOptions struct {
	bump          string
	version       string
	noTag         bool
	noPush        bool
	allowDisabled bool
	maxParallel   int
}

func (o *releaseOptions) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.bump, "bump", version.BumpPatch, "version bump: patch, minor or major")
	cmd.Flags().StringVar(&o.version, "version", "", "release this exact version instead of bumping the current one")
	cmd.Flags().BoolVar(&o.noTag, "no-tag", false, "leave out git_tag steps")
	cmd.Flags().BoolVar(&o.noPush, "no-push", false, "leave out git_push steps")
}

func (o *releaseOptions) exclude() []release.StepType {
	var out []release.StepType
	if o.noTag {
		out = append(out, release.StepTypeGitTag)
	}
	if o.noPush {
		out = append(out, release.StepTypeGitPush)
	}
	return out
}

// releaseResult is the "result" of the release envelope.
type releaseResult struct {
	ComponentID string                 `json:"component_id"`
	BumpType    string                 `json:"bump_type"`
	DryRun      bool                   `json:"dry_run"`
	Release     release.ReleasePayload `json:"release"`
	Plan        *release.ExecutionPlan `json:"plan,omitempty"`
	Run         *release.RunResult     `json:"run,omitempty"`
}

// ─── plan ─────────────────────────────────────────────────────────────────────

func releasePlanCmd(a *app) *cobra.Command {
	var opts releaseOptions
	cmd := &cobra.Command{
		Use:   "plan <component-id>",
		Short: "Validate and print the execution plan without running anything",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.prepare(cmd.Context(), args[0], &opts)
			if err != nil {
				return usageErr(err)
			}
			return a.emit(envelope{Command: "release", Result: releaseResult{
				ComponentID: p.component.ID,
				BumpType:    opts.bump,
				DryRun:      true,
				Release:     p.payload,
				Plan:        p.plan,
			}})
		},
	}
	opts.register(cmd)
	return cmd
}

// ─── run ──────────────────────────────────────────────────────────────────────

func releaseRunCmd(a *app) *cobra.Command {
	var opts releaseOptions
	cmd := &cobra.Command{
		Use:   "run <component-id>",
		Short: "Run the release pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("max-parallel") && opts.maxParallel < 0 {
				return usageErr(errors.New("--max-parallel must be >= 0"))
			}
			if !cmd.Flags().Changed("max-parallel") {
				opts.maxParallel = -1
			}
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			return a.runRelease(ctx, args[0], &opts)
		},
	}
	opts.register(cmd)
	cmd.Flags().BoolVar(&opts.allowDisabled, "allow-disabled", false, "report a disabled pipeline as skipped instead of failing")
	cmd.Flags().IntVar(&opts.maxParallel, "max-parallel", 0, "maximum concurrently running steps (0 = unlimited, 1 = sequential)")
	return cmd
}

func (a *app) runRelease(ctx context.Context, componentID string, opts *releaseOptions) error {
	p, err := a.prepare(ctx, componentID, opts)
	if err != nil {
		return usageErr(err)
	}
	c := p.component
	if p.payload.Version == "" && p.plan.HasType(release.StepTypeVersionBump, release.StepTypeGitTag) {
		return usageErr(fmt.Errorf("component %q has no version targets, but its pipeline bumps or tags a version", c.ID))
	}

	if err := release.Preflight(ctx, p.plan, a.workTree(c.LocalPath), release.PreflightOptions{
		AllowDisabled:  opts.allowDisabled,
		AllowedChanges: c.AllowedChanges(),
	}); err != nil {
		return usageErr(err)
	}

	catalog, err := extension.LoadDir(a.cfg.ExtensionsDir)
	if err != nil {
		return usageErr(err)
	}
	reg := handlers.NewRegistry(catalog.Compatible(c.ID, c.Extensions), a.invoker)
	if err := handlers.RegisterBuiltins(reg, handlers.Deps{
		Component: c,
		Git:       a.git,
		Versions:  a.versions,
		Builds:    a.builds,
	}); err != nil {
		return usageErr(err)
	}

	exec, err := release.NewExecutor(reg)
	if err != nil {
		return usageErr(err)
	}
	exec.MaxParallel, err = a.maxParallel(p.config, opts.maxParallel)
	if err != nil {
		return usageErr(err)
	}
	exec.Logger = slog.Default()
	exec.NewRunID = a.newRunID

	run := exec.Run(ctx, p.plan, p.payload)
	fmt.Fprint(a.stderr, release.RenderRunText(c.ID, run))

	if err := a.emit(envelope{Command: "release", Result: releaseResult{
		ComponentID: c.ID,
		BumpType:    opts.bump,
		DryRun:      false,
		Release:     p.payload,
		Run:         run,
	}}); err != nil {
		return err
	}
	if run.Status != release.RunSuccess {
		return &exitError{
			code:     exitFailed,
			err:      fmt.Errorf("release of %s finished with status %s", c.ID, run.Status),
			reported: true,
		}
	}
	return nil
}

// maxParallel picks the in-flight bound: the flag when given (>= 0), then
// the pipeline setting, then the global config.
func (a *app) maxParallel(cfg release.PipelineConfig, flag int) (int, error) {
	if flag >= 0 {
		return flag, nil
	}
	n, err := cfg.SettingInt(release.SettingMaxParallel, a.cfg.MaxParallel)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("setting %q must be >= 0, got %d", release.SettingMaxParallel, n)
	}
	return n, nil
}

// ─── graph ────────────────────────────────────────────────────────────────────

func releaseGraphCmd(a *app) *cobra.Command {
	var (
		opts   releaseOptions
		format string
	)
	cmd := &cobra.Command{
		Use:   "graph <component-id>",
		Short: "Print the execution plan as text or Graphviz DOT",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.prepare(cmd.Context(), args[0], &opts)
			if err != nil {
				return usageErr(err)
			}
			switch strings.ToLower(format) {
			case "dot":
				out, err := release.RenderPlanDOT(p.component.ID, p.plan)
				if err != nil {
					return usageErr(err)
				}
				fmt.Fprint(a.stdout, out)
			case "text", "":
				fmt.Fprint(a.stdout, release.RenderPlanText(p.component.ID, p.plan))
			default:
				return usageErr(fmt.Errorf("unknown format %q: use text or dot", format))
			}
			return nil
		},
	}
	opts.register(cmd)
	cmd.Flags().StringVar(&format, "format", "text", "output format: text or dot")
	return cmd
}

// ─── shared ───────────────────────────────────────────────────────────────────

type prepared struct {
	component *component.Component
	config    release.PipelineConfig
	plan      *release.ExecutionPlan
	payload   release.ReleasePayload
}

// prepare loads the component, plans its pipeline and builds the payload.
// It only reads files and git history: no handler collaborator is touched.
func (a *app) prepare(ctx context.Context, componentID string, opts *releaseOptions) (*prepared, error) {
	c, err := component.NewStore(a.cfg.ComponentsDir).Load(componentID)
	if err != nil {
		return nil, err
	}
	cfg, err := c.PipelineConfig()
	if err != nil {
		return nil, err
	}

	planner := &release.Planner{
		Advisors: []release.Advisor{handlers.ConfigAdvisor(), version.ChangelogAdvisor(c)},
		Exclude:  opts.exclude(),
	}
	plan, err := planner.Plan(cfg)
	if err != nil {
		return nil, err
	}

	tagFormat := cfg.SettingString(release.SettingTagFormat, release.DefaultTagFormat)
	target, err := a.resolveVersion(ctx, c, tagFormat, opts)
	switch {
	case errors.Is(err, version.ErrNoVersionTargets):
		plan.Warnings = append(plan.Warnings,
			fmt.Sprintf("component %q has no version targets: the release has no version or tag", c.ID))
	case err != nil:
		return nil, err
	case target.Resumed:
		plan.Hints = append(plan.Hints,
			fmt.Sprintf("resuming the release of %s: %s", target.Version, target.Reason))
		slog.Info("resuming unfinished release",
			"component", c.ID,
			"version", target.Version,
			"reason", target.Reason)
	}

	var notes string
	if path := c.ChangelogPath(); path != "" {
		if notes, err = version.UnreleasedNotes(path); err != nil {
			slog.Debug("no release notes", "component", c.ID, "err", err)
			notes = ""
		}
	}

	payload, err := release.PayloadBuilder{
		ComponentID: c.ID,
		LocalPath:   c.LocalPath,
		Version:     target.Version,
		Previous:    target.Previous,
		BumpType:    opts.bump,
		TagFormat:   tagFormat,
		Notes:       notes,
		Artifacts:   c.Artifacts,
	}.Build()
	if err != nil {
		return nil, err
	}

	slog.Debug("release planned",
		"component", c.ID,
		"steps", len(plan.Steps),
		"version", payload.Version,
		"warnings", len(plan.Warnings))
	return &prepared{component: c, config: cfg, plan: plan, payload: payload}, nil
}

// resolveVersion picks the release version: --version when given, else the
// resolver's answer, which resumes a release an earlier run left unfinished.
func (a *app) resolveVersion(ctx context.Context, c *component.Component, tagFormat string, opts *releaseOptions) (version.Target, error) {
	if opts.version == "" {
		var history version.History
		if a.history != nil {
			history = a.history(c.LocalPath)
		}
		return version.Resolver{History: history, TagFormat: tagFormat}.Resolve(ctx, c, opts.bump)
	}
	if !version.Valid(opts.version) {
		return version.Target{}, fmt.Errorf("--version %q is not a semantic version", opts.version)
	}
	current, err := version.Read(c)
	if err != nil && !errors.Is(err, version.ErrNoVersionTargets) {
		return version.Target{}, err
	}
	return version.Target{Current: current, Version: opts.version, Previous: current}, nil
}
