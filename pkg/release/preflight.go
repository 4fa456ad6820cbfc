package release

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
)

// WorkTree reports uncommitted changes in the component's working tree.
// Paths are relative to the tree root.
type WorkTree interface {
	ChangedFiles(ctx context.Context) ([]string, error)
}

// PreflightError aborts a run before any step executes.
type PreflightError struct {
	Reason string
	// Paths lists offending files for a dirty working tree.
	Paths []string
}

func (e *PreflightError) Error() string {
	if len(e.Paths) == 0 {
		return "pre-flight check failed: " + e.Reason
	}
	return fmt.Sprintf("pre-flight check failed: %s: %s", e.Reason, strings.Join(e.Paths, ", "))
}

// PreflightOptions configures the validation gate in front of Executor.Run.
type PreflightOptions struct {
	// AllowDisabled acknowledges a disabled pipeline; the run then reports
	// every step as skipped instead of failing pre-flight.
	AllowDisabled bool
	// AllowedChanges are paths (relative to the tree root) that may be
	// modified: the changelog and the version target files.
	AllowedChanges []string
}

// Preflight checks that plan may run against tree. A nil tree skips the
// working-tree check.
func Preflight(ctx context.Context, plan *ExecutionPlan, tree WorkTree, opts PreflightOptions) error {
	if !plan.Enabled {
		if opts.AllowDisabled {
			return nil
		}
		return &PreflightError{Reason: "release pipeline is disabled (pass --allow-disabled to report it as skipped)"}
	}
	if tree == nil {
		return nil
	}

	changed, err := tree.ChangedFiles(ctx)
	if err != nil {
		return fmt.Errorf("pre-flight: inspect working tree: %w", err)
	}
	allowed := make([]string, len(opts.AllowedChanges))
	for i, p := range opts.AllowedChanges {
		allowed[i] = filepath.Clean(p)
	}

	var dirty []string
	for _, p := range changed {
		if !slices.Contains(allowed, filepath.Clean(p)) {
			dirty = append(dirty, p)
		}
	}
	if len(dirty) > 0 {
		slices.Sort(dirty)
		return &PreflightError{Reason: "working tree has uncommitted changes", Paths: dirty}
	}
	return nil
}
