package release

import (
	"fmt"
	"slices"
	"sort"
)

// SynthesizedCommitID is the preferred id of the implicit git_commit step.
const SynthesizedCommitID = "git.commit"

// CommitNeedsPolicy decides which dependencies a synthesized git_commit
// step receives.
type CommitNeedsPolicy string

const (
	// CommitNeedsAuto inherits the git_tag steps' needs when a tag depends,
	// directly or not, on a version_bump step, so the commit sees the
	// rewritten version files. Otherwise it behaves like CommitNeedsNone.
	CommitNeedsAuto CommitNeedsPolicy = "auto"
	// CommitNeedsNone schedules the synthesized commit as early as possible.
	CommitNeedsNone CommitNeedsPolicy = "none"
	// CommitNeedsInherit gives the synthesized commit the union of the
	// git_tag steps' own needs, so it runs after version files are written.
	CommitNeedsInherit CommitNeedsPolicy = "inherit"
)

// ParseCommitNeedsPolicy validates a policy name; "" selects CommitNeedsAuto.
func ParseCommitNeedsPolicy(s string) (CommitNeedsPolicy, error) {
	switch CommitNeedsPolicy(s) {
	case "", CommitNeedsAuto:
		return CommitNeedsAuto, nil
	case CommitNeedsNone:
		return CommitNeedsNone, nil
	case CommitNeedsInherit:
		return CommitNeedsInherit, nil
	}
	return "", fmt.Errorf("unknown %s policy %q: use %q, %q or %q",
		SettingSynthesizedCommitNeeds, s, CommitNeedsAuto, CommitNeedsNone, CommitNeedsInherit)
}

// SynthesizeCommit returns a copy of cfg with an implicit git_commit step
// when the pipeline tags without committing. The synthesized step sits
// immediately before the first git_tag step in declaration order and every
// git_tag step needs it. The second return value is the synthesized id, or
// "" when nothing was added. cfg itself is never modified.
func SynthesizeCommit(cfg PipelineConfig, policy CommitNeedsPolicy) (PipelineConfig, string) {
	out := cfg.Clone()
	if !out.HasType(StepTypeGitTag) || out.HasType(StepTypeGitCommit) {
		return out, ""
	}

	taken := make(map[string]bool, len(out.Steps))
	for _, s := range out.Steps {
		taken[s.ID] = true
	}
	id := SynthesizedCommitID
	for n := 2; taken[id]; n++ {
		id = fmt.Sprintf("%s-%d", SynthesizedCommitID, n)
	}

	commit := StepDefinition{
		ID:     id,
		Type:   StepTypeGitCommit,
		Label:  "Commit release changes",
		Needs:  []string{},
		Config: map[string]any{"message": out.SettingString(SettingCommitMessage, DefaultCommitMessage)},
	}

	firstTag := -1
	inherited := map[string]bool{}
	for i := range out.Steps {
		s := &out.Steps[i]
		if s.Type != StepTypeGitTag {
			continue
		}
		if firstTag < 0 {
			firstTag = i
		}
		for _, n := range s.Needs {
			inherited[n] = true
		}
		if !slices.Contains(s.Needs, id) {
			s.Needs = append(s.Needs, id)
		}
	}

	if policy == CommitNeedsAuto && tagsFollowBump(out.Steps) {
		policy = CommitNeedsInherit
	}
	if policy == CommitNeedsInherit {
		for n := range inherited {
			commit.Needs = append(commit.Needs, n)
		}
		sort.Strings(commit.Needs)
	}

	out.Steps = slices.Insert(out.Steps, firstTag, commit)
	return out, id
}

// tagsFollowBump reports whether any git_tag step reaches a version_bump
// step through its needs.
func tagsFollowBump(steps []StepDefinition) bool {
	byID := make(map[string]StepDefinition, len(steps))
	for _, s := range steps {
		byID[s.ID] = s
	}
	seen := map[string]bool{}
	var reaches func(id string) bool
	reaches = func(id string) bool {
		if seen[id] {
			return false
		}
		seen[id] = true
		s, ok := byID[id]
		if !ok {
			return false
		}
		if s.Type == StepTypeVersionBump {
			return true
		}
		for _, n := range s.Needs {
			if reaches(n) {
				return true
			}
		}
		return false
	}
	for _, s := range steps {
		if s.Type != StepTypeGitTag {
			continue
		}
		for _, n := range s.Needs {
			if reaches(n) {
				return true
			}
		}
	}
	return false
}

// ExcludeTypes returns a copy of cfg without steps of the given types.
// Dependents of a removed step inherit its needs so the remaining graph
// keeps the same ordering constraints. The ids of removed steps are
// returned in declaration order.
func ExcludeTypes(cfg PipelineConfig, types ...StepType) (PipelineConfig, []string) {
	out := cfg.Clone()
	if len(types) == 0 {
		return out, nil
	}

	removed := map[string][]string{}
	var removedIDs []string
	kept := out.Steps[:0]
	for _, s := range out.Steps {
		if slices.Contains(types, s.Type) {
			removed[s.ID] = s.Needs
			removedIDs = append(removedIDs, s.ID)
			continue
		}
		kept = append(kept, s)
	}
	out.Steps = kept
	if len(removed) == 0 {
		return out, nil
	}

	for i := range out.Steps {
		out.Steps[i].Needs = replaceRemoved(out.Steps[i].Needs, removed, map[string]bool{})
	}
	return out, removedIDs
}

// replaceRemoved expands needs that point at removed steps into the removed
// steps' own needs, transitively.
func replaceRemoved(needs []string, removed map[string][]string, seen map[string]bool) []string {
	out := []string{}
	for _, n := range needs {
		inner, gone := removed[n]
		if !gone {
			if !slices.Contains(out, n) {
				out = append(out, n)
			}
			continue
		}
		if seen[n] {
			continue
		}
		seen[n] = true
		for _, e := range replaceRemoved(inner, removed, seen) {
			if !slices.Contains(out, e) {
				out = append(out, e)
			}
		}
	}
	return out
}
