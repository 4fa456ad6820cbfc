package release

import (
	"fmt"
	"slices"
)

// ExecutionPlan is the validated, topologically ordered form of a
// PipelineConfig. It is derived fresh on every invocation.
type ExecutionPlan struct {
	Enabled  bool             `json:"enabled"`
	Steps    []StepDefinition `json:"steps"`
	Warnings []string         `json:"warnings"`
	Hints    []string         `json:"hints"`
}

// StepIDs returns the plan's step ids in execution order.
func (p *ExecutionPlan) StepIDs() []string {
	ids := make([]string, len(p.Steps))
	for i, s := range p.Steps {
		ids[i] = s.ID
	}
	return ids
}

// HasType reports whether any planned step has one of the given types.
func (p *ExecutionPlan) HasType(types ...StepType) bool {
	for _, s := range p.Steps {
		if slices.Contains(types, s.Type) {
			return true
		}
	}
	return false
}

// Advisor inspects a validated, ordered step list and returns advisory
// warnings. Advisors must not have side effects.
type Advisor interface {
	Advise(steps []StepDefinition) []string
}

// AdvisorFunc adapts a function to the Advisor interface.
type AdvisorFunc func(steps []StepDefinition) []string

func (f AdvisorFunc) Advise(steps []StepDefinition) []string { return f(steps) }

// Planner turns a PipelineConfig into an ExecutionPlan. The zero value is
// ready to use.
type Planner struct {
	// Advisors contribute warnings after the graph has been validated.
	Advisors []Advisor
	// Exclude removes steps of these types before synthesis (--no-tag,
	// --no-push).
	Exclude []StepType
}

// Plan validates cfg and produces an ExecutionPlan. It has no side effects
// and returns structurally identical plans for identical input.
//
// Errors are *PlanError for id/needs problems and *CycleError for cycles.
func (pl *Planner) Plan(cfg PipelineConfig) (*ExecutionPlan, error) {
	policy, err := ParseCommitNeedsPolicy(cfg.SettingString(SettingSynthesizedCommitNeeds, ""))
	if err != nil {
		return nil, &PlanError{Issues: []Issue{{Kind: IssueInvalidValue, Message: err.Error()}}}
	}

	// Reject duplicates on the declared steps before any transform so the
	// error refers to what the user wrote.
	if err := ValidateErr(declaredOnly(cfg.Steps)); err != nil {
		return nil, err
	}

	var hints []string
	working, removed := ExcludeTypes(cfg, pl.Exclude...)
	for _, id := range removed {
		hints = append(hints, fmt.Sprintf("step %q excluded by command-line option", id))
	}

	working, synthesized := SynthesizeCommit(working, policy)
	if synthesized != "" {
		hints = append(hints, fmt.Sprintf(
			"no git_commit step declared; synthesized %q before git_tag", synthesized))
	}

	if err := ValidateErr(working.Steps); err != nil {
		return nil, err
	}
	if cyc := detectCycle(working.Steps); cyc != nil {
		return nil, cyc
	}

	ordered := topoSort(working.Steps)
	for i := range ordered {
		ordered[i].Needs = ordered[i].normalizedNeeds()
	}

	hints = append(hints, unorderedGitHints(ordered)...)

	warnings := []string{}
	if !cfg.Enabled {
		warnings = append(warnings, "release pipeline is disabled")
	}
	for _, a := range pl.Advisors {
		warnings = append(warnings, a.Advise(cloneSteps(ordered))...)
	}
	if hints == nil {
		hints = []string{}
	}

	return &ExecutionPlan{
		Enabled:  cfg.Enabled,
		Steps:    ordered,
		Warnings: warnings,
		Hints:    hints,
	}, nil
}

// declaredOnly hides needs from Validate so only id problems are reported
// in the first pass; needs are checked after synthesis.
func declaredOnly(steps []StepDefinition) []StepDefinition {
	out := make([]StepDefinition, len(steps))
	for i, s := range steps {
		out[i] = StepDefinition{ID: s.ID, Type: s.Type}
	}
	return out
}

func cloneSteps(steps []StepDefinition) []StepDefinition {
	out := make([]StepDefinition, len(steps))
	for i, s := range steps {
		out[i] = s.Clone()
	}
	return out
}

// topoSort is Kahn's algorithm where, among ready steps, the one declared
// first always wins. The input must be acyclic with resolved needs.
func topoSort(steps []StepDefinition) []StepDefinition {
	index := make(map[string]int, len(steps))
	for i, s := range steps {
		index[s.ID] = i
	}
	inDegree := make([]int, len(steps))
	dependents := make([][]int, len(steps))
	for i, s := range steps {
		for _, n := range s.normalizedNeeds() {
			inDegree[i]++
			dependents[index[n]] = append(dependents[index[n]], i)
		}
	}

	var ready []int
	for i, d := range inDegree {
		if d == 0 {
			ready = append(ready, i)
		}
	}

	out := make([]StepDefinition, 0, len(steps))
	for len(ready) > 0 {
		slices.Sort(ready)
		next := ready[0]
		ready = ready[1:]
		out = append(out, steps[next].Clone())
		for _, d := range dependents[next] {
			inDegree[d]--
			if inDegree[d] == 0 {
				ready = append(ready, d)
			}
		}
	}
	return out
}

// ancestors returns, for each step, the set of step ids it transitively
// needs. Steps must be in topological order.
func ancestors(ordered []StepDefinition) map[string]map[string]bool {
	out := make(map[string]map[string]bool, len(ordered))
	for _, s := range ordered {
		set := map[string]bool{}
		for _, n := range s.Needs {
			set[n] = true
			for a := range out[n] {
				set[a] = true
			}
		}
		out[s.ID] = set
	}
	return out
}

// unorderedGitHints flags pairs of git-mutating steps that may run
// concurrently because neither needs the other.
func unorderedGitHints(ordered []StepDefinition) []string {
	anc := ancestors(ordered)
	var mutating []StepDefinition
	for _, s := range ordered {
		if s.Type.mutatesGit() {
			mutating = append(mutating, s)
		}
	}
	var hints []string
	for i := 0; i < len(mutating); i++ {
		for j := i + 1; j < len(mutating); j++ {
			a, b := mutating[i], mutating[j]
			if anc[a.ID][b.ID] || anc[b.ID][a.ID] {
				continue
			}
			hints = append(hints, fmt.Sprintf(
				"steps %q (%s) and %q (%s) both modify the git working tree but are not ordered by needs; they may run concurrently",
				a.ID, a.Type, b.ID, b.Type))
		}
	}
	return hints
}
