package release

import (
	"fmt"
	"strings"
)

// IssueKind classifies a planning problem.
type IssueKind string

const (
	IssueEmptyID      IssueKind = "empty_id"
	IssueEmptyType    IssueKind = "empty_type"
	IssueDuplicateID  IssueKind = "duplicate_id"
	IssueUnresolved   IssueKind = "unresolved_need"
	IssueSelfNeed     IssueKind = "self_need"
	IssueInvalidValue IssueKind = "invalid_setting"
)

// Issue describes one structural problem in a pipeline.
type Issue struct {
	Kind    IssueKind `json:"kind"`
	StepID  string    `json:"step_id,omitempty"`
	Ref     string    `json:"ref,omitempty"`
	Message string    `json:"message"`
}

func (i Issue) Error() string {
	if i.StepID != "" {
		return fmt.Sprintf("step %q: %s", i.StepID, i.Message)
	}
	return i.Message
}

// PlanError collects every issue found while validating a pipeline.
type PlanError struct {
	Issues []Issue
}

func (e *PlanError) Error() string {
	msgs := make([]string, len(e.Issues))
	for i, is := range e.Issues {
		msgs[i] = is.Error()
	}
	return fmt.Sprintf("pipeline validation failed:\n  %s", strings.Join(msgs, "\n  "))
}

// CycleError reports a dependency cycle. Path starts and ends with the same
// step id.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle: %s", strings.Join(e.Path, " -> "))
}

// Steps returns the distinct step ids in the cycle.
func (e *CycleError) Steps() []string {
	if len(e.Path) < 2 {
		return e.Path
	}
	return e.Path[:len(e.Path)-1]
}

// Validate checks step ids and needs references. It returns all discovered
// issues, not just the first.
func Validate(steps []StepDefinition) []Issue {
	var issues []Issue

	seen := make(map[string]int, len(steps))
	for i, s := range steps {
		if strings.TrimSpace(s.ID) == "" {
			issues = append(issues, Issue{
				Kind:    IssueEmptyID,
				Message: fmt.Sprintf("step #%d has an empty id", i+1),
			})
			continue
		}
		if s.Type == "" {
			issues = append(issues, Issue{Kind: IssueEmptyType, StepID: s.ID, Message: "step has no type"})
		}
		if first, dup := seen[s.ID]; dup {
			issues = append(issues, Issue{
				Kind:    IssueDuplicateID,
				StepID:  s.ID,
				Message: fmt.Sprintf("duplicate step id (first declared as step #%d)", first+1),
			})
			continue
		}
		seen[s.ID] = i
	}

	for _, s := range steps {
		if s.ID == "" {
			continue
		}
		for _, n := range s.Needs {
			if n == s.ID {
				issues = append(issues, Issue{Kind: IssueSelfNeed, StepID: s.ID, Ref: n, Message: "step needs itself"})
				continue
			}
			if _, ok := seen[n]; !ok {
				issues = append(issues, Issue{
					Kind:    IssueUnresolved,
					StepID:  s.ID,
					Ref:     n,
					Message: fmt.Sprintf("needs unknown step %q", n),
				})
			}
		}
	}
	return issues
}

// ValidateErr calls Validate and returns nil if there are no issues, or a
// *PlanError listing all of them.
func ValidateErr(steps []StepDefinition) error {
	if issues := Validate(steps); len(issues) > 0 {
		return &PlanError{Issues: issues}
	}
	return nil
}

// detectCycle runs a DFS over the needs graph with an explicit recursion
// stack and returns the first cycle found. Steps are visited in declaration
// order so the reported cycle is deterministic. All needs must resolve.
func detectCycle(steps []StepDefinition) *CycleError {
	const (
		unvisited = iota
		onStack
		done
	)
	index := make(map[string]int, len(steps))
	for i, s := range steps {
		index[s.ID] = i
	}
	state := make([]int, len(steps))
	var stack []string

	var visit func(i int) *CycleError
	visit = func(i int) *CycleError {
		state[i] = onStack
		stack = append(stack, steps[i].ID)
		for _, n := range steps[i].normalizedNeeds() {
			j := index[n]
			switch state[j] {
			case onStack:
				start := 0
				for k, id := range stack {
					if id == n {
						start = k
						break
					}
				}
				path := append([]string{}, stack[start:]...)
				return &CycleError{Path: append(path, n)}
			case unvisited:
				if err := visit(j); err != nil {
					return err
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[i] = done
		return nil
	}

	for i := range steps {
		if state[i] == unvisited {
			if err := visit(i); err != nil {
				return err
			}
		}
	}
	return nil
}
