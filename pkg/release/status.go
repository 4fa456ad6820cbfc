package release

import "fmt"

// StepStatus is the terminal state of a single step.
type StepStatus string

const (
	StepSuccess StepStatus = "success"
	StepFailed  StepStatus = "failed"
	StepSkipped StepStatus = "skipped"
	StepMissing StepStatus = "missing"
)

// RunStatus is the aggregated state of a pipeline run.
type RunStatus string

const (
	RunSuccess        RunStatus = "success"
	RunPartialSuccess RunStatus = "partial_success"
	RunFailed         RunStatus = "failed"
	RunSkipped        RunStatus = "skipped"
	RunMissing        RunStatus = "missing"
)

// StepResult records how one step ended. It is never modified after the
// executor records it.
type StepResult struct {
	ID         string     `json:"id"`
	Type       StepType   `json:"type"`
	Status     StepStatus `json:"status"`
	Stdout     string     `json:"stdout"`
	Stderr     string     `json:"stderr"`
	ExitCode   *int       `json:"exit_code,omitempty"`
	Error      string     `json:"error,omitempty"`
	DurationMS int64      `json:"duration_ms"`
	// Source names the handler that ran the step: "builtin" or the
	// extension id. Empty for skipped and missing steps.
	Source string `json:"source,omitempty"`
}

// Summary counts step outcomes.
type Summary struct {
	TotalSteps  int      `json:"total_steps"`
	Succeeded   int      `json:"succeeded"`
	Failed      int      `json:"failed"`
	Skipped     int      `json:"skipped"`
	Missing     int      `json:"missing"`
	NextActions []string `json:"next_actions"`
}

// RunResult is the terminal report of one pipeline run.
type RunResult struct {
	RunID    string       `json:"run_id,omitempty"`
	Status   RunStatus    `json:"status"`
	Steps    []StepResult `json:"steps"`
	Summary  Summary      `json:"summary"`
	Warnings []string     `json:"warnings"`
}

// Step returns the result for id.
func (r *RunResult) Step(id string) (StepResult, bool) {
	for _, s := range r.Steps {
		if s.ID == id {
			return s, true
		}
	}
	return StepResult{}, false
}

// Finish reduces per-step results into a RunResult. results must already
// be in plan order.
func Finish(enabled bool, results []StepResult, warnings []string) *RunResult {
	sum := Summary{TotalSteps: len(results), NextActions: []string{}}
	for _, r := range results {
		switch r.Status {
		case StepSuccess:
			sum.Succeeded++
		case StepFailed:
			sum.Failed++
			sum.NextActions = append(sum.NextActions, failedAction(r))
		case StepSkipped:
			sum.Skipped++
		case StepMissing:
			sum.Missing++
			sum.NextActions = append(sum.NextActions, fmt.Sprintf(
				"step %q has no handler for type %q: install an extension providing action %q",
				r.ID, r.Type, ExtensionActionName(r.Type)))
		}
	}

	if warnings == nil {
		warnings = []string{}
	}
	if results == nil {
		results = []StepResult{}
	}
	return &RunResult{
		Status:   decideStatus(enabled, sum),
		Steps:    results,
		Summary:  sum,
		Warnings: warnings,
	}
}

// decideStatus applies the decision table; the first matching row wins.
func decideStatus(enabled bool, s Summary) RunStatus {
	switch {
	case !enabled:
		return RunSkipped
	case s.Missing > 0 && s.Succeeded == 0 && s.Failed == 0:
		return RunMissing
	case s.Failed == 0 && s.Missing == 0:
		return RunSuccess
	case s.Succeeded > 0:
		return RunPartialSuccess
	default:
		return RunFailed
	}
}

func failedAction(r StepResult) string {
	msg := fmt.Sprintf("step %q failed", r.ID)
	if r.Error != "" {
		msg += ": " + r.Error
	}
	if r.Stderr != "" {
		msg += " (see stderr)"
	}
	return msg + "; fix it and re-run the pipeline"
}
