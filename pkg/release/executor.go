package release

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Executor runs an ExecutionPlan. Steps whose needs are all successful are
// dispatched onto their own goroutine; a single coordinator loop collects
// completions and decides what becomes ready next.
type Executor struct {
	resolver Resolver
	// MaxParallel bounds the number of in-flight steps (0 = unlimited,
	// 1 = strictly sequential in plan order).
	MaxParallel int
	// Logger receives progress records. Defaults to slog.Default().
	Logger *slog.Logger
	// NewRunID generates run ids. Defaults to random UUIDs.
	NewRunID func() string
}

// NewExecutor creates an Executor that resolves handlers through r.
func NewExecutor(r Resolver) (*Executor, error) {
	if r == nil {
		return nil, errors.New("handler resolver must not be nil")
	}
	return &Executor{resolver: r}, nil
}

// Run executes every step of plan and always returns a complete report:
// one result per planned step, in plan order. A failed or missing step only
// stops its own dependents, which are recorded as skipped.
func (e *Executor) Run(ctx context.Context, plan *ExecutionPlan, payload ReleasePayload) *RunResult {
	runID := e.runID()
	log := e.logger().With("run_id", runID, "component", payload.ComponentID)

	if !plan.Enabled {
		results := make([]StepResult, len(plan.Steps))
		for i, s := range plan.Steps {
			results[i] = StepResult{ID: s.ID, Type: s.Type, Status: StepSkipped, Error: "release pipeline is disabled"}
		}
		log.Info("pipeline disabled, all steps skipped", "steps", len(results))
		res := Finish(false, results, plan.Warnings)
		res.RunID = runID
		return res
	}

	log.Info("pipeline started", "steps", len(plan.Steps), "max_parallel", e.MaxParallel)
	start := time.Now()

	byID := make(map[string]StepDefinition, len(plan.Steps))
	for _, s := range plan.Steps {
		byID[s.ID] = s
	}
	recorded := make(map[string]StepResult, len(plan.Steps))
	dispatched := make(map[string]bool, len(plan.Steps))
	done := make(chan StepResult)
	inFlight := 0

	record := func(r StepResult) {
		recorded[r.ID] = r
		log.Info("step finished", "step", r.ID, "type", r.Type, "status", r.Status, "duration_ms", r.DurationMS)
	}

	for {
		// Settle everything that can be decided without waiting: skips,
		// missing handlers and new dispatches. Skips can cascade, so loop
		// until a pass changes nothing.
		for changed := true; changed; {
			changed = false
			for _, s := range plan.Steps {
				if _, ok := recorded[s.ID]; ok || dispatched[s.ID] {
					continue
				}
				terminal, blocker := e.needsState(s, recorded)
				if !terminal {
					continue
				}
				if blocker != "" {
					record(StepResult{
						ID:     s.ID,
						Type:   s.Type,
						Status: StepSkipped,
						Error:  fmt.Sprintf("dependency %q did not succeed (%s)", blocker, recorded[blocker].Status),
					})
					changed = true
					continue
				}
				if e.MaxParallel > 0 && inFlight >= e.MaxParallel {
					continue
				}

				ref := e.resolver.Resolve(s.Type)
				if ref.Kind == RefMissing || ref.Handler == nil {
					record(StepResult{
						ID:     s.ID,
						Type:   s.Type,
						Status: StepMissing,
						Error:  fmt.Sprintf("no built-in handler and no extension action %q", ExtensionActionName(s.Type)),
					})
					changed = true
					continue
				}
				if err := ctx.Err(); err != nil {
					record(StepResult{ID: s.ID, Type: s.Type, Status: StepFailed, Error: "not started: " + err.Error()})
					changed = true
					continue
				}

				dispatched[s.ID] = true
				inFlight++
				changed = true
				log.Info("executing step", "step", s.ID, "type", s.Type, "handler", ref.Source())
				go func(step StepDefinition, ref HandlerRef) {
					done <- invoke(ctx, ref, NewStepInput(payload, step))
				}(s, ref)
			}
		}

		if inFlight == 0 {
			break
		}
		r := <-done
		inFlight--
		record(r)
	}

	results := make([]StepResult, 0, len(plan.Steps))
	for _, s := range plan.Steps {
		results = append(results, recorded[s.ID])
	}
	res := Finish(true, results, plan.Warnings)
	res.RunID = runID
	log.Info("pipeline finished",
		"status", res.Status,
		"succeeded", res.Summary.Succeeded,
		"failed", res.Summary.Failed,
		"skipped", res.Summary.Skipped,
		"missing", res.Summary.Missing,
		"duration", time.Since(start))
	return res
}

// needsState reports whether every need of s is terminal and, if so, the
// first need (in sorted order) that did not succeed.
func (e *Executor) needsState(s StepDefinition, recorded map[string]StepResult) (terminal bool, blocker string) {
	for _, n := range s.Needs {
		r, ok := recorded[n]
		if !ok {
			return false, ""
		}
		if r.Status != StepSuccess && blocker == "" {
			blocker = n
		}
	}
	return true, blocker
}

// invoke runs one handler and classifies its outcome.
func invoke(ctx context.Context, ref HandlerRef, in StepInput) (res StepResult) {
	start := time.Now()
	res = StepResult{ID: in.Step.ID, Type: in.Step.Type, Source: ref.Source()}
	defer func() {
		if p := recover(); p != nil {
			res.Status = StepFailed
			res.Error = fmt.Sprintf("handler panicked: %v", p)
		}
		res.DurationMS = time.Since(start).Milliseconds()
	}()

	out, err := ref.Handler.Run(ctx, in)
	res.Stdout = out.Stdout
	res.Stderr = out.Stderr
	res.ExitCode = out.ExitCode

	switch {
	case err != nil:
		res.Status = StepFailed
		res.Error = err.Error()
	case out.ExitCode != nil && *out.ExitCode != 0:
		res.Status = StepFailed
		res.Error = fmt.Sprintf("exited with code %d", *out.ExitCode)
	default:
		res.Status = StepSuccess
	}
	return res
}

func (e *Executor) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e *Executor) runID() string {
	if e.NewRunID != nil {
		return e.NewRunID()
	}
	return uuid.NewString()
}
