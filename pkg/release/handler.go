package release

import "context"

// Outcome is what a handler reports back. ExitCode is nil for handlers that
// do not run a process.
type Outcome struct {
	Stdout   string
	Stderr   string
	ExitCode *int
}

// ExitCodeOf returns a pointer to code, for filling Outcome.ExitCode.
func ExitCodeOf(code int) *int { return &code }

// Handler executes one step. A non-nil error or a non-zero exit code marks
// the step failed. Handlers should be idempotent: a re-run after a partial
// success invokes them again.
type Handler interface {
	Run(ctx context.Context, in StepInput) (Outcome, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, in StepInput) (Outcome, error)

func (f HandlerFunc) Run(ctx context.Context, in StepInput) (Outcome, error) { return f(ctx, in) }

// RefKind tells how a step type was resolved.
type RefKind string

const (
	RefBuiltin  RefKind = "builtin"
	RefExternal RefKind = "external"
	RefMissing  RefKind = "missing"
)

// HandlerRef is the result of resolving a step type. Handler is nil when
// Kind is RefMissing.
type HandlerRef struct {
	Kind    RefKind
	Handler Handler
	// Action and Extension are set for RefExternal.
	Action    string
	Extension string
}

// Source names the provider of the handler for reporting.
func (r HandlerRef) Source() string {
	switch r.Kind {
	case RefBuiltin:
		return string(RefBuiltin)
	case RefExternal:
		return r.Extension
	}
	return ""
}

// Missing is the HandlerRef for an unresolvable step type.
var Missing = HandlerRef{Kind: RefMissing}

// Resolver maps step types to handlers. It is consulted at run time for
// every dispatched step, never at plan time.
type Resolver interface {
	Resolve(stepType StepType) HandlerRef
}

// ExtensionActionName is the extension action a non-built-in step type
// resolves to.
func ExtensionActionName(t StepType) string {
	return "release." + string(t)
}
