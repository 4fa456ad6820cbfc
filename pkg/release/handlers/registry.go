package handlers

import (
	"context"
	"slices"

	"github.com/ravi-parthasarathy/keel/pkg/extension"
	"github.com/ravi-parthasarathy/keel/pkg/process"
	"github.com/ravi-parthasarathy/keel/pkg/release"
)

// ActionFinder looks up extension actions by name. *extension.Catalog
// implements it.
type ActionFinder interface {
	FindAction(name string) (extension.ActionRef, bool)
}

// ActionInvoker runs an extension action. *extension.Invoker implements it.
type ActionInvoker interface {
	Invoke(ctx context.Context, ref extension.ActionRef, input []byte, env []string) (*process.Result, error)
}

// Registry maps step types to handlers.
// It implements the release.Resolver interface: registered handlers win,
// then extension actions named "release.<type>", otherwise the type is
// missing.
type Registry struct {
	handlers map[release.StepType]release.Handler
	catalog  ActionFinder
	invoker  ActionInvoker
}

// NewRegistry creates a Registry with no built-ins registered. catalog
// should already be filtered to the extensions compatible with the
// component being released; it may be nil.
func NewRegistry(catalog ActionFinder, invoker ActionInvoker) *Registry {
	return &Registry{
		handlers: make(map[release.StepType]release.Handler),
		catalog:  catalog,
		invoker:  invoker,
	}
}

// Register associates a handler with a step type.
func (r *Registry) Register(t release.StepType, h release.Handler) {
	r.handlers[t] = h
}

// Builtins returns the registered step types in sorted order.
func (r *Registry) Builtins() []release.StepType {
	out := make([]release.StepType, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

// Resolve returns how a step of type t would be handled. Built-in types
// never fall through to extensions.
func (r *Registry) Resolve(t release.StepType) release.HandlerRef {
	if h, ok := r.handlers[t]; ok {
		return release.HandlerRef{Kind: release.RefBuiltin, Handler: h}
	}
	if t.IsBuiltin() || r.catalog == nil || r.invoker == nil {
		return release.Missing
	}

	name := release.ExtensionActionName(t)
	ref, ok := r.catalog.FindAction(name)
	if !ok {
		return release.Missing
	}
	return release.HandlerRef{
		Kind:      release.RefExternal,
		Handler:   &ExtensionHandler{Ref: ref, Invoker: r.invoker},
		Action:    name,
		Extension: ref.Extension.ID,
	}
}
