package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ravi-parthasarathy/keel/pkg/extension"
	"github.com/ravi-parthasarathy/keel/pkg/release"
)

// ExtensionHandler runs a step through an extension action. The action
// receives the StepInput as JSON on stdin and the step identity in KEEL_*
// environment variables.
type ExtensionHandler struct {
	Ref     extension.ActionRef
	Invoker ActionInvoker
}

func (h *ExtensionHandler) Run(ctx context.Context, in release.StepInput) (release.Outcome, error) {
	input, err := json.Marshal(in)
	if err != nil {
		return release.Outcome{}, fmt.Errorf("encode step input: %w", err)
	}
	env := []string{
		"KEEL_STEP_ID=" + in.Step.ID,
		"KEEL_STEP_TYPE=" + string(in.Step.Type),
		"KEEL_ACTION=" + h.Ref.Action.ID,
		"KEEL_EXTENSION_ID=" + h.Ref.Extension.ID,
		"KEEL_COMPONENT_ID=" + in.Release.ComponentID,
		"KEEL_LOCAL_PATH=" + in.Release.LocalPath,
		"KEEL_VERSION=" + in.Release.Version,
		"KEEL_TAG=" + in.Release.Tag,
	}
	return outcome(h.Invoker.Invoke(ctx, h.Ref, input, env))
}
