package extension

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ravi-parthasarathy/keel/pkg/process"
)

// structuredResult is the optional JSON an action may print on stdout to
// report its outcome explicitly.
type structuredResult struct {
	Stdout   *string `json:"stdout"`
	Stderr   *string `json:"stderr"`
	ExitCode *int    `json:"exit_code"`
}

// Invoker runs extension actions as subprocesses.
type Invoker struct {
	// Env is added to every invocation, after the per-call env.
	Env []string
}

// Invoke runs ref with input on stdin, in the extension's directory. A
// command containing a path separator is resolved relative to that
// directory, anything else through PATH.
//
// A non-zero exit is reported through Result.ExitCode, not the error; the
// error is reserved for actions that could not be run or were killed.
// When stdout is a JSON object with an "exit_code" field, its stdout,
// stderr and exit_code replace the raw capture.
func (iv *Invoker) Invoke(ctx context.Context, ref ActionRef, input []byte, env []string) (*process.Result, error) {
	timeout, err := ref.Action.TimeoutDuration()
	if err != nil {
		return nil, err
	}

	name := ref.Action.Command
	if strings.ContainsRune(name, filepath.Separator) && !filepath.IsAbs(name) {
		name = filepath.Join(ref.Extension.Dir, name)
	}

	res, err := process.Run(ctx, process.Command{
		Name:    name,
		Args:    ref.Action.Args,
		Dir:     ref.Extension.Dir,
		Env:     append(append([]string{}, env...), iv.Env...),
		Stdin:   bytes.NewReader(input),
		Timeout: timeout,
	})
	var exitErr *process.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return res, fmt.Errorf("extension %s: %w", ref.Name(), err)
	}

	applyStructured(res)
	return res, nil
}

func applyStructured(res *process.Result) {
	trimmed := strings.TrimSpace(res.Stdout)
	if !strings.HasPrefix(trimmed, "{") {
		return
	}
	var sr structuredResult
	if err := json.Unmarshal([]byte(trimmed), &sr); err != nil || sr.ExitCode == nil {
		return
	}
	res.ExitCode = *sr.ExitCode
	res.Stdout = ""
	if sr.Stdout != nil {
		res.Stdout = *sr.Stdout
	}
	if sr.Stderr != nil {
		res.Stderr = *sr.Stderr
	}
}
