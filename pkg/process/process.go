// Package process runs external commands and captures their output.
// Every collaborator that shells out (git, builds, extension actions) goes
// through Run so that stdout, stderr and exit codes are captured the same way.
package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"
)

// defaultWaitDelay bounds how long Run waits for output pipes to close after
// the process has been killed by a context.
const defaultWaitDelay = 5 * time.Second

// Command configures a subprocess to execute.
type Command struct {
	// Name is the executable path or name (resolved via PATH).
	Name string
	// Args are the command-line arguments.
	Args []string
	// Dir is the working directory. Empty means the current directory.
	Dir string
	// Env is additional KEY=value pairs merged over os.Environ.
	Env []string
	// Stdin provides input to the process. May be nil.
	Stdin io.Reader
	// Timeout kills the process after the given duration. Zero means no
	// timeout is imposed here; the caller's context still applies.
	Timeout time.Duration
}

// Result holds the output and status of a completed subprocess.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Success reports whether the process exited with code 0.
func (r *Result) Success() bool { return r != nil && r.ExitCode == 0 }

// FirstErrorLine returns the first non-empty line of stderr, or "".
func (r *Result) FirstErrorLine() string {
	if r == nil {
		return ""
	}
	return strings.SplitN(strings.TrimSpace(r.Stderr), "\n", 2)[0]
}

// ExitError is returned when a process ran to completion with a non-zero
// exit code. The captured Result is always returned alongside it.
type ExitError struct {
	Name     string
	ExitCode int
	Stderr   string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s exited with code %d", e.Name, e.ExitCode)
	if line := strings.SplitN(strings.TrimSpace(e.Stderr), "\n", 2)[0]; line != "" {
		msg += ": " + line
	}
	return msg
}

// Run executes cmd and waits for it to finish. A non-nil Result is returned
// whenever the process was started, even if it failed.
func Run(ctx context.Context, cmd Command) (*Result, error) {
	if cmd.Name == "" {
		return nil, errors.New("process: command name is required")
	}

	runCtx := ctx
	if cmd.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	c := exec.CommandContext(runCtx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir
	c.Env = mergeEnv(cmd.Env)
	c.Stdin = cmd.Stdin
	c.WaitDelay = defaultWaitDelay

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	start := time.Now()
	runErr := c.Run()
	res := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: 0,
		Duration: time.Since(start),
	}
	if runErr == nil {
		return res, nil
	}

	var exitErr *exec.ExitError
	switch {
	case runCtx.Err() != nil:
		res.ExitCode = -1
		return res, fmt.Errorf("process: %s killed: %w", cmd.Name, runCtx.Err())
	case errors.As(runErr, &exitErr):
		res.ExitCode = exitErr.ExitCode()
		return res, &ExitError{Name: cmd.Name, ExitCode: res.ExitCode, Stderr: res.Stderr}
	default:
		// The process never started (binary not found, bad dir).
		res.ExitCode = -1
		return res, fmt.Errorf("process: %s: %w", cmd.Name, runErr)
	}
}

// Shell runs a command line through /bin/sh -c.
func Shell(ctx context.Context, line, dir string, timeout time.Duration, env ...string) (*Result, error) {
	return Run(ctx, Command{
		Name:    "/bin/sh",
		Args:    []string{"-c", line},
		Dir:     dir,
		Env:     env,
		Timeout: timeout,
	})
}

// mergeEnv merges additional env vars with the current environment.
func mergeEnv(extra []string) []string {
	if len(extra) == 0 {
		return nil // inherit parent env
	}
	return append(os.Environ(), extra...)
}
