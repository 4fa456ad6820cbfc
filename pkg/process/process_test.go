package process_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ravi-parthasarathy/keel/pkg/process"
)

func TestShellCapturesStdout(t *testing.T) {
	t.Parallel()
	res, err := process.Shell(t.Context(), "echo hello", "", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := strings.TrimSpace(res.Stdout); got != "hello" {
		t.Errorf("stdout = %q, want %q", got, "hello")
	}
	if !res.Success() {
		t.Errorf("exit code = %d, want 0", res.ExitCode)
	}
}

func TestShellCapturesStderrAndExitCode(t *testing.T) {
	t.Parallel()
	res, err := process.Shell(t.Context(), "echo broken >&2; exit 42", "", 0)
	if err == nil {
		t.Fatal("expected error for non-zero exit")
	}
	var exitErr *process.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("error = %T, want *process.ExitError", err)
	}
	if res.ExitCode != 42 {
		t.Errorf("exit code = %d, want 42", res.ExitCode)
	}
	if got := res.FirstErrorLine(); got != "broken" {
		t.Errorf("first error line = %q, want %q", got, "broken")
	}
	if !strings.Contains(err.Error(), "broken") {
		t.Errorf("error %q should include stderr", err)
	}
}

func TestShellTimeout(t *testing.T) {
	t.Parallel()
	res, err := process.Shell(t.Context(), "sleep 10", "", 50*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if res.ExitCode != -1 {
		t.Errorf("exit code = %d, want -1", res.ExitCode)
	}
}

func TestRunStdinAndEnv(t *testing.T) {
	t.Parallel()
	res, err := process.Run(t.Context(), process.Command{
		Name:  "/bin/sh",
		Args:  []string{"-c", `read line; echo "$line-$KEEL_TEST"`},
		Env:   []string{"KEEL_TEST=ok"},
		Stdin: strings.NewReader("input\n"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := strings.TrimSpace(res.Stdout); got != "input-ok" {
		t.Errorf("stdout = %q, want %q", got, "input-ok")
	}
}

func TestRunMissingBinary(t *testing.T) {
	t.Parallel()
	_, err := process.Run(t.Context(), process.Command{Name: "keel-no-such-binary"})
	if err == nil {
		t.Fatal("expected error for missing binary")
	}
}

func TestRunRequiresName(t *testing.T) {
	t.Parallel()
	if _, err := process.Run(t.Context(), process.Command{}); err == nil {
		t.Fatal("expected error for empty command name")
	}
}
