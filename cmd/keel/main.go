package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ravi-parthasarathy/keel/pkg/config"
	"github.com/ravi-parthasarathy/keel/pkg/extension"
	"github.com/ravi-parthasarathy/keel/pkg/git"
	"github.com/ravi-parthasarathy/keel/pkg/release"
	"github.com/ravi-parthasarathy/keel/pkg/release/handlers"
	"github.com/ravi-parthasarathy/keel/pkg/version"
)

// Exit codes.
const (
	exitOK      = 0
	exitFailed  = 1 // the release ran but did not fully succeed
	exitInvalid = 2 // usage, planning or pre-flight error
)

func main() {
	os.Exit(execute(newApp(os.Stdout, os.Stderr), os.Args[1:]))
}

// app carries the collaborators the commands use; tests replace them with
// recording fakes.
type app struct {
	stdout io.Writer
	stderr io.Writer

	git      handlers.Git
	versions handlers.Versioner
	builds   handlers.Builder
	invoker  handlers.ActionInvoker
	workTree func(dir string) release.WorkTree
	history  func(dir string) version.History
	newRunID func() string

	searchPaths []string
	flags       globalFlags
	cfg         *config.Config
}

type globalFlags struct {
	configFile    string
	componentsDir string
	extensionsDir string
	logLevel      string
	logFormat     string
	output        string
}

func newApp(stdout, stderr io.Writer) *app {
	return &app{
		stdout:      stdout,
		stderr:      stderr,
		git:         git.Client{},
		versions:    &version.Manager{},
		builds:      handlers.ShellBuilder{},
		invoker:     &extension.Invoker{},
		workTree:    func(dir string) release.WorkTree { return git.NewRepository(dir) },
		history:     func(dir string) version.History { return git.NewRepository(dir) },
		searchPaths: config.SearchPaths(),
	}
}

func rootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "keel",
		Short: "Local-first release orchestration",
		Long: `keel releases versioned components from your machine.

A component's release pipeline is a list of steps (build, version_bump,
git_commit, git_tag, git_push, or any action provided by an installed
extension) connected by "needs". keel validates the pipeline, runs
independent steps concurrently and reports every step's outcome as JSON.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.flags.configFile, "config", "", "config file (default ./keel.yaml, then ~/.config/keel/keel.yaml)")
	pf.StringVar(&a.flags.componentsDir, "components-dir", "", "directory holding component definitions")
	pf.StringVar(&a.flags.extensionsDir, "extensions-dir", "", "directory holding installed extensions")
	pf.StringVar(&a.flags.logLevel, "log-level", "", "log level: debug, info, warn or error")
	pf.StringVar(&a.flags.logFormat, "log-format", "", "log format: text or json")
	pf.StringVar(&a.flags.output, "output", "", "also write the JSON result to this file")

	root.AddCommand(releaseCmd(a))
	root.AddCommand(componentCmd(a))
	root.AddCommand(extensionCmd(a))
	return root
}

// init loads the configuration, applies flag overrides and configures
// logging.
func (a *app) init(cmd *cobra.Command) error {
	cfg, err := config.Load(a.flags.configFile, a.searchPaths)
	if err != nil {
		return usageErr(err)
	}
	flags := cmd.Flags()
	if flags.Changed("components-dir") {
		cfg.ComponentsDir = a.flags.componentsDir
	}
	if flags.Changed("extensions-dir") {
		cfg.ExtensionsDir = a.flags.extensionsDir
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = a.flags.logLevel
	}
	if flags.Changed("log-format") {
		cfg.LogFormat = a.flags.logFormat
	}
	if err := initLogger(cfg.LogLevel, cfg.LogFormat); err != nil {
		return usageErr(err)
	}
	if cfg.File != "" {
		slog.Debug("loaded config", "file", cfg.File)
	}
	a.cfg = cfg
	return nil
}

// execute runs the command line and returns the process exit code. Every
// failure is reported as a {command, error} envelope on stdout.
func execute(a *app, args []string) int {
	root := rootCmd(a)
	root.SetArgs(args)
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	cmd, err := root.ExecuteC()
	if err == nil {
		return exitOK
	}

	var ee *exitError
	if !errors.As(err, &ee) {
		ee = &exitError{code: exitInvalid, err: err}
	}
	if !ee.reported {
		if emitErr := a.emit(envelope{Command: commandName(cmd), Error: ee.err.Error()}); emitErr != nil {
			fmt.Fprintf(a.stderr, "error: %v\n", emitErr)
		}
	}
	fmt.Fprintf(a.stderr, "error: %v\n", ee.err)
	return ee.code
}

// commandName returns the top-level command below root, e.g. "release" for
// "keel release run".
func commandName(cmd *cobra.Command) string {
	if cmd == nil {
		return "keel"
	}
	for cmd.HasParent() && cmd.Parent().HasParent() {
		cmd = cmd.Parent()
	}
	return cmd.Name()
}

// ─── errors ───────────────────────────────────────────────────────────────────

// exitError carries the exit code for a failed command. reported means the
// result envelope was already written.
type exitError struct {
	code     int
	err      error
	reported bool
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func usageErr(err error) error { return &exitError{code: exitInvalid, err: err} }

// ─── output ───────────────────────────────────────────────────────────────────

type envelope struct {
	Command string `json:"command"`
	Result  any    `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}

// emit writes env to stdout and, when --output is set, to that file.
func (a *app) emit(env envelope) error {
	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	data = append(data, '\n')
	if _, err := a.stdout.Write(data); err != nil {
		return err
	}
	return writeOutputFile(a.flags.output, data)
}

// writeOutputFile writes data to path. An empty path is a no-op.
func writeOutputFile(path string, data []byte) error {
	if path == "" {
		return nil
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write output file: %w", err)
	}
	return nil
}

// initLogger configures the default slog logger on stderr.
func initLogger(level, format string) error {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "info", "":
		lvl = slog.LevelInfo
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return fmt.Errorf("unknown log level %q: use debug, info, warn or error", level)
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var h slog.Handler
	switch strings.ToLower(format) {
	case "text", "":
		h = slog.NewTextHandler(os.Stderr, opts)
	case "json":
		h = slog.NewJSONHandler(os.Stderr, opts)
	default:
		return fmt.Errorf("unknown log format %q: use text or json", format)
	}
	slog.SetDefault(slog.New(h))
	return nil
}

// signalContext returns a context that is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(ch)
		select {
		case <-ch:
			fmt.Fprintln(os.Stderr, "\n[keel] interrupted, steps not yet started will not run")
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
