// Package git provides typed access to the git CLI for the release steps.
// All commands target a specific working tree via the -C flag, which every
// Repository method injects.
package git

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ravi-parthasarathy/keel/pkg/process"
)

// Repository represents a git working tree at a specific directory. There
// is no default directory: callers must always say which tree they mean.
type Repository struct {
	dir string
}

// NewRepository returns a Repository targeting the given directory.
func NewRepository(dir string) *Repository {
	return &Repository{dir: dir}
}

// Dir returns the repository directory.
func (r *Repository) Dir() string {
	return r.dir
}

// Run executes a git command targeting this repository. The Result is
// returned even when git exits non-zero; the error then carries stderr.
func (r *Repository) Run(ctx context.Context, args ...string) (*process.Result, error) {
	fullArgs := append([]string{"-C", r.dir}, args...)
	res, err := process.Run(ctx, process.Command{Name: "git", Args: fullArgs})
	if err != nil {
		return res, fmt.Errorf("git %s in %s: %w", strings.Join(args, " "), r.dir, err)
	}
	return res, nil
}

// output runs a command and returns trimmed stdout.
func (r *Repository) output(ctx context.Context, args ...string) (string, error) {
	res, err := r.Run(ctx, args...)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(res.Stdout), nil
}

// Prefix returns the path of the repository directory relative to the
// top of the work tree ("" at the top level).
func (r *Repository) Prefix(ctx context.Context) (string, error) {
	return r.output(ctx, "rev-parse", "--show-prefix")
}

// ChangedFiles lists paths with uncommitted changes (staged, unstaged or
// untracked), relative to the repository directory. Changes elsewhere in
// the work tree are reported with a leading "../".
func (r *Repository) ChangedFiles(ctx context.Context) ([]string, error) {
	prefix, err := r.Prefix(ctx)
	if err != nil {
		return nil, err
	}
	res, err := r.Run(ctx, "status", "--porcelain", "--untracked-files=all")
	if err != nil {
		return nil, err
	}
	var out []string
	for _, line := range strings.Split(res.Stdout, "\n") {
		if len(line) < 4 {
			continue
		}
		path := line[3:]
		// Renames are reported as "old -> new".
		if i := strings.Index(path, " -> "); i >= 0 {
			path = path[i+4:]
		}
		path = strings.Trim(path, `"`)
		if prefix != "" {
			if rel, err := filepath.Rel(filepath.FromSlash(prefix), filepath.FromSlash(path)); err == nil {
				path = filepath.ToSlash(rel)
			}
		}
		out = append(out, path)
	}
	return out, nil
}

// Commit stages files (everything when files is empty) and commits them.
// A tree with nothing to commit is not an error: the returned Result says
// so on stdout.
func (r *Repository) Commit(ctx context.Context, message string, files []string) (*process.Result, error) {
	if message == "" {
		return nil, errors.New("git commit: message must not be empty")
	}
	addArgs := []string{"add", "-A"}
	if len(files) > 0 {
		addArgs = append([]string{"add", "--"}, files...)
	}
	if res, err := r.Run(ctx, addArgs...); err != nil {
		return res, err
	}

	// diff --cached --quiet exits 1 when something is staged.
	if res, err := r.Run(ctx, "diff", "--cached", "--quiet"); err == nil {
		res.Stdout = "nothing to commit, working tree clean\n"
		return res, nil
	} else if !isExitCode(err, 1) {
		return res, err
	}
	return r.Run(ctx, "commit", "-m", message)
}

// TagExists reports whether a tag with the given name exists.
func (r *Repository) TagExists(ctx context.Context, name string) (bool, error) {
	out, err := r.output(ctx, "tag", "--list", name)
	if err != nil {
		return false, err
	}
	return out == name, nil
}

// HeadCommit returns the full SHA of HEAD.
func (r *Repository) HeadCommit(ctx context.Context) (string, error) {
	return r.output(ctx, "rev-parse", "HEAD")
}

// TagAtHead reports whether tag name exists and, if so, whether it points
// at HEAD.
func (r *Repository) TagAtHead(ctx context.Context, name string) (exists, atHead bool, err error) {
	if exists, err = r.TagExists(ctx, name); err != nil || !exists {
		return exists, false, err
	}
	head, err := r.HeadCommit(ctx)
	if err != nil {
		return true, false, err
	}
	target, err := r.output(ctx, "rev-list", "-n", "1", name)
	if err != nil {
		return true, false, err
	}
	return true, target == head, nil
}

// FileAtHead returns the committed contents of path, relative to the
// repository directory.
func (r *Repository) FileAtHead(ctx context.Context, path string) ([]byte, error) {
	res, err := r.Run(ctx, "show", "HEAD:./"+filepath.ToSlash(path))
	if err != nil {
		return nil, err
	}
	return []byte(res.Stdout), nil
}

// Tag creates an annotated tag (lightweight when message is empty) at HEAD.
// An existing tag already pointing at HEAD is reported as success; one
// pointing elsewhere is an error.
func (r *Repository) Tag(ctx context.Context, name, message string) (*process.Result, error) {
	if name == "" {
		return nil, errors.New("git tag: name must not be empty")
	}
	exists, atHead, err := r.TagAtHead(ctx, name)
	if err != nil {
		return nil, err
	}
	if exists {
		if !atHead {
			target, _ := r.output(ctx, "rev-list", "-n", "1", name)
			head, _ := r.HeadCommit(ctx)
			return nil, fmt.Errorf("git tag: %s already exists at %s, not at HEAD %s", name, short(target), short(head))
		}
		return &process.Result{Stdout: fmt.Sprintf("tag %s already points at HEAD\n", name)}, nil
	}

	args := []string{"tag", name}
	if message != "" {
		args = []string{"tag", "-a", name, "-m", message}
	}
	return r.Run(ctx, args...)
}

// Push pushes the current branch to its upstream and then, optionally, all
// tags. Lightweight tags are not covered by --follow-tags, hence the second
// push.
func (r *Repository) Push(ctx context.Context, includeTags bool) (*process.Result, error) {
	res, err := r.Run(ctx, "push")
	if err != nil || !includeTags {
		return res, err
	}
	tags, err := r.Run(ctx, "push", "--tags")
	if tags != nil {
		tags.Stdout = res.Stdout + tags.Stdout
		tags.Stderr = res.Stderr + tags.Stderr
	}
	return tags, err
}

func isExitCode(err error, code int) bool {
	var exitErr *process.ExitError
	return errors.As(err, &exitErr) && exitErr.ExitCode == code
}

func short(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}

// Client adapts Repository to path-addressed calls, one repository per
// component local path.
type Client struct{}

func (Client) Commit(ctx context.Context, path, message string, files []string) (*process.Result, error) {
	return NewRepository(path).Commit(ctx, message, files)
}

func (Client) Tag(ctx context.Context, path, name, message string) (*process.Result, error) {
	return NewRepository(path).Tag(ctx, name, message)
}

func (Client) Push(ctx context.Context, path string, includeTags bool) (*process.Result, error) {
	return NewRepository(path).Push(ctx, includeTags)
}
