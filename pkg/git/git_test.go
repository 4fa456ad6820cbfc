package git

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

func gitIdentity(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	t.Setenv("GIT_AUTHOR_NAME", "Test")
	t.Setenv("GIT_AUTHOR_EMAIL", "test@test.local")
	t.Setenv("GIT_COMMITTER_NAME", "Test")
	t.Setenv("GIT_COMMITTER_EMAIL", "test@test.local")
	t.Setenv("GIT_CONFIG_GLOBAL", "/dev/null")
}

func runGit(t *testing.T, dir string, args ...string) {
	t.Helper()
	command := exec.Command("git", append([]string{"-C", dir}, args...)...)
	if output, err := command.CombinedOutput(); err != nil {
		t.Fatalf("git %s: %v\n%s", strings.Join(args, " "), err, output)
	}
}

// initRepo creates a working tree with one commit and a bare remote it
// tracks.
func initRepo(t *testing.T) string {
	t.Helper()
	gitIdentity(t)

	root := t.TempDir()
	remote := filepath.Join(root, "remote.git")
	work := filepath.Join(root, "work")

	if output, err := exec.Command("git", "init", "--bare", remote).CombinedOutput(); err != nil {
		t.Fatalf("git init --bare: %v\n%s", err, output)
	}
	if output, err := exec.Command("git", "init", "-b", "main", work).CombinedOutput(); err != nil {
		t.Fatalf("git init: %v\n%s", err, output)
	}
	if err := os.WriteFile(filepath.Join(work, "VERSION"), []byte("1.0.0\n"), 0o644); err != nil {
		t.Fatalf("write VERSION: %v", err)
	}
	runGit(t, work, "add", "VERSION")
	runGit(t, work, "commit", "-m", "initial")
	runGit(t, work, "remote", "add", "origin", remote)
	runGit(t, work, "push", "-u", "origin", "main")
	return work
}

func TestChangedFiles(t *testing.T) {
	work := initRepo(t)
	repo := NewRepository(work)

	changed, err := repo.ChangedFiles(t.Context())
	if err != nil {
		t.Fatalf("ChangedFiles: %v", err)
	}
	if len(changed) != 0 {
		t.Fatalf("clean tree reported changes: %v", changed)
	}

	if err := os.WriteFile(filepath.Join(work, "VERSION"), []byte("1.0.1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(work, "src"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(work, "src", "new.go"), []byte("package src\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	changed, err = repo.ChangedFiles(t.Context())
	if err != nil {
		t.Fatalf("ChangedFiles: %v", err)
	}
	want := map[string]bool{"VERSION": true, "src/new.go": true}
	if len(changed) != len(want) {
		t.Fatalf("changed = %v, want %v", changed, want)
	}
	for _, p := range changed {
		if !want[p] {
			t.Errorf("unexpected changed path %q", p)
		}
	}
}

func TestCommitTagPush(t *testing.T) {
	work := initRepo(t)
	repo := NewRepository(work)

	// Nothing staged yet: commit is a no-op success.
	res, err := repo.Commit(t.Context(), "release: v1.0.1", nil)
	if err != nil {
		t.Fatalf("Commit on clean tree: %v", err)
	}
	if !strings.Contains(res.Stdout, "nothing to commit") {
		t.Errorf("stdout = %q, want nothing-to-commit notice", res.Stdout)
	}

	if err := os.WriteFile(filepath.Join(work, "VERSION"), []byte("1.0.1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := repo.Commit(t.Context(), "release: v1.0.1", []string{"VERSION"}); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	subject, err := repo.output(t.Context(), "log", "-1", "--format=%s")
	if err != nil {
		t.Fatal(err)
	}
	if subject != "release: v1.0.1" {
		t.Errorf("commit subject = %q", subject)
	}

	if _, err := repo.Tag(t.Context(), "v1.0.1", "Release 1.0.1"); err != nil {
		t.Fatalf("Tag: %v", err)
	}
	exists, err := repo.TagExists(t.Context(), "v1.0.1")
	if err != nil || !exists {
		t.Fatalf("TagExists = %v, %v", exists, err)
	}
	// Re-tagging the same commit is idempotent.
	res, err = repo.Tag(t.Context(), "v1.0.1", "Release 1.0.1")
	if err != nil {
		t.Fatalf("second Tag: %v", err)
	}
	if !strings.Contains(res.Stdout, "already points at HEAD") {
		t.Errorf("stdout = %q", res.Stdout)
	}

	if _, err := (Client{}).Push(t.Context(), work, true); err != nil {
		t.Fatalf("Push: %v", err)
	}
	remoteTags, err := NewRepository(filepath.Join(filepath.Dir(work), "remote.git")).output(t.Context(), "tag", "--list")
	if err != nil {
		t.Fatal(err)
	}
	if remoteTags != "v1.0.1" {
		t.Errorf("remote tags = %q, want v1.0.1", remoteTags)
	}
}

func TestTagElsewhereFails(t *testing.T) {
	work := initRepo(t)
	repo := NewRepository(work)

	if _, err := repo.Tag(t.Context(), "v1.0.0", ""); err != nil {
		t.Fatalf("Tag: %v", err)
	}
	if err := os.WriteFile(filepath.Join(work, "VERSION"), []byte("1.0.1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := repo.Commit(t.Context(), "next", nil); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if _, err := repo.Tag(t.Context(), "v1.0.0", ""); err == nil {
		t.Fatal("expected error re-tagging a different commit")
	}
}

func TestRunIncludesStderr(t *testing.T) {
	gitIdentity(t)
	repo := NewRepository(t.TempDir())
	_, err := repo.Run(t.Context(), "rev-parse", "HEAD")
	if err == nil {
		t.Fatal("expected error outside a repository")
	}
	if !strings.Contains(err.Error(), "rev-parse HEAD") {
		t.Errorf("error %q should name the command", err)
	}
}

func TestChangedFilesRelativeToSubdirectory(t *testing.T) {
	work := initRepo(t)
	sub := filepath.Join(work, "services", "api")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(sub, "VERSION"), []byte("0.1.0\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(work, "README.md"), []byte("# repo\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	changed, err := NewRepository(sub).ChangedFiles(t.Context())
	if err != nil {
		t.Fatalf("ChangedFiles: %v", err)
	}
	want := map[string]bool{"VERSION": true, "../../README.md": true}
	if len(changed) != len(want) {
		t.Fatalf("changed = %v, want %v", changed, want)
	}
	for _, p := range changed {
		if !want[p] {
			t.Errorf("unexpected changed path %q", p)
		}
	}
}

func TestTagAtHead(t *testing.T) {
	work := initRepo(t)
	repo := NewRepository(work)

	exists, atHead, err := repo.TagAtHead(t.Context(), "v1.0.0")
	if err != nil || exists || atHead {
		t.Fatalf("TagAtHead before tagging = %v, %v, %v", exists, atHead, err)
	}
	if _, err := repo.Tag(t.Context(), "v1.0.0", ""); err != nil {
		t.Fatalf("Tag: %v", err)
	}
	exists, atHead, err = repo.TagAtHead(t.Context(), "v1.0.0")
	if err != nil || !exists || !atHead {
		t.Fatalf("TagAtHead after tagging = %v, %v, %v", exists, atHead, err)
	}

	if err := os.WriteFile(filepath.Join(work, "VERSION"), []byte("1.0.1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := repo.Commit(t.Context(), "next", nil); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	exists, atHead, err = repo.TagAtHead(t.Context(), "v1.0.0")
	if err != nil || !exists || atHead {
		t.Fatalf("TagAtHead after new commit = %v, %v, %v", exists, atHead, err)
	}
}

func TestFileAtHeadIgnoresWorkingCopy(t *testing.T) {
	work := initRepo(t)
	repo := NewRepository(work)
	if err := os.WriteFile(filepath.Join(work, "VERSION"), []byte("1.0.1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	data, err := repo.FileAtHead(t.Context(), "VERSION")
	if err != nil {
		t.Fatalf("FileAtHead: %v", err)
	}
	if got := strings.TrimSpace(string(data)); got != "1.0.0" {
		t.Errorf("FileAtHead = %q, want committed 1.0.0", got)
	}
	if _, err := repo.FileAtHead(t.Context(), "missing.txt"); err == nil {
		t.Error("expected error for a file not in HEAD")
	}
}
