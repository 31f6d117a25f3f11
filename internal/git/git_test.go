package git

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// Helper function to create a git repo for testing
func createTestRepo(t *testing.T, dir string) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}

	run := func(args ...string) {
		t.Helper()
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %s: %v: %s", strings.Join(args, " "), err, out)
		}
	}

	run("init", "-b", "main")
	run("config", "user.email", "test@test.com")
	run("config", "user.name", "Test User")
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("# Test Repo"), 0644); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}
	run("add", ".")
	run("commit", "-m", "Initial commit")
}

func TestIsGitRepo(t *testing.T) {
	dir := t.TempDir()
	createTestRepo(t, dir)

	if !IsGitRepo(dir) {
		t.Error("expected repo to be detected")
	}
	if IsGitRepo(t.TempDir()) {
		t.Error("empty temp dir should not be a repo")
	}
}

func TestRepoRootAndBranch(t *testing.T) {
	dir := t.TempDir()
	createTestRepo(t, dir)

	sub := filepath.Join(dir, "nested")
	if err := os.Mkdir(sub, 0755); err != nil {
		t.Fatal(err)
	}

	root, err := RepoRoot(sub)
	if err != nil {
		t.Fatalf("RepoRoot: %v", err)
	}
	want, _ := filepath.EvalSymlinks(dir)
	got, _ := filepath.EvalSymlinks(root)
	if got != want {
		t.Errorf("RepoRoot = %q, want %q", got, want)
	}

	branch, err := CurrentBranch(dir)
	if err != nil {
		t.Fatalf("CurrentBranch: %v", err)
	}
	if branch != "main" {
		t.Errorf("CurrentBranch = %q, want main", branch)
	}

	if _, err := CurrentBranch(t.TempDir()); err == nil {
		t.Error("expected error outside a repo")
	}
}

func TestListWorktrees(t *testing.T) {
	dir := t.TempDir()
	createTestRepo(t, dir)

	wt := filepath.Join(t.TempDir(), "feature")
	cmd := exec.Command("git", "-C", dir, "worktree", "add", "-b", "feature", wt)
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("worktree add: %v: %s", err, out)
	}

	worktrees, err := ListWorktrees(dir)
	if err != nil {
		t.Fatalf("ListWorktrees: %v", err)
	}
	if len(worktrees) != 2 {
		t.Fatalf("expected 2 worktrees, got %d", len(worktrees))
	}
	if worktrees[1].Branch != "feature" {
		t.Errorf("second worktree branch = %q, want feature", worktrees[1].Branch)
	}
}

func TestParseWorktreeList(t *testing.T) {
	output := `worktree /repo
HEAD abc123
branch refs/heads/main

worktree /repo-fix
HEAD def456
detached

worktree /bare
bare`

	got := parseWorktreeList(output)
	if len(got) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(got))
	}
	if got[0].Path != "/repo" || got[0].Branch != "main" || got[0].Commit != "abc123" {
		t.Errorf("unexpected first entry: %+v", got[0])
	}
	if got[1].Branch != "" {
		t.Errorf("detached worktree should have no branch, got %q", got[1].Branch)
	}
	if !got[2].Bare {
		t.Error("expected bare entry")
	}
}

func TestResolverCaches(t *testing.T) {
	dir := t.TempDir()
	createTestRepo(t, dir)

	now := time.Unix(1000, 0)
	r := NewResolver(time.Minute)
	r.now = func() time.Time { return now }

	branch, err := r.CurrentBranch(dir)
	if err != nil || branch != "main" {
		t.Fatalf("CurrentBranch = %q, %v", branch, err)
	}

	cmd := exec.Command("git", "-C", dir, "checkout", "-b", "other")
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("checkout: %v: %s", err, out)
	}

	if branch, _ := r.CurrentBranch(dir); branch != "main" {
		t.Errorf("expected cached main, got %q", branch)
	}

	now = now.Add(2 * time.Minute)
	if branch, _ := r.CurrentBranch(dir); branch != "other" {
		t.Errorf("expected refreshed branch other, got %q", branch)
	}

	r.Forget(dir)
	if len(r.cache) != 0 {
		t.Error("Forget did not clear cache")
	}
}
