// Package git answers the few questions the session engine asks about a
// worktree: which branch it has checked out and which worktrees a repo has.
package git

import (
	"bufio"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// Worktree represents a git worktree
type Worktree struct {
	Path   string // Filesystem path to the worktree
	Branch string // Branch name checked out in this worktree
	Commit string // HEAD commit SHA
	Bare   bool   // Whether this is the bare repository
}

// IsGitRepo checks if the given directory is inside a git repository
func IsGitRepo(dir string) bool {
	cmd := exec.Command("git", "-C", dir, "rev-parse", "--git-dir")
	return cmd.Run() == nil
}

// RepoRoot returns the top-level directory of the worktree containing dir
func RepoRoot(dir string) (string, error) {
	cmd := exec.Command("git", "-C", dir, "rev-parse", "--show-toplevel")
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("not a git repository: %w", err)
	}
	return strings.TrimSpace(string(output)), nil
}

// CurrentBranch returns the branch checked out at dir, or "HEAD" when detached
func CurrentBranch(dir string) (string, error) {
	cmd := exec.Command("git", "-C", dir, "rev-parse", "--abbrev-ref", "HEAD")
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("failed to get current branch: %w", err)
	}
	return strings.TrimSpace(string(output)), nil
}

// ListWorktrees returns all worktrees for the repository at repoDir
func ListWorktrees(repoDir string) ([]Worktree, error) {
	cmd := exec.Command("git", "-C", repoDir, "worktree", "list", "--porcelain")
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("failed to list worktrees: %w", err)
	}
	return parseWorktreeList(string(output)), nil
}

// parseWorktreeList parses the output of `git worktree list --porcelain`
func parseWorktreeList(output string) []Worktree {
	var worktrees []Worktree
	var current Worktree

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()

		if line == "" {
			if current.Path != "" {
				worktrees = append(worktrees, current)
			}
			current = Worktree{}
			continue
		}

		switch {
		case strings.HasPrefix(line, "worktree "):
			current.Path = strings.TrimPrefix(line, "worktree ")
		case strings.HasPrefix(line, "HEAD "):
			current.Commit = strings.TrimPrefix(line, "HEAD ")
		case strings.HasPrefix(line, "branch "):
			current.Branch = strings.TrimPrefix(strings.TrimPrefix(line, "branch "), "refs/heads/")
		case line == "bare":
			current.Bare = true
		case line == "detached":
			current.Branch = ""
		}
	}

	if current.Path != "" {
		worktrees = append(worktrees, current)
	}
	return worktrees
}

// Resolver looks up branch names for status hooks. Results are cached for a
// short time since hooks can fire several times a second.
type Resolver struct {
	TTL time.Duration

	mu    sync.Mutex
	cache map[string]cachedBranch
	now   func() time.Time
}

type cachedBranch struct {
	branch string
	at     time.Time
}

// NewResolver creates a Resolver with the given cache TTL.
func NewResolver(ttl time.Duration) *Resolver {
	return &Resolver{TTL: ttl, cache: make(map[string]cachedBranch), now: time.Now}
}

// CurrentBranch returns the branch for path, using the cache when fresh.
func (r *Resolver) CurrentBranch(path string) (string, error) {
	r.mu.Lock()
	if c, ok := r.cache[path]; ok && r.now().Sub(c.at) < r.TTL {
		r.mu.Unlock()
		return c.branch, nil
	}
	r.mu.Unlock()

	branch, err := CurrentBranch(path)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	r.cache[path] = cachedBranch{branch: branch, at: r.now()}
	r.mu.Unlock()
	return branch, nil
}

// Forget drops the cached branch for path.
func (r *Resolver) Forget(path string) {
	r.mu.Lock()
	delete(r.cache, path)
	r.mu.Unlock()
}
