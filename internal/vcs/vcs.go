// Package vcs is the thin git collaborator the Worker and branch-cleanup
// components call into: branch/worktree lifecycle, commit, and push
// (CORE SPEC §1 "external collaborators", §4.F Worker Operations).
//
// The CommandRunner-injectable shape and exec.CommandContext wrapping are
// adapted directly from the teacher's GitCheckpointer
// (internal/executor/git_checkpointer.go), extended with worktree
// add/remove, which the teacher's branch-checkpoint model never needed
// since it only ever worked in the current worktree.
package vcs

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/taskforge/taskforge/internal/filelock"
	"github.com/taskforge/taskforge/internal/ids"
	"github.com/taskforge/taskforge/internal/taskforgeerr"
)

// CommandRunner abstracts shell command execution for testability
// (mirrors the teacher's internal/executor.CommandRunner).
type CommandRunner interface {
	Run(ctx context.Context, dir string, name string, args ...string) (output string, err error)
}

// ExecCommandRunner runs git commands via os/exec.
type ExecCommandRunner struct{}

// Run executes name with args in dir via exec.CommandContext, returning
// combined stdout/stderr.
func (ExecCommandRunner) Run(ctx context.Context, dir string, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if dir != "" {
		cmd.Dir = dir
	}
	output, err := cmd.CombinedOutput()
	if err != nil {
		return string(output), fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, string(output))
	}
	return string(output), nil
}

// Git is the vcs collaborator. A nil Runner uses ExecCommandRunner.
type Git struct {
	Runner CommandRunner
}

// New returns a Git collaborator backed by real git commands.
func New() *Git {
	return &Git{Runner: ExecCommandRunner{}}
}

// NewWithRunner returns a Git collaborator backed by a custom
// CommandRunner, for tests.
func NewWithRunner(runner CommandRunner) *Git {
	return &Git{Runner: runner}
}

func (g *Git) runner() CommandRunner {
	if g.Runner != nil {
		return g.Runner
	}
	return ExecCommandRunner{}
}

// withRepoLock serializes operations that mutate a repo's shared ref
// namespace (branch create/delete, worktree add/remove, merge) so that
// concurrently-running worker goroutines sharing one repo checkout don't
// race on .git's refs/worktrees metadata. Per-worktree operations
// (status/add/commit) don't need this: each worktree has its own index.
func (g *Git) withRepoLock(repo ids.RepoPath, fn func() error) error {
	lock := filelock.NewFileLock(filepath.Join(string(repo), ".git", "taskforge-vcs.lock"))
	if err := lock.Lock(); err != nil {
		return taskforgeerr.Wrap(taskforgeerr.KindIOError, err, "locking repo %s", repo)
	}
	defer lock.Unlock()
	return fn()
}

func (g *Git) run(ctx context.Context, dir string, args ...string) (string, error) {
	out, err := g.runner().Run(ctx, dir, "git", args...)
	if err != nil {
		return out, taskforgeerr.Wrap(taskforgeerr.KindIOError, err, "git %s", strings.Join(args, " "))
	}
	return out, nil
}

// GetCurrentBranch returns the checked-out branch name in repo.
func (g *Git) GetCurrentBranch(ctx context.Context, repo ids.RepoPath) (ids.BranchName, error) {
	out, err := g.run(ctx, string(repo), "branch", "--show-current")
	if err != nil {
		return "", err
	}
	return ids.BranchName(strings.TrimSpace(out)), nil
}

// ListBranches returns every local branch name in repo.
func (g *Git) ListBranches(ctx context.Context, repo ids.RepoPath) ([]ids.BranchName, error) {
	out, err := g.run(ctx, string(repo), "branch", "--format=%(refname:short)")
	if err != nil {
		return nil, err
	}
	trimmed := strings.TrimSpace(out)
	if trimmed == "" {
		return []ids.BranchName{}, nil
	}
	lines := strings.Split(trimmed, "\n")
	branches := make([]ids.BranchName, 0, len(lines))
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if l != "" {
			branches = append(branches, ids.BranchName(l))
		}
	}
	return branches, nil
}

// BranchExists reports whether name is a local branch in repo.
func (g *Git) BranchExists(ctx context.Context, repo ids.RepoPath, name ids.BranchName) (bool, error) {
	_, err := g.run(ctx, string(repo), "rev-parse", "--verify", "refs/heads/"+string(name))
	if err != nil {
		return false, nil
	}
	return true, nil
}

// CreateBranch creates name off the current HEAD in repo without checking
// it out (matching the teacher's "create without switching" checkpoint
// idiom, since worktree add handles checkout separately).
func (g *Git) CreateBranch(ctx context.Context, repo ids.RepoPath, name ids.BranchName) error {
	if name == "" {
		return taskforgeerr.New(taskforgeerr.KindValidationError, "branch name is required")
	}
	return g.withRepoLock(repo, func() error {
		_, err := g.run(ctx, string(repo), "branch", string(name))
		return err
	})
}

// CheckoutBranch switches repo's working tree to name.
func (g *Git) CheckoutBranch(ctx context.Context, repo ids.RepoPath, name ids.BranchName) error {
	_, err := g.run(ctx, string(repo), "checkout", string(name))
	return err
}

// DeleteBranch force-deletes name from repo.
func (g *Git) DeleteBranch(ctx context.Context, repo ids.RepoPath, name ids.BranchName) error {
	return g.withRepoLock(repo, func() error {
		_, err := g.run(ctx, string(repo), "branch", "-D", string(name))
		return err
	})
}

// CreateWorktree adds a new worktree at path, on a new branch named
// branchName, off the current HEAD of repo (CORE SPEC §4.F.1: "create a
// worktree at a unique path ... on a new branch derived from t.branch").
func (g *Git) CreateWorktree(ctx context.Context, repo ids.RepoPath, path ids.WorktreePath, branchName ids.BranchName) error {
	return g.withRepoLock(repo, func() error {
		_, err := g.run(ctx, string(repo), "worktree", "add", "-b", string(branchName), string(path))
		return err
	})
}

// RemoveWorktree removes the worktree at path from repo.
func (g *Git) RemoveWorktree(ctx context.Context, repo ids.RepoPath, path ids.WorktreePath) error {
	return g.withRepoLock(repo, func() error {
		_, err := g.run(ctx, string(repo), "worktree", "remove", "--force", string(path))
		return err
	})
}

// IsClean reports whether worktreePath has no uncommitted changes.
func (g *Git) IsClean(ctx context.Context, worktreePath ids.WorktreePath) (bool, error) {
	out, err := g.run(ctx, string(worktreePath), "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) == "", nil
}

// CommitChanges stages every change in worktreePath and commits with
// message. If there is nothing to commit, this is not an error (CORE SPEC
// §4.F.3): it reports committed=false.
func (g *Git) CommitChanges(ctx context.Context, worktreePath ids.WorktreePath, message string) (committed bool, err error) {
	if _, err := g.run(ctx, string(worktreePath), "add", "-A"); err != nil {
		return false, err
	}
	clean, err := g.IsClean(ctx, worktreePath)
	if err != nil {
		return false, err
	}
	if clean {
		return false, nil
	}
	if _, err := g.run(ctx, string(worktreePath), "commit", "-m", message); err != nil {
		return false, err
	}
	return true, nil
}

// PushBranch pushes branchName from worktreePath to the default remote
// (CORE SPEC §4.F.4, end of chain).
func (g *Git) PushBranch(ctx context.Context, worktreePath ids.WorktreePath, branchName ids.BranchName) error {
	_, err := g.run(ctx, string(worktreePath), "push", "-u", "origin", string(branchName))
	return err
}

// MergeBranch merges source into the branch currently checked out in repo.
func (g *Git) MergeBranch(ctx context.Context, repo ids.RepoPath, source ids.BranchName) error {
	return g.withRepoLock(repo, func() error {
		_, err := g.run(ctx, string(repo), "merge", "--no-edit", string(source))
		return err
	})
}

// IsMerged reports whether branchName has been fully merged into target.
func (g *Git) IsMerged(ctx context.Context, repo ids.RepoPath, branchName, target ids.BranchName) (bool, error) {
	out, err := g.run(ctx, string(repo), "branch", "--merged", string(target), "--format=%(refname:short)")
	if err != nil {
		return false, err
	}
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) == string(branchName) {
			return true, nil
		}
	}
	return false, nil
}

// Raw runs an arbitrary git subcommand in dir, for operations the typed
// methods above don't cover.
func (g *Git) Raw(ctx context.Context, dir string, args ...string) (string, error) {
	return g.run(ctx, dir, args...)
}
