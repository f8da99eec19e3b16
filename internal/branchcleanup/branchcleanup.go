// Package branchcleanup implements the Branch Cleanup collaborator (CORE
// SPEC §4.M): classify local branches by category, protect a fixed set of
// names/patterns from deletion, and either list or delete the rest.
//
// The branch-prefix/category idiom and "list first, act second" shape are
// adapted from the teacher's internal/executor/git_checkpointer.go
// (ListCheckpoints' prefix-match listing, DeleteCheckpoint's force-delete),
// generalized from a single checkpoint prefix to the spec's three
// categories and protection rules.
package branchcleanup

import (
	"context"
	"regexp"

	"github.com/taskforge/taskforge/internal/ids"
	"github.com/taskforge/taskforge/internal/taskforgeerr"
)

// Category classifies a non-protected branch.
type Category string

const (
	CategoryIntegration Category = "integration"
	CategoryTask        Category = "task"
	CategoryOther       Category = "other"
)

var (
	protectedNames = map[ids.BranchName]struct{}{
		"main": {}, "master": {}, "develop": {}, "development": {},
		"production": {}, "staging": {},
	}
	protectedPattern    = regexp.MustCompile(`^(release|hotfix)/.*`)
	integrationPattern  = regexp.MustCompile(`^integration/`)
	taskBranchPattern   = regexp.MustCompile(`^[a-z]+-[a-zA-Z0-9]{8,}$`)
)

// IsProtected reports whether name must never be deleted (CORE SPEC
// §4.M: exact names plus the release/hotfix regex).
func IsProtected(name ids.BranchName) bool {
	if _, ok := protectedNames[name]; ok {
		return true
	}
	return protectedPattern.MatchString(string(name))
}

// Classify assigns name to a cleanup Category.
func Classify(name ids.BranchName) Category {
	switch {
	case integrationPattern.MatchString(string(name)):
		return CategoryIntegration
	case taskBranchPattern.MatchString(string(name)):
		return CategoryTask
	default:
		return CategoryOther
	}
}

// GitCollaborator is the subset of internal/vcs.Git the Branch Cleanup
// collaborator needs.
type GitCollaborator interface {
	ListBranches(ctx context.Context, repo ids.RepoPath) ([]ids.BranchName, error)
	GetCurrentBranch(ctx context.Context, repo ids.RepoPath) (ids.BranchName, error)
	IsMerged(ctx context.Context, repo ids.RepoPath, branchName, target ids.BranchName) (bool, error)
	DeleteBranch(ctx context.Context, repo ids.RepoPath, name ids.BranchName) error
	Raw(ctx context.Context, dir string, args ...string) (string, error)
}

// Cleaner is the Branch Cleanup collaborator.
type Cleaner struct {
	Git GitCollaborator
}

// New returns a Cleaner wired to git.
func New(git GitCollaborator) *Cleaner {
	return &Cleaner{Git: git}
}

// Target describes one branch considered for cleanup.
type Target struct {
	Name     ids.BranchName
	Category Category
	Merged   bool
	Deleted  bool
	Error    string
}

// Options controls a Run invocation.
type Options struct {
	// TargetBranch is the branch merge-state is checked against (CORE
	// SPEC §4.M: "Merged-state is checked against the current branch").
	// Defaults to the repo's current branch when empty.
	TargetBranch ids.BranchName
	// Execute deletes when true; when false, targets are listed only.
	Execute bool
	// IncludeRemote also deletes the matching remote branch via
	// `push origin --delete` for every branch actually deleted.
	IncludeRemote bool
}

// Run implements CORE SPEC §4.M: lists every local branch in repo, skips
// protected branches and the repo's current branch, classifies the rest,
// checks merged-state against opts.TargetBranch (or the current branch if
// unset), and — only when opts.Execute is true — deletes each target
// (force-deleting any that aren't merged), optionally also deleting the
// matching remote branch.
func (c *Cleaner) Run(ctx context.Context, repo ids.RepoPath, opts Options) ([]Target, error) {
	current, err := c.Git.GetCurrentBranch(ctx, repo)
	if err != nil {
		return nil, taskforgeerr.Wrap(taskforgeerr.KindIOError, err, "branchcleanup: reading current branch")
	}

	target := opts.TargetBranch
	if target == "" {
		target = current
	}

	branches, err := c.Git.ListBranches(ctx, repo)
	if err != nil {
		return nil, taskforgeerr.Wrap(taskforgeerr.KindIOError, err, "branchcleanup: listing branches")
	}

	var results []Target
	for _, name := range branches {
		if name == current || IsProtected(name) {
			continue
		}

		merged, err := c.Git.IsMerged(ctx, repo, name, target)
		if err != nil {
			results = append(results, Target{Name: name, Category: Classify(name), Error: err.Error()})
			continue
		}

		t := Target{Name: name, Category: Classify(name), Merged: merged}

		if opts.Execute {
			if err := c.Git.DeleteBranch(ctx, repo, name); err != nil {
				t.Error = err.Error()
			} else {
				t.Deleted = true
				if opts.IncludeRemote {
					if _, err := c.Git.Raw(ctx, string(repo), "push", "origin", "--delete", string(name)); err != nil {
						t.Error = "local delete ok, remote delete failed: " + err.Error()
					}
				}
			}
		}

		results = append(results, t)
	}

	return results, nil
}
