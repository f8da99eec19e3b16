package branchcleanup

import (
	"context"
	"errors"
	"testing"

	"github.com/taskforge/taskforge/internal/ids"
)

type fakeGit struct {
	current      ids.BranchName
	branches     []ids.BranchName
	merged       map[ids.BranchName]bool
	deleted      []ids.BranchName
	remoteDeleted []ids.BranchName
	deleteErr    error
}

func (f *fakeGit) ListBranches(ctx context.Context, repo ids.RepoPath) ([]ids.BranchName, error) {
	return f.branches, nil
}

func (f *fakeGit) GetCurrentBranch(ctx context.Context, repo ids.RepoPath) (ids.BranchName, error) {
	return f.current, nil
}

func (f *fakeGit) IsMerged(ctx context.Context, repo ids.RepoPath, branchName, target ids.BranchName) (bool, error) {
	return f.merged[branchName], nil
}

func (f *fakeGit) DeleteBranch(ctx context.Context, repo ids.RepoPath, name ids.BranchName) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, name)
	return nil
}

func (f *fakeGit) Raw(ctx context.Context, dir string, args ...string) (string, error) {
	if len(args) >= 3 && args[0] == "push" && args[2] == "--delete" {
		f.remoteDeleted = append(f.remoteDeleted, ids.BranchName(args[3]))
	}
	return "", nil
}

func TestIsProtectedExactNames(t *testing.T) {
	for _, name := range []ids.BranchName{"main", "master", "develop", "development", "production", "staging"} {
		if !IsProtected(name) {
			t.Errorf("expected %s to be protected", name)
		}
	}
	if IsProtected("feature-x") {
		t.Error("expected feature-x not to be protected")
	}
}

func TestIsProtectedReleaseHotfixPattern(t *testing.T) {
	if !IsProtected("release/1.2.0") {
		t.Error("expected release/1.2.0 to be protected")
	}
	if !IsProtected("hotfix/urgent-fix") {
		t.Error("expected hotfix/urgent-fix to be protected")
	}
	if IsProtected("release") {
		t.Error("expected bare 'release' not to be protected")
	}
}

func TestClassifyCategories(t *testing.T) {
	if Classify("integration/feature-a") != CategoryIntegration {
		t.Error("expected integration/ prefix to classify as integration")
	}
	if Classify("taskforge-ab12cd34") != CategoryTask {
		t.Error("expected lowercase-prefix+8char-suffix to classify as task")
	}
	if Classify("some-random-branch") != CategoryOther {
		t.Error("expected unmatched branch to classify as other")
	}
}

func TestRunListsOnlyWhenNotExecuting(t *testing.T) {
	git := &fakeGit{
		current:  "main",
		branches: []ids.BranchName{"main", "integration/a", "taskforge-deadbeef1"},
		merged:   map[ids.BranchName]bool{"integration/a": true, "taskforge-deadbeef1": false},
	}
	c := New(git)

	targets, err := c.Run(context.Background(), "/repo", Options{Execute: false})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(targets) != 2 {
		t.Fatalf("expected 2 targets (main excluded), got %d", len(targets))
	}
	if len(git.deleted) != 0 {
		t.Fatalf("expected no deletions in list-only mode, got %v", git.deleted)
	}
}

func TestRunDeletesNonProtectedBranches(t *testing.T) {
	git := &fakeGit{
		current:  "main",
		branches: []ids.BranchName{"main", "release/2.0", "integration/a"},
		merged:   map[ids.BranchName]bool{"integration/a": true},
	}
	c := New(git)

	targets, err := c.Run(context.Background(), "/repo", Options{Execute: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(targets) != 1 || targets[0].Name != "integration/a" {
		t.Fatalf("expected only integration/a as a target, got %+v", targets)
	}
	if len(git.deleted) != 1 || git.deleted[0] != "integration/a" {
		t.Fatalf("expected integration/a deleted, got %v", git.deleted)
	}
}

func TestRunNeverDeletesCurrentBranch(t *testing.T) {
	git := &fakeGit{
		current:  "integration/a",
		branches: []ids.BranchName{"integration/a", "integration/b"},
		merged:   map[ids.BranchName]bool{"integration/b": true},
	}
	c := New(git)

	targets, err := c.Run(context.Background(), "/repo", Options{Execute: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, tgt := range targets {
		if tgt.Name == "integration/a" {
			t.Fatal("current branch must never appear as a target")
		}
	}
	if len(git.deleted) != 1 || git.deleted[0] != "integration/b" {
		t.Fatalf("expected only integration/b deleted, got %v", git.deleted)
	}
}

func TestRunDeletesRemoteWhenRequested(t *testing.T) {
	git := &fakeGit{
		current:  "main",
		branches: []ids.BranchName{"main", "integration/a"},
		merged:   map[ids.BranchName]bool{"integration/a": true},
	}
	c := New(git)

	_, err := c.Run(context.Background(), "/repo", Options{Execute: true, IncludeRemote: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(git.remoteDeleted) != 1 || git.remoteDeleted[0] != "integration/a" {
		t.Fatalf("expected integration/a deleted remotely, got %v", git.remoteDeleted)
	}
}

func TestRunRecordsDeleteErrorWithoutAborting(t *testing.T) {
	git := &fakeGit{
		current:   "main",
		branches:  []ids.BranchName{"main", "integration/a", "integration/b"},
		merged:    map[ids.BranchName]bool{"integration/a": true, "integration/b": true},
		deleteErr: errors.New("branch checked out elsewhere"),
	}
	c := New(git)

	targets, err := c.Run(context.Background(), "/repo", Options{Execute: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(targets) != 2 {
		t.Fatalf("expected both branches still reported, got %d", len(targets))
	}
	for _, tgt := range targets {
		if tgt.Error == "" || tgt.Deleted {
			t.Fatalf("expected delete error recorded without Deleted=true, got %+v", tgt)
		}
	}
}
