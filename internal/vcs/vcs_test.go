package vcs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/taskforge/taskforge/internal/ids"
)

// realRepo creates a temp directory with a .git subdirectory so
// withRepoLock's lock file can be created.
func realRepo(t *testing.T) ids.RepoPath {
	t.Helper()
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, ".git"), 0755); err != nil {
		t.Fatalf("creating .git dir: %v", err)
	}
	return ids.RepoPath(dir)
}

type fakeRunner struct {
	calls   []string
	outputs map[string]string
	errs    map[string]error
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{outputs: map[string]string{}, errs: map[string]error{}}
}

func (f *fakeRunner) Run(ctx context.Context, dir string, name string, args ...string) (string, error) {
	call := strings.Join(append([]string{name}, args...), " ")
	f.calls = append(f.calls, call)
	if err, ok := f.errs[call]; ok {
		return "", err
	}
	return f.outputs[call], nil
}

func TestGetCurrentBranch(t *testing.T) {
	r := newFakeRunner()
	r.outputs["git branch --show-current"] = "main\n"
	g := NewWithRunner(r)
	branch, err := g.GetCurrentBranch(context.Background(), ids.RepoPath("/repo"))
	if err != nil {
		t.Fatalf("GetCurrentBranch: %v", err)
	}
	if branch != "main" {
		t.Fatalf("expected main, got %q", branch)
	}
}

func TestListBranchesEmptyOutput(t *testing.T) {
	r := newFakeRunner()
	g := NewWithRunner(r)
	branches, err := g.ListBranches(context.Background(), ids.RepoPath("/repo"))
	if err != nil {
		t.Fatalf("ListBranches: %v", err)
	}
	if len(branches) != 0 {
		t.Fatalf("expected empty slice, got %v", branches)
	}
}

func TestListBranchesParsesLines(t *testing.T) {
	r := newFakeRunner()
	r.outputs["git branch --format=%(refname:short)"] = "main\nfeature/a\n"
	g := NewWithRunner(r)
	branches, err := g.ListBranches(context.Background(), ids.RepoPath("/repo"))
	if err != nil {
		t.Fatalf("ListBranches: %v", err)
	}
	if len(branches) != 2 || branches[0] != "main" || branches[1] != "feature/a" {
		t.Fatalf("unexpected branches: %v", branches)
	}
}

func TestBranchExistsFalseOnError(t *testing.T) {
	r := newFakeRunner()
	r.errs["git rev-parse --verify refs/heads/ghost"] = fmt.Errorf("not found")
	g := NewWithRunner(r)
	exists, err := g.BranchExists(context.Background(), ids.RepoPath("/repo"), ids.BranchName("ghost"))
	if err != nil {
		t.Fatalf("BranchExists: %v", err)
	}
	if exists {
		t.Fatal("expected false for nonexistent branch")
	}
}

func TestCreateBranchRejectsEmptyName(t *testing.T) {
	g := NewWithRunner(newFakeRunner())
	err := g.CreateBranch(context.Background(), ids.RepoPath("/repo"), "")
	if err == nil {
		t.Fatal("expected error for empty branch name")
	}
}

func TestCreateWorktreeIssuesCorrectCommand(t *testing.T) {
	r := newFakeRunner()
	g := NewWithRunner(r)
	repo := realRepo(t)
	if err := g.CreateWorktree(context.Background(), repo, ids.WorktreePath("/tmp/wt"), ids.BranchName("task/t1")); err != nil {
		t.Fatalf("CreateWorktree: %v", err)
	}
	want := "git worktree add -b task/t1 /tmp/wt"
	if len(r.calls) != 1 || r.calls[0] != want {
		t.Fatalf("expected call %q, got %v", want, r.calls)
	}
}

func TestCommitChangesNoOpWhenClean(t *testing.T) {
	r := newFakeRunner()
	r.outputs["git status --porcelain"] = ""
	g := NewWithRunner(r)
	committed, err := g.CommitChanges(context.Background(), ids.WorktreePath("/wt"), "message")
	if err != nil {
		t.Fatalf("CommitChanges: %v", err)
	}
	if committed {
		t.Fatal("expected no commit when worktree is clean")
	}
}

func TestCommitChangesCommitsWhenDirty(t *testing.T) {
	r := newFakeRunner()
	r.outputs["git status --porcelain"] = " M file.go\n"
	g := NewWithRunner(r)
	committed, err := g.CommitChanges(context.Background(), ids.WorktreePath("/wt"), "message")
	if err != nil {
		t.Fatalf("CommitChanges: %v", err)
	}
	if !committed {
		t.Fatal("expected a commit when worktree is dirty")
	}
	found := false
	for _, c := range r.calls {
		if c == "git commit -m message" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected commit command among calls: %v", r.calls)
	}
}

func TestIsMergedDetectsMatchingBranch(t *testing.T) {
	r := newFakeRunner()
	r.outputs["git branch --merged main --format=%(refname:short)"] = "main\ntask/done\n"
	g := NewWithRunner(r)
	merged, err := g.IsMerged(context.Background(), ids.RepoPath("/repo"), ids.BranchName("task/done"), ids.BranchName("main"))
	if err != nil {
		t.Fatalf("IsMerged: %v", err)
	}
	if !merged {
		t.Fatal("expected task/done to be reported merged")
	}
}

func TestIsMergedFalseForUnlistedBranch(t *testing.T) {
	r := newFakeRunner()
	r.outputs["git branch --merged main --format=%(refname:short)"] = "main\n"
	g := NewWithRunner(r)
	merged, err := g.IsMerged(context.Background(), ids.RepoPath("/repo"), ids.BranchName("task/pending"), ids.BranchName("main"))
	if err != nil {
		t.Fatalf("IsMerged: %v", err)
	}
	if merged {
		t.Fatal("expected task/pending to not be reported merged")
	}
}
