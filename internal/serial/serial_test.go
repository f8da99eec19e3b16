package serial

import (
	"context"
	"errors"
	"testing"

	"github.com/taskforge/taskforge/internal/agentrunner"
	"github.com/taskforge/taskforge/internal/ids"
	"github.com/taskforge/taskforge/internal/judge"
	"github.com/taskforge/taskforge/internal/models"
	"github.com/taskforge/taskforge/internal/store"
	"github.com/taskforge/taskforge/internal/worker"
)

type fakeTaskStore struct {
	tasks map[ids.TaskId]models.Task
}

func newFakeTaskStore(tasks ...models.Task) *fakeTaskStore {
	f := &fakeTaskStore{tasks: map[ids.TaskId]models.Task{}}
	for _, t := range tasks {
		f.tasks[t.Id] = t
	}
	return f
}

func (f *fakeTaskStore) ReadTask(id ids.TaskId) (models.Task, error) {
	t, ok := f.tasks[id]
	if !ok {
		return models.Task{}, errors.New("not found")
	}
	return t, nil
}

func (f *fakeTaskStore) UpdateTaskCAS(id ids.TaskId, expectedVersion int, fn store.UpdateFn) (models.Task, error) {
	current, ok := f.tasks[id]
	if !ok {
		return models.Task{}, errors.New("not found")
	}
	if current.Version != expectedVersion {
		return models.Task{}, errors.New("version conflict")
	}
	fn(&current)
	current.Version++
	f.tasks[id] = current
	return current, nil
}

type fakeGit struct {
	currentBranch ids.BranchName
}

func (f *fakeGit) CreateWorktree(ctx context.Context, repo ids.RepoPath, path ids.WorktreePath, branchName ids.BranchName) error {
	return nil
}
func (f *fakeGit) BranchExists(ctx context.Context, repo ids.RepoPath, name ids.BranchName) (bool, error) {
	return false, nil
}
func (f *fakeGit) CommitChanges(ctx context.Context, worktreePath ids.WorktreePath, message string) (bool, error) {
	return true, nil
}
func (f *fakeGit) PushBranch(ctx context.Context, worktreePath ids.WorktreePath, branchName ids.BranchName) error {
	return nil
}
func (f *fakeGit) GetCurrentBranch(ctx context.Context, repo ids.RepoPath) (ids.BranchName, error) {
	return f.currentBranch, nil
}

type scriptedAgentRunner struct {
	responses []string
	calls     int
}

func (s *scriptedAgentRunner) RunAgent(ctx context.Context, agentType, model, prompt, cwd string, runID ids.RunId) (agentrunner.Result, error) {
	idx := s.calls
	if idx >= len(s.responses) {
		idx = len(s.responses) - 1
	}
	s.calls++
	return agentrunner.Result{RunId: ids.NewRunId(), FinalResponse: s.responses[idx]}, nil
}

func (s *scriptedAgentRunner) EnsureRunsDir() error                                { return nil }
func (s *scriptedAgentRunner) InitializeLogFile(run models.Run) error              { return nil }
func (s *scriptedAgentRunner) AppendLog(runID ids.RunId, text string) error        { return nil }
func (s *scriptedAgentRunner) SaveRunMetadata(run models.Run) error                { return nil }
func (s *scriptedAgentRunner) LoadRunMetadata(runID ids.RunId) (models.Run, error) { return models.Run{}, nil }
func (s *scriptedAgentRunner) ReadLog(runID ids.RunId) (string, error)             { return "log", nil }
func (s *scriptedAgentRunner) ListRunLogs() ([]ids.RunId, error)                   { return nil, nil }

func chainTask(id, branch string) models.Task {
	return models.Task{
		Id:         ids.TaskId(id),
		State:      models.TaskReady,
		Repo:       ids.RepoPath("/repo"),
		Branch:     ids.BranchName(branch),
		Acceptance: "tests pass",
		TaskType:   models.TaskImplementation,
	}
}

// newExecutor wires a trivial Worker agent (its output is never parsed)
// and a Judge agent scripted with judgementResponses, one JSON verdict per
// Judge.Evaluate call across the whole chain.
func newExecutor(tasks *fakeTaskStore, git *fakeGit, judgementResponses []string) *Executor {
	workerAgent := &scriptedAgentRunner{responses: []string{"did the work"}}
	judgeAgent := &scriptedAgentRunner{responses: judgementResponses}
	w := worker.New(git, workerAgent, "implementer", "default")
	j := judge.New(tasks, judgeAgent, "judge", "default")
	return New(tasks, git, w, j)
}

func TestRunCompletesWholeChain(t *testing.T) {
	t1 := chainTask("t1", "chain-branch")
	t2 := chainTask("t2", "chain-branch")
	tasks := newFakeTaskStore(t1, t2)
	git := &fakeGit{currentBranch: "chain-branch"}
	e := newExecutor(tasks, git, []string{
		`{"success":true,"reason":"ok"}`,
		`{"success":true,"reason":"ok"}`,
	})

	result, err := e.Run(context.Background(), []ids.TaskId{t1.Id, t2.Id}, "/worktrees")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.CompletedTaskIds) != 2 {
		t.Fatalf("expected both tasks completed, got %+v", result.CompletedTaskIds)
	}
	if result.BlockedTaskId != nil || result.ReplanTaskId != nil {
		t.Fatalf("expected no abort, got %+v", result)
	}
}

func TestRunAbortsChainOnBlock(t *testing.T) {
	t1 := chainTask("t1", "chain-branch")
	t2 := chainTask("t2", "chain-branch")
	tasks := newFakeTaskStore(t1, t2)
	git := &fakeGit{currentBranch: "chain-branch"}
	e := newExecutor(tasks, git, []string{
		`{"success":false,"reason":"cannot proceed"}`,
	})

	result, err := e.Run(context.Background(), []ids.TaskId{t1.Id, t2.Id}, "/worktrees")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.BlockedTaskId == nil || *result.BlockedTaskId != t1.Id {
		t.Fatalf("expected t1 blocked, got %+v", result)
	}
	if len(result.CompletedTaskIds) != 0 {
		t.Fatalf("expected second task never to run, got %+v", result.CompletedTaskIds)
	}
	second, _ := tasks.ReadTask(t2.Id)
	if second.State != models.TaskReady {
		t.Fatalf("expected t2 untouched, got %s", second.State)
	}
}

func TestRunSignalsReplanAndAborts(t *testing.T) {
	t1 := chainTask("t1", "chain-branch")
	t2 := chainTask("t2", "chain-branch")
	tasks := newFakeTaskStore(t1, t2)
	git := &fakeGit{currentBranch: "chain-branch"}
	e := newExecutor(tasks, git, []string{
		`{"success":false,"reason":"design changed","shouldReplan":true}`,
	})

	result, err := e.Run(context.Background(), []ids.TaskId{t1.Id, t2.Id}, "/worktrees")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.ReplanTaskId == nil || *result.ReplanTaskId != t1.Id {
		t.Fatalf("expected t1 to signal replan, got %+v", result)
	}
}

func TestRunReconcilesDriftedBranchBeforeSecondTask(t *testing.T) {
	t1 := chainTask("t1", "chain-branch")
	t2 := chainTask("t2", "original-branch-name")
	tasks := newFakeTaskStore(t1, t2)
	git := &fakeGit{currentBranch: "chain-branch"}
	e := newExecutor(tasks, git, []string{
		`{"success":true,"reason":"ok"}`,
		`{"success":true,"reason":"ok"}`,
	})

	_, err := e.Run(context.Background(), []ids.TaskId{t1.Id, t2.Id}, "/worktrees")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	final, _ := tasks.ReadTask(t2.Id)
	if final.Branch != "chain-branch" {
		t.Fatalf("expected t2's branch reconciled to chain-branch, got %s", final.Branch)
	}
}

func TestRunRetriesTaskOnShouldContinueThenCompletes(t *testing.T) {
	t1 := chainTask("t1", "chain-branch")
	tasks := newFakeTaskStore(t1)
	git := &fakeGit{currentBranch: "chain-branch"}
	e := newExecutor(tasks, git, []string{
		`{"success":false,"reason":"missing tests","shouldContinue":true}`,
		`{"success":true,"reason":"fixed"}`,
	})

	result, err := e.Run(context.Background(), []ids.TaskId{t1.Id}, "/worktrees")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.CompletedTaskIds) != 1 {
		t.Fatalf("expected task to complete after retry, got %+v", result)
	}
}

func TestRunBlocksAfterExhaustingRetries(t *testing.T) {
	t1 := chainTask("t1", "chain-branch")
	tasks := newFakeTaskStore(t1)
	git := &fakeGit{currentBranch: "chain-branch"}
	e := newExecutor(tasks, git, []string{
		`{"success":false,"reason":"still broken","shouldContinue":true}`,
	})
	e.TaskRetries = 0

	result, err := e.Run(context.Background(), []ids.TaskId{t1.Id}, "/worktrees")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.BlockedTaskId == nil {
		t.Fatal("expected task blocked once retries exhausted")
	}
}
