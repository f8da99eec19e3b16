package leader

import (
	"context"
	"errors"
	"testing"

	"github.com/taskforge/taskforge/internal/agentrunner"
	"github.com/taskforge/taskforge/internal/escalation"
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

func (f *fakeTaskStore) ListTasks() ([]models.Task, error) {
	out := make([]models.Task, 0, len(f.tasks))
	for _, t := range f.tasks {
		out = append(out, t)
	}
	return out, nil
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

type fakeSessionStore struct {
	sessions map[ids.SessionId]*models.LeaderSession
}

func newFakeSessionStore(session *models.LeaderSession) *fakeSessionStore {
	return &fakeSessionStore{sessions: map[ids.SessionId]*models.LeaderSession{session.SessionId: session}}
}

func (f *fakeSessionStore) Save(id ids.SessionId, record *models.LeaderSession) error {
	f.sessions[id] = record
	return nil
}

func (f *fakeSessionStore) Load(id ids.SessionId) (*models.LeaderSession, error) {
	s, ok := f.sessions[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return s, nil
}

type fakeGit struct {
	branchExists bool
}

func (f *fakeGit) CreateWorktree(ctx context.Context, repo ids.RepoPath, path ids.WorktreePath, branchName ids.BranchName) error {
	return nil
}

func (f *fakeGit) BranchExists(ctx context.Context, repo ids.RepoPath, name ids.BranchName) (bool, error) {
	return f.branchExists, nil
}

func (f *fakeGit) CommitChanges(ctx context.Context, worktreePath ids.WorktreePath, message string) (bool, error) {
	return true, nil
}

func (f *fakeGit) PushBranch(ctx context.Context, worktreePath ids.WorktreePath, branchName ids.BranchName) error {
	return nil
}

// scriptedAgentRunner returns one canned response per call, advancing
// through responses and sticking on the last one once exhausted. Worker
// and Judge each need their own instance: they call RunAgent independently
// per task attempt, and sharing one instance between them would interleave
// the two collaborators' scripts onto a single call counter.
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
func (s *scriptedAgentRunner) ReadLog(runID ids.RunId) (string, error)             { return "log contents", nil }
func (s *scriptedAgentRunner) ListRunLogs() ([]ids.RunId, error)                   { return nil, nil }

func readyTask(id string) models.Task {
	return models.Task{
		Id:         ids.TaskId(id),
		State:      models.TaskReady,
		Repo:       ids.RepoPath("/repo"),
		Branch:     ids.BranchName("b-" + id),
		Acceptance: "tests pass",
		TaskType:   models.TaskImplementation,
	}
}

func newLeaderSession() *models.LeaderSession {
	return &models.LeaderSession{SessionId: ids.SessionId("leader-1"), Status: models.LeaderPlanning}
}

// newTestLeader wires a trivial Worker agent (its output is never parsed)
// and a Judge agent scripted with judgementResponses, one JSON verdict per
// Judge.Evaluate call.
func newTestLeader(tasks *fakeTaskStore, sessions *fakeSessionStore, judgementResponses []string) *Leader {
	workerAgent := &scriptedAgentRunner{responses: []string{"did the work"}}
	judgeAgent := &scriptedAgentRunner{responses: judgementResponses}
	w := worker.New(&fakeGit{}, workerAgent, "implementer", "default")
	j := judge.New(tasks, judgeAgent, "judge", "default")
	esc := escalation.New(sessions, nil)
	l := New(tasks, sessions, w, j, esc, "/worktrees")
	return l
}

func TestRunCompletesSingleReadyTask(t *testing.T) {
	task := readyTask("t1")
	tasks := newFakeTaskStore(task)
	sessions := newFakeSessionStore(newLeaderSession())
	l := newTestLeader(tasks, sessions, []string{`{"success":true,"reason":"looks good"}`})

	result, err := l.Run(context.Background(), ids.SessionId("leader-1"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.CompletedTaskIds) != 1 || result.CompletedTaskIds[0] != task.Id {
		t.Fatalf("expected t1 completed, got %+v", result.CompletedTaskIds)
	}
	if result.Session.Status != models.LeaderCompleted {
		t.Fatalf("expected COMPLETED, got %s", result.Session.Status)
	}
	final, _ := tasks.ReadTask(task.Id)
	if final.State != models.TaskDone {
		t.Fatalf("expected task DONE, got %s", final.State)
	}
}

func TestRunMarksAlreadySatisfiedTaskSkipped(t *testing.T) {
	task := readyTask("t1")
	tasks := newFakeTaskStore(task)
	sessions := newFakeSessionStore(newLeaderSession())
	l := newTestLeader(tasks, sessions, []string{`{"success":false,"reason":"no changes needed","alreadySatisfied":true}`})

	result, err := l.Run(context.Background(), ids.SessionId("leader-1"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.CompletedTaskIds) != 1 {
		t.Fatalf("expected 1 completed (skipped) task, got %+v", result.CompletedTaskIds)
	}
	final, _ := tasks.ReadTask(task.Id)
	if final.State != models.TaskSkipped {
		t.Fatalf("expected task SKIPPED, got %s", final.State)
	}
}

func TestRunEscalatesToUserOnUnresolvedJudgement(t *testing.T) {
	task := readyTask("t1")
	tasks := newFakeTaskStore(task)
	sessions := newFakeSessionStore(newLeaderSession())
	// Neither success, alreadySatisfied, shouldContinue, nor shouldReplan:
	// falls through to the USER escalation default case.
	l := newTestLeader(tasks, sessions, []string{`{"success":false,"reason":"stuck, need a human"}`})

	result, err := l.Run(context.Background(), ids.SessionId("leader-1"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.PendingEscalation == nil {
		t.Fatal("expected a pending escalation")
	}
	if result.Session.Status != models.LeaderEscalating {
		t.Fatalf("expected ESCALATING, got %s", result.Session.Status)
	}
	if result.PendingEscalation.Target != models.EscalationUser {
		t.Fatalf("expected USER escalation, got %s", result.PendingEscalation.Target)
	}
}

func TestRunRequeuesTaskOnShouldContinue(t *testing.T) {
	task := readyTask("t1")
	tasks := newFakeTaskStore(task)
	sessions := newFakeSessionStore(newLeaderSession())
	l := newTestLeader(tasks, sessions, []string{
		`{"success":false,"reason":"missing tests","shouldContinue":true}`,
		`{"success":true,"reason":"fixed now"}`,
	})

	result, err := l.Run(context.Background(), ids.SessionId("leader-1"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.CompletedTaskIds) != 1 {
		t.Fatalf("expected the task to eventually complete, got %+v", result)
	}
	final, _ := tasks.ReadTask(task.Id)
	if final.State != models.TaskDone {
		t.Fatalf("expected task DONE after continuation, got %s", final.State)
	}
	if final.JudgementFeedback == nil || final.JudgementFeedback.Iteration != 1 {
		t.Fatalf("expected one continuation iteration recorded, got %+v", final.JudgementFeedback)
	}
}

func TestRunBlocksTaskWhenWorkerFails(t *testing.T) {
	task := readyTask("t1")
	tasks := newFakeTaskStore(task)
	sessions := newFakeSessionStore(newLeaderSession())
	agent := &scriptedAgentRunner{responses: []string{""}}
	w := worker.New(&fakeGit{branchExists: true}, agent, "implementer", "default")
	j := judge.New(tasks, agent, "judge", "default")
	esc := escalation.New(sessions, nil)
	l := New(tasks, sessions, w, j, esc, "/worktrees")

	result, err := l.Run(context.Background(), ids.SessionId("leader-1"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.FailedTaskIds) != 1 {
		t.Fatalf("expected 1 failed task, got %+v", result.FailedTaskIds)
	}
	final, _ := tasks.ReadTask(task.Id)
	if final.State != models.TaskBlocked {
		t.Fatalf("expected task BLOCKED, got %s", final.State)
	}
}

func TestRunStopsAtReviewingWhenNoTaskIsReady(t *testing.T) {
	blocked := readyTask("t1")
	blocked.State = models.TaskBlocked
	tasks := newFakeTaskStore(blocked)
	sessions := newFakeSessionStore(newLeaderSession())
	l := newTestLeader(tasks, sessions, nil)

	result, err := l.Run(context.Background(), ids.SessionId("leader-1"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Session.Status != models.LeaderReviewing {
		t.Fatalf("expected REVIEWING, got %s", result.Session.Status)
	}
}

func TestRunCompletesImmediatelyWhenAllTasksAlreadyTerminal(t *testing.T) {
	done := readyTask("t1")
	done.State = models.TaskDone
	tasks := newFakeTaskStore(done)
	sessions := newFakeSessionStore(newLeaderSession())
	l := newTestLeader(tasks, sessions, nil)

	result, err := l.Run(context.Background(), ids.SessionId("leader-1"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Session.Status != models.LeaderCompleted {
		t.Fatalf("expected COMPLETED, got %s", result.Session.Status)
	}
	if len(result.CompletedTaskIds) != 0 {
		t.Fatalf("expected no newly-completed tasks, got %+v", result.CompletedTaskIds)
	}
}
