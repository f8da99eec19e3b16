package judge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/taskforge/taskforge/internal/agentrunner"
	"github.com/taskforge/taskforge/internal/ids"
	"github.com/taskforge/taskforge/internal/models"
	"github.com/taskforge/taskforge/internal/store"
)

type fakeStore struct {
	tasks map[ids.TaskId]models.Task
}

func newFakeStore(t models.Task) *fakeStore {
	return &fakeStore{tasks: map[ids.TaskId]models.Task{t.Id: t}}
}

func (f *fakeStore) ReadTask(id ids.TaskId) (models.Task, error) {
	t, ok := f.tasks[id]
	if !ok {
		return models.Task{}, errors.New("not found")
	}
	return t, nil
}

func (f *fakeStore) UpdateTaskCAS(id ids.TaskId, expectedVersion int, fn store.UpdateFn) (models.Task, error) {
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

type fakeLogReader struct {
	log string
	err error
}

func (f *fakeLogReader) ReadLog(runID ids.RunId) (string, error) {
	return f.log, f.err
}

type fakeAgentRunner struct {
	response string
	err      error
}

func (f *fakeAgentRunner) RunAgent(ctx context.Context, agentType, model, prompt, cwd string, runID ids.RunId) (agentrunner.Result, error) {
	if f.err != nil {
		return agentrunner.Result{}, f.err
	}
	return agentrunner.Result{FinalResponse: f.response}, nil
}

func (f *fakeAgentRunner) EnsureRunsDir() error                                { return nil }
func (f *fakeAgentRunner) InitializeLogFile(run models.Run) error              { return nil }
func (f *fakeAgentRunner) AppendLog(runID ids.RunId, text string) error        { return nil }
func (f *fakeAgentRunner) SaveRunMetadata(run models.Run) error                { return nil }
func (f *fakeAgentRunner) LoadRunMetadata(runID ids.RunId) (models.Run, error) { return models.Run{}, nil }
func (f *fakeAgentRunner) ReadLog(runID ids.RunId) (string, error)             { return "", nil }
func (f *fakeAgentRunner) ListRunLogs() ([]ids.RunId, error)                   { return nil, nil }

func runningTask() models.Task {
	owner := ids.WorkerId("w1")
	return models.Task{
		Id:         ids.TaskId("t1"),
		State:      models.TaskRunning,
		Owner:      &owner,
		Repo:       ids.RepoPath("/repo"),
		Branch:     ids.BranchName("b1"),
		Acceptance: "tests pass",
		TaskType:   models.TaskImplementation,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
}

func newJudge(task models.Task, agentResponse string, agentErr error, logErr error) (*Judge, *fakeStore) {
	fs := newFakeStore(task)
	j := New(fs, &fakeAgentRunner{response: agentResponse, err: agentErr}, "judge", "default")
	j.Logs = &fakeLogReader{log: "run output here", err: logErr}
	return j, fs
}

func TestEvaluateParsesValidVerdict(t *testing.T) {
	j, _ := newJudge(runningTask(), `{"success":true,"reason":"looks good"}`, nil, nil)
	v, err := j.Evaluate(context.Background(), ids.TaskId("t1"), ids.RunId("r1"), "/wt")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !v.Success || v.Reason != "looks good" {
		t.Fatalf("unexpected verdict: %+v", v)
	}
}

func TestEvaluateRejectsNonRunningTask(t *testing.T) {
	task := runningTask()
	task.State = models.TaskDone
	task.Owner = nil
	j, _ := newJudge(task, `{"success":true,"reason":"ok"}`, nil, nil)
	_, err := j.Evaluate(context.Background(), ids.TaskId("t1"), ids.RunId("r1"), "/wt")
	if err == nil {
		t.Fatal("expected error for non-RUNNING task")
	}
}

func TestEvaluateFallsBackOnUnparsableResponse(t *testing.T) {
	j, _ := newJudge(runningTask(), "not json at all", nil, nil)
	v, err := j.Evaluate(context.Background(), ids.TaskId("t1"), ids.RunId("r1"), "/wt")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !v.Success {
		t.Fatalf("expected conservative fallback success=true, got %+v", v)
	}
}

func TestEvaluateFallsBackOnAgentError(t *testing.T) {
	j, _ := newJudge(runningTask(), "", errors.New("agent down"), nil)
	v, err := j.Evaluate(context.Background(), ids.TaskId("t1"), ids.RunId("r1"), "/wt")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !v.Success {
		t.Fatalf("expected conservative fallback on agent error, got %+v", v)
	}
}

func TestEvaluateFallsBackOnInvalidVerdict(t *testing.T) {
	j, _ := newJudge(runningTask(), `{"success":true,"reason":""}`, nil, nil)
	v, err := j.Evaluate(context.Background(), ids.TaskId("t1"), ids.RunId("r1"), "/wt")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !v.Success {
		t.Fatalf("expected conservative fallback for missing reason, got %+v", v)
	}
}

func TestMarkTaskAsCompleted(t *testing.T) {
	task := runningTask()
	j, fs := newJudge(task, "", nil, nil)
	updated, err := j.MarkTaskAsCompleted(task.Id, task.Version)
	if err != nil {
		t.Fatalf("MarkTaskAsCompleted: %v", err)
	}
	if updated.State != models.TaskDone || updated.Owner != nil {
		t.Fatalf("unexpected task state: %+v", updated)
	}
	if fs.tasks[task.Id].State != models.TaskDone {
		t.Fatalf("store not updated: %+v", fs.tasks[task.Id])
	}
}

func TestMarkTaskAsBlockedRecordsReason(t *testing.T) {
	task := runningTask()
	j, _ := newJudge(task, "", nil, nil)
	updated, err := j.MarkTaskAsBlocked(task.Id, task.Version, "missing requirements")
	if err != nil {
		t.Fatalf("MarkTaskAsBlocked: %v", err)
	}
	if updated.State != models.TaskBlocked {
		t.Fatalf("expected BLOCKED, got %s", updated.State)
	}
	if updated.Summary == nil || *updated.Summary != "missing requirements" {
		t.Fatalf("expected summary recorded, got %+v", updated.Summary)
	}
}

func TestMarkTaskForContinuationReQueuesAsReady(t *testing.T) {
	task := runningTask()
	j, _ := newJudge(task, "", nil, nil)
	judgement := models.Judgement{Success: false, Reason: "missing tests", MissingRequirements: []string{"add tests"}}
	updated, err := j.MarkTaskForContinuation(task.Id, task.Version, judgement, 3)
	if err != nil {
		t.Fatalf("MarkTaskForContinuation: %v", err)
	}
	if updated.State != models.TaskReady {
		t.Fatalf("expected READY, got %s", updated.State)
	}
	if updated.JudgementFeedback == nil || updated.JudgementFeedback.Iteration != 1 {
		t.Fatalf("expected iteration 1, got %+v", updated.JudgementFeedback)
	}
}

func TestMarkTaskForContinuationFailsAtMaxIterations(t *testing.T) {
	task := runningTask()
	task.JudgementFeedback = &models.JudgementFeedback{Iteration: 2, MaxIterations: 3}
	j, _ := newJudge(task, "", nil, nil)
	judgement := models.Judgement{Success: false, Reason: "still missing tests"}
	_, err := j.MarkTaskForContinuation(task.Id, task.Version, judgement, 3)
	if err == nil {
		t.Fatal("expected MaxRetriesExceeded error")
	}
}
