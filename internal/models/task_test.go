package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/taskforge/taskforge/internal/ids"
)

func baseTask() Task {
	return Task{
		Id:         ids.TaskId("t1"),
		State:      TaskReady,
		Version:    1,
		Repo:       ids.RepoPath("/repo"),
		Branch:     ids.BranchName("task/t1"),
		Acceptance: "does the thing",
		TaskType:   TaskImplementation,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
}

func TestTaskValidateRequiredFields(t *testing.T) {
	tk := baseTask()
	if err := tk.Validate(); err != nil {
		t.Fatalf("expected valid task, got %v", err)
	}

	missing := tk
	missing.Acceptance = ""
	if err := missing.Validate(); err == nil {
		t.Fatal("expected error for missing acceptance")
	}
}

func TestTaskValidateRunningRequiresOwner(t *testing.T) {
	tk := baseTask()
	tk.State = TaskRunning
	if err := tk.Validate(); err == nil {
		t.Fatal("expected error: RUNNING without owner")
	}

	w := ids.WorkerId("w1")
	tk.Owner = &w
	if err := tk.Validate(); err != nil {
		t.Fatalf("expected valid RUNNING task with owner, got %v", err)
	}

	tk.State = TaskReady
	if err := tk.Validate(); err == nil {
		t.Fatal("expected error: non-RUNNING task with owner set")
	}
}

func TestTaskValidateInvalidTaskType(t *testing.T) {
	tk := baseTask()
	tk.TaskType = TaskType("bogus")
	if err := tk.Validate(); err == nil {
		t.Fatal("expected error for invalid taskType")
	}
}

func TestTaskJSONRoundTripSortsDependencies(t *testing.T) {
	tk := baseTask()
	tk.Dependencies = map[ids.TaskId]struct{}{
		ids.TaskId("c"): {},
		ids.TaskId("a"): {},
		ids.TaskId("b"): {},
	}

	raw, err := json.Marshal(tk)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded Task
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	deps := decoded.DependencyList()
	want := []ids.TaskId{"a", "b", "c"}
	if len(deps) != len(want) {
		t.Fatalf("expected %d deps, got %d", len(want), len(deps))
	}
	for i := range want {
		if deps[i] != want[i] {
			t.Fatalf("expected sorted deps %v, got %v", want, deps)
		}
	}
}

func TestTaskUnmarshalRejectsUnknownFields(t *testing.T) {
	raw := []byte(`{"id":"t1","state":"READY","version":1,"repo":"/r","branch":"b","acceptance":"a","taskType":"implementation","dependencies":[],"createdAt":"2024-01-01T00:00:00Z","updatedAt":"2024-01-01T00:00:00Z","bogusField":true}`)
	var tk Task
	if err := json.Unmarshal(raw, &tk); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestTaskCloneDoesNotAliasMutableFields(t *testing.T) {
	tk := baseTask()
	tk.ScopePaths = []string{"a.go"}
	tk.Dependencies = map[ids.TaskId]struct{}{ids.TaskId("a"): {}}
	summary := "done"
	tk.Summary = &summary

	clone := tk.Clone()
	clone.ScopePaths[0] = "mutated.go"
	clone.Dependencies[ids.TaskId("b")] = struct{}{}
	*clone.Summary = "mutated"

	if tk.ScopePaths[0] != "a.go" {
		t.Fatal("clone aliased ScopePaths")
	}
	if len(tk.Dependencies) != 1 {
		t.Fatal("clone aliased Dependencies map")
	}
	if *tk.Summary != "done" {
		t.Fatal("clone aliased Summary pointer")
	}
}

func TestTaskStateIsTerminal(t *testing.T) {
	terminal := []TaskState{TaskDone, TaskSkipped, TaskCancelled, TaskReplacedByReplan}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Fatalf("expected %s to be terminal", s)
		}
	}
	nonTerminal := []TaskState{TaskReady, TaskRunning, TaskNeedsContinuation, TaskBlocked}
	for _, s := range nonTerminal {
		if s.IsTerminal() {
			t.Fatalf("expected %s to not be terminal", s)
		}
	}
}

func TestTaskValidateReadyWithExhaustedJudgementFeedback(t *testing.T) {
	tk := baseTask()
	tk.JudgementFeedback = &JudgementFeedback{Iteration: 3, MaxIterations: 3}
	if err := tk.Validate(); err == nil {
		t.Fatal("expected error: READY task with exhausted judgement iterations")
	}
}
