package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/taskforge/taskforge/internal/ids"
	"github.com/taskforge/taskforge/internal/models"
	"github.com/taskforge/taskforge/internal/taskforgeerr"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func baseTask(id string) models.Task {
	return models.Task{
		Id:         ids.TaskId(id),
		State:      models.TaskReady,
		Repo:       "github.com/example/repo",
		Branch:     ids.BranchName("task/" + id),
		Acceptance: "it works",
		TaskType:   models.TaskImplementation,
	}
}

func TestCreateAndReadTask(t *testing.T) {
	s := newTestStore(t)
	task := baseTask("t1")
	if err := s.CreateTask(task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	got, err := s.ReadTask(task.Id)
	if err != nil {
		t.Fatalf("ReadTask: %v", err)
	}
	if got.Id != task.Id || got.Version != 0 {
		t.Fatalf("unexpected task record: %+v", got)
	}
}

func TestCreateTaskRejectsDuplicate(t *testing.T) {
	s := newTestStore(t)
	task := baseTask("t1")
	if err := s.CreateTask(task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	err := s.CreateTask(task)
	if taskforgeerr.KindOf(err) != taskforgeerr.KindAlreadyExists {
		t.Fatalf("expected AlreadyExists, got %v", err)
	}
}

func TestReadTaskNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.ReadTask(ids.TaskId("missing"))
	if taskforgeerr.KindOf(err) != taskforgeerr.KindNotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestCreateTaskRejectsInvalid(t *testing.T) {
	s := newTestStore(t)
	bad := baseTask("t1")
	bad.Acceptance = ""
	err := s.CreateTask(bad)
	if taskforgeerr.KindOf(err) != taskforgeerr.KindValidationError {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestListTasksSortedById(t *testing.T) {
	s := newTestStore(t)
	for _, id := range []string{"b", "a", "c"} {
		if err := s.CreateTask(baseTask(id)); err != nil {
			t.Fatalf("CreateTask %s: %v", id, err)
		}
	}
	tasks, err := s.ListTasks()
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(tasks) != 3 {
		t.Fatalf("expected 3 tasks, got %d", len(tasks))
	}
	for i, want := range []string{"a", "b", "c"} {
		if string(tasks[i].Id) != want {
			t.Fatalf("tasks[%d] = %s, want %s", i, tasks[i].Id, want)
		}
	}
}

func TestDeleteTask(t *testing.T) {
	s := newTestStore(t)
	task := baseTask("t1")
	if err := s.CreateTask(task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if err := s.DeleteTask(task.Id); err != nil {
		t.Fatalf("DeleteTask: %v", err)
	}
	_, err := s.ReadTask(task.Id)
	if taskforgeerr.KindOf(err) != taskforgeerr.KindNotFound {
		t.Fatalf("expected NotFound after delete, got %v", err)
	}
}

func TestDeleteTaskNotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.DeleteTask(ids.TaskId("missing"))
	if taskforgeerr.KindOf(err) != taskforgeerr.KindNotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestUpdateTaskCASSuccess(t *testing.T) {
	s := newTestStore(t)
	task := baseTask("t1")
	if err := s.CreateTask(task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	updated, err := s.UpdateTaskCAS(task.Id, 0, func(t *models.Task) {
		t.State = models.TaskRunning
		owner := ids.WorkerId("w1")
		t.Owner = &owner
	})
	if err != nil {
		t.Fatalf("UpdateTaskCAS: %v", err)
	}
	if updated.Version != 1 {
		t.Fatalf("expected version 1, got %d", updated.Version)
	}
	if updated.State != models.TaskRunning {
		t.Fatalf("expected state RUNNING, got %s", updated.State)
	}

	reread, err := s.ReadTask(task.Id)
	if err != nil {
		t.Fatalf("ReadTask: %v", err)
	}
	if reread.Version != 1 {
		t.Fatalf("expected persisted version 1, got %d", reread.Version)
	}
}

func TestUpdateTaskCASVersionConflict(t *testing.T) {
	s := newTestStore(t)
	task := baseTask("t1")
	if err := s.CreateTask(task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	_, err := s.UpdateTaskCAS(task.Id, 5, func(t *models.Task) {})
	if taskforgeerr.KindOf(err) != taskforgeerr.KindVersionConflict {
		t.Fatalf("expected VersionConflict, got %v", err)
	}
}

func TestUpdateTaskCASRejectsInvalidResult(t *testing.T) {
	s := newTestStore(t)
	task := baseTask("t1")
	if err := s.CreateTask(task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	_, err := s.UpdateTaskCAS(task.Id, 0, func(t *models.Task) {
		t.Acceptance = ""
	})
	if taskforgeerr.KindOf(err) != taskforgeerr.KindValidationError {
		t.Fatalf("expected ValidationError, got %v", err)
	}

	reread, rerr := s.ReadTask(task.Id)
	if rerr != nil {
		t.Fatalf("ReadTask: %v", rerr)
	}
	if reread.Version != 0 {
		t.Fatalf("expected invalid update to leave version unchanged, got %d", reread.Version)
	}
}

func TestUpdateTaskCASReleasesLockOnFailure(t *testing.T) {
	s := newTestStore(t)
	task := baseTask("t1")
	if err := s.CreateTask(task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	_, err := s.UpdateTaskCAS(task.Id, 99, func(t *models.Task) {})
	if taskforgeerr.KindOf(err) != taskforgeerr.KindVersionConflict {
		t.Fatalf("expected VersionConflict, got %v", err)
	}

	if _, err := os.Stat(s.lockDir(task.Id)); !os.IsNotExist(err) {
		t.Fatalf("expected lock directory to be removed after failed CAS, got err=%v", err)
	}

	if _, err := s.UpdateTaskCAS(task.Id, 0, func(t *models.Task) { t.State = models.TaskRunning; o := ids.WorkerId("w1"); t.Owner = &o }); err != nil {
		t.Fatalf("expected lock to be free for subsequent CAS, got %v", err)
	}
}

func TestUpdateTaskCASFailsFastWhenLockHeld(t *testing.T) {
	s := newTestStore(t)
	task := baseTask("t1")
	if err := s.CreateTask(task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	if err := os.Mkdir(s.lockDir(task.Id), 0755); err != nil {
		t.Fatalf("simulating held lock: %v", err)
	}

	_, err := s.UpdateTaskCAS(task.Id, 0, func(t *models.Task) {})
	if taskforgeerr.KindOf(err) != taskforgeerr.KindLockHeld {
		t.Fatalf("expected LockHeld, got %v", err)
	}

	if _, statErr := os.Stat(s.lockDir(task.Id)); statErr != nil {
		t.Fatalf("expected pre-existing lock directory to remain (not released by a non-owner): %v", statErr)
	}
}

func TestAtomicWriteLeavesNoPartialFile(t *testing.T) {
	s := newTestStore(t)
	task := baseTask("t1")
	if err := s.CreateTask(task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	entries, err := os.ReadDir(filepath.Join(s.root, "tasks"))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) != ".json" {
			t.Fatalf("found non-json leftover in tasks dir: %s", e.Name())
		}
	}
}

func TestWriteAndReadRun(t *testing.T) {
	s := newTestStore(t)
	r := models.Run{
		Id:        ids.RunId("r1"),
		TaskId:    ids.TaskId("t1"),
		AgentType: "worker",
		Model:     "default",
		StartedAt: nowFunc(),
	}
	if err := s.WriteRun(r); err != nil {
		t.Fatalf("WriteRun: %v", err)
	}
	got, err := s.ReadRun(r.Id)
	if err != nil {
		t.Fatalf("ReadRun: %v", err)
	}
	if got.Id != r.Id || got.TaskId != r.TaskId {
		t.Fatalf("unexpected run record: %+v", got)
	}
}

func TestWriteCheck(t *testing.T) {
	s := newTestStore(t)
	c := models.Check{Id: "c1", TaskId: ids.TaskId("t1"), Success: true, Details: "looks fine"}
	if err := s.WriteCheck(c); err != nil {
		t.Fatalf("WriteCheck: %v", err)
	}
	if _, err := os.Stat(s.checkPath("c1")); err != nil {
		t.Fatalf("expected check file to exist: %v", err)
	}
}

