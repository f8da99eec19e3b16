// Package store implements the Task Store: the persistent, optimistic-
// concurrency record of Tasks, Runs, and Checks that the lifecycle engine
// reads and mutates (CORE SPEC §4.A).
//
// Records are JSON files under a coord directory (`<coord>/tasks/<id>.json`
// etc.), written atomically via temp-file-then-rename
// (see internal/filelock.AtomicWrite). Per-task mutual exclusion uses a
// directory as a lock marker: `os.Mkdir` is atomic and fails with EEXIST
// if the directory already exists, giving fail-fast (non-blocking) lock
// semantics without pulling in flock, which blocks by default.
package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/taskforge/taskforge/internal/filelock"
	"github.com/taskforge/taskforge/internal/ids"
	"github.com/taskforge/taskforge/internal/models"
	"github.com/taskforge/taskforge/internal/taskforgeerr"
)

// Store is the Task Store: persistent Task/Run/Check records with
// optimistic CAS and per-task exclusive locking (CORE SPEC §4.A).
type Store struct {
	root string
}

// New returns a Store rooted at coordDir (CORE SPEC §6 persistent layout).
// The directory structure is created if it doesn't already exist.
func New(coordDir string) (*Store, error) {
	s := &Store{root: coordDir}
	for _, sub := range []string{"tasks", "runs", "checks", ".locks"} {
		if err := os.MkdirAll(filepath.Join(coordDir, sub), 0755); err != nil {
			return nil, taskforgeerr.Wrap(taskforgeerr.KindIOError, err, "creating %s directory", sub)
		}
	}
	return s, nil
}

func (s *Store) taskPath(id ids.TaskId) string {
	return filepath.Join(s.root, "tasks", string(id)+".json")
}

func (s *Store) runPath(id ids.RunId) string {
	return filepath.Join(s.root, "runs", string(id)+".json")
}

func (s *Store) checkPath(id string) string {
	return filepath.Join(s.root, "checks", id+".json")
}

func (s *Store) lockDir(id ids.TaskId) string {
	return filepath.Join(s.root, ".locks", string(id))
}

// acquireLock creates the lock directory for id. It fails fast (no
// blocking wait) with LockHeld if the lock is already held
// (CORE SPEC §4.A: "A second acquisition attempt while the lock is held
// fails fast with LockHeld").
func (s *Store) acquireLock(id ids.TaskId) error {
	dir := s.lockDir(id)
	if err := os.Mkdir(dir, 0755); err != nil {
		if os.IsExist(err) {
			return taskforgeerr.New(taskforgeerr.KindLockHeld, "task %s is locked", id)
		}
		return taskforgeerr.Wrap(taskforgeerr.KindIOError, err, "acquiring lock for task %s", id)
	}
	return nil
}

func (s *Store) releaseLock(id ids.TaskId) {
	os.Remove(s.lockDir(id))
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return taskforgeerr.New(taskforgeerr.KindNotFound, "no record at %s", path)
		}
		return taskforgeerr.Wrap(taskforgeerr.KindIOError, err, "reading %s", path)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return taskforgeerr.Wrap(taskforgeerr.KindValidationError, err, "parsing %s", path)
	}
	return nil
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return taskforgeerr.Wrap(taskforgeerr.KindValidationError, err, "marshaling %s", path)
	}
	if err := filelock.AtomicWrite(path, data); err != nil {
		return taskforgeerr.Wrap(taskforgeerr.KindIOError, err, "writing %s", path)
	}
	return nil
}

// CreateTask persists t with version 0. Fails AlreadyExists if t.Id is
// already present (CORE SPEC §4.A).
func (s *Store) CreateTask(t models.Task) error {
	if t.Id == "" {
		return taskforgeerr.New(taskforgeerr.KindValidationError, "task id is required")
	}
	path := s.taskPath(t.Id)
	if _, err := os.Stat(path); err == nil {
		return taskforgeerr.New(taskforgeerr.KindAlreadyExists, "task %s already exists", t.Id)
	}
	t.Version = 0
	if err := t.Validate(); err != nil {
		return taskforgeerr.Wrap(taskforgeerr.KindValidationError, err, "task %s", t.Id)
	}
	return writeJSON(path, t)
}

// ReadTask returns the current record for id. Fails NotFound if absent.
func (s *Store) ReadTask(id ids.TaskId) (models.Task, error) {
	var t models.Task
	if err := readJSON(s.taskPath(id), &t); err != nil {
		return models.Task{}, err
	}
	return t, nil
}

// ListTasks returns all tasks. Ordering is unspecified by contract; this
// implementation returns them sorted by id for deterministic iteration in
// callers and tests.
func (s *Store) ListTasks() ([]models.Task, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, "tasks"))
	if err != nil {
		return nil, taskforgeerr.Wrap(taskforgeerr.KindIOError, err, "listing tasks")
	}
	tasks := make([]models.Task, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		id := ids.TaskId(trimJSONSuffix(e.Name()))
		t, err := s.ReadTask(id)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].Id < tasks[j].Id })
	return tasks, nil
}

// DeleteTask removes the record for id. Callers must ensure the task is in
// a terminal state; the store does not enforce this (CORE SPEC §4.A:
// "terminal-only" is a caller contract, not a store invariant it can check
// without reading first).
func (s *Store) DeleteTask(id ids.TaskId) error {
	path := s.taskPath(id)
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return taskforgeerr.New(taskforgeerr.KindNotFound, "task %s not found", id)
		}
		return taskforgeerr.Wrap(taskforgeerr.KindIOError, err, "deleting task %s", id)
	}
	return nil
}

// UpdateFn mutates a Task in place as part of a CAS update.
type UpdateFn func(*models.Task)

// UpdateTaskCAS acquires the per-task lock, reads the current record,
// checks current.Version == expectedVersion (else VersionConflict), applies
// fn, bumps Version and UpdatedAt, persists, and releases the lock
// (CORE SPEC §4.A). The lock is released on every exit path including
// failure.
func (s *Store) UpdateTaskCAS(id ids.TaskId, expectedVersion int, fn UpdateFn) (models.Task, error) {
	if err := s.acquireLock(id); err != nil {
		return models.Task{}, err
	}
	defer s.releaseLock(id)

	current, err := s.ReadTask(id)
	if err != nil {
		return models.Task{}, err
	}
	if current.Version != expectedVersion {
		return models.Task{}, taskforgeerr.New(taskforgeerr.KindVersionConflict,
			"task %s: expected version %d, got %d", id, expectedVersion, current.Version)
	}

	updated := current.Clone()
	fn(&updated)
	updated.Version = current.Version + 1
	updated.UpdatedAt = nowFunc()

	if err := updated.Validate(); err != nil {
		return models.Task{}, taskforgeerr.Wrap(taskforgeerr.KindValidationError, err, "task %s", id)
	}
	if err := writeJSON(s.taskPath(id), updated); err != nil {
		return models.Task{}, err
	}
	return updated, nil
}

// WriteRun appends a Run record (CORE SPEC §4.A: "append-only").
func (s *Store) WriteRun(r models.Run) error {
	if err := r.Validate(); err != nil {
		return taskforgeerr.Wrap(taskforgeerr.KindValidationError, err, "run %s", r.Id)
	}
	return writeJSON(s.runPath(r.Id), r)
}

// ReadRun returns the Run record for id.
func (s *Store) ReadRun(id ids.RunId) (models.Run, error) {
	var r models.Run
	if err := readJSON(s.runPath(id), &r); err != nil {
		return models.Run{}, err
	}
	return r, nil
}

// WriteCheck appends a Check record (CORE SPEC §4.A: "append-only").
func (s *Store) WriteCheck(c models.Check) error {
	if err := c.Validate(); err != nil {
		return taskforgeerr.Wrap(taskforgeerr.KindValidationError, err, "check %s", c.Id)
	}
	return writeJSON(s.checkPath(c.Id), c)
}

func trimJSONSuffix(name string) string {
	const suffix = ".json"
	if len(name) > len(suffix) && name[len(name)-len(suffix):] == suffix {
		return name[:len(name)-len(suffix)]
	}
	return name
}

// nowFunc is a seam tests can override; production code always uses
// time.Now via the default value.
var nowFunc = time.Now
