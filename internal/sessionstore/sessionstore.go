// Package sessionstore persists the four session kinds (Planning, Planner,
// Leader, Exploration) under the coord directory's sessions tree
// (CORE SPEC §6: `planning-sessions/`, `planner-sessions/`,
// `leader-sessions/`, `exploration-sessions/`).
//
// Unlike the Task Store, sessions are single-writer in the common case (one
// Leader Execution Loop owns a LeaderSession; one planning conversation
// owns a PlanningSession), so writes use flock-guarded atomic writes
// (internal/filelock.LockAndWrite) rather than the Task Store's fail-fast
// directory lock.
package sessionstore

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/taskforge/taskforge/internal/filelock"
	"github.com/taskforge/taskforge/internal/ids"
	"github.com/taskforge/taskforge/internal/taskforgeerr"
)

// validatable is implemented by a pointer to every session record type
// (Validate has a pointer receiver on all four session types).
type validatable interface {
	Validate() error
}

// Store persists records of pointer type T (e.g. *models.PlanningSession),
// keyed by ids.SessionId, under a single subdirectory of the coord tree.
type Store[T validatable] struct {
	dir string
}

func newStore[T validatable](coordDir, subdir string) (*Store[T], error) {
	dir := filepath.Join(coordDir, subdir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, taskforgeerr.Wrap(taskforgeerr.KindIOError, err, "creating %s directory", subdir)
	}
	return &Store[T]{dir: dir}, nil
}

func (s *Store[T]) path(id ids.SessionId) string {
	return filepath.Join(s.dir, string(id)+".json")
}

// Exists reports whether a record with id is present.
func (s *Store[T]) Exists(id ids.SessionId) bool {
	_, err := os.Stat(s.path(id))
	return err == nil
}

// Save persists record under id, overwriting any existing record
// (sessions are mutated in place across their lifetime, unlike Tasks'
// CAS-guarded updates).
func (s *Store[T]) Save(id ids.SessionId, record T) error {
	if err := record.Validate(); err != nil {
		return taskforgeerr.Wrap(taskforgeerr.KindValidationError, err, "session %s", id)
	}
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return taskforgeerr.Wrap(taskforgeerr.KindValidationError, err, "marshaling session %s", id)
	}
	if err := filelock.LockAndWrite(s.path(id), data); err != nil {
		return taskforgeerr.Wrap(taskforgeerr.KindIOError, err, "writing session %s", id)
	}
	return nil
}

// Load reads and strictly validates the record stored under id.
func (s *Store[T]) Load(id ids.SessionId) (T, error) {
	var record T
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return record, taskforgeerr.New(taskforgeerr.KindNotFound, "session %s not found", id)
		}
		return record, taskforgeerr.Wrap(taskforgeerr.KindIOError, err, "reading session %s", id)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&record); err != nil {
		return record, taskforgeerr.Wrap(taskforgeerr.KindValidationError, err, "parsing session %s", id)
	}
	if err := record.Validate(); err != nil {
		return record, taskforgeerr.Wrap(taskforgeerr.KindValidationError, err, "session %s", id)
	}
	return record, nil
}

// List returns the session ids with a persisted record, in directory order.
func (s *Store[T]) List() ([]ids.SessionId, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, taskforgeerr.Wrap(taskforgeerr.KindIOError, err, "listing %s", s.dir)
	}
	out := make([]ids.SessionId, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		const suffix = ".json"
		if len(name) > len(suffix) && name[len(name)-len(suffix):] == suffix {
			out = append(out, ids.SessionId(name[:len(name)-len(suffix)]))
		}
	}
	return out, nil
}

// Delete removes the record stored under id, if present.
func (s *Store[T]) Delete(id ids.SessionId) error {
	if err := os.Remove(s.path(id)); err != nil {
		if os.IsNotExist(err) {
			return taskforgeerr.New(taskforgeerr.KindNotFound, "session %s not found", id)
		}
		return taskforgeerr.Wrap(taskforgeerr.KindIOError, err, "deleting session %s", id)
	}
	return nil
}
