// Package ids defines the opaque nominal identifier types shared across
// taskforge's task lifecycle engine, and generators for new ones.
//
// Every identifier in the system is a distinct string-backed type so that,
// for example, a BranchName can never be passed where a TaskId is expected
// without an explicit conversion. Equality is always byte-equality on the
// underlying string.
package ids

import "github.com/google/uuid"

// TaskId identifies a Task record in the Task Store.
type TaskId string

// RunId identifies a Run record produced by an Agent Runner invocation.
type RunId string

// WorkerId identifies the in-process worker (goroutine/session) that
// currently owns a RUNNING task.
type WorkerId string

// BranchName is a VCS branch name.
type BranchName string

// RepoPath is the filesystem path to a repository checkout.
type RepoPath string

// WorktreePath is the filesystem path to an isolated worktree checkout.
type WorktreePath string

// SessionId identifies a Planning, Planner, Leader, or Exploration session.
type SessionId string

// EscalationId identifies an EscalationRecord.
type EscalationId string

// NewTaskId generates a random TaskId. Tasks created by planning use a
// deterministic id instead (see plannerops); this is for ids minted outside
// that flow (e.g. exploration sessions).
func NewTaskId() TaskId {
	return TaskId(uuid.NewString())
}

// NewRunId generates a random RunId.
func NewRunId() RunId {
	return RunId(uuid.NewString())
}

// NewWorkerId generates a random WorkerId.
func NewWorkerId() WorkerId {
	return WorkerId(uuid.NewString())
}

// NewSessionId generates a random SessionId.
func NewSessionId() SessionId {
	return SessionId(uuid.NewString())
}

// NewEscalationId generates a random EscalationId.
func NewEscalationId() EscalationId {
	return EscalationId(uuid.NewString())
}

// Short returns the first 8 characters of a SessionId, used to build
// deterministic task ids (task-<sessionShort>-<rawId>).
func (s SessionId) Short() string {
	str := string(s)
	if len(str) <= 8 {
		return str
	}
	return str[:8]
}
