// Package models defines the persistent record types of the task lifecycle
// engine (Task, Run, Check, and the Planning/Planner/Leader sessions), the
// JSON schemas contractual agent output must match, and the invariants those
// types must uphold (CORE SPEC §3).
package models

import (
	"fmt"
	"time"

	"github.com/taskforge/taskforge/internal/ids"
)

// TaskState is the lifecycle state of a Task (CORE SPEC §3).
type TaskState string

const (
	TaskReady              TaskState = "READY"
	TaskRunning            TaskState = "RUNNING"
	TaskNeedsContinuation  TaskState = "NEEDS_CONTINUATION"
	TaskBlocked            TaskState = "BLOCKED"
	TaskDone               TaskState = "DONE"
	TaskSkipped            TaskState = "SKIPPED"
	TaskCancelled          TaskState = "CANCELLED"
	TaskReplacedByReplan   TaskState = "REPLACED_BY_REPLAN"
)

// IsTerminal reports whether a task in this state is no longer picked by
// the scheduler (CORE SPEC §3 Lifecycles).
func (s TaskState) IsTerminal() bool {
	switch s {
	case TaskDone, TaskSkipped, TaskCancelled, TaskReplacedByReplan:
		return true
	default:
		return false
	}
}

// TaskType classifies the kind of work a Task represents.
type TaskType string

const (
	TaskImplementation TaskType = "implementation"
	TaskDocumentation  TaskType = "documentation"
	TaskInvestigation  TaskType = "investigation"
	TaskIntegration    TaskType = "integration"
)

// JudgementFeedback accumulates judge feedback across continuation attempts
// (CORE SPEC §3, §4.G markTaskForContinuation).
type JudgementFeedback struct {
	Iteration      int            `json:"iteration"`
	MaxIterations  int            `json:"maxIterations"`
	LastJudgement  *LastJudgement `json:"lastJudgement,omitempty"`
}

// LastJudgement is the most recent judge verdict recorded on a task.
type LastJudgement struct {
	Reason              string    `json:"reason"`
	MissingRequirements []string  `json:"missingRequirements,omitempty"`
	EvaluatedAt         time.Time `json:"evaluatedAt"`
}

// ReplanningInfo tracks a task's position in a replanning chain (CORE SPEC
// §3, §4.H replanFailedTask/markTaskAsReplanned).
type ReplanningInfo struct {
	Iteration      int          `json:"iteration"`
	MaxIterations  int          `json:"maxIterations"`
	OriginalTaskId ids.TaskId   `json:"originalTaskId"`
	ReplacedBy     []ids.TaskId `json:"replacedBy,omitempty"`
	ReplanReason   string       `json:"replanReason,omitempty"`
}

// Task is the central mutable entity of the task lifecycle engine.
type Task struct {
	Id      ids.TaskId  `json:"id"`
	State   TaskState   `json:"state"`
	Version int         `json:"version"`
	Owner   *ids.WorkerId `json:"owner,omitempty"`

	Repo       ids.RepoPath   `json:"repo"`
	Branch     ids.BranchName `json:"branch"`
	ScopePaths []string       `json:"scopePaths"`

	Acceptance string   `json:"acceptance"`
	Context    string   `json:"context"`
	Summary    *string  `json:"summary,omitempty"`
	TaskType   TaskType `json:"taskType"`

	Dependencies map[ids.TaskId]struct{} `json:"-"`

	LatestRunId *ids.RunId `json:"latestRunId,omitempty"`

	JudgementFeedback *JudgementFeedback `json:"judgementFeedback,omitempty"`
	ReplanningInfo    *ReplanningInfo    `json:"replanningInfo,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// taskWire is the on-disk/wire representation of Task: Dependencies is
// serialized as a sorted slice rather than a map for deterministic JSON.
type taskWire struct {
	Id                ids.TaskId         `json:"id"`
	State             TaskState          `json:"state"`
	Version           int                `json:"version"`
	Owner             *ids.WorkerId      `json:"owner,omitempty"`
	Repo              ids.RepoPath       `json:"repo"`
	Branch            ids.BranchName     `json:"branch"`
	ScopePaths        []string           `json:"scopePaths"`
	Acceptance        string             `json:"acceptance"`
	Context           string             `json:"context"`
	Summary           *string            `json:"summary,omitempty"`
	TaskType          TaskType           `json:"taskType"`
	Dependencies      []ids.TaskId       `json:"dependencies"`
	LatestRunId       *ids.RunId         `json:"latestRunId,omitempty"`
	JudgementFeedback *JudgementFeedback `json:"judgementFeedback,omitempty"`
	ReplanningInfo    *ReplanningInfo    `json:"replanningInfo,omitempty"`
	CreatedAt         time.Time          `json:"createdAt"`
	UpdatedAt         time.Time          `json:"updatedAt"`
}

// MarshalJSON implements json.Marshaler, flattening Dependencies to a
// deterministic slice.
func (t Task) MarshalJSON() ([]byte, error) {
	w := taskWire{
		Id: t.Id, State: t.State, Version: t.Version, Owner: t.Owner,
		Repo: t.Repo, Branch: t.Branch, ScopePaths: t.ScopePaths,
		Acceptance: t.Acceptance, Context: t.Context, Summary: t.Summary,
		TaskType: t.TaskType, LatestRunId: t.LatestRunId,
		JudgementFeedback: t.JudgementFeedback, ReplanningInfo: t.ReplanningInfo,
		CreatedAt: t.CreatedAt, UpdatedAt: t.UpdatedAt,
	}
	w.Dependencies = sortedTaskIds(t.Dependencies)
	return marshalIndent(w)
}

// UnmarshalJSON implements json.Unmarshaler, rebuilding the Dependencies set.
func (t *Task) UnmarshalJSON(data []byte) error {
	var w taskWire
	if err := unmarshalStrict(data, &w); err != nil {
		return err
	}
	*t = Task{
		Id: w.Id, State: w.State, Version: w.Version, Owner: w.Owner,
		Repo: w.Repo, Branch: w.Branch, ScopePaths: w.ScopePaths,
		Acceptance: w.Acceptance, Context: w.Context, Summary: w.Summary,
		TaskType: w.TaskType, LatestRunId: w.LatestRunId,
		JudgementFeedback: w.JudgementFeedback, ReplanningInfo: w.ReplanningInfo,
		CreatedAt: w.CreatedAt, UpdatedAt: w.UpdatedAt,
	}
	t.Dependencies = make(map[ids.TaskId]struct{}, len(w.Dependencies))
	for _, d := range w.Dependencies {
		t.Dependencies[d] = struct{}{}
	}
	return nil
}

func sortedTaskIds(m map[ids.TaskId]struct{}) []ids.TaskId {
	out := make([]ids.TaskId, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j] < out[j-1]; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// Validate checks structural invariants that do not require store access
// (CORE SPEC §3 invariant 1, partially; cross-task invariants 2 and 4 are
// checked by the store and depplanner packages respectively).
func (t *Task) Validate() error {
	if t.Id == "" {
		return fmt.Errorf("task: id is required")
	}
	if t.Repo == "" {
		return fmt.Errorf("task %s: repo is required", t.Id)
	}
	if t.Branch == "" {
		return fmt.Errorf("task %s: branch is required", t.Id)
	}
	if t.Acceptance == "" {
		return fmt.Errorf("task %s: acceptance is required", t.Id)
	}
	switch t.TaskType {
	case TaskImplementation, TaskDocumentation, TaskInvestigation, TaskIntegration:
	default:
		return fmt.Errorf("task %s: invalid taskType %q", t.Id, t.TaskType)
	}
	if t.State == TaskRunning && t.Owner == nil {
		return fmt.Errorf("task %s: RUNNING requires an owner", t.Id)
	}
	if t.State != TaskRunning && t.Owner != nil {
		return fmt.Errorf("task %s: only RUNNING tasks may have an owner", t.Id)
	}
	if t.ReplanningInfo != nil && t.ReplanningInfo.Iteration > t.ReplanningInfo.MaxIterations {
		return fmt.Errorf("task %s: replanningInfo.iteration %d exceeds maxIterations %d", t.Id, t.ReplanningInfo.Iteration, t.ReplanningInfo.MaxIterations)
	}
	if t.State == TaskReady && t.JudgementFeedback != nil && t.JudgementFeedback.Iteration >= t.JudgementFeedback.MaxIterations {
		return fmt.Errorf("task %s: READY with judgementFeedback.iteration %d >= maxIterations %d", t.Id, t.JudgementFeedback.Iteration, t.JudgementFeedback.MaxIterations)
	}
	return nil
}

// HasDependency reports whether t depends on d.
func (t *Task) HasDependency(d ids.TaskId) bool {
	_, ok := t.Dependencies[d]
	return ok
}

// DependencyList returns t's dependencies as a deterministically sorted slice.
func (t *Task) DependencyList() []ids.TaskId {
	return sortedTaskIds(t.Dependencies)
}

// Clone returns a deep-enough copy of t suitable for passing to a CAS
// mutator function without aliasing slices/maps with the stored original.
func (t Task) Clone() Task {
	c := t
	c.ScopePaths = append([]string(nil), t.ScopePaths...)
	c.Dependencies = make(map[ids.TaskId]struct{}, len(t.Dependencies))
	for k := range t.Dependencies {
		c.Dependencies[k] = struct{}{}
	}
	if t.Summary != nil {
		s := *t.Summary
		c.Summary = &s
	}
	if t.Owner != nil {
		o := *t.Owner
		c.Owner = &o
	}
	if t.JudgementFeedback != nil {
		jf := *t.JudgementFeedback
		if t.JudgementFeedback.LastJudgement != nil {
			lj := *t.JudgementFeedback.LastJudgement
			lj.MissingRequirements = append([]string(nil), t.JudgementFeedback.LastJudgement.MissingRequirements...)
			jf.LastJudgement = &lj
		}
		c.JudgementFeedback = &jf
	}
	if t.ReplanningInfo != nil {
		ri := *t.ReplanningInfo
		ri.ReplacedBy = append([]ids.TaskId(nil), t.ReplanningInfo.ReplacedBy...)
		c.ReplanningInfo = &ri
	}
	return c
}
