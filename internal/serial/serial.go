// Package serial implements the Serial Executor (CORE SPEC §4.L): a
// maximal dependency chain extracted by internal/depplanner runs its tasks
// one after another inside a single shared worktree, rather than each
// getting its own, since each task in the chain depends only on its
// immediate predecessor.
//
// The chain-in-one-worktree shape has no direct teacher analogue (the
// teacher always ran its whole plan in the current worktree); it is
// modeled on internal/executor/wave.go's sequential-batch loop, narrowed
// to one worktree and threading Worker's own per-task Setup/Outcome
// contract through each task in turn.
package serial

import (
	"context"

	"github.com/taskforge/taskforge/internal/ids"
	"github.com/taskforge/taskforge/internal/judge"
	"github.com/taskforge/taskforge/internal/models"
	"github.com/taskforge/taskforge/internal/store"
	"github.com/taskforge/taskforge/internal/taskforgeerr"
	"github.com/taskforge/taskforge/internal/worker"
)

// defaultTaskRetries matches config.DefaultConfig().SerialChainTaskRetries.
const defaultTaskRetries = 2

// TaskStore is the subset of internal/store.Store the Serial Executor needs.
type TaskStore interface {
	ReadTask(id ids.TaskId) (models.Task, error)
	UpdateTaskCAS(id ids.TaskId, expectedVersion int, fn store.UpdateFn) (models.Task, error)
}

// GitCollaborator is the subset of internal/vcs.Git the Serial Executor
// needs beyond what it delegates to Worker: reading back the worktree's
// actual current branch, to detect when a later chain task's recorded
// branch has drifted from the shared worktree (CORE SPEC §4.L: "CAS-update
// branch if actual worktree branch differs").
type GitCollaborator interface {
	GetCurrentBranch(ctx context.Context, repo ids.RepoPath) (ids.BranchName, error)
}

// Executor is the Serial Executor collaborator.
type Executor struct {
	Tasks       TaskStore
	Git         GitCollaborator
	Worker      *worker.Worker
	Judge       *judge.Judge
	TaskRetries int
}

// New returns an Executor wired to its collaborators, using the spec's
// default of 2 per-task retries within a chain.
func New(tasks TaskStore, git GitCollaborator, w *worker.Worker, j *judge.Judge) *Executor {
	return &Executor{Tasks: tasks, Git: git, Worker: w, Judge: j, TaskRetries: defaultTaskRetries}
}

// Result reports what happened to a chain.
type Result struct {
	CompletedTaskIds []ids.TaskId
	BlockedTaskId    *ids.TaskId
	ReplanTaskId     *ids.TaskId
	// Reason is the judge verdict (or worker failure) text behind
	// BlockedTaskId/ReplanTaskId, so a caller escalating a chain replan has
	// something to pass to Escalation.Escalate.
	Reason       string
	WorktreePath ids.WorktreePath
}

// Run executes chain (CORE SPEC §4.L): claims, runs, and commits task 0 in
// a fresh worktree; each subsequent task is claimed and run inside that
// same worktree, carrying the previous task's judge feedback forward only
// within a single task's own retry attempts (each new chain task starts
// with no prior feedback of its own). Any chain failure BLOCKs the failing
// task and aborts the remaining tasks in chain; the branch is pushed once,
// after the last successfully-committed task.
func (e *Executor) Run(ctx context.Context, chain []ids.TaskId, worktreeRoot string) (Result, error) {
	result := Result{}
	if len(chain) == 0 {
		return result, nil
	}

	var worktreePath ids.WorktreePath

	for i, taskId := range chain {
		endOfChain := i == len(chain)-1

		task, err := e.Tasks.ReadTask(taskId)
		if err != nil {
			return result, err
		}

		if i > 0 {
			if err := e.reconcileChainBranch(ctx, &task, worktreePath); err != nil {
				return result, err
			}
		}

		setup := worker.Setup{WorktreeRoot: worktreeRoot, EndOfChain: endOfChain}
		if i > 0 {
			setup = worker.Setup{ExistingWorktreePath: worktreePath, EndOfChain: endOfChain}
		}

		completed, blocked, replanId, reason, newWorktreePath, err := e.runTaskWithRetries(ctx, task, setup)
		if err != nil {
			return result, err
		}
		worktreePath = newWorktreePath
		result.WorktreePath = worktreePath

		if blocked != nil {
			result.BlockedTaskId = blocked
			result.Reason = reason
			return result, nil
		}
		if replanId != nil {
			result.ReplanTaskId = replanId
			result.Reason = reason
			return result, nil
		}
		result.CompletedTaskIds = append(result.CompletedTaskIds, completed.Id)
	}

	return result, nil
}

// reconcileChainBranch checks the worktree's actual current branch against
// task's recorded branch; if they differ (the chain's shared worktree
// stayed on task 0's branch while task carries its own original branch
// name), CAS-updates task.Branch to match reality before claiming it.
func (e *Executor) reconcileChainBranch(ctx context.Context, task *models.Task, worktreePath ids.WorktreePath) error {
	actual, err := e.Git.GetCurrentBranch(ctx, ids.RepoPath(worktreePath))
	if err != nil {
		return taskforgeerr.Wrap(taskforgeerr.KindIOError, err, "serial: reading current branch for %s", task.Id)
	}
	if actual == "" || actual == task.Branch {
		return nil
	}
	updated, err := e.Tasks.UpdateTaskCAS(task.Id, task.Version, func(t *models.Task) {
		t.Branch = actual
	})
	if err != nil {
		return err
	}
	*task = updated
	return nil
}

// runTaskWithRetries claims task, runs it, judges it, and on a
// shouldContinue verdict restarts just this task up to TaskRetries times
// (CORE SPEC §4.L: "continuation restarts just that task up to
// serialChainTaskRetries"). It returns exactly one of (completed task,
// blocked task id, replan task id).
func (e *Executor) runTaskWithRetries(ctx context.Context, task models.Task, setup worker.Setup) (models.Task, *ids.TaskId, *ids.TaskId, string, ids.WorktreePath, error) {
	retries := e.TaskRetries
	if retries < 0 {
		retries = defaultTaskRetries
	}

	feedback := ""
	current := task

	for attempt := 0; ; attempt++ {
		workerId := ids.NewWorkerId()
		acquired, err := e.Tasks.UpdateTaskCAS(current.Id, current.Version, func(t *models.Task) {
			t.State = models.TaskRunning
			t.Owner = &workerId
		})
		if err != nil {
			return models.Task{}, nil, nil, "", "", err
		}

		outcome, err := e.Worker.Run(ctx, acquired, setup, feedback)
		if err != nil {
			reason := err.Error()
			blocked, markErr := e.Judge.MarkTaskAsBlocked(acquired.Id, acquired.Version, reason)
			if markErr != nil {
				return models.Task{}, nil, nil, "", outcome.WorktreePath, markErr
			}
			id := blocked.Id
			return models.Task{}, &id, nil, reason, outcome.WorktreePath, nil
		}

		withRun, err := e.Tasks.UpdateTaskCAS(acquired.Id, acquired.Version, func(t *models.Task) {
			runId := outcome.RunId
			t.LatestRunId = &runId
		})
		if err != nil {
			return models.Task{}, nil, nil, "", outcome.WorktreePath, err
		}

		verdict, err := e.Judge.Evaluate(ctx, withRun.Id, outcome.RunId, string(outcome.WorktreePath))
		if err != nil {
			return models.Task{}, nil, nil, "", outcome.WorktreePath, err
		}

		switch {
		case verdict.AlreadySatisfied:
			skipped, err := e.Judge.MarkTaskAsSkipped(withRun.Id, withRun.Version)
			return skipped, nil, nil, "", outcome.WorktreePath, err

		case verdict.Success:
			done, err := e.Judge.MarkTaskAsCompleted(withRun.Id, withRun.Version)
			return done, nil, nil, "", outcome.WorktreePath, err

		case verdict.ShouldReplan:
			id := withRun.Id
			return models.Task{}, nil, &id, verdict.Reason, outcome.WorktreePath, nil

		case verdict.ShouldContinue:
			if attempt >= retries {
				blocked, err := e.Judge.MarkTaskAsBlocked(withRun.Id, withRun.Version, verdict.Reason)
				if err != nil {
					return models.Task{}, nil, nil, "", outcome.WorktreePath, err
				}
				id := blocked.Id
				return models.Task{}, &id, nil, verdict.Reason, outcome.WorktreePath, nil
			}
			requeued, err := e.Judge.MarkTaskForContinuation(withRun.Id, withRun.Version, verdict, retries+1)
			if err != nil {
				if taskforgeerr.Is(err, taskforgeerr.KindMaxRetriesExceeded) {
					blocked, blockErr := e.Judge.MarkTaskAsBlocked(withRun.Id, withRun.Version, verdict.Reason)
					if blockErr != nil {
						return models.Task{}, nil, nil, "", outcome.WorktreePath, blockErr
					}
					id := blocked.Id
					return models.Task{}, &id, nil, verdict.Reason, outcome.WorktreePath, nil
				}
				return models.Task{}, nil, nil, "", outcome.WorktreePath, err
			}
			current = requeued
			feedback = verdict.Reason
			setup = worker.Setup{ExistingWorktreePath: outcome.WorktreePath, EndOfChain: setup.EndOfChain}
			continue

		default:
			blocked, err := e.Judge.MarkTaskAsBlocked(withRun.Id, withRun.Version, verdict.Reason)
			if err != nil {
				return models.Task{}, nil, nil, "", outcome.WorktreePath, err
			}
			id := blocked.Id
			return models.Task{}, &id, nil, verdict.Reason, outcome.WorktreePath, nil
		}
	}
}
