// Package judge implements the Judge Operations collaborator (CORE SPEC
// §4.G): it reads a run's log, builds a review prompt, calls the Agent
// Runner, extracts and validates a verdict, and exposes CAS-backed
// state-transition helpers the Leader loop uses to act on it.
//
// The prompt-build/parse shape is adapted from the teacher's
// internal/executor/qc.go (QualityController.BuildReviewPrompt /
// ParseReviewResponse); the conservative-accept fallback on parse failure
// is the teacher's own documented design choice, "availability over
// precision", carried forward verbatim in spirit.
package judge

import (
	"context"
	"fmt"
	"time"

	"github.com/taskforge/taskforge/internal/agentrunner"
	"github.com/taskforge/taskforge/internal/ids"
	"github.com/taskforge/taskforge/internal/jsonx"
	"github.com/taskforge/taskforge/internal/logtrunc"
	"github.com/taskforge/taskforge/internal/models"
	"github.com/taskforge/taskforge/internal/store"
	"github.com/taskforge/taskforge/internal/taskforgeerr"
)

// TaskStore is the subset of internal/store.Store the Judge needs.
type TaskStore interface {
	ReadTask(id ids.TaskId) (models.Task, error)
	UpdateTaskCAS(id ids.TaskId, expectedVersion int, fn store.UpdateFn) (models.Task, error)
}

// LogReader is the subset of internal/agentrunner.Runner the Judge needs to
// read back a run's log.
type LogReader interface {
	ReadLog(runID ids.RunId) (string, error)
}

// Judge is the Judge Operations collaborator.
type Judge struct {
	Store       TaskStore
	AgentRunner agentrunner.Runner
	Logs        LogReader
	AgentType   string
	Model       string
	BudgetBytes int
	HeadBytes   int
}

// New returns a Judge wired to store, agentRunner (doubling as the log
// reader), agentType, and model, using logtrunc's default byte budget.
func New(store TaskStore, agentRunner agentrunner.Runner, agentType, model string) *Judge {
	return &Judge{
		Store:       store,
		AgentRunner: agentRunner,
		Logs:        agentRunner,
		AgentType:   agentType,
		Model:       model,
		BudgetBytes: logtrunc.DefaultBudgetBytes,
		HeadBytes:   logtrunc.DefaultHeadBytes,
	}
}

// Evaluate implements CORE SPEC §4.G steps 1-7: read the task (rejecting
// unless RUNNING), read and truncate the run log, build a prompt, call the
// Agent Runner, and extract a validated Judgement — falling back to
// ConservativeFallback on any parse/validation failure.
func (j *Judge) Evaluate(ctx context.Context, taskId ids.TaskId, runIdToRead ids.RunId, worktreePath string) (models.Judgement, error) {
	task, err := j.Store.ReadTask(taskId)
	if err != nil {
		return models.Judgement{}, err
	}
	if task.State != models.TaskRunning {
		return models.Judgement{}, taskforgeerr.New(taskforgeerr.KindValidationError,
			"judge: task %s is %s, not RUNNING", taskId, task.State)
	}

	log, err := j.Logs.ReadLog(runIdToRead)
	if err != nil {
		return models.Judgement{}, taskforgeerr.Wrap(taskforgeerr.KindIOError, err, "judge: reading log for run %s", runIdToRead)
	}
	truncated := logtrunc.Truncate(log, j.BudgetBytes, j.HeadBytes)

	prompt := BuildPrompt(task, truncated)
	res, err := j.AgentRunner.RunAgent(ctx, j.AgentType, j.Model, prompt, worktreePath, "")
	if err != nil {
		return models.ConservativeFallback(fmt.Sprintf("judge agent invocation failed: %v", err)), nil
	}

	var verdict models.Judgement
	if err := jsonx.DecodeInto(res.FinalResponse, &verdict); err != nil {
		return models.ConservativeFallback(fmt.Sprintf("judge response parse failure: %v", err)), nil
	}
	if err := verdict.Validate(); err != nil {
		return models.ConservativeFallback(fmt.Sprintf("judge response validation failure: %v", err)), nil
	}
	return verdict, nil
}

// BuildPrompt assembles the Judge's review prompt for task, containing its
// acceptance criteria and the truncated run log.
func BuildPrompt(task models.Task, truncatedLog string) string {
	return fmt.Sprintf(
		"Evaluate whether the following run satisfies the task's acceptance criteria.\n\n"+
			"Acceptance criteria:\n%s\n\n"+
			"Run log:\n%s\n\n"+
			"Respond with a JSON object: "+
			`{"success":bool,"reason":string,"shouldContinue":bool,"shouldReplan":bool,"alreadySatisfied":bool,"missingRequirements":[string]}`+"\n",
		task.Acceptance, truncatedLog,
	)
}

// MarkTaskAsCompleted transitions task to DONE with no owner (CORE SPEC
// §4.G state-transition helpers).
func (j *Judge) MarkTaskAsCompleted(taskId ids.TaskId, expectedVersion int) (models.Task, error) {
	return j.Store.UpdateTaskCAS(taskId, expectedVersion, func(t *models.Task) {
		t.State = models.TaskDone
		t.Owner = nil
	})
}

// MarkTaskAsSkipped transitions task to SKIPPED with no owner.
func (j *Judge) MarkTaskAsSkipped(taskId ids.TaskId, expectedVersion int) (models.Task, error) {
	return j.Store.UpdateTaskCAS(taskId, expectedVersion, func(t *models.Task) {
		t.State = models.TaskSkipped
		t.Owner = nil
	})
}

// MarkTaskAsBlocked transitions task to BLOCKED with no owner, recording an
// optional reason as a summary.
func (j *Judge) MarkTaskAsBlocked(taskId ids.TaskId, expectedVersion int, reason string) (models.Task, error) {
	return j.Store.UpdateTaskCAS(taskId, expectedVersion, func(t *models.Task) {
		t.State = models.TaskBlocked
		t.Owner = nil
		if reason != "" {
			t.Summary = &reason
		}
	})
}

// MarkTaskForContinuation implements CORE SPEC §4.G: it increments
// judgementFeedback.iteration; if that would exceed maxIter, it fails with
// MaxRetriesExceeded so the caller BLOCKs the task instead; otherwise it
// writes the feedback and re-queues the task as READY.
func (j *Judge) MarkTaskForContinuation(taskId ids.TaskId, expectedVersion int, judgement models.Judgement, maxIter int) (models.Task, error) {
	if maxIter <= 0 {
		maxIter = 3
	}

	task, err := j.Store.ReadTask(taskId)
	if err != nil {
		return models.Task{}, err
	}

	nextIteration := 1
	if task.JudgementFeedback != nil {
		nextIteration = task.JudgementFeedback.Iteration + 1
	}
	if nextIteration >= maxIter {
		return models.Task{}, taskforgeerr.New(taskforgeerr.KindMaxRetriesExceeded,
			"judge: task %s has exhausted %d continuation attempts", taskId, maxIter)
	}

	return j.Store.UpdateTaskCAS(taskId, expectedVersion, func(t *models.Task) {
		t.State = models.TaskReady
		t.Owner = nil
		t.JudgementFeedback = &models.JudgementFeedback{
			Iteration:     nextIteration,
			MaxIterations: maxIter,
			LastJudgement: &models.LastJudgement{
				Reason:              judgement.Reason,
				MissingRequirements: judgement.MissingRequirements,
				EvaluatedAt:         time.Now(),
			},
		}
	})
}
