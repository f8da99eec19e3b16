// Package worker implements the Worker Operations collaborator (CORE SPEC
// §4.F): given a Task, it sets up or reuses a worktree, invokes the Agent
// Runner to do the coding work, commits whatever changed, and — at the end
// of a chain — pushes the branch.
//
// The overall execute-then-commit shape is adapted from the teacher's
// internal/executor/task.go (TaskExecution/Reviewer pipeline); the git
// plumbing is the internal/vcs collaborator built for worktree add/remove,
// which the teacher's single-worktree model never needed.
package worker

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/taskforge/taskforge/internal/agentrunner"
	"github.com/taskforge/taskforge/internal/ids"
	"github.com/taskforge/taskforge/internal/models"
	"github.com/taskforge/taskforge/internal/taskforgeerr"
)

// GitCollaborator is the subset of internal/vcs.Git that Worker needs,
// narrowed for testability.
type GitCollaborator interface {
	CreateWorktree(ctx context.Context, repo ids.RepoPath, path ids.WorktreePath, branchName ids.BranchName) error
	BranchExists(ctx context.Context, repo ids.RepoPath, name ids.BranchName) (bool, error)
	CommitChanges(ctx context.Context, worktreePath ids.WorktreePath, message string) (bool, error)
	PushBranch(ctx context.Context, worktreePath ids.WorktreePath, branchName ids.BranchName) error
}

// Setup describes how the worktree for this invocation should be obtained.
type Setup struct {
	// ExistingWorktreePath reuses an already-checked-out worktree
	// (continuation, or a subsequent task in a serial chain) instead of
	// creating a new one.
	ExistingWorktreePath ids.WorktreePath

	// WorktreeRoot is the directory under which a new worktree is created
	// when ExistingWorktreePath is empty. The path is <WorktreeRoot>/<taskId>.
	WorktreeRoot string

	// EndOfChain pushes the branch after a successful commit.
	EndOfChain bool
}

// Outcome is what the Leader loop needs back from one Worker invocation.
type Outcome struct {
	WorktreePath ids.WorktreePath
	RunId        ids.RunId
	FinalResponse string
	Committed    bool
	Pushed       bool
}

// Worker is the Worker Operations collaborator.
type Worker struct {
	Git         GitCollaborator
	AgentRunner agentrunner.Runner
	AgentType   string
	Model       string
}

// New returns a Worker wired to git and agentRunner.
func New(git GitCollaborator, agentRunner agentrunner.Runner, agentType, model string) *Worker {
	return &Worker{Git: git, AgentRunner: agentRunner, AgentType: agentType, Model: model}
}

// Run executes the full contract of CORE SPEC §4.F for task t: set up (or
// reuse) a worktree, invoke the Agent Runner, commit whatever changed, and
// — at the end of a chain — push.
func (w *Worker) Run(ctx context.Context, t models.Task, setup Setup, priorFeedback string) (Outcome, error) {
	worktreePath, err := w.ensureWorktree(ctx, t, setup)
	if err != nil {
		return Outcome{}, err
	}

	prompt := BuildPrompt(t, priorFeedback)
	res, err := w.AgentRunner.RunAgent(ctx, w.AgentType, w.Model, prompt, string(worktreePath), "")
	if err != nil {
		return Outcome{WorktreePath: worktreePath}, taskforgeerr.Wrap(taskforgeerr.KindAgentExecutionError, err, "worker: agent run for task %s", t.Id)
	}

	outcome := Outcome{
		WorktreePath:  worktreePath,
		RunId:         res.RunId,
		FinalResponse: res.FinalResponse,
	}

	committed, err := w.Git.CommitChanges(ctx, worktreePath, commitMessage(t))
	if err != nil {
		return outcome, taskforgeerr.Wrap(taskforgeerr.KindIOError, err, "worker: commit for task %s", t.Id)
	}
	outcome.Committed = committed

	if setup.EndOfChain {
		if err := w.Git.PushBranch(ctx, worktreePath, t.Branch); err != nil {
			return outcome, taskforgeerr.Wrap(taskforgeerr.KindIOError, err, "worker: push for task %s", t.Id)
		}
		outcome.Pushed = true
	}

	return outcome, nil
}

func (w *Worker) ensureWorktree(ctx context.Context, t models.Task, setup Setup) (ids.WorktreePath, error) {
	if setup.ExistingWorktreePath != "" {
		return setup.ExistingWorktreePath, nil
	}
	if setup.WorktreeRoot == "" {
		return "", taskforgeerr.New(taskforgeerr.KindValidationError, "worker: worktreeRoot is required when no existing worktree is supplied")
	}
	path := ids.WorktreePath(filepath.Join(setup.WorktreeRoot, string(t.Id)))
	exists, err := w.Git.BranchExists(ctx, t.Repo, t.Branch)
	if err != nil {
		return "", taskforgeerr.Wrap(taskforgeerr.KindIOError, err, "worker: checking branch %s", t.Branch)
	}
	if exists {
		return "", taskforgeerr.New(taskforgeerr.KindAlreadyExists, "worker: branch %s already exists; supply an existing worktree path instead", t.Branch)
	}
	if err := w.Git.CreateWorktree(ctx, t.Repo, path, t.Branch); err != nil {
		return "", taskforgeerr.Wrap(taskforgeerr.KindIOError, err, "worker: creating worktree for task %s", t.Id)
	}
	return path, nil
}

// BuildPrompt assembles the Agent Runner prompt for task t (acceptance,
// context, and any accumulated judge feedback from prior continuations).
func BuildPrompt(t models.Task, priorFeedback string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n\n", t.Id)
	if t.Context != "" {
		fmt.Fprintf(&b, "Context:\n%s\n\n", t.Context)
	}
	fmt.Fprintf(&b, "Acceptance criteria:\n%s\n", t.Acceptance)
	if t.JudgementFeedback != nil && t.JudgementFeedback.LastJudgement != nil {
		lj := t.JudgementFeedback.LastJudgement
		fmt.Fprintf(&b, "\nPrevious attempt was judged incomplete: %s\n", lj.Reason)
		if len(lj.MissingRequirements) > 0 {
			fmt.Fprintf(&b, "Missing requirements:\n")
			for _, m := range lj.MissingRequirements {
				fmt.Fprintf(&b, "- %s\n", m)
			}
		}
	}
	if priorFeedback != "" {
		fmt.Fprintf(&b, "\nAdditional feedback:\n%s\n", priorFeedback)
	}
	return b.String()
}

func commitMessage(t models.Task) string {
	return fmt.Sprintf("taskforge: %s", t.Id)
}
