// Package entrypoint implements the Orchestrator Entrypoint (CORE SPEC
// §2 control flow, §4.N): it wires an incoming instruction through the
// Planner, seeds a LeaderSession, drives the Leader Execution Loop, and —
// once every task reaches a terminal state — asks the Planner's
// final-completion judge whether the instruction is actually satisfied,
// looping the Leader over any additional tasks it generates.
//
// This top-level wiring is adapted from the teacher's internal/cmd/run.go
// (config → orchestrator → logger wiring) and cmd/conductor/main.go's
// top-level call sequence, generalized from the teacher's single
// plan-then-execute pass to this spec's plan/execute/re-evaluate loop.
package entrypoint

import (
	"context"
	"time"

	"github.com/taskforge/taskforge/internal/ids"
	"github.com/taskforge/taskforge/internal/leader"
	"github.com/taskforge/taskforge/internal/models"
	"github.com/taskforge/taskforge/internal/plannerops"
)

// defaultMaxAdditionalRounds bounds how many times judgeFinalCompletion can
// send the Leader loop back out for follow-up tasks before the Entrypoint
// gives up and returns the last judgement as-is.
const defaultMaxAdditionalRounds = 3

// TaskStore is the subset of internal/store.Store the Entrypoint needs to
// hand the Planner's final-completion judge the current task set.
type TaskStore interface {
	ListTasks() ([]models.Task, error)
}

// Entrypoint is the Orchestrator Entrypoint collaborator.
type Entrypoint struct {
	Planner             *plannerops.Planner
	Leader              *leader.Leader
	Sessions            leader.SessionStore
	Tasks               TaskStore
	MaxAdditionalRounds int
}

// New returns an Entrypoint wired to its collaborators, using the spec's
// implicit default of up to 3 additional rounds of follow-up tasks.
func New(planner *plannerops.Planner, l *leader.Leader, sessions leader.SessionStore, tasks TaskStore) *Entrypoint {
	return &Entrypoint{
		Planner:             planner,
		Leader:              l,
		Sessions:            sessions,
		Tasks:               tasks,
		MaxAdditionalRounds: defaultMaxAdditionalRounds,
	}
}

// Result is what a full RunDirect/RunFromPlannerSession invocation returns.
type Result struct {
	SessionId         ids.SessionId
	Session           *models.LeaderSession
	CompletedTaskIds  []ids.TaskId
	FailedTaskIds     []ids.TaskId
	PendingEscalation *models.EscalationRecord
	FinalJudgement    *models.FinalCompletionJudgement
}

// RunDirect is the (H) entry point of CORE SPEC §2: instruction enters
// directly at Planner Operations, skipping the Discovery/Design/Review
// conversation Planning Operations would otherwise drive.
func (e *Entrypoint) RunDirect(ctx context.Context, instruction string) (Result, error) {
	return e.start(ctx, ids.NewSessionId(), instruction)
}

// RunFromPlannerSession is the (I) entry point of CORE SPEC §2: instruction
// has already been through Planning Operations' Discovery/Design/Review
// conversation, and plannerSessionId/instruction are the PlannerSession and
// enhanced instruction planningops.Approve produced.
func (e *Entrypoint) RunFromPlannerSession(ctx context.Context, plannerSessionId ids.SessionId, instruction string) (Result, error) {
	return e.start(ctx, plannerSessionId, instruction)
}

// Continue resumes driving an already-planned session to completion,
// without calling PlanTasks again. `lead <planFile>` and `resolve
// <sessionId>` use this: the session and its tasks were already seeded by
// a prior RunDirect/RunFromPlannerSession (or a previous Continue call)
// and persisted to the Plan File the CLI reads instruction/sessionId back
// from.
func (e *Entrypoint) Continue(ctx context.Context, sessionId ids.SessionId, instruction string) (Result, error) {
	return e.driveToCompletion(ctx, sessionId, instruction)
}

func (e *Entrypoint) start(ctx context.Context, sessionId ids.SessionId, instruction string) (Result, error) {
	plan, err := e.Planner.PlanTasks(ctx, sessionId, instruction)
	if err != nil {
		return Result{}, err
	}

	now := time.Now()
	session := &models.LeaderSession{
		SessionId:      sessionId,
		Status:         models.LeaderPlanning,
		TotalTaskCount: len(plan.Tasks),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := e.Sessions.Save(sessionId, session); err != nil {
		return Result{}, err
	}

	return e.driveToCompletion(ctx, sessionId, instruction)
}

// driveToCompletion implements CORE SPEC §4.N's "(optional) post-integration
// evaluation → additional tasks" step: run the Leader loop; if it finishes
// with every task terminal, ask judgeFinalCompletion whether the original
// instruction is satisfied; if not, generate additional tasks and run the
// Leader loop again, up to MaxAdditionalRounds times.
func (e *Entrypoint) driveToCompletion(ctx context.Context, sessionId ids.SessionId, instruction string) (Result, error) {
	maxRounds := e.MaxAdditionalRounds
	if maxRounds <= 0 {
		maxRounds = defaultMaxAdditionalRounds
	}

	var lastJudgement *models.FinalCompletionJudgement
	completed := []ids.TaskId{}
	failed := []ids.TaskId{}

	for round := 0; round <= maxRounds; round++ {
		runResult, err := e.Leader.Run(ctx, sessionId)
		if err != nil {
			return Result{}, err
		}
		completed = append(completed, runResult.CompletedTaskIds...)
		failed = append(failed, runResult.FailedTaskIds...)

		if runResult.Session.Status != models.LeaderCompleted {
			return Result{
				SessionId:         sessionId,
				Session:           runResult.Session,
				CompletedTaskIds:  completed,
				FailedTaskIds:     failed,
				PendingEscalation: runResult.PendingEscalation,
				FinalJudgement:    lastJudgement,
			}, nil
		}

		tasks, err := e.Tasks.ListTasks()
		if err != nil {
			return Result{}, err
		}
		judgement, err := e.Planner.JudgeFinalCompletion(ctx, instruction, tasks)
		if err != nil {
			return Result{}, err
		}
		lastJudgement = &judgement

		if judgement.IsComplete {
			return Result{
				SessionId:        sessionId,
				Session:          runResult.Session,
				CompletedTaskIds: completed,
				FailedTaskIds:    failed,
				FinalJudgement:   lastJudgement,
			}, nil
		}

		additional, err := e.Planner.PlanAdditionalTasks(ctx, sessionId, instruction, judgement.MissingAspects)
		if err != nil {
			return Result{}, err
		}
		if len(additional.Tasks) == 0 {
			return Result{
				SessionId:        sessionId,
				Session:          runResult.Session,
				CompletedTaskIds: completed,
				FailedTaskIds:    failed,
				FinalJudgement:   lastJudgement,
			}, nil
		}

		session, err := e.Sessions.Load(sessionId)
		if err != nil {
			return Result{}, err
		}
		session.TotalTaskCount += len(additional.Tasks)
		session.Status = models.LeaderExecuting
		session.UpdatedAt = time.Now()
		if err := e.Sessions.Save(sessionId, session); err != nil {
			return Result{}, err
		}
	}

	session, err := e.Sessions.Load(sessionId)
	if err != nil {
		return Result{}, err
	}
	return Result{
		SessionId:        sessionId,
		Session:          session,
		CompletedTaskIds: completed,
		FailedTaskIds:    failed,
		FinalJudgement:   lastJudgement,
	}, nil
}
