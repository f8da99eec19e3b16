// Package leader implements the Leader Execution Loop (CORE SPEC §4.J):
// the per-session cooperative loop that asks the Dependency Planner for
// the next ready task or serial chain, drives it through Worker/Judge (or
// the Serial Executor for a chain), consults the Loop Detector for
// livelock, and routes judgement outcomes to a state transition or the
// Escalation Engine.
//
// The bounded-iteration, reload-then-dispatch loop shape is adapted from
// the teacher's internal/executor/wave.go (WaveExecutor.ExecutePlan), and
// the context-cancellation/signal-handling wrapper from
// internal/executor/orchestrator.go's Orchestrator.ExecutePlan. Unlike the
// teacher's wave executor, which fans a whole wave out across goroutines,
// CORE SPEC §5 calls for "a single-threaded cooperative loop per
// LeaderSession today (batch-of-one)", so this loop claims and drives one
// task or one serial chain per iteration rather than a bounded-concurrency
// batch.
package leader

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/taskforge/taskforge/internal/depplanner"
	"github.com/taskforge/taskforge/internal/escalation"
	"github.com/taskforge/taskforge/internal/ids"
	"github.com/taskforge/taskforge/internal/judge"
	"github.com/taskforge/taskforge/internal/ledger"
	"github.com/taskforge/taskforge/internal/logger"
	"github.com/taskforge/taskforge/internal/loopdetector"
	"github.com/taskforge/taskforge/internal/models"
	"github.com/taskforge/taskforge/internal/scheduler"
	"github.com/taskforge/taskforge/internal/serial"
	"github.com/taskforge/taskforge/internal/store"
	"github.com/taskforge/taskforge/internal/taskforgeerr"
	"github.com/taskforge/taskforge/internal/worker"
)

// defaultMaxIterations is the Leader loop's hard iteration wall (CORE
// SPEC §4.J step 2, §5 "Livelock defense"), overridable via config.
const defaultMaxIterations = 1000

// TaskStore is the subset of internal/store.Store the Leader loop needs.
type TaskStore interface {
	ListTasks() ([]models.Task, error)
	ReadTask(id ids.TaskId) (models.Task, error)
	UpdateTaskCAS(id ids.TaskId, expectedVersion int, fn store.UpdateFn) (models.Task, error)
}

// SessionStore is the subset of internal/sessionstore.Store[*models.LeaderSession]
// the Leader loop needs.
type SessionStore interface {
	Save(id ids.SessionId, record *models.LeaderSession) error
	Load(id ids.SessionId) (*models.LeaderSession, error)
}

// LedgerRecorder is the subset of internal/ledger.Ledger the Leader loop
// needs to record a non-OK Loop Detector trigger, so the ledger's
// loop_detector_events table reflects what the Loop Detector actually saw
// rather than staying an always-empty table.
type LedgerRecorder interface {
	RecordLoopDetectorEvent(ctx context.Context, e ledger.LoopDetectorEvent) error
}

// Result is what Run returns to its caller (CORE SPEC §4.J: "Returns
// {session, completedTaskIds, failedTaskIds, pendingEscalation?}").
type Result struct {
	Session           *models.LeaderSession
	CompletedTaskIds  []ids.TaskId
	FailedTaskIds     []ids.TaskId
	PendingEscalation *models.EscalationRecord
}

// Leader is the Leader Execution Loop collaborator.
type Leader struct {
	Tasks        TaskStore
	Sessions     SessionStore
	Worker       *worker.Worker
	Judge        *judge.Judge
	Escalation   *escalation.Engine
	Serial       *serial.Executor
	LoopDetector *loopdetector.Detector
	Ledger       LedgerRecorder
	Logger       logger.Logger

	WorktreeRoot           string
	MaxIterations          int
	JudgementMaxIterations int
	MaxWorkers             int

	sched scheduler.State
}

// New returns a Leader wired to its collaborators, using CORE SPEC
// defaults for MaxIterations (1000), JudgementMaxIterations (3), and the
// Loop Detector's documented thresholds. Serial and Ledger are left unset;
// a caller driving serial chains or wanting loop-detector events recorded
// assigns them as fields, matching the rest of this type's
// set-after-construction convention.
func New(tasks TaskStore, sessions SessionStore, w *worker.Worker, j *judge.Judge, esc *escalation.Engine, worktreeRoot string) *Leader {
	return &Leader{
		Tasks:                  tasks,
		Sessions:               sessions,
		Worker:                 w,
		Judge:                  j,
		Escalation:             esc,
		LoopDetector:           loopdetector.New(loopdetector.DefaultThresholds()),
		WorktreeRoot:           worktreeRoot,
		MaxIterations:          defaultMaxIterations,
		JudgementMaxIterations: 3,
		MaxWorkers:             1,
	}
}

// Run drives sessionId's Leader Execution Loop to completion, or until
// maxIterations, an empty ready set, or a pending escalation stops it
// (CORE SPEC §4.J). A SIGINT/SIGTERM cancels ctx cooperatively: the
// in-flight Worker/Judge (or Serial Executor) call for the current task or
// chain completes, then no new task is claimed.
func (l *Leader) Run(ctx context.Context, sessionId ids.SessionId) (Result, error) {
	session, err := l.Sessions.Load(sessionId)
	if err != nil {
		return Result{}, err
	}
	session.Status = models.LeaderExecuting
	if err := l.Sessions.Save(sessionId, session); err != nil {
		return Result{}, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	maxIterations := l.MaxIterations
	if maxIterations <= 0 {
		maxIterations = defaultMaxIterations
	}

	l.sched = scheduler.New(l.maxWorkersOrDefault())
	if l.LoopDetector == nil {
		l.LoopDetector = loopdetector.New(loopdetector.DefaultThresholds())
	}

	result := Result{Session: session}

	for iteration := 0; iteration < maxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			break
		}

		tasks, err := l.Tasks.ListTasks()
		if err != nil {
			session.Status = models.LeaderFailed
			_ = l.Sessions.Save(sessionId, session)
			return result, err
		}

		if allTerminal(tasks) {
			session.Status = models.LeaderCompleted
			break
		}

		plan := depplanner.Plan(tasks, l.maxWorkersOrDefault())
		if len(plan.Parallel) == 0 {
			session.Status = models.LeaderReviewing
			break
		}

		candidateId := plan.Parallel[0]
		step := string(candidateId)

		stepResult := l.LoopDetector.RecordStepExecution(step)
		if action := loopdetector.Decide(stepResult); action.Kind == loopdetector.ActionAbort {
			l.recordLoopDetectorEvent(ctx, sessionId, step, stepResult, action)
			blockedId, err := l.blockCandidate(candidateId, action.Reason)
			if err != nil {
				session.Status = models.LeaderFailed
				_ = l.Sessions.Save(sessionId, session)
				return result, err
			}
			if blockedId != nil {
				result.FailedTaskIds = append(result.FailedTaskIds, *blockedId)
			}
			session.UpdatedAt = time.Now()
			if err := l.Sessions.Save(sessionId, session); err != nil {
				return result, err
			}
			continue
		}

		chain := chainFor(plan.Chains, candidateId)

		var done bool
		if len(chain) > 0 {
			done, err = l.dispatchChain(ctx, sessionId, session, &result, chain, step)
		} else {
			done, err = l.dispatchSingleTask(ctx, sessionId, session, &result, candidateId, step)
		}
		if err != nil {
			return result, err
		}
		if done {
			return result, nil
		}

		session.UpdatedAt = time.Now()
		if err := l.Sessions.Save(sessionId, session); err != nil {
			return result, err
		}
	}

	if session.Status == models.LeaderExecuting {
		session.Status = models.LeaderReviewing
	}
	session.UpdatedAt = time.Now()
	if err := l.Sessions.Save(sessionId, session); err != nil {
		return result, err
	}
	result.Session = session
	return result, nil
}

// dispatchSingleTask claims and drives one lone-ready task through
// Worker/Judge, exactly as a single-task chain of length 1 would, and
// routes the verdict to a state transition or an escalation. It reports
// (ReadTask errors, CAS version conflicts) by returning (false, nil) so
// the caller retries the next iteration, matching the loop's original
// per-iteration continue semantics.
func (l *Leader) dispatchSingleTask(ctx context.Context, sessionId ids.SessionId, session *models.LeaderSession, result *Result, taskId ids.TaskId, step string) (bool, error) {
	task, err := l.Tasks.ReadTask(taskId)
	if err != nil {
		return false, nil
	}

	workerId := ids.NewWorkerId()
	acquired, err := l.Tasks.UpdateTaskCAS(task.Id, task.Version, func(t *models.Task) {
		t.State = models.TaskRunning
		t.Owner = &workerId
	})
	if err != nil {
		if taskforgeerr.Is(err, taskforgeerr.KindVersionConflict) {
			return false, nil
		}
		session.Status = models.LeaderFailed
		_ = l.Sessions.Save(sessionId, session)
		return false, err
	}

	l.sched = l.sched.Add(workerId)
	defer func() { l.sched = l.sched.Remove(workerId) }()

	session.ActiveTaskIds = append(session.ActiveTaskIds, acquired.Id)
	session.MemberTaskHistory = append(session.MemberTaskHistory, acquired.Id)

	outcome, err := l.Worker.Run(ctx, acquired, worker.Setup{WorktreeRoot: l.WorktreeRoot, EndOfChain: true}, "")
	if err != nil {
		reason := workerFailureReason(err)
		blocked, markErr := l.Judge.MarkTaskAsBlocked(acquired.Id, acquired.Version, reason)
		if markErr != nil {
			session.Status = models.LeaderFailed
			_ = l.Sessions.Save(sessionId, session)
			return false, markErr
		}
		result.FailedTaskIds = append(result.FailedTaskIds, blocked.Id)
		session.ActiveTaskIds = removeTaskId(session.ActiveTaskIds, blocked.Id)
		return l.recordTransition(ctx, sessionId, session, result, step, string(models.TaskRunning), string(models.TaskBlocked), reason)
	}

	withRun, err := l.Tasks.UpdateTaskCAS(acquired.Id, acquired.Version, func(t *models.Task) {
		runId := outcome.RunId
		t.LatestRunId = &runId
	})
	if err != nil {
		session.Status = models.LeaderFailed
		_ = l.Sessions.Save(sessionId, session)
		return false, err
	}

	verdict, err := l.Judge.Evaluate(ctx, withRun.Id, outcome.RunId, string(outcome.WorktreePath))
	if err != nil {
		session.Status = models.LeaderFailed
		_ = l.Sessions.Save(sessionId, session)
		return false, err
	}

	session.ActiveTaskIds = removeTaskId(session.ActiveTaskIds, withRun.Id)
	l.recordResponse(ctx, sessionId, step, verdict.Reason)

	switch {
	case verdict.AlreadySatisfied:
		skipped, err := l.Judge.MarkTaskAsSkipped(withRun.Id, withRun.Version)
		if err != nil {
			session.Status = models.LeaderFailed
			_ = l.Sessions.Save(sessionId, session)
			return false, err
		}
		result.CompletedTaskIds = append(result.CompletedTaskIds, skipped.Id)
		session.CompletedTaskCount++
		return l.recordTransition(ctx, sessionId, session, result, step, string(models.TaskRunning), string(models.TaskSkipped), verdict.Reason)

	case verdict.Success:
		completed, err := l.Judge.MarkTaskAsCompleted(withRun.Id, withRun.Version)
		if err != nil {
			session.Status = models.LeaderFailed
			_ = l.Sessions.Save(sessionId, session)
			return false, err
		}
		result.CompletedTaskIds = append(result.CompletedTaskIds, completed.Id)
		session.CompletedTaskCount++
		return l.recordTransition(ctx, sessionId, session, result, step, string(models.TaskRunning), string(models.TaskDone), verdict.Reason)

	case verdict.ShouldContinue:
		_, err := l.Judge.MarkTaskForContinuation(withRun.Id, withRun.Version, verdict, l.judgementMaxIterations())
		if err != nil {
			if taskforgeerr.Is(err, taskforgeerr.KindMaxRetriesExceeded) {
				return l.escalateExhaustedContinuation(ctx, sessionId, session, result, withRun, verdict.Reason)
			}
			session.Status = models.LeaderFailed
			_ = l.Sessions.Save(sessionId, session)
			return false, err
		}
		return l.recordTransition(ctx, sessionId, session, result, step, string(models.TaskRunning), string(models.TaskReady), verdict.Reason)

	case verdict.ShouldReplan:
		return l.escalate(ctx, sessionId, session, result, models.EscalationPlanner, verdict.Reason, &withRun)

	default:
		return l.escalate(ctx, sessionId, session, result, models.EscalationUser, verdict.Reason, &withRun)
	}
}

// dispatchChain dispatches a maximal serial chain through the Serial
// Executor (CORE SPEC §4.L), so later tasks in the chain see the
// committed worktree state of earlier ones, then folds the chain Result
// back into session/result the same way a single task's outcome would be.
func (l *Leader) dispatchChain(ctx context.Context, sessionId ids.SessionId, session *models.LeaderSession, result *Result, chain []ids.TaskId, step string) (bool, error) {
	if l.Serial == nil {
		return false, taskforgeerr.New(taskforgeerr.KindValidationError,
			"leader: serial chain %v requires a wired Serial Executor", chain)
	}

	workerId := ids.NewWorkerId()
	l.sched = l.sched.Add(workerId)
	defer func() { l.sched = l.sched.Remove(workerId) }()

	session.ActiveTaskIds = append(session.ActiveTaskIds, chain...)
	session.MemberTaskHistory = append(session.MemberTaskHistory, chain...)

	chainResult, err := l.Serial.Run(ctx, chain, l.WorktreeRoot)
	if err != nil {
		session.Status = models.LeaderFailed
		_ = l.Sessions.Save(sessionId, session)
		return false, err
	}

	for _, id := range chainResult.CompletedTaskIds {
		result.CompletedTaskIds = append(result.CompletedTaskIds, id)
		session.CompletedTaskCount++
		session.ActiveTaskIds = removeTaskId(session.ActiveTaskIds, id)
	}

	l.recordResponse(ctx, sessionId, step, chainResult.Reason)

	switch {
	case chainResult.BlockedTaskId != nil:
		session.ActiveTaskIds = removeTaskId(session.ActiveTaskIds, *chainResult.BlockedTaskId)
		result.FailedTaskIds = append(result.FailedTaskIds, *chainResult.BlockedTaskId)
		return l.recordTransition(ctx, sessionId, session, result, step, string(models.TaskRunning), string(models.TaskBlocked), chainResult.Reason)

	case chainResult.ReplanTaskId != nil:
		session.ActiveTaskIds = removeTaskId(session.ActiveTaskIds, *chainResult.ReplanTaskId)
		replanTask, err := l.Tasks.ReadTask(*chainResult.ReplanTaskId)
		if err != nil {
			session.Status = models.LeaderFailed
			_ = l.Sessions.Save(sessionId, session)
			return false, err
		}
		return l.escalate(ctx, sessionId, session, result, models.EscalationPlanner, chainResult.Reason, &replanTask)

	default:
		return l.recordTransition(ctx, sessionId, session, result, step, string(models.TaskRunning), string(models.TaskDone), chainResult.Reason)
	}
}

// escalateExhaustedContinuation resolves the conflict between CORE SPEC
// §4.J.g, which literally lists only markTaskAsBlocked on continuation
// exhaustion, and the scenario describing that case as ending the session
// ESCALATING with a USER record: it performs both, blocking the task (so
// it stops being picked up as RUNNING-with-no-progress) and then raising a
// USER escalation citing the exhaustion, rather than leaving the session
// to end quietly at REVIEWING.
func (l *Leader) escalateExhaustedContinuation(ctx context.Context, sessionId ids.SessionId, session *models.LeaderSession, result *Result, task models.Task, reason string) (bool, error) {
	blocked, err := l.Judge.MarkTaskAsBlocked(task.Id, task.Version, reason)
	if err != nil {
		session.Status = models.LeaderFailed
		_ = l.Sessions.Save(sessionId, session)
		return false, err
	}
	result.FailedTaskIds = append(result.FailedTaskIds, blocked.Id)
	return l.escalate(ctx, sessionId, session, result, models.EscalationUser,
		fmt.Sprintf("task %s exhausted continuation retries: %s", blocked.Id, reason), &blocked)
}

// escalate wraps Escalation.Escalate with the record-bookkeeping and
// ESCALATING-status handling every escalating branch needs (CORE SPEC
// §4.J.g's shouldReplan/default cases, and the livelock and
// continuation-exhaustion paths that route through the same policy).
func (l *Leader) escalate(ctx context.Context, sessionId ids.SessionId, session *models.LeaderSession, result *Result, target models.EscalationTarget, reason string, relatedTask *models.Task) (bool, error) {
	outcome, err := l.Escalation.Escalate(ctx, sessionId, target, reason, relatedTask)
	if err != nil {
		session.Status = models.LeaderFailed
		_ = l.Sessions.Save(sessionId, session)
		return false, err
	}
	session.EscalationRecords = append(session.EscalationRecords, outcome.Record)
	if outcome.Pending {
		result.PendingEscalation = &outcome.Record
		session.Status = models.LeaderEscalating
		if err := l.Sessions.Save(sessionId, session); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

// recordResponse feeds a judge/chain verdict's reason text to the Loop
// Detector's fingerprint window (CORE SPEC §4.E: "recordResponse(step,
// text)"); a similar_response result only ever maps to retry_with_hint,
// which carries no further action here beyond the ledger trace.
func (l *Leader) recordResponse(ctx context.Context, sessionId ids.SessionId, step, text string) {
	res := l.LoopDetector.RecordResponse(step, text)
	if action := loopdetector.Decide(res); action.Kind != loopdetector.ActionOK {
		l.recordLoopDetectorEvent(ctx, sessionId, step, res, action)
	}
}

// recordTransition feeds an observed task-state transition to the Loop
// Detector (CORE SPEC §4.E: "recordTransition(from,to,reason)"); a
// repeating-pattern result maps to escalate(USER), which this folds into
// the same done-signal the caller already threads back to Run, so a
// detected livelock ends the session ESCALATING even when the individual
// task that triggered it otherwise succeeded.
func (l *Leader) recordTransition(ctx context.Context, sessionId ids.SessionId, session *models.LeaderSession, result *Result, step, from, to, reason string) (bool, error) {
	res := l.LoopDetector.RecordTransition(from, to, reason)
	action := loopdetector.Decide(res)
	if action.Kind == loopdetector.ActionOK {
		return false, nil
	}
	l.recordLoopDetectorEvent(ctx, sessionId, step, res, action)
	if action.Kind != loopdetector.ActionEscalate {
		return false, nil
	}
	return l.escalate(ctx, sessionId, session, result, models.EscalationUser, action.Reason, nil)
}

// recordLoopDetectorEvent appends a non-OK Loop Detector trigger to the
// ledger, if one is wired; a nil Ledger (e.g. in tests) silently skips it.
func (l *Leader) recordLoopDetectorEvent(ctx context.Context, sessionId ids.SessionId, step string, res loopdetector.Result, action loopdetector.Action) {
	if l.Ledger == nil {
		return
	}
	_ = l.Ledger.RecordLoopDetectorEvent(ctx, ledger.LoopDetectorEvent{
		SessionId:  sessionId,
		Step:       step,
		Kind:       string(res.Kind),
		Action:     string(action.Kind),
		Iterations: res.Iterations,
		Similarity: res.Similarity,
		RecordedAt: time.Now(),
	})
}

// blockCandidate marks taskId BLOCKED with reason, for the livelock-abort
// path where the Loop Detector fires before the task is ever claimed.
func (l *Leader) blockCandidate(taskId ids.TaskId, reason string) (*ids.TaskId, error) {
	task, err := l.Tasks.ReadTask(taskId)
	if err != nil {
		return nil, nil
	}
	blocked, err := l.Judge.MarkTaskAsBlocked(task.Id, task.Version, reason)
	if err != nil {
		return nil, err
	}
	return &blocked.Id, nil
}

// chainFor returns the serial chain in chains headed by head, or nil if
// head is a lone ready task rather than a chain head.
func chainFor(chains [][]ids.TaskId, head ids.TaskId) []ids.TaskId {
	for _, c := range chains {
		if len(c) > 0 && c[0] == head {
			return c
		}
	}
	return nil
}

func (l *Leader) maxWorkersOrDefault() int {
	if l.MaxWorkers <= 0 {
		return 1
	}
	return l.MaxWorkers
}

func (l *Leader) judgementMaxIterations() int {
	if l.JudgementMaxIterations <= 0 {
		return 3
	}
	return l.JudgementMaxIterations
}

func allTerminal(tasks []models.Task) bool {
	for _, t := range tasks {
		if !t.State.IsTerminal() {
			return false
		}
	}
	return true
}

func removeTaskId(list []ids.TaskId, target ids.TaskId) []ids.TaskId {
	out := make([]ids.TaskId, 0, len(list))
	for _, id := range list {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}

func workerFailureReason(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
