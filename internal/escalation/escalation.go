// Package escalation implements the Escalation Engine (CORE SPEC §4.K):
// per-target attempt counters, the USER/PLANNER routing policy, and the
// fallback chain that degrades LOGIC_VALIDATOR/EXTERNAL_ADVISOR requests
// to USER.
package escalation

import (
	"context"
	"fmt"
	"time"

	"github.com/taskforge/taskforge/internal/ids"
	"github.com/taskforge/taskforge/internal/models"
	"github.com/taskforge/taskforge/internal/plannerops"
	"github.com/taskforge/taskforge/internal/taskforgeerr"
)

// LeaderSessionStore is the subset of a LeaderSession store Escalation
// needs to append records and flip status.
type LeaderSessionStore interface {
	Save(id ids.SessionId, record *models.LeaderSession) error
	Load(id ids.SessionId) (*models.LeaderSession, error)
}

// Limits bounds per-target escalation attempts (CORE SPEC §4.K defaults:
// USER=10, PLANNER=3, LOGIC_VALIDATOR=5, EXTERNAL_ADVISOR=5).
type Limits struct {
	User            int
	Planner         int
	LogicValidator  int
	ExternalAdvisor int
}

// DefaultLimits returns the spec's documented default counters.
func DefaultLimits() Limits {
	return Limits{User: 10, Planner: 3, LogicValidator: 5, ExternalAdvisor: 5}
}

func (l Limits) get(target models.EscalationTarget) int {
	switch target {
	case models.EscalationUser:
		return l.User
	case models.EscalationPlanner:
		return l.Planner
	case models.EscalationLogicValidator:
		return l.LogicValidator
	case models.EscalationExternalAdvisor:
		return l.ExternalAdvisor
	default:
		return 0
	}
}

// Engine is the Escalation Engine collaborator.
type Engine struct {
	Sessions LeaderSessionStore
	Planner  *plannerops.Planner
	Limits   Limits
}

// New returns an Engine wired to its LeaderSession store and the Planner
// collaborator the PLANNER escalation path calls into.
func New(sessions LeaderSessionStore, planner *plannerops.Planner) *Engine {
	return &Engine{Sessions: sessions, Planner: planner, Limits: DefaultLimits()}
}

// Outcome is what a caller (the Leader Execution Loop) should do next
// after Escalate returns.
type Outcome struct {
	// Record is the EscalationRecord appended to the session.
	Record models.EscalationRecord
	// Pending is true when the loop should halt (USER escalation, or a
	// limit was reached and nothing else could absorb the escalation).
	Pending bool
	// Resumed is true when a PLANNER escalation succeeded and the loop
	// should continue immediately.
	Resumed bool
}

// Escalate routes an escalation request for sessionId to target, applying
// the CORE SPEC §4.K policy: USER always halts the loop; PLANNER attempts
// replanFailedTask and falls back to USER on failure or limit-reached;
// LOGIC_VALIDATOR/EXTERNAL_ADVISOR are unimplemented and always fall back
// to USER with a "[Technical difficulty]" prefix.
func (e *Engine) Escalate(ctx context.Context, sessionId ids.SessionId, target models.EscalationTarget, reason string, relatedTask *models.Task) (Outcome, error) {
	session, err := e.Sessions.Load(sessionId)
	if err != nil {
		return Outcome{}, err
	}

	if session.EscalationAttempts.Get(target) >= e.Limits.get(target) {
		if target == models.EscalationUser {
			return e.escalateToUser(session, fmt.Sprintf("[Escalation limit reached] %s", reason), relatedTask)
		}
		return e.Escalate(ctx, sessionId, models.EscalationUser,
			fmt.Sprintf("[Escalation limit reached for %s] %s", target, reason), relatedTask)
	}

	switch target {
	case models.EscalationUser:
		return e.escalateToUser(session, reason, relatedTask)
	case models.EscalationPlanner:
		return e.escalateToPlanner(ctx, sessionId, session, reason, relatedTask)
	case models.EscalationLogicValidator, models.EscalationExternalAdvisor:
		session.EscalationAttempts = session.EscalationAttempts.Increment(target)
		if err := e.Sessions.Save(sessionId, session); err != nil {
			return Outcome{}, err
		}
		return e.escalateToUser(session, fmt.Sprintf("[Technical difficulty] %s", reason), relatedTask)
	default:
		return Outcome{}, taskforgeerr.New(taskforgeerr.KindValidationError, "escalation: unknown target %q", target)
	}
}

func (e *Engine) escalateToUser(session *models.LeaderSession, reason string, relatedTask *models.Task) (Outcome, error) {
	session.EscalationAttempts = session.EscalationAttempts.Increment(models.EscalationUser)
	record := newRecord(models.EscalationUser, reason, relatedTask)
	session.EscalationRecords = append(session.EscalationRecords, record)
	session.Status = models.LeaderEscalating
	if err := e.Sessions.Save(session.SessionId, session); err != nil {
		return Outcome{}, err
	}
	return Outcome{Record: record, Pending: true}, nil
}

func (e *Engine) escalateToPlanner(ctx context.Context, sessionId ids.SessionId, session *models.LeaderSession, reason string, relatedTask *models.Task) (Outcome, error) {
	session.EscalationAttempts = session.EscalationAttempts.Increment(models.EscalationPlanner)
	record := newRecord(models.EscalationPlanner, reason, relatedTask)
	session.EscalationRecords = append(session.EscalationRecords, record)

	if relatedTask == nil || e.Planner == nil {
		if err := e.Sessions.Save(session.SessionId, session); err != nil {
			return Outcome{}, err
		}
		return e.escalateToUser(session, fmt.Sprintf("[Technical difficulty] %s", reason), relatedTask)
	}

	judgement := models.Judgement{Success: false, Reason: reason}
	_, err := e.Planner.ReplanFailedTask(ctx, sessionId, *relatedTask, "", judgement)
	if err != nil {
		resolved := time.Now()
		resolution := fmt.Sprintf("replan failed: %v", err)
		record.Resolved = true
		record.ResolvedAt = &resolved
		record.Resolution = &resolution
		session.EscalationRecords[len(session.EscalationRecords)-1] = record
		if saveErr := e.Sessions.Save(session.SessionId, session); saveErr != nil {
			return Outcome{}, saveErr
		}
		return e.escalateToUser(session, fmt.Sprintf("[Technical difficulty] replan failed: %v", err), relatedTask)
	}

	resolved := time.Now()
	resolution := "replanned"
	record.Resolved = true
	record.ResolvedAt = &resolved
	record.Resolution = &resolution
	session.EscalationRecords[len(session.EscalationRecords)-1] = record
	session.Status = models.LeaderExecuting
	if err := e.Sessions.Save(session.SessionId, session); err != nil {
		return Outcome{}, err
	}
	return Outcome{Record: record, Resumed: true}, nil
}

func newRecord(target models.EscalationTarget, reason string, relatedTask *models.Task) models.EscalationRecord {
	record := models.EscalationRecord{
		Id:          ids.NewEscalationId(),
		Target:      target,
		Reason:      reason,
		EscalatedAt: time.Now(),
	}
	if relatedTask != nil {
		id := relatedTask.Id
		record.RelatedTaskId = &id
	}
	return record
}

// ResolveEscalation appends resolution to the EscalationRecord identified
// by escalationId (CORE SPEC §4.K: "External resolver appends a
// resolution string"). It does not itself resume the loop; call
// ResumeFromEscalation once the caller is ready to continue.
func (e *Engine) ResolveEscalation(sessionId ids.SessionId, escalationId ids.EscalationId, resolution string) (*models.LeaderSession, error) {
	session, err := e.Sessions.Load(sessionId)
	if err != nil {
		return nil, err
	}

	found := false
	for i := range session.EscalationRecords {
		if session.EscalationRecords[i].Id == escalationId {
			resolvedAt := time.Now()
			session.EscalationRecords[i].Resolved = true
			session.EscalationRecords[i].ResolvedAt = &resolvedAt
			session.EscalationRecords[i].Resolution = &resolution
			found = true
			break
		}
	}
	if !found {
		return nil, taskforgeerr.New(taskforgeerr.KindNotFound, "escalation: record %s not found in session %s", escalationId, sessionId)
	}

	if err := e.Sessions.Save(sessionId, session); err != nil {
		return nil, err
	}
	return session, nil
}

// ResumeFromEscalation flips the session from ESCALATING back to
// EXECUTING (CORE SPEC §4.K: "resumeFromEscalation flips status to
// EXECUTING"), once the pending escalation(s) have been resolved via
// ResolveEscalation.
func (e *Engine) ResumeFromEscalation(sessionId ids.SessionId) (*models.LeaderSession, error) {
	session, err := e.Sessions.Load(sessionId)
	if err != nil {
		return nil, err
	}
	if session.Status != models.LeaderEscalating {
		return nil, taskforgeerr.New(taskforgeerr.KindValidationError, "escalation: session %s is not ESCALATING", sessionId)
	}

	session.Status = models.LeaderExecuting
	if err := e.Sessions.Save(sessionId, session); err != nil {
		return nil, err
	}
	return session, nil
}
