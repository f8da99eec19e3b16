// Package planningops implements the Planning Operations collaborator
// (CORE SPEC §4.I): an interactive Discovery->Design->Review->Approved
// phase machine that turns a raw instruction into an "enhanced
// instruction" and seeds a PlannerSession from it.
//
// No single teacher file matches this state machine 1:1; it's built in
// the style of the teacher's session-oriented status fields (the same
// enum-plus-timestamps shape as LeaderSession) combined with
// internal/executor/qc.go's one-retry-then-fail pattern for malformed
// agent JSON.
package planningops

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/taskforge/taskforge/internal/agentrunner"
	"github.com/taskforge/taskforge/internal/ids"
	"github.com/taskforge/taskforge/internal/jsonx"
	"github.com/taskforge/taskforge/internal/models"
	"github.com/taskforge/taskforge/internal/taskforgeerr"
)

// PlanningSessionStore is the subset of
// internal/sessionstore.Store[*models.PlanningSession] that Planning
// Operations needs.
type PlanningSessionStore interface {
	Save(id ids.SessionId, record *models.PlanningSession) error
	Load(id ids.SessionId) (*models.PlanningSession, error)
}

// PlannerSessionStore is the subset of
// internal/sessionstore.Store[*models.PlannerSession] that Planning
// Operations needs, to seed the PlannerSession an APPROVED PlanningSession
// hands off to.
type PlannerSessionStore interface {
	Save(id ids.SessionId, record *models.PlannerSession) error
}

// charsPerToken is the characters/4 heuristic CORE SPEC §4.I specifies for
// capping the enhanced instruction at ~2000 tokens.
const charsPerToken = 4

// enhancedInstructionTokenCap bounds the enhanced instruction emitted on
// approval (CORE SPEC §4.I: "capped at ~2000 tokens").
const enhancedInstructionTokenCap = 2000

// Planning is the Planning Operations collaborator.
type Planning struct {
	Sessions        PlanningSessionStore
	PlannerSessions PlannerSessionStore
	AgentRunner     agentrunner.Runner
	AgentType       string
	Model           string
}

// New returns a Planning collaborator wired to its stores and agent.
func New(sessions PlanningSessionStore, plannerSessions PlannerSessionStore, agentRunner agentrunner.Runner, agentType, model string) *Planning {
	return &Planning{
		Sessions:        sessions,
		PlannerSessions: plannerSessions,
		AgentRunner:     agentRunner,
		AgentType:       agentType,
		Model:           model,
	}
}

type questionDraft struct {
	Id        string `json:"id"`
	Text      string `json:"text"`
	Important bool   `json:"important"`
}

type decisionDraft struct {
	Id       string `json:"id"`
	Question string `json:"question"`
}

type reviewSummary struct {
	Summary string `json:"summary"`
}

// StartDiscovery creates a new PlanningSession in DISCOVERY and generates
// its initial question set.
func (p *Planning) StartDiscovery(ctx context.Context, sessionId ids.SessionId, instruction string) (*models.PlanningSession, error) {
	session := &models.PlanningSession{
		SessionId:   sessionId,
		Instruction: instruction,
		Status:      models.PlanningDiscovery,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}

	questions, err := runArrayStageWithOneRetry[questionDraft](ctx, p, session,
		fmt.Sprintf("Generate discovery questions to clarify this instruction before design:\n\n%s\n\n"+
			`Respond with only a JSON array: [{"id":string,"text":string,"important":bool}]`, instruction))
	if err != nil {
		p.fail(session, err)
		return session, err
	}

	session.Questions = make([]models.Question, 0, len(questions))
	for _, q := range questions {
		session.Questions = append(session.Questions, models.Question{Id: q.Id, Text: q.Text, Important: q.Important})
	}
	if err := p.Sessions.Save(sessionId, session); err != nil {
		return session, err
	}
	return session, nil
}

// AnswerQuestion records an answer to questionId. Once every question has
// an answer, the session transitions DISCOVERY -> DESIGN and generates its
// decision points (CORE SPEC §4.I).
func (p *Planning) AnswerQuestion(ctx context.Context, sessionId ids.SessionId, questionId, answer string) (*models.PlanningSession, error) {
	session, err := p.Sessions.Load(sessionId)
	if err != nil {
		return nil, err
	}
	if session.Status != models.PlanningDiscovery {
		return nil, taskforgeerr.New(taskforgeerr.KindValidationError, "planningops: session %s is not in DISCOVERY", sessionId)
	}

	found := false
	for i := range session.Questions {
		if session.Questions[i].Id == questionId {
			session.Questions[i].Answer = &answer
			found = true
			break
		}
	}
	if !found {
		return nil, taskforgeerr.New(taskforgeerr.KindNotFound, "planningops: question %s not found in session %s", questionId, sessionId)
	}

	if !allQuestionsAnswered(session.Questions) {
		if err := p.Sessions.Save(sessionId, session); err != nil {
			return nil, err
		}
		return session, nil
	}

	decisions, err := runArrayStageWithOneRetry[decisionDraft](ctx, p, session,
		fmt.Sprintf("Given the instruction and discovery answers below, generate design decision points.\n\n"+
			"Instruction:\n%s\n\nDiscovery answers:\n%s\n\n"+
			`Respond with only a JSON array: [{"id":string,"question":string}]`,
			session.Instruction, formatAnsweredQuestions(session.Questions)))
	if err != nil {
		p.fail(session, err)
		return session, err
	}

	session.DecisionPoints = make([]models.DecisionPoint, 0, len(decisions))
	for _, d := range decisions {
		session.DecisionPoints = append(session.DecisionPoints, models.DecisionPoint{Id: d.Id, Question: d.Question})
	}
	session.Status = models.PlanningDesign
	if err := p.Sessions.Save(sessionId, session); err != nil {
		return nil, err
	}
	return session, nil
}

// RecordDecision records decision for decisionId. Once every decision
// point is recorded, the session transitions DESIGN -> REVIEW and
// generates a review summary (CORE SPEC §4.I).
func (p *Planning) RecordDecision(ctx context.Context, sessionId ids.SessionId, decisionId, decision string) (*models.PlanningSession, error) {
	session, err := p.Sessions.Load(sessionId)
	if err != nil {
		return nil, err
	}
	if session.Status != models.PlanningDesign {
		return nil, taskforgeerr.New(taskforgeerr.KindValidationError, "planningops: session %s is not in DESIGN", sessionId)
	}

	found := false
	for i := range session.DecisionPoints {
		if session.DecisionPoints[i].Id == decisionId {
			session.DecisionPoints[i].Decision = &decision
			found = true
			break
		}
	}
	if !found {
		return nil, taskforgeerr.New(taskforgeerr.KindNotFound, "planningops: decision point %s not found in session %s", decisionId, sessionId)
	}

	if !allDecisionsRecorded(session.DecisionPoints) {
		if err := p.Sessions.Save(sessionId, session); err != nil {
			return nil, err
		}
		return session, nil
	}

	summary, err := runObjectStageWithOneRetry[reviewSummary](ctx, p, session,
		fmt.Sprintf("Summarize the design for review before approval.\n\nInstruction:\n%s\n\n"+
			"Discovery answers:\n%s\n\nDecisions:\n%s\n\n"+
			`Respond with only a JSON object: {"summary":string}`,
			session.Instruction, formatAnsweredQuestions(session.Questions), formatDecisions(session.DecisionPoints)))
	if err != nil {
		p.fail(session, err)
		return session, err
	}

	session.AppendMessage(models.Message{Role: "assistant", Content: summary.Summary, Timestamp: time.Now()})
	session.Status = models.PlanningReview
	if err := p.Sessions.Save(sessionId, session); err != nil {
		return nil, err
	}
	return session, nil
}

// Approve implements the REVIEW -approve-> APPROVED transition: it emits
// the enhanced instruction and seeds a PlannerSession from it.
func (p *Planning) Approve(sessionId ids.SessionId) (*models.PlanningSession, error) {
	session, err := p.Sessions.Load(sessionId)
	if err != nil {
		return nil, err
	}
	if session.Status != models.PlanningReview {
		return nil, taskforgeerr.New(taskforgeerr.KindValidationError, "planningops: session %s is not in REVIEW", sessionId)
	}

	enhanced := BuildEnhancedInstruction(session)

	plannerSessionId := ids.NewSessionId()
	plannerSession := &models.PlannerSession{
		SessionId:   plannerSessionId,
		Instruction: enhanced,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	if err := p.PlannerSessions.Save(plannerSessionId, plannerSession); err != nil {
		return nil, err
	}

	session.Status = models.PlanningApproved
	session.PlannerSessionId = &plannerSessionId
	if err := p.Sessions.Save(sessionId, session); err != nil {
		return nil, err
	}
	return session, nil
}

// Reject implements the REVIEW -reject-> {DESIGN, CANCELLED} transition:
// rejectCount is incremented; below maxPlanningRejections (3) the session
// returns to DESIGN for another round of decisions, at the limit it
// transitions to the terminal CANCELLED state (CORE SPEC §4.I).
func (p *Planning) Reject(sessionId ids.SessionId) (*models.PlanningSession, error) {
	session, err := p.Sessions.Load(sessionId)
	if err != nil {
		return nil, err
	}
	if session.Status != models.PlanningReview {
		return nil, taskforgeerr.New(taskforgeerr.KindValidationError, "planningops: session %s is not in REVIEW", sessionId)
	}

	session.RejectCount++
	if session.RejectCount >= 3 {
		session.Status = models.PlanningCancelled
	} else {
		session.Status = models.PlanningDesign
		for i := range session.DecisionPoints {
			session.DecisionPoints[i].Decision = nil
		}
	}
	if err := p.Sessions.Save(sessionId, session); err != nil {
		return nil, err
	}
	return session, nil
}

func (p *Planning) fail(session *models.PlanningSession, cause error) {
	msg := cause.Error()
	session.Status = models.PlanningFailed
	session.ErrorMessage = &msg
	_ = p.Sessions.Save(session.SessionId, session)
}

// BuildEnhancedInstruction concatenates the original instruction, answered
// important questions, and recorded decisions, truncated to the
// characters/4 ~2000-token heuristic (CORE SPEC §4.I).
func BuildEnhancedInstruction(session *models.PlanningSession) string {
	var b strings.Builder
	b.WriteString(session.Instruction)
	b.WriteString("\n\n")
	for _, q := range session.Questions {
		if !q.Important || q.Answer == nil {
			continue
		}
		fmt.Fprintf(&b, "Q: %s\nA: %s\n", q.Text, *q.Answer)
	}
	for _, d := range session.DecisionPoints {
		if d.Decision == nil {
			continue
		}
		fmt.Fprintf(&b, "Decision: %s -> %s\n", d.Question, *d.Decision)
	}
	return truncateToTokenBudget(b.String(), enhancedInstructionTokenCap)
}

func truncateToTokenBudget(s string, tokenBudget int) string {
	limit := tokenBudget * charsPerToken
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}

func allQuestionsAnswered(qs []models.Question) bool {
	for _, q := range qs {
		if q.Answer == nil {
			return false
		}
	}
	return true
}

func allDecisionsRecorded(ds []models.DecisionPoint) bool {
	for _, d := range ds {
		if d.Decision == nil {
			return false
		}
	}
	return true
}

func formatAnsweredQuestions(qs []models.Question) string {
	var b strings.Builder
	for _, q := range qs {
		if q.Answer == nil {
			continue
		}
		fmt.Fprintf(&b, "- %s: %s\n", q.Text, *q.Answer)
	}
	return b.String()
}

func formatDecisions(ds []models.DecisionPoint) string {
	var b strings.Builder
	for _, d := range ds {
		if d.Decision == nil {
			continue
		}
		fmt.Fprintf(&b, "- %s: %s\n", d.Question, *d.Decision)
	}
	return b.String()
}

// runArrayStageWithOneRetry calls the agent with prompt, parsing its
// response as a JSON array of T. On a malformed response it retries once
// with the same prompt; a second failure is returned to the caller, which
// transitions the session to FAILED (CORE SPEC §4.I: "One automatic retry
// on malformed JSON; a second failure transitions to FAILED").
func runArrayStageWithOneRetry[T any](ctx context.Context, p *Planning, session *models.PlanningSession, prompt string) ([]T, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		res, err := p.AgentRunner.RunAgent(ctx, p.AgentType, p.Model, prompt, "", "")
		if err != nil {
			lastErr = err
			continue
		}
		arr, err := extractBalancedArray(res.FinalResponse)
		if err != nil {
			lastErr = err
			continue
		}
		out, err := decodeArray[T](arr)
		if err != nil {
			lastErr = err
			continue
		}
		return out, nil
	}
	return nil, taskforgeerr.Wrap(taskforgeerr.KindParseError, lastErr, "planningops: session %s failed after retry", session.SessionId)
}

// runObjectStageWithOneRetry calls the agent with prompt, parsing its
// response as a single JSON object of T, retrying once on malformed JSON.
func runObjectStageWithOneRetry[T any](ctx context.Context, p *Planning, session *models.PlanningSession, prompt string) (T, error) {
	var zero T
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		res, err := p.AgentRunner.RunAgent(ctx, p.AgentType, p.Model, prompt, "", "")
		if err != nil {
			lastErr = err
			continue
		}
		var out T
		if err := jsonx.DecodeInto(res.FinalResponse, &out); err != nil {
			lastErr = err
			continue
		}
		return out, nil
	}
	return zero, taskforgeerr.Wrap(taskforgeerr.KindParseError, lastErr, "planningops: session %s failed after retry", session.SessionId)
}
