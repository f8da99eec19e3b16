package models

import (
	"fmt"
	"time"

	"github.com/taskforge/taskforge/internal/ids"
)

// maxConversationHistory bounds PlanningSession.ConversationHistory
// (CORE SPEC §3: "History pruned to the last 100 messages").
const maxConversationHistory = 100

// Message is one turn of a session's conversation history.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Question is a discovery-phase question posed to the user.
type Question struct {
	Id       string  `json:"id"`
	Text     string  `json:"text"`
	Answer   *string `json:"answer,omitempty"`
	Important bool   `json:"important"`
}

// DecisionPoint is a design-phase decision recorded during planning.
type DecisionPoint struct {
	Id       string  `json:"id"`
	Question string  `json:"question"`
	Decision *string `json:"decision,omitempty"`
}

// PlanningStatus is the phase of a PlanningSession's state machine
// (CORE SPEC §4.I).
type PlanningStatus string

const (
	PlanningDiscovery PlanningStatus = "DISCOVERY"
	PlanningDesign    PlanningStatus = "DESIGN"
	PlanningReview    PlanningStatus = "REVIEW"
	PlanningApproved  PlanningStatus = "APPROVED"
	PlanningCancelled PlanningStatus = "CANCELLED"
	PlanningFailed    PlanningStatus = "FAILED"
)

// maxPlanningRejections is the reject count at which REVIEW transitions to
// CANCELLED instead of back to DESIGN (CORE SPEC §4.I).
const maxPlanningRejections = 3

// PlanningSession drives the Discovery->Design->Review->Approved phase
// machine (CORE SPEC §3, §4.I).
type PlanningSession struct {
	SessionId             ids.SessionId    `json:"sessionId"`
	Instruction           string           `json:"instruction"`
	Status                PlanningStatus   `json:"status"`
	Questions             []Question       `json:"questions"`
	DecisionPoints        []DecisionPoint  `json:"decisionPoints"`
	RejectCount           int              `json:"rejectCount"`
	CurrentQuestionIndex  int              `json:"currentQuestionIndex"`
	CurrentDecisionIndex  int              `json:"currentDecisionIndex"`
	PlannerSessionId      *ids.SessionId   `json:"plannerSessionId,omitempty"`
	ConversationHistory   []Message        `json:"conversationHistory"`
	ErrorMessage          *string          `json:"errorMessage,omitempty"`
	CreatedAt             time.Time        `json:"createdAt"`
	UpdatedAt             time.Time        `json:"updatedAt"`
}

// Validate checks PlanningSession's structural invariants.
func (p *PlanningSession) Validate() error {
	if p.SessionId == "" {
		return fmt.Errorf("planning session: sessionId is required")
	}
	switch p.Status {
	case PlanningDiscovery, PlanningDesign, PlanningReview, PlanningApproved, PlanningCancelled, PlanningFailed:
	default:
		return fmt.Errorf("planning session %s: invalid status %q", p.SessionId, p.Status)
	}
	if p.RejectCount < 0 || p.RejectCount > maxPlanningRejections {
		return fmt.Errorf("planning session %s: rejectCount %d out of range [0,%d]", p.SessionId, p.RejectCount, maxPlanningRejections)
	}
	if p.Status == PlanningCancelled && p.RejectCount != maxPlanningRejections {
		return fmt.Errorf("planning session %s: CANCELLED requires rejectCount == %d, got %d", p.SessionId, maxPlanningRejections, p.RejectCount)
	}
	return nil
}

// AppendMessage appends a message to the history, pruning to the last
// maxConversationHistory entries.
func (p *PlanningSession) AppendMessage(m Message) {
	p.ConversationHistory = append(p.ConversationHistory, m)
	if len(p.ConversationHistory) > maxConversationHistory {
		p.ConversationHistory = p.ConversationHistory[len(p.ConversationHistory)-maxConversationHistory:]
	}
}

// PlannerSession records an instruction decomposition run (CORE SPEC §3).
type PlannerSession struct {
	SessionId           ids.SessionId   `json:"sessionId"`
	Instruction         string          `json:"instruction"`
	GeneratedTasks      []TaskBreakdown `json:"generatedTasks"`
	ConversationHistory []Message       `json:"conversationHistory"`
	CreatedAt           time.Time       `json:"createdAt"`
	UpdatedAt           time.Time       `json:"updatedAt"`
}

// Validate checks PlannerSession's structural invariants.
func (p *PlannerSession) Validate() error {
	if p.SessionId == "" {
		return fmt.Errorf("planner session: sessionId is required")
	}
	return nil
}

// LeaderStatus is the status of a LeaderSession (CORE SPEC §3, §4.J).
type LeaderStatus string

const (
	LeaderPlanning   LeaderStatus = "PLANNING"
	LeaderExecuting  LeaderStatus = "EXECUTING"
	LeaderReviewing  LeaderStatus = "REVIEWING"
	LeaderEscalating LeaderStatus = "ESCALATING"
	LeaderCompleted  LeaderStatus = "COMPLETED"
	LeaderFailed     LeaderStatus = "FAILED"
)

// EscalationTarget names who an escalation is routed to (CORE SPEC §4.K).
type EscalationTarget string

const (
	EscalationUser            EscalationTarget = "USER"
	EscalationPlanner         EscalationTarget = "PLANNER"
	EscalationLogicValidator  EscalationTarget = "LOGIC_VALIDATOR"
	EscalationExternalAdvisor EscalationTarget = "EXTERNAL_ADVISOR"
)

// EscalationRecord is one escalation raised during a LeaderSession.
type EscalationRecord struct {
	Id            ids.EscalationId `json:"id"`
	Target        EscalationTarget `json:"target"`
	Reason        string           `json:"reason"`
	RelatedTaskId *ids.TaskId      `json:"relatedTaskId,omitempty"`
	EscalatedAt   time.Time        `json:"escalatedAt"`
	Resolved      bool             `json:"resolved"`
	ResolvedAt    *time.Time       `json:"resolvedAt,omitempty"`
	Resolution    *string          `json:"resolution,omitempty"`
}

// EscalationAttempts tracks per-target escalation counters (CORE SPEC §4.K).
type EscalationAttempts struct {
	User            int `json:"user"`
	Planner         int `json:"planner"`
	LogicValidator  int `json:"logicValidator"`
	ExternalAdvisor int `json:"externalAdvisor"`
}

// Get returns the attempt count for target.
func (a EscalationAttempts) Get(target EscalationTarget) int {
	switch target {
	case EscalationUser:
		return a.User
	case EscalationPlanner:
		return a.Planner
	case EscalationLogicValidator:
		return a.LogicValidator
	case EscalationExternalAdvisor:
		return a.ExternalAdvisor
	default:
		return 0
	}
}

// Increment returns a copy of a with target's counter incremented by one.
func (a EscalationAttempts) Increment(target EscalationTarget) EscalationAttempts {
	switch target {
	case EscalationUser:
		a.User++
	case EscalationPlanner:
		a.Planner++
	case EscalationLogicValidator:
		a.LogicValidator++
	case EscalationExternalAdvisor:
		a.ExternalAdvisor++
	}
	return a
}

// LeaderSession tracks a single Leader Execution Loop run (CORE SPEC §3,
// §4.J).
type LeaderSession struct {
	SessionId           ids.SessionId      `json:"sessionId"`
	PlanFilePath        string             `json:"planFilePath"`
	Status              LeaderStatus       `json:"status"`
	MemberTaskHistory   []ids.TaskId       `json:"memberTaskHistory"`
	EscalationRecords   []EscalationRecord `json:"escalationRecords"`
	ActiveTaskIds       []ids.TaskId       `json:"activeTaskIds"`
	CompletedTaskCount  int                `json:"completedTaskCount"`
	TotalTaskCount      int                `json:"totalTaskCount"`
	EscalationAttempts  EscalationAttempts `json:"escalationAttempts"`
	CreatedAt           time.Time          `json:"createdAt"`
	UpdatedAt           time.Time          `json:"updatedAt"`
}

// Validate checks LeaderSession's structural invariants.
func (l *LeaderSession) Validate() error {
	if l.SessionId == "" {
		return fmt.Errorf("leader session: sessionId is required")
	}
	switch l.Status {
	case LeaderPlanning, LeaderExecuting, LeaderReviewing, LeaderEscalating, LeaderCompleted, LeaderFailed:
	default:
		return fmt.Errorf("leader session %s: invalid status %q", l.SessionId, l.Status)
	}
	return nil
}

// ExplorationSession records a free-form exploration run, persisted under
// the same session-store contract as the other session kinds
// (CORE SPEC §6 persistent layout: exploration-sessions/<id>.json).
type ExplorationSession struct {
	SessionId   ids.SessionId `json:"sessionId"`
	Instruction string        `json:"instruction"`
	Findings    []string      `json:"findings"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

// Validate checks ExplorationSession's structural invariants.
func (e *ExplorationSession) Validate() error {
	if e.SessionId == "" {
		return fmt.Errorf("exploration session: sessionId is required")
	}
	return nil
}
