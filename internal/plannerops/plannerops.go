// Package plannerops implements the Planner Operations collaborator
// (CORE SPEC §4.H): a quality-guarded decomposition loop that turns an
// instruction into persisted Tasks, plus replanning and final-completion
// follow-ups once a task set reaches a terminal state.
//
// The agent-judged acceptance loop (decompose, judge quality, retry with
// concatenated feedback) is adapted from the teacher's
// internal/executor/qc_intelligent.go; the retry-with-feedback prompt
// idiom is adapted from internal/pattern/claude_enhancement.go. Both
// quality and final-completion judges default to accept/complete on
// agent or parse failure, consistently with internal/judge's conservative
// fallback (CORE SPEC §4.G, §4.H).
package plannerops

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/taskforge/taskforge/internal/agentrunner"
	"github.com/taskforge/taskforge/internal/ids"
	"github.com/taskforge/taskforge/internal/jsonx"
	"github.com/taskforge/taskforge/internal/logtrunc"
	"github.com/taskforge/taskforge/internal/models"
	"github.com/taskforge/taskforge/internal/store"
	"github.com/taskforge/taskforge/internal/taskforgeerr"
)

// TaskStore is the subset of internal/store.Store the Planner needs.
type TaskStore interface {
	CreateTask(t models.Task) error
	ReadTask(id ids.TaskId) (models.Task, error)
	UpdateTaskCAS(id ids.TaskId, expectedVersion int, fn store.UpdateFn) (models.Task, error)
}

// Planner is the Planner Operations collaborator.
type Planner struct {
	Store       TaskStore
	AgentRunner agentrunner.Runner
	AgentType   string
	Model       string

	// Repo is the repository every Task this Planner persists belongs to.
	// planTasks(instruction) in CORE SPEC §4.H doesn't take a repo
	// parameter; a Planner is instantiated per-repo by the orchestrator
	// entrypoint, matching how the Worker and VCS collaborators are
	// already scoped to a single repo per invocation.
	Repo ids.RepoPath

	MaxQualityRetries      int
	MaxConsecutiveJSONErrs int
	QualityThreshold       int
	MaxReplanIterations    int
}

// New returns a Planner with CORE SPEC §4.H defaults.
func New(s TaskStore, agentRunner agentrunner.Runner, agentType, model string, repo ids.RepoPath) *Planner {
	return &Planner{
		Store:                  s,
		AgentRunner:            agentRunner,
		AgentType:              agentType,
		Model:                  model,
		Repo:                   repo,
		MaxQualityRetries:      5,
		MaxConsecutiveJSONErrs: 3,
		QualityThreshold:       60,
		MaxReplanIterations:    3,
	}
}

// PlanResult is the outcome of a successful planTasks call.
type PlanResult struct {
	Tasks []models.Task
}

// PlanTasks implements CORE SPEC §4.H planTasks: a quality-guarded
// generation loop, up to p.MaxQualityRetries attempts. JSON syntax errors
// do not themselves consume a quality-retry; they're bounded separately by
// MaxConsecutiveJSONErrs.
func (p *Planner) PlanTasks(ctx context.Context, sessionId ids.SessionId, instruction string) (PlanResult, error) {
	var feedback string
	consecutiveJSONErrs := 0

	for attempt := 0; attempt < p.MaxQualityRetries; attempt++ {
		prompt := buildDecompositionPrompt(instruction, feedback)
		res, err := p.AgentRunner.RunAgent(ctx, p.AgentType, p.Model, prompt, "", "")
		if err != nil {
			return PlanResult{}, taskforgeerr.Wrap(taskforgeerr.KindAgentExecutionError, err, "plannerops: decomposition agent call")
		}

		breakdown, parseErr := parseTaskBreakdownArray(res.FinalResponse)
		if parseErr != nil {
			consecutiveJSONErrs++
			if consecutiveJSONErrs >= p.MaxConsecutiveJSONErrs {
				return PlanResult{}, taskforgeerr.Wrap(taskforgeerr.KindParseError, parseErr,
					"plannerops: %d consecutive JSON parse failures", consecutiveJSONErrs)
			}
			feedback = fmt.Sprintf("Your previous response was not valid JSON: %v. Respond with only a JSON array of tasks.", parseErr)
			continue
		}
		consecutiveJSONErrs = 0

		resp := models.TaskBreakdownResponse{Tasks: breakdown}
		if err := resp.Validate(); err != nil {
			feedback = fmt.Sprintf("Previous task breakdown was invalid: %v. Fix the issue and regenerate the full task list.", err)
			continue
		}

		quality, err := p.judgeQuality(ctx, instruction, resp)
		if err != nil {
			return PlanResult{}, err
		}
		if !quality.Accepted(p.QualityThreshold) {
			feedback = buildQualityFeedback(resp, quality)
			continue
		}

		return p.persist(sessionId, resp)
	}

	return PlanResult{}, taskforgeerr.New(taskforgeerr.KindMaxRetriesExceeded,
		"plannerops: exhausted %d quality retries", p.MaxQualityRetries)
}

func (p *Planner) judgeQuality(ctx context.Context, instruction string, resp models.TaskBreakdownResponse) (models.TaskQualityJudgement, error) {
	prompt := buildQualityJudgePrompt(instruction, resp)
	res, err := p.AgentRunner.RunAgent(ctx, p.AgentType, p.Model, prompt, "", "")
	if err != nil {
		return models.ConservativeQualityFallback(fmt.Sprintf("quality judge agent invocation failed: %v", err)), nil
	}
	var judgement models.TaskQualityJudgement
	if err := jsonx.DecodeInto(res.FinalResponse, &judgement); err != nil {
		return models.ConservativeQualityFallback(fmt.Sprintf("quality judge response parse failure: %v", err)), nil
	}
	if err := judgement.Validate(); err != nil {
		return models.ConservativeQualityFallback(fmt.Sprintf("quality judge response validation failure: %v", err)), nil
	}
	return judgement, nil
}

// persist turns an accepted TaskBreakdownResponse into Tasks with
// deterministic ids task-<sessionShort>-<rawId>, translating dependency
// references to the same scheme.
func (p *Planner) persist(sessionId ids.SessionId, resp models.TaskBreakdownResponse) (PlanResult, error) {
	idFor := func(rawId string) ids.TaskId {
		return ids.TaskId(fmt.Sprintf("task-%s-%s", sessionId.Short(), rawId))
	}

	now := time.Now()
	tasks := make([]models.Task, 0, len(resp.Tasks))
	for _, b := range resp.Tasks {
		deps := make(map[ids.TaskId]struct{}, len(b.Dependencies))
		for _, d := range b.Dependencies {
			deps[idFor(d)] = struct{}{}
		}
		task := models.Task{
			Id:         idFor(b.Id),
			State:      models.TaskReady,
			Repo:       p.Repo,
			Branch:     ids.BranchName(b.Branch),
			ScopePaths: b.ScopePaths,
			Acceptance: b.Acceptance,
			Context:    b.Context,
			TaskType:   b.Type,
			Dependencies: deps,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		tasks = append(tasks, task)
	}

	for _, t := range tasks {
		if err := p.Store.CreateTask(t); err != nil {
			return PlanResult{}, taskforgeerr.Wrap(taskforgeerr.KindIOError, err, "plannerops: persisting task %s", t.Id)
		}
	}
	return PlanResult{Tasks: tasks}, nil
}

// ReplanFailedTask implements CORE SPEC §4.H replanFailedTask: build a
// replanning prompt from the original task, the truncated run log, and the
// judge's missing requirements; generate successor TaskBreakdown records;
// persist them with replanningInfo chained to the original task; then call
// MarkTaskAsReplanned to transition the original task.
func (p *Planner) ReplanFailedTask(ctx context.Context, sessionId ids.SessionId, task models.Task, runLog string, judgement models.Judgement) (PlanResult, error) {
	truncated := logtrunc.Truncate(runLog, logtrunc.DefaultBudgetBytes, logtrunc.DefaultHeadBytes)
	prompt := buildReplanPrompt(task, truncated, judgement)

	res, err := p.AgentRunner.RunAgent(ctx, p.AgentType, p.Model, prompt, "", "")
	if err != nil {
		return PlanResult{}, taskforgeerr.Wrap(taskforgeerr.KindAgentExecutionError, err, "plannerops: replan agent call for task %s", task.Id)
	}

	breakdown, err := parseTaskBreakdownArray(res.FinalResponse)
	if err != nil {
		return PlanResult{}, taskforgeerr.Wrap(taskforgeerr.KindParseError, err, "plannerops: replan response for task %s", task.Id)
	}
	resp := models.TaskBreakdownResponse{Tasks: breakdown}
	if err := resp.Validate(); err != nil {
		return PlanResult{}, taskforgeerr.Wrap(taskforgeerr.KindValidationError, err, "plannerops: replan breakdown for task %s", task.Id)
	}

	originalId := task.Id
	if task.ReplanningInfo != nil {
		originalId = task.ReplanningInfo.OriginalTaskId
	}

	result, err := p.persist(sessionId, resp)
	if err != nil {
		return PlanResult{}, err
	}

	newIds := make([]ids.TaskId, 0, len(result.Tasks))
	for i := range result.Tasks {
		newIds = append(newIds, result.Tasks[i].Id)
		result.Tasks[i].ReplanningInfo = &models.ReplanningInfo{
			Iteration:      1,
			MaxIterations:  p.replanIterations(),
			OriginalTaskId: originalId,
		}
		if _, err := p.Store.UpdateTaskCAS(result.Tasks[i].Id, result.Tasks[i].Version, func(t *models.Task) {
			t.ReplanningInfo = result.Tasks[i].ReplanningInfo
		}); err != nil {
			return PlanResult{}, taskforgeerr.Wrap(taskforgeerr.KindIOError, err, "plannerops: recording replanningInfo on %s", result.Tasks[i].Id)
		}
	}

	if _, err := p.MarkTaskAsReplanned(originalId, task.Version, newIds, judgement); err != nil {
		return PlanResult{}, err
	}

	return result, nil
}

func (p *Planner) replanIterations() int {
	if p.MaxReplanIterations <= 0 {
		return 3
	}
	return p.MaxReplanIterations
}

// MarkTaskAsReplanned sets originalTaskId's state to REPLACED_BY_REPLAN and
// records its successors, bumping replanningInfo.iteration. Crossing
// maxReplanIterations fails with ValidationError; the caller must BLOCK the
// task instead (CORE SPEC §4.H).
func (p *Planner) MarkTaskAsReplanned(originalTaskId ids.TaskId, expectedVersion int, newIds []ids.TaskId, judgement models.Judgement) (models.Task, error) {
	original, err := p.Store.ReadTask(originalTaskId)
	if err != nil {
		return models.Task{}, err
	}

	nextIteration := 1
	reason := judgement.Reason
	if original.ReplanningInfo != nil {
		nextIteration = original.ReplanningInfo.Iteration + 1
	}
	maxIter := p.replanIterations()
	if nextIteration > maxIter {
		return models.Task{}, taskforgeerr.New(taskforgeerr.KindValidationError,
			"plannerops: task %s has exceeded %d replanning iterations", originalTaskId, maxIter)
	}

	return p.Store.UpdateTaskCAS(originalTaskId, expectedVersion, func(t *models.Task) {
		t.State = models.TaskReplacedByReplan
		t.Owner = nil
		t.ReplanningInfo = &models.ReplanningInfo{
			Iteration:      nextIteration,
			MaxIterations:  maxIter,
			OriginalTaskId: originalTaskId,
			ReplacedBy:     newIds,
			ReplanReason:   reason,
		}
	})
}

// JudgeFinalCompletion implements CORE SPEC §4.H judgeFinalCompletion:
// after all tasks reach terminal state, ask the judge whether the original
// instruction is satisfied.
func (p *Planner) JudgeFinalCompletion(ctx context.Context, instruction string, tasks []models.Task) (models.FinalCompletionJudgement, error) {
	prompt := buildFinalCompletionPrompt(instruction, tasks)
	res, err := p.AgentRunner.RunAgent(ctx, p.AgentType, p.Model, prompt, "", "")
	if err != nil {
		return models.ConservativeCompletionFallback(fmt.Sprintf("final completion agent invocation failed: %v", err)), nil
	}
	var judgement models.FinalCompletionJudgement
	if err := jsonx.DecodeInto(res.FinalResponse, &judgement); err != nil {
		return models.ConservativeCompletionFallback(fmt.Sprintf("final completion response parse failure: %v", err)), nil
	}
	if err := judgement.Validate(); err != nil {
		return models.ConservativeCompletionFallback(fmt.Sprintf("final completion response validation failure: %v", err)), nil
	}
	return judgement, nil
}

// PlanAdditionalTasks implements CORE SPEC §4.H planAdditionalTasks: when
// JudgeFinalCompletion reports incompleteness, generate follow-up tasks for
// the missing aspects while preserving conversation history (the caller
// supplies priorConversation so it can be carried into the next
// PlannerSession turn).
func (p *Planner) PlanAdditionalTasks(ctx context.Context, sessionId ids.SessionId, instruction string, missingAspects []string) (PlanResult, error) {
	prompt := buildAdditionalTasksPrompt(instruction, missingAspects)
	res, err := p.AgentRunner.RunAgent(ctx, p.AgentType, p.Model, prompt, "", "")
	if err != nil {
		return PlanResult{}, taskforgeerr.Wrap(taskforgeerr.KindAgentExecutionError, err, "plannerops: additional-tasks agent call")
	}
	breakdown, err := parseTaskBreakdownArray(res.FinalResponse)
	if err != nil {
		return PlanResult{}, taskforgeerr.Wrap(taskforgeerr.KindParseError, err, "plannerops: additional-tasks response")
	}
	resp := models.TaskBreakdownResponse{Tasks: breakdown}
	if err := resp.Validate(); err != nil {
		return PlanResult{}, taskforgeerr.Wrap(taskforgeerr.KindValidationError, err, "plannerops: additional-tasks breakdown")
	}
	return p.persist(sessionId, resp)
}

func buildDecompositionPrompt(instruction, feedback string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Decompose the following instruction into a JSON array of tasks.\n\nInstruction:\n%s\n\n", instruction)
	if feedback != "" {
		fmt.Fprintf(&b, "Feedback from the previous attempt:\n%s\n\n", feedback)
	}
	b.WriteString("Respond with only a JSON array, each element shaped: " +
		`{"id":string,"description":string,"branch":string,"scopePaths":[string],"acceptance":string,"type":"implementation"|"documentation"|"investigation"|"integration","estimatedDuration":number,"context":string,"dependencies":[string]}` + "\n")
	return b.String()
}

func buildQualityFeedback(resp models.TaskBreakdownResponse, quality models.TaskQualityJudgement) string {
	var b strings.Builder
	b.WriteString("Previous task breakdown:\n")
	for _, t := range resp.Tasks {
		fmt.Fprintf(&b, "- %s: %s\n", t.Id, t.Description)
	}
	if len(quality.Issues) > 0 {
		b.WriteString("\nQuality judge issues:\n")
		for _, issue := range quality.Issues {
			fmt.Fprintf(&b, "- %s\n", issue)
		}
	}
	if len(quality.Suggestions) > 0 {
		b.WriteString("\nSuggestions:\n")
		for _, s := range quality.Suggestions {
			fmt.Fprintf(&b, "- %s\n", s)
		}
	}
	return b.String()
}

func buildQualityJudgePrompt(instruction string, resp models.TaskBreakdownResponse) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Evaluate whether this task breakdown adequately covers the instruction.\n\nInstruction:\n%s\n\nTasks:\n", instruction)
	for _, t := range resp.Tasks {
		fmt.Fprintf(&b, "- %s: %s (acceptance: %s)\n", t.Id, t.Description, t.Acceptance)
	}
	b.WriteString("\nRespond with a JSON object: " +
		`{"isAcceptable":bool,"issues":[string],"suggestions":[string],"overallScore":number}` + "\n")
	return b.String()
}

func buildReplanPrompt(task models.Task, truncatedLog string, judgement models.Judgement) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The following task failed and needs to be replanned into smaller sub-tasks.\n\n")
	fmt.Fprintf(&b, "Original task %s:\nAcceptance: %s\nContext: %s\n\n", task.Id, task.Acceptance, task.Context)
	fmt.Fprintf(&b, "Run log:\n%s\n\n", truncatedLog)
	fmt.Fprintf(&b, "Judge feedback: %s\n", judgement.Reason)
	if len(judgement.MissingRequirements) > 0 {
		b.WriteString("Missing requirements:\n")
		for _, m := range judgement.MissingRequirements {
			fmt.Fprintf(&b, "- %s\n", m)
		}
	}
	b.WriteString("\nRespond with only a JSON array of successor tasks in the same schema as the original decomposition.\n")
	return b.String()
}

func buildFinalCompletionPrompt(instruction string, tasks []models.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Determine whether the following instruction has been fully satisfied by the completed tasks.\n\nInstruction:\n%s\n\nTasks:\n", instruction)
	for _, t := range tasks {
		summary := ""
		if t.Summary != nil {
			summary = *t.Summary
		}
		fmt.Fprintf(&b, "- %s [%s]: %s\n", t.Id, t.State, summary)
	}
	b.WriteString("\nRespond with a JSON object: " +
		`{"isComplete":bool,"missingAspects":[string],"additionalTaskSuggestions":[string],"completionScore":number}` + "\n")
	return b.String()
}

func buildAdditionalTasksPrompt(instruction string, missingAspects []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The instruction below is not yet fully satisfied. Generate additional tasks to cover the gaps.\n\nInstruction:\n%s\n\nMissing aspects:\n", instruction)
	for _, m := range missingAspects {
		fmt.Fprintf(&b, "- %s\n", m)
	}
	b.WriteString("\nRespond with only a JSON array of tasks in the same schema as the original decomposition.\n")
	return b.String()
}

// parseTaskBreakdownArray extracts the first balanced JSON array from raw,
// tolerating leading/trailing prose and fenced code blocks (the same
// tolerance internal/jsonx.ExtractBalancedObject gives object-shaped agent
// output), and decodes it strictly into []models.TaskBreakdown.
func parseTaskBreakdownArray(raw string) ([]models.TaskBreakdown, error) {
	arr, err := extractBalancedArray(raw)
	if err != nil {
		return nil, err
	}
	var tasks []models.TaskBreakdown
	if err := strictUnmarshalArray(arr, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}
