package models

import (
	"encoding/json"
	"fmt"
)

// TaskBreakdown is one task emitted by the Planner. Field names and shapes
// are contractual (CORE SPEC §6 agent-output schemas) — the Planner's
// agent output is parsed directly into this type.
type TaskBreakdown struct {
	Id                string   `json:"id"`
	Description       string   `json:"description"`
	Branch            string   `json:"branch"`
	ScopePaths        []string `json:"scopePaths"`
	Acceptance        string   `json:"acceptance"`
	Type              TaskType `json:"type"`
	EstimatedDuration float64  `json:"estimatedDuration"`
	Context           string   `json:"context"`
	Dependencies      []string `json:"dependencies,omitempty"`
}

// Validate checks that a TaskBreakdown is well-formed before it is turned
// into a Task.
func (b *TaskBreakdown) Validate() error {
	if b.Id == "" {
		return fmt.Errorf("task breakdown: id is required")
	}
	if b.Acceptance == "" {
		return fmt.Errorf("task breakdown %s: acceptance is required", b.Id)
	}
	switch b.Type {
	case TaskImplementation, TaskDocumentation, TaskInvestigation, TaskIntegration:
	default:
		return fmt.Errorf("task breakdown %s: invalid type %q", b.Id, b.Type)
	}
	if b.EstimatedDuration < 0.5 || b.EstimatedDuration > 8 {
		return fmt.Errorf("task breakdown %s: estimatedDuration %v out of range [0.5,8]", b.Id, b.EstimatedDuration)
	}
	return nil
}

// TaskBreakdownResponse is the top-level object the Planner must emit: a
// JSON array of TaskBreakdown records (CORE SPEC §4.H planTasks).
type TaskBreakdownResponse struct {
	Tasks []TaskBreakdown
}

// MarshalJSON renders the response as a bare JSON array, matching the
// Planner's wire contract (CORE SPEC §4.H: "Parse output as a JSON array
// of TaskBreakdown records").
func (r TaskBreakdownResponse) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Tasks)
}

// UnmarshalJSON accepts a bare JSON array of TaskBreakdown records.
func (r *TaskBreakdownResponse) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &r.Tasks)
}

// Validate checks that the response contains at least one well-formed task
// and that dependency references resolve within the same response.
func (r *TaskBreakdownResponse) Validate() error {
	if len(r.Tasks) == 0 {
		return fmt.Errorf("task breakdown response: tasks is empty")
	}
	seen := make(map[string]struct{}, len(r.Tasks))
	for i := range r.Tasks {
		if err := r.Tasks[i].Validate(); err != nil {
			return err
		}
		if _, dup := seen[r.Tasks[i].Id]; dup {
			return fmt.Errorf("task breakdown response: duplicate task id %q", r.Tasks[i].Id)
		}
		seen[r.Tasks[i].Id] = struct{}{}
	}
	for _, t := range r.Tasks {
		for _, dep := range t.Dependencies {
			if _, ok := seen[dep]; !ok {
				return fmt.Errorf("task breakdown response: task %s depends on unknown task %q", t.Id, dep)
			}
		}
	}
	return nil
}

// Judgement is the agent-output contract the Judge parses after evaluating
// a single Run against a Task's acceptance criteria (CORE SPEC §4.G).
// Field names and defaults are contractual.
type Judgement struct {
	Success             bool     `json:"success"`
	Reason              string   `json:"reason"`
	ShouldContinue      bool     `json:"shouldContinue,omitempty"`
	ShouldReplan        bool     `json:"shouldReplan,omitempty"`
	AlreadySatisfied    bool     `json:"alreadySatisfied,omitempty"`
	MissingRequirements []string `json:"missingRequirements,omitempty"`
}

// Validate checks that a Judgement is well-formed.
func (j *Judgement) Validate() error {
	if j.Reason == "" {
		return fmt.Errorf("judgement: reason is required")
	}
	if j.ShouldContinue && j.ShouldReplan {
		return fmt.Errorf("judgement: shouldContinue and shouldReplan are mutually exclusive")
	}
	return nil
}

// ConservativeFallback returns the judgement used when the agent's raw
// output cannot be parsed or validated. The judge "fails open"
// (CORE SPEC §4.G step 6: "availability over strictness is a deliberate
// choice") — success defaults to true rather than blocking the task on a
// parse failure.
func ConservativeFallback(reason string) Judgement {
	return Judgement{
		Success: true,
		Reason:  reason,
	}
}

// TaskQualityJudgement is the agent-output contract the Planner parses
// when quality-gating a freshly generated task breakdown
// (CORE SPEC §4.H planTasks quality-guarded loop).
type TaskQualityJudgement struct {
	IsAcceptable bool     `json:"isAcceptable"`
	Issues       []string `json:"issues,omitempty"`
	Suggestions  []string `json:"suggestions,omitempty"`
	OverallScore *int     `json:"overallScore,omitempty"`
}

// Accepted reports whether the quality judge accepts the breakdown: either
// isAcceptable is true, or overallScore meets threshold (CORE SPEC §4.H:
// "accept if isAcceptable=true OR overallScore >= qualityThreshold").
func (q *TaskQualityJudgement) Accepted(qualityThreshold int) bool {
	if q.IsAcceptable {
		return true
	}
	return q.OverallScore != nil && *q.OverallScore >= qualityThreshold
}

// Validate checks that a TaskQualityJudgement is well-formed.
func (q *TaskQualityJudgement) Validate() error {
	if q.OverallScore != nil && (*q.OverallScore < 0 || *q.OverallScore > 100) {
		return fmt.Errorf("task quality judgement: overallScore %d out of range [0,100]", *q.OverallScore)
	}
	return nil
}

// ConservativeQualityFallback returns the judgement used when the quality
// judge's output cannot be parsed, defaulting to acceptable
// (CORE SPEC §4.H: "both default to complete/acceptable on agent or parse
// failure").
func ConservativeQualityFallback(reason string) TaskQualityJudgement {
	return TaskQualityJudgement{IsAcceptable: true, Issues: []string{reason}}
}

// FinalCompletionJudgement is the agent-output contract the Planner parses
// when deciding whether an instruction's full task set has satisfied the
// original request (CORE SPEC §4.H judgeFinalCompletion).
type FinalCompletionJudgement struct {
	IsComplete                bool     `json:"isComplete"`
	MissingAspects            []string `json:"missingAspects,omitempty"`
	AdditionalTaskSuggestions []string `json:"additionalTaskSuggestions,omitempty"`
	CompletionScore           *int     `json:"completionScore,omitempty"`
}

// Validate checks that a FinalCompletionJudgement is well-formed.
func (f *FinalCompletionJudgement) Validate() error {
	if f.CompletionScore != nil && (*f.CompletionScore < 0 || *f.CompletionScore > 100) {
		return fmt.Errorf("final completion judgement: completionScore %d out of range [0,100]", *f.CompletionScore)
	}
	return nil
}

// ConservativeCompletionFallback returns the judgement used when the
// final-completion judge's output cannot be parsed, defaulting to complete
// (CORE SPEC §4.H conservative default, consistent with §4.G).
func ConservativeCompletionFallback(reason string) FinalCompletionJudgement {
	return FinalCompletionJudgement{IsComplete: true, MissingAspects: []string{reason}}
}
