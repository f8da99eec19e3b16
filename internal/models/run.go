package models

import (
	"fmt"
	"time"

	"github.com/taskforge/taskforge/internal/ids"
)

// RunStatus is the terminal status of a Run. A Run is immutable once Status
// is set (CORE SPEC §3).
type RunStatus string

const (
	RunSuccess RunStatus = "SUCCESS"
	RunFailure RunStatus = "FAILURE"
)

// Run is an execution record produced by one Agent Runner invocation.
type Run struct {
	Id           ids.RunId  `json:"id"`
	TaskId       ids.TaskId `json:"taskId"`
	AgentType    string     `json:"agentType"`
	Model        string     `json:"model"`
	StartedAt    time.Time  `json:"startedAt"`
	FinishedAt   *time.Time `json:"finishedAt,omitempty"`
	Status       RunStatus  `json:"status,omitempty"`
	ErrorMessage *string    `json:"errorMessage,omitempty"`
	LogPath      string     `json:"logPath"`
}

// Validate checks Run's structural invariants.
func (r *Run) Validate() error {
	if r.Id == "" {
		return fmt.Errorf("run: id is required")
	}
	if r.TaskId == "" {
		return fmt.Errorf("run %s: taskId is required", r.Id)
	}
	if r.Status != "" && r.Status != RunSuccess && r.Status != RunFailure {
		return fmt.Errorf("run %s: invalid status %q", r.Id, r.Status)
	}
	if r.Status != "" && r.FinishedAt == nil {
		return fmt.Errorf("run %s: status set but finishedAt is nil", r.Id)
	}
	return nil
}

// IsComplete reports whether the run has reached a terminal status.
func (r *Run) IsComplete() bool {
	return r.Status == RunSuccess || r.Status == RunFailure
}

// Check is a validator result linked to a Task.
type Check struct {
	Id      string     `json:"id"`
	TaskId  ids.TaskId `json:"taskId"`
	Success bool       `json:"success"`
	Details string     `json:"details"`
}

// Validate checks Check's structural invariants.
func (c *Check) Validate() error {
	if c.Id == "" {
		return fmt.Errorf("check: id is required")
	}
	if c.TaskId == "" {
		return fmt.Errorf("check %s: taskId is required", c.Id)
	}
	return nil
}
