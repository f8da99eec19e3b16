package cmd

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/taskforge/taskforge/internal/ids"
)

// planFile is what `plan` writes and `lead`/`resolve` read back: just
// enough to resume driving a LeaderSession without re-running Planner
// Operations. The session itself (status, task counts, escalation
// records) lives in the Leader session store; this file only remembers
// which session and instruction a later `lead`/`resolve` invocation means.
//
// The yaml front-matter document shape (rather than a bespoke format) is
// adapted from the teacher's plan-file front matter, generalized from a
// Markdown-plus-YAML-header hybrid to a pure YAML document since this
// spec's plan file carries no embedded task prose of its own — every task
// already lives in the Task Store.
type planFile struct {
	SessionId   ids.SessionId `yaml:"sessionId"`
	Instruction string        `yaml:"instruction"`
	Repo        string        `yaml:"repo"`
	CreatedAt   time.Time     `yaml:"createdAt"`
}

func writePlanFile(path string, pf planFile) error {
	data, err := yaml.Marshal(pf)
	if err != nil {
		return fmt.Errorf("marshaling plan file: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing plan file %s: %w", path, err)
	}
	return nil
}

func readPlanFile(path string) (planFile, error) {
	var pf planFile
	data, err := os.ReadFile(path)
	if err != nil {
		return pf, fmt.Errorf("reading plan file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return pf, fmt.Errorf("parsing plan file %s: %w", path, err)
	}
	if pf.SessionId == "" || pf.Instruction == "" {
		return pf, fmt.Errorf("plan file %s: missing sessionId or instruction", path)
	}
	return pf, nil
}
