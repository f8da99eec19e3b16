package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ConsoleConfig controls terminal output formatting.
type ConsoleConfig struct {
	// EnableColor enables colored output.
	EnableColor bool `yaml:"enable_color"`

	// EnableProgressBar enables progress bar display during the leader loop.
	EnableProgressBar bool `yaml:"enable_progress_bar"`

	// ShowTaskDetails shows per-task detail lines in console output.
	ShowTaskDetails bool `yaml:"show_task_details"`

	// CompactMode enables a condensed single-line-per-event format.
	CompactMode bool `yaml:"compact_mode"`
}

// EscalationLimitsConfig bounds per-target escalation attempts
// (CORE SPEC §4.K).
type EscalationLimitsConfig struct {
	User            int `yaml:"user"`
	Planner         int `yaml:"planner"`
	LogicValidator  int `yaml:"logic_validator"`
	ExternalAdvisor int `yaml:"external_advisor"`
}

// LoopDetectorConfig tunes the loop detector's fingerprint window and
// similarity threshold (CORE SPEC §4.E).
type LoopDetectorConfig struct {
	// SimilarityThreshold is the Jaccard similarity above which two
	// responses are considered a repeat (0..1).
	SimilarityThreshold float64 `yaml:"similarity_threshold"`

	// FingerprintWindow bounds the per-step LRU of recent response
	// fingerprints.
	FingerprintWindow int `yaml:"fingerprint_window"`

	// MaxStepIterations is the ceiling on repeated iterations of a single
	// step before the loop detector intervenes.
	MaxStepIterations int `yaml:"max_step_iterations"`
}

// LogTruncationConfig bounds how much of a run's log is retained in
// judge/escalation prompts (CORE SPEC §4.G).
type LogTruncationConfig struct {
	BudgetBytes int `yaml:"budget_bytes"`
	HeadBytes   int `yaml:"head_bytes"`
}

// AgentConfig names the agent type and model used for each lifecycle role.
type AgentConfig struct {
	WorkerAgentType  string `yaml:"worker_agent_type"`
	JudgeAgentType   string `yaml:"judge_agent_type"`
	PlannerAgentType string `yaml:"planner_agent_type"`
	Model            string `yaml:"model"`
}

// Config holds taskforge's runtime configuration.
type Config struct {
	// MaxWorkers bounds the scheduler's concurrent running-task count
	// (0 = unlimited), CORE SPEC §4.C.
	MaxWorkers int `yaml:"max_workers"`

	// Timeout is the maximum execution time for a single run.
	Timeout time.Duration `yaml:"timeout"`

	// LogLevel sets logging verbosity (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`

	// LogDir is the directory where per-run logs are written.
	LogDir string `yaml:"log_dir"`

	// MaxQualityRetries bounds the planner's task-quality-guarded
	// regeneration loop (CORE SPEC §4.H planTasks).
	MaxQualityRetries int `yaml:"max_quality_retries"`

	// MaxReplanIterations bounds a single task's replanning chain depth
	// (CORE SPEC §4.H replanFailedTask).
	MaxReplanIterations int `yaml:"max_replan_iterations"`

	// JudgementMaxIterations bounds continuation attempts before a task is
	// escalated instead of retried again (CORE SPEC §4.G).
	JudgementMaxIterations int `yaml:"judgement_max_iterations"`

	// SerialChainTaskRetries bounds per-task retries within a serial chain
	// before the chain aborts (CORE SPEC §4.L).
	SerialChainTaskRetries int `yaml:"serial_chain_task_retries"`

	// LeaderMaxIterations bounds the Leader Execution Loop's main iteration
	// count as an infinite-loop guard (CORE SPEC §9 Open Questions).
	LeaderMaxIterations int `yaml:"leader_max_iterations"`

	Console       ConsoleConfig          `yaml:"console"`
	Escalation    EscalationLimitsConfig `yaml:"escalation"`
	LoopDetector  LoopDetectorConfig     `yaml:"loop_detector"`
	LogTruncation LogTruncationConfig    `yaml:"log_truncation"`
	Agents        AgentConfig            `yaml:"agents"`
}

// DefaultConsoleConfig returns ConsoleConfig with sensible default values.
func DefaultConsoleConfig() ConsoleConfig {
	return ConsoleConfig{
		EnableColor:       true,
		EnableProgressBar: true,
		ShowTaskDetails:   true,
		CompactMode:       false,
	}
}

// DefaultConfig returns a Config with sensible default values, matching the
// Open Question decisions recorded in DESIGN.md.
func DefaultConfig() *Config {
	return &Config{
		MaxWorkers:             4,
		Timeout:                2 * time.Hour,
		LogLevel:               "info",
		LogDir:                 ".taskforge/logs",
		MaxQualityRetries:      3,
		MaxReplanIterations:    3,
		JudgementMaxIterations: 3,
		SerialChainTaskRetries: 2,
		LeaderMaxIterations:    1000,
		Console:                DefaultConsoleConfig(),
		Escalation: EscalationLimitsConfig{
			User:            10,
			Planner:         3,
			LogicValidator:  5,
			ExternalAdvisor: 5,
		},
		LoopDetector: LoopDetectorConfig{
			SimilarityThreshold: 0.9,
			FingerprintWindow:   64,
			MaxStepIterations:   20,
		},
		LogTruncation: LogTruncationConfig{
			BudgetBytes: 150 * 1024,
			HeadBytes:   10 * 1024,
		},
		Agents: AgentConfig{
			WorkerAgentType:  "worker",
			JudgeAgentType:   "judge",
			PlannerAgentType: "planner",
			Model:            "default",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to console
// configuration. Environment variables take precedence over config file
// values. Only "true" (lowercase) or "1" are recognized as true.
func applyEnvOverrides(cfg *ConsoleConfig) {
	if val := os.Getenv("TASKFORGE_CONSOLE_COLOR"); val != "" {
		cfg.EnableColor = val == "true" || val == "1"
	}
	if val := os.Getenv("TASKFORGE_CONSOLE_PROGRESS_BAR"); val != "" {
		cfg.EnableProgressBar = val == "true" || val == "1"
	}
	if val := os.Getenv("TASKFORGE_CONSOLE_COMPACT"); val != "" {
		cfg.CompactMode = val == "true" || val == "1"
	}
}

// LoadConfig loads configuration from the specified file path. If the file
// doesn't exist, returns default configuration without error. If the file
// exists but is malformed, returns an error.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		applyEnvOverrides(&cfg.Console)
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// yaml.v3 has no special case for time.Duration (it's just an int64
	// underneath), so a human-written "2h" would fail to unmarshal
	// directly. Decode Timeout through a string field instead, same as
	// the rest of Config.
	type configYAML struct {
		MaxWorkers             int                    `yaml:"max_workers"`
		Timeout                string                 `yaml:"timeout"`
		LogLevel               string                 `yaml:"log_level"`
		LogDir                 string                 `yaml:"log_dir"`
		MaxQualityRetries      int                    `yaml:"max_quality_retries"`
		MaxReplanIterations    int                    `yaml:"max_replan_iterations"`
		JudgementMaxIterations int                    `yaml:"judgement_max_iterations"`
		SerialChainTaskRetries int                    `yaml:"serial_chain_task_retries"`
		LeaderMaxIterations    int                    `yaml:"leader_max_iterations"`
		Console                ConsoleConfig          `yaml:"console"`
		Escalation             EscalationLimitsConfig `yaml:"escalation"`
		LoopDetector           LoopDetectorConfig     `yaml:"loop_detector"`
		LogTruncation          LogTruncationConfig    `yaml:"log_truncation"`
		Agents                 AgentConfig            `yaml:"agents"`
	}

	y := configYAML{
		MaxWorkers:             cfg.MaxWorkers,
		Timeout:                cfg.Timeout.String(),
		LogLevel:               cfg.LogLevel,
		LogDir:                 cfg.LogDir,
		MaxQualityRetries:      cfg.MaxQualityRetries,
		MaxReplanIterations:    cfg.MaxReplanIterations,
		JudgementMaxIterations: cfg.JudgementMaxIterations,
		SerialChainTaskRetries: cfg.SerialChainTaskRetries,
		LeaderMaxIterations:    cfg.LeaderMaxIterations,
		Console:                cfg.Console,
		Escalation:             cfg.Escalation,
		LoopDetector:           cfg.LoopDetector,
		LogTruncation:          cfg.LogTruncation,
		Agents:                 cfg.Agents,
	}
	if err := yaml.Unmarshal(data, &y); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	timeout, err := time.ParseDuration(y.Timeout)
	if err != nil {
		return nil, fmt.Errorf("invalid timeout format %q: %w", y.Timeout, err)
	}

	cfg.MaxWorkers = y.MaxWorkers
	cfg.Timeout = timeout
	cfg.LogLevel = y.LogLevel
	cfg.LogDir = y.LogDir
	cfg.MaxQualityRetries = y.MaxQualityRetries
	cfg.MaxReplanIterations = y.MaxReplanIterations
	cfg.JudgementMaxIterations = y.JudgementMaxIterations
	cfg.SerialChainTaskRetries = y.SerialChainTaskRetries
	cfg.LeaderMaxIterations = y.LeaderMaxIterations
	cfg.Console = y.Console
	cfg.Escalation = y.Escalation
	cfg.LoopDetector = y.LoopDetector
	cfg.LogTruncation = y.LogTruncation
	cfg.Agents = y.Agents

	applyEnvOverrides(&cfg.Console)
	return cfg, nil
}

// Validate validates the configuration values. Returns an error if any
// values are invalid.
func (c *Config) Validate() error {
	if c.MaxWorkers < 0 {
		return fmt.Errorf("max_workers must be >= 0, got %d", c.MaxWorkers)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must be >= 0, got %v", c.Timeout)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("invalid log_level %q, must be one of: debug, info, warn, error", c.LogLevel)
	}

	if c.MaxQualityRetries < 0 {
		return fmt.Errorf("max_quality_retries must be >= 0, got %d", c.MaxQualityRetries)
	}
	if c.MaxReplanIterations < 0 {
		return fmt.Errorf("max_replan_iterations must be >= 0, got %d", c.MaxReplanIterations)
	}
	if c.JudgementMaxIterations <= 0 {
		return fmt.Errorf("judgement_max_iterations must be > 0, got %d", c.JudgementMaxIterations)
	}
	if c.SerialChainTaskRetries < 0 {
		return fmt.Errorf("serial_chain_task_retries must be >= 0, got %d", c.SerialChainTaskRetries)
	}
	if c.LeaderMaxIterations <= 0 {
		return fmt.Errorf("leader_max_iterations must be > 0, got %d", c.LeaderMaxIterations)
	}

	if c.Escalation.User < 0 || c.Escalation.Planner < 0 || c.Escalation.LogicValidator < 0 || c.Escalation.ExternalAdvisor < 0 {
		return fmt.Errorf("escalation limits must be >= 0")
	}

	if c.LoopDetector.SimilarityThreshold <= 0 || c.LoopDetector.SimilarityThreshold > 1 {
		return fmt.Errorf("loop_detector.similarity_threshold must be in (0,1], got %v", c.LoopDetector.SimilarityThreshold)
	}
	if c.LoopDetector.FingerprintWindow <= 0 {
		return fmt.Errorf("loop_detector.fingerprint_window must be > 0, got %d", c.LoopDetector.FingerprintWindow)
	}
	if c.LoopDetector.MaxStepIterations <= 0 {
		return fmt.Errorf("loop_detector.max_step_iterations must be > 0, got %d", c.LoopDetector.MaxStepIterations)
	}

	if c.LogTruncation.BudgetBytes <= 0 || c.LogTruncation.HeadBytes < 0 || c.LogTruncation.HeadBytes >= c.LogTruncation.BudgetBytes {
		return fmt.Errorf("log_truncation: head_bytes must be in [0, budget_bytes)")
	}

	return nil
}
