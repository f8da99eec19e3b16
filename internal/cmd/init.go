package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/taskforge/taskforge/internal/config"
)

func newInitCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the coordination directory and a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			coordDir, err := cmd.Flags().GetString("coord-dir")
			if err != nil {
				return err
			}

			for _, dir := range []string{coordDir, filepath.Join(coordDir, "worktrees")} {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return fmt.Errorf("creating %s: %w", dir, err)
				}
			}

			configPath := filepath.Join(coordDir, "config.yaml")
			if _, err := os.Stat(configPath); err == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "%s already exists, leaving it in place\n", configPath)
			} else {
				if err := writeDefaultConfig(configPath); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote default config to %s\n", configPath)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "initialized coordination directory at %s\n", coordDir)
			return nil
		},
	}
}

// configYAML mirrors internal/config.LoadConfig's own decode shape: a
// duration string for Timeout rather than yaml.v3's default raw-int64
// encoding of time.Duration.
type configYAML struct {
	MaxWorkers             int                           `yaml:"max_workers"`
	Timeout                string                        `yaml:"timeout"`
	LogLevel               string                        `yaml:"log_level"`
	LogDir                 string                        `yaml:"log_dir"`
	MaxQualityRetries      int                           `yaml:"max_quality_retries"`
	MaxReplanIterations    int                           `yaml:"max_replan_iterations"`
	JudgementMaxIterations int                           `yaml:"judgement_max_iterations"`
	SerialChainTaskRetries int                           `yaml:"serial_chain_task_retries"`
	LeaderMaxIterations    int                           `yaml:"leader_max_iterations"`
	Console                config.ConsoleConfig          `yaml:"console"`
	Escalation             config.EscalationLimitsConfig `yaml:"escalation"`
	LoopDetector           config.LoopDetectorConfig     `yaml:"loop_detector"`
	LogTruncation          config.LogTruncationConfig    `yaml:"log_truncation"`
	Agents                 config.AgentConfig            `yaml:"agents"`
}

func writeDefaultConfig(path string) error {
	cfg := config.DefaultConfig()
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
	data, err := yaml.Marshal(y)
	if err != nil {
		return fmt.Errorf("marshaling default config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
