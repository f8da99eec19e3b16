package cmd

import (
	"github.com/spf13/cobra"
)

// Version is injected at build time via -ldflags.
var Version = "dev"

// NewRootCommand builds the taskforge root cobra command and wires every
// subcommand in the CLI minimum surface (CORE SPEC §6): init, status,
// plan, plan-interactive, lead, resolve, cleanup.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "taskforge",
		Short: "Autonomous multi-agent task orchestration",
		Long: `taskforge decomposes an instruction into dependency-ordered tasks,
drives a coding agent through each one under a judge's acceptance loop,
and escalates to a human, the planner, or another advisor when it gets
stuck.`,
		Version:      Version,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().String("coord-dir", ".taskforge", "coordination directory (task store, sessions, runs, ledger)")
	cmd.PersistentFlags().String("repo", ".", "repository root the tasks/worktrees belong to")
	cmd.PersistentFlags().String("config", "", "path to a taskforge config file (defaults to <coord-dir>/config.yaml)")

	cmd.AddCommand(newInitCommand())
	cmd.AddCommand(newStatusCommand())
	cmd.AddCommand(newPlanCommand())
	cmd.AddCommand(newPlanInteractiveCommand())
	cmd.AddCommand(newLeadCommand())
	cmd.AddCommand(newResolveCommand())
	cmd.AddCommand(newCleanupCommand())

	return cmd
}
