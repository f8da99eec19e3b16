package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/taskforge/taskforge/internal/branchcleanup"
)

func newCleanupCommand() *cobra.Command {
	var execute bool
	var deleteRemote bool
	var integrationOnly bool
	var taskOnly bool

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "List or delete merged task/integration branches",
		RunE: func(cmd *cobra.Command, args []string) error {
			if integrationOnly && taskOnly {
				return fmt.Errorf("--integration-only and --task-only are mutually exclusive")
			}

			e, err := buildEnv(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			cleaner := branchcleanup.New(e.git)
			targets, err := cleaner.Run(cmd.Context(), e.repo, branchcleanup.Options{
				Execute:       execute,
				IncludeRemote: deleteRemote,
			})
			if err != nil {
				return fmt.Errorf("running branch cleanup: %w", err)
			}

			out := cmd.OutOrStdout()
			for _, t := range targets {
				if integrationOnly && t.Category != branchcleanup.CategoryIntegration {
					continue
				}
				if taskOnly && t.Category != branchcleanup.CategoryTask {
					continue
				}

				status := "kept"
				if execute {
					if t.Deleted {
						status = "deleted"
					} else if t.Error != "" {
						status = "error: " + t.Error
					}
				} else if t.Merged {
					status = "would delete (merged)"
				} else {
					status = "would keep (not merged)"
				}
				fmt.Fprintf(out, "%-12s %-30s %s\n", t.Category, t.Name, status)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&execute, "execute", false, "actually delete branches (default is list-only)")
	cmd.Flags().BoolVar(&deleteRemote, "delete-remote", false, "also delete the matching remote branch for anything deleted")
	cmd.Flags().BoolVar(&integrationOnly, "integration-only", false, "only report integration/ branches")
	cmd.Flags().BoolVar(&taskOnly, "task-only", false, "only report task branches")
	return cmd
}
