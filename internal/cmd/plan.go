package cmd

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/taskforge/taskforge/internal/ids"
	"github.com/taskforge/taskforge/internal/issuebody"
	"github.com/taskforge/taskforge/internal/models"
)

func newPlanCommand() *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "plan <instruction>",
		Short: "Decompose an instruction into tasks and write a plan file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			instruction, err := issuebody.New().Sanitize(args[0])
			if err != nil {
				return fmt.Errorf("sanitizing instruction: %w", err)
			}

			e, err := buildEnv(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			sessionId := ids.NewSessionId()
			result, err := e.planner.PlanTasks(cmd.Context(), sessionId, instruction)
			if err != nil {
				return fmt.Errorf("planning tasks: %w", err)
			}

			now := time.Now()
			session := &models.LeaderSession{
				SessionId:      sessionId,
				Status:         models.LeaderPlanning,
				TotalTaskCount: len(result.Tasks),
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			if err := e.leaderSess.Save(sessionId, session); err != nil {
				return fmt.Errorf("seeding leader session: %w", err)
			}

			if outputPath == "" {
				outputPath = filepath.Join(e.coordDir, fmt.Sprintf("%s.plan.yaml", sessionId))
			}
			pf := planFile{SessionId: sessionId, Instruction: instruction, Repo: string(e.repo), CreatedAt: now}
			if err := writePlanFile(outputPath, pf); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "planned %d task(s) for session %s\n", len(result.Tasks), sessionId)
			fmt.Fprintf(cmd.OutOrStdout(), "wrote plan file to %s\n", outputPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&outputPath, "output", "", "path to write the plan file (defaults to <coord-dir>/<sessionId>.plan.yaml)")
	return cmd
}
