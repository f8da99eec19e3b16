package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/taskforge/taskforge/internal/entrypoint"
	"github.com/taskforge/taskforge/internal/models"
)

// printRunResult surfaces terminal session status and, on escalation, the
// unresolved records with their reasons and related task ids (CORE SPEC
// §7: "The CLI surfaces terminal session status and, on escalation, the
// unresolved records with their reasons and related task ids"). It exits
// with code 2 (runtime failure) when the session didn't reach COMPLETED.
func printRunResult(cmd *cobra.Command, result entrypoint.Result) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "session %s: %s\n", result.SessionId, result.Session.Status)
	fmt.Fprintf(out, "completed tasks: %d, failed tasks: %d\n", len(result.CompletedTaskIds), len(result.FailedTaskIds))

	if result.FinalJudgement != nil {
		fmt.Fprintf(out, "final completion judgement: complete=%v\n", result.FinalJudgement.IsComplete)
		for _, aspect := range result.FinalJudgement.MissingAspects {
			fmt.Fprintf(out, "  missing: %s\n", aspect)
		}
	}

	if result.PendingEscalation != nil {
		fmt.Fprintf(out, "UNRESOLVED escalation %s -> %s: %s\n",
			result.PendingEscalation.Id, result.PendingEscalation.Target, result.PendingEscalation.Reason)
		if result.PendingEscalation.RelatedTaskId != nil {
			fmt.Fprintf(out, "  related task: %s\n", *result.PendingEscalation.RelatedTaskId)
		}
	}

	if result.Session.Status != models.LeaderCompleted {
		os.Exit(2)
	}
	return nil
}
