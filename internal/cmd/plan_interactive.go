package cmd

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/taskforge/taskforge/internal/ids"
	"github.com/taskforge/taskforge/internal/issuebody"
	"github.com/taskforge/taskforge/internal/models"
	"github.com/taskforge/taskforge/internal/planningops"
)

// newPlanInteractiveCommand drives the (I) entry point of CORE SPEC §2: a
// Discovery->Design->Review->Approved conversation over Planning
// Operations, reading answers and decisions from stdin, before handing the
// resulting enhanced instruction to the Orchestrator Entrypoint's
// RunFromPlannerSession rather than going straight to PlanTasks the way
// `plan` does.
func newPlanInteractiveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan-interactive <instruction>",
		Short: "Discuss an instruction through discovery/design/review before planning it",
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

			ctx := cmd.Context()
			in := bufio.NewScanner(cmd.InOrStdin())
			out := cmd.OutOrStdout()

			sessionId := ids.NewSessionId()
			session, err := e.planningOps.StartDiscovery(ctx, sessionId, instruction)
			if err != nil {
				return fmt.Errorf("starting discovery: %w", err)
			}

			for _, q := range session.Questions {
				fmt.Fprintf(out, "? %s\n> ", q.Text)
				answer := readLine(in)
				session, err = e.planningOps.AnswerQuestion(ctx, sessionId, q.Id, answer)
				if err != nil {
					return fmt.Errorf("recording answer to %s: %w", q.Id, err)
				}
			}

			for _, d := range session.DecisionPoints {
				fmt.Fprintf(out, "decision: %s\n> ", d.Question)
				decision := readLine(in)
				session, err = e.planningOps.RecordDecision(ctx, sessionId, d.Id, decision)
				if err != nil {
					return fmt.Errorf("recording decision %s: %w", d.Id, err)
				}
			}

			if session.Status != models.PlanningReview {
				return fmt.Errorf("plan-interactive: session %s ended in %s before reaching REVIEW", sessionId, session.Status)
			}

			if len(session.ConversationHistory) > 0 {
				fmt.Fprintf(out, "\n%s\n\n", session.ConversationHistory[len(session.ConversationHistory)-1].Content)
			}
			fmt.Fprint(out, "approve this plan? [y/N] ")
			if !isYes(readLine(in)) {
				session, err = e.planningOps.Reject(sessionId)
				if err != nil {
					return fmt.Errorf("rejecting session %s: %w", sessionId, err)
				}
				fmt.Fprintf(out, "rejected; session %s is now %s\n", sessionId, session.Status)
				return nil
			}

			session, err = e.planningOps.Approve(sessionId)
			if err != nil {
				return fmt.Errorf("approving session %s: %w", sessionId, err)
			}

			enhanced := planningops.BuildEnhancedInstruction(session)
			result, err := e.entrypoint.RunFromPlannerSession(ctx, *session.PlannerSessionId, enhanced)
			if err != nil {
				return fmt.Errorf("running planner session %s: %w", *session.PlannerSessionId, err)
			}

			return printRunResult(cmd, result)
		},
	}
	return cmd
}

func readLine(s *bufio.Scanner) string {
	if !s.Scan() {
		return ""
	}
	return strings.TrimSpace(s.Text())
}

func isYes(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}
