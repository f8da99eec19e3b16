package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/taskforge/taskforge/internal/ids"
)

func newResolveCommand() *cobra.Command {
	var escalationId string
	var resolution string
	var planFilePath string

	cmd := &cobra.Command{
		Use:   "resolve <sessionId>",
		Short: "Resolve a pending escalation and resume the leader loop",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionId := ids.SessionId(args[0])

			e, err := buildEnv(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			session, err := e.leaderSess.Load(sessionId)
			if err != nil {
				return fmt.Errorf("loading session %s: %w", sessionId, err)
			}

			if escalationId == "" {
				for _, rec := range session.EscalationRecords {
					if !rec.Resolved {
						escalationId = string(rec.Id)
						break
					}
				}
				if escalationId == "" {
					return fmt.Errorf("session %s has no unresolved escalation; pass --escalation-id to resolve a specific one", sessionId)
				}
			}

			if _, err := e.escalation.ResolveEscalation(sessionId, ids.EscalationId(escalationId), resolution); err != nil {
				return fmt.Errorf("resolving escalation: %w", err)
			}
			if _, err := e.escalation.ResumeFromEscalation(sessionId); err != nil {
				return fmt.Errorf("resuming session: %w", err)
			}

			if planFilePath == "" {
				return fmt.Errorf("--plan-file is required to resume the leader loop (the instruction isn't stored on the session record)")
			}
			pf, err := readPlanFile(planFilePath)
			if err != nil {
				return err
			}
			if pf.SessionId != sessionId {
				return fmt.Errorf("plan file %s is for session %s, not %s", planFilePath, pf.SessionId, sessionId)
			}

			result, err := e.entrypoint.Continue(cmd.Context(), sessionId, pf.Instruction)
			if err != nil {
				return fmt.Errorf("running leader loop: %w", err)
			}
			return printRunResult(cmd, result)
		},
	}

	cmd.Flags().StringVar(&escalationId, "escalation-id", "", "escalation to resolve (defaults to the session's first unresolved one)")
	cmd.Flags().StringVar(&resolution, "resolution", "", "resolution text appended to the escalation record")
	cmd.Flags().StringVar(&planFilePath, "plan-file", "", "plan file written by `plan`, needed to resume the leader loop")
	return cmd
}
