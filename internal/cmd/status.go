package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show recent sessions' run/escalation/loop-detector activity",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := buildEnv(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			summaries, err := e.ledger.Summaries(cmd.Context())
			if err != nil {
				return fmt.Errorf("reading ledger summaries: %w", err)
			}
			if len(summaries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no recorded activity yet")
				return nil
			}

			out := cmd.OutOrStdout()
			for _, s := range summaries {
				fmt.Fprintf(out, "%s  runs=%d (success=%d)  escalations=%d  loop-detector-hits=%d  last-activity=%s\n",
					s.SessionId, s.RunCount, s.SuccessRunCount, s.EscalationCount, s.LoopDetectorHits,
					s.LastActivity.Format("2006-01-02T15:04:05Z07:00"))

				session, err := e.leaderSess.Load(s.SessionId)
				if err != nil {
					continue
				}
				fmt.Fprintf(out, "  status=%s  tasks=%d/%d\n", session.Status, session.CompletedTaskCount, session.TotalTaskCount)
				for _, rec := range session.EscalationRecords {
					if rec.Resolved {
						continue
					}
					fmt.Fprintf(out, "  UNRESOLVED escalation %s -> %s: %s\n", rec.Id, rec.Target, rec.Reason)
				}
			}
			return nil
		},
	}
}
