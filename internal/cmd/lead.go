package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newLeadCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "lead <planFile>",
		Short: "Drive a planned session's tasks to completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pf, err := readPlanFile(args[0])
			if err != nil {
				return err
			}

			e, err := buildEnv(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			result, err := e.entrypoint.Continue(cmd.Context(), pf.SessionId, pf.Instruction)
			if err != nil {
				return fmt.Errorf("running leader loop: %w", err)
			}

			return printRunResult(cmd, result)
		},
	}
}
