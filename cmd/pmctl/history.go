package main

import (
	"context"

	"github.com/spf13/cobra"

	audit "pmhub/pkg/platform/audit"
	"pmhub/pkg/retry"
)

var historyCmd = &cobra.Command{
	Use:   "history <entity-type> <id>",
	Short: "Print the audit trail of a record, oldest first",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		et, err := entityArg(args[0])
		if err != nil {
			return err
		}
		actor, err := currentActor()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		var entries []audit.Entry
		err = retry.OnUnavailable(ctx, retry.Default(), func(ctx context.Context) error {
			var err error
			entries, err = s.svc.GetHistory(ctx, et, args[1], actor)
			return err
		})
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), entries)
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
}
