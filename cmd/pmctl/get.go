package main

import (
	"context"

	"github.com/spf13/cobra"

	"pmhub/internal/records/models"
	"pmhub/pkg/retry"
)

var getIncludeDeleted bool

var getCmd = &cobra.Command{
	Use:   "get <entity-type> <id>",
	Short: "Print one record",
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

		var rec *models.Record
		err = retry.OnUnavailable(ctx, retry.Default(), func(ctx context.Context) error {
			var err error
			rec, err = s.svc.Get(ctx, et, args[1], actor, getIncludeDeleted)
			return err
		})
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), rec)
	},
}

func init() {
	getCmd.Flags().BoolVar(&getIncludeDeleted, "include-deleted", false, "return soft-deleted records too")
	rootCmd.AddCommand(getCmd)
}
