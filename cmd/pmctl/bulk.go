package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"pmhub/internal/mutation/handler"
	"pmhub/internal/mutation/service"
	strutil "pmhub/pkg/platform/strings"
)

var bulkFields string

var bulkCmd = &cobra.Command{
	Use:   "bulk-transition <entity-type> <to-status> <id>[,<id>...] [id...]",
	Short: "Move many records to the same status",
	Long: `Each id is transitioned independently. The command prints one outcome per id
and exits non-zero when any of them failed.`,
	Args: cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		et, err := entityArg(args[0])
		if err != nil {
			return err
		}
		actor, err := currentActor()
		if err != nil {
			return err
		}
		fields, err := parseFields(bulkFields)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		res, err := s.svc.BulkTransition(ctx, service.BulkTransitionRequest{
			EntityType: et,
			IDs:        strutil.SplitList(args[2:]...),
			ToStatus:   args[1],
			Actor:      actor,
			Fields:     fields,
		})
		if err != nil {
			return err
		}
		if err := printJSON(cmd.OutOrStdout(), handler.FromBulkResult(res)); err != nil {
			return err
		}
		if res.Failed > 0 {
			return fmt.Errorf("%d of %d transitions failed", res.Failed, len(res.Outcomes))
		}
		return nil
	},
}

func init() {
	bulkCmd.Flags().StringVar(&bulkFields, "fields", "", "JSON object of field changes written with every transition")
	rootCmd.AddCommand(bulkCmd)
}
