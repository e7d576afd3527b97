package main

import (
	"context"
	"encoding/json"

	"github.com/spf13/cobra"

	"pmhub/internal/mutation/service"
	"pmhub/internal/records/models"
	dErrors "pmhub/pkg/domain-errors"
	"pmhub/pkg/retry"
)

var (
	transitionVersion string
	transitionFields  string
)

var transitionCmd = &cobra.Command{
	Use:   "transition <entity-type> <id> <to-status>",
	Short: "Move a record to a new status",
	Long: `Applies one lifecycle transition. With --expected-version the call fails on a
stale version; without it the transition is retried against the latest
version when a concurrent writer wins.`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		et, err := entityArg(args[0])
		if err != nil {
			return err
		}
		actor, err := currentActor()
		if err != nil {
			return err
		}
		expected, err := models.ParseVersion(transitionVersion)
		if err != nil {
			return err
		}
		fields, err := parseFields(transitionFields)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		req := service.TransitionRequest{
			EntityType:      et,
			ID:              args[1],
			ToStatus:        args[2],
			Actor:           actor,
			ExpectedVersion: expected,
			Fields:          fields,
		}
		var rec *models.Record
		apply := func(ctx context.Context) error {
			var err error
			rec, err = s.svc.Transition(ctx, req)
			return err
		}
		if expected != nil {
			err = retry.OnUnavailable(ctx, retry.Default(), apply)
		} else {
			err = retry.OnConflict(ctx, retry.Default(), apply)
		}
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), rec)
	},
}

func init() {
	transitionCmd.Flags().StringVar(&transitionVersion, "expected-version", "", "fail unless the record is at this version")
	transitionCmd.Flags().StringVar(&transitionFields, "fields", "", "JSON object of field changes written with the transition")
	rootCmd.AddCommand(transitionCmd)
}

func parseFields(raw string) (map[string]any, error) {
	if raw == "" {
		return nil, nil
	}
	var fields map[string]any
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "--fields must be a JSON object").WithField("fields")
	}
	return fields, nil
}
