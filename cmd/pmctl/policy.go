package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"pmhub/internal/permission"
	"pmhub/internal/platform/config"
)

var policyRules bool

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Print the effective permission policy",
	Long:  `Prints the built-in policy merged with PMHUB_POLICY_FILE, as YAML or, with --rules, one line per rule.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		policy, err := permission.LoadPolicy(config.FromEnv().PolicyFile)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if policyRules {
			for _, line := range policy.Describe() {
				fmt.Fprintln(out, line)
			}
			return nil
		}
		doc, err := policy.YAML()
		if err != nil {
			return err
		}
		_, err = out.Write(doc)
		return err
	},
}

func init() {
	policyCmd.Flags().BoolVar(&policyRules, "rules", false, "print one line per rule instead of YAML")
	rootCmd.AddCommand(policyCmd)
}
