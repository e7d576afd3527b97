package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	jwttoken "pmhub/internal/jwt_token"
	"pmhub/internal/platform/config"
)

// tokenAudience matches the audience the server accepts on /v1.
const tokenAudience = "pmhub-api"

var tokenTTL time.Duration

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an access token for --actor and --role",
	Long:  `Signs a bearer token with JWT_SIGNING_KEY for local testing against the HTTP API.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		actor, err := currentActor()
		if err != nil {
			return err
		}
		cfg := config.FromEnv()
		svc := jwttoken.NewJWTService(cfg.JWTSigningKey, cfg.JWTIssuer, tokenAudience)
		token, err := svc.GenerateAccessToken(actor.ID, actor.Role, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "token lifetime")
	rootCmd.AddCommand(tokenCmd)
}
