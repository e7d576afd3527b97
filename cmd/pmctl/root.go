package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"pmhub/internal/lifecycle"
	"pmhub/internal/mutation/service"
	"pmhub/internal/permission"
	"pmhub/internal/platform/config"
	"pmhub/internal/platform/logger"
	"pmhub/internal/records/models"
	"pmhub/internal/storage"
	dErrors "pmhub/pkg/domain-errors"
)

var (
	actorID  string
	roleName string
)

var rootCmd = &cobra.Command{
	Use:   "pmhub",
	Short: "Operate on pmhub records from the command line",
	Long: `pmhub talks directly to the configured store (PMHUB_STORE, DATABASE_URL,
PMHUB_SQLITE_PATH, REDIS_URL) and runs every mutation through the same
permission and lifecycle rules as the HTTP API.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&actorID, "actor", os.Getenv("PMHUB_ACTOR"), "actor id recorded in the audit trail")
	rootCmd.PersistentFlags().StringVar(&roleName, "role", envOr("PMHUB_ROLE", "viewer"), "role of the actor")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func currentActor() (permission.Actor, error) {
	if actorID == "" {
		return permission.Actor{}, dErrors.Validation("actor", "--actor is required")
	}
	role, err := permission.ParseRole(roleName)
	if err != nil {
		return permission.Actor{}, dErrors.Wrap(err, dErrors.CodeValidation, "invalid --role")
	}
	return permission.Actor{ID: actorID, Role: role}, nil
}

func entityArg(raw string) (models.EntityType, error) {
	et, ok := models.ParseEntityType(raw)
	if !ok {
		return "", dErrors.Validation("entity_type", fmt.Sprintf("unknown entity type %q", raw))
	}
	return et, nil
}

// session is an open store plus the service built on it.
type session struct {
	cfg     config.Server
	backend *storage.Backend
	svc     *service.Service
	policy  *permission.Policy
}

func openSession(ctx context.Context) (*session, error) {
	cfg := config.FromEnv()
	// stdout carries command output; logs go to stderr.
	log := logger.NewWithWriter(os.Stderr, envOr("PMHUB_LOG_LEVEL", "warn"), cfg.LogFormat)

	policy, err := permission.LoadPolicy(cfg.PolicyFile)
	if err != nil {
		return nil, err
	}
	backend, err := storage.Open(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	gate := permission.NewGate(policy)
	svc := service.New(backend.Records, backend.Audit, backend.UoW,
		service.WithLogger(log),
		service.WithGate(gate),
		service.WithLifecycle(lifecycle.Default(gate)),
		service.WithBulkConcurrency(cfg.BulkConcurrency),
	)
	return &session{cfg: cfg, backend: backend, svc: svc, policy: policy}, nil
}

func (s *session) Close() {
	_ = s.backend.Close()
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
