package storage

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pmhub/internal/mutation/service"
	"pmhub/internal/permission"
	"pmhub/internal/platform/config"
	"pmhub/internal/records/models"
)

func openAndExercise(t *testing.T, cfg config.Server) {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	b, err := Open(ctx, cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	require.NoError(t, b.Health(ctx))

	svc := service.New(b.Records, b.Audit, b.UoW, service.WithLogger(logger))
	actor := permission.Actor{ID: "lee", Role: permission.RoleLead}
	rec, err := svc.Create(ctx, models.EntityPortfolio, map[string]any{"name": "Core"}, actor)
	require.NoError(t, err)

	entries, err := svc.GetHistory(ctx, models.EntityPortfolio, rec.ID, actor)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestOpenMemory(t *testing.T) {
	openAndExercise(t, config.Server{Store: config.StoreMemory})
}

func TestOpenSQLite(t *testing.T) {
	openAndExercise(t, config.Server{
		Store:      config.StoreSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "pmhub.db"),
	})
}

func TestOpenRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	openAndExercise(t, config.Server{
		Store: config.StoreRedis,
		Redis: config.RedisConfig{URL: "redis://" + mr.Addr(), PoolSize: 2},
	})
}

func TestOpenRejectsUnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), config.Server{Store: "cassandra"}, slog.Default())
	assert.ErrorContains(t, err, "unknown store backend")
}

func TestOpenRedisRequiresURL(t *testing.T) {
	_, err := Open(context.Background(), config.Server{Store: config.StoreRedis}, slog.Default())
	assert.Error(t, err)
}
