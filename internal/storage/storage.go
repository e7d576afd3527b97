// Package storage opens the configured persistence backend: a record store, an
// audit store and the unit of work that makes them commit together.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"pmhub/internal/mutation/service"
	"pmhub/internal/platform/config"
	platformpg "pmhub/internal/platform/postgres"
	platformredis "pmhub/internal/platform/redis"
	platformsqlite "pmhub/internal/platform/sqlite"
	memorystore "pmhub/internal/records/store/memory"
	pgstore "pmhub/internal/records/store/postgres"
	redisstore "pmhub/internal/records/store/redis"
	sqlitestore "pmhub/internal/records/store/sqlite"
	audit "pmhub/pkg/platform/audit"
	auditmemory "pmhub/pkg/platform/audit/store/memory"
	auditpg "pmhub/pkg/platform/audit/store/postgres"
	auditredis "pmhub/pkg/platform/audit/store/redis"
	auditsqlite "pmhub/pkg/platform/audit/store/sqlite"
	txcontext "pmhub/pkg/platform/tx"
)

// Backend is one opened persistence backend.
type Backend struct {
	Kind    config.StoreBackend
	Records service.RecordStore
	Audit   audit.Store
	UoW     service.UnitOfWork

	// DB is set for postgres; the outbox relay reads from it.
	DB *sql.DB

	health func(ctx context.Context) error
	close  func() error
}

// Health pings the underlying store.
func (b *Backend) Health(ctx context.Context) error {
	if b.health == nil {
		return nil
	}
	return b.health(ctx)
}

// Close releases connections.
func (b *Backend) Close() error {
	if b.close == nil {
		return nil
	}
	return b.close()
}

// Open builds the backend selected by cfg.Store.
func Open(ctx context.Context, cfg config.Server, logger *slog.Logger) (*Backend, error) {
	switch cfg.Store {
	case config.StoreMemory, "":
		return Memory(), nil

	case config.StorePostgres:
		db, err := platformpg.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := platformpg.EnsureSchema(ctx, db, platformpg.DefaultTables); err != nil {
			_ = db.Close()
			return nil, err
		}
		return &Backend{
			Kind:    config.StorePostgres,
			Records: pgstore.New(db, pgstore.WithLogger(logger)),
			Audit:   auditpg.New(db),
			UoW:     txcontext.NewSQLRunner(db, cfg.TxTimeout),
			DB:      db,
			health:  db.PingContext,
			close:   db.Close,
		}, nil

	case config.StoreSQLite:
		db, err := platformsqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return &Backend{
			Kind:    config.StoreSQLite,
			Records: sqlitestore.New(db, logger),
			Audit:   auditsqlite.New(db),
			UoW:     txcontext.NewSQLRunner(db, cfg.TxTimeout),
			health:  db.PingContext,
			close:   db.Close,
		}, nil

	case config.StoreRedis:
		client, err := platformredis.New(cfg.Redis)
		if err != nil {
			return nil, err
		}
		if client == nil {
			return nil, fmt.Errorf("redis store selected but REDIS_URL is empty")
		}
		return &Backend{
			Kind:    config.StoreRedis,
			Records: redisstore.New(client),
			Audit:   auditredis.New(client),
			UoW:     client,
			health:  client.Health,
			close:   client.Close,
		}, nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.Store)
}

// Memory returns a process-local backend; its data is gone on exit.
func Memory() *Backend {
	uow := txcontext.NewMemoryRunner()
	return &Backend{
		Kind:    config.StoreMemory,
		Records: memorystore.New(memorystore.WithGuard(uow)),
		Audit:   auditmemory.NewInMemoryStore(auditmemory.WithGuard(uow)),
		UoW:     uow,
	}
}
