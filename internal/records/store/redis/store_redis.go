// Package redis stores records as JSON documents in Redis. Conditional writes
// rely on WATCH/MULTI through the platform Batch, so every write joins the
// caller's unit of work when one is open.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"pmhub/internal/records/models"
	platformredis "pmhub/internal/platform/redis"
	"pmhub/pkg/platform/sentinel"
	"pmhub/pkg/requestcontext"
)

const keyPrefix = "pmhub:"

// RedisStore persists records in Redis.
type RedisStore struct {
	client *platformredis.Client
}

// New constructs a Redis-backed record store.
func New(client *platformredis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func recordKey(entityType models.EntityType, id string) string {
	return keyPrefix + "record:" + models.Key(entityType, id)
}

func indexKey(entityType models.EntityType) string {
	return keyPrefix + "records:" + string(entityType)
}

func (s *RedisStore) Get(ctx context.Context, entityType models.EntityType, id string, includeDeleted bool) (*models.Record, error) {
	var raw string
	var err error
	if b, ok := platformredis.BatchFrom(ctx); ok {
		var found bool
		raw, found, err = b.Get(ctx, recordKey(entityType, id))
		if err == nil && !found {
			err = sentinel.ErrNotFound
		}
	} else {
		raw, err = s.client.Get(ctx, recordKey(entityType, id)).Result()
		err = platformredis.Classify(err)
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	rec, err := decode(raw)
	if err != nil {
		return nil, err
	}
	if rec.IsDeleted && !includeDeleted {
		return nil, fmt.Errorf("get record: %w", sentinel.ErrNotFound)
	}
	return rec, nil
}

func (s *RedisStore) Insert(ctx context.Context, rec *models.Record) (*models.Record, error) {
	now := requestcontext.Now(ctx)
	stored := rec.Clone()
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	stored.Version = 1
	stored.IsDeleted = false
	stored.CreatedAt = now
	stored.UpdatedAt = now
	stored.UpdatedBy = stored.CreatedBy
	if stored.Fields == nil {
		stored.Fields = models.Fields{}
	}

	err := s.client.RunInTx(ctx, func(ctx context.Context) error {
		b, _ := platformredis.BatchFrom(ctx)
		_, exists, err := b.Get(ctx, recordKey(stored.EntityType, stored.ID))
		if err != nil {
			return err
		}
		if exists {
			return sentinel.ErrAlreadyExists
		}
		if err := s.stage(ctx, b, stored); err != nil {
			return err
		}
		b.Queue(func(p goredis.Pipeliner) {
			p.SAdd(ctx, indexKey(stored.EntityType), stored.ID)
		})
		return nil
	})
	if errors.Is(err, sentinel.ErrVersionConflict) {
		// a concurrent insert of the same key aborted our EXEC
		err = sentinel.ErrAlreadyExists
	}
	if err != nil {
		return nil, fmt.Errorf("insert record: %w", err)
	}
	return stored, nil
}

func (s *RedisStore) ConditionalUpdate(ctx context.Context, entityType models.EntityType, id string, fields models.Fields, actor string, expected *models.Version) (*models.Record, error) {
	var out *models.Record
	err := s.mutate(ctx, entityType, id, expected, func(next *models.Record) {
		next.Fields = fields.Clone()
		next.UpdatedBy = actor
		out = next
	})
	if err != nil {
		return nil, fmt.Errorf("update record: %w", err)
	}
	return out, nil
}

func (s *RedisStore) MarkDeleted(ctx context.Context, entityType models.EntityType, id string, actor string, expected *models.Version) (*models.Record, error) {
	var out *models.Record
	err := s.mutate(ctx, entityType, id, expected, func(next *models.Record) {
		at := next.UpdatedAt
		next.IsDeleted = true
		next.DeletedBy = actor
		next.DeletedAt = &at
		next.UpdatedBy = actor
		out = next
	})
	if err != nil {
		return nil, fmt.Errorf("delete record: %w", err)
	}
	return out, nil
}

func (s *RedisStore) List(ctx context.Context, entityType models.EntityType, opts models.ListOptions) ([]*models.Record, error) {
	ids, err := s.client.SMembers(ctx, indexKey(entityType)).Result()
	if err != nil {
		return nil, fmt.Errorf("list records: %w", platformredis.Classify(err))
	}
	out := make([]*models.Record, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = recordKey(entityType, id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("list records: %w", platformredis.Classify(err))
	}
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		rec, err := decode(raw)
		if err != nil {
			return nil, err
		}
		if rec.IsDeleted && !opts.IncludeDeleted {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// mutate reads the live record under WATCH, checks the version and stages the
// next revision produced by apply.
func (s *RedisStore) mutate(ctx context.Context, entityType models.EntityType, id string, expected *models.Version, apply func(next *models.Record)) error {
	return s.client.RunInTx(ctx, func(ctx context.Context) error {
		b, _ := platformredis.BatchFrom(ctx)
		raw, found, err := b.Get(ctx, recordKey(entityType, id))
		if err != nil {
			return err
		}
		if !found {
			return sentinel.ErrNotFound
		}
		cur, err := decode(raw)
		if err != nil {
			return err
		}
		if cur.IsDeleted {
			return sentinel.ErrNotFound
		}
		if expected != nil && cur.Version != *expected {
			return sentinel.ErrVersionConflict
		}
		next := cur.Clone()
		next.Version = cur.Version + 1
		next.UpdatedAt = requestcontext.Now(ctx)
		apply(next)
		return s.stage(ctx, b, next)
	})
}

func (s *RedisStore) stage(ctx context.Context, b *platformredis.Batch, rec *models.Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	b.Set(ctx, recordKey(rec.EntityType, rec.ID), string(raw))
	return nil
}

func decode(raw string) (*models.Record, error) {
	var rec models.Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	rec.Fields = models.Normalize(rec.Fields)
	return &rec, nil
}
