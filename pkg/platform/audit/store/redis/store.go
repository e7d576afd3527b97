// Package redis keeps each entity's history as a Redis list of JSON entries.
// List position provides the sequence number.
package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	platformredis "pmhub/internal/platform/redis"
	audit "pmhub/pkg/platform/audit"
)

type Store struct {
	client *platformredis.Client
}

func New(client *platformredis.Client) *Store {
	return &Store{client: client}
}

func listKey(entityType, entityID string) string {
	return "pmhub:audit:" + entityType + ":" + entityID
}

// Append pushes entries onto their entity lists. Inside a unit of work the
// pushes are queued into the batch's EXEC.
func (s *Store) Append(ctx context.Context, entries ...audit.Entry) error {
	type push struct {
		key string
		raw string
	}
	pushes := make([]push, 0, len(entries))
	for _, e := range entries {
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		e.Seq = 0
		raw, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal audit entry: %w", err)
		}
		pushes = append(pushes, push{key: listKey(e.EntityType, e.EntityID), raw: string(raw)})
	}

	if b, ok := platformredis.BatchFrom(ctx); ok {
		for _, p := range pushes {
			b.Queue(func(pipe goredis.Pipeliner) {
				pipe.RPush(ctx, p.key, p.raw)
			})
		}
		return nil
	}
	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		for _, p := range pushes {
			pipe.RPush(ctx, p.key, p.raw)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("append audit entries: %w", platformredis.Classify(err))
	}
	return nil
}

func (s *Store) ListByEntity(ctx context.Context, entityType, entityID string) ([]audit.Entry, error) {
	raws, err := s.client.LRange(ctx, listKey(entityType, entityID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", platformredis.Classify(err))
	}
	entries := make([]audit.Entry, 0, len(raws))
	for i, raw := range raws {
		var e audit.Entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("decode audit entry: %w", err)
		}
		e.Seq = int64(i + 1)
		entries = append(entries, e)
	}
	return entries, nil
}
