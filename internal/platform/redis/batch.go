package redis

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

type batchKey struct{}

// Batch is one optimistic Redis transaction. Keys read through Get are WATCHed;
// queued writes are sent in a single MULTI/EXEC when the unit of work ends. If any
// watched key changed in between, EXEC aborts and nothing is written.
type Batch struct {
	tx     *redis.Tx
	staged map[string]string
	ops    []func(redis.Pipeliner)
}

// BatchFrom returns the batch carried by ctx, if any.
func BatchFrom(ctx context.Context) (*Batch, bool) {
	b, ok := ctx.Value(batchKey{}).(*Batch)
	return b, ok
}

// Get watches key and returns its value, preferring a value staged earlier in
// the same batch. A missing key yields ok=false.
func (b *Batch) Get(ctx context.Context, key string) (string, bool, error) {
	if v, ok := b.staged[key]; ok {
		return v, true, nil
	}
	if err := b.tx.Watch(ctx, key).Err(); err != nil {
		return "", false, Classify(err)
	}
	v, err := b.tx.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, Classify(err)
	}
	return v, true, nil
}

// Set stages a string write.
func (b *Batch) Set(ctx context.Context, key, value string) {
	b.staged[key] = value
	b.Queue(func(p redis.Pipeliner) {
		p.Set(ctx, key, value, 0)
	})
}

// Queue appends an arbitrary command to the EXEC block.
func (b *Batch) Queue(op func(redis.Pipeliner)) {
	b.ops = append(b.ops, op)
}

// RunInTx runs fn with a Batch in its context and commits the queued writes
// atomically. Nested calls join the outer batch. An aborted EXEC surfaces as
// sentinel.ErrVersionConflict.
func (c *Client) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := BatchFrom(ctx); ok {
		return fn(ctx)
	}
	var fnErr error
	err := c.Watch(ctx, func(tx *redis.Tx) error {
		b := &Batch{tx: tx, staged: make(map[string]string)}
		if fnErr = fn(context.WithValue(ctx, batchKey{}, b)); fnErr != nil {
			return fnErr
		}
		if len(b.ops) == 0 {
			return nil
		}
		_, err := tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			for _, op := range b.ops {
				op(p)
			}
			return nil
		})
		return err
	})
	if fnErr != nil {
		return fnErr
	}
	return Classify(err)
}
