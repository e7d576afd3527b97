// Package outbox publishes audit rows written by the Postgres audit store to
// Kafka. Rows are claimed with FOR UPDATE SKIP LOCKED, so several relays can
// run against one database.
package outbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
	"github.com/twmb/franz-go/pkg/kgo"

	platformpg "pmhub/internal/platform/postgres"
	audit "pmhub/pkg/platform/audit"
	"pmhub/pkg/platform/circuit"
	txcontext "pmhub/pkg/platform/tx"
)

// ErrCircuitOpen is returned by Flush while the breaker rejects attempts.
var ErrCircuitOpen = errors.New("outbox relay circuit open")

// Producer is the subset of *kgo.Client the relay needs.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// Relay moves pending outbox rows to a Kafka topic.
type Relay struct {
	db       *sql.DB
	producer Producer
	topic    string
	tables   platformpg.Tables
	interval time.Duration
	batch    int
	breaker  *circuit.Breaker
	logger   *slog.Logger
	metrics  *Metrics
}

// Option configures the Relay.
type Option func(*Relay)

func WithLogger(logger *slog.Logger) Option { return func(r *Relay) { r.logger = logger } }

func WithMetrics(m *Metrics) Option { return func(r *Relay) { r.metrics = m } }

func WithInterval(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.interval = d
		}
	}
}

func WithBatchSize(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.batch = n
		}
	}
}

func WithBreaker(b *circuit.Breaker) Option { return func(r *Relay) { r.breaker = b } }

func WithTables(t platformpg.Tables) Option { return func(r *Relay) { r.tables = t.Quoted() } }

// NewRelay creates a relay publishing to topic.
func NewRelay(db *sql.DB, producer Producer, topic string, opts ...Option) *Relay {
	r := &Relay{
		db:       db,
		producer: producer,
		topic:    topic,
		tables:   platformpg.DefaultTables.Quoted(),
		interval: 2 * time.Second,
		batch:    100,
		breaker:  circuit.New("outbox-relay", circuit.WithFailureThreshold(3), circuit.WithCooldown(15*time.Second)),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run flushes on every tick until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := r.Flush(ctx)
			switch {
			case errors.Is(err, ErrCircuitOpen), errors.Is(err, context.Canceled):
			case err != nil:
				r.logger.WarnContext(ctx, "outbox flush failed", "error", err, "breaker", r.breaker.State())
			case n > 0:
				r.logger.DebugContext(ctx, "outbox flushed", "published", n)
			}
		}
	}
}

type pendingRow struct {
	id            string
	aggregateType string
	aggregateID   string
	eventType     string
	payload       []byte
}

// Flush publishes one batch of pending rows and marks them published. It
// returns how many rows were published.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	if !r.breaker.Allow() {
		return 0, ErrCircuitOpen
	}
	start := time.Now()
	defer func() { r.metrics.observeFlush(time.Since(start).Seconds()) }()

	published := 0
	err := txcontext.NewSQLRunner(r.db, 0).RunInTx(ctx, func(ctx context.Context) error {
		tx, _ := txcontext.From(ctx)
		rows, err := r.claim(ctx, tx)
		if err != nil || len(rows) == 0 {
			return err
		}

		records := make([]*kgo.Record, len(rows))
		ids := make([]string, len(rows))
		for i, row := range rows {
			records[i] = r.toRecord(row)
			ids[i] = row.id
		}
		if err := r.producer.ProduceSync(ctx, records...).FirstErr(); err != nil {
			r.metrics.incFailures()
			if _, change := r.breaker.RecordFailure(); change.Opened {
				r.metrics.setBreakerOpen(true)
				r.logger.ErrorContext(ctx, "outbox relay circuit opened", "error", err)
			}
			return fmt.Errorf("publish outbox batch: %w", err)
		}
		if _, change := r.breaker.RecordSuccess(); change.Closed {
			r.metrics.setBreakerOpen(false)
			r.logger.InfoContext(ctx, "outbox relay circuit closed")
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE `+r.tables.Outbox+` SET published_at = $1 WHERE id::text = ANY($2::text[])`,
			time.Now().UTC(), pq.Array(ids),
		); err != nil {
			return fmt.Errorf("mark outbox published: %w", platformpg.Classify(err))
		}
		published = len(rows)
		return nil
	})
	if err != nil {
		return 0, err
	}
	r.metrics.addPublished(published)
	return published, nil
}

func (r *Relay) claim(ctx context.Context, tx *sql.Tx) ([]pendingRow, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id::text, aggregate_type, aggregate_id, event_type, payload
		FROM `+r.tables.Outbox+`
		WHERE published_at IS NULL
		ORDER BY created_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED`, r.batch)
	if err != nil {
		return nil, fmt.Errorf("claim outbox rows: %w", platformpg.Classify(err))
	}
	defer rows.Close()

	var out []pendingRow
	for rows.Next() {
		var p pendingRow
		if err := rows.Scan(&p.id, &p.aggregateType, &p.aggregateID, &p.eventType, &p.payload); err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// toRecord keys messages by entity so one entity's history stays on one
// partition, in order.
func (r *Relay) toRecord(row pendingRow) *kgo.Record {
	action := audit.Action(row.eventType)
	return &kgo.Record{
		Topic: r.topic,
		Key:   []byte(row.aggregateType + ":" + row.aggregateID),
		Value: row.payload,
		Headers: []kgo.RecordHeader{
			{Key: "event_type", Value: []byte(row.eventType)},
			{Key: "category", Value: []byte(action.Category())},
			{Key: "outbox_id", Value: []byte(row.id)},
		},
	}
}
