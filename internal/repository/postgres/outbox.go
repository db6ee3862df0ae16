package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/NordCoder/Notifyhub/internal/domain/outbox"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

var (
	_ outbox.Repository = (*OutboxRepo)(nil)
	_ outbox.Purger     = (*OutboxRepo)(nil)
)

type OutboxRepo struct{ db *DB }

func NewOutboxRepo(db *DB) *OutboxRepo { return &OutboxRepo{db: db} }

const (
	qOutboxInsert = `
INSERT INTO outbox (idempotency_key, data, status, kind, traceparent, tracestate, baggage)
VALUES ($1, $2, 'CREATED', $3, $4, $5, $6)
ON CONFLICT (idempotency_key) DO NOTHING;`

	// Rows stuck IN_PROGRESS longer than the TTL belong to a dead worker and
	// are picked again.
	qOutboxClaim = `
WITH picked AS (
   SELECT idempotency_key
   FROM outbox
   WHERE status = 'CREATED'
      OR (status = 'IN_PROGRESS' AND updated_at < now() - make_interval(secs => $2))
   ORDER BY created_at
   LIMIT $1
   FOR UPDATE SKIP LOCKED
)
UPDATE outbox o
SET status = 'IN_PROGRESS', updated_at = now()
FROM picked
WHERE o.idempotency_key = picked.idempotency_key
RETURNING o.idempotency_key, o.kind, o.data, o.status, o.created_at, o.updated_at,
          o.traceparent, o.tracestate, o.baggage;`

	qOutboxDone = `
UPDATE outbox
SET status = 'SUCCESS', updated_at = now()
WHERE idempotency_key = ANY($1);`

	qOutboxPurge = `
DELETE FROM outbox
WHERE status = 'SUCCESS' AND updated_at < now() - make_interval(secs => $1);`
)

// outboxRow mirrors the RETURNING list of qOutboxClaim.
type outboxRow struct {
	Key         string
	Kind        int
	Data        []byte
	Status      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Traceparent string
	Tracestate  string
	Baggage     string
}

func (r outboxRow) message() outbox.Message {
	return outbox.Message{
		IdempotencyKey: r.Key,
		Kind:           outbox.Kind(r.Kind),
		Data:           r.Data,
		Status:         outbox.Status(r.Status),
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
		Traceparent:    r.Traceparent,
		Tracestate:     r.Tracestate,
		Baggage:        r.Baggage,
	}
}

// Enqueue joins the caller's transaction when ctx carries one, and stores the
// current trace context so the publisher continues the same trace.
func (r *OutboxRepo) Enqueue(ctx context.Context, key string, kind outbox.Kind, data []byte) error {
	tc := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, tc)

	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	_, err := r.db.execQueryer(ctx).Exec(ctx, qOutboxInsert, key, data, int(kind),
		tc.Get("traceparent"), tc.Get("tracestate"), tc.Get("baggage"))
	if err != nil {
		return fmt.Errorf("outbox enqueue %s: %w", key, err)
	}
	return nil
}

func (r *OutboxRepo) PickBatch(ctx context.Context, batch int, inProgressTTL time.Duration) ([]outbox.Message, error) {
	if batch <= 0 {
		return nil, errors.New("batch must be > 0")
	}
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.Pool.Query(ctx, qOutboxClaim, batch, inProgressTTL.Seconds())
	if err != nil {
		return nil, fmt.Errorf("outbox pick: %w", err)
	}
	claimed, err := pgx.CollectRows(rows, pgx.RowToStructByPos[outboxRow])
	if err != nil {
		return nil, fmt.Errorf("outbox scan: %w", err)
	}

	out := make([]outbox.Message, len(claimed))
	for i, row := range claimed {
		out[i] = row.message()
	}
	return out, nil
}

func (r *OutboxRepo) MarkSuccess(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()
	if _, err := r.db.Pool.Exec(ctx, qOutboxDone, keys); err != nil {
		return fmt.Errorf("outbox mark success: %w", err)
	}
	return nil
}

// PurgeSuccess deletes published messages last touched before olderThan ago.
func (r *OutboxRepo) PurgeSuccess(ctx context.Context, olderThan time.Duration) (int64, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()
	tag, err := r.db.Pool.Exec(ctx, qOutboxPurge, olderThan.Seconds())
	if err != nil {
		return 0, fmt.Errorf("outbox purge: %w", err)
	}
	return tag.RowsAffected(), nil
}
