package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/NordCoder/Notifyhub/internal/domain/notification"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var _ notification.Ledger = (*LedgerRepo)(nil)

type LedgerRepo struct{ db *DB }

func NewLedgerRepo(db *DB) *LedgerRepo { return &LedgerRepo{db: db} }

const (
	qNotifInsert = `
INSERT INTO notifications (id, title, message, metadata_json, created_at, expires_at, is_broadcast)
VALUES ($1, $2, $3, $4, $5, $6, $7);`

	qNotifByID = `
SELECT id::text, title, message, metadata_json, created_at, expires_at, is_broadcast
FROM notifications
WHERE id = $1;`

	// Set-if-null claim: a row comes back only when this statement inserted
	// the record or filled a NULL delivered_at.
	qMarkDelivered = `
INSERT INTO notification_deliveries (notification_id, recipient_id, delivered_at)
VALUES ($1, $2, $3)
ON CONFLICT (recipient_id, notification_id)
DO UPDATE SET delivered_at = EXCLUDED.delivered_at
WHERE notification_deliveries.delivered_at IS NULL
RETURNING id;`

	qMarkSeen = `
INSERT INTO notification_deliveries (notification_id, recipient_id, delivered_at, seen_at)
VALUES ($1, $2, $3, $3)
ON CONFLICT (recipient_id, notification_id)
DO UPDATE SET seen_at      = EXCLUDED.seen_at,
              delivered_at = COALESCE(notification_deliveries.delivered_at, EXCLUDED.delivered_at)
WHERE notification_deliveries.seen_at IS NULL
RETURNING id;`

	qPending = `
SELECT n.id::text, n.title, n.message, n.metadata_json, n.created_at, n.expires_at, n.is_broadcast
FROM notifications n
WHERE (n.expires_at IS NULL OR n.expires_at > $2)
  AND n.created_at >= $3
  AND (NOT $4::boolean OR n.is_broadcast)
  AND NOT EXISTS (
      SELECT 1 FROM notification_deliveries d
      WHERE d.notification_id = n.id AND d.recipient_id = $1
  )
ORDER BY n.created_at, n.id;`

	qHistory = `
SELECT id::text, title, message, metadata_json, created_at, expires_at, is_broadcast
FROM notifications
WHERE created_at >= $1
ORDER BY created_at DESC
LIMIT $2;`

	qDeliveries = `
SELECT id, notification_id::text, recipient_id, delivered_at, seen_at, dismissed
FROM notification_deliveries
WHERE notification_id = $1
ORDER BY id;`
)

func (r *LedgerRepo) Create(ctx context.Context, n *notification.Notification) error {
	id, err := uuid.Parse(n.ID)
	if err != nil {
		return fmt.Errorf("notification id %q: %w", n.ID, notification.ErrInvalidArgument)
	}
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	if _, err := r.db.execQueryer(ctx).Exec(ctx, qNotifInsert,
		id, n.Title, n.Message, n.MetadataJSON, n.CreatedAt.UTC(), nullTime(n.ExpiresAt), n.IsBroadcast,
	); err != nil {
		if pgCode(err) == pgUniqueViolation {
			return fmt.Errorf("insert notification %s: %w: %w", n.ID, ErrConflict, notification.ErrAlreadyExists)
		}
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (r *LedgerRepo) Get(ctx context.Context, id string) (*notification.Notification, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, notification.ErrNotFound
	}
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	n, err := scanNotification(r.db.execQueryer(ctx).QueryRow(ctx, qNotifByID, uid))
	if err != nil {
		if isNoRows(err) {
			return nil, notification.ErrNotFound
		}
		return nil, fmt.Errorf("get notification: %w", err)
	}
	return n, nil
}

func (r *LedgerRepo) MarkDelivered(ctx context.Context, notificationID, recipient string, at time.Time) (bool, error) {
	return r.upsert(ctx, qMarkDelivered, notificationID, recipient, at)
}

func (r *LedgerRepo) MarkSeen(ctx context.Context, notificationID, recipient string, at time.Time) (bool, error) {
	return r.upsert(ctx, qMarkSeen, notificationID, recipient, at)
}

func (r *LedgerRepo) upsert(ctx context.Context, q, notificationID, recipient string, at time.Time) (bool, error) {
	uid, err := uuid.Parse(notificationID)
	if err != nil {
		return false, notification.ErrNotFound
	}
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var rowID int64
	err = r.db.execQueryer(ctx).QueryRow(ctx, q, uid, recipient, at.UTC()).Scan(&rowID)
	switch {
	case err == nil:
		return true, nil
	case isNoRows(err):
		return false, nil
	case pgCode(err) == pgForeignKeyViolation:
		return false, notification.ErrNotFound
	default:
		return false, fmt.Errorf("upsert delivery: %w", err)
	}
}

func (r *LedgerRepo) Pending(ctx context.Context, recipient string, q notification.PendingQuery) ([]*notification.Notification, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.execQueryer(ctx).Query(ctx, qPending, recipient, q.Now.UTC(), q.Since.UTC(), q.BroadcastOnly)
	if err != nil {
		return nil, fmt.Errorf("query pending: %w", err)
	}
	return collectNotifications(rows)
}

func (r *LedgerRepo) History(ctx context.Context, since time.Time, limit int) ([]*notification.Notification, error) {
	if limit <= 0 {
		limit = 100
	}
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.execQueryer(ctx).Query(ctx, qHistory, since.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	return collectNotifications(rows)
}

func (r *LedgerRepo) Deliveries(ctx context.Context, notificationID string) ([]notification.DeliveryRecord, error) {
	uid, err := uuid.Parse(notificationID)
	if err != nil {
		return nil, notification.ErrNotFound
	}
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.execQueryer(ctx).Query(ctx, qDeliveries, uid)
	if err != nil {
		return nil, fmt.Errorf("query deliveries: %w", err)
	}
	defer rows.Close()

	var out []notification.DeliveryRecord
	for rows.Next() {
		var d notification.DeliveryRecord
		if err := rows.Scan(&d.ID, &d.NotificationID, &d.RecipientID, &d.DeliveredAt, &d.SeenAt, &d.Dismissed); err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		d.DeliveredAt = utcPtr(d.DeliveredAt)
		d.SeenAt = utcPtr(d.SeenAt)
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func scanNotification(row pgx.Row) (*notification.Notification, error) {
	var n notification.Notification
	if err := row.Scan(&n.ID, &n.Title, &n.Message, &n.MetadataJSON, &n.CreatedAt, &n.ExpiresAt, &n.IsBroadcast); err != nil {
		return nil, err
	}
	n.CreatedAt = n.CreatedAt.UTC()
	n.ExpiresAt = utcPtr(n.ExpiresAt)
	return &n, nil
}

func collectNotifications(rows pgx.Rows) ([]*notification.Notification, error) {
	defer rows.Close()
	var out []*notification.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}
