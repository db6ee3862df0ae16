package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/NordCoder/Notifyhub/internal/domain/notification"
	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var _ notification.Ledger = (*LedgerRepo)(nil)

type LedgerRepo struct{ db *DB }

func NewLedgerRepo(db *DB) *LedgerRepo { return &LedgerRepo{db: db} }

const (
	qNotifInsert = `
INSERT INTO notifications (id, title, message, metadata_json, created_at, expires_at, is_broadcast)
VALUES (?, ?, ?, ?, ?, ?, ?);`

	qNotifByID = `
SELECT id, title, message, metadata_json, created_at, expires_at, is_broadcast
FROM notifications
WHERE id = ?;`

	qNotifExists = `SELECT EXISTS (SELECT 1 FROM notifications WHERE id = ?);`

	qMarkDelivered = `
INSERT INTO notification_deliveries (notification_id, recipient_id, delivered_at)
VALUES (?, ?, ?)
ON CONFLICT (recipient_id, notification_id)
DO UPDATE SET delivered_at = excluded.delivered_at
WHERE notification_deliveries.delivered_at IS NULL
RETURNING id;`

	qMarkSeen = `
INSERT INTO notification_deliveries (notification_id, recipient_id, delivered_at, seen_at)
VALUES (?, ?, ?, ?)
ON CONFLICT (recipient_id, notification_id)
DO UPDATE SET seen_at      = excluded.seen_at,
              delivered_at = COALESCE(notification_deliveries.delivered_at, excluded.delivered_at)
WHERE notification_deliveries.seen_at IS NULL
RETURNING id;`

	qPending = `
SELECT n.id, n.title, n.message, n.metadata_json, n.created_at, n.expires_at, n.is_broadcast
FROM notifications n
WHERE (n.expires_at IS NULL OR n.expires_at > ?)
  AND n.created_at >= ?
  AND (? = 0 OR n.is_broadcast = 1)
  AND NOT EXISTS (
      SELECT 1 FROM notification_deliveries d
      WHERE d.notification_id = n.id AND d.recipient_id = ?
  )
ORDER BY n.created_at, n.id;`

	qHistory = `
SELECT id, title, message, metadata_json, created_at, expires_at, is_broadcast
FROM notifications
WHERE created_at >= ?
ORDER BY created_at DESC
LIMIT ?;`

	qDeliveries = `
SELECT id, notification_id, recipient_id, delivered_at, seen_at, dismissed
FROM notification_deliveries
WHERE notification_id = ?
ORDER BY id;`
)

func (r *LedgerRepo) Create(ctx context.Context, n *notification.Notification) error {
	var expires any
	if n.ExpiresAt != nil {
		expires = n.ExpiresAt.UnixNano()
	}
	var meta any
	if n.MetadataJSON != nil {
		meta = *n.MetadataJSON
	}
	_, err := r.db.SQL.ExecContext(ctx, qNotifInsert,
		strings.ToLower(n.ID), n.Title, n.Message, meta, n.CreatedAt.UnixNano(), expires, boolInt(n.IsBroadcast))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert notification %s: %w", n.ID, notification.ErrAlreadyExists)
		}
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (r *LedgerRepo) Get(ctx context.Context, id string) (*notification.Notification, error) {
	n, err := scanNotification(r.db.SQL.QueryRowContext(ctx, qNotifByID, strings.ToLower(id)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notification.ErrNotFound
		}
		return nil, fmt.Errorf("get notification: %w", err)
	}
	return n, nil
}

func (r *LedgerRepo) MarkDelivered(ctx context.Context, notificationID, recipient string, at time.Time) (bool, error) {
	return r.upsert(ctx, qMarkDelivered, notificationID, recipient, at, false)
}

func (r *LedgerRepo) MarkSeen(ctx context.Context, notificationID, recipient string, at time.Time) (bool, error) {
	return r.upsert(ctx, qMarkSeen, notificationID, recipient, at, true)
}

func (r *LedgerRepo) upsert(ctx context.Context, q, notificationID, recipient string, at time.Time, seen bool) (bool, error) {
	id := strings.ToLower(notificationID)

	var exists bool
	if err := r.db.SQL.QueryRowContext(ctx, qNotifExists, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("check notification: %w", err)
	}
	if !exists {
		return false, notification.ErrNotFound
	}

	args := []any{id, recipient, at.UnixNano()}
	if seen {
		args = append(args, at.UnixNano())
	}

	var rowID int64
	err := r.db.SQL.QueryRowContext(ctx, q, args...).Scan(&rowID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	default:
		return false, fmt.Errorf("upsert delivery: %w", err)
	}
}

func (r *LedgerRepo) Pending(ctx context.Context, recipient string, q notification.PendingQuery) ([]*notification.Notification, error) {
	rows, err := r.db.SQL.QueryContext(ctx, qPending,
		q.Now.UnixNano(), q.Since.UnixNano(), boolInt(q.BroadcastOnly), recipient)
	if err != nil {
		return nil, fmt.Errorf("query pending: %w", err)
	}
	return collectNotifications(rows)
}

func (r *LedgerRepo) History(ctx context.Context, since time.Time, limit int) ([]*notification.Notification, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.SQL.QueryContext(ctx, qHistory, since.UnixNano(), limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	return collectNotifications(rows)
}

func (r *LedgerRepo) Deliveries(ctx context.Context, notificationID string) ([]notification.DeliveryRecord, error) {
	rows, err := r.db.SQL.QueryContext(ctx, qDeliveries, strings.ToLower(notificationID))
	if err != nil {
		return nil, fmt.Errorf("query deliveries: %w", err)
	}
	defer rows.Close()

	var out []notification.DeliveryRecord
	for rows.Next() {
		var (
			d               notification.DeliveryRecord
			delivered, seen sql.NullInt64
		)
		if err := rows.Scan(&d.ID, &d.NotificationID, &d.RecipientID, &delivered, &seen, &d.Dismissed); err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		d.DeliveredAt = fromNull(delivered)
		d.SeenAt = fromNull(seen)
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanNotification(row scanner) (*notification.Notification, error) {
	var (
		n       notification.Notification
		meta    sql.NullString
		created int64
		expires sql.NullInt64
	)
	if err := row.Scan(&n.ID, &n.Title, &n.Message, &meta, &created, &expires, &n.IsBroadcast); err != nil {
		return nil, err
	}
	if meta.Valid {
		n.MetadataJSON = &meta.String
	}
	n.CreatedAt = time.Unix(0, created).UTC()
	n.ExpiresAt = fromNull(expires)
	return &n, nil
}

func collectNotifications(rows *sql.Rows) ([]*notification.Notification, error) {
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

func fromNull(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(0, v.Int64).UTC()
	return &t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	var se *msqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
		return true
	}
	return false
}
