package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS notifications (
    id            TEXT PRIMARY KEY,
    title         TEXT    NOT NULL,
    message       TEXT    NOT NULL,
    metadata_json TEXT,
    created_at    INTEGER NOT NULL,
    expires_at    INTEGER,
    is_broadcast  INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_notifications_created_at ON notifications (created_at);

CREATE TABLE IF NOT EXISTS notification_deliveries (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    notification_id TEXT    NOT NULL REFERENCES notifications (id) ON DELETE CASCADE,
    recipient_id    TEXT    NOT NULL,
    delivered_at    INTEGER,
    seen_at         INTEGER,
    dismissed       INTEGER NOT NULL DEFAULT 0,
    UNIQUE (recipient_id, notification_id)
);

CREATE INDEX IF NOT EXISTS idx_deliveries_notification ON notification_deliveries (notification_id);
`

type DB struct {
	SQL *sql.DB
}

// Open opens (or creates) the database file and applies the schema.
// A single connection serialises writers so upserts never see SQLITE_BUSY.
func Open(ctx context.Context, path string) (*DB, error) {
	dsn := path
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	dsn += sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := initSchema(ctx, sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return &DB{SQL: sqlDB}, nil
}

func initSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply sqlite schema: %w", err)
	}
	return nil
}

func (db *DB) Ping(ctx context.Context) error { return db.SQL.PingContext(ctx) }

func (db *DB) Close() error { return db.SQL.Close() }

// NoTx satisfies the transactor port for backends without an outbox.
type NoTx struct{}

func (NoTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }
