package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/NordCoder/Notifyhub/internal/domain/member"
	"github.com/google/uuid"
)

var _ member.Directory = (*MemberRepo)(nil)

type MemberRepo struct{ db *DB }

func NewMemberRepo(db *DB) *MemberRepo { return &MemberRepo{db: db} }

const (
	qMemberOnline = `
INSERT INTO members (player_id, display_name, first_connected, last_connected, last_activity, is_online, connection_id)
VALUES ($1, $1, $2, $2, $2, TRUE, $3)
ON CONFLICT (player_id)
DO UPDATE SET last_connected = EXCLUDED.last_connected,
              last_activity  = EXCLUDED.last_activity,
              is_online      = TRUE,
              connection_id  = EXCLUDED.connection_id;`

	qMemberOffline = `
UPDATE members
SET is_online = FALSE, last_activity = $2
WHERE player_id = $1;`

	qMemberTouch = `
UPDATE members
SET last_activity = $2
WHERE player_id = $1;`

	qGroupExists = `SELECT EXISTS (SELECT 1 FROM groups WHERE id = $1 AND is_active);`

	qGroupMembers = `
SELECT player_id
FROM member_groups
WHERE group_id = $1
ORDER BY joined_at, player_id;`

	qTemplateByID = `
SELECT id::text, name, title, message, metadata_json, category, usage_count
FROM notification_templates
WHERE id = $1 AND is_active;`

	qTemplateUsage = `
UPDATE notification_templates
SET usage_count = usage_count + 1
WHERE id = $1;`
)

func (r *MemberRepo) MarkOnline(ctx context.Context, playerID, connectionID string, at time.Time) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()
	if _, err := r.db.execQueryer(ctx).Exec(ctx, qMemberOnline, playerID, at.UTC(), connectionID); err != nil {
		return fmt.Errorf("member online: %w", err)
	}
	return nil
}

func (r *MemberRepo) MarkOffline(ctx context.Context, playerID string, at time.Time) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()
	if _, err := r.db.execQueryer(ctx).Exec(ctx, qMemberOffline, playerID, at.UTC()); err != nil {
		return fmt.Errorf("member offline: %w", err)
	}
	return nil
}

func (r *MemberRepo) TouchActivity(ctx context.Context, playerID string, at time.Time) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()
	if _, err := r.db.execQueryer(ctx).Exec(ctx, qMemberTouch, playerID, at.UTC()); err != nil {
		return fmt.Errorf("member touch: %w", err)
	}
	return nil
}

func (r *MemberRepo) GroupMembers(ctx context.Context, groupID string) ([]string, error) {
	gid, err := uuid.Parse(groupID)
	if err != nil {
		return nil, member.ErrNotFound
	}
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	eq := r.db.execQueryer(ctx)
	var exists bool
	if err := eq.QueryRow(ctx, qGroupExists, gid).Scan(&exists); err != nil {
		return nil, fmt.Errorf("group exists: %w", err)
	}
	if !exists {
		return nil, member.ErrNotFound
	}

	rows, err := eq.Query(ctx, qGroupMembers, gid)
	if err != nil {
		return nil, fmt.Errorf("group members: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (r *MemberRepo) Template(ctx context.Context, templateID string) (*member.Template, error) {
	tid, err := uuid.Parse(templateID)
	if err != nil {
		return nil, member.ErrNotFound
	}
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var t member.Template
	err = r.db.execQueryer(ctx).QueryRow(ctx, qTemplateByID, tid).
		Scan(&t.ID, &t.Name, &t.Title, &t.Message, &t.MetadataJSON, &t.Category, &t.UsageCount)
	if err != nil {
		if isNoRows(err) {
			return nil, member.ErrNotFound
		}
		return nil, fmt.Errorf("get template: %w", err)
	}
	return &t, nil
}

func (r *MemberRepo) IncrementTemplateUsage(ctx context.Context, templateID string) error {
	tid, err := uuid.Parse(templateID)
	if err != nil {
		return member.ErrNotFound
	}
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	tag, err := r.db.execQueryer(ctx).Exec(ctx, qTemplateUsage, tid)
	if err != nil {
		return fmt.Errorf("template usage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return member.ErrNotFound
	}
	return nil
}
