package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/NordCoder/Notifyhub/internal/domain/notification"
	"github.com/NordCoder/Notifyhub/internal/obs/retry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type seedGroup struct{ name, description, color string }

type seedTemplate struct{ name, title, message, category string }

type seedNotification struct {
	title, message string
	age            time.Duration
}

var (
	defaultGroups = []seedGroup{
		{"VIP Players", "Premium members with special privileges", "#gold"},
		{"New Players", "Recently joined players", "#green"},
		{"Active Players", "Highly engaged players", "#blue"},
	}
	defaultTemplates = []seedTemplate{
		{"Welcome Message", "Welcome to the Game!", "Thanks for joining us. Enjoy your gaming experience!", "Onboarding"},
		{"Achievement Unlocked", "Achievement Unlocked!", "Congratulations! You've unlocked a new achievement.", "Achievement"},
		{"Maintenance Notice", "Scheduled Maintenance", "Server maintenance will begin shortly. Please save your progress.", "System"},
	}
	defaultNotifications = []seedNotification{
		{"System Maintenance", "Server maintenance completed successfully. Welcome back!", 10 * time.Minute},
		{"New Feature Release", "Check out our latest features in the game!", time.Hour},
	}
)

const (
	qCountGroups        = `SELECT count(*) FROM groups;`
	qCountTemplates     = `SELECT count(*) FROM notification_templates;`
	qCountNotifications = `SELECT count(*) FROM notifications;`

	qSeedGroup = `
INSERT INTO groups (id, name, description, color, created_by)
VALUES ($1, $2, $3, $4, 'system');`

	qSeedTemplate = `
INSERT INTO notification_templates (id, name, title, message, category, created_by)
VALUES ($1, $2, $3, $4, $5, 'admin');`
)

type Seeder struct {
	db     *DB
	tx     *Transactor
	ledger *LedgerRepo
	log    *zap.Logger
	now    func() time.Time
}

func NewSeeder(db *DB, tx *Transactor, log *zap.Logger) *Seeder {
	return &Seeder{
		db:     db,
		tx:     tx,
		ledger: NewLedgerRepo(db),
		log:    log.With(zap.String("component", "postgres.seeder")),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SeedWithRetry is best effort: a failure after all attempts is logged and
// swallowed so the service still starts.
func (s *Seeder) SeedWithRetry(ctx context.Context, attempts int, wait time.Duration) {
	err := retry.Do(ctx, func() error { return s.Seed(ctx) }, retry.SeedPolicy(s.log, attempts, wait))
	if err != nil {
		s.log.Warn("database seeding failed", zap.Error(err))
		return
	}
	s.log.Info("database seeding done")
}

func (s *Seeder) Seed(ctx context.Context) error {
	return s.tx.WithTx(ctx, func(ctx context.Context) error {
		eq := s.db.execQueryer(ctx)

		if n, err := s.count(ctx, qCountGroups); err != nil {
			return err
		} else if n == 0 {
			for _, g := range defaultGroups {
				if _, err := eq.Exec(ctx, qSeedGroup, uuid.New(), g.name, g.description, g.color); err != nil {
					return fmt.Errorf("seed group %q: %w", g.name, err)
				}
			}
		}

		if n, err := s.count(ctx, qCountTemplates); err != nil {
			return err
		} else if n == 0 {
			for _, t := range defaultTemplates {
				if _, err := eq.Exec(ctx, qSeedTemplate, uuid.New(), t.name, t.title, t.message, t.category); err != nil {
					return fmt.Errorf("seed template %q: %w", t.name, err)
				}
			}
		}

		if n, err := s.count(ctx, qCountNotifications); err != nil {
			return err
		} else if n == 0 {
			now := s.now()
			for _, sn := range defaultNotifications {
				if err := s.ledger.Create(ctx, seedBroadcast(sn, now)); err != nil {
					return fmt.Errorf("seed notification %q: %w", sn.title, err)
				}
			}
		}
		return nil
	})
}

func (s *Seeder) count(ctx context.Context, q string) (int64, error) {
	var n int64
	if err := s.db.execQueryer(ctx).QueryRow(ctx, q).Scan(&n); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}

func seedBroadcast(sn seedNotification, now time.Time) *notification.Notification {
	return &notification.Notification{
		ID:          uuid.NewString(),
		Title:       sn.title,
		Message:     sn.message,
		CreatedAt:   now.Add(-sn.age),
		IsBroadcast: true,
	}
}
