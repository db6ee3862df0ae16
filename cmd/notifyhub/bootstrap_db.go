package main

import (
	"context"
	"fmt"

	config "github.com/NordCoder/Notifyhub/internal/config/notifyhub"
	"github.com/NordCoder/Notifyhub/internal/domain/member"
	"github.com/NordCoder/Notifyhub/internal/domain/notification"
	outboxdomain "github.com/NordCoder/Notifyhub/internal/domain/outbox"
	"github.com/NordCoder/Notifyhub/internal/obs"
	"github.com/NordCoder/Notifyhub/internal/outbox"
	pg "github.com/NordCoder/Notifyhub/internal/repository/postgres"
	"github.com/NordCoder/Notifyhub/internal/repository/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// storage is the persistence side of the service for the configured driver.
// outbox and seeder are nil on sqlite.
type storage struct {
	ledger    notification.Ledger
	tx        notification.Transactor
	announcer notification.Announcer
	directory member.Directory
	outbox    outboxdomain.Repository
	seeder    *pg.Seeder
	health    obs.HealthFunc
	close     func()
}

func initStorage(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*storage, error) {
	switch cfg.DB.Driver {
	case config.DriverSQLite:
		db, err := sqlite.Open(ctx, cfg.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		logger.Info("using sqlite ledger", zap.String("path", cfg.SQLite.Path))
		return &storage{
			ledger:    sqlite.NewLedgerRepo(db),
			tx:        sqlite.NoTx{},
			directory: member.NopDirectory{},
			health:    db.Ping,
			close:     func() { _ = db.Close() },
		}, nil

	default:
		db, err := pg.New(ctx, cfg.DB.Config)
		if err != nil {
			return nil, err
		}
		if cfg.DB.MigrateOnStart {
			if err := pg.Migrate(ctx, db); err != nil {
				db.Close()
				return nil, err
			}
			logger.Info("migrations applied")
		}

		if err := prometheus.Register(pg.NewPoolCollector(db)); err != nil {
			logger.Warn("pool metrics not registered", zap.Error(err))
		}

		tx := pg.NewTransactor(db, logger)
		s := &storage{
			ledger:    pg.NewLedgerRepo(db),
			tx:        tx,
			directory: pg.NewMemberRepo(db),
			outbox:    pg.NewOutboxRepo(db),
			health:    db.Ping,
			close:     db.Close,
		}
		// Without a bus nothing drains the outbox, so nothing is announced.
		if cfg.Kafka.Enable {
			s.announcer = outbox.NewAnnouncer(s.outbox)
		}
		if cfg.Seed.Enable {
			s.seeder = pg.NewSeeder(db, tx, logger)
		}
		return s, nil
	}
}
