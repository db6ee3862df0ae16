package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	config "github.com/NordCoder/Notifyhub/internal/config/notifyhub"
	"github.com/NordCoder/Notifyhub/internal/obs"
	pg "github.com/NordCoder/Notifyhub/internal/repository/postgres"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
)

// migrator applies the embedded postgres migrations. The DSN comes from the
// notifyhub config, so DB_DSN overrides it as usual.
func main() {
	path := flag.String("config", os.Getenv("NOTIFYHUB_CONFIG"), "path to config file")
	timeout := flag.Duration("timeout", 2*time.Minute, "give up after")
	flag.Parse()

	cfg, err := config.Read(*path)
	if err != nil {
		log.Fatal(err)
	}
	logger, err := obs.NewLogger(*cfg.Log.AsLoggerConfig(cfg.App))
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	if cfg.DB.Driver != config.DriverPostgres {
		logger.Info("nothing to migrate", zap.String("driver", cfg.DB.Driver))
		return
	}

	db, err := goose.OpenDBWithDriver("pgx", cfg.DB.DSN)
	if err != nil {
		logger.Fatal("open db", zap.Error(err))
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	if err := pg.MigrateSQL(ctx, db); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}
	logger.Info("migrations applied")
}
