package main

import (
	config "github.com/NordCoder/Notifyhub/internal/config/notifyhub"
	"github.com/NordCoder/Notifyhub/internal/obs"
	"go.uber.org/zap"
)

func initLogger(cfg *config.Config) (*zap.Logger, error) {
	return obs.NewLogger(*cfg.Log.AsLoggerConfig(cfg.App))
}
