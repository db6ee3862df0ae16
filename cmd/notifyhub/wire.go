package main

import (
	"context"
	"net/http"

	"github.com/NordCoder/Notifyhub/internal/auth"
	config "github.com/NordCoder/Notifyhub/internal/config/notifyhub"
	"github.com/NordCoder/Notifyhub/internal/domain/notification"
	"github.com/NordCoder/Notifyhub/internal/obs/retry"
	"github.com/NordCoder/Notifyhub/internal/outbox"
	"github.com/NordCoder/Notifyhub/internal/services/notifyhub/admin"
	"github.com/NordCoder/Notifyhub/internal/services/notifyhub/delivery"
	"github.com/NordCoder/Notifyhub/internal/services/notifyhub/hub"
	"github.com/NordCoder/Notifyhub/internal/services/notifyhub/inbound"
	"github.com/NordCoder/Notifyhub/internal/services/notifyhub/presence"
	"github.com/NordCoder/Notifyhub/internal/services/notifyhub/transport"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// app is everything main runs. Optional parts are nil when disabled.
type app struct {
	router   http.Handler
	ident    *auth.IdentityResolver
	sessions *transport.GRPCSessions
	fanout   *presence.Fanout
	outbox   *outbox.Runner
	inbound  *inbound.Controller
}

func wire(ctx context.Context, cfg *config.Config, st *storage, b *bus, logger *zap.Logger) (*app, error) {
	reg := prometheus.DefaultRegisterer

	adminKey, err := auth.NewAdminKey(cfg.Auth.AdminKey, cfg.Auth.AdminKeyHash)
	if err != nil {
		return nil, err
	}
	ident := auth.NewIdentityResolver(cfg.Auth.IdentitySecret, cfg.Auth.AllowPlainIdentity)

	observer := hub.NewChanObserver(cfg.Hub.PresenceBuffer, reg)
	sessions := hub.NewRegistry("sessions", reg, hub.WithShards(cfg.Hub.Shards), hub.WithObserver(observer))
	watchers := hub.NewRegistry("watchers", reg)

	deps := delivery.Deps{
		Ledger:    st.ledger,
		Tx:        st.tx,
		Announcer: st.announcer,
		Registry:  sessions,
		Directory: st.directory,
		Clock:     notification.SystemClock{},
		Log:       logger,
		Metrics:   delivery.NewMetrics(reg),
	}
	engine := delivery.NewEngine(deps, delivery.EngineConfig{
		PushTimeout: cfg.Hub.PushTimeout,
		Concurrency: cfg.Dispatch.Concurrency,
	})
	catchup := delivery.NewCatchUp(deps, cfg.CatchUp.AsPolicy(), cfg.Hub.PushTimeout)
	lifecycle := delivery.NewLifecycle(sessions, catchup, delivery.NewAcker(deps), logger)

	tm := transport.NewMetrics(reg)
	wsCfg := cfg.Hub.AsWSConfig(cfg.Server.CORSOrigins)

	uc := admin.NewUsecase(engine, st.ledger, sessions, st.directory, deps.Clock, logger)
	a := &app{
		router: admin.NewRouter(admin.RouterConfig{AllowedOrigins: cfg.Server.CORSOrigins}, admin.RouterDeps{
			Handler:      admin.NewHandler(uc, logger),
			AdminKey:     adminKey,
			SessionHub:   transport.NewSessionHub(lifecycle, ident, wsCfg, tm, logger),
			AdminHub:     transport.NewAdminHub(watchers, adminKey, wsCfg, tm, logger),
			ConnectLimit: admin.NewRateLimiter(ctx, rate.Limit(cfg.Hub.ConnectRate), cfg.Hub.ConnectBurst),
			Health:       st.health,
			Log:          logger,
		}),
		ident:    ident,
		sessions: transport.NewGRPCSessions(lifecycle, cfg.Hub.SendBuffer, tm, logger),
		fanout: presence.NewFanout(observer, watchers, st.directory, b.presence, presence.Config{
			PushTimeout: cfg.Hub.PushTimeout,
		}, logger),
	}

	if st.outbox != nil && b.notifications != nil {
		a.outbox = outbox.NewOutboxRunner(logger, st.outbox,
			outbox.MakeGlobalOutboxHandler(b.notifications, retry.PublishPolicy(logger)),
			outbox.Config{
				Workers:       cfg.Outbox.Workers,
				BatchSize:     cfg.Outbox.BatchSize,
				WaitTime:      cfg.Outbox.WaitTime,
				InProgressTTL: cfg.Outbox.InProgressTTL,
				Retention:     cfg.Outbox.Retention,
			}, reg)
	}
	if b.dispatch != nil {
		a.inbound = inbound.NewController(b.dispatch, engine, logger)
	}
	return a, nil
}
