package admin

import (
	"net/http"

	"github.com/NordCoder/Notifyhub/internal/auth"
	"github.com/NordCoder/Notifyhub/internal/obs"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

type RouterDeps struct {
	Handler      *Handler
	AdminKey     *auth.AdminKey
	SessionHub   http.Handler
	AdminHub     http.Handler
	ConnectLimit *RateLimiter
	Health       obs.HealthFunc
	Log          *zap.Logger
}

type RouterConfig struct {
	AllowedOrigins []string
}

// NewRouter mounts the session hubs, the admin API and the operational
// endpoints on one handler.
func NewRouter(cfg RouterConfig, d RouterDeps) http.Handler {
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", auth.HeaderAdminKey, auth.HeaderUserID},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", obs.HealthHandler(d.Health).ServeHTTP)
	r.Handle("/metrics", obs.MetricsHandler())

	r.Route("/hubs", func(r chi.Router) {
		if d.ConnectLimit != nil {
			r.Use(d.ConnectLimit.Limit)
		}
		if d.SessionHub != nil {
			r.Handle("/notifications", d.SessionHub)
		}
		if d.AdminHub != nil {
			r.Handle("/admin", d.AdminHub)
		}
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(obs.HTTPMiddleware("notifyhub.admin"))
		r.Use(RequestLogger(obs.Component(d.Log, "admin.http.access")))
		r.Use(RequireAdminKey(d.AdminKey))

		h := d.Handler
		r.Route("/notifications", func(r chi.Router) {
			r.Post("/send-to-player", h.SendToPlayer)
			r.Post("/send-to-players", h.SendToPlayers)
			r.Post("/broadcast", h.Broadcast)
			r.Get("/player/{playerId}/status", h.PlayerStatus)
		})
		r.Route("/admin", func(r chi.Router) {
			r.Post("/notifications/send-to-group", h.SendToGroup)
			r.Post("/notifications/send-template", h.SendTemplate)
			r.Get("/notifications/history", h.History)
			r.Get("/notifications/{notificationId}/delivery-stats", h.DeliveryStats)
			r.Get("/members/online", h.OnlineMembers)
		})
	})

	return r
}
