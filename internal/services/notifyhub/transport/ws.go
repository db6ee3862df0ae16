package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/NordCoder/Notifyhub/internal/domain/session"
	"github.com/NordCoder/Notifyhub/internal/obs"
	"github.com/NordCoder/Notifyhub/internal/services/notifyhub/delivery"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	hubNotifications = "notifications"
	hubAdmin         = "admin"

	adminIdentity = "admin"
	queryAdminKey = "admin_key"
)

type WSConfig struct {
	SendBuffer      int
	WriteTimeout    time.Duration
	PongTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageBytes int64
	// AllowedOrigins empty means same-origin checks are skipped.
	AllowedOrigins []string
}

func (c WSConfig) withDefaults() WSConfig {
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = 60 * time.Second
	}
	if c.PingInterval <= 0 || c.PingInterval >= c.PongTimeout {
		c.PingInterval = c.PongTimeout * 9 / 10
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = 4 << 10
	}
	return c
}

func (c WSConfig) upgrader() websocket.Upgrader {
	u := websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024}
	if len(c.AllowedOrigins) == 0 {
		u.CheckOrigin = func(*http.Request) bool { return true }
		return u
	}
	allowed := make(map[string]struct{}, len(c.AllowedOrigins))
	for _, o := range c.AllowedOrigins {
		allowed[strings.ToLower(strings.TrimRight(o, "/"))] = struct{}{}
	}
	u.CheckOrigin = func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if _, ok := allowed["*"]; ok {
			return true
		}
		o, err := url.Parse(origin)
		if err != nil {
			return false
		}
		_, ok := allowed[strings.ToLower(o.Scheme+"://"+o.Host)]
		return ok
	}
	return u
}

// Identifier resolves the player identity of an incoming session request.
type Identifier interface {
	FromRequest(r *http.Request) (string, error)
}

// AdminChecker validates the admin key presented on the admin hub.
type AdminChecker interface {
	Check(key string) error
}

// Watchers is the registry admin sessions join.
type Watchers interface {
	Register(identity string, s session.Session)
	Unregister(identity string, s session.Session) bool
}

type wsSession struct {
	*queued
	ws  *websocket.Conn
	cfg WSConfig
	hub string
	log *zap.Logger
	m   *Metrics
}

func newWSSession(ws *websocket.Conn, identity, hub string, cfg WSConfig, log *zap.Logger, m *Metrics) *wsSession {
	return &wsSession{
		queued: newQueued(identity, cfg.SendBuffer),
		ws:     ws,
		cfg:    cfg,
		hub:    hub,
		log:    log,
		m:      m,
	}
}

// writeLoop is the only writer on ws and closes it on exit.
func (s *wsSession) writeLoop() {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = s.Close()
		_ = s.ws.Close()
	}()

	for {
		select {
		case ev := <-s.out:
			_ = s.ws.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := s.ws.WriteJSON(ev); err != nil {
				s.log.Debug("ws write failed", zap.String("session_id", s.id), zap.Error(err))
				return
			}
			s.m.frames.WithLabelValues(s.hub, "out").Inc()
		case <-ticker.C:
			if err := s.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.cfg.WriteTimeout)); err != nil {
				return
			}
		case <-s.closed():
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = s.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			return
		}
	}
}

// readLoop feeds client commands to handle until the peer goes away.
func (s *wsSession) readLoop(handle func(session.Command)) {
	s.ws.SetReadLimit(s.cfg.MaxMessageBytes)
	_ = s.ws.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	s.ws.SetPongHandler(func(string) error {
		return s.ws.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	})

	for {
		_, data, err := s.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) &&
				!errors.Is(err, websocket.ErrCloseSent) {
				s.log.Debug("ws read failed", zap.String("session_id", s.id), zap.Error(err))
			}
			return
		}
		_ = s.ws.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
		s.m.frames.WithLabelValues(s.hub, "in").Inc()
		if handle == nil {
			continue
		}
		var cmd session.Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			s.log.Debug("malformed command", zap.String("session_id", s.id), zap.Error(err))
			continue
		}
		handle(cmd)
	}
}

// SessionHub serves the player notification hub over WebSocket.
type SessionHub struct {
	lc       *delivery.Lifecycle
	ident    Identifier
	cfg      WSConfig
	upgrader websocket.Upgrader
	log      *zap.Logger
	m        *Metrics
}

func NewSessionHub(lc *delivery.Lifecycle, ident Identifier, cfg WSConfig, m *Metrics, log *zap.Logger) *SessionHub {
	cfg = cfg.withDefaults()
	if m == nil {
		m = NewMetrics(nil)
	}
	return &SessionHub{
		lc:       lc,
		ident:    ident,
		cfg:      cfg,
		upgrader: cfg.upgrader(),
		log:      obs.Component(log, "transport.ws"),
		m:        m,
	}
}

func (h *SessionHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity, err := h.ident.FromRequest(r)
	if err != nil {
		h.m.connects.WithLabelValues(hubNotifications, "unauthorized").Inc()
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.m.connects.WithLabelValues(hubNotifications, "upgrade_failed").Inc()
		return
	}
	h.m.connects.WithLabelValues(hubNotifications, "ok").Inc()

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	s := newWSSession(ws, identity, hubNotifications, h.cfg, h.log, h.m)
	go s.writeLoop()

	conn, err := h.lc.Open(ctx, s)
	if err != nil {
		h.log.Warn("open session", zap.String("identity", identity), zap.Error(err))
		_ = s.Close()
		return
	}
	defer func() {
		conn.Close()
		_ = s.Close()
	}()

	s.readLoop(func(cmd session.Command) { conn.Handle(ctx, cmd) })
}

// AdminHub serves the admin presence feed. Admins only receive.
type AdminHub struct {
	watchers Watchers
	keys     AdminChecker
	cfg      WSConfig
	upgrader websocket.Upgrader
	log      *zap.Logger
	m        *Metrics
}

func NewAdminHub(watchers Watchers, keys AdminChecker, cfg WSConfig, m *Metrics, log *zap.Logger) *AdminHub {
	cfg = cfg.withDefaults()
	if m == nil {
		m = NewMetrics(nil)
	}
	return &AdminHub{
		watchers: watchers,
		keys:     keys,
		cfg:      cfg,
		upgrader: cfg.upgrader(),
		log:      obs.Component(log, "transport.ws.admin"),
		m:        m,
	}
}

func (h *AdminHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get("X-ADMIN-KEY")
	if key == "" {
		key = r.URL.Query().Get(queryAdminKey)
	}
	if err := h.keys.Check(key); err != nil {
		h.m.connects.WithLabelValues(hubAdmin, "unauthorized").Inc()
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.m.connects.WithLabelValues(hubAdmin, "upgrade_failed").Inc()
		return
	}
	h.m.connects.WithLabelValues(hubAdmin, "ok").Inc()

	s := newWSSession(ws, adminIdentity, hubAdmin, h.cfg, h.log, h.m)
	go s.writeLoop()

	h.watchers.Register(adminIdentity, s)
	defer func() {
		h.watchers.Unregister(adminIdentity, s)
		_ = s.Close()
	}()
	h.log.Info("admin watcher connected", zap.String("session_id", s.ID()))

	s.readLoop(nil)
}
