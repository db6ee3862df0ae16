package delivery

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/NordCoder/Notifyhub/internal/domain/notification"
	"github.com/NordCoder/Notifyhub/internal/domain/session"
	"github.com/NordCoder/Notifyhub/internal/obs"
	"go.uber.org/zap"
)

type State int32

const (
	StateUnregistered State = iota
	StateConnected
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateUnregistered:
		return "unregistered"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Lifecycle wires the registry, catch-up and acknowledgments around one
// session: Open registers and catches up, Close unregisters.
type Lifecycle struct {
	registry Registry
	catchup  *CatchUp
	acker    *Acker
	log      *zap.Logger
}

func NewLifecycle(registry Registry, catchup *CatchUp, acker *Acker, log *zap.Logger) *Lifecycle {
	return &Lifecycle{
		registry: registry,
		catchup:  catchup,
		acker:    acker,
		log:      obs.Component(log, "delivery.lifecycle"),
	}
}

// Conn tracks one session through Unregistered -> Connected -> Disconnected.
// Disconnected is terminal; a reconnect is a new Conn.
type Conn struct {
	lc    *Lifecycle
	s     session.Session
	state atomic.Int32
}

func (l *Lifecycle) Open(ctx context.Context, s session.Session) (*Conn, error) {
	if strings.TrimSpace(s.Identity()) == "" {
		return nil, fmt.Errorf("session %s has no identity: %w", s.ID(), notification.ErrInvalidArgument)
	}
	c := &Conn{lc: l, s: s}

	l.registry.Register(s.Identity(), s)
	c.state.Store(int32(StateConnected))
	l.log.Debug("session connected", zap.String("identity", s.Identity()), zap.String("session_id", s.ID()))

	if _, err := l.catchup.Deliver(ctx, s); err != nil {
		l.log.Warn("catch-up incomplete",
			zap.String("identity", s.Identity()), zap.String("session_id", s.ID()), zap.Error(err))
	}
	return c, nil
}

func (c *Conn) Session() session.Session { return c.s }

func (c *Conn) State() State { return State(c.state.Load()) }

// Handle applies one client command. Unknown commands are ignored.
func (c *Conn) Handle(ctx context.Context, cmd session.Command) {
	if c.State() != StateConnected {
		return
	}
	switch cmd.Type {
	case session.CommandAckNotification:
		c.lc.acker.Acknowledge(ctx, cmd.ID, c.s.Identity())
	default:
		c.lc.log.Debug("unknown command", zap.String("type", cmd.Type), zap.String("session_id", c.s.ID()))
	}
}

// Close unregisters the session. Safe to call more than once.
func (c *Conn) Close() {
	prev := State(c.state.Swap(int32(StateDisconnected)))
	if prev == StateDisconnected {
		return
	}
	c.lc.registry.Unregister(c.s.Identity(), c.s)
	c.lc.log.Debug("session disconnected", zap.String("identity", c.s.Identity()), zap.String("session_id", c.s.ID()))
}
