// Package presence turns registry online/offline transitions into admin
// feed frames, member directory updates and presence events on the bus.
package presence

import (
	"context"
	"time"

	"github.com/NordCoder/Notifyhub/internal/domain/kafka"
	"github.com/NordCoder/Notifyhub/internal/domain/member"
	"github.com/NordCoder/Notifyhub/internal/domain/session"
	"github.com/NordCoder/Notifyhub/internal/obs"
	"go.uber.org/zap"
)

// Watchers is the admin session registry.
type Watchers interface {
	All() []session.Session
	Unregister(identity string, s session.Session) bool
}

// Source yields registry transitions. Drain empties the buffer together with
// events parked by an overflow; Backlogged signals that there are some.
type Source interface {
	Events() <-chan session.PresenceEvent
	Backlogged() <-chan struct{}
	Drain() []session.PresenceEvent
}

type Config struct {
	PushTimeout time.Duration
	// StoreTimeout bounds each directory and publish call.
	StoreTimeout time.Duration
}

type Fanout struct {
	source    Source
	watchers  Watchers
	directory member.Directory
	publisher kafka.PresenceEvents
	cfg       Config
	log       *zap.Logger
}

// NewFanout builds a fanout. directory and publisher may be nil.
func NewFanout(source Source, watchers Watchers, directory member.Directory, publisher kafka.PresenceEvents, cfg Config, log *zap.Logger) *Fanout {
	if cfg.PushTimeout <= 0 {
		cfg.PushTimeout = 2 * time.Second
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 3 * time.Second
	}
	if directory == nil {
		directory = member.NopDirectory{}
	}
	return &Fanout{
		source:    source,
		watchers:  watchers,
		directory: directory,
		publisher: publisher,
		cfg:       cfg,
		log:       obs.Component(log, "presence.fanout"),
	}
}

// Run consumes events until ctx is done or the source channel closes.
func (f *Fanout) Run(ctx context.Context) error {
	f.log.Info("presence fanout started")
	defer f.log.Info("presence fanout stopped")
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-f.source.Events():
			if !ok {
				return nil
			}
			f.Handle(ctx, ev)
		case <-f.source.Backlogged():
			for _, ev := range f.source.Drain() {
				f.Handle(ctx, ev)
			}
		}
	}
}

func (f *Fanout) Handle(ctx context.Context, ev session.PresenceEvent) {
	f.broadcast(ctx, ev.AsEvent())

	sctx, cancel := context.WithTimeout(ctx, f.cfg.StoreTimeout)
	defer cancel()

	var err error
	if ev.Kind == session.PresenceOnline {
		err = f.directory.MarkOnline(sctx, ev.Identity, ev.SessionID, ev.At)
	} else {
		err = f.directory.MarkOffline(sctx, ev.Identity, ev.At)
	}
	if err != nil {
		f.log.Warn("update member presence", zap.String("identity", ev.Identity),
			zap.Stringer("kind", ev.Kind), zap.Error(err))
	}

	if f.publisher != nil {
		if err := f.publisher.PublishPresenceChanged(sctx, ev); err != nil {
			f.log.Warn("publish presence", zap.String("identity", ev.Identity), zap.Error(err))
		}
	}
}

func (f *Fanout) broadcast(ctx context.Context, ev session.Event) {
	for _, s := range f.watchers.All() {
		pctx, cancel := context.WithTimeout(ctx, f.cfg.PushTimeout)
		err := s.Push(pctx, ev)
		cancel()
		if err != nil {
			f.log.Debug("dropping admin watcher", zap.String("session_id", s.ID()), zap.Error(err))
			f.watchers.Unregister(s.Identity(), s)
			_ = s.Close()
		}
	}
}
