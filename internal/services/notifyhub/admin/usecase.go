package admin

import (
	"context"
	"fmt"
	"time"

	"github.com/NordCoder/Notifyhub/internal/domain/member"
	"github.com/NordCoder/Notifyhub/internal/domain/notification"
	"github.com/NordCoder/Notifyhub/internal/domain/session"
	"github.com/NordCoder/Notifyhub/internal/obs"
	"go.uber.org/zap"
)

const (
	defaultHistoryDays = 7
	maxHistoryDays     = 90
	historyLimit       = 500
)

type Dispatcher interface {
	Send(ctx context.Context, n *notification.Notification, target notification.Target) (*notification.DispatchResult, error)
}

// Store is the read side of the ledger used by admin views.
type Store interface {
	Get(ctx context.Context, id string) (*notification.Notification, error)
	History(ctx context.Context, since time.Time, limit int) ([]*notification.Notification, error)
	Deliveries(ctx context.Context, notificationID string) ([]notification.DeliveryRecord, error)
}

type Presence interface {
	SessionsFor(identity string) []session.Session
	Identities() []string
}

type Usecase struct {
	dispatch  Dispatcher
	store     Store
	presence  Presence
	directory member.Directory
	clock     notification.Clock
	log       *zap.Logger
}

func NewUsecase(dispatch Dispatcher, store Store, presence Presence, directory member.Directory, clock notification.Clock, log *zap.Logger) *Usecase {
	if directory == nil {
		directory = member.NopDirectory{}
	}
	if clock == nil {
		clock = notification.SystemClock{}
	}
	return &Usecase{
		dispatch:  dispatch,
		store:     store,
		presence:  presence,
		directory: directory,
		clock:     clock,
		log:       obs.Component(log, "admin.usecase"),
	}
}

type Content struct {
	Title        string
	Message      string
	MetadataJSON *string
	ExpiresAt    *time.Time
}

func (c Content) notification() *notification.Notification {
	return &notification.Notification{
		Title:        c.Title,
		Message:      c.Message,
		MetadataJSON: c.MetadataJSON,
		ExpiresAt:    c.ExpiresAt,
	}
}

func (u *Usecase) SendToPlayer(ctx context.Context, playerID string, c Content) (*notification.DispatchResult, error) {
	return u.dispatch.Send(ctx, c.notification(), notification.Single(playerID))
}

func (u *Usecase) SendToPlayers(ctx context.Context, playerIDs []string, c Content) (*notification.DispatchResult, error) {
	return u.dispatch.Send(ctx, c.notification(), notification.List(playerIDs...))
}

func (u *Usecase) Broadcast(ctx context.Context, c Content) (*notification.DispatchResult, error) {
	return u.dispatch.Send(ctx, c.notification(), notification.AllConnected())
}

// SendToGroup dispatches to the group's current members. An empty group
// dispatches nothing and persists nothing.
func (u *Usecase) SendToGroup(ctx context.Context, groupID string, c Content) (*notification.DispatchResult, error) {
	ids, err := u.directory.GroupMembers(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("group %s: %w", groupID, err)
	}
	if len(ids) == 0 {
		u.log.Info("group has no members", zap.String("group_id", groupID))
		return &notification.DispatchResult{}, nil
	}
	return u.dispatch.Send(ctx, c.notification(), notification.List(ids...))
}

// SendTemplate renders a template for explicit players, or for a group when
// no players are given.
func (u *Usecase) SendTemplate(ctx context.Context, templateID string, playerIDs []string, groupID string) (*notification.DispatchResult, error) {
	if len(playerIDs) == 0 && groupID == "" {
		return nil, fmt.Errorf("players or group required: %w", notification.ErrInvalidArgument)
	}
	tpl, err := u.directory.Template(ctx, templateID)
	if err != nil {
		return nil, fmt.Errorf("template %s: %w", templateID, err)
	}
	c := Content{Title: tpl.Title, Message: tpl.Message, MetadataJSON: tpl.MetadataJSON}

	var res *notification.DispatchResult
	if len(playerIDs) > 0 {
		res, err = u.dispatch.Send(ctx, c.notification(), notification.List(playerIDs...))
	} else {
		res, err = u.SendToGroup(ctx, groupID, c)
	}
	if err != nil {
		return res, err
	}
	if err := u.directory.IncrementTemplateUsage(ctx, templateID); err != nil {
		u.log.Warn("increment template usage", zap.String("template_id", templateID), zap.Error(err))
	}
	return res, nil
}

func (u *Usecase) History(ctx context.Context, days int) ([]*notification.Notification, error) {
	if days <= 0 {
		days = defaultHistoryDays
	}
	if days > maxHistoryDays {
		days = maxHistoryDays
	}
	since := u.clock.Now().AddDate(0, 0, -days)
	return u.store.History(ctx, since, historyLimit)
}

func (u *Usecase) DeliveryStats(ctx context.Context, id string) (*notification.DeliveryStats, error) {
	if _, err := u.store.Get(ctx, id); err != nil {
		return nil, err
	}
	recs, err := u.store.Deliveries(ctx, id)
	if err != nil {
		return nil, err
	}
	st := &notification.DeliveryStats{NotificationID: id, Records: recs}
	for _, r := range recs {
		if r.DeliveredAt != nil {
			st.Delivered++
		}
		if r.SeenAt != nil {
			st.Seen++
		}
	}
	return st, nil
}

type PlayerStatus struct {
	PlayerID    string `json:"playerId"`
	IsConnected bool   `json:"isConnected"`
	Status      string `json:"status"`
	Sessions    int    `json:"sessions"`
}

// Status reads the registry directly; it never probes the sessions.
func (u *Usecase) Status(playerID string) PlayerStatus {
	n := len(u.presence.SessionsFor(playerID))
	st := PlayerStatus{PlayerID: playerID, IsConnected: n > 0, Status: "offline", Sessions: n}
	if st.IsConnected {
		st.Status = "online"
	}
	return st
}

func (u *Usecase) OnlineMembers() []PlayerStatus {
	ids := u.presence.Identities()
	out := make([]PlayerStatus, 0, len(ids))
	for _, id := range ids {
		if st := u.Status(id); st.IsConnected {
			out = append(out, st)
		}
	}
	return out
}
