package session

import (
	"context"
	"errors"
	"time"
)

var (
	ErrClosed      = errors.New("session closed")
	ErrPushTimeout = errors.New("push timed out")
)

const (
	EventReceiveNotification = "ReceiveNotification"
	EventMemberConnected     = "MemberConnected"
	EventMemberDisconnected  = "MemberDisconnected"

	CommandAckNotification = "AckNotification"
)

// Session is one live client connection. Push must not block past ctx.
type Session interface {
	ID() string
	Identity() string
	Push(ctx context.Context, ev Event) error
	Close() error
}

// Event is a server to client frame.
type Event struct {
	Name string `json:"event"`
	Data any    `json:"data"`
}

type NotificationPayload struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Message      string    `json:"message"`
	CreatedAt    time.Time `json:"createdAt"`
	MetadataJSON *string   `json:"metadataJson"`
}

type MemberConnectedPayload struct {
	PlayerID       string    `json:"playerId"`
	ConnectionTime time.Time `json:"connectionTime"`
	ConnectionID   string    `json:"connectionId"`
}

type MemberDisconnectedPayload struct {
	PlayerID          string    `json:"playerId"`
	DisconnectionTime time.Time `json:"disconnectionTime"`
}

// Command is a client to server frame.
type Command struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

type PresenceKind int

const (
	PresenceOnline PresenceKind = iota + 1
	PresenceOffline
)

func (k PresenceKind) String() string {
	if k == PresenceOnline {
		return "online"
	}
	return "offline"
}

// PresenceEvent fires once per online/offline transition of an identity.
type PresenceEvent struct {
	Kind      PresenceKind
	Identity  string
	SessionID string
	At        time.Time
}

func (e PresenceEvent) AsEvent() Event {
	if e.Kind == PresenceOnline {
		return Event{Name: EventMemberConnected, Data: MemberConnectedPayload{
			PlayerID:       e.Identity,
			ConnectionTime: e.At,
			ConnectionID:   e.SessionID,
		}}
	}
	return Event{Name: EventMemberDisconnected, Data: MemberDisconnectedPayload{
		PlayerID:          e.Identity,
		DisconnectionTime: e.At,
	}}
}
