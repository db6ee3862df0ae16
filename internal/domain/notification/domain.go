package notification

import (
	"errors"
	"time"
)

var (
	ErrNotFound         = errors.New("notification not found")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrAllTargetsFailed = errors.New("all targets failed")
	// ErrAlreadyExists is returned by Create when the id is taken.
	ErrAlreadyExists = errors.New("notification already exists")
)

// Notification is immutable once created. MetadataJSON is carried through
// untouched and never parsed here.
type Notification struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Message      string     `json:"message"`
	MetadataJSON *string    `json:"metadataJson,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
	IsBroadcast  bool       `json:"isBroadcast"`
}

func (n *Notification) Expired(now time.Time) bool {
	return n.ExpiresAt != nil && !n.ExpiresAt.After(now)
}

// DeliveryRecord is the per-recipient state of one notification.
// DeliveredAt and SeenAt are set at most once each.
type DeliveryRecord struct {
	ID             int64      `json:"id"`
	NotificationID string     `json:"notificationId"`
	RecipientID    string     `json:"recipientId"`
	DeliveredAt    *time.Time `json:"deliveredAt,omitempty"`
	SeenAt         *time.Time `json:"seenAt,omitempty"`
	Dismissed      bool       `json:"dismissed"`
}

type TargetKind int

const (
	TargetSingle TargetKind = iota + 1
	TargetList
	TargetAllConnected
)

func (k TargetKind) String() string {
	switch k {
	case TargetSingle:
		return "single"
	case TargetList:
		return "list"
	case TargetAllConnected:
		return "all"
	default:
		return "unknown"
	}
}

type Target struct {
	Kind       TargetKind
	Identities []string
}

func Single(identity string) Target {
	return Target{Kind: TargetSingle, Identities: []string{identity}}
}

func List(identities ...string) Target {
	return Target{Kind: TargetList, Identities: identities}
}

func AllConnected() Target { return Target{Kind: TargetAllConnected} }

// TargetResult describes what happened for one recipient of a dispatch.
// Recorded means the delivery record exists with delivered_at set;
// Pushed counts the live sessions that accepted the message.
type TargetResult struct {
	Identity string `json:"identity"`
	Sessions int    `json:"sessions"`
	Pushed   int    `json:"pushed"`
	Recorded bool   `json:"recorded"`
	Error    string `json:"error,omitempty"`
}

func (r TargetResult) Delivered() bool { return r.Pushed > 0 }

type DispatchResult struct {
	NotificationID string         `json:"notificationId"`
	Targeted       int            `json:"targeted"`
	Delivered      int            `json:"delivered"`
	Recorded       int            `json:"recorded"`
	Targets        []TargetResult `json:"targets"`
}

// DeliveryStats is a per-notification view over its delivery records.
type DeliveryStats struct {
	NotificationID string           `json:"notificationId"`
	Delivered      int              `json:"delivered"`
	Seen           int              `json:"seen"`
	Records        []DeliveryRecord `json:"records"`
}
