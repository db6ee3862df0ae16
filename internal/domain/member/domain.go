package member

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("not found")

type Member struct {
	PlayerID       string     `json:"playerId"`
	DisplayName    string     `json:"displayName"`
	FirstConnected time.Time  `json:"firstConnected"`
	LastConnected  time.Time  `json:"lastConnected"`
	LastActivity   *time.Time `json:"lastActivity,omitempty"`
	IsOnline       bool       `json:"isOnline"`
	ConnectionID   string     `json:"connectionId"`
}

type Group struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type Template struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Title        string  `json:"title"`
	Message      string  `json:"message"`
	MetadataJSON *string `json:"metadataJson,omitempty"`
	Category     string  `json:"category"`
	UsageCount   int     `json:"usageCount"`
}

// Directory is the boundary into member, group and template data owned by
// the administration side. Only the reads and touches delivery needs live here.
type Directory interface {
	MarkOnline(ctx context.Context, playerID, connectionID string, at time.Time) error
	MarkOffline(ctx context.Context, playerID string, at time.Time) error
	TouchActivity(ctx context.Context, playerID string, at time.Time) error

	GroupMembers(ctx context.Context, groupID string) ([]string, error)
	Template(ctx context.Context, templateID string) (*Template, error)
	IncrementTemplateUsage(ctx context.Context, templateID string) error
}

// NopDirectory is used when no member store is configured.
type NopDirectory struct{}

func (NopDirectory) MarkOnline(context.Context, string, string, time.Time) error { return nil }
func (NopDirectory) MarkOffline(context.Context, string, time.Time) error        { return nil }
func (NopDirectory) TouchActivity(context.Context, string, time.Time) error      { return nil }
func (NopDirectory) GroupMembers(context.Context, string) ([]string, error) {
	return nil, ErrNotFound
}
func (NopDirectory) Template(context.Context, string) (*Template, error) { return nil, ErrNotFound }
func (NopDirectory) IncrementTemplateUsage(context.Context, string) error { return ErrNotFound }
