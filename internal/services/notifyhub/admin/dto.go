package admin

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// validateStruct flattens validator errors into one readable message.
func validateStruct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	ve, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	msgs := make([]string, 0, len(ve))
	for _, fe := range ve {
		msgs = append(msgs, fmt.Sprintf("field '%s' failed '%s'", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("%s", strings.Join(msgs, "; "))
}

type contentRequest struct {
	Title        string  `json:"title" validate:"required,max=200"`
	Message      string  `json:"message" validate:"required,max=4000"`
	MetadataJSON *string `json:"metadataJson" validate:"omitempty,json"`
}

func (r contentRequest) content() Content {
	return Content{Title: r.Title, Message: r.Message, MetadataJSON: r.MetadataJSON}
}

type sendToPlayerRequest struct {
	PlayerID string `json:"playerId" validate:"required,max=128"`
	contentRequest
}

type sendToPlayersRequest struct {
	PlayerIDs []string `json:"playerIds" validate:"required,min=1,max=10000,dive,required,max=128"`
	contentRequest
}

type broadcastRequest struct {
	contentRequest
	ExpiresAt *time.Time `json:"expiresAt"`
}

type sendToGroupRequest struct {
	GroupID string `json:"groupId" validate:"required"`
	contentRequest
}

type sendTemplateRequest struct {
	TemplateID string   `json:"templateId" validate:"required"`
	PlayerIDs  []string `json:"playerIds" validate:"omitempty,dive,required,max=128"`
	GroupID    string   `json:"groupId"`
}

type dispatchResponse struct {
	Success        bool   `json:"success"`
	Message        string `json:"message"`
	NotificationID string `json:"notificationId,omitempty"`
	// ID mirrors NotificationID for broadcast callers.
	ID        string `json:"id,omitempty"`
	Targeted  int    `json:"targeted"`
	Delivered int    `json:"delivered"`
	Recorded  int    `json:"recorded"`
}

type messageEnvelope struct {
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}
