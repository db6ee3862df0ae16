package admin

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/NordCoder/Notifyhub/internal/domain/member"
	"github.com/NordCoder/Notifyhub/internal/domain/notification"
	"github.com/NordCoder/Notifyhub/internal/obs"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

type Handler struct {
	uc  *Usecase
	log *zap.Logger
}

func NewHandler(uc *Usecase, log *zap.Logger) *Handler {
	return &Handler{uc: uc, log: obs.Component(log, "admin.http")}
}

func (h *Handler) SendToPlayer(w http.ResponseWriter, r *http.Request) {
	var req sendToPlayerRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.uc.SendToPlayer(r.Context(), req.PlayerID, req.content())
	h.dispatched(w, r, res, err, fmt.Sprintf("Notification sent to player %s", req.PlayerID))
}

func (h *Handler) SendToPlayers(w http.ResponseWriter, r *http.Request) {
	var req sendToPlayersRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.uc.SendToPlayers(r.Context(), req.PlayerIDs, req.content())
	h.dispatched(w, r, res, err, fmt.Sprintf("Notification sent to %d players", len(req.PlayerIDs)))
}

func (h *Handler) Broadcast(w http.ResponseWriter, r *http.Request) {
	var req broadcastRequest
	if !h.decode(w, r, &req) {
		return
	}
	c := req.content()
	c.ExpiresAt = req.ExpiresAt
	res, err := h.uc.Broadcast(r.Context(), c)
	h.dispatched(w, r, res, err, "Broadcast sent")
}

func (h *Handler) SendToGroup(w http.ResponseWriter, r *http.Request) {
	var req sendToGroupRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.uc.SendToGroup(r.Context(), req.GroupID, req.content())
	h.dispatched(w, r, res, err, fmt.Sprintf("Notification sent to group %s", req.GroupID))
}

func (h *Handler) SendTemplate(w http.ResponseWriter, r *http.Request) {
	var req sendTemplateRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.uc.SendTemplate(r.Context(), req.TemplateID, req.PlayerIDs, req.GroupID)
	h.dispatched(w, r, res, err, fmt.Sprintf("Template %s sent", req.TemplateID))
}

func (h *Handler) PlayerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.uc.Status(chi.URLParam(r, "playerId")))
}

func (h *Handler) OnlineMembers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.uc.OnlineMembers())
}

func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	days := 0
	if v := r.URL.Query().Get("days"); v != "" {
		d, err := strconv.Atoi(v)
		if err != nil || d < 0 {
			writeError(w, http.StatusBadRequest, "days must be a non-negative integer")
			return
		}
		days = d
	}
	ns, err := h.uc.History(r.Context(), days)
	if err != nil {
		h.httpError(w, r, err)
		return
	}
	if ns == nil {
		ns = []*notification.Notification{}
	}
	writeJSON(w, http.StatusOK, ns)
}

func (h *Handler) DeliveryStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.uc.DeliveryStats(r.Context(), chi.URLParam(r, "notificationId"))
	if err != nil {
		h.httpError(w, r, err)
		return
	}
	if st.Records == nil {
		st.Records = []notification.DeliveryRecord{}
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := validateStruct(dst); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func (h *Handler) dispatched(w http.ResponseWriter, r *http.Request, res *notification.DispatchResult, err error, msg string) {
	if err != nil {
		h.httpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dispatchResponse{
		Success:        true,
		Message:        msg,
		NotificationID: res.NotificationID,
		ID:             res.NotificationID,
		Targeted:       res.Targeted,
		Delivered:      res.Delivered,
		Recorded:       res.Recorded,
	})
}

// httpError maps domain errors to status codes. Anything unrecognised is a
// store or dispatch failure and surfaces as 500.
func (h *Handler) httpError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, notification.ErrNotFound), errors.Is(err, member.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, notification.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		obs.WithTrace(r.Context(), h.log).Error("admin request failed",
			zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, messageEnvelope{Error: msg})
}
