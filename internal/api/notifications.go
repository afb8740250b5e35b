package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/lalithlochan/beacon/internal/apperr"
	"github.com/lalithlochan/beacon/internal/db"
	"github.com/lalithlochan/beacon/internal/notify"
)

// ListNotifications handles GET /v1/notifications?type=&isRead=&limit=&skip=
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	var f notify.ListFilter
	var err error

	if v := r.URL.Query().Get("type"); v != "" {
		t := db.NotificationType(v)
		f.Type = &t
	}
	if f.IsRead, err = queryBool(r, "isRead"); err != nil {
		h.fail(w, r, err)
		return
	}
	if f.Limit, err = queryInt(r, "limit"); err != nil {
		h.fail(w, r, err)
		return
	}
	if f.Skip, err = queryInt(r, "skip"); err != nil {
		h.fail(w, r, err)
		return
	}

	page, err := h.notifications.GetUserNotifications(r.Context(), caller(r).UserID, f)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, http.StatusOK, "notifications retrieved", page)
}

// GroupedNotifications handles GET /v1/notifications/grouped?limit=
func (h *Handler) GroupedNotifications(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		h.fail(w, r, err)
		return
	}

	groups, err := h.notifications.GetGroupedNotifications(r.Context(), caller(r).UserID, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, http.StatusOK, "grouped notifications retrieved", groups)
}

func (h *Handler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	count, err := h.notifications.GetUnreadCount(r.Context(), caller(r).UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, http.StatusOK, "unread count retrieved", map[string]int{"count": count})
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.notifications.GetUserStats(r.Context(), caller(r).UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, http.StatusOK, "stats retrieved", stats)
}

// MarkRead handles POST /v1/notifications/{id}/read
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}

	n, err := h.notifications.MarkAsRead(r.Context(), caller(r).UserID, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, http.StatusOK, "notification marked as read", n)
}

func (h *Handler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	count, err := h.notifications.MarkAllAsRead(r.Context(), caller(r).UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, http.StatusOK, "all notifications marked as read", map[string]int64{"modified": count})
}

// DeleteNotification handles DELETE /v1/notifications/{id}
func (h *Handler) DeleteNotification(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}

	if err := h.notifications.DeleteNotification(r.Context(), caller(r).UserID, id); err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, http.StatusOK, "notification deleted", nil)
}

func (h *Handler) DeleteAllRead(w http.ResponseWriter, r *http.Request) {
	count, err := h.notifications.DeleteAllRead(r.Context(), caller(r).UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, http.StatusOK, "read notifications deleted", map[string]int64{"deleted": count})
}

// RegisterPushToken handles POST /v1/notifications/push-token
func (h *Handler) RegisterPushToken(w http.ResponseWriter, r *http.Request) {
	var in notify.RegisterTokenInput
	if err := decode(r, &in); err != nil {
		h.fail(w, r, err)
		return
	}

	token, err := h.notifications.RegisterPushToken(r.Context(), caller(r).UserID, in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, http.StatusOK, "push token registered", token)
}

// RemovePushToken handles DELETE /v1/notifications/push-token/{token}
func (h *Handler) RemovePushToken(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	if token == "" {
		h.fail(w, r, apperr.Validation("invalid token", map[string]string{"token": "is required"}))
		return
	}

	if err := h.notifications.RemovePushToken(r.Context(), caller(r).UserID, token); err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, http.StatusOK, "push token removed", nil)
}

// CreateNotification handles POST /v1/admin/notifications
func (h *Handler) CreateNotification(w http.ResponseWriter, r *http.Request) {
	var opts notify.CreateOptions
	if err := decode(r, &opts); err != nil {
		h.fail(w, r, err)
		return
	}

	n, err := h.notifications.Create(r.Context(), opts)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.logger.Info("notification created",
		zap.String("notification_id", n.ID.String()),
		zap.String("recipient_id", n.RecipientID.String()),
		zap.String("type", string(n.Type)),
	)
	h.ok(w, http.StatusCreated, "notification created", n)
}

// Cleanup handles POST /v1/admin/notifications/cleanup
func (h *Handler) Cleanup(w http.ResponseWriter, r *http.Request) {
	count, err := h.notifications.CleanupExpired(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, http.StatusOK, "expired notifications deleted", map[string]int64{"deleted": count})
}
