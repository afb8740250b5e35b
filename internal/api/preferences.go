package api

import (
	"net/http"
	"time"

	"github.com/lalithlochan/beacon/internal/db"
	"github.com/lalithlochan/beacon/internal/preference"
)

type toggleChannelRequest struct {
	Channel db.Channel `json:"channel" validate:"required"`
	Enabled *bool      `json:"enabled" validate:"required"`
}

type typeRequest struct {
	Type db.NotificationType `json:"type" validate:"required"`
}

type globalMuteRequest struct {
	Mute      *bool      `json:"mute" validate:"required"`
	MuteUntil *time.Time `json:"muteUntil,omitempty"`
}

type quietHoursRequest struct {
	Enabled  *bool  `json:"enabled" validate:"required"`
	Start    string `json:"start" validate:"required"`
	End      string `json:"end" validate:"required"`
	Timezone string `json:"timezone,omitempty"`
}

type digestRequest struct {
	Enabled   *bool              `json:"enabled" validate:"required"`
	Frequency db.DigestFrequency `json:"frequency" validate:"required"`
	Time      string             `json:"time" validate:"required"`
	DayOfWeek int                `json:"dayOfWeek" validate:"min=0,max=6"`
}

func (h *Handler) GetPreferences(w http.ResponseWriter, r *http.Request) {
	prefs, err := h.prefs.GetOrCreate(r.Context(), caller(r).UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, http.StatusOK, "preferences retrieved", prefs)
}

// UpdatePreferences handles PUT /v1/notifications/preferences with a partial document
func (h *Handler) UpdatePreferences(w http.ResponseWriter, r *http.Request) {
	var u preference.Update
	if err := decode(r, &u); err != nil {
		h.fail(w, r, err)
		return
	}

	prefs, err := h.prefs.Update(r.Context(), caller(r).UserID, u)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, http.StatusOK, "preferences updated", prefs)
}

func (h *Handler) ToggleChannel(w http.ResponseWriter, r *http.Request) {
	var req toggleChannelRequest
	if err := decodeValid(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	prefs, err := h.prefs.ToggleChannel(r.Context(), caller(r).UserID, req.Channel, *req.Enabled)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, http.StatusOK, "channel updated", prefs)
}

func (h *Handler) MuteType(w http.ResponseWriter, r *http.Request) {
	var req typeRequest
	if err := decodeValid(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	prefs, err := h.prefs.MuteType(r.Context(), caller(r).UserID, req.Type)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, http.StatusOK, "type muted", prefs)
}

func (h *Handler) UnmuteType(w http.ResponseWriter, r *http.Request) {
	var req typeRequest
	if err := decodeValid(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	prefs, err := h.prefs.UnmuteType(r.Context(), caller(r).UserID, req.Type)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, http.StatusOK, "type unmuted", prefs)
}

func (h *Handler) GlobalMute(w http.ResponseWriter, r *http.Request) {
	var req globalMuteRequest
	if err := decodeValid(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	prefs, err := h.prefs.SetGlobalMute(r.Context(), caller(r).UserID, *req.Mute, req.MuteUntil)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, http.StatusOK, "global mute updated", prefs)
}

func (h *Handler) QuietHours(w http.ResponseWriter, r *http.Request) {
	var req quietHoursRequest
	if err := decodeValid(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	prefs, err := h.prefs.SetQuietHours(r.Context(), caller(r).UserID, *req.Enabled, req.Start, req.End, req.Timezone)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, http.StatusOK, "quiet hours updated", prefs)
}

func (h *Handler) Digest(w http.ResponseWriter, r *http.Request) {
	var req digestRequest
	if err := decodeValid(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	prefs, err := h.prefs.SetDigest(r.Context(), caller(r).UserID, db.DigestSettings{
		Enabled:   *req.Enabled,
		Frequency: req.Frequency,
		Time:      req.Time,
		DayOfWeek: req.DayOfWeek,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, http.StatusOK, "digest updated", prefs)
}
