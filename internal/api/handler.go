package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/lalithlochan/beacon/internal/apperr"
	"github.com/lalithlochan/beacon/internal/auth"
	"github.com/lalithlochan/beacon/internal/db"
	"github.com/lalithlochan/beacon/internal/notify"
	"github.com/lalithlochan/beacon/internal/preference"
	"github.com/lalithlochan/beacon/internal/redis"
	"github.com/lalithlochan/beacon/internal/validate"
)

// maxBodyBytes caps request bodies
const maxBodyBytes = 1 << 20

// NotificationService is implemented by *notify.Service
type NotificationService interface {
	Create(ctx context.Context, opts notify.CreateOptions) (*db.Notification, error)
	Broadcast(ctx context.Context, opts notify.BroadcastOptions) (*notify.BroadcastResult, error)
	GetUserNotifications(ctx context.Context, userID uuid.UUID, f notify.ListFilter) (*notify.Page, error)
	GetGroupedNotifications(ctx context.Context, userID uuid.UUID, limit int) ([]*notify.Group, error)
	GetUnreadCount(ctx context.Context, userID uuid.UUID) (int, error)
	GetUserStats(ctx context.Context, userID uuid.UUID) (*notify.Stats, error)
	MarkAsRead(ctx context.Context, userID, id uuid.UUID) (*db.Notification, error)
	MarkAllAsRead(ctx context.Context, userID uuid.UUID) (int64, error)
	DeleteNotification(ctx context.Context, userID, id uuid.UUID) error
	DeleteAllRead(ctx context.Context, userID uuid.UUID) (int64, error)
	CleanupExpired(ctx context.Context) (int64, error)
	RegisterPushToken(ctx context.Context, userID uuid.UUID, in notify.RegisterTokenInput) (*db.PushToken, error)
	RemovePushToken(ctx context.Context, userID uuid.UUID, token string) error
}

// PreferenceService is implemented by *preference.Store
type PreferenceService interface {
	GetOrCreate(ctx context.Context, userID uuid.UUID) (*db.Preferences, error)
	Update(ctx context.Context, userID uuid.UUID, u preference.Update) (*db.Preferences, error)
	ToggleChannel(ctx context.Context, userID uuid.UUID, channel db.Channel, enabled bool) (*db.Preferences, error)
	MuteType(ctx context.Context, userID uuid.UUID, t db.NotificationType) (*db.Preferences, error)
	UnmuteType(ctx context.Context, userID uuid.UUID, t db.NotificationType) (*db.Preferences, error)
	SetGlobalMute(ctx context.Context, userID uuid.UUID, mute bool, until *time.Time) (*db.Preferences, error)
	SetQuietHours(ctx context.Context, userID uuid.UUID, enabled bool, start, end, timezone string) (*db.Preferences, error)
	SetDigest(ctx context.Context, userID uuid.UUID, digest db.DigestSettings) (*db.Preferences, error)
}

// Idempotency is implemented by *redis.IdempotencyService
type Idempotency interface {
	Begin(ctx context.Context, scope, key string) (*redis.IdempotencyResult, error)
	Complete(ctx context.Context, scope, key string, result *redis.IdempotencyResult) error
	Release(ctx context.Context, scope, key string) error
	Extend(ctx context.Context, scope, key string) error
}

// Response is the success envelope
type Response struct {
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// ErrorResponse is the failure envelope. Stack is only filled outside production.
type ErrorResponse struct {
	Message string            `json:"message"`
	Errors  map[string]string `json:"errors,omitempty"`
	Stack   string            `json:"stack,omitempty"`
}

// Handler holds dependencies for API handlers
type Handler struct {
	logger        *zap.Logger
	notifications NotificationService
	prefs         PreferenceService
	idempotency   Idempotency // nil if Redis not configured
	renewEvery    time.Duration
	exposeStack   bool
}

type Option func(*Handler)

// WithIdempotency enables Idempotency-Key replay on broadcasts
func WithIdempotency(svc Idempotency) Option {
	return func(h *Handler) { h.idempotency = svc }
}

// WithStackTraces includes stacks of internal errors in responses
func WithStackTraces(enabled bool) Option {
	return func(h *Handler) { h.exposeStack = enabled }
}

func NewHandler(logger *zap.Logger, notifications NotificationService, prefs PreferenceService, opts ...Option) *Handler {
	h := &Handler{
		logger:        logger,
		notifications: notifications,
		prefs:         prefs,
		renewEvery:    redis.ProcessingTTL / 3,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes mounts the recipient and admin endpoints. Callers wrap r with
// Authenticate first.
func (h *Handler) Routes(r chi.Router, stream http.Handler) {
	r.Route("/notifications", func(r chi.Router) {
		r.Get("/", h.ListNotifications)
		r.Get("/grouped", h.GroupedNotifications)
		r.Get("/unread-count", h.UnreadCount)
		r.Get("/stats", h.Stats)
		r.Post("/mark-all-read", h.MarkAllRead)
		r.Delete("/read", h.DeleteAllRead)
		r.Post("/{id}/read", h.MarkRead)
		r.Delete("/{id}", h.DeleteNotification)

		r.Get("/preferences", h.GetPreferences)
		r.Put("/preferences", h.UpdatePreferences)
		r.Post("/preferences/toggle-channel", h.ToggleChannel)
		r.Post("/preferences/mute-type", h.MuteType)
		r.Post("/preferences/unmute-type", h.UnmuteType)
		r.Post("/preferences/global-mute", h.GlobalMute)
		r.Put("/preferences/quiet-hours", h.QuietHours)
		r.Put("/preferences/digest", h.Digest)

		r.Post("/push-token", h.RegisterPushToken)
		r.Delete("/push-token/{token}", h.RemovePushToken)

		if stream != nil {
			r.Method(http.MethodGet, "/stream", stream)
		}
	})

	r.Route("/admin/notifications", func(r chi.Router) {
		r.Use(RequireRole(auth.RoleAdmin))
		r.Post("/", h.CreateNotification)
		r.Post("/broadcast", h.Broadcast)
		r.Post("/cleanup", h.Cleanup)
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (h *Handler) ok(w http.ResponseWriter, status int, message string, data any) {
	writeJSON(w, status, Response{Message: message, Data: data})
}

// writeError normalizes any error into the failure envelope
func writeError(w http.ResponseWriter, err error, exposeStack bool) *apperr.Error {
	appErr := classify(err)

	body := ErrorResponse{Message: appErr.Message, Errors: appErr.Fields}
	if exposeStack && appErr.Kind == apperr.KindInternal {
		body.Stack = apperr.Stack(appErr)
	}
	writeJSON(w, appErr.Kind.Status(), body)
	return appErr
}

// classify checks duplicate keys before typed errors because storage
// failures reach here wrapped as internal errors
func classify(err error) *apperr.Error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return apperr.Conflict("resource already exists")
	}
	if appErr, ok := apperr.As(err); ok {
		return appErr
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		if appErr, ok := apperr.As(validate.FromError(verrs)); ok {
			return appErr
		}
	}
	return apperr.Internal(err)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	appErr := writeError(w, err, h.exposeStack)
	if appErr.Kind == apperr.KindInternal {
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
}

// decode reads a JSON body, rejecting unknown fields and trailing data
func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperr.Validation("malformed JSON body", map[string]string{"body": err.Error()})
	}
	if dec.More() {
		return apperr.Validation("malformed JSON body", map[string]string{"body": "unexpected trailing data"})
	}
	return nil
}

// caller returns the authenticated identity; Authenticate guarantees one
func caller(r *http.Request) *auth.Identity {
	id, _ := auth.FromContext(r.Context())
	return id
}

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, apperr.Validation("invalid "+name, map[string]string{name: "must be a UUID"})
	}
	return id, nil
}

func queryInt(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, apperr.Validation("invalid "+name, map[string]string{name: "must be an integer"})
	}
	return n, nil
}

func queryBool(r *http.Request, name string) (*bool, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return nil, apperr.Validation("invalid "+name, map[string]string{name: "must be true or false"})
	}
	return &b, nil
}

// decodeValid decodes then runs struct-tag validation
func decodeValid(r *http.Request, dst any) error {
	if err := decode(r, dst); err != nil {
		return err
	}
	return validate.Struct(dst)
}
