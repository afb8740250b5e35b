// Package notify creates notification records, fans them out to delivery
// channels and serves the recipient-facing read paths.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/beacon/internal/apperr"
	"github.com/lalithlochan/beacon/internal/db"
	"github.com/lalithlochan/beacon/internal/worker"
)

// Repository is the persistence the service needs
type Repository interface {
	CreateNotification(ctx context.Context, notif *db.Notification) error
	UpdateDeliveryStatus(ctx context.Context, id uuid.UUID, channel db.Channel, status db.ChannelStatus) error
	MarkNotificationRead(ctx context.Context, userID, id uuid.UUID) (*db.Notification, error)
	MarkAllRead(ctx context.Context, userID uuid.UUID, now time.Time) (int64, error)
	DeleteNotification(ctx context.Context, userID, id uuid.UUID) error
	DeleteReadNotifications(ctx context.Context, userID uuid.UUID, now time.Time) (int64, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	ListNotifications(ctx context.Context, userID uuid.UUID, filter db.NotificationFilter, now time.Time) ([]*db.Notification, int, error)
	CountUnread(ctx context.Context, userID uuid.UUID, now time.Time) (int, error)
	CountByType(ctx context.Context, userID uuid.UUID, since, now time.Time) ([]db.TypeCount, error)

	UpsertPushToken(ctx context.Context, token *db.PushToken) error
	DeactivatePushToken(ctx context.Context, userID uuid.UUID, token string) error
	ListActivePushTokens(ctx context.Context, userID uuid.UUID) ([]*db.PushToken, error)

	GetUser(ctx context.Context, id uuid.UUID) (*db.User, error)
	ListUsers(ctx context.Context, filter db.UserFilter) ([]*db.User, error)
}

// PreferenceSource resolves a recipient's effective preferences
type PreferenceSource interface {
	GetOrCreate(ctx context.Context, userID uuid.UUID) (*db.Preferences, error)
}

type Config struct {
	DeliveryTimeout      time.Duration
	BroadcastConcurrency int
}

// Service is safe for concurrent use
type Service struct {
	repo   Repository
	prefs  PreferenceSource
	sender worker.Sender
	config Config
	now    func() time.Time
	logger *zap.Logger
}

type Option func(*Service)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(repo Repository, prefs PreferenceSource, sender worker.Sender, cfg Config, logger *zap.Logger, opts ...Option) *Service {
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = 10 * time.Second
	}
	if cfg.BroadcastConcurrency <= 0 {
		cfg.BroadcastConcurrency = 16
	}

	s := &Service{
		repo:   repo,
		prefs:  prefs,
		sender: sender,
		config: cfg,
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// storageError maps repository errors onto application errors
func storageError(err error, what string) error {
	if errors.Is(err, db.ErrNotFound) {
		return apperr.NotFound(what)
	}
	if _, ok := apperr.As(err); ok {
		return err
	}
	return apperr.Internal(err)
}
