// Package preference owns per-user notification settings and the rules that
// decide which channels a notification may use.
package preference

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/beacon/internal/apperr"
	"github.com/lalithlochan/beacon/internal/db"
)

// Repository is the persistence the store needs
type Repository interface {
	GetPreferences(ctx context.Context, userID uuid.UUID) (*db.Preferences, error)
	InsertPreferencesIfAbsent(ctx context.Context, prefs *db.Preferences) error
	UpsertPreferences(ctx context.Context, prefs *db.Preferences) error
	SetChannelEnabled(ctx context.Context, userID uuid.UUID, channel db.Channel, enabled bool) error
	AddMutedType(ctx context.Context, userID uuid.UUID, t db.NotificationType) error
	RemoveMutedType(ctx context.Context, userID uuid.UUID, t db.NotificationType) error
	SetGlobalMute(ctx context.Context, userID uuid.UUID, mute bool, until *time.Time) error
	SetQuietHours(ctx context.Context, userID uuid.UUID, qh db.QuietHours) error
	SetEmailDigest(ctx context.Context, userID uuid.UUID, digest db.DigestSettings) error
}

// Store reads and mutates preferences, creating them on first access
type Store struct {
	repo            Repository
	defaultTimezone string
	now             func() time.Time
	logger          *zap.Logger
}

type Option func(*Store)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func NewStore(repo Repository, defaultTimezone string, logger *zap.Logger, opts ...Option) *Store {
	s := &Store{
		repo:            repo,
		defaultTimezone: defaultTimezone,
		now:             time.Now,
		logger:          logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetOrCreate returns the user's preferences, materializing defaults when absent
func (s *Store) GetOrCreate(ctx context.Context, userID uuid.UUID) (*db.Preferences, error) {
	prefs, err := s.repo.GetPreferences(ctx, userID)
	if err == nil {
		return prefs, nil
	}
	if !errors.Is(err, db.ErrNotFound) {
		return nil, apperr.Internal(err)
	}

	if err := s.repo.InsertPreferencesIfAbsent(ctx, Defaults(userID, s.defaultTimezone)); err != nil {
		return nil, apperr.Internal(err)
	}

	s.logger.Debug("default preferences created", zap.String("user_id", userID.String()))

	prefs, err = s.repo.GetPreferences(ctx, userID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return prefs, nil
}

// Update merges the non-nil fields of u into the stored preferences
func (s *Store) Update(ctx context.Context, userID uuid.UUID, u Update) (*db.Preferences, error) {
	if err := u.Validate(); err != nil {
		return nil, err
	}

	prefs, err := s.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}

	u.apply(prefs)

	if err := s.repo.UpsertPreferences(ctx, prefs); err != nil {
		return nil, apperr.Internal(err)
	}

	s.logger.Info("preferences updated", zap.String("user_id", userID.String()))
	return prefs, nil
}

// IsChannelEnabledForType reports whether channel may carry t for the user now
func (s *Store) IsChannelEnabledForType(ctx context.Context, userID uuid.UUID, channel db.Channel, t db.NotificationType) (bool, error) {
	prefs, err := s.GetOrCreate(ctx, userID)
	if err != nil {
		return false, err
	}
	return ChannelAllowed(prefs, channel, t, s.now()), nil
}

// IsInQuietHours reports whether the user is currently inside their quiet window
func (s *Store) IsInQuietHours(ctx context.Context, userID uuid.UUID) (bool, error) {
	prefs, err := s.GetOrCreate(ctx, userID)
	if err != nil {
		return false, err
	}
	return InQuietHours(prefs, s.now()), nil
}

func (s *Store) ToggleChannel(ctx context.Context, userID uuid.UUID, channel db.Channel, enabled bool) (*db.Preferences, error) {
	if !channel.Valid() {
		return nil, apperr.Validation("invalid channel", map[string]string{"channel": "must be one of in_app, email, push, sms"})
	}
	return s.mutate(ctx, userID, func() error {
		return s.repo.SetChannelEnabled(ctx, userID, channel, enabled)
	})
}

func (s *Store) MuteType(ctx context.Context, userID uuid.UUID, t db.NotificationType) (*db.Preferences, error) {
	if !t.Valid() {
		return nil, invalidType()
	}
	return s.mutate(ctx, userID, func() error {
		return s.repo.AddMutedType(ctx, userID, t)
	})
}

func (s *Store) UnmuteType(ctx context.Context, userID uuid.UUID, t db.NotificationType) (*db.Preferences, error) {
	if !t.Valid() {
		return nil, invalidType()
	}
	return s.mutate(ctx, userID, func() error {
		return s.repo.RemoveMutedType(ctx, userID, t)
	})
}

// SetGlobalMute switches the global mute. Turning it off clears the expiry.
func (s *Store) SetGlobalMute(ctx context.Context, userID uuid.UUID, mute bool, until *time.Time) (*db.Preferences, error) {
	if !mute {
		until = nil
	}
	return s.mutate(ctx, userID, func() error {
		return s.repo.SetGlobalMute(ctx, userID, mute, until)
	})
}

// SetQuietHours stores the window. An empty timezone keeps the current one.
func (s *Store) SetQuietHours(ctx context.Context, userID uuid.UUID, enabled bool, start, end, timezone string) (*db.Preferences, error) {
	fields := map[string]string{}
	validateClock(fields, "start", start)
	validateClock(fields, "end", end)
	validateTimezone(fields, "timezone", timezone)
	if len(fields) > 0 {
		return nil, apperr.Validation("invalid quiet hours", fields)
	}

	prefs, err := s.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}
	if timezone == "" {
		timezone = prefs.QuietHours.Timezone
	}

	qh := db.QuietHours{Enabled: enabled, Start: start, End: end, Timezone: timezone}
	return s.mutate(ctx, userID, func() error {
		return s.repo.SetQuietHours(ctx, userID, qh)
	})
}

func (s *Store) SetDigest(ctx context.Context, userID uuid.UUID, digest db.DigestSettings) (*db.Preferences, error) {
	fields := map[string]string{}
	validateDigest(fields, digest)
	if len(fields) > 0 {
		return nil, apperr.Validation("invalid email digest", fields)
	}
	return s.mutate(ctx, userID, func() error {
		return s.repo.SetEmailDigest(ctx, userID, digest)
	})
}

// mutate ensures the row exists, applies one targeted update, and re-reads
func (s *Store) mutate(ctx context.Context, userID uuid.UUID, update func() error) (*db.Preferences, error) {
	if _, err := s.GetOrCreate(ctx, userID); err != nil {
		return nil, err
	}
	if err := update(); err != nil {
		return nil, apperr.Internal(err)
	}

	prefs, err := s.repo.GetPreferences(ctx, userID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return prefs, nil
}

func invalidType() *apperr.Error {
	return apperr.Validation("invalid notification type", map[string]string{"type": "must be a known notification type"})
}
