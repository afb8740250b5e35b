package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const preferenceColumns = `
	user_id, channels, global_mute, mute_until, muted_types,
	quiet_hours_enabled, quiet_hours_start, quiet_hours_end, timezone,
	email_digest, group_similar, max_per_day, created_at, updated_at`

// GetPreferences returns the stored preferences of a user
func (r *Repository) GetPreferences(ctx context.Context, userID uuid.UUID) (*Preferences, error) {
	row := r.db.Pool().QueryRow(ctx,
		`SELECT `+preferenceColumns+` FROM notification_preferences WHERE user_id = $1`, userID)

	prefs, err := scanPreferences(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query preferences: %w", err)
	}
	return prefs, nil
}

// InsertPreferencesIfAbsent materializes a preferences row. An existing row
// is left untouched, so concurrent first accesses converge on one record.
func (r *Repository) InsertPreferencesIfAbsent(ctx context.Context, prefs *Preferences) error {
	args, err := preferenceArgs(prefs)
	if err != nil {
		return err
	}

	_, err = r.db.Pool().Exec(ctx, `
		INSERT INTO notification_preferences (
			user_id, channels, global_mute, mute_until, muted_types,
			quiet_hours_enabled, quiet_hours_start, quiet_hours_end, timezone,
			email_digest, group_similar, max_per_day
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (user_id) DO NOTHING
	`, args...)
	if err != nil {
		return fmt.Errorf("insert preferences: %w", err)
	}
	return nil
}

// UpsertPreferences writes the full preferences row
func (r *Repository) UpsertPreferences(ctx context.Context, prefs *Preferences) error {
	args, err := preferenceArgs(prefs)
	if err != nil {
		return err
	}

	err = r.db.Pool().QueryRow(ctx, `
		INSERT INTO notification_preferences (
			user_id, channels, global_mute, mute_until, muted_types,
			quiet_hours_enabled, quiet_hours_start, quiet_hours_end, timezone,
			email_digest, group_similar, max_per_day
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (user_id) DO UPDATE SET
			channels = EXCLUDED.channels,
			global_mute = EXCLUDED.global_mute,
			mute_until = EXCLUDED.mute_until,
			muted_types = EXCLUDED.muted_types,
			quiet_hours_enabled = EXCLUDED.quiet_hours_enabled,
			quiet_hours_start = EXCLUDED.quiet_hours_start,
			quiet_hours_end = EXCLUDED.quiet_hours_end,
			timezone = EXCLUDED.timezone,
			email_digest = EXCLUDED.email_digest,
			group_similar = EXCLUDED.group_similar,
			max_per_day = EXCLUDED.max_per_day,
			updated_at = NOW()
		RETURNING created_at, updated_at
	`, args...).Scan(&prefs.CreatedAt, &prefs.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert preferences: %w", err)
	}
	return nil
}

// SetChannelEnabled flips the enabled flag of one channel entry
func (r *Repository) SetChannelEnabled(ctx context.Context, userID uuid.UUID, channel Channel, enabled bool) error {
	return r.execPreferenceUpdate(ctx, "set channel enabled", `
		UPDATE notification_preferences
		SET channels = jsonb_set(channels, ARRAY[$2::text, 'enabled'], to_jsonb($3::boolean), true),
			updated_at = NOW()
		WHERE user_id = $1
	`, userID, string(channel), enabled)
}

// AddMutedType adds t to the muted set if it is not already present
func (r *Repository) AddMutedType(ctx context.Context, userID uuid.UUID, t NotificationType) error {
	return r.execPreferenceUpdate(ctx, "add muted type", `
		UPDATE notification_preferences
		SET muted_types = CASE
				WHEN $2::text = ANY(muted_types) THEN muted_types
				ELSE array_append(muted_types, $2::text)
			END,
			updated_at = NOW()
		WHERE user_id = $1
	`, userID, string(t))
}

// RemoveMutedType removes t from the muted set
func (r *Repository) RemoveMutedType(ctx context.Context, userID uuid.UUID, t NotificationType) error {
	return r.execPreferenceUpdate(ctx, "remove muted type", `
		UPDATE notification_preferences
		SET muted_types = array_remove(muted_types, $2::text), updated_at = NOW()
		WHERE user_id = $1
	`, userID, string(t))
}

// SetGlobalMute stores the global mute flag and its optional expiry
func (r *Repository) SetGlobalMute(ctx context.Context, userID uuid.UUID, mute bool, until *time.Time) error {
	return r.execPreferenceUpdate(ctx, "set global mute", `
		UPDATE notification_preferences
		SET global_mute = $2, mute_until = $3, updated_at = NOW()
		WHERE user_id = $1
	`, userID, mute, until)
}

// SetQuietHours stores the quiet hours window
func (r *Repository) SetQuietHours(ctx context.Context, userID uuid.UUID, qh QuietHours) error {
	return r.execPreferenceUpdate(ctx, "set quiet hours", `
		UPDATE notification_preferences
		SET quiet_hours_enabled = $2, quiet_hours_start = $3, quiet_hours_end = $4,
			timezone = $5, updated_at = NOW()
		WHERE user_id = $1
	`, userID, qh.Enabled, qh.Start, qh.End, qh.Timezone)
}

// SetEmailDigest stores the digest settings
func (r *Repository) SetEmailDigest(ctx context.Context, userID uuid.UUID, digest DigestSettings) error {
	raw, err := json.Marshal(digest)
	if err != nil {
		return fmt.Errorf("marshal email digest: %w", err)
	}
	return r.execPreferenceUpdate(ctx, "set email digest", `
		UPDATE notification_preferences
		SET email_digest = $2::jsonb, updated_at = NOW()
		WHERE user_id = $1
	`, userID, string(raw))
}

func (r *Repository) execPreferenceUpdate(ctx context.Context, op, query string, args ...any) error {
	result, err := r.db.Pool().Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func preferenceArgs(prefs *Preferences) ([]any, error) {
	channels, err := json.Marshal(prefs.Channels)
	if err != nil {
		return nil, fmt.Errorf("marshal channel preferences: %w", err)
	}
	digest, err := json.Marshal(prefs.EmailDigest)
	if err != nil {
		return nil, fmt.Errorf("marshal email digest: %w", err)
	}

	muted := make([]string, len(prefs.MutedTypes))
	for i, t := range prefs.MutedTypes {
		muted[i] = string(t)
	}

	return []any{
		prefs.UserID,
		string(channels),
		prefs.GlobalMute,
		prefs.MuteUntil,
		muted,
		prefs.QuietHours.Enabled,
		prefs.QuietHours.Start,
		prefs.QuietHours.End,
		prefs.QuietHours.Timezone,
		string(digest),
		prefs.GroupSimilar,
		prefs.MaxPerDay,
	}, nil
}

func scanPreferences(row pgx.Row) (*Preferences, error) {
	var prefs Preferences
	var channels, digest []byte
	var muted []string

	err := row.Scan(
		&prefs.UserID,
		&channels,
		&prefs.GlobalMute,
		&prefs.MuteUntil,
		&muted,
		&prefs.QuietHours.Enabled,
		&prefs.QuietHours.Start,
		&prefs.QuietHours.End,
		&prefs.QuietHours.Timezone,
		&digest,
		&prefs.GroupSimilar,
		&prefs.MaxPerDay,
		&prefs.CreatedAt,
		&prefs.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	prefs.Channels = map[Channel]ChannelPreference{}
	if err := json.Unmarshal(channels, &prefs.Channels); err != nil {
		return nil, fmt.Errorf("decode channel preferences: %w", err)
	}
	if len(digest) > 0 {
		if err := json.Unmarshal(digest, &prefs.EmailDigest); err != nil {
			return nil, fmt.Errorf("decode email digest: %w", err)
		}
	}

	prefs.MutedTypes = make([]NotificationType, len(muted))
	for i, t := range muted {
		prefs.MutedTypes[i] = NotificationType(t)
	}

	return &prefs, nil
}
