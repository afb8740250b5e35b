package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// UpsertPushToken registers a device token. A token already known under any
// user is reassigned to this user and reactivated.
func (r *Repository) UpsertPushToken(ctx context.Context, token *PushToken) error {
	if token.ID == uuid.Nil {
		token.ID = uuid.New()
	}

	query := `
		INSERT INTO push_tokens (id, user_id, token, platform, device_id, is_active, last_used_at)
		VALUES ($1, $2, $3, $4, $5, TRUE, NOW())
		ON CONFLICT (token) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			platform = EXCLUDED.platform,
			device_id = EXCLUDED.device_id,
			is_active = TRUE,
			last_used_at = NOW(),
			updated_at = NOW()
		RETURNING id, is_active, last_used_at, created_at, updated_at
	`

	err := r.db.Pool().QueryRow(ctx, query,
		token.ID,
		token.UserID,
		token.Token,
		string(token.Platform),
		token.DeviceID,
	).Scan(&token.ID, &token.IsActive, &token.LastUsedAt, &token.CreatedAt, &token.UpdatedAt)
	if err != nil {
		r.logger.Error("failed to upsert push token",
			zap.Error(err),
			zap.String("user_id", token.UserID.String()),
		)
		return fmt.Errorf("upsert push token: %w", err)
	}

	return nil
}

// DeactivatePushToken soft-removes a token owned by the user
func (r *Repository) DeactivatePushToken(ctx context.Context, userID uuid.UUID, token string) error {
	result, err := r.db.Pool().Exec(ctx, `
		UPDATE push_tokens SET is_active = FALSE, updated_at = NOW()
		WHERE user_id = $1 AND token = $2
	`, userID, token)
	if err != nil {
		return fmt.Errorf("deactivate push token: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListActivePushTokens returns the user's active tokens, most recently used first
func (r *Repository) ListActivePushTokens(ctx context.Context, userID uuid.UUID) ([]*PushToken, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT id, user_id, token, platform, device_id, is_active, last_used_at, created_at, updated_at
		FROM push_tokens
		WHERE user_id = $1 AND is_active = TRUE
		ORDER BY last_used_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query push tokens: %w", err)
	}
	defer rows.Close()

	var tokens []*PushToken
	for rows.Next() {
		var t PushToken
		var platform string
		if err := rows.Scan(
			&t.ID,
			&t.UserID,
			&t.Token,
			&platform,
			&t.DeviceID,
			&t.IsActive,
			&t.LastUsedAt,
			&t.CreatedAt,
			&t.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan push token: %w", err)
		}
		t.Platform = Platform(platform)
		tokens = append(tokens, &t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return tokens, nil
}
