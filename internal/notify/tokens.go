package notify

import (
	"context"

	"github.com/google/uuid"

	"github.com/lalithlochan/beacon/internal/apperr"
	"github.com/lalithlochan/beacon/internal/db"
	"github.com/lalithlochan/beacon/internal/validate"
)

type RegisterTokenInput struct {
	Token    string      `json:"token" validate:"required,max=512"`
	Platform db.Platform `json:"platform" validate:"required"`
	DeviceID string      `json:"deviceId,omitempty" validate:"max=255"`
}

// RegisterPushToken upserts by token; a token moves to the latest user that
// registers it
func (s *Service) RegisterPushToken(ctx context.Context, userID uuid.UUID, in RegisterTokenInput) (*db.PushToken, error) {
	if err := validate.Struct(in); err != nil {
		return nil, err
	}
	if !in.Platform.Valid() {
		return nil, apperr.Validation("validation failed", map[string]string{"platform": "must be one of: ios android web"})
	}

	token := &db.PushToken{
		UserID:   userID,
		Token:    in.Token,
		Platform: in.Platform,
		DeviceID: in.DeviceID,
	}
	if err := s.repo.UpsertPushToken(ctx, token); err != nil {
		return nil, storageError(err, "push token")
	}
	return token, nil
}

func (s *Service) RemovePushToken(ctx context.Context, userID uuid.UUID, token string) error {
	if err := s.repo.DeactivatePushToken(ctx, userID, token); err != nil {
		return storageError(err, "push token")
	}
	return nil
}

// GetUserTokens returns active tokens only
func (s *Service) GetUserTokens(ctx context.Context, userID uuid.UUID) ([]*db.PushToken, error) {
	tokens, err := s.repo.ListActivePushTokens(ctx, userID)
	if err != nil {
		return nil, storageError(err, "push tokens")
	}
	return tokens, nil
}
