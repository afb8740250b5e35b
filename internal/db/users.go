package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// UserFilter selects broadcast recipients. Empty fields do not filter.
type UserFilter struct {
	Roles      []string
	UserIDs    []uuid.UUID
	ExcludeIDs []uuid.UUID
}

// GetUser looks up a user in the directory
func (r *Repository) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	var u User
	err := r.db.Pool().QueryRow(ctx, `
		SELECT id, email, phone, full_name, avatar_url, role, is_active
		FROM users WHERE id = $1
	`, id).Scan(&u.ID, &u.Email, &u.Phone, &u.FullName, &u.AvatarURL, &u.Role, &u.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	return &u, nil
}

// ListUsers returns the active users matching the filter
func (r *Repository) ListUsers(ctx context.Context, filter UserFilter) ([]*User, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT id, email, phone, full_name, avatar_url, role, is_active
		FROM users
		WHERE is_active = TRUE
		AND (COALESCE(cardinality($1::text[]), 0) = 0 OR role = ANY($1::text[]))
		AND (COALESCE(cardinality($2::text[]), 0) = 0 OR id::text = ANY($2::text[]))
		AND NOT (id::text = ANY(COALESCE($3::text[], '{}')))
		ORDER BY created_at
	`, filter.Roles, uuidStrings(filter.UserIDs), uuidStrings(filter.ExcludeIDs))
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Email, &u.Phone, &u.FullName, &u.AvatarURL, &u.Role, &u.IsActive); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, &u)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return users, nil
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
