package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// Repository handles database operations for notifications, preferences,
// push tokens and the user directory
type Repository struct {
	db     *DB
	logger *zap.Logger
}

// NewRepository creates a new repository over the pool
func NewRepository(db *DB, logger *zap.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// NotificationFilter narrows a notification listing
type NotificationFilter struct {
	Type   *NotificationType
	IsRead *bool
	Limit  int
	Offset int
}

// TypeCount is one row of per-type notification statistics
type TypeCount struct {
	Type   NotificationType
	Total  int
	Unread int
	Recent int
}

const notificationColumns = `
	n.id, n.recipient_id, n.actor_id, n.type, n.title, n.message,
	n.title_en, n.message_en, n.priority,
	n.related_model, n.related_id, n.related_entity, n.group_key,
	n.is_read, n.read_at, n.channels, n.delivery_status,
	n.icon, n.color, n.action_url, n.action_label,
	n.metadata, n.expires_at, n.created_at, n.updated_at,
	u.full_name, u.avatar_url`

const notificationFrom = `
	FROM notifications n
	LEFT JOIN users u ON u.id = n.actor_id`

// CreateNotification inserts a new notification into the database
func (r *Repository) CreateNotification(ctx context.Context, notif *Notification) error {
	status, err := json.Marshal(notif.DeliveryStatus)
	if err != nil {
		return fmt.Errorf("marshal delivery status: %w", err)
	}

	query := `
		INSERT INTO notifications (
			id, recipient_id, actor_id, type, title, message,
			title_en, message_en, priority,
			related_model, related_id, related_entity, group_key,
			channels, delivery_status,
			icon, color, action_url, action_label,
			metadata, expires_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21
		)
		RETURNING is_read, created_at, updated_at
	`

	err = r.db.Pool().QueryRow(
		ctx,
		query,
		notif.ID,
		notif.RecipientID,
		notif.ActorID,
		string(notif.Type),
		notif.Title,
		notif.Message,
		notif.TitleEn,
		notif.MessageEn,
		string(notif.Priority),
		notif.RelatedModel,
		notif.RelatedID,
		nullableJSON(notif.RelatedEntity),
		notif.GroupKey,
		channelStrings(notif.Channels),
		status,
		notif.Icon,
		notif.Color,
		notif.ActionURL,
		notif.ActionLabel,
		nullableJSON(notif.Metadata),
		notif.ExpiresAt,
	).Scan(&notif.IsRead, &notif.CreatedAt, &notif.UpdatedAt)

	if err != nil {
		r.logger.Error("failed to create notification",
			zap.Error(err),
			zap.String("notification_id", notif.ID.String()),
		)
		return fmt.Errorf("insert notification: %w", err)
	}

	r.logger.Debug("notification created",
		zap.String("notification_id", notif.ID.String()),
		zap.String("recipient_id", notif.RecipientID.String()),
		zap.String("type", string(notif.Type)),
	)

	return nil
}

// GetNotification retrieves a notification by ID scoped to its recipient
func (r *Repository) GetNotification(ctx context.Context, userID, id uuid.UUID) (*Notification, error) {
	query := `SELECT ` + notificationColumns + notificationFrom + `
		WHERE n.id = $1 AND n.recipient_id = $2`

	notif, err := scanNotification(r.db.Pool().QueryRow(ctx, query, id, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query notification: %w", err)
	}

	return notif, nil
}

// UpdateDeliveryStatus replaces the status entry of a single channel
func (r *Repository) UpdateDeliveryStatus(ctx context.Context, id uuid.UUID, channel Channel, status ChannelStatus) error {
	entry, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("marshal channel status: %w", err)
	}

	query := `
		UPDATE notifications
		SET delivery_status = jsonb_set(COALESCE(delivery_status, '{}'::jsonb), ARRAY[$2::text], $3::jsonb, true),
			updated_at = NOW()
		WHERE id = $1
	`

	result, err := r.db.Pool().Exec(ctx, query, id, string(channel), string(entry))
	if err != nil {
		r.logger.Error("failed to update delivery status",
			zap.Error(err),
			zap.String("notification_id", id.String()),
			zap.String("channel", string(channel)),
		)
		return fmt.Errorf("update delivery status: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// MarkNotificationRead flips is_read for one notification. read_at keeps its
// first value so repeated calls are no-ops.
func (r *Repository) MarkNotificationRead(ctx context.Context, userID, id uuid.UUID) (*Notification, error) {
	query := `
		UPDATE notifications
		SET is_read = TRUE, read_at = COALESCE(read_at, NOW()), updated_at = NOW()
		WHERE id = $1 AND recipient_id = $2
	`

	result, err := r.db.Pool().Exec(ctx, query, id, userID)
	if err != nil {
		return nil, fmt.Errorf("mark notification read: %w", err)
	}
	if result.RowsAffected() == 0 {
		return nil, ErrNotFound
	}

	return r.GetNotification(ctx, userID, id)
}

// MarkAllRead marks every live unread notification of the user as read.
// Expired rows are left for the sweeper, matching CountUnread.
func (r *Repository) MarkAllRead(ctx context.Context, userID uuid.UUID, now time.Time) (int64, error) {
	query := `
		UPDATE notifications
		SET is_read = TRUE, read_at = $2, updated_at = $2
		WHERE recipient_id = $1 AND is_read = FALSE
		AND (expires_at IS NULL OR expires_at > $2)
	`

	result, err := r.db.Pool().Exec(ctx, query, userID, now)
	if err != nil {
		return 0, fmt.Errorf("mark all read: %w", err)
	}

	return result.RowsAffected(), nil
}

// DeleteNotification removes one notification owned by the user
func (r *Repository) DeleteNotification(ctx context.Context, userID, id uuid.UUID) error {
	result, err := r.db.Pool().Exec(ctx,
		`DELETE FROM notifications WHERE id = $1 AND recipient_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("delete notification: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteReadNotifications removes the user's live read notifications
func (r *Repository) DeleteReadNotifications(ctx context.Context, userID uuid.UUID, now time.Time) (int64, error) {
	result, err := r.db.Pool().Exec(ctx, `
		DELETE FROM notifications
		WHERE recipient_id = $1 AND is_read = TRUE
		AND (expires_at IS NULL OR expires_at > $2)
	`, userID, now)
	if err != nil {
		return 0, fmt.Errorf("delete read notifications: %w", err)
	}
	return result.RowsAffected(), nil
}

// DeleteExpired removes notifications whose expiry has passed
func (r *Repository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.Pool().Exec(ctx,
		`DELETE FROM notifications WHERE expires_at IS NOT NULL AND expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired notifications: %w", err)
	}
	return result.RowsAffected(), nil
}

// ListNotifications returns one page of the user's live notifications, newest
// first, with the total number matching the filter
func (r *Repository) ListNotifications(
	ctx context.Context,
	userID uuid.UUID,
	filter NotificationFilter,
	now time.Time,
) ([]*Notification, int, error) {
	var typeFilter *string
	if filter.Type != nil {
		t := string(*filter.Type)
		typeFilter = &t
	}

	where := `
		WHERE n.recipient_id = $1
		AND (n.expires_at IS NULL OR n.expires_at > $2)
		AND ($3::text IS NULL OR n.type = $3)
		AND ($4::boolean IS NULL OR n.is_read = $4)`

	var total int
	if err := r.db.Pool().QueryRow(ctx,
		`SELECT COUNT(*) FROM notifications n`+where,
		userID, now, typeFilter, filter.IsRead,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count notifications: %w", err)
	}

	query := `SELECT ` + notificationColumns + notificationFrom + where + `
		ORDER BY n.created_at DESC, n.id DESC
		LIMIT $5 OFFSET $6`

	rows, err := r.db.Pool().Query(ctx, query, userID, now, typeFilter, filter.IsRead, filter.Limit, filter.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	notifications := make([]*Notification, 0, filter.Limit)
	for rows.Next() {
		notif, err := scanNotification(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan notification: %w", err)
		}
		notifications = append(notifications, notif)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate rows: %w", err)
	}

	return notifications, total, nil
}

// CountUnread returns the number of live unread notifications of the user
func (r *Repository) CountUnread(ctx context.Context, userID uuid.UUID, now time.Time) (int, error) {
	var count int
	err := r.db.Pool().QueryRow(ctx, `
		SELECT COUNT(*) FROM notifications
		WHERE recipient_id = $1 AND is_read = FALSE
		AND (expires_at IS NULL OR expires_at > $2)
	`, userID, now).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return count, nil
}

// CountByType aggregates totals, unread, and created-since counts per type
func (r *Repository) CountByType(ctx context.Context, userID uuid.UUID, since, now time.Time) ([]TypeCount, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT type,
			COUNT(*),
			COUNT(*) FILTER (WHERE is_read = FALSE),
			COUNT(*) FILTER (WHERE created_at >= $2)
		FROM notifications
		WHERE recipient_id = $1
		AND (expires_at IS NULL OR expires_at > $3)
		GROUP BY type
		ORDER BY type
	`, userID, since, now)
	if err != nil {
		return nil, fmt.Errorf("query notification stats: %w", err)
	}
	defer rows.Close()

	var counts []TypeCount
	for rows.Next() {
		var tc TypeCount
		var t string
		if err := rows.Scan(&t, &tc.Total, &tc.Unread, &tc.Recent); err != nil {
			return nil, fmt.Errorf("scan notification stats: %w", err)
		}
		tc.Type = NotificationType(t)
		counts = append(counts, tc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return counts, nil
}

func scanNotification(row pgx.Row) (*Notification, error) {
	var notif Notification
	var notifType, priority string
	var relatedEntity, status, metadata []byte
	var channels []string
	var actorName, actorAvatar *string

	err := row.Scan(
		&notif.ID,
		&notif.RecipientID,
		&notif.ActorID,
		&notifType,
		&notif.Title,
		&notif.Message,
		&notif.TitleEn,
		&notif.MessageEn,
		&priority,
		&notif.RelatedModel,
		&notif.RelatedID,
		&relatedEntity,
		&notif.GroupKey,
		&notif.IsRead,
		&notif.ReadAt,
		&channels,
		&status,
		&notif.Icon,
		&notif.Color,
		&notif.ActionURL,
		&notif.ActionLabel,
		&metadata,
		&notif.ExpiresAt,
		&notif.CreatedAt,
		&notif.UpdatedAt,
		&actorName,
		&actorAvatar,
	)
	if err != nil {
		return nil, err
	}

	notif.Type = NotificationType(notifType)
	notif.Priority = Priority(priority)
	notif.Channels = make([]Channel, len(channels))
	for i, ch := range channels {
		notif.Channels[i] = Channel(ch)
	}
	if len(relatedEntity) > 0 {
		notif.RelatedEntity = json.RawMessage(relatedEntity)
	}
	if len(metadata) > 0 {
		notif.Metadata = json.RawMessage(metadata)
	}

	notif.DeliveryStatus = map[Channel]ChannelStatus{}
	if len(status) > 0 {
		if err := json.Unmarshal(status, &notif.DeliveryStatus); err != nil {
			return nil, fmt.Errorf("decode delivery status: %w", err)
		}
	}

	if notif.ActorID != nil && actorName != nil {
		notif.Actor = &UserSummary{ID: *notif.ActorID, FullName: *actorName}
		if actorAvatar != nil {
			notif.Actor.AvatarURL = *actorAvatar
		}
	}

	return &notif, nil
}

func channelStrings(channels []Channel) []string {
	out := make([]string, len(channels))
	for i, ch := range channels {
		out[i] = string(ch)
	}
	return out
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
