package notify

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/lalithlochan/beacon/internal/apperr"
	"github.com/lalithlochan/beacon/internal/db"
	"github.com/lalithlochan/beacon/internal/metrics"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100

	// groupFetchFactor is how many rows per requested group are scanned
	groupFetchFactor = 5
)

type ListFilter struct {
	Type   *db.NotificationType
	IsRead *bool
	Limit  int
	Skip   int
}

type Page struct {
	Items []*db.Notification `json:"items"`
	Total int                `json:"total"`
	Limit int                `json:"limit"`
	Skip  int                `json:"skip"`
}

// Group clusters notifications sharing a group key
type Group struct {
	Key         string           `json:"key"`
	Count       int              `json:"count"`
	UnreadCount int              `json:"unreadCount"`
	FirstAt     time.Time        `json:"firstAt"`
	LastAt      time.Time        `json:"lastAt"`
	Latest      *db.Notification `json:"latest"`
}

type TypeStats struct {
	Total  int `json:"total"`
	Unread int `json:"unread"`
}

type Stats struct {
	Total   int                               `json:"total"`
	Unread  int                               `json:"unread"`
	Last24h int                               `json:"last24h"`
	ByType  map[db.NotificationType]TypeStats `json:"byType"`
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// GetUserNotifications returns one page of live notifications, newest first
func (s *Service) GetUserNotifications(ctx context.Context, userID uuid.UUID, f ListFilter) (*Page, error) {
	if f.Type != nil && !f.Type.Valid() {
		return nil, apperr.Validation("validation failed", map[string]string{"type": "unknown notification type"})
	}
	if f.Skip < 0 {
		return nil, apperr.Validation("validation failed", map[string]string{"skip": "must be at least 0"})
	}
	f.Limit = normalizeLimit(f.Limit)

	items, total, err := s.repo.ListNotifications(ctx, userID, db.NotificationFilter{
		Type:   f.Type,
		IsRead: f.IsRead,
		Limit:  f.Limit,
		Offset: f.Skip,
	}, s.now())
	if err != nil {
		return nil, storageError(err, "notifications")
	}

	return &Page{Items: items, Total: total, Limit: f.Limit, Skip: f.Skip}, nil
}

// GetGroupedNotifications clusters the most recent notifications by group
// key, falling back to each notification's own id. Groups keep the order in
// which their newest member was fetched.
func (s *Service) GetGroupedNotifications(ctx context.Context, userID uuid.UUID, limit int) ([]*Group, error) {
	limit = normalizeLimit(limit)

	items, _, err := s.repo.ListNotifications(ctx, userID, db.NotificationFilter{
		Limit: limit * groupFetchFactor,
	}, s.now())
	if err != nil {
		return nil, storageError(err, "notifications")
	}

	return groupNotifications(items, limit), nil
}

func groupNotifications(items []*db.Notification, limit int) []*Group {
	index := make(map[string]*Group)
	groups := make([]*Group, 0)

	for _, n := range items {
		key := n.GroupKey
		if key == "" {
			key = n.ID.String()
		}

		g, ok := index[key]
		if !ok {
			g = &Group{Key: key, FirstAt: n.CreatedAt, LastAt: n.CreatedAt, Latest: n}
			index[key] = g
			groups = append(groups, g)
		}

		g.Count++
		if !n.IsRead {
			g.UnreadCount++
		}
		if n.CreatedAt.Before(g.FirstAt) {
			g.FirstAt = n.CreatedAt
		}
		if n.CreatedAt.After(g.LastAt) {
			g.LastAt = n.CreatedAt
			g.Latest = n
		}
	}

	if len(groups) > limit {
		groups = groups[:limit]
	}
	return groups
}

func (s *Service) GetUnreadCount(ctx context.Context, userID uuid.UUID) (int, error) {
	count, err := s.repo.CountUnread(ctx, userID, s.now())
	if err != nil {
		return 0, storageError(err, "notifications")
	}
	return count, nil
}

// GetUserStats aggregates the user's live notifications
func (s *Service) GetUserStats(ctx context.Context, userID uuid.UUID) (*Stats, error) {
	now := s.now()
	counts, err := s.repo.CountByType(ctx, userID, now.Add(-24*time.Hour), now)
	if err != nil {
		return nil, storageError(err, "notifications")
	}

	stats := &Stats{ByType: make(map[db.NotificationType]TypeStats, len(counts))}
	for _, c := range counts {
		stats.Total += c.Total
		stats.Unread += c.Unread
		stats.Last24h += c.Recent
		stats.ByType[c.Type] = TypeStats{Total: c.Total, Unread: c.Unread}
	}
	return stats, nil
}

// MarkAsRead is idempotent; read_at keeps its first value
func (s *Service) MarkAsRead(ctx context.Context, userID, id uuid.UUID) (*db.Notification, error) {
	n, err := s.repo.MarkNotificationRead(ctx, userID, id)
	if err != nil {
		return nil, storageError(err, "notification")
	}
	return n, nil
}

func (s *Service) MarkAllAsRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	n, err := s.repo.MarkAllRead(ctx, userID, s.now())
	if err != nil {
		return 0, storageError(err, "notifications")
	}
	return n, nil
}

func (s *Service) DeleteNotification(ctx context.Context, userID, id uuid.UUID) error {
	if err := s.repo.DeleteNotification(ctx, userID, id); err != nil {
		return storageError(err, "notification")
	}
	return nil
}

func (s *Service) DeleteAllRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	n, err := s.repo.DeleteReadNotifications(ctx, userID, s.now())
	if err != nil {
		return 0, storageError(err, "notifications")
	}
	return n, nil
}

// CleanupExpired deletes notifications whose expiry has passed. It
// satisfies worker.Cleaner.
func (s *Service) CleanupExpired(ctx context.Context) (int64, error) {
	n, err := s.repo.DeleteExpired(ctx, s.now())
	if err != nil {
		return 0, storageError(err, "notifications")
	}
	metrics.RecordExpiredDeleted(n)
	return n, nil
}
