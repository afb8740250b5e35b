package notify

import (
	"context"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lalithlochan/beacon/internal/db"
	"github.com/lalithlochan/beacon/internal/metrics"
)

// BroadcastOptions selects recipients from the user directory. Empty
// filters match every active user.
type BroadcastOptions struct {
	Roles          []string      `json:"roles,omitempty"`
	UserIDs        []uuid.UUID   `json:"userIds,omitempty"`
	ExcludeUserIDs []uuid.UUID   `json:"excludeUserIds,omitempty"`
	Notification   CreateOptions `json:"notification"`
}

type BroadcastResult struct {
	GroupKey   string `json:"groupKey"`
	Recipients int    `json:"recipients"`
	Created    int    `json:"created"`
	Failed     int    `json:"failed"`
}

// Broadcast creates the notification for every matching user under one
// shared group key. Per-recipient failures are counted, not returned.
func (s *Service) Broadcast(ctx context.Context, opts BroadcastOptions) (*BroadcastResult, error) {
	tmpl := opts.Notification
	if err := tmpl.validateContent(s.now()); err != nil {
		return nil, err
	}

	users, err := s.repo.ListUsers(ctx, db.UserFilter{
		Roles:      opts.Roles,
		UserIDs:    opts.UserIDs,
		ExcludeIDs: opts.ExcludeUserIDs,
	})
	if err != nil {
		return nil, storageError(err, "users")
	}

	if tmpl.GroupKey == "" {
		tmpl.GroupKey = "broadcast_" + uuid.NewString()
	}

	// the fan-out outlives a disconnecting admin client
	ctx = context.WithoutCancel(ctx)

	var created, failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(s.config.BroadcastConcurrency)

	for _, u := range users {
		g.Go(func() error {
			one := tmpl
			one.RecipientID = u.ID
			if _, err := s.Create(ctx, one); err != nil {
				failed.Add(1)
				s.logger.Warn("broadcast recipient failed",
					zap.String("group_key", tmpl.GroupKey),
					zap.String("recipient_id", u.ID.String()),
					zap.Error(err),
				)
				return nil
			}
			created.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	result := &BroadcastResult{
		GroupKey:   tmpl.GroupKey,
		Recipients: len(users),
		Created:    int(created.Load()),
		Failed:     int(failed.Load()),
	}
	metrics.RecordBroadcast(result.Created, result.Failed)

	s.logger.Info("broadcast finished",
		zap.String("group_key", result.GroupKey),
		zap.Int("recipients", result.Recipients),
		zap.Int("created", result.Created),
		zap.Int("failed", result.Failed),
	)

	return result, nil
}
