package api

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lalithlochan/beacon/internal/apperr"
	"github.com/lalithlochan/beacon/internal/db"
	"github.com/lalithlochan/beacon/internal/notify"
	"github.com/lalithlochan/beacon/internal/preference"
)

// fakeNotifications records the arguments of each call
type fakeNotifications struct {
	mu sync.Mutex

	lastFilter    notify.ListFilter
	lastUser      uuid.UUID
	lastCreate    notify.CreateOptions
	lastToken     notify.RegisterTokenInput
	broadcasts     int
	broadcastErrs  []error
	broadcastDelay time.Duration
	broadcastGate  chan struct{}

	notFound bool
	err      error
}

func (f *fakeNotifications) fail() error {
	if f.notFound {
		return apperr.NotFound("notification")
	}
	return f.err
}

func (f *fakeNotifications) Create(ctx context.Context, opts notify.CreateOptions) (*db.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastCreate = opts
	if err := f.fail(); err != nil {
		return nil, err
	}
	return &db.Notification{ID: uuid.New(), RecipientID: opts.RecipientID, Type: opts.Type, Title: opts.Title}, nil
}

func (f *fakeNotifications) Broadcast(ctx context.Context, opts notify.BroadcastOptions) (*notify.BroadcastResult, error) {
	f.mu.Lock()
	f.broadcasts++
	delay, gate := f.broadcastDelay, f.broadcastGate
	var err error
	if len(f.broadcastErrs) > 0 {
		err = f.broadcastErrs[0]
		f.broadcastErrs = f.broadcastErrs[1:]
	}
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	time.Sleep(delay)

	if err != nil {
		return nil, err
	}
	return &notify.BroadcastResult{GroupKey: "broadcast_" + uuid.NewString(), Recipients: 3, Created: 3}, nil
}

func (f *fakeNotifications) broadcastCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.broadcasts
}

func (f *fakeNotifications) GetUserNotifications(ctx context.Context, userID uuid.UUID, filter notify.ListFilter) (*notify.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastUser = userID
	f.lastFilter = filter
	if err := f.fail(); err != nil {
		return nil, err
	}
	return &notify.Page{Items: []*db.Notification{}, Total: 0, Limit: filter.Limit, Skip: filter.Skip}, nil
}

func (f *fakeNotifications) GetGroupedNotifications(ctx context.Context, userID uuid.UUID, limit int) ([]*notify.Group, error) {
	return []*notify.Group{{Key: "team_1", Count: 2}}, f.fail()
}

func (f *fakeNotifications) GetUnreadCount(ctx context.Context, userID uuid.UUID) (int, error) {
	return 7, f.fail()
}

func (f *fakeNotifications) GetUserStats(ctx context.Context, userID uuid.UUID) (*notify.Stats, error) {
	return &notify.Stats{Total: 1}, f.fail()
}

func (f *fakeNotifications) MarkAsRead(ctx context.Context, userID, id uuid.UUID) (*db.Notification, error) {
	if err := f.fail(); err != nil {
		return nil, err
	}
	now := time.Now()
	return &db.Notification{ID: id, RecipientID: userID, IsRead: true, ReadAt: &now}, nil
}

func (f *fakeNotifications) MarkAllAsRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	return 4, f.fail()
}

func (f *fakeNotifications) DeleteNotification(ctx context.Context, userID, id uuid.UUID) error {
	return f.fail()
}

func (f *fakeNotifications) DeleteAllRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	return 2, f.fail()
}

func (f *fakeNotifications) CleanupExpired(ctx context.Context) (int64, error) {
	return 5, f.fail()
}

func (f *fakeNotifications) RegisterPushToken(ctx context.Context, userID uuid.UUID, in notify.RegisterTokenInput) (*db.PushToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastToken = in
	if err := f.fail(); err != nil {
		return nil, err
	}
	return &db.PushToken{ID: uuid.New(), UserID: userID, Token: in.Token, Platform: in.Platform, IsActive: true}, nil
}

func (f *fakeNotifications) RemovePushToken(ctx context.Context, userID uuid.UUID, token string) error {
	return f.fail()
}

// fakePreferences serves defaults and records the last toggle
type fakePreferences struct {
	toggledChannel db.Channel
	toggledTo      bool
	quietTimezone  string
}

func (f *fakePreferences) GetOrCreate(ctx context.Context, userID uuid.UUID) (*db.Preferences, error) {
	return preference.Defaults(userID, "UTC"), nil
}

func (f *fakePreferences) Update(ctx context.Context, userID uuid.UUID, u preference.Update) (*db.Preferences, error) {
	if err := u.Validate(); err != nil {
		return nil, err
	}
	return preference.Defaults(userID, "UTC"), nil
}

func (f *fakePreferences) ToggleChannel(ctx context.Context, userID uuid.UUID, channel db.Channel, enabled bool) (*db.Preferences, error) {
	f.toggledChannel = channel
	f.toggledTo = enabled
	return preference.Defaults(userID, "UTC"), nil
}

func (f *fakePreferences) MuteType(ctx context.Context, userID uuid.UUID, t db.NotificationType) (*db.Preferences, error) {
	p := preference.Defaults(userID, "UTC")
	p.MutedTypes = []db.NotificationType{t}
	return p, nil
}

func (f *fakePreferences) UnmuteType(ctx context.Context, userID uuid.UUID, t db.NotificationType) (*db.Preferences, error) {
	return preference.Defaults(userID, "UTC"), nil
}

func (f *fakePreferences) SetGlobalMute(ctx context.Context, userID uuid.UUID, mute bool, until *time.Time) (*db.Preferences, error) {
	p := preference.Defaults(userID, "UTC")
	p.GlobalMute = mute
	p.MuteUntil = until
	return p, nil
}

func (f *fakePreferences) SetQuietHours(ctx context.Context, userID uuid.UUID, enabled bool, start, end, timezone string) (*db.Preferences, error) {
	f.quietTimezone = timezone
	return preference.Defaults(userID, "UTC"), nil
}

func (f *fakePreferences) SetDigest(ctx context.Context, userID uuid.UUID, digest db.DigestSettings) (*db.Preferences, error) {
	p := preference.Defaults(userID, "UTC")
	p.EmailDigest = digest
	return p, nil
}
