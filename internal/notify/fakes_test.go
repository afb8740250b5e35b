package notify

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lalithlochan/beacon/internal/db"
	"github.com/lalithlochan/beacon/internal/preference"
	"github.com/lalithlochan/beacon/internal/worker"
)

// memoryRepo mimics the SQL semantics of db.Repository
type memoryRepo struct {
	mu            sync.Mutex
	notifications map[uuid.UUID]*db.Notification
	tokens        map[string]*db.PushToken
	users         map[uuid.UUID]*db.User
	clock         time.Time
	createErr     error
}

func newMemoryRepo(start time.Time) *memoryRepo {
	return &memoryRepo{
		notifications: make(map[uuid.UUID]*db.Notification),
		tokens:        make(map[string]*db.PushToken),
		users:         make(map[uuid.UUID]*db.User),
		clock:         start,
	}
}

func cloneNotification(n *db.Notification) *db.Notification {
	c := *n
	c.Channels = append([]db.Channel(nil), n.Channels...)
	c.DeliveryStatus = make(map[db.Channel]db.ChannelStatus, len(n.DeliveryStatus))
	for k, v := range n.DeliveryStatus {
		c.DeliveryStatus[k] = v
	}
	return &c
}

func (m *memoryRepo) addUser(u *db.User) *db.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	m.users[u.ID] = u
	return u
}

func (m *memoryRepo) stored(id uuid.UUID) *db.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n, ok := m.notifications[id]; ok {
		return cloneNotification(n)
	}
	return nil
}

func (m *memoryRepo) CreateNotification(ctx context.Context, notif *db.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	// strictly increasing timestamps keep ordering deterministic
	m.clock = m.clock.Add(time.Second)
	notif.CreatedAt = m.clock
	notif.UpdatedAt = m.clock
	m.notifications[notif.ID] = cloneNotification(notif)
	return nil
}

func (m *memoryRepo) UpdateDeliveryStatus(ctx context.Context, id uuid.UUID, channel db.Channel, status db.ChannelStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[id]
	if !ok {
		return db.ErrNotFound
	}
	n.DeliveryStatus[channel] = status
	return nil
}

func (m *memoryRepo) MarkNotificationRead(ctx context.Context, userID, id uuid.UUID) (*db.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[id]
	if !ok || n.RecipientID != userID {
		return nil, db.ErrNotFound
	}
	n.IsRead = true
	if n.ReadAt == nil {
		at := m.clock
		n.ReadAt = &at
	}
	return cloneNotification(n), nil
}

func (m *memoryRepo) MarkAllRead(ctx context.Context, userID uuid.UUID, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int64
	for _, n := range m.notifications {
		if n.RecipientID == userID && !n.IsRead && live(n, now) {
			n.IsRead = true
			count++
		}
	}
	return count, nil
}

func (m *memoryRepo) DeleteNotification(ctx context.Context, userID, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[id]
	if !ok || n.RecipientID != userID {
		return db.ErrNotFound
	}
	delete(m.notifications, id)
	return nil
}

func (m *memoryRepo) DeleteReadNotifications(ctx context.Context, userID uuid.UUID, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int64
	for id, n := range m.notifications {
		if n.RecipientID == userID && n.IsRead && live(n, now) {
			delete(m.notifications, id)
			count++
		}
	}
	return count, nil
}

func (m *memoryRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int64
	for id, n := range m.notifications {
		if n.ExpiresAt != nil && n.ExpiresAt.Before(now) {
			delete(m.notifications, id)
			count++
		}
	}
	return count, nil
}

func live(n *db.Notification, now time.Time) bool {
	return n.ExpiresAt == nil || n.ExpiresAt.After(now)
}

func (m *memoryRepo) ListNotifications(ctx context.Context, userID uuid.UUID, f db.NotificationFilter, now time.Time) ([]*db.Notification, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []*db.Notification
	for _, n := range m.notifications {
		if n.RecipientID != userID || !live(n, now) {
			continue
		}
		if f.Type != nil && n.Type != *f.Type {
			continue
		}
		if f.IsRead != nil && n.IsRead != *f.IsRead {
			continue
		}
		matched = append(matched, cloneNotification(n))
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })

	total := len(matched)
	if f.Offset >= len(matched) {
		return []*db.Notification{}, total, nil
	}
	matched = matched[f.Offset:]
	if f.Limit < len(matched) {
		matched = matched[:f.Limit]
	}
	return matched, total, nil
}

func (m *memoryRepo) CountUnread(ctx context.Context, userID uuid.UUID, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, n := range m.notifications {
		if n.RecipientID == userID && !n.IsRead && live(n, now) {
			count++
		}
	}
	return count, nil
}

func (m *memoryRepo) CountByType(ctx context.Context, userID uuid.UUID, since, now time.Time) ([]db.TypeCount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byType := map[db.NotificationType]*db.TypeCount{}
	for _, n := range m.notifications {
		if n.RecipientID != userID || !live(n, now) {
			continue
		}
		tc, ok := byType[n.Type]
		if !ok {
			tc = &db.TypeCount{Type: n.Type}
			byType[n.Type] = tc
		}
		tc.Total++
		if !n.IsRead {
			tc.Unread++
		}
		if !n.CreatedAt.Before(since) {
			tc.Recent++
		}
	}
	out := make([]db.TypeCount, 0, len(byType))
	for _, tc := range byType {
		out = append(out, *tc)
	}
	return out, nil
}

func (m *memoryRepo) UpsertPushToken(ctx context.Context, token *db.PushToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.tokens[token.Token]
	if !ok {
		token.ID = uuid.New()
		token.CreatedAt = m.clock
	} else {
		token.ID = existing.ID
		token.CreatedAt = existing.CreatedAt
	}
	token.IsActive = true
	token.LastUsedAt = m.clock
	token.UpdatedAt = m.clock
	c := *token
	m.tokens[token.Token] = &c
	return nil
}

func (m *memoryRepo) DeactivatePushToken(ctx context.Context, userID uuid.UUID, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[token]
	if !ok || t.UserID != userID {
		return db.ErrNotFound
	}
	t.IsActive = false
	return nil
}

func (m *memoryRepo) ListActivePushTokens(ctx context.Context, userID uuid.UUID) ([]*db.PushToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*db.PushToken
	for _, t := range m.tokens {
		if t.UserID == userID && t.IsActive {
			c := *t
			out = append(out, &c)
		}
	}
	return out, nil
}

func (m *memoryRepo) GetUser(ctx context.Context, id uuid.UUID) (*db.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	c := *u
	return &c, nil
}

func (m *memoryRepo) ListUsers(ctx context.Context, f db.UserFilter) ([]*db.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	contains := func(ids []uuid.UUID, id uuid.UUID) bool {
		for _, x := range ids {
			if x == id {
				return true
			}
		}
		return false
	}
	hasRole := func(role string) bool {
		for _, r := range f.Roles {
			if r == role {
				return true
			}
		}
		return false
	}

	var out []*db.User
	for _, u := range m.users {
		if !u.IsActive {
			continue
		}
		if len(f.Roles) > 0 && !hasRole(u.Role) {
			continue
		}
		if len(f.UserIDs) > 0 && !contains(f.UserIDs, u.ID) {
			continue
		}
		if contains(f.ExcludeIDs, u.ID) {
			continue
		}
		c := *u
		out = append(out, &c)
	}
	return out, nil
}

// staticPrefs serves fixed preferences per user, defaults otherwise
type staticPrefs struct {
	mu    sync.Mutex
	prefs map[uuid.UUID]*db.Preferences
	err   error
}

func newStaticPrefs() *staticPrefs {
	return &staticPrefs{prefs: make(map[uuid.UUID]*db.Preferences)}
}

func (s *staticPrefs) set(p *db.Preferences) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefs[p.UserID] = p
}

func (s *staticPrefs) GetOrCreate(ctx context.Context, userID uuid.UUID) (*db.Preferences, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	if p, ok := s.prefs[userID]; ok {
		return p, nil
	}
	p := preference.Defaults(userID, "UTC")
	s.prefs[userID] = p
	return p, nil
}

// recordingSender captures deliveries and fails channels on demand
type recordingSender struct {
	mu         sync.Mutex
	deliveries []*worker.Delivery
	fail       map[db.Channel]error
	ctxErrs    []error
}

func newRecordingSender() *recordingSender {
	return &recordingSender{fail: make(map[db.Channel]error)}
}

func (r *recordingSender) Send(ctx context.Context, d *worker.Delivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliveries = append(r.deliveries, d)
	r.ctxErrs = append(r.ctxErrs, ctx.Err())
	return r.fail[d.Channel]
}

func (r *recordingSender) SupportsChannel(channel db.Channel) bool { return true }

func (r *recordingSender) channels() []db.Channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]db.Channel, 0, len(r.deliveries))
	for _, d := range r.deliveries {
		out = append(out, d.Channel)
	}
	return out
}

var errProviderDown = errors.New("provider down")
