package notify

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lalithlochan/beacon/internal/apperr"
	"github.com/lalithlochan/beacon/internal/db"
)

func broadcastTemplate() CreateOptions {
	return CreateOptions{
		Type:    db.TypeSystemAnnouncement,
		Title:   "Mantenimiento",
		Message: "El sábado habrá mantenimiento",
	}
}

func TestBroadcast_ByRole(t *testing.T) {
	f := newFixture(t, testNow)
	admin1 := f.repo.addUser(&db.User{FullName: "A1", Role: "admin", IsActive: true})
	admin2 := f.repo.addUser(&db.User{FullName: "A2", Role: "admin", IsActive: true})
	f.repo.addUser(&db.User{FullName: "A3", Role: "admin", IsActive: false})

	res, err := f.svc.Broadcast(context.Background(), BroadcastOptions{
		Roles:        []string{"admin"},
		Notification: broadcastTemplate(),
	})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Recipients)
	assert.Equal(t, 2, res.Created)
	assert.Zero(t, res.Failed)
	assert.True(t, strings.HasPrefix(res.GroupKey, "broadcast_"))

	for _, admin := range []*db.User{admin1, admin2} {
		page, err := f.svc.GetUserNotifications(context.Background(), admin.ID, ListFilter{})
		require.NoError(t, err)
		require.Len(t, page.Items, 1)
		assert.Equal(t, res.GroupKey, page.Items[0].GroupKey)
	}

	page, err := f.svc.GetUserNotifications(context.Background(), f.user.ID, ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, page.Items)
}

func TestBroadcast_ExplicitIDsAndExclusions(t *testing.T) {
	f := newFixture(t, testNow)
	other := f.repo.addUser(&db.User{FullName: "B", IsActive: true})
	skipped := f.repo.addUser(&db.User{FullName: "C", IsActive: true})

	tmpl := broadcastTemplate()
	tmpl.GroupKey = "release_2_0"
	res, err := f.svc.Broadcast(context.Background(), BroadcastOptions{
		ExcludeUserIDs: []uuid.UUID{skipped.ID},
		Notification:   tmpl,
	})
	require.NoError(t, err)

	assert.Equal(t, "release_2_0", res.GroupKey)
	assert.Equal(t, 2, res.Created)

	for _, u := range []*db.User{f.user, other} {
		count, err := f.svc.GetUnreadCount(context.Background(), u.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	}
	count, err := f.svc.GetUnreadCount(context.Background(), skipped.ID)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestBroadcast_CountsFailures(t *testing.T) {
	f := newFixture(t, testNow)
	f.repo.createErr = errProviderDown

	res, err := f.svc.Broadcast(context.Background(), BroadcastOptions{Notification: broadcastTemplate()})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Recipients)
	assert.Equal(t, 1, res.Failed)
	assert.Zero(t, res.Created)
}

func TestBroadcast_ValidatesTemplate(t *testing.T) {
	f := newFixture(t, testNow)
	tmpl := broadcastTemplate()
	tmpl.Title = ""

	_, err := f.svc.Broadcast(context.Background(), BroadcastOptions{Notification: tmpl})
	requireKind(t, err, apperr.KindValidation)
}
