package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lalithlochan/beacon/internal/apperr"
	"github.com/lalithlochan/beacon/internal/db"
	"github.com/lalithlochan/beacon/internal/preference"
)

var testNow = time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)

type fixture struct {
	svc    *Service
	repo   *memoryRepo
	prefs  *staticPrefs
	sender *recordingSender
	user   *db.User
}

func newFixture(t *testing.T, now time.Time) *fixture {
	t.Helper()
	repo := newMemoryRepo(now.Add(-time.Hour))
	prefs := newStaticPrefs()
	sender := newRecordingSender()
	user := repo.addUser(&db.User{
		Email:    "ana@example.com",
		Phone:    "+15550100",
		FullName: "Ana",
		Role:     "member",
		IsActive: true,
	})

	svc := New(repo, prefs, sender, Config{DeliveryTimeout: time.Second}, zap.NewNop(),
		WithClock(func() time.Time { return now }))

	return &fixture{svc: svc, repo: repo, prefs: prefs, sender: sender, user: user}
}

func (f *fixture) options(channels ...db.Channel) CreateOptions {
	return CreateOptions{
		RecipientID: f.user.ID,
		Type:        db.TypeDirectMessage,
		Title:       "Nueva conversación",
		Message:     "Tienes un mensaje nuevo",
		Channels:    channels,
	}
}

func requireKind(t *testing.T, err error, kind apperr.Kind) *apperr.Error {
	t.Helper()
	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.True(t, ok, "expected application error, got %v", err)
	require.Equal(t, kind, appErr.Kind)
	return appErr
}

func TestCreate_DefaultsToInApp(t *testing.T) {
	f := newFixture(t, testNow)

	n, err := f.svc.Create(context.Background(), f.options())
	require.NoError(t, err)

	assert.Equal(t, []db.Channel{db.ChannelInApp}, n.Channels)
	assert.Equal(t, db.PriorityNormal, n.Priority)
	assert.False(t, n.IsRead)
	require.Contains(t, n.DeliveryStatus, db.ChannelInApp)
	assert.True(t, n.DeliveryStatus[db.ChannelInApp].Delivered)
	assert.Equal(t, []db.Channel{db.ChannelInApp}, f.sender.channels())
}

func TestCreate_DedupesRequestedChannels(t *testing.T) {
	f := newFixture(t, testNow)

	n, err := f.svc.Create(context.Background(), f.options(db.ChannelEmail, db.ChannelInApp, db.ChannelEmail))
	require.NoError(t, err)

	assert.Equal(t, []db.Channel{db.ChannelEmail, db.ChannelInApp}, n.Channels)
}

func TestCreate_DropsChannelDisabledForType(t *testing.T) {
	f := newFixture(t, testNow)
	p := preference.Defaults(f.user.ID, "UTC")
	p.Channels[db.ChannelEmail] = db.ChannelPreference{Enabled: true, Types: []db.NotificationType{db.TypeReminder}}
	f.prefs.set(p)

	n, err := f.svc.Create(context.Background(), f.options(db.ChannelInApp, db.ChannelEmail))
	require.NoError(t, err)

	assert.Equal(t, []db.Channel{db.ChannelInApp}, n.Channels)
	assert.NotContains(t, n.DeliveryStatus, db.ChannelEmail)
	assert.NotContains(t, f.sender.channels(), db.ChannelEmail)
}

func TestCreate_QuietHoursHoldBackEmailAndPush(t *testing.T) {
	late := time.Date(2026, 3, 10, 23, 30, 0, 0, time.UTC)
	f := newFixture(t, late)
	p := preference.Defaults(f.user.ID, "UTC")
	p.QuietHours.Enabled = true
	p.Channels[db.ChannelSMS] = db.ChannelPreference{Enabled: true, Types: []db.NotificationType{db.TypeDirectMessage}}
	f.prefs.set(p)

	n, err := f.svc.Create(context.Background(),
		f.options(db.ChannelInApp, db.ChannelEmail, db.ChannelPush, db.ChannelSMS))
	require.NoError(t, err)

	assert.Equal(t, []db.Channel{db.ChannelInApp, db.ChannelSMS}, n.Channels)
	assert.ElementsMatch(t, []db.Channel{db.ChannelInApp, db.ChannelSMS}, f.sender.channels())
}

func TestCreate_GlobalMuteKeepsOnlyInApp(t *testing.T) {
	f := newFixture(t, testNow)
	p := preference.Defaults(f.user.ID, "UTC")
	until := testNow.Add(time.Hour)
	p.GlobalMute = true
	p.MuteUntil = &until
	f.prefs.set(p)

	n, err := f.svc.Create(context.Background(), f.options(db.ChannelEmail, db.ChannelPush, db.ChannelInApp))
	require.NoError(t, err)

	assert.Equal(t, []db.Channel{db.ChannelInApp}, n.Channels)
}

func TestCreate_ExpiredGlobalMuteIsIgnored(t *testing.T) {
	f := newFixture(t, testNow)
	p := preference.Defaults(f.user.ID, "UTC")
	until := testNow.Add(-time.Minute)
	p.GlobalMute = true
	p.MuteUntil = &until
	f.prefs.set(p)

	n, err := f.svc.Create(context.Background(), f.options(db.ChannelEmail))
	require.NoError(t, err)

	assert.Equal(t, []db.Channel{db.ChannelEmail}, n.Channels)
}

func TestCreate_MutedTypeKeepsInApp(t *testing.T) {
	f := newFixture(t, testNow)
	p := preference.Defaults(f.user.ID, "UTC")
	p.MutedTypes = []db.NotificationType{db.TypeDirectMessage}
	f.prefs.set(p)

	n, err := f.svc.Create(context.Background(), f.options(db.ChannelInApp, db.ChannelPush))
	require.NoError(t, err)

	assert.Equal(t, []db.Channel{db.ChannelInApp}, n.Channels)
}

func TestCreate_RecordsDeliveryOutcomes(t *testing.T) {
	f := newFixture(t, testNow)
	f.sender.fail[db.ChannelEmail] = errProviderDown

	n, err := f.svc.Create(context.Background(), f.options(db.ChannelInApp, db.ChannelEmail, db.ChannelPush))
	require.NoError(t, err)

	email := n.DeliveryStatus[db.ChannelEmail]
	assert.False(t, email.Delivered)
	assert.Contains(t, email.FailureReason, "provider down")

	push := n.DeliveryStatus[db.ChannelPush]
	assert.True(t, push.Delivered)
	require.NotNil(t, push.DeliveredAt)
	assert.Equal(t, testNow, *push.DeliveredAt)

	stored := f.repo.stored(n.ID)
	require.NotNil(t, stored)
	assert.False(t, stored.DeliveryStatus[db.ChannelEmail].Delivered)
	assert.True(t, stored.DeliveryStatus[db.ChannelPush].Delivered)
}

func TestCreate_InAppFailureDoesNotChangeStatus(t *testing.T) {
	f := newFixture(t, testNow)
	f.sender.fail[db.ChannelInApp] = errProviderDown

	n, err := f.svc.Create(context.Background(), f.options())
	require.NoError(t, err)

	assert.True(t, n.DeliveryStatus[db.ChannelInApp].Delivered)
}

func TestCreate_PassesRecipientAndTokens(t *testing.T) {
	f := newFixture(t, testNow)
	_, err := f.svc.RegisterPushToken(context.Background(), f.user.ID, RegisterTokenInput{
		Token:    "ExponentPushToken[abc]",
		Platform: db.PlatformIOS,
	})
	require.NoError(t, err)

	_, err = f.svc.Create(context.Background(), f.options(db.ChannelEmail, db.ChannelPush))
	require.NoError(t, err)

	f.sender.mu.Lock()
	defer f.sender.mu.Unlock()
	require.Len(t, f.sender.deliveries, 2)
	for _, d := range f.sender.deliveries {
		require.NotNil(t, d.Recipient)
		assert.Equal(t, "ana@example.com", d.Recipient.Email)
		require.Len(t, d.Tokens, 1)
		assert.Equal(t, "ExponentPushToken[abc]", d.Tokens[0].Token)
	}
}

func TestCreate_DeliversAfterCallerCancels(t *testing.T) {
	f := newFixture(t, testNow)
	ctx, cancel := context.WithCancel(context.Background())

	opts := f.options(db.ChannelEmail)
	cancelled := &cancellingPrefs{inner: f.prefs, cancel: cancel}
	f.svc.prefs = cancelled

	n, err := f.svc.Create(ctx, opts)
	require.NoError(t, err)

	assert.True(t, n.DeliveryStatus[db.ChannelEmail].Delivered)
	f.sender.mu.Lock()
	defer f.sender.mu.Unlock()
	for _, e := range f.sender.ctxErrs {
		assert.NoError(t, e)
	}
}

// cancellingPrefs cancels the request context once preferences are read
type cancellingPrefs struct {
	inner  PreferenceSource
	cancel context.CancelFunc
}

func (c *cancellingPrefs) GetOrCreate(ctx context.Context, userID uuid.UUID) (*db.Preferences, error) {
	p, err := c.inner.GetOrCreate(ctx, userID)
	c.cancel()
	return p, err
}

func TestCreate_AttachesActor(t *testing.T) {
	f := newFixture(t, testNow)
	actor := f.repo.addUser(&db.User{FullName: "Luis", AvatarURL: "https://cdn.example.com/l.png", IsActive: true})

	opts := f.options()
	opts.ActorID = &actor.ID
	n, err := f.svc.Create(context.Background(), opts)
	require.NoError(t, err)

	require.NotNil(t, n.Actor)
	assert.Equal(t, "Luis", n.Actor.FullName)
}

func TestCreate_Validation(t *testing.T) {
	past := testNow.Add(-time.Minute)

	tests := []struct {
		name   string
		mutate func(o *CreateOptions)
		field  string
	}{
		{"missing recipient", func(o *CreateOptions) { o.RecipientID = uuid.Nil }, "recipientId"},
		{"unknown type", func(o *CreateOptions) { o.Type = "party_started" }, "type"},
		{"missing title", func(o *CreateOptions) { o.Title = "" }, "title"},
		{"bad priority", func(o *CreateOptions) { o.Priority = "critical" }, "priority"},
		{"unknown channel", func(o *CreateOptions) { o.Channels = []db.Channel{"fax"} }, "channels"},
		{"expired", func(o *CreateOptions) { o.ExpiresAt = &past }, "expiresAt"},
		{"bad metadata", func(o *CreateOptions) { o.Metadata = json.RawMessage(`{nope`) }, "metadata"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, testNow)
			opts := f.options()
			tt.mutate(&opts)

			_, err := f.svc.Create(context.Background(), opts)
			appErr := requireKind(t, err, apperr.KindValidation)
			assert.Contains(t, appErr.Fields, tt.field)
			assert.Empty(t, f.sender.channels())
		})
	}
}

func TestCreate_StorageFailureIsInternal(t *testing.T) {
	f := newFixture(t, testNow)
	f.repo.createErr = errProviderDown

	_, err := f.svc.Create(context.Background(), f.options())
	requireKind(t, err, apperr.KindInternal)
	assert.Empty(t, f.sender.channels())
}

func TestRegisterAndRemovePushToken(t *testing.T) {
	f := newFixture(t, testNow)
	ctx := context.Background()

	tok, err := f.svc.RegisterPushToken(ctx, f.user.ID, RegisterTokenInput{Token: "tok-1", Platform: db.PlatformAndroid})
	require.NoError(t, err)
	assert.True(t, tok.IsActive)

	tokens, err := f.svc.GetUserTokens(ctx, f.user.ID)
	require.NoError(t, err)
	require.Len(t, tokens, 1)

	require.NoError(t, f.svc.RemovePushToken(ctx, f.user.ID, "tok-1"))

	tokens, err = f.svc.GetUserTokens(ctx, f.user.ID)
	require.NoError(t, err)
	assert.Empty(t, tokens)
}

func TestRegisterPushToken_MovesBetweenUsers(t *testing.T) {
	f := newFixture(t, testNow)
	ctx := context.Background()
	other := f.repo.addUser(&db.User{FullName: "Bo", IsActive: true})

	_, err := f.svc.RegisterPushToken(ctx, f.user.ID, RegisterTokenInput{Token: "shared", Platform: db.PlatformWeb})
	require.NoError(t, err)
	_, err = f.svc.RegisterPushToken(ctx, other.ID, RegisterTokenInput{Token: "shared", Platform: db.PlatformWeb})
	require.NoError(t, err)

	mine, err := f.svc.GetUserTokens(ctx, f.user.ID)
	require.NoError(t, err)
	assert.Empty(t, mine)

	theirs, err := f.svc.GetUserTokens(ctx, other.ID)
	require.NoError(t, err)
	assert.Len(t, theirs, 1)
}

func TestRegisterPushToken_Validation(t *testing.T) {
	f := newFixture(t, testNow)

	_, err := f.svc.RegisterPushToken(context.Background(), f.user.ID, RegisterTokenInput{Token: "t", Platform: "blackberry"})
	requireKind(t, err, apperr.KindValidation)

	_, err = f.svc.RegisterPushToken(context.Background(), f.user.ID, RegisterTokenInput{Platform: db.PlatformIOS})
	requireKind(t, err, apperr.KindValidation)
}

func TestRemovePushToken_UnknownIsNotFound(t *testing.T) {
	f := newFixture(t, testNow)

	err := f.svc.RemovePushToken(context.Background(), f.user.ID, "missing")
	requireKind(t, err, apperr.KindNotFound)
}
