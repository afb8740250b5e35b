package db

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a row does not exist or is not owned by the caller
var ErrNotFound = errors.New("record not found")

// NotificationType is the domain event that produced a notification
type NotificationType string

const (
	TypeNeedCreated         NotificationType = "need_created"
	TypeNeedUpdated         NotificationType = "need_updated"
	TypeNeedFulfilled       NotificationType = "need_fulfilled"
	TypeNewsPublished       NotificationType = "news_published"
	TypeGalleryPublished    NotificationType = "gallery_published"
	TypeVideoPublished      NotificationType = "video_published"
	TypeStoryReaction       NotificationType = "story_reaction"
	TypeStoryComment        NotificationType = "story_comment"
	TypeStoryMention        NotificationType = "story_mention"
	TypeTeamInvitation      NotificationType = "team_invitation"
	TypeTeamJoined          NotificationType = "team_joined"
	TypeTeamLeft            NotificationType = "team_left"
	TypeTeamRoleChanged     NotificationType = "team_role_changed"
	TypeDirectMessage       NotificationType = "direct_message"
	TypeAchievementUnlocked NotificationType = "achievement_unlocked"
	TypeLevelUp             NotificationType = "level_up"
	TypePointsAwarded       NotificationType = "points_awarded"
	TypeBadgeEarned         NotificationType = "badge_earned"
	TypeSystemAnnouncement  NotificationType = "system_announcement"
	TypeReminder            NotificationType = "reminder"
)

var notificationTypes = []NotificationType{
	TypeNeedCreated, TypeNeedUpdated, TypeNeedFulfilled,
	TypeNewsPublished, TypeGalleryPublished, TypeVideoPublished,
	TypeStoryReaction, TypeStoryComment, TypeStoryMention,
	TypeTeamInvitation, TypeTeamJoined, TypeTeamLeft, TypeTeamRoleChanged,
	TypeDirectMessage,
	TypeAchievementUnlocked, TypeLevelUp, TypePointsAwarded, TypeBadgeEarned,
	TypeSystemAnnouncement, TypeReminder,
}

// AllNotificationTypes returns a copy of the closed type set in declaration order
func AllNotificationTypes() []NotificationType {
	out := make([]NotificationType, len(notificationTypes))
	copy(out, notificationTypes)
	return out
}

func (t NotificationType) Valid() bool {
	for _, known := range notificationTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Channel is a delivery medium
type Channel string

const (
	ChannelInApp Channel = "in_app"
	ChannelEmail Channel = "email"
	ChannelPush  Channel = "push"
	ChannelSMS   Channel = "sms"
)

// AllChannels lists every delivery channel
var AllChannels = []Channel{ChannelInApp, ChannelEmail, ChannelPush, ChannelSMS}

func (c Channel) Valid() bool {
	switch c {
	case ChannelInApp, ChannelEmail, ChannelPush, ChannelSMS:
		return true
	}
	return false
}

// Priority constants
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// ChannelStatus is the delivery outcome of one channel
type ChannelStatus struct {
	Delivered     bool       `json:"delivered"`
	DeliveredAt   *time.Time `json:"deliveredAt,omitempty"`
	FailureReason string     `json:"failureReason,omitempty"`
}

// UserSummary is the actor view attached to read results
type UserSummary struct {
	ID        uuid.UUID `json:"id"`
	FullName  string    `json:"fullName"`
	AvatarURL string    `json:"avatarUrl,omitempty"`
}

// Notification represents a notification in the database
type Notification struct {
	ID          uuid.UUID        `json:"id"`
	RecipientID uuid.UUID        `json:"recipientId"`
	ActorID     *uuid.UUID       `json:"actorId,omitempty"`
	Actor       *UserSummary     `json:"actor,omitempty"`
	Type        NotificationType `json:"type"`
	Title       string           `json:"title"`
	Message     string           `json:"message"`
	TitleEn     string           `json:"titleEn,omitempty"`
	MessageEn   string           `json:"messageEn,omitempty"`
	Priority    Priority         `json:"priority"`

	RelatedModel  string          `json:"relatedModel,omitempty"`
	RelatedID     string          `json:"relatedId,omitempty"`
	RelatedEntity json.RawMessage `json:"relatedEntity,omitempty"`
	GroupKey      string          `json:"groupKey,omitempty"`

	IsRead bool       `json:"isRead"`
	ReadAt *time.Time `json:"readAt,omitempty"`

	Channels       []Channel                 `json:"channels"`
	DeliveryStatus map[Channel]ChannelStatus `json:"deliveryStatus"`

	Icon        string `json:"icon,omitempty"`
	Color       string `json:"color,omitempty"`
	ActionURL   string `json:"actionUrl,omitempty"`
	ActionLabel string `json:"actionLabel,omitempty"`

	Metadata  json.RawMessage `json:"metadata,omitempty"`
	ExpiresAt *time.Time      `json:"expiresAt,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// HasChannel reports whether c is in the notification's channel set
func (n *Notification) HasChannel(c Channel) bool {
	for _, ch := range n.Channels {
		if ch == c {
			return true
		}
	}
	return false
}

// DisplayTitle is the title, falling back to the English variant
func (n *Notification) DisplayTitle() string {
	if n.Title != "" {
		return n.Title
	}
	return n.TitleEn
}

// DisplayMessage is the message, falling back to the English variant
func (n *Notification) DisplayMessage() string {
	if n.Message != "" {
		return n.Message
	}
	return n.MessageEn
}

// ChannelPreference is the per-channel part of a user's preferences
type ChannelPreference struct {
	Enabled bool               `json:"enabled"`
	Types   []NotificationType `json:"types"`
}

// Allows reports whether the channel is enabled and lists t
func (c ChannelPreference) Allows(t NotificationType) bool {
	if !c.Enabled {
		return false
	}
	for _, allowed := range c.Types {
		if allowed == t {
			return true
		}
	}
	return false
}

// QuietHours holds the suppression window. Start and End are "HH:MM".
type QuietHours struct {
	Enabled  bool   `json:"enabled"`
	Start    string `json:"start"`
	End      string `json:"end"`
	Timezone string `json:"timezone"`
}

type DigestFrequency string

const (
	DigestDaily  DigestFrequency = "daily"
	DigestWeekly DigestFrequency = "weekly"
	DigestNever  DigestFrequency = "never"
)

func (f DigestFrequency) Valid() bool {
	return f == DigestDaily || f == DigestWeekly || f == DigestNever
}

type DigestSettings struct {
	Enabled   bool            `json:"enabled"`
	Frequency DigestFrequency `json:"frequency"`
	Time      string          `json:"time"`
	DayOfWeek int             `json:"dayOfWeek"`
}

// Preferences is the one-per-user notification settings row
type Preferences struct {
	UserID       uuid.UUID                     `json:"userId"`
	Channels     map[Channel]ChannelPreference `json:"channels"`
	GlobalMute   bool                          `json:"globalMute"`
	MuteUntil    *time.Time                    `json:"muteUntil,omitempty"`
	MutedTypes   []NotificationType            `json:"mutedTypes"`
	QuietHours   QuietHours                    `json:"quietHours"`
	EmailDigest  DigestSettings                `json:"emailDigest"`
	GroupSimilar bool                          `json:"groupSimilar"`
	MaxPerDay    *int                          `json:"maxPerDay,omitempty"`
	CreatedAt    time.Time                     `json:"createdAt"`
	UpdatedAt    time.Time                     `json:"updatedAt"`
}

// IsTypeMuted reports whether t is in the muted set
func (p *Preferences) IsTypeMuted(t NotificationType) bool {
	for _, muted := range p.MutedTypes {
		if muted == t {
			return true
		}
	}
	return false
}

// Platform of a push device
type Platform string

const (
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
	PlatformWeb     Platform = "web"
)

func (p Platform) Valid() bool {
	return p == PlatformIOS || p == PlatformAndroid || p == PlatformWeb
}

// PushToken is one registered push device
type PushToken struct {
	ID         uuid.UUID `json:"id"`
	UserID     uuid.UUID `json:"userId"`
	Token      string    `json:"token"`
	Platform   Platform  `json:"platform"`
	DeviceID   string    `json:"deviceId,omitempty"`
	IsActive   bool      `json:"isActive"`
	LastUsedAt time.Time `json:"lastUsedAt"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// User is a read-only row of the platform user directory
type User struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone,omitempty"`
	FullName  string    `json:"fullName"`
	AvatarURL string    `json:"avatarUrl,omitempty"`
	Role      string    `json:"role"`
	IsActive  bool      `json:"isActive"`
}

// Summary returns the actor view of the user
func (u *User) Summary() *UserSummary {
	return &UserSummary{ID: u.ID, FullName: u.FullName, AvatarURL: u.AvatarURL}
}
