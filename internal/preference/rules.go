package preference

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/google/uuid"

	"github.com/lalithlochan/beacon/internal/db"
)

// smsDefaultTypes are the only types sms carries out of the box
var smsDefaultTypes = []db.NotificationType{
	db.TypeSystemAnnouncement,
	db.TypeTeamInvitation,
	db.TypeDirectMessage,
}

// Defaults returns the preferences a user has before changing anything
func Defaults(userID uuid.UUID, timezone string) *db.Preferences {
	if timezone == "" {
		timezone = "UTC"
	}

	sms := make([]db.NotificationType, len(smsDefaultTypes))
	copy(sms, smsDefaultTypes)

	return &db.Preferences{
		UserID: userID,
		Channels: map[db.Channel]db.ChannelPreference{
			db.ChannelInApp: {Enabled: true, Types: db.AllNotificationTypes()},
			db.ChannelEmail: {Enabled: true, Types: db.AllNotificationTypes()},
			db.ChannelPush:  {Enabled: true, Types: db.AllNotificationTypes()},
			db.ChannelSMS:   {Enabled: false, Types: sms},
		},
		MutedTypes: []db.NotificationType{},
		QuietHours: db.QuietHours{
			Enabled:  false,
			Start:    "22:00",
			End:      "08:00",
			Timezone: timezone,
		},
		EmailDigest: db.DigestSettings{
			Enabled:   false,
			Frequency: db.DigestDaily,
			Time:      "09:00",
			DayOfWeek: 1,
		},
		GroupSimilar: true,
	}
}

// GlobalMuteActive reports whether the global mute is in force at now. A mute
// without an expiry lasts until it is switched off.
func GlobalMuteActive(p *db.Preferences, now time.Time) bool {
	return p.GlobalMute && (p.MuteUntil == nil || p.MuteUntil.After(now))
}

// ChannelAllowed evaluates one (channel, type) pair against a preferences snapshot
func ChannelAllowed(p *db.Preferences, channel db.Channel, t db.NotificationType, now time.Time) bool {
	cp, ok := p.Channels[channel]
	if !ok || !cp.Allows(t) {
		return false
	}
	if p.IsTypeMuted(t) {
		return false
	}
	return !GlobalMuteActive(p, now)
}

// InQuietHours compares the wall clock in the user's timezone with the window.
// A window whose start is after its end wraps midnight; equal bounds are empty.
func InQuietHours(p *db.Preferences, now time.Time) bool {
	qh := p.QuietHours
	if !qh.Enabled {
		return false
	}

	start, err := ParseClock(qh.Start)
	if err != nil {
		return false
	}
	end, err := ParseClock(qh.End)
	if err != nil {
		return false
	}
	if start == end {
		return false
	}

	loc := time.UTC
	if qh.Timezone != "" {
		if l, err := time.LoadLocation(qh.Timezone); err == nil {
			loc = l
		}
	}

	local := now.In(loc)
	minutes := local.Hour()*60 + local.Minute()

	if start < end {
		return minutes >= start && minutes < end
	}
	return minutes >= start || minutes < end
}

// ParseClock converts "HH:MM" to minutes past midnight
func ParseClock(s string) (int, error) {
	hh, mm, ok := strings.Cut(s, ":")
	if !ok || len(hh) != 2 || len(mm) != 2 {
		return 0, fmt.Errorf("invalid time %q: want HH:MM", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h*60 + m, nil
}
