package preference

import (
	"time"

	"github.com/lalithlochan/beacon/internal/apperr"
	"github.com/lalithlochan/beacon/internal/db"
)

// ChannelUpdate changes one channel entry. A nil Types leaves the list alone.
type ChannelUpdate struct {
	Enabled *bool                 `json:"enabled,omitempty"`
	Types   []db.NotificationType `json:"types,omitempty"`
}

type QuietHoursUpdate struct {
	Enabled  *bool   `json:"enabled,omitempty"`
	Start    *string `json:"start,omitempty"`
	End      *string `json:"end,omitempty"`
	Timezone *string `json:"timezone,omitempty"`
}

type DigestUpdate struct {
	Enabled   *bool               `json:"enabled,omitempty"`
	Frequency *db.DigestFrequency `json:"frequency,omitempty"`
	Time      *string             `json:"time,omitempty"`
	DayOfWeek *int                `json:"dayOfWeek,omitempty"`
}

// Update is a partial preferences document; nil fields are left unchanged
type Update struct {
	Channels     map[db.Channel]ChannelUpdate `json:"channels,omitempty"`
	GlobalMute   *bool                        `json:"globalMute,omitempty"`
	MuteUntil    *time.Time                   `json:"muteUntil,omitempty"`
	MutedTypes   []db.NotificationType        `json:"mutedTypes,omitempty"`
	QuietHours   *QuietHoursUpdate            `json:"quietHours,omitempty"`
	EmailDigest  *DigestUpdate                `json:"emailDigest,omitempty"`
	GroupSimilar *bool                        `json:"groupSimilar,omitempty"`
	MaxPerDay    *int                         `json:"maxPerDay,omitempty"`
}

// Validate checks every present field and reports all problems at once
func (u Update) Validate() error {
	fields := map[string]string{}

	for ch, cu := range u.Channels {
		if !ch.Valid() {
			fields["channels."+string(ch)] = "unknown channel"
			continue
		}
		for _, t := range cu.Types {
			if !t.Valid() {
				fields["channels."+string(ch)+".types"] = "unknown notification type " + string(t)
				break
			}
		}
	}

	for _, t := range u.MutedTypes {
		if !t.Valid() {
			fields["mutedTypes"] = "unknown notification type " + string(t)
			break
		}
	}

	if qh := u.QuietHours; qh != nil {
		if qh.Start != nil {
			validateClock(fields, "quietHours.start", *qh.Start)
		}
		if qh.End != nil {
			validateClock(fields, "quietHours.end", *qh.End)
		}
		if qh.Timezone != nil {
			validateTimezone(fields, "quietHours.timezone", *qh.Timezone)
		}
	}

	if d := u.EmailDigest; d != nil {
		if d.Frequency != nil && !d.Frequency.Valid() {
			fields["emailDigest.frequency"] = "must be daily, weekly, or never"
		}
		if d.Time != nil {
			validateClock(fields, "emailDigest.time", *d.Time)
		}
		if d.DayOfWeek != nil && (*d.DayOfWeek < 0 || *d.DayOfWeek > 6) {
			fields["emailDigest.dayOfWeek"] = "must be between 0 and 6"
		}
	}

	if u.MaxPerDay != nil && *u.MaxPerDay < 0 {
		fields["maxPerDay"] = "must not be negative"
	}

	if len(fields) > 0 {
		return apperr.Validation("invalid preferences", fields)
	}
	return nil
}

func (u Update) apply(p *db.Preferences) {
	if p.Channels == nil {
		p.Channels = map[db.Channel]db.ChannelPreference{}
	}
	for ch, cu := range u.Channels {
		current := p.Channels[ch]
		if cu.Enabled != nil {
			current.Enabled = *cu.Enabled
		}
		if cu.Types != nil {
			current.Types = dedupeTypes(cu.Types)
		}
		p.Channels[ch] = current
	}

	if u.GlobalMute != nil {
		p.GlobalMute = *u.GlobalMute
		if !p.GlobalMute {
			p.MuteUntil = nil
		}
	}
	if u.MuteUntil != nil {
		p.MuteUntil = u.MuteUntil
	}
	if u.MutedTypes != nil {
		p.MutedTypes = dedupeTypes(u.MutedTypes)
	}

	if qh := u.QuietHours; qh != nil {
		if qh.Enabled != nil {
			p.QuietHours.Enabled = *qh.Enabled
		}
		if qh.Start != nil {
			p.QuietHours.Start = *qh.Start
		}
		if qh.End != nil {
			p.QuietHours.End = *qh.End
		}
		if qh.Timezone != nil && *qh.Timezone != "" {
			p.QuietHours.Timezone = *qh.Timezone
		}
	}

	if d := u.EmailDigest; d != nil {
		if d.Enabled != nil {
			p.EmailDigest.Enabled = *d.Enabled
		}
		if d.Frequency != nil {
			p.EmailDigest.Frequency = *d.Frequency
		}
		if d.Time != nil {
			p.EmailDigest.Time = *d.Time
		}
		if d.DayOfWeek != nil {
			p.EmailDigest.DayOfWeek = *d.DayOfWeek
		}
	}

	if u.GroupSimilar != nil {
		p.GroupSimilar = *u.GroupSimilar
	}
	if u.MaxPerDay != nil {
		p.MaxPerDay = u.MaxPerDay
	}
}

func dedupeTypes(in []db.NotificationType) []db.NotificationType {
	seen := make(map[db.NotificationType]bool, len(in))
	out := make([]db.NotificationType, 0, len(in))
	for _, t := range in {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

func validateClock(fields map[string]string, name, value string) {
	if _, err := ParseClock(value); err != nil {
		fields[name] = "must be HH:MM"
	}
}

func validateTimezone(fields map[string]string, name, value string) {
	if value == "" {
		return
	}
	if _, err := time.LoadLocation(value); err != nil {
		fields[name] = "unknown timezone"
	}
}

func validateDigest(fields map[string]string, d db.DigestSettings) {
	if !d.Frequency.Valid() {
		fields["frequency"] = "must be daily, weekly, or never"
	}
	validateClock(fields, "time", d.Time)
	if d.DayOfWeek < 0 || d.DayOfWeek > 6 {
		fields["dayOfWeek"] = "must be between 0 and 6"
	}
}
