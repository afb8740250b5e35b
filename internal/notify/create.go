package notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/beacon/internal/apperr"
	"github.com/lalithlochan/beacon/internal/db"
	"github.com/lalithlochan/beacon/internal/metrics"
	"github.com/lalithlochan/beacon/internal/preference"
	"github.com/lalithlochan/beacon/internal/validate"
	"github.com/lalithlochan/beacon/internal/worker"
)

// CreateOptions describes one notification for one recipient
type CreateOptions struct {
	RecipientID uuid.UUID           `json:"recipientId"`
	ActorID     *uuid.UUID          `json:"actorId,omitempty"`
	Type        db.NotificationType `json:"type" validate:"required"`
	Title       string              `json:"title" validate:"required,max=200"`
	Message     string              `json:"message" validate:"required,max=2000"`
	TitleEn     string              `json:"titleEn,omitempty" validate:"max=200"`
	MessageEn   string              `json:"messageEn,omitempty" validate:"max=2000"`
	Priority    db.Priority         `json:"priority,omitempty"`

	RelatedModel  string          `json:"relatedModel,omitempty" validate:"max=64"`
	RelatedID     string          `json:"relatedId,omitempty" validate:"max=64"`
	RelatedEntity json.RawMessage `json:"relatedEntity,omitempty"`

	Channels []db.Channel `json:"channels,omitempty"`

	Icon        string `json:"icon,omitempty" validate:"max=64"`
	Color       string `json:"color,omitempty" validate:"max=32"`
	ActionURL   string `json:"actionUrl,omitempty" validate:"omitempty,url,max=2048"`
	ActionLabel string `json:"actionLabel,omitempty" validate:"max=64"`

	GroupKey  string          `json:"groupKey,omitempty" validate:"max=200"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	ExpiresAt *time.Time      `json:"expiresAt,omitempty"`
}

// DeliveryOutcome is the observed result of one channel attempt
type DeliveryOutcome struct {
	Channel db.Channel
	Status  db.ChannelStatus
	Err     error
}

// validateContent checks everything except the recipient
func (o *CreateOptions) validateContent(now time.Time) error {
	if err := validate.Struct(o); err != nil {
		return err
	}

	fields := map[string]string{}
	if !o.Type.Valid() {
		fields["type"] = "unknown notification type"
	}
	if o.Priority != "" && !o.Priority.Valid() {
		fields["priority"] = "must be one of: low normal high urgent"
	}
	for _, ch := range o.Channels {
		if !ch.Valid() {
			fields["channels"] = "unknown channel " + string(ch)
			break
		}
	}
	if o.ExpiresAt != nil && !o.ExpiresAt.After(now) {
		fields["expiresAt"] = "must be in the future"
	}
	if len(o.RelatedEntity) > 0 && !json.Valid(o.RelatedEntity) {
		fields["relatedEntity"] = "must be valid JSON"
	}
	if len(o.Metadata) > 0 && !json.Valid(o.Metadata) {
		fields["metadata"] = "must be valid JSON"
	}
	if len(fields) > 0 {
		return apperr.Validation("validation failed", fields)
	}
	return nil
}

// Create filters the requested channels against the recipient's preferences,
// persists the record and attempts every surviving channel. Channel failures
// are recorded on the record and never fail the call.
func (s *Service) Create(ctx context.Context, opts CreateOptions) (*db.Notification, error) {
	now := s.now()
	if opts.RecipientID == uuid.Nil {
		return nil, apperr.Validation("validation failed", map[string]string{"recipientId": "is required"})
	}
	if err := opts.validateContent(now); err != nil {
		return nil, err
	}

	prefs, err := s.prefs.GetOrCreate(ctx, opts.RecipientID)
	if err != nil {
		return nil, storageError(err, "preferences")
	}

	channels := selectChannels(prefs, opts.Type, opts.Channels, now)

	priority := opts.Priority
	if priority == "" {
		priority = db.PriorityNormal
	}

	notif := &db.Notification{
		ID:             uuid.New(),
		RecipientID:    opts.RecipientID,
		ActorID:        opts.ActorID,
		Type:           opts.Type,
		Title:          opts.Title,
		Message:        opts.Message,
		TitleEn:        opts.TitleEn,
		MessageEn:      opts.MessageEn,
		Priority:       priority,
		RelatedModel:   opts.RelatedModel,
		RelatedID:      opts.RelatedID,
		RelatedEntity:  opts.RelatedEntity,
		GroupKey:       opts.GroupKey,
		Channels:       channels,
		DeliveryStatus: initialStatus(channels, now),
		Icon:           opts.Icon,
		Color:          opts.Color,
		ActionURL:      opts.ActionURL,
		ActionLabel:    opts.ActionLabel,
		Metadata:       opts.Metadata,
		ExpiresAt:      opts.ExpiresAt,
	}

	if err := s.repo.CreateNotification(ctx, notif); err != nil {
		return nil, storageError(err, "notification")
	}
	metrics.RecordNotificationCreated(string(notif.Type))

	if notif.ActorID != nil {
		if actor, err := s.repo.GetUser(ctx, *notif.ActorID); err == nil {
			notif.Actor = actor.Summary()
		} else {
			s.logger.Warn("failed to load notification actor",
				zap.String("notification_id", notif.ID.String()),
				zap.Error(err),
			)
		}
	}

	for _, out := range s.dispatch(ctx, notif) {
		notif.DeliveryStatus[out.Channel] = out.Status
	}

	return notif, nil
}

// selectChannels dedupes requested channels in order. in_app always
// survives; other channels need the preference rules to allow them and
// email and push are held back during quiet hours.
func selectChannels(prefs *db.Preferences, t db.NotificationType, requested []db.Channel, now time.Time) []db.Channel {
	if len(requested) == 0 {
		requested = []db.Channel{db.ChannelInApp}
	}

	quiet := preference.InQuietHours(prefs, now)
	seen := make(map[db.Channel]bool, len(requested))
	out := make([]db.Channel, 0, len(requested))

	for _, ch := range requested {
		if seen[ch] {
			continue
		}
		seen[ch] = true

		if ch == db.ChannelInApp {
			out = append(out, ch)
			continue
		}
		if !preference.ChannelAllowed(prefs, ch, t, now) {
			metrics.RecordSuppressed(string(ch), "preference")
			continue
		}
		if quiet && (ch == db.ChannelEmail || ch == db.ChannelPush) {
			metrics.RecordSuppressed(string(ch), "quiet_hours")
			continue
		}
		out = append(out, ch)
	}
	return out
}

func initialStatus(channels []db.Channel, now time.Time) map[db.Channel]db.ChannelStatus {
	status := make(map[db.Channel]db.ChannelStatus, len(channels))
	for _, ch := range channels {
		if ch == db.ChannelInApp {
			at := now
			status[ch] = db.ChannelStatus{Delivered: true, DeliveredAt: &at}
			continue
		}
		status[ch] = db.ChannelStatus{}
	}
	return status
}

// dispatch attempts all channels concurrently on a context detached from the
// caller and bounded by the delivery timeout
func (s *Service) dispatch(ctx context.Context, notif *db.Notification) []DeliveryOutcome {
	if len(notif.Channels) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.DeliveryTimeout)
	defer cancel()

	// handlers see a frozen copy; notif's status map is rewritten after Wait
	snapshot := *notif
	snapshot.DeliveryStatus = make(map[db.Channel]db.ChannelStatus, len(notif.DeliveryStatus))
	for k, v := range notif.DeliveryStatus {
		snapshot.DeliveryStatus[k] = v
	}

	recipient, tokens := s.loadRecipient(ctx, &snapshot)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		outcomes []DeliveryOutcome
	)
	for _, ch := range snapshot.Channels {
		wg.Add(1)
		go func(ch db.Channel) {
			defer wg.Done()
			out := s.deliver(ctx, &worker.Delivery{
				Channel:      ch,
				Notification: &snapshot,
				Recipient:    recipient,
				Tokens:       tokens,
			})
			if out == nil {
				return
			}
			mu.Lock()
			outcomes = append(outcomes, *out)
			mu.Unlock()
		}(ch)
	}
	wg.Wait()

	return outcomes
}

// loadRecipient fetches the user and tokens only when a channel needs them
func (s *Service) loadRecipient(ctx context.Context, n *db.Notification) (*db.User, []*db.PushToken) {
	var recipient *db.User
	var tokens []*db.PushToken

	if n.HasChannel(db.ChannelEmail) || n.HasChannel(db.ChannelSMS) {
		u, err := s.repo.GetUser(ctx, n.RecipientID)
		if err != nil {
			s.logger.Warn("failed to load recipient",
				zap.String("recipient_id", n.RecipientID.String()),
				zap.Error(err),
			)
		} else {
			recipient = u
		}
	}

	if n.HasChannel(db.ChannelPush) {
		t, err := s.repo.ListActivePushTokens(ctx, n.RecipientID)
		if err != nil {
			s.logger.Warn("failed to load push tokens",
				zap.String("recipient_id", n.RecipientID.String()),
				zap.Error(err),
			)
		}
		tokens = t
	}

	return recipient, tokens
}

// deliver runs one channel. in_app outcomes are not reported because its
// status is fixed at creation.
func (s *Service) deliver(ctx context.Context, d *worker.Delivery) *DeliveryOutcome {
	start := time.Now()
	err := s.sender.Send(ctx, d)
	metrics.RecordDelivery(string(d.Channel), err == nil, time.Since(start))

	logFields := []zap.Field{
		zap.String("notification_id", d.Notification.ID.String()),
		zap.String("channel", string(d.Channel)),
	}

	if d.Channel == db.ChannelInApp {
		if err != nil {
			s.logger.Warn("realtime publish failed", append(logFields, zap.Error(err))...)
		}
		return nil
	}

	var status db.ChannelStatus
	if err != nil {
		s.logger.Warn("delivery failed", append(logFields, zap.Error(err))...)
		status = db.ChannelStatus{Delivered: false, FailureReason: err.Error()}
	} else {
		at := s.now()
		status = db.ChannelStatus{Delivered: true, DeliveredAt: &at}
	}

	if uerr := s.repo.UpdateDeliveryStatus(ctx, d.Notification.ID, d.Channel, status); uerr != nil {
		s.logger.Error("failed to record delivery status", append(logFields, zap.Error(uerr))...)
	}

	return &DeliveryOutcome{Channel: d.Channel, Status: status, Err: err}
}
